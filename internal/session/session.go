// Package session runs the per-session detection cycle: a single timer
// drives sequential ticks that decide between serving tracked state,
// skipping static frames, and paying for a remote detection call.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"spotter/internal/capture"
	"spotter/internal/detector"
	"spotter/internal/framediff"
	"spotter/internal/ledger"
	"spotter/internal/metrics"
	"spotter/internal/quality"
	"spotter/internal/tracker"
	"spotter/internal/vision"
)

// Detector is the narrow contract of the remote detector client.
type Detector interface {
	Detect(ctx context.Context, dr detector.DetectRequest) (*detector.DetectResponse, error)
}

// Ledger is the narrow contract of the credit ledger collaborator.
type Ledger interface {
	Balance(userID string) (int, error)
	Charge(userID, sessionID string, amount int) (int, error)
}

// FrameSource is the subset of the capture layer a session needs.
type FrameSource interface {
	Start(sourceID, device string, fps, width, height int) error
	Stop(sourceID string) error
	Subscribe(sourceID string, bufferSize int) (*capture.Subscription, error)
	Unsubscribe(sub *capture.Subscription)
}

// Publisher receives each tick's published result set and status changes.
type Publisher interface {
	PublishDetections(sessionID string, objects []vision.DetectedObject, m vision.PerformanceMetrics)
	PublishStatus(sessionID, state, reason string)
}

// Session owns one detection run from stream start to stream stop. The
// tracker, frame differ and quality controller belong exclusively to the
// session and die with it.
type Session struct {
	ID     string
	UserID string

	cfg *EffectiveConfig

	det    Detector
	ledger Ledger
	source FrameSource
	pub    Publisher
	mets   *metrics.Metrics

	tracker *tracker.Tracker
	differ  *framediff.Detector
	quality *quality.Controller

	ctx    context.Context
	cancel context.CancelFunc

	// generation increments on stop; a remote response tagged with a
	// stale generation is discarded on arrival.
	generation atomic.Uint64

	mu        sync.RWMutex
	latest    *capture.Frame
	published []vision.DetectedObject
	interval  time.Duration

	skipped   atomic.Uint64
	detCount  atomic.Uint64
	tickCount atomic.Uint64
	startedAt time.Time

	sub     *capture.Subscription
	stopped atomic.Bool
	done    chan struct{}
}

// New constructs a session. pub and mets may be nil.
func New(id, userID string, cfg *EffectiveConfig, det Detector, led Ledger, source FrameSource, pub Publisher, mets *metrics.Metrics) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:        id,
		UserID:    userID,
		cfg:       cfg,
		det:       det,
		ledger:    led,
		source:    source,
		pub:       pub,
		mets:      mets,
		tracker:   tracker.New(),
		differ:    framediff.New(cfg.DiffThreshold),
		quality:   quality.New(cfg.InitialQuality, cfg.TargetResponseMs),
		ctx:       ctx,
		cancel:    cancel,
		interval:  cfg.Interval(),
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Start begins frame capture and arms the tick loop.
func (s *Session) Start() error {
	if s.cfg.Label == "" {
		return errors.New("session requires a search label")
	}

	if s.source != nil {
		if err := s.source.Start(s.ID, s.cfg.Device, s.cfg.CaptureFPS, s.cfg.CaptureWidth, s.cfg.CaptureHeight); err != nil {
			return fmt.Errorf("starting capture: %w", err)
		}
		sub, err := s.source.Subscribe(s.ID, 5)
		if err != nil {
			s.source.Stop(s.ID)
			return fmt.Errorf("subscribing to capture: %w", err)
		}
		s.sub = sub
	}

	go s.run()

	log.Printf("[Session] %s started (label: %s, user: %s)", s.ID, s.cfg.Label, s.UserID)
	return nil
}

// Stop tears the session down: no further ticks are scheduled, any
// in-flight remote response is discarded on arrival, and the capture
// resource is released. Safe to call more than once.
func (s *Session) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}

	s.generation.Add(1)
	s.cancel()

	if s.source != nil {
		if s.sub != nil {
			s.source.Unsubscribe(s.sub)
		}
		s.source.Stop(s.ID)
	}

	if s.pub != nil {
		s.pub.PublishStatus(s.ID, "stopped", "")
	}
	log.Printf("[Session] %s stopped", s.ID)
}

// Done is closed once the tick loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Results returns the currently published detection set.
func (s *Session) Results() []vision.DetectedObject {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]vision.DetectedObject, len(s.published))
	copy(out, s.published)
	return out
}

// Metrics returns the current performance snapshot.
func (s *Session) Metrics() vision.PerformanceMetrics {
	elapsed := time.Since(s.startedAt).Seconds()
	var fps float64
	if elapsed > 0 {
		fps = float64(s.tickCount.Load()) / elapsed
	}

	return vision.PerformanceMetrics{
		FPS:               fps,
		AvgResponseTimeMs: s.quality.MeanResponseTime(),
		SkippedFrames:     s.skipped.Load(),
		DetectionCount:    s.detCount.Load(),
		CurrentQuality:    s.quality.Quality(),
		CacheHits:         s.tracker.CacheHits(),
	}
}

// Config returns the session's effective configuration.
func (s *Session) Config() *EffectiveConfig {
	return s.cfg
}

func (s *Session) run() {
	defer close(s.done)

	timer := time.NewTimer(s.currentInterval())
	defer timer.Stop()

	// A nil subscription (no capture layer wired) leaves frames as a nil
	// channel, which never fires.
	var frames chan *capture.Frame
	if s.sub != nil {
		frames = s.sub.Frames
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			s.storeFrame(frame)
		case <-timer.C:
			s.tick()
			timer.Reset(s.currentInterval())
		}
	}
}

func (s *Session) storeFrame(frame *capture.Frame) {
	s.mu.Lock()
	s.latest = frame
	s.mu.Unlock()
}

func (s *Session) latestFrame() *capture.Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *Session) currentInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interval
}

func (s *Session) setInterval(d time.Duration) {
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
}

// tick runs one detection cycle. Ticks are sequential: the timer is not
// re-armed until the tick returns, so two remote calls never race to
// update the same tracker.
func (s *Session) tick() {
	s.tickCount.Add(1)

	// Balance is a tick-entry guard only; skip logic never reads it. An
	// account the ledger cannot vouch for has no budget, so any failure to
	// read the balance aborts the tick the same as a short balance.
	if s.ledger != nil {
		balance, err := s.ledger.Balance(s.UserID)
		if err != nil || balance < s.cfg.CostPerCall {
			if err != nil {
				log.Printf("[Session] %s: balance check failed (%v), tick skipped", s.ID, err)
			} else {
				log.Printf("[Session] %s: insufficient credits (%d < %d), tick skipped", s.ID, balance, s.cfg.CostPerCall)
			}
			if s.pub != nil {
				s.pub.PublishStatus(s.ID, "degraded", "insufficient credits")
			}
			return
		}
	}

	if s.cfg.EnableSmartSkip && s.cfg.EnableTracking && s.tracker.ShouldSkipDetection() {
		s.recordSkip("tracking")
		s.publish(s.tracker.Active(s.cfg.MaxAge()))
		return
	}

	frame := s.latestFrame()
	if frame == nil {
		return
	}

	if s.cfg.EnableFrameDiff {
		if sample, err := vision.DecodeSample(frame.Data); err == nil {
			if !s.differ.ShouldProcess(sample) {
				s.recordSkip("static")
				return
			}
		}
	}

	payload, err := vision.EncodeScaled(frame.Data, s.quality.Scale(), s.quality.JPEGQuality())
	if err != nil {
		log.Printf("[Session] %s: encoding frame: %v", s.ID, err)
		return
	}

	gen := s.generation.Load()
	start := time.Now()
	resp, err := s.det.Detect(s.ctx, detector.DetectRequest{
		Image:       payload,
		Prompt:      fmt.Sprintf("Find every %s in the image and point to it. Return at most %d items.", s.cfg.Label, s.cfg.MaxItems),
		Temperature: s.cfg.Temperature,
		MaxItems:    s.cfg.MaxItems,
		SessionID:   s.ID,
	})
	latencyMs := float64(time.Since(start).Milliseconds())

	// The session was stopped while the call was in flight; whatever
	// came back must not touch tracker or published state.
	if s.generation.Load() != gen {
		return
	}

	if err != nil {
		s.handleDetectError(err)
		return
	}

	s.commitResponse(resp, latencyMs)
}

// commitResponse applies a validated remote response: tracker updates,
// fresh-over-tracked merge, credit charge, quality feedback. Updates only
// commit here, after the full response validated.
func (s *Session) commitResponse(resp *detector.DetectResponse, latencyMs float64) {
	now := time.Now()

	fresh := make([]vision.DetectedObject, 0, len(resp.Points))
	seen := make(map[string]bool, len(resp.Points))
	for _, p := range resp.Points {
		obj := vision.DetectedObject{
			Label: p.Label,
			// The remote format is [0,1000] in (row, col) order.
			X:          p.Col / 1000,
			Y:          p.Row / 1000,
			Confidence: p.Confidence,
			Timestamp:  now,
			Estimated:  false,
		}
		if s.cfg.EnableTracking {
			obj.TrackingID = s.tracker.Update(obj.Label, obj.X, obj.Y, obj.Confidence)
		}
		fresh = append(fresh, obj)
		seen[p.Label] = true
	}

	// Fresh detections take precedence over tracked entries of the same
	// label.
	merged := fresh
	if s.cfg.EnableTracking {
		for _, tracked := range s.tracker.Active(s.cfg.MaxAge()) {
			if !seen[tracked.Label] {
				merged = append(merged, tracked)
			}
		}
	}

	s.detCount.Add(1)

	// Charged exactly once per successful call, never for skipped ticks.
	// A charge failure does not roll back a completed detection.
	if s.ledger != nil {
		if _, err := s.ledger.Charge(s.UserID, s.ID, s.cfg.CostPerCall); err != nil {
			log.Printf("[Session] %s: credit charge failed: %v", s.ID, err)
		} else if s.mets != nil {
			s.mets.CreditsCharged.Add(float64(s.cfg.CostPerCall))
		}
	}

	s.quality.Adjust(latencyMs)
	if s.cfg.EnableAdaptiveQuality {
		s.setInterval(s.quality.RecommendedInterval())
	}

	if s.mets != nil {
		s.mets.DetectionsTotal.WithLabelValues(s.ID).Inc()
		s.mets.DetectionLatency.Observe(latencyMs / 1000)
		s.mets.QualityLevel.WithLabelValues(s.ID).Set(s.quality.Quality())
		s.mets.TrackedObjects.WithLabelValues(s.ID).Set(float64(s.tracker.Len()))
	}

	s.publish(merged)
}

// handleDetectError maps remote failures to user-facing notices. All
// failures are contained within the tick: prior results stay published,
// no credits are charged, and the next tick tries again.
func (s *Session) handleDetectError(err error) {
	var kind, state, reason string
	switch {
	case errors.Is(err, detector.ErrQuotaExceeded):
		kind, state, reason = "quota", "degraded", "detection quota exceeded, try again later"
	case errors.Is(err, detector.ErrSafetyRejected):
		kind, state, reason = "safety", "degraded", "frame rejected by content filter"
	case errors.Is(err, detector.ErrTimeout):
		kind, state, reason = "timeout", "degraded", "detection timed out"
	case errors.Is(err, detector.ErrMalformedResponse):
		kind, state, reason = "malformed", "degraded", "detection failed, retrying"
	default:
		kind, state, reason = "remote", "degraded", "detection failed, retrying"
	}

	log.Printf("[Session] %s: detection failed (%s): %v", s.ID, kind, err)

	if s.mets != nil {
		s.mets.DetectionErrors.WithLabelValues(kind).Inc()
	}
	if s.pub != nil {
		s.pub.PublishStatus(s.ID, state, reason)
	}
}

func (s *Session) recordSkip(reason string) {
	s.skipped.Add(1)
	if s.mets != nil {
		s.mets.SkippedFramesTotal.WithLabelValues(reason).Inc()
	}
}

// publish atomically replaces the visible result set.
func (s *Session) publish(objects []vision.DetectedObject) {
	if objects == nil {
		objects = []vision.DetectedObject{}
	}

	s.mu.Lock()
	s.published = objects
	s.mu.Unlock()

	if s.pub != nil {
		s.pub.PublishDetections(s.ID, objects, s.Metrics())
	}
}

// Ensure the SQLite store satisfies the ledger contract
var _ Ledger = (*ledger.Store)(nil)

// Ensure the HTTP client satisfies the detector contract
var _ Detector = (*detector.Client)(nil)

// Ensure the ffmpeg source satisfies the capture contract
var _ FrameSource = (*capture.FFmpegSource)(nil)
