// Package quality adapts capture resolution, encoder quality, and polling
// interval to observed remote-call latency.
package quality

import (
	"sync"
	"time"
)

const (
	// DefaultTargetMs is the round-trip latency the controller steers toward.
	DefaultTargetMs = 1500

	// historySize bounds the sliding window of recent response times.
	historySize = 10

	// MinQuality and MaxQuality clamp the quality level.
	MinQuality = 0.3
	MaxQuality = 0.9

	// Asymmetric steps: degrade faster than recover.
	stepDown = 0.05
	stepUp   = 0.02

	// recoverRatio: quality only rises once the mean drops below this
	// fraction of the target.
	recoverRatio = 0.7
)

// Controller tracks a bounded history of response times and derives the
// current quality level and recommended polling interval. Methods are safe
// for concurrent use, though the orchestrator only calls them from within
// a tick.
type Controller struct {
	mu       sync.Mutex
	targetMs float64
	quality  float64
	history  []float64
}

// New creates a controller at the given starting quality. Quality is
// clamped to [MinQuality, MaxQuality]; a non-positive targetMs selects
// DefaultTargetMs.
func New(initialQuality, targetMs float64) *Controller {
	if targetMs <= 0 {
		targetMs = DefaultTargetMs
	}
	return &Controller{
		targetMs: targetMs,
		quality:  clamp(initialQuality),
		history:  make([]float64, 0, historySize),
	}
}

// Adjust records a response time, recomputes the window mean, and moves
// quality by one bounded step: down when the mean exceeds the target, up
// when it is comfortably below it, unchanged otherwise. Returns the new
// quality level.
func (c *Controller) Adjust(responseTimeMs float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = append(c.history, responseTimeMs)
	if len(c.history) > historySize {
		c.history = c.history[1:]
	}

	mean := c.meanLocked()
	switch {
	case mean > c.targetMs:
		c.quality = clamp(c.quality - stepDown)
	case mean < c.targetMs*recoverRatio && len(c.history) == historySize:
		// Recovery waits for a full window of evidence; degradation
		// reacts immediately.
		c.quality = clamp(c.quality + stepUp)
	}

	return c.quality
}

// Quality returns the current quality level.
func (c *Controller) Quality() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quality
}

// Scale maps the quality level onto a capture scale factor in [0.65,0.95]
// of native resolution.
func (c *Controller) Scale() float64 {
	return 0.5 + c.Quality()*0.5
}

// JPEGQuality maps the quality level onto an encoder quality setting.
func (c *Controller) JPEGQuality() int {
	return int(c.Quality() * 100)
}

// RecommendedInterval returns the polling interval the orchestrator should
// use for the next cycle, as a step function of the mean response time.
func (c *Controller) RecommendedInterval() time.Duration {
	c.mu.Lock()
	mean := c.meanLocked()
	c.mu.Unlock()

	switch {
	case mean > 3000:
		return 4000 * time.Millisecond
	case mean > 2000:
		return 3000 * time.Millisecond
	case mean > 1000:
		return 2000 * time.Millisecond
	default:
		return 1500 * time.Millisecond
	}
}

// MeanResponseTime returns the mean of the window in milliseconds, or 0
// with no samples.
func (c *Controller) MeanResponseTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meanLocked()
}

func (c *Controller) meanLocked() float64 {
	if len(c.history) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range c.history {
		sum += v
	}
	return sum / float64(len(c.history))
}

func clamp(q float64) float64 {
	if q < MinQuality {
		return MinQuality
	}
	if q > MaxQuality {
		return MaxQuality
	}
	return q
}
