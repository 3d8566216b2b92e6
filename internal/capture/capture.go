// Package capture provides JPEG frame streams from camera devices, RTSP
// URLs, and HTTP image endpoints, with fan-out to multiple subscribers and
// guaranteed resource release on stop.
package capture

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // frame dimensions come from the JPEG header
	"io"
	"log"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Frame is one captured JPEG frame. Width and Height are decoded from
// the frame itself, not echoed from configuration.
type Frame struct {
	Data      []byte
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
}

// Subscription receives frames for one source.
type Subscription struct {
	SourceID string
	Frames   chan *Frame
}

// Source delivers frames from camera streams.
type Source interface {
	Start(sourceID, device string, fps, width, height int) error
	Stop(sourceID string) error
	Subscribe(sourceID string, bufferSize int) (*Subscription, error)
	Unsubscribe(sub *Subscription)
}

// FFmpegSource captures frames with ffmpeg (V4L2, RTSP, MJPEG) or by
// polling HTTP image endpoints.
type FFmpegSource struct {
	sources map[string]*sourceCapture
	mu      sync.RWMutex
}

type sourceCapture struct {
	sourceID string
	device   string
	fps      int
	width    int
	height   int

	stopCh chan struct{}
	cmd    *exec.Cmd

	subMu sync.RWMutex
	subs  map[*Subscription]struct{}

	seq     atomic.Uint64
	dropped atomic.Uint64
}

// NewFFmpegSource creates an ffmpeg-backed frame source.
func NewFFmpegSource() *FFmpegSource {
	return &FFmpegSource{
		sources: make(map[string]*sourceCapture),
	}
}

func (p *FFmpegSource) Start(sourceID, device string, fps, width, height int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.sources[sourceID]; exists {
		return fmt.Errorf("source %s already started", sourceID)
	}
	if fps <= 0 {
		fps = 5
	}

	c := &sourceCapture{
		sourceID: sourceID,
		device:   device,
		fps:      fps,
		width:    width,
		height:   height,
		stopCh:   make(chan struct{}),
		subs:     make(map[*Subscription]struct{}),
	}

	p.sources[sourceID] = c
	go c.run()

	log.Printf("[Capture] Started source %s (device: %s, fps: %d)", sourceID, device, fps)
	return nil
}

func (p *FFmpegSource) Stop(sourceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, exists := p.sources[sourceID]
	if !exists {
		return fmt.Errorf("source %s not found", sourceID)
	}

	c.stop()
	delete(p.sources, sourceID)

	log.Printf("[Capture] Stopped source %s (%d frames captured, %d dropped)",
		sourceID, c.seq.Load(), c.dropped.Load())
	return nil
}

func (p *FFmpegSource) Subscribe(sourceID string, bufferSize int) (*Subscription, error) {
	p.mu.RLock()
	c, exists := p.sources[sourceID]
	p.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("source %s not found", sourceID)
	}
	if bufferSize <= 0 {
		bufferSize = 5
	}

	sub := &Subscription{
		SourceID: sourceID,
		Frames:   make(chan *Frame, bufferSize),
	}

	c.subMu.Lock()
	c.subs[sub] = struct{}{}
	c.subMu.Unlock()

	return sub, nil
}

func (p *FFmpegSource) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	p.mu.RLock()
	c, exists := p.sources[sub.SourceID]
	p.mu.RUnlock()

	if !exists {
		return
	}

	c.subMu.Lock()
	delete(c.subs, sub)
	c.subMu.Unlock()
}

func (c *sourceCapture) run() {
	if c.isHTTPImageEndpoint() {
		c.pollHTTPImages()
		return
	}
	c.streamFFmpeg()
}

// stop kills the ffmpeg process, on all exit paths.
func (c *sourceCapture) stop() {
	close(c.stopCh)

	if c.cmd != nil && c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
}

func (c *sourceCapture) isHTTPImageEndpoint() bool {
	return (strings.HasPrefix(c.device, "http://") || strings.HasPrefix(c.device, "https://")) &&
		(strings.Contains(c.device, ".jpg") || strings.Contains(c.device, ".jpeg") || strings.Contains(c.device, "image"))
}

// pollHTTPImages fetches still JPEG endpoints at the configured rate.
func (c *sourceCapture) pollHTTPImages() {
	client := &http.Client{Timeout: 10 * time.Second}
	interval := time.Second / time.Duration(c.fps)
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			resp, err := client.Get(c.device)
			if err != nil {
				log.Printf("[Capture] Error fetching frame from %s: %v", c.device, err)
				continue
			}

			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				log.Printf("[Capture] Error reading frame: %v", err)
				continue
			}

			c.broadcast(data)
		}
	}
}

// ffmpegArgs builds the command line for the device kind: RTSP stream,
// HTTP video stream, or local V4L2 device.
func (c *sourceCapture) ffmpegArgs() []string {
	output := []string{
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"-",
	}

	switch {
	case strings.HasPrefix(c.device, "rtsp://"):
		return append([]string{
			"-rtsp_transport", "tcp",
			"-i", c.device,
			"-r", fmt.Sprintf("%d", c.fps),
		}, output...)
	case strings.HasPrefix(c.device, "http://"), strings.HasPrefix(c.device, "https://"):
		return append([]string{
			"-i", c.device,
			"-r", fmt.Sprintf("%d", c.fps),
		}, output...)
	default:
		// V4L2 device (USB camera)
		return append([]string{
			"-f", "v4l2",
			"-video_size", fmt.Sprintf("%dx%d", c.width, c.height),
			"-framerate", fmt.Sprintf("%d", c.fps),
			"-i", c.device,
		}, output...)
	}
}

func (c *sourceCapture) streamFFmpeg() {
	c.cmd = exec.Command("ffmpeg", c.ffmpegArgs()...)

	stdout, err := c.cmd.StdoutPipe()
	if err != nil {
		log.Printf("[Capture] Error creating stdout pipe: %v", err)
		return
	}

	stderr, err := c.cmd.StderrPipe()
	if err != nil {
		log.Printf("[Capture] Error creating stderr pipe: %v", err)
		return
	}

	if err := c.cmd.Start(); err != nil {
		log.Printf("[Capture] Error starting ffmpeg: %v", err)
		return
	}

	// Consume stderr silently
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
		}
	}()

	buffer := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 8192)

	for {
		select {
		case <-c.stopCh:
			return
		default:
			n, err := stdout.Read(chunk)
			if err != nil {
				if err != io.EOF {
					log.Printf("[Capture] Error reading frame: %v", err)
				}
				return
			}

			buffer = append(buffer, chunk[:n]...)
			for {
				frame, rest := nextJPEG(buffer)
				buffer = rest
				if frame == nil {
					break
				}
				c.broadcast(frame)
			}
		}
	}
}

// broadcast stamps the frame with its decoded dimensions and offers it to
// every subscriber, dropping on full buffers rather than blocking the
// capture loop.
func (c *sourceCapture) broadcast(data []byte) {
	frame := &Frame{
		Data:      data,
		Seq:       c.seq.Add(1),
		Timestamp: time.Now(),
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		frame.Width = cfg.Width
		frame.Height = cfg.Height
	}

	c.subMu.RLock()
	for sub := range c.subs {
		select {
		case sub.Frames <- frame:
		default:
			c.dropped.Add(1)
		}
	}
	c.subMu.RUnlock()
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// nextJPEG extracts one complete JPEG (SOI..EOI) from buf. It returns
// the frame (nil if none is complete yet) and the remaining buffer.
func nextJPEG(buf []byte) ([]byte, []byte) {
	start := bytes.Index(buf, jpegSOI)
	if start < 0 {
		// No frame start; keep a trailing byte in case it is half a
		// marker split across reads.
		if len(buf) > 0 {
			return nil, buf[len(buf)-1:]
		}
		return nil, buf
	}

	end := bytes.Index(buf[start+2:], jpegEOI)
	if end < 0 {
		return nil, buf[start:]
	}
	end = start + 2 + end + 2

	frame := make([]byte, end-start)
	copy(frame, buf[start:end])
	return frame, buf[end:]
}

// Ensure FFmpegSource implements Source
var _ Source = (*FFmpegSource)(nil)
