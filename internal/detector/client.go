// Package detector is the HTTP client for the remote vision inference
// endpoint. The service accepts an encoded frame plus a search prompt and
// answers with point-form detections in a [0,1000] (row,col) grid.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net"
	"net/http"
	"sync"
	"time"
)

var (
	// ErrQuotaExceeded indicates the inference quota is exhausted.
	ErrQuotaExceeded = errors.New("detection quota exceeded")
	// ErrSafetyRejected indicates the frame was rejected by content filtering.
	ErrSafetyRejected = errors.New("frame rejected by content filter")
	// ErrTimeout indicates the remote call did not complete in time.
	ErrTimeout = errors.New("detection request timed out")
	// ErrMalformedResponse indicates the response body did not match the
	// documented shape.
	ErrMalformedResponse = errors.New("malformed detection response")
	// ErrUnavailable indicates the service failed its health check.
	ErrUnavailable = errors.New("detection service unavailable")
)

// DetectRequest carries one frame to the remote detector.
type DetectRequest struct {
	Image       []byte
	Prompt      string
	Temperature float64
	MaxItems    int
	SessionID   string
}

// Point is a validated detection: normalized grid position plus label.
type Point struct {
	Row        float64 `json:"row"`
	Col        float64 `json:"col"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// DetectResponse is the validated result of one remote call.
type DetectResponse struct {
	Points    []Point
	ModelUsed string
	LatencyMs float64
}

// wire types, matching the service's documented JSON shape
type wireResult struct {
	Point      []float64 `json:"point"`
	Label      string    `json:"label"`
	Confidence *float64  `json:"confidence"`
}

type wireResponse struct {
	Results   []wireResult `json:"results"`
	ModelUsed string       `json:"model_used"`
	LatencyMs float64      `json:"latency_ms"`
}

type wireError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// Config holds client configuration.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// Client calls the remote detection service over HTTP.
type Client struct {
	endpoint    string
	client      *http.Client
	mu          sync.RWMutex
	healthCheck time.Time
}

// New creates a detector client. A zero timeout defaults to 15 seconds.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// IsHealthy checks service availability, caching a positive result for 30
// seconds.
func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	if time.Since(c.healthCheck) < 30*time.Second {
		c.mu.RUnlock()
		return true
	}
	c.mu.RUnlock()

	resp, err := c.client.Get(c.endpoint + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false
	}
	if !health.ModelLoaded {
		return false
	}

	c.mu.Lock()
	c.healthCheck = time.Now()
	c.mu.Unlock()
	return true
}

// Detect submits one frame and returns validated point detections. Quota,
// safety, and timeout failures map to distinguished errors; anything else
// is a generic failure. A response whose items are individually malformed
// is treated as zero detections rather than partially trusted.
func (c *Client) Detect(ctx context.Context, dr DetectRequest) (*DetectResponse, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	fw, err := w.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, err
	}
	fw.Write(dr.Image)

	w.WriteField("prompt", dr.Prompt)
	w.WriteField("temperature", fmt.Sprintf("%.2f", dr.Temperature))
	w.WriteField("max_items", fmt.Sprintf("%d", dr.MaxItems))
	w.WriteField("session_id", dr.SessionID)
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/detect", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.mapErrorStatus(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	points, wire, err := parseResults(body)
	if err != nil {
		return nil, err
	}

	result := &DetectResponse{
		Points:    points,
		ModelUsed: wire.ModelUsed,
		LatencyMs: wire.LatencyMs,
	}
	if result.LatencyMs == 0 {
		result.LatencyMs = float64(time.Since(start).Milliseconds())
	}
	return result, nil
}

// mapErrorStatus maps HTTP failures onto the error taxonomy.
func (c *Client) mapErrorStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var we wireError
	_ = json.Unmarshal(body, &we)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || we.Code == "quota_exceeded":
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, we.Error)
	case resp.StatusCode == http.StatusUnprocessableEntity || we.Code == "safety_rejected":
		return fmt.Errorf("%w: %s", ErrSafetyRejected, we.Error)
	default:
		return fmt.Errorf("detection failed with status %d: %s", resp.StatusCode, truncate(body, 200))
	}
}

// parseResults validates the raw body against the documented shape. A body
// that is not JSON, or whose top level does not carry a results array,
// fails with ErrMalformedResponse. Individually malformed items void the
// whole list.
func parseResults(body []byte) ([]Point, *wireResponse, error) {
	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		log.Printf("[Detector] Malformed response: %s", truncate(body, 200))
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if wire.Results == nil {
		log.Printf("[Detector] Response missing results array: %s", truncate(body, 200))
		return nil, nil, fmt.Errorf("%w: missing results array", ErrMalformedResponse)
	}

	points := make([]Point, 0, len(wire.Results))
	for _, r := range wire.Results {
		if len(r.Point) != 2 || r.Label == "" ||
			r.Point[0] < 0 || r.Point[0] > 1000 ||
			r.Point[1] < 0 || r.Point[1] > 1000 {
			log.Printf("[Detector] Dropping whole response, malformed item: %+v", r)
			return []Point{}, &wire, nil
		}

		confidence := 1.0
		if r.Confidence != nil {
			confidence = *r.Confidence
		}
		points = append(points, Point{
			Row:        r.Point[0],
			Col:        r.Point[1],
			Label:      r.Label,
			Confidence: confidence,
		})
	}
	return points, &wire, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
