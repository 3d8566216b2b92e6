package vision

import (
	"time"
)

// DetectedObject is a single point-form detection in normalized frame
// coordinates. X and Y are in [0,1] with the origin at the top-left corner.
type DetectedObject struct {
	Label      string    `json:"label"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	// Estimated is true when the position was synthesized from tracking
	// state rather than returned by a fresh remote call.
	Estimated bool `json:"estimated"`
	// TrackingID is stable across updates to the same label and unique
	// across re-creation after eviction.
	TrackingID string `json:"tracking_id"`
}

// FrameSample is a decoded pixel buffer used for difference computation.
// It has no persistent identity and is replaced every tick.
type FrameSample struct {
	// Pix holds RGBA pixel data, 4 bytes per pixel, row-major.
	Pix    []byte
	Width  int
	Height int
}

// PerformanceMetrics is the observability snapshot exposed alongside the
// merged detection set.
type PerformanceMetrics struct {
	FPS               float64 `json:"fps"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	SkippedFrames     uint64  `json:"skipped_frames"`
	DetectionCount    uint64  `json:"detection_count"`
	CurrentQuality    float64 `json:"current_quality"`
	CacheHits         int     `json:"cache_hits"`
}
