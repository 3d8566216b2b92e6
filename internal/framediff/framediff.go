// Package framediff decides whether consecutive video frames differ enough
// to be worth a remote detection call.
package framediff

import (
	"spotter/internal/vision"
)

const (
	// DefaultThreshold is the normalized difference score above which a
	// frame is considered changed.
	DefaultThreshold = 0.15

	// pixelStride samples every 4th pixel to bound the comparison cost.
	pixelStride = 4
)

// Detector compares each incoming frame against the immediately preceding
// one. It keeps exactly one previous sample and replaces it on every call,
// so the comparison is always against the last frame seen, not the last
// frame processed.
type Detector struct {
	threshold float64
	previous  *vision.FrameSample
}

// New creates a frame difference detector. A non-positive threshold selects
// DefaultThreshold.
func New(threshold float64) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{threshold: threshold}
}

// ShouldProcess reports whether the frame differs enough from the previous
// one to warrant detection. The first call always returns true. The stored
// sample is replaced unconditionally, whether or not processing proceeds.
func (d *Detector) ShouldProcess(sample *vision.FrameSample) bool {
	prev := d.previous
	d.previous = sample

	if sample == nil {
		return false
	}
	if prev == nil {
		return true
	}

	// Dimension changes (camera reconfigured mid-stream) count as change.
	if prev.Width != sample.Width || prev.Height != sample.Height {
		return true
	}

	return d.score(prev, sample) > d.threshold
}

// score computes the mean per-channel absolute difference over a strided
// sample of pixels, normalized to [0,1].
func (d *Detector) score(a, b *vision.FrameSample) float64 {
	n := len(a.Pix)
	if len(b.Pix) < n {
		n = len(b.Pix)
	}

	var diff int64
	var sampled int64
	for i := 0; i+2 < n; i += pixelStride * 4 {
		diff += absDiff(a.Pix[i], b.Pix[i])     // R
		diff += absDiff(a.Pix[i+1], b.Pix[i+1]) // G
		diff += absDiff(a.Pix[i+2], b.Pix[i+2]) // B
		sampled++
	}

	if sampled == 0 {
		return 0
	}
	return float64(diff) / (float64(sampled) * 3 * 255)
}

// Reset clears the stored sample so the next call always processes.
func (d *Detector) Reset() {
	d.previous = nil
}

func absDiff(a, b byte) int64 {
	if a > b {
		return int64(a - b)
	}
	return int64(b - a)
}
