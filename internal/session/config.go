package session

import "time"

// GlobalConfig contains global default settings for detection sessions
type GlobalConfig struct {
	IntervalMs            int     `json:"interval_ms"`        // Initial tick interval
	TargetResponseMs      float64 `json:"target_response_ms"` // Latency target for quality control
	InitialQuality        float64 `json:"initial_quality"`    // Starting quality level
	DiffThreshold         float64 `json:"diff_threshold"`     // Frame difference threshold
	MaxItems              int     `json:"max_items"`          // Max objects per remote call
	Temperature           float64 `json:"temperature"`        // Remote model temperature
	CostPerCall           int     `json:"cost_per_call"`      // Credits charged per remote call
	MaxAgeMs              int     `json:"max_age_ms"`         // Tracker staleness window
	CaptureFPS            int     `json:"capture_fps"`
	CaptureWidth          int     `json:"capture_width"`
	CaptureHeight         int     `json:"capture_height"`
	EnableFrameDiff       bool    `json:"enable_frame_diff"`
	EnableTracking        bool    `json:"enable_tracking"`
	EnableAdaptiveQuality bool    `json:"enable_adaptive_quality"`
	EnableSmartSkip       bool    `json:"enable_smart_skip"`
}

// Overrides contains per-session configuration overrides.
// Nil values mean "inherit from global config"
type Overrides struct {
	IntervalMs            *int     `json:"interval_ms,omitempty"`
	TargetResponseMs      *float64 `json:"target_response_ms,omitempty"`
	InitialQuality        *float64 `json:"initial_quality,omitempty"`
	DiffThreshold         *float64 `json:"diff_threshold,omitempty"`
	MaxItems              *int     `json:"max_items,omitempty"`
	Temperature           *float64 `json:"temperature,omitempty"`
	CostPerCall           *int     `json:"cost_per_call,omitempty"`
	MaxAgeMs              *int     `json:"max_age_ms,omitempty"`
	CaptureFPS            *int     `json:"capture_fps,omitempty"`
	CaptureWidth          *int     `json:"capture_width,omitempty"`
	CaptureHeight         *int     `json:"capture_height,omitempty"`
	EnableFrameDiff       *bool    `json:"enable_frame_diff,omitempty"`
	EnableTracking        *bool    `json:"enable_tracking,omitempty"`
	EnableAdaptiveQuality *bool    `json:"enable_adaptive_quality,omitempty"`
	EnableSmartSkip       *bool    `json:"enable_smart_skip,omitempty"`
}

// EffectiveConfig represents the merged configuration for one session
// (session overrides applied to global defaults)
type EffectiveConfig struct {
	Label                 string
	Device                string
	IntervalMs            int
	TargetResponseMs      float64
	InitialQuality        float64
	DiffThreshold         float64
	MaxItems              int
	Temperature           float64
	CostPerCall           int
	MaxAgeMs              int
	CaptureFPS            int
	CaptureWidth          int
	CaptureHeight         int
	EnableFrameDiff       bool
	EnableTracking        bool
	EnableAdaptiveQuality bool
	EnableSmartSkip       bool
}

// DefaultGlobalConfig returns sensible defaults for global session config
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		IntervalMs:            1500,
		TargetResponseMs:      1500,
		InitialQuality:        0.7,
		DiffThreshold:         0.15,
		MaxItems:              6,
		Temperature:           0.1,
		CostPerCall:           3,
		MaxAgeMs:              5000,
		CaptureFPS:            5,
		CaptureWidth:          640,
		CaptureHeight:         480,
		EnableFrameDiff:       true,
		EnableTracking:        true,
		EnableAdaptiveQuality: true,
		EnableSmartSkip:       true,
	}
}

// MergeWithGlobal merges session overrides with global defaults
func (o *Overrides) MergeWithGlobal(label, device string, global *GlobalConfig) *EffectiveConfig {
	if global == nil {
		global = DefaultGlobalConfig()
	}

	effective := &EffectiveConfig{
		Label:                 label,
		Device:                device,
		IntervalMs:            global.IntervalMs,
		TargetResponseMs:      global.TargetResponseMs,
		InitialQuality:        global.InitialQuality,
		DiffThreshold:         global.DiffThreshold,
		MaxItems:              global.MaxItems,
		Temperature:           global.Temperature,
		CostPerCall:           global.CostPerCall,
		MaxAgeMs:              global.MaxAgeMs,
		CaptureFPS:            global.CaptureFPS,
		CaptureWidth:          global.CaptureWidth,
		CaptureHeight:         global.CaptureHeight,
		EnableFrameDiff:       global.EnableFrameDiff,
		EnableTracking:        global.EnableTracking,
		EnableAdaptiveQuality: global.EnableAdaptiveQuality,
		EnableSmartSkip:       global.EnableSmartSkip,
	}

	if o == nil {
		return effective
	}

	// Apply session-specific overrides
	if o.IntervalMs != nil {
		effective.IntervalMs = *o.IntervalMs
	}
	if o.TargetResponseMs != nil {
		effective.TargetResponseMs = *o.TargetResponseMs
	}
	if o.InitialQuality != nil {
		effective.InitialQuality = *o.InitialQuality
	}
	if o.DiffThreshold != nil {
		effective.DiffThreshold = *o.DiffThreshold
	}
	if o.MaxItems != nil {
		effective.MaxItems = *o.MaxItems
	}
	if o.Temperature != nil {
		effective.Temperature = *o.Temperature
	}
	if o.CostPerCall != nil {
		effective.CostPerCall = *o.CostPerCall
	}
	if o.MaxAgeMs != nil {
		effective.MaxAgeMs = *o.MaxAgeMs
	}
	if o.CaptureFPS != nil {
		effective.CaptureFPS = *o.CaptureFPS
	}
	if o.CaptureWidth != nil {
		effective.CaptureWidth = *o.CaptureWidth
	}
	if o.CaptureHeight != nil {
		effective.CaptureHeight = *o.CaptureHeight
	}
	if o.EnableFrameDiff != nil {
		effective.EnableFrameDiff = *o.EnableFrameDiff
	}
	if o.EnableTracking != nil {
		effective.EnableTracking = *o.EnableTracking
	}
	if o.EnableAdaptiveQuality != nil {
		effective.EnableAdaptiveQuality = *o.EnableAdaptiveQuality
	}
	if o.EnableSmartSkip != nil {
		effective.EnableSmartSkip = *o.EnableSmartSkip
	}

	return effective
}

// Interval returns the initial tick interval as a duration
func (e *EffectiveConfig) Interval() time.Duration {
	return time.Duration(e.IntervalMs) * time.Millisecond
}

// MaxAge returns the tracker staleness window as a duration
func (e *EffectiveConfig) MaxAge() time.Duration {
	return time.Duration(e.MaxAgeMs) * time.Millisecond
}
