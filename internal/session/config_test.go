package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotter/internal/detector"
)

func TestMergeWithGlobalDefaults(t *testing.T) {
	cfg := (*Overrides)(nil).MergeWithGlobal("cup", "/dev/video0", nil)

	assert.Equal(t, "cup", cfg.Label)
	assert.Equal(t, "/dev/video0", cfg.Device)
	assert.Equal(t, 1500, cfg.IntervalMs)
	assert.Equal(t, 6, cfg.MaxItems)
	assert.Equal(t, 3, cfg.CostPerCall)
	assert.Equal(t, 5000, cfg.MaxAgeMs)
	assert.True(t, cfg.EnableFrameDiff)
	assert.True(t, cfg.EnableTracking)
	assert.True(t, cfg.EnableAdaptiveQuality)
	assert.True(t, cfg.EnableSmartSkip)
}

func TestMergeWithGlobalOverrides(t *testing.T) {
	interval := 3000
	maxItems := 2
	off := false

	overrides := &Overrides{
		IntervalMs:      &interval,
		MaxItems:        &maxItems,
		EnableSmartSkip: &off,
	}

	cfg := overrides.MergeWithGlobal("keys", "", DefaultGlobalConfig())

	assert.Equal(t, 3000, cfg.IntervalMs)
	assert.Equal(t, 2, cfg.MaxItems)
	assert.False(t, cfg.EnableSmartSkip)
	// untouched fields inherit the global values
	assert.InDelta(t, 0.1, cfg.Temperature, 1e-9)
	assert.True(t, cfg.EnableTracking)
}

func TestManagerLifecycle(t *testing.T) {
	det := &fakeDetector{resp: &detector.DetectResponse{}}
	led := &fakeLedger{balance: 100}

	m := NewManager(nil, det, led, nil, nil, nil)

	_, err := m.StartSession("user-1", "", "", nil)
	assert.Error(t, err, "label is required")

	s, err := m.StartSession("user-1", "cup", "", nil)
	require.NoError(t, err)
	require.Equal(t, 1, m.Count())

	got, ok := m.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)

	require.NoError(t, m.StopSession(s.ID))
	assert.Equal(t, 0, m.Count())
	assert.True(t, s.stopped.Load())

	assert.Error(t, m.StopSession(s.ID))
}
