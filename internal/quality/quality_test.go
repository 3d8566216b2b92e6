package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQualityStaysWithinBounds(t *testing.T) {
	c := New(0.8, 0)

	// Hammer with slow responses: quality must bottom out at 0.3.
	for i := 0; i < 50; i++ {
		q := c.Adjust(5000)
		assert.GreaterOrEqual(t, q, MinQuality)
		assert.LessOrEqual(t, q, MaxQuality)
	}
	assert.InDelta(t, MinQuality, c.Quality(), 1e-9)

	// Then fast responses: quality must top out at 0.9. The window still
	// holds slow samples at first, so run long enough to flush and climb.
	for i := 0; i < 100; i++ {
		q := c.Adjust(100)
		assert.GreaterOrEqual(t, q, MinQuality)
		assert.LessOrEqual(t, q, MaxQuality)
	}
	assert.InDelta(t, MaxQuality, c.Quality(), 1e-9)
}

func TestDegradeStepOnSlowMean(t *testing.T) {
	c := New(0.8, 0)
	q := c.Adjust(2000) // mean 2000 > 1500
	assert.InDelta(t, 0.75, q, 1e-9)
}

func TestUnchangedInDeadBand(t *testing.T) {
	c := New(0.8, 0)
	// Mean 1200 is neither above target nor below 70% of it.
	q := c.Adjust(1200)
	assert.InDelta(t, 0.8, q, 1e-9)
}

func TestRecoveryWaitsForFullWindow(t *testing.T) {
	c := New(0.8, 0)

	// Nine fast samples: mean is 1000 < 1050 but the window is not full,
	// so quality holds.
	for i := 0; i < 9; i++ {
		assert.InDelta(t, 0.8, c.Adjust(1000), 1e-9, "call %d", i+1)
	}

	// Tenth call fills the window and earns the +0.02 step.
	assert.InDelta(t, 0.82, c.Adjust(1000), 1e-9)
}

func TestWindowSlides(t *testing.T) {
	c := New(0.8, 0)

	// Fill the window with slow samples, then feed fast ones. After ten
	// fast samples the slow ones are fully evicted.
	for i := 0; i < 10; i++ {
		c.Adjust(4000)
	}
	for i := 0; i < 10; i++ {
		c.Adjust(100)
	}
	assert.InDelta(t, 100, c.MeanResponseTime(), 1e-9)
}

func TestRecommendedIntervalSteps(t *testing.T) {
	cases := []struct {
		responseMs float64
		want       time.Duration
	}{
		{3500, 4000 * time.Millisecond},
		{2500, 3000 * time.Millisecond},
		{1500, 2000 * time.Millisecond},
		{800, 1500 * time.Millisecond},
	}

	for _, tc := range cases {
		c := New(0.8, 0)
		c.Adjust(tc.responseMs)
		assert.Equal(t, tc.want, c.RecommendedInterval(), "response %v", tc.responseMs)
	}
}

func TestRecommendedIntervalDefault(t *testing.T) {
	c := New(0.8, 0)
	assert.Equal(t, 1500*time.Millisecond, c.RecommendedInterval())
}

func TestScaleMapping(t *testing.T) {
	assert.InDelta(t, 0.65, New(MinQuality, 0).Scale(), 1e-9)
	assert.InDelta(t, 0.95, New(MaxQuality, 0).Scale(), 1e-9)
}

func TestJPEGQualityMapping(t *testing.T) {
	assert.Equal(t, 90, New(MaxQuality, 0).JPEGQuality())
	assert.Equal(t, 30, New(MinQuality, 0).JPEGQuality())
}

func TestInitialQualityClamped(t *testing.T) {
	assert.InDelta(t, MaxQuality, New(1.5, 0).Quality(), 1e-9)
	assert.InDelta(t, MinQuality, New(0.1, 0).Quality(), 1e-9)
}
