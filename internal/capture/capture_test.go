package capture

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestNextJPEG(t *testing.T) {
	frame := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

	t.Run("complete frame", func(t *testing.T) {
		got, rest := nextJPEG(append([]byte{}, frame...))
		require.NotNil(t, got)
		assert.Equal(t, frame, got)
		assert.Empty(t, rest)
	})

	t.Run("leading garbage skipped", func(t *testing.T) {
		got, _ := nextJPEG(append([]byte{0x00, 0x11, 0x22}, frame...))
		require.NotNil(t, got)
		assert.Equal(t, frame, got)
	})

	t.Run("incomplete frame kept in buffer", func(t *testing.T) {
		got, rest := nextJPEG([]byte{0xFF, 0xD8, 0x01, 0x02})
		assert.Nil(t, got)
		assert.Len(t, rest, 4)
	})

	t.Run("two frames extracted in order", func(t *testing.T) {
		second := []byte{0xFF, 0xD8, 0xAA, 0xFF, 0xD9}
		buf := append(append([]byte{}, frame...), second...)

		first, rest := nextJPEG(buf)
		require.NotNil(t, first)
		assert.Equal(t, frame, first)

		got, _ := nextJPEG(rest)
		require.NotNil(t, got)
		assert.Equal(t, second, got)
	})
}

func TestBroadcastDecodesFrameDimensions(t *testing.T) {
	src := NewFFmpegSource()
	require.NoError(t, src.Start("cam-1", "/dev/null-test", 5, 640, 480))
	defer src.Stop("cam-1")

	sub, err := src.Subscribe("cam-1", 2)
	require.NoError(t, err)
	defer src.Unsubscribe(sub)

	src.mu.RLock()
	c := src.sources["cam-1"]
	src.mu.RUnlock()

	// The camera was asked for 640x480 but delivers 320x240; the frame
	// must carry what was actually decoded.
	c.broadcast(encodeJPEG(t, 320, 240))

	select {
	case frame := <-sub.Frames:
		assert.Equal(t, uint64(1), frame.Seq)
		assert.Equal(t, 320, frame.Width)
		assert.Equal(t, 240, frame.Height)
	default:
		t.Fatal("expected a frame on the subscription channel")
	}
}

func TestSlowSubscriberDropsFrames(t *testing.T) {
	src := NewFFmpegSource()
	require.NoError(t, src.Start("cam-2", "/dev/null-test", 5, 640, 480))
	defer src.Stop("cam-2")

	sub, err := src.Subscribe("cam-2", 1)
	require.NoError(t, err)
	defer src.Unsubscribe(sub)

	src.mu.RLock()
	c := src.sources["cam-2"]
	src.mu.RUnlock()

	c.broadcast([]byte{0x01})
	c.broadcast([]byte{0x02})

	assert.Equal(t, uint64(2), c.seq.Load())
	assert.Equal(t, uint64(1), c.dropped.Load())
	assert.Len(t, sub.Frames, 1)
}

func TestDoubleStartRejected(t *testing.T) {
	src := NewFFmpegSource()
	require.NoError(t, src.Start("cam-3", "/dev/null-test", 5, 640, 480))
	defer src.Stop("cam-3")

	assert.Error(t, src.Start("cam-3", "/dev/null-test", 5, 640, 480))
}

func TestUnsubscribedChannelStopsReceiving(t *testing.T) {
	src := NewFFmpegSource()
	require.NoError(t, src.Start("cam-4", "/dev/null-test", 5, 640, 480))
	defer src.Stop("cam-4")

	sub, err := src.Subscribe("cam-4", 2)
	require.NoError(t, err)
	src.Unsubscribe(sub)

	src.mu.RLock()
	c := src.sources["cam-4"]
	src.mu.RUnlock()

	c.broadcast([]byte{0x01})
	assert.Empty(t, sub.Frames)
}
