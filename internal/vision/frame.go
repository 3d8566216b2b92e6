package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// DecodeSample decodes a JPEG frame into a FrameSample for difference
// computation.
func DecodeSample(jpegData []byte) (*FrameSample, error) {
	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return SampleFromImage(img), nil
}

// SampleFromImage converts a decoded image into an RGBA FrameSample.
func SampleFromImage(img image.Image) *FrameSample {
	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != bounds.Dx()*4 {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}

	return &FrameSample{
		Pix:    rgba.Pix,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}
}

// EncodeScaled re-encodes a JPEG frame at the given scale factor and encoder
// quality. Scale is clamped to (0,1]; quality to [1,100].
func EncodeScaled(jpegData []byte, scale float64, quality int) ([]byte, error) {
	if scale <= 0 || scale > 1 {
		scale = 1
	}
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}

	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	out := img
	if scale < 1 {
		bounds := img.Bounds()
		w := int(float64(bounds.Dx()) * scale)
		h := int(float64(bounds.Dy()) * scale)
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
		scaled := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, bounds, draw.Src, nil)
		out = scaled
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
