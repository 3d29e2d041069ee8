// Package crop cuts a rectangle out of an encoded screenshot and rescales it.
package crop

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"math"

	"golang.org/x/image/draw"

	"github.com/entrhq/cropchat/pkg/types"
)

// ErrDecode is returned when the source image cannot be decoded.
var ErrDecode = errors.New("image failed to decode")

// PNGCropper decodes PNG or JPEG screenshots and produces PNG crops.
type PNGCropper struct {
	// Scaler resamples the selected region. Defaults to draw.ApproxBiLinear.
	Scaler draw.Scaler
}

// NewPNGCropper returns a cropper using approximate bilinear resampling.
func NewPNGCropper() *PNGCropper {
	return &PNGCropper{Scaler: draw.ApproxBiLinear}
}

// Dimensions returns the natural size of img without decoding its pixels.
func (c *PNGCropper) Dimensions(img types.EncodedImage) (int, int, error) {
	if img.IsEmpty() {
		return 0, 0, fmt.Errorf("%w: empty image", ErrDecode)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return cfg.Width, cfg.Height, nil
}

// Crop cuts native (in the image's own pixel space) out of img and draws it
// scaled into an outW x outH PNG. The rectangle is clamped to the image.
func (c *PNGCropper) Crop(img types.EncodedImage, native types.Rect, outW, outH int) (types.EncodedImage, error) {
	if img.IsEmpty() {
		return types.EncodedImage{}, fmt.Errorf("%w: empty image", ErrDecode)
	}
	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return types.EncodedImage{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	bounds := src.Bounds()
	clamped := native.Clamp(float64(bounds.Dx()), float64(bounds.Dy()))
	srcRect := image.Rect(
		bounds.Min.X+round(clamped.Left),
		bounds.Min.Y+round(clamped.Top),
		bounds.Min.X+round(clamped.Right()),
		bounds.Min.Y+round(clamped.Bottom()),
	)
	if srcRect.Empty() {
		return types.EncodedImage{}, fmt.Errorf("selection %v lies outside the %dx%d image", native, bounds.Dx(), bounds.Dy())
	}
	if outW <= 0 || outH <= 0 {
		outW, outH = srcRect.Dx(), srcRect.Dy()
	}

	scaler := c.Scaler
	if scaler == nil {
		scaler = draw.ApproxBiLinear
	}
	dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
	scaler.Scale(dst, dst.Bounds(), src, srcRect, draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return types.EncodedImage{}, fmt.Errorf("failed to encode crop: %w", err)
	}
	return types.NewPNG(buf.Bytes()), nil
}

func round(v float64) int {
	return int(math.Round(v))
}
