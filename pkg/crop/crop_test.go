package crop

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/cropchat/pkg/types"
)

var (
	red   = color.RGBA{255, 0, 0, 255}
	green = color.RGBA{0, 255, 0, 255}
	blue  = color.RGBA{0, 0, 255, 255}
	white = color.RGBA{255, 255, 255, 255}
)

// quadrants builds a w x h PNG with four solid quadrants.
func quadrants(t *testing.T, w, h int) types.EncodedImage {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			switch {
			case x < w/2 && y < h/2:
				img.Set(x, y, red)
			case y < h/2:
				img.Set(x, y, green)
			case x < w/2:
				img.Set(x, y, blue)
			default:
				img.Set(x, y, white)
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return types.NewPNG(buf.Bytes())
}

func decode(t *testing.T, img types.EncodedImage) image.Image {
	t.Helper()
	assert.Equal(t, types.MIMEPNG, img.MIMEType)
	out, err := png.Decode(bytes.NewReader(img.Data))
	require.NoError(t, err)
	return out
}

func rgba(c color.Color) color.RGBA {
	r, g, b, a := c.RGBA()
	return color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), uint8(a >> 8)}
}

func TestDimensions(t *testing.T) {
	c := NewPNGCropper()
	w, h, err := c.Dimensions(quadrants(t, 800, 600))
	require.NoError(t, err)
	assert.Equal(t, 800, w)
	assert.Equal(t, 600, h)
}

func TestCropScalesRegionIntoOutputSize(t *testing.T) {
	c := NewPNGCropper()
	src := quadrants(t, 800, 600)

	out, err := c.Crop(src, types.Rect{Left: 100, Top: 100, Width: 200, Height: 200}, 100, 100)
	require.NoError(t, err)

	img := decode(t, out)
	assert.Equal(t, image.Rect(0, 0, 100, 100), img.Bounds())
	assert.Equal(t, red, rgba(img.At(50, 50)))
}

func TestCropAcrossQuadrants(t *testing.T) {
	c := NewPNGCropper()
	src := quadrants(t, 800, 600)

	out, err := c.Crop(src, types.Rect{Left: 300, Top: 200, Width: 200, Height: 200}, 200, 200)
	require.NoError(t, err)

	img := decode(t, out)
	assert.Equal(t, red, rgba(img.At(5, 5)))
	assert.Equal(t, green, rgba(img.At(195, 5)))
	assert.Equal(t, blue, rgba(img.At(5, 195)))
	assert.Equal(t, white, rgba(img.At(195, 195)))
}

func TestCropClampsToImage(t *testing.T) {
	c := NewPNGCropper()
	src := quadrants(t, 100, 100)

	out, err := c.Crop(src, types.Rect{Left: 80, Top: 80, Width: 100, Height: 100}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 20), decode(t, out).Bounds())

	_, err = c.Crop(src, types.Rect{Left: 150, Top: 150, Width: 10, Height: 10}, 10, 10)
	assert.ErrorContains(t, err, "outside")
}

func TestCropDecodeFailure(t *testing.T) {
	c := NewPNGCropper()

	_, err := c.Crop(types.NewPNG([]byte("not an image")), types.Rect{Width: 20, Height: 20}, 20, 20)
	assert.ErrorIs(t, err, ErrDecode)

	_, err = c.Crop(types.EncodedImage{}, types.Rect{Width: 20, Height: 20}, 20, 20)
	assert.ErrorIs(t, err, ErrDecode)

	_, _, err = c.Dimensions(types.NewPNG([]byte{0x89, 'P', 'N', 'G'}))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestCropAcceptsJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, white)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))

	c := NewPNGCropper()
	out, err := c.Crop(types.EncodedImage{MIMEType: types.MIMEJPEG, Data: buf.Bytes()},
		types.Rect{Left: 16, Top: 16, Width: 32, Height: 32}, 32, 32)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 32), decode(t, out).Bounds())
}
