package types

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	MIMEPNG  = "image/png"  // MIMEPNG is the encoding produced by the crop step.
	MIMEJPEG = "image/jpeg" // MIMEJPEG is accepted from capturers configured for jpeg.
)

// EncodedImage is an opaque, length-bearing, binary-encoded image.
// It travels across the message bus as base64 text.
type EncodedImage struct {
	// MIMEType declares the encoding of Data (e.g. image/png).
	MIMEType string `json:"mimeType"`

	// Data holds the encoded bytes.
	Data []byte `json:"data"`
}

// NewPNG wraps PNG bytes.
func NewPNG(data []byte) EncodedImage {
	return EncodedImage{MIMEType: MIMEPNG, Data: data}
}

// Len returns the number of encoded bytes.
func (i EncodedImage) Len() int {
	return len(i.Data)
}

// IsEmpty reports whether the image carries no bytes.
func (i EncodedImage) IsEmpty() bool {
	return len(i.Data) == 0
}

// Base64 returns the standard base64 encoding of the image bytes.
func (i EncodedImage) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURL returns the image as a data URL (data:<mime>;base64,<data>).
func (i EncodedImage) DataURL() string {
	mime := i.MIMEType
	if mime == "" {
		mime = MIMEPNG
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, i.Base64())
}

// DecodeBase64 builds an image from base64 text with the given MIME type.
func DecodeBase64(mimeType, encoded string) (EncodedImage, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return EncodedImage{}, fmt.Errorf("invalid base64 image data: %w", err)
	}
	return EncodedImage{MIMEType: mimeType, Data: data}, nil
}

// ParseDataURL parses a base64 data URL as produced by DataURL.
func ParseDataURL(url string) (EncodedImage, error) {
	rest, ok := strings.CutPrefix(url, "data:")
	if !ok {
		return EncodedImage{}, fmt.Errorf("not a data URL")
	}

	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return EncodedImage{}, fmt.Errorf("malformed data URL: missing payload separator")
	}

	mime, encoding, _ := strings.Cut(header, ";")
	if encoding != "base64" {
		return EncodedImage{}, fmt.Errorf("unsupported data URL encoding %q", encoding)
	}
	if mime == "" {
		mime = MIMEPNG
	}

	return DecodeBase64(mime, payload)
}
