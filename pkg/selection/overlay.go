package selection

import (
	"context"

	"github.com/entrhq/cropchat/pkg/types"
)

// Overlay is the page-side drawing surface of the agent. Implementations
// translate DOM events back into Agent calls (PointerDown, KeyDown, ...).
type Overlay interface {
	// Show covers the viewport with the captured image and a cancel
	// affordance.
	Show(ctx context.Context, img types.EncodedImage) error
	// DrawSelection draws the candidate rectangle in viewport coordinates.
	DrawSelection(rect types.Rect) error
	// Dismiss removes every overlay element. Safe when nothing is shown.
	Dismiss() error
	// LockPage suppresses page scrolling and text selection.
	LockPage() error
	// UnlockPage restores what LockPage suppressed.
	UnlockPage() error
	// Viewport returns the visible page size in viewport pixels.
	Viewport() (width, height float64, err error)
}

// Cropper is the pixel crop/rescale step.
type Cropper interface {
	// Dimensions returns the natural pixel size of img.
	Dimensions(img types.EncodedImage) (width, height int, err error)
	// Crop cuts native out of img and scales it to outW x outH.
	Crop(img types.EncodedImage, native types.Rect, outW, outH int) (types.EncodedImage, error)
}
