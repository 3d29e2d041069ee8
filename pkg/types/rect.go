package types

import "math"

// MinSelectionDim is the minimum width and height, in viewport pixels, a
// selection must exceed to be reported. Smaller gestures are discarded.
const MinSelectionDim = 10.0

// Point is a position in viewport coordinate space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is a rectangle in viewport coordinate space unless stated otherwise.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RectFromPoints returns the rectangle spanned by two corners, in any order.
func RectFromPoints(a, b Point) Rect {
	left := math.Min(a.X, b.X)
	top := math.Min(a.Y, b.Y)
	return Rect{
		Left:   left,
		Top:    top,
		Width:  math.Max(a.X, b.X) - left,
		Height: math.Max(a.Y, b.Y) - top,
	}
}

// Right returns the right edge.
func (r Rect) Right() float64 { return r.Left + r.Width }

// Bottom returns the bottom edge.
func (r Rect) Bottom() float64 { return r.Top + r.Height }

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Clamp restricts the rectangle to [0,width]x[0,height].
func (r Rect) Clamp(width, height float64) Rect {
	left := clamp(r.Left, 0, width)
	top := clamp(r.Top, 0, height)
	right := clamp(r.Right(), 0, width)
	bottom := clamp(r.Bottom(), 0, height)
	return Rect{
		Left:   left,
		Top:    top,
		Width:  math.Max(0, right-left),
		Height: math.Max(0, bottom-top),
	}
}

// MeetsMinimum reports whether both dimensions strictly exceed minDim.
// Negative dimensions count as zero.
func (r Rect) MeetsMinimum(minDim float64) bool {
	return math.Max(0, r.Width) > minDim && math.Max(0, r.Height) > minDim
}

// Scale multiplies the rectangle by independent per-axis factors.
func (r Rect) Scale(sx, sy float64) Rect {
	return Rect{
		Left:   r.Left * sx,
		Top:    r.Top * sy,
		Width:  r.Width * sx,
		Height: r.Height * sy,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
