package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRectFromPoints_AnyCorner(t *testing.T) {
	want := Rect{Left: 10, Top: 20, Width: 30, Height: 40}

	assert.Equal(t, want, RectFromPoints(Point{10, 20}, Point{40, 60}))
	assert.Equal(t, want, RectFromPoints(Point{40, 60}, Point{10, 20}))
	assert.Equal(t, want, RectFromPoints(Point{40, 20}, Point{10, 60}))
}

func TestRect_MeetsMinimum(t *testing.T) {
	tests := []struct {
		name string
		rect Rect
		want bool
	}{
		{name: "both above", rect: Rect{Width: 11, Height: 11}, want: true},
		{name: "width at minimum", rect: Rect{Width: 10, Height: 50}, want: false},
		{name: "height at minimum", rect: Rect{Width: 50, Height: 10}, want: false},
		{name: "negative width", rect: Rect{Width: -50, Height: 50}, want: false},
		{name: "zero", rect: Rect{}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rect.MeetsMinimum(MinSelectionDim))
		})
	}
}

func TestRect_Clamp(t *testing.T) {
	r := Rect{Left: -10, Top: 290, Width: 100, Height: 50}.Clamp(400, 300)
	assert.Equal(t, Rect{Left: 0, Top: 290, Width: 90, Height: 10}, r)

	outside := Rect{Left: 500, Top: 500, Width: 10, Height: 10}.Clamp(400, 300)
	assert.True(t, outside.Empty())
}

func TestRect_Scale(t *testing.T) {
	r := Rect{Left: 50, Top: 50, Width: 100, Height: 100}.Scale(2, 2)
	assert.Equal(t, Rect{Left: 100, Top: 100, Width: 200, Height: 200}, r)

	r = Rect{Left: 10, Top: 10, Width: 10, Height: 10}.Scale(1.5, 3)
	assert.Equal(t, Rect{Left: 15, Top: 30, Width: 15, Height: 30}, r)
}
