// Package mapper converts pointer positions from display space into the
// pixel space of the displayed bitmap.
package mapper

import "github.com/menta2k/image-marker/pkg/types"

// ToImage maps a display-space pointer position onto the native pixel grid of
// a canvas currently rendered inside the rendered box. It must be called for
// every event: layouts change between events and nothing is cached.
//
// A collapsed rendered axis (zero or negative size) maps with scale 1.
func ToImage(p types.Point, rendered types.Box, nativeW, nativeH int) types.Point {
	scaleX := scale(float64(nativeW), rendered.Width)
	scaleY := scale(float64(nativeH), rendered.Height)
	return types.Point{
		X: (p.X - rendered.Left) * scaleX,
		Y: (p.Y - rendered.Top) * scaleY,
	}
}

// Clamp limits p to [0, nativeW] x [0, nativeH].
func Clamp(p types.Point, nativeW, nativeH int) types.Point {
	return types.Point{
		X: clamp(p.X, 0, float64(nativeW)),
		Y: clamp(p.Y, 0, float64(nativeH)),
	}
}

func scale(native, rendered float64) float64 {
	if rendered <= 0 {
		return 1
	}
	return native / rendered
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
