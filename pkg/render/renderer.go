// Package render composites the base bitmap and the marked rectangles onto
// the canvas.
package render

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"github.com/fogleman/gg"
	"golang.org/x/image/draw"

	"github.com/menta2k/image-marker/pkg/processing"
	"github.com/menta2k/image-marker/pkg/types"
)

// Style is the stroke applied to every rectangle.
type Style struct {
	Width float64
	Color color.Color
}

// DefaultStyle is a 5px unfilled red stroke.
var DefaultStyle = Style{Width: 5, Color: color.NRGBA{R: 255, A: 255}}

// Renderer owns the canvas of one marking session. The canvas has the native
// size of the loaded base image.
type Renderer struct {
	style  Style
	base   *image.NRGBA
	canvas *image.RGBA
}

// New returns a Renderer with nothing loaded. A zero style field falls back
// to DefaultStyle.
func New(style Style) *Renderer {
	if style.Width <= 0 {
		style.Width = DefaultStyle.Width
	}
	if style.Color == nil {
		style.Color = DefaultStyle.Color
	}
	return &Renderer{style: style}
}

// Load replaces the base bitmap and resizes the canvas to its native
// resolution. The image is re-anchored at the origin and made opaque, so
// translucent pixels keep their exact color on the premultiplied canvas.
// A nil image unloads.
func (r *Renderer) Load(base image.Image) {
	if base == nil || base.Bounds().Empty() {
		r.base, r.canvas = nil, nil
		return
	}
	r.base = processing.FlattenRGB(base)
	r.canvas = image.NewRGBA(r.base.Bounds())
}

// Size returns the canvas size in pixels, 0x0 when nothing is loaded.
func (r *Renderer) Size() (int, int) {
	if r.canvas == nil {
		return 0, 0
	}
	b := r.canvas.Bounds()
	return b.Dx(), b.Dy()
}

// Redraw clears the canvas, draws the base bitmap, then every committed
// rectangle in order, then the live rectangle if any. The returned image is
// the canvas itself and stays valid until the next Redraw or Load. With no
// base loaded Redraw does nothing and returns nil.
func (r *Renderer) Redraw(rects []types.Rectangle, live *types.Rectangle) *image.RGBA {
	if r.canvas == nil {
		return nil
	}
	bounds := r.canvas.Bounds()
	draw.Draw(r.canvas, bounds, image.Transparent, image.Point{}, draw.Src)
	draw.Draw(r.canvas, bounds, r.base, image.Point{}, draw.Over)

	dc := gg.NewContextForRGBA(r.canvas)
	dc.SetColor(r.style.Color)
	dc.SetLineWidth(r.style.Width)
	for _, rect := range rects {
		strokeRect(dc, rect)
	}
	if live != nil {
		strokeRect(dc, *live)
	}
	return r.canvas
}

// Snapshot returns a copy of the current canvas, or nil when nothing is
// loaded.
func (r *Renderer) Snapshot() *image.RGBA {
	if r.canvas == nil {
		return nil
	}
	out := image.NewRGBA(r.canvas.Bounds())
	copy(out.Pix, r.canvas.Pix)
	return out
}

// strokeRect outlines rect without normalizing negative extents.
func strokeRect(dc *gg.Context, rect types.Rectangle) {
	dc.DrawRectangle(rect.X, rect.Y, rect.W, rect.H)
	dc.Stroke()
}

// ParseColor parses "#rgb", "#rrggbb" or "#rrggbbaa".
func ParseColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
