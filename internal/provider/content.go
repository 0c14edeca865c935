package provider

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"tileview/internal/tilegrid"
)

var (
	LightGray = color.RGBA{R: 204, G: 204, B: 204, A: 255}
	DarkGray  = color.RGBA{R: 68, G: 68, B: 68, A: 255}
)

// Loading is the placeholder shown while a tile is produced: a light border,
// a diagonal cross and the tile coordinate.
type Loading struct {
	Coordinate tilegrid.Coordinate
}

func (l Loading) Paint(dst draw.Image, bounds image.Rectangle) {
	strokeRect(dst, bounds, LightGray)

	w, h := bounds.Dx(), bounds.Dy()
	line(dst, image.Pt(bounds.Min.X+w/4, bounds.Min.Y+h/4), image.Pt(bounds.Max.X-w/4, bounds.Max.Y-h/4), DarkGray)
	line(dst, image.Pt(bounds.Max.X-w/4, bounds.Min.Y+h/4), image.Pt(bounds.Min.X+w/4, bounds.Max.Y-h/4), DarkGray)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(DarkGray),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(bounds.Min.X+4, bounds.Min.Y+basicfont.Face7x13.Ascent+2),
	}
	d.DrawString(l.Coordinate.String())
}

// Fill is a solid tile with an optional border.
type Fill struct {
	Color  color.Color
	Border color.Color
}

func (f Fill) Paint(dst draw.Image, bounds image.Rectangle) {
	draw.Draw(dst, dst.Bounds(), image.NewUniform(f.Color), image.Point{}, draw.Over)
	if f.Border != nil {
		strokeRect(dst, bounds, f.Border)
	}
}

// Picture paints a raster, scaled to the tile when the sizes differ.
type Picture struct {
	Image image.Image
}

func (p Picture) Paint(dst draw.Image, bounds image.Rectangle) {
	src := p.Image.Bounds()
	if src.Size() == bounds.Size() {
		draw.Draw(dst, bounds, p.Image, src.Min, draw.Src)
		return
	}
	draw.ApproxBiLinear.Scale(dst, bounds, p.Image, src, draw.Src, nil)
}

func strokeRect(dst draw.Image, r image.Rectangle, c color.Color) {
	if r.Empty() {
		return
	}
	line(dst, r.Min, image.Pt(r.Max.X-1, r.Min.Y), c)
	line(dst, image.Pt(r.Min.X, r.Max.Y-1), image.Pt(r.Max.X-1, r.Max.Y-1), c)
	line(dst, r.Min, image.Pt(r.Min.X, r.Max.Y-1), c)
	line(dst, image.Pt(r.Max.X-1, r.Min.Y), image.Pt(r.Max.X-1, r.Max.Y-1), c)
}

func line(dst draw.Image, from, to image.Point, c color.Color) {
	clip := dst.Bounds()
	dx, dy := to.X-from.X, to.Y-from.Y
	steps := max(abs(dx), abs(dy))
	if steps == 0 {
		if from.In(clip) {
			dst.Set(from.X, from.Y, c)
		}
		return
	}
	for i := 0; i <= steps; i++ {
		p := image.Pt(from.X+dx*i/steps, from.Y+dy*i/steps)
		if p.In(clip) {
			dst.Set(p.X, p.Y, c)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
