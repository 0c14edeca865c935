package provider

import (
	"context"
	"image/color"
	"sync"

	"tileview/internal/tilegrid"
)

var palette = []color.RGBA{
	{B: 255, A: 255},         // blue
	{G: 255, A: 255},         // green
	{R: 255, A: 255},         // red
	{R: 255, B: 255, A: 255}, // magenta
	{G: 255, B: 255, A: 255}, // cyan
}

// ColorCycle hands out solid tiles, each one the next colour of a fixed
// palette in completion order.
type ColorCycle struct {
	mu   sync.Mutex
	next int
}

func NewColorCycle() *ColorCycle {
	return &ColorCycle{}
}

func (p *ColorCycle) Placeholder(c tilegrid.Coordinate) tilegrid.Content {
	return Loading{Coordinate: c}
}

func (p *ColorCycle) Produce(ctx context.Context, c tilegrid.Coordinate) (tilegrid.Content, error) {
	p.mu.Lock()
	col := palette[p.next]
	p.next = (p.next + 1) % len(palette)
	p.mu.Unlock()
	return Fill{Color: col}, nil
}

// Shade derives a translucent grey from the tile coordinate, so the same
// coordinate always looks the same.
type Shade struct{}

func (Shade) Placeholder(c tilegrid.Coordinate) tilegrid.Content {
	return Loading{Coordinate: c}
}

func (Shade) Produce(ctx context.Context, c tilegrid.Coordinate) (tilegrid.Content, error) {
	return Fill{Color: ShadeOf(c), Border: LightGray}, nil
}

// ShadeOf returns the grey used by Shade for c.
func ShadeOf(c tilegrid.Coordinate) color.NRGBA {
	score := uint8((abs(31*c.X+c.Y) / 3) % 255)
	return color.NRGBA{R: score, G: score, B: score, A: score}
}
