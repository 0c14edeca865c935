package tilegrid

import (
	"fmt"
	"image"
)

// Viewport converts between screen space and the plane for a fixed tile size.
// The origin is the plane point shown at the screen's top-left corner.
type Viewport struct {
	tileWidth  int
	tileHeight int
}

func NewViewport(tileWidth, tileHeight int) (Viewport, error) {
	if tileWidth <= 0 || tileHeight <= 0 {
		return Viewport{}, fmt.Errorf("%w: %dx%d", ErrInvalidTileSize, tileWidth, tileHeight)
	}
	return Viewport{tileWidth: tileWidth, tileHeight: tileHeight}, nil
}

func (v Viewport) TileWidth() int { return v.tileWidth }
func (v Viewport) TileHeight() int { return v.tileHeight }

// VisibleWindow returns, row by row, every tile coordinate whose rectangle
// intersects the screen rectangle placed at origin. Sizes below one pixel are
// treated as one pixel so the window is never empty.
func (v Viewport) VisibleWindow(width, height int, origin image.Point) []Coordinate {
	screen := v.screenRect(width, height, origin)
	minX := alignDown(screen.Min.X, v.tileWidth)
	minY := alignDown(screen.Min.Y, v.tileHeight)

	cols := divCeil(screen.Max.X-minX, v.tileWidth)
	rows := divCeil(screen.Max.Y-minY, v.tileHeight)
	window := make([]Coordinate, 0, cols*rows)
	for y := minY; y < screen.Max.Y; y += v.tileHeight {
		for x := minX; x < screen.Max.X; x += v.tileWidth {
			window = append(window, Coordinate{X: x, Y: y})
		}
	}
	return window
}

// WindowRect returns the tile-aligned plane rectangle covered by
// VisibleWindow for the same arguments.
func (v Viewport) WindowRect(width, height int, origin image.Point) image.Rectangle {
	screen := v.screenRect(width, height, origin)
	return image.Rect(
		alignDown(screen.Min.X, v.tileWidth),
		alignDown(screen.Min.Y, v.tileHeight),
		alignUp(screen.Max.X, v.tileWidth),
		alignUp(screen.Max.Y, v.tileHeight),
	)
}

// Expand grows r by margin tiles on every side.
func (v Viewport) Expand(r image.Rectangle, margin int) image.Rectangle {
	return image.Rect(
		r.Min.X-margin*v.tileWidth,
		r.Min.Y-margin*v.tileHeight,
		r.Max.X+margin*v.tileWidth,
		r.Max.Y+margin*v.tileHeight,
	)
}

// ToScreen returns the screen rectangle of the tile at c.
func (v Viewport) ToScreen(c Coordinate, origin image.Point) image.Rectangle {
	return c.Rect(v.tileWidth, v.tileHeight).Sub(origin)
}

// ToPlane converts a screen point to a plane point.
func (v Viewport) ToPlane(p image.Point, origin image.Point) image.Point {
	return p.Add(origin)
}

// TileAt returns the coordinate of the tile containing plane point p.
func (v Viewport) TileAt(p image.Point) Coordinate {
	return Coordinate{X: alignDown(p.X, v.tileWidth), Y: alignDown(p.Y, v.tileHeight)}
}

// Snap rounds a raw drag delta to whole tiles: a component whose magnitude is
// at most half a tile becomes zero, anything larger becomes exactly one tile
// in the direction of motion.
func (v Viewport) Snap(delta image.Point) image.Point {
	return image.Pt(snapAxis(delta.X, v.tileWidth), snapAxis(delta.Y, v.tileHeight))
}

func (v Viewport) screenRect(width, height int, origin image.Point) image.Rectangle {
	width = max(width, 1)
	height = max(height, 1)
	return image.Rect(origin.X, origin.Y, origin.X+width, origin.Y+height)
}

func snapAxis(d, size int) int {
	// 2|d| <= size keeps the half-tile boundary exact for odd sizes.
	switch {
	case 2*abs(d) <= size:
		return 0
	case d > 0:
		return size
	default:
		return -size
	}
}

func alignDown(value, step int) int {
	return divFloor(value, step) * step
}

func alignUp(value, step int) int {
	return divCeil(value, step) * step
}

func divFloor(a, b int) int {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}

func divCeil(a, b int) int {
	q := a / b
	if a%b != 0 && a > 0 {
		q++
	}
	return q
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
