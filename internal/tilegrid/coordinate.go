// Package tilegrid renders an unbounded, pannable plane of fixed-size tiles
// whose content arrives asynchronously from a Provider.
//
// All Engine methods except OnTileReady must be called from a single
// goroutine, the render context. Loop provides one.
package tilegrid

import (
	"fmt"
	"image"
)

// Coordinate identifies a tile by the plane offset of its top-left corner.
// Coordinates produced by the engine are multiples of the tile size.
type Coordinate struct {
	X, Y int
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// Point returns the coordinate as a plane point.
func (c Coordinate) Point() image.Point {
	return image.Pt(c.X, c.Y)
}

// Rect returns the plane rectangle owned by a tile of the given size at c.
func (c Coordinate) Rect(width, height int) image.Rectangle {
	return image.Rect(c.X, c.Y, c.X+width, c.Y+height)
}
