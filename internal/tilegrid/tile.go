package tilegrid

import (
	"image"

	"golang.org/x/image/draw"
)

// State is the content state of a Tile.
type State int

const (
	Placeholder State = iota
	Ready
)

func (s State) String() string {
	switch s {
	case Placeholder:
		return "placeholder"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Content paints a tile. dst is already clipped to the visible part of the
// tile; bounds is the full screen rectangle of the tile and may extend past
// dst.Bounds().
type Content interface {
	Paint(dst draw.Image, bounds image.Rectangle)
}

// Tile is a cache entry. Its coordinate and size never change; its state
// only moves from Placeholder to Ready.
type Tile struct {
	coord    Coordinate
	width    int
	height   int
	state    State
	content  Content
	seq      uint64
	readySeq uint64
}

func newTile(coord Coordinate, width, height int, placeholder Content, seq uint64) *Tile {
	return &Tile{
		coord:   coord,
		width:   width,
		height:  height,
		state:   Placeholder,
		content: placeholder,
		seq:     seq,
	}
}

func (t *Tile) Coordinate() Coordinate { return t.coord }
func (t *Tile) State() State { return t.state }
func (t *Tile) Content() Content { return t.content }

// Seq is the sequence number of the request that created the tile.
func (t *Tile) Seq() uint64 { return t.seq }

// Rect returns the plane rectangle owned by the tile.
func (t *Tile) Rect() image.Rectangle {
	return t.coord.Rect(t.width, t.height)
}

// markReady installs content produced by request seq. Completions older than
// the one already applied are rejected.
func (t *Tile) markReady(content Content, seq uint64) bool {
	if seq <= t.readySeq {
		return false
	}
	t.state = Ready
	t.content = content
	t.readySeq = seq
	return true
}
