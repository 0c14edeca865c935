package tilegrid

import (
	"fmt"
	"image"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

// Invalidator receives redraw requests from the engine. Rectangles are in
// screen space.
type Invalidator interface {
	Invalidate(r image.Rectangle)
	InvalidateAll()
}

// Surface is the paint target handed to Engine.Paint. *image.RGBA and the
// other concrete image types of the standard library satisfy it.
type Surface interface {
	draw.Image
	SubImage(r image.Rectangle) image.Image
}

type Options struct {
	// RetainMargin is the number of tiles kept around the visible window
	// when panning. Tiles further away are evicted. Negative disables
	// eviction.
	RetainMargin int
	// MaxTiles caps the cache size; tiles in the visible window are never
	// dropped to honour it. Zero means no cap.
	MaxTiles    int
	Invalidator Invalidator
	Logger      *zap.Logger
}

// PanState is the state of the drag gesture handler.
type PanState int

const (
	Idle PanState = iota
	Dragging
)

func (s PanState) String() string {
	if s == Dragging {
		return "dragging"
	}
	return "idle"
}

type drag struct {
	state  PanState
	start  image.Point
	origin image.Point
}

// Engine keeps the visible tiles of a provider's plane materialized.
type Engine struct {
	log      *zap.Logger
	provider Provider
	viewport Viewport
	cache    *Cache
	inbox    *mailbox
	inv      Invalidator
	opts     Options

	width    int
	height   int
	measured bool
	origin   image.Point
	drag     drag
	seq      uint64
}

// NewEngine attaches p to a new engine. The provider's tile size is read
// once and fixed for the engine's lifetime.
func NewEngine(p Provider, opts Options) (*Engine, error) {
	viewport, err := NewViewport(p.TileWidth(), p.TileHeight())
	if err != nil {
		return nil, err
	}

	e := &Engine{
		log:      opts.Logger,
		provider: p,
		viewport: viewport,
		cache:    NewCache(),
		inbox:    newMailbox(),
		inv:      opts.Invalidator,
		opts:     opts,
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.inv == nil {
		e.inv = nopInvalidator{}
	}

	if err := p.SetCompletionHandler(e.OnTileReady); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderAttached, err)
	}
	return e, nil
}

func (e *Engine) Viewport() Viewport { return e.viewport }
func (e *Engine) Cache() *Cache { return e.cache }
func (e *Engine) Origin() image.Point { return e.origin }
func (e *Engine) Size() (int, int) { return e.width, e.height }
func (e *Engine) PanState() PanState { return e.drag.state }
func (e *Engine) Wake() <-chan struct{} { return e.inbox.signal }
func (e *Engine) PendingCompletions() int { return e.inbox.len() }

// Window returns the coordinates visible at the current size and origin.
func (e *Engine) Window() []Coordinate {
	return e.viewport.VisibleWindow(e.width, e.height, e.origin)
}

// MaxScreenSize bounds each screen dimension accepted by Measure.
const MaxScreenSize = 1 << 14

// Measure records the available screen size and populates the visible window.
// Dimensions are clamped to [0, MaxScreenSize].
func (e *Engine) Measure(width, height int) {
	e.width = min(max(width, 0), MaxScreenSize)
	e.height = min(max(height, 0), MaxScreenSize)
	e.measured = true
	e.retile()
}

// Layout re-requests any visible coordinate missing from the cache.
func (e *Engine) Layout() {
	if !e.measured {
		return
	}
	e.EnsureVisibleTiles(e.Window())
}

// EnsureVisibleTiles inserts a placeholder and issues one provider request
// for every coordinate in window that is not cached yet. A cached placeholder
// suppresses a second request. It returns the number of requests issued.
func (e *Engine) EnsureVisibleTiles(window []Coordinate) int {
	requested := 0
	for _, coord := range window {
		if e.cache.Has(coord) {
			continue
		}
		e.seq++
		req := Request{Coordinate: coord, Seq: e.seq}
		placeholder := e.provider.RequestTile(req)
		e.cache.Put(newTile(coord, e.viewport.tileWidth, e.viewport.tileHeight, placeholder, req.Seq))
		requested++
	}
	if requested > 0 {
		e.log.Debug("Requested tiles", zap.Int("count", requested), zap.Int("cached", e.cache.Len()))
	}
	return requested
}

// OnTileReady queues a completion for the render context. It is safe to call
// from any goroutine and never blocks.
func (e *Engine) OnTileReady(c Completion) {
	e.inbox.push(c)
}

// ApplyCompletions applies every queued completion and returns how many
// changed the cache.
func (e *Engine) ApplyCompletions() int {
	applied := 0
	for _, c := range e.inbox.drain() {
		if e.apply(c) {
			applied++
		}
	}
	return applied
}

func (e *Engine) apply(c Completion) bool {
	t, ok := e.cache.Get(c.Coordinate)
	if !ok {
		if c.Seq == 0 || c.Seq > e.seq {
			e.log.Warn("Ignoring completion for unrequested tile",
				zap.Stringer("coord", c.Coordinate), zap.Uint64("seq", c.Seq))
		} else {
			e.log.Debug("Dropping completion for evicted tile",
				zap.Stringer("coord", c.Coordinate), zap.Uint64("seq", c.Seq))
		}
		return false
	}
	if c.Seq > t.seq {
		e.log.Warn("Ignoring completion with unknown sequence",
			zap.Stringer("coord", c.Coordinate), zap.Uint64("seq", c.Seq), zap.Uint64("expected", t.seq))
		return false
	}
	if !t.markReady(c.Content, c.Seq) {
		e.log.Debug("Ignoring stale completion",
			zap.Stringer("coord", c.Coordinate), zap.Uint64("seq", c.Seq), zap.Uint64("applied", t.readySeq))
		return false
	}

	rect := e.viewport.ToScreen(c.Coordinate, e.origin)
	if e.measured && rect.Overlaps(e.screen()) {
		e.inv.Invalidate(rect)
	}
	return true
}

// PointerDown starts a drag at screen point (x, y).
func (e *Engine) PointerDown(x, y int) {
	e.drag = drag{state: Dragging, start: image.Pt(x, y), origin: e.origin}
}

// PointerMove pans by at most one tile per axis and reports whether the
// origin changed. Each pan rebases the drag on the current pointer position.
func (e *Engine) PointerMove(x, y int) bool {
	if e.drag.state != Dragging {
		return false
	}
	pointer := image.Pt(x, y)
	step := e.viewport.Snap(pointer.Sub(e.drag.start))
	if step == (image.Point{}) {
		return false
	}

	// The plane follows the pointer, so the origin moves against it.
	e.origin = e.drag.origin.Sub(step)
	e.drag.start = pointer
	e.drag.origin = e.origin

	e.retile()
	e.inv.InvalidateAll()
	return true
}

func (e *Engine) PointerUp(x, y int) {
	e.drag.state = Idle
}

func (e *Engine) PointerCancel() {
	e.drag.state = Idle
}

// Paint draws every cached tile that intersects the surface, each clipped to
// its own rectangle. A tile whose content panics is skipped.
func (e *Engine) Paint(s Surface) {
	bounds := s.Bounds()
	e.cache.Each(func(t *Tile) bool {
		rect := e.viewport.ToScreen(t.coord, e.origin)
		clip := rect.Intersect(bounds)
		if clip.Empty() {
			return true
		}
		dst, ok := s.SubImage(clip).(draw.Image)
		if !ok {
			e.log.Warn("Surface sub-image is not drawable", zap.Stringer("coord", t.coord))
			return true
		}
		e.paintTile(t, dst, rect)
		return true
	})
}

func (e *Engine) paintTile(t *Tile, dst draw.Image, rect image.Rectangle) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Tile paint failed",
				zap.Stringer("coord", t.coord), zap.Stringer("state", t.state), zap.Any("panic", r))
		}
	}()
	if t.content != nil {
		t.content.Paint(dst, rect)
	}
}

func (e *Engine) retile() {
	window := e.Window()
	e.EnsureVisibleTiles(window)
	e.evict(window)
}

func (e *Engine) evict(window []Coordinate) {
	var evicted []*Tile
	if e.opts.RetainMargin >= 0 {
		keep := e.viewport.Expand(e.viewport.WindowRect(e.width, e.height, e.origin), e.opts.RetainMargin)
		evicted = e.cache.EvictOutside(keep)
	}
	if e.opts.MaxTiles > 0 && e.cache.Len() > e.opts.MaxTiles {
		visible := make(map[Coordinate]struct{}, len(window))
		for _, c := range window {
			visible[c] = struct{}{}
		}
		evicted = append(evicted, e.cache.Trim(e.opts.MaxTiles, func(c Coordinate) bool {
			_, ok := visible[c]
			return ok
		})...)
	}
	if len(evicted) == 0 {
		return
	}

	canceler, _ := e.provider.(Canceler)
	for _, t := range evicted {
		if canceler != nil && t.state == Placeholder {
			canceler.CancelTile(Request{Coordinate: t.coord, Seq: t.seq})
		}
	}
	e.log.Debug("Evicted tiles", zap.Int("count", len(evicted)), zap.Int("cached", e.cache.Len()))
}

func (e *Engine) screen() image.Rectangle {
	return image.Rect(0, 0, e.width, e.height)
}

// TileInfo describes one cache entry.
type TileInfo struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	State string `json:"state"`
	Seq   uint64 `json:"seq"`
}

// Tiles lists the cache in insertion order.
func (e *Engine) Tiles() []TileInfo {
	out := make([]TileInfo, 0, e.cache.Len())
	e.cache.Each(func(t *Tile) bool {
		out = append(out, TileInfo{X: t.coord.X, Y: t.coord.Y, State: t.state.String(), Seq: t.seq})
		return true
	})
	return out
}

type nopInvalidator struct{}

func (nopInvalidator) Invalidate(image.Rectangle) {}
func (nopInvalidator) InvalidateAll()             {}
