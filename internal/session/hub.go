package session

import (
	"image"
	"sync"
)

// Invalidation is a redraw request pushed to subscribers. All means the whole
// screen; otherwise Rect is the screen rectangle to repaint.
type Invalidation struct {
	All  bool
	Rect image.Rectangle
}

// hub fans engine invalidations out to subscribers. It is called on the
// render loop, so publishing never blocks: slow subscribers lose events.
type hub struct {
	mu     sync.Mutex
	subs   map[int]chan Invalidation
	nextID int
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan Invalidation)}
}

func (h *hub) Invalidate(r image.Rectangle) {
	h.publish(Invalidation{Rect: r})
}

func (h *hub) InvalidateAll() {
	h.publish(Invalidation{All: true})
}

func (h *hub) publish(ev Invalidation) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *hub) subscribe() (<-chan Invalidation, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Invalidation, 256)
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if ch, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
