package tilegrid_test

import (
	"errors"
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/draw"

	"tileview/internal/tilegrid"
)

// fakeProvider records requests and only completes them when the test says so.
type fakeProvider struct {
	width, height int

	mu        sync.Mutex
	requests  []tilegrid.Request
	cancelled []tilegrid.Request
	handler   func(tilegrid.Completion)
}

func newFakeProvider(width, height int) *fakeProvider {
	return &fakeProvider{width: width, height: height}
}

func (p *fakeProvider) TileWidth() int  { return p.width }
func (p *fakeProvider) TileHeight() int { return p.height }

func (p *fakeProvider) RequestTile(req tilegrid.Request) tilegrid.Content {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	return label("placeholder")
}

func (p *fakeProvider) SetCompletionHandler(fn func(tilegrid.Completion)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handler != nil {
		return errors.New("handler already set")
	}
	p.handler = fn
	return nil
}

func (p *fakeProvider) CancelTile(req tilegrid.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, req)
}

func (p *fakeProvider) complete(req tilegrid.Request, content tilegrid.Content) {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	h(tilegrid.Completion{Request: req, Content: content})
}

func (p *fakeProvider) requested() []tilegrid.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]tilegrid.Request(nil), p.requests...)
}

func (p *fakeProvider) cancelledRequests() []tilegrid.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]tilegrid.Request(nil), p.cancelled...)
}

func (p *fakeProvider) requestFor(c tilegrid.Coordinate) (tilegrid.Request, bool) {
	reqs := p.requested()
	for i := len(reqs) - 1; i >= 0; i-- {
		if reqs[i].Coordinate == c {
			return reqs[i], true
		}
	}
	return tilegrid.Request{}, false
}

type label string

func (label) Paint(draw.Image, image.Rectangle) {}

type fill struct {
	c color.Color
}

func (f fill) Paint(dst draw.Image, _ image.Rectangle) {
	draw.Draw(dst, dst.Bounds(), image.NewUniform(f.c), image.Point{}, draw.Src)
}

type panicky struct{}

func (panicky) Paint(draw.Image, image.Rectangle) {
	panic("broken tile")
}

type recordingInvalidator struct {
	rects []image.Rectangle
	all   int
}

func (r *recordingInvalidator) Invalidate(rect image.Rectangle) {
	r.rects = append(r.rects, rect)
}

func (r *recordingInvalidator) InvalidateAll() {
	r.all++
}

func coords(reqs []tilegrid.Request) []tilegrid.Coordinate {
	out := make([]tilegrid.Coordinate, len(reqs))
	for i, r := range reqs {
		out[i] = r.Coordinate
	}
	return out
}

func grid(xs, ys []int) []tilegrid.Coordinate {
	var out []tilegrid.Coordinate
	for _, y := range ys {
		for _, x := range xs {
			out = append(out, tilegrid.Coordinate{X: x, Y: y})
		}
	}
	return out
}
