package tilegrid_test

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tileview/internal/tilegrid"
)

func newTestEngine(t *testing.T, opts tilegrid.Options) (*tilegrid.Engine, *fakeProvider, *recordingInvalidator) {
	t.Helper()

	p := newFakeProvider(250, 250)
	inv := &recordingInvalidator{}
	opts.Invalidator = inv
	e, err := tilegrid.NewEngine(p, opts)
	require.NoError(t, err)
	return e, p, inv
}

func Test_Measure_Requests_Every_Visible_Tile_Once(t *testing.T) {
	t.Parallel()

	e, p, _ := newTestEngine(t, tilegrid.Options{})
	e.Measure(1000, 750)

	want := grid([]int{0, 250, 500, 750}, []int{0, 250, 500})
	if diff := cmp.Diff(want, coords(p.requested())); diff != "" {
		t.Fatalf("requests mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 12, e.Cache().Len())

	e.Cache().Each(func(tile *tilegrid.Tile) bool {
		assert.Equal(t, tilegrid.Placeholder, tile.State())
		assert.Equal(t, label("placeholder"), tile.Content())
		return true
	})
}

func Test_EnsureVisibleTiles_Issues_No_Requests_When_Cache_Is_Warm(t *testing.T) {
	t.Parallel()

	e, p, _ := newTestEngine(t, tilegrid.Options{})
	e.Measure(1000, 750)

	assert.Zero(t, e.EnsureVisibleTiles(e.Window()))
	e.Layout()
	e.Measure(1000, 750)
	assert.Len(t, p.requested(), 12)

	e.Measure(1250, 750)
	assert.Len(t, p.requested(), 15)
}

func Test_Completion_Upgrades_Tile_And_Invalidates_Its_Rectangle(t *testing.T) {
	t.Parallel()

	e, p, inv := newTestEngine(t, tilegrid.Options{})
	e.Measure(1000, 750)

	origin := tilegrid.Coordinate{X: 0, Y: 0}
	req, ok := p.requestFor(origin)
	require.True(t, ok)

	p.complete(req, label("A"))

	tile, _ := e.Cache().Get(origin)
	assert.Equal(t, tilegrid.Placeholder, tile.State(), "completion must not touch the cache before it is applied")

	assert.Equal(t, 1, e.ApplyCompletions())

	tile, _ = e.Cache().Get(origin)
	assert.Equal(t, tilegrid.Ready, tile.State())
	assert.Equal(t, label("A"), tile.Content())
	assert.Equal(t, []image.Rectangle{image.Rect(0, 0, 250, 250)}, inv.rects)
	assert.Equal(t, 12, e.Cache().Len())
}

func Test_Completion_Off_Screen_Updates_Cache_Without_Redraw(t *testing.T) {
	t.Parallel()

	e, p, inv := newTestEngine(t, tilegrid.Options{RetainMargin: 1})
	e.Measure(500, 500)

	e.PointerDown(0, 0)
	require.True(t, e.PointerMove(-200, 0))
	require.Equal(t, image.Pt(250, 0), e.Origin())

	left := tilegrid.Coordinate{X: 0, Y: 0}
	req, ok := p.requestFor(left)
	require.True(t, ok)
	p.complete(req, label("left"))

	assert.Equal(t, 1, e.ApplyCompletions())
	tile, ok := e.Cache().Get(left)
	require.True(t, ok)
	assert.Equal(t, tilegrid.Ready, tile.State())
	assert.Empty(t, inv.rects)
	assert.Equal(t, 1, inv.all)
}

func Test_Completions_Apply_In_Any_Order(t *testing.T) {
	t.Parallel()

	e, p, inv := newTestEngine(t, tilegrid.Options{})
	e.Measure(1000, 750)

	reqs := p.requested()
	for i := len(reqs) - 1; i >= 0; i-- {
		p.complete(reqs[i], label(reqs[i].String()))
	}

	assert.Equal(t, len(reqs), e.ApplyCompletions())
	for _, req := range reqs {
		tile, ok := e.Cache().Get(req.Coordinate)
		require.True(t, ok)
		assert.Equal(t, tilegrid.Ready, tile.State())
		assert.Equal(t, label(req.String()), tile.Content())
	}
	assert.Len(t, inv.rects, len(reqs))
	assert.Equal(t, 12, e.Cache().Len())
}

func Test_Repeated_Completion_Keeps_First_Content(t *testing.T) {
	t.Parallel()

	e, p, _ := newTestEngine(t, tilegrid.Options{})
	e.Measure(250, 250)

	req, ok := p.requestFor(tilegrid.Coordinate{})
	require.True(t, ok)
	p.complete(req, label("first"))
	p.complete(req, label("second"))

	assert.Equal(t, 1, e.ApplyCompletions())
	tile, _ := e.Cache().Get(tilegrid.Coordinate{})
	assert.Equal(t, label("first"), tile.Content())
}

func Test_Completion_For_Unrequested_Coordinate_Is_Ignored(t *testing.T) {
	t.Parallel()

	e, p, inv := newTestEngine(t, tilegrid.Options{})
	e.Measure(250, 250)

	p.complete(tilegrid.Request{Coordinate: tilegrid.Coordinate{X: 5000, Y: 5000}, Seq: 999}, label("x"))
	p.complete(tilegrid.Request{Coordinate: tilegrid.Coordinate{X: 0, Y: 0}, Seq: 999}, label("y"))

	assert.Zero(t, e.ApplyCompletions())
	assert.False(t, e.Cache().Has(tilegrid.Coordinate{X: 5000, Y: 5000}))
	tile, _ := e.Cache().Get(tilegrid.Coordinate{})
	assert.Equal(t, tilegrid.Placeholder, tile.State())
	assert.Empty(t, inv.rects)
}

func Test_Drag_Pans_Only_Past_Half_A_Tile(t *testing.T) {
	t.Parallel()

	e, _, inv := newTestEngine(t, tilegrid.Options{})
	e.Measure(1000, 750)

	e.PointerDown(100, 100)
	assert.Equal(t, tilegrid.Dragging, e.PanState())

	assert.False(t, e.PointerMove(100, 225))
	assert.Equal(t, image.Pt(0, 0), e.Origin())
	assert.Zero(t, inv.all)

	assert.True(t, e.PointerMove(100, 226))
	assert.Equal(t, image.Pt(0, -250), e.Origin())
	assert.Equal(t, 1, inv.all)

	// The drag is rebased on (100,226), so a further 74px is below the threshold.
	assert.False(t, e.PointerMove(100, 300))
	assert.Equal(t, image.Pt(0, -250), e.Origin())

	e.PointerUp(100, 300)
	assert.Equal(t, tilegrid.Idle, e.PanState())
	assert.False(t, e.PointerMove(100, 1000))
}

func Test_Drag_Moves_At_Most_One_Tile_Per_Event(t *testing.T) {
	t.Parallel()

	e, p, _ := newTestEngine(t, tilegrid.Options{RetainMargin: -1})
	e.Measure(1000, 750)

	e.PointerDown(100, 100)
	require.True(t, e.PointerMove(5000, -4000))
	assert.Equal(t, image.Pt(-250, 250), e.Origin())

	for _, c := range e.Window() {
		assert.True(t, e.Cache().Has(c), "visible tile %v not cached", c)
	}
	assert.Len(t, p.requested(), 12+6)

	e.PointerCancel()
	assert.Equal(t, tilegrid.Idle, e.PanState())
	assert.False(t, e.PointerMove(0, 0))
}

func Test_Pan_Evicts_Tiles_Outside_Margin_And_Cancels_Them(t *testing.T) {
	t.Parallel()

	e, p, _ := newTestEngine(t, tilegrid.Options{RetainMargin: 0})
	e.Measure(250, 250)

	first, ok := p.requestFor(tilegrid.Coordinate{})
	require.True(t, ok)

	e.PointerDown(0, 0)
	require.True(t, e.PointerMove(-200, 0))
	require.True(t, e.PointerMove(-400, 0))

	assert.Equal(t, []tilegrid.Coordinate{{X: 500, Y: 0}}, e.Cache().Coordinates())
	assert.Equal(t, []tilegrid.Coordinate{{X: 0, Y: 0}, {X: 250, Y: 0}}, coords(p.cancelledRequests()))

	p.complete(first, label("late"))
	assert.Zero(t, e.ApplyCompletions())
	assert.False(t, e.Cache().Has(tilegrid.Coordinate{}))
}

func Test_Pan_Keeps_Everything_When_Eviction_Disabled(t *testing.T) {
	t.Parallel()

	e, p, _ := newTestEngine(t, tilegrid.Options{RetainMargin: -1})
	e.Measure(250, 250)

	e.PointerDown(0, 0)
	for i := 1; i <= 4; i++ {
		require.True(t, e.PointerMove(-200*i, 0))
	}

	assert.Equal(t, 5, e.Cache().Len())
	assert.Empty(t, p.cancelledRequests())
}

func Test_MaxTiles_Keeps_Visible_Tiles(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t, tilegrid.Options{RetainMargin: -1, MaxTiles: 3})
	e.Measure(500, 250)

	e.PointerDown(0, 0)
	require.True(t, e.PointerMove(-200, 0))
	require.True(t, e.PointerMove(-400, 0))

	assert.Equal(t, 3, e.Cache().Len())
	for _, c := range e.Window() {
		assert.True(t, e.Cache().Has(c))
	}
}

func Test_Newer_Completion_Wins_Over_Late_Older_One(t *testing.T) {
	t.Parallel()

	e, p, _ := newTestEngine(t, tilegrid.Options{RetainMargin: 0})
	e.Measure(250, 250)
	old, ok := p.requestFor(tilegrid.Coordinate{})
	require.True(t, ok)

	e.PointerDown(0, 0)
	require.True(t, e.PointerMove(-200, 0))
	require.False(t, e.Cache().Has(tilegrid.Coordinate{}))
	require.True(t, e.PointerMove(0, 0))
	require.Equal(t, image.Pt(0, 0), e.Origin())

	fresh, ok := p.requestFor(tilegrid.Coordinate{})
	require.True(t, ok)
	require.Greater(t, fresh.Seq, old.Seq)

	p.complete(fresh, label("new"))
	p.complete(old, label("old"))

	assert.Equal(t, 1, e.ApplyCompletions())
	tile, _ := e.Cache().Get(tilegrid.Coordinate{})
	assert.Equal(t, label("new"), tile.Content())
}

func Test_Paint_Clips_Each_Tile_And_Survives_Broken_Content(t *testing.T) {
	t.Parallel()

	e, p, _ := newTestEngine(t, tilegrid.Options{})
	e.Measure(500, 250)

	red := color.RGBA{R: 255, A: 255}
	left, _ := p.requestFor(tilegrid.Coordinate{X: 0, Y: 0})
	right, _ := p.requestFor(tilegrid.Coordinate{X: 250, Y: 0})
	p.complete(right, panicky{})
	p.complete(left, fill{c: red})
	require.Equal(t, 2, e.ApplyCompletions())

	surface := image.NewRGBA(image.Rect(0, 0, 500, 250))
	require.NotPanics(t, func() { e.Paint(surface) })

	assert.Equal(t, red, surface.RGBAAt(0, 0))
	assert.Equal(t, red, surface.RGBAAt(249, 249))
	assert.Equal(t, color.RGBA{}, surface.RGBAAt(250, 0))
}

func Test_Paint_Clips_To_Surface_After_Pan(t *testing.T) {
	t.Parallel()

	e, p, _ := newTestEngine(t, tilegrid.Options{RetainMargin: -1})
	e.Measure(250, 250)

	req, _ := p.requestFor(tilegrid.Coordinate{})
	blue := color.RGBA{B: 255, A: 255}
	p.complete(req, fill{c: blue})
	e.ApplyCompletions()

	e.PointerDown(0, 0)
	require.True(t, e.PointerMove(200, 0))

	surface := image.NewRGBA(image.Rect(0, 0, 250, 250))
	e.Paint(surface)

	// (0,0) now sits one tile to the right of the screen.
	assert.Equal(t, image.Pt(-250, 0), e.Origin())
	assert.Equal(t, color.RGBA{}, surface.RGBAAt(0, 0))
}

func Test_NewEngine_Rejects_Shared_Provider(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(250, 250)
	_, err := tilegrid.NewEngine(p, tilegrid.Options{})
	require.NoError(t, err)

	_, err = tilegrid.NewEngine(p, tilegrid.Options{})
	require.ErrorIs(t, err, tilegrid.ErrProviderAttached)
}

func Test_NewEngine_Rejects_Invalid_Tile_Size(t *testing.T) {
	t.Parallel()

	_, err := tilegrid.NewEngine(newFakeProvider(0, 250), tilegrid.Options{})
	require.ErrorIs(t, err, tilegrid.ErrInvalidTileSize)
}

func Test_Measure_Clamps_Oversized_Screen(t *testing.T) {
	t.Parallel()

	e, p, _ := newTestEngine(t, tilegrid.Options{})
	require.NotPanics(t, func() { e.Measure(math.MaxInt, 1) })

	width, height := e.Size()
	assert.Equal(t, tilegrid.MaxScreenSize, width)
	assert.Equal(t, 1, height)
	// ceil(16384 / 250) columns, one row.
	assert.Len(t, p.requested(), 66)

	require.NotPanics(t, func() { e.Measure(math.MinInt, math.MinInt) })
	width, height = e.Size()
	assert.Zero(t, width)
	assert.Zero(t, height)
}

// patchySurface refuses to hand out a drawable sub-image for one rectangle.
type patchySurface struct {
	*image.RGBA
	broken image.Rectangle
}

func (s patchySurface) SubImage(r image.Rectangle) image.Image {
	if r == s.broken {
		return image.NewUniform(color.Black)
	}
	return s.RGBA.SubImage(r)
}

func Test_Paint_Skips_Only_Undrawable_Tile(t *testing.T) {
	t.Parallel()

	e, p, _ := newTestEngine(t, tilegrid.Options{})
	e.Measure(500, 250)

	red := color.RGBA{R: 255, A: 255}
	for _, req := range p.requested() {
		p.complete(req, fill{c: red})
	}
	require.Equal(t, 2, e.ApplyCompletions())

	surface := patchySurface{
		RGBA:   image.NewRGBA(image.Rect(0, 0, 500, 250)),
		broken: image.Rect(0, 0, 250, 250),
	}
	e.Paint(surface)

	assert.Equal(t, color.RGBA{}, surface.RGBAAt(0, 0))
	assert.Equal(t, red, surface.RGBAAt(250, 0))
	assert.Equal(t, red, surface.RGBAAt(499, 249))
}
