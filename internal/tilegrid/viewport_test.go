package tilegrid_test

import (
	"fmt"
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tileview/internal/tilegrid"
)

func Test_VisibleWindow_Returns_Grid_Product_When_Origin_Is_Zero(t *testing.T) {
	t.Parallel()

	v, err := tilegrid.NewViewport(250, 250)
	require.NoError(t, err)

	got := v.VisibleWindow(1000, 750, image.Point{})

	want := grid([]int{0, 250, 500, 750}, []int{0, 250, 500})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("window mismatch (-want +got):\n%s", diff)
	}
}

func Test_VisibleWindow_Covers_Screen_Without_Extra_Tiles(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		tileW, tileH  int
		width, height int
		origin        image.Point
	}{
		{250, 250, 1000, 750, image.Pt(0, 0)},
		{250, 250, 1001, 751, image.Pt(0, 0)},
		{250, 250, 999, 749, image.Pt(-250, 500)},
		{250, 250, 640, 480, image.Pt(-130, -7)},
		{100, 40, 333, 97, image.Pt(55, -1234)},
		{64, 64, 10, 10, image.Pt(60, 60)},
		{7, 13, 50, 50, image.Pt(-3, 11)},
	}

	for _, tc := range testCases {
		name := fmt.Sprintf("%dx%d_on_%dx%d_at_%v", tc.tileW, tc.tileH, tc.width, tc.height, tc.origin)
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			v, err := tilegrid.NewViewport(tc.tileW, tc.tileH)
			require.NoError(t, err)

			window := v.VisibleWindow(tc.width, tc.height, tc.origin)
			screen := image.Rect(tc.origin.X, tc.origin.Y, tc.origin.X+tc.width, tc.origin.Y+tc.height)

			set := make(map[tilegrid.Coordinate]struct{}, len(window))
			for _, c := range window {
				_, dup := set[c]
				require.False(t, dup, "duplicate coordinate %v", c)
				set[c] = struct{}{}

				assert.Zero(t, mod(c.X, tc.tileW), "x not aligned: %v", c)
				assert.Zero(t, mod(c.Y, tc.tileH), "y not aligned: %v", c)
				assert.True(t, c.Rect(tc.tileW, tc.tileH).Overlaps(screen), "tile %v outside screen %v", c, screen)
			}

			for y := screen.Min.Y; y < screen.Max.Y; y += 3 {
				for x := screen.Min.X; x < screen.Max.X; x += 3 {
					assertCovered(t, v, set, image.Pt(x, y))
				}
			}
			assertCovered(t, v, set, screen.Max.Sub(image.Pt(1, 1)))
		})
	}
}

func assertCovered(t *testing.T, v tilegrid.Viewport, set map[tilegrid.Coordinate]struct{}, p image.Point) {
	t.Helper()
	_, ok := set[v.TileAt(p)]
	assert.True(t, ok, "point %v not covered", p)
}

func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func Test_VisibleWindow_Contains_One_Tile_When_Screen_Is_Tiny(t *testing.T) {
	t.Parallel()

	v, err := tilegrid.NewViewport(250, 250)
	require.NoError(t, err)

	assert.Equal(t, []tilegrid.Coordinate{{X: 0, Y: 0}}, v.VisibleWindow(0, 0, image.Point{}))
	assert.Equal(t, []tilegrid.Coordinate{{X: 0, Y: 0}}, v.VisibleWindow(10, 10, image.Point{}))
	assert.Equal(t, []tilegrid.Coordinate{{X: -250, Y: 250}}, v.VisibleWindow(-5, 1, image.Pt(-1, 499)))
}

func Test_VisibleWindow_Is_Deterministic(t *testing.T) {
	t.Parallel()

	v, err := tilegrid.NewViewport(250, 100)
	require.NoError(t, err)

	first := v.VisibleWindow(800, 600, image.Pt(-250, 300))
	second := v.VisibleWindow(800, 600, image.Pt(-250, 300))
	assert.Equal(t, first, second)
}

func Test_WindowRect_Bounds_VisibleWindow(t *testing.T) {
	t.Parallel()

	v, err := tilegrid.NewViewport(250, 250)
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 1000, 750), v.WindowRect(1000, 750, image.Point{}))
	assert.Equal(t, image.Rect(-250, -250, 1000, 750), v.WindowRect(1000, 750, image.Pt(-10, -10)))
	assert.Equal(t, image.Rect(-500, -500, 1250, 1000), v.Expand(image.Rect(-250, -250, 1000, 750), 1))
}

func Test_ToScreen_And_ToPlane_Are_Inverse(t *testing.T) {
	t.Parallel()

	v, err := tilegrid.NewViewport(250, 250)
	require.NoError(t, err)

	origin := image.Pt(500, -250)
	assert.Equal(t, image.Rect(-500, 250, -250, 500), v.ToScreen(tilegrid.Coordinate{X: 0, Y: 0}, origin))
	assert.Equal(t, image.Pt(510, -240), v.ToPlane(image.Pt(10, 10), origin))
	assert.Equal(t, tilegrid.Coordinate{X: 500, Y: -250}, v.TileAt(v.ToPlane(image.Pt(10, 10), origin)))
}

func Test_Snap_Rounds_To_At_Most_One_Tile(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		size  int
		delta int
		want  int
	}{
		{name: "Zero", size: 250, delta: 0, want: 0},
		{name: "BelowHalf", size: 250, delta: 124, want: 0},
		{name: "ExactlyHalf", size: 250, delta: 125, want: 0},
		{name: "JustOverHalf", size: 250, delta: 126, want: 250},
		{name: "NegativeExactlyHalf", size: 250, delta: -125, want: 0},
		{name: "NegativeJustOverHalf", size: 250, delta: -126, want: -250},
		{name: "Huge", size: 250, delta: 100000, want: 250},
		{name: "HugeNegative", size: 250, delta: -100000, want: -250},
		{name: "OddSizeBelow", size: 5, delta: 2, want: 0},
		{name: "OddSizeAbove", size: 5, delta: 3, want: 5},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			v, err := tilegrid.NewViewport(tc.size, tc.size)
			require.NoError(t, err)

			assert.Equal(t, image.Pt(tc.want, 0), v.Snap(image.Pt(tc.delta, 0)))
			assert.Equal(t, image.Pt(0, tc.want), v.Snap(image.Pt(0, tc.delta)))
		})
	}
}

func Test_NewViewport_Rejects_Non_Positive_Size(t *testing.T) {
	t.Parallel()

	_, err := tilegrid.NewViewport(0, 250)
	require.ErrorIs(t, err, tilegrid.ErrInvalidTileSize)

	_, err = tilegrid.NewViewport(250, -1)
	require.ErrorIs(t, err, tilegrid.ErrInvalidTileSize)
}
