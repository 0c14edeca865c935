package cache

import "fmt"

// TileKey identifies one encoded tile of a source
type TileKey struct {
	Source string
	Width  int
	Height int
	X      int
	Y      int
	Format string
}

func (k TileKey) String() string {
	return fmt.Sprintf("%s_%dx%d/%d_%d.%s", k.Source, k.Width, k.Height, k.X, k.Y, k.Format)
}

type Cache interface {
	Get(key TileKey) ([]byte, bool)
	Set(key TileKey, value []byte)
	Has(key TileKey) bool // Check if tile exists without reading it (lightweight check)
	Clear()
}
