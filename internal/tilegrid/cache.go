package tilegrid

import (
	"container/list"
	"image"
)

// Cache holds the materialized tiles keyed by coordinate, in insertion order.
// It is owned by the render context and is not safe for concurrent use.
type Cache struct {
	items map[Coordinate]*list.Element
	order *list.List
}

func NewCache() *Cache {
	return &Cache{
		items: make(map[Coordinate]*list.Element),
		order: list.New(),
	}
}

func (c *Cache) Len() int {
	return c.order.Len()
}

func (c *Cache) Has(coord Coordinate) bool {
	_, ok := c.items[coord]
	return ok
}

func (c *Cache) Get(coord Coordinate) (*Tile, bool) {
	elem, ok := c.items[coord]
	if !ok {
		return nil, false
	}
	return elem.Value.(*Tile), true
}

// Put inserts t, replacing any tile already stored at its coordinate. A
// replaced tile keeps its position in the insertion order.
func (c *Cache) Put(t *Tile) {
	if elem, ok := c.items[t.coord]; ok {
		elem.Value = t
		return
	}
	c.items[t.coord] = c.order.PushBack(t)
}

func (c *Cache) Delete(coord Coordinate) (*Tile, bool) {
	elem, ok := c.items[coord]
	if !ok {
		return nil, false
	}
	delete(c.items, coord)
	c.order.Remove(elem)
	return elem.Value.(*Tile), true
}

// Each calls fn for every tile, oldest first, until fn returns false.
func (c *Cache) Each(fn func(*Tile) bool) {
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		if !fn(elem.Value.(*Tile)) {
			return
		}
	}
}

func (c *Cache) Coordinates() []Coordinate {
	out := make([]Coordinate, 0, c.order.Len())
	c.Each(func(t *Tile) bool {
		out = append(out, t.coord)
		return true
	})
	return out
}

// EvictOutside removes every tile whose rectangle does not intersect keep and
// returns the removed tiles.
func (c *Cache) EvictOutside(keep image.Rectangle) []*Tile {
	var evicted []*Tile
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		t := elem.Value.(*Tile)
		if !t.Rect().Overlaps(keep) {
			delete(c.items, t.coord)
			c.order.Remove(elem)
			evicted = append(evicted, t)
		}
		elem = next
	}
	return evicted
}

// Trim removes the oldest tiles not protected by keep until at most max
// remain. Protected tiles are never removed, so Len may stay above max.
func (c *Cache) Trim(max int, keep func(Coordinate) bool) []*Tile {
	var evicted []*Tile
	for elem := c.order.Front(); elem != nil && c.order.Len() > max; {
		next := elem.Next()
		t := elem.Value.(*Tile)
		if keep == nil || !keep(t.coord) {
			delete(c.items, t.coord)
			c.order.Remove(elem)
			evicted = append(evicted, t)
		}
		elem = next
	}
	return evicted
}
