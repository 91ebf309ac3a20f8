package pyramid

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	zarr "github.com/zarrgl/zarr-go"
)

var (
	// ErrNotTiled is returned for tile operations on pyramids whose chunks are
	// not map tiles
	ErrNotTiled = errors.New("pyramid levels are not web mercator tiles")
	// ErrNoStore is returned when reading tiles of a level that was not opened
	// from a store
	ErrNoStore = errors.New("level is not backed by a store")
)

// TilesInBound lists the map tiles of zoom z that overlap b, a lon/lat
// bound, column by column starting at the north west corner. Latitudes
// beyond the web mercator limit snap to the first or last tile row. Bounds
// crossing the antimeridian select nothing.
func TilesInBound(z maptile.Zoom, b orb.Bound) []maptile.Tile {
	nw := tileAt(orb.Point{b.Min.X(), b.Max.Y()}, z)
	se := tileAt(orb.Point{b.Max.X(), b.Min.Y()}, z)
	if se.X < nw.X || se.Y < nw.Y {
		return nil
	}

	tiles := make([]maptile.Tile, 0, int(se.X-nw.X+1)*int(se.Y-nw.Y+1))
	for x := nw.X; x <= se.X; x++ {
		for y := nw.Y; y <= se.Y; y++ {
			tiles = append(tiles, maptile.New(x, y, z))
		}
	}
	return tiles
}

// tileAt is maptile.At with longitudes clamped to the world, so the east
// edge of the map belongs to the last tile column
func tileAt(ll orb.Point, z maptile.Zoom) maptile.Tile {
	lon := math.Max(-180, math.Min(180, ll.X()))
	t := maptile.At(orb.Point{lon, ll.Y()}, z)
	last := uint32(1)<<uint32(z) - 1
	if t.X > last {
		t.X = last
	}
	if t.Y > last {
		t.Y = last
	}
	return t
}

// LevelForZoom returns the level to draw at a fractional map zoom: the zoom
// rounded down and clamped to the levels of the pyramid
func (p *Pyramid) LevelForZoom(zoom float64) *Level {
	if len(p.Levels) == 0 {
		return nil
	}
	z := int(math.Floor(zoom))
	if hi := p.Levels[len(p.Levels)-1].Index; z > hi {
		z = hi
	}
	if lo := p.Levels[0].Index; z < lo {
		z = lo
	}
	return p.Level(z)
}

// VisibleTiles picks the level for zoom and the tiles of that level
// overlapping the lon/lat bound b
func (p *Pyramid) VisibleTiles(zoom float64, b orb.Bound) (*Level, []maptile.Tile, error) {
	if p.Convention != WebMercator {
		return nil, nil, fmt.Errorf("%w: convention %q", ErrNotTiled, p.Convention)
	}
	l := p.LevelForZoom(zoom)
	if l == nil {
		return nil, nil, fmt.Errorf("%w: no levels", ErrNoMultiscales)
	}
	return l, TilesInBound(maptile.Zoom(l.Index), b), nil
}

// ReadTile reads the chunk of variable holding map tile t. Chunks are
// indexed [y, x], so tile (x, y) is chunk y.x of the level's array. The
// result is the full chunk in row-major order.
func (l *Level) ReadTile(ctx context.Context, t maptile.Tile, variable string) ([]float64, error) {
	if l.store == nil {
		return nil, ErrNoStore
	}
	if int(t.Z) != l.Index {
		return nil, fmt.Errorf("tile %d/%d/%d is not on level %d", t.Z, t.X, t.Y, l.Index)
	}
	if reserved(variable) {
		return nil, fmt.Errorf("%q is not a data variable", variable)
	}

	path := l.Path() + "/" + variable
	a, err := zarr.Open(zarr.BindContext(ctx, l.store), path, zarr.ModeRead)
	if err != nil {
		return nil, &StorageError{Op: "open array", Path: path, Err: err}
	}
	data, err := a.ReadChunkFloat64s([]int{int(t.Y), int(t.X)})
	if err != nil {
		return nil, &StorageError{Op: "read tile", Path: path, Err: err}
	}
	return data, nil
}
