package pyramid

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/zarrgl/zarr-go/raster"
)

// Convention decides the grid of each pyramid level
type Convention string

const (
	// Coarsen keeps the source CRS and extent. Level 0 is the native
	// resolution and every following level halves it.
	Coarsen Convention = "coarsen"
	// WebMercator renders level z as a square of PixelsPerTile * 2^z cells
	// covering the web mercator world, one chunk per map tile.
	WebMercator Convention = "web-mercator"
)

func ParseConvention(s string) (Convention, error) {
	switch c := Convention(strings.ToLower(strings.TrimSpace(s))); c {
	case Coarsen, WebMercator:
		return c, nil
	}
	return "", fmt.Errorf("unknown pyramid convention %q", s)
}

// levelGrid computes the target grid of level z for src
func (c Convention) levelGrid(src *raster.Dataset, z, pixelsPerTile int) (raster.GridSpec, error) {
	switch c {
	case Coarsen:
		return coarsenGrid(src, z)
	case WebMercator:
		return webMercatorGrid(z, pixelsPerTile)
	}
	return raster.GridSpec{}, fmt.Errorf("unknown pyramid convention %q", c)
}

func coarsenGrid(src *raster.Dataset, z int) (raster.GridSpec, error) {
	dx, dy, err := src.Resolution()
	if err != nil {
		return raster.GridSpec{}, err
	}
	ext, err := src.Extent()
	if err != nil {
		return raster.GridSpec{}, err
	}
	ny, nx := src.Shape()
	factor := 1 << uint(z)

	return raster.GridSpec{
		CRS: src.CRS,
		X:   coarsenAxis(ext.Min.X(), ext.Max.X(), dx*float64(factor), ceilDiv(nx, factor)),
		Y:   coarsenAxis(ext.Min.Y(), ext.Max.Y(), dy*float64(factor), ceilDiv(ny, factor)),
	}, nil
}

// coarsenAxis centers n cells of size res on the source extent [lo, hi], so
// levels whose size does not divide the source stay within it
func coarsenAxis(lo, hi, res float64, n int) []float64 {
	center := (lo + hi) / 2
	return raster.Span(center-float64(n-1)*res/2, res, n)
}

func ceilDiv(n, d int) int {
	return (n + d - 1) / d
}

// WorldBound is the square web mercator world in EPSG:3857 meters
func WorldBound() (orb.Bound, error) {
	geo := raster.MustParseCRS(raster.EPSG4326)
	merc := raster.MustParseCRS(raster.EPSG3857)
	toMerc, err := geo.TransformTo(merc)
	if err != nil {
		return orb.Bound{}, err
	}

	world := maptile.New(0, 0, 0).Bound()
	minX, minY, err := toMerc(world.Min.X(), world.Min.Y())
	if err != nil {
		return orb.Bound{}, err
	}
	maxX, maxY, err := toMerc(world.Max.X(), world.Max.Y())
	if err != nil {
		return orb.Bound{}, err
	}
	return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}, nil
}

// maxGridEdge bounds the cells on a side of a web mercator level
const maxGridEdge = 1 << 24

func webMercatorGrid(z, pixelsPerTile int) (raster.GridSpec, error) {
	world, err := WorldBound()
	if err != nil {
		return raster.GridSpec{}, err
	}
	if z < 0 || z >= MaxLevels || pixelsPerTile > maxGridEdge>>uint(z) {
		return raster.GridSpec{}, fmt.Errorf("web mercator level %d with %d pixels per tile exceeds %d cells a side", z, pixelsPerTile, maxGridEdge)
	}
	n := pixelsPerTile << uint(z)
	res := (world.Max.X() - world.Min.X()) / float64(n)
	return raster.GridSpec{
		CRS: raster.MustParseCRS(raster.EPSG3857),
		X:   raster.Span(world.Min.X()+res/2, res, n),
		// north up
		Y: raster.Span(world.Max.Y()-res/2, -res, n),
	}, nil
}

// levelResolution is the cell size of a level in the units of its CRS
func levelResolution(g raster.GridSpec) float64 {
	if len(g.X) < 2 {
		return math.NaN()
	}
	return math.Abs(g.X[1] - g.X[0])
}
