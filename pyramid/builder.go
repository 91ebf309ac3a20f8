// Package pyramid builds multiscale raster pyramids and persists them to
// zarr stores.
package pyramid

import (
	"context"
	"errors"
	"fmt"

	"github.com/paulmach/orb/maptile"
	"github.com/sirupsen/logrus"

	zarr "github.com/zarrgl/zarr-go"
	"github.com/zarrgl/zarr-go/raster"
)

const (
	DefaultLevels        = 6
	DefaultPixelsPerTile = 128
	// MaxLevels bounds the level count
	MaxLevels = 16
)

// ErrInvalidLevels is returned for level counts below one
var ErrInvalidLevels = errors.New("invalid level count")

// Builder reprojects a dataset into a pyramid of progressively coarser levels
type Builder struct {
	Levels        int
	Resampling    raster.Resampling
	Convention    Convention
	PixelsPerTile int
	// Workers bounds reprojection parallelism within a level, zero uses
	// GOMAXPROCS
	Workers int
	Log     logrus.FieldLogger
}

// NewBuilder returns a builder with the default level count, bilinear
// resampling and the coarsen convention
func NewBuilder() *Builder {
	return &Builder{
		Levels:        DefaultLevels,
		Resampling:    raster.Bilinear,
		Convention:    Coarsen,
		PixelsPerTile: DefaultPixelsPerTile,
	}
}

type Pyramid struct {
	Levels        []*Level
	Convention    Convention
	Resampling    raster.Resampling
	PixelsPerTile int
}

// Level is one resolution of a pyramid, stored in the group named by its
// index
type Level struct {
	Index   int
	Dataset *raster.Dataset

	// store the level was opened from, nil for built levels
	store zarr.Store
}

func (l *Level) Path() string {
	return fmt.Sprint(l.Index)
}

// Tiles lists the web mercator map tiles covered by the level's chunks in
// row-major chunk order. Levels of other conventions have no tiles.
func (l *Level) Tiles(c Convention) []maptile.Tile {
	if c != WebMercator {
		return nil
	}
	n := uint32(1) << uint(l.Index)
	tiles := make([]maptile.Tile, 0, n*n)
	for y := uint32(0); y < n; y++ {
		for x := uint32(0); x < n; x++ {
			tiles = append(tiles, maptile.New(x, y, maptile.Zoom(l.Index)))
		}
	}
	return tiles
}

// Build computes every level of the pyramid from ds
func (b *Builder) Build(ctx context.Context, ds *raster.Dataset) (*Pyramid, error) {
	log := b.logger()

	if b.Levels < 1 || b.Levels > MaxLevels {
		return nil, fmt.Errorf("%w: %d, want 1 to %d", ErrInvalidLevels, b.Levels, MaxLevels)
	}
	ppt := b.PixelsPerTile
	if ppt == 0 {
		ppt = DefaultPixelsPerTile
	}
	if ppt < 0 {
		return nil, fmt.Errorf("invalid pixels per tile: %d", ppt)
	}
	conv := b.Convention
	if conv == "" {
		conv = Coarsen
	}
	conv, err := ParseConvention(string(conv))
	if err != nil {
		return nil, err
	}
	method, err := raster.ParseResampling(string(b.Resampling))
	if err != nil {
		return nil, err
	}
	if ds.CRS == nil {
		return nil, raster.ErrMissingCRS
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}

	p := &Pyramid{
		Convention:    conv,
		Resampling:    method,
		PixelsPerTile: ppt,
	}
	r := raster.Reprojector{Resampling: method, Workers: b.Workers}
	for z := 0; z < b.Levels; z++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		grid, err := conv.levelGrid(ds, z, ppt)
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", z, err)
		}
		out, err := r.Reproject(ctx, ds, grid)
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", z, err)
		}
		ny, nx := out.Shape()
		log.WithFields(logrus.Fields{
			"level":      z,
			"shape":      []int{ny, nx},
			"resolution": levelResolution(grid),
			"crs":        out.CRS.String(),
		}).Debug("built pyramid level")
		p.Levels = append(p.Levels, &Level{Index: z, Dataset: out})
	}
	log.WithFields(logrus.Fields{
		"levels":     len(p.Levels),
		"convention": conv,
		"resampling": method,
	}).Info("built pyramid")
	return p, nil
}

func (b *Builder) logger() logrus.FieldLogger {
	if b.Log == nil {
		return logrus.StandardLogger()
	}
	return b.Log
}

// Level returns level z, or nil
func (p *Pyramid) Level(z int) *Level {
	for _, l := range p.Levels {
		if l.Index == z {
			return l
		}
	}
	return nil
}
