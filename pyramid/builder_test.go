package pyramid

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zarrgl/zarr-go/raster"
)

func baseGrid(t *testing.T) *raster.Dataset {
	t.Helper()
	ds := raster.NewBaseGrid()
	require.NoError(t, ds.WriteCRS("EPSG:4326"))
	return ds
}

func baseValue(y, x float64) float64 {
	return math.Abs(y) + math.Abs(x) + 1
}

func TestBuildCoarsen(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	src := baseGrid(t)
	b := NewBuilder()
	b.Log = log
	p, err := b.Build(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, p.Levels, 6)
	assert.Equal(t, Coarsen, p.Convention)
	assert.Equal(t, raster.Bilinear, p.Resampling)

	wantX := []int{1440, 720, 360, 180, 90, 45}
	wantY := []int{721, 361, 181, 91, 46, 23}
	prevRes := 0.0
	for i, l := range p.Levels {
		ds := l.Dataset
		assert.Equal(t, i, l.Index)
		ny, nx := ds.Shape()
		assert.Equal(t, wantX[i], nx, "level %d", i)
		assert.Equal(t, wantY[i], ny, "level %d", i)
		assert.Equal(t, raster.EPSG4326, ds.CRS.Code, "level %d", i)

		dx, _, err := ds.Resolution()
		require.NoError(t, err)
		assert.Greater(t, dx, prevRes, "level %d", i)
		prevRes = dx

		v := ds.Var(raster.BaseVariable)
		require.NotNil(t, v)
		for r, y := range ds.Y {
			for c, x := range ds.X {
				if got, want := ds.At(v, r, c), baseValue(y, x); math.Abs(got-want) > 1e-9 {
					t.Fatalf("level %d cell (%v, %v): want %v, got %v", i, y, x, want, got)
				}
			}
		}
	}

	// level 0 is the native grid
	lvl0 := p.Level(0).Dataset
	assert.Equal(t, src.X, lvl0.X)
	assert.Equal(t, src.Y, lvl0.Y)
	assert.Equal(t, src.Var(raster.BaseVariable).Data, lvl0.Var(raster.BaseVariable).Data)
	assert.Nil(t, p.Level(6))

	var debug int
	for _, e := range hook.AllEntries() {
		if e.Message == "built pyramid level" {
			debug++
		}
	}
	assert.Equal(t, 6, debug)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "built pyramid", hook.LastEntry().Message)
	assert.Equal(t, 6, hook.LastEntry().Data["levels"])
}

func TestBuildWebMercator(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	src := baseGrid(t)
	b := &Builder{
		Levels:        3,
		Resampling:    raster.Bilinear,
		Convention:    WebMercator,
		PixelsPerTile: 8,
		Log:           log,
	}
	p, err := b.Build(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, p.Levels, 3)

	world, err := WorldBound()
	require.NoError(t, err)
	assert.InDelta(t, 20037508.342789244, world.Max.X(), 1e-6)
	assert.InDelta(t, -20037508.342789244, world.Min.Y(), 1e-3)

	toGeo, err := raster.MustParseCRS(raster.EPSG3857).TransformTo(src.CRS)
	require.NoError(t, err)
	for z, l := range p.Levels {
		ds := l.Dataset
		ny, nx := ds.Shape()
		assert.Equal(t, 8<<uint(z), nx)
		assert.Equal(t, 8<<uint(z), ny)
		assert.Equal(t, raster.EPSG3857, ds.CRS.Code)
		assert.Greater(t, ds.Y[0], ds.Y[ny-1], "north up")

		v := ds.Var(raster.BaseVariable)
		for r, y := range ds.Y {
			for c, x := range ds.X {
				lon, lat, err := toGeo(x, y)
				require.NoError(t, err)
				if got, want := ds.At(v, r, c), baseValue(lat, lon); math.Abs(got-want) > 1e-6 {
					t.Fatalf("level %d cell (%v, %v): want %v, got %v", z, lat, lon, want, got)
				}
			}
		}
	}
}

func TestLevelTiles(t *testing.T) {
	src := baseGrid(t)
	b := &Builder{Levels: 2, Resampling: raster.Nearest, Convention: WebMercator, PixelsPerTile: 4}
	b.Log, _ = logtest.NewNullLogger()
	p, err := b.Build(context.Background(), src)
	require.NoError(t, err)

	assert.Nil(t, (&Level{Index: 1}).Tiles(Coarsen))

	toMerc, err := src.CRS.TransformTo(raster.MustParseCRS(raster.EPSG3857))
	require.NoError(t, err)
	l := p.Level(1)
	tiles := l.Tiles(WebMercator)
	require.Len(t, tiles, 4)
	for k, tile := range tiles {
		row, col := k/2, k%2
		bound := tile.Bound()
		minX, minY, err := toMerc(bound.Min.X(), bound.Min.Y())
		require.NoError(t, err)
		maxX, maxY, err := toMerc(bound.Max.X(), bound.Max.Y())
		require.NoError(t, err)

		// every cell of chunk (row, col) lies in the tile
		for i := row * 4; i < row*4+4; i++ {
			y := l.Dataset.Y[i]
			assert.True(t, y > minY && y < maxY, "tile %v row %d", tile, i)
		}
		for j := col * 4; j < col*4+4; j++ {
			x := l.Dataset.X[j]
			assert.True(t, x > minX && x < maxX, "tile %v col %d", tile, j)
		}
	}
}

func TestBuildErrors(t *testing.T) {
	ctx := context.Background()
	log, _ := logtest.NewNullLogger()
	src := baseGrid(t)

	b := &Builder{Levels: 0, Resampling: raster.Bilinear, Log: log}
	_, err := b.Build(ctx, src)
	assert.True(t, errors.Is(err, ErrInvalidLevels))

	b = &Builder{Levels: MaxLevels + 1, Resampling: raster.Bilinear, Convention: WebMercator, Log: log}
	_, err = b.Build(ctx, src)
	assert.True(t, errors.Is(err, ErrInvalidLevels), "level count is capped")

	_, err = webMercatorGrid(MaxLevels-1, maxGridEdge)
	assert.Error(t, err, "grid edge is capped")

	b = &Builder{Levels: 2, Resampling: "cubic", Log: log}
	_, err = b.Build(ctx, src)
	assert.True(t, errors.Is(err, raster.ErrUnsupportedResampling))

	b = &Builder{Levels: 2, Resampling: raster.Bilinear, Convention: "quadkey", Log: log}
	_, err = b.Build(ctx, src)
	assert.Error(t, err)

	b = &Builder{Levels: 2, Resampling: raster.Bilinear, Log: log}
	_, err = b.Build(ctx, raster.NewBaseGrid())
	assert.True(t, errors.Is(err, raster.ErrMissingCRS))

	thin := raster.Synthesize([]float64{0}, []float64{0, 1}, "v", baseValue)
	thin.CRS = src.CRS
	_, err = b.Build(ctx, thin)
	assert.True(t, errors.Is(err, raster.ErrDegenerateGrid))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = b.Build(cancelled, src)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestParseConvention(t *testing.T) {
	c, err := ParseConvention(" Web-Mercator")
	require.NoError(t, err)
	assert.Equal(t, WebMercator, c)

	_, err = ParseConvention("tms")
	assert.Error(t, err)
}
