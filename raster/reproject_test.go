package raster

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseGrid(t *testing.T) *Dataset {
	t.Helper()
	ds := NewBaseGrid()
	require.NoError(t, ds.WriteCRS(EPSG4326))
	return ds
}

// base grid values, with latitudes clamped to the edge rows
func baseValue(y, x float64) float64 {
	return math.Min(math.Abs(y), 90) + math.Abs(x) + 1
}

func TestReprojectIdentity(t *testing.T) {
	src := baseGrid(t)
	r := Reprojector{Resampling: Bilinear}
	out, err := r.Reproject(context.Background(), src, GridSpec{CRS: src.CRS, X: src.X, Y: src.Y})
	require.NoError(t, err)
	assert.Equal(t, src.Var(BaseVariable).Data, out.Var(BaseVariable).Data)
	assert.Equal(t, EPSG4326, out.CRS.Code)
}

func TestReprojectHalfResolution(t *testing.T) {
	src := baseGrid(t)
	spec := GridSpec{
		CRS: src.CRS,
		X:   Span(-179.875, 0.5, 720),
		Y:   Span(-89.875, 0.5, 361),
	}
	for _, workers := range []int{1, 3} {
		r := Reprojector{Resampling: Bilinear, Workers: workers}
		out, err := r.Reproject(context.Background(), src, spec)
		require.NoError(t, err)

		ny, nx := out.Shape()
		require.Equal(t, 361, ny)
		require.Equal(t, 720, nx)
		v := out.Var(BaseVariable)
		for i, y := range out.Y {
			for j, x := range out.X {
				if got, want := out.At(v, i, j), baseValue(y, x); math.Abs(got-want) > 1e-9 {
					t.Fatalf("workers=%d cell (%v, %v): want %v, got %v", workers, y, x, want, got)
				}
			}
		}
	}
}

func TestReprojectWrapsLongitude(t *testing.T) {
	src := baseGrid(t)
	r := Reprojector{Resampling: Bilinear}
	out, err := r.Reproject(context.Background(), src, GridSpec{
		CRS: src.CRS,
		X:   []float64{179.9, -180.1, 540},
		Y:   []float64{10},
	})
	require.NoError(t, err)
	got := out.Var(BaseVariable).Data
	assert.InDelta(t, 10+179.9+1, got[0], 1e-9)
	assert.InDelta(t, 10+179.9+1, got[1], 1e-9)
	assert.InDelta(t, 10+180+1, got[2], 1e-9)
}

func TestReprojectOutsideIsNaN(t *testing.T) {
	geo := MustParseCRS(EPSG4326)
	src := Synthesize([]float64{0, 1, 2}, []float64{0, 1}, "v", func(y, x float64) float64 { return x + 10*y })
	src.CRS = geo

	r := Reprojector{Resampling: Bilinear}
	out, err := r.Reproject(context.Background(), src, GridSpec{
		CRS: geo,
		X:   []float64{-0.5, 0.5, 2.5, 2.6},
		Y:   []float64{1.5, 1.6},
	})
	require.NoError(t, err)
	got := out.Var("v").Data
	// row y=1.5 clamps to y=1, x=-0.5 and x=2.5 clamp to the edge columns
	assert.Equal(t, 10.0, got[0])
	assert.Equal(t, 10.5, got[1])
	assert.Equal(t, 12.0, got[2])
	assert.True(t, math.IsNaN(got[3]))
	for _, v := range got[4:] {
		assert.True(t, math.IsNaN(v))
	}
}

func TestReprojectNearest(t *testing.T) {
	geo := MustParseCRS(EPSG4326)
	src := Synthesize([]float64{0, 1, 2}, []float64{0, 1}, "v", func(y, x float64) float64 { return x + 10*y })
	src.CRS = geo

	r := Reprojector{Resampling: Nearest}
	out, err := r.Reproject(context.Background(), src, GridSpec{
		CRS: geo,
		X:   []float64{0.4, 0.6, 1.9},
		Y:   []float64{0.2, 0.7},
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 10, 11, 12}, out.Var("v").Data)
}

func TestReprojectToWebMercator(t *testing.T) {
	src := baseGrid(t)
	merc := MustParseCRS(EPSG3857)
	half := math.Pi * EarthRadius
	spec := GridSpec{
		CRS: merc,
		X:   Span(-half+half/64, half/32, 64),
		Y:   Span(half-half/64, -half/32, 64),
	}
	out, err := Reprojector{Resampling: Bilinear}.Reproject(context.Background(), src, spec)
	require.NoError(t, err)
	assert.Equal(t, EPSG3857, out.CRS.Code)

	v := out.Var(BaseVariable)
	for i, y := range out.Y {
		for j, x := range out.X {
			lon, lat, err := webMercatorToLonLat(x, y)
			require.NoError(t, err)
			if got, want := out.At(v, i, j), baseValue(lat, lon); math.Abs(got-want) > 1e-6 {
				t.Fatalf("cell (%v, %v): want %v, got %v", lat, lon, want, got)
			}
		}
	}
}

func TestReprojectErrors(t *testing.T) {
	ctx := context.Background()
	src := baseGrid(t)
	spec := GridSpec{CRS: src.CRS, X: []float64{0}, Y: []float64{0}}

	_, err := Reprojector{Resampling: "cubic"}.Reproject(ctx, src, spec)
	assert.True(t, errors.Is(err, ErrUnsupportedResampling))

	noCRS := NewBaseGrid()
	_, err = Reprojector{Resampling: Bilinear}.Reproject(ctx, noCRS, spec)
	assert.True(t, errors.Is(err, ErrMissingCRS))

	_, err = Reprojector{Resampling: Bilinear}.Reproject(ctx, src, GridSpec{CRS: src.CRS})
	assert.True(t, errors.Is(err, ErrDegenerateGrid))

	thin := Synthesize([]float64{0}, []float64{0, 1}, "v", func(y, x float64) float64 { return 1 })
	thin.CRS = src.CRS
	_, err = Reprojector{Resampling: Bilinear}.Reproject(ctx, thin, spec)
	assert.True(t, errors.Is(err, ErrDegenerateGrid))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Reprojector{Resampling: Bilinear}.Reproject(cancelled, src, GridSpec{CRS: src.CRS, X: src.X, Y: src.Y})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestParseResampling(t *testing.T) {
	r, err := ParseResampling("Bilinear")
	require.NoError(t, err)
	assert.Equal(t, Bilinear, r)

	_, err = ParseResampling("lanczos")
	assert.True(t, errors.Is(err, ErrUnsupportedResampling))
}
