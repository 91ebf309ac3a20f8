package pyramid

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zarr "github.com/zarrgl/zarr-go"
	"github.com/zarrgl/zarr-go/raster"
)

func nullLogger() logrus.FieldLogger {
	log, _ := logtest.NewNullLogger()
	return log
}

// smallPyramid builds a cheap two level pyramid over a 10 degree grid
func smallPyramid(t *testing.T) *Pyramid {
	t.Helper()
	src := raster.Synthesize(raster.Arange(-180, 180, 10), raster.Arange(-90, 91, 10), "v", baseValue)
	require.NoError(t, src.WriteCRS(raster.EPSG4326))
	b := &Builder{Levels: 2, Resampling: raster.Bilinear, PixelsPerTile: 16, Log: nullLogger()}
	p, err := b.Build(context.Background(), src)
	require.NoError(t, err)
	return p
}

func assertSamePyramid(t *testing.T, want, got *Pyramid) {
	t.Helper()
	assert.Equal(t, want.Convention, got.Convention)
	assert.Equal(t, want.Resampling, got.Resampling)
	assert.Equal(t, want.PixelsPerTile, got.PixelsPerTile)
	require.Equal(t, len(want.Levels), len(got.Levels))
	for i, wl := range want.Levels {
		gl := got.Levels[i]
		assert.Equal(t, wl.Index, gl.Index)
		assert.Equal(t, wl.Dataset.CRS.Code, gl.Dataset.CRS.Code)
		if diff := cmp.Diff(wl.Dataset.X, gl.Dataset.X); diff != "" {
			t.Errorf("level %d x (-want +got):\n%s", i, diff)
		}
		if diff := cmp.Diff(wl.Dataset.Y, gl.Dataset.Y); diff != "" {
			t.Errorf("level %d y (-want +got):\n%s", i, diff)
		}
		require.Equal(t, len(wl.Dataset.Vars), len(gl.Dataset.Vars))
		for _, wv := range wl.Dataset.Vars {
			gv := gl.Dataset.Var(wv.Name)
			require.NotNil(t, gv, "level %d variable %q", i, wv.Name)
			if diff := cmp.Diff(wv.Data, gv.Data); diff != "" {
				t.Errorf("level %d %s (-want +got):\n%s", i, wv.Name, diff)
			}
		}
	}
}

func TestWriteOpenRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, compressor := range []string{"", "zstd", "gzip"} {
		t.Run("compressor="+compressor, func(t *testing.T) {
			p := smallPyramid(t)
			s := zarr.NewMemoryStore()
			err := Write(ctx, s, p, WriteOptions{Consolidated: true, Compressor: compressor, Log: nullLogger()})
			require.NoError(t, err)

			got, err := Open(ctx, s)
			require.NoError(t, err)
			assertSamePyramid(t, p, got)
		})
	}
}

func TestWriteLayout(t *testing.T) {
	ctx := context.Background()
	p := smallPyramid(t)
	s := zarr.NewMemoryStore()
	require.NoError(t, Write(ctx, s, p, WriteOptions{Consolidated: true, Chunks: 8, Log: nullLogger()}))

	cm, err := zarr.ReadConsolidatedMetadata(s, "")
	require.NoError(t, err)
	assert.Equal(t, zarr.ConsolidatedFormat, cm.ConsolidatedFormat)
	assert.Equal(t, []string{"", "0", "1"}, cm.Groups())
	assert.Equal(t, []string{
		"0/spatial_ref", "0/v", "0/x", "0/y",
		"1/spatial_ref", "1/v", "1/x", "1/y",
	}, cm.Arrays())
	for _, key := range []string{".zattrs", "0/v/.zattrs", "0/spatial_ref/.zattrs", "1/x/.zattrs"} {
		assert.Contains(t, cm.Metadata, key)
	}

	// level 0 is 19x36, chunked 8x8
	v, err := zarr.Open(s, "0/v", zarr.ModeRead)
	require.NoError(t, err)
	assert.Equal(t, []int{19, 36}, v.Shape())
	assert.Equal(t, []int{8, 8}, v.Meta().Chunks)
	assert.Equal(t, "<f8", v.Meta().Dtype.Dtype.String())
	assert.Equal(t, zarr.FillValueNaN, v.Meta().FillValue)
	_, err = s.Get("0/v/2.4")
	assert.NoError(t, err, "last edge chunk is stored")

	attrs, err := v.Attrs()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"y", "x"}, attrs["_ARRAY_DIMENSIONS"])
	assert.Equal(t, SpatialRef, attrs["grid_mapping"])
	assert.Equal(t, 1.0, attrs["valid_min"])

	ref, err := zarr.Open(s, "0/spatial_ref", zarr.ModeRead)
	require.NoError(t, err)
	assert.Empty(t, ref.Shape())
	refAttrs, err := ref.Attrs()
	require.NoError(t, err)
	assert.Equal(t, "latitude_longitude", refAttrs["grid_mapping_name"])
	assert.Equal(t, raster.EPSG4326, refAttrs["crs"])
	assert.NotEmpty(t, refAttrs["crs_wkt"])
	assert.Equal(t, "-185 10 0 -95 0 10", refAttrs["GeoTransform"])

	x, err := zarr.Open(s, "1/x", zarr.ModeRead)
	require.NoError(t, err)
	xAttrs, err := x.Attrs()
	require.NoError(t, err)
	assert.Equal(t, "degrees_east", xAttrs["units"])
	assert.Equal(t, "X", xAttrs["axis"])

	root, err := zarr.OpenGroup(s, "", zarr.ModeRead)
	require.NoError(t, err)
	rootAttrs, err := root.Attrs()
	require.NoError(t, err)
	ms, err := decodeMultiscales(rootAttrs)
	require.NoError(t, err)
	want := MultiscaleDataset{Path: "1", PixelsPerTile: 16, CRS: raster.EPSG4326}
	require.Len(t, ms.Datasets, 2)
	assert.Equal(t, want, ms.Datasets[1])
	assert.Equal(t, "reduce", ms.Type)
	assert.Equal(t, "bilinear", ms.Metadata.Kwargs.Resampling)
}

func TestWriteModes(t *testing.T) {
	ctx := context.Background()
	p := smallPyramid(t)
	s := zarr.NewMemoryStore()
	opts := WriteOptions{Consolidated: true, Log: nullLogger()}

	require.NoError(t, Write(ctx, s, p, opts))
	require.NoError(t, s.Put("stale/.zgroup", bytes.NewReader([]byte(`{"zarr_format": 2}`))))

	// overwrite replaces everything
	opts.Mode = zarr.ModeWrite
	require.NoError(t, Write(ctx, s, p, opts))
	_, err := s.Get("stale/.zgroup")
	assert.True(t, errors.Is(err, zarr.ErrNotfound))

	opts.Mode = zarr.ModeWriteFail
	err = Write(ctx, s, p, opts)
	assert.True(t, errors.Is(err, zarr.ErrContainsGroup))
	var serr *StorageError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "create group", serr.Op)

	fresh := zarr.NewMemoryStore()
	require.NoError(t, Write(ctx, fresh, p, opts), "w- writes fresh stores")

	opts.Mode = zarr.ModeReadWriteCreate
	require.NoError(t, Write(ctx, s, p, opts))
	got, err := Open(ctx, s)
	require.NoError(t, err)
	assertSamePyramid(t, p, got)

	for _, m := range []zarr.PersistenceMode{zarr.ModeRead, zarr.ModeReadWrite} {
		opts.Mode = m
		assert.True(t, errors.Is(Write(ctx, s, p, opts), zarr.ErrReadOnly), "mode %s", m)
	}
	opts.Mode = "x"
	assert.Error(t, Write(ctx, s, p, opts))

	opts.Mode = zarr.ModeWrite
	opts.Compressor = "lz4"
	assert.Error(t, Write(ctx, s, p, opts))
}

func TestOpenUnconsolidated(t *testing.T) {
	ctx := context.Background()
	p := smallPyramid(t)
	s := zarr.NewMemoryStore()
	require.NoError(t, Write(ctx, s, p, WriteOptions{Compressor: "zstd", Log: nullLogger()}))

	_, err := s.Get(".zmetadata")
	assert.True(t, errors.Is(err, zarr.ErrNotfound))

	got, err := Open(ctx, s)
	require.NoError(t, err)
	assertSamePyramid(t, p, got)
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, zarr.NewMemoryStore())
	assert.True(t, errors.Is(err, zarr.ErrNotfound))

	s := zarr.NewMemoryStore()
	_, err = zarr.CreateGroup(s, "", zarr.ModeWrite)
	require.NoError(t, err)
	_, err = Open(ctx, s)
	assert.True(t, errors.Is(err, ErrNoMultiscales))

	g, err := zarr.OpenGroup(s, "", zarr.ModeReadWrite)
	require.NoError(t, err)
	require.NoError(t, g.SetAttrs(zarr.Attributes{
		"multiscales": []interface{}{map[string]interface{}{
			"datasets": []interface{}{map[string]interface{}{"path": "0"}},
		}},
	}))
	_, err = Open(ctx, s)
	assert.True(t, errors.Is(err, ErrNoMultiscales), "pixels_per_tile is required")
}

func TestWriteMissingCRS(t *testing.T) {
	p := smallPyramid(t)
	p.Levels = append(p.Levels, &Level{
		Index:   2,
		Dataset: raster.Synthesize(raster.Arange(0, 4, 1), raster.Arange(0, 4, 1), "v", baseValue),
	})
	s := zarr.NewMemoryStore()

	err := Write(context.Background(), s, p, WriteOptions{Log: nullLogger()})
	assert.True(t, errors.Is(err, raster.ErrMissingCRS), "got %v", err)
	assert.Contains(t, err.Error(), "level 2")

	keys, err := s.List("")
	require.NoError(t, err)
	assert.Empty(t, keys, "nothing is written")
}

// failingStore fails every Put of a key under prefix
type failingStore struct {
	zarr.Store
	prefix string
	err    error
}

func (s *failingStore) Put(key string, val io.Reader) error {
	if strings.HasPrefix(key, s.prefix) {
		return s.err
	}
	return s.Store.Put(key, val)
}

func TestWriteStorageFailure(t *testing.T) {
	diskFull := errors.New("disk full")
	cases := map[string]string{
		"root group":  ".zgroup",
		"data array":  "0/v/",
		"attributes":  "1/x/.zattrs",
		"consolidate": ".zmetadata",
	}
	for name, prefix := range cases {
		t.Run(name, func(t *testing.T) {
			s := &failingStore{Store: zarr.NewMemoryStore(), prefix: prefix, err: diskFull}
			err := Write(context.Background(), s, smallPyramid(t), WriteOptions{Consolidated: true, Log: nullLogger()})

			var storageErr *StorageError
			require.True(t, errors.As(err, &storageErr), "got %v", err)
			assert.True(t, errors.Is(err, diskFull))
		})
	}
}

func TestWriteReservedName(t *testing.T) {
	p := smallPyramid(t)
	p.Levels[0].Dataset.Vars[0].Name = SpatialRef
	s := zarr.NewMemoryStore()

	err := Write(context.Background(), s, p, WriteOptions{Log: nullLogger()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")

	_, err = s.Get("0/x/.zarray")
	assert.True(t, errors.Is(err, zarr.ErrNotfound), "nothing written for the level")
}

func TestWriteOpenLocalStore(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "example.zarr")
	s, err := zarr.NewLocalStore(dir)
	require.NoError(t, err)

	src := baseGrid(t)
	b := NewBuilder()
	b.Log = nullLogger()
	p, err := b.Build(ctx, src)
	require.NoError(t, err)

	opts := WriteOptions{Mode: zarr.ModeWrite, Consolidated: true, Compressor: "zstd", Log: nullLogger()}
	require.NoError(t, Write(ctx, s, p, opts))
	for _, name := range []string{".zmetadata", ".zgroup", ".zattrs", "0/my_array/.zarray", "5/spatial_ref/0"} {
		_, err := os.Stat(filepath.Join(dir, filepath.FromSlash(name)))
		assert.NoError(t, err, name)
	}

	// rerunning in overwrite mode succeeds, fail-if-exists does not
	require.NoError(t, Write(ctx, s, p, opts))
	opts.Mode = zarr.ModeWriteFail
	assert.Error(t, Write(ctx, s, p, opts))

	reopened, err := zarr.NewLocalStore(dir)
	require.NoError(t, err)
	got, err := Open(ctx, reopened)
	require.NoError(t, err)
	require.Len(t, got.Levels, 6)
	for i, l := range got.Levels {
		assert.Equal(t, raster.EPSG4326, l.Dataset.CRS.Code, "level %d", i)
		assert.NotEmpty(t, l.Dataset.Var(raster.BaseVariable).Data, "level %d", i)
		if i > 0 {
			prevY, prevX := got.Levels[i-1].Dataset.Shape()
			ny, nx := l.Dataset.Shape()
			assert.LessOrEqual(t, nx, prevX)
			assert.LessOrEqual(t, ny, prevY)
		}
	}
	dx, dy, err := got.Levels[0].Dataset.Resolution()
	require.NoError(t, err)
	assert.Equal(t, raster.BaseResolution, dx)
	assert.Equal(t, raster.BaseResolution, dy)
	assertSamePyramid(t, p, got)
}
