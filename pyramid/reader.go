package pyramid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	zarr "github.com/zarrgl/zarr-go"
	"github.com/zarrgl/zarr-go/raster"
)

// ErrNoMultiscales is returned when opening a store whose root group does not
// describe a pyramid
var ErrNoMultiscales = errors.New("no multiscales in root attributes")

// Open reads a pyramid back from store. Consolidated metadata is used when
// present, otherwise every metadata key is read from the store.
func Open(ctx context.Context, store zarr.Store) (*Pyramid, error) {
	bound := zarr.BindContext(ctx, store)
	var (
		src    zarr.Store = bound
		arrays []string
	)
	cs, err := zarr.OpenConsolidated(bound, "")
	switch {
	case err == nil:
		src = cs
		arrays = cs.Metadata().Arrays()
	case errors.Is(err, zarr.ErrNotfound):
		if arrays, err = listArrays(bound); err != nil {
			return nil, &StorageError{Op: "list", Path: "/", Err: err}
		}
	default:
		return nil, &StorageError{Op: "read consolidated metadata", Path: "/", Err: err}
	}

	root, err := zarr.OpenGroup(src, "", zarr.ModeRead)
	if err != nil {
		return nil, &StorageError{Op: "open group", Path: "/", Err: err}
	}
	attrs, err := root.Attrs()
	if err != nil {
		return nil, &StorageError{Op: "read attributes", Path: "/", Err: err}
	}
	ms, err := decodeMultiscales(attrs)
	if err != nil {
		return nil, err
	}

	p := &Pyramid{PixelsPerTile: ms.Datasets[0].PixelsPerTile}
	if p.PixelsPerTile <= 0 {
		return nil, fmt.Errorf("%w: missing pixels_per_tile", ErrNoMultiscales)
	}
	if kw := ms.Metadata.Kwargs; kw.Resampling != "" {
		if p.Resampling, err = raster.ParseResampling(kw.Resampling); err != nil {
			return nil, err
		}
	}

	for _, d := range ms.Datasets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		l, err := openLevel(root, d, arrays)
		if err != nil {
			return nil, err
		}
		l.store = store
		p.Levels = append(p.Levels, l)
	}
	sort.Slice(p.Levels, func(i, j int) bool { return p.Levels[i].Index < p.Levels[j].Index })

	if p.Convention, err = detectConvention(ms.Metadata.Kwargs.Convention, p); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeMultiscales(attrs zarr.Attributes) (*Multiscale, error) {
	raw, ok := attrs["multiscales"]
	if !ok {
		return nil, ErrNoMultiscales
	}
	d, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var ms []Multiscale
	if err := json.Unmarshal(d, &ms); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoMultiscales, err)
	}
	if len(ms) == 0 || len(ms[0].Datasets) == 0 {
		return nil, fmt.Errorf("%w: no datasets", ErrNoMultiscales)
	}
	return &ms[0], nil
}

// detectConvention falls back to the level CRS for stores that do not record
// their convention
func detectConvention(name string, p *Pyramid) (Convention, error) {
	if name != "" {
		return ParseConvention(name)
	}
	if len(p.Levels) > 0 && p.Levels[0].Dataset.CRS.Code == raster.EPSG3857 {
		return WebMercator, nil
	}
	return Coarsen, nil
}

func openLevel(root *zarr.Group, d MultiscaleDataset, arrays []string) (*Level, error) {
	idx, err := strconv.Atoi(d.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: level path %q is not an index", ErrNoMultiscales, d.Path)
	}
	code := d.CRS
	if code == "" {
		code = raster.EPSG3857
	}
	crs, err := raster.ParseCRS(code)
	if err != nil {
		return nil, fmt.Errorf("level %d: %w", idx, err)
	}

	g, err := root.OpenGroup(d.Path)
	if err != nil {
		return nil, &StorageError{Op: "open group", Path: d.Path, Err: err}
	}
	x, err := readFloats(g, "x")
	if err != nil {
		return nil, err
	}
	y, err := readFloats(g, "y")
	if err != nil {
		return nil, err
	}

	ds := raster.NewDataset(x, y)
	ds.CRS = crs
	for _, name := range childArrays(arrays, d.Path) {
		if reserved(name) {
			continue
		}
		a, err := g.OpenArray(name)
		if err != nil {
			return nil, &StorageError{Op: "open array", Path: d.Path + "/" + name, Err: err}
		}
		attrs, err := a.Attrs()
		if err != nil {
			return nil, &StorageError{Op: "read attributes", Path: a.Path(), Err: err}
		}
		if !isGridVariable(attrs) {
			continue
		}
		data, err := a.ReadFloat64s()
		if err != nil {
			return nil, &StorageError{Op: "read array", Path: a.Path(), Err: err}
		}
		v, err := ds.AddVar(name, data)
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", idx, err)
		}
		for k, val := range attrs {
			switch k {
			case "_ARRAY_DIMENSIONS", "grid_mapping", "valid_min", "valid_max":
				continue
			}
			v.Attrs[k] = val
		}
	}
	return &Level{Index: idx, Dataset: ds}, nil
}

func readFloats(g *zarr.Group, name string) ([]float64, error) {
	a, err := g.OpenArray(name)
	if err != nil {
		return nil, &StorageError{Op: "open array", Path: g.Path() + "/" + name, Err: err}
	}
	v, err := a.ReadFloat64s()
	if err != nil {
		return nil, &StorageError{Op: "read array", Path: a.Path(), Err: err}
	}
	return v, nil
}

// isGridVariable reports whether attrs describe a (y, x) array
func isGridVariable(attrs zarr.Attributes) bool {
	dims, ok := attrs["_ARRAY_DIMENSIONS"].([]interface{})
	return ok && len(dims) == 2 && dims[0] == "y" && dims[1] == "x"
}

// listArrays walks store for array metadata keys
func listArrays(store zarr.Store) ([]string, error) {
	keys, err := store.List("")
	if err != nil {
		return nil, err
	}
	var arrays []string
	for _, k := range keys {
		if k == string(zarr.MTArray) {
			arrays = append(arrays, "")
			continue
		}
		if strings.HasSuffix(k, "/"+string(zarr.MTArray)) {
			arrays = append(arrays, strings.TrimSuffix(k, "/"+string(zarr.MTArray)))
		}
	}
	sort.Strings(arrays)
	return arrays, nil
}

// childArrays returns the names of arrays directly below group
func childArrays(arrays []string, group string) []string {
	var names []string
	for _, a := range arrays {
		name := strings.TrimPrefix(a, group+"/")
		if name == a || name == "" || strings.Contains(name, "/") {
			continue
		}
		names = append(names, name)
	}
	return names
}
