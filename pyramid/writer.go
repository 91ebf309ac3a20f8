package pyramid

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	zarr "github.com/zarrgl/zarr-go"
	"github.com/zarrgl/zarr-go/raster"
)

const (
	// SpatialRef is the scalar variable carrying the CRS of each level
	SpatialRef = "spatial_ref"
	// multiscales type written to the root attributes
	multiscalesType    = "reduce"
	multiscalesMethod  = "reproject"
	multiscalesVersion = "1"
)

// StorageError reports a failed store operation while writing or reading a
// pyramid
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

type WriteOptions struct {
	// Mode is one of "w" (default), "w-" or "a"
	Mode zarr.PersistenceMode
	// Consolidated writes a .zmetadata document at the root
	Consolidated bool
	// Compressor is a codec id ("zstd", "gzip"), empty for none
	Compressor string
	// Chunks is the chunk edge length of data variables, defaulting to the
	// pyramid's pixels per tile
	Chunks int
	Log    logrus.FieldLogger
}

// Multiscale describes the levels of a pyramid in the root group attributes
type Multiscale struct {
	Datasets []MultiscaleDataset `json:"datasets"`
	Metadata MultiscaleMetadata  `json:"metadata"`
	Type     string              `json:"type"`
}

type MultiscaleDataset struct {
	Path          string `json:"path"`
	PixelsPerTile int    `json:"pixels_per_tile"`
	CRS           string `json:"crs"`
}

type MultiscaleMetadata struct {
	Method  string           `json:"method"`
	Version string           `json:"version"`
	Kwargs  MultiscaleKwargs `json:"kwargs"`
}

type MultiscaleKwargs struct {
	Levels     int    `json:"levels"`
	Resampling string `json:"resampling"`
	Convention string `json:"convention"`
}

// Multiscale returns the root attribute entry describing p
func (p *Pyramid) Multiscale() Multiscale {
	m := Multiscale{
		Type: multiscalesType,
		Metadata: MultiscaleMetadata{
			Method:  multiscalesMethod,
			Version: multiscalesVersion,
			Kwargs: MultiscaleKwargs{
				Levels:     len(p.Levels),
				Resampling: string(p.Resampling),
				Convention: string(p.Convention),
			},
		},
	}
	for _, l := range p.Levels {
		m.Datasets = append(m.Datasets, MultiscaleDataset{
			Path:          l.Path(),
			PixelsPerTile: p.PixelsPerTile,
			CRS:           crsCode(l.Dataset),
		})
	}
	return m
}

// Write persists p to store. The root group holds the multiscales
// attributes, each level is a group named by its index holding the data
// variables, the x and y coordinates and the spatial_ref variable.
func Write(ctx context.Context, store zarr.Store, p *Pyramid, opts WriteOptions) error {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	mode := opts.Mode
	if mode == "" {
		mode = zarr.ModeWrite
	}
	switch mode {
	case zarr.ModeWrite, zarr.ModeWriteFail, zarr.ModeReadWriteCreate:
	case zarr.ModeRead, zarr.ModeReadWrite:
		return fmt.Errorf("writing pyramid: mode %q: %w", mode, zarr.ErrReadOnly)
	default:
		return fmt.Errorf("writing pyramid: unsupported persistence mode %q", mode)
	}
	compressor, err := zarr.NewCompressionMeta(opts.Compressor)
	if err != nil {
		return err
	}
	for _, l := range p.Levels {
		if l.Dataset == nil || l.Dataset.CRS == nil {
			return fmt.Errorf("level %d: %w", l.Index, raster.ErrMissingCRS)
		}
	}
	store = zarr.BindContext(ctx, store)

	chunk := opts.Chunks
	if chunk <= 0 {
		chunk = p.PixelsPerTile
	}
	if chunk <= 0 {
		chunk = DefaultPixelsPerTile
	}

	root, err := zarr.CreateGroup(store, "", mode)
	if err != nil {
		return &StorageError{Op: "create group", Path: "/", Err: err}
	}
	if err := root.SetAttrs(zarr.Attributes{"multiscales": []Multiscale{p.Multiscale()}}); err != nil {
		return &StorageError{Op: "write attributes", Path: "/", Err: err}
	}

	w := &levelWriter{compressor: compressor, chunk: chunk, log: log}
	for _, l := range p.Levels {
		if err := ctx.Err(); err != nil {
			return err
		}
		g, err := root.CreateGroup(l.Path())
		if err != nil {
			return &StorageError{Op: "create group", Path: l.Path(), Err: err}
		}
		if err := w.write(ctx, g, l.Dataset); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"level": l.Index,
			"store": store.Type(),
		}).Debug("wrote pyramid level")
	}

	if opts.Consolidated {
		if _, err := zarr.ConsolidateMetadata(store, ""); err != nil {
			return &StorageError{Op: "consolidate metadata", Path: "/", Err: err}
		}
	}
	log.WithFields(logrus.Fields{
		"levels":       len(p.Levels),
		"mode":         mode,
		"consolidated": opts.Consolidated,
		"store":        store.Type(),
	}).Info("wrote pyramid")
	return nil
}

type levelWriter struct {
	compressor *zarr.CompressionMeta
	chunk      int
	log        logrus.FieldLogger
}

func (w *levelWriter) write(ctx context.Context, g *zarr.Group, ds *raster.Dataset) error {
	for _, v := range ds.Vars {
		if reserved(v.Name) {
			return fmt.Errorf("variable name %q is reserved", v.Name)
		}
	}
	ny, nx := ds.Shape()
	geographic := ds.CRS.Geographic()

	if err := w.array(g, "x", []int{nx}, []int{nx}, ds.X, coordAttrs("x", geographic)); err != nil {
		return err
	}
	if err := w.array(g, "y", []int{ny}, []int{ny}, ds.Y, coordAttrs("y", geographic)); err != nil {
		return err
	}
	if err := w.spatialRef(g, ds); err != nil {
		return err
	}

	chunks := []int{minInt(w.chunk, ny), minInt(w.chunk, nx)}
	for _, v := range ds.Vars {
		if err := ctx.Err(); err != nil {
			return err
		}
		attrs := zarr.Attributes{}
		for k, a := range v.Attrs {
			attrs[k] = a
		}
		attrs["_ARRAY_DIMENSIONS"] = []string{"y", "x"}
		attrs["grid_mapping"] = SpatialRef
		if lo, hi, ok := v.Range(); ok {
			attrs["valid_min"] = lo
			attrs["valid_max"] = hi
		}
		if err := w.array(g, v.Name, []int{ny, nx}, chunks, v.Data, attrs); err != nil {
			return err
		}
	}
	return nil
}

func (w *levelWriter) array(g *zarr.Group, name string, shape, chunks []int, data []float64, attrs zarr.Attributes) error {
	meta := &zarr.ArrayMeta{
		ZarrFormat: zarr.ZarrFormat,
		Shape:      shape,
		Chunks:     chunks,
		Dtype:      zarr.BasicStructuredType(zarr.MustDtype("<f8")),
		Compressor: w.compressor,
		FillValue:  zarr.FloatFillValue(math.NaN()),
		Order:      "C",
	}
	return w.put(g, name, meta, data, attrs)
}

// spatialRef writes the CF grid mapping variable
func (w *levelWriter) spatialRef(g *zarr.Group, ds *raster.Dataset) error {
	attrs := zarr.Attributes{
		"proj4":             ds.CRS.Proj4,
		"crs":               ds.CRS.String(),
		"_ARRAY_DIMENSIONS": []string{},
	}
	if ds.CRS.GridMapping != "" {
		attrs["grid_mapping_name"] = ds.CRS.GridMapping
	}
	if ds.CRS.WKT != "" {
		attrs["crs_wkt"] = ds.CRS.WKT
		attrs["spatial_ref"] = ds.CRS.WKT
	}
	if gt, err := geoTransform(ds); err == nil {
		attrs["GeoTransform"] = gt
	}

	meta := &zarr.ArrayMeta{
		ZarrFormat: zarr.ZarrFormat,
		Shape:      []int{},
		Chunks:     []int{},
		Dtype:      zarr.BasicStructuredType(zarr.MustDtype("<i8")),
		Compressor: w.compressor,
		FillValue:  0,
		Order:      "C",
	}
	return w.put(g, SpatialRef, meta, []int64{0}, attrs)
}

func (w *levelWriter) put(g *zarr.Group, name string, meta *zarr.ArrayMeta, data interface{}, attrs zarr.Attributes) error {
	path := g.Path() + "/" + name
	a, err := g.CreateArray(name, meta)
	if err != nil {
		return &StorageError{Op: "create array", Path: path, Err: err}
	}
	if err := a.Write(data); err != nil {
		return &StorageError{Op: "write array", Path: path, Err: err}
	}
	if err := a.SetAttrs(attrs); err != nil {
		return &StorageError{Op: "write attributes", Path: path, Err: err}
	}
	w.log.WithFields(logrus.Fields{
		"array":  path,
		"shape":  a.Shape(),
		"chunks": a.Meta().Chunks,
	}).Debug("wrote array")
	return nil
}

// geoTransform is the GDAL affine transform of the grid's cell edges
func geoTransform(ds *raster.Dataset) (string, error) {
	dx, dy, err := ds.Resolution()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%v %v 0 %v 0 %v", ds.X[0]-dx/2, dx, ds.Y[0]-dy/2, dy), nil
}

func coordAttrs(dim string, geographic bool) zarr.Attributes {
	attrs := zarr.Attributes{
		"_ARRAY_DIMENSIONS": []string{dim},
		"axis":              strings.ToUpper(dim),
	}
	switch {
	case geographic && dim == "x":
		attrs["units"] = "degrees_east"
		attrs["standard_name"] = "longitude"
		attrs["long_name"] = "longitude"
	case geographic:
		attrs["units"] = "degrees_north"
		attrs["standard_name"] = "latitude"
		attrs["long_name"] = "latitude"
	default:
		attrs["units"] = "metre"
		attrs["standard_name"] = "projection_" + dim + "_coordinate"
		attrs["long_name"] = dim + " coordinate of projection"
	}
	return attrs
}

func crsCode(ds *raster.Dataset) string {
	if ds == nil || ds.CRS == nil {
		return ""
	}
	return ds.CRS.String()
}

// reserved names are used by the coordinate and grid mapping arrays
func reserved(name string) bool {
	return name == "x" || name == "y" || name == SpatialRef
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
