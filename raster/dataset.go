// Package raster holds dense 2-D gridded datasets tagged with a coordinate
// reference system, and reprojects them between grids.
package raster

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/floats"
)

var (
	// ErrInvalidCRS is returned for malformed or unsupported CRS identifiers
	ErrInvalidCRS = errors.New("invalid CRS")
	// ErrMissingCRS is returned when an operation needs a CRS that was never set
	ErrMissingCRS = errors.New("missing CRS")
	// ErrDegenerateGrid is returned for grids that cannot be sampled
	ErrDegenerateGrid = errors.New("degenerate grid")
	// ErrUnsupportedResampling is returned for unknown resampling method names
	ErrUnsupportedResampling = errors.New("unsupported resampling method")
)

// Dataset is a set of variables sharing the same y (row) and x (column)
// coordinates. Variable data is row-major: the value at row i, column j is
// Data[i*len(X)+j].
type Dataset struct {
	X     []float64
	Y     []float64
	CRS   *CRS
	Vars  []*Variable
	Attrs map[string]interface{}
}

type Variable struct {
	Name  string
	Data  []float64
	Attrs map[string]interface{}
}

func NewDataset(x, y []float64) *Dataset {
	return &Dataset{
		X:     x,
		Y:     y,
		Attrs: map[string]interface{}{},
	}
}

// Shape is the number of rows and columns of the dataset
func (ds *Dataset) Shape() (ny, nx int) {
	return len(ds.Y), len(ds.X)
}

// AddVar appends a variable. data must hold one value per grid cell.
func (ds *Dataset) AddVar(name string, data []float64) (*Variable, error) {
	if ds.Var(name) != nil {
		return nil, fmt.Errorf("variable %q already exists", name)
	}
	if n := len(ds.X) * len(ds.Y); len(data) != n {
		return nil, fmt.Errorf("variable %q: got %d values for a %dx%d grid", name, len(data), len(ds.Y), len(ds.X))
	}
	v := &Variable{Name: name, Data: data, Attrs: map[string]interface{}{}}
	ds.Vars = append(ds.Vars, v)
	return v, nil
}

// Var returns the named variable, or nil
func (ds *Dataset) Var(name string) *Variable {
	for _, v := range ds.Vars {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// At returns the value of the variable at row i, column j
func (ds *Dataset) At(v *Variable, i, j int) float64 {
	return v.Data[i*len(ds.X)+j]
}

// WriteCRS parses code and tags the dataset with it
func (ds *Dataset) WriteCRS(code string) error {
	crs, err := ParseCRS(code)
	if err != nil {
		return err
	}
	ds.CRS = crs
	return nil
}

// Validate checks the dataset is a regular, sampleable grid
func (ds *Dataset) Validate() error {
	if _, err := newAxis("x", ds.X); err != nil {
		return err
	}
	if _, err := newAxis("y", ds.Y); err != nil {
		return err
	}
	n := len(ds.X) * len(ds.Y)
	for _, v := range ds.Vars {
		if len(v.Data) != n {
			return fmt.Errorf("variable %q: got %d values for a %dx%d grid", v.Name, len(v.Data), len(ds.Y), len(ds.X))
		}
	}
	return nil
}

// Resolution is the coordinate step of each axis. y steps are negative for
// north-up grids.
func (ds *Dataset) Resolution() (dx, dy float64, err error) {
	xa, err := newAxis("x", ds.X)
	if err != nil {
		return 0, 0, err
	}
	ya, err := newAxis("y", ds.Y)
	if err != nil {
		return 0, 0, err
	}
	return xa.step, ya.step, nil
}

// Extent is the bounding box of the grid's cell edges, with coordinates
// treated as cell centers
func (ds *Dataset) Extent() (orb.Bound, error) {
	xa, err := newAxis("x", ds.X)
	if err != nil {
		return orb.Bound{}, err
	}
	ya, err := newAxis("y", ds.Y)
	if err != nil {
		return orb.Bound{}, err
	}
	xmin, xmax := xa.edges()
	ymin, ymax := ya.edges()
	return orb.Bound{Min: orb.Point{xmin, ymin}, Max: orb.Point{xmax, ymax}}, nil
}

// Range returns the smallest and largest non-NaN value of v. ok is false
// when every value is NaN.
func (v *Variable) Range() (min, max float64, ok bool) {
	valid := make([]float64, 0, len(v.Data))
	for _, f := range v.Data {
		if !math.IsNaN(f) {
			valid = append(valid, f)
		}
	}
	if len(valid) == 0 {
		return 0, 0, false
	}
	return floats.Min(valid), floats.Max(valid), true
}

// Arange returns evenly spaced values in the half-open interval
// [start, stop), like numpy.arange. Values are computed from their index so
// rounding does not accumulate.
func Arange(start, stop, step float64) []float64 {
	if step == 0 {
		return nil
	}
	n := int(math.Ceil((stop - start) / step))
	if n <= 0 {
		return nil
	}
	return Span(start, step, n)
}

// Span returns n values starting at start, step apart
func Span(start, step float64, n int) []float64 {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []float64{start}
	}
	return floats.Span(make([]float64, n), start, start+float64(n-1)*step)
}

// axis describes a regularly spaced coordinate array
type axis struct {
	start float64
	step  float64
	n     int
}

// relative tolerance for irregular spacing
const spacingTolerance = 1e-6

func newAxis(name string, v []float64) (axis, error) {
	if len(v) < 2 {
		return axis{}, fmt.Errorf("%w: %s axis has %d samples, need at least 2", ErrDegenerateGrid, name, len(v))
	}
	step := (v[len(v)-1] - v[0]) / float64(len(v)-1)
	if step == 0 || math.IsNaN(step) || math.IsInf(step, 0) {
		return axis{}, fmt.Errorf("%w: %s axis has no extent", ErrDegenerateGrid, name)
	}
	for i := 1; i < len(v); i++ {
		if d := v[i] - v[i-1]; math.Abs(d-step) > spacingTolerance*math.Abs(step) {
			return axis{}, fmt.Errorf("%w: %s axis is not regularly spaced at index %d", ErrDegenerateGrid, name, i)
		}
	}
	return axis{start: v[0], step: step, n: len(v)}, nil
}

// index maps a coordinate to a fractional sample index
func (a axis) index(c float64) float64 {
	return (c - a.start) / a.step
}

// edges returns the low and high cell edges of the axis
func (a axis) edges() (lo, hi float64) {
	first := a.start - a.step/2
	last := a.start + a.step*(float64(a.n)-0.5)
	if first > last {
		return last, first
	}
	return first, last
}

// span is the absolute width covered by the axis' cells
func (a axis) span() float64 {
	return math.Abs(a.step) * float64(a.n)
}
