package raster

import "math"

const (
	// BaseVariable is the name of the synthetic base grid's variable
	BaseVariable = "my_array"
	// BaseResolution is the synthetic base grid's cell size in degrees
	BaseResolution = 0.25
)

// NewBaseGrid builds the global quarter degree grid with
// cell(y, x) = |y| + |x| + 1. Longitudes run over [-180, 180) and latitudes
// over [-90, 90], so the grid holds 721 rows and 1440 columns. The dataset
// has no CRS.
func NewBaseGrid() *Dataset {
	x := Arange(-180, 180, BaseResolution)
	y := Arange(-90, 90+BaseResolution, BaseResolution)
	return Synthesize(x, y, BaseVariable, func(y, x float64) float64 {
		return math.Abs(y) + math.Abs(x) + 1
	})
}

// Synthesize builds a single variable dataset by evaluating f at every
// (y, x) coordinate pair
func Synthesize(x, y []float64, name string, f func(y, x float64) float64) *Dataset {
	ds := NewDataset(x, y)
	data := make([]float64, len(x)*len(y))
	for i, yv := range y {
		row := data[i*len(x) : (i+1)*len(x)]
		for j, xv := range x {
			row[j] = f(yv, xv)
		}
	}
	ds.Vars = append(ds.Vars, &Variable{Name: name, Data: data, Attrs: map[string]interface{}{}})
	return ds
}
