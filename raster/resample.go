package raster

import (
	"fmt"
	"math"
	"strings"
)

// Resampling names the kernel used to compute values between source samples
type Resampling string

const (
	Nearest  Resampling = "nearest"
	Bilinear Resampling = "bilinear"
)

func ParseResampling(s string) (Resampling, error) {
	switch r := Resampling(strings.ToLower(strings.TrimSpace(s))); r {
	case Nearest, Bilinear:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedResampling, s)
}

// sampler reads values of a dataset at arbitrary source coordinates.
// Coordinates within half a cell of the outermost samples clamp to the edge,
// coordinates further out read as the fill value. With wrapX set the x axis
// is periodic.
type sampler struct {
	xa, ya axis
	wrapX  bool
	fill   float64
}

func newSampler(ds *Dataset) (*sampler, error) {
	xa, err := newAxis("x", ds.X)
	if err != nil {
		return nil, err
	}
	ya, err := newAxis("y", ds.Y)
	if err != nil {
		return nil, err
	}
	s := &sampler{xa: xa, ya: ya, fill: math.NaN()}
	// global longitude coverage wraps across the antimeridian
	if ds.CRS != nil && ds.CRS.Geographic() && math.Abs(xa.span()-360) < 1e-9*360 {
		s.wrapX = true
	}
	return s, nil
}

// location resolves a coordinate pair to the surrounding sample indices and
// the fractional offsets between them. ok is false outside the grid.
type location struct {
	x0, x1, y0, y1 int
	tx, ty         float64
}

func (s *sampler) locate(x, y float64) (loc location, ok bool) {
	fx := s.xa.index(x)
	fy := s.ya.index(y)
	if math.IsNaN(fx) || math.IsNaN(fy) {
		return loc, false
	}

	if s.wrapX {
		n := float64(s.xa.n)
		fx = math.Mod(fx, n)
		if fx < 0 {
			fx += n
		}
		loc.x0 = int(math.Floor(fx))
		loc.tx = fx - float64(loc.x0)
		if loc.x0 >= s.xa.n {
			loc.x0 = s.xa.n - 1
		}
		loc.x1 = (loc.x0 + 1) % s.xa.n
	} else {
		var inside bool
		loc.x0, loc.x1, loc.tx, inside = clampIndex(fx, s.xa.n)
		if !inside {
			return loc, false
		}
	}

	var inside bool
	loc.y0, loc.y1, loc.ty, inside = clampIndex(fy, s.ya.n)
	if !inside {
		return loc, false
	}
	return loc, true
}

func clampIndex(f float64, n int) (i0, i1 int, t float64, inside bool) {
	if f < -0.5 || f > float64(n)-0.5 {
		return 0, 0, 0, false
	}
	f = math.Max(0, math.Min(f, float64(n-1)))
	i0 = int(math.Floor(f))
	if i0 >= n-1 {
		return n - 1, n - 1, 0, true
	}
	return i0, i0 + 1, f - float64(i0), true
}

// value computes the resampled value of a row-major variable at loc
func (s *sampler) value(data []float64, loc location, method Resampling) float64 {
	nx := s.xa.n
	if method == Nearest {
		i, j := loc.y0, loc.x0
		if loc.ty >= 0.5 {
			i = loc.y1
		}
		if loc.tx >= 0.5 {
			j = loc.x1
		}
		return data[i*nx+j]
	}

	v00 := data[loc.y0*nx+loc.x0]
	v01 := data[loc.y0*nx+loc.x1]
	v10 := data[loc.y1*nx+loc.x0]
	v11 := data[loc.y1*nx+loc.x1]
	top := v00*(1-loc.tx) + v01*loc.tx
	bottom := v10*(1-loc.tx) + v11*loc.tx
	return top*(1-loc.ty) + bottom*loc.ty
}
