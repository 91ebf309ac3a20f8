package raster

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// GridSpec describes a target grid by the cell center coordinates of its
// columns (X) and rows (Y)
type GridSpec struct {
	CRS *CRS
	X   []float64
	Y   []float64
}

func (g GridSpec) Shape() (ny, nx int) {
	return len(g.Y), len(g.X)
}

// Reprojector resamples datasets onto other grids
type Reprojector struct {
	Resampling Resampling
	// Workers bounds the number of row bands computed at once. Zero uses
	// GOMAXPROCS.
	Workers int
}

// Reproject computes every variable of src on the target grid. Target cells
// whose source location falls outside src are NaN.
func (r Reprojector) Reproject(ctx context.Context, src *Dataset, dst GridSpec) (*Dataset, error) {
	method, err := ParseResampling(string(r.Resampling))
	if err != nil {
		return nil, err
	}
	if src.CRS == nil || dst.CRS == nil {
		return nil, ErrMissingCRS
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}
	ny, nx := dst.Shape()
	if ny == 0 || nx == 0 {
		return nil, fmt.Errorf("%w: target grid is %dx%d", ErrDegenerateGrid, ny, nx)
	}

	smp, err := newSampler(src)
	if err != nil {
		return nil, err
	}
	toSrc, err := dst.CRS.TransformTo(src.CRS)
	if err != nil {
		return nil, err
	}

	out := NewDataset(append([]float64(nil), dst.X...), append([]float64(nil), dst.Y...))
	out.CRS = dst.CRS
	for k, v := range src.Attrs {
		out.Attrs[k] = v
	}
	for _, v := range src.Vars {
		nv := &Variable{Name: v.Name, Data: make([]float64, nx*ny), Attrs: map[string]interface{}{}}
		for k, a := range v.Attrs {
			nv.Attrs[k] = a
		}
		out.Vars = append(out.Vars, nv)
	}

	workers := r.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	band := (ny + workers - 1) / workers

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < ny; lo += band {
		lo, hi := lo, lo+band
		if hi > ny {
			hi = ny
		}
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				for j := 0; j < nx; j++ {
					idx := i*nx + j
					sx, sy, err := toSrc(dst.X[j], dst.Y[i])
					loc, ok := smp.locate(sx, sy)
					for k, v := range src.Vars {
						if err != nil || !ok {
							out.Vars[k].Data[idx] = smp.fill
							continue
						}
						out.Vars[k].Data[idx] = smp.value(v.Data, loc, method)
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
