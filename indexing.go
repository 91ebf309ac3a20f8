package zarr

import (
	"fmt"
	"strconv"
	"strings"
)

// ChunkKey generates the store key of a chunk from its grid indices, joined
// by sep. Zero-dimensional arrays have a single chunk keyed "0".
func ChunkKey(indices []int, sep string) string {
	if len(indices) == 0 {
		return "0"
	}
	if len(indices) == 1 {
		return strconv.Itoa(indices[0])
	}

	var sb strings.Builder
	for i, idx := range indices {
		if i > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(strconv.Itoa(idx))
	}
	return sb.String()
}

// A contiguous run of items shared by a chunk and the full (output) array,
// offsets counted in items from the start of each.
type run struct {
	ChunkOffset int
	OutOffset   int
	Len         int
}

// A mapping of items from chunk to output array. Can be used to extract items
// from the chunk array for loading into an output array. Can also be used to
// extract items from a value array for setting/updating in a chunk array.
type chunkProjection struct {
	// Indices of chunk
	ChunkCoords []int
	// Runs of items covered by the chunk, in C order
	Runs []run
}

// chunkGrid tiles an array shape with fixed size chunks
type chunkGrid struct {
	shape  []int
	chunks []int
	// number of chunks along each dimension
	cdata []int
}

func newChunkGrid(shape, chunks []int) (*chunkGrid, error) {
	if len(shape) != len(chunks) {
		return nil, fmt.Errorf("shape %v and chunks %v differ in dimensionality", shape, chunks)
	}
	g := &chunkGrid{shape: shape, chunks: chunks, cdata: make([]int, len(shape))}
	for i := range shape {
		if chunks[i] <= 0 {
			return nil, fmt.Errorf("invalid chunk length %d", chunks[i])
		}
		g.cdata[i] = (shape[i] + chunks[i] - 1) / chunks[i]
	}
	return g, nil
}

func (g *chunkGrid) checkCoords(coords []int) error {
	if len(coords) != len(g.cdata) {
		return fmt.Errorf("%w: %v has %d dimensions, want %d", ErrChunkOutOfRange, coords, len(coords), len(g.cdata))
	}
	for i, c := range coords {
		if c < 0 || c >= g.cdata[i] {
			return fmt.Errorf("%w: %v, grid is %v", ErrChunkOutOfRange, coords, g.cdata)
		}
	}
	return nil
}

// chunkLen is the number of items stored in every chunk, edge chunks included
func (g *chunkGrid) chunkLen() int {
	return product(g.chunks)
}

// projections lists every chunk of the grid with the runs it covers. Arrays
// with a zero length dimension have no chunks.
func (g *chunkGrid) projections() []chunkProjection {
	if len(g.shape) == 0 {
		return []chunkProjection{{ChunkCoords: []int{}, Runs: []run{{0, 0, 1}}}}
	}
	if product(g.shape) == 0 {
		return nil
	}

	var out []chunkProjection
	coords := make([]int, len(g.shape))
	for {
		out = append(out, g.project(coords))
		if !nextIndex(coords, g.cdata) {
			break
		}
	}
	return out
}

func (g *chunkGrid) project(coords []int) chunkProjection {
	nd := len(g.shape)
	start := make([]int, nd)
	extent := make([]int, nd)
	for d := 0; d < nd; d++ {
		start[d] = coords[d] * g.chunks[d]
		extent[d] = g.chunks[d]
		if rem := g.shape[d] - start[d]; rem < extent[d] {
			extent[d] = rem
		}
	}

	proj := chunkProjection{ChunkCoords: append([]int(nil), coords...)}
	// iterate the outer dimensions, the last one is copied as a single run
	local := make([]int, nd)
	outer := extent[:nd-1]
	for {
		chunkOff, outOff := 0, 0
		for d := 0; d < nd; d++ {
			chunkOff = chunkOff*g.chunks[d] + local[d]
			outOff = outOff*g.shape[d] + start[d] + local[d]
		}
		proj.Runs = append(proj.Runs, run{ChunkOffset: chunkOff, OutOffset: outOff, Len: extent[nd-1]})
		if !nextIndex(local[:nd-1], outer) {
			break
		}
	}
	return proj
}

// nextIndex advances idx like an odometer bounded by limits, reporting false
// once every index has been visited
func nextIndex(idx, limits []int) bool {
	for d := len(idx) - 1; d >= 0; d-- {
		idx[d]++
		if idx[d] < limits[d] {
			return true
		}
		idx[d] = 0
	}
	return false
}
