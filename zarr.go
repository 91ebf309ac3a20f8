package zarr

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"strings"
)

const (
	// ZarrFormat is the version of the storage specification this library
	// reads and writes.
	ZarrFormat = 2
	// ConsolidatedFormat is the version of the consolidated metadata document.
	ConsolidatedFormat = 1
)

var (
	// ErrReadOnly is returned when writing through a handle opened in mode "r"
	ErrReadOnly = errors.New("read only")
	// ErrContainsArray is returned when an array already exists at a path
	ErrContainsArray = errors.New("path contains an array")
	// ErrContainsGroup is returned when a group already exists at a path
	ErrContainsGroup = errors.New("path contains a group")
	// ErrInvalidPath is returned for logical paths that cannot be normalized
	ErrInvalidPath = errors.New("invalid path")
	// ErrChunkOutOfRange is returned for chunk coordinates outside the chunk
	// grid of an array
	ErrChunkOutOfRange = errors.New("chunk out of range")
)

type Array struct {
	path  Path
	store Store
	mode  PersistenceMode
	meta  *ArrayMeta
}

// Create allocates an array described by m in a fresh MemoryStore
func Create(m *ArrayMeta) (*Array, error) {
	return CreateArray(NewMemoryStore(), "", m, ModeWrite)
}

// CreateArray writes array metadata at path, honoring mode:
// "w" erases anything stored under path first, "w-" fails if path already
// holds an array or group, "a" opens an existing array and creates it
// otherwise. Read modes cannot create arrays.
func CreateArray(store Store, path string, m *ArrayMeta, mode PersistenceMode) (*Array, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	switch mode {
	case ModeRead:
		return nil, fmt.Errorf("creating array %q: %w", p, ErrReadOnly)
	case ModeReadWrite:
		return nil, fmt.Errorf("creating array %q: mode %q requires an existing array", p, mode)
	case ModeWrite:
		if err := store.Delete(p.String()); err != nil {
			return nil, err
		}
	case ModeWriteFail:
		if err := checkPathFree(store, p); err != nil {
			return nil, err
		}
	case ModeReadWriteCreate:
		isArray, err := ContainsArray(store, p.String())
		if err != nil {
			return nil, err
		}
		if isArray {
			return Open(store, p.String(), mode)
		}
		isGroup, err := ContainsGroup(store, p.String())
		if err != nil {
			return nil, err
		}
		if isGroup {
			return nil, fmt.Errorf("%w: %q", ErrContainsGroup, p)
		}
	default:
		return nil, fmt.Errorf("unsupported persistence mode %q", mode)
	}

	if err := requireParentGroups(store, p); err != nil {
		return nil, err
	}

	if m.ZarrFormat == 0 {
		m.ZarrFormat = ZarrFormat
	}
	if m.Order == "" {
		m.Order = "C"
	}
	if err := putJSON(store, p.Key(string(MTArray)), m); err != nil {
		return nil, err
	}

	return &Array{
		path:  p,
		store: store,
		mode:  mode,
		meta:  m,
	}, nil
}

// Open reads the metadata of an existing array
func Open(store Store, path string, mode PersistenceMode) (*Array, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}

	a := &Array{
		path:  p,
		store: store,
		mode:  mode,
	}

	f, err := store.Get(p.Key(string(MTArray)))
	if err != nil {
		if errors.Is(err, ErrNotfound) {
			return nil, fmt.Errorf("%w: array %q", ErrNotfound, p)
		}
		return nil, err
	}
	defer f.Close()

	a.meta = &ArrayMeta{}
	if err := json.NewDecoder(f).Decode(a.meta); err != nil {
		return nil, fmt.Errorf("reading %q metadata: %w", p, err)
	}

	return a, nil
}

func (a *Array) Info() string {
	shape := make([]string, len(a.meta.Shape))
	for i, s := range a.meta.Shape {
		shape[i] = fmt.Sprintf("%d", s)
	}
	return fmt.Sprintf("<zarr.Array '/%s' (%s) %s>", a.path, strings.Join(shape, ", "), a.meta.Dtype.Dtype)
}

func (a *Array) Path() string {
	return a.path.String()
}

// Meta returns the array's metadata. Callers must not modify it.
func (a *Array) Meta() *ArrayMeta {
	return a.meta
}

// Shape is the length of each dimension of the array
func (a *Array) Shape() []int {
	return append([]int(nil), a.meta.Shape...)
}

// Size is the total number of items in the array
func (a *Array) Size() int {
	return product(a.meta.Shape)
}

// Attrs reads the array's user attributes. Arrays without a .zattrs key have
// an empty attribute set.
func (a *Array) Attrs() (Attributes, error) {
	return readAttrs(a.store, a.path)
}

// SetAttrs replaces the array's user attributes
func (a *Array) SetAttrs(attrs Attributes) error {
	if a.mode == ModeRead {
		return fmt.Errorf("setting attributes of %q: %w", a.path, ErrReadOnly)
	}
	return putJSON(a.store, a.path.Key(string(MTAttributes)), attrs)
}

// Write stores data as the full contents of the array. data must be a slice
// of the Go type matching the array's dtype with exactly Size() elements, in
// C order.
func (a *Array) Write(data interface{}) error {
	if a.mode == ModeRead {
		return fmt.Errorf("writing %q: %w", a.path, ErrReadOnly)
	}
	dt := a.meta.Dtype.Dtype
	if want, err := DtypeOf(data); err != nil {
		return err
	} else if want.BasicType != dt.BasicType || want.ByteSize != dt.ByteSize {
		return fmt.Errorf("writing %q: cannot store %T as %s", a.path, data, dt)
	}
	if n := sliceLen(data); n != a.Size() {
		return fmt.Errorf("writing %q: got %d items, array holds %d", a.path, n, a.Size())
	}

	buf := &bytes.Buffer{}
	buf.Grow(a.Size() * dt.ByteSize)
	if err := binary.Write(buf, dt.Order(), data); err != nil {
		return fmt.Errorf("encoding %q: %w", a.path, err)
	}
	flat := buf.Bytes()

	fill, err := a.meta.fillBytes()
	if err != nil {
		return err
	}

	grid, err := newChunkGrid(a.meta.Shape, a.meta.Chunks)
	if err != nil {
		return err
	}
	itemSize := dt.ByteSize
	chunk := make([]byte, grid.chunkLen()*itemSize)
	for _, proj := range grid.projections() {
		for i := 0; i < len(chunk); i += itemSize {
			copy(chunk[i:i+itemSize], fill)
		}
		for _, r := range proj.Runs {
			copy(chunk[r.ChunkOffset*itemSize:(r.ChunkOffset+r.Len)*itemSize], flat[r.OutOffset*itemSize:(r.OutOffset+r.Len)*itemSize])
		}
		if err := a.putChunk(proj.ChunkCoords, chunk); err != nil {
			return err
		}
	}

	return nil
}

// ReadAll decodes the full contents of the array into a slice of the Go type
// matching the array's dtype. Missing chunks read as the fill value.
func (a *Array) ReadAll() (interface{}, error) {
	dt := a.meta.Dtype.Dtype
	itemSize := dt.ByteSize
	size := a.Size()

	fill, err := a.meta.fillBytes()
	if err != nil {
		return nil, err
	}
	flat := make([]byte, size*itemSize)
	for i := 0; i < len(flat); i += itemSize {
		copy(flat[i:i+itemSize], fill)
	}

	grid, err := newChunkGrid(a.meta.Shape, a.meta.Chunks)
	if err != nil {
		return nil, err
	}
	chunkBytes := grid.chunkLen() * itemSize
	for _, proj := range grid.projections() {
		chunk, err := a.readChunk(proj.ChunkCoords)
		if errors.Is(err, ErrNotfound) {
			continue
		} else if err != nil {
			return nil, err
		}
		if len(chunk) != chunkBytes {
			return nil, fmt.Errorf("chunk %s of %q: got %d bytes, want %d", a.chunkKey(proj.ChunkCoords), a.path, len(chunk), chunkBytes)
		}
		for _, r := range proj.Runs {
			copy(flat[r.OutOffset*itemSize:(r.OutOffset+r.Len)*itemSize], chunk[r.ChunkOffset*itemSize:(r.ChunkOffset+r.Len)*itemSize])
		}
	}

	bo, fac := a.newValueFunc(size)
	v := fac()
	if err := binary.Read(bytes.NewReader(flat), bo, v); err != nil {
		return nil, fmt.Errorf("decoding %q: %w", a.path, err)
	}
	return v, nil
}

// ReadFloat64s reads a numeric array, converting values to float64
func (a *Array) ReadFloat64s() ([]float64, error) {
	v, err := a.ReadAll()
	if err != nil {
		return nil, err
	}
	return toFloat64s(v)
}

// ReadChunk decodes the single chunk at grid coordinates coords. The result
// holds every item of the chunk in C order, edge chunks included, so cells
// beyond the array's shape read as the fill value, as do missing chunks.
func (a *Array) ReadChunk(coords []int) (interface{}, error) {
	grid, err := newChunkGrid(a.meta.Shape, a.meta.Chunks)
	if err != nil {
		return nil, err
	}
	if err := grid.checkCoords(coords); err != nil {
		return nil, fmt.Errorf("reading chunk of %q: %w", a.path, err)
	}

	n := grid.chunkLen()
	itemSize := a.meta.Dtype.Dtype.ByteSize
	chunk, err := a.readChunk(coords)
	if errors.Is(err, ErrNotfound) {
		fill, err := a.meta.fillBytes()
		if err != nil {
			return nil, err
		}
		chunk = bytes.Repeat(fill, n)
	} else if err != nil {
		return nil, err
	}
	if len(chunk) != n*itemSize {
		return nil, fmt.Errorf("chunk %s of %q: got %d bytes, want %d", a.chunkKey(coords), a.path, len(chunk), n*itemSize)
	}

	bo, fac := a.newValueFunc(n)
	v := fac()
	if err := binary.Read(bytes.NewReader(chunk), bo, v); err != nil {
		return nil, fmt.Errorf("decoding %q: %w", a.path, err)
	}
	return v, nil
}

// ReadChunkFloat64s reads one chunk of a numeric array as float64 values
func (a *Array) ReadChunkFloat64s(coords []int) ([]float64, error) {
	v, err := a.ReadChunk(coords)
	if err != nil {
		return nil, err
	}
	return toFloat64s(v)
}

func (a *Array) newValueFunc(size int) (binary.ByteOrder, func() interface{}) {
	order := a.meta.Dtype.Dtype.Order()

	var factory func() interface{}
	switch a.meta.Dtype.Dtype.BasicType {
	case BTBoolean:
		factory = func() interface{} { return make([]bool, size) }
	case BTInteger:
		switch a.meta.Dtype.Dtype.ByteSize {
		case 1:
			factory = func() interface{} { return make([]int8, size) }
		case 2:
			factory = func() interface{} { return make([]int16, size) }
		case 4:
			factory = func() interface{} { return make([]int32, size) }
		default:
			factory = func() interface{} { return make([]int64, size) }
		}
	case BTUnsigned:
		switch a.meta.Dtype.Dtype.ByteSize {
		case 1:
			factory = func() interface{} { return make([]uint8, size) }
		case 2:
			factory = func() interface{} { return make([]uint16, size) }
		case 4:
			factory = func() interface{} { return make([]uint32, size) }
		default:
			factory = func() interface{} { return make([]uint64, size) }
		}
	case BTFloatingPoint:
		switch a.meta.Dtype.Dtype.ByteSize {
		case 4:
			factory = func() interface{} { return make([]float32, size) }
		default:
			factory = func() interface{} { return make([]float64, size) }
		}
	case BTComplex:
		switch a.meta.Dtype.Dtype.ByteSize {
		case 8:
			factory = func() interface{} { return make([]complex64, size) }
		default:
			factory = func() interface{} { return make([]complex128, size) }
		}
	// case BTTimedelta:
	// case BTDatetime:
	// case BTString:
	// case BTUnicode:
	// case BTOther:
	default:
		panic("unsupported decoding type")
	}

	return order, factory
}

func (a *Array) putChunk(ch []int, data []byte) error {
	buf := &bytes.Buffer{}
	w, err := a.meta.Compressor.Compressor(buf)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return a.store.Put(a.chunkPath(ch).String(), buf)
}

func (a *Array) readChunk(ch []int) ([]byte, error) {
	f, err := a.openChunk(ch)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ioutil.ReadAll(f)
}

func (a *Array) openChunk(ch []int) (io.ReadCloser, error) {
	f, err := a.store.Get(a.chunkPath(ch).String())
	if err != nil {
		return nil, err
	}
	return a.meta.Compressor.Decompressor(f)
}

func (a *Array) chunkKey(ch []int) string {
	sep := a.meta.DimensionSeparator
	if sep == "" {
		sep = "."
	}
	return ChunkKey(ch, sep)
}

func (a *Array) chunkPath(ch []int) Path {
	return a.path.Join(a.chunkKey(ch))
}

type PersistenceMode string

const (
	// Persistence mode:
	// ‘r’ means read only (must exist);
	ModeRead PersistenceMode = "r"
	//‘r+’ means read/write (must exist)
	ModeReadWrite PersistenceMode = "r+"
	// ‘a’ means read/write (create if doesn’t exist)
	ModeReadWriteCreate PersistenceMode = "a"
	// ‘w’ means create (overwrite if exists)
	ModeWrite PersistenceMode = "w"
	// ‘w-’ means create (fail if exists).
	ModeWriteFail PersistenceMode = "w-"
)

// ParsePersistenceMode checks s against the known modes
func ParsePersistenceMode(s string) (PersistenceMode, error) {
	switch m := PersistenceMode(s); m {
	case ModeRead, ModeReadWrite, ModeReadWriteCreate, ModeWrite, ModeWriteFail:
		return m, nil
	}
	return "", fmt.Errorf("unsupported persistence mode %q", s)
}

type Path []string

// NewPath normalizes a logical path so keys are consistent across storage
// systems:
// * Replace all backward slash characters (”\”) with forward slash characters (“/”)
// * Strip any leading “/” characters
// * Strip any trailing “/” characters
// * Collapse any sequence of more than one “/” character into a single “/” character
// The root path is empty. "." and ".." segments are rejected.
func NewPath(posix string) (Path, error) {
	s := strings.ReplaceAll(posix, `\`, "/")
	p := Path{}
	for _, seg := range strings.Split(s, "/") {
		switch seg {
		case "":
			continue
		case ".", "..":
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, posix)
		}
		p = append(p, seg)
	}
	return p, nil
}

func (p Path) String() string {
	return strings.Join(p, "/")
}

// Join returns a new path, p is never modified
func (p Path) Join(elems ...string) Path {
	out := make(Path, 0, len(p)+len(elems))
	out = append(out, p...)
	return append(out, elems...)
}

// Key returns the store key of name below p
func (p Path) Key(name string) string {
	return p.Join(name).String()
}

func product(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func toFloat64s(v interface{}) ([]float64, error) {
	switch x := v.(type) {
	case []float64:
		return x, nil
	case []float32:
		return convert(len(x), func(i int) float64 { return float64(x[i]) }), nil
	case []int8:
		return convert(len(x), func(i int) float64 { return float64(x[i]) }), nil
	case []int16:
		return convert(len(x), func(i int) float64 { return float64(x[i]) }), nil
	case []int32:
		return convert(len(x), func(i int) float64 { return float64(x[i]) }), nil
	case []int64:
		return convert(len(x), func(i int) float64 { return float64(x[i]) }), nil
	case []uint8:
		return convert(len(x), func(i int) float64 { return float64(x[i]) }), nil
	case []uint16:
		return convert(len(x), func(i int) float64 { return float64(x[i]) }), nil
	case []uint32:
		return convert(len(x), func(i int) float64 { return float64(x[i]) }), nil
	case []uint64:
		return convert(len(x), func(i int) float64 { return float64(x[i]) }), nil
	case []bool:
		return convert(len(x), func(i int) float64 {
			if x[i] {
				return 1
			}
			return 0
		}), nil
	}
	return nil, fmt.Errorf("cannot convert %T to float64", v)
}

func convert(n int, at func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = at(i)
	}
	return out
}

func sliceLen(v interface{}) int {
	switch x := v.(type) {
	case []bool:
		return len(x)
	case []int8:
		return len(x)
	case []int16:
		return len(x)
	case []int32:
		return len(x)
	case []int64:
		return len(x)
	case []uint8:
		return len(x)
	case []uint16:
		return len(x)
	case []uint32:
		return len(x)
	case []uint64:
		return len(x)
	case []float32:
		return len(x)
	case []float64:
		return len(x)
	case []complex64:
		return len(x)
	case []complex128:
		return len(x)
	}
	return -1
}
