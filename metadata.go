package zarr

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

type MetaType string

const (
	// MTAttributes stores userland metadata keyed by array name
	MTAttributes MetaType = ".zattrs"
	// MTArray is the key for storing metadata on an array store
	MTArray MetaType = ".zarray"
	// MTGroup is the key for storing group definitions on an array store
	MTGroup MetaType = ".zgroup"
	// MTMetadata is the key for composite metadata
	MTMetadata MetaType = ".zmetadata"
)

type MetaTyper interface {
	MetaType() MetaType
}

var metaTypes = map[MetaType]struct{}{
	MTAttributes: {},
	MTArray:      {},
	MTGroup:      {},
}

// relies on the fact that all keynames are 7 characters long
func KeyMetaType(s string) (mt MetaType, ok bool) {
	if len(s) < 7 {
		return mt, false
	}
	if len(s) > 7 && s[len(s)-8] != '/' {
		return mt, false
	}
	mt = MetaType(s[len(s)-7:])
	_, ok = metaTypes[mt]
	return mt, ok
}

type Attributes map[string]interface{}

func (Attributes) MetaType() MetaType { return MTAttributes }

// GroupMeta is stored under the “.zgroup” key of a group
type GroupMeta struct {
	ZarrFormat int `json:"zarr_format"`
}

func (GroupMeta) MetaType() MetaType { return MTGroup }

type ConsolidatedMetadata struct {
	ConsolidatedFormat int                  `json:"zarr_consolidated_format"`
	Metadata           map[string]MetaTyper `json:"metadata"`
}

type consolidatedMetaDecoder struct {
	ConsolidatedFormat int                        `json:"zarr_consolidated_format"`
	Metadata           map[string]json.RawMessage `json:"metadata"`
}

func (m *ConsolidatedMetadata) UnmarshalJSON(d []byte) error {
	cd := consolidatedMetaDecoder{}
	if err := json.Unmarshal(d, &cd); err != nil {
		return err
	}
	cm := ConsolidatedMetadata{
		ConsolidatedFormat: cd.ConsolidatedFormat,
		Metadata:           map[string]MetaTyper{},
	}

	for key, data := range cd.Metadata {
		kt, ok := KeyMetaType(key)
		if !ok {
			return fmt.Errorf("invalid consoldated metadata key: %q", key)
		}

		switch kt {
		case MTArray:
			arr := &ArrayMeta{}
			if err := json.Unmarshal(data, arr); err != nil {
				return fmt.Errorf("reading %q metadata: %w", key, err)
			}
			cm.Metadata[key] = arr
		case MTAttributes:
			attr := Attributes{}
			if err := json.Unmarshal(data, &attr); err != nil {
				return fmt.Errorf("reading %q attributes: %w", key, err)
			}
			cm.Metadata[key] = attr
		case MTGroup:
			grp := &GroupMeta{}
			if err := json.Unmarshal(data, grp); err != nil {
				return fmt.Errorf("reading %q group: %w", key, err)
			}
			cm.Metadata[key] = grp
		}
	}

	*m = cm
	return nil
}

// Arrays lists the logical paths of every array described by the document,
// sorted
func (m *ConsolidatedMetadata) Arrays() []string {
	return m.pathsOf(MTArray)
}

// Groups lists the logical paths of every group described by the document,
// sorted. The root group is the empty path.
func (m *ConsolidatedMetadata) Groups() []string {
	return m.pathsOf(MTGroup)
}

func (m *ConsolidatedMetadata) pathsOf(mt MetaType) []string {
	var paths []string
	for key := range m.Metadata {
		if kt, ok := KeyMetaType(key); ok && kt == mt {
			paths = append(paths, strings.TrimSuffix(strings.TrimSuffix(key, string(mt)), "/"))
		}
	}
	sort.Strings(paths)
	return paths
}

// Each array requires essential configuration metadata to be stored,
// enabling correct interpretation of the stored data.
// This metadata is encoded using JSON and stored as the value of the
// “.zarray” key within an array store.
type ArrayMeta struct {
	// An integer defining the version of the storage specification to which
	// the array store adheres.
	ZarrFormat int `json:"zarr_format"`
	// A list of integers defining the length of each dimension of the array.
	Shape []int `json:"shape"`
	// A list of integers defining the length of each dimension of a chunk of the
	// array. Note that all chunks within a Zarr array have the same shape.
	Chunks []int `json:"chunks"`
	// A string or list defining a valid data type for the array. See also the
	// subsection below on data type encoding.
	Dtype StructuredType `json:"dtype"`
	// A JSON object identifying the primary compression codec and providing
	// configuration parameters, or null if no compressor is to be used. The
	// object MUST contain an "id" key identifying the codec to be used.
	Compressor *CompressionMeta `json:"compressor"`

	// A scalar value providing the default value to use for uninitialized
	// portions of the array, or null if no fill_value is to be used.
	// If an array has a fixed length byte string data type (e.g., "|S12"), or a
	// structured data type, and if the fill value is not null, then the fill
	// value MUST be encoded as an ASCII string using the standard Base64
	// alphabet.
	FillValue interface{} `json:"fill_value"`
	// Either “C” or “F”, defining the layout of bytes within each chunk of the
	// array. “C” means row-major order, i.e., the last dimension varies fastest;
	// “F” means column-major order, i.e., the first dimension varies fastest.
	Order string `json:"order"`
	// A list of JSON objects providing codec configurations, or null if no
	// filters are to be applied. Each codec configuration object MUST contain a
	// "id" key identifying the codec to be used.
	Filters []Filter `json:"filters"`

	// optional fields

	// If present, either the string "." or "/"" definining the separator placed
	// between the dimensions of a chunk. If the value is not set, then the
	// default MUST be assumed to be ".", leading to chunk keys of the form “0.0”.
	// Arrays defined with "/" as the dimension separator can be considered to
	// have nested, or hierarchical, keys of the form “0/0” that SHOULD where
	// possible produce a directory-like structure.
	DimensionSeparator string `json:"dimension_separator,omitempty"`
}

func (a ArrayMeta) MetaType() MetaType { return MTArray }

// Validate checks the metadata describes an array this library can write
func (a *ArrayMeta) Validate() error {
	if len(a.Shape) != len(a.Chunks) {
		return fmt.Errorf("array shape %v and chunks %v differ in dimensionality", a.Shape, a.Chunks)
	}
	for i, s := range a.Shape {
		if s < 0 {
			return fmt.Errorf("array shape %v: negative dimension", a.Shape)
		}
		if a.Chunks[i] <= 0 {
			return fmt.Errorf("array chunks %v: chunk dimensions must be positive", a.Chunks)
		}
	}
	if !a.Dtype.IsBasic() || !a.Dtype.Dtype.Numeric() {
		return fmt.Errorf("unsupported array dtype %s", a.Dtype.Human())
	}
	if a.Order != "" && a.Order != "C" {
		return fmt.Errorf("unsupported array order %q", a.Order)
	}
	if len(a.Filters) > 0 {
		return fmt.Errorf("array filters are not supported")
	}
	switch a.DimensionSeparator {
	case "", ".", "/":
	default:
		return fmt.Errorf("invalid dimension separator %q", a.DimensionSeparator)
	}
	if _, err := a.fillBytes(); err != nil {
		return err
	}
	return a.Compressor.Validate()
}

// fillBytes encodes the fill value as a single item of the array's dtype.
// A null fill value encodes as zero.
func (a *ArrayMeta) fillBytes() ([]byte, error) {
	dt := a.Dtype.Dtype
	var f float64
	switch v := a.FillValue.(type) {
	case nil:
	case float64:
		f = v
	case int:
		f = float64(v)
	case bool:
		if v {
			f = 1
		}
	case string:
		switch v {
		case FillValueNaN:
			f = math.NaN()
		case FillValueInfinity:
			f = math.Inf(1)
		case FillValueNegativeInfinity:
			f = math.Inf(-1)
		default:
			return nil, fmt.Errorf("unsupported fill value %q", v)
		}
		if dt.BasicType != BTFloatingPoint && dt.BasicType != BTComplex {
			return nil, fmt.Errorf("fill value %q requires a floating point dtype, got %s", v, dt)
		}
	default:
		return nil, fmt.Errorf("unsupported fill value %v (%T)", a.FillValue, a.FillValue)
	}

	var item interface{}
	switch dt.BasicType {
	case BTBoolean:
		item = f != 0
	case BTInteger:
		switch dt.ByteSize {
		case 1:
			item = int8(f)
		case 2:
			item = int16(f)
		case 4:
			item = int32(f)
		default:
			item = int64(f)
		}
	case BTUnsigned:
		switch dt.ByteSize {
		case 1:
			item = uint8(f)
		case 2:
			item = uint16(f)
		case 4:
			item = uint32(f)
		default:
			item = uint64(f)
		}
	case BTFloatingPoint:
		if dt.ByteSize == 4 {
			item = float32(f)
		} else {
			item = f
		}
	case BTComplex:
		if dt.ByteSize == 8 {
			item = complex(float32(f), 0)
		} else {
			item = complex(f, 0)
		}
	default:
		return nil, fmt.Errorf("no fill encoding for dtype %s", dt)
	}

	buf := &bytes.Buffer{}
	if err := binary.Write(buf, dt.Order(), item); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FloatFillValue returns the JSON fill value for a floating point fill,
// using the string encodings for non-finite values
func FloatFillValue(f float64) interface{} {
	switch {
	case math.IsNaN(f):
		return FillValueNaN
	case math.IsInf(f, 1):
		return FillValueInfinity
	case math.IsInf(f, -1):
		return FillValueNegativeInfinity
	}
	return f
}

type Filter struct {
	ID     string `json:"id"`
	Dtype  string `json:"dtype,omitempty"`
	AsType string `json:"astype,omitempty"`
}

const (
	// Not a Number
	FillValueNaN = "NaN"
	// Infinity
	FillValueInfinity = "Infinity"
	// -Infinity
	FillValueNegativeInfinity = "-Infinity"
)
