package zarr

import (
	"fmt"
	"io"

	"github.com/qri-io/dataset/compression"
)

const (
	// CompressorZstd is the numcodecs id of Zstandard compression
	CompressorZstd = "zstd"
	// CompressorGzip is the numcodecs id of gzip compression
	CompressorGzip = "gzip"
	// CompressorBlosc is recognized in metadata but cannot be decoded
	CompressorBlosc = "blosc"
)

// codec ids mapped to the compression formats they are written with
var codecFormats = map[string]compression.Format{
	CompressorZstd: compression.FmtZStandard,
	CompressorGzip: compression.FmtGZip,
}

// CompressionMeta defines compression settings zarr-go understands.
// A nil *CompressionMeta stores chunks uncompressed.
type CompressionMeta struct {
	ID      string `json:"id"`
	Level   int    `json:"level,omitempty"`
	Cname   string `json:"cname,omitempty"`
	Clevel  int    `json:"clevel,omitempty"`
	Shuffle int    `json:"shuffle,omitempty"`
}

// NewCompressionMeta returns settings for the codec id. The empty string and
// "none" mean no compression.
func NewCompressionMeta(id string) (*CompressionMeta, error) {
	switch id {
	case "", "none":
		return nil, nil
	}
	m := &CompressionMeta{ID: id, Level: 1}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate errors for codecs chunks cannot be written with
func (m *CompressionMeta) Validate() error {
	if m == nil {
		return nil
	}
	if _, ok := codecFormats[m.ID]; !ok {
		return fmt.Errorf("unsupported compressor %q", m.ID)
	}
	return nil
}

// Compressor wraps w so bytes written are compressed. Callers must Close the
// returned writer to flush it.
func (m *CompressionMeta) Compressor(w io.Writer) (io.WriteCloser, error) {
	if m == nil {
		return nopWriteCloser{w}, nil
	}
	f, ok := codecFormats[m.ID]
	if !ok {
		return nil, fmt.Errorf("unsupported compressor %q", m.ID)
	}
	return compression.Compressor(string(f), w)
}

func (m *CompressionMeta) Decompressor(r io.ReadCloser) (io.ReadCloser, error) {
	if m == nil {
		return r, nil
	}
	f, ok := codecFormats[m.ID]
	if !ok {
		r.Close()
		return nil, fmt.Errorf("unsupported compressor %q", m.ID)
	}
	dr, err := compression.Decompressor(string(f), r)
	if err != nil {
		r.Close()
		return nil, err
	}
	return readCloser{Reader: dr, closers: []io.Closer{dr, r}}, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// readCloser closes a decompressor along with the stream beneath it
type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (rc readCloser) Close() error {
	var err error
	for _, c := range rc.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
