// Package matio stores matrices in a small binary on-disk format: an 16-byte
// header (magic, version, rows, cols, all little-endian uint32) followed by
// row-major float32 data. Files are memory-mapped on load so large operands
// do not go through a second heap copy path.
package matio

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"golang.org/x/exp/mmap"

	"github.com/openfluke/tilegemm/plan"
)

const (
	magic      = 0x544d4631 // "TMF1"
	version    = 1
	headerSize = 16
)

// Save writes m to path.
func Save(path string, m *plan.Matrix) error {
	buf := make([]byte, headerSize+len(m.Data)*4)
	binary.LittleEndian.PutUint32(buf[0:], magic)
	binary.LittleEndian.PutUint32(buf[4:], version)
	binary.LittleEndian.PutUint32(buf[8:], uint32(m.Rows))
	binary.LittleEndian.PutUint32(buf[12:], uint32(m.Cols))
	for i, v := range m.Data {
		binary.LittleEndian.PutUint32(buf[headerSize+i*4:], math.Float32bits(v))
	}
	return os.WriteFile(path, buf, 0o644)
}

// Load memory-maps path and decodes the matrix.
func Load(path string) (*plan.Matrix, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmap file: %w", err)
	}
	defer r.Close()

	if r.Len() < headerSize {
		return nil, fmt.Errorf("%s: truncated header (%d bytes)", path, r.Len())
	}
	head := make([]byte, headerSize)
	if _, err := r.ReadAt(head, 0); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if got := binary.LittleEndian.Uint32(head[0:]); got != magic {
		return nil, fmt.Errorf("%s: bad magic 0x%08x", path, got)
	}
	if got := binary.LittleEndian.Uint32(head[4:]); got != version {
		return nil, fmt.Errorf("%s: unsupported version %d", path, got)
	}
	rows := int(binary.LittleEndian.Uint32(head[8:]))
	cols := int(binary.LittleEndian.Uint32(head[12:]))
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%s: invalid dims %dx%d", path, rows, cols)
	}

	want := headerSize + rows*cols*4
	if r.Len() != want {
		return nil, fmt.Errorf("%s: size %d does not match %dx%d payload (%d)",
			path, r.Len(), rows, cols, want)
	}

	raw := make([]byte, rows*cols*4)
	if _, err := r.ReadAt(raw, headerSize); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	data := make([]float32, rows*cols)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return plan.MatrixFromSlice(data, rows, cols)
}
