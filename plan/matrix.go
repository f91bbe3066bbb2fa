package plan

import "fmt"

// Matrix is a dense row-major float32 matrix: element (r,c) lives at
// Data[r*Cols+c].
type Matrix struct {
	Rows int
	Cols int
	Data []float32
}

// NewMatrix allocates a zero-initialized Rows x Cols matrix.
func NewMatrix(rows, cols int) *Matrix {
	return &Matrix{
		Rows: rows,
		Cols: cols,
		Data: make([]float32, rows*cols),
	}
}

// MatrixFromSlice wraps an existing row-major slice. The slice is not copied.
func MatrixFromSlice(data []float32, rows, cols int) (*Matrix, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("matrix dims must be positive, got %dx%d", rows, cols)
	}
	if len(data) != rows*cols {
		return nil, fmt.Errorf("matrix data length %d does not match %dx%d", len(data), rows, cols)
	}
	return &Matrix{Rows: rows, Cols: cols, Data: data}, nil
}

// At returns element (r,c).
func (m *Matrix) At(r, c int) float32 { return m.Data[r*m.Cols+c] }

// Set stores v at element (r,c).
func (m *Matrix) Set(r, c int, v float32) { m.Data[r*m.Cols+c] = v }

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	out := NewMatrix(m.Rows, m.Cols)
	copy(out.Data, m.Data)
	return out
}

// Identity returns the n x n identity matrix.
func Identity(n int) *Matrix {
	m := NewMatrix(n, n)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
