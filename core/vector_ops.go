package core

import "fmt"

// Matrix is a dense, row-major N×D matrix of float32 values.
// Row i occupies Data[i*Dim : (i+1)*Dim].
type Matrix struct {
	Rows int
	Dim  int
	Data []float32
}

// NewMatrix copies rows into a Matrix. All rows must have the same, positive length.
// An empty rows slice yields a matrix with zero rows and zero dimension.
func NewMatrix(rows [][]float32) (Matrix, error) {
	if len(rows) == 0 {
		return Matrix{}, nil
	}
	dim := len(rows[0])
	if dim == 0 {
		return Matrix{}, fmt.Errorf("%w: vectors must not be empty", ErrInvalidArgument)
	}
	data := make([]float32, 0, len(rows)*dim)
	for i, row := range rows {
		if len(row) != dim {
			return Matrix{}, fmt.Errorf("%w: row %d has dimension %d, expected %d",
				ErrInvalidArgument, i, len(row), dim)
		}
		data = append(data, row...)
	}
	return Matrix{Rows: len(rows), Dim: dim, Data: data}, nil
}

// NewMatrixFromData wraps a row-major slice without copying it.
func NewMatrixFromData(data []float32, dim int) (Matrix, error) {
	if dim <= 0 {
		return Matrix{}, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidArgument, dim)
	}
	if len(data)%dim != 0 {
		return Matrix{}, fmt.Errorf("%w: data length %d is not a multiple of dimension %d",
			ErrInvalidArgument, len(data), dim)
	}
	return Matrix{Rows: len(data) / dim, Dim: dim, Data: data}, nil
}

// Row returns row i as a sub-slice of the matrix data.
func (m Matrix) Row(i int) []float32 {
	return m.Data[i*m.Dim : (i+1)*m.Dim]
}

// Validate checks that the matrix shape is consistent with its data.
func (m Matrix) Validate() error {
	if m.Rows < 0 || m.Dim < 0 {
		return fmt.Errorf("%w: negative matrix shape %dx%d", ErrInvalidArgument, m.Rows, m.Dim)
	}
	if m.Rows > 0 && m.Dim == 0 {
		return fmt.Errorf("%w: vectors must not be empty", ErrInvalidArgument)
	}
	if len(m.Data) != m.Rows*m.Dim {
		return fmt.Errorf("%w: data length %d does not match shape %dx%d",
			ErrInvalidArgument, len(m.Data), m.Rows, m.Dim)
	}
	return nil
}

// Clone returns a deep copy of the matrix.
func (m Matrix) Clone() Matrix {
	data := make([]float32, len(m.Data))
	copy(data, m.Data)
	return Matrix{Rows: m.Rows, Dim: m.Dim, Data: data}
}

// SubInto writes a-b into dst. All slices must have the same length.
func SubInto(dst, a, b []float32) {
	for i := range dst {
		dst[i] = a[i] - b[i]
	}
}
