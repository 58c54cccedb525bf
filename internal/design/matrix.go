// Package design holds design matrices and ranked collections of them.
package design

import "fmt"

// Matrix is an n_experiments × n_variables design. Values are copied in and
// out, so a Matrix never shares storage with its caller.
type Matrix struct {
	rows, cols int
	data       []float64
}

// NewMatrix copies a row-major flat slice into a rows×cols matrix.
func NewMatrix(rows, cols int, flat []float64) (Matrix, error) {
	if rows < 0 || cols < 0 || len(flat) != rows*cols {
		return Matrix{}, fmt.Errorf("design has %d values, want %d×%d", len(flat), rows, cols)
	}
	return Matrix{rows: rows, cols: cols, data: append([]float64(nil), flat...)}, nil
}

// FromRows builds a matrix from equally long rows.
func FromRows(rows [][]float64) (Matrix, error) {
	if len(rows) == 0 {
		return Matrix{}, nil
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, r := range rows {
		if len(r) != cols {
			return Matrix{}, fmt.Errorf("row %d has %d values, want %d", i, len(r), cols)
		}
		data = append(data, r...)
	}
	return Matrix{rows: len(rows), cols: cols, data: data}, nil
}

// Rows returns the number of experiments.
func (m Matrix) Rows() int { return m.rows }

// Cols returns the number of variables.
func (m Matrix) Cols() int { return m.cols }

// At returns element (i, j).
func (m Matrix) At(i, j int) float64 { return m.data[i*m.cols+j] }

// Row returns a copy of row i.
func (m Matrix) Row(i int) []float64 {
	return append([]float64(nil), m.data[i*m.cols:(i+1)*m.cols]...)
}

// RowSlices returns a copy of all rows.
func (m Matrix) RowSlices() [][]float64 {
	out := make([][]float64, m.rows)
	for i := range out {
		out[i] = m.Row(i)
	}
	return out
}

// Flatten returns a row-major copy of the values.
func (m Matrix) Flatten() []float64 { return append([]float64(nil), m.data...) }

// SameShape reports whether m and o have equal dimensions.
func (m Matrix) SameShape(o Matrix) bool { return m.rows == o.rows && m.cols == o.cols }

// Equal reports element-wise equality.
func (m Matrix) Equal(o Matrix) bool {
	if !m.SameShape(o) {
		return false
	}
	for i, v := range m.data {
		if o.data[i] != v {
			return false
		}
	}
	return true
}
