// Package cmat holds small helpers for gonum complex dense matrices that
// work directly on the raw row-major storage.
package cmat

import (
	"gonum.org/v1/gonum/cmplxs"
	"gonum.org/v1/gonum/mat"
)

// Clone returns a compact copy of m (stride equal to the column count).
func Clone(m *mat.CDense) *mat.CDense {
	r, c := m.Dims()
	raw := m.RawCMatrix()
	data := make([]complex128, r*c)
	for i := 0; i < r; i++ {
		copy(data[i*c:(i+1)*c], raw.Data[i*raw.Stride:i*raw.Stride+c])
	}
	return mat.NewCDense(r, c, data)
}

// Row returns a copy of row i.
func Row(m *mat.CDense, i int) []complex128 {
	_, c := m.Dims()
	raw := m.RawCMatrix()
	return append([]complex128(nil), raw.Data[i*raw.Stride:i*raw.Stride+c]...)
}

// Col returns a copy of column j.
func Col(m *mat.CDense, j int) []complex128 {
	r, _ := m.Dims()
	raw := m.RawCMatrix()
	out := make([]complex128, r)
	for i := range out {
		out[i] = raw.Data[i*raw.Stride+j]
	}
	return out
}

// SetRow overwrites row i with v.
func SetRow(m *mat.CDense, i int, v []complex128) {
	_, c := m.Dims()
	raw := m.RawCMatrix()
	copy(raw.Data[i*raw.Stride:i*raw.Stride+c], v)
}

// Scale multiplies every element of m by s in place.
func Scale(m *mat.CDense, s complex128) {
	r, c := m.Dims()
	raw := m.RawCMatrix()
	if raw.Stride == c {
		cmplxs.Scale(s, raw.Data[:r*c])
		return
	}
	for i := 0; i < r; i++ {
		cmplxs.Scale(s, raw.Data[i*raw.Stride:i*raw.Stride+c])
	}
}

// Flat returns the elements of m in row-major order. For a compact matrix
// the slice aliases m's storage; otherwise it is a copy.
func Flat(m *mat.CDense) []complex128 {
	r, c := m.Dims()
	raw := m.RawCMatrix()
	if raw.Stride == c {
		return raw.Data[:r*c]
	}
	return Clone(m).RawCMatrix().Data
}

// FromRows builds an len(rows) × len(rows[0]) matrix.
func FromRows(rows [][]complex128) *mat.CDense {
	if len(rows) == 0 {
		return &mat.CDense{}
	}
	c := len(rows[0])
	data := make([]complex128, len(rows)*c)
	for i, row := range rows {
		copy(data[i*c:(i+1)*c], row)
	}
	return mat.NewCDense(len(rows), c, data)
}

// Rows returns a copy of m as a slice of rows.
func Rows(m *mat.CDense) [][]complex128 {
	r, _ := m.Dims()
	out := make([][]complex128, r)
	for i := range out {
		out[i] = Row(m, i)
	}
	return out
}
