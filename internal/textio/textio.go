// Package textio reads and writes the plain-text array and profile files
// produced by the cyclic solver tools.
//
// An array file holds the two dimensions on their own lines followed by
// one element per line in row-major order. Complex elements are written
// as "re im", real elements as a single value. A profile file holds one
// "phase value" pair per line with phase running over [0, 1).
package textio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrFormat is returned for malformed files.
var ErrFormat = errors.New("textio: malformed file")

// Array is a decoded array file.
type Array struct {
	Rows, Cols int
	Complex    bool
	Re, Im     []float64 // row-major, Im is nil for real arrays
}

// ComplexRows returns the array as rows of complex values.
func (a Array) ComplexRows() [][]complex128 {
	out := make([][]complex128, a.Rows)
	for i := range out {
		out[i] = make([]complex128, a.Cols)
		for j := range out[i] {
			k := i*a.Cols + j
			var im float64
			if a.Im != nil {
				im = a.Im[k]
			}
			out[i][j] = complex(a.Re[k], im)
		}
	}
	return out
}

// RealRows returns the real part of the array as rows.
func (a Array) RealRows() [][]float64 {
	out := make([][]float64, a.Rows)
	for i := range out {
		out[i] = append([]float64(nil), a.Re[i*a.Cols:(i+1)*a.Cols]...)
	}
	return out
}

func writeHeader(bw *bufio.Writer, rows, cols int) {
	fmt.Fprintf(bw, "%d\n%d\n", rows, cols)
}

func checkRect[T any](rows [][]T) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	cols := len(rows[0])
	for i, r := range rows {
		if len(r) != cols {
			return 0, fmt.Errorf("%w: row %d has %d values, want %d", ErrFormat, i, len(r), cols)
		}
	}
	return cols, nil
}

// WriteComplexArray writes rows as a complex array file.
func WriteComplexArray(w io.Writer, rows [][]complex128) error {
	cols, err := checkRect(rows)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	writeHeader(bw, len(rows), cols)
	for _, r := range rows {
		for _, v := range r {
			fmt.Fprintf(bw, "%.7e %.7e\n", real(v), imag(v))
		}
	}
	return bw.Flush()
}

// WriteRealArray writes rows as a real array file.
func WriteRealArray(w io.Writer, rows [][]float64) error {
	cols, err := checkRect(rows)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	writeHeader(bw, len(rows), cols)
	for _, r := range rows {
		for _, v := range r {
			fmt.Fprintf(bw, "%.7e\n", v)
		}
	}
	return bw.Flush()
}

// ReadArray parses an array file. Whether it is complex is decided by the
// number of columns on the first data line.
func ReadArray(r io.Reader) (Array, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	dim := func(name string) (int, error) {
		if !sc.Scan() {
			return 0, fmt.Errorf("%w: missing %s dimension", ErrFormat, name)
		}
		n, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: bad %s dimension %q", ErrFormat, name, sc.Text())
		}
		return n, nil
	}

	rows, err := dim("first")
	if err != nil {
		return Array{}, err
	}
	cols, err := dim("second")
	if err != nil {
		return Array{}, err
	}

	a := Array{Rows: rows, Cols: cols, Re: make([]float64, 0, rows*cols)}
	line := 2
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(a.Re) == 0 {
			a.Complex = len(fields) > 1
		}
		if a.Complex != (len(fields) > 1) || len(fields) > 2 {
			return Array{}, fmt.Errorf("%w: line %d has %d fields", ErrFormat, line, len(fields))
		}

		re, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return Array{}, fmt.Errorf("%w: line %d: %v", ErrFormat, line, err)
		}
		a.Re = append(a.Re, re)
		if a.Complex {
			im, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return Array{}, fmt.Errorf("%w: line %d: %v", ErrFormat, line, err)
			}
			a.Im = append(a.Im, im)
		}
	}
	if err := sc.Err(); err != nil {
		return Array{}, fmt.Errorf("textio: %w", err)
	}
	if len(a.Re) != rows*cols {
		return Array{}, fmt.Errorf("%w: %d values, dimensions %d×%d", ErrFormat, len(a.Re), rows, cols)
	}
	return a, nil
}

// WriteProfile writes a phase profile with its phase column.
func WriteProfile(w io.Writer, pp []float64) error {
	bw := bufio.NewWriter(w)
	n := float64(len(pp))
	for i, v := range pp {
		fmt.Fprintf(bw, "%.7e %.7e\n", float64(i)/n, v)
	}
	return bw.Flush()
}

// ReadProfile returns the value column of a profile file.
func ReadProfile(r io.Reader) ([]float64, error) {
	sc := bufio.NewScanner(r)
	var out []float64
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: line %d has %d fields", ErrFormat, line, len(fields))
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrFormat, line, err)
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("textio: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty profile", ErrFormat)
	}
	return out, nil
}
