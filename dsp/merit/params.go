package merit

import (
	"errors"
	"fmt"
)

// ErrParamLength is returned when a parameter vector does not describe a
// filter of the expected length.
var ErrParamLength = errors.New("merit: parameter vector length mismatch")

// Encode flattens a lag-domain filter into the real parameter layout used
// by the minimizers: [re, im] for every lag except the reference lag, which
// contributes only its real part. The result has length 2n−1.
func Encode(ht []complex128, rindex int) []float64 {
	x := make([]float64, 0, 2*len(ht)-1)
	for l, v := range ht {
		x = append(x, real(v))
		if l != rindex {
			x = append(x, imag(v))
		}
	}
	return x
}

// Decode is the inverse of Encode. The reference lag comes back real.
func Decode(x []float64, rindex int) ([]complex128, error) {
	if len(x)%2 == 0 {
		return nil, fmt.Errorf("%w: got %d values", ErrParamLength, len(x))
	}
	n := (len(x) + 1) / 2
	if rindex < 0 || rindex >= n {
		return nil, fmt.Errorf("%w: reference lag %d outside [0, %d)", ErrParamLength, rindex, n)
	}

	ht := make([]complex128, n)
	k := 0
	for l := range ht {
		if l == rindex {
			ht[l] = complex(x[k], 0)
			k++
			continue
		}
		ht[l] = complex(x[k], x[k+1])
		k += 2
	}
	return ht, nil
}

// ParamIndex returns the positions of the real and imaginary parameters of
// lag l. The imaginary index is −1 for the reference lag.
func ParamIndex(l, rindex int) (re, im int) {
	switch {
	case l < rindex:
		return 2 * l, 2*l + 1
	case l == rindex:
		return 2 * l, -1
	default:
		return 2*l - 1, 2 * l
	}
}
