package transform

import (
	"fmt"
	"strings"
)

// Convention selects the normalization of the real (phase-axis) transforms.
type Convention int

const (
	// Legacy divides PS2CS and Phase2Harm by the output length nbin/2+1.
	Legacy Convention = iota

	// Symmetric divides PS2CS and Phase2Harm by the input length nbin.
	Symmetric
)

// String returns the convention name.
func (c Convention) String() string {
	switch c {
	case Legacy:
		return "legacy"
	case Symmetric:
		return "symmetric"
	default:
		return fmt.Sprintf("Convention(%d)", int(c))
	}
}

// ParseConvention parses "legacy" or "symmetric" (case-insensitive).
// The empty string selects Legacy.
func ParseConvention(s string) (Convention, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "legacy":
		return Legacy, nil
	case "symmetric":
		return Symmetric, nil
	default:
		return Legacy, fmt.Errorf("%w: %q", ErrUnknownConvention, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Convention) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Convention) UnmarshalText(text []byte) error {
	v, err := ParseConvention(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// RoundTripScale returns s such that CS2PS(PS2CS(P)) = s·P for nbin phase bins.
func (c Convention) RoundTripScale(nbin int) float64 {
	if c == Symmetric {
		return 1
	}
	return float64(nbin) / float64(nbin/2+1)
}

// forwardDivisor returns the divisor applied by the real forward transforms.
func (c Convention) forwardDivisor(nbin int) float64 {
	if c == Symmetric {
		return float64(nbin)
	}
	return float64(nbin/2 + 1)
}
