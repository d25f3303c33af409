package histeq

import (
	"fmt"
	"strings"

	"github.com/gogpu/histeq/internal/cpukernel"
)

// DegeneratePolicy selects the remap table for images whose pixels all share
// one intensity, where min-max rescaling would divide by zero.
type DegeneratePolicy uint32

const (
	// DegenerateIdentity maps every intensity to itself, so a constant image
	// passes through unchanged. This is the default.
	DegenerateIdentity DegeneratePolicy = DegeneratePolicy(cpukernel.PolicyIdentity)

	// DegenerateSaturate maps the occupied intensity and everything above it
	// to 255, so a constant image becomes white.
	DegenerateSaturate DegeneratePolicy = DegeneratePolicy(cpukernel.PolicySaturate)
)

// String returns the policy name used in configuration.
func (p DegeneratePolicy) String() string {
	switch p {
	case DegenerateIdentity:
		return "identity"
	case DegenerateSaturate:
		return "saturate"
	default:
		return fmt.Sprintf("DegeneratePolicy(%d)", uint32(p))
	}
}

// ParseDegeneratePolicy parses "identity" or "saturate".
func ParseDegeneratePolicy(s string) (DegeneratePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "identity":
		return DegenerateIdentity, nil
	case "saturate", "255":
		return DegenerateSaturate, nil
	default:
		return 0, fmt.Errorf("histeq: unknown degenerate policy %q", s)
	}
}

// Normalize rescales c into a remap table. It is the host reference for the
// normalize kernel:
//
//	r[i] = round((c[i] - cmin) * 255 / (N - cmin))
//
// where cmin is the smallest non-zero entry and N the last entry. Entries
// below cmin map to 0. When N == cmin the policy decides the table.
func Normalize(c CumulativeHistogram, policy DegeneratePolicy) RemapTable {
	cmin := c.MinNonZero()
	total := c.Total()
	t := make(RemapTable, len(c))
	for i, v := range c {
		t[i] = uint8(cpukernel.RemapValue(uint32(i), v, cmin, total, uint32(policy))) //nolint:gosec // RemapValue is clamped to 255
	}
	return t
}
