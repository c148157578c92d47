// Package diff turns two whole-file snapshots of one document into a textual
// patch that can be shown to a model and to the user.
package diff

import (
	"fmt"
	"strings"
)

// Algorithm selects how patches are produced.
type Algorithm string

const (
	// AlgorithmUnified produces a standard unified patch (headers, hunks,
	// context lines) from a longest-common-subsequence match.
	AlgorithmUnified Algorithm = "unified"
	// AlgorithmPositional compares lines index by index. Insertions and
	// deletions shift every following index and show up as a cascade of
	// changed lines.
	AlgorithmPositional Algorithm = "positional"
)

// DefaultContextLines is the number of unchanged lines around each hunk.
const DefaultContextLines = 3

// ParseAlgorithm maps a config value onto an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case "", AlgorithmUnified:
		return AlgorithmUnified, nil
	case AlgorithmPositional:
		return AlgorithmPositional, nil
	default:
		return "", fmt.Errorf("unknown diff algorithm %q", s)
	}
}

// Compute returns the patch between old and new for the named document.
// The boolean is false when the snapshots are identical.
func Compute(algo Algorithm, name, old, new string, contextLines int) (string, bool) {
	switch algo {
	case AlgorithmPositional:
		return Positional(old, new)
	default:
		return Unified(name, old, new, contextLines)
	}
}
