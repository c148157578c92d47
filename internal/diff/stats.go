package diff

import (
	"bytes"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// Stats summarises a unified patch.
type Stats struct {
	Hunks   int `json:"hunks"`
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// ParseStats parses a single-file unified patch and counts its hunks and
// added/removed lines.
func ParseStats(patch string) (Stats, error) {
	fd, err := godiff.ParseFileDiff([]byte(patch))
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, h := range fd.Hunks {
		st.Hunks++
		for _, line := range bytes.Split(h.Body, []byte("\n")) {
			if len(line) == 0 {
				continue
			}
			switch line[0] {
			case '+':
				st.Added++
			case '-':
				st.Removed++
			}
		}
	}
	return st, nil
}

// PositionalStats counts the "+ " and "- " lines of a positional patch.
func PositionalStats(patch string) Stats {
	var st Stats
	for _, line := range bytes.Split([]byte(patch), []byte("\n")) {
		switch {
		case bytes.HasPrefix(line, []byte("+ ")):
			st.Added++
		case bytes.HasPrefix(line, []byte("- ")):
			st.Removed++
		}
	}
	if st.Added+st.Removed > 0 {
		st.Hunks = 1
	}
	return st
}

// StatsFor returns the stats of a patch produced by algo. Unparseable
// unified patches report zero counts.
func StatsFor(algo Algorithm, patch string) Stats {
	if algo == AlgorithmPositional {
		return PositionalStats(patch)
	}
	st, err := ParseStats(patch)
	if err != nil {
		return Stats{}
	}
	return st
}
