package diff

import "strings"

// Positional compares old and new line by line at equal indices. Every old
// line that differs from the new line at its index is listed as "- old",
// then every new line that differs from the old line at its index as
// "+ new". Indices present on one side only count as differing.
func Positional(old, new string) (string, bool) {
	if old == new {
		return "", false
	}

	oldLines := strings.Split(old, "\n")
	newLines := strings.Split(new, "\n")

	var out []string
	for i, line := range oldLines {
		if i >= len(newLines) || newLines[i] != line {
			out = append(out, "- "+line)
		}
	}
	for i, line := range newLines {
		if i >= len(oldLines) || oldLines[i] != line {
			out = append(out, "+ "+line)
		}
	}
	return strings.Join(out, "\n"), true
}
