package diff

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Unified returns a unified patch from old to new with contextLines lines of
// context (negative means DefaultContextLines). The result is stable for
// identical inputs.
func Unified(name, old, new string, contextLines int) (string, bool) {
	if old == new {
		return "", false
	}
	if contextLines < 0 {
		contextLines = DefaultContextLines
	}

	ud := difflib.UnifiedDiff{
		A:        splitLines(old),
		B:        splitLines(new),
		FromFile: "a/" + patchName(name),
		ToFile:   "b/" + patchName(name),
		Context:  contextLines,
	}
	patch, err := difflib.GetUnifiedDiffString(ud)
	if err != nil || patch == "" {
		// difflib only fails on writer errors; fall back to the positional
		// form so a differing pair never yields an empty patch.
		return Positional(old, new)
	}
	return patch, true
}

const noNewlineMarker = "\\ No newline at end of file"

// splitLines splits s after each newline. A final line without a newline
// carries the git-style marker so "a\nb" and "a\nb\n" still differ.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	last := lines[len(lines)-1]
	if !strings.HasSuffix(last, "\n") {
		lines[len(lines)-1] = last + "\n" + noNewlineMarker + "\n"
	}
	return lines
}

// patchName strips URI schemes and leading slashes so headers read like
// a/path/to/file.go rather than a/file:///path/to/file.go.
func patchName(name string) string {
	if i := strings.Index(name, "://"); i >= 0 {
		name = name[i+3:]
	}
	name = strings.TrimLeft(name, "/")
	if name == "" {
		return "untitled"
	}
	return name
}
