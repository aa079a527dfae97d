// Package diff implements the line-oriented diff engine: a bounded-window
// edit script over split lines, plus unified formatting for display.
package diff

import "strings"

// OpType classifies a single line of an edit script.
type OpType int

const (
	Equal  OpType = iota // line is unchanged between old and new
	Delete               // line is present in old only
	Add                  // line is present in new only
)

// Line is one line of the computed edit script, tagged with its role.
type Line struct {
	Type OpType
	Text string
}

// maxLookahead bounds the two-dimensional search window used to resynchronize
// the two cursors after a mismatch, per the diff engine's edit-script rule.
const maxLookahead = 10

// Lines computes a deterministic, bounded-window edit script between old and
// new. It is not an optimal LCS diff: on a mismatch it searches a window of
// up to maxLookahead lines in each direction for the nearest resynchronizing
// pair and falls back to a one-line delete+add when no such pair exists
// within the window. This matches the diff engine's documented algorithm and
// properties (diff(X,X) is empty; diff is deterministic) without claiming
// minimality.
func Lines(old, new []byte) []Line {
	oldLines := splitLines(old)
	newLines := splitLines(new)

	var out []Line
	i, j := 0, 0
	for i < len(oldLines) && j < len(newLines) {
		if oldLines[i] == newLines[j] {
			out = append(out, Line{Equal, oldLines[i]})
			i++
			j++
			continue
		}

		a, b, found := findResync(oldLines, newLines, i, j)
		if found {
			for k := 0; k < a; k++ {
				out = append(out, Line{Delete, oldLines[i+k]})
			}
			for k := 0; k < b; k++ {
				out = append(out, Line{Add, newLines[j+k]})
			}
			i += a
			j += b
			continue
		}

		// No resync within the window: a one-line modification, rendered as
		// a paired delete+add since the unified formatter only knows three
		// line prefixes (space, minus, plus).
		out = append(out, Line{Delete, oldLines[i]})
		out = append(out, Line{Add, newLines[j]})
		i++
		j++
	}
	for ; i < len(oldLines); i++ {
		out = append(out, Line{Delete, oldLines[i]})
	}
	for ; j < len(newLines); j++ {
		out = append(out, Line{Add, newLines[j]})
	}
	return out
}

// findResync searches the bounded window around (i, j) for the nearest pair
// (i+a, j+b), not both zero, where oldLines[i+a] == newLines[j+b]. Candidates
// are examined in order of increasing Chebyshev distance so the match found
// is the nearest under that metric.
func findResync(oldLines, newLines []string, i, j int) (a, b int, found bool) {
	for dist := 1; dist <= maxLookahead; dist++ {
		for bb := 0; bb <= dist; bb++ {
			aa := dist
			if i+aa < len(oldLines) && j+bb < len(newLines) && oldLines[i+aa] == newLines[j+bb] {
				return aa, bb, true
			}
		}
		for aa := 0; aa < dist; aa++ {
			bb := dist
			if i+aa < len(oldLines) && j+bb < len(newLines) && oldLines[i+aa] == newLines[j+bb] {
				return aa, bb, true
			}
		}
	}
	return 0, 0, false
}

// splitLines splits text on the canonical \r?\n line terminator. A trailing
// empty element produced by a final newline is dropped so that two inputs
// which both end (or both don't end) in a newline compare symmetrically.
func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// IsBinary reports whether data looks like binary content rather than text,
// using a null-byte heuristic: any NUL byte in the first 8000 bytes (git's
// own sniff window) marks the content as binary. The diff engine gates line
// diffing on this predicate; storage is unaffected either way.
func IsBinary(data []byte) bool {
	n := len(data)
	if n > 8000 {
		n = 8000
	}
	for i := 0; i < n; i++ {
		if data[i] == 0 {
			return true
		}
	}
	return false
}
