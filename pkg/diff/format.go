package diff

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// Hunk is a contiguous run of the edit script, expanded to include up to
// Context unchanged lines of padding on either side.
type Hunk struct {
	start, end int // half-open range into the edit script this hunk covers
}

// DefaultContext is the number of unchanged lines shown around each change
// when no explicit context width is requested.
const DefaultContext = 3

// BuildHunks groups a flat edit script into hunks, padding each changed
// region with up to context unchanged lines on either side. Two change
// regions whose padded windows overlap or touch are merged into one hunk;
// this is equivalent to collapsing gaps no larger than 2*context, per the
// diff engine's formatting rule.
func BuildHunks(lines []Line, context int) []Hunk {
	if context < 0 {
		context = 0
	}

	var hunks []Hunk
	for i, l := range lines {
		if l.Type == Equal {
			continue
		}

		start := i - context
		if start < 0 {
			start = 0
		}
		end := i + context + 1
		if end > len(lines) {
			end = len(lines)
		}

		if len(hunks) == 0 || start > hunks[len(hunks)-1].end {
			hunks = append(hunks, Hunk{start: start, end: end})
			continue
		}
		if end > hunks[len(hunks)-1].end {
			hunks[len(hunks)-1].end = end
		}
	}
	return hunks
}

// Range returns the 1-based (oldStart, oldCount, newStart, newCount) unified
// diff hunk coordinates for h within the full edit script lines.
func (h Hunk) Range(lines []Line) (oldStart, oldCount, newStart, newCount int) {
	oldLine, newLine := 1, 1
	for i := 0; i < h.start; i++ {
		switch lines[i].Type {
		case Equal:
			oldLine++
			newLine++
		case Delete:
			oldLine++
		case Add:
			newLine++
		}
	}

	oldStart, newStart = oldLine, newLine

	for i := h.start; i < h.end; i++ {
		switch lines[i].Type {
		case Equal:
			oldCount++
			newCount++
			oldLine++
			newLine++
		case Delete:
			oldCount++
			oldLine++
		case Add:
			newCount++
			newLine++
		}
	}

	if oldCount == 0 {
		oldStart--
	}
	if newCount == 0 {
		newStart--
	}
	return oldStart, oldCount, newStart, newCount
}

// Options controls unified-diff rendering.
type Options struct {
	Context int  // unchanged lines of padding around each change; a negative value selects DefaultContext, 0 means none
	Color   bool // colorize +/- lines (green/red) when true
}

// Unified renders lines as a unified diff of oldPath against newPath. An
// empty edit script (e.g. diff(X, X)) renders as the empty string — no
// headers are emitted for a no-op diff.
func Unified(lines []Line, oldPath, newPath string, opts Options) string {
	if len(lines) == 0 {
		return ""
	}

	context := opts.Context
	if context < 0 {
		context = DefaultContext
	}

	hunks := BuildHunks(lines, context)
	if len(hunks) == 0 {
		return ""
	}

	add := plainAdd
	del := plainDel
	if opts.Color {
		add = color.New(color.FgGreen).SprintFunc()
		del = color.New(color.FgRed).SprintFunc()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n", oldPath)
	fmt.Fprintf(&b, "+++ b/%s\n", newPath)

	for _, h := range hunks {
		oldStart, oldCount, newStart, newCount := h.Range(lines)
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", oldStart, oldCount, newStart, newCount)
		for _, l := range lines[h.start:h.end] {
			switch l.Type {
			case Equal:
				fmt.Fprintf(&b, " %s\n", l.Text)
			case Delete:
				fmt.Fprintf(&b, "%s\n", del("-"+l.Text))
			case Add:
				fmt.Fprintf(&b, "%s\n", add("+"+l.Text))
			}
		}
	}

	return b.String()
}

func plainAdd(args ...interface{}) string { return fmt.Sprint(args...) }
func plainDel(args ...interface{}) string { return fmt.Sprint(args...) }
