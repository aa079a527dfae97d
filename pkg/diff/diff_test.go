package diff

import (
	"strings"
	"testing"
)

func TestLines_Degenerate(t *testing.T) {
	data := []byte("one\ntwo\nthree\n")
	lines := Lines(data, data)
	for _, l := range lines {
		if l.Type != Equal {
			t.Fatalf("diff(X, X) produced a non-equal line: %+v", l)
		}
	}
}

func TestLines_SingleLineChange(t *testing.T) {
	before := []byte("a\nb\nc\n")
	after := []byte("a\nb changed\nc\n")

	lines := Lines(before, after)

	var deletes, adds int
	for _, l := range lines {
		switch l.Type {
		case Delete:
			deletes++
			if l.Text != "b" {
				t.Errorf("unexpected delete line %q", l.Text)
			}
		case Add:
			adds++
			if l.Text != "b changed" {
				t.Errorf("unexpected add line %q", l.Text)
			}
		}
	}
	if deletes != 1 || adds != 1 {
		t.Fatalf("expected 1 delete and 1 add, got %d/%d", deletes, adds)
	}
}

func TestLines_PureAddition(t *testing.T) {
	lines := Lines(nil, []byte("x\ny\n"))
	for _, l := range lines {
		if l.Type != Add {
			t.Fatalf("expected all-Add edit script for empty old, got %+v", l)
		}
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
}

func TestLines_PureDeletion(t *testing.T) {
	lines := Lines([]byte("x\ny\n"), nil)
	for _, l := range lines {
		if l.Type != Delete {
			t.Fatalf("expected all-Delete edit script for empty new, got %+v", l)
		}
	}
}

func TestLines_ResyncsAfterMismatch(t *testing.T) {
	before := []byte("a\nb\nc\nd\ne\n")
	after := []byte("a\nX\nY\nd\ne\n")

	lines := Lines(before, after)

	// After resync, the trailing "d" and "e" lines must come back as Equal.
	tailEqual := 0
	for _, l := range lines {
		if l.Type == Equal && (l.Text == "d" || l.Text == "e") {
			tailEqual++
		}
	}
	if tailEqual != 2 {
		t.Fatalf("expected tail lines d and e to resync as Equal, got %d equal matches\nlines=%+v", tailEqual, lines)
	}
}

func TestIsBinary(t *testing.T) {
	if IsBinary([]byte("hello\nworld\n")) {
		t.Error("plain text misclassified as binary")
	}
	if !IsBinary([]byte("hello\x00world")) {
		t.Error("NUL-containing content not classified as binary")
	}
}

func TestUnified_EmptyForIdenticalInput(t *testing.T) {
	data := []byte("same\ncontent\n")
	lines := Lines(data, data)
	out := Unified(lines, "f.txt", "f.txt", Options{Context: DefaultContext})
	if out != "" {
		t.Fatalf("expected empty unified diff for identical input, got:\n%s", out)
	}
}

func TestUnified_HeadersAndPrefixes(t *testing.T) {
	before := []byte("one\ntwo\nthree\n")
	after := []byte("one\ntwo changed\nthree\n")

	lines := Lines(before, after)
	out := Unified(lines, "hello.txt", "hello.txt", Options{Context: 0})

	if !strings.Contains(out, "--- a/hello.txt\n") {
		t.Errorf("missing --- header:\n%s", out)
	}
	if !strings.Contains(out, "+++ b/hello.txt\n") {
		t.Errorf("missing +++ header:\n%s", out)
	}
	if !strings.Contains(out, "-two\n") {
		t.Errorf("missing deletion line:\n%s", out)
	}
	if !strings.Contains(out, "+two changed\n") {
		t.Errorf("missing addition line:\n%s", out)
	}
}

func TestBuildHunks_CollapsesCloseChanges(t *testing.T) {
	lines := []Line{
		{Equal, "1"}, {Delete, "2"}, {Add, "2b"},
		{Equal, "3"}, {Equal, "4"},
		{Delete, "5"}, {Add, "5b"},
		{Equal, "6"},
	}
	// Gap between the two changes is well within 2*context (context=3), so
	// they must land in a single hunk.
	hunks := BuildHunks(lines, 3)
	if len(hunks) != 1 {
		t.Fatalf("expected changes within 2*context to merge into one hunk, got %d", len(hunks))
	}
}

func TestBuildHunks_SplitsDistantChanges(t *testing.T) {
	lines := make([]Line, 0, 20)
	lines = append(lines, Line{Delete, "first"}, Line{Add, "first2"})
	for i := 0; i < 12; i++ {
		lines = append(lines, Line{Equal, "pad"})
	}
	lines = append(lines, Line{Delete, "last"}, Line{Add, "last2"})

	hunks := BuildHunks(lines, 3)
	if len(hunks) != 2 {
		t.Fatalf("expected distant changes to split into two hunks, got %d", len(hunks))
	}
}
