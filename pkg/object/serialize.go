package object

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Blob
// ---------------------------------------------------------------------------

// MarshalBlob serializes a Blob to raw bytes (identity).
func MarshalBlob(b *Blob) []byte {
	out := make([]byte, len(b.Data))
	copy(out, b.Data)
	return out
}

// UnmarshalBlob deserializes raw bytes into a Blob.
func UnmarshalBlob(data []byte) (*Blob, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return &Blob{Data: out}, nil
}

// ---------------------------------------------------------------------------
// TreeObj
// ---------------------------------------------------------------------------

// MarshalTree serializes a TreeObj. Entries are sorted by Name for
// deterministic output. Each entry is one line:
//
//	name mode blobhash subtreehash
//
// where mode is a Git-compatible mode string (e.g. 40000, 100644, 100755),
// and empty hashes are represented as "-".
func MarshalTree(tr *TreeObj) []byte {
	sorted := make([]TreeEntry, len(tr.Entries))
	copy(sorted, tr.Entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	var buf bytes.Buffer
	for _, e := range sorted {
		mode := treeModeOrDefault(e)
		bh := hashOrDash(e.BlobHash)
		sth := hashOrDash(e.SubtreeHash)
		fmt.Fprintf(&buf, "%s %s %s %s\n", e.Name, mode, bh, sth)
	}
	return buf.Bytes()
}

func hashOrDash(h Hash) string {
	if h == "" {
		return "-"
	}
	return string(h)
}

func dashOrHash(s string) Hash {
	if s == "-" {
		return Hash("")
	}
	return Hash(s)
}

// UnmarshalTree parses a TreeObj from its serialized form.
func UnmarshalTree(data []byte) (*TreeObj, error) {
	tr := &TreeObj{}
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return tr, nil
	}
	for _, line := range strings.Split(text, "\n") {
		parts := strings.SplitN(line, " ", 4)
		if len(parts) != 4 {
			return nil, fmt.Errorf("unmarshal tree: malformed entry %q", line)
		}
		isDir, mode, err := parseTreeMode(parts[1])
		if err != nil {
			return nil, fmt.Errorf("unmarshal tree: %w", err)
		}
		entry := TreeEntry{
			Name:        parts[0],
			IsDir:       isDir,
			Mode:        mode,
			BlobHash:    dashOrHash(parts[2]),
			SubtreeHash: dashOrHash(parts[3]),
		}
		tr.Entries = append(tr.Entries, entry)
	}
	return tr, nil
}

func treeModeOrDefault(e TreeEntry) string {
	if e.IsDir {
		return TreeModeDir
	}
	if strings.TrimSpace(e.Mode) == "" {
		return TreeModeFile
	}
	return e.Mode
}

func parseTreeMode(mode string) (bool, string, error) {
	switch mode {
	case TreeModeDir:
		return true, TreeModeDir, nil
	case TreeModeFile:
		return false, TreeModeFile, nil
	case TreeModeExecutable:
		return false, TreeModeExecutable, nil
	default:
		return false, "", fmt.Errorf("unknown mode %q", mode)
	}
}

// ---------------------------------------------------------------------------
// CommitObj
// ---------------------------------------------------------------------------

// MarshalCommit serializes a CommitObj:
//
//	tree H
//	parent H        (zero or more)
//	author A T Z
//	committer C T Z
//
//	message
func MarshalCommit(c *CommitObj) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", string(c.TreeHash))
	for _, p := range c.Parents {
		fmt.Fprintf(&buf, "parent %s\n", string(p))
	}
	fmt.Fprintf(&buf, "author %s %d %s\n", c.Author, c.Timestamp, timezoneOrDefault(c.AuthorTimezone))
	committer := c.Committer
	if strings.TrimSpace(committer) == "" {
		committer = c.Author
	}
	committerTimestamp := c.CommitterTimestamp
	if committerTimestamp == 0 {
		committerTimestamp = c.Timestamp
	}
	fmt.Fprintf(&buf, "committer %s %d %s\n", committer, committerTimestamp, timezoneOrDefault(c.CommitterTimezone))
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	return buf.Bytes()
}

func timezoneOrDefault(tz string) string {
	if strings.TrimSpace(tz) == "" {
		return "+0000"
	}
	return tz
}

// UnmarshalCommit parses a CommitObj from its serialized form.
func UnmarshalCommit(data []byte) (*CommitObj, error) {
	idx := bytes.Index(data, []byte("\n\n"))
	if idx < 0 {
		return nil, fmt.Errorf("unmarshal commit: missing header/message separator")
	}
	header := string(data[:idx])
	message := string(data[idx+2:])

	c := &CommitObj{Message: message}
	for _, line := range strings.Split(header, "\n") {
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("unmarshal commit: malformed header line %q", line)
		}
		switch key {
		case "tree":
			c.TreeHash = Hash(val)
		case "parent":
			c.Parents = append(c.Parents, Hash(val))
		case "author":
			name, ts, tz, err := parsePersonLine(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: author: %w", err)
			}
			c.Author, c.Timestamp, c.AuthorTimezone = name, ts, tz
		case "committer":
			name, ts, tz, err := parsePersonLine(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: committer: %w", err)
			}
			c.Committer, c.CommitterTimestamp, c.CommitterTimezone = name, ts, tz
		default:
			return nil, fmt.Errorf("unmarshal commit: unknown header key %q", key)
		}
	}
	return c, nil
}

// parsePersonLine splits "Name <e@mail> 1234567 +0000" into its parts. The
// timestamp and timezone are always the last two space-separated fields.
func parsePersonLine(val string) (name string, timestamp int64, timezone string, err error) {
	fields := strings.Fields(val)
	if len(fields) < 3 {
		return "", 0, "", fmt.Errorf("malformed person line %q", val)
	}
	timezone = fields[len(fields)-1]
	tsField := fields[len(fields)-2]
	ts, err := strconv.ParseInt(tsField, 10, 64)
	if err != nil {
		return "", 0, "", fmt.Errorf("bad timestamp %q: %w", tsField, err)
	}
	name = strings.Join(fields[:len(fields)-2], " ")
	return name, ts, timezone, nil
}
