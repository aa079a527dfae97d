package object

// Hash is a 64-character hex-encoded SHA-256 digest.
type Hash string

// ObjectType identifies the kind of object stored.
type ObjectType string

const (
	TypeBlob   ObjectType = "blob"
	TypeTag    ObjectType = "tag"
	TypeTree   ObjectType = "tree"
	TypeCommit ObjectType = "commit"
)

const (
	// Tree mode constants compatible with Git's canonical mode strings.
	TreeModeDir        = "40000"
	TreeModeFile       = "100644"
	TreeModeExecutable = "100755"
)

// Blob holds raw file data.
type Blob struct {
	Data []byte
}

// TagObj preserves annotated tag payload while tracking the referenced object.
// Data stores the canonical tag bytes, where the "object" header points at the
// dotgit hash so graph traversal can stay in dotgit object space.
type TagObj struct {
	TargetHash Hash
	Data       []byte
}

// TreeEntry is one entry in a tree object.
type TreeEntry struct {
	Name        string
	IsDir       bool
	Mode        string
	BlobHash    Hash
	SubtreeHash Hash
}

// TreeObj holds a sorted list of tree entries.
type TreeObj struct {
	Entries []TreeEntry // sorted by Name
}

// CommitObj represents a commit pointing to a tree with metadata.
type CommitObj struct {
	TreeHash           Hash
	Parents            []Hash
	Author             string
	Timestamp          int64
	AuthorTimezone     string
	Committer          string
	CommitterTimestamp int64
	CommitterTimezone  string
	Message            string
}
