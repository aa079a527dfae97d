package object

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AfriCodeWizard/dotgit/pkg/doterr"
	"github.com/klauspost/compress/zstd"
)

// Store is a content-addressed object store with a 2-character fan-out
// directory layout: objects/ab/cdef0123...
//
// Object identity is always the hash of the canonical *uncompressed*
// envelope. Compression, when enabled, only changes the bytes written to
// disk; it never participates in hashing, so turning compression on or off
// does not change any object's hash.
type Store struct {
	root     string
	compress bool
}

// NewStore creates a Store rooted at the given directory. The objects/
// subdirectory is created lazily on first write. Compression is enabled by
// default, mirroring the core.compression config default of true.
func NewStore(root string) *Store {
	return &Store{root: root, compress: true}
}

// SetCompression toggles transparent zstd compression of on-disk object
// bytes. Existing objects are read correctly regardless of the current
// setting, since the envelope magic is sniffed on read.
func (s *Store) SetCompression(enabled bool) {
	s.compress = enabled
}

// objectPath returns the filesystem path for a given hash.
func (s *Store) objectPath(h Hash) string {
	return filepath.Join(s.root, "objects", string(h[:2]), string(h[2:]))
}

// Has reports whether the store contains an object with the given hash.
func (s *Store) Has(h Hash) bool {
	_, err := os.Stat(s.objectPath(h))
	return err == nil
}

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Write stores an object and returns its content hash. The canonical
// envelope is "type len\0content"; on disk it may additionally be
// zstd-compressed, detected transparently on read via the zstd magic
// bytes. Writes are atomic: data is written to a temp file and then
// renamed into place.
func (s *Store) Write(objType ObjectType, data []byte) (Hash, error) {
	envelope := fmt.Sprintf("%s %d\x00", objType, len(data))
	raw := append([]byte(envelope), data...)

	h := HashObject(objType, data)

	if s.Has(h) {
		return h, nil
	}

	onDisk := raw
	if s.compress {
		compressed, err := compressZstd(raw)
		if err != nil {
			return "", fmt.Errorf("object write compress: %w", err)
		}
		onDisk = compressed
	}

	dir := filepath.Join(s.root, "objects", string(h[:2]))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("object write mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("object write tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(onDisk); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("object write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("object write close: %w", err)
	}

	dest := s.objectPath(h)
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("object write rename: %w", err)
	}

	return h, nil
}

// Read retrieves an object by hash, returning its type and raw content.
// A read failure other than a missing file is a StorageError; content whose
// recomputed hash differs from h is a CorruptObject.
func (s *Store) Read(h Hash) (ObjectType, []byte, error) {
	onDisk, err := os.ReadFile(s.objectPath(h))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, fmt.Errorf("object read %s: %w", h, err)
		}
		return "", nil, doterr.StorageError(string(h), err)
	}

	raw := onDisk
	if bytes.HasPrefix(onDisk, zstdMagic) {
		decompressed, err := decompressZstd(onDisk)
		if err != nil {
			return "", nil, fmt.Errorf("object read %s: decompress: %w", h, err)
		}
		raw = decompressed
	}

	nulIdx := bytes.IndexByte(raw, 0)
	if nulIdx < 0 {
		return "", nil, fmt.Errorf("object read %s: invalid format (no NUL)", h)
	}
	header := string(raw[:nulIdx])
	content := raw[nulIdx+1:]

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("object read %s: invalid header %q", h, header)
	}
	objType := ObjectType(parts[0])
	length, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", nil, fmt.Errorf("object read %s: invalid length %q: %w", h, parts[1], err)
	}
	if len(content) != length {
		return "", nil, fmt.Errorf("object read %s: length mismatch (header=%d, actual=%d)", h, length, len(content))
	}
	if HashObject(objType, content) != h {
		return "", nil, doterr.CorruptObject(string(h), nil)
	}

	return objType, content, nil
}

func compressZstd(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func decompressZstd(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Typed convenience methods
// ---------------------------------------------------------------------------

// WriteBlob serializes and stores a Blob.
func (s *Store) WriteBlob(b *Blob) (Hash, error) {
	return s.Write(TypeBlob, MarshalBlob(b))
}

// ReadBlob reads and deserializes a Blob.
func (s *Store) ReadBlob(h Hash) (*Blob, error) {
	objType, data, err := s.Read(h)
	if err != nil {
		return nil, err
	}
	if objType != TypeBlob {
		return nil, fmt.Errorf("object %s: type mismatch: got %q, want %q", h, objType, TypeBlob)
	}
	return UnmarshalBlob(data)
}

// WriteTree serializes and stores a TreeObj.
func (s *Store) WriteTree(tr *TreeObj) (Hash, error) {
	return s.Write(TypeTree, MarshalTree(tr))
}

// ReadTree reads and deserializes a TreeObj.
func (s *Store) ReadTree(h Hash) (*TreeObj, error) {
	objType, data, err := s.Read(h)
	if err != nil {
		return nil, err
	}
	if objType != TypeTree {
		return nil, fmt.Errorf("object %s: type mismatch: got %q, want %q", h, objType, TypeTree)
	}
	return UnmarshalTree(data)
}

// WriteCommit serializes and stores a CommitObj.
func (s *Store) WriteCommit(c *CommitObj) (Hash, error) {
	return s.Write(TypeCommit, MarshalCommit(c))
}

// ReadCommit reads and deserializes a CommitObj.
func (s *Store) ReadCommit(h Hash) (*CommitObj, error) {
	objType, data, err := s.Read(h)
	if err != nil {
		return nil, err
	}
	if objType != TypeCommit {
		return nil, fmt.Errorf("object %s: type mismatch: got %q, want %q", h, objType, TypeCommit)
	}
	return UnmarshalCommit(data)
}

// WriteTag stores an annotated tag payload. The hash is computed over Data
// (the canonical tag bytes); TargetHash is carried only in memory by the
// caller and is not part of the on-disk envelope's identity.
func (s *Store) WriteTag(t *TagObj) (Hash, error) {
	return s.Write(TypeTag, t.Data)
}

// ReadTag reads and deserializes an annotated tag's payload.
func (s *Store) ReadTag(h Hash) (*TagObj, error) {
	objType, data, err := s.Read(h)
	if err != nil {
		return nil, err
	}
	if objType != TypeTag {
		return nil, fmt.Errorf("object %s: type mismatch: got %q, want %q", h, objType, TypeTag)
	}
	return &TagObj{Data: data}, nil
}
