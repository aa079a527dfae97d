package repo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AfriCodeWizard/dotgit/pkg/doterr"
	"github.com/AfriCodeWizard/dotgit/pkg/object"
)

// StagingEntry records the staged state of a single file. This is the one
// canonical index entry shape: it carries both the ordinary staged-file
// fields and the conflict fields used only while MERGE_HEAD is set.
type StagingEntry struct {
	Path     string      `json:"path"`
	BlobHash object.Hash `json:"blob_hash"`
	Size     int64       `json:"size"`
	ModTime  int64       `json:"mod_time"`
	Mode     string      `json:"mode"`
	Staged   bool        `json:"staged"`

	Conflict       bool        `json:"conflict,omitempty"`
	BaseBlobHash   object.Hash `json:"base_blob_hash,omitempty"`
	OursBlobHash   object.Hash `json:"ours_blob_hash,omitempty"`
	TheirsBlobHash object.Hash `json:"theirs_blob_hash,omitempty"`

	// Deleted marks a path Remove has explicitly unstaged relative to HEAD.
	// It is a tombstone, not a removal from Entries: the index is cleared on
	// every commit, so a path with no entry at all here simply falls back to
	// HEAD (see trackedBaseline in status.go) and would otherwise look
	// untouched. The tombstone is what lets Status report a real staged
	// deletion, and what tells BuildTree's HEAD fallback to drop the path
	// from the new tree instead of carrying it forward.
	Deleted bool `json:"deleted,omitempty"`
}

// Staging holds the full staging area (index) for a dotgit repository.
type Staging struct {
	Entries map[string]*StagingEntry `json:"entries"`
}

// indexPath returns the filesystem path to the staging index file.
func (r *Repo) indexPath() string {
	return filepath.Join(r.GotDir, "index")
}

const (
	indexLockRetryLimit  = 5
	indexLockBaseDelay   = 20 * time.Millisecond
	indexLockStaleAfter  = 10 * time.Second
)

// acquireIndexLock takes the index lockfile, retrying with exponential
// back-off up to indexLockRetryLimit times. A lockfile older than
// indexLockStaleAfter is considered abandoned (e.g. from a crashed process)
// and is stolen rather than waited on.
func (r *Repo) acquireIndexLock() (*os.File, error) {
	lockPath := r.indexPath() + ".lock"
	delay := indexLockBaseDelay

	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("acquire index lock: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil {
			if time.Since(info.ModTime()) > indexLockStaleAfter {
				_ = os.Remove(lockPath)
				continue
			}
		}

		if attempt >= indexLockRetryLimit {
			return nil, fmt.Errorf("acquire index lock: timed out after %d attempts", indexLockRetryLimit+1)
		}
		time.Sleep(delay)
		delay *= 2
	}
}

func (r *Repo) releaseIndexLock(f *os.File) {
	if f == nil {
		return
	}
	lockPath := r.indexPath() + ".lock"
	_ = f.Close()
	_ = os.Remove(lockPath)
}

// ReadStaging loads the staging area from .dotgit/index, holding the index
// lock for the duration of the read. If the file does not exist, an empty
// Staging is returned (no error).
func (r *Repo) ReadStaging() (*Staging, error) {
	lock, err := r.acquireIndexLock()
	if err != nil {
		return nil, fmt.Errorf("read staging: %w", err)
	}
	defer r.releaseIndexLock(lock)
	return r.loadStagingLocked()
}

// WriteStaging atomically writes the staging area to .dotgit/index, holding
// the index lock for the duration of the write.
func (r *Repo) WriteStaging(s *Staging) error {
	lock, err := r.acquireIndexLock()
	if err != nil {
		return fmt.Errorf("write staging: %w", err)
	}
	defer r.releaseIndexLock(lock)
	return r.saveStagingLocked(s)
}

// withStaging acquires the index lock once, loads the staging area, lets fn
// mutate it in place, and writes it back before releasing the lock — so a
// read-modify-write cycle is atomic with respect to every other reader or
// writer of the index, not just the individual load and save. Callers that
// mutate stg.Entries must go through this instead of pairing a bare
// ReadStaging with a bare WriteStaging.
func (r *Repo) withStaging(fn func(stg *Staging) error) error {
	lock, err := r.acquireIndexLock()
	if err != nil {
		return fmt.Errorf("lock staging: %w", err)
	}
	defer r.releaseIndexLock(lock)

	stg, err := r.loadStagingLocked()
	if err != nil {
		return err
	}
	if err := fn(stg); err != nil {
		return err
	}
	return r.saveStagingLocked(stg)
}

// loadStagingLocked reads and deserializes .dotgit/index. Callers must hold
// the index lock.
func (r *Repo) loadStagingLocked() (*Staging, error) {
	data, err := os.ReadFile(r.indexPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Staging{Entries: make(map[string]*StagingEntry)}, nil
		}
		return nil, fmt.Errorf("read staging: %w", err)
	}

	var stg Staging
	if err := json.Unmarshal(data, &stg); err != nil {
		return nil, doterr.CorruptIndex(r.indexPath(), err)
	}
	if stg.Entries == nil {
		stg.Entries = make(map[string]*StagingEntry)
	}
	return &stg, nil
}

// saveStagingLocked serializes and atomically writes the staging area.
// Callers must hold the index lock.
func (r *Repo) saveStagingLocked(s *Staging) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("write staging: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(r.GotDir, ".index-tmp-*")
	if err != nil {
		return fmt.Errorf("write staging: tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write staging: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write staging: close: %w", err)
	}

	if err := os.Rename(tmpName, r.indexPath()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write staging: rename: %w", err)
	}
	return nil
}

// Add stages the given pathspecs. Each pathspec is expanded — a literal
// file, a glob pattern, a directory, or "." for the whole tree — into the
// set of repo-relative file paths it names, skipping anything IsIgnored.
// Every resulting file is written as a blob to the object store and
// recorded in the index with its size, mtime, and mode. The whole
// read-modify-write cycle against the index happens under a single lock
// acquisition so concurrent Add calls on distinct paths cannot clobber
// each other.
func (r *Repo) Add(paths []string) error {
	ic := NewIgnoreChecker(r.RootDir)
	relPaths, err := r.expandPathspecs(paths, ic)
	if err != nil {
		return fmt.Errorf("add: %w", err)
	}

	blobs := make(map[string]object.Hash, len(relPaths))
	infos := make(map[string]os.FileInfo, len(relPaths))
	for _, relPath := range relPaths {
		absPath := filepath.Join(r.RootDir, relPath)
		content, err := os.ReadFile(absPath)
		if err != nil {
			return fmt.Errorf("add: read %q: %w", relPath, err)
		}
		info, err := os.Stat(absPath)
		if err != nil {
			return fmt.Errorf("add: stat %q: %w", relPath, err)
		}
		blobHash, err := r.Store.WriteBlob(&object.Blob{Data: content})
		if err != nil {
			return fmt.Errorf("add: write blob %q: %w", relPath, err)
		}
		blobs[relPath] = blobHash
		infos[relPath] = info
	}

	err = r.withStaging(func(stg *Staging) error {
		for _, relPath := range relPaths {
			info := infos[relPath]
			stg.Entries[relPath] = &StagingEntry{
				Path:     relPath,
				BlobHash: blobs[relPath],
				Size:     info.Size(),
				ModTime:  info.ModTime().UnixNano(),
				Mode:     modeFromFileInfo(info),
				Staged:   true,
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("add: %w", err)
	}
	r.invalidateStatusCache()
	return nil
}

// Remove unstages the given pathspecs. Unless cached is true, it also
// deletes the files from the working tree. Each path names a tracked file
// or a directory, which stands for every tracked path beneath it; unlike
// Add, no path is required to still exist on disk, and glob patterns are
// not expanded. A path still
// tracked in HEAD gets a Deleted tombstone instead of being dropped from the
// index outright, so the next commit actually excludes it; a path that was
// only staged (never committed) is simply unstaged.
func (r *Repo) Remove(paths []string, cached bool) error {
	relPaths := make([]string, 0, len(paths))
	for _, p := range paths {
		rel, err := r.repoRelPath(p)
		if err != nil {
			return fmt.Errorf("remove: %w", err)
		}
		if rel == ".." || strings.HasPrefix(rel, "../") {
			return fmt.Errorf("remove: path %q is outside the repository", p)
		}
		relPaths = append(relPaths, rel)
	}

	headEntries := r.headTreeEntries()
	tracked := r.trackedFiles()

	var removed []string
	err := r.withStaging(func(stg *Staging) error {
		for _, rel := range relPaths {
			// A directory expands to every tracked path beneath it.
			var targets []string
			for p := range tracked {
				if p == rel || strings.HasPrefix(p, rel+"/") {
					targets = append(targets, p)
				}
			}
			if len(targets) == 0 {
				targets = []string{rel}
			}
			for _, rel := range targets {
				_, staged := stg.Entries[rel]
				headState, inHead := headEntries[rel]
				if !staged && !inHead {
					return doterr.InvalidArgument(fmt.Sprintf("pathspec %q did not match any tracked files", rel))
				}
				if inHead {
					// Tombstone rather than delete: HEAD still has this path, so
					// plainly removing the entry would just fall back to HEAD on
					// the next Status/BuildTree.
					stg.Entries[rel] = &StagingEntry{
						Path:     rel,
						BlobHash: headState.BlobHash,
						Mode:     headState.Mode,
						Deleted:  true,
					}
				} else {
					delete(stg.Entries, rel)
				}
				removed = append(removed, rel)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}

	if !cached {
		for _, rel := range removed {
			absPath := filepath.Join(r.RootDir, filepath.FromSlash(rel))
			if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove: delete %q: %w", rel, err)
			}
			r.removeEmptyParents(filepath.Dir(absPath))
		}
	}

	r.invalidateStatusCache()
	return nil
}

// baseDir returns the directory pathspecs in Add should be resolved
// against: the current working directory if it is inside the repository,
// otherwise the repository root itself (so tests and callers that never
// chdir into the repo still resolve "." and globs against it).
func (r *Repo) baseDir() string {
	cwd, err := os.Getwd()
	if err != nil {
		return r.RootDir
	}
	rel, err := filepath.Rel(r.RootDir, cwd)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return r.RootDir
	}
	return cwd
}

// expandPathspecs turns literal paths, glob patterns, directories, and "."
// into the flat, deduped set of repo-relative file paths to stage,
// skipping anything ic reports as ignored.
func (r *Repo) expandPathspecs(paths []string, ic *IgnoreChecker) ([]string, error) {
	base := r.baseDir()
	seen := make(map[string]bool)
	var out []string

	appendPath := func(absPath string) error {
		relPath, err := r.repoRelPath(absPath)
		if err != nil {
			return fmt.Errorf("resolve path %q: %w", absPath, err)
		}
		if strings.HasPrefix(relPath, "..") {
			return fmt.Errorf("path %q is outside the repository", absPath)
		}
		if ic.IsIgnored(relPath) || seen[relPath] {
			return nil
		}
		seen[relPath] = true
		out = append(out, relPath)
		return nil
	}

	walkDir := func(root string) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, relErr := r.repoRelPath(path)
			if relErr == nil && ic.IsIgnored(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			return appendPath(path)
		})
	}

	for _, p := range paths {
		switch {
		case p == ".":
			if err := walkDir(r.RootDir); err != nil {
				return nil, fmt.Errorf("walk %q: %w", p, err)
			}

		case strings.ContainsAny(p, "*?["):
			pattern := p
			if !filepath.IsAbs(pattern) {
				pattern = filepath.Join(base, pattern)
			}
			matches, err := filepath.Glob(pattern)
			if err != nil {
				return nil, fmt.Errorf("glob %q: %w", p, err)
			}
			if len(matches) == 0 {
				return nil, fmt.Errorf("pathspec %q did not match any files", p)
			}
			for _, m := range matches {
				info, err := os.Stat(m)
				if err != nil {
					return nil, fmt.Errorf("stat %q: %w", m, err)
				}
				if info.IsDir() {
					if err := walkDir(m); err != nil {
						return nil, fmt.Errorf("walk %q: %w", m, err)
					}
					continue
				}
				if err := appendPath(m); err != nil {
					return nil, err
				}
			}

		default:
			abs := p
			if !filepath.IsAbs(abs) {
				abs = filepath.Join(base, p)
			}
			info, err := os.Stat(abs)
			if err != nil {
				return nil, fmt.Errorf("resolve path %q: %w", p, err)
			}
			if info.IsDir() {
				if err := walkDir(abs); err != nil {
					return nil, fmt.Errorf("walk %q: %w", p, err)
				}
				continue
			}
			if err := appendPath(abs); err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

// repoRelPath converts a path (absolute, or relative to CWD) into a path
// relative to the repository root. If the path is already relative and does
// not start with the repo root, it is assumed to already be repo-relative.
func (r *Repo) repoRelPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(r.RootDir, p)
		if err != nil {
			return "", fmt.Errorf("cannot make %q relative to %q: %w", p, r.RootDir, err)
		}
		return filepath.ToSlash(rel), nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return filepath.ToSlash(filepath.Clean(p)), nil
	}

	abs := filepath.Join(cwd, p)
	rel, err := filepath.Rel(r.RootDir, abs)
	if err != nil {
		return filepath.ToSlash(filepath.Clean(p)), nil
	}

	if len(rel) >= 2 && rel[:2] == ".." {
		return filepath.ToSlash(filepath.Clean(p)), nil
	}

	return filepath.ToSlash(rel), nil
}
