package repo

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AfriCodeWizard/dotgit/pkg/object"
)

// FileStatus represents the state of a file in the working tree or index.
type FileStatus int

const (
	StatusClean     FileStatus = iota // file matches between compared areas
	StatusNew                         // in staging, not in HEAD tree
	StatusModified                    // in staging, different from HEAD
	StatusRenamed                     // same content, path changed
	StatusConflict                    // file has unresolved merge conflicts in index
	StatusDeleted                     // explicitly unstaged (Remove tombstone) or gone from disk
	StatusUntracked                   // in working dir but not in staging
	StatusDirty                       // staged but working copy differs from staged
)

// StatusEntry records the status of a single file.
type StatusEntry struct {
	Path        string     // repo-relative path
	RenamedFrom string     // non-empty when IndexStatus or WorkStatus is StatusRenamed
	IndexStatus FileStatus // staging vs HEAD comparison
	WorkStatus  FileStatus // working tree vs staging comparison
}

type headTreeState struct {
	BlobHash object.Hash
	Mode     string
}

// StatusReport pairs the per-file Status entries with the current branch
// state, surfacing whether HEAD points at a branch or is detached.
type StatusReport struct {
	Branch   string // current branch name; empty when detached
	Detached bool   // true when HEAD is a direct commit hash, not a branch ref
	Entries  []StatusEntry
}

// StatusReport computes Status and pairs it with the current HEAD state, for
// callers (the CLI's "on branch ..." header) that need to know whether HEAD
// is detached rather than just the per-file entries.
func (r *Repo) StatusReport() (*StatusReport, error) {
	entries, err := r.Status()
	if err != nil {
		return nil, err
	}

	head, err := r.Head()
	if err != nil {
		return nil, fmt.Errorf("status: read HEAD: %w", err)
	}

	report := &StatusReport{Entries: entries}
	if strings.HasPrefix(head, "refs/heads/") {
		report.Branch = strings.TrimPrefix(head, "refs/heads/")
	} else {
		report.Detached = true
	}
	return report, nil
}

// trackedBaseline is the effective tracked state of a path used for
// workspace comparisons: an explicit index entry when one exists, otherwise
// the path's entry in HEAD's tree. The index is cleared on every commit, so
// without this fallback every unmodified, previously committed file would
// look untracked or deleted the moment the index is empty.
type trackedBaseline struct {
	BlobHash object.Hash
	Mode     string
	Conflict bool
	Staged   *StagingEntry // non-nil when this path has an explicit index entry
}

// Status computes the working tree status for the repository.
//
// Algorithm:
//  1. Read staging index and flatten HEAD's tree.
//  2. Build the tracked baseline: index entries override HEAD entries.
//  3. Walk the working directory (skipping .dotgit/ and ignored paths).
//  4. Compare working tree files against the tracked baseline.
//  5. Compare staging entries against HEAD directly, to classify staged
//     changes (new/modified/renamed) independently of the fallback.
//  6. Return a sorted list of status entries.
func (r *Repo) Status() ([]StatusEntry, error) {
	lock, err := r.acquireIndexLock()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	defer r.releaseIndexLock(lock)

	stg, err := r.loadStagingLocked()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	ic := NewIgnoreChecker(r.RootDir)

	// Collect all working-tree files (repo-relative paths).
	workFiles := make(map[string]bool)
	err = filepath.WalkDir(r.RootDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(r.RootDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		// Skip the root directory itself.
		if rel == "." {
			return nil
		}

		// Skip ignored directories entirely.
		if ic.IsIgnored(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		// Only track regular files.
		if !d.IsDir() {
			workFiles[rel] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("status: walk: %w", err)
	}

	headEntries := r.headTreeEntries()

	baseline := make(map[string]trackedBaseline, len(headEntries)+len(stg.Entries))
	for path, hs := range headEntries {
		baseline[path] = trackedBaseline{BlobHash: hs.BlobHash, Mode: hs.Mode}
	}
	for path, se := range stg.Entries {
		if se.Deleted {
			// Tombstoned: the path is explicitly not tracked anymore,
			// regardless of what HEAD says, so drop the HEAD fallback too.
			delete(baseline, path)
			continue
		}
		baseline[path] = trackedBaseline{
			BlobHash: se.BlobHash,
			Mode:     normalizeFileMode(se.Mode),
			Conflict: se.Conflict,
			Staged:   se,
		}
	}

	// Build the result map keyed by path.
	result := make(map[string]*StatusEntry)
	workRenamedNewToOld, workRenamedOldToNew, err := r.detectWorktreeRenames(baseline, workFiles)
	if err != nil {
		return nil, fmt.Errorf("status: detect worktree renames: %w", err)
	}
	refreshStaging := false

	// --- Working tree vs tracked baseline comparison ---

	for path := range workFiles {
		base, tracked := baseline[path]
		if !tracked {
			if oldPath, renamed := workRenamedNewToOld[path]; renamed {
				result[path] = &StatusEntry{
					Path:        path,
					RenamedFrom: oldPath,
					IndexStatus: StatusUntracked,
					WorkStatus:  StatusRenamed,
				}
				continue
			}

			// File exists on disk but isn't tracked by the index or HEAD.
			result[path] = &StatusEntry{
				Path:        path,
				IndexStatus: StatusUntracked,
				WorkStatus:  StatusUntracked,
			}
			continue
		}

		if base.Conflict {
			result[path] = &StatusEntry{
				Path:       path,
				WorkStatus: StatusConflict,
			}
			continue
		}

		absPath := filepath.Join(r.RootDir, filepath.FromSlash(path))
		info, err := os.Stat(absPath)
		if err != nil {
			return nil, fmt.Errorf("status: stat %q: %w", path, err)
		}
		workMode := modeFromFileInfo(info)

		workStatus := StatusClean
		if normalizeFileMode(workMode) != normalizeFileMode(base.Mode) {
			workStatus = StatusDirty
		}

		blobHash, err := r.worktreeBlobHash(path, absPath, info, workMode)
		if err != nil {
			return nil, fmt.Errorf("status: hash %q: %w", path, err)
		}
		if blobHash != base.BlobHash {
			workStatus = StatusDirty
		}

		if workStatus == StatusClean && base.Staged != nil {
			if refreshStagingEntryStat(base.Staged, info, workMode) {
				refreshStaging = true
			}
		}

		result[path] = &StatusEntry{
			Path:       path,
			WorkStatus: workStatus,
		}
	}

	// For each tracked path not on disk → deleted from the working tree.
	for path, base := range baseline {
		if _, onDisk := workFiles[path]; !onDisk {
			if _, renamed := workRenamedOldToNew[path]; renamed {
				continue
			}
			entry, exists := result[path]
			if !exists {
				entry = &StatusEntry{Path: path}
				result[path] = entry
			}
			if base.Conflict {
				entry.WorkStatus = StatusConflict
			} else {
				entry.WorkStatus = StatusDeleted
			}
		}
	}

	// --- Staging vs HEAD comparison ---
	// Only explicit index entries participate here, independently of the
	// HEAD fallback above: a path absent from the index simply has nothing
	// staged, whether or not it happens to equal HEAD on disk.
	indexRenamedNewToOld, indexRenamedOldToNew := detectIndexRenames(stg, headEntries)

	for path, se := range stg.Entries {
		if se.Deleted {
			if _, foldedIntoRename := indexRenamedOldToNew[path]; foldedIntoRename {
				// The removal is really the old half of a rename, already
				// reported on the new path's entry; don't also show it as a
				// standalone deletion.
				continue
			}
		}

		entry, exists := result[path]
		if !exists {
			entry = &StatusEntry{Path: path}
			result[path] = entry
		}

		if se.Deleted {
			entry.IndexStatus = StatusDeleted
			continue
		}

		headState, inHead := headEntries[path]
		if se.Conflict {
			entry.IndexStatus = StatusConflict
		} else if !inHead {
			if oldPath, renamed := indexRenamedNewToOld[path]; renamed {
				entry.IndexStatus = StatusRenamed
				entry.RenamedFrom = oldPath
			} else {
				entry.IndexStatus = StatusNew
			}
		} else if se.BlobHash != headState.BlobHash || normalizeFileMode(se.Mode) != normalizeFileMode(headState.Mode) {
			entry.IndexStatus = StatusModified
		} else {
			entry.IndexStatus = StatusClean
		}
	}
	// Collect and sort.
	entries := make([]StatusEntry, 0, len(result))
	for _, e := range result {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})

	if refreshStaging {
		if err := r.saveStagingLocked(stg); err != nil {
			return nil, fmt.Errorf("status: refresh staging: %w", err)
		}
	}

	return entries, nil
}

// headTreeEntries attempts to read the HEAD commit's tree and flatten it
// into a map of path → BlobHash. If there are no commits yet (fresh repo)
// or if tree reading fails, an empty map is returned.
func (r *Repo) headTreeEntries() map[string]headTreeState {
	result := make(map[string]headTreeState)

	headHash, err := r.ResolveRef("HEAD")
	if err != nil {
		// No commits yet — HEAD is empty.
		return result
	}

	commit, err := r.Store.ReadCommit(headHash)
	if err != nil {
		return result
	}

	// Recursively flatten the tree.
	r.flattenTree(commit.TreeHash, "", result)
	return result
}

// flattenTree recursively walks a tree object and populates entries with
// path → BlobHash mappings.
func (r *Repo) flattenTree(treeHash object.Hash, prefix string, entries map[string]headTreeState) {
	tree, err := r.Store.ReadTree(treeHash)
	if err != nil {
		return
	}

	for _, te := range tree.Entries {
		path := te.Name
		if prefix != "" {
			path = prefix + "/" + te.Name
		}

		if te.IsDir && te.SubtreeHash != "" {
			r.flattenTree(te.SubtreeHash, path, entries)
		} else if !te.IsDir {
			entries[path] = headTreeState{
				BlobHash: te.BlobHash,
				Mode:     normalizeFileMode(te.Mode),
			}
		}
	}
}

func refreshStagingEntryStat(se *StagingEntry, info os.FileInfo, workMode string) bool {
	if se == nil {
		return false
	}
	nextMode := normalizeFileMode(workMode)
	nextModTime := info.ModTime().UnixNano()
	nextSize := info.Size()
	if se.ModTime == nextModTime && se.Size == nextSize && normalizeFileMode(se.Mode) == nextMode {
		return false
	}
	se.Mode = nextMode
	se.ModTime = nextModTime
	se.Size = nextSize
	return true
}

func detectIndexRenames(stg *Staging, headEntries map[string]headTreeState) (map[string]string, map[string]string) {
	newByKey := make(map[string][]string)
	oldByKey := make(map[string][]string)

	for path, se := range stg.Entries {
		if se.Deleted {
			continue
		}
		if _, inHead := headEntries[path]; inHead {
			continue
		}
		key := renameMatchKey(se.BlobHash, se.Mode)
		newByKey[key] = append(newByKey[key], path)
	}
	for path, hs := range headEntries {
		// A Deleted tombstone is an explicit unstage, not a live entry, so it
		// doesn't disqualify this HEAD path from being a rename source.
		if se, inStaging := stg.Entries[path]; inStaging && !se.Deleted {
			continue
		}
		key := renameMatchKey(hs.BlobHash, hs.Mode)
		oldByKey[key] = append(oldByKey[key], path)
	}

	return pairRenameCandidates(newByKey, oldByKey)
}

// detectWorktreeRenames pairs an on-disk file that has no tracked baseline
// with a tracked baseline path that has gone missing from disk, when their
// content and mode match. baseline already folds in the HEAD fallback, so a
// rename of a file nobody has re-staged since the last commit is still
// detected.
func (r *Repo) detectWorktreeRenames(baseline map[string]trackedBaseline, workFiles map[string]bool) (map[string]string, map[string]string, error) {
	oldByKey := make(map[string][]string)
	newByKey := make(map[string][]string)

	for path, base := range baseline {
		if workFiles[path] {
			continue
		}
		key := renameMatchKey(base.BlobHash, base.Mode)
		oldByKey[key] = append(oldByKey[key], path)
	}

	for path := range workFiles {
		if _, tracked := baseline[path]; tracked {
			continue
		}
		absPath := filepath.Join(r.RootDir, filepath.FromSlash(path))
		info, err := os.Stat(absPath)
		if err != nil {
			return nil, nil, err
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, nil, err
		}
		key := renameMatchKey(object.HashObject(object.TypeBlob, data), modeFromFileInfo(info))
		newByKey[key] = append(newByKey[key], path)
	}

	newToOld, oldToNew := pairRenameCandidates(newByKey, oldByKey)
	return newToOld, oldToNew, nil
}

func pairRenameCandidates(newByKey, oldByKey map[string][]string) (map[string]string, map[string]string) {
	newToOld := make(map[string]string)
	oldToNew := make(map[string]string)

	for key, newPaths := range newByKey {
		oldPaths := oldByKey[key]
		if len(oldPaths) == 0 {
			continue
		}

		sort.Strings(newPaths)
		sort.Strings(oldPaths)

		n := len(newPaths)
		if len(oldPaths) < n {
			n = len(oldPaths)
		}

		for i := 0; i < n; i++ {
			newPath := newPaths[i]
			oldPath := oldPaths[i]
			newToOld[newPath] = oldPath
			oldToNew[oldPath] = newPath
		}
	}

	return newToOld, oldToNew
}

func renameMatchKey(blobHash object.Hash, mode string) string {
	return string(blobHash) + "|" + normalizeFileMode(strings.TrimSpace(mode))
}
