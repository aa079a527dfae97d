package repo

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/AfriCodeWizard/dotgit/pkg/doterr"
	"github.com/AfriCodeWizard/dotgit/pkg/object"
)

// defaultLogMaxDepth bounds how far Log walks first-parent history when the
// caller passes a non-positive limit.
const defaultLogMaxDepth = 100

// Commit creates a new commit from the current staging area.
//
//  1. Read staging
//  2. Overlay staging on HEAD's tree (effectiveTreeStaging) and BuildTree
//  3. Resolve HEAD to get parent commit hash (if any)
//  4. Create CommitObj with tree hash, parent, author, current timestamp, message
//  5. Write commit to store
//  6. Update current branch ref to new commit hash
//  7. Clear the staging area
//  8. Return commit hash
func (r *Repo) Commit(message, author string) (object.Hash, error) {
	stg, err := r.ReadStaging()
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	if len(stg.Entries) == 0 {
		return "", doterr.InvalidArgument("nothing to commit")
	}
	for path, e := range stg.Entries {
		if e.Conflict {
			return "", doterr.MergeConflict(path)
		}
	}

	mergeSource, err := r.readMergeHead()
	if err != nil {
		return "", fmt.Errorf("commit: read MERGE_HEAD: %w", err)
	}

	treeHash, err := r.BuildTree(r.effectiveTreeStaging(stg))
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	var parents []object.Hash
	parentHash, err := r.ResolveRef("HEAD")
	if err == nil && parentHash != "" {
		parents = append(parents, parentHash)
	}
	if mergeSource != "" {
		parents = append(parents, mergeSource)
	}

	now := time.Now()
	commitObj := &object.CommitObj{
		TreeHash:           treeHash,
		Parents:            parents,
		Author:             author,
		Timestamp:          now.Unix(),
		AuthorTimezone:     now.Format("-0700"),
		Committer:          author,
		CommitterTimestamp: now.Unix(),
		CommitterTimezone:  now.Format("-0700"),
		Message:            message,
	}

	commitHash, err := r.Store.WriteCommit(commitObj)
	if err != nil {
		return "", fmt.Errorf("commit: write commit: %w", err)
	}

	head, err := r.Head()
	if err != nil {
		return "", fmt.Errorf("commit: read HEAD: %w", err)
	}

	if strings.HasPrefix(head, "refs/") {
		var updateErr error
		if parentHash == "" {
			updateErr = r.UpdateRefCAS(head, commitHash)
		} else {
			updateErr = r.UpdateRefCAS(head, commitHash, parentHash)
		}
		if updateErr != nil {
			return "", fmt.Errorf("commit: update ref %q: %w", head, updateErr)
		}
	} else {
		if err := r.UpdateRefCAS("HEAD", commitHash, object.Hash(strings.TrimSpace(head))); err != nil {
			return "", fmt.Errorf("commit: update detached HEAD: %w", err)
		}
	}

	if mergeSource != "" {
		if err := r.clearMergeHead(); err != nil {
			return "", fmt.Errorf("commit: clear MERGE_HEAD: %w", err)
		}
	}

	// The index is flushed into the commit's tree; clear it so the next
	// Status compares the working tree against the new HEAD rather than
	// against a now-committed staging snapshot.
	if err := r.withStaging(func(s *Staging) error {
		s.Entries = make(map[string]*StagingEntry)
		return nil
	}); err != nil {
		return "", fmt.Errorf("commit: clear staging: %w", err)
	}

	r.invalidateStatusCache()

	return commitHash, nil
}

// effectiveTreeStaging returns the staging snapshot BuildTree should use for
// the next commit: stg's explicit entries, overlaid on top of HEAD's tree so
// paths nobody touched since the last commit are still carried forward, with
// any Remove tombstones (Deleted) dropped rather than written into the tree.
// Without this, clearing the index on every commit would make the very next
// commit's tree contain only whatever was staged for it, silently discarding
// every untouched file.
func (r *Repo) effectiveTreeStaging(stg *Staging) *Staging {
	merged := &Staging{Entries: make(map[string]*StagingEntry, len(stg.Entries))}

	for path, state := range r.headTreeEntries() {
		merged.Entries[path] = &StagingEntry{
			Path:     path,
			BlobHash: state.BlobHash,
			Mode:     state.Mode,
			Staged:   true,
		}
	}
	for path, se := range stg.Entries {
		if se.Deleted {
			delete(merged.Entries, path)
			continue
		}
		merged.Entries[path] = se
	}
	return merged
}

// Log walks the commit history starting from the given hash, following
// first-parent links, returning up to limit commits in reverse-chronological
// order (newest first). A non-positive limit falls back to
// defaultLogMaxDepth.
func (r *Repo) Log(start object.Hash, limit int) ([]*object.CommitObj, error) {
	if limit <= 0 {
		limit = defaultLogMaxDepth
	}

	var commits []*object.CommitObj
	current := start

	for len(commits) < limit && current != "" {
		c, err := r.Store.ReadCommit(current)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				break
			}
			return nil, fmt.Errorf("log: read commit %s: %w", current, err)
		}
		commits = append(commits, c)

		if len(c.Parents) == 0 {
			break
		}
		current = c.Parents[0]
	}

	return commits, nil
}

// DiffCommits returns the set of file-level changes between two commits'
// trees, comparing the two flattened trees path by path.
func (r *Repo) DiffCommits(from, to object.Hash) ([]TreeChange, error) {
	var fromFiles, toFiles []TreeFileEntry
	var err error

	if from != "" {
		fromCommit, err2 := r.Store.ReadCommit(from)
		if err2 != nil {
			return nil, fmt.Errorf("diff commits: read %s: %w", from, err2)
		}
		fromFiles, err = r.FlattenTree(fromCommit.TreeHash)
		if err != nil {
			return nil, fmt.Errorf("diff commits: flatten %s: %w", from, err)
		}
	}

	toCommit, err := r.Store.ReadCommit(to)
	if err != nil {
		return nil, fmt.Errorf("diff commits: read %s: %w", to, err)
	}
	toFiles, err = r.FlattenTree(toCommit.TreeHash)
	if err != nil {
		return nil, fmt.Errorf("diff commits: flatten %s: %w", to, err)
	}

	fromMap := indexByPath(fromFiles)
	toMap := indexByPath(toFiles)

	var changes []TreeChange
	for path, toEntry := range toMap {
		if fromEntry, ok := fromMap[path]; ok {
			if fromEntry.BlobHash != toEntry.BlobHash {
				changes = append(changes, TreeChange{Path: path, Kind: "modified"})
			}
		} else {
			changes = append(changes, TreeChange{Path: path, Kind: "added"})
		}
	}
	for path := range fromMap {
		if _, ok := toMap[path]; !ok {
			changes = append(changes, TreeChange{Path: path, Kind: "deleted"})
		}
	}
	return changes, nil
}

// TreeChange describes one file-level difference between two tree
// snapshots, as produced by DiffCommits.
type TreeChange struct {
	Path string
	Kind string // "added", "modified", "deleted"
}
