package repo

import (
	"sync"

	"github.com/AfriCodeWizard/dotgit/pkg/object"
)

// Repo represents an opened dotgit repository.
type Repo struct {
	RootDir string        // working directory root
	GotDir  string        // .dotgit/ directory
	Store   *object.Store // content-addressed object store

	mergeTraversalStateOnce sync.Once
	mergeTraversalState     *mergeBaseTraversalState

	statusHashCacheMu sync.Mutex
	statusHashCache   map[string]statusFileHashCacheEntry

	// statusBlobHasher overrides how Status hashes worktree file content,
	// for tests to count and control hashing without touching the real
	// object-hashing path. Nil means use object.HashObject.
	statusBlobHasher func([]byte) object.Hash
}

func (r *Repo) getMergeTraversalState() *mergeBaseTraversalState {
	r.mergeTraversalStateOnce.Do(func() {
		r.mergeTraversalState = newMergeBaseTraversalState()
	})
	return r.mergeTraversalState
}
