package repo

import (
	"bytes"
	"container/heap"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/AfriCodeWizard/dotgit/pkg/doterr"
	"github.com/AfriCodeWizard/dotgit/pkg/object"
)

// FileMergeReport records the merge outcome for a single file.
type FileMergeReport struct {
	Path          string
	Status        string // "clean", "conflict", "added", "deleted"
	ConflictCount int
}

// MergeReport is the overall result of a repository-level merge.
type MergeReport struct {
	Files          []FileMergeReport
	HasConflicts   bool
	TotalConflicts int
	MergeCommit    object.Hash // new merge commit for a clean merge; the source commit for a fast-forward
	UpToDate       bool        // source is already an ancestor of HEAD; nothing to do
	FastForward    bool        // HEAD was advanced to the source commit, no merge commit created
}

type mergeConflictState struct {
	path       string
	baseHash   object.Hash
	oursHash   object.Hash
	theirsHash object.Hash
	mode       string
}

const (
	maxMergeBaseBFSSteps = 1_000_000
	maxMergeBaseBFSDepth = 1_000_000
)

// These vars allow tests to tighten safety limits without affecting
// production defaults.
var (
	mergeBaseBFSStepsLimit = maxMergeBaseBFSSteps
	mergeBaseBFSDepthLimit = maxMergeBaseBFSDepth
)

type mergeBaseTraversalQueueItem struct {
	hash  object.Hash
	depth int
}

func mergeBaseTraversalLimits() (maxSteps int, maxDepth int) {
	maxSteps = normalizeMergeBaseTraversalLimit(mergeBaseBFSStepsLimit, maxMergeBaseBFSSteps)
	maxDepth = normalizeMergeBaseTraversalLimit(mergeBaseBFSDepthLimit, maxMergeBaseBFSDepth)

	return maxSteps, maxDepth
}

func normalizeMergeBaseTraversalLimit(limit, hardMax int) int {
	// Keep safety defaults as hard bounds; test hooks may only tighten.
	if limit <= 0 || limit > hardMax {
		return hardMax
	}
	return limit
}

func mergeBaseStepsLimitError(limit int) error {
	return fmt.Errorf("find merge base: traversal exceeded maximum steps (%d)", limit)
}

func mergeBaseDepthLimitError(limit int) error {
	return fmt.Errorf("find merge base: traversal exceeded maximum depth (%d)", limit)
}

// FindMergeBase finds a common ancestor of two commits. It uses cached
// generation numbers for pruning, fast ancestor checks for linear histories,
// and a memoized pair cache for repeated queries.
func (r *Repo) FindMergeBase(a, b object.Hash) (object.Hash, error) {
	if a == "" || b == "" {
		return "", nil
	}
	if a == b {
		return a, nil
	}

	state := r.getMergeTraversalState()
	if cached, ok := state.loadMergeBase(a, b); ok {
		if cached.found {
			return cached.base, nil
		}
		return "", nil
	}

	genA, err := state.generation(r, a)
	if err != nil {
		return "", err
	}
	genB, err := state.generation(r, b)
	if err != nil {
		return "", err
	}

	// Fast path: one side already contains the other.
	if genA <= genB {
		isAncestor, err := r.isAncestorWithGeneration(state, a, b, genA, genB)
		if err != nil {
			return "", err
		}
		if isAncestor {
			state.storeMergeBase(a, b, a, true)
			return a, nil
		}
		isAncestor, err = r.isAncestorWithGeneration(state, b, a, genB, genA)
		if err != nil {
			return "", err
		}
		if isAncestor {
			state.storeMergeBase(a, b, b, true)
			return b, nil
		}
	} else {
		isAncestor, err := r.isAncestorWithGeneration(state, b, a, genB, genA)
		if err != nil {
			return "", err
		}
		if isAncestor {
			state.storeMergeBase(a, b, b, true)
			return b, nil
		}
		isAncestor, err = r.isAncestorWithGeneration(state, a, b, genA, genB)
		if err != nil {
			return "", err
		}
		if isAncestor {
			state.storeMergeBase(a, b, a, true)
			return a, nil
		}
	}

	base, found, err := r.findMergeBaseWithPruning(state, a, b, genA, genB)
	if err != nil {
		return "", err
	}
	state.storeMergeBase(a, b, base, found)
	if !found {
		return "", nil
	}
	return base, nil
}

// IsAncestor reports whether ancestor is reachable by walking parents from
// descendant (or equals it). It is used to decide whether a branch's tip is
// fully merged into another branch before allowing its deletion.
func (r *Repo) IsAncestor(ancestor, descendant object.Hash) (bool, error) {
	if ancestor == "" || descendant == "" {
		return false, nil
	}
	base, err := r.FindMergeBase(ancestor, descendant)
	if err != nil {
		return false, err
	}
	return base == ancestor, nil
}

func (r *Repo) isAncestorWithGeneration(state *mergeBaseTraversalState, ancestor, descendant object.Hash, ancestorGeneration, descendantGeneration uint64) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}
	if ancestorGeneration > descendantGeneration {
		return false, nil
	}

	maxSteps, maxDepth := mergeBaseTraversalLimits()
	visited := map[object.Hash]struct{}{descendant: {}}
	queue := []mergeBaseTraversalQueueItem{{hash: descendant, depth: 0}}
	steps := 0

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		steps++
		if steps > maxSteps {
			return false, mergeBaseStepsLimitError(maxSteps)
		}
		if item.depth > maxDepth {
			return false, mergeBaseDepthLimitError(maxDepth)
		}

		cur := item.hash
		if cur == ancestor {
			return true, nil
		}

		curGeneration, err := state.generation(r, cur)
		if err != nil {
			return false, err
		}
		if curGeneration <= ancestorGeneration {
			continue
		}

		commit, err := state.readCommit(r, cur)
		if err != nil {
			return false, err
		}
		for _, p := range commit.Parents {
			if p == "" {
				continue
			}
			if _, seen := visited[p]; seen {
				continue
			}
			parentGeneration, err := state.generation(r, p)
			if err != nil {
				return false, err
			}
			if parentGeneration < ancestorGeneration {
				continue
			}
			childDepth := item.depth + 1
			if childDepth > maxDepth {
				return false, mergeBaseDepthLimitError(maxDepth)
			}
			visited[p] = struct{}{}
			queue = append(queue, mergeBaseTraversalQueueItem{hash: p, depth: childDepth})
		}
	}

	return false, nil
}

func (r *Repo) findMergeBaseWithPruning(state *mergeBaseTraversalState, a, b object.Hash, genA, genB uint64) (object.Hash, bool, error) {
	maxSteps, maxDepth := mergeBaseTraversalLimits()

	visitedA := map[object.Hash]struct{}{a: {}}
	visitedB := map[object.Hash]struct{}{b: {}}
	depthA := map[object.Hash]int{a: 0}
	depthB := map[object.Hash]int{b: 0}

	queueA := mergeBaseMaxHeap{{hash: a, generation: genA}}
	queueB := mergeBaseMaxHeap{{hash: b, generation: genB}}
	heap.Init(&queueA)
	heap.Init(&queueB)

	best := object.Hash("")
	var bestGeneration uint64
	steps := 0

	for queueA.Len() > 0 || queueB.Len() > 0 {
		if best != "" {
			topA, okA := queueA.Peek()
			topB, okB := queueB.Peek()
			if (!okA || topA.generation < bestGeneration) && (!okB || topB.generation < bestGeneration) {
				break
			}
		}

		traverseA := false
		switch {
		case queueA.Len() == 0:
			traverseA = false
		case queueB.Len() == 0:
			traverseA = true
		default:
			topA := queueA[0]
			topB := queueB[0]
			if topA.generation > topB.generation {
				traverseA = true
			} else if topA.generation < topB.generation {
				traverseA = false
			} else {
				traverseA = topA.hash <= topB.hash
			}
		}

		var item mergeBaseQueueItem
		if traverseA {
			item = heap.Pop(&queueA).(mergeBaseQueueItem)
		} else {
			item = heap.Pop(&queueB).(mergeBaseQueueItem)
		}

		steps++
		if steps > maxSteps {
			return "", false, mergeBaseStepsLimitError(maxSteps)
		}
		if best != "" && item.generation < bestGeneration {
			continue
		}

		itemDepth := 0
		if traverseA {
			itemDepth = depthA[item.hash]
		} else {
			itemDepth = depthB[item.hash]
		}
		if itemDepth > maxDepth {
			return "", false, mergeBaseDepthLimitError(maxDepth)
		}

		if traverseA {
			if _, seen := visitedB[item.hash]; seen {
				best, bestGeneration = chooseBetterMergeBase(best, bestGeneration, item.hash, item.generation)
			}
		} else {
			if _, seen := visitedA[item.hash]; seen {
				best, bestGeneration = chooseBetterMergeBase(best, bestGeneration, item.hash, item.generation)
			}
		}

		commit, err := state.readCommit(r, item.hash)
		if err != nil {
			return "", false, err
		}

		for _, p := range commit.Parents {
			if p == "" {
				continue
			}

			parentGeneration, err := state.generation(r, p)
			if err != nil {
				return "", false, err
			}
			if best != "" && parentGeneration < bestGeneration {
				continue
			}

			childDepth := itemDepth + 1
			if childDepth > maxDepth {
				return "", false, mergeBaseDepthLimitError(maxDepth)
			}

			if traverseA {
				if _, seen := visitedA[p]; seen {
					continue
				}
				visitedA[p] = struct{}{}
				depthA[p] = childDepth
				heap.Push(&queueA, mergeBaseQueueItem{hash: p, generation: parentGeneration})
				if _, seen := visitedB[p]; seen {
					best, bestGeneration = chooseBetterMergeBase(best, bestGeneration, p, parentGeneration)
				}
			} else {
				if _, seen := visitedB[p]; seen {
					continue
				}
				visitedB[p] = struct{}{}
				depthB[p] = childDepth
				heap.Push(&queueB, mergeBaseQueueItem{hash: p, generation: parentGeneration})
				if _, seen := visitedA[p]; seen {
					best, bestGeneration = chooseBetterMergeBase(best, bestGeneration, p, parentGeneration)
				}
			}
		}
	}

	if best == "" {
		return "", false, nil
	}
	return best, true, nil
}

func chooseBetterMergeBase(best object.Hash, bestGeneration uint64, candidate object.Hash, candidateGeneration uint64) (object.Hash, uint64) {
	if best == "" {
		return candidate, candidateGeneration
	}
	if candidateGeneration > bestGeneration {
		return candidate, candidateGeneration
	}
	if candidateGeneration < bestGeneration {
		return best, bestGeneration
	}
	if candidate < best {
		return candidate, candidateGeneration
	}
	return best, bestGeneration
}

// Merge merges the named branch into the current HEAD.
//
// Algorithm:
//  1. Resolve current HEAD and branch name to commit hashes
//  2. FindMergeBase(headHash, branchHash)
//  3. Flatten all three trees (base, ours=HEAD, theirs=branch)
//  4. Collect all file paths across all three trees
//  5. For each file, perform the appropriate merge action
//  6. If clean: write files, stage, auto-commit with two parents
//  7. If conflicts: write conflict-marker files, do NOT commit
func (r *Repo) Merge(branchName string) (*MergeReport, error) {
	if r.hasMergeHead() {
		return nil, doterr.MergeInProgress()
	}

	// 1. Resolve HEAD and branch.
	headHash, err := r.ResolveRef("HEAD")
	if err != nil {
		return nil, fmt.Errorf("merge: resolve HEAD: %w", err)
	}
	branchHash, err := r.ResolveRef("refs/heads/" + branchName)
	if err != nil {
		return nil, fmt.Errorf("merge: resolve branch %q: %w", branchName, err)
	}

	// 2. Find merge base.
	baseHash, err := r.FindMergeBase(headHash, branchHash)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}

	// Already up to date: the source branch is already reachable from HEAD
	// (this also covers merging a branch into itself, where base == ours ==
	// theirs), so there is nothing to merge and no commit to create.
	if baseHash == branchHash {
		return &MergeReport{UpToDate: true}, nil
	}

	// Fast-forward: HEAD has not diverged from the source branch, so advance
	// the current branch ref to it directly instead of synthesizing a
	// two-parent merge commit.
	if baseHash == headHash {
		return r.fastForwardMerge(branchName, headHash, branchHash)
	}

	// 3. Flatten all three trees.
	headCommit, err := r.Store.ReadCommit(headHash)
	if err != nil {
		return nil, fmt.Errorf("merge: read head commit: %w", err)
	}
	branchCommit, err := r.Store.ReadCommit(branchHash)
	if err != nil {
		return nil, fmt.Errorf("merge: read branch commit: %w", err)
	}

	oursFiles, err := r.FlattenTree(headCommit.TreeHash)
	if err != nil {
		return nil, fmt.Errorf("merge: flatten ours tree: %w", err)
	}
	theirsFiles, err := r.FlattenTree(branchCommit.TreeHash)
	if err != nil {
		return nil, fmt.Errorf("merge: flatten theirs tree: %w", err)
	}

	// Base tree may be empty if this is the first merge (no common ancestor).
	var baseFiles []TreeFileEntry
	if baseHash != "" {
		baseCommit, err := r.Store.ReadCommit(baseHash)
		if err != nil {
			return nil, fmt.Errorf("merge: read base commit: %w", err)
		}
		baseFiles, err = r.FlattenTree(baseCommit.TreeHash)
		if err != nil {
			return nil, fmt.Errorf("merge: flatten base tree: %w", err)
		}
	}

	// Index files by path.
	baseMap := indexByPath(baseFiles)
	oursMap := indexByPath(oursFiles)
	theirsMap := indexByPath(theirsFiles)

	// 4. Collect all file paths.
	allPaths := collectAllPaths(baseMap, oursMap, theirsMap)

	// 5. Process each file.
	report := &MergeReport{}
	// Track merged file contents to write and stage.
	type mergedFile struct {
		path    string
		content []byte
		mode    string
	}
	var mergedFiles []mergedFile
	var conflictedFiles []mergeConflictState
	var deletedPaths []string

	for _, path := range allPaths {
		_, inBase := baseMap[path]
		_, inOurs := oursMap[path]
		_, inTheirs := theirsMap[path]

		switch {
		case inBase && inOurs && inTheirs:
			// In all three: three-way merge.
			fr, content, err := r.mergeThreeWay(path, branchName, baseMap[path], oursMap[path], theirsMap[path])
			if err != nil {
				return nil, fmt.Errorf("merge file %q: %w", path, err)
			}
			report.Files = append(report.Files, fr)
			if fr.Status == "conflict" {
				report.HasConflicts = true
				report.TotalConflicts += fr.ConflictCount
				conflictedFiles = append(conflictedFiles, mergeConflictState{
					path:       path,
					baseHash:   baseMap[path].BlobHash,
					oursHash:   oursMap[path].BlobHash,
					theirsHash: theirsMap[path].BlobHash,
					mode:       normalizeFileMode(oursMap[path].Mode),
				})
			}
			mergedFiles = append(mergedFiles, mergedFile{
				path:    path,
				content: content,
				mode:    normalizeFileMode(oursMap[path].Mode),
			})

		case !inBase && inOurs && inTheirs:
			// New in both branches (not in base).
			if oursMap[path].BlobHash == theirsMap[path].BlobHash {
				// Same content: take either.
				content, err := r.readBlobData(oursMap[path].BlobHash)
				if err != nil {
					return nil, fmt.Errorf("merge read %q: %w", path, err)
				}
				report.Files = append(report.Files, FileMergeReport{
					Path:   path,
					Status: "clean",
				})
				mergedFiles = append(mergedFiles, mergedFile{
					path:    path,
					content: content,
					mode:    normalizeFileMode(oursMap[path].Mode),
				})
			} else {
				// Different content: conflict.
				oursData, err := r.readBlobData(oursMap[path].BlobHash)
				if err != nil {
					return nil, fmt.Errorf("merge read ours %q: %w", path, err)
				}
				theirsData, err := r.readBlobData(theirsMap[path].BlobHash)
				if err != nil {
					return nil, fmt.Errorf("merge read theirs %q: %w", path, err)
				}
				// Added differently on both sides with no common base: conflict.
				fr, content, err := r.mergeFileContents(path, branchName, oursData, theirsData)
				if err != nil {
					return nil, fmt.Errorf("merge file %q: %w", path, err)
				}
				report.Files = append(report.Files, fr)
				if fr.Status == "conflict" {
					report.HasConflicts = true
					report.TotalConflicts += fr.ConflictCount
					conflictedFiles = append(conflictedFiles, mergeConflictState{
						path:       path,
						baseHash:   "",
						oursHash:   oursMap[path].BlobHash,
						theirsHash: theirsMap[path].BlobHash,
						mode:       normalizeFileMode(oursMap[path].Mode),
					})
				}
				mergedFiles = append(mergedFiles, mergedFile{
					path:    path,
					content: content,
					mode:    normalizeFileMode(oursMap[path].Mode),
				})
			}

		case inBase && inOurs && !inTheirs:
			// Deleted by theirs.
			if oursMap[path].BlobHash == baseMap[path].BlobHash {
				// Ours unchanged: clean delete.
				report.Files = append(report.Files, FileMergeReport{
					Path:   path,
					Status: "deleted",
				})
				deletedPaths = append(deletedPaths, path)
				continue
			}

			// Delete-vs-modify must be a conflict (avoid silent data loss).
			oursData, err := r.readBlobData(oursMap[path].BlobHash)
			if err != nil {
				return nil, fmt.Errorf("merge read ours %q: %w", path, err)
			}
			content := renderFileConflict(oursData, nil, branchName)
			report.Files = append(report.Files, FileMergeReport{
				Path:          path,
				Status:        "conflict",
				ConflictCount: 1,
			})
			report.HasConflicts = true
			report.TotalConflicts++
			mergedFiles = append(mergedFiles, mergedFile{
				path:    path,
				content: content,
				mode:    normalizeFileMode(oursMap[path].Mode),
			})
			conflictedFiles = append(conflictedFiles, mergeConflictState{
				path:       path,
				baseHash:   baseMap[path].BlobHash,
				oursHash:   oursMap[path].BlobHash,
				theirsHash: "",
				mode:       normalizeFileMode(oursMap[path].Mode),
			})

		case inBase && !inOurs && inTheirs:
			// Deleted by ours.
			if theirsMap[path].BlobHash == baseMap[path].BlobHash {
				// Theirs unchanged: clean delete.
				report.Files = append(report.Files, FileMergeReport{
					Path:   path,
					Status: "deleted",
				})
				deletedPaths = append(deletedPaths, path)
				continue
			}

			// Delete-vs-modify must be a conflict (avoid silent data loss).
			theirsData, err := r.readBlobData(theirsMap[path].BlobHash)
			if err != nil {
				return nil, fmt.Errorf("merge read theirs %q: %w", path, err)
			}
			content := renderFileConflict(nil, theirsData, branchName)
			report.Files = append(report.Files, FileMergeReport{
				Path:          path,
				Status:        "conflict",
				ConflictCount: 1,
			})
			report.HasConflicts = true
			report.TotalConflicts++
			mergedFiles = append(mergedFiles, mergedFile{
				path:    path,
				content: content,
				mode:    normalizeFileMode(theirsMap[path].Mode),
			})
			conflictedFiles = append(conflictedFiles, mergeConflictState{
				path:       path,
				baseHash:   baseMap[path].BlobHash,
				oursHash:   "",
				theirsHash: theirsMap[path].BlobHash,
				mode:       normalizeFileMode(theirsMap[path].Mode),
			})

		case !inBase && inOurs && !inTheirs:
			// New in ours only: keep as-is.
			content, err := r.readBlobData(oursMap[path].BlobHash)
			if err != nil {
				return nil, fmt.Errorf("merge read %q: %w", path, err)
			}
			report.Files = append(report.Files, FileMergeReport{
				Path:   path,
				Status: "added",
			})
			mergedFiles = append(mergedFiles, mergedFile{
				path:    path,
				content: content,
				mode:    normalizeFileMode(oursMap[path].Mode),
			})

		case !inBase && !inOurs && inTheirs:
			// New in theirs only: add.
			content, err := r.readBlobData(theirsMap[path].BlobHash)
			if err != nil {
				return nil, fmt.Errorf("merge read %q: %w", path, err)
			}
			report.Files = append(report.Files, FileMergeReport{
				Path:   path,
				Status: "added",
			})
			mergedFiles = append(mergedFiles, mergedFile{
				path:    path,
				content: content,
				mode:    normalizeFileMode(theirsMap[path].Mode),
			})

		case inBase && !inOurs && !inTheirs:
			// Both deleted: remove.
			report.Files = append(report.Files, FileMergeReport{
				Path:   path,
				Status: "deleted",
			})
			deletedPaths = append(deletedPaths, path)
		}
	}

	// 6/7. Write files to working directory.
	for _, mf := range mergedFiles {
		absPath := filepath.Join(r.RootDir, filepath.FromSlash(mf.path))
		dir := filepath.Dir(absPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("merge: mkdir %q: %w", dir, err)
		}
		if err := os.WriteFile(absPath, mf.content, filePermFromMode(mf.mode)); err != nil {
			return nil, fmt.Errorf("merge: write %q: %w", mf.path, err)
		}
	}

	// Remove deleted files.
	for _, path := range deletedPaths {
		absPath := filepath.Join(r.RootDir, filepath.FromSlash(path))
		if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("merge: remove %q: %w", path, err)
		}
		r.removeEmptyParents(filepath.Dir(absPath))
	}

	if !report.HasConflicts {
		// Stage all merged files and commit.
		var pathsToAdd []string
		for _, mf := range mergedFiles {
			pathsToAdd = append(pathsToAdd, mf.path)
		}
		if len(pathsToAdd) > 0 {
			if err := r.Add(pathsToAdd); err != nil {
				return nil, fmt.Errorf("merge: stage: %w", err)
			}
		}

		// Remove deleted files from staging.
		if len(deletedPaths) > 0 {
			err := r.withStaging(func(stg *Staging) error {
				for _, p := range deletedPaths {
					delete(stg.Entries, p)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("merge: update staging: %w", err)
			}
		}

		// Create merge commit with two parents.
		mergeHash, err := r.commitMerge(
			fmt.Sprintf("Merge branch '%s'", branchName),
			"got-merge",
			headHash,
			branchHash,
		)
		if err != nil {
			return nil, fmt.Errorf("merge: commit: %w", err)
		}
		report.MergeCommit = mergeHash
	} else {
		// Stage the files that merged cleanly even though the overall merge
		// has conflicts elsewhere -- otherwise resolving the conflicts and
		// committing would only carry forward HEAD's version of every other
		// path, silently dropping whatever theirs contributed to them.
		conflictedPathSet := make(map[string]struct{}, len(conflictedFiles))
		for _, cf := range conflictedFiles {
			conflictedPathSet[cf.path] = struct{}{}
		}
		var cleanPaths []string
		for _, mf := range mergedFiles {
			if _, isConflict := conflictedPathSet[mf.path]; !isConflict {
				cleanPaths = append(cleanPaths, mf.path)
			}
		}
		if len(cleanPaths) > 0 {
			if err := r.Add(cleanPaths); err != nil {
				return nil, fmt.Errorf("merge: stage clean files: %w", err)
			}
		}

		if err := r.stageConflictState(conflictedFiles, deletedPaths); err != nil {
			return nil, fmt.Errorf("merge: stage conflicts: %w", err)
		}
		if err := r.writeMergeHead(branchHash); err != nil {
			return nil, fmt.Errorf("merge: write MERGE_HEAD: %w", err)
		}
	}

	return report, nil
}

// fastForwardMerge advances the current branch ref directly to sourceHash
// without creating a merge commit, and updates the working tree and index
// to match sourceHash's tree. It mirrors Checkout's tree-swap algorithm,
// except HEAD's symbolic target (the current branch) is left unchanged —
// only the branch ref it points at moves.
func (r *Repo) fastForwardMerge(branchName string, headHash, sourceHash object.Hash) (*MergeReport, error) {
	head, err := r.Head()
	if err != nil {
		return nil, fmt.Errorf("merge: read HEAD: %w", err)
	}
	if !strings.HasPrefix(head, "refs/") {
		return nil, fmt.Errorf("merge: cannot fast-forward a detached HEAD")
	}

	commit, err := r.Store.ReadCommit(sourceHash)
	if err != nil {
		return nil, fmt.Errorf("merge: read branch commit: %w", err)
	}
	targetFiles, err := r.FlattenTree(commit.TreeHash)
	if err != nil {
		return nil, fmt.Errorf("merge: flatten branch tree: %w", err)
	}
	targetMap := make(map[string]TreeFileEntry, len(targetFiles))
	for _, f := range targetFiles {
		targetMap[f.Path] = f
	}

	currentFiles := r.trackedFiles()
	for path := range currentFiles {
		if _, keep := targetMap[path]; keep {
			continue
		}
		absPath := filepath.Join(r.RootDir, filepath.FromSlash(path))
		if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("merge: remove %q: %w", path, err)
		}
		r.removeEmptyParents(filepath.Dir(absPath))
	}

	for _, f := range targetFiles {
		absPath := filepath.Join(r.RootDir, filepath.FromSlash(f.Path))
		dir := filepath.Dir(absPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("merge: mkdir %q: %w", dir, err)
		}
		blob, err := r.Store.ReadBlob(f.BlobHash)
		if err != nil {
			return nil, fmt.Errorf("merge: read blob for %q: %w", f.Path, err)
		}
		if err := os.WriteFile(absPath, blob.Data, filePermFromMode(f.Mode)); err != nil {
			return nil, fmt.Errorf("merge: write %q: %w", f.Path, err)
		}
	}

	stg := &Staging{Entries: make(map[string]*StagingEntry, len(targetFiles))}
	for _, f := range targetFiles {
		absPath := filepath.Join(r.RootDir, filepath.FromSlash(f.Path))
		info, err := os.Stat(absPath)
		if err != nil {
			return nil, fmt.Errorf("merge: stat %q: %w", f.Path, err)
		}
		stg.Entries[f.Path] = &StagingEntry{
			Path:     f.Path,
			BlobHash: f.BlobHash,
			Mode:     normalizeFileMode(f.Mode),
			ModTime:  info.ModTime().UnixNano(),
			Size:     info.Size(),
			Staged:   true,
		}
	}
	if err := r.WriteStaging(stg); err != nil {
		return nil, fmt.Errorf("merge: update staging: %w", err)
	}

	if err := r.UpdateRefCAS(head, sourceHash, headHash); err != nil {
		return nil, fmt.Errorf("merge: fast-forward %q: %w", head, err)
	}

	r.invalidateStatusCache()
	return &MergeReport{FastForward: true, MergeCommit: sourceHash}, nil
}

func (r *Repo) mergeHeadPath() string {
	return filepath.Join(r.GotDir, "MERGE_HEAD")
}

// hasMergeHead reports whether a conflicted merge is in progress.
func (r *Repo) hasMergeHead() bool {
	_, err := os.Stat(r.mergeHeadPath())
	return err == nil
}

func (r *Repo) writeMergeHead(h object.Hash) error {
	return os.WriteFile(r.mergeHeadPath(), []byte(string(h)+"\n"), 0o644)
}

// readMergeHead returns the in-progress merge's source commit hash, or ""
// if no merge is in progress.
func (r *Repo) readMergeHead() (object.Hash, error) {
	data, err := os.ReadFile(r.mergeHeadPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return object.Hash(strings.TrimSpace(string(data))), nil
}

func (r *Repo) clearMergeHead() error {
	if err := os.Remove(r.mergeHeadPath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// AbortMerge discards an in-progress conflicted merge: it clears MERGE_HEAD
// and drops any conflict entries from the staging area, leaving the working
// tree files untouched (the user is responsible for reverting them, mirroring
// "got reset" semantics for individual paths).
func (r *Repo) AbortMerge() error {
	if !r.hasMergeHead() {
		return doterr.NoMergeInProgress()
	}

	err := r.withStaging(func(stg *Staging) error {
		for path, e := range stg.Entries {
			if e.Conflict {
				delete(stg.Entries, path)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("abort merge: update staging: %w", err)
	}

	return r.clearMergeHead()
}

func (r *Repo) stageConflictState(conflicted []mergeConflictState, deletedPaths []string) error {
	// Blobs are written to the object store outside the staging lock; only
	// the index mutation itself needs to be atomic.
	type pending struct {
		blobHash object.Hash
		info     os.FileInfo
	}
	blobs := make(map[string]pending, len(conflicted))
	for _, cf := range conflicted {
		absPath := filepath.Join(r.RootDir, filepath.FromSlash(cf.path))
		info, err := os.Stat(absPath)
		if err != nil {
			return fmt.Errorf("stat conflicted file %q: %w", cf.path, err)
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			return fmt.Errorf("read conflicted file %q: %w", cf.path, err)
		}

		blobHash, err := r.Store.WriteBlob(&object.Blob{Data: data})
		if err != nil {
			return fmt.Errorf("write conflicted blob %q: %w", cf.path, err)
		}
		blobs[cf.path] = pending{blobHash: blobHash, info: info}
	}

	headEntries := r.headTreeEntries()

	err := r.withStaging(func(stg *Staging) error {
		for _, p := range deletedPaths {
			// Tombstone rather than delete outright: Commit falls back to
			// HEAD for any path with no index entry, so a bare delete here
			// would resurrect the file once the conflict is resolved and
			// committed.
			if headState, inHead := headEntries[p]; inHead {
				stg.Entries[p] = &StagingEntry{
					Path:     p,
					BlobHash: headState.BlobHash,
					Mode:     headState.Mode,
					Deleted:  true,
				}
			} else {
				delete(stg.Entries, p)
			}
		}
		for _, cf := range conflicted {
			pend := blobs[cf.path]
			stg.Entries[cf.path] = &StagingEntry{
				Path:           cf.path,
				BlobHash:       pend.blobHash,
				Mode:           normalizeFileMode(cf.mode),
				Conflict:       true,
				BaseBlobHash:   cf.baseHash,
				OursBlobHash:   cf.oursHash,
				TheirsBlobHash: cf.theirsHash,
				ModTime:        pend.info.ModTime().UnixNano(),
				Size:           pend.info.Size(),
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update staging: %w", err)
	}
	return nil
}

// renderFileConflict renders the whole-blob conflict markers specified by
// the merge engine: the target (HEAD) content, a separator, then the source
// branch's content, labeled with the source branch's name.
func renderFileConflict(ours, theirs []byte, sourceName string) []byte {
	var buf bytes.Buffer
	buf.WriteString("<<<<<<< HEAD\n")
	buf.Write(ours)
	if len(ours) > 0 && ours[len(ours)-1] != '\n' {
		buf.WriteByte('\n')
	}
	buf.WriteString("=======\n")
	buf.Write(theirs)
	if len(theirs) > 0 && theirs[len(theirs)-1] != '\n' {
		buf.WriteByte('\n')
	}
	buf.WriteString(">>>>>>> " + sourceName + "\n")
	return buf.Bytes()
}

// commitMerge creates a commit with two parents (for merge commits).
// This is similar to Commit() but takes explicit parent hashes instead
// of deriving them from HEAD.
func (r *Repo) commitMerge(message, author string, parent1, parent2 object.Hash) (object.Hash, error) {
	stg, err := r.ReadStaging()
	if err != nil {
		return "", fmt.Errorf("merge commit: %w", err)
	}
	if len(stg.Entries) == 0 {
		return "", fmt.Errorf("merge commit: nothing staged")
	}

	treeHash, err := r.BuildTree(stg)
	if err != nil {
		return "", fmt.Errorf("merge commit: %w", err)
	}

	commitObj := &object.CommitObj{
		TreeHash:  treeHash,
		Parents:   []object.Hash{parent1, parent2},
		Author:    author,
		Timestamp: time.Now().Unix(),
		Message:   message,
	}

	commitHash, err := r.Store.WriteCommit(commitObj)
	if err != nil {
		return "", fmt.Errorf("merge commit: write: %w", err)
	}

	// Update current branch ref.
	head, err := r.Head()
	if err != nil {
		return "", fmt.Errorf("merge commit: read HEAD: %w", err)
	}
	if strings.HasPrefix(head, "refs/") {
		if err := r.UpdateRefCAS(head, commitHash, parent1); err != nil {
			return "", fmt.Errorf("merge commit: update ref %q: %w", head, err)
		}
	} else {
		if err := r.UpdateRefCAS("HEAD", commitHash, parent1); err != nil {
			return "", fmt.Errorf("merge commit: update detached HEAD: %w", err)
		}
	}

	r.invalidateStatusCache()

	return commitHash, nil
}

// mergeThreeWay performs a path-level three-way merge of a file that exists
// in base, ours, and theirs: whichever side alone diverged from base wins
// cleanly; if both sides diverged identically, either side wins cleanly; if
// both diverged differently, the path conflicts and its blob is replaced by
// whole-file conflict markers (no attempt at a sub-file merge).
func (r *Repo) mergeThreeWay(path, sourceName string, base, ours, theirs TreeFileEntry) (FileMergeReport, []byte, error) {
	// If ours and theirs have the same blob hash, no merge needed.
	if ours.BlobHash == theirs.BlobHash {
		content, err := r.readBlobData(ours.BlobHash)
		if err != nil {
			return FileMergeReport{}, nil, err
		}
		return FileMergeReport{Path: path, Status: "clean"}, content, nil
	}

	// If only one side changed from base, take that side.
	if ours.BlobHash == base.BlobHash {
		// Only theirs changed.
		content, err := r.readBlobData(theirs.BlobHash)
		if err != nil {
			return FileMergeReport{}, nil, err
		}
		return FileMergeReport{Path: path, Status: "clean"}, content, nil
	}
	if theirs.BlobHash == base.BlobHash {
		// Only ours changed.
		content, err := r.readBlobData(ours.BlobHash)
		if err != nil {
			return FileMergeReport{}, nil, err
		}
		return FileMergeReport{Path: path, Status: "clean"}, content, nil
	}

	// Both sides changed, and differently: conflict.
	oursData, err := r.readBlobData(ours.BlobHash)
	if err != nil {
		return FileMergeReport{}, nil, err
	}
	theirsData, err := r.readBlobData(theirs.BlobHash)
	if err != nil {
		return FileMergeReport{}, nil, err
	}

	return r.mergeFileContents(path, sourceName, oursData, theirsData)
}

// mergeFileContents synthesizes the whole-blob conflict marker content for a
// path that diverged incompatibly on both sides.
func (r *Repo) mergeFileContents(path, sourceName string, ours, theirs []byte) (FileMergeReport, []byte, error) {
	fr := FileMergeReport{
		Path:          path,
		Status:        "conflict",
		ConflictCount: 1,
	}
	return fr, renderFileConflict(ours, theirs, sourceName), nil
}

// readBlobData reads a blob from the store and returns its raw data.
func (r *Repo) readBlobData(h object.Hash) ([]byte, error) {
	blob, err := r.Store.ReadBlob(h)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", h, err)
	}
	return blob.Data, nil
}

// indexByPath creates a map from file path to TreeFileEntry.
func indexByPath(entries []TreeFileEntry) map[string]TreeFileEntry {
	m := make(map[string]TreeFileEntry, len(entries))
	for _, e := range entries {
		m[e.Path] = e
	}
	return m
}

// collectAllPaths returns a sorted, deduplicated list of all file paths
// across three file maps.
func collectAllPaths(base, ours, theirs map[string]TreeFileEntry) []string {
	seen := make(map[string]bool)
	for p := range base {
		seen[p] = true
	}
	for p := range ours {
		seen[p] = true
	}
	for p := range theirs {
		seen[p] = true
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
