package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/AfriCodeWizard/dotgit/pkg/diff"
	"github.com/AfriCodeWizard/dotgit/pkg/object"
	"github.com/AfriCodeWizard/dotgit/pkg/repo"
	"github.com/spf13/cobra"
)

func newDiffCmd() *cobra.Command {
	var staged bool
	var color bool

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show changes between working tree, staging, and HEAD",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("color") {
				if v, ok, _ := r.GetConfig("diff", "color"); ok {
					color = v == "true"
				}
			}
			if staged {
				return diffStaged(cmd, r, color)
			}
			return diffUnstaged(cmd, r, color)
		},
	}

	cmd.Flags().BoolVar(&staged, "staged", false, "show staged changes (staging vs HEAD)")
	cmd.Flags().BoolVar(&color, "color", false, "colorize additions and deletions")

	return cmd
}

// diffUnstaged compares the working tree against the tracked baseline: the
// staging entry for a path if one exists, otherwise HEAD's entry (the index
// is cleared on every commit, so most tracked files have no staging entry
// at all between commits).
func diffUnstaged(cmd *cobra.Command, r *repo.Repo, useColor bool) error {
	stg, err := r.ReadStaging()
	if err != nil {
		return err
	}
	statusEntries, err := r.Status()
	if err != nil {
		return err
	}
	workRenamedOldToNew := make(map[string]string)
	for _, e := range statusEntries {
		if e.WorkStatus == repo.StatusRenamed && e.RenamedFrom != "" {
			workRenamedOldToNew[e.RenamedFrom] = e.Path
		}
	}

	headMap := make(map[string]repo.TreeFileEntry)
	if headHash, err := r.ResolveRef("HEAD"); err == nil {
		if commit, err := r.Store.ReadCommit(headHash); err == nil {
			if entries, err := r.FlattenTree(commit.TreeHash); err == nil {
				for _, e := range entries {
					headMap[e.Path] = e
				}
			}
		}
	}

	baseline := make(map[string]object.Hash, len(headMap)+len(stg.Entries))
	for p, e := range headMap {
		baseline[p] = e.BlobHash
	}
	for p, se := range stg.Entries {
		baseline[p] = se.BlobHash
	}

	// Sort paths for deterministic output.
	paths := make([]string, 0, len(baseline))
	for p := range baseline {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	out := cmd.OutOrStdout()

	for _, p := range paths {
		beforeHash := baseline[p]

		absPath := filepath.Join(r.RootDir, filepath.FromSlash(p))
		workData, err := os.ReadFile(absPath)
		if err != nil {
			if os.IsNotExist(err) {
				if newPath, renamed := workRenamedOldToNew[p]; renamed {
					printRename(out, p, newPath)
					continue
				}
				// File deleted from working tree -- show full deletion.
				beforeBlob, blobErr := r.Store.ReadBlob(beforeHash)
				if blobErr != nil {
					return fmt.Errorf("diff: read blob %s: %w", p, blobErr)
				}
				if err := printDiff(out, p, beforeBlob.Data, nil, useColor); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("diff: read %s: %w", p, err)
		}

		// Compare working copy hash against the baseline hash.
		workHash := object.HashObject(object.TypeBlob, workData)
		if workHash == beforeHash {
			continue // unchanged
		}

		beforeBlob, err := r.Store.ReadBlob(beforeHash)
		if err != nil {
			return fmt.Errorf("diff: read blob %s: %w", p, err)
		}

		if err := printDiff(out, p, beforeBlob.Data, workData, useColor); err != nil {
			return err
		}
	}

	return nil
}

// diffStaged compares the staging area against the HEAD commit tree.
func diffStaged(cmd *cobra.Command, r *repo.Repo, useColor bool) error {
	stg, err := r.ReadStaging()
	if err != nil {
		return err
	}
	statusEntries, err := r.Status()
	if err != nil {
		return err
	}
	indexRenamedNewToOld := make(map[string]string)
	indexRenamedOld := make(map[string]struct{})
	for _, e := range statusEntries {
		if e.IndexStatus == repo.StatusRenamed && e.RenamedFrom != "" {
			indexRenamedNewToOld[e.Path] = e.RenamedFrom
			indexRenamedOld[e.RenamedFrom] = struct{}{}
		}
	}

	// Build HEAD tree map: path -> TreeFileEntry.
	headMap := make(map[string]repo.TreeFileEntry)
	headHash, err := r.ResolveRef("HEAD")
	if err == nil {
		commit, err := r.Store.ReadCommit(headHash)
		if err == nil {
			entries, err := r.FlattenTree(commit.TreeHash)
			if err == nil {
				for _, e := range entries {
					headMap[e.Path] = e
				}
			}
		}
	}

	// Sort paths for deterministic output.
	paths := make([]string, 0, len(stg.Entries))
	for p := range stg.Entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	out := cmd.OutOrStdout()

	for _, p := range paths {
		se := stg.Entries[p]
		if se.Deleted {
			continue // handled in the deleted-paths pass below
		}
		if oldPath, renamed := indexRenamedNewToOld[p]; renamed {
			printRename(out, oldPath, p)
			continue
		}

		headEntry, inHead := headMap[p]
		if inHead && headEntry.BlobHash == se.BlobHash {
			continue // unchanged
		}

		var before []byte
		if inHead {
			blob, err := r.Store.ReadBlob(headEntry.BlobHash)
			if err != nil {
				return fmt.Errorf("diff: read HEAD blob %s: %w", p, err)
			}
			before = blob.Data
		}

		stagedBlob, err := r.Store.ReadBlob(se.BlobHash)
		if err != nil {
			return fmt.Errorf("diff: read staged blob %s: %w", p, err)
		}

		if err := printDiff(out, p, before, stagedBlob.Data, useColor); err != nil {
			return err
		}
	}

	// Files explicitly unstaged via Remove, rather than merely absent from
	// the index: since the index is cleared on every commit, "absent" on its
	// own just means "untouched since HEAD", not "staged for deletion".
	deletedPaths := make([]string, 0)
	for p, se := range stg.Entries {
		if se.Deleted {
			deletedPaths = append(deletedPaths, p)
		}
	}
	sort.Strings(deletedPaths)

	for _, p := range deletedPaths {
		if _, renamed := indexRenamedOld[p]; renamed {
			continue
		}
		headEntry := headMap[p]
		blob, err := r.Store.ReadBlob(headEntry.BlobHash)
		if err != nil {
			return fmt.Errorf("diff: read HEAD blob %s: %w", p, err)
		}
		if err := printDiff(out, p, blob.Data, nil, useColor); err != nil {
			return err
		}
	}

	return nil
}

// printDiff prints a diff for a single file. before or after may be nil for
// additions and deletions respectively. Binary content is reported without
// attempting a line diff.
func printDiff(out io.Writer, path string, before, after []byte, useColor bool) error {
	if diff.IsBinary(before) || diff.IsBinary(after) {
		if !bytes.Equal(before, after) {
			fmt.Fprintf(out, "diff --got a/%s b/%s\n", path, path)
			fmt.Fprintf(out, "Binary files a/%s and b/%s differ\n", path, path)
		}
		return nil
	}
	return writeLineDiff(out, path, before, after, useColor)
}

// printLineDiff prints a unified-style line diff for a single file.
func printLineDiff(out io.Writer, path string, before, after []byte) error {
	return writeLineDiff(out, path, before, after, false)
}

func writeLineDiff(out io.Writer, path string, before, after []byte, useColor bool) error {
	if bytes.Equal(before, after) {
		return nil
	}

	lines := diff.Lines(before, after)
	body := diff.Unified(lines, path, path, diff.Options{Context: diff.DefaultContext, Color: useColor})
	if body == "" {
		return nil
	}

	fmt.Fprintf(out, "diff --got a/%s b/%s\n", path, path)
	fmt.Fprint(out, body)
	return nil
}

func printRename(out io.Writer, fromPath, toPath string) {
	fmt.Fprintf(out, "diff --got a/%s b/%s\n", fromPath, toPath)
	fmt.Fprintf(out, "rename from %s\n", fromPath)
	fmt.Fprintf(out, "rename to %s\n", toPath)
}
