package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/AfriCodeWizard/dotgit/pkg/diff"
	"github.com/AfriCodeWizard/dotgit/pkg/object"
	"github.com/AfriCodeWizard/dotgit/pkg/repo"
	"github.com/spf13/cobra"
)

func newLogCmd() *cobra.Command {
	var oneline bool
	var limit int
	var patch bool

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show commit history",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}

			headHash, err := r.ResolveRef("HEAD")
			if err != nil {
				return fmt.Errorf("cannot resolve HEAD: %w", err)
			}

			commits, err := r.Log(headHash, limit)
			if err != nil {
				return err
			}

			if len(commits) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no commits yet")
				return nil
			}

			// Determine the current branch name for decoration.
			branchName := ""
			head, err := r.Head()
			if err == nil && strings.HasPrefix(head, "refs/heads/") {
				branchName = strings.TrimPrefix(head, "refs/heads/")
			}

			// Reconstruct hashes: the first commit's hash is headHash,
			// and each subsequent commit's hash is the first parent of the
			// previous commit.
			hashes := make([]object.Hash, len(commits))
			hashes[0] = headHash
			for i := 1; i < len(commits); i++ {
				hashes[i] = commits[i-1].Parents[0]
			}

			out := cmd.OutOrStdout()
			for i, c := range commits {
				h := hashes[i]
				decoration := buildDecoration(h, headHash, branchName)

				if oneline {
					short := string(h)
					if len(short) > 8 {
						short = short[:8]
					}
					if decoration != "" {
						fmt.Fprintf(out, "%s %s %s\n", short, decoration, c.Message)
					} else {
						fmt.Fprintf(out, "%s %s\n", short, c.Message)
					}
				} else {
					if decoration != "" {
						fmt.Fprintf(out, "commit %s %s\n", h, decoration)
					} else {
						fmt.Fprintf(out, "commit %s\n", h)
					}
					fmt.Fprintf(out, "Author: %s\n", c.Author)
					fmt.Fprintf(out, "Date:   %s\n", time.Unix(c.Timestamp, 0).Format("2006-01-02 15:04:05"))
					fmt.Fprintln(out)
					fmt.Fprintf(out, "    %s\n", c.Message)
					fmt.Fprintln(out)
				}

				if patch {
					if err := printCommitPatch(out, r, c); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&oneline, "oneline", false, "compact one-line format")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of commits to show")
	cmd.Flags().BoolVarP(&patch, "patch", "p", false, "show the unified diff introduced by each commit")

	return cmd
}

// printCommitPatch prints the unified diff between c's tree and its first
// parent's tree (or against an empty tree for a root commit).
func printCommitPatch(out io.Writer, r *repo.Repo, c *object.CommitObj) error {
	newFiles, err := r.FlattenTree(c.TreeHash)
	if err != nil {
		return fmt.Errorf("log --patch: flatten tree: %w", err)
	}
	newMap := make(map[string]repo.TreeFileEntry, len(newFiles))
	for _, f := range newFiles {
		newMap[f.Path] = f
	}

	oldMap := make(map[string]repo.TreeFileEntry)
	if len(c.Parents) > 0 {
		parent, err := r.Store.ReadCommit(c.Parents[0])
		if err != nil {
			return fmt.Errorf("log --patch: read parent: %w", err)
		}
		oldFiles, err := r.FlattenTree(parent.TreeHash)
		if err != nil {
			return fmt.Errorf("log --patch: flatten parent tree: %w", err)
		}
		for _, f := range oldFiles {
			oldMap[f.Path] = f
		}
	}

	seen := make(map[string]struct{})
	paths := make([]string, 0, len(oldMap)+len(newMap))
	for p := range oldMap {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			paths = append(paths, p)
		}
	}
	for p := range newMap {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	for _, p := range paths {
		oldEntry, inOld := oldMap[p]
		newEntry, inNew := newMap[p]
		if inOld && inNew && oldEntry.BlobHash == newEntry.BlobHash {
			continue
		}

		var before, after []byte
		if inOld {
			blob, err := r.Store.ReadBlob(oldEntry.BlobHash)
			if err != nil {
				return fmt.Errorf("log --patch: read blob %s: %w", p, err)
			}
			before = blob.Data
		}
		if inNew {
			blob, err := r.Store.ReadBlob(newEntry.BlobHash)
			if err != nil {
				return fmt.Errorf("log --patch: read blob %s: %w", p, err)
			}
			after = blob.Data
		}

		if diff.IsBinary(before) || diff.IsBinary(after) {
			fmt.Fprintf(out, "diff --got a/%s b/%s\n", p, p)
			fmt.Fprintf(out, "Binary files a/%s and b/%s differ\n", p, p)
			continue
		}

		lines := diff.Lines(before, after)
		body := diff.Unified(lines, p, p, diff.Options{Context: diff.DefaultContext})
		if body == "" {
			continue
		}
		fmt.Fprintf(out, "diff --got a/%s b/%s\n", p, p)
		fmt.Fprint(out, body)
	}
	return nil
}

// buildDecoration returns a string like "(HEAD -> main)" if the commit is
// the current HEAD, or "" otherwise.
func buildDecoration(commitHash, headHash object.Hash, branchName string) string {
	if commitHash != headHash {
		return ""
	}
	if branchName != "" {
		return "(HEAD -> " + branchName + ")"
	}
	return "(HEAD)"
}
