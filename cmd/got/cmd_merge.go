package main

import (
	"fmt"
	"io"

	"github.com/AfriCodeWizard/dotgit/pkg/repo"
	"github.com/spf13/cobra"
)

func newMergeCmd() *cobra.Command {
	var abort bool

	cmd := &cobra.Command{
		Use:   "merge <branch>",
		Short: "Merge a branch into the current branch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}

			if abort {
				if err := r.AbortMerge(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "merge aborted")
				return nil
			}

			if len(args) != 1 {
				return fmt.Errorf("merge: requires exactly one branch argument")
			}
			branchName := args[0]

			current, err := r.CurrentBranch()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "merging %s into %s...\n", branchName, current)

			report, err := r.Merge(branchName)
			if err != nil {
				return err
			}

			if report.UpToDate {
				fmt.Fprintln(out, "already up to date")
				return nil
			}
			if report.FastForward {
				short := string(report.MergeCommit)
				if len(short) > 8 {
					short = short[:8]
				}
				fmt.Fprintf(out, "fast-forward to %s\n", short)
				return nil
			}

			for _, f := range report.Files {
				printFileReport(out, f)
			}

			if report.HasConflicts {
				fmt.Fprintf(out, "merge completed with %d conflict", report.TotalConflicts)
				if report.TotalConflicts != 1 {
					fmt.Fprint(out, "s")
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, "fix conflicts and run got commit")
			} else {
				fmt.Fprintln(out, "merge completed cleanly")
				short := string(report.MergeCommit)
				if len(short) > 8 {
					short = short[:8]
				}
				fmt.Fprintf(out, "[%s %s] Merge branch '%s'\n", current, short, branchName)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&abort, "abort", false, "abort an in-progress conflicted merge")

	return cmd
}

func printFileReport(out io.Writer, f repo.FileMergeReport) {
	switch f.Status {
	case "conflict":
		fmt.Fprintf(out, "  %s: CONFLICT: %d conflict", f.Path, f.ConflictCount)
		if f.ConflictCount != 1 {
			fmt.Fprint(out, "s")
		}
		fmt.Fprintln(out)
	case "added":
		fmt.Fprintf(out, "  %s: added\n", f.Path)
	case "deleted":
		fmt.Fprintf(out, "  %s: deleted\n", f.Path)
	default: // "clean"
		fmt.Fprintf(out, "  %s: clean\n", f.Path)
	}
}
