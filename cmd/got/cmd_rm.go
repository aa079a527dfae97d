package main

import (
	"github.com/AfriCodeWizard/dotgit/pkg/repo"
	"github.com/spf13/cobra"
)

func newRmCmd() *cobra.Command {
	var cached bool

	cmd := &cobra.Command{
		Use:   "rm <files...>",
		Short: "Remove files from the index and (unless --cached) the working tree",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			return r.Remove(args, cached)
		},
	}

	cmd.Flags().BoolVar(&cached, "cached", false, "unstage only, leave the file on disk")

	return cmd
}
