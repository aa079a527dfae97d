package main

import (
	"fmt"
	"strings"

	"github.com/AfriCodeWizard/dotgit/pkg/doterr"
	"github.com/AfriCodeWizard/dotgit/pkg/repo"
	"github.com/spf13/cobra"
)

func splitConfigKey(key string) (string, string, error) {
	section, name, ok := strings.Cut(key, ".")
	if !ok || section == "" || name == "" {
		return "", "", doterr.InvalidArgument(fmt.Sprintf("config key %q must be section.name", key))
	}
	return section, name, nil
}

func newConfigCmd() *cobra.Command {
	var list bool
	var unset bool

	cmd := &cobra.Command{
		Use:   "config [<section.key> [value]]",
		Short: "Get or set repository configuration",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}

			if list {
				lines, err := r.ListConfig()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, line := range lines {
					fmt.Fprintln(out, line)
				}
				return nil
			}

			if len(args) == 0 {
				return doterr.InvalidArgument("expected a section.key argument")
			}
			section, name, err := splitConfigKey(args[0])
			if err != nil {
				return err
			}

			if unset {
				return r.UnsetConfig(section, name)
			}

			if len(args) == 2 {
				return r.SetConfig(section, name, args[1])
			}

			value, ok, err := r.GetConfig(section, name)
			if err != nil {
				return err
			}
			if !ok {
				return doterr.NotFound(args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "list all configuration entries")
	cmd.Flags().BoolVar(&unset, "unset", false, "remove the named configuration entry")

	return cmd
}
