package main

import (
	"fmt"
	"os"

	"github.com/AfriCodeWizard/dotgit/pkg/doterr"
	"github.com/AfriCodeWizard/dotgit/pkg/dotlog"
	"github.com/spf13/cobra"
)

var log *dotlog.Logger

func main() {
	var verbose bool

	root := &cobra.Command{
		Use:   "got",
		Short: "A local, content-addressed version control system",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := "info"
			if verbose {
				level = "debug"
			}
			l, err := dotlog.New(level)
			if err != nil {
				return err
			}
			log = l
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newAddCmd())
	root.AddCommand(newRmCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newCommitCmd())
	root.AddCommand(newLogCmd())
	root.AddCommand(newDiffCmd())
	root.AddCommand(newBranchCmd())
	root.AddCommand(newCheckoutCmd())
	root.AddCommand(newMergeCmd())
	root.AddCommand(newResetCmd())
	root.AddCommand(newTagCmd())
	root.AddCommand(newRemoteCmd())
	root.AddCommand(newConfigCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if log != nil {
			log.Sync()
		}
		if de, ok := doterr.As(err); ok {
			os.Exit(doterr.ExitCode(de.Kind))
		}
		os.Exit(1)
	}
	if log != nil {
		log.Sync()
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("got 0.1.0-dev")
		},
	}
}
