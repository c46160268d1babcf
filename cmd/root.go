package cmd

import (
	"fmt"
	"github.com/spf13/cobra"
	"os"
)

// NewRootCommand wires the pollrelay subcommands.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "pollrelay",
		Short:         "Single threaded TCP chat relay built on poll(2) and select(2)",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand(), newChatCommand(), newVersionCommand())
	return root
}

// Execute runs the command line and returns the process exit status.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pollrelay:", err)
		return 1
	}
	return 0
}
