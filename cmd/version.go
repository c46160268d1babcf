package cmd

import (
	"fmt"
	"github.com/spf13/cobra"
	"strconv"
)

var (
	Version   string = "0.1.0"
	gitSHA1   string = "unknown"
	gitDirty  string = "unknown"
	buildDate string = "unknown"
)

// VersionString appends the git commit and working tree state when the build
// stamped them in.
func VersionString(version, gitSHA1, gitDirty string) string {
	if len(gitSHA1) < 8 {
		return version
	}
	if sha1Int, err := strconv.ParseUint(gitSHA1[:8], 16, 64); err == nil && sha1Int != 0 {
		version = fmt.Sprintf("%s (git:%s", version, gitSHA1)
		if dirtyInt, err := strconv.ParseInt(gitDirty, 10, 64); err == nil && dirtyInt != 0 {
			version = fmt.Sprintf("%s-dirty", version)
		}
		version = fmt.Sprintf("%s)", version)
	}
	return version
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pollrelay %s built %s\n", VersionString(Version, gitSHA1, gitDirty), buildDate)
		},
	}
}
