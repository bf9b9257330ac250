package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"go.olrik.dev/relaunch/internal/core"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "relaunch %s (%s, %s/%s)\n",
				core.FormatVersion(core.Version), runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
