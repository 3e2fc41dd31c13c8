package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/marcuoli/go-piremote/pkg/piremote"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// No config needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), piremote.VersionInfo())
			fmt.Fprintf(cmd.OutOrStdout(), "Go Version: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
