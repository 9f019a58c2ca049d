package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-snapshot/pkg/buildinfo"
)

func newVersionCommand(env Env) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the application version",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			RunVersion(env, buildinfo.Name, buildinfo.Version)
		},
	}
}

// RunVersion prints the application version.
func RunVersion(env Env, appName, appVersion string) {
	fmt.Fprintf(env.Stdout, "%s version %s\n", appName, appVersion)
}
