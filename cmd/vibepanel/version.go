package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vibepanel/vibepanel/internal/version"
)

type versionClient interface {
	Version() string
	VersionInfo() version.Info
}

// NewVersionCmd creates the version command with explicit dependencies.
func NewVersionCmd(client versionClient) *cobra.Command {
	if client == nil {
		panic("NewVersionCmd: client dependency cannot be nil")
	}

	var output string
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Show the current version of vibepanel.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "" {
				return encode(cmd.OutOrStdout(), client.VersionInfo(), output)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "vibepanel version %s\n", client.Version())
			return nil
		},
	}
	versionCmd.Flags().StringVarP(&output, "output", "o", "", "Print build information as json or yaml")
	return versionCmd
}
