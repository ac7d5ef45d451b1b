package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/vibepanel/vibepanel/internal/aggregator"
	"github.com/vibepanel/vibepanel/internal/panel"
)

type stateClient interface {
	Probe(ctx context.Context, configPath string, timeout time.Duration) (aggregator.Snapshot, error)
}

// NewStateCmd creates the state command.
func NewStateCmd(client stateClient) *cobra.Command {
	if client == nil {
		panic("NewStateCmd: client dependency cannot be nil")
	}

	var (
		output  string
		path    string
		timeout time.Duration
	)
	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Probe every service once and print the state",
		Long: `Start every enabled adapter once, wait for its first report and print the
resulting snapshot.

EXAMPLES:
    vibepanel state
    vibepanel state --output yaml --timeout 5s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validFormat(output); err != nil {
				return err
			}
			s, err := client.Probe(cmd.Context(), path, timeout)
			if err != nil {
				return err
			}
			return encode(cmd.OutOrStdout(), s.View(), output)
		},
	}
	stateCmd.Flags().StringVarP(&output, "output", "o", formatJSON, "Output format: json or yaml")
	stateCmd.Flags().StringVarP(&path, "config", "c", "", "Configuration file to read")
	stateCmd.Flags().DurationVar(&timeout, "timeout", panel.DefaultProbeTimeout, "How long to wait for each service")
	return stateCmd
}
