package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vibepanel/vibepanel/internal/logging"
)

type runOptions struct {
	ConfigPath  string
	MetricsAddr string
	LogLevel    string
}

type runClient interface {
	Run(ctx context.Context, opts runOptions) error
}

// NewRunCmd creates the run command.
func NewRunCmd(client runClient) *cobra.Command {
	if client == nil {
		panic("NewRunCmd: client dependency cannot be nil")
	}

	var opts runOptions
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the state core until interrupted",
		Long: `Run the adapters, the state aggregator, the configuration watcher and the
notification server until interrupted.

Configuration changes are applied while running. An invalid file is reported
and the previous configuration stays active.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.LogLevel != "" && !logging.ValidLevel(opts.LogLevel) {
				return fmt.Errorf("invalid log level %q", opts.LogLevel)
			}
			return client.Run(cmd.Context(), opts)
		},
	}
	runCmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Configuration file to read")
	runCmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	runCmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn or error")
	return runCmd
}
