package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vibepanel/vibepanel/internal/colors"
)

const tagline = "Live system state for the vibepanel desktop panel."

// commandOrder is the order commands appear in the help text.
var commandOrder = []string{
	"run",
	"state",
	"watch",
	"notifications",
	"volume",
	"media",
	"inhibit",
	"config",
	"version",
	"help",
}

// NewRootCmd wires every subcommand to c.
func NewRootCmd(c *client) *cobra.Command {
	if c == nil {
		panic("NewRootCmd: client dependency cannot be nil")
	}

	var debug bool
	root := &cobra.Command{
		Use:           "vibepanel",
		Short:         tagline,
		Long:          tagline,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       c.Version(),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug {
				colors.SetDebug(true)
			}
		},
	}
	root.CompletionOptions.HiddenDefaultCmd = true
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Print debug output")

	root.AddCommand(
		NewRunCmd(c),
		NewStateCmd(c),
		NewWatchCmd(c),
		NewNotificationsCmd(c),
		NewVolumeCmd(c),
		NewMediaCmd(c),
		NewInhibitCmd(c),
		NewConfigCmd(c),
		NewVersionCmd(c),
	)
	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if cmd != root {
			fmt.Fprint(cmd.OutOrStdout(), cmd.UsageString())
			return
		}
		printHelp(cmd, c.Version(), cmd.OutOrStdout())
	})
	return root
}

func printHelp(cmd *cobra.Command, version string, w io.Writer) {
	var lines []string
	for _, name := range commandOrder {
		for _, c := range cmd.Commands() {
			if c.Name() == name {
				lines = append(lines, fmt.Sprintf("    %-16s %s", name, c.Short))
				break
			}
		}
	}
	fmt.Fprintf(w, `vibepanel %s

%s

USAGE:
    vibepanel [COMMAND] [OPTIONS]

COMMANDS:
%s

OPTIONS:
    -h, --help      Show help message
        --debug     Print debug output
`, version, tagline, strings.Join(lines, "\n"))
}
