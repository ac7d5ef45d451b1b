package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vibepanel/vibepanel/internal/colors"
	"github.com/vibepanel/vibepanel/internal/config"
)

type configClient interface {
	Effective(path string) (*config.Effective, error)
	Reference() []byte
}

// NewConfigCmd creates the config command group.
func NewConfigCmd(client configClient) *cobra.Command {
	if client == nil {
		panic("NewConfigCmd: client dependency cannot be nil")
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print, explain and validate the configuration",
		Long: `Print, explain and validate the panel configuration.

The configuration is read from $VIBEPANEL_CONFIG, then
$XDG_CONFIG_HOME/vibepanel/config.toml, then ~/.config/vibepanel/config.toml.
Without a file the built-in defaults apply.`,
	}

	var path string
	printCmd := &cobra.Command{
		Use:   "print",
		Short: "Print the fully resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eff, err := client.Effective(path)
			if err != nil {
				return err
			}
			data, err := eff.Marshal()
			if err != nil {
				return fmt.Errorf("render configuration: %w", err)
			}
			source := eff.Source
			if source == "" {
				source = "built-in defaults"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# source: %s\n%s", source, data)
			return nil
		},
	}
	printCmd.Flags().StringVarP(&path, "config", "c", "", "Configuration file to read")

	exampleCmd := &cobra.Command{
		Use:   "example",
		Short: "Print the commented reference configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := cmd.OutOrStdout().Write(client.Reference())
			return err
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check [path]",
		Short: "Validate a configuration file",
		Long: `Validate a configuration file and its theme tokens.

Exits with status 0 when the configuration is valid and 1 otherwise.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var target string
			if len(args) == 1 {
				target = args[0]
			}
			eff, err := client.Effective(target)
			if err != nil {
				return err
			}
			for _, w := range eff.Warnings {
				colors.Warning(w)
			}
			if eff.Source == "" {
				colors.Success("no configuration file found, defaults are valid")
				return nil
			}
			colors.Success(eff.Source, "is valid")
			return nil
		},
	}

	configCmd.AddCommand(printCmd, exampleCmd, checkCmd)
	return configCmd
}
