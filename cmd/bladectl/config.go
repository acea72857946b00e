package main

import (
	"fmt"

	"github.com/danmuck/bladectl/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or generate config files",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a sample config populated with the defaults",
		Long: `Write a sample config. The format follows the extension of path
(.toml, .yaml, .yml); without path the --config value is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := root.ConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteTemplate(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Load and validate the --config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			s := cfg.Session
			fmt.Fprintf(cmd.OutOrStdout(), "endpoint: %s\nsecurity_mode: %s\nreconnect: %s..%s x%g\n",
				s.Endpoint, s.SecurityMode, s.Reconnect.InitialDelay, s.Reconnect.MaxDelay, s.Reconnect.Multiplier)
			return nil
		},
	}

	cmd.AddCommand(initCmd, checkCmd)
	return cmd
}
