package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xpadev-net/clipwatch/internal/config"
	"github.com/xpadev-net/clipwatch/internal/log"
)

func newRootCommand() *cobra.Command {
	var envFiles []string

	rootCmd := &cobra.Command{
		Use:           "clipwatch",
		Short:         "Watch Twitch channels for viral clip bursts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(envFiles...)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Dotenv files to load before reading the environment")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newGroupCommand())

	return rootCmd
}

// loadConfig reads the environment and initializes logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if err := log.Init(cfg.Environment, cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	return cfg, nil
}
