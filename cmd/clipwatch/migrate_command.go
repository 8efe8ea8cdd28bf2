package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xpadev-net/clipwatch/internal/db"
	"github.com/xpadev-net/clipwatch/internal/log"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := cmd.Context()
			database, err := db.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer database.Close()

			if err := database.Migrate(ctx); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			log.Info("migrations applied")
			return nil
		},
	}
}
