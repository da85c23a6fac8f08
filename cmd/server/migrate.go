package main

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/pkg/logger"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cfg.PostgresURI == "" {
				return errors.New("POSTGRES_URI is required to migrate")
			}

			db, err := sql.Open("postgres", cfg.PostgresURI)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := repository.Migrate(ctx, db); err != nil {
				return err
			}
			logger.Info("schema applied")
			return nil
		},
	}
}
