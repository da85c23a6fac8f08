package repository

import (
	"context"
	"database/sql"
	_ "embed"

	"github.com/maheshrc27/postflow/pkg/logger"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schema string

func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		logger.Error("schema migration failed", zap.Error(err))
		return err
	}
	return nil
}
