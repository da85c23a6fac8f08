package repository

import (
	"context"
	"database/sql"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/pkg/logger"
	"go.uber.org/zap"
)

type PostingHistoryRepository interface {
	Create(ctx context.Context, attempt *models.PublishAttempt) error
	ListByPostID(ctx context.Context, postID string) ([]*models.PublishAttempt, error)
}

type postingHistoryRepository struct {
	db *sql.DB
}

func NewPostingHistoryRepository(db *sql.DB) PostingHistoryRepository {
	return &postingHistoryRepository{db: db}
}

func (r *postingHistoryRepository) Create(ctx context.Context, a *models.PublishAttempt) error {
	query := `
		INSERT INTO publish_attempts (id, post_id, workspace_id, platform, outcome, error_message,
			external_post_id, duration_ms, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query, a.ID, a.PostID, a.WorkspaceID, a.Platform, a.Outcome,
		a.ErrorMessage, a.ExternalPostID, a.DurationMs, a.AttemptedAt)
	if err != nil {
		logger.Info("inserting publish attempt", zap.String("post_id", a.PostID), zap.Error(err))
		return err
	}

	return nil
}

func (r *postingHistoryRepository) ListByPostID(ctx context.Context, postID string) ([]*models.PublishAttempt, error) {
	query := `
		SELECT id, post_id, workspace_id, platform, outcome, error_message, external_post_id, duration_ms, attempted_at
		FROM publish_attempts
		WHERE post_id = $1
		ORDER BY attempted_at
	`

	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		logger.Info("listing publish attempts", zap.String("post_id", postID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var attempts []*models.PublishAttempt
	for rows.Next() {
		var a models.PublishAttempt
		err := rows.Scan(&a.ID, &a.PostID, &a.WorkspaceID, &a.Platform, &a.Outcome, &a.ErrorMessage,
			&a.ExternalPostID, &a.DurationMs, &a.AttemptedAt)
		if err != nil {
			logger.Info("scanning publish attempt", zap.Error(err))
			return nil, err
		}
		attempts = append(attempts, &a)
	}

	if err := rows.Err(); err != nil {
		logger.Info("iterating publish attempts", zap.Error(err))
		return nil, err
	}
	return attempts, nil
}
