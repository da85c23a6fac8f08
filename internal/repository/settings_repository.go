package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/pkg/logger"
	"go.uber.org/zap"
)

type SettingsRepository interface {
	GetByWorkspaceID(ctx context.Context, workspaceID string) (*models.Settings, bool, error)
	Upsert(ctx context.Context, s *models.Settings) error
}

type settingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

func (r *settingsRepository) GetByWorkspaceID(ctx context.Context, workspaceID string) (*models.Settings, bool, error) {
	query := `
		SELECT workspace_id, peak_hours, timezone, conflict_window_minutes, created_at, updated_at
		FROM workspace_settings
		WHERE workspace_id = $1
	`

	var (
		s             models.Settings
		peakHours     []int64
		windowMinutes int64
	)
	err := r.db.QueryRowContext(ctx, query, workspaceID).Scan(&s.WorkspaceID, pq.Array(&peakHours), &s.Timezone,
		&windowMinutes, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		logger.Info("fetching workspace settings", zap.String("workspace_id", workspaceID), zap.Error(err))
		return nil, false, err
	}

	s.PeakHours = make([]int, len(peakHours))
	for i, h := range peakHours {
		s.PeakHours[i] = int(h)
	}
	s.ConflictWindow = time.Duration(windowMinutes) * time.Minute

	return &s, true, nil
}

func (r *settingsRepository) Upsert(ctx context.Context, s *models.Settings) error {
	query := `
		INSERT INTO workspace_settings (workspace_id, peak_hours, timezone, conflict_window_minutes, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (workspace_id) DO UPDATE
		SET peak_hours = EXCLUDED.peak_hours,
			timezone = EXCLUDED.timezone,
			conflict_window_minutes = EXCLUDED.conflict_window_minutes,
			updated_at = EXCLUDED.updated_at
	`

	peakHours := make([]int64, len(s.PeakHours))
	for i, h := range s.PeakHours {
		peakHours[i] = int64(h)
	}

	_, err := r.db.ExecContext(ctx, query, s.WorkspaceID, pq.Array(peakHours), s.Timezone,
		int64(s.ConflictWindow/time.Minute), time.Now())
	if err != nil {
		logger.Info("upserting workspace settings", zap.String("workspace_id", s.WorkspaceID), zap.Error(err))
		return err
	}

	return nil
}
