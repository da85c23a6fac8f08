package service

import (
	"context"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/pkg/logger"
	"go.uber.org/zap"
)

type SettingsService interface {
	GetSettingsInfo(ctx context.Context, workspaceID string) (*models.Settings, error)
	UpdateSettings(ctx context.Context, workspaceID string, su *transfer.SettingsUpdate) (*models.Settings, error)
	Location(ctx context.Context, workspaceID string) (*time.Location, *models.Settings, error)
}

type settingsService struct {
	sr       repository.SettingsRepository
	defaults config.Scheduling
}

func NewSettingsService(sr repository.SettingsRepository, defaults config.Scheduling) SettingsService {
	return &settingsService{
		sr:       sr,
		defaults: defaults,
	}
}

// GetSettingsInfo returns the workspace's stored settings, falling back to the global defaults
// for anything the workspace never set.
func (s *settingsService) GetSettingsInfo(ctx context.Context, workspaceID string) (*models.Settings, error) {
	settings, isExist, err := s.sr.GetByWorkspaceID(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	if !isExist {
		settings = &models.Settings{WorkspaceID: workspaceID}
	}
	if len(settings.PeakHours) == 0 {
		settings.PeakHours = append([]int(nil), s.defaults.PeakHours...)
	}
	if settings.Timezone == "" {
		settings.Timezone = s.defaults.Timezone
	}
	if settings.ConflictWindow <= 0 {
		settings.ConflictWindow = s.defaults.ConflictWindow
	}

	return settings, nil
}

func (s *settingsService) UpdateSettings(ctx context.Context, workspaceID string, su *transfer.SettingsUpdate) (*models.Settings, error) {
	if len(su.PeakHours) == 0 {
		return nil, invalid("peak_hours", "at least one hour is required")
	}
	for _, h := range su.PeakHours {
		if h < 0 || h > 23 {
			return nil, invalid("peak_hours", "hour %d is outside 0-23", h)
		}
	}
	if _, err := time.LoadLocation(su.Timezone); err != nil {
		return nil, invalid("timezone", "unknown timezone %q", su.Timezone)
	}
	if su.ConflictWindowMinutes <= 0 {
		return nil, invalid("conflict_window_minutes", "must be positive")
	}

	settings := &models.Settings{
		WorkspaceID:    workspaceID,
		PeakHours:      su.PeakHours,
		Timezone:       su.Timezone,
		ConflictWindow: time.Duration(su.ConflictWindowMinutes) * time.Minute,
	}
	if err := s.sr.Upsert(ctx, settings); err != nil {
		return nil, err
	}

	logger.Info("workspace settings updated", zap.String("workspace_id", workspaceID),
		zap.Ints("peak_hours", su.PeakHours), zap.String("timezone", su.Timezone))
	return s.GetSettingsInfo(ctx, workspaceID)
}

func (s *settingsService) Location(ctx context.Context, workspaceID string) (*time.Location, *models.Settings, error) {
	settings, err := s.GetSettingsInfo(ctx, workspaceID)
	if err != nil {
		return nil, nil, err
	}

	loc, err := time.LoadLocation(settings.Timezone)
	if err != nil {
		logger.Warn("unknown workspace timezone, using UTC",
			zap.String("workspace_id", workspaceID), zap.String("timezone", settings.Timezone))
		loc = time.UTC
	}
	return loc, settings, nil
}
