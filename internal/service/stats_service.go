package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	PeriodDay   = "day"
	PeriodWeek  = "week"
	PeriodMonth = "month"
	PeriodAll   = "all"
)

type StatsService interface {
	GetStats(ctx context.Context, workspaceID, period string) (*transfer.Stats, error)
}

type statsService struct {
	pr  repository.PostRepository
	ss  SettingsService
	rdb *redis.Client
	ttl time.Duration
	now Clock
}

// NewStatsService builds the dashboard rollups. rdb may be nil, in which case every call reads
// the store directly.
func NewStatsService(pr repository.PostRepository, ss SettingsService, rdb *redis.Client, ttl time.Duration, now Clock) StatsService {
	return &statsService{
		pr:  pr,
		ss:  ss,
		rdb: rdb,
		ttl: ttl,
		now: clockOrNow(now),
	}
}

func (s *statsService) GetStats(ctx context.Context, workspaceID, period string) (*transfer.Stats, error) {
	if period == "" {
		period = PeriodWeek
	}

	loc, _, err := s.ss.Location(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	window, err := ResolvePeriod(period, s.now(), loc)
	if err != nil {
		return nil, err
	}

	key := statsCacheKey(workspaceID, window)
	if cached, ok := s.cached(ctx, key); ok {
		return cached, nil
	}

	byStatus, err := s.pr.CountByStatus(ctx, workspaceID, window)
	if err != nil {
		return nil, fmt.Errorf("counting posts by status: %w", err)
	}
	byPlatform, err := s.pr.CountByPlatform(ctx, workspaceID, window)
	if err != nil {
		return nil, fmt.Errorf("counting posts by platform: %w", err)
	}

	stats := &transfer.Stats{Period: window, ByStatus: byStatus, ByPlatform: byPlatform}
	s.store(ctx, key, stats)
	return stats, nil
}

func (s *statsService) cached(ctx context.Context, key string) (*transfer.Stats, bool) {
	if s.rdb == nil {
		return nil, false
	}

	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("stats cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var stats transfer.Stats
	if err := json.Unmarshal(raw, &stats); err != nil {
		logger.Warn("stats cache entry unreadable", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &stats, true
}

func (s *statsService) store(ctx context.Context, key string, stats *transfer.Stats) {
	if s.rdb == nil || s.ttl <= 0 {
		return
	}

	raw, err := json.Marshal(stats)
	if err != nil {
		logger.Warn("encoding stats for cache", zap.Error(err))
		return
	}
	if err := s.rdb.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		logger.Warn("stats cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func statsCacheKey(workspaceID string, p models.StatsPeriod) string {
	return fmt.Sprintf("stats:%s:%s:%d", workspaceID, p.Name, p.From.Unix())
}

// ResolvePeriod turns a period name into the half-open range containing now, in loc. Weeks start
// on Monday. "all" has open bounds.
func ResolvePeriod(name string, now time.Time, loc *time.Location) (models.StatsPeriod, error) {
	local := now.In(loc)
	startOfDay := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	switch name {
	case PeriodDay:
		return models.StatsPeriod{Name: name, From: startOfDay, To: startOfDay.AddDate(0, 0, 1)}, nil
	case PeriodWeek:
		offset := (int(local.Weekday()) + 6) % 7
		from := startOfDay.AddDate(0, 0, -offset)
		return models.StatsPeriod{Name: name, From: from, To: from.AddDate(0, 0, 7)}, nil
	case PeriodMonth:
		from := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
		return models.StatsPeriod{Name: name, From: from, To: from.AddDate(0, 1, 0)}, nil
	case PeriodAll:
		return models.StatsPeriod{Name: name}, nil
	}
	return models.StatsPeriod{}, invalid("period", "unknown period %q", name)
}
