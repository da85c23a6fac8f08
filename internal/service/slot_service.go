package service

import (
	"context"
	"time"

	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/pkg/logger"
	"go.uber.org/zap"
)

type SlotRecommender interface {
	Suggest(ctx context.Context, workspaceID, platform string, day time.Time) *transfer.SlotSuggestion
}

type slotRecommender struct {
	cd  ConflictDetector
	ss  SettingsService
	now Clock
}

func NewSlotRecommender(cd ConflictDetector, ss SettingsService, now Clock) SlotRecommender {
	return &slotRecommender{cd: cd, ss: ss, now: clockOrNow(now)}
}

// Suggest walks the workspace's peak hours on day, in the workspace timezone, and returns the
// first future hour with no conflict on platform. When every candidate is taken it hands back
// day unchanged so the caller always gets a usable timestamp.
func (r *slotRecommender) Suggest(ctx context.Context, workspaceID, platform string, day time.Time) *transfer.SlotSuggestion {
	fallback := &transfer.SlotSuggestion{Platform: platform, SuggestedFor: day}

	loc, settings, err := r.ss.Location(ctx, workspaceID)
	if err != nil {
		logger.Warn("slot suggestion without settings", zap.String("workspace_id", workspaceID), zap.Error(err))
		return fallback
	}

	now := r.now()
	local := day.In(loc)
	for _, hour := range settings.PeakHours {
		candidate := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
		if !candidate.After(now) {
			continue
		}

		conflicts, err := r.cd.FindConflicts(ctx, workspaceID, platform, candidate, "")
		if err != nil {
			logger.Warn("conflict lookup failed for slot candidate",
				zap.String("workspace_id", workspaceID), zap.String("platform", platform),
				zap.Time("candidate", candidate), zap.Error(err))
			continue
		}
		if len(conflicts) == 0 {
			return &transfer.SlotSuggestion{Platform: platform, SuggestedFor: candidate, ConflictFree: true}
		}
	}

	return fallback
}
