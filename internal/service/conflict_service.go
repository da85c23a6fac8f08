package service

import (
	"context"
	"sort"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
)

type ConflictDetector interface {
	// FindConflicts lists the live posts on platform scheduled strictly within the conflict window
	// of candidate. excludePostID drops the post being edited from its own result.
	FindConflicts(ctx context.Context, workspaceID, platform string, candidate time.Time, excludePostID string) ([]*models.ScheduledPost, error)
	// FindConflictsAny is FindConflicts across several platforms, deduplicated by post.
	FindConflictsAny(ctx context.Context, workspaceID string, platforms []string, candidate time.Time, excludePostID string) ([]*models.ScheduledPost, error)
}

type conflictDetector struct {
	pr repository.PostRepository
	ss SettingsService
}

func NewConflictDetector(pr repository.PostRepository, ss SettingsService) ConflictDetector {
	return &conflictDetector{pr: pr, ss: ss}
}

func (d *conflictDetector) FindConflicts(ctx context.Context, workspaceID, platform string, candidate time.Time, excludePostID string) ([]*models.ScheduledPost, error) {
	settings, err := d.ss.GetSettingsInfo(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	window := settings.ConflictWindow

	posts, err := d.pr.ListByWindow(ctx, workspaceID, platform, candidate.Add(-window), candidate.Add(window))
	if err != nil {
		return nil, err
	}

	var conflicts []*models.ScheduledPost
	for _, p := range posts {
		if p.ID == excludePostID || !p.Status.Blocking() {
			continue
		}
		if absDuration(p.ScheduledFor.Sub(candidate)) < window {
			conflicts = append(conflicts, p)
		}
	}
	return conflicts, nil
}

func (d *conflictDetector) FindConflictsAny(ctx context.Context, workspaceID string, platforms []string, candidate time.Time, excludePostID string) ([]*models.ScheduledPost, error) {
	seen := map[string]struct{}{}
	var all []*models.ScheduledPost
	for _, platform := range platforms {
		conflicts, err := d.FindConflicts(ctx, workspaceID, platform, candidate, excludePostID)
		if err != nil {
			return nil, err
		}
		for _, p := range conflicts {
			if _, ok := seen[p.ID]; ok {
				continue
			}
			seen[p.ID] = struct{}{}
			all = append(all, p)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ScheduledFor.Before(all[j].ScheduledFor) })
	return all, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
