package service

import (
	"context"
	"testing"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/stretchr/testify/require"
)

// Monday 2026-03-02 06:00 UTC.
var base = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

var testDefaults = config.Scheduling{
	Timezone:       "UTC",
	ConflictWindow: 60 * time.Minute,
	PeakHours:      []int{9, 12, 18, 20},
}

type fixture struct {
	now   time.Time
	pr    repository.PostRepository
	hr    repository.PostingHistoryRepository
	sr    repository.SettingsRepository
	ss    SettingsService
	cd    ConflictDetector
	posts PostService
	slots SlotRecommender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: base}
	clock := func() time.Time { return f.now }

	f.pr = repository.NewMemoryPostRepository(clock)
	f.hr = repository.NewMemoryPostingHistoryRepository()
	f.sr = repository.NewMemorySettingsRepository()
	f.ss = NewSettingsService(f.sr, testDefaults)
	f.cd = NewConflictDetector(f.pr, f.ss)
	f.posts = NewPostService(f.pr, f.hr, f.cd, clock)
	f.slots = NewSlotRecommender(f.cd, f.ss, clock)
	return f
}

func (f *fixture) seed(t *testing.T, id string, at time.Time, status models.PostStatus, platforms ...string) *models.ScheduledPost {
	t.Helper()
	return f.seedIn(t, "ws1", id, at, status, platforms...)
}

func (f *fixture) seedIn(t *testing.T, workspaceID, id string, at time.Time, status models.PostStatus, platforms ...string) *models.ScheduledPost {
	t.Helper()
	targets := make([]models.PlatformTarget, len(platforms))
	for i, p := range platforms {
		targets[i] = models.PlatformTarget{Platform: p, Status: models.TargetStatusPending}
	}
	post := &models.ScheduledPost{
		ID:            id,
		WorkspaceID:   workspaceID,
		Targets:       targets,
		ContentFormat: models.ContentFormatPost,
		ScheduledFor:  at,
		Status:        status,
	}
	_, err := f.pr.Create(context.Background(), post)
	require.NoError(t, err)
	return post
}

func postIDs(posts []*models.ScheduledPost) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}
