package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
)

// memoryPostRepository keeps posts in process memory. It backs local runs without Postgres
// and the service tests; the mutex makes each CompareAndSwap atomic.
type memoryPostRepository struct {
	mu    sync.Mutex
	posts map[string]*models.ScheduledPost
	now   func() time.Time
}

func NewMemoryPostRepository(now func() time.Time) PostRepository {
	if now == nil {
		now = time.Now
	}
	return &memoryPostRepository{posts: map[string]*models.ScheduledPost{}, now: now}
}

func (r *memoryPostRepository) Create(ctx context.Context, post *models.ScheduledPost) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.posts[post.ID]; ok {
		return "", fmt.Errorf("post %s already exists", post.ID)
	}

	now := r.now()
	if post.CreatedAt.IsZero() {
		post.CreatedAt = now
	}
	post.UpdatedAt = now
	if post.Version == 0 {
		post.Version = 1
	}
	r.posts[post.ID] = post.Clone()
	return post.ID, nil
}

func (r *memoryPostRepository) GetByID(ctx context.Context, id string) (*models.ScheduledPost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	post, ok := r.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return post.Clone(), nil
}

func (r *memoryPostRepository) collect(match func(p *models.ScheduledPost) bool) []*models.ScheduledPost {
	var out []*models.ScheduledPost
	for _, p := range r.posts {
		if match(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledFor.Equal(out[j].ScheduledFor) {
			return out[i].ID < out[j].ID
		}
		return out[i].ScheduledFor.Before(out[j].ScheduledFor)
	})
	return out
}

func (r *memoryPostRepository) List(ctx context.Context, filter ListFilter) ([]*models.ScheduledPost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	window := models.StatsPeriod{From: filter.From, To: filter.To}
	posts := r.collect(func(p *models.ScheduledPost) bool {
		if p.WorkspaceID != filter.WorkspaceID {
			return false
		}
		if filter.Platform != "" && !p.HasPlatform(filter.Platform) {
			return false
		}
		return window.Contains(p.ScheduledFor)
	})
	if filter.Limit > 0 && len(posts) > filter.Limit {
		posts = posts[:filter.Limit]
	}
	return posts, nil
}

func (r *memoryPostRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledPost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	posts := r.collect(func(p *models.ScheduledPost) bool { return p.Due(now) })
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

func (r *memoryPostRepository) ListByWindow(ctx context.Context, workspaceID, platform string, from, to time.Time) ([]*models.ScheduledPost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.collect(func(p *models.ScheduledPost) bool {
		return p.WorkspaceID == workspaceID &&
			p.HasPlatform(platform) &&
			!p.ScheduledFor.Before(from) &&
			!p.ScheduledFor.After(to)
	}), nil
}

func (r *memoryPostRepository) CompareAndSwap(ctx context.Context, id string, expectedVersion int64, mutate Mutation) (*models.ScheduledPost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.posts[id]
	if !ok {
		return nil, ErrNotFound
	}

	next, err := applyMutation(current, expectedVersion, mutate, r.now())
	if err != nil {
		return nil, err
	}
	r.posts[id] = next
	return next.Clone(), nil
}

func (r *memoryPostRepository) CountByStatus(ctx context.Context, workspaceID string, period models.StatsPeriod) (map[models.PostStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := map[models.PostStatus]int64{}
	for _, p := range r.posts {
		if p.WorkspaceID == workspaceID && period.Contains(p.ScheduledFor) {
			counts[p.Status]++
		}
	}
	return counts, nil
}

func (r *memoryPostRepository) CountByPlatform(ctx context.Context, workspaceID string, period models.StatsPeriod) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := map[string]int64{}
	for _, p := range r.posts {
		if p.WorkspaceID != workspaceID || !period.Contains(p.ScheduledFor) {
			continue
		}
		for _, platform := range p.Platforms() {
			counts[platform]++
		}
	}
	return counts, nil
}

type memoryPostingHistoryRepository struct {
	mu       sync.Mutex
	attempts []*models.PublishAttempt
}

func NewMemoryPostingHistoryRepository() PostingHistoryRepository {
	return &memoryPostingHistoryRepository{}
}

func (r *memoryPostingHistoryRepository) Create(ctx context.Context, a *models.PublishAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *a
	r.attempts = append(r.attempts, &c)
	return nil
}

func (r *memoryPostingHistoryRepository) ListByPostID(ctx context.Context, postID string) ([]*models.PublishAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.PublishAttempt
	for _, a := range r.attempts {
		if a.PostID == postID {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

type memorySettingsRepository struct {
	mu       sync.Mutex
	settings map[string]*models.Settings
}

func NewMemorySettingsRepository() SettingsRepository {
	return &memorySettingsRepository{settings: map[string]*models.Settings{}}
}

func (r *memorySettingsRepository) GetByWorkspaceID(ctx context.Context, workspaceID string) (*models.Settings, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.settings[workspaceID]
	if !ok {
		return nil, false, nil
	}
	c := *s
	c.PeakHours = append([]int(nil), s.PeakHours...)
	return &c, true, nil
}

func (r *memorySettingsRepository) Upsert(ctx context.Context, s *models.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	c := *s
	c.PeakHours = append([]int(nil), s.PeakHours...)
	if existing, ok := r.settings[s.WorkspaceID]; ok {
		c.CreatedAt = existing.CreatedAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	r.settings[s.WorkspaceID] = &c
	return nil
}
