package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/pkg/logger"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
	cancelAttempts   = 3
)

type PostService interface {
	CreatePost(ctx context.Context, workspaceID string, pc *transfer.PostCreation) (*models.ScheduledPost, error)
	PostInfo(ctx context.Context, workspaceID, postID string) (*models.ScheduledPost, error)
	List(ctx context.Context, workspaceID string, w transfer.PostWindow) ([]*models.ScheduledPost, error)
	Reschedule(ctx context.Context, workspaceID, postID string, r *transfer.PostReschedule) (*models.ScheduledPost, error)
	Schedule(ctx context.Context, workspaceID, postID string, a *transfer.PostApproval) (*models.ScheduledPost, error)
	Edit(ctx context.Context, workspaceID, postID string, e *transfer.PostEdit) (*models.ScheduledPost, error)
	Cancel(ctx context.Context, workspaceID, postID string) (*models.ScheduledPost, error)
	Attempts(ctx context.Context, workspaceID, postID string) ([]*models.PublishAttempt, error)
}

type postService struct {
	pr  repository.PostRepository
	hr  repository.PostingHistoryRepository
	cd  ConflictDetector
	now Clock
}

func NewPostService(
	pr repository.PostRepository,
	hr repository.PostingHistoryRepository,
	cd ConflictDetector,
	now Clock) PostService {
	return &postService{
		pr:  pr,
		hr:  hr,
		cd:  cd,
		now: clockOrNow(now),
	}
}

func (s *postService) CreatePost(ctx context.Context, workspaceID string, pc *transfer.PostCreation) (*models.ScheduledPost, error) {
	if pc == nil {
		return nil, invalid("body", "post creation data is missing")
	}

	platforms := normalizePlatforms(pc.Platforms)
	if len(platforms) == 0 {
		return nil, invalid("platforms", "at least one platform is required")
	}

	format := models.ContentFormat(pc.ContentFormat)
	if !format.Valid() {
		return nil, invalid("content_format", "unsupported format %q", pc.ContentFormat)
	}

	if !pc.ScheduledFor.After(s.now()) {
		return nil, invalid("scheduled_for", "must be in the future")
	}

	if !pc.Override {
		conflicts, err := s.cd.FindConflictsAny(ctx, workspaceID, platforms, pc.ScheduledFor, "")
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			return nil, &ConflictError{Conflicts: conflicts}
		}
	}

	id, err := gonanoid.New()
	if err != nil {
		logger.Error("generating post id", zap.Error(err))
		return nil, err
	}

	status := models.PostStatusScheduled
	if pc.Draft {
		status = models.PostStatusDraft
	}

	targets := make([]models.PlatformTarget, len(platforms))
	for i, p := range platforms {
		targets[i] = models.PlatformTarget{Platform: p, Status: models.TargetStatusPending}
	}

	post := &models.ScheduledPost{
		ID:            id,
		WorkspaceID:   workspaceID,
		Targets:       targets,
		ContentFormat: format,
		MediaRef:      pc.MediaRef,
		Caption:       pc.Caption,
		ScheduledFor:  pc.ScheduledFor.UTC(),
		Status:        status,
	}

	if _, err := s.pr.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("error creating post: %w", err)
	}

	logger.Info("post created", zap.String("post_id", post.ID), zap.String("workspace_id", workspaceID),
		zap.Strings("platforms", platforms), zap.Time("scheduled_for", post.ScheduledFor),
		zap.Bool("override", pc.Override))
	return post, nil
}

func (s *postService) PostInfo(ctx context.Context, workspaceID, postID string) (*models.ScheduledPost, error) {
	if postID == "" {
		return nil, invalid("id", "post id is required")
	}

	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.WorkspaceID != workspaceID {
		return nil, repository.ErrNotFound
	}
	return post, nil
}

func (s *postService) List(ctx context.Context, workspaceID string, w transfer.PostWindow) ([]*models.ScheduledPost, error) {
	if !w.From.IsZero() && !w.To.IsZero() && !w.From.Before(w.To) {
		return nil, invalid("to", "must be after from")
	}

	limit := w.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	platform := ""
	if ps := normalizePlatforms([]string{w.Platform}); len(ps) == 1 {
		platform = ps[0]
	}

	return s.pr.List(ctx, repository.ListFilter{
		WorkspaceID: workspaceID,
		Platform:    platform,
		From:        w.From,
		To:          w.To,
		Limit:       limit,
	})
}

// Reschedule moves a post to a new time. A stale ExpectedVersion comes back as
// repository.ErrVersionConflict untouched: the caller re-reads and decides again.
func (s *postService) Reschedule(ctx context.Context, workspaceID, postID string, r *transfer.PostReschedule) (*models.ScheduledPost, error) {
	if r == nil {
		return nil, invalid("body", "reschedule data is missing")
	}
	if r.ExpectedVersion <= 0 {
		return nil, invalid("expected_version", "must be positive")
	}

	post, err := s.PostInfo(ctx, workspaceID, postID)
	if err != nil {
		return nil, err
	}
	if post.Status == models.PostStatusPublishing {
		return nil, ErrPostInFlight
	}
	if post.Status.Terminal() {
		return nil, ErrPostClosed
	}
	if !r.ScheduledFor.After(s.now()) {
		return nil, invalid("scheduled_for", "must be in the future")
	}

	if !r.Override {
		conflicts, err := s.cd.FindConflictsAny(ctx, workspaceID, post.Platforms(), r.ScheduledFor, post.ID)
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			return nil, &ConflictError{Conflicts: conflicts}
		}
	}

	newTime := r.ScheduledFor.UTC()
	updated, err := s.pr.CompareAndSwap(ctx, post.ID, r.ExpectedVersion, func(p *models.ScheduledPost) error {
		if p.Status == models.PostStatusPublishing {
			return ErrPostInFlight
		}
		if p.Status.Terminal() {
			return ErrPostClosed
		}
		p.ScheduledFor = newTime
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("post rescheduled", zap.String("post_id", post.ID), zap.String("workspace_id", workspaceID),
		zap.Time("scheduled_for", newTime), zap.Int64("version", updated.Version))
	return updated, nil
}

// Schedule approves a draft: it becomes due at its stored time. The time must still be in the
// future and free of conflicts unless Override is set. Approving a post that is already
// scheduled returns it unchanged.
func (s *postService) Schedule(ctx context.Context, workspaceID, postID string, a *transfer.PostApproval) (*models.ScheduledPost, error) {
	if a == nil {
		return nil, invalid("body", "approval data is missing")
	}
	if a.ExpectedVersion <= 0 {
		return nil, invalid("expected_version", "must be positive")
	}

	post, err := s.PostInfo(ctx, workspaceID, postID)
	if err != nil {
		return nil, err
	}
	switch {
	case post.Status == models.PostStatusScheduled:
		return post, nil
	case post.Status == models.PostStatusPublishing:
		return nil, ErrPostInFlight
	case post.Status.Terminal():
		return nil, ErrPostClosed
	}
	if !post.ScheduledFor.After(s.now()) {
		return nil, invalid("scheduled_for", "is no longer in the future, reschedule the draft first")
	}

	if !a.Override {
		conflicts, err := s.cd.FindConflictsAny(ctx, workspaceID, post.Platforms(), post.ScheduledFor, post.ID)
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			return nil, &ConflictError{Conflicts: conflicts}
		}
	}

	updated, err := s.pr.CompareAndSwap(ctx, post.ID, a.ExpectedVersion, func(p *models.ScheduledPost) error {
		if p.Status != models.PostStatusDraft {
			return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, p.Status, models.PostStatusScheduled)
		}
		p.Status = models.PostStatusScheduled
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("draft scheduled", zap.String("post_id", post.ID), zap.String("workspace_id", workspaceID),
		zap.Time("scheduled_for", updated.ScheduledFor), zap.Int64("version", updated.Version))
	return updated, nil
}

// Edit replaces caption and media before pickup. Content is frozen once publishing starts.
func (s *postService) Edit(ctx context.Context, workspaceID, postID string, e *transfer.PostEdit) (*models.ScheduledPost, error) {
	if e == nil {
		return nil, invalid("body", "edit data is missing")
	}
	if e.ExpectedVersion <= 0 {
		return nil, invalid("expected_version", "must be positive")
	}
	if e.Caption == nil && e.MediaRef == nil {
		return nil, invalid("body", "nothing to change")
	}

	post, err := s.PostInfo(ctx, workspaceID, postID)
	if err != nil {
		return nil, err
	}

	updated, err := s.pr.CompareAndSwap(ctx, post.ID, e.ExpectedVersion, func(p *models.ScheduledPost) error {
		if p.Status == models.PostStatusPublishing {
			return ErrPostInFlight
		}
		if p.Status.Terminal() {
			return ErrPostClosed
		}
		if e.Caption != nil {
			p.Caption = *e.Caption
		}
		if e.MediaRef != nil {
			p.MediaRef = *e.MediaRef
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("post content edited", zap.String("post_id", post.ID), zap.String("workspace_id", workspaceID),
		zap.Int64("version", updated.Version))
	return updated, nil
}

// Cancel stops a post that has not been picked up yet. While a publish is in flight the cancel is
// recorded on the post and applied once the attempt resolves. Lost races are retried on a fresh read.
func (s *postService) Cancel(ctx context.Context, workspaceID, postID string) (*models.ScheduledPost, error) {
	var lastErr error
	for attempt := 0; attempt < cancelAttempts; attempt++ {
		post, err := s.PostInfo(ctx, workspaceID, postID)
		if err != nil {
			return nil, err
		}

		var mutate repository.Mutation
		switch {
		case post.Status == models.PostStatusCancelled:
			return post, nil
		case post.Status.Terminal():
			return nil, ErrPostClosed
		case post.Status == models.PostStatusPublishing:
			if post.CancelRequested {
				return post, nil
			}
			mutate = func(p *models.ScheduledPost) error {
				p.CancelRequested = true
				return nil
			}
		default:
			mutate = func(p *models.ScheduledPost) error {
				p.Status = models.PostStatusCancelled
				p.CancelRequested = false
				return nil
			}
		}

		updated, err := s.pr.CompareAndSwap(ctx, post.ID, post.Version, mutate)
		if err == nil {
			logger.Info("post cancel applied", zap.String("post_id", post.ID),
				zap.String("workspace_id", workspaceID), zap.String("status", string(updated.Status)),
				zap.Bool("pending", updated.CancelRequested))
			return updated, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *postService) Attempts(ctx context.Context, workspaceID, postID string) ([]*models.PublishAttempt, error) {
	post, err := s.PostInfo(ctx, workspaceID, postID)
	if err != nil {
		return nil, err
	}
	return s.hr.ListByPostID(ctx, post.ID)
}
