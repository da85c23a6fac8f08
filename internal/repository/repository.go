package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
)

var (
	ErrNotFound        = errors.New("scheduled post not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrScheduleFrozen  = errors.New("scheduled time cannot change while publishing")
	ErrImmutableField  = errors.New("mutation changed an immutable field")
)

// Mutation edits a copy of the stored post. Returning an error aborts the swap.
type Mutation func(post *models.ScheduledPost) error

type ListFilter struct {
	WorkspaceID string
	Platform    string
	From        time.Time
	To          time.Time
	Limit       int
}

// applyMutation runs mutate against a copy of current and enforces the invariants every store
// shares: version match, legal status transition, frozen schedule while in flight and immutable
// identity. The returned post carries the next version.
func applyMutation(current *models.ScheduledPost, expectedVersion int64, mutate Mutation, now time.Time) (*models.ScheduledPost, error) {
	if current.Version != expectedVersion {
		return nil, fmt.Errorf("%w: post %s is at version %d, expected %d", ErrVersionConflict, current.ID, current.Version, expectedVersion)
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}

	if next.ID != current.ID || next.WorkspaceID != current.WorkspaceID || !next.CreatedAt.Equal(current.CreatedAt) {
		return nil, ErrImmutableField
	}
	if err := models.ValidateTransition(current.Status, next.Status); err != nil {
		return nil, err
	}
	if current.Status == models.PostStatusPublishing && next.Status == models.PostStatusPublishing &&
		!next.ScheduledFor.Equal(current.ScheduledFor) {
		return nil, ErrScheduleFrozen
	}

	next.Version = current.Version + 1
	next.UpdatedAt = now
	return next, nil
}
