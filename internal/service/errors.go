package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/maheshrc27/postflow/internal/models"
)

var (
	ErrPostInFlight = errors.New("post is being published")
	ErrPostClosed   = errors.New("post is no longer editable")
)

// ValidationError is malformed input. It is reported to the caller and never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError lists the posts colliding with a requested slot. The caller decides whether
// to pick another slot or resubmit with override.
type ConflictError struct {
	Conflicts []*models.ScheduledPost
}

func (e *ConflictError) Error() string {
	ids := make([]string, len(e.Conflicts))
	for i, p := range e.Conflicts {
		ids[i] = p.ID
	}
	return fmt.Sprintf("schedule conflicts with %d post(s): %s", len(ids), strings.Join(ids, ", "))
}
