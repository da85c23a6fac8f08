package publisher

import (
	"context"
	"errors"
	"fmt"

	"github.com/maheshrc27/postflow/internal/models"
)

// Publisher pushes one post to one platform target. Implementations classify every failure as
// transient or permanent; they never retry on their own.
type Publisher interface {
	Publish(ctx context.Context, post *models.ScheduledPost, target models.PlatformTarget) Result
}

type Result struct {
	Outcome        models.PublishOutcome
	ExternalPostID string
	Err            error
}

func Success(externalID string) Result {
	return Result{Outcome: models.OutcomeSuccess, ExternalPostID: externalID}
}

func Transient(err error) Result {
	return Result{Outcome: models.OutcomeTransient, Err: &TransientError{Err: err}}
}

func Permanent(err error) Result {
	return Result{Outcome: models.OutcomePermanent, Err: &PermanentError{Err: err}}
}

func (r Result) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

type TransientError struct{ Err error }

func (e *TransientError) Error() string { return "transient publish error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return "permanent publish error: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

var ErrUnsupportedPlatform = errors.New("no publisher registered for platform")

// Registry routes each target to the publisher registered for its platform.
type Registry struct {
	publishers map[string]Publisher
}

func NewRegistry() *Registry {
	return &Registry{publishers: map[string]Publisher{}}
}

func (r *Registry) Register(platform string, p Publisher) {
	r.publishers[platform] = p
}

func (r *Registry) Platforms() []string {
	platforms := make([]string, 0, len(r.publishers))
	for p := range r.publishers {
		platforms = append(platforms, p)
	}
	return platforms
}

func (r *Registry) Publish(ctx context.Context, post *models.ScheduledPost, target models.PlatformTarget) Result {
	p, ok := r.publishers[target.Platform]
	if !ok {
		return Permanent(fmt.Errorf("%w: %s", ErrUnsupportedPlatform, target.Platform))
	}
	return p.Publish(ctx, post, target)
}
