package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/publisher"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/pkg/logger"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	instrumentationName = "github.com/maheshrc27/postflow/internal/jobs"
	leaseExpiredReason  = "lease expired"
	cancelledReason     = "cancelled before publishing"
	casAttempts         = 3
)

var (
	errLeaseLost = errors.New("lease lost")
	errNotDue    = errors.New("post is not due")
)

// OutcomeNotifier receives every post that leaves the pipeline for good.
type OutcomeNotifier interface {
	Notify(ctx context.Context, payload queue.PostOutcomePayload) error
}

// PublishJob drives due posts through publishing. Any number of instances may run against the
// same store: a post is only worked on by the instance holding its lease.
type PublishJob struct {
	pr       repository.PostRepository
	hr       repository.PostingHistoryRepository
	pub      publisher.Publisher
	notifier OutcomeNotifier
	cfg      config.Orchestrator
	owner    string
	limiter  *rate.Limiter
	now      func() time.Time
	running  sync.Mutex

	tracer   trace.Tracer
	attempts metric.Int64Counter
	resolved metric.Int64Counter
}

func NewPublishJob(
	pr repository.PostRepository,
	hr repository.PostingHistoryRepository,
	pub publisher.Publisher,
	notifier OutcomeNotifier,
	cfg config.Orchestrator,
	now func() time.Time) *PublishJob {
	if now == nil {
		now = time.Now
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	meter := otel.Meter(instrumentationName)
	attempts, err := meter.Int64Counter("postflow.publish.attempts",
		metric.WithDescription("Publisher calls by platform and outcome"))
	if err != nil {
		logger.Warn("creating attempts counter", zap.Error(err))
	}
	resolved, err := meter.Int64Counter("postflow.posts.resolved",
		metric.WithDescription("Posts leaving the publishing state, by resulting status"))
	if err != nil {
		logger.Warn("creating resolved counter", zap.Error(err))
	}

	return &PublishJob{
		pr:       pr,
		hr:       hr,
		pub:      pub,
		notifier: notifier,
		cfg:      cfg,
		owner:    uuid.NewString(),
		limiter:  rate.NewLimiter(limit, burst),
		now:      now,
		tracer:   otel.Tracer(instrumentationName),
		attempts: attempts,
		resolved: resolved,
	}
}

func (j *PublishJob) Owner() string {
	return j.owner
}

// Run is the cron entry point. A tick that fires while the previous one is still working is skipped.
func (j *PublishJob) Run() {
	if !j.running.TryLock() {
		logger.Debug("publish tick skipped, previous tick still running")
		return
	}
	defer j.running.Unlock()

	j.RunOnce(context.Background())
}

// RunOnce processes one batch of due posts and waits for all of them.
func (j *PublishJob) RunOnce(ctx context.Context) {
	posts, err := j.pr.ListDue(ctx, j.now(), j.cfg.BatchLimit)
	if err != nil {
		logger.Error("listing due posts", zap.Error(err))
		return
	}
	if len(posts) == 0 {
		return
	}
	logger.Debug("due posts", zap.Int("count", len(posts)), zap.String("owner", j.owner))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, j.cfg.Concurrency)

	for _, post := range posts {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(post *models.ScheduledPost) {
			defer wg.Done()
			defer func() { <-semaphore }()

			j.process(ctx, post)
		}(post)
	}

	wg.Wait()
}

func postFields(post *models.ScheduledPost) []zap.Field {
	return []zap.Field{zap.String("post_id", post.ID), zap.String("workspace_id", post.WorkspaceID)}
}

func (j *PublishJob) process(ctx context.Context, post *models.ScheduledPost) {
	ctx, span := j.tracer.Start(ctx, "publish_job.process", trace.WithAttributes(
		attribute.String("post.id", post.ID),
		attribute.String("post.workspace_id", post.WorkspaceID),
	))
	defer span.End()

	reclaim := post.Status == models.PostStatusPublishing
	leased, err := j.acquire(ctx, post)
	if err != nil {
		if errors.Is(err, repository.ErrVersionConflict) || errors.Is(err, errNotDue) {
			logger.Debug("lease not acquired", append(postFields(post), zap.Error(err))...)
			return
		}
		logger.Error("acquiring lease", append(postFields(post), zap.Error(err))...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "lease")
		return
	}
	logger.Info("lease acquired", append(postFields(leased),
		zap.String("owner", j.owner), zap.Bool("reclaimed", reclaim), zap.Int("retry_count", leased.RetryCount))...)

	if leased.CancelRequested || (reclaim && leased.RetryCount >= j.cfg.MaxRetries) {
		j.resolve(ctx, leased, false)
		return
	}

	for _, target := range leased.Targets {
		if target.Status != models.TargetStatusPending {
			continue
		}
		if leased.CancelRequested {
			logger.Info("cancel requested, remaining targets skipped", postFields(leased)...)
			break
		}
		if err := j.limiter.Wait(ctx); err != nil {
			logger.Warn("rate limiter wait aborted", append(postFields(leased), zap.Error(err))...)
			break
		}

		result := j.publishTarget(ctx, leased, target)
		leased, err = j.saveTarget(ctx, leased, target.Platform, result)
		if err != nil {
			logger.Error("saving target result", append(postFields(post), zap.String("platform", target.Platform), zap.Error(err))...)
			span.RecordError(err)
			span.SetStatus(codes.Error, "save target")
			return
		}
	}

	j.resolve(ctx, leased, true)
}

// acquire takes the lease with a compare-and-swap on the version read by ListDue. Reclaiming an
// expired lease counts as a failed attempt.
func (j *PublishJob) acquire(ctx context.Context, post *models.ScheduledPost) (*models.ScheduledPost, error) {
	now := j.now()
	expires := now.Add(j.cfg.LeaseTTL)

	return j.pr.CompareAndSwap(ctx, post.ID, post.Version, func(p *models.ScheduledPost) error {
		if !p.Due(now) {
			return errNotDue
		}
		if p.Status == models.PostStatusPublishing {
			p.RetryCount++
			p.LastError = leaseExpiredReason
		}
		p.Status = models.PostStatusPublishing
		p.LeaseOwner = j.owner
		p.LeaseExpiresAt = &expires
		return nil
	})
}

// publishTarget calls the publisher under PublishTimeout. A publisher that ignores its context is
// abandoned at the deadline and the attempt counts as transient.
func (j *PublishJob) publishTarget(ctx context.Context, post *models.ScheduledPost, target models.PlatformTarget) publisher.Result {
	ctx, span := j.tracer.Start(ctx, "publisher.publish", trace.WithAttributes(
		attribute.String("post.id", post.ID),
		attribute.String("platform", target.Platform),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, j.cfg.PublishTimeout)
	defer cancel()

	started := j.now()
	done := make(chan publisher.Result, 1)
	go func() {
		done <- j.pub.Publish(ctx, post.Clone(), target)
	}()

	var result publisher.Result
	select {
	case result = <-done:
	case <-ctx.Done():
		result = publisher.Transient(fmt.Errorf("publish to %s: %w", target.Platform, ctx.Err()))
	}
	elapsed := j.now().Sub(started)

	if result.Outcome != models.OutcomeSuccess {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, string(result.Outcome))
	}
	if j.attempts != nil {
		j.attempts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("platform", target.Platform),
			attribute.String("outcome", string(result.Outcome)),
		))
	}

	logger.Info("publish attempt", append(postFields(post),
		zap.String("platform", target.Platform),
		zap.String("outcome", string(result.Outcome)),
		zap.String("external_post_id", result.ExternalPostID),
		zap.Duration("elapsed", elapsed),
		zap.String("reason", result.Reason()))...)

	j.recordAttempt(ctx, post, target.Platform, result, elapsed, started)
	return result
}

func (j *PublishJob) recordAttempt(ctx context.Context, post *models.ScheduledPost, platform string, result publisher.Result, elapsed time.Duration, at time.Time) {
	id, err := gonanoid.New()
	if err != nil {
		logger.Warn("generating attempt id", zap.Error(err))
		return
	}

	attempt := &models.PublishAttempt{
		ID:             id,
		PostID:         post.ID,
		WorkspaceID:    post.WorkspaceID,
		Platform:       platform,
		Outcome:        result.Outcome,
		ErrorMessage:   result.Reason(),
		ExternalPostID: result.ExternalPostID,
		DurationMs:     elapsed.Milliseconds(),
		AttemptedAt:    at,
	}
	// The attempt context may already be past its deadline.
	if err := j.hr.Create(context.WithoutCancel(ctx), attempt); err != nil {
		logger.Warn("recording publish attempt", append(postFields(post), zap.Error(err))...)
	}
}

// update applies mutate while this instance still owns the lease. Version conflicts from
// concurrent user edits are retried against a fresh read.
func (j *PublishJob) update(ctx context.Context, post *models.ScheduledPost, mutate repository.Mutation) (*models.ScheduledPost, error) {
	current := post
	for attempt := 0; attempt < casAttempts; attempt++ {
		updated, err := j.pr.CompareAndSwap(ctx, current.ID, current.Version, func(p *models.ScheduledPost) error {
			if p.Status != models.PostStatusPublishing || p.LeaseOwner != j.owner {
				return errLeaseLost
			}
			return mutate(p)
		})
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, err
		}

		current, err = j.pr.GetByID(ctx, post.ID)
		if err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: post %s kept changing", repository.ErrVersionConflict, post.ID)
}

func (j *PublishJob) saveTarget(ctx context.Context, post *models.ScheduledPost, platform string, result publisher.Result) (*models.ScheduledPost, error) {
	now := j.now()
	expires := now.Add(j.cfg.LeaseTTL)

	// Persisting must survive a publish timeout on the parent context.
	return j.update(context.WithoutCancel(ctx), post, func(p *models.ScheduledPost) error {
		for i := range p.Targets {
			t := &p.Targets[i]
			if t.Platform != platform {
				continue
			}
			t.Attempts++
			switch result.Outcome {
			case models.OutcomeSuccess:
				t.Status = models.TargetStatusPublished
				t.ExternalPostID = result.ExternalPostID
				t.LastError = ""
				at := now
				t.PublishedAt = &at
			case models.OutcomePermanent:
				t.Status = models.TargetStatusFailed
				t.LastError = result.Reason()
			default:
				t.LastError = result.Reason()
			}
		}
		if result.Outcome != models.OutcomeSuccess {
			p.LastError = platform + ": " + result.Reason()
		}
		p.LeaseExpiresAt = &expires
		return nil
	})
}

// failPending closes every target still pending. A non-empty reason replaces the target's last error.
func failPending(post *models.ScheduledPost, reason string) {
	for i := range post.Targets {
		t := &post.Targets[i]
		if t.Status != models.TargetStatusPending {
			continue
		}
		t.Status = models.TargetStatusFailed
		if reason != "" {
			t.LastError = reason
		}
	}
}

func pendingTargets(post *models.ScheduledPost) int {
	n := 0
	for _, t := range post.Targets {
		if t.Status == models.TargetStatusPending {
			n++
		}
	}
	return n
}

// Backoff is the delay after a failed round, given the retries already taken before it:
// base * 2^retryCount, capped at max when max is positive. resolve passes RetryCount-1, so the
// first retry waits base (5m, 10m, 20m, 40m with the defaults).
func Backoff(base, max time.Duration, retryCount int) time.Duration {
	d := base
	for i := 0; i < retryCount; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// resolve moves a post out of publishing: to a terminal status when every target is settled or
// retries are exhausted, otherwise back to scheduled with backoff. countAttempt is false when the
// attempt was already counted at lease reclaim. A requested cancel replaces the retry: with nothing
// live the post goes back to scheduled and is then cancelled, otherwise the unpublished targets fail
// and the post ends partially_published.
func (j *PublishJob) resolve(ctx context.Context, post *models.ScheduledPost, countAttempt bool) {
	now := j.now()
	ctx = context.WithoutCancel(ctx)

	resolved, err := j.update(ctx, post, func(p *models.ScheduledPost) error {
		p.LeaseOwner = ""
		p.LeaseExpiresAt = nil

		published := 0
		for _, t := range p.Targets {
			if t.Status == models.TargetStatusPublished {
				published++
			}
		}

		if pendingTargets(p) > 0 {
			switch {
			case p.CancelRequested && published == 0:
				p.Status = models.PostStatusScheduled
				return nil
			case p.CancelRequested:
				failPending(p, cancelledReason)
			default:
				if countAttempt {
					p.RetryCount++
				}
				if p.RetryCount < j.cfg.MaxRetries {
					p.Status = models.PostStatusScheduled
					p.ScheduledFor = now.Add(Backoff(j.cfg.BackoffBase, j.cfg.BackoffCap, p.RetryCount-1))
					return nil
				}
				failPending(p, "")
			}
		}

		switch {
		case published == len(p.Targets):
			p.Status = models.PostStatusPublished
			p.LastError = ""
		case published > 0:
			p.Status = models.PostStatusPartiallyPublished
		default:
			p.Status = models.PostStatusFailed
		}
		if published > 0 {
			at := now
			p.PublishedAt = &at
		}
		return nil
	})
	if err != nil {
		logger.Error("resolving post", append(postFields(post), zap.Error(err))...)
		return
	}

	if resolved.Status == models.PostStatusScheduled && resolved.CancelRequested {
		j.finishCancel(ctx, resolved)
		return
	}

	j.countResolved(ctx, resolved.Status)
	logger.Info("post resolved", append(postFields(resolved),
		zap.String("status", string(resolved.Status)),
		zap.Int("retry_count", resolved.RetryCount),
		zap.Time("scheduled_for", resolved.ScheduledFor),
		zap.String("last_error", resolved.LastError))...)

	if resolved.Status.Terminal() {
		j.notify(ctx, resolved)
	}
}

func (j *PublishJob) finishCancel(ctx context.Context, post *models.ScheduledPost) {
	cancelled, err := j.pr.CompareAndSwap(ctx, post.ID, post.Version, func(p *models.ScheduledPost) error {
		p.Status = models.PostStatusCancelled
		return nil
	})
	if err != nil {
		// Still flagged; the next pickup retries the cancel.
		logger.Warn("applying pending cancel", append(postFields(post), zap.Error(err))...)
		return
	}

	j.countResolved(ctx, cancelled.Status)
	logger.Info("pending cancel applied", postFields(cancelled)...)
	j.notify(ctx, cancelled)
}

func (j *PublishJob) countResolved(ctx context.Context, status models.PostStatus) {
	if j.resolved == nil {
		return
	}
	j.resolved.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

func (j *PublishJob) notify(ctx context.Context, post *models.ScheduledPost) {
	if j.notifier == nil {
		return
	}
	if err := j.notifier.Notify(ctx, queue.NewPostOutcomePayload(post, j.now())); err != nil {
		logger.Warn("outcome notification failed", append(postFields(post), zap.Error(err))...)
	}
}

// Schedule is the cron spec for a tick interval.
func Schedule(tick time.Duration) string {
	return "@every " + tick.String()
}
