package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/publisher"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type scriptedPublisher struct {
	mu        sync.Mutex
	script    map[string][]publisher.Result
	calls     map[string]int
	onPublish func(post *models.ScheduledPost, target models.PlatformTarget)
	hang      chan struct{}
}

func newScriptedPublisher(script map[string][]publisher.Result) *scriptedPublisher {
	return &scriptedPublisher{script: script, calls: map[string]int{}}
}

// Publish replays the platform's script in order, repeating the last entry. Unscripted platforms succeed.
func (s *scriptedPublisher) Publish(ctx context.Context, post *models.ScheduledPost, target models.PlatformTarget) publisher.Result {
	s.mu.Lock()
	n := s.calls[target.Platform]
	s.calls[target.Platform]++
	results := s.script[target.Platform]
	hook := s.onPublish
	s.mu.Unlock()

	if hook != nil {
		hook(post, target)
	}
	if s.hang != nil {
		<-s.hang
	}
	if len(results) == 0 {
		return publisher.Success("ext-" + target.Platform)
	}
	if n >= len(results) {
		n = len(results) - 1
	}
	return results[n]
}

func (s *scriptedPublisher) callCount(platform string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[platform]
}

type recordingOutcomes struct {
	mu       sync.Mutex
	payloads []queue.PostOutcomePayload
}

func (r *recordingOutcomes) Notify(ctx context.Context, p queue.PostOutcomePayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, p)
	return nil
}

func (r *recordingOutcomes) statuses() []models.PostStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.PostStatus, len(r.payloads))
	for i, p := range r.payloads {
		out[i] = p.Status
	}
	return out
}

type harness struct {
	mu       sync.Mutex
	now      time.Time
	pr       repository.PostRepository
	hr       repository.PostingHistoryRepository
	pub      *scriptedPublisher
	outcomes *recordingOutcomes
	cfg      config.Orchestrator
}

func testConfig() config.Orchestrator {
	return config.Orchestrator{
		Tick:           30 * time.Second,
		BatchLimit:     50,
		LeaseTTL:       5 * time.Minute,
		PublishTimeout: 2 * time.Second,
		MaxRetries:     5,
		BackoffBase:    5 * time.Minute,
		BackoffCap:     2 * time.Hour,
		Concurrency:    4,
	}
}

func newHarness(t *testing.T, pub *scriptedPublisher) *harness {
	t.Helper()
	h := &harness{now: base, pub: pub, outcomes: &recordingOutcomes{}, cfg: testConfig()}
	h.pr = repository.NewMemoryPostRepository(h.clock)
	h.hr = repository.NewMemoryPostingHistoryRepository()
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) setNow(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = at
}

func (h *harness) job() *PublishJob {
	return NewPublishJob(h.pr, h.hr, h.pub, h.outcomes, h.cfg, h.clock)
}

func (h *harness) seed(t *testing.T, post *models.ScheduledPost) {
	t.Helper()
	_, err := h.pr.Create(context.Background(), post)
	require.NoError(t, err)
}

func (h *harness) get(t *testing.T, id string) *models.ScheduledPost {
	t.Helper()
	post, err := h.pr.GetByID(context.Background(), id)
	require.NoError(t, err)
	return post
}

func duePost(id string, platforms ...string) *models.ScheduledPost {
	targets := make([]models.PlatformTarget, len(platforms))
	for i, p := range platforms {
		targets[i] = models.PlatformTarget{Platform: p, Status: models.TargetStatusPending}
	}
	return &models.ScheduledPost{
		ID:            id,
		WorkspaceID:   "ws1",
		Targets:       targets,
		ContentFormat: models.ContentFormatPost,
		Caption:       "hello",
		ScheduledFor:  base.Add(-time.Minute),
		Status:        models.PostStatusScheduled,
	}
}

func target(post *models.ScheduledPost, platform string) models.PlatformTarget {
	for _, t := range post.Targets {
		if t.Platform == platform {
			return t
		}
	}
	return models.PlatformTarget{}
}

func TestPublishJob_AllTargetsSucceed(t *testing.T) {
	h := newHarness(t, newScriptedPublisher(nil))
	h.seed(t, duePost("p1", "instagram", "facebook"))

	h.job().RunOnce(context.Background())

	post := h.get(t, "p1")
	assert.Equal(t, models.PostStatusPublished, post.Status)
	require.NotNil(t, post.PublishedAt)
	assert.Empty(t, post.LeaseOwner)
	assert.Nil(t, post.LeaseExpiresAt)
	assert.Equal(t, 0, post.RetryCount)
	for _, platform := range []string{"instagram", "facebook"} {
		tg := target(post, platform)
		assert.Equal(t, models.TargetStatusPublished, tg.Status)
		assert.Equal(t, "ext-"+platform, tg.ExternalPostID)
		assert.Equal(t, 1, tg.Attempts)
	}

	attempts, err := h.hr.ListByPostID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Len(t, attempts, 2)
	assert.Equal(t, []models.PostStatus{models.PostStatusPublished}, h.outcomes.statuses())
}

func TestPublishJob_PartialWithPermanentFailure(t *testing.T) {
	pub := newScriptedPublisher(map[string][]publisher.Result{
		"tiktok": {publisher.Permanent(errors.New("video too long"))},
	})
	h := newHarness(t, pub)
	h.seed(t, duePost("p1", "instagram", "tiktok"))

	h.job().RunOnce(context.Background())

	post := h.get(t, "p1")
	assert.Equal(t, models.PostStatusPartiallyPublished, post.Status)
	assert.Equal(t, 0, post.RetryCount)
	assert.Equal(t, models.TargetStatusPublished, target(post, "instagram").Status)
	tk := target(post, "tiktok")
	assert.Equal(t, models.TargetStatusFailed, tk.Status)
	assert.Contains(t, tk.LastError, "video too long")
	assert.Contains(t, post.LastError, "tiktok")
}

func TestPublishJob_AllPermanentFailures(t *testing.T) {
	pub := newScriptedPublisher(map[string][]publisher.Result{
		"instagram": {publisher.Permanent(errors.New("account suspended"))},
	})
	h := newHarness(t, pub)
	h.seed(t, duePost("p1", "instagram"))

	h.job().RunOnce(context.Background())

	post := h.get(t, "p1")
	assert.Equal(t, models.PostStatusFailed, post.Status)
	assert.Nil(t, post.PublishedAt)
	assert.Equal(t, []models.PostStatus{models.PostStatusFailed}, h.outcomes.statuses())
}

func TestPublishJob_TransientFailuresBackOffUntilExhausted(t *testing.T) {
	pub := newScriptedPublisher(map[string][]publisher.Result{
		"instagram": {publisher.Transient(errors.New("503 from graph api"))},
	})
	h := newHarness(t, pub)
	h.seed(t, duePost("p1", "instagram"))
	job := h.job()

	for i := 0; i < 4; i++ {
		job.RunOnce(context.Background())

		post := h.get(t, "p1")
		require.Equal(t, models.PostStatusScheduled, post.Status, "attempt %d", i+1)
		assert.Equal(t, i+1, post.RetryCount)
		expected := 5 * time.Minute << i
		assert.Equal(t, h.clock().Add(expected), post.ScheduledFor, "attempt %d", i+1)
		assert.Empty(t, post.LeaseOwner)

		// Not due yet: nothing happens.
		job.RunOnce(context.Background())
		assert.Equal(t, i+1, pub.callCount("instagram"))

		h.setNow(post.ScheduledFor)
	}

	job.RunOnce(context.Background())

	post := h.get(t, "p1")
	assert.Equal(t, models.PostStatusFailed, post.Status)
	assert.Equal(t, 5, post.RetryCount)
	assert.Contains(t, post.LastError, "503 from graph api")
	assert.Equal(t, models.TargetStatusFailed, target(post, "instagram").Status)
	assert.Equal(t, 5, target(post, "instagram").Attempts)
	assert.Equal(t, 5, pub.callCount("instagram"))

	attempts, err := h.hr.ListByPostID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Len(t, attempts, 5)
	for _, a := range attempts {
		assert.Equal(t, models.OutcomeTransient, a.Outcome)
	}
	assert.Equal(t, []models.PostStatus{models.PostStatusFailed}, h.outcomes.statuses())
}

func TestPublishJob_RetryOnlyUnfinishedTargets(t *testing.T) {
	pub := newScriptedPublisher(map[string][]publisher.Result{
		"tiktok": {publisher.Transient(errors.New("timeout")), publisher.Success("tt-9")},
	})
	h := newHarness(t, pub)
	h.seed(t, duePost("p1", "instagram", "tiktok"))
	job := h.job()

	job.RunOnce(context.Background())
	post := h.get(t, "p1")
	require.Equal(t, models.PostStatusScheduled, post.Status)
	assert.Equal(t, models.TargetStatusPublished, target(post, "instagram").Status)
	assert.Equal(t, models.TargetStatusPending, target(post, "tiktok").Status)

	h.setNow(post.ScheduledFor)
	job.RunOnce(context.Background())

	post = h.get(t, "p1")
	assert.Equal(t, models.PostStatusPublished, post.Status)
	assert.Equal(t, "tt-9", target(post, "tiktok").ExternalPostID)
	assert.Equal(t, 1, pub.callCount("instagram"))
	assert.Equal(t, 2, pub.callCount("tiktok"))
}

func TestPublishJob_ExhaustedTransientWithEarlierSuccess(t *testing.T) {
	pub := newScriptedPublisher(map[string][]publisher.Result{
		"tiktok": {publisher.Transient(errors.New("rate limited"))},
	})
	h := newHarness(t, pub)
	h.cfg.MaxRetries = 1
	h.seed(t, duePost("p1", "instagram", "tiktok"))

	h.job().RunOnce(context.Background())

	post := h.get(t, "p1")
	assert.Equal(t, models.PostStatusPartiallyPublished, post.Status)
	assert.Equal(t, 1, post.RetryCount)
	assert.Equal(t, models.TargetStatusFailed, target(post, "tiktok").Status)
}

func TestPublishJob_SingleLeaseWinner(t *testing.T) {
	h := newHarness(t, newScriptedPublisher(nil))
	h.seed(t, duePost("p1", "instagram"))
	snapshot := h.get(t, "p1")

	first, second := h.job(), h.job()
	require.NotEqual(t, first.Owner(), second.Owner())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, j := range []*PublishJob{first, second} {
		wg.Add(1)
		go func(i int, j *PublishJob) {
			defer wg.Done()
			_, errs[i] = j.acquire(context.Background(), snapshot)
		}(i, j)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, repository.ErrVersionConflict):
			lost++
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)
}

func TestPublishJob_ConcurrentInstancesPublishOnce(t *testing.T) {
	pub := newScriptedPublisher(nil)
	h := newHarness(t, pub)
	for _, id := range []string{"p1", "p2", "p3"} {
		h.seed(t, duePost(id, "instagram"))
	}

	jobs := []*PublishJob{h.job(), h.job(), h.job()}
	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j *PublishJob) {
			defer wg.Done()
			j.RunOnce(context.Background())
		}(j)
	}
	wg.Wait()

	assert.Equal(t, 3, pub.callCount("instagram"))
	for _, id := range []string{"p1", "p2", "p3"} {
		assert.Equal(t, models.PostStatusPublished, h.get(t, id).Status)
	}
	assert.Len(t, h.outcomes.statuses(), 3)
}

func TestPublishJob_ReclaimsExpiredLease(t *testing.T) {
	pub := newScriptedPublisher(nil)
	h := newHarness(t, pub)

	expired := base.Add(-time.Minute)
	stuck := duePost("stuck", "instagram")
	stuck.Status = models.PostStatusPublishing
	stuck.LeaseOwner = "crashed-instance"
	stuck.LeaseExpiresAt = &expired
	h.seed(t, stuck)

	live := base.Add(time.Minute)
	busy := duePost("busy", "instagram")
	busy.Status = models.PostStatusPublishing
	busy.LeaseOwner = "live-instance"
	busy.LeaseExpiresAt = &live
	h.seed(t, busy)

	h.job().RunOnce(context.Background())

	post := h.get(t, "stuck")
	assert.Equal(t, models.PostStatusPublished, post.Status)
	assert.Equal(t, 1, post.RetryCount)

	untouched := h.get(t, "busy")
	assert.Equal(t, models.PostStatusPublishing, untouched.Status)
	assert.Equal(t, "live-instance", untouched.LeaseOwner)
	assert.Equal(t, int64(1), untouched.Version)
	assert.Equal(t, 1, pub.callCount("instagram"))
}

func TestPublishJob_ReclaimAfterLastRetryFails(t *testing.T) {
	pub := newScriptedPublisher(nil)
	h := newHarness(t, pub)

	expired := base.Add(-time.Minute)
	stuck := duePost("stuck", "instagram")
	stuck.Status = models.PostStatusPublishing
	stuck.LeaseOwner = "crashed-instance"
	stuck.LeaseExpiresAt = &expired
	stuck.RetryCount = 4
	h.seed(t, stuck)

	h.job().RunOnce(context.Background())

	post := h.get(t, "stuck")
	assert.Equal(t, models.PostStatusFailed, post.Status)
	assert.Equal(t, 5, post.RetryCount)
	assert.Equal(t, "lease expired", post.LastError)
	assert.Equal(t, models.TargetStatusFailed, target(post, "instagram").Status)
	assert.Zero(t, pub.callCount("instagram"))
}

// requestCancel runs inside the publisher goroutine, so it reports with assert rather than require.
func requestCancel(t *testing.T, pr repository.PostRepository, id string) {
	current, err := pr.GetByID(context.Background(), id)
	if !assert.NoError(t, err) {
		return
	}
	_, err = pr.CompareAndSwap(context.Background(), id, current.Version, func(p *models.ScheduledPost) error {
		p.CancelRequested = true
		return nil
	})
	assert.NoError(t, err)
}

func TestPublishJob_PendingCancelAppliedAfterAttempt(t *testing.T) {
	pub := newScriptedPublisher(map[string][]publisher.Result{
		"instagram": {publisher.Transient(errors.New("connection reset"))},
	})
	h := newHarness(t, pub)
	h.seed(t, duePost("p1", "instagram"))
	pub.onPublish = func(post *models.ScheduledPost, _ models.PlatformTarget) {
		requestCancel(t, h.pr, post.ID)
	}

	h.job().RunOnce(context.Background())

	post := h.get(t, "p1")
	assert.Equal(t, models.PostStatusCancelled, post.Status)
	assert.Equal(t, 0, post.RetryCount)
	assert.Equal(t, 1, pub.callCount("instagram"))
	assert.Equal(t, []models.PostStatus{models.PostStatusCancelled}, h.outcomes.statuses())
}

func TestPublishJob_PendingCancelAfterSuccessKeepsResult(t *testing.T) {
	pub := newScriptedPublisher(nil)
	h := newHarness(t, pub)
	h.seed(t, duePost("p1", "instagram"))
	pub.onPublish = func(post *models.ScheduledPost, _ models.PlatformTarget) {
		requestCancel(t, h.pr, post.ID)
	}

	h.job().RunOnce(context.Background())

	post := h.get(t, "p1")
	assert.Equal(t, models.PostStatusPublished, post.Status)
	assert.True(t, post.CancelRequested)
}

func TestPublishJob_PendingCancelAfterOneTargetWentLive(t *testing.T) {
	pub := newScriptedPublisher(map[string][]publisher.Result{
		"tiktok": {publisher.Transient(errors.New("connection reset"))},
	})
	h := newHarness(t, pub)
	h.seed(t, duePost("p1", "instagram", "tiktok"))
	pub.onPublish = func(post *models.ScheduledPost, target models.PlatformTarget) {
		if target.Platform == "instagram" {
			requestCancel(t, h.pr, post.ID)
		}
	}

	h.job().RunOnce(context.Background())

	post := h.get(t, "p1")
	assert.Equal(t, models.PostStatusPartiallyPublished, post.Status)
	assert.Equal(t, models.TargetStatusPublished, target(post, "instagram").Status)
	assert.Equal(t, "ext-instagram", target(post, "instagram").ExternalPostID)
	assert.Equal(t, models.TargetStatusFailed, target(post, "tiktok").Status)
	assert.Equal(t, "cancelled before publishing", target(post, "tiktok").LastError)
	assert.NotNil(t, post.PublishedAt)
	assert.Zero(t, pub.callCount("tiktok"))
	assert.Equal(t, []models.PostStatus{models.PostStatusPartiallyPublished}, h.outcomes.statuses())

	byStatus, err := h.pr.CountByStatus(context.Background(), "ws1", models.StatsPeriod{})
	require.NoError(t, err)
	assert.Equal(t, map[models.PostStatus]int64{models.PostStatusPartiallyPublished: 1}, byStatus)
}

func TestPublishJob_CancelFlagOnReclaimKeepsLiveTarget(t *testing.T) {
	pub := newScriptedPublisher(nil)
	h := newHarness(t, pub)

	expired := base.Add(-time.Minute)
	publishedAt := base.Add(-10 * time.Minute)
	stuck := duePost("stuck", "instagram", "tiktok")
	stuck.Status = models.PostStatusPublishing
	stuck.LeaseOwner = "crashed-instance"
	stuck.LeaseExpiresAt = &expired
	stuck.CancelRequested = true
	stuck.Targets[0].Status = models.TargetStatusPublished
	stuck.Targets[0].ExternalPostID = "ig-1"
	stuck.Targets[0].PublishedAt = &publishedAt
	h.seed(t, stuck)

	h.job().RunOnce(context.Background())

	post := h.get(t, "stuck")
	assert.Equal(t, models.PostStatusPartiallyPublished, post.Status)
	assert.Equal(t, models.TargetStatusFailed, target(post, "tiktok").Status)
	assert.Zero(t, pub.callCount("instagram"))
	assert.Zero(t, pub.callCount("tiktok"))
}

func TestPublishJob_CancelFlagAtPickup(t *testing.T) {
	pub := newScriptedPublisher(nil)
	h := newHarness(t, pub)
	post := duePost("p1", "instagram")
	post.CancelRequested = true
	h.seed(t, post)

	h.job().RunOnce(context.Background())

	assert.Equal(t, models.PostStatusCancelled, h.get(t, "p1").Status)
	assert.Zero(t, pub.callCount("instagram"))
}

func TestPublishJob_TimeoutIsTransient(t *testing.T) {
	pub := newScriptedPublisher(nil)
	pub.hang = make(chan struct{})
	t.Cleanup(func() { close(pub.hang) })

	h := newHarness(t, pub)
	h.cfg.PublishTimeout = 20 * time.Millisecond
	h.seed(t, duePost("p1", "instagram"))

	h.job().RunOnce(context.Background())

	post := h.get(t, "p1")
	assert.Equal(t, models.PostStatusScheduled, post.Status)
	assert.Equal(t, 1, post.RetryCount)
	assert.Contains(t, target(post, "instagram").LastError, context.DeadlineExceeded.Error())

	attempts, err := h.hr.ListByPostID(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.OutcomeTransient, attempts[0].Outcome)
}

func TestPublishJob_StopsWhenLeaseIsLost(t *testing.T) {
	pub := newScriptedPublisher(nil)
	h := newHarness(t, pub)
	h.seed(t, duePost("p1", "instagram", "facebook"))
	pub.onPublish = func(post *models.ScheduledPost, _ models.PlatformTarget) {
		current, err := h.pr.GetByID(context.Background(), post.ID)
		if !assert.NoError(t, err) {
			return
		}
		_, err = h.pr.CompareAndSwap(context.Background(), post.ID, current.Version, func(p *models.ScheduledPost) error {
			p.LeaseOwner = "another-instance"
			return nil
		})
		assert.NoError(t, err)
	}

	h.job().RunOnce(context.Background())

	post := h.get(t, "p1")
	assert.Equal(t, models.PostStatusPublishing, post.Status)
	assert.Equal(t, "another-instance", post.LeaseOwner)
	assert.Equal(t, 1, pub.callCount("instagram")+pub.callCount("facebook"))
	assert.Empty(t, h.outcomes.statuses())
}

func TestPublishJob_RunSkipsOverlappingTick(t *testing.T) {
	pub := newScriptedPublisher(nil)
	h := newHarness(t, pub)
	h.seed(t, duePost("p1", "instagram"))
	job := h.job()

	job.running.Lock()
	job.Run()
	job.running.Unlock()
	assert.Zero(t, pub.callCount("instagram"))

	job.Run()
	assert.Equal(t, 1, pub.callCount("instagram"))
}

func TestBackoff(t *testing.T) {
	want := []time.Duration{5, 10, 20, 40, 80, 120, 120}
	for retry, minutes := range want {
		assert.Equal(t, minutes*time.Minute, Backoff(5*time.Minute, 2*time.Hour, retry), "retry %d", retry)
	}
	assert.Equal(t, 40*time.Minute, Backoff(5*time.Minute, 0, 3))
}

func TestSchedule(t *testing.T) {
	assert.Equal(t, "@every 30s", Schedule(30*time.Second))
}
