package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("postflow"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(ctx, db))
	return db
}

func TestPostgresPostRepository(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	repo := NewPostRepository(db)
	history := NewPostingHistoryRepository(db)
	settings := NewSettingsRepository(db)

	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, createAll(ctx, repo,
		newPost("a", "ws1", now.Add(-time.Minute), "instagram", "facebook"),
		newPost("b", "ws1", now.Add(20*time.Minute), "instagram"),
		newPost("c", "ws1", now.Add(5*time.Hour), "tiktok"),
	))

	t.Run("Get", func(t *testing.T) {
		got, err := repo.GetByID(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "ws1", got.WorkspaceID)
		assert.Equal(t, []string{"instagram", "facebook"}, got.Platforms())
		assert.Equal(t, int64(1), got.Version)
		assert.WithinDuration(t, now.Add(-time.Minute), got.ScheduledFor, time.Millisecond)

		_, err = repo.GetByID(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ListByWindow", func(t *testing.T) {
		posts, err := repo.ListByWindow(ctx, "ws1", "instagram", now.Add(-time.Hour), now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, ids(posts))
	})

	t.Run("ListDue", func(t *testing.T) {
		posts, err := repo.ListDue(ctx, now, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, ids(posts))
	})

	t.Run("CompareAndSwap", func(t *testing.T) {
		lease := now.Add(5 * time.Minute)
		leased, err := repo.CompareAndSwap(ctx, "a", 1, func(p *models.ScheduledPost) error {
			p.Status = models.PostStatusPublishing
			p.LeaseOwner = "worker-1"
			p.LeaseExpiresAt = &lease
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), leased.Version)

		_, err = repo.CompareAndSwap(ctx, "a", 1, func(p *models.ScheduledPost) error { return nil })
		assert.ErrorIs(t, err, ErrVersionConflict)

		got, err := repo.GetByID(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, models.PostStatusPublishing, got.Status)
		assert.Equal(t, "worker-1", got.LeaseOwner)
		require.NotNil(t, got.LeaseExpiresAt)

		due, err := repo.ListDue(ctx, now.Add(10*time.Minute), 10)
		require.NoError(t, err)
		assert.Contains(t, ids(due), "a")
	})

	t.Run("Counts", func(t *testing.T) {
		byStatus, err := repo.CountByStatus(ctx, "ws1", models.StatsPeriod{})
		require.NoError(t, err)
		assert.Equal(t, int64(2), byStatus[models.PostStatusScheduled])
		assert.Equal(t, int64(1), byStatus[models.PostStatusPublishing])

		byPlatform, err := repo.CountByPlatform(ctx, "ws1", models.StatsPeriod{From: now.Add(-time.Hour), To: now.Add(time.Hour)})
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{"instagram": 2, "facebook": 1}, byPlatform)
	})

	t.Run("PostingHistory", func(t *testing.T) {
		err := history.Create(ctx, &models.PublishAttempt{
			ID: "att1", PostID: "a", WorkspaceID: "ws1", Platform: "instagram",
			Outcome: models.OutcomeTransient, ErrorMessage: "timeout", AttemptedAt: now,
		})
		require.NoError(t, err)

		attempts, err := history.ListByPostID(ctx, "a")
		require.NoError(t, err)
		require.Len(t, attempts, 1)
		assert.Equal(t, models.OutcomeTransient, attempts[0].Outcome)
	})

	t.Run("Settings", func(t *testing.T) {
		err := settings.Upsert(ctx, &models.Settings{WorkspaceID: "ws1", PeakHours: []int{7, 19}, Timezone: "UTC", ConflictWindow: 45 * time.Minute})
		require.NoError(t, err)

		s, ok, err := settings.GetByWorkspaceID(ctx, "ws1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []int{7, 19}, s.PeakHours)
		assert.Equal(t, 45*time.Minute, s.ConflictWindow)
	})
}
