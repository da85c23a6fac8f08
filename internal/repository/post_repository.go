package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/pkg/logger"
	"go.uber.org/zap"
)

// PostRepository is the single source of truth for scheduled posts. Every write after Create
// goes through CompareAndSwap.
type PostRepository interface {
	Create(ctx context.Context, post *models.ScheduledPost) (string, error)
	GetByID(ctx context.Context, id string) (*models.ScheduledPost, error)
	List(ctx context.Context, filter ListFilter) ([]*models.ScheduledPost, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledPost, error)
	ListByWindow(ctx context.Context, workspaceID, platform string, from, to time.Time) ([]*models.ScheduledPost, error)
	CompareAndSwap(ctx context.Context, id string, expectedVersion int64, mutate Mutation) (*models.ScheduledPost, error)
	CountByStatus(ctx context.Context, workspaceID string, period models.StatsPeriod) (map[models.PostStatus]int64, error)
	CountByPlatform(ctx context.Context, workspaceID string, period models.StatsPeriod) (map[string]int64, error)
}

type postRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db, now: time.Now}
}

const postColumns = `id, workspace_id, targets, content_format, media_ref, caption, scheduled_for, status,
	version, retry_count, last_error, lease_owner, lease_expires_at, cancel_requested, published_at,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*models.ScheduledPost, error) {
	var (
		post           models.ScheduledPost
		targets        []byte
		leaseOwner     sql.NullString
		leaseExpiresAt sql.NullTime
		publishedAt    sql.NullTime
	)

	err := row.Scan(&post.ID, &post.WorkspaceID, &targets, &post.ContentFormat, &post.MediaRef, &post.Caption,
		&post.ScheduledFor, &post.Status, &post.Version, &post.RetryCount, &post.LastError, &leaseOwner,
		&leaseExpiresAt, &post.CancelRequested, &publishedAt, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(targets, &post.Targets); err != nil {
		return nil, fmt.Errorf("decoding targets of post %s: %w", post.ID, err)
	}
	post.LeaseOwner = leaseOwner.String
	if leaseExpiresAt.Valid {
		at := leaseExpiresAt.Time
		post.LeaseExpiresAt = &at
	}
	if publishedAt.Valid {
		at := publishedAt.Time
		post.PublishedAt = &at
	}
	return &post, nil
}

func scanPosts(rows *sql.Rows) ([]*models.ScheduledPost, error) {
	defer rows.Close()

	var posts []*models.ScheduledPost
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			logger.Info("scanning scheduled post", zap.Error(err))
			return nil, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		logger.Info("iterating scheduled posts", zap.Error(err))
		return nil, err
	}
	return posts, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *postRepository) Create(ctx context.Context, post *models.ScheduledPost) (string, error) {
	targets, err := json.Marshal(post.Targets)
	if err != nil {
		return "", err
	}

	now := r.now()
	if post.CreatedAt.IsZero() {
		post.CreatedAt = now
	}
	post.UpdatedAt = now
	if post.Version == 0 {
		post.Version = 1
	}

	query := `
		INSERT INTO scheduled_posts (id, workspace_id, platforms, targets, content_format, media_ref, caption,
			scheduled_for, status, version, retry_count, last_error, cancel_requested, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = r.db.ExecContext(ctx, query,
		post.ID,
		post.WorkspaceID,
		pq.Array(post.Platforms()),
		targets,
		post.ContentFormat,
		post.MediaRef,
		post.Caption,
		post.ScheduledFor,
		post.Status,
		post.Version,
		post.RetryCount,
		post.LastError,
		post.CancelRequested,
		post.CreatedAt,
		post.UpdatedAt,
	)
	if err != nil {
		logger.Info("inserting scheduled post", zap.String("post_id", post.ID), zap.Error(err))
		return "", err
	}

	return post.ID, nil
}

func (r *postRepository) GetByID(ctx context.Context, id string) (*models.ScheduledPost, error) {
	query := `SELECT ` + postColumns + ` FROM scheduled_posts WHERE id = $1`

	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		logger.Info("fetching scheduled post", zap.String("post_id", id), zap.Error(err))
		return nil, err
	}
	return post, nil
}

func (r *postRepository) List(ctx context.Context, filter ListFilter) ([]*models.ScheduledPost, error) {
	query := `SELECT ` + postColumns + ` FROM scheduled_posts
		WHERE workspace_id = $1
		AND ($2 = '' OR platforms @> ARRAY[$2]::text[])
		AND ($3::timestamptz IS NULL OR scheduled_for >= $3)
		AND ($4::timestamptz IS NULL OR scheduled_for < $4)
		ORDER BY scheduled_for, id`
	args := []any{filter.WorkspaceID, filter.Platform, zeroAsNull(filter.From), zeroAsNull(filter.To)}

	if filter.Limit > 0 {
		query += ` LIMIT $5`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.Info("listing scheduled posts", zap.String("workspace_id", filter.WorkspaceID), zap.Error(err))
		return nil, err
	}
	return scanPosts(rows)
}

func (r *postRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledPost, error) {
	query := `SELECT ` + postColumns + ` FROM scheduled_posts
		WHERE (status = $1 AND scheduled_for <= $3)
		OR (status = $2 AND lease_expires_at <= $3)
		ORDER BY scheduled_for
		LIMIT $4`

	rows, err := r.db.QueryContext(ctx, query, models.PostStatusScheduled, models.PostStatusPublishing, now, limit)
	if err != nil {
		logger.Info("listing due posts", zap.Error(err))
		return nil, err
	}
	return scanPosts(rows)
}

func (r *postRepository) ListByWindow(ctx context.Context, workspaceID, platform string, from, to time.Time) ([]*models.ScheduledPost, error) {
	query := `SELECT ` + postColumns + ` FROM scheduled_posts
		WHERE workspace_id = $1
		AND platforms @> ARRAY[$2]::text[]
		AND scheduled_for BETWEEN $3 AND $4
		ORDER BY scheduled_for, id`

	rows, err := r.db.QueryContext(ctx, query, workspaceID, platform, from, to)
	if err != nil {
		logger.Info("listing posts by window", zap.String("platform", platform), zap.Error(err))
		return nil, err
	}
	return scanPosts(rows)
}

// CompareAndSwap reads the row, applies mutate and writes it back only if the stored version is
// still expectedVersion. A lost race surfaces as ErrVersionConflict.
func (r *postRepository) CompareAndSwap(ctx context.Context, id string, expectedVersion int64, mutate Mutation) (*models.ScheduledPost, error) {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	next, err := applyMutation(current, expectedVersion, mutate, r.now())
	if err != nil {
		return nil, err
	}

	targets, err := json.Marshal(next.Targets)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE scheduled_posts
		SET platforms = $3,
			targets = $4,
			content_format = $5,
			media_ref = $6,
			caption = $7,
			scheduled_for = $8,
			status = $9,
			version = $10,
			retry_count = $11,
			last_error = $12,
			lease_owner = $13,
			lease_expires_at = $14,
			cancel_requested = $15,
			published_at = $16,
			updated_at = $17
		WHERE id = $1 AND version = $2
	`
	result, err := r.db.ExecContext(ctx, query,
		id,
		expectedVersion,
		pq.Array(next.Platforms()),
		targets,
		next.ContentFormat,
		next.MediaRef,
		next.Caption,
		next.ScheduledFor,
		next.Status,
		next.Version,
		next.RetryCount,
		next.LastError,
		nullString(next.LeaseOwner),
		nullTime(next.LeaseExpiresAt),
		next.CancelRequested,
		nullTime(next.PublishedAt),
		next.UpdatedAt,
	)
	if err != nil {
		logger.Info("updating scheduled post", zap.String("post_id", id), zap.Error(err))
		return nil, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		logger.Info("reading affected rows", zap.Error(err))
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: post %s changed after version %d was read", ErrVersionConflict, id, expectedVersion)
	}

	return next, nil
}

func (r *postRepository) CountByStatus(ctx context.Context, workspaceID string, period models.StatsPeriod) (map[models.PostStatus]int64, error) {
	query := `
		SELECT status, COUNT(*) FROM scheduled_posts
		WHERE workspace_id = $1
		AND ($2::timestamptz IS NULL OR scheduled_for >= $2)
		AND ($3::timestamptz IS NULL OR scheduled_for < $3)
		GROUP BY status
	`
	rows, err := r.db.QueryContext(ctx, query, workspaceID, zeroAsNull(period.From), zeroAsNull(period.To))
	if err != nil {
		logger.Info("counting posts by status", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	counts := map[models.PostStatus]int64{}
	for rows.Next() {
		var status models.PostStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			logger.Info("scanning status count", zap.Error(err))
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *postRepository) CountByPlatform(ctx context.Context, workspaceID string, period models.StatsPeriod) (map[string]int64, error) {
	query := `
		SELECT platform, COUNT(*) FROM scheduled_posts, unnest(platforms) AS platform
		WHERE workspace_id = $1
		AND ($2::timestamptz IS NULL OR scheduled_for >= $2)
		AND ($3::timestamptz IS NULL OR scheduled_for < $3)
		GROUP BY platform
	`
	rows, err := r.db.QueryContext(ctx, query, workspaceID, zeroAsNull(period.From), zeroAsNull(period.To))
	if err != nil {
		logger.Info("counting posts by platform", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var platform string
		var n int64
		if err := rows.Scan(&platform, &n); err != nil {
			logger.Info("scanning platform count", zap.Error(err))
			return nil, err
		}
		counts[platform] = n
	}
	return counts, rows.Err()
}

func zeroAsNull(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
