package models

import "time"

type PublishOutcome string

const (
	OutcomeSuccess   PublishOutcome = "success"
	OutcomeTransient PublishOutcome = "transient_failure"
	OutcomePermanent PublishOutcome = "permanent_failure"
)

// PublishAttempt is one call to a platform publisher for one target of a post.
type PublishAttempt struct {
	ID             string         `db:"id" json:"id"`
	PostID         string         `db:"post_id" json:"post_id"`
	WorkspaceID    string         `db:"workspace_id" json:"workspace_id"`
	Platform       string         `db:"platform" json:"platform"`
	Outcome        PublishOutcome `db:"outcome" json:"outcome"`
	ErrorMessage   string         `db:"error_message" json:"error_message"`
	ExternalPostID string         `db:"external_post_id" json:"external_post_id,omitempty"`
	DurationMs     int64          `db:"duration_ms" json:"duration_ms"`
	AttemptedAt    time.Time      `db:"attempted_at" json:"attempted_at"`
}
