package queue

import (
	"context"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/pkg/logger"
	"go.uber.org/zap"
)

const TaskTypePostOutcome = "post:outcome"

type TargetOutcome struct {
	Platform       string              `json:"platform"`
	Status         models.TargetStatus `json:"status"`
	ExternalPostID string              `json:"external_post_id,omitempty"`
	Error          string              `json:"error,omitempty"`
}

// PostOutcomePayload describes a post that has left the publishing pipeline for good.
type PostOutcomePayload struct {
	PostID      string            `json:"post_id"`
	WorkspaceID string            `json:"workspace_id"`
	Status      models.PostStatus `json:"status"`
	Version     int64             `json:"version"`
	RetryCount  int               `json:"retry_count"`
	LastError   string            `json:"last_error,omitempty"`
	Targets     []TargetOutcome   `json:"targets"`
	ResolvedAt  time.Time         `json:"resolved_at"`
}

func NewPostOutcomePayload(post *models.ScheduledPost, resolvedAt time.Time) PostOutcomePayload {
	targets := make([]TargetOutcome, len(post.Targets))
	for i, t := range post.Targets {
		targets[i] = TargetOutcome{
			Platform:       t.Platform,
			Status:         t.Status,
			ExternalPostID: t.ExternalPostID,
			Error:          t.LastError,
		}
	}
	return PostOutcomePayload{
		PostID:      post.ID,
		WorkspaceID: post.WorkspaceID,
		Status:      post.Status,
		Version:     post.Version,
		RetryCount:  post.RetryCount,
		LastError:   post.LastError,
		Targets:     targets,
		ResolvedAt:  resolvedAt,
	}
}

// Notifier tells the post owner how publishing ended.
type Notifier interface {
	NotifyOutcome(ctx context.Context, payload PostOutcomePayload) error
}

type LogNotifier struct{}

func (LogNotifier) NotifyOutcome(ctx context.Context, p PostOutcomePayload) error {
	logger.Info("post outcome",
		zap.String("post_id", p.PostID),
		zap.String("workspace_id", p.WorkspaceID),
		zap.String("status", string(p.Status)),
		zap.Int("retry_count", p.RetryCount),
		zap.String("last_error", p.LastError),
	)
	return nil
}

type Queue struct {
	notifier Notifier
}

func NewQueue(notifier Notifier) *Queue {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Queue{notifier: notifier}
}
