package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/pkg/logger"
	"go.uber.org/zap"
)

func EnqueueOutcome(ctx context.Context, asynqClient *asynq.Client, payload PostOutcomePayload) error {
	taskPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypePostOutcome, taskPayload)

	// One task per resolved version, so a repeated enqueue of the same resolution is dropped.
	taskID := fmt.Sprintf("%s:%s:%d", payload.PostID, payload.Status, payload.Version)
	_, err = asynqClient.EnqueueContext(ctx, task, asynq.TaskID(taskID), asynq.MaxRetry(5))
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return err
	}

	logger.Debug("outcome task enqueued", zap.String("task_id", taskID))
	return nil
}

// AsynqOutcomes hands resolved posts to the asynq worker.
type AsynqOutcomes struct {
	client *asynq.Client
}

func NewAsynqOutcomes(client *asynq.Client) *AsynqOutcomes {
	return &AsynqOutcomes{client: client}
}

func (o *AsynqOutcomes) Notify(ctx context.Context, payload PostOutcomePayload) error {
	return EnqueueOutcome(ctx, o.client, payload)
}

// InlineOutcomes calls the notifier directly. Used when no Redis is configured.
type InlineOutcomes struct {
	q *Queue
}

func NewInlineOutcomes(q *Queue) *InlineOutcomes {
	return &InlineOutcomes{q: q}
}

func (o *InlineOutcomes) Notify(ctx context.Context, payload PostOutcomePayload) error {
	return o.q.notifier.NotifyOutcome(ctx, payload)
}
