package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/pkg/logger"
	"go.uber.org/zap"
)

func (j *Queue) HandlePostOutcomeTask(ctx context.Context, task *asynq.Task) error {
	var payload PostOutcomePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decoding %s payload: %v: %w", TaskTypePostOutcome, err, asynq.SkipRetry)
	}

	if err := j.notifier.NotifyOutcome(ctx, payload); err != nil {
		logger.Warn("notifying post outcome", zap.String("post_id", payload.PostID), zap.Error(err))
		return err
	}
	return nil
}

// Mux routes the queue's task types for an asynq server.
func (j *Queue) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypePostOutcome, j.HandlePostOutcomeTask)
	return mux
}
