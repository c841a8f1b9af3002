package coauthor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

var _ Archiver = (*QueueArchiver)(nil)

// QueueArchiver hands terminal sessions to the archive worker through asynq.
type QueueArchiver struct {
	client *asynq.Client
}

func NewQueueArchiver(client *asynq.Client) *QueueArchiver {
	return &QueueArchiver{client: client}
}

func (a *QueueArchiver) ArchiveSession(ctx context.Context, s *Session) error {
	payload, err := json.Marshal(SessionArchivePayload{Session: s})
	if err != nil {
		return fmt.Errorf("failed to marshal archive payload: %w", err)
	}

	task := asynq.NewTask(SessionArchiveTask, payload)
	if _, err := a.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue archive task: %w", err)
	}
	return nil
}
