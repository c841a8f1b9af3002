package worker

import (
	"context"

	"github.com/hibiken/asynq"
)

type ArchiveWorker interface {
	HandleSessionArchive(ctx context.Context, task *asynq.Task) error
}
