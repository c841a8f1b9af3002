package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"inkwell/internal/coauthor"
)

var _ ArchiveWorker = (*SessionTaskWorker)(nil)

// SessionTaskWorker persists terminal co-authoring sessions delivered through
// the archive task queue.
type SessionTaskWorker struct {
	archive coauthor.SessionArchive
	logger  *slog.Logger
}

func NewSessionTaskWorker(archive coauthor.SessionArchive, logger *slog.Logger) *SessionTaskWorker {
	return &SessionTaskWorker{
		archive: archive,
		logger:  logger.With("component", "archive-worker"),
	}
}

func (w *SessionTaskWorker) HandleSessionArchive(ctx context.Context, task *asynq.Task) error {
	var payload coauthor.SessionArchivePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		w.logger.Error("Failed to unmarshal archive payload", "error", err)
		return fmt.Errorf("json unmarshal error: %w", err)
	}
	if payload.Session == nil {
		return fmt.Errorf("archive payload missing session")
	}

	if err := w.archive.Archive(ctx, payload.Session); err != nil {
		w.logger.Error("Failed to archive session",
			"session_id", payload.Session.ID,
			"error", err)
		return err
	}

	w.logger.Info("Session archived",
		"session_id", payload.Session.ID,
		"section_id", payload.Session.SectionID,
		"state", string(payload.Session.State),
	)
	return nil
}
