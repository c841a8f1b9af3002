package coauthor

import "context"

// SessionArchive is the persistent audit store for terminal sessions.
type SessionArchive interface {
	Archive(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id string) (*Session, error)
	ListBySection(ctx context.Context, sectionID string, limit int) ([]*Session, error)
}
