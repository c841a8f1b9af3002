package repo

import (
	"time"

	"inkwell/internal/coauthor"
)

const archiveCacheTTL = time.Minute * 5

type SessionArchiveModel struct {
	ID                string                  `json:"id" pg:"id,pk"`
	DocumentID        string                  `json:"document_id" pg:"document_id,notnull"`
	SectionID         string                  `json:"section_id" pg:"section_id,notnull"`
	AuthorID          string                  `json:"author_id" pg:"author_id,notnull"`
	WorkspaceID       string                  `json:"workspace_id" pg:"workspace_id,notnull"`
	Intent            coauthor.Intent         `json:"intent" pg:"intent,notnull"`
	State             coauthor.State          `json:"state" pg:"state,notnull"`
	Slot              int64                   `json:"slot" pg:"slot,notnull"`
	ReplacedSessionID string                  `json:"replaced_session_id" pg:"replaced_session_id"`
	PreviousSessionID string                  `json:"previous_session_id" pg:"previous_session_id"`
	CancelReason      coauthor.CancelReason   `json:"cancel_reason" pg:"cancel_reason"`
	DeliveryMode      coauthor.DeliveryMode   `json:"delivery_mode" pg:"delivery_mode"`
	FallbackReason    coauthor.FallbackReason `json:"fallback_reason" pg:"fallback_reason"`
	CreatedAt         time.Time               `json:"created_at" pg:"created_at,notnull"`
	EndedAt           time.Time               `json:"ended_at" pg:"ended_at"`
}

func archiveCacheKey(sessionID string) string {
	return "coauthor:" + sessionID + ":archive"
}

func toModel(s *coauthor.Session) *SessionArchiveModel {
	return &SessionArchiveModel{
		ID:                s.ID,
		DocumentID:        s.DocumentID,
		SectionID:         s.SectionID,
		AuthorID:          s.AuthorID,
		WorkspaceID:       s.WorkspaceID,
		Intent:            s.Intent,
		State:             s.State,
		Slot:              s.Slot,
		ReplacedSessionID: s.ReplacedSessionID,
		PreviousSessionID: s.PreviousSessionID,
		CancelReason:      s.CancelReason,
		DeliveryMode:      s.DeliveryMode,
		FallbackReason:    s.FallbackReason,
		CreatedAt:         s.CreatedAt,
		EndedAt:           s.EndedAt,
	}
}

func fromModel(m *SessionArchiveModel) *coauthor.Session {
	return &coauthor.Session{
		ID:                m.ID,
		DocumentID:        m.DocumentID,
		SectionID:         m.SectionID,
		AuthorID:          m.AuthorID,
		WorkspaceID:       m.WorkspaceID,
		Intent:            m.Intent,
		State:             m.State,
		Slot:              m.Slot,
		ReplacedSessionID: m.ReplacedSessionID,
		PreviousSessionID: m.PreviousSessionID,
		CancelReason:      m.CancelReason,
		DeliveryMode:      m.DeliveryMode,
		FallbackReason:    m.FallbackReason,
		CreatedAt:         m.CreatedAt,
		EndedAt:           m.EndedAt,
	}
}
