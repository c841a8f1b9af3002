package api

import (
	"time"

	"inkwell/internal/broker"
	"inkwell/internal/coauthor"
)

type StartRequest struct {
	SessionID string `json:"session_id"`
	Prompt    string `json:"prompt" binding:"required"`
}

type CancelRequest struct {
	Reason string `json:"reason" binding:"required,oneof=author_cancelled replaced_by_new_request transport_failure deferred"`
}

type RetryRequest struct {
	Intent string `json:"intent" binding:"omitempty,oneof=analyze propose"`
}

type ApproveRequest struct {
	DiffHash string `json:"diff_hash" binding:"required"`
}

type SessionResponse struct {
	SessionID         string `json:"session_id"`
	DocumentID        string `json:"document_id"`
	SectionID         string `json:"section_id"`
	Intent            string `json:"intent"`
	State             string `json:"state"`
	Disposition       string `json:"disposition"`
	Slot              int64  `json:"slot"`
	ReplacedSessionID string `json:"replaced_session_id,omitempty"`
	PreviousSessionID string `json:"previous_session_id,omitempty"`
	DeliveryMode      string `json:"delivery_mode"`
	FallbackReason    string `json:"fallback_reason,omitempty"`
	CreatedAt         string `json:"created_at"`
}

type ProposalResponse struct {
	ProposalID string `json:"proposal_id"`
	SessionID  string `json:"session_id"`
	Content    string `json:"content"`
	DiffHash   string `json:"diff_hash"`
}

type RateLimitedResponse struct {
	Error        string `json:"error"`
	Code         int    `json:"code"`
	RetryAfterMS int64  `json:"retry_after_ms"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// StreamOpenPayload 是 SSE 连接上第一条合成事件的负载。
type StreamOpenPayload struct {
	HeartbeatMS int64          `json:"heartbeat_ms"`
	ReplayLimit int            `json:"replay_limit"`
	WorkspaceID string         `json:"workspace_id"`
	Scopes      []broker.Scope `json:"scopes"`
	ReplayGap   bool           `json:"replay_gap"`
}

func sessionResponse(s *coauthor.Session, disposition string) SessionResponse {
	return SessionResponse{
		SessionID:         s.ID,
		DocumentID:        s.DocumentID,
		SectionID:         s.SectionID,
		Intent:            string(s.Intent),
		State:             string(s.State),
		Disposition:       disposition,
		Slot:              s.Slot,
		ReplacedSessionID: s.ReplacedSessionID,
		PreviousSessionID: s.PreviousSessionID,
		DeliveryMode:      string(s.DeliveryMode),
		FallbackReason:    string(s.FallbackReason),
		CreatedAt:         formatTime(s.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
