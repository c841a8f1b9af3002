package coauthor

import "time"

// State 是 co-authoring session 的生命周期状态。
// pending → active → {completed | replaced | canceled}；
// active → fallback 表示流式传输降级但引擎仍同步产出。
type State string

const (
	StatePending   State = "pending"
	StateActive    State = "active"
	StateReplaced  State = "replaced"
	StateCanceled  State = "canceled"
	StateFallback  State = "fallback"
	StateCompleted State = "completed"
)

// Terminal reports whether the state is immutable history.
func (s State) Terminal() bool {
	switch s {
	case StateReplaced, StateCanceled, StateCompleted:
		return true
	}
	return false
}

type Intent string

const (
	IntentAnalyze Intent = "analyze"
	IntentPropose Intent = "propose"
)

type CancelReason string

const (
	ReasonAuthorCancelled CancelReason = "author_cancelled"
	ReasonReplaced        CancelReason = "replaced_by_new_request"
	ReasonTransport       CancelReason = "transport_failure"
	ReasonDeferred        CancelReason = "deferred"
)

// ValidCancelReason rejects reasons outside the closed set so callers can't
// smuggle arbitrary strings into the audit trail.
func ValidCancelReason(r CancelReason) bool {
	switch r {
	case ReasonAuthorCancelled, ReasonReplaced, ReasonTransport, ReasonDeferred:
		return true
	}
	return false
}

type DeliveryMode string

const (
	DeliveryStreaming DeliveryMode = "streaming"
	DeliveryFallback  DeliveryMode = "fallback"
)

type FallbackReason string

const (
	FallbackStreamingDisabled FallbackReason = "streaming_disabled"
	FallbackStreamOpenFailed  FallbackReason = "stream_open_failed"
)

type Session struct {
	ID                string         `json:"id"`
	DocumentID        string         `json:"document_id"`
	SectionID         string         `json:"section_id"`
	AuthorID          string         `json:"author_id"`
	WorkspaceID       string         `json:"workspace_id"`
	Intent            Intent         `json:"intent"`
	Prompt            string         `json:"-"`
	State             State          `json:"state"`
	Slot              int64          `json:"slot"`
	ReplacedSessionID string         `json:"replaced_session_id,omitempty"`
	PreviousSessionID string         `json:"previous_session_id,omitempty"`
	CancelReason      CancelReason   `json:"cancel_reason,omitempty"`
	DeliveryMode      DeliveryMode   `json:"delivery_mode"`
	FallbackReason    FallbackReason `json:"fallback_reason,omitempty"`
	Proposal          *Proposal      `json:"proposal,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	EndedAt           time.Time      `json:"ended_at,omitzero"`
}

// Proposal is the generation artifact awaiting approval. DiffHash protects
// approval against conflicting concurrent edits.
type Proposal struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	DiffHash  string    `json:"diff_hash"`
	CreatedAt time.Time `json:"created_at"`
}

type StartParams struct {
	SessionID         string
	DocumentID        string
	SectionID         string
	AuthorID          string
	WorkspaceID       string
	Intent            Intent
	Prompt            string
	PreviousSessionID string
}

// Disposition 是队列准入决定的外部可见结果。
type Disposition string

const (
	DispositionActive   Disposition = "active"
	DispositionReplaced Disposition = "replaced"
	DispositionCanceled Disposition = "canceled"
	DispositionFallback Disposition = "fallback"
)

// DispositionEvent is the payload published on the coauthor.queue topic for
// every observable admission transition.
type DispositionEvent struct {
	Disposition    Disposition    `json:"disposition"`
	SessionID      string         `json:"session_id"`
	SectionID      string         `json:"section_id"`
	NewSessionID   string         `json:"new_session_id,omitempty"`
	Slot           int64          `json:"slot,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	FallbackReason FallbackReason `json:"fallback_reason,omitempty"`
}

// ProgressEvent is published on coauthor.progress for each generated chunk.
type ProgressEvent struct {
	SessionID string `json:"session_id"`
	SectionID string `json:"section_id"`
	Index     int    `json:"index"`
	Text      string `json:"text"`
}

const SessionArchiveTask = "coauthor:archive"

// SessionArchivePayload 归档任务负载，worker 持久化终态 session。
type SessionArchivePayload struct {
	Session *Session `json:"session"`
}
