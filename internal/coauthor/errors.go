package coauthor

import "errors"

var (
	// ErrSessionNotFound covers both unknown session ids and sessions that
	// already reached a terminal state.
	ErrSessionNotFound = errors.New("session not found or already terminal")

	// ErrConflictingEdit 表示 approve 时 diff hash 不匹配：
	// 内容在并发编辑中被改动，必须整体失败，不做部分应用。
	ErrConflictingEdit = errors.New("conflicting concurrent edit")

	ErrProposalNotReady = errors.New("proposal not ready")

	ErrSessionExists = errors.New("session already exists")

	// ErrSessionLive 表示 retry 的上一个 session 还没有终结；
	// 抢占要走 StartProposal，retry 只接续已终结的 session。
	ErrSessionLive = errors.New("previous session still live")

	ErrInvalidReason = errors.New("invalid cancellation reason")
)
