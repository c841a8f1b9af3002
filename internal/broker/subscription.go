package broker

import "sync/atomic"

// Subscription is owned by the broker for its lifetime: created on Subscribe,
// destroyed on Unsubscribe or broker Close. The channel is closed exactly once,
// always under the broker mutex.
type Subscription struct {
	ConnectionID string
	UserID       string
	WorkspaceID  string
	Scopes       []Scope

	// ReplayGap 表示请求的 last-event-id 已被淘汰或从未出现过，
	// 传输层应提示客户端做一次全量刷新。
	ReplayGap bool

	ch      chan Envelope
	dropped atomic.Uint64
	closed  bool
}

// Events is the consumer side of the subscription. The channel is closed when
// the subscription is removed from the broker.
func (s *Subscription) Events() <-chan Envelope {
	return s.ch
}

// Dropped reports how many envelopes were evicted because the consumer fell
// behind its bounded buffer.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// closeLocked must be called with the broker mutex held.
func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
