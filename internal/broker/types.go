package broker

import "time"

// Topic 是事件的逻辑频道。订阅者按 (topic, resource_id) 注册兴趣。
type Topic string

const (
	TopicProjectLifecycle  Topic = "project.lifecycle"
	TopicDocumentLifecycle Topic = "document.lifecycle"
	TopicQualityProgress   Topic = "quality.progress"
	TopicQualitySummary    Topic = "quality.summary"
	TopicSectionConflict   Topic = "section.conflict"
	TopicSectionDiff       Topic = "section.diff"
	TopicCoAuthorQueue     Topic = "coauthor.queue"
	TopicCoAuthorProgress  Topic = "coauthor.progress"
)

type EnvelopeKind string

const (
	KindData      EnvelopeKind = "data"
	KindHeartbeat EnvelopeKind = "heartbeat"
)

// Envelope is the immutable unit of delivery. ID doubles as the wire
// last-event-id; Sequence is per broker instance and strictly increasing for
// data envelopes. Heartbeats carry Sequence 0 and are never replayed.
type Envelope struct {
	ID          string            `json:"id"`
	LastEventID string            `json:"last_event_id,omitempty"`
	Topic       Topic             `json:"topic"`
	ResourceID  string            `json:"resource_id,omitempty"`
	WorkspaceID string            `json:"workspace_id"`
	Sequence    uint64            `json:"sequence"`
	Kind        EnvelopeKind      `json:"kind"`
	Payload     any               `json:"payload"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	EmittedAt   time.Time         `json:"emitted_at"`
}

// Scope is one (topic, optional resource) interest registration.
// An empty ResourceID matches every resource under the topic.
type Scope struct {
	Topic      Topic  `json:"topic"`
	ResourceID string `json:"resource_id,omitempty"`
}

func (s Scope) Matches(topic Topic, resourceID string) bool {
	if s.Topic != topic {
		return false
	}
	return s.ResourceID == "" || s.ResourceID == resourceID
}

// HeartbeatPayload 心跳事件负载，传输层用它重置空闲计时器。
type HeartbeatPayload struct {
	IntervalMS int64 `json:"interval_ms"`
}
