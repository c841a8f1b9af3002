package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"inkwell/internal/monitor"
)

type Config struct {
	HeartbeatInterval time.Duration
	ReplayCapacity    int // 重放环形缓冲容量（data 事件条数）
	SubscriberBuffer  int // 每个订阅的出站通道容量
}

// Broker is the in-process topic/resource pub-sub registry. It owns the replay
// ring and every subscription's outbound channel; all mutation goes through one
// mutex so per-subscription delivery order equals publish order.
type Broker struct {
	mu     sync.Mutex
	config Config
	logger *slog.Logger

	subs   map[string]*Subscription
	ring   []Envelope // 固定容量环形缓冲
	head   int        // 最旧一条的下标
	count  int
	seqIdx map[string]uint64 // envelope id -> sequence, for replay lookup
	seq    uint64
	lastID string
	closed bool
}

func NewBroker(cfg Config, logger *slog.Logger) *Broker {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.ReplayCapacity <= 0 {
		cfg.ReplayCapacity = 256
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 64
	}

	return &Broker{
		config: cfg,
		logger: logger.With("component", "broker"),
		subs:   make(map[string]*Subscription),
		ring:   make([]Envelope, cfg.ReplayCapacity),
		seqIdx: make(map[string]uint64),
	}
}

func (b *Broker) HeartbeatInterval() time.Duration { return b.config.HeartbeatInterval }
func (b *Broker) ReplayCapacity() int              { return b.config.ReplayCapacity }

// Start runs the heartbeat loop until ctx is canceled. Heartbeats go to every
// subscription regardless of scopes so transports can reset idle timers.
func (b *Broker) Start(ctx context.Context) {
	ticker := time.NewTicker(b.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.heartbeat()
		}
	}
}

func (b *Broker) heartbeat() {
	env := Envelope{
		Kind:      KindHeartbeat,
		Payload:   HeartbeatPayload{IntervalMS: b.config.HeartbeatInterval.Milliseconds()},
		EmittedAt: time.Now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		b.deliverLocked(sub, env)
	}
}

// Subscribe registers a connection's interest. When lastEventID is still in the
// replay ring, every buffered envelope with a greater sequence that matches the
// scopes is queued before the subscription becomes visible to new publishes, so
// replay always precedes live delivery. An unknown lastEventID sets ReplayGap
// so the transport can surface a full-refresh hint.
func (b *Broker) Subscribe(connectionID, userID, workspaceID string, scopes []Scope, lastEventID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	// 同一连接重复订阅时替换旧订阅
	if prev, ok := b.subs[connectionID]; ok {
		prev.closeLocked()
		delete(b.subs, connectionID)
		monitor.BrokerSubscriptions.Dec()
	}

	var replay []Envelope
	replayGap := false
	if lastEventID != "" {
		afterSeq, known := b.seqIdx[lastEventID]
		if !known {
			replayGap = true
		} else {
			for i := 0; i < b.count; i++ {
				env := b.ring[(b.head+i)%len(b.ring)]
				if env.Sequence <= afterSeq {
					continue
				}
				if scopesMatch(scopes, env.Topic, env.ResourceID) {
					replay = append(replay, env)
				}
			}
		}
	}

	sub := &Subscription{
		ConnectionID: connectionID,
		UserID:       userID,
		WorkspaceID:  workspaceID,
		Scopes:       scopes,
		ReplayGap:    replayGap,
		ch:           make(chan Envelope, b.config.SubscriberBuffer+len(replay)),
	}

	for _, env := range replay {
		sub.ch <- env
		monitor.BrokerReplayedTotal.Inc()
	}

	if b.closed {
		sub.closeLocked()
		return sub
	}

	b.subs[connectionID] = sub
	monitor.BrokerSubscriptions.Inc()

	b.logger.Info("Subscription registered",
		"connection_id", connectionID,
		"user_id", userID,
		"scopes", len(scopes),
		"replayed", len(replay),
		"replay_gap", replayGap,
	)
	return sub
}

// Unsubscribe removes the subscription and closes its channel. Idempotent.
func (b *Broker) Unsubscribe(connectionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[connectionID]
	if !ok {
		return
	}
	delete(b.subs, connectionID)
	sub.closeLocked()
	monitor.BrokerSubscriptions.Dec()
	b.logger.Info("Subscription removed", "connection_id", connectionID)
}

// Publish assigns the next sequence and a unique id, stores the envelope in the
// replay ring and fans it out to every matching subscription. It never fails
// from the producer's perspective; a slow consumer only loses its own oldest
// buffered envelopes.
func (b *Broker) Publish(topic Topic, resourceID, workspaceID string, payload any, metadata map[string]string) Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	env := Envelope{
		ID:          uuid.New().String(),
		LastEventID: b.lastID,
		Topic:       topic,
		ResourceID:  resourceID,
		WorkspaceID: workspaceID,
		Sequence:    b.seq,
		Kind:        KindData,
		Payload:     payload,
		Metadata:    metadata,
		EmittedAt:   time.Now(),
	}
	b.lastID = env.ID

	slot := (b.head + b.count) % len(b.ring)
	if b.count == len(b.ring) {
		// 满了：覆盖最旧的一条
		delete(b.seqIdx, b.ring[b.head].ID)
		b.head = (b.head + 1) % len(b.ring)
		b.count--
	}
	b.ring[slot] = env
	b.count++
	b.seqIdx[env.ID] = env.Sequence
	monitor.BrokerPublishedTotal.Inc()

	for _, sub := range b.subs {
		if scopesMatch(sub.Scopes, topic, resourceID) {
			b.deliverLocked(sub, env)
		}
	}

	return env
}

// deliverLocked pushes into the subscription's bounded channel, evicting the
// oldest buffered envelope when full. Delivery to one subscription never blocks
// another.
func (b *Broker) deliverLocked(sub *Subscription, env Envelope) {
	if sub.closed {
		return
	}
	select {
	case sub.ch <- env:
		return
	default:
	}

	// 通道满：丢弃最旧的一条再入队
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- env:
	default:
	}
	dropped := sub.dropped.Add(1)
	monitor.BrokerDroppedTotal.Inc()
	b.logger.Warn("Slow subscriber, dropped oldest buffered envelope",
		"connection_id", sub.ConnectionID,
		"dropped_total", dropped,
	)
}

// Close shuts down the registry and closes every subscription channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.closeLocked()
		delete(b.subs, id)
		monitor.BrokerSubscriptions.Dec()
	}
}

func scopesMatch(scopes []Scope, topic Topic, resourceID string) bool {
	for _, s := range scopes {
		if s.Matches(topic, resourceID) {
			return true
		}
	}
	return false
}
