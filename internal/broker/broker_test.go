package broker_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"inkwell/internal/broker"
)

func newTestBroker(t *testing.T, cfg broker.Config) *broker.Broker {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return broker.NewBroker(cfg, logger)
}

func collect(t *testing.T, sub *broker.Subscription, n int, timeout time.Duration) []broker.Envelope {
	t.Helper()
	var got []broker.Envelope
	deadline := time.After(timeout)
	for len(got) < n {
		select {
		case env, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscription closed after %d/%d envelopes", len(got), n)
			}
			got = append(got, env)
		case <-deadline:
			t.Fatalf("timeout waiting for envelopes, got %d/%d", len(got), n)
		}
	}
	return got
}

func TestPublishDelivery(t *testing.T) {
	b := newTestBroker(t, broker.Config{ReplayCapacity: 16, SubscriberBuffer: 16})
	defer b.Close()

	t.Run("ExactResourceMatch", func(t *testing.T) {
		sub := b.Subscribe("conn-1", "user-1", "ws-1", []broker.Scope{
			{Topic: broker.TopicCoAuthorQueue, ResourceID: "sec-1"},
		}, "")
		defer b.Unsubscribe("conn-1")

		b.Publish(broker.TopicCoAuthorQueue, "sec-1", "ws-1", "match", nil)
		b.Publish(broker.TopicCoAuthorQueue, "sec-2", "ws-1", "other section", nil)
		b.Publish(broker.TopicSectionDiff, "sec-1", "ws-1", "other topic", nil)

		got := collect(t, sub, 1, time.Second)
		if got[0].Payload != "match" {
			t.Errorf("expected payload 'match', got %v", got[0].Payload)
		}

		select {
		case env := <-sub.Events():
			t.Errorf("unexpected extra envelope: %+v", env)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("TopicWildcardMatch", func(t *testing.T) {
		sub := b.Subscribe("conn-2", "user-1", "ws-1", []broker.Scope{
			{Topic: broker.TopicCoAuthorQueue},
		}, "")
		defer b.Unsubscribe("conn-2")

		b.Publish(broker.TopicCoAuthorQueue, "sec-1", "ws-1", "a", nil)
		b.Publish(broker.TopicCoAuthorQueue, "sec-2", "ws-1", "b", nil)

		got := collect(t, sub, 2, time.Second)
		if got[0].Payload != "a" || got[1].Payload != "b" {
			t.Errorf("expected payloads a,b got %v,%v", got[0].Payload, got[1].Payload)
		}
	})
}

func TestSequenceOrdering(t *testing.T) {
	b := newTestBroker(t, broker.Config{ReplayCapacity: 128, SubscriberBuffer: 128})
	defer b.Close()

	sub := b.Subscribe("conn-1", "user-1", "ws-1", []broker.Scope{
		{Topic: broker.TopicSectionDiff},
		{Topic: broker.TopicSectionConflict},
	}, "")
	defer b.Unsubscribe("conn-1")

	const n = 60
	for i := range n {
		topic := broker.TopicSectionDiff
		if i%2 == 1 {
			topic = broker.TopicSectionConflict
		}
		b.Publish(topic, "sec-1", "ws-1", i, nil)
	}

	got := collect(t, sub, n, 2*time.Second)
	for i := 1; i < len(got); i++ {
		if got[i].Sequence <= got[i-1].Sequence {
			t.Fatalf("sequence not strictly increasing at %d: %d then %d",
				i, got[i-1].Sequence, got[i].Sequence)
		}
	}
}

func TestReplay(t *testing.T) {
	t.Run("ResumesAfterLastEventID", func(t *testing.T) {
		b := newTestBroker(t, broker.Config{ReplayCapacity: 16, SubscriberBuffer: 16})
		defer b.Close()

		var published []broker.Envelope
		for i := range 5 {
			published = append(published, b.Publish(broker.TopicQualityProgress, "doc-1", "ws-1", i, nil))
		}

		sub := b.Subscribe("conn-1", "user-1", "ws-1", []broker.Scope{
			{Topic: broker.TopicQualityProgress},
		}, published[1].ID)
		defer b.Unsubscribe("conn-1")

		if sub.ReplayGap {
			t.Fatal("unexpected replay gap for a buffered last-event-id")
		}

		// 先补发 2..4，再接收新发布的事件
		live := b.Publish(broker.TopicQualityProgress, "doc-1", "ws-1", "live", nil)

		got := collect(t, sub, 4, time.Second)
		for i, want := range published[2:] {
			if got[i].ID != want.ID {
				t.Errorf("replay envelope %d: got id %s, want %s", i, got[i].ID, want.ID)
			}
		}
		if got[3].ID != live.ID {
			t.Errorf("expected live envelope last, got %s", got[3].ID)
		}
		for i := 1; i < len(got); i++ {
			if got[i].Sequence != got[i-1].Sequence+1 {
				t.Errorf("gap in replayed sequence: %d then %d", got[i-1].Sequence, got[i].Sequence)
			}
		}
	})

	t.Run("UnknownIDSignalsGap", func(t *testing.T) {
		b := newTestBroker(t, broker.Config{ReplayCapacity: 16, SubscriberBuffer: 16})
		defer b.Close()

		b.Publish(broker.TopicQualityProgress, "doc-1", "ws-1", 0, nil)

		sub := b.Subscribe("conn-1", "user-1", "ws-1", []broker.Scope{
			{Topic: broker.TopicQualityProgress},
		}, "evicted-or-bogus")
		defer b.Unsubscribe("conn-1")

		if !sub.ReplayGap {
			t.Error("expected replay gap for unknown last-event-id")
		}
		select {
		case env := <-sub.Events():
			t.Errorf("expected clean start, got replayed envelope %+v", env)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("WrapAroundKeepsNewest", func(t *testing.T) {
		b := newTestBroker(t, broker.Config{ReplayCapacity: 4, SubscriberBuffer: 16})
		defer b.Close()

		// 发布量是容量的两倍多，环形缓冲绕了一圈以后只剩最新 4 条
		var published []broker.Envelope
		for i := range 10 {
			published = append(published, b.Publish(broker.TopicQualityProgress, "doc-1", "ws-1", i, nil))
		}

		sub := b.Subscribe("conn-1", "user-1", "ws-1", []broker.Scope{
			{Topic: broker.TopicQualityProgress},
		}, published[6].ID)
		defer b.Unsubscribe("conn-1")

		if sub.ReplayGap {
			t.Fatal("id still buffered after wrap-around must not signal a gap")
		}
		got := collect(t, sub, 3, time.Second)
		for i, want := range published[7:] {
			if got[i].ID != want.ID {
				t.Errorf("replay envelope %d: got id %s, want %s", i, got[i].ID, want.ID)
			}
		}
	})

	t.Run("EvictedIDSignalsGap", func(t *testing.T) {
		b := newTestBroker(t, broker.Config{ReplayCapacity: 2, SubscriberBuffer: 16})
		defer b.Close()

		first := b.Publish(broker.TopicQualityProgress, "doc-1", "ws-1", 0, nil)
		b.Publish(broker.TopicQualityProgress, "doc-1", "ws-1", 1, nil)
		b.Publish(broker.TopicQualityProgress, "doc-1", "ws-1", 2, nil)

		sub := b.Subscribe("conn-1", "user-1", "ws-1", []broker.Scope{
			{Topic: broker.TopicQualityProgress},
		}, first.ID)
		defer b.Unsubscribe("conn-1")

		if !sub.ReplayGap {
			t.Error("expected replay gap after ring eviction")
		}
	})
}

// 被永久阻塞的订阅不能拖慢其他订阅：有界缓冲满了以后丢最旧的。
func TestSlowSubscriberIsolation(t *testing.T) {
	b := newTestBroker(t, broker.Config{ReplayCapacity: 128, SubscriberBuffer: 4})
	defer b.Close()

	blocked := b.Subscribe("conn-blocked", "user-1", "ws-1", []broker.Scope{
		{Topic: broker.TopicSectionDiff},
	}, "")
	healthy := b.Subscribe("conn-healthy", "user-2", "ws-1", []broker.Scope{
		{Topic: broker.TopicSectionDiff},
	}, "")
	defer b.Unsubscribe("conn-blocked")
	defer b.Unsubscribe("conn-healthy")

	// 健康订阅边发布边消费；阻塞订阅谁也不读。
	// Publish 在返回前已把 envelope 放进健康订阅的通道，接收不会阻塞。
	const n = 40
	var got []broker.Envelope
	start := time.Now()
	for i := range n {
		b.Publish(broker.TopicSectionDiff, "sec-1", "ws-1", i, nil)
		select {
		case env := <-healthy.Events():
			got = append(got, env)
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("healthy subscriber starved at %d/%d envelopes", len(got), n)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("burst took %v, delivery blocked by slow subscriber", elapsed)
	}

	for i := 1; i < len(got); i++ {
		if got[i].Sequence <= got[i-1].Sequence {
			t.Fatalf("healthy subscriber saw out-of-order sequences: %d then %d",
				got[i-1].Sequence, got[i].Sequence)
		}
	}
	if blocked.Dropped() == 0 {
		t.Error("expected drops on the blocked subscription")
	}
}

func TestHeartbeat(t *testing.T) {
	b := newTestBroker(t, broker.Config{
		HeartbeatInterval: 10 * time.Millisecond,
		ReplayCapacity:    16,
		SubscriberBuffer:  16,
	})
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Start(ctx)

	sub := b.Subscribe("conn-1", "user-1", "ws-1", []broker.Scope{
		{Topic: broker.TopicProjectLifecycle},
	}, "")
	defer b.Unsubscribe("conn-1")

	select {
	case env := <-sub.Events():
		if env.Kind != broker.KindHeartbeat {
			t.Fatalf("expected heartbeat, got kind %s", env.Kind)
		}
		if env.Sequence != 0 {
			t.Errorf("heartbeat must not consume sequence numbers, got %d", env.Sequence)
		}
		payload, ok := env.Payload.(broker.HeartbeatPayload)
		if !ok {
			t.Fatalf("unexpected heartbeat payload type %T", env.Payload)
		}
		if payload.IntervalMS != 10 {
			t.Errorf("expected interval 10ms, got %d", payload.IntervalMS)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for heartbeat")
	}

	// 心跳不进入重放缓冲
	replaySub := b.Subscribe("conn-2", "user-1", "ws-1", []broker.Scope{
		{Topic: broker.TopicProjectLifecycle},
	}, "bogus")
	defer b.Unsubscribe("conn-2")
	if !replaySub.ReplayGap {
		t.Error("heartbeats must not register replayable ids")
	}
}

func TestUnsubscribe(t *testing.T) {
	b := newTestBroker(t, broker.Config{ReplayCapacity: 16, SubscriberBuffer: 16})
	defer b.Close()

	sub := b.Subscribe("conn-1", "user-1", "ws-1", []broker.Scope{
		{Topic: broker.TopicProjectLifecycle},
	}, "")

	b.Unsubscribe("conn-1")
	// 幂等
	b.Unsubscribe("conn-1")

	if _, ok := <-sub.Events(); ok {
		t.Error("expected closed channel after unsubscribe")
	}

	// 取消订阅后的发布不会 panic 也不会投递
	b.Publish(broker.TopicProjectLifecycle, "", "ws-1", "after", nil)
}

func TestSubscribeReplacesSameConnection(t *testing.T) {
	b := newTestBroker(t, broker.Config{ReplayCapacity: 16, SubscriberBuffer: 16})
	defer b.Close()

	first := b.Subscribe("conn-1", "user-1", "ws-1", []broker.Scope{
		{Topic: broker.TopicProjectLifecycle},
	}, "")
	second := b.Subscribe("conn-1", "user-1", "ws-1", []broker.Scope{
		{Topic: broker.TopicProjectLifecycle},
	}, "")
	defer b.Unsubscribe("conn-1")

	if _, ok := <-first.Events(); ok {
		t.Error("expected first subscription closed on re-subscribe")
	}

	b.Publish(broker.TopicProjectLifecycle, "", "ws-1", "x", nil)
	collect(t, second, 1, time.Second)
}
