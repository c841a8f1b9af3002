package coauthor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"inkwell/internal/broker"
	"inkwell/internal/engine"
	"inkwell/internal/monitor"
)

// Archiver persists terminal sessions out of band. Enqueue failures are
// logged, never surfaced to the author.
type Archiver interface {
	ArchiveSession(ctx context.Context, s *Session) error
}

// Controller enforces single-flight admission per section: at most one live
// session per section, last-writer-wins replacement on conflict. It owns the
// per-section active pointer and the session table; every transition happens
// under one mutex and is published on the queue-disposition topic before the
// lock is released, so observers see transitions in their true order.
type Controller struct {
	mu       sync.Mutex
	bus      *broker.Broker
	eng      engine.Engine
	archiver Archiver
	logger   *slog.Logger

	sections map[string]*sectionState
	sessions map[string]*Session
	cancels  map[string]context.CancelFunc
}

type sectionState struct {
	active *Session
	slot   int64 // 单调递增的 concurrency slot 计数
}

func NewController(bus *broker.Broker, eng engine.Engine, archiver Archiver, logger *slog.Logger) *Controller {
	return &Controller{
		bus:      bus,
		eng:      eng,
		archiver: archiver,
		logger:   logger.With("component", "coauthor"),
		sections: make(map[string]*sectionState),
		sessions: make(map[string]*Session),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// StartProposal admits a new co-authoring session for the section. If another
// session is live the prior one is preempted, not queued: it transitions to
// replaced and the new session becomes active immediately. The replacement is
// published as a single envelope linking old to new.
func (c *Controller) StartProposal(ctx context.Context, params StartParams) (*Session, error) {
	if params.SessionID == "" {
		params.SessionID = uuid.New().String()
	}
	if params.Intent == "" {
		params.Intent = IntentPropose
	}

	c.mu.Lock()
	if _, exists := c.sessions[params.SessionID]; exists {
		c.mu.Unlock()
		return nil, ErrSessionExists
	}

	sec := c.sections[params.SectionID]
	if sec == nil {
		sec = &sectionState{}
		c.sections[params.SectionID] = sec
	}

	var replaced *Session
	if sec.active != nil && !sec.active.State.Terminal() {
		replaced = sec.active
		replaced.State = StateReplaced
		replaced.CancelReason = ReasonReplaced
		replaced.EndedAt = time.Now()
		c.releaseCancelLocked(replaced.ID)
	}

	sec.slot++
	sess := &Session{
		ID:                params.SessionID,
		DocumentID:        params.DocumentID,
		SectionID:         params.SectionID,
		AuthorID:          params.AuthorID,
		WorkspaceID:       params.WorkspaceID,
		Intent:            params.Intent,
		Prompt:            params.Prompt,
		State:             StateActive,
		Slot:              sec.slot,
		PreviousSessionID: params.PreviousSessionID,
		DeliveryMode:      DeliveryStreaming,
		CreatedAt:         time.Now(),
	}
	if replaced != nil {
		sess.ReplacedSessionID = replaced.ID
	}
	if !c.eng.StreamingEnabled() {
		// 提前对外宣告 fallback 交付；正式的 disposition 事件
		// 仍由生成协程在降级时发布
		sess.DeliveryMode = DeliveryFallback
		sess.FallbackReason = FallbackStreamingDisabled
	}

	if sec.active == nil {
		monitor.QueueActiveSessions.Inc()
	}
	sec.active = sess
	c.sessions[sess.ID] = sess

	genCtx, cancel := context.WithCancel(context.Background())
	c.cancels[sess.ID] = cancel

	if replaced != nil {
		c.publishLocked(sess.WorkspaceID, DispositionEvent{
			Disposition:  DispositionReplaced,
			SessionID:    replaced.ID,
			SectionID:    sess.SectionID,
			NewSessionID: sess.ID,
			Slot:         sess.Slot,
			Reason:       string(ReasonReplaced),
		})
		c.archiveLocked(replaced)
		c.logger.Info("Session replaced",
			"section_id", sess.SectionID,
			"replaced_session_id", replaced.ID,
			"session_id", sess.ID,
		)
	} else {
		c.publishLocked(sess.WorkspaceID, DispositionEvent{
			Disposition: DispositionActive,
			SessionID:   sess.ID,
			SectionID:   sess.SectionID,
			Slot:        sess.Slot,
		})
	}

	result := sess.clone()
	c.mu.Unlock()

	go c.runGeneration(genCtx, sess.ID, engine.Request{
		SessionID:  sess.ID,
		DocumentID: sess.DocumentID,
		SectionID:  sess.SectionID,
		AuthorID:   sess.AuthorID,
		Intent:     string(sess.Intent),
		Prompt:     sess.Prompt,
	})

	return result, nil
}

// runGeneration drives the engine for one session. On streaming degradation
// it publishes the fallback disposition and retries over the unary path. A
// canceled context means the session was replaced or canceled; its state has
// already been settled by whoever canceled it.
func (c *Controller) runGeneration(ctx context.Context, sessionID string, req engine.Request) {
	defer func() {
		c.mu.Lock()
		c.releaseCancelLocked(sessionID)
		c.mu.Unlock()
	}()

	onChunk := func(chunk engine.Chunk) {
		c.bus.Publish(broker.TopicCoAuthorProgress, req.SectionID, c.workspaceOf(sessionID), ProgressEvent{
			SessionID: sessionID,
			SectionID: req.SectionID,
			Index:     chunk.Index,
			Text:      chunk.Text,
		}, nil)
	}

	result, err := c.eng.StreamGenerate(ctx, req, onChunk)
	if errors.Is(err, engine.ErrStreamingUnavailable) {
		reason := FallbackStreamOpenFailed
		if err == engine.ErrStreamingUnavailable {
			// 未包装的哨兵错误：流式传输被配置关闭
			reason = FallbackStreamingDisabled
		}
		if !c.transitionFallback(sessionID, reason) {
			return
		}
		result, err = c.eng.Generate(ctx, req)
	}

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.failSession(sessionID, err)
		return
	}

	c.completeGeneration(sessionID, result)
}

// transitionFallback flips a still-live session to fallback delivery and
// publishes the disposition. Returns false when the session ended meanwhile.
func (c *Controller) transitionFallback(sessionID string, reason FallbackReason) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[sessionID]
	if !ok || sess.State != StateActive {
		return false
	}
	sess.State = StateFallback
	sess.DeliveryMode = DeliveryFallback
	sess.FallbackReason = reason

	c.publishLocked(sess.WorkspaceID, DispositionEvent{
		Disposition:    DispositionFallback,
		SessionID:      sess.ID,
		SectionID:      sess.SectionID,
		FallbackReason: reason,
	})
	c.logger.Info("Session degraded to fallback delivery",
		"session_id", sess.ID, "reason", string(reason))
	return true
}

func (c *Controller) failSession(sessionID string, genErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[sessionID]
	if !ok || sess.State.Terminal() {
		return
	}
	sess.State = StateCanceled
	sess.CancelReason = ReasonTransport
	sess.EndedAt = time.Now()
	c.clearActiveLocked(sess)

	c.publishLocked(sess.WorkspaceID, DispositionEvent{
		Disposition: DispositionCanceled,
		SessionID:   sess.ID,
		SectionID:   sess.SectionID,
		Reason:      string(ReasonTransport),
	})
	c.archiveLocked(sess)
	c.logger.Error("Generation failed", "session_id", sessionID, "error", genErr)
}

func (c *Controller) completeGeneration(sessionID string, result *engine.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[sessionID]
	if !ok || sess.State.Terminal() {
		return
	}

	if sess.Intent == IntentPropose {
		// Session 保持 live，持有 proposal 等待 approve/reject
		sess.Proposal = &Proposal{
			ID:        uuid.New().String(),
			SessionID: sess.ID,
			Content:   result.Content,
			DiffHash:  result.DiffHash,
			CreatedAt: time.Now(),
		}
		return
	}

	sess.State = StateCompleted
	sess.EndedAt = time.Now()
	c.clearActiveLocked(sess)
	c.archiveLocked(sess)
}

// CancelInteraction terminates a live session with the supplied reason.
// Unknown or already-terminal sessions yield ErrSessionNotFound and never
// mutate state.
func (c *Controller) CancelInteraction(ctx context.Context, sessionID, sectionID string, reason CancelReason) error {
	if !ValidCancelReason(reason) {
		return ErrInvalidReason
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[sessionID]
	if !ok || sess.State.Terminal() || sess.SectionID != sectionID {
		return ErrSessionNotFound
	}

	c.releaseCancelLocked(sessionID)
	sess.State = StateCanceled
	sess.CancelReason = reason
	sess.EndedAt = time.Now()
	c.clearActiveLocked(sess)

	c.publishLocked(sess.WorkspaceID, DispositionEvent{
		Disposition: DispositionCanceled,
		SessionID:   sess.ID,
		SectionID:   sess.SectionID,
		Reason:      string(reason),
	})
	c.archiveLocked(sess)
	c.logger.Info("Session canceled", "session_id", sessionID, "reason", string(reason))
	return nil
}

// RetryInteraction starts a fresh session bound to the same section,
// referencing the previous one. The previous session must already be terminal;
// preempting a live session is StartProposal's job. Subject to the same
// single-flight admission as StartProposal.
func (c *Controller) RetryInteraction(ctx context.Context, sessionID, sectionID string, intent Intent) (*Session, error) {
	c.mu.Lock()
	prev, ok := c.sessions[sessionID]
	if !ok || prev.SectionID != sectionID {
		c.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if !prev.State.Terminal() {
		c.mu.Unlock()
		return nil, ErrSessionLive
	}
	if intent == "" {
		intent = prev.Intent
	}
	params := StartParams{
		DocumentID:        prev.DocumentID,
		SectionID:         prev.SectionID,
		AuthorID:          prev.AuthorID,
		WorkspaceID:       prev.WorkspaceID,
		Intent:            intent,
		Prompt:            prev.Prompt,
		PreviousSessionID: prev.ID,
	}
	c.mu.Unlock()

	return c.StartProposal(ctx, params)
}

// ApproveProposal applies a proposal if the caller's diff hash matches the
// generated one. A mismatch signals a conflicting concurrent edit and fails
// closed with no state change.
func (c *Controller) ApproveProposal(ctx context.Context, sessionID, sectionID, diffHash string) (*Proposal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[sessionID]
	if !ok || sess.State.Terminal() || sess.SectionID != sectionID {
		return nil, ErrSessionNotFound
	}
	if sess.Proposal == nil {
		return nil, ErrProposalNotReady
	}
	if sess.Proposal.DiffHash != diffHash {
		return nil, ErrConflictingEdit
	}

	c.releaseCancelLocked(sessionID)
	sess.State = StateCompleted
	sess.EndedAt = time.Now()
	c.clearActiveLocked(sess)
	c.archiveLocked(sess)

	proposal := *sess.Proposal
	return &proposal, nil
}

// RejectProposal discards the proposal and completes the session.
func (c *Controller) RejectProposal(ctx context.Context, sessionID, sectionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[sessionID]
	if !ok || sess.State.Terminal() || sess.SectionID != sectionID {
		return ErrSessionNotFound
	}
	if sess.Proposal == nil {
		return ErrProposalNotReady
	}

	c.releaseCancelLocked(sessionID)
	sess.Proposal = nil
	sess.State = StateCompleted
	sess.EndedAt = time.Now()
	c.clearActiveLocked(sess)
	c.archiveLocked(sess)
	return nil
}

// TeardownSession is the out-of-band termination path (navigation away,
// logout, expiry). Always succeeds; terminating an already-terminal or
// unknown session is a no-op.
func (c *Controller) TeardownSession(ctx context.Context, sessionID, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[sessionID]
	if !ok || sess.State.Terminal() {
		return
	}

	c.releaseCancelLocked(sessionID)
	sess.State = StateCanceled
	sess.CancelReason = ReasonDeferred
	sess.EndedAt = time.Now()
	c.clearActiveLocked(sess)

	c.publishLocked(sess.WorkspaceID, DispositionEvent{
		Disposition: DispositionCanceled,
		SessionID:   sess.ID,
		SectionID:   sess.SectionID,
		Reason:      string(ReasonDeferred),
	})
	c.archiveLocked(sess)
	c.logger.Info("Session torn down", "session_id", sessionID, "reason", reason)
}

// GetSession returns a copy of the session, live or retained-terminal.
func (c *Controller) GetSession(sessionID string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return sess.clone(), true
}

// ActiveSession returns a copy of the section's live session, if any.
func (c *Controller) ActiveSession(sectionID string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sec := c.sections[sectionID]
	if sec == nil || sec.active == nil {
		return nil, false
	}
	return sec.active.clone(), true
}

func (c *Controller) publishLocked(workspaceID string, event DispositionEvent) {
	monitor.QueueDispositionsTotal.WithLabelValues(string(event.Disposition)).Inc()
	c.bus.Publish(broker.TopicCoAuthorQueue, event.SectionID, workspaceID, event, nil)
}

func (c *Controller) clearActiveLocked(sess *Session) {
	if sec := c.sections[sess.SectionID]; sec != nil && sec.active == sess {
		sec.active = nil
		monitor.QueueActiveSessions.Dec()
	}
}

func (c *Controller) releaseCancelLocked(sessionID string) {
	if cancel, ok := c.cancels[sessionID]; ok {
		cancel()
		delete(c.cancels, sessionID)
	}
}

func (c *Controller) archiveLocked(sess *Session) {
	if c.archiver == nil {
		return
	}
	archived := sess.clone()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.archiver.ArchiveSession(ctx, archived); err != nil {
			c.logger.Error("Failed to archive session", "session_id", archived.ID, "error", err)
		}
	}()
}

func (c *Controller) workspaceOf(sessionID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sess, ok := c.sessions[sessionID]; ok {
		return sess.WorkspaceID
	}
	return ""
}

func (s *Session) clone() *Session {
	cp := *s
	if s.Proposal != nil {
		p := *s.Proposal
		cp.Proposal = &p
	}
	return &cp
}
