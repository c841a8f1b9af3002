package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"inkwell/internal/monitor"
)

// Mode 决定超限请求的处置方式。
type Mode string

const (
	ModeEnforce Mode = "enforce" // 拒绝并返回 retry-after
	ModeLog     Mode = "log"     // 只记录，不拒绝
)

func ParseMode(s string) Mode {
	if s == string(ModeLog) {
		return ModeLog
	}
	return ModeEnforce
}

// Key identifies one fixed window: requests by the same author against the
// same section with the same intent share a budget.
type Key struct {
	UserID     string
	DocumentID string
	SectionID  string
	Intent     string
}

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	// Exceeded 在 log 模式下标记本应被拒绝的请求
	Exceeded bool
}

type window struct {
	start time.Time
	count int
}

// Limiter is a fixed-window admission check. Windows are rebuilt lazily on
// first use and pruned opportunistically; nothing is persisted. Anonymous
// callers (empty UserID) always pass with the full budget since identity-based
// limiting needs a known principal.
type Limiter struct {
	mu      sync.Mutex
	windows map[Key]*window
	size    time.Duration
	quota   int
	mode    Mode
	logger  *slog.Logger
}

type Config struct {
	Window time.Duration
	Quota  int
	Mode   Mode
}

func NewLimiter(cfg Config, logger *slog.Logger) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.Quota <= 0 {
		cfg.Quota = 5
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeEnforce
	}

	return &Limiter{
		windows: make(map[Key]*window),
		size:    cfg.Window,
		quota:   cfg.Quota,
		mode:    cfg.Mode,
		logger:  logger.With("component", "ratelimit"),
	}
}

func (l *Limiter) Check(key Key, now time.Time) Decision {
	if key.UserID == "" {
		return Decision{Allowed: true, Remaining: l.quota}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.size {
		w = &window{start: now}
		l.windows[key] = w
		l.pruneLocked(now)
	}

	if w.count >= l.quota {
		retryAfter := w.start.Add(l.size).Sub(now)
		monitor.RateLimitDeniedTotal.Inc()
		l.logger.Warn("Rate limit exceeded",
			"user_id", key.UserID,
			"section_id", key.SectionID,
			"intent", key.Intent,
			"mode", string(l.mode),
			"retry_after", retryAfter,
		)

		if l.mode == ModeLog {
			w.count++
			return Decision{Allowed: true, Remaining: 0, Exceeded: true}
		}
		return Decision{Allowed: false, Remaining: 0, RetryAfter: retryAfter}
	}

	w.count++
	monitor.RateLimitAllowedTotal.Inc()
	return Decision{Allowed: true, Remaining: l.quota - w.count}
}

// pruneLocked drops expired windows so the map doesn't grow with dead keys.
func (l *Limiter) pruneLocked(now time.Time) {
	for k, w := range l.windows {
		if now.Sub(w.start) >= l.size {
			delete(l.windows, k)
		}
	}
}
