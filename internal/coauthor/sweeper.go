package coauthor

import (
	"log/slog"
	"time"
)

// SweepConfig 终态 session 保留配置
type SweepConfig struct {
	Interval  time.Duration // 清理循环间隔
	Retention time.Duration // 终态 session 在内存表中的保留时间
}

// RetentionSweeper 定期清理超过保留窗口的终态 session。
// 终态历史只用于短期审计/重试引用，持久化由归档 worker 负责。
type RetentionSweeper struct {
	controller *Controller
	config     SweepConfig
	logger     *slog.Logger
	stopCh     chan struct{}
}

func NewRetentionSweeper(controller *Controller, config SweepConfig, logger *slog.Logger) *RetentionSweeper {
	return &RetentionSweeper{
		controller: controller,
		config:     config,
		logger:     logger.With("component", "retention-sweeper"),
		stopCh:     make(chan struct{}),
	}
}

// Start 启动清理循环（阻塞，应在 goroutine 中调用）
func (s *RetentionSweeper) Start() {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("Retention sweeper started",
		"interval", s.config.Interval,
		"retention", s.config.Retention,
	)

	for {
		select {
		case <-s.stopCh:
			s.logger.Info("Retention sweeper stopped")
			return
		case <-ticker.C:
			swept := s.controller.SweepTerminal(time.Now().Add(-s.config.Retention))
			if swept > 0 {
				s.logger.Info("Swept terminal sessions", "count", swept)
			}
		}
	}
}

// Stop 停止清理循环
func (s *RetentionSweeper) Stop() {
	select {
	case <-s.stopCh:
		// 已经关闭
	default:
		close(s.stopCh)
	}
}

// SweepTerminal drops terminal sessions that ended before the cutoff from the
// in-memory table. Sections left with no slot history are dropped too.
func (c *Controller) SweepTerminal(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	swept := 0
	for id, sess := range c.sessions {
		if sess.State.Terminal() && !sess.EndedAt.IsZero() && sess.EndedAt.Before(cutoff) {
			delete(c.sessions, id)
			swept++
		}
	}
	return swept
}
