package syncer

import (
	"context"
	"time"

	"github.com/nkiryanov/stravadash/internal/logger"
)

type poller interface {
	Poll(ctx context.Context) error
}

// Scheduler keeps the cache warm without inbound requests
type Scheduler struct {
	interval time.Duration
	engine   poller
	logger   logger.Logger
}

func NewScheduler(interval time.Duration, engine poller, l logger.Logger) *Scheduler {
	return &Scheduler{
		interval: interval,
		engine:   engine,
		logger:   l,
	}
}

// Run ticks until ctx is done. Returned channel is closed once stopped
// Zero or negative interval disables the scheduler
func (s *Scheduler) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})

	if s.interval <= 0 {
		s.logger.Info("Sync scheduler disabled")
		close(idleStopped)
		return idleStopped
	}

	s.logger.Debug("Starting sync scheduler", "interval", s.interval)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("Sync scheduler stopped by context")
				return

			case <-ticker.C:
				s.logger.Debug("Sync scheduler tick")
				if err := s.engine.Poll(ctx); err != nil {
					s.logger.Warn("Scheduled sync failed", "error", err)
				}
			}
		}
	}()

	return idleStopped
}
