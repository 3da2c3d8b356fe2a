package orders

import (
	"context"
	"log/slog"
	"time"
)

type expirer interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Sweeper runs SweepExpired on a fixed interval until its context ends.
type Sweeper struct {
	target   expirer
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(target expirer, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{target: target, interval: interval, logger: logger}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			n, err := s.target.SweepExpired(ctx)
			if err != nil {
				s.logger.Error("sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("sweep completed", "expired", n)
			}
		}
	}
}
