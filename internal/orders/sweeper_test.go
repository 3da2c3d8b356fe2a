package orders

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type countingExpirer struct {
	calls atomic.Int32
	err   error
}

func (c *countingExpirer) SweepExpired(context.Context) (int, error) {
	c.calls.Add(1)
	return 1, c.err
}

func TestSweeper_Run(t *testing.T) {
	t.Run("sweeps until cancelled", func(t *testing.T) {
		target := &countingExpirer{err: errors.New("db down")}
		sweeper := NewSweeper(target, 5*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			sweeper.Run(ctx)
			close(done)
		}()

		deadline := time.After(2 * time.Second)
		for target.calls.Load() < 3 {
			select {
			case <-deadline:
				t.Fatalf("expected at least 3 sweeps, got %d", target.calls.Load())
			case <-time.After(5 * time.Millisecond):
			}
		}
		cancel()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("sweeper did not stop after cancel")
		}
	})
}
