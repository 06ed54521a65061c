package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck fails when p cannot be reached.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// BacklogCounter reports how many events are waiting for delivery.
type BacklogCounter interface {
	PendingCount(ctx context.Context, maxAttempts int) (int64, error)
}

// OutboxBacklogCheck fails when more than limit notification events are
// still deliverable, which means the notifier is down or falling behind.
func OutboxBacklogCheck(c BacklogCounter, maxAttempts int, limit int64) CheckFunc {
	return func(ctx context.Context) error {
		n, err := c.PendingCount(ctx, maxAttempts)
		if err != nil {
			return errors.Wrap(err, "count outbox")
		}
		if n > limit {
			return errors.Errorf("outbox backlog %d exceeds %d", n, limit)
		}
		return nil
	}
}

// GoroutineCountCheck fails when the process runs more than threshold
// goroutines.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}
