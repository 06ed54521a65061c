package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// RelayConfig controls outbox draining.
type RelayConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	Lease       time.Duration
}

func (c *RelayConfig) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.Lease <= 0 {
		c.Lease = time.Minute
	}
}

// Relay moves events from the outbox to every configured sink. Delivery is
// at-least-once: an event that fails on any sink is retried on all of them.
type Relay struct {
	outbox Outbox
	sinks  []Sink
	cfg    RelayConfig
	lg     *zap.Logger
}

// NewRelay creates a Relay draining outbox into sinks.
func NewRelay(outbox Outbox, sinks []Sink, cfg RelayConfig, lg *zap.Logger) *Relay {
	cfg.setDefaults()
	return &Relay{outbox: outbox, sinks: sinks, cfg: cfg, lg: lg}
}

// Run drains the outbox every Interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		for {
			n, err := r.Flush(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.lg.Warn("Outbox flush failed", zap.Error(err))
				break
			}
			if n < r.cfg.BatchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Flush claims and delivers a single batch, returning how many events were
// claimed.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	events, err := r.outbox.Claim(ctx, r.cfg.BatchSize, r.cfg.MaxAttempts, r.cfg.Lease)
	if err != nil {
		return 0, errors.Wrap(err, "claim events")
	}

	for _, evt := range events {
		lg := r.lg.With(
			zap.String("event_id", evt.ID),
			zap.String("event_type", string(evt.Type)),
			zap.String("order_id", evt.OrderID),
		)
		if err := r.deliver(ctx, evt); err != nil {
			lg.Warn("Event delivery failed", zap.Int("attempt", evt.Attempts+1), zap.Error(err))
			if markErr := r.outbox.MarkFailed(ctx, evt.ID, err.Error()); markErr != nil {
				return len(events), errors.Wrapf(markErr, "mark %s failed", evt.ID)
			}
			continue
		}
		if err := r.outbox.MarkSent(ctx, evt.ID); err != nil {
			return len(events), errors.Wrapf(err, "mark %s sent", evt.ID)
		}
		lg.Debug("Event delivered")
	}
	return len(events), nil
}

func (r *Relay) deliver(ctx context.Context, evt Event) error {
	for _, s := range r.sinks {
		if err := s.Send(ctx, evt); err != nil {
			return errors.Wrap(err, s.Name())
		}
	}
	return nil
}
