package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/lascentlo/internal/domain/notify"
)

const (
	insertEventSQL = `INSERT INTO outbox (id, type, recipient, order_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	claimEventsSQL = `WITH due AS (
			SELECT id FROM outbox
			WHERE sent_at IS NULL
				AND attempts < $2
				AND (locked_until IS NULL OR locked_until < now())
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox o SET locked_until = now() + make_interval(secs => $3)
		FROM due WHERE o.id = due.id
		RETURNING o.id, o.type, o.recipient, o.order_id, o.payload, o.created_at, o.attempts`

	// Delivered one-time tokens are dropped from the stored payload.
	markSentSQL = `UPDATE outbox SET sent_at = now(), locked_until = NULL, payload = payload - $2::text
		WHERE id = $1`

	markFailedSQL = `UPDATE outbox SET attempts = attempts + 1, last_error = $2, locked_until = NULL WHERE id = $1`

	pendingCountSQL = `SELECT count(*) FROM outbox WHERE sent_at IS NULL AND attempts < $1`
)

var _ notify.Outbox = (*OutboxRepository)(nil)

// OutboxRepository implements notify.Outbox backed by PostgreSQL.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository returns an OutboxRepository that uses the given pool.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

// Insert appends a standalone event.
func (r *OutboxRepository) Insert(ctx context.Context, evt notify.Event) error {
	return insertEvent(ctx, r.pool, evt)
}

// Claim leases due events. Rows locked by a concurrent relay are skipped.
func (r *OutboxRepository) Claim(ctx context.Context, limit, maxAttempts int, lease time.Duration) ([]notify.Event, error) {
	rows, err := r.pool.Query(ctx, claimEventsSQL, limit, maxAttempts, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claiming outbox events: %w", err)
	}
	events, err := pgx.CollectRows(rows, scanEvent)
	if err != nil {
		return nil, fmt.Errorf("claiming outbox events: %w", err)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}

// MarkSent records successful delivery.
func (r *OutboxRepository) MarkSent(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, markSentSQL, id, notify.TokenKey); err != nil {
		return fmt.Errorf("marking event %q sent: %w", id, err)
	}
	return nil
}

// MarkFailed records a failed attempt and releases the lease.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id, reason string) error {
	if _, err := r.pool.Exec(ctx, markFailedSQL, id, reason); err != nil {
		return fmt.Errorf("marking event %q failed: %w", id, err)
	}
	return nil
}

// PendingCount returns the number of undelivered events still eligible for
// another attempt.
func (r *OutboxRepository) PendingCount(ctx context.Context, maxAttempts int) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, pendingCountSQL, maxAttempts).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting pending events: %w", err)
	}
	return n, nil
}

func insertEvent(ctx context.Context, q execer, evt notify.Event) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("marshaling event payload: %w", err)
	}
	if _, err := q.Exec(ctx, insertEventSQL,
		evt.ID, string(evt.Type), evt.Recipient, evt.OrderID, payload, evt.CreatedAt,
	); err != nil {
		return fmt.Errorf("inserting %s event: %w", evt.Type, err)
	}
	return nil
}

func scanEvent(row pgx.CollectableRow) (notify.Event, error) {
	var (
		evt     notify.Event
		typ     string
		payload []byte
	)
	if err := row.Scan(&evt.ID, &typ, &evt.Recipient, &evt.OrderID, &payload, &evt.CreatedAt, &evt.Attempts); err != nil {
		return notify.Event{}, err
	}
	evt.Type = notify.Type(typ)
	if err := json.Unmarshal(payload, &evt.Payload); err != nil {
		return notify.Event{}, fmt.Errorf("unmarshaling payload of %q: %w", evt.ID, err)
	}
	return evt, nil
}
