package store

import (
	"context"
	"fmt"
	"time"

	"github.com/punchamoorthee/commissionledger/internal/domain"
)

const insertOutboxSQL = `INSERT INTO outbox_events (id, kind, user_id, payload, created_at) VALUES ($1, $2, $3, $4, $5)`

func (q *Queries) InsertOutboxEvent(ctx context.Context, e domain.OutboxEvent) error {
	if _, err := q.db.Exec(ctx, insertOutboxSQL, e.ID, e.Kind, e.UserID, []byte(e.Payload), e.CreatedAt); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

const claimOutboxSQL = `SELECT id, kind, user_id, payload, attempts, created_at
FROM outbox_events
WHERE dispatched_at IS NULL AND attempts < $2
ORDER BY created_at, id
LIMIT $1
FOR UPDATE SKIP LOCKED`

// ClaimOutboxEvents locks up to limit undispatched events. Rows locked by
// another relay are skipped.
func (q *Queries) ClaimOutboxEvents(ctx context.Context, limit, maxAttempts int) ([]domain.OutboxEvent, error) {
	rows, err := q.db.Query(ctx, claimOutboxSQL, limit, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("claim outbox events: %w", err)
	}
	defer rows.Close()

	var out []domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Kind, &e.UserID, &payload, &e.Attempts, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		e.Payload = payload
		out = append(out, e)
	}
	return out, rows.Err()
}

const markOutboxDispatchedSQL = `UPDATE outbox_events SET dispatched_at = $2, attempts = attempts + 1, last_error = NULL WHERE id = $1`

func (q *Queries) MarkOutboxDispatched(ctx context.Context, id string, at time.Time) error {
	if _, err := q.db.Exec(ctx, markOutboxDispatchedSQL, id, at); err != nil {
		return fmt.Errorf("mark outbox dispatched: %w", err)
	}
	return nil
}

const markOutboxFailedSQL = `UPDATE outbox_events SET attempts = attempts + 1, last_error = $2 WHERE id = $1`

func (q *Queries) MarkOutboxFailed(ctx context.Context, id string, cause string) error {
	if _, err := q.db.Exec(ctx, markOutboxFailedSQL, id, cause); err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}
