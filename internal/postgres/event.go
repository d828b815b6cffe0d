package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crowdchurn/billing/internal/domain"
)

// EventStore implements the processed-event dedupe ledger on PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

var _ domain.EventStore = (*EventStore)(nil)

// NewEventStore creates a new PostgreSQL-backed event ledger.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Seen reports whether the (event type, object id) pair is in the ledger.
func (s *EventStore) Seen(ctx context.Context, eventType, objectID string) (bool, error) {
	var seen bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM processed_events
			WHERE event_type = $1 AND object_id = $2
		)`, eventType, objectID).Scan(&seen)
	if err != nil {
		return false, domain.WrapError(err, domain.EINTERNAL, "event.seen", "failed to check event ledger")
	}
	return seen, nil
}

// MarkProcessed inserts the (event type, object id) pair and reports whether
// it was already present. The unique constraint does the deduplication; the
// ON CONFLICT clause turns a duplicate into zero affected rows instead of an
// error.
func (s *EventStore) MarkProcessed(ctx context.Context, eventType, objectID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO processed_events (event_type, object_id, processed_at)
		VALUES ($1, $2, now())
		ON CONFLICT (event_type, object_id) DO NOTHING`,
		eventType, objectID)
	if err != nil {
		return false, domain.WrapError(err, domain.EINTERNAL, "event.mark_processed", "failed to record event")
	}
	return tag.RowsAffected() == 0, nil
}
