package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	audit "trustcore/pkg/platform/audit"
	txcontext "trustcore/pkg/platform/tx"

	"github.com/google/uuid"
)

// Store implements audit.Store on the protocol_events table. When a
// transaction is present in the context the insert joins it, so an event
// row commits together with the state change that produced it.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL event store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts an event. Duplicate IDs are ignored.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	attrs, err := json.Marshal(event.Attributes)
	if err != nil {
		return fmt.Errorf("marshal event attributes: %w", err)
	}

	query := `
		INSERT INTO protocol_events (
			id, event_type, category, entity_id, actor, request_id, occurred_at, attributes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = txcontext.Executor(ctx, s.db).ExecContext(ctx, query,
		event.ID,
		string(event.Type),
		string(event.Category()),
		event.EntityID,
		event.Actor,
		event.RequestID,
		event.OccurredAt,
		attrs,
	)
	if err != nil {
		return fmt.Errorf("insert protocol event: %w", err)
	}
	return nil
}

// ListByEntity returns events for a single entity, oldest first.
func (s *Store) ListByEntity(ctx context.Context, entityID string) ([]audit.Event, error) {
	query := `
		SELECT id, event_type, entity_id, actor, request_id, occurred_at, attributes
		FROM protocol_events
		WHERE entity_id = $1
		ORDER BY occurred_at ASC, seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("query protocol events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListRecent returns the N most recent events, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	query := `
		SELECT id, event_type, entity_id, actor, request_id, occurred_at, attributes
		FROM protocol_events
		ORDER BY seq DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query protocol events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event

	for rows.Next() {
		var (
			event     audit.Event
			eventType string
			attrs     []byte
		)
		if err := rows.Scan(
			&event.ID,
			&eventType,
			&event.EntityID,
			&event.Actor,
			&event.RequestID,
			&event.OccurredAt,
			&attrs,
		); err != nil {
			return nil, fmt.Errorf("scan protocol event: %w", err)
		}
		event.Type = audit.EventType(eventType)
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &event.Attributes); err != nil {
				return nil, fmt.Errorf("decode event attributes: %w", err)
			}
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate protocol events: %w", err)
	}
	return events, nil
}
