package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	audit "domamart/pkg/platform/audit"
	"domamart/pkg/platform/tx"
)

var _ audit.Lister = (*Store)(nil)

// Store implements audit.Store over the activity_log table it shares with the
// sync checkpoint rows.
type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type row struct {
	AuditID   uuid.NullUUID `db:"audit_id"`
	TokenID   *string       `db:"token_id"`
	EventType string        `db:"event_type"`
	Metadata  []byte        `db:"metadata"`
	CreatedAt time.Time     `db:"created_at"`
}

func (r row) event() audit.Event {
	e := audit.Event{
		EventType: r.EventType,
		Metadata:  json.RawMessage(r.Metadata),
		Timestamp: r.CreatedAt,
	}
	if r.AuditID.Valid {
		e.ID = r.AuditID.UUID
	}
	if r.TokenID != nil {
		e.TokenID = *r.TokenID
	}
	return e
}

// Append inserts the event. Re-appending the same event id is a no-op.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	metadata := event.Metadata
	if len(metadata) == 0 || !json.Valid(metadata) {
		// activity_log.metadata is JSONB; keep undecodable payloads as a JSON string.
		b, err := json.Marshal(string(metadata))
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		metadata = b
	}

	query := `
		INSERT INTO activity_log (audit_id, token_id, event_type, metadata, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5)
		ON CONFLICT (audit_id) DO NOTHING
	`
	_, err := tx.Pick(ctx, s.db).ExecContext(ctx, query,
		event.ID,
		event.TokenID,
		event.EventType,
		string(metadata),
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert activity log entry: %w", err)
	}
	return nil
}

const selectColumns = `SELECT audit_id, token_id, event_type, metadata, created_at FROM activity_log`

// ListByToken returns the token's analytics events in append order.
func (s *Store) ListByToken(ctx context.Context, tokenID string) ([]audit.Event, error) {
	return s.list(ctx, selectColumns+`
		WHERE token_id = $1 AND audit_id IS NOT NULL
		ORDER BY id
	`, tokenID)
}

// ListRecent returns the newest analytics events first. Checkpoint rows are excluded.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	return s.list(ctx, selectColumns+`
		WHERE audit_id IS NOT NULL
		ORDER BY id DESC
		LIMIT $1
	`, limit)
}

// ListByTypes returns the newest events whose type is one of eventTypes.
func (s *Store) ListByTypes(ctx context.Context, eventTypes []string, limit int) ([]audit.Event, error) {
	return s.list(ctx, selectColumns+`
		WHERE event_type = ANY($1) AND audit_id IS NOT NULL
		ORDER BY id DESC
		LIMIT $2
	`, pq.Array(eventTypes), limit)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]audit.Event, error) {
	var rows []row
	if err := tx.Pick(ctx, s.db).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query activity log: %w", err)
	}
	events := make([]audit.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.event())
	}
	return events, nil
}
