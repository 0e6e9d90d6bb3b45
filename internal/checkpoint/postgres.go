package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"domamart/pkg/platform/tx"
)

// PostgresStore appends checkpoint rows to activity_log.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type checkpointMetadata struct {
	LastProcessedEventID int64 `json:"lastProcessedEventId"`
}

type checkpointRow struct {
	Metadata  []byte    `db:"metadata"`
	CreatedAt time.Time `db:"created_at"`
}

// Load returns the most recently appended checkpoint.
func (s *PostgresStore) Load(ctx context.Context) (Checkpoint, error) {
	query := `
		SELECT metadata, created_at
		FROM activity_log
		WHERE event_type = $1
		ORDER BY id DESC
		LIMIT 1
	`
	var row checkpointRow
	err := tx.Pick(ctx, s.db).GetContext(ctx, &row, query, EventType)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, nil
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}

	var meta checkpointMetadata
	if err := json.Unmarshal(row.Metadata, &meta); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint metadata: %w", err)
	}
	return Checkpoint{LastProcessedEventID: &meta.LastProcessedEventID, UpdatedAt: row.CreatedAt}, nil
}

func (s *PostgresStore) Save(ctx context.Context, eventID int64) error {
	meta, err := json.Marshal(checkpointMetadata{LastProcessedEventID: eventID})
	if err != nil {
		return fmt.Errorf("marshal checkpoint metadata: %w", err)
	}
	query := `INSERT INTO activity_log (event_type, metadata) VALUES ($1, $2)`
	if _, err := tx.Pick(ctx, s.db).ExecContext(ctx, query, EventType, string(meta)); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}
