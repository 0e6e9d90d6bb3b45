// Package checkpoint records how far the sync pipeline has progressed through
// the feed. Progress is stored as an append-only log: every save adds a row and
// the newest row wins.
package checkpoint

import (
	"context"
	"time"
)

// EventType is the activity log type under which checkpoints are stored.
const EventType = "DOMA_EVENT_PROCESSED"

// Checkpoint is the last event id whose acknowledgement succeeded.
type Checkpoint struct {
	LastProcessedEventID *int64
	UpdatedAt            time.Time
}

// Has reports whether any event has been checkpointed.
func (c Checkpoint) Has() bool { return c.LastProcessedEventID != nil }

// Store persists checkpoints. Load returns a zero Checkpoint when nothing has
// been saved yet.
type Store interface {
	Load(ctx context.Context) (Checkpoint, error)
	Save(ctx context.Context, eventID int64) error
}
