// Package audit records every feed event the sync pipeline handles in an
// append-only analytics log, separate from the domain projection.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"domamart/pkg/platform/sentinel"
)

// ErrListingUnsupported is returned when no configured store can read events back.
var ErrListingUnsupported = fmt.Errorf("audit store does not support listing: %w", sentinel.ErrUnavailable)

// Event is one analytics record. EventType is the feed type prefixed with
// "DOMA_"; Metadata is the raw feed payload.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	TokenID   string          `json:"tokenId"`
	EventType string          `json:"eventType"`
	Metadata  json.RawMessage `json:"metadata"`
	Timestamp time.Time       `json:"timestamp"`
}

// Store appends events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Lister reads events back. Not every Store can.
type Lister interface {
	ListByToken(ctx context.Context, tokenID string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
	ListByTypes(ctx context.Context, eventTypes []string, limit int) ([]Event, error)
}

// Multi appends to every store in order and joins their errors. A failing store
// does not prevent the others from receiving the event.
type Multi []Store

func (m Multi) Append(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ListByToken reads from the first store that supports listing.
func (m Multi) ListByToken(ctx context.Context, tokenID string) ([]Event, error) {
	l, err := m.lister()
	if err != nil {
		return nil, err
	}
	return l.ListByToken(ctx, tokenID)
}

// ListRecent reads from the first store that supports listing.
func (m Multi) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	l, err := m.lister()
	if err != nil {
		return nil, err
	}
	return l.ListRecent(ctx, limit)
}

// ListByTypes reads from the first store that supports listing.
func (m Multi) ListByTypes(ctx context.Context, eventTypes []string, limit int) ([]Event, error) {
	l, err := m.lister()
	if err != nil {
		return nil, err
	}
	return l.ListByTypes(ctx, eventTypes, limit)
}

func (m Multi) lister() (Lister, error) {
	for _, s := range m {
		if l, ok := s.(Lister); ok {
			return l, nil
		}
	}
	return nil, ErrListingUnsupported
}
