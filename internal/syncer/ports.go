package syncer

import (
	"context"

	"domamart/internal/events"
	"domamart/internal/feed"
	"domamart/pkg/platform/audit"
)

// Feed is the part of the upstream poll API the sync loop uses.
type Feed interface {
	Poll(ctx context.Context, req feed.PollRequest) (*feed.PollResult, error)
	Ack(ctx context.Context, eventID int64) (*feed.AckResult, error)
	Reset(ctx context.Context, eventID int64) (*feed.AckResult, error)
}

// AuditPublisher records handled events in the analytics log.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// CacheInvalidator drops cached reads of a domain after the projection changes.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, key string) error
}

func auditEvent(evt events.Event) audit.Event {
	return audit.Event{
		TokenID:   evt.DomainKey(),
		EventType: evt.Type.AuditName(),
		Metadata:  evt.Raw,
		Timestamp: evt.Timestamp,
	}
}
