// Package publisher is the entry point for emitting analytics events. It writes
// through to a store, or hands events to a background worker when buffered.
package publisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	audit "domamart/pkg/platform/audit"
	"domamart/pkg/platform/audit/worker"
)

// ErrBufferFull is returned by Emit when the async buffer has no room.
var ErrBufferFull = errors.New("audit buffer full")

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("audit publisher closed")

// FailureRecorder counts events that could not be stored or were dropped.
type FailureRecorder interface {
	IncAuditFailures()
}

// Publisher emits audit events synchronously, or asynchronously when built
// with WithAsyncBuffer.
type Publisher struct {
	store    audit.Store
	logger   *slog.Logger
	failures FailureRecorder
	clock    func() time.Time

	bufferSize int
	mu         sync.RWMutex
	buffer     chan audit.Event
	closed     bool
	done       chan struct{}
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithAsyncBuffer enables async mode with a buffer of the given size. Emit then
// returns ErrBufferFull instead of blocking when the buffer is full.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.bufferSize = size
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithFailureRecorder(r FailureRecorder) Option {
	return func(p *Publisher) { p.failures = r }
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufferSize > 0 {
		p.buffer = make(chan audit.Event, p.bufferSize)
		p.done = make(chan struct{})
		w := worker.NewWorker(store, p.buffer,
			worker.WithLogger(p.logger),
			worker.WithErrorHook(func(audit.Event, error) { p.recordFailure() }),
		)
		go func() {
			defer close(p.done)
			// Detached from callers: the worker stops when Close closes the buffer.
			_ = w.Run(context.Background())
		}()
	}
	return p
}

// Emit fills in the id and timestamp when unset and records the event.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.clock()
	}
	if p.buffer == nil {
		if err := p.store.Append(ctx, event); err != nil {
			p.recordFailure()
			return err
		}
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.buffer <- event:
		return nil
	default:
		p.recordFailure()
		p.logger.WarnContext(ctx, "audit buffer full, dropping event",
			"event_type", event.EventType,
			"token_id", event.TokenID,
		)
		return ErrBufferFull
	}
}

// ListByToken reads back through the store when it supports listing.
func (p *Publisher) ListByToken(ctx context.Context, tokenID string) ([]audit.Event, error) {
	l, ok := p.store.(audit.Lister)
	if !ok {
		return nil, audit.ErrListingUnsupported
	}
	return l.ListByToken(ctx, tokenID)
}

// ListRecent returns the newest events, restricted to eventTypes when any are given.
func (p *Publisher) ListRecent(ctx context.Context, eventTypes []string, limit int) ([]audit.Event, error) {
	l, ok := p.store.(audit.Lister)
	if !ok {
		return nil, audit.ErrListingUnsupported
	}
	if len(eventTypes) > 0 {
		return l.ListByTypes(ctx, eventTypes, limit)
	}
	return l.ListRecent(ctx, limit)
}

// Close stops accepting events and waits for buffered ones to be stored.
// It is safe to call more than once.
func (p *Publisher) Close() {
	if p.buffer == nil {
		return
	}
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.buffer)
	}
	p.mu.Unlock()
	<-p.done
}

func (p *Publisher) recordFailure() {
	if p.failures != nil {
		p.failures.IncAuditFailures()
	}
}
