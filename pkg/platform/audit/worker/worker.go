package worker

import (
	"context"
	"io"
	"log/slog"

	audit "domamart/pkg/platform/audit"
)

// Worker consumes audit events from a channel and persists them. A failed
// append is reported and skipped; the worker keeps draining.
type Worker struct {
	store   audit.Store
	inbox   <-chan audit.Event
	logger  *slog.Logger
	onError func(audit.Event, error)
}

// Option configures a Worker.
type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithErrorHook is called after each failed append.
func WithErrorHook(fn func(audit.Event, error)) Option {
	return func(w *Worker) { w.onError = fn }
}

func NewWorker(store audit.Store, inbox <-chan audit.Event, opts ...Option) *Worker {
	w := &Worker{
		store:  store,
		inbox:  inbox,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run persists events until the inbox is closed or ctx is cancelled. Closing
// the inbox drains whatever is buffered before Run returns nil.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			w.persist(ctx, event)
		}
	}
}

func (w *Worker) persist(ctx context.Context, event audit.Event) {
	if err := w.store.Append(ctx, event); err != nil {
		w.logger.ErrorContext(ctx, "failed to persist audit event",
			"event_type", event.EventType,
			"token_id", event.TokenID,
			"error", err,
		)
		if w.onError != nil {
			w.onError(event, err)
		}
	}
}
