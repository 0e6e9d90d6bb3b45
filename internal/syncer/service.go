// Package syncer keeps the domain projection in step with the upstream feed.
//
// A cycle polls one page of finalized events, applies them in id order,
// records each in the analytics log, acknowledges it and advances the
// checkpoint. At most one cycle runs at a time.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"domamart/internal/checkpoint"
	"domamart/internal/events"
	"domamart/internal/feed"
	"domamart/internal/platform/metrics"
	"domamart/internal/projection"
	"domamart/internal/scheduler"
	"domamart/pkg/platform/sentinel"
)

// DefaultLimit is the page size used when the caller passes none.
const DefaultLimit = 10

var tracer = otel.Tracer("domamart/internal/syncer")

// Result summarizes one cycle.
type Result struct {
	// Skipped is set when another cycle was already running; nothing else happened.
	Skipped    bool   `json:"skipped"`
	Polled     int    `json:"polled"`
	Handled    int    `json:"handled"`
	Failed     int    `json:"failed"`
	Ignored    int    `json:"ignored"`
	Acked      int    `json:"acked"`
	AckFailed  int    `json:"ackFailed"`
	Dropped    int    `json:"dropped"`
	Checkpoint *int64 `json:"checkpoint,omitempty"`
	HasMore    bool   `json:"hasMore"`
}

// Status reports the loop state and the persisted checkpoint.
type Status struct {
	Polling              bool       `json:"polling"`
	InFlight             bool       `json:"inFlight"`
	LastProcessedEventID *int64     `json:"lastProcessedEventId"`
	CheckpointUpdatedAt  *time.Time `json:"checkpointUpdatedAt,omitempty"`
}

type Service struct {
	feed        Feed
	checkpoints checkpoint.Store
	projector   *projector
	audit       AuditPublisher
	invalidator CacheInvalidator
	scheduler   scheduler.Scheduler
	metrics     *metrics.Metrics
	logger      *slog.Logger
	limit       int
	clock       func() time.Time

	inFlight atomic.Bool

	taskMu sync.Mutex
	task   scheduler.Task
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.audit = publisher
	}
}

// WithCacheInvalidator drops cached domain reads after each successful handler.
func WithCacheInvalidator(inv CacheInvalidator) Option {
	return func(s *Service) {
		s.invalidator = inv
	}
}

func WithScheduler(sched scheduler.Scheduler) Option {
	return func(s *Service) {
		if sched != nil {
			s.scheduler = sched
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLimit sets the page size used by scheduled cycles.
func WithLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

func New(feedClient Feed, store projection.Store, checkpoints checkpoint.Store, opts ...Option) (*Service, error) {
	if feedClient == nil {
		return nil, errors.New("feed client is required")
	}
	if store == nil {
		return nil, errors.New("projection store is required")
	}
	if checkpoints == nil {
		return nil, errors.New("checkpoint store is required")
	}

	svc := &Service{
		feed:        feedClient,
		checkpoints: checkpoints,
		scheduler:   scheduler.NewTicker(),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		limit:       DefaultLimit,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.projector = &projector{store: store, logger: svc.logger}
	return svc, nil
}

// ProcessEvents runs one cycle. A call made while a cycle is in flight returns
// Result{Skipped: true} without contacting the feed. Poll failures abort the
// cycle and are returned; handler, audit, ack and checkpoint failures are
// logged per event and do not stop the batch.
func (s *Service) ProcessEvents(ctx context.Context, eventTypes []events.Type, limit int) (Result, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.InfoContext(ctx, "sync cycle already in flight, skipping")
		s.metrics.ObserveCycle(metrics.OutcomeSkipped, 0)
		return Result{Skipped: true}, nil
	}
	defer s.inFlight.Store(false)

	if limit <= 0 {
		limit = DefaultLimit
	}

	ctx, span := tracer.Start(ctx, "syncer.ProcessEvents",
		trace.WithAttributes(attribute.Int("sync.limit", limit)))
	defer span.End()

	start := s.clock()
	res, err := s.cycle(ctx, eventTypes, limit)
	elapsed := s.clock().Sub(start).Seconds()

	span.SetAttributes(
		attribute.Int("sync.polled", res.Polled),
		attribute.Int("sync.failed", res.Failed),
		attribute.Int("sync.acked", res.Acked),
	)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.ObserveCycle(metrics.OutcomeError, elapsed)
	case res.Polled == 0:
		s.metrics.ObserveCycle(metrics.OutcomeEmpty, elapsed)
	default:
		s.metrics.ObserveCycle(metrics.OutcomeProcessed, elapsed)
	}
	return res, err
}

func (s *Service) cycle(ctx context.Context, eventTypes []events.Type, limit int) (Result, error) {
	var res Result
	page, err := s.feed.Poll(ctx, feed.PollRequest{
		EventTypes:    eventTypes,
		Limit:         limit,
		FinalizedOnly: true,
	})
	if err != nil {
		return res, fmt.Errorf("poll feed: %w", err)
	}
	if page == nil {
		return res, nil
	}
	res.Dropped = page.Dropped
	if len(page.Events) == 0 {
		if page.Dropped > 0 && page.LastID > 0 {
			// Nothing on the page can be acked by its own id; move the cursor past it.
			s.logger.WarnContext(ctx, "page held only events without ids",
				"dropped", page.Dropped,
				"last_id", page.LastID,
			)
			s.acknowledge(ctx, events.Event{ID: page.LastID}, &res)
		}
		return res, nil
	}

	batch := append([]events.Event(nil), page.Events...)
	events.SortByID(batch)
	res.Polled = len(batch)
	res.HasMore = page.HasMoreEvents

	for _, evt := range batch {
		s.apply(ctx, evt, &res)
		s.acknowledge(ctx, evt, &res)
	}

	s.logger.InfoContext(ctx, "sync cycle complete",
		"polled", res.Polled,
		"handled", res.Handled,
		"failed", res.Failed,
		"ignored", res.Ignored,
		"ack_failed", res.AckFailed,
		"dropped", res.Dropped,
	)
	return res, nil
}

// apply runs the handler for evt and records it in the analytics log.
func (s *Service) apply(ctx context.Context, evt events.Event, res *Result) {
	if !evt.Type.IsKnown() {
		_ = s.dispatch(ctx, evt)
		res.Ignored++
		s.metrics.ObserveEvent(evt.Type.String(), metrics.ResultIgnored)
		if evt.Err != nil {
			s.logger.WarnContext(ctx, "undecodable event ignored", "event_id", evt.ID, "error", evt.Err)
		}
		s.record(ctx, evt)
		return
	}

	if err := s.dispatch(ctx, evt); err != nil {
		res.Failed++
		s.metrics.ObserveEvent(evt.Type.String(), metrics.ResultFailed)
		s.logger.ErrorContext(ctx, "event handler failed",
			"event_id", evt.ID,
			"event_type", evt.Type.String(),
			"domain", evt.DomainKey(),
			"error", err,
		)
	} else {
		res.Handled++
		s.metrics.ObserveEvent(evt.Type.String(), metrics.ResultHandled)
		s.invalidateDomain(ctx, evt)
	}

	s.record(ctx, evt)
}

// record appends evt to the analytics log. Events without a type are skipped.
func (s *Service) record(ctx context.Context, evt events.Event) {
	if s.audit == nil || evt.Type == "" {
		return
	}
	if err := s.audit.Emit(ctx, auditEvent(evt)); err != nil {
		s.logger.WarnContext(ctx, "failed to record analytics event",
			"event_id", evt.ID,
			"event_type", evt.Type.String(),
			"error", err,
		)
	}
}

func (s *Service) dispatch(ctx context.Context, evt events.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return events.Dispatch(ctx, s.projector, evt)
}

// invalidateDomain drops the cached reads evt may have changed. A name-only
// event can land on a tokenized row, so that row's key is dropped too.
func (s *Service) invalidateDomain(ctx context.Context, evt events.Event) {
	key := evt.DomainKey()
	s.invalidate(ctx, key)
	if s.invalidator == nil || evt.TokenID() != "" || key == "" {
		return
	}
	d, err := s.projector.store.Get(ctx, key)
	if err != nil {
		return
	}
	if d.Key != key {
		s.invalidate(ctx, d.Key)
	}
}

func (s *Service) invalidate(ctx context.Context, key string) {
	if s.invalidator == nil || key == "" {
		return
	}
	if err := s.invalidator.Invalidate(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate cached domain", "domain", key, "error", err)
	}
}

// acknowledge acks evt and, only when the feed confirms, saves it as the checkpoint.
func (s *Service) acknowledge(ctx context.Context, evt events.Event, res *Result) {
	ack, err := s.feed.Ack(ctx, evt.ID)
	if err == nil && (ack == nil || !ack.Success) {
		msg := ""
		if ack != nil {
			msg = ack.Message
		}
		err = fmt.Errorf("ack rejected: %s", msg)
	}
	if err != nil {
		res.AckFailed++
		s.metrics.IncAckFailure(metrics.PipelineSync)
		s.logger.ErrorContext(ctx, "failed to acknowledge event",
			"event_id", evt.ID,
			"event_type", evt.Type.String(),
			"error", err,
		)
		return
	}
	res.Acked++

	if err := s.checkpoints.Save(ctx, evt.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to save checkpoint", "event_id", evt.ID, "error", err)
		return
	}
	id := evt.ID
	res.Checkpoint = &id
	s.metrics.SetCheckpoint(id)
}

// StartPolling runs a cycle every interval until StopPolling or ctx is done.
// It reports false when polling was already active.
func (s *Service) StartPolling(ctx context.Context, interval time.Duration, eventTypes []events.Type) bool {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	if s.task != nil {
		return false
	}
	types := append([]events.Type(nil), eventTypes...)
	s.task = s.scheduler.Every(ctx, interval, func(ctx context.Context) {
		if _, err := s.ProcessEvents(ctx, types, s.limit); err != nil {
			s.logger.ErrorContext(ctx, "sync cycle failed", "error", err)
		}
	})
	s.logger.InfoContext(ctx, "sync polling started", "interval", interval.String())
	return true
}

// StopPolling cancels future cycles. A cycle already running finishes; the
// returned channel is closed once it has.
func (s *Service) StopPolling() <-chan struct{} {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	if s.task == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	task := s.task
	task.Stop()
	s.task = nil
	s.logger.Info("sync polling stopped")
	return task.Done()
}

// ResetPollingToEvent rewinds the feed cursor to eventID and records it as the
// checkpoint.
func (s *Service) ResetPollingToEvent(ctx context.Context, eventID int64) error {
	res, err := s.feed.Reset(ctx, eventID)
	if err != nil {
		return fmt.Errorf("reset feed cursor: %w", err)
	}
	if res != nil && !res.Success {
		return fmt.Errorf("reset feed cursor: %w: %s", sentinel.ErrConflict, res.Message)
	}
	if err := s.checkpoints.Save(ctx, eventID); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	s.metrics.SetCheckpoint(eventID)
	s.logger.InfoContext(ctx, "feed cursor reset", "event_id", eventID)
	return nil
}

// Resume reads the persisted checkpoint, logs it and publishes it as the
// checkpoint gauge. The feed keeps its own cursor, so the value is reported
// rather than sent. It returns nil when nothing has been saved yet.
func (s *Service) Resume(ctx context.Context) (*int64, error) {
	cp, err := s.checkpoints.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if !cp.Has() {
		s.logger.InfoContext(ctx, "no checkpoint saved; the feed cursor decides where sync starts")
		return nil, nil
	}
	id := *cp.LastProcessedEventID
	s.metrics.SetCheckpoint(id)
	s.logger.InfoContext(ctx, "resuming from checkpoint",
		"last_processed_event_id", id,
		"checkpoint_updated_at", cp.UpdatedAt,
	)
	return &id, nil
}

func (s *Service) Status(ctx context.Context) (Status, error) {
	s.taskMu.Lock()
	polling := s.task != nil
	s.taskMu.Unlock()

	st := Status{Polling: polling, InFlight: s.inFlight.Load()}
	cp, err := s.checkpoints.Load(ctx)
	if err != nil {
		return st, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp.Has() {
		st.LastProcessedEventID = cp.LastProcessedEventID
		updated := cp.UpdatedAt
		st.CheckpointUpdatedAt = &updated
	}
	return st, nil
}
