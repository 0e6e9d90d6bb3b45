// Package notify fans a narrow slice of the feed out to live subscribers.
//
// The hub polls only while someone is listening: the first Subscribe starts the
// loop and the last unsubscribe stops it. It keeps its own in-memory high-water
// mark and never touches the projection.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"domamart/internal/events"
	"domamart/internal/feed"
	"domamart/internal/platform/metrics"
	"domamart/internal/scheduler"
)

// GlobalKey subscribes to events for every domain.
const GlobalKey = "*"

const (
	DefaultInterval = 5 * time.Second
	DefaultLimit    = 25
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("notification hub closed")

// Feed is the part of the upstream poll API the hub uses.
type Feed interface {
	Poll(ctx context.Context, req feed.PollRequest) (*feed.PollResult, error)
	Ack(ctx context.Context, eventID int64) (*feed.AckResult, error)
}

// Callback receives one event. Errors and panics are logged and do not affect
// other subscribers.
type Callback func(ctx context.Context, evt events.Event) error

// PollResult summarizes one hub poll.
type PollResult struct {
	Skipped   bool
	Polled    int
	Delivered int
	Acked     int
	AckFailed int
}

type subscription struct {
	id uint64
	cb Callback
}

type Hub struct {
	feed      Feed
	scheduler scheduler.Scheduler
	metrics   *metrics.Metrics
	logger    *slog.Logger
	interval  time.Duration
	limit     int
	types     []events.Type

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	subs     map[string][]subscription
	count    int
	nextID   uint64
	task     scheduler.Task
	closed   bool
	lastSeen *int64

	inFlight atomic.Bool
}

type Option func(*Hub)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithScheduler(s scheduler.Scheduler) Option {
	return func(h *Hub) {
		if s != nil {
			h.scheduler = s
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

func WithInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.interval = d
		}
	}
}

func WithLimit(limit int) Option {
	return func(h *Hub) {
		if limit > 0 {
			h.limit = limit
		}
	}
}

// WithEventTypes overrides the polled types. Defaults to events.NotificationTypes.
func WithEventTypes(types ...events.Type) Option {
	return func(h *Hub) {
		if len(types) > 0 {
			h.types = append([]events.Type(nil), types...)
		}
	}
}

func New(feedClient Feed, opts ...Option) (*Hub, error) {
	if feedClient == nil {
		return nil, errors.New("feed client is required")
	}
	h := &Hub{
		feed:      feedClient,
		scheduler: scheduler.NewTicker(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		interval:  DefaultInterval,
		limit:     DefaultLimit,
		types:     append([]events.Type(nil), events.NotificationTypes...),
		subs:      make(map[string][]subscription),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.baseCtx, h.cancel = context.WithCancel(context.Background())
	return h, nil
}

// Subscribe registers cb for events about key, or for every event when key is
// GlobalKey. The returned func removes this callback only and may be called
// more than once.
func (h *Hub) Subscribe(key string, cb Callback) (func(), error) {
	if key == "" {
		return nil, errors.New("domain key is required")
	}
	if cb == nil {
		return nil, errors.New("callback is required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	h.nextID++
	id := h.nextID
	h.subs[key] = append(h.subs[key], subscription{id: id, cb: cb})
	h.count++
	h.metrics.SetSubscribers(h.count)

	if h.task == nil {
		h.task = h.scheduler.Every(h.baseCtx, h.interval, h.tick)
		h.metrics.SetHubPolling(true)
		h.logger.Info("notification polling started", "interval", h.interval.String())
	}

	var once sync.Once
	return func() { once.Do(func() { h.unsubscribe(key, id) }) }, nil
}

func (h *Hub) unsubscribe(key string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := h.subs[key]
	for i, s := range list {
		if s.id != id {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		h.count--
		break
	}
	if len(list) == 0 {
		delete(h.subs, key)
	} else {
		h.subs[key] = list
	}
	h.metrics.SetSubscribers(h.count)

	if h.count == 0 {
		h.stopLocked()
	}
}

func (h *Hub) stopLocked() {
	if h.task == nil {
		return
	}
	h.task.Stop()
	h.task = nil
	h.metrics.SetHubPolling(false)
	h.logger.Info("notification polling stopped")
}

// Close stops polling and rejects further subscriptions. Polls already running finish.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.stopLocked()
	h.subs = make(map[string][]subscription)
	h.count = 0
	h.metrics.SetSubscribers(0)
	h.cancel()
}

// Polling reports whether the poll loop is scheduled.
func (h *Hub) Polling() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.task != nil
}

// Subscribers returns the number of live callbacks across all keys.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// LastSeen returns the highest event id delivered and acknowledged by the hub.
func (h *Hub) LastSeen() (int64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastSeen == nil {
		return 0, false
	}
	return *h.lastSeen, true
}

func (h *Hub) tick(ctx context.Context) {
	if _, err := h.Poll(ctx); err != nil {
		h.logger.WarnContext(ctx, "notification poll failed", "error", err)
	}
}

// Poll runs one delivery cycle. It does nothing when no one is subscribed or a
// poll is already running.
func (h *Hub) Poll(ctx context.Context) (PollResult, error) {
	if !h.inFlight.CompareAndSwap(false, true) {
		return PollResult{Skipped: true}, nil
	}
	defer h.inFlight.Store(false)

	if h.Subscribers() == 0 {
		return PollResult{Skipped: true}, nil
	}

	var res PollResult
	page, err := h.feed.Poll(ctx, feed.PollRequest{
		EventTypes:    h.types,
		Limit:         h.limit,
		FinalizedOnly: true,
	})
	if err != nil {
		return res, fmt.Errorf("poll feed: %w", err)
	}
	if page == nil || len(page.Events) == 0 {
		return res, nil
	}

	batch := append([]events.Event(nil), page.Events...)
	events.SortByID(batch)
	res.Polled = len(batch)

	for _, evt := range batch {
		if last, ok := h.LastSeen(); ok && evt.ID <= last {
			continue
		}
		res.Delivered += h.deliver(ctx, evt)

		ack, err := h.feed.Ack(ctx, evt.ID)
		if err == nil && (ack == nil || !ack.Success) {
			err = errors.New("ack rejected")
		}
		if err != nil {
			res.AckFailed++
			h.metrics.IncAckFailure(metrics.PipelineNotify)
			h.logger.WarnContext(ctx, "failed to acknowledge notification event",
				"event_id", evt.ID,
				"event_type", evt.Type.String(),
				"error", err,
			)
			continue
		}
		res.Acked++
		h.advance(evt.ID)
	}
	return res, nil
}

func (h *Hub) advance(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastSeen == nil || id > *h.lastSeen {
		h.lastSeen = &id
	}
}

// deliver calls every callback for the event's domain and every global
// callback, outside the registry lock.
func (h *Hub) deliver(ctx context.Context, evt events.Event) int {
	key := evt.DomainKey()

	h.mu.Lock()
	targets := make([]subscription, 0, len(h.subs[key])+len(h.subs[GlobalKey]))
	if key != "" && key != GlobalKey {
		targets = append(targets, h.subs[key]...)
	}
	targets = append(targets, h.subs[GlobalKey]...)
	h.mu.Unlock()

	for _, s := range targets {
		h.metrics.IncDeliveries()
		if err := invoke(ctx, s.cb, evt); err != nil {
			h.metrics.IncCallbackFailures()
			h.logger.ErrorContext(ctx, "notification callback failed",
				"event_id", evt.ID,
				"domain", key,
				"error", err,
			)
		}
	}
	return len(targets)
}

func invoke(ctx context.Context, cb Callback, evt events.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	return cb(ctx, evt)
}
