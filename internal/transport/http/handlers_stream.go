package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"domamart/internal/events"
	"domamart/internal/notify"
	"domamart/pkg/platform/httputil"
	"domamart/pkg/platform/middleware/metadata"
	"domamart/pkg/requestcontext"
)

var errSlowSubscriber = errors.New("subscriber queue full, event dropped")

// notification is the SSE data payload.
type notification struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Domain    string          `json:"domain"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type streamHandler struct {
	hub       Subscriber
	logger    *slog.Logger
	buffer    int
	heartbeat time.Duration
}

func newStreamHandler(hub Subscriber, logger *slog.Logger, buffer int, heartbeat time.Duration) *streamHandler {
	return &streamHandler{hub: hub, logger: logger, buffer: buffer, heartbeat: heartbeat}
}

func (h *streamHandler) Register(r chi.Router) {
	r.Get("/events", h.HandleGlobal)
	r.Get("/domains/{key}/events", h.HandleDomain)
}

// HandleGlobal handles GET /events: every notification for every domain.
func (h *streamHandler) HandleGlobal(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, notify.GlobalKey)
}

// HandleDomain handles GET /domains/{key}/events.
func (h *streamHandler) HandleDomain(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, chi.URLParam(r, "key"))
}

func (h *streamHandler) stream(w http.ResponseWriter, r *http.Request, key string) {
	ctx := r.Context()
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, errors.New("streaming unsupported"))
		return
	}

	queue := make(chan events.Event, h.buffer)
	unsubscribe, err := h.hub.Subscribe(key, func(_ context.Context, evt events.Event) error {
		select {
		case queue <- evt:
			return nil
		default:
			return errSlowSubscriber
		}
	})
	if err != nil {
		if errors.Is(err, notify.ErrClosed) {
			httputil.WriteStatus(w, http.StatusServiceUnavailable, httputil.CodeUnavailable, "shutting down")
			return
		}
		httputil.WriteError(w, httputil.BadRequest("%v", err))
		return
	}
	defer unsubscribe()

	client := metadata.ParseUserAgent(requestcontext.UserAgent(ctx))
	h.logger.InfoContext(ctx, "event stream opened",
		"request_id", requestcontext.RequestID(ctx),
		"domain", key,
		"client_ip", requestcontext.ClientIP(ctx),
		"browser", client.Browser,
		"mobile", client.Mobile,
	)
	defer h.logger.InfoContext(ctx, "event stream closed",
		"request_id", requestcontext.RequestID(ctx),
		"domain", key,
	)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	var heartbeat <-chan time.Time
	if h.heartbeat > 0 {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case evt := <-queue:
			if err := writeEvent(w, evt); err != nil {
				h.logger.WarnContext(ctx, "event stream write failed", "domain", key, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, evt events.Event) error {
	data, err := json.Marshal(notification{
		ID:        evt.ID,
		Type:      evt.Type.String(),
		Domain:    evt.DomainKey(),
		Timestamp: evt.Timestamp,
		Data:      evt.Raw,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.ID, evt.Type, data)
	return err
}
