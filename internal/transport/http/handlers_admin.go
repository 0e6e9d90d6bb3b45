package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"domamart/internal/events"
	"domamart/pkg/platform/httputil"
	pkgstrings "domamart/pkg/platform/strings"
	"domamart/pkg/requestcontext"
)

type runRequest struct {
	EventTypes []string `json:"eventTypes"`
	Limit      int      `json:"limit"`
}

type resetRequest struct {
	EventID int64 `json:"eventId"`
}

type resetResponse struct {
	EventID int64  `json:"eventId"`
	Status  string `json:"status"`
}

type adminHandler struct {
	sync   SyncService
	logger *slog.Logger
}

func newAdminHandler(sync SyncService, logger *slog.Logger) *adminHandler {
	return &adminHandler{sync: sync, logger: logger}
}

func (h *adminHandler) Register(r chi.Router) {
	r.Post("/admin/sync/run", h.HandleRun)
	r.Post("/admin/sync/reset", h.HandleReset)
	r.Get("/admin/sync/status", h.HandleStatus)
}

// HandleRun handles POST /admin/sync/run. A cycle already in flight yields
// {"skipped": true}.
func (h *adminHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req runRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Limit < 0 {
		httputil.WriteError(w, httputil.BadRequest("limit must not be negative"))
		return
	}

	names := pkgstrings.DedupeAndTrimUpper(req.EventTypes)
	types := make([]events.Type, 0, len(names))
	for _, t := range names {
		types = append(types, events.Type(t))
	}

	res, err := h.sync.ProcessEvents(ctx, types, req.Limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "manual sync cycle failed",
			"request_id", requestcontext.RequestID(ctx),
			"admin", requestcontext.AdminSubject(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "manual sync cycle",
		"request_id", requestcontext.RequestID(ctx),
		"admin", requestcontext.AdminSubject(ctx),
		"skipped", res.Skipped,
		"polled", res.Polled,
	)
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleReset handles POST /admin/sync/reset.
func (h *adminHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req resetRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.EventID <= 0 {
		httputil.WriteError(w, httputil.BadRequest("eventId must be positive"))
		return
	}

	if err := h.sync.ResetPollingToEvent(ctx, req.EventID); err != nil {
		h.logger.ErrorContext(ctx, "feed reset failed",
			"request_id", requestcontext.RequestID(ctx),
			"admin", requestcontext.AdminSubject(ctx),
			"event_id", req.EventID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "feed reset",
		"request_id", requestcontext.RequestID(ctx),
		"admin", requestcontext.AdminSubject(ctx),
		"event_id", req.EventID,
	)
	httputil.WriteJSON(w, http.StatusOK, resetResponse{EventID: req.EventID, Status: "reset"})
}

// HandleStatus handles GET /admin/sync/status.
func (h *adminHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.sync.Status(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}
