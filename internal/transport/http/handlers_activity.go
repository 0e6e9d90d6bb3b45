package httptransport

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"domamart/internal/events"
	"domamart/pkg/platform/audit"
	"domamart/pkg/platform/httputil"
	pkgstrings "domamart/pkg/platform/strings"
	"domamart/pkg/requestcontext"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

type activityResponse struct {
	Events []audit.Event `json:"events"`
}

type activityHandler struct {
	reader ActivityReader
	logger *slog.Logger
}

func newActivityHandler(reader ActivityReader, logger *slog.Logger) *activityHandler {
	return &activityHandler{reader: reader, logger: logger}
}

func (h *activityHandler) Register(r chi.Router) {
	r.Get("/admin/activity", h.HandleRecent)
	r.Get("/admin/activity/{tokenId}", h.HandleToken)
}

// HandleRecent handles GET /admin/activity?types=NAME_LISTED,NAME_PURCHASED&limit=N.
// Types may be given with or without the DOMA_ prefix.
func (h *activityHandler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, httputil.BadRequest("limit must be a positive integer"))
			return
		}
		limit = min(n, maxActivityLimit)
	}

	var types []string
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, t := range pkgstrings.DedupeAndTrimUpper(strings.Split(raw, ",")) {
			if !strings.HasPrefix(t, "DOMA_") {
				t = events.Type(t).AuditName()
			}
			types = append(types, t)
		}
	}

	list, err := h.reader.ListRecent(ctx, types, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "list activity failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, activityResponse{Events: nonNil(list)})
}

// HandleToken handles GET /admin/activity/{tokenId}.
func (h *activityHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tokenID := chi.URLParam(r, "tokenId")
	list, err := h.reader.ListByToken(ctx, tokenID)
	if err != nil {
		h.logger.ErrorContext(ctx, "list token activity failed",
			"request_id", requestcontext.RequestID(ctx),
			"token_id", tokenID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, activityResponse{Events: nonNil(list)})
}

func nonNil(list []audit.Event) []audit.Event {
	if list == nil {
		return []audit.Event{}
	}
	return list
}
