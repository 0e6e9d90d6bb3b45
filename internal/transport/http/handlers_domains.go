package httptransport

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"domamart/pkg/platform/httputil"
	"domamart/pkg/platform/sentinel"
	"domamart/pkg/requestcontext"
)

type domainHandler struct {
	domains DomainReader
	logger  *slog.Logger
}

func newDomainHandler(domains DomainReader, logger *slog.Logger) *domainHandler {
	return &domainHandler{domains: domains, logger: logger}
}

func (h *domainHandler) Register(r chi.Router) {
	r.Get("/domains/{tokenId}", h.HandleGet)
}

// HandleGet handles GET /domains/{tokenId}. Names work as well for domains
// seen only before tokenization.
func (h *domainHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := chi.URLParam(r, "tokenId")

	domain, err := h.domains.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			h.logger.ErrorContext(ctx, "domain read failed",
				"request_id", requestcontext.RequestID(ctx),
				"domain", key,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, domain)
}
