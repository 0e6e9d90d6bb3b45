package httptransport

import (
	"context"
	"net/http"
	"time"

	"domamart/pkg/platform/httputil"
	"domamart/pkg/requestcontext"
)

type healthHandler struct {
	checks map[string]HealthCheck
}

type healthResponse struct {
	Status    string            `json:"status"`
	CheckedAt time.Time         `json:"checkedAt"`
	Checks    map[string]string `json:"checks,omitempty"`
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:    "ok",
		CheckedAt: requestcontext.Now(r.Context()),
		Checks:    make(map[string]string, len(h.checks)),
	}
	status := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	httputil.WriteJSON(w, status, resp)
}
