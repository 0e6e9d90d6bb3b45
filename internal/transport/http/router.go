// Package httptransport exposes the projection, the live event stream and the
// operator sync controls over HTTP.
package httptransport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"domamart/internal/events"
	"domamart/internal/notify"
	"domamart/internal/projection"
	"domamart/internal/syncer"
	"domamart/pkg/platform/audit"
	"domamart/pkg/platform/middleware/admin"
	"domamart/pkg/platform/middleware/metadata"
	"domamart/pkg/platform/middleware/requesttime"
)

// DomainReader serves projected domain state, usually through the read cache.
type DomainReader interface {
	Get(ctx context.Context, key string) (*projection.Domain, error)
}

// Subscriber registers live event callbacks.
type Subscriber interface {
	Subscribe(key string, cb notify.Callback) (func(), error)
}

// SyncService is the operator surface of the sync loop.
type SyncService interface {
	ProcessEvents(ctx context.Context, eventTypes []events.Type, limit int) (syncer.Result, error)
	ResetPollingToEvent(ctx context.Context, eventID int64) error
	Status(ctx context.Context) (syncer.Status, error)
}

// ActivityReader reads the analytics log back.
type ActivityReader interface {
	ListByToken(ctx context.Context, tokenID string) ([]audit.Event, error)
	ListRecent(ctx context.Context, eventTypes []string, limit int) ([]audit.Event, error)
}

// HealthCheck reports whether a backing service is reachable.
type HealthCheck func(ctx context.Context) error

// Deps are the services the router mounts.
type Deps struct {
	Domains      DomainReader
	Hub          Subscriber
	Sync         SyncService
	Activity     ActivityReader
	AdminTokens  admin.TokenValidator
	Gatherer     prometheus.Gatherer
	HealthChecks map[string]HealthCheck
	Logger       *slog.Logger
	// Clock stamps request time. Nil uses time.Now.
	Clock func() time.Time

	// StreamBuffer is the per-connection queue; events beyond it are dropped.
	StreamBuffer int
	// Heartbeat is the interval of SSE keep-alive comments. Zero disables them.
	Heartbeat time.Duration
}

const (
	defaultStreamBuffer = 32
	// DefaultHeartbeat keeps idle event streams open through proxies.
	DefaultHeartbeat = 15 * time.Second
)

// NewRouter wires every endpoint. Routes whose dependency is nil are not mounted.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.StreamBuffer <= 0 {
		deps.StreamBuffer = defaultStreamBuffer
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware(deps.Clock))

	health := &healthHandler{checks: deps.HealthChecks}
	r.Get("/healthz", health.ServeHTTP)

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	if deps.Domains != nil {
		newDomainHandler(deps.Domains, deps.Logger).Register(r)
	}
	if deps.Hub != nil {
		newStreamHandler(deps.Hub, deps.Logger, deps.StreamBuffer, deps.Heartbeat).Register(r)
	}
	if deps.AdminTokens != nil && (deps.Sync != nil || deps.Activity != nil) {
		r.Group(func(r chi.Router) {
			r.Use(admin.RequireAdmin(deps.AdminTokens, deps.Logger))
			if deps.Sync != nil {
				newAdminHandler(deps.Sync, deps.Logger).Register(r)
			}
			if deps.Activity != nil {
				newActivityHandler(deps.Activity, deps.Logger).Register(r)
			}
		})
	}
	return r
}
