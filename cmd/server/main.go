package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"domamart/internal/cache"
	"domamart/internal/events"
	"domamart/internal/feed"
	jwttoken "domamart/internal/jwt_token"
	"domamart/internal/notify"
	"domamart/internal/platform/config"
	"domamart/internal/platform/httpserver"
	"domamart/internal/platform/logger"
	"domamart/internal/platform/metrics"
	"domamart/internal/projection"
	"domamart/internal/syncer"
	httptransport "domamart/internal/transport/http"
)

const shutdownTimeout = 10 * time.Second

// main wires every dependency explicitly and runs the HTTP server, the sync
// loop and the read-cache sweep until SIGINT or SIGTERM.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "domamart: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	if cfg.UsesDevAdminKey() {
		log.Warn("using the built-in development admin key; set SERVER_ADMIN_JWT_KEY")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	backing, err := openInfra(ctx, cfg, log, m)
	if err != nil {
		return err
	}
	defer backing.Close()

	feedClient, err := feed.New(cfg.Feed.BaseURL,
		feed.WithAPIKey(cfg.Feed.APIKey),
		feed.WithTimeout(cfg.Feed.Timeout),
		feed.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("create feed client: %w", err)
	}

	domains, err := newDomainReader(cfg, backing, log, m)
	if err != nil {
		return err
	}

	syncSvc, err := syncer.New(feedClient, backing.projection, backing.checkpoints,
		syncer.WithLogger(log),
		syncer.WithAuditPublisher(backing.audit),
		syncer.WithCacheInvalidator(domains),
		syncer.WithMetrics(m),
		syncer.WithLimit(cfg.Sync.Limit),
	)
	if err != nil {
		return fmt.Errorf("create sync service: %w", err)
	}

	hub, err := notify.New(feedClient,
		notify.WithLogger(log),
		notify.WithMetrics(m),
		notify.WithInterval(cfg.Notify.Interval),
		notify.WithLimit(cfg.Notify.Limit),
	)
	if err != nil {
		return fmt.Errorf("create notification hub: %w", err)
	}
	defer hub.Close()

	router := httptransport.NewRouter(httptransport.Deps{
		Domains:      domains,
		Hub:          hub,
		Sync:         syncSvc,
		Activity:     backing.audit,
		AdminTokens:  jwttoken.NewService(cfg.Server.AdminJWTKey, "domamart"),
		Gatherer:     reg,
		HealthChecks: backing.healthChecks(),
		Logger:       log,
		StreamBuffer: cfg.Notify.SubscriberBuffer,
		Heartbeat:    httptransport.DefaultHeartbeat,
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	if _, err := syncSvc.Resume(ctx); err != nil {
		log.Warn("could not read the sync checkpoint", "error", err)
	}
	if cfg.Sync.Enabled {
		syncSvc.StartPolling(ctx, cfg.Sync.Interval, eventTypes(cfg.Sync.EventTypes))
		defer syncSvc.StopPolling()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting domamart", "addr", cfg.Server.Addr, "sync_enabled", cfg.Sync.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		select {
		case <-syncSvc.StopPolling():
		case <-shutdownCtx.Done():
			log.Warn("sync cycle still running at shutdown")
		}
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newDomainReader puts the TTL cache, and Redis when configured, in front of
// projection reads.
func newDomainReader(cfg config.Config, in *infra, log *slog.Logger, m *metrics.Metrics) (*cache.Loader[*projection.Domain], error) {
	local := cache.New[string, *projection.Domain](
		cache.WithName("domains"),
		cache.WithDefaultTTL(cfg.Cache.TTL),
		cache.WithSweepInterval(cfg.Cache.SweepInterval),
		cache.WithMetrics(m),
	)
	local.Start(in.ctx)

	opts := []cache.LoaderOption{cache.WithLoaderLogger(log)}
	if in.redis != nil {
		opts = append(opts, cache.WithRemote(cache.NewRedisRemote(in.redis), cfg.Cache.RemotePrefix, cfg.Cache.RemoteTTL))
	}
	loader, err := cache.NewLoader(local, in.projection.Get, opts...)
	if err != nil {
		return nil, fmt.Errorf("create domain cache: %w", err)
	}
	return loader, nil
}

func eventTypes(names []string) []events.Type {
	out := make([]events.Type, 0, len(names))
	for _, n := range names {
		out = append(out, events.Type(n))
	}
	return out
}
