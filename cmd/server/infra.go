package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/twmb/franz-go/pkg/kgo"

	"domamart/internal/checkpoint"
	"domamart/internal/platform/config"
	"domamart/internal/platform/kafka"
	"domamart/internal/platform/metrics"
	"domamart/internal/platform/postgres"
	"domamart/internal/platform/redis"
	"domamart/internal/projection"
	httptransport "domamart/internal/transport/http"
	"domamart/pkg/platform/audit"
	"domamart/pkg/platform/audit/publisher"
	auditkafka "domamart/pkg/platform/audit/store/kafka"
	auditmemory "domamart/pkg/platform/audit/store/memory"
	auditpostgres "domamart/pkg/platform/audit/store/postgres"
)

const auditBuffer = 1024

// infra holds the backing services. Each is optional: without a DSN the stores
// live in memory, and Redis and Kafka are skipped when unconfigured.
type infra struct {
	ctx    context.Context
	cancel context.CancelFunc

	db    *sqlx.DB
	redis *redis.Client
	kafka *kgo.Client

	projection  projection.Store
	checkpoints checkpoint.Store
	audit       *publisher.Publisher
}

func openInfra(ctx context.Context, cfg config.Config, log *slog.Logger, m *metrics.Metrics) (_ *infra, err error) {
	in := &infra{}
	in.ctx, in.cancel = context.WithCancel(context.Background())
	defer func() {
		if err != nil {
			in.Close()
		}
	}()

	var sinks audit.Multi
	if cfg.Database.DSN != "" {
		in.db, err = postgres.Open(ctx, postgres.Config{
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if cfg.Database.Migrate {
			if err = postgres.Migrate(ctx, in.db); err != nil {
				return nil, fmt.Errorf("migrate database: %w", err)
			}
		}
		in.projection = projection.NewPostgresStore(in.db)
		in.checkpoints = checkpoint.NewPostgresStore(in.db)
		sinks = append(sinks, auditpostgres.New(in.db))
		log.Info("using postgres stores")
	} else {
		in.projection = projection.NewMemoryStore()
		in.checkpoints = checkpoint.NewMemoryStore()
		sinks = append(sinks, auditmemory.NewInMemoryStore())
		log.Warn("no database configured; projection and checkpoint are in memory")
	}

	in.redis, err = redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		in.kafka, err = kafka.NewClient(kafka.Config{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: cfg.Kafka.ClientID,
			Topic:    cfg.Kafka.Topic,
		})
		if err != nil {
			return nil, err
		}
		if cfg.Kafka.EnsureTopic {
			if err = kafka.EnsureTopic(ctx, in.kafka, cfg.Kafka.Topic, int32(cfg.Kafka.Partitions), 1); err != nil {
				return nil, fmt.Errorf("ensure kafka topic: %w", err)
			}
		}
		stream, kerr := auditkafka.New(in.kafka, cfg.Kafka.Topic)
		if kerr != nil {
			return nil, kerr
		}
		sinks = append(sinks, stream)
	}

	in.audit = publisher.NewPublisher(sinks,
		publisher.WithAsyncBuffer(auditBuffer),
		publisher.WithLogger(log),
		publisher.WithFailureRecorder(m),
	)
	return in, nil
}

func (in *infra) healthChecks() map[string]httptransport.HealthCheck {
	checks := map[string]httptransport.HealthCheck{}
	if in.db != nil {
		checks["postgres"] = in.db.PingContext
	}
	if in.redis != nil {
		checks["redis"] = in.redis.Health
	}
	if in.kafka != nil {
		client := in.kafka
		checks["kafka"] = func(ctx context.Context) error { return kafka.Ping(ctx, client) }
	}
	return checks
}

// Close flushes buffered audit events before closing the connections they need.
func (in *infra) Close() {
	in.cancel()
	if in.audit != nil {
		in.audit.Close()
	}
	if in.kafka != nil {
		in.kafka.Close()
	}
	if in.redis != nil {
		_ = in.redis.Close()
	}
	if in.db != nil {
		_ = in.db.Close()
	}
}
