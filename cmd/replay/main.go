// Command replay rewinds the upstream feed cursor so the sync loop reprocesses
// events after the given id, and records that id as the sync checkpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"domamart/internal/checkpoint"
	"domamart/internal/feed"
	"domamart/internal/platform/config"
	"domamart/internal/platform/logger"
	"domamart/internal/platform/postgres"
	"domamart/internal/projection"
	"domamart/internal/syncer"
)

func main() {
	eventID := flag.Int64("event-id", 0, "event id to rewind the feed cursor to (required)")
	flag.Parse()

	if err := run(*eventID); err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(1)
	}
}

func run(eventID int64) error {
	if eventID <= 0 {
		return errors.New("-event-id must be a positive event id")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var checkpoints checkpoint.Store = checkpoint.NewMemoryStore()
	if cfg.Database.DSN != "" {
		db, err := postgres.Open(ctx, postgres.Config{DSN: cfg.Database.DSN, MaxOpenConns: 2})
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		checkpoints = checkpoint.NewPostgresStore(db)
	} else {
		log.Warn("no database configured; only the feed cursor is reset")
	}

	feedClient, err := feed.New(cfg.Feed.BaseURL,
		feed.WithAPIKey(cfg.Feed.APIKey),
		feed.WithTimeout(cfg.Feed.Timeout),
		feed.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("create feed client: %w", err)
	}

	// The projection is never written by a reset.
	svc, err := syncer.New(feedClient, projection.NewMemoryStore(), checkpoints, syncer.WithLogger(log))
	if err != nil {
		return err
	}
	if err := svc.ResetPollingToEvent(ctx, eventID); err != nil {
		return err
	}
	log.Info("feed cursor reset", "event_id", eventID)
	return nil
}
