package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/playperu/questhunt/internal/clock"
	"github.com/playperu/questhunt/internal/config"
	"github.com/playperu/questhunt/internal/database"
	"github.com/playperu/questhunt/internal/docstore"
	"github.com/playperu/questhunt/internal/engine"
	"github.com/playperu/questhunt/internal/messaging"
	"github.com/playperu/questhunt/internal/migrations"
	"github.com/playperu/questhunt/internal/pubsub"
	"github.com/playperu/questhunt/internal/server"
	"github.com/playperu/questhunt/internal/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	shutdownTracing, err := telemetry.Setup(ctx, "questhunt", cfg.OTelEnabled, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	// --- SQLite ---
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := database.Open(ctx, cfg.DBDriver, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to sqlite", "driver", cfg.DBDriver, "path", cfg.DBPath)

	checks := map[string]server.Checker{
		"sqlite": dbChecker{db},
	}

	// --- Change feed ---
	feed := pubsub.NewFeed()
	opts := []docstore.Option{
		docstore.WithClock(clock.System{}),
		docstore.WithLogger(logger),
		docstore.WithRetries(cfg.AtomicRetries),
	}

	var relay *pubsub.RedisRelay
	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		logger.Info("connected to redis")

		relay = pubsub.NewRedisRelay(rdb, feed, logger)
		opts = append(opts, docstore.WithPublisher(relay))
		checks["redis"] = redisChecker{rdb}
	}

	store := docstore.New(db, feed, opts...)

	// --- Game ---
	quests := engine.NewQuestEngine(store, clock.System{}, logger, cfg.CluePrice)
	items := engine.NewItemEngine(store, clock.System{}, logger, cfg.CompassToleranceMeters)
	defer items.Close()

	srv := server.New(cfg.HTTPAddr, logger, &server.Deps{
		Store:        store,
		Feed:         feed,
		Quests:       quests,
		Catalog:      engine.NewCatalog(store, logger),
		Items:        items,
		Tracker:      engine.NewTracker(store, quests, logger),
		Messages:     messaging.New(store, logger),
		Checks:       checks,
		AdminKeyHash: []byte(cfg.AdminKeyHash),
		PollInterval: cfg.LocationPollInterval,
		SPADir:       cfg.SPADir,
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		return srv.Broker().Run(gctx, feed)
	})

	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// dbChecker adapts *sql.DB to server.Checker.
type dbChecker struct{ db *sql.DB }

func (d dbChecker) Check(ctx context.Context) error { return d.db.PingContext(ctx) }

// redisChecker adapts *redis.Client to server.Checker.
type redisChecker struct{ client *redis.Client }

func (r redisChecker) Check(ctx context.Context) error { return r.client.Ping(ctx).Err() }
