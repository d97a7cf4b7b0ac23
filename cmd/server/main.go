package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/credo/carbon-engine/internal/api"
	"github.com/credo/carbon-engine/internal/config"
	"github.com/credo/carbon-engine/internal/credit"
	"github.com/credo/carbon-engine/internal/engine"
	"github.com/credo/carbon-engine/internal/feed"
	"github.com/credo/carbon-engine/internal/logging"
	"github.com/credo/carbon-engine/internal/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("CARBON_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logCloser := logging.Setup(cfg.Log)
	defer logCloser.Close()

	if err := run(cfg); err != nil {
		slog.Error("carbon-engine stopped with error", "err", err)
		os.Exit(1)
	}
	fmt.Println("carbon-engine stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// --- Engine ---
	catalog := credit.Default()
	balance, err := cfg.Account.Balance()
	if err != nil {
		return fmt.Errorf("account starting balance: %w", err)
	}
	eng := engine.New(catalog, engine.Options{
		Owner:           cfg.Account.Owner,
		StartingBalance: balance,
		Store:           st,
	})
	if err := eng.Restore(ctx); err != nil {
		return fmt.Errorf("restore engine: %w", err)
	}

	// --- Price feed ---
	var manager *feed.Manager
	if cfg.Feed.Enabled {
		src, err := syntheticSource(cfg.Feed, catalog)
		if err != nil {
			return err
		}
		manager = feed.NewManager(src, catalog.IDs(), cfg.Feed.MaxTicksPerSecond)
		_, ticks := manager.SubscribeLatest(0)
		manager.Start(ctx)
		go func() {
			err := eng.Run(ctx, ticks)
			if ctx.Err() == nil {
				slog.Error("engine tick loop stopped; orders and alerts are no longer evaluated", "err", err)
			}
		}()
		slog.Info("synthetic price feed enabled", "interval", cfg.Feed.Interval.String(), "seed", cfg.Feed.Seed)
	}

	// --- WebSocket hub ---
	hub := api.NewHub()
	hub.Attach(eng)
	go hub.Run(ctx)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewRouter(api.NewService(eng), hub),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("carbon-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down carbon-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	if manager != nil {
		slog.Info("price feed stopped", "throttled_ticks", manager.Dropped(), "skipped_ticks", manager.Skipped())
	}
	return nil
}

// openStore picks PostgreSQL (optionally behind Redis), then SQLite, then
// memory.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch {
	case cfg.Database.URL != "":
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		slog.Info("connected to PostgreSQL")

		if cfg.Redis.URL == "" {
			return pg, nil
		}
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			pg.Close()
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		slog.Info("Redis cache enabled", "ttl", cfg.Redis.TTL.String())
		return store.NewCachedStore(pg, redis.NewClient(opt), cfg.Redis.TTL), nil

	case cfg.Database.SQLitePath != "":
		s, err := store.NewSQLiteStore(cfg.Database.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		slog.Info("using SQLite store", "path", cfg.Database.SQLitePath)
		return s, nil

	default:
		slog.Warn("no database configured, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), nil
	}
}

// syntheticSource starts the random walk at each asset's reference price.
func syntheticSource(cfg config.FeedConfig, catalog *credit.Catalog) (*feed.SyntheticSource, error) {
	vol, err := cfg.VolatilityDecimal()
	if err != nil {
		return nil, fmt.Errorf("feed volatility: %w", err)
	}
	start := make(map[string]decimal.Decimal)
	for _, a := range catalog.List() {
		start[a.ID] = a.Price
	}
	return &feed.SyntheticSource{
		Interval:   cfg.Interval,
		Seed:       cfg.Seed,
		Volatility: vol,
		Start:      start,
	}, nil
}
