package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/voyagen/streamvault/internal/cache"
	"github.com/voyagen/streamvault/internal/config"
	"github.com/voyagen/streamvault/internal/embedding"
	"github.com/voyagen/streamvault/internal/eventlog"
	"github.com/voyagen/streamvault/internal/fetcher"
	"github.com/voyagen/streamvault/internal/metrics"
	"github.com/voyagen/streamvault/internal/reconcile"
	"github.com/voyagen/streamvault/internal/relay"
	"github.com/voyagen/streamvault/internal/server"
	"github.com/voyagen/streamvault/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Optional config file path (YAML); else use env DATABASE_URL")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Ensure pgvector exists before running migrations.
	if err := store.EnsurePgvector(ctx, cfg.DatabaseURL); err != nil {
		fmt.Fprintf(os.Stderr, "pgvector: %v\n", err)
		os.Exit(1)
	}

	absMigrations, err := filepath.Abs("migrations")
	if err != nil {
		absMigrations = "migrations"
	}
	if _, err := os.Stat(absMigrations); err != nil {
		if exe, e := os.Executable(); e == nil {
			absMigrations = filepath.Join(filepath.Dir(exe), "migrations")
		}
	}
	if err := store.RunMigrations(cfg.DatabaseURL, "file://"+absMigrations); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "db: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	// Connect to Redis if REDIS_URL is configured.
	var rds *cache.Redis
	var appStore store.Store = pg
	if cfg.RedisURL != "" {
		rds, err = cache.New(cfg.RedisURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "redis: %v\n", err)
			os.Exit(1)
		}
		defer rds.Close()
		if err := rds.Ping(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "redis ping: %v\n", err)
			os.Exit(1)
		}
		appStore = store.NewCached(pg, rds)
		logger.Info("redis connected, caching and scan queue enabled")
	} else {
		logger.Info("redis disabled (REDIS_URL not set)")
	}

	events := eventlog.New(appStore, logger)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	catalogFetcher := fetcher.New(cfg.UserAgent, cfg.FetchTimeout)

	// Matcher strategy: embedding-backed when VOYAGE_API_KEY is set,
	// plain name matching otherwise.
	var matcher reconcile.Matcher = reconcile.NameMatcher{}
	var embedder *embedding.Client
	if cfg.VoyageAPIKey != "" {
		embedder = embedding.NewClient(cfg.VoyageAPIKey, cfg.VoyageModel)
		matcher = reconcile.NewEmbeddingMatcher(embedder, appStore, logger)
		logger.Info("embedding matcher enabled (VoyageAI)")
	} else {
		logger.Info("embedding matcher disabled (VOYAGE_API_KEY not set)")
	}

	reconciler := reconcile.New(appStore, catalogFetcher, matcher, events, collector, cfg.MatchThreshold, logger)
	selector := relay.NewSelector(appStore, events, collector, cfg.UserAgent, relay.Config{
		AttemptTimeout: cfg.AttemptTimeout,
		StreamDeadline: cfg.StreamDeadline,
		UpgradeWindow:  cfg.UpgradeWindow,
	}, logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if embedder != nil {
		go func() {
			n, err := reconcile.BackfillChannelEmbeddings(ctx, embedder, appStore, 64)
			if err != nil {
				logger.Warn("embedding backfill", "error", err)
				return
			}
			if n > 0 {
				logger.Info("embedding backfill complete", "channels", n)
			}
		}()
	}

	if rds != nil {
		go runScanWorker(ctx, rds, reconciler, logger)
	}

	srv := server.New(appStore, cfg, reconciler, selector, metrics.Handler(reg), logger)
	if err := srv.ListenAndServe(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

// scanConcurrency bounds simultaneous account passes in the worker.
// Reconciliation is already serialized per account; this only caps fan-out.
const scanConcurrency = 4

// runScanWorker dequeues scan jobs enqueued by external schedulers and runs
// reconciliation passes. It stops when ctx is cancelled.
func runScanWorker(ctx context.Context, rds *cache.Redis, reconciler *reconcile.Reconciler, logger *slog.Logger) {
	logger.Info("scan worker started")
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(scanConcurrency)
	defer func() {
		_ = g.Wait()
		logger.Info("scan worker stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := cache.Dequeue(ctx, rds, cache.DefaultScanQueue, 5*time.Second)
		if err != nil {
			logger.Error("scan worker dequeue", "error", err)
			time.Sleep(2 * time.Second)
			continue
		}
		if job == nil {
			continue // timeout, loop back to check ctx
		}

		accountID := job.AccountID
		g.Go(func() error {
			// Cross-process serialization; in-process serialization is done
			// by the reconciler itself.
			lockKey := fmt.Sprintf("reconcile:account:%d", accountID)
			unlock, err := cache.TryLock(ctx, rds, lockKey, 10*time.Minute)
			if err != nil {
				if err != cache.ErrLocked {
					logger.Error("scan lock", "account_id", accountID, "error", err)
				}
				return nil
			}
			defer unlock()

			summary, err := reconciler.ScanAccount(ctx, accountID)
			if err != nil {
				logger.Error("scan", "account_id", accountID, "error", err)
				return nil
			}
			logger.Info("scan done",
				"account_id", accountID,
				"sources", summary.SourcesScanned,
				"new_matches", summary.NewMatchesCreated,
				"removed", summary.MappingsRemoved)
			return nil
		})
	}
}
