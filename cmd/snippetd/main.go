package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/ingestion/failures"
	ingesthandler "github.com/Adithya-Monish-Kumar-K/snippet-search/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/ingestion/spool"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/searcher/executor"
	searchhandler "github.com/Adithya-Monish-Kumar-K/snippet-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/snippetd.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting snippet service", "port", cfg.Server.Port, "data_dir", cfg.Index.DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := m.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	idx, err := indexer.Open(cfg.Index, indexer.Options{Dedup: cfg.Dedup, Ingest: cfg.Ingest, Metrics: m})
	if err != nil {
		slog.Error("failed to open index", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := idx.Close(); err != nil {
			slog.Error("index close failed", "error", err)
		}
	}()

	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		st := idx.Stats()
		if st.Degraded {
			return health.ComponentHealth{
				Status:  health.StatusDegraded,
				Message: fmt.Sprintf("%d segments quarantined", len(st.Quarantined)),
			}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d live documents in %d sealed segments", st.LiveDocs, len(st.SealedSegments)),
		}
	})

	var queryCache *cache.QueryCache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis, m)
			checker.Register("redis", health.PingCheck(redisClient, false))
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	var db *postgres.Client
	if cfg.Postgres.Enabled {
		db, err = postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, ingest failures will only be logged", "error", err)
			db = nil
		} else {
			defer db.Close()
			checker.Register("postgres", health.PingCheck(db, false))
		}
	}
	failureLog := failures.New(db)
	if err := failureLog.Migrate(ctx); err != nil {
		slog.Error("failure log migration failed", "error", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		idx.Run(ctx)
	}()

	if cfg.Kafka.Enabled {
		handler := consumer.HandleMessage(idx, failureLog, resilience.RetryConfig{})
		kafkaConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.SnippetIngest, handler)
		checker.Register("kafka", health.PingCheck(kafkaConsumer, false))
		indexConsumer := consumer.New(kafkaConsumer)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := indexConsumer.Start(ctx); err != nil {
				slog.Error("consumer error", "error", err)
			}
		}()
		slog.Info("consuming snippet records from kafka",
			"topic", cfg.Kafka.Topics.SnippetIngest,
			"group", cfg.Kafka.ConsumerGroup,
		)
	}

	if cfg.Ingest.SpoolDir != "" {
		watcher := spool.New(cfg.Ingest.SpoolDir, idx, failureLog)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watcher.Run(ctx); err != nil {
				slog.Error("spool watcher error", "error", err)
			}
		}()
	}

	exec := executor.New(idx, cfg.Ranking, cfg.Search)
	sh := searchhandler.New(exec, idx, queryCache, m, cfg.Search)
	ih := ingesthandler.New(idx, failureLog)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/search", sh.Search)
	mux.HandleFunc("GET /api/v1/cache/stats", sh.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", sh.CacheInvalidate)
	mux.HandleFunc("POST /api/v1/snippets", ih.Ingest)
	mux.HandleFunc("DELETE /api/v1/snippets/{id}", ih.Remove)
	mux.HandleFunc("POST /api/v1/index/flush", ih.Flush)
	mux.HandleFunc("POST /api/v1/index/compact", ih.Compact)
	mux.HandleFunc("GET /api/v1/index/stats", ih.Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("snippet service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		stop()
	}

	wg.Wait()
	slog.Info("snippet service stopped")
}
