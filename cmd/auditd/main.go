// Command auditd starts the audit aggregation service.
//
// It consumes catalog audit events from Kafka, aggregates them in memory
// (search volume, latency percentiles, top queries, zero-result queries,
// rejection reasons), persists periodic snapshots to PostgreSQL, and exposes
// the aggregate at GET /api/v1/audit/stats. The catalog service proxies its
// own /api/v1/audit/stats route here.
//
// Usage:
//
//	go run ./cmd/auditd [-config configs/development.yaml]
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

	"github.com/fabworks/piecemark/internal/audit"
	"github.com/fabworks/piecemark/pkg/config"
	"github.com/fabworks/piecemark/pkg/health"
	"github.com/fabworks/piecemark/pkg/kafka"
	"github.com/fabworks/piecemark/pkg/logger"
	"github.com/fabworks/piecemark/pkg/middleware"
	"github.com/fabworks/piecemark/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting audit service", "port", cfg.Audit.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	aggregator := audit.NewAggregator()
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AuditEvents, audit.HandleEvent(aggregator))

	go func() {
		if err := aggregator.Start(ctx, consumer); err != nil {
			slog.Error("aggregator error", "error", err)
		}
	}()
	slog.Info("audit aggregator started", "topic", cfg.Kafka.Topics.AuditEvents)

	// Snapshot persistence is best-effort: without PostgreSQL the service
	// still aggregates, it just loses history across restarts.
	var snapshots *audit.Store
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, snapshot persistence disabled", "error", err)
	} else {
		defer db.Close()
		snapshots = audit.NewStore(db)
		if err := snapshots.EnsureSchema(ctx); err != nil {
			slog.Error("failed to ensure audit schema", "error", err)
			os.Exit(1)
		}
		snapshots.StartPeriodicSave(ctx, aggregator, cfg.Audit.SnapshotInterval)
	}

	auditHandler := audit.NewHandler(aggregator, snapshots)

	checker := health.NewChecker()
	checker.Register("kafka", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusUp, Message: "consumer active"}
	})
	if db != nil {
		checker.Register("postgres", health.PingCheck(db.Ping))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/audit/stats", auditHandler.Stats)
	mux.HandleFunc("GET /api/v1/audit/snapshots/latest", auditHandler.LatestSnapshot)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Audit.Port),
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

	slog.Info("audit service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("audit service stopped")
}
