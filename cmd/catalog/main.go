// Command catalog starts the component catalog API server.
//
// The server exposes search, component CRUD, CSV export, cache
// administration, and API key management over HTTP, backed by PostgreSQL.
// Search results are cached in Redis and usage is streamed to Kafka for the
// audit service. An internal JSON-over-TCP RPC surface serves catalogctl.
//
// Usage:
//
//	go run ./cmd/catalog [-config configs/development.yaml]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/fabworks/piecemark/internal/audit"
	"github.com/fabworks/piecemark/internal/auth/apikey"
	"github.com/fabworks/piecemark/internal/auth/ratelimit"
	"github.com/fabworks/piecemark/internal/catalog"
	"github.com/fabworks/piecemark/internal/search"
	"github.com/fabworks/piecemark/internal/server"
	"github.com/fabworks/piecemark/pkg/config"
	"github.com/fabworks/piecemark/pkg/grpc"
	"github.com/fabworks/piecemark/pkg/health"
	"github.com/fabworks/piecemark/pkg/kafka"
	"github.com/fabworks/piecemark/pkg/logger"
	"github.com/fabworks/piecemark/pkg/metrics"
	"github.com/fabworks/piecemark/pkg/postgres"
	"github.com/fabworks/piecemark/pkg/proto"
	pkgredis "github.com/fabworks/piecemark/pkg/redis"
)

const version = "1.2.0"

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting catalog service", "port", cfg.Server.Port, "auth", cfg.Auth.Enabled)

	m := metrics.New()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to postgres", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := catalog.NewStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		slog.Error("failed to ensure catalog schema", "error", err)
		os.Exit(1)
	}
	validator := apikey.NewValidator(db)
	if err := validator.EnsureSchema(ctx); err != nil {
		slog.Error("failed to ensure api key schema", "error", err)
		os.Exit(1)
	}

	var queryCache *search.Cache
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, search caching disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
		queryCache = search.NewCache(redisClient, cfg.Redis)
		slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	// Audit event stream.
	auditProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AuditEvents)
	defer auditProducer.Close()
	collector := audit.NewCollector(auditProducer, m,
		cfg.Audit.BufferSize, cfg.Audit.BatchSize, cfg.Audit.FlushInterval)
	collector.Start(ctx)
	defer collector.Close()
	slog.Info("audit collector started", "topic", cfg.Kafka.Topics.AuditEvents)

	// Cache invalidation broadcasts. Every instance consumes under its own
	// group ID so a flush reaches all of them, not just one group member.
	invalidations := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CacheInvalidate)
	defer invalidations.Close()
	if queryCache != nil {
		consumerCfg := cfg.Kafka
		consumerCfg.ConsumerGroup = cfg.Kafka.ConsumerGroup + "-invalidate-" + uuid.NewString()[:8]
		invalidateConsumer := kafka.NewConsumer(consumerCfg, cfg.Kafka.Topics.CacheInvalidate,
			func(ctx context.Context, key, value []byte) error {
				msg, err := kafka.DecodeJSON[search.InvalidationMessage](value)
				if err != nil {
					return err
				}
				deleted, err := queryCache.Invalidate(ctx)
				if err != nil {
					return err
				}
				slog.Debug("cache invalidated", "reason", msg.Reason, "deleted", deleted)
				return nil
			})
		go func() {
			if err := invalidateConsumer.Start(ctx); err != nil {
				slog.Error("cache invalidation consumer stopped", "error", err)
			}
		}()
	}

	svc := search.NewService(store, queryCache, collector, m, cfg.Search)
	exporter := catalog.NewExporter(store)
	limiter := ratelimit.New(cfg.Auth.RateWindow)
	defer limiter.Stop()

	h := server.New(server.Deps{
		Search:        svc,
		Store:         store,
		Exporter:      exporter,
		Cache:         queryCache,
		Keys:          validator,
		Auditor:       collector,
		Invalidations: invalidations,
		Metrics:       m,
		AuditURL:      cfg.Audit.URL,
	})

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping))
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	chain := server.NewRouter(h, checker, validator, limiter, m, server.RouterConfig{
		AuthEnabled:    cfg.Auth.Enabled,
		RequestTimeout: cfg.Server.WriteTimeout,
	})

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
		slog.Info("metrics server started", "port", cfg.Metrics.Port)
	}

	if cfg.Admin.Enabled {
		rpc := grpc.NewServer()
		registerAdminRPC(rpc, store, svc, queryCache, redisClient, cfg.Audit.URL)
		go func() {
			if err := rpc.Serve(fmt.Sprintf(":%d", cfg.Admin.Port)); err != nil {
				slog.Error("admin rpc server error", "error", err)
			}
		}()
		defer rpc.Stop()
		slog.Info("admin rpc listening", "port", cfg.Admin.Port)
	}

	httpServer := &http.Server{
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
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("catalog service listening", "addr", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("catalog service stopped")
}

// registerAdminRPC wires the internal admin surface that catalogctl drives.
func registerAdminRPC(rpc *grpc.Server, store *catalog.Store, svc *search.Service, queryCache *search.Cache, redisClient *pkgredis.Client, auditURL string) {
	start := time.Now()

	rpc.Register("Admin.Ping", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return &proto.PingResponse{
			Service:   "catalog",
			Version:   version,
			UptimeSec: int64(time.Since(start).Seconds()),
		}, nil
	})

	rpc.Register("Admin.CatalogStats", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.CatalogStatsRequest
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &req); err != nil {
				return nil, fmt.Errorf("decoding request: %w", err)
			}
		}
		total, err := store.CountComponents(ctx, nil, catalog.Filters{})
		if err != nil {
			return nil, err
		}
		byType, err := store.CountByType(ctx)
		if err != nil {
			return nil, err
		}
		resp := &proto.CatalogStatsResponse{TotalComponents: total}
		for _, tc := range byType {
			if req.ComponentType != "" && tc.ComponentType != req.ComponentType {
				continue
			}
			resp.ByType = append(resp.ByType, proto.TypeCount{
				ComponentType: tc.ComponentType,
				Count:         tc.Count,
			})
		}
		return resp, nil
	})

	rpc.Register("Admin.CatalogSearch", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.CatalogSearchRequest
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &req); err != nil {
				return nil, fmt.Errorf("decoding request: %w", err)
			}
		}
		result, err := svc.Search(ctx, search.Request{
			Query:   req.Query,
			Project: req.Project,
			Limit:   req.Limit,
		})
		if err != nil {
			return nil, err
		}
		if result.Validation != nil && result.Validation.Error != nil {
			return nil, errors.New(result.Validation.Error.Message)
		}
		resp := &proto.CatalogSearchResponse{
			Total:  result.Total,
			TookMs: result.TookMs,
		}
		if result.Validation != nil {
			resp.QueryType = result.Validation.QueryType
		}
		for _, c := range result.Results {
			resp.Results = append(resp.Results, proto.ComponentSummary{
				PieceMark:     c.PieceMark,
				ComponentType: c.ComponentType,
				Project:       c.Project,
				Description:   c.Description,
			})
		}
		return resp, nil
	})

	rpc.Register("Admin.CacheStats", func(ctx context.Context, _ json.RawMessage) (any, error) {
		if queryCache == nil {
			return nil, errors.New("caching is disabled")
		}
		keys, err := queryCache.KeyCount(ctx)
		if err != nil {
			return nil, err
		}
		return &proto.CacheStatsResponse{Keys: keys, Pattern: "search:*"}, nil
	})

	rpc.Register("Admin.CacheInvalidate", func(ctx context.Context, raw json.RawMessage) (any, error) {
		if queryCache == nil {
			return nil, errors.New("caching is disabled")
		}
		var req proto.CacheInvalidateRequest
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &req); err != nil {
				return nil, fmt.Errorf("decoding request: %w", err)
			}
		}
		if req.Pattern != "" {
			deleted, err := redisClient.FlushByPattern(ctx, req.Pattern)
			if err != nil {
				return nil, err
			}
			return &proto.CacheInvalidateResponse{Deleted: deleted}, nil
		}
		deleted, err := queryCache.Invalidate(ctx)
		if err != nil {
			return nil, err
		}
		return &proto.CacheInvalidateResponse{Deleted: deleted}, nil
	})

	rpc.Register("Admin.AuditSummary", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.AuditSummaryRequest
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &req); err != nil {
				return nil, fmt.Errorf("decoding request: %w", err)
			}
		}
		stats, err := fetchAuditStats(ctx, auditURL)
		if err != nil {
			return nil, err
		}
		resp := &proto.AuditSummaryResponse{
			TotalSearches:  stats.TotalSearches,
			ZeroResultRate: stats.ZeroResultRate,
		}
		top := stats.TopQueries
		if req.TopN > 0 && req.TopN < len(top) {
			top = top[:req.TopN]
		}
		for _, qc := range top {
			resp.TopQueries = append(resp.TopQueries, proto.QueryCount{Query: qc.Query, Count: qc.Count})
		}
		return resp, nil
	})
}

// fetchAuditStats pulls the aggregated usage statistics from the audit
// service over HTTP.
func fetchAuditStats(ctx context.Context, auditURL string) (*audit.AggregatedStats, error) {
	if auditURL == "" {
		return nil, errors.New("audit service not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, auditURL+"/api/v1/audit/stats", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying audit service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("audit service answered %d", resp.StatusCode)
	}
	var stats audit.AggregatedStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("decoding audit stats: %w", err)
	}
	return &stats, nil
}
