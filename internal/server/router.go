package server

import (
	"net/http"
	"time"

	"github.com/fabworks/piecemark/internal/auth/apikey"
	"github.com/fabworks/piecemark/internal/auth/ratelimit"
	"github.com/fabworks/piecemark/pkg/health"
	"github.com/fabworks/piecemark/pkg/metrics"
	pkgmw "github.com/fabworks/piecemark/pkg/middleware"
)

// RouterConfig controls the optional parts of the middleware chain.
type RouterConfig struct {
	// AuthEnabled mounts the API key and rate-limit middleware. Disable for
	// local development only.
	AuthEnabled bool
	// RequestTimeout bounds handler execution; zero disables the timeout
	// middleware.
	RequestTimeout time.Duration
}

// NewRouter builds the full catalog HTTP handler with all routes and
// middleware.
//
// Route table:
//
//	GET    /health                    → liveness (unauthenticated)
//	GET    /health/live               → liveness probe
//	GET    /health/ready              → readiness probe (runs dependency checks)
//	GET    /api/v1/search             → parse + execute a catalog search
//	GET    /api/v1/search/validate    → validate a query without executing it
//	GET    /api/v1/components         → list components
//	POST   /api/v1/components         → create component
//	POST   /api/v1/components/batch   → create components transactionally
//	GET    /api/v1/components/export  → stream CSV export
//	GET    /api/v1/components/{id}    → fetch component
//	PUT    /api/v1/components/{id}    → replace component
//	DELETE /api/v1/components/{id}    → delete component
//	GET    /api/v1/audit/stats        → audit service (proxy)
//	GET    /api/v1/cache/stats        → cache hit/miss counters
//	POST   /api/v1/cache/invalidate   → flush cached search pages
//	POST   /api/v1/admin/keys         → create API key
//	GET    /api/v1/admin/keys         → list API keys
//	POST   /api/v1/admin/keys/revoke  → revoke API key
//
// Middleware chain (outermost first):
//
//	RequestID → Metrics → CORS → Auth → RateLimit → Timeout → handler
func NewRouter(h *Handler, checker *health.Checker, validator *apikey.Validator, limiter *ratelimit.Limiter, m *metrics.Metrics, cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	// Health (unauthenticated)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	// Search API
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/search/validate", h.ValidateQuery)

	// Component API
	mux.HandleFunc("GET /api/v1/components", h.ListComponents)
	mux.HandleFunc("POST /api/v1/components", h.CreateComponent)
	mux.HandleFunc("POST /api/v1/components/batch", h.CreateComponentBatch)
	mux.HandleFunc("GET /api/v1/components/export", h.ExportComponents)
	mux.HandleFunc("GET /api/v1/components/{id}", h.GetComponent)
	mux.HandleFunc("PUT /api/v1/components/{id}", h.UpdateComponent)
	mux.HandleFunc("DELETE /api/v1/components/{id}", h.DeleteComponent)

	// Audit API
	mux.HandleFunc("GET /api/v1/audit/stats", h.AuditStats)

	// Cache API
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)

	// Admin API
	mux.HandleFunc("POST /api/v1/admin/keys", h.CreateAPIKey)
	mux.HandleFunc("GET /api/v1/admin/keys", h.ListAPIKeys)
	mux.HandleFunc("POST /api/v1/admin/keys/revoke", h.RevokeAPIKey)

	// Middleware chain, applied inside-out.
	var chain http.Handler = mux
	if cfg.RequestTimeout > 0 {
		chain = pkgmw.Timeout(cfg.RequestTimeout)(chain)
	}
	if cfg.AuthEnabled {
		chain = RateLimit(limiter)(chain)
		chain = Auth(validator)(chain)
	}
	chain = CORS(DefaultCORSConfig())(chain)
	if m != nil {
		chain = pkgmw.Metrics(m)(chain)
	}
	chain = pkgmw.RequestID(chain)

	return chain
}
