// Package server implements the catalog's HTTP API: search, component CRUD,
// CSV export, cache administration, API key management, and a proxy to the
// audit service. Handlers translate transport concerns (query parameters,
// status codes) into search and catalog calls.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/fabworks/piecemark/internal/audit"
	"github.com/fabworks/piecemark/internal/auth/apikey"
	"github.com/fabworks/piecemark/internal/catalog"
	"github.com/fabworks/piecemark/internal/search"
	"github.com/fabworks/piecemark/pkg/kafka"
	"github.com/fabworks/piecemark/pkg/logger"
	"github.com/fabworks/piecemark/pkg/metrics"
)

// Deps bundles the handler's collaborators. Cache, Auditor, Invalidations,
// and Metrics may each be nil; the corresponding endpoint or side effect
// degrades gracefully. AuditURL is the base URL of the audit service; when
// empty, audit stats are not proxied.
type Deps struct {
	Search        *search.Service
	Store         *catalog.Store
	Exporter      *catalog.Exporter
	Cache         *search.Cache
	Keys          *apikey.Validator
	Auditor       *audit.Collector
	Invalidations *kafka.Producer
	Metrics       *metrics.Metrics
	AuditURL      string
}

// Handler implements the catalog's HTTP endpoints.
type Handler struct {
	search        *search.Service
	store         *catalog.Store
	exporter      *catalog.Exporter
	cache         *search.Cache
	keys          *apikey.Validator
	auditor       *audit.Collector
	invalidations *kafka.Producer
	metrics       *metrics.Metrics
	auditProxy    *httputil.ReverseProxy
	logger        *slog.Logger
}

// New creates the catalog HTTP handler.
func New(deps Deps) *Handler {
	h := &Handler{
		search:        deps.Search,
		store:         deps.Store,
		exporter:      deps.Exporter,
		cache:         deps.Cache,
		keys:          deps.Keys,
		auditor:       deps.Auditor,
		invalidations: deps.Invalidations,
		metrics:       deps.Metrics,
		logger:        slog.Default().With("component", "http-handler"),
	}
	if deps.AuditURL != "" {
		if u, err := url.Parse(deps.AuditURL); err == nil {
			h.auditProxy = httputil.NewSingleHostReverseProxy(u)
		}
	}
	return h
}

// ---------- Search ----------

// Search runs a catalog search.
//
// Query parameters:
//
//	q               search query (required; "*" matches everything)
//	scope           searchable field, repeatable or comma-separated
//	                (piece_mark, component_type, description; default all)
//	category        exact category filter
//	project         exact project filter
//	min_confidence  lower confidence bound (0..1)
//	max_confidence  upper confidence bound (0..1)
//	limit, offset   pagination
//	sort            column to sort by (default: relevance)
//	order           asc | desc
//
// A query that fails validation returns 400 (403 for permission failures)
// with the structured error inside the response's validation field, so the
// UI can render it inline. Execution failures return a top-level error
// object instead.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	req, vr := h.searchRequest(r)
	if vr != nil {
		h.writeRejection(w, vr)
		return
	}

	resp, err := h.search.Search(ctx, *req)
	if err != nil {
		log.Error("search execution failed", "error", err)
		structured := search.ExecutionError()
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			structured = search.TimeoutError()
			status = http.StatusGatewayTimeout
		}
		h.writeJSON(w, status, map[string]any{"error": structured})
		return
	}

	if resp.Validation != nil && resp.Validation.Error != nil {
		h.writeJSON(w, statusForErrorType(resp.Validation.Error.ErrorType), resp)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ValidateQuery reports whether a query would be accepted, without running
// it. The endpoint always answers 200; the outcome is in the body.
func (h *Handler) ValidateQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	scopes, err := parseScopes(q["scope"])
	if err != nil {
		h.writeJSON(w, http.StatusOK, &search.ValidationResult{
			Error: unknownScopeError(err),
		})
		return
	}
	if len(scopes) == 0 {
		scopes = search.AllScopes()
	}
	h.writeJSON(w, http.StatusOK, h.search.Validate(q.Get("q"), scopes))
}

// searchRequest parses the request's query parameters. A non-nil
// ValidationResult means the request was rejected before reaching the
// search service.
func (h *Handler) searchRequest(r *http.Request) (*search.Request, *search.ValidationResult) {
	q := r.URL.Query()
	req := search.Request{
		Query:    q.Get("q"),
		Category: q.Get("category"),
		Project:  q.Get("project"),
		SortBy:   q.Get("sort"),
		SortDesc: strings.EqualFold(q.Get("order"), "desc"),
	}

	scopes, err := parseScopes(q["scope"])
	if err != nil {
		return nil, &search.ValidationResult{Error: unknownScopeError(err)}
	}
	req.Scopes = scopes

	for _, bound := range []struct {
		name string
		dst  **float64
	}{
		{"min_confidence", &req.MinConfidence},
		{"max_confidence", &req.MaxConfidence},
	} {
		value := q.Get(bound.name)
		if value == "" {
			continue
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f < 0 || f > 1 {
			return nil, &search.ValidationResult{
				Error: &search.StructuredError{
					ErrorType: search.ErrorTypeValidation,
					Message:   fmt.Sprintf("%s must be a number between 0 and 1.", bound.name),
					Suggestions: []string{
						"Example: min_confidence=0.8",
					},
				},
			}
		}
		*bound.dst = &f
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			req.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			req.Offset = n
		}
	}

	project, ok := restrictProject(r.Context(), req.Project)
	if !ok {
		return nil, &search.ValidationResult{Error: search.PermissionError()}
	}
	req.Project = project

	return &req, nil
}

// ---------- Cache administration ----------

// CacheStats reports hit/miss counters and the number of cached result pages.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	keys, err := h.cache.KeyCount(r.Context())
	if err != nil {
		h.logger.Warn("cache key count unavailable", "error", err)
		keys = -1
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
		"keys":     keys,
	})
}

// CacheInvalidate drops all cached search result pages.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "invalidated",
		"deleted": deleted,
	})
}

// ---------- Audit ----------

// AuditStats proxies to the audit service's aggregated statistics endpoint.
func (h *Handler) AuditStats(w http.ResponseWriter, r *http.Request) {
	if h.auditProxy == nil {
		h.writeError(w, http.StatusServiceUnavailable, "audit service not configured")
		return
	}
	h.auditProxy.ServeHTTP(w, r)
}

// ---------- Health ----------

// Health returns a plain liveness indicator. Deep dependency checks are
// served by the health checker's /health/live and /health/ready routes.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "catalog"})
}

// ---------- Helpers ----------

// parseScopes accepts repeated scope parameters as well as comma-separated
// lists ("scope=piece_mark&scope=description" or "scope=piece_mark,description").
func parseScopes(raw []string) ([]search.Scope, error) {
	var scopes []search.Scope
	for _, part := range raw {
		for _, name := range strings.Split(part, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			scope, err := search.ParseScope(name)
			if err != nil {
				return nil, err
			}
			scopes = append(scopes, scope)
		}
	}
	return scopes, nil
}

func unknownScopeError(err error) *search.StructuredError {
	return &search.StructuredError{
		ErrorType: search.ErrorTypeValidation,
		Message:   fmt.Sprintf("%s.", capitalize(err.Error())),
		Suggestions: []string{
			"Valid scopes are piece_mark, component_type, and description",
		},
	}
}

// restrictProject forces a project-restricted API key onto the effective
// project filter. ok is false when the request names a different project
// than the key allows.
func restrictProject(ctx context.Context, requested string) (effective string, ok bool) {
	info := GetKeyInfo(ctx)
	if info == nil || info.Project == "" {
		return requested, true
	}
	if requested != "" && requested != info.Project {
		return requested, false
	}
	return info.Project, true
}

func statusForErrorType(t search.ErrorType) int {
	switch t {
	case search.ErrorTypePermission:
		return http.StatusForbidden
	case search.ErrorTypeExecution:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func (h *Handler) writeRejection(w http.ResponseWriter, vr *search.ValidationResult) {
	h.writeJSON(w, statusForErrorType(vr.Error.ErrorType), &search.Response{
		Results:    []catalog.Component{},
		Validation: vr,
	})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
