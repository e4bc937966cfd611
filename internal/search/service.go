// Package search parses catalog queries into SQL predicates and runs them.
// It layers scope handling, result caching, per-scope counts, and audit
// tracking on top of the query parser and the catalog store.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"golang.org/x/sync/errgroup"

	"github.com/fabworks/piecemark/internal/audit"
	"github.com/fabworks/piecemark/internal/catalog"
	"github.com/fabworks/piecemark/internal/query"
	"github.com/fabworks/piecemark/pkg/config"
	"github.com/fabworks/piecemark/pkg/metrics"
	"github.com/fabworks/piecemark/pkg/middleware"
	"github.com/fabworks/piecemark/pkg/resilience"
	"github.com/fabworks/piecemark/pkg/tracing"
)

// Request describes one search call. Scopes selects which fields the query
// text matches against; the remaining filter fields narrow by exact value or
// range and never pass through the query parser.
type Request struct {
	Query         string
	Scopes        []Scope
	Category      string
	Project       string
	MinConfidence *float64
	MaxConfidence *float64
	Limit         int
	Offset        int
	SortBy        string
	SortDesc      bool
}

// ResultPage is the cacheable portion of a search response.
type ResultPage struct {
	Components  []catalog.Component `json:"components"`
	Total       int64               `json:"total"`
	ScopeCounts map[Scope]int64     `json:"scope_counts,omitempty"`
}

// Response is the full outcome of a search, including validation detail the
// UI uses for inline feedback.
type Response struct {
	Results     []catalog.Component `json:"results"`
	Total       int64               `json:"total"`
	ScopeCounts map[Scope]int64     `json:"scope_counts,omitempty"`
	Validation  *ValidationResult   `json:"validation"`
	FromCache   bool                `json:"from_cache"`
	TookMs      int64               `json:"took_ms"`
}

// Store is the catalog persistence surface the search service needs.
type Store interface {
	SearchComponents(ctx context.Context, q catalog.SearchQuery) ([]catalog.Component, error)
	CountComponents(ctx context.Context, filter sq.Sqlizer, f catalog.Filters) (int64, error)
}

// Service orchestrates query validation, filter compilation, execution, and
// caching. Cache, auditor, and metrics may each be nil; the service degrades
// to direct execution without them.
type Service struct {
	store   Store
	cache   *Cache
	auditor *audit.Collector
	metrics *metrics.Metrics
	breaker *resilience.CircuitBreaker
	cfg     config.SearchConfig
	logger  *slog.Logger
}

func NewService(store Store, cache *Cache, auditor *audit.Collector, m *metrics.Metrics, cfg config.SearchConfig) *Service {
	breaker := resilience.NewCircuitBreaker("scope-counts", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     15 * time.Second,
	})
	if m != nil {
		breaker.OnStateChange(func(name string, state resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
		})
	}
	return &Service{
		store:   store,
		cache:   cache,
		auditor: auditor,
		metrics: m,
		breaker: breaker,
		cfg:     cfg,
		logger:  slog.Default().With("component", "search-service"),
	}
}

// Validate checks a raw query against the given scopes without executing it.
func (s *Service) Validate(rawQuery string, scopes []Scope) *ValidationResult {
	result := ValidateQuery(rawQuery, scopes)
	if result.Error != nil && s.metrics != nil {
		s.metrics.ValidationFailuresTotal.WithLabelValues(string(result.Error.ErrorType)).Inc()
	}
	return result
}

// Search validates, compiles, and executes one search request. A request
// that fails validation returns a Response carrying the structured error and
// a nil error; only execution failures return a non-nil error.
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	ctx, span := tracing.StartChildSpan(ctx, "search")
	defer span.End()

	if len(req.Scopes) == 0 {
		req.Scopes = AllScopes()
	}
	req = s.clampPagination(req)

	vr := s.validateRequest(req)
	if vr.Error != nil {
		return s.rejected(ctx, req, vr, start), nil
	}
	span.SetAttr("query_type", vr.QueryType)
	span.SetAttr("complexity", vr.ComplexityScore)
	if s.metrics != nil {
		s.metrics.QueryComplexity.Observe(float64(vr.ComplexityScore))
	}

	// "*" alone means match everything; no text predicate is compiled and
	// the store query runs with field filters only.
	matchAll := strings.TrimSpace(req.Query) == "*"
	pr := query.Parse(req.Query)
	var filter sq.Sqlizer
	if !matchAll {
		var err error
		filter, err = Compile(pr, Columns(req.Scopes))
		if err != nil {
			return nil, fmt.Errorf("compiling query filter: %w", err)
		}
	}

	page, fromCache, err := s.execute(ctx, req, pr, filter, matchAll)
	if err != nil {
		span.SetError(err)
		s.recordOutcome(vr.QueryType, "error", fromCache, 0, start)
		return nil, err
	}

	s.recordOutcome(vr.QueryType, "ok", fromCache, len(page.Components), start)
	s.trackSearch(ctx, req, vr, page, fromCache, start)

	return &Response{
		Results:     page.Components,
		Total:       page.Total,
		ScopeCounts: page.ScopeCounts,
		Validation:  vr,
		FromCache:   fromCache,
		TookMs:      time.Since(start).Milliseconds(),
	}, nil
}

func (s *Service) validateRequest(req Request) *ValidationResult {
	if s.cfg.MaxQueryLength > 0 && len(req.Query) > s.cfg.MaxQueryLength {
		vr := &ValidationResult{
			QueryType:    query.QuerySimple.String(),
			ScopeApplied: req.Scopes,
			Error: &StructuredError{
				ErrorType: ErrorTypeValidation,
				Message:   fmt.Sprintf("Query is too long (maximum %d characters).", s.cfg.MaxQueryLength),
				Suggestions: []string{
					"Shorten the query",
					"Split the search into smaller queries",
				},
			},
		}
		return vr
	}
	return ValidateQuery(req.Query, req.Scopes)
}

func (s *Service) clampPagination(req Request) Request {
	if req.Limit <= 0 {
		req.Limit = s.cfg.DefaultLimit
	}
	if s.cfg.MaxResults > 0 && req.Limit > s.cfg.MaxResults {
		req.Limit = s.cfg.MaxResults
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
	return req
}

func (s *Service) execute(ctx context.Context, req Request, pr *query.ParseResult, filter sq.Sqlizer, matchAll bool) (*ResultPage, bool, error) {
	var (
		page      *ResultPage
		fromCache bool
	)
	err := resilience.WithTimeout(ctx, s.cfg.QueryTimeout, "search-execute", func(ctx context.Context) error {
		compute := func() (*ResultPage, error) {
			return s.runQuery(ctx, req, pr, filter, matchAll)
		}

		var err error
		if s.cache != nil {
			page, fromCache, err = s.cache.GetOrCompute(ctx, req, compute)
		} else {
			page, err = compute()
		}
		return err
	})
	if err != nil {
		return nil, fromCache, err
	}
	return page, fromCache, nil
}

func (s *Service) runQuery(ctx context.Context, req Request, pr *query.ParseResult, filter sq.Sqlizer, matchAll bool) (*ResultPage, error) {
	ctx, span := tracing.StartChildSpan(ctx, "execute-search")
	defer span.End()

	aux := catalog.Filters{
		Category:      req.Category,
		Project:       req.Project,
		MinConfidence: req.MinConfidence,
		MaxConfidence: req.MaxConfidence,
	}

	relevance := ""
	if !matchAll && len(pr.SanitizedTerms) > 0 {
		relevance = escapeLike(strings.Join(pr.SanitizedTerms, " "))
	}

	components, err := s.store.SearchComponents(ctx, catalog.SearchQuery{
		Filter:           filter,
		Filters:          aux,
		Limit:            req.Limit,
		Offset:           req.Offset,
		SortBy:           req.SortBy,
		SortDesc:         req.SortDesc,
		RelevancePattern: relevance,
	})
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("executing search: %w", err)
	}

	total, err := s.store.CountComponents(ctx, filter, aux)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("counting results: %w", err)
	}

	page := &ResultPage{
		Components:  components,
		Total:       total,
		ScopeCounts: s.scopeCounts(ctx, req, pr, aux, matchAll),
	}
	span.SetAttr("results", len(components))
	span.SetAttr("total", total)
	return page, nil
}

// scopeCounts fans out one count per scope so the UI can show how many hits
// each field contributes. Counts are best-effort: on failure the search
// still succeeds, just without the breakdown.
func (s *Service) scopeCounts(ctx context.Context, req Request, pr *query.ParseResult, aux catalog.Filters, matchAll bool) map[Scope]int64 {
	if len(req.Scopes) < 2 {
		return nil
	}
	ctx, span := tracing.StartChildSpan(ctx, "scope-counts")
	defer span.End()

	counts := make(map[Scope]int64, len(req.Scopes))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, scope := range req.Scopes {
		g.Go(func() error {
			var scoped sq.Sqlizer
			if !matchAll {
				var err error
				scoped, err = Compile(pr, []string{scope.Column()})
				if err != nil {
					return err
				}
			}
			var n int64
			err := s.breaker.Execute(func() error {
				var err error
				n, err = s.store.CountComponents(gctx, scoped, aux)
				return err
			})
			if err != nil {
				return err
			}
			mu.Lock()
			counts[scope] = n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.SetError(err)
		s.logger.Warn("scope counts unavailable", "error", err)
		return nil
	}
	return counts
}

func (s *Service) rejected(ctx context.Context, req Request, vr *ValidationResult, start time.Time) *Response {
	if s.metrics != nil {
		s.metrics.ValidationFailuresTotal.WithLabelValues(string(vr.Error.ErrorType)).Inc()
		s.metrics.SearchQueriesTotal.WithLabelValues(vr.QueryType, "rejected").Inc()
	}
	s.track(audit.SearchEvent{
		Type:            audit.EventSearchRejected,
		Query:           vr.SanitizedQuery,
		QueryType:       vr.QueryType,
		ComplexityScore: vr.ComplexityScore,
		Scopes:          scopeNames(req.Scopes),
		ErrorType:       string(vr.Error.ErrorType),
		LatencyMs:       time.Since(start).Milliseconds(),
		RequestID:       middleware.GetRequestID(ctx),
		Timestamp:       time.Now().UTC(),
	})
	s.logger.Info("search rejected",
		"error_type", vr.Error.ErrorType,
		"query_type", vr.QueryType,
	)
	return &Response{
		Results:    []catalog.Component{},
		Validation: vr,
		TookMs:     time.Since(start).Milliseconds(),
	}
}

func (s *Service) trackSearch(ctx context.Context, req Request, vr *ValidationResult, page *ResultPage, fromCache bool, start time.Time) {
	s.track(audit.SearchEvent{
		Type:            audit.EventSearch,
		Query:           vr.SanitizedQuery,
		QueryType:       vr.QueryType,
		ComplexityScore: vr.ComplexityScore,
		Scopes:          scopeNames(req.Scopes),
		Returned:        len(page.Components),
		TotalHits:       page.Total,
		CacheHit:        fromCache,
		LatencyMs:       time.Since(start).Milliseconds(),
		RequestID:       middleware.GetRequestID(ctx),
		Timestamp:       time.Now().UTC(),
	})
}

func (s *Service) track(event any) {
	if s.auditor == nil {
		return
	}
	s.auditor.Track(event)
}

func (s *Service) recordOutcome(queryType, status string, fromCache bool, resultCount int, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.SearchQueriesTotal.WithLabelValues(queryType, status).Inc()
	cacheStatus := "miss"
	if fromCache {
		cacheStatus = "hit"
		s.metrics.CacheHitsTotal.Inc()
	} else {
		s.metrics.CacheMissesTotal.Inc()
	}
	s.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	if status == "ok" {
		s.metrics.SearchResultsCount.Observe(float64(resultCount))
	}
}

func scopeNames(scopes []Scope) []string {
	names := make([]string, len(scopes))
	for i, s := range scopes {
		names[i] = string(s)
	}
	return names
}
