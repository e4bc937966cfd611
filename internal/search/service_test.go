package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/fabworks/piecemark/internal/catalog"
	"github.com/fabworks/piecemark/pkg/config"
)

type fakeStore struct {
	mu          sync.Mutex
	searchCalls []catalog.SearchQuery
	countCalls  int
	components  []catalog.Component
	total       int64
	searchErr   error
	countErr    error

	// countErrAfter delays countErr until this many count calls have
	// succeeded. Zero fails immediately.
	countErrAfter int
}

func (f *fakeStore) SearchComponents(ctx context.Context, q catalog.SearchQuery) ([]catalog.Component, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls = append(f.searchCalls, q)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.components, nil
}

func (f *fakeStore) CountComponents(ctx context.Context, filter sq.Sqlizer, ff catalog.Filters) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countCalls++
	if f.countErr != nil && f.countCalls > f.countErrAfter {
		return 0, f.countErr
	}
	return f.total, nil
}

func testSearchConfig() config.SearchConfig {
	return config.SearchConfig{
		MaxResults:     50,
		DefaultLimit:   10,
		MaxQueryLength: 64,
		QueryTimeout:   time.Second,
	}
}

func newTestService(store *fakeStore) *Service {
	return NewService(store, nil, nil, nil, testSearchConfig())
}

func TestServiceSearchSimple(t *testing.T) {
	store := &fakeStore{
		components: []catalog.Component{
			{PieceMark: "C63", ComponentType: "column"},
		},
		total: 1,
	}
	svc := newTestService(store)

	resp, err := svc.Search(context.Background(), Request{
		Query:  "C63",
		Scopes: []Scope{ScopePieceMark},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Validation.IsValid {
		t.Fatalf("expected valid query, got %+v", resp.Validation.Error)
	}
	if resp.Total != 1 || len(resp.Results) != 1 {
		t.Errorf("expected one result, got total=%d results=%d", resp.Total, len(resp.Results))
	}
	if resp.FromCache {
		t.Error("expected uncached result without a cache configured")
	}

	if len(store.searchCalls) != 1 {
		t.Fatalf("expected one store search, got %d", len(store.searchCalls))
	}
	call := store.searchCalls[0]
	if call.Filter == nil {
		t.Error("expected a compiled text filter")
	}
	if call.Limit != 10 {
		t.Errorf("expected default limit 10, got %d", call.Limit)
	}
	if call.RelevancePattern != "C63" {
		t.Errorf("expected relevance pattern %q, got %q", "C63", call.RelevancePattern)
	}
	// Single scope, so only the total count runs.
	if store.countCalls != 1 {
		t.Errorf("expected one count call, got %d", store.countCalls)
	}
}

func TestServiceSearchRejectsSyntaxError(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	resp, err := svc.Search(context.Background(), Request{
		Query:  "beam AND",
		Scopes: AllScopes(),
	})
	if err != nil {
		t.Fatalf("rejection must not be an execution error: %v", err)
	}
	if resp.Validation.IsValid {
		t.Fatal("expected invalid validation result")
	}
	if resp.Validation.Error.ErrorType != ErrorTypeParsing {
		t.Errorf("expected parsing error, got %s", resp.Validation.Error.ErrorType)
	}
	if len(resp.Results) != 0 {
		t.Errorf("expected no results, got %d", len(resp.Results))
	}
	if len(store.searchCalls) != 0 || store.countCalls != 0 {
		t.Error("store must not be touched for a rejected query")
	}
}

func TestServiceSearchRejectsInjection(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	resp, err := svc.Search(context.Background(), Request{
		Query:  "'; DROP TABLE components; --",
		Scopes: AllScopes(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Validation.Error == nil || resp.Validation.Error.ErrorType != ErrorTypeSecurity {
		t.Fatalf("expected security rejection, got %+v", resp.Validation.Error)
	}
	if len(store.searchCalls) != 0 {
		t.Error("store must not be touched for a forbidden query")
	}
}

func TestServiceSearchRejectsOverlongQuery(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	long := make([]byte, 65)
	for i := range long {
		long[i] = 'a'
	}
	resp, err := svc.Search(context.Background(), Request{
		Query:  string(long),
		Scopes: AllScopes(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Validation.Error == nil || resp.Validation.Error.ErrorType != ErrorTypeValidation {
		t.Fatalf("expected validation rejection, got %+v", resp.Validation.Error)
	}
}

func TestServiceSearchMatchAll(t *testing.T) {
	store := &fakeStore{total: 42}
	svc := newTestService(store)

	resp, err := svc.Search(context.Background(), Request{
		Query:  "*",
		Scopes: []Scope{ScopePieceMark},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Total != 42 {
		t.Errorf("expected total 42, got %d", resp.Total)
	}
	call := store.searchCalls[0]
	if call.Filter != nil {
		t.Error("match-all query must not compile a text filter")
	}
	if call.RelevancePattern != "" {
		t.Errorf("match-all query must not set a relevance pattern, got %q", call.RelevancePattern)
	}
}

func TestServiceScopeCounts(t *testing.T) {
	store := &fakeStore{total: 7}
	svc := newTestService(store)

	resp, err := svc.Search(context.Background(), Request{
		Query:  "girder",
		Scopes: AllScopes(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.ScopeCounts) != 3 {
		t.Fatalf("expected counts for 3 scopes, got %d", len(resp.ScopeCounts))
	}
	for _, scope := range AllScopes() {
		if resp.ScopeCounts[scope] != 7 {
			t.Errorf("scope %s: expected count 7, got %d", scope, resp.ScopeCounts[scope])
		}
	}
	// One total count plus one per scope.
	if store.countCalls != 4 {
		t.Errorf("expected 4 count calls, got %d", store.countCalls)
	}
}

// Scope counts are best-effort: when only they fail, the search still
// returns its page without the breakdown.
func TestServiceScopeCountsDegradeOnFailure(t *testing.T) {
	store := &fakeStore{
		total:         7,
		countErr:      errors.New("db down"),
		countErrAfter: 1,
	}
	svc := newTestService(store)

	resp, err := svc.Search(context.Background(), Request{
		Query:  "girder",
		Scopes: AllScopes(),
	})
	if err != nil {
		t.Fatalf("expected degraded success, got error: %v", err)
	}
	if resp.ScopeCounts != nil {
		t.Errorf("expected no scope counts after count failure, got %v", resp.ScopeCounts)
	}
	if resp.Total != 7 {
		t.Errorf("expected total 7, got %d", resp.Total)
	}
}

func TestServiceTotalCountFailureFailsSearch(t *testing.T) {
	store := &fakeStore{countErr: errors.New("db down")}
	svc := newTestService(store)

	_, err := svc.Search(context.Background(), Request{
		Query:  "girder",
		Scopes: AllScopes(),
	})
	if err == nil {
		t.Fatal("expected execution error when the total count fails")
	}
}

func TestServiceDefaultsScopes(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	resp, err := svc.Search(context.Background(), Request{Query: "C63"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Validation.ScopeApplied) != len(AllScopes()) {
		t.Errorf("expected all scopes applied, got %v", resp.Validation.ScopeApplied)
	}
}

func TestServiceClampsPagination(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)

	_, err := svc.Search(context.Background(), Request{
		Query:  "C63",
		Scopes: []Scope{ScopePieceMark},
		Limit:  10000,
		Offset: -3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	call := store.searchCalls[0]
	if call.Limit != 50 {
		t.Errorf("expected limit clamped to 50, got %d", call.Limit)
	}
	if call.Offset != 0 {
		t.Errorf("expected offset clamped to 0, got %d", call.Offset)
	}
}

func TestServiceSearchExecutionError(t *testing.T) {
	store := &fakeStore{searchErr: errors.New("connection refused")}
	svc := newTestService(store)

	_, err := svc.Search(context.Background(), Request{
		Query:  "C63",
		Scopes: []Scope{ScopePieceMark},
	})
	if err == nil {
		t.Fatal("expected error from failing store")
	}
}

func TestServiceValidate(t *testing.T) {
	svc := newTestService(&fakeStore{})

	result := svc.Validate("steel AND beam", AllScopes())
	if !result.IsValid {
		t.Fatalf("expected valid, got %+v", result.Error)
	}

	result = svc.Validate("beam AND", AllScopes())
	if result.IsValid {
		t.Fatal("expected invalid")
	}
}
