package audit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatsEndpoint(t *testing.T) {
	agg := NewAggregator()
	feed(t, agg, searchEvent("B12", 2, 15, false))
	feed(t, agg, SearchEvent{Type: EventSearchRejected, ErrorType: "parsing"})

	h := NewHandler(agg, nil)
	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audit/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}

	var stats AggregatedStats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats.TotalSearches != 1 {
		t.Errorf("expected 1 search, got %d", stats.TotalSearches)
	}
	if stats.RejectedSearches != 1 {
		t.Errorf("expected 1 rejected search, got %d", stats.RejectedSearches)
	}
	if len(stats.TopQueries) != 1 || stats.TopQueries[0].Query != "B12" {
		t.Errorf("expected B12 as top query, got %v", stats.TopQueries)
	}
}

func TestLatestSnapshotWithoutStore(t *testing.T) {
	h := NewHandler(NewAggregator(), nil)
	rec := httptest.NewRecorder()
	h.LatestSnapshot(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audit/snapshots/latest", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when persistence is disabled, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if body["error"] == "" {
		t.Error("expected an error message in the body")
	}
}
