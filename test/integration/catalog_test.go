// Package integration contains tests that verify the catalog service with
// real handler wiring against a live PostgreSQL database. Kafka and Redis
// stay out of the loop; the service degrades to direct execution without
// them.
//
// Run with:
//
//	go test -v ./test/integration/...
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/fabworks/piecemark/internal/auth/apikey"
	"github.com/fabworks/piecemark/internal/auth/ratelimit"
	"github.com/fabworks/piecemark/internal/catalog"
	"github.com/fabworks/piecemark/internal/search"
	"github.com/fabworks/piecemark/internal/server"
	"github.com/fabworks/piecemark/pkg/config"
	"github.com/fabworks/piecemark/pkg/health"
	"github.com/fabworks/piecemark/pkg/postgres"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	cfg := testPostgresConfig()
	db, err := postgres.New(cfg)
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testPostgresConfig() config.PostgresConfig {
	return config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "piecemark_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "piecemark"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// newCatalogServer wires the full HTTP stack (auth enabled) against a real
// database. Kafka, Redis, and metrics are left nil.
func newCatalogServer(t *testing.T, db *postgres.Client) (*httptest.Server, *apikey.Validator) {
	t.Helper()

	store := catalog.NewStore(db)
	if err := store.EnsureSchema(t.Context()); err != nil {
		t.Fatalf("ensuring components schema: %v", err)
	}
	validator := apikey.NewValidator(db)
	if err := validator.EnsureSchema(t.Context()); err != nil {
		t.Fatalf("ensuring api_keys schema: %v", err)
	}

	svc := search.NewService(store, nil, nil, nil, config.SearchConfig{
		MaxResults:     100,
		DefaultLimit:   25,
		MaxQueryLength: 512,
		QueryTimeout:   5 * time.Second,
	})

	h := server.New(server.Deps{
		Search:   svc,
		Store:    store,
		Exporter: catalog.NewExporter(store),
		Keys:     validator,
	})

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping))

	limiter := ratelimit.New(time.Minute)
	t.Cleanup(limiter.Stop)

	chain := server.NewRouter(h, checker, validator, limiter, nil, server.RouterConfig{
		AuthEnabled:    true,
		RequestTimeout: 10 * time.Second,
	})
	srv := httptest.NewServer(chain)
	t.Cleanup(srv.Close)
	return srv, validator
}

// testProject returns a project name unique to this test run so piece mark
// uniqueness never collides across runs.
func testProject(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func authedRequest(t *testing.T, method, url, key string, body []byte) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", key)
	return req
}

func do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: request failed: %v", req.Method, req.URL.Path, err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, body
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestHealthEndpoint verifies the health check is accessible without auth.
func TestHealthEndpoint(t *testing.T) {
	db := skipIfNoPostgres(t)
	srv, _ := newCatalogServer(t, db)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("expected status=ok, got %q", body["status"])
	}
}

// TestUnauthenticatedRequestRejected verifies that API endpoints reject
// requests without an API key.
func TestUnauthenticatedRequestRejected(t *testing.T) {
	db := skipIfNoPostgres(t)
	srv, _ := newCatalogServer(t, db)

	endpoints := []struct {
		method string
		path   string
	}{
		{"GET", "/api/v1/search?q=B12"},
		{"GET", "/api/v1/components"},
		{"GET", "/api/v1/cache/stats"},
	}

	for _, ep := range endpoints {
		req, _ := http.NewRequest(ep.method, srv.URL+ep.path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: request failed: %v", ep.method, ep.path, err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", ep.method, ep.path, resp.StatusCode)
		}
	}
}

// TestAPIKeyLifecycle creates, uses, and revokes an API key. The key is
// created through the validator directly since the admin endpoints also
// require auth (chicken-and-egg).
func TestAPIKeyLifecycle(t *testing.T) {
	db := skipIfNoPostgres(t)
	srv, validator := newCatalogServer(t, db)

	rawKey, err := validator.CreateKey(t.Context(), "integration-test", "", 100, nil)
	if err != nil {
		t.Fatalf("creating key: %v", err)
	}

	resp, body := do(t, authedRequest(t, "GET", srv.URL+"/api/v1/search?q=B12", rawKey, nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	if err := validator.RevokeKey(t.Context(), rawKey); err != nil {
		t.Fatalf("revoking key: %v", err)
	}

	resp2, _ := do(t, authedRequest(t, "GET", srv.URL+"/api/v1/search?q=B12", rawKey, nil))
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 after revoke, got %d", resp2.StatusCode)
	}
}

// TestComponentLifecycle drives a component through create, search, update,
// and delete over the HTTP API.
func TestComponentLifecycle(t *testing.T) {
	db := skipIfNoPostgres(t)
	srv, validator := newCatalogServer(t, db)

	rawKey, err := validator.CreateKey(t.Context(), "crud-test", "", 1000, nil)
	if err != nil {
		t.Fatalf("creating key: %v", err)
	}
	project := testProject("crud")

	// Create.
	createBody, _ := json.Marshal(catalog.Component{
		PieceMark:     "B12",
		ComponentType: "beam",
		Description:   "wide flange beam, galvanized",
		Category:      "structural",
		Project:       project,
		Quantity:      4,
		Confidence:    0.95,
	})
	resp, body := do(t, authedRequest(t, "POST", srv.URL+"/api/v1/components", rawKey, createBody))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", resp.StatusCode, body)
	}
	var created catalog.Component
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decoding created component: %v", err)
	}

	// Search finds it through the query pipeline.
	searchURL := fmt.Sprintf("%s/api/v1/search?q=B12&project=%s", srv.URL, project)
	resp, body = do(t, authedRequest(t, "GET", searchURL, rawKey, nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search: expected 200, got %d: %s", resp.StatusCode, body)
	}
	var searchResp search.Response
	if err := json.Unmarshal(body, &searchResp); err != nil {
		t.Fatalf("decoding search response: %v", err)
	}
	if searchResp.Total != 1 {
		t.Errorf("search: expected 1 hit, got %d", searchResp.Total)
	}
	if len(searchResp.Results) != 1 || searchResp.Results[0].ID != created.ID {
		t.Errorf("search: expected created component in results, got %v", searchResp.Results)
	}

	// Boolean query also matches.
	boolURL := fmt.Sprintf("%s/api/v1/search?q=%s&project=%s", srv.URL, "beam+AND+galvanized", project)
	resp, body = do(t, authedRequest(t, "GET", boolURL, rawKey, nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("boolean search: expected 200, got %d: %s", resp.StatusCode, body)
	}
	json.Unmarshal(body, &searchResp)
	if searchResp.Total != 1 {
		t.Errorf("boolean search: expected 1 hit, got %d", searchResp.Total)
	}

	// Update.
	created.Description = "wide flange beam, shop primed"
	updateBody, _ := json.Marshal(created)
	resp, body = do(t, authedRequest(t, "PUT", srv.URL+"/api/v1/components/"+created.ID.String(), rawKey, updateBody))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", resp.StatusCode, body)
	}

	// Get reflects the update.
	resp, body = do(t, authedRequest(t, "GET", srv.URL+"/api/v1/components/"+created.ID.String(), rawKey, nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d: %s", resp.StatusCode, body)
	}
	var fetched catalog.Component
	json.Unmarshal(body, &fetched)
	if fetched.Description != "wide flange beam, shop primed" {
		t.Errorf("get: expected updated description, got %q", fetched.Description)
	}

	// Delete, then 404.
	resp, _ = do(t, authedRequest(t, "DELETE", srv.URL+"/api/v1/components/"+created.ID.String(), rawKey, nil))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.StatusCode)
	}
	resp, _ = do(t, authedRequest(t, "GET", srv.URL+"/api/v1/components/"+created.ID.String(), rawKey, nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete: expected 404, got %d", resp.StatusCode)
	}
}

// TestInvalidQueryRejected verifies the parser rejects malformed queries with
// structured validation detail instead of executing them.
func TestInvalidQueryRejected(t *testing.T) {
	db := skipIfNoPostgres(t)
	srv, validator := newCatalogServer(t, db)

	rawKey, err := validator.CreateKey(t.Context(), "parse-test", "", 100, nil)
	if err != nil {
		t.Fatalf("creating key: %v", err)
	}

	resp, body := do(t, authedRequest(t, "GET", srv.URL+"/api/v1/search?q=beam+AND", rawKey, nil))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.StatusCode, body)
	}

	var searchResp search.Response
	if err := json.Unmarshal(body, &searchResp); err != nil {
		t.Fatalf("decoding rejection response: %v", err)
	}
	if searchResp.Validation == nil || searchResp.Validation.IsValid {
		t.Fatal("expected invalid validation result")
	}
	if searchResp.Validation.Error == nil {
		t.Fatal("expected structured error detail")
	}
}

// TestProjectRestrictedKey verifies a project-scoped key cannot read or
// write outside its project.
func TestProjectRestrictedKey(t *testing.T) {
	db := skipIfNoPostgres(t)
	srv, validator := newCatalogServer(t, db)

	home := testProject("home")
	foreign := testProject("foreign")

	rawKey, err := validator.CreateKey(t.Context(), "scoped-test", home, 100, nil)
	if err != nil {
		t.Fatalf("creating key: %v", err)
	}

	// Search against a foreign project is forbidden.
	resp, _ := do(t, authedRequest(t, "GET",
		fmt.Sprintf("%s/api/v1/search?q=B12&project=%s", srv.URL, foreign), rawKey, nil))
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("foreign search: expected 403, got %d", resp.StatusCode)
	}

	// Writing into a foreign project is forbidden.
	createBody, _ := json.Marshal(catalog.Component{
		PieceMark:  "X1",
		Project:    foreign,
		Confidence: 1,
	})
	resp, _ = do(t, authedRequest(t, "POST", srv.URL+"/api/v1/components", rawKey, createBody))
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("foreign write: expected 403, got %d", resp.StatusCode)
	}

	// A write without a project lands in the key's own project.
	createBody, _ = json.Marshal(catalog.Component{
		PieceMark:  "X1",
		Confidence: 1,
	})
	resp, body := do(t, authedRequest(t, "POST", srv.URL+"/api/v1/components", rawKey, createBody))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("own write: expected 201, got %d: %s", resp.StatusCode, body)
	}
	var created catalog.Component
	json.Unmarshal(body, &created)
	if created.Project != home {
		t.Errorf("expected component forced into %q, got %q", home, created.Project)
	}
}

// TestBatchCreateIsAtomic verifies that a batch containing a duplicate piece
// mark writes nothing.
func TestBatchCreateIsAtomic(t *testing.T) {
	db := skipIfNoPostgres(t)
	srv, validator := newCatalogServer(t, db)

	rawKey, err := validator.CreateKey(t.Context(), "batch-test", "", 100, nil)
	if err != nil {
		t.Fatalf("creating key: %v", err)
	}
	project := testProject("batch")

	batch := map[string]any{
		"components": []catalog.Component{
			{PieceMark: "G1", Project: project, Confidence: 1},
			{PieceMark: "G2", Project: project, Confidence: 1},
			{PieceMark: "G1", Project: project, Confidence: 1},
		},
	}
	body, _ := json.Marshal(batch)
	resp, respBody := do(t, authedRequest(t, "POST", srv.URL+"/api/v1/components/batch", rawKey, body))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate in batch, got %d: %s", resp.StatusCode, respBody)
	}

	// Nothing from the failed batch may exist.
	searchURL := fmt.Sprintf("%s/api/v1/search?q=G2&project=%s", srv.URL, project)
	resp, respBody = do(t, authedRequest(t, "GET", searchURL, rawKey, nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search: expected 200, got %d: %s", resp.StatusCode, respBody)
	}
	var searchResp search.Response
	json.Unmarshal(respBody, &searchResp)
	if searchResp.Total != 0 {
		t.Errorf("expected rolled-back batch to leave no rows, got %d", searchResp.Total)
	}
}

// TestRateLimiting verifies per-key rate limits are enforced.
func TestRateLimiting(t *testing.T) {
	db := skipIfNoPostgres(t)
	srv, validator := newCatalogServer(t, db)

	rawKey, err := validator.CreateKey(t.Context(), "ratelimit-test", "", 2, nil)
	if err != nil {
		t.Fatalf("creating key: %v", err)
	}

	for i := 0; i < 2; i++ {
		resp, _ := do(t, authedRequest(t, "GET", srv.URL+"/api/v1/search?q=B12", rawKey, nil))
		if resp.StatusCode != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i, resp.StatusCode)
		}
	}

	resp, _ := do(t, authedRequest(t, "GET", srv.URL+"/api/v1/search?q=B12", rawKey, nil))
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429")
	}
}

// ---------------------------------------------------------------------------
// Env helpers
// ---------------------------------------------------------------------------

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
