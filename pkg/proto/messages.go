// Package proto defines the shared message types used for the catalog's
// internal admin RPC surface.
//
// The types use JSON struct tags for serialization over the lightweight
// JSON-over-TCP RPC layer (see pkg/grpc) and are consumed by the catalogctl
// command-line client.
package proto

// ---------- Common ----------

// HealthCheckResponse mirrors the gRPC health check spec.
type HealthCheckResponse struct {
	Status string `json:"status"` // SERVING, NOT_SERVING, UNKNOWN
}

// PingRequest is the input to the Admin.Ping RPC.
type PingRequest struct{}

// PingResponse reports server identity and uptime.
type PingResponse struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	UptimeSec int64  `json:"uptime_sec"`
}

// ---------- Catalog ----------

// CatalogStatsRequest optionally filters stats by component type ("" = all).
type CatalogStatsRequest struct {
	ComponentType string `json:"component_type,omitempty"`
}

// CatalogStatsResponse contains component inventory statistics.
type CatalogStatsResponse struct {
	TotalComponents int64       `json:"total_components"`
	ByType          []TypeCount `json:"by_type,omitempty"`
}

// TypeCount holds a per-component-type row count.
type TypeCount struct {
	ComponentType string `json:"component_type"`
	Count         int64  `json:"count"`
}

// CatalogSearchRequest runs a search through the full query pipeline.
type CatalogSearchRequest struct {
	Query   string `json:"query"`
	Project string `json:"project,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// CatalogSearchResponse returns a compact result listing for terminal output.
type CatalogSearchResponse struct {
	Total     int64              `json:"total"`
	TookMs    int64              `json:"took_ms"`
	QueryType string             `json:"query_type"`
	Results   []ComponentSummary `json:"results,omitempty"`
}

// ComponentSummary is the subset of component fields shown in CLI listings.
type ComponentSummary struct {
	PieceMark     string `json:"piece_mark"`
	ComponentType string `json:"component_type"`
	Project       string `json:"project"`
	Description   string `json:"description"`
}

// ---------- Cache ----------

// CacheStatsRequest is the input to the Admin.CacheStats RPC.
type CacheStatsRequest struct{}

// CacheStatsResponse reports how many search results are currently cached.
type CacheStatsResponse struct {
	Keys    int64  `json:"keys"`
	Pattern string `json:"pattern"`
}

// CacheInvalidateRequest asks the server to drop cached search results
// matching the glob pattern ("" = all search keys).
type CacheInvalidateRequest struct {
	Pattern string `json:"pattern,omitempty"`
}

// CacheInvalidateResponse confirms the invalidation.
type CacheInvalidateResponse struct {
	Deleted int64 `json:"deleted"`
}

// ---------- Audit ----------

// AuditSummaryRequest bounds the summary window.
type AuditSummaryRequest struct {
	TopN int `json:"top_n"`
}

// AuditSummaryResponse aggregates recent search activity.
type AuditSummaryResponse struct {
	TotalSearches  int64        `json:"total_searches"`
	ZeroResultRate float64      `json:"zero_result_rate"`
	TopQueries     []QueryCount `json:"top_queries,omitempty"`
}

// QueryCount holds a query string and how often it was issued.
type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}
