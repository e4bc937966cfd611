// Package audit records search and catalog activity as Kafka events and
// aggregates them into usage statistics.
package audit

import "time"

type EventType string

const (
	EventSearch          EventType = "search"
	EventSearchRejected  EventType = "search_rejected"
	EventComponentChange EventType = "component_change"
	EventExport          EventType = "export"
)

// SearchEvent describes one search request. Query holds the sanitized form,
// never the raw user input.
type SearchEvent struct {
	Type            EventType `json:"type"`
	Query           string    `json:"query"`
	QueryType       string    `json:"query_type"`
	ComplexityScore int       `json:"complexity_score"`
	Scopes          []string  `json:"scopes"`
	Returned        int       `json:"returned"`
	TotalHits       int64     `json:"total_hits"`
	CacheHit        bool      `json:"cache_hit"`
	LatencyMs       int64     `json:"latency_ms"`
	ErrorType       string    `json:"error_type,omitempty"`
	RequestID       string    `json:"request_id"`
	Timestamp       time.Time `json:"timestamp"`
}

// ChangeEvent describes one component write (create, update, delete).
type ChangeEvent struct {
	Type        EventType `json:"type"`
	Operation   string    `json:"operation"`
	ComponentID string    `json:"component_id"`
	PieceMark   string    `json:"piece_mark"`
	Project     string    `json:"project"`
	RequestID   string    `json:"request_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// ExportEvent describes one catalog export.
type ExportEvent struct {
	Type       EventType `json:"type"`
	Rows       int       `json:"rows"`
	Compressed bool      `json:"compressed"`
	LatencyMs  int64     `json:"latency_ms"`
	RequestID  string    `json:"request_id"`
	Timestamp  time.Time `json:"timestamp"`
}
