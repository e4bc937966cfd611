package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fabworks/piecemark/internal/audit"
	"github.com/fabworks/piecemark/internal/catalog"
	"github.com/fabworks/piecemark/internal/search"
	apperrors "github.com/fabworks/piecemark/pkg/errors"
	"github.com/fabworks/piecemark/pkg/kafka"
	pkgmw "github.com/fabworks/piecemark/pkg/middleware"
)

// maxBatchSize bounds a single batch-create request.
const maxBatchSize = 500

// ---------- Component CRUD ----------

// CreateComponent inserts a single component. The stored component (with its
// assigned ID and timestamps) is returned.
func (h *Handler) CreateComponent(w http.ResponseWriter, r *http.Request) {
	var c catalog.Component
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	project, ok := restrictProject(r.Context(), c.Project)
	if !ok {
		h.writeError(w, http.StatusForbidden, "api key is not permitted to write to this project")
		return
	}
	c.Project = project

	if err := h.store.Create(r.Context(), &c); err != nil {
		h.writeStoreError(w, err, "failed to create component")
		return
	}

	h.recordWrite(r.Context(), "create", &c)
	h.writeJSON(w, http.StatusCreated, c)
}

// CreateComponentBatch inserts many components in one transaction. The body
// is {"components": [...]}; either every component is stored or none are.
func (h *Handler) CreateComponentBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Components []catalog.Component `json:"components"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Components) == 0 {
		h.writeError(w, http.StatusBadRequest, "components array is required")
		return
	}
	if len(req.Components) > maxBatchSize {
		h.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("batch exceeds maximum size of %d components", maxBatchSize))
		return
	}

	comps := make([]*catalog.Component, len(req.Components))
	for i := range req.Components {
		project, ok := restrictProject(r.Context(), req.Components[i].Project)
		if !ok {
			h.writeError(w, http.StatusForbidden, "api key is not permitted to write to this project")
			return
		}
		req.Components[i].Project = project
		comps[i] = &req.Components[i]
	}

	if err := h.store.CreateBatch(r.Context(), comps); err != nil {
		h.writeStoreError(w, err, "failed to create component batch")
		return
	}

	if h.metrics != nil {
		h.metrics.ComponentWritesTotal.WithLabelValues("create").Add(float64(len(comps)))
	}
	for _, c := range comps {
		h.trackChange(r.Context(), "create", c)
	}
	h.publishInvalidation(r.Context(), "component batch created")

	h.writeJSON(w, http.StatusCreated, map[string]any{"created": len(comps)})
}

// GetComponent fetches one component by ID.
func (h *Handler) GetComponent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.componentID(w, r)
	if !ok {
		return
	}

	c, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "failed to fetch component")
		return
	}

	if info := GetKeyInfo(r.Context()); info != nil && info.Project != "" && c.Project != info.Project {
		h.writeError(w, http.StatusForbidden, "api key is not permitted to access this project")
		return
	}

	h.writeJSON(w, http.StatusOK, c)
}

// UpdateComponent replaces a component. The body must carry the complete
// component; omitted fields are cleared.
func (h *Handler) UpdateComponent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.componentID(w, r)
	if !ok {
		return
	}

	var c catalog.Component
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if c.ID != uuid.Nil && c.ID != id {
		h.writeError(w, http.StatusBadRequest, "body id does not match URL")
		return
	}
	c.ID = id

	if !h.authorizeExisting(w, r, id) {
		return
	}
	project, ok := restrictProject(r.Context(), c.Project)
	if !ok {
		h.writeError(w, http.StatusForbidden, "api key is not permitted to write to this project")
		return
	}
	c.Project = project

	if err := h.store.Update(r.Context(), &c); err != nil {
		h.writeStoreError(w, err, "failed to update component")
		return
	}

	h.recordWrite(r.Context(), "update", &c)
	h.writeJSON(w, http.StatusOK, c)
}

// DeleteComponent removes a component by ID.
func (h *Handler) DeleteComponent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.componentID(w, r)
	if !ok {
		return
	}

	if !h.authorizeExisting(w, r, id) {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		h.writeStoreError(w, err, "failed to delete component")
		return
	}

	h.recordWrite(r.Context(), "delete", &catalog.Component{ID: id})
	w.WriteHeader(http.StatusNoContent)
}

// ListComponents returns a filtered, paginated component listing without
// running the query parser.
func (h *Handler) ListComponents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := catalog.Filters{
		Category: q.Get("category"),
		Project:  q.Get("project"),
	}
	project, ok := restrictProject(r.Context(), f.Project)
	if !ok {
		h.writeError(w, http.StatusForbidden, "api key is not permitted to access this project")
		return
	}
	f.Project = project

	limit := 50
	offset := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxBatchSize {
			limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	sortBy := q.Get("sort")
	if sortBy == "" {
		sortBy = "piece_mark"
	}

	components, err := h.store.SearchComponents(r.Context(), catalog.SearchQuery{
		Filters:  f,
		Limit:    limit,
		Offset:   offset,
		SortBy:   sortBy,
		SortDesc: strings.EqualFold(q.Get("order"), "desc"),
	})
	if err != nil {
		h.writeStoreError(w, err, "failed to list components")
		return
	}

	total, err := h.store.CountComponents(r.Context(), nil, f)
	if err != nil {
		h.writeStoreError(w, err, "failed to count components")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"components": components,
		"count":      len(components),
		"total":      total,
		"limit":      limit,
		"offset":     offset,
	})
}

// ExportComponents streams the filtered catalog as CSV, optionally
// gzip-compressed (?gzip=true).
func (h *Handler) ExportComponents(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()
	f := catalog.Filters{
		Category: q.Get("category"),
		Project:  q.Get("project"),
	}
	project, ok := restrictProject(r.Context(), f.Project)
	if !ok {
		h.writeError(w, http.StatusForbidden, "api key is not permitted to access this project")
		return
	}
	f.Project = project

	compress := false
	if v := q.Get("gzip"); v != "" {
		compress, _ = strconv.ParseBool(v)
	}

	filename := "components-" + time.Now().UTC().Format("20060102-150405") + ".csv"
	if compress {
		filename += ".gz"
		w.Header().Set("Content-Type", "application/gzip")
	} else {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	rows, err := h.exporter.WriteCSV(r.Context(), w, f, compress)
	if err != nil {
		// Headers are already on the wire; the truncated download is all the
		// client sees.
		h.logger.Error("export failed", "error", err, "rows_written", rows)
		if h.metrics != nil {
			h.metrics.ExportsTotal.WithLabelValues("error").Inc()
		}
		return
	}

	if h.metrics != nil {
		h.metrics.ExportsTotal.WithLabelValues("ok").Inc()
	}
	h.trackExport(r.Context(), rows, compress, start)
	h.logger.Info("export completed", "rows", rows, "compressed", compress)
}

// ---------- API key administration ----------

// CreateAPIKey creates a new API key and returns the raw key (shown once).
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	if h.keys == nil {
		h.writeError(w, http.StatusServiceUnavailable, "key management not configured")
		return
	}

	var req struct {
		Name      string `json:"name"`
		Project   string `json:"project,omitempty"`
		RateLimit int    `json:"rate_limit"`
		ExpiresIn string `json:"expires_in,omitempty"` // Go duration, e.g. "720h"
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.RateLimit <= 0 {
		req.RateLimit = 100
	}

	var expiresAt *time.Time
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid expires_in duration")
			return
		}
		t := time.Now().Add(d)
		expiresAt = &t
	}

	key, err := h.keys.CreateKey(r.Context(), req.Name, req.Project, req.RateLimit, expiresAt)
	if err != nil {
		h.logger.Error("failed to create api key", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create api key")
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{
		"api_key": key,
		"name":    req.Name,
		"project": req.Project,
		"message": "store this key securely; it cannot be retrieved again",
	})
}

// ListAPIKeys returns all active API keys (without hashes).
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	if h.keys == nil {
		h.writeError(w, http.StatusServiceUnavailable, "key management not configured")
		return
	}

	keys, err := h.keys.ListKeys(r.Context())
	if err != nil {
		h.logger.Error("failed to list api keys", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list api keys")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"keys":  keys,
		"count": len(keys),
	})
}

// RevokeAPIKey deactivates the raw key given in the body.
func (h *Handler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	if h.keys == nil {
		h.writeError(w, http.StatusServiceUnavailable, "key management not configured")
		return
	}

	var req struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		h.writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	if err := h.keys.RevokeKey(r.Context(), req.Key); err != nil {
		h.writeStoreError(w, err, "failed to revoke api key")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// ---------- Write-path side effects ----------

// recordWrite emits the write-path side effects: the write counter, an audit
// change event, and a cache invalidation broadcast.
func (h *Handler) recordWrite(ctx context.Context, op string, c *catalog.Component) {
	if h.metrics != nil {
		h.metrics.ComponentWritesTotal.WithLabelValues(op).Inc()
	}
	h.trackChange(ctx, op, c)
	h.publishInvalidation(ctx, "component "+op)
}

func (h *Handler) trackChange(ctx context.Context, op string, c *catalog.Component) {
	if h.auditor == nil {
		return
	}
	event := audit.ChangeEvent{
		Type:      audit.EventComponentChange,
		Operation: op,
		RequestID: pkgmw.GetRequestID(ctx),
		Timestamp: time.Now().UTC(),
	}
	if c != nil {
		event.ComponentID = c.ID.String()
		event.PieceMark = c.PieceMark
		event.Project = c.Project
	}
	h.auditor.Track(event)
}

func (h *Handler) trackExport(ctx context.Context, rows int, compressed bool, start time.Time) {
	if h.auditor == nil {
		return
	}
	h.auditor.Track(audit.ExportEvent{
		Type:       audit.EventExport,
		Rows:       rows,
		Compressed: compressed,
		LatencyMs:  time.Since(start).Milliseconds(),
		RequestID:  pkgmw.GetRequestID(ctx),
		Timestamp:  time.Now().UTC(),
	})
}

// publishInvalidation broadcasts a cache invalidation message so every
// catalog instance flushes its cached search pages.
func (h *Handler) publishInvalidation(ctx context.Context, reason string) {
	if h.invalidations == nil {
		return
	}
	msg := search.InvalidationMessage{Reason: reason, Timestamp: time.Now().UTC()}
	if err := h.invalidations.Publish(ctx, kafka.Event{Key: "invalidate", Value: msg}); err != nil {
		h.logger.Warn("failed to publish cache invalidation", "reason", reason, "error", err)
	}
}

// ---------- Shared helpers ----------

// componentID parses the {id} path segment, writing a 400 on failure.
func (h *Handler) componentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid component id")
		return uuid.Nil, false
	}
	return id, true
}

// authorizeExisting verifies that a project-restricted key owns the
// component it is about to modify. Unrestricted keys skip the lookup.
func (h *Handler) authorizeExisting(w http.ResponseWriter, r *http.Request, id uuid.UUID) bool {
	info := GetKeyInfo(r.Context())
	if info == nil || info.Project == "" {
		return true
	}
	existing, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "failed to fetch component")
		return false
	}
	if existing.Project != info.Project {
		h.writeError(w, http.StatusForbidden, "api key is not permitted to access this project")
		return false
	}
	return true
}

// writeStoreError maps a storage error to an HTTP response. Client errors
// carry the error text (it is our own validation wording); server errors
// carry only the fallback message.
func (h *Handler) writeStoreError(w http.ResponseWriter, err error, fallback string) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(fallback, "error", err)
		h.writeError(w, status, fallback)
		return
	}
	h.writeError(w, status, err.Error())
}
