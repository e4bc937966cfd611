package catalog

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

var exportHeader = []string{
	"piece_mark", "component_type", "description", "category", "project",
	"drawing_no", "quantity", "confidence", "attributes", "created_at",
}

// Exporter streams catalog contents as CSV, optionally gzip-compressed,
// without loading every row into memory.
type Exporter struct {
	store  *Store
	logger *slog.Logger
}

func NewExporter(store *Store) *Exporter {
	return &Exporter{
		store:  store,
		logger: slog.Default().With("component", "catalog-exporter"),
	}
}

// WriteCSV writes all components matching f to w and returns the row count.
func (e *Exporter) WriteCSV(ctx context.Context, w io.Writer, f Filters, compress bool) (int, error) {
	out := w
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(w)
		out = gz
	}

	cw := csv.NewWriter(out)
	if err := cw.Write(exportHeader); err != nil {
		return 0, fmt.Errorf("writing export header: %w", err)
	}

	count := 0
	err := e.store.StreamAll(ctx, f, func(c Component) error {
		if err := cw.Write(exportRow(c)); err != nil {
			return fmt.Errorf("writing export row: %w", err)
		}
		count++
		return nil
	})
	if err != nil {
		return count, err
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return count, fmt.Errorf("flushing export: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return count, fmt.Errorf("closing gzip stream: %w", err)
		}
	}

	e.logger.Info("catalog exported", "rows", count, "compressed", compress)
	return count, nil
}

func exportRow(c Component) []string {
	return []string{
		c.PieceMark,
		c.ComponentType,
		c.Description,
		c.Category,
		c.Project,
		c.DrawingNo,
		strconv.Itoa(c.Quantity),
		strconv.FormatFloat(c.Confidence, 'f', -1, 64),
		formatAttributes(c.Attributes),
		c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// formatAttributes flattens attributes to "name=value" pairs so the export
// stays a single CSV cell per component.
func formatAttributes(attrs []Attribute) string {
	if len(attrs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(attrs))
	for _, a := range attrs {
		switch a.Type {
		case AttributeNumber:
			parts = append(parts, fmt.Sprintf("%s=%g", a.Name, a.Number))
		case AttributeCheckbox:
			parts = append(parts, fmt.Sprintf("%s=%t", a.Name, a.Checked))
		default:
			parts = append(parts, fmt.Sprintf("%s=%s", a.Name, a.Text))
		}
	}
	return strings.Join(parts, "; ")
}
