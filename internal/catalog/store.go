package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	apperrors "github.com/fabworks/piecemark/pkg/errors"
	"github.com/fabworks/piecemark/pkg/postgres"
)

var componentColumns = []string{
	"id", "piece_mark", "component_type", "description", "category",
	"project", "drawing_no", "quantity", "confidence", "attributes",
	"created_at", "updated_at",
}

// Filters narrows a listing or count by exact-match and range criteria.
// These are applied alongside any compiled text filter.
type Filters struct {
	Category      string
	Project       string
	MinConfidence *float64
	MaxConfidence *float64
}

func (f Filters) apply(b sq.SelectBuilder) sq.SelectBuilder {
	if f.Category != "" {
		b = b.Where(sq.Eq{"category": f.Category})
	}
	if f.Project != "" {
		b = b.Where(sq.Eq{"project": f.Project})
	}
	if f.MinConfidence != nil {
		b = b.Where(sq.GtOrEq{"confidence": *f.MinConfidence})
	}
	if f.MaxConfidence != nil {
		b = b.Where(sq.LtOrEq{"confidence": *f.MaxConfidence})
	}
	return b
}

// SearchQuery describes one component search against the store. Filter is a
// prebuilt predicate over the text columns; nil matches every row.
type SearchQuery struct {
	Filter  sq.Sqlizer
	Filters Filters
	Limit   int
	Offset  int

	// SortBy names a whitelisted column. Anything else falls back to
	// relevance ordering: rows whose piece mark matches RelevancePattern
	// first, then piece mark ascending.
	SortBy           string
	SortDesc         bool
	RelevancePattern string
}

var sortColumns = map[string]string{
	"piece_mark":     "piece_mark",
	"component_type": "component_type",
	"category":       "category",
	"project":        "project",
	"quantity":       "quantity",
	"confidence":     "confidence",
	"created_at":     "created_at",
	"updated_at":     "updated_at",
}

// Store persists components in PostgreSQL. All statements are built with
// squirrel so user input is always bound as parameters.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "catalog-store"),
	}
}

// EnsureSchema creates the components table and its indexes if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS components (
			id UUID PRIMARY KEY,
			piece_mark TEXT NOT NULL,
			component_type TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			project TEXT NOT NULL DEFAULT '',
			drawing_no TEXT NOT NULL DEFAULT '',
			quantity INTEGER NOT NULL DEFAULT 1,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			attributes JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (project, piece_mark)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_components_piece_mark ON components (LOWER(piece_mark))`,
		`CREATE INDEX IF NOT EXISTS idx_components_type ON components (LOWER(component_type))`,
		`CREATE INDEX IF NOT EXISTS idx_components_project ON components (project)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Create inserts a new component, assigning an ID and timestamps.
func (s *Store) Create(ctx context.Context, c *Component) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.prepareForWrite(c)

	query, args, err := s.insertBuilder(c).ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}
	if _, err := s.db.DB.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: piece mark %q in project %q", apperrors.ErrDuplicatePieceMark, c.PieceMark, c.Project)
		}
		return fmt.Errorf("inserting component: %w", err)
	}

	s.logger.Info("component created",
		"component_id", c.ID,
		"piece_mark", c.PieceMark,
		"project", c.Project,
	)
	return nil
}

// CreateBatch inserts all components in one transaction. Either every row is
// written or none are.
func (s *Store) CreateBatch(ctx context.Context, comps []*Component) error {
	if len(comps) == 0 {
		return nil
	}
	for _, c := range comps {
		if err := c.Validate(); err != nil {
			return err
		}
	}

	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		for _, c := range comps {
			s.prepareForWrite(c)
			query, args, err := s.insertBuilder(c).ToSql()
			if err != nil {
				return fmt.Errorf("building insert: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: piece mark %q in project %q", apperrors.ErrDuplicatePieceMark, c.PieceMark, c.Project)
				}
				return fmt.Errorf("inserting component %q: %w", c.PieceMark, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("component batch created", "count", len(comps))
	return nil
}

// Get loads one component by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Component, error) {
	query, args, err := s.db.Builder().
		Select(componentColumns...).
		From("components").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}

	c, err := scanComponent(s.db.DB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrComponentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading component: %w", err)
	}
	return c, nil
}

// Update rewrites every mutable field of an existing component.
func (s *Store) Update(ctx context.Context, c *Component) error {
	if err := c.Validate(); err != nil {
		return err
	}
	attrs, err := marshalAttributes(c.Attributes)
	if err != nil {
		return err
	}
	c.UpdatedAt = time.Now().UTC()

	query, args, err := s.db.Builder().
		Update("components").
		Set("piece_mark", c.PieceMark).
		Set("component_type", c.ComponentType).
		Set("description", c.Description).
		Set("category", c.Category).
		Set("project", c.Project).
		Set("drawing_no", c.DrawingNo).
		Set("quantity", c.Quantity).
		Set("confidence", c.Confidence).
		Set("attributes", attrs).
		Set("updated_at", c.UpdatedAt).
		Where(sq.Eq{"id": c.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}

	res, err := s.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: piece mark %q in project %q", apperrors.ErrDuplicatePieceMark, c.PieceMark, c.Project)
		}
		return fmt.Errorf("updating component: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrComponentNotFound, c.ID)
	}

	s.logger.Info("component updated", "component_id", c.ID, "piece_mark", c.PieceMark)
	return nil
}

// Delete removes a component by ID.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	query, args, err := s.db.Builder().
		Delete("components").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete: %w", err)
	}

	res, err := s.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting component: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrComponentNotFound, id)
	}

	s.logger.Info("component deleted", "component_id", id)
	return nil
}

// SearchComponents runs a filtered, sorted, paginated component query.
func (s *Store) SearchComponents(ctx context.Context, q SearchQuery) ([]Component, error) {
	b := s.db.Builder().
		Select(componentColumns...).
		From("components")
	if q.Filter != nil {
		b = b.Where(q.Filter)
	}
	b = q.Filters.apply(b)
	b = applySort(b, q)
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}
	if q.Offset > 0 {
		b = b.Offset(uint64(q.Offset))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building search: %w", err)
	}

	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching components: %w", err)
	}
	defer rows.Close()

	components := make([]Component, 0, q.Limit)
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning component row: %w", err)
		}
		components = append(components, *c)
	}
	return components, rows.Err()
}

// CountComponents counts rows matching the text filter and field filters.
func (s *Store) CountComponents(ctx context.Context, filter sq.Sqlizer, f Filters) (int64, error) {
	b := s.db.Builder().
		Select("COUNT(*)").
		From("components")
	if filter != nil {
		b = b.Where(filter)
	}
	b = f.apply(b)

	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count: %w", err)
	}

	var n int64
	if err := s.db.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting components: %w", err)
	}
	return n, nil
}

// CountByType returns component counts grouped by type, largest first.
func (s *Store) CountByType(ctx context.Context) ([]TypeCount, error) {
	query, args, err := s.db.Builder().
		Select("component_type", "COUNT(*) AS n").
		From("components").
		GroupBy("component_type").
		OrderBy("n DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building type count: %w", err)
	}

	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("counting by type: %w", err)
	}
	defer rows.Close()

	var counts []TypeCount
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.ComponentType, &tc.Count); err != nil {
			return nil, fmt.Errorf("scanning type count: %w", err)
		}
		counts = append(counts, tc)
	}
	return counts, rows.Err()
}

// StreamAll calls fn for every matching component in piece mark order. Used
// by the exporter to avoid loading the whole catalog into memory.
func (s *Store) StreamAll(ctx context.Context, f Filters, fn func(Component) error) error {
	b := s.db.Builder().
		Select(componentColumns...).
		From("components")
	b = f.apply(b)
	b = b.OrderBy("project ASC", "piece_mark ASC")

	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("building export query: %w", err)
	}

	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("streaming components: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return fmt.Errorf("scanning component row: %w", err)
		}
		if err := fn(*c); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) prepareForWrite(c *Component) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
}

func (s *Store) insertBuilder(c *Component) sq.InsertBuilder {
	attrs, _ := marshalAttributes(c.Attributes)
	return s.db.Builder().
		Insert("components").
		Columns(componentColumns...).
		Values(
			c.ID, c.PieceMark, c.ComponentType, c.Description, c.Category,
			c.Project, c.DrawingNo, c.Quantity, c.Confidence, attrs,
			c.CreatedAt, c.UpdatedAt,
		)
}

func applySort(b sq.SelectBuilder, q SearchQuery) sq.SelectBuilder {
	col, ok := sortColumns[q.SortBy]
	if !ok {
		if q.RelevancePattern != "" {
			b = b.OrderByClause("CASE WHEN piece_mark ILIKE ? THEN 0 ELSE 1 END", q.RelevancePattern)
		}
		return b.OrderBy("piece_mark ASC")
	}
	dir := "ASC"
	if q.SortDesc {
		dir = "DESC"
	}
	return b.OrderBy(col + " " + dir)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComponent(row rowScanner) (*Component, error) {
	var (
		c     Component
		attrs []byte
	)
	err := row.Scan(
		&c.ID, &c.PieceMark, &c.ComponentType, &c.Description, &c.Category,
		&c.Project, &c.DrawingNo, &c.Quantity, &c.Confidence, &attrs,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &c.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshaling attributes: %w", err)
		}
	}
	return &c, nil
}

func marshalAttributes(attrs []Attribute) ([]byte, error) {
	if attrs == nil {
		attrs = []Attribute{}
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("marshaling attributes: %w", err)
	}
	return data, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
