// Package catalog defines the component model and its PostgreSQL store.
// A component is one cataloged entry extracted from an engineering drawing,
// identified by its piece mark within a project.
package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/fabworks/piecemark/pkg/errors"
)

const (
	maxPieceMarkLength = 64
	maxTypeLength      = 64
	maxTextLength      = 2048
	maxAttributeCount  = 50
)

// AttributeType discriminates the value field an Attribute carries.
type AttributeType string

const (
	AttributeText     AttributeType = "text"
	AttributeNumber   AttributeType = "number"
	AttributeSelect   AttributeType = "select"
	AttributeCheckbox AttributeType = "checkbox"
)

// Attribute is one dynamic property of a component, such as flange width or
// galvanized finish. Only the field matching Type is meaningful.
type Attribute struct {
	Name    string        `json:"name"`
	Type    AttributeType `json:"type"`
	Text    string        `json:"text,omitempty"`
	Number  float64       `json:"number,omitempty"`
	Checked bool          `json:"checked,omitempty"`
}

// Validate checks the attribute's name and type discriminator.
func (a Attribute) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: attribute name is required", apperrors.ErrInvalidInput)
	}
	if len(a.Name) > maxTypeLength {
		return fmt.Errorf("%w: attribute name %q exceeds %d characters", apperrors.ErrInvalidInput, a.Name, maxTypeLength)
	}
	switch a.Type {
	case AttributeText, AttributeNumber, AttributeCheckbox:
	case AttributeSelect:
		if strings.TrimSpace(a.Text) == "" {
			return fmt.Errorf("%w: select attribute %q needs a value", apperrors.ErrInvalidInput, a.Name)
		}
	default:
		return fmt.Errorf("%w: unknown attribute type %q", apperrors.ErrInvalidInput, a.Type)
	}
	return nil
}

// Component is a cataloged drawing component. PieceMark is unique within a
// project.
type Component struct {
	ID            uuid.UUID   `json:"id"`
	PieceMark     string      `json:"piece_mark"`
	ComponentType string      `json:"component_type"`
	Description   string      `json:"description"`
	Category      string      `json:"category"`
	Project       string      `json:"project"`
	DrawingNo     string      `json:"drawing_no"`
	Quantity      int         `json:"quantity"`
	Confidence    float64     `json:"confidence"`
	Attributes    []Attribute `json:"attributes"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Validate checks field constraints before the component is persisted.
func (c *Component) Validate() error {
	if strings.TrimSpace(c.PieceMark) == "" {
		return fmt.Errorf("%w: piece mark is required", apperrors.ErrInvalidInput)
	}
	if len(c.PieceMark) > maxPieceMarkLength {
		return fmt.Errorf("%w: piece mark exceeds %d characters", apperrors.ErrInvalidInput, maxPieceMarkLength)
	}
	if len(c.ComponentType) > maxTypeLength {
		return fmt.Errorf("%w: component type exceeds %d characters", apperrors.ErrInvalidInput, maxTypeLength)
	}
	if len(c.Description) > maxTextLength {
		return fmt.Errorf("%w: description exceeds %d characters", apperrors.ErrInvalidInput, maxTextLength)
	}
	if c.Quantity < 0 {
		return fmt.Errorf("%w: quantity must not be negative", apperrors.ErrInvalidInput)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be between 0 and 1", apperrors.ErrInvalidInput)
	}
	if len(c.Attributes) > maxAttributeCount {
		return fmt.Errorf("%w: too many attributes (max %d)", apperrors.ErrInvalidInput, maxAttributeCount)
	}
	for i, attr := range c.Attributes {
		if err := attr.Validate(); err != nil {
			return fmt.Errorf("attribute %d: %w", i, err)
		}
	}
	return nil
}

// TypeCount is one row of the per-type catalog breakdown.
type TypeCount struct {
	ComponentType string `json:"component_type"`
	Count         int64  `json:"count"`
}
