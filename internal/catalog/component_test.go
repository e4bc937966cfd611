package catalog

import (
	"errors"
	"strings"
	"testing"

	apperrors "github.com/fabworks/piecemark/pkg/errors"
)

func validComponent() *Component {
	return &Component{
		PieceMark:     "B12",
		ComponentType: "beam",
		Description:   "wide flange beam, painted",
		Category:      "structural",
		Project:       "plant-7",
		DrawingNo:     "E-101",
		Quantity:      4,
		Confidence:    0.92,
	}
}

func TestComponentValidateAccepts(t *testing.T) {
	c := validComponent()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected valid component, got %v", err)
	}
}

func TestComponentValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Component)
		wantMsg string
	}{
		{
			name:    "empty piece mark",
			mutate:  func(c *Component) { c.PieceMark = "" },
			wantMsg: "piece mark is required",
		},
		{
			name:    "whitespace piece mark",
			mutate:  func(c *Component) { c.PieceMark = "   " },
			wantMsg: "piece mark is required",
		},
		{
			name:    "piece mark too long",
			mutate:  func(c *Component) { c.PieceMark = strings.Repeat("B", 65) },
			wantMsg: "piece mark exceeds 64 characters",
		},
		{
			name:    "component type too long",
			mutate:  func(c *Component) { c.ComponentType = strings.Repeat("t", 65) },
			wantMsg: "component type exceeds 64 characters",
		},
		{
			name:    "description too long",
			mutate:  func(c *Component) { c.Description = strings.Repeat("d", 2049) },
			wantMsg: "description exceeds 2048 characters",
		},
		{
			name:    "negative quantity",
			mutate:  func(c *Component) { c.Quantity = -1 },
			wantMsg: "quantity must not be negative",
		},
		{
			name:    "confidence above one",
			mutate:  func(c *Component) { c.Confidence = 1.1 },
			wantMsg: "confidence must be between 0 and 1",
		},
		{
			name:    "confidence below zero",
			mutate:  func(c *Component) { c.Confidence = -0.1 },
			wantMsg: "confidence must be between 0 and 1",
		},
		{
			name: "too many attributes",
			mutate: func(c *Component) {
				for i := 0; i < 51; i++ {
					c.Attributes = append(c.Attributes, Attribute{Name: "n", Type: AttributeText})
				}
			},
			wantMsg: "too many attributes",
		},
		{
			name: "invalid attribute reported with index",
			mutate: func(c *Component) {
				c.Attributes = []Attribute{
					{Name: "finish", Type: AttributeText, Text: "galvanized"},
					{Name: "", Type: AttributeText},
				}
			},
			wantMsg: "attribute 1",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := validComponent()
			tc.mutate(c)

			err := c.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !errors.Is(err, apperrors.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("expected message containing %q, got %q", tc.wantMsg, err.Error())
			}
		})
	}
}

func TestComponentValidateBoundaries(t *testing.T) {
	c := validComponent()
	c.PieceMark = strings.Repeat("B", 64)
	c.Quantity = 0
	c.Confidence = 0
	if err := c.Validate(); err != nil {
		t.Errorf("expected boundary values to pass, got %v", err)
	}

	c.Confidence = 1
	if err := c.Validate(); err != nil {
		t.Errorf("expected confidence 1.0 to pass, got %v", err)
	}
}

func TestAttributeValidate(t *testing.T) {
	tests := []struct {
		name    string
		attr    Attribute
		wantErr bool
	}{
		{
			name: "text attribute",
			attr: Attribute{Name: "finish", Type: AttributeText, Text: "galvanized"},
		},
		{
			name: "number attribute",
			attr: Attribute{Name: "flange_width", Type: AttributeNumber, Number: 203.2},
		},
		{
			name: "checkbox attribute",
			attr: Attribute{Name: "shop_primed", Type: AttributeCheckbox, Checked: true},
		},
		{
			name: "select with value",
			attr: Attribute{Name: "grade", Type: AttributeSelect, Text: "A992"},
		},
		{
			name:    "select without value",
			attr:    Attribute{Name: "grade", Type: AttributeSelect},
			wantErr: true,
		},
		{
			name:    "missing name",
			attr:    Attribute{Type: AttributeText, Text: "x"},
			wantErr: true,
		},
		{
			name:    "name too long",
			attr:    Attribute{Name: strings.Repeat("a", 65), Type: AttributeText},
			wantErr: true,
		},
		{
			name:    "unknown type",
			attr:    Attribute{Name: "weight", Type: AttributeType("decimal")},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.attr.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if tc.wantErr && !errors.Is(err, apperrors.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}
