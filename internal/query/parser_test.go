package query

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseIdempotent(t *testing.T) {
	queries := []string{
		"C63",
		"steel AND beam",
		`"steel beam"`,
		"C6*",
		"(steel OR aluminum) AND beam",
		"girder NOT aluminum",
		"(beam OR girder",
		"'; DROP TABLE components; --",
		"",
	}
	for _, q := range queries {
		first := Parse(q)
		second := Parse(q)
		if !reflect.DeepEqual(first, second) {
			t.Errorf("query %q: repeated parse produced different results:\n%+v\n%+v", q, first, second)
		}
	}
}

func TestParseValidQuery(t *testing.T) {
	result := Parse("steel AND beam")
	if !result.IsValid {
		t.Fatalf("expected valid, got error %q", result.ErrorMessage)
	}
	if result.QueryType != QueryBoolean {
		t.Errorf("expected boolean type, got %s", result.QueryType)
	}
	if !result.HasBooleanOperators {
		t.Error("expected HasBooleanOperators")
	}
	if result.HasWildcards {
		t.Error("unexpected HasWildcards")
	}
	if want := []string{"steel", "beam"}; !reflect.DeepEqual(result.SanitizedTerms, want) {
		t.Errorf("expected sanitized terms %v, got %v", want, result.SanitizedTerms)
	}
}

func TestParseInvalidKeepsTokens(t *testing.T) {
	result := Parse("(beam OR girder")
	if result.IsValid {
		t.Fatal("expected invalid")
	}
	if !strings.Contains(result.ErrorMessage, "unmatched parentheses") {
		t.Errorf("expected unmatched-parentheses message, got %q", result.ErrorMessage)
	}
	if len(result.Tokens) != 4 {
		t.Errorf("expected 4 tokens preserved, got %d", len(result.Tokens))
	}
}

func TestParseForbiddenInput(t *testing.T) {
	result := Parse("'; DROP TABLE components; --")
	if result.IsValid {
		t.Fatal("expected invalid")
	}
	if !strings.Contains(result.ErrorMessage, "forbidden") {
		t.Errorf("expected forbidden-pattern message, got %q", result.ErrorMessage)
	}
	if len(result.Tokens) != 0 {
		t.Errorf("forbidden input must not be tokenized, got %d tokens", len(result.Tokens))
	}
}

func TestParseEmptyAndWhitespace(t *testing.T) {
	for _, q := range []string{"", "   ", "\t\n"} {
		result := Parse(q)
		if result.IsValid {
			t.Errorf("query %q: expected invalid", q)
		}
		if !strings.Contains(result.ErrorMessage, "empty query") {
			t.Errorf("query %q: expected empty-query message, got %q", q, result.ErrorMessage)
		}
	}
}

func TestParseSanitizedTerms(t *testing.T) {
	result := Parse("st'eel <beam>")
	if want := []string{"steel", "beam"}; !reflect.DeepEqual(result.SanitizedTerms, want) {
		t.Errorf("expected %v, got %v", want, result.SanitizedTerms)
	}

	// Phrases and wildcards contribute their values too, operators do not.
	result = Parse(`"box girder" AND W12*`)
	if want := []string{"box girder", "W12*"}; !reflect.DeepEqual(result.SanitizedTerms, want) {
		t.Errorf("expected %v, got %v", want, result.SanitizedTerms)
	}
}

func TestParseWildcardFlags(t *testing.T) {
	result := Parse("C6* OR W?21")
	if !result.HasWildcards {
		t.Error("expected HasWildcards")
	}
	if !result.HasBooleanOperators {
		t.Error("expected HasBooleanOperators")
	}
	if result.QueryType != QueryComplex {
		t.Errorf("expected complex (wildcard + boolean), got %s", result.QueryType)
	}
}
