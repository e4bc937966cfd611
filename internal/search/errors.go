package search

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/fabworks/piecemark/internal/query"
)

// ErrorType categorises a user-facing search error.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeSecurity   ErrorType = "security"
	ErrorTypeParsing    ErrorType = "parsing"
	ErrorTypeExecution  ErrorType = "execution"
	ErrorTypePermission ErrorType = "permission"
)

// StructuredError is the categorised, user-facing form of a search failure.
// Message and Suggestions are safe to render directly; internal error text
// never appears in them.
type StructuredError struct {
	ErrorType   ErrorType `json:"error_type"`
	Message     string    `json:"message"`
	Position    *int      `json:"position,omitempty"`
	Details     string    `json:"details,omitempty"`
	Suggestions []string  `json:"suggestions"`
}

// ValidationResult is the caller-facing outcome of validating a raw query
// against a scope selection.
type ValidationResult struct {
	IsValid         bool             `json:"is_valid"`
	QueryType       string           `json:"query_type"`
	ComplexityScore int              `json:"complexity_score"`
	SanitizedQuery  string           `json:"sanitized_query"`
	ScopeApplied    []Scope          `json:"scope_applied"`
	Warnings        []string         `json:"warnings,omitempty"`
	Error           *StructuredError `json:"error,omitempty"`
}

// ValidateQuery short-circuits on empty query and empty scope before running
// the parser, translating any failure into a StructuredError. On success it
// attaches non-fatal warnings for unusually complex queries.
func ValidateQuery(rawQuery string, scopes []Scope) *ValidationResult {
	result := &ValidationResult{
		QueryType:    query.QuerySimple.String(),
		ScopeApplied: scopes,
	}
	if strings.TrimSpace(rawQuery) == "" {
		result.Error = TranslateParseError("empty query")
		return result
	}
	if len(scopes) == 0 {
		result.Error = &StructuredError{
			ErrorType: ErrorTypeValidation,
			Message:   "At least one search scope is required.",
			Suggestions: []string{
				"Select one or more of: piece_mark, component_type, description",
			},
		}
		return result
	}

	pr := query.Parse(rawQuery)
	result.QueryType = pr.QueryType.String()
	result.SanitizedQuery = strings.Join(pr.SanitizedTerms, " ")
	if !pr.IsValid {
		result.Error = TranslateParseError(pr.ErrorMessage)
		return result
	}

	result.IsValid = true
	result.ComplexityScore = query.ComplexityScore(pr.Tokens, pr.QueryType)
	if result.ComplexityScore > 80 {
		result.Warnings = append(result.Warnings, "query is unusually complex and may be slow")
	}
	if len(pr.Tokens) > 10 {
		result.Warnings = append(result.Warnings, "query has many terms; consider narrowing it")
	}
	return result
}

var (
	positionPattern = regexp.MustCompile(`position (\d+)`)
	operatorPattern = regexp.MustCompile(`\b(AND|OR|NOT)\b`)
)

// TranslateParseError maps an internal parse or validation message to a
// user-facing StructuredError with actionable suggestions. Matching is on
// message substrings, checked most specific first.
func TranslateParseError(msg string) *StructuredError {
	lower := strings.ToLower(msg)
	pos := extractPosition(msg)

	switch {
	case strings.Contains(lower, "forbidden"):
		return &StructuredError{
			ErrorType: ErrorTypeSecurity,
			Message:   "The query contains characters or patterns that are not allowed.",
			Suggestions: []string{
				"Remove special characters such as quotes, semicolons, and angle brackets",
				"Search using plain words, piece marks, or numbers",
				"Use * and ? for partial matches instead of special syntax",
			},
		}

	case strings.Contains(lower, "empty query"):
		return &StructuredError{
			ErrorType: ErrorTypeValidation,
			Message:   "Search query cannot be empty.",
			Suggestions: []string{
				"Enter a piece mark, component type, or description to search for",
			},
		}

	case strings.Contains(lower, "parenthes") && !strings.Contains(lower, "not operator"):
		return &StructuredError{
			ErrorType: ErrorTypeParsing,
			Message:   "Parentheses in the query are not balanced.",
			Position:  pos,
			Suggestions: []string{
				"Check that every opening parenthesis has a matching closing one",
				"Example: (steel OR aluminum) AND beam",
			},
		}

	case strings.Contains(lower, "not operator"):
		return &StructuredError{
			ErrorType: ErrorTypeParsing,
			Message:   "The NOT operator must be followed by a term or a parenthesized group.",
			Position:  pos,
			Suggestions: []string{
				"Place the term to exclude directly after NOT",
				"Example: girder NOT aluminum",
				"Example: beam NOT (aluminum OR plastic)",
			},
		}

	case strings.Contains(lower, "needs a term"):
		message := "The operator must connect two search terms."
		suggestions := []string{
			"Place a search term on each side of the operator",
			"Example: steel AND beam",
			"Example: beam OR girder",
		}
		if op := extractOperator(msg); op != "" {
			message = fmt.Sprintf("The %s operator must connect two search terms.", op)
			suggestions[0] = fmt.Sprintf("Place a search term on each side of %s", op)
		}
		return &StructuredError{
			ErrorType:   ErrorTypeParsing,
			Message:     message,
			Position:    pos,
			Suggestions: suggestions,
		}

	case operatorPattern.MatchString(msg) || strings.Contains(lower, "operator"):
		return &StructuredError{
			ErrorType: ErrorTypeParsing,
			Message:   "The query uses boolean operators incorrectly.",
			Position:  pos,
			Suggestions: []string{
				"Combine terms with AND, OR, or NOT placed between them",
				"Example: steel AND beam",
			},
		}

	default:
		return &StructuredError{
			ErrorType: ErrorTypeValidation,
			Message:   "The query could not be understood.",
			Position:  pos,
			Suggestions: []string{
				"Simplify the query and try again",
				"Start with a single piece mark or keyword",
			},
		}
	}
}

// ExecutionError reports a data-access failure without exposing internals.
func ExecutionError() *StructuredError {
	return &StructuredError{
		ErrorType: ErrorTypeExecution,
		Message:   "The search could not be completed.",
		Suggestions: []string{
			"Try again in a few moments",
		},
	}
}

// TimeoutError reports that the search exceeded its deadline.
func TimeoutError() *StructuredError {
	return &StructuredError{
		ErrorType: ErrorTypeExecution,
		Message:   "The search took too long and was cancelled.",
		Suggestions: []string{
			"Narrow the query with more specific terms",
			"Search fewer scopes at once",
		},
	}
}

// PermissionError reports that the caller may not search the given context.
func PermissionError() *StructuredError {
	return &StructuredError{
		ErrorType: ErrorTypePermission,
		Message:   "You do not have permission to search this catalog.",
		Suggestions: []string{
			"Check that your API key is valid and has search access",
		},
	}
}

func extractPosition(msg string) *int {
	m := positionPattern.FindStringSubmatch(msg)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}

func extractOperator(msg string) string {
	m := operatorPattern.FindStringSubmatch(msg)
	if m == nil {
		return ""
	}
	return m[1]
}
