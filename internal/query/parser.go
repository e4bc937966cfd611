// Package query implements the search query parsing core: an injection
// screen, a tokenizer for boolean operators, wildcards, quoted phrases and
// parenthetical grouping, a structural syntax validator, and a query
// classifier with a complexity heuristic.
//
// Everything in this package is a pure function over its inputs. Each call
// builds and discards its own token sequence, so the package is safe for
// unlimited concurrent use with no coordination.
package query

import "strings"

// ParseResult is the full outcome of parsing one raw query string.
// When IsValid is false the token sequence may be partially populated and
// must not be handed to the filter compiler.
type ParseResult struct {
	Tokens              []Token
	QueryType           QueryType
	IsValid             bool
	ErrorMessage        string
	SanitizedTerms      []string
	HasWildcards        bool
	HasBooleanOperators bool
}

// Parse runs the full pipeline over a raw query: injection screen, tokenize,
// validate, classify. The injection screen runs first so that matching input
// never reaches the tokenizer.
func Parse(raw string) *ParseResult {
	if ContainsForbiddenPattern(raw) {
		return &ParseResult{
			QueryType:    QuerySimple,
			IsValid:      false,
			ErrorMessage: "query contains forbidden characters or patterns",
		}
	}

	tokens := Tokenize(raw)
	result := &ParseResult{
		Tokens:         tokens,
		SanitizedTerms: sanitizeTerms(tokens),
	}
	result.HasBooleanOperators, result.HasWildcards, _, _ = features(tokens)
	result.QueryType = Classify(tokens)

	ok, msg := Validate(tokens)
	result.IsValid = ok
	result.ErrorMessage = msg
	return result
}

// sanitizer strips characters that have meaning to SQL or HTML from term
// values before they are logged or echoed back to callers.
var sanitizer = strings.NewReplacer(
	"<", "",
	">", "",
	`"`, "",
	"'", "",
	";", "",
	"`", "",
)

func sanitizeTerms(tokens []Token) []string {
	terms := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		switch tok.Kind {
		case TokenTerm, TokenPhrase, TokenWildcard:
			if clean := sanitizer.Replace(tok.Value); clean != "" {
				terms = append(terms, clean)
			}
		}
	}
	return terms
}
