package search

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/fabworks/piecemark/internal/query"
	apperrors "github.com/fabworks/piecemark/pkg/errors"
)

// Compile converts a validated parse result into a filter expression over the
// given physical columns. All values end up as bound parameters; the compiled
// expression never interpolates user input into SQL text.
//
// Recognised shapes: a single term (matched at three strengths: exact,
// prefix, substring), a single phrase or wildcard, `term OPERATOR term`, and
// `NOT term`. Every other sequence falls back to OR-combining the matchable
// tokens with operator semantics ignored; there is no expression tree.
//
// A nil filter with nil error means no text filter should be applied.
func Compile(pr *query.ParseResult, columns []string) (sq.Sqlizer, error) {
	if pr == nil || !pr.IsValid {
		msg := "nil parse result"
		if pr != nil {
			msg = pr.ErrorMessage
		}
		return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidQuery, msg)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: no searchable columns", apperrors.ErrInvalidInput)
	}
	tokens := pr.Tokens
	if len(tokens) == 0 {
		return nil, nil
	}

	switch {
	case len(tokens) == 1 && tokens[0].Kind == query.TokenTerm:
		return simpleTermFilter(columns, tokens[0].Value), nil

	case len(tokens) == 1 && isMatchable(tokens[0].Kind):
		return tokenFilter(columns, tokens[0]), nil

	case len(tokens) == 2 && tokens[0].Kind == query.TokenNOT && isMatchable(tokens[1].Kind):
		return sq.Expr("NOT (?)", tokenFilter(columns, tokens[1])), nil

	case len(tokens) == 3 && isMatchable(tokens[0].Kind) && tokens[1].Kind.IsOperator() && isMatchable(tokens[2].Kind):
		left := tokenFilter(columns, tokens[0])
		right := tokenFilter(columns, tokens[2])
		switch tokens[1].Kind {
		case query.TokenAND:
			return sq.And{left, right}, nil
		case query.TokenOR:
			return sq.Or{left, right}, nil
		default:
			return sq.And{left, sq.Expr("NOT (?)", right)}, nil
		}
	}

	return flatFilter(columns, tokens)
}

func isMatchable(k query.TokenKind) bool {
	return k == query.TokenTerm || k == query.TokenPhrase || k == query.TokenWildcard
}

// simpleTermFilter matches a single plain term at three strengths across all
// columns: exact equality, prefix, and substring, all case-insensitive.
func simpleTermFilter(columns []string, term string) sq.Sqlizer {
	esc := escapeLike(term)
	or := make(sq.Or, 0, 3*len(columns))
	for _, col := range columns {
		or = append(or,
			sq.ILike{col: esc},
			sq.ILike{col: esc + "%"},
			sq.ILike{col: "%" + esc + "%"},
		)
	}
	return or
}

// tokenFilter matches one token across all columns, OR-combined. Terms and
// quoted phrases compile to a case-insensitive substring match; wildcard
// tokens have their pattern translated first.
func tokenFilter(columns []string, tok query.Token) sq.Sqlizer {
	var pattern string
	switch tok.Kind {
	case query.TokenWildcard:
		pattern = ConvertWildcards(tok.Value)
	default:
		pattern = "%" + escapeLike(tok.Value) + "%"
	}
	or := make(sq.Or, 0, len(columns))
	for _, col := range columns {
		or = append(or, sq.ILike{col: pattern})
	}
	return or
}

// flatFilter OR-combines every matchable token and ignores operators and
// grouping entirely.
func flatFilter(columns []string, tokens []query.Token) (sq.Sqlizer, error) {
	or := sq.Or{}
	for _, tok := range tokens {
		if isMatchable(tok.Kind) {
			or = append(or, tokenFilter(columns, tok))
		}
	}
	if len(or) == 0 {
		return nil, nil
	}
	return or, nil
}

// ConvertWildcards translates query wildcards into SQL pattern syntax: `*`
// becomes `%` (zero or more characters) and `?` becomes `_` (exactly one).
// Native pattern characters already present are escaped so they match
// literally.
func ConvertWildcards(term string) string {
	var b strings.Builder
	b.Grow(len(term) + 4)
	for _, r := range term {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike escapes characters that are significant in LIKE patterns.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
