package query

import (
	"regexp"
	"strings"
)

// tokenPattern drives the single-pass scan. Alternatives are tried in order
// at each position: a double-quoted span, a parenthesis, then any run of
// characters up to whitespace or a parenthesis.
var tokenPattern = regexp.MustCompile(`"[^"]*"|[()]|[^\s()]+`)

// Tokenize splits a raw query into typed tokens. Recognition precedence:
// quoted phrase, parenthesis, boolean keyword (case-insensitive whole word),
// wildcard-bearing run, plain term. Empty or whitespace-only input yields an
// empty sequence; the caller treats that as invalid.
func Tokenize(raw string) []Token {
	matches := tokenPattern.FindAllStringIndex(raw, -1)
	tokens := make([]Token, 0, len(matches))
	for _, m := range matches {
		lexeme := raw[m[0]:m[1]]
		tokens = append(tokens, makeToken(lexeme, m[0]))
	}
	return tokens
}

func makeToken(lexeme string, offset int) Token {
	tok := Token{Raw: lexeme, Offset: offset}
	switch {
	case strings.HasPrefix(lexeme, `"`) && strings.HasSuffix(lexeme, `"`) && len(lexeme) >= 2:
		tok.Kind = TokenPhrase
		tok.Value = lexeme[1 : len(lexeme)-1]
	case lexeme == "(":
		tok.Kind = TokenLParen
		tok.Value = lexeme
	case lexeme == ")":
		tok.Kind = TokenRParen
		tok.Value = lexeme
	case strings.EqualFold(lexeme, "AND"):
		tok.Kind = TokenAND
		tok.Value = "AND"
	case strings.EqualFold(lexeme, "OR"):
		tok.Kind = TokenOR
		tok.Value = "OR"
	case strings.EqualFold(lexeme, "NOT"):
		tok.Kind = TokenNOT
		tok.Value = "NOT"
	case strings.ContainsAny(lexeme, "*?"):
		tok.Kind = TokenWildcard
		tok.Value = lexeme
	default:
		tok.Kind = TokenTerm
		tok.Value = lexeme
	}
	return tok
}
