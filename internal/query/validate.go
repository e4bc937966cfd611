package query

import "fmt"

// Validate checks a token sequence for balanced parentheses and correctly
// placed boolean operators. Rules run in order and the first failure wins.
// The checks are structural only; chained or deeply nested operator misuse
// that still satisfies adjacency rules is left to the compiler's fallback.
func Validate(tokens []Token) (bool, string) {
	if len(tokens) == 0 {
		return false, "empty query"
	}

	depth := 0
	for _, tok := range tokens {
		switch tok.Kind {
		case TokenLParen:
			depth++
		case TokenRParen:
			if depth == 0 {
				return false, fmt.Sprintf("unexpected closing parenthesis at position %d", tok.Offset)
			}
			depth--
		}
	}
	if depth != 0 {
		return false, "unmatched parentheses in query"
	}

	for i, tok := range tokens {
		switch tok.Kind {
		case TokenAND, TokenOR:
			if i == 0 || tokens[i-1].Kind.IsOperator() || tokens[i-1].Kind == TokenLParen {
				return false, fmt.Sprintf("operator %s at position %d needs a term before it", tok.Value, tok.Offset)
			}
			if i == len(tokens)-1 || tokens[i+1].Kind.IsOperator() || tokens[i+1].Kind == TokenRParen {
				return false, fmt.Sprintf("operator %s at position %d needs a term after it", tok.Value, tok.Offset)
			}
		case TokenNOT:
			if i == len(tokens)-1 {
				return false, fmt.Sprintf("NOT operator at position %d needs a term after it", tok.Offset)
			}
			switch tokens[i+1].Kind {
			case TokenTerm, TokenPhrase, TokenWildcard, TokenLParen:
			default:
				return false, fmt.Sprintf("NOT operator at position %d must be followed by a term or opening parenthesis", tok.Offset)
			}
		}
	}
	return true, ""
}
