package query

// Classify inspects a token sequence and labels the query's overall type.
// Four feature flags are computed independently (boolean operator, wildcard,
// quoted phrase, parenthesis). Zero features is a simple query; exactly one
// maps to the matching type; a parenthesis-only query and any two-feature
// combination are classified complex.
func Classify(tokens []Token) QueryType {
	hasBool, hasWildcard, hasQuoted, hasParen := features(tokens)

	count := 0
	for _, f := range []bool{hasBool, hasWildcard, hasQuoted, hasParen} {
		if f {
			count++
		}
	}

	switch {
	case count == 0:
		return QuerySimple
	case count == 1 && hasBool:
		return QueryBoolean
	case count == 1 && hasWildcard:
		return QueryWildcard
	case count == 1 && hasQuoted:
		return QueryQuoted
	default:
		return QueryComplex
	}
}

func features(tokens []Token) (hasBool, hasWildcard, hasQuoted, hasParen bool) {
	for _, tok := range tokens {
		switch tok.Kind {
		case TokenAND, TokenOR, TokenNOT:
			hasBool = true
		case TokenWildcard:
			hasWildcard = true
		case TokenPhrase:
			hasQuoted = true
		case TokenLParen, TokenRParen:
			hasParen = true
		}
	}
	return
}

// ComplexityScore computes a 0-100 heuristic used for warnings and telemetry.
// It never affects correctness.
func ComplexityScore(tokens []Token, queryType QueryType) int {
	score := 20
	if queryType == QuerySimple {
		score = 10
	}

	hasBool, hasWildcard, _, _ := features(tokens)
	if hasBool {
		score += 20
	}
	if hasWildcard {
		score += 15
	}

	tokenWeight := 2 * len(tokens)
	if tokenWeight > 30 {
		tokenWeight = 30
	}
	score += tokenWeight

	score += 10 * maxParenDepth(tokens)

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

func maxParenDepth(tokens []Token) int {
	depth, deepest := 0, 0
	for _, tok := range tokens {
		switch tok.Kind {
		case TokenLParen:
			depth++
			if depth > deepest {
				deepest = depth
			}
		case TokenRParen:
			if depth > 0 {
				depth--
			}
		}
	}
	return deepest
}
