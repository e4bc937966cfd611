package query

// TokenKind identifies the lexical class of a token.
type TokenKind int

const (
	TokenTerm TokenKind = iota
	TokenPhrase
	TokenAND
	TokenOR
	TokenNOT
	TokenLParen
	TokenRParen
	TokenWildcard
)

func (k TokenKind) String() string {
	switch k {
	case TokenTerm:
		return "term"
	case TokenPhrase:
		return "quoted_phrase"
	case TokenAND:
		return "and"
	case TokenOR:
		return "or"
	case TokenNOT:
		return "not"
	case TokenLParen:
		return "lparen"
	case TokenRParen:
		return "rparen"
	case TokenWildcard:
		return "wildcard"
	default:
		return "unknown"
	}
}

// IsOperator reports whether the kind is AND, OR, or NOT.
func (k TokenKind) IsOperator() bool {
	return k == TokenAND || k == TokenOR || k == TokenNOT
}

// Token is an atomic lexical unit of a search query. Value holds the
// normalised form (quotes stripped, operators uppercased); Raw holds the
// original substring; Offset is the character position in the source string.
type Token struct {
	Kind   TokenKind
	Value  string
	Raw    string
	Offset int
}

// QueryType labels the overall shape of a parsed query.
type QueryType int

const (
	QuerySimple QueryType = iota
	QueryBoolean
	QueryWildcard
	QueryQuoted
	QueryComplex
)

func (t QueryType) String() string {
	switch t {
	case QuerySimple:
		return "simple"
	case QueryBoolean:
		return "boolean"
	case QueryWildcard:
		return "wildcard"
	case QueryQuoted:
		return "quoted"
	case QueryComplex:
		return "complex"
	default:
		return "unknown"
	}
}
