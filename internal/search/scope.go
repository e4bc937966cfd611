package search

import "fmt"

// Scope identifies a searchable semantic field of the component catalog.
type Scope string

const (
	ScopePieceMark     Scope = "piece_mark"
	ScopeComponentType Scope = "component_type"
	ScopeDescription   Scope = "description"
)

// scopeColumns maps each scope to the physical column it searches.
var scopeColumns = map[Scope]string{
	ScopePieceMark:     "piece_mark",
	ScopeComponentType: "component_type",
	ScopeDescription:   "description",
}

// AllScopes returns every searchable scope in canonical order.
func AllScopes() []Scope {
	return []Scope{ScopePieceMark, ScopeComponentType, ScopeDescription}
}

// ParseScope converts a caller-supplied identifier into a Scope.
func ParseScope(s string) (Scope, error) {
	scope := Scope(s)
	if _, ok := scopeColumns[scope]; !ok {
		return "", fmt.Errorf("unknown search scope %q", s)
	}
	return scope, nil
}

// Column returns the physical column name for the scope.
func (s Scope) Column() string {
	return scopeColumns[s]
}

// Columns maps a scope list to its physical columns, preserving order and
// dropping duplicates.
func Columns(scopes []Scope) []string {
	seen := make(map[Scope]struct{}, len(scopes))
	cols := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		if col, ok := scopeColumns[s]; ok {
			cols = append(cols, col)
		}
	}
	return cols
}
