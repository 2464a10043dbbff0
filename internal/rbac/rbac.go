package rbac

import "strings"

type Scope string
type Action string

const (
	ScopeCreate   Scope = "create"
	ScopeUpdate   Scope = "update"
	ScopeDelete   Scope = "delete"
	ScopeUndelete Scope = "undelete"
	ScopeMedia    Scope = "media"
)

const (
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionUndelete Action = "undelete"
	ActionMedia    Action = "media"
)

// AllScopes is granted to development sessions and the static token.
var AllScopes = []Scope{ScopeCreate, ScopeUpdate, ScopeDelete, ScopeUndelete, ScopeMedia}

func Can(scopes []Scope, action Action) bool {
	switch action {
	case ActionMedia:
		return has(scopes, ScopeCreate) || has(scopes, ScopeMedia)
	case ActionCreate, ActionUpdate, ActionDelete, ActionUndelete:
		return has(scopes, Scope(action))
	default:
		return false
	}
}

// Normalize maps the legacy "post" scope onto "create".
func Normalize(scope string) Scope {
	if scope == "post" {
		return ScopeCreate
	}
	return Scope(scope)
}

// ParseScopes splits a space separated scope list.
func ParseScopes(raw string) []Scope {
	fields := strings.Fields(raw)
	scopes := make([]Scope, 0, len(fields))
	for _, f := range fields {
		scopes = append(scopes, Normalize(f))
	}
	return scopes
}

func has(scopes []Scope, want Scope) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
