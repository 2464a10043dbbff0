package rbac

import (
	"reflect"
	"testing"
)

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		scopes []Scope
		action Action
		allow  bool
	}{
		{name: "create scope creates", scopes: []Scope{ScopeCreate}, action: ActionCreate, allow: true},
		{name: "create scope cannot delete", scopes: []Scope{ScopeCreate}, action: ActionDelete, allow: false},
		{name: "undelete needs its own scope", scopes: []Scope{ScopeDelete}, action: ActionUndelete, allow: false},
		{name: "media via create", scopes: []Scope{ScopeCreate}, action: ActionMedia, allow: true},
		{name: "media via media", scopes: []Scope{ScopeMedia}, action: ActionMedia, allow: true},
		{name: "update", scopes: []Scope{ScopeUpdate}, action: ActionUpdate, allow: true},
		{name: "no scopes", scopes: nil, action: ActionCreate, allow: false},
		{name: "unknown action", scopes: AllScopes, action: Action("admin"), allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.scopes, tc.action); got != tc.allow {
				t.Fatalf("Can(%v, %q) = %v, want %v", tc.scopes, tc.action, got, tc.allow)
			}
		})
	}
}

func TestParseScopes(t *testing.T) {
	got := ParseScopes("  post update\tmedia ")
	want := []Scope{ScopeCreate, ScopeUpdate, ScopeMedia}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseScopes() = %v, want %v", got, want)
	}
}
