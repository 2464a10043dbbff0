package micropub

import (
	"fmt"
	"slices"
	"strconv"
)

// ValueKind tells whether a property arrived as a single value or a list.
type ValueKind int

const (
	Scalar ValueKind = iota
	List
)

// Value is a property value resolved once at decode time. Items are strings,
// float64/bool from JSON, or map[string]any for nested objects.
type Value struct {
	Kind  ValueKind
	items []any
}

func ScalarOf(item any) Value {
	return Value{Kind: Scalar, items: []any{item}}
}

func ListOf(items ...any) Value {
	return Value{Kind: List, items: slices.Clone(items)}
}

// Strings builds a list value from a string slice.
func Strings(values []string) Value {
	items := make([]any, 0, len(values))
	for _, v := range values {
		items = append(items, v)
	}
	return Value{Kind: List, items: items}
}

// valueOf converts a decoded JSON/YAML value into a Value. Slices become
// lists, everything else a scalar.
func valueOf(raw any) Value {
	switch v := raw.(type) {
	case Value:
		return v
	case []any:
		return ListOf(v...)
	case []string:
		return Strings(v)
	default:
		return ScalarOf(v)
	}
}

func (v Value) Len() int { return len(v.items) }

func (v Value) IsZero() bool { return len(v.items) == 0 }

// Items returns a copy of the underlying items.
func (v Value) Items() []any { return slices.Clone(v.items) }

// First returns the first item or nil.
func (v Value) First() any {
	if len(v.items) == 0 {
		return nil
	}
	return v.items[0]
}

// String returns the first item rendered as text.
func (v Value) String() string {
	return itemString(v.First())
}

// Strings returns every item rendered as text, skipping nested objects.
func (v Value) Strings() []string {
	out := make([]string, 0, len(v.items))
	for _, item := range v.items {
		if _, ok := item.(map[string]any); ok {
			continue
		}
		out = append(out, itemString(item))
	}
	return out
}

// AsList returns the value with every item kept, tagged as a list.
func (v Value) AsList() Value {
	return Value{Kind: List, items: slices.Clone(v.items)}
}

// Append returns a list holding v's items followed by other's.
func (v Value) Append(other Value) Value {
	items := append(slices.Clone(v.items), other.items...)
	return Value{Kind: List, items: items}
}

// Without removes every item equal (by text) to one of remove's items.
func (v Value) Without(remove Value) Value {
	drop := make(map[string]struct{}, len(remove.items))
	for _, item := range remove.items {
		drop[itemKey(item)] = struct{}{}
	}
	kept := make([]any, 0, len(v.items))
	for _, item := range v.items {
		if _, ok := drop[itemKey(item)]; ok {
			continue
		}
		kept = append(kept, item)
	}
	return Value{Kind: v.Kind, items: kept}
}

// Interface returns the value in mf2 JSON shape: always an array.
func (v Value) Interface() []any {
	if v.items == nil {
		return []any{}
	}
	return slices.Clone(v.items)
}

// Equal reports whether two values hold the same items in order.
func (v Value) Equal(other Value) bool {
	if len(v.items) != len(other.items) {
		return false
	}
	for i := range v.items {
		if itemKey(v.items[i]) != itemKey(other.items[i]) {
			return false
		}
	}
	return true
}

func itemString(item any) string {
	switch v := item.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case map[string]any:
		if s, ok := v["value"].(string); ok {
			return s
		}
		if s, ok := v["html"].(string); ok {
			return s
		}
		return fmt.Sprint(v)
	default:
		return fmt.Sprint(v)
	}
}

func itemKey(item any) string {
	if m, ok := item.(map[string]any); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		out := "{"
		for _, k := range keys {
			out += k + "=" + itemKey(m[k]) + ";"
		}
		return out + "}"
	}
	return itemString(item)
}
