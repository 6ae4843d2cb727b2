// Package allowlist implements the "is this key permitted" predicate used for
// body fields and redirect origins.
//
// A List is one of three things: the wildcard (everything is permitted),
// empty (nothing is permitted), or an explicit set of permitted keys.
package allowlist

import (
	"fmt"
	"iter"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shineum/contact-form-lite/internal/form"
)

// Wildcard is the configuration value that permits every key.
const Wildcard = "*"

type kind int

const (
	kindNone kind = iota
	kindAll
	kindSet
)

// List is an immutable allow-list. The zero value permits nothing.
type List struct {
	kind  kind
	items []string
	set   map[string]struct{}
}

// All returns a List that permits every key.
func All() List {
	return List{kind: kindAll}
}

// None returns a List that permits no key.
func None() List {
	return List{}
}

// Parse builds a List from its string form: "*" permits everything, the empty
// string permits nothing, anything else is split on single spaces.
func Parse(s string) List {
	switch s {
	case Wildcard:
		return All()
	case "":
		return None()
	}
	return Of(strings.Split(s, " ")...)
}

// Of builds a List from an explicit sequence of keys. "*" inside the sequence
// is an ordinary key, not the wildcard.
func Of(items ...string) List {
	if len(items) == 0 {
		return None()
	}
	l := List{
		kind:  kindSet,
		items: make([]string, len(items)),
		set:   make(map[string]struct{}, len(items)),
	}
	copy(l.items, items)
	for _, it := range items {
		l.set[it] = struct{}{}
	}
	return l
}

// Contains reports whether key is permitted.
func (l List) Contains(key string) bool {
	switch l.kind {
	case kindAll:
		return true
	case kindSet:
		_, ok := l.set[key]
		return ok
	default:
		return false
	}
}

// IsWildcard reports whether the list permits every key.
func (l List) IsWildcard() bool {
	return l.kind == kindAll
}

// IsEmpty reports whether the list permits no key.
func (l List) IsEmpty() bool {
	return l.kind == kindNone
}

// Filter lazily yields the fields whose name is permitted, in submission order.
func (l List) Filter(fields form.Fields) iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for k, v := range fields.All() {
			if !l.Contains(k) {
				continue
			}
			if !yield(k, v) {
				return
			}
		}
	}
}

// FilterKeys lazily yields the permitted keys of seq, in order.
func (l List) FilterKeys(seq iter.Seq[string]) iter.Seq[string] {
	return func(yield func(string) bool) {
		for k := range seq {
			if !l.Contains(k) {
				continue
			}
			if !yield(k) {
				return
			}
		}
	}
}

// FilterSlice is FilterKeys over a slice.
func (l List) FilterSlice(keys []string) iter.Seq[string] {
	return l.FilterKeys(func(yield func(string) bool) {
		for _, k := range keys {
			if !yield(k) {
				return
			}
		}
	})
}

// String returns the list in its configuration form.
func (l List) String() string {
	switch l.kind {
	case kindAll:
		return Wildcard
	case kindSet:
		return strings.Join(l.items, " ")
	default:
		return ""
	}
}

// UnmarshalYAML accepts a scalar (parsed with Parse), a sequence of keys, or null.
func (l *List) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.ShortTag() == "!!null" {
			*l = None()
			return nil
		}
		*l = Parse(value.Value)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return fmt.Errorf("failed to decode allow-list: %w", err)
		}
		*l = Of(items...)
		return nil
	default:
		return fmt.Errorf("allow-list must be a string or a list, got line %d", value.Line)
	}
}
