package rbac

import (
	"encoding/json"
	"slices"

	"gopkg.in/yaml.v3"
)

// Set is an unordered set of string-like values. A nil Set is a valid empty set.
// It marshals as a sorted list so snapshots are stable across processes.
type Set[T ~string] map[T]struct{}

// StringSet holds entity, app, or environment ids.
type StringSet = Set[string]

// ActionSet holds actions granted by a permission.
type ActionSet = Set[Action]

// PermissionTypeSet holds account-level permission types.
type PermissionTypeSet = Set[PermissionType]

// NewSet builds a set from the given items.
func NewSet[T ~string](items ...T) Set[T] {
	s := make(Set[T], len(items))
	for _, item := range items {
		s[item] = struct{}{}
	}
	return s
}

// NewStringSet builds a StringSet from the given ids.
func NewStringSet(items ...string) StringSet {
	return NewSet(items...)
}

// NewActionSet builds an ActionSet from the given actions.
func NewActionSet(items ...Action) ActionSet {
	return NewSet(items...)
}

// Add inserts items into the set.
func (s Set[T]) Add(items ...T) {
	for _, item := range items {
		s[item] = struct{}{}
	}
}

// AddAll inserts every member of other.
func (s Set[T]) AddAll(other Set[T]) {
	for item := range other {
		s[item] = struct{}{}
	}
}

// Remove deletes an item. Returns true if it was present.
func (s Set[T]) Remove(item T) bool {
	if _, ok := s[item]; !ok {
		return false
	}
	delete(s, item)
	return true
}

// Has reports whether item is a member.
func (s Set[T]) Has(item T) bool {
	_, ok := s[item]
	return ok
}

// Len returns the number of members.
func (s Set[T]) Len() int {
	return len(s)
}

// IsEmpty reports whether the set has no members.
func (s Set[T]) IsEmpty() bool {
	return len(s) == 0
}

// ContainsAll reports whether every member of other is in s.
func (s Set[T]) ContainsAll(other Set[T]) bool {
	for item := range other {
		if !s.Has(item) {
			return false
		}
	}
	return true
}

// Intersects reports whether s and other share at least one member.
func (s Set[T]) Intersects(other Set[T]) bool {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	for item := range small {
		if large.Has(item) {
			return true
		}
	}
	return false
}

// Intersect returns a new set with the members present in both.
func (s Set[T]) Intersect(other Set[T]) Set[T] {
	out := make(Set[T])
	for item := range s {
		if other.Has(item) {
			out[item] = struct{}{}
		}
	}
	return out
}

// Difference returns a new set with the members of s not in other.
func (s Set[T]) Difference(other Set[T]) Set[T] {
	out := make(Set[T])
	for item := range s {
		if !other.Has(item) {
			out[item] = struct{}{}
		}
	}
	return out
}

// Clone returns a copy. A nil set clones to nil.
func (s Set[T]) Clone() Set[T] {
	if s == nil {
		return nil
	}
	out := make(Set[T], len(s))
	for item := range s {
		out[item] = struct{}{}
	}
	return out
}

// Sorted returns the members in ascending order.
func (s Set[T]) Sorted() []T {
	out := make([]T, 0, len(s))
	for item := range s {
		out = append(out, item)
	}
	slices.Sort(out)
	return out
}

// MarshalJSON encodes the set as a sorted JSON array, and a nil set as null.
func (s Set[T]) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes a JSON array into the set.
func (s *Set[T]) UnmarshalJSON(data []byte) error {
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	if items == nil {
		*s = nil
		return nil
	}
	*s = NewSet(items...)
	return nil
}

// MarshalYAML encodes the set as a sorted YAML sequence.
func (s Set[T]) MarshalYAML() (interface{}, error) {
	return s.Sorted(), nil
}

// UnmarshalYAML decodes a YAML sequence into the set.
func (s *Set[T]) UnmarshalYAML(value *yaml.Node) error {
	var items []T
	if err := value.Decode(&items); err != nil {
		return err
	}
	*s = NewSet(items...)
	return nil
}
