package statechain

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// State is the contract a chain's shared state object must satisfy.
// Any type exposing named-field get/set semantics can serve as chain
// state, including strongly-typed records that map field names onto
// struct members. The designated error field (default "error") holds
// a Go error value; a nil or absent value means "no error".
//
// Steps mutate state by declaring the whole-state parameter (default
// "state") and calling Set on it. The engine itself only writes to the
// error field.
type State interface {
	Get(field string) (any, bool)
	Set(field string, value any)
}

// Bag is the default State implementation: a generic attribute
// container keyed by field name. It is not safe for concurrent use,
// matching the engine's single-threaded execution model.
type Bag struct {
	fields map[string]any
}

// NewBag creates an empty Bag. It is the state factory used by
// NewChain.
func NewBag() *Bag {
	return &Bag{fields: make(map[string]any)}
}

// BagOf creates a Bag pre-populated with the given fields.
// The map is copied; the caller's map is not retained.
//
// Example:
//
//	state := statechain.BagOf(map[string]any{"x": 0, "user": u})
func BagOf(fields map[string]any) *Bag {
	b := NewBag()
	for k, v := range fields {
		b.fields[k] = v
	}
	return b
}

// Get returns the value of the named field and whether it is present.
func (b *Bag) Get(field string) (any, bool) {
	v, ok := b.fields[field]
	return v, ok
}

// Set stores value under the named field, replacing any previous value.
func (b *Bag) Set(field string, value any) {
	b.fields[field] = value
}

// Has reports whether the named field is present.
func (b *Bag) Has(field string) bool {
	_, ok := b.fields[field]
	return ok
}

// Delete removes the named field if present.
func (b *Bag) Delete(field string) {
	delete(b.fields, field)
}

// Len returns the number of fields in the bag.
func (b *Bag) Len() int {
	return len(b.fields)
}

// Fields returns the field names in sorted order.
func (b *Bag) Fields() []string {
	names := make([]string, 0, len(b.fields))
	for k := range b.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Equal reports whether both bags hold the same fields with deeply
// equal values. Handy in tests and debugging assertions.
func (b *Bag) Equal(other *Bag) bool {
	if other == nil {
		return false
	}
	return reflect.DeepEqual(b.fields, other.fields)
}

// String renders the bag as "Bag{k: v, ...}" with fields in sorted
// order, for stable debugging output.
func (b *Bag) String() string {
	var sb strings.Builder
	sb.WriteString("Bag{")
	for i, k := range b.Fields() {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s: %v", k, b.fields[k])
	}
	sb.WriteString("}")
	return sb.String()
}

// stateError reads the chain error slot from a state object. A missing
// field, a nil value, or a non-error value all count as "no error".
func stateError(s State, field Name) error {
	v, ok := s.Get(field)
	if !ok || v == nil {
		return nil
	}
	err, ok := v.(error)
	if !ok {
		return nil
	}
	return err
}
