package statestore

import (
	"sort"

	"github.com/opencode-ai/sessiond/pkg/types"
)

// Ordered is a total-order-by-string-id sequence: insertion and lookup use
// binary search, matching spec.md §4.5.2's reconciliation contract (replace
// in place on an existing id, insert at the sorted position otherwise).
type Ordered[T any] struct {
	items []T
	keyFn func(T) string
}

// NewOrdered creates an empty Ordered sequence keyed by each item's Ident().
func NewOrdered[T types.Identified]() *Ordered[T] {
	return &Ordered[T]{keyFn: func(t T) string { return any(t).(types.Identified).Ident() }}
}

// NewOrderedFunc creates an empty Ordered sequence keyed by keyFn, for types
// that don't implement types.Identified directly (e.g. the types.Part
// interface, keyed by PartID()).
func NewOrderedFunc[T any](keyFn func(T) string) *Ordered[T] {
	return &Ordered[T]{keyFn: keyFn}
}

func (o *Ordered[T]) search(id string) (idx int, found bool) {
	idx = sort.Search(len(o.items), func(i int) bool { return o.keyFn(o.items[i]) >= id })
	found = idx < len(o.items) && o.keyFn(o.items[idx]) == id
	return idx, found
}

// Upsert inserts item at its sorted position, or replaces the existing
// entry with the same id in place. Returns the index and whether an
// existing entry was replaced.
func (o *Ordered[T]) Upsert(item T) (idx int, replaced bool) {
	id := o.keyFn(item)
	i, found := o.search(id)
	if found {
		o.items[i] = item
		return i, true
	}
	var zero T
	o.items = append(o.items, zero)
	copy(o.items[i+1:], o.items[i:])
	o.items[i] = item
	return i, false
}

// Remove deletes the entry with the given id, if present.
func (o *Ordered[T]) Remove(id string) (removed T, ok bool) {
	i, found := o.search(id)
	if !found {
		return removed, false
	}
	removed = o.items[i]
	o.items = append(o.items[:i], o.items[i+1:]...)
	return removed, true
}

// RemoveAt deletes and returns the entry at index i.
func (o *Ordered[T]) RemoveAt(i int) T {
	item := o.items[i]
	o.items = append(o.items[:i], o.items[i+1:]...)
	return item
}

// First returns the lowest-keyed entry, if any.
func (o *Ordered[T]) First() (item T, ok bool) {
	if len(o.items) == 0 {
		return item, false
	}
	return o.items[0], true
}

// Get returns the entry with the given id, if present.
func (o *Ordered[T]) Get(id string) (item T, ok bool) {
	i, found := o.search(id)
	if !found {
		return item, false
	}
	return o.items[i], true
}

// Items returns a defensive copy of the sequence in sorted order.
func (o *Ordered[T]) Items() []T {
	return append([]T(nil), o.items...)
}

// Len reports the number of entries.
func (o *Ordered[T]) Len() int { return len(o.items) }
