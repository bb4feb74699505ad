package store

import (
	"marketwatch/internal/domain/market"
)

// Selector is a derived read view over the store that only re-emits when its
// projected value changes.
type Selector[T any] struct {
	store   *Store
	project func(market.MarketState) T
	equal   func(a, b T) bool
}

// Select builds a selector from a projection and a value equality
func Select[T any](s *Store, project func(market.MarketState) T, equal func(a, b T) bool) *Selector[T] {
	return &Selector[T]{store: s, project: project, equal: equal}
}

// Get returns the projection of the latest state
func (sel *Selector[T]) Get() T {
	return sel.project(sel.store.Snapshot())
}

// Subscribe calls fn with the current value and again whenever the value changes
func (sel *Selector[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	var (
		last T
		seen bool
	)
	return sel.store.Subscribe(func(state market.MarketState) {
		v := sel.project(state)
		if seen && sel.equal(last, v) {
			return
		}
		last, seen = v, true
		fn(v)
	})
}
