package vars

import (
	"sync/atomic"
)

// Snapshot is a single-slot, swap-on-write value shared between goroutines.
// Writers publish a fresh copy; readers always observe a complete value.
// Every write raises the dirty flag until MarkClean.
type Snapshot[T any] struct {
	value atomic.Pointer[T]
	dirty atomic.Bool
}

// NewSnapshot creates a Snapshot holding initial
func NewSnapshot[T any](initial T) *Snapshot[T] {
	s := &Snapshot[T]{}
	s.value.Store(&initial)
	return s
}

// Get returns the current value. A zero Snapshot returns the zero value of T.
func (s *Snapshot[T]) Get() T {
	ptr := s.value.Load()
	if ptr == nil {
		var zero T
		return zero
	}
	return *ptr
}

// Update applies fn to the current value and publishes the result if changed reports true.
// Concurrent updaters retry until their compare-and-swap wins.
func (s *Snapshot[T]) Update(fn func(current T) (next T, changed bool)) bool {
	for {
		oldPtr := s.value.Load()
		var current T
		if oldPtr != nil {
			current = *oldPtr
		}
		next, changed := fn(current)
		if !changed {
			return false
		}
		if s.value.CompareAndSwap(oldPtr, &next) {
			s.dirty.Store(true)
			return true
		}
	}
}

// IsDirty returns true if the value has been modified since last clean
func (s *Snapshot[T]) IsDirty() bool {
	return s.dirty.Load()
}

// MarkClean marks the value as clean
func (s *Snapshot[T]) MarkClean() {
	s.dirty.Store(false)
}
