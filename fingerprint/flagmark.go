package fingerprint

import (
	"sync/atomic"

	"github.com/operatics/machina/mark"
)

// AtomicFlagmark is a flag word shared between iterators and mutators.
// Loads observe released stores (Go atomics are sequentially consistent,
// which subsumes the acquire/release contract the engine needs).
type AtomicFlagmark struct {
	v atomic.Uint32
}

// Get returns the current flag word.
func (a *AtomicFlagmark) Get() mark.Flagmark {
	return mark.Flagmark(a.v.Load())
}

// Set replaces the flag word, reporting whether it changed.
func (a *AtomicFlagmark) Set(f mark.Flagmark) bool {
	return mark.Flagmark(a.v.Swap(uint32(f))) != f
}

// SetMasked replaces only the bits selected by the mask, reporting whether
// the word changed.
func (a *AtomicFlagmark) SetMasked(f, mask mark.Flagmark) bool {
	for {
		old := a.v.Load()
		next := old&^uint32(mask) | uint32(f&mask)
		if old == next {
			return false
		}
		if a.v.CompareAndSwap(old, next) {
			return true
		}
	}
}

// FetchOr raises the given flags, returning the previous word.
func (a *AtomicFlagmark) FetchOr(f mark.Flagmark) mark.Flagmark {
	for {
		old := a.v.Load()
		if a.v.CompareAndSwap(old, old|uint32(f)) {
			return mark.Flagmark(old)
		}
	}
}

// FetchAnd keeps only the given flags, returning the previous word.
func (a *AtomicFlagmark) FetchAnd(f mark.Flagmark) mark.Flagmark {
	for {
		old := a.v.Load()
		if a.v.CompareAndSwap(old, old&uint32(f)) {
			return mark.Flagmark(old)
		}
	}
}

// Toggle flips the given flags, returning the new word.
func (a *AtomicFlagmark) Toggle(f mark.Flagmark) mark.Flagmark {
	for {
		old := a.v.Load()
		next := old ^ uint32(f)
		if a.v.CompareAndSwap(old, next) {
			return mark.Flagmark(next)
		}
	}
}

// SetFlag raises or lowers the given flags, reporting whether the word
// changed.
func (a *AtomicFlagmark) SetFlag(f mark.Flagmark, on bool) bool {
	if on {
		return !a.FetchOr(f).Has(f)
	}
	return a.FetchAnd(^f).HasAny(f)
}

// Has reports whether all given flags are raised.
func (a *AtomicFlagmark) Has(f mark.Flagmark) bool {
	return a.Get().Has(f)
}

// HasAny reports whether any of the given flags is raised.
func (a *AtomicFlagmark) HasAny(f mark.Flagmark) bool {
	return a.Get().HasAny(f)
}
