// Package iterable implements the two storage shapes of the engine — dense
// chunks and sparse belts — together with the liquid/solid lock protocol
// that makes in-place iteration safe under structural mutation.
package iterable

import (
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"

	"github.com/operatics/machina"
	"github.com/operatics/machina/subject"
)

// Iterable is the common surface of chunks and belts as chain segments see
// it.
type Iterable interface {
	// LockLiquid acquires a mutable iteration lock. Structural effects
	// requested while liquid-locked are deferred to the last unlock.
	LockLiquid() error

	// LockSolid acquires a frozen iteration lock. Composition mutation
	// fails while solid-locked; disjoint slot ranges may be iterated
	// concurrently.
	LockSolid() error

	// Unlock releases one lock. The last unlock drains deferred removals
	// and compacts the slots.
	Unlock() error

	// VisibleSlots returns the number of slots iteration may observe:
	// the first-lock snapshot while locked, the live slot count at rest.
	VisibleSlots() int

	// Locked reports whether any lock is held.
	Locked() bool
}

// SlotObserver receives slot lifecycle notifications during placement and
// compaction. The mechanism implements it to keep its subject-info table
// authoritative.
type SlotObserver interface {
	ChunkSlotMoved(c *Chunk, id subject.ID, newIndex int)
	ChunkSlotReleased(c *Chunk, id subject.ID)

	// ChunkSlotEvicted fires before a slot's trait bytes are reclaimed,
	// while they are still addressable. A mid-lock migration leaves its
	// writes at the vacated slot; the mechanism reconciles them into the
	// subject's current home here.
	ChunkSlotEvicted(c *Chunk, id subject.ID, slot int)
	BeltSlotMoved(b *Belt, id subject.ID, newIndex int)
	BeltSlotReleased(b *Belt, id subject.ID)
}

// lockState carries the lock counter shared by chunks and belts.
//
//   - locks == 0: unlocked
//   - locks > 0: liquid-locked
//   - locks < 0: solid-locked
//
// The mutex is the transition critical section: held only while the counter
// crosses state boundaries and while draining the removed queue.
type lockState struct {
	locks atomic.Int32
	mu    sync.Mutex

	// iterableCount is the slot count snapshot taken at the first lock.
	// -1 while unlocked. Slots appended during a lock sit beyond it and
	// stay invisible to active iterators.
	iterableCount int
}

func (s *lockState) init() {
	s.iterableCount = -1
}

// Locked reports whether any lock is held.
func (s *lockState) Locked() bool {
	return s.locks.Load() != 0
}

// LiquidLocked reports whether the iterable is in the liquid state.
func (s *lockState) LiquidLocked() bool {
	return s.locks.Load() > 0
}

// SolidLocked reports whether the iterable is in the solid state.
func (s *lockState) SolidLocked() bool {
	return s.locks.Load() < 0
}

// IterableCount returns the first-lock snapshot, or -1 at rest.
func (s *lockState) IterableCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iterableCount
}

// lockLiquid transitions toward the liquid state. slotsLen supplies the
// snapshot on the first lock.
func (s *lockState) lockLiquid(slotsLen func() int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks.Load() < 0 {
		return eris.Wrap(machina.ErrInvalidState, "iterable is solid-locked")
	}
	if s.locks.Add(1) == 1 {
		s.iterableCount = slotsLen()
	}
	return nil
}

// lockSolid transitions toward the solid state.
func (s *lockState) lockSolid(slotsLen func() int, onFirst func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks.Load() > 0 {
		return eris.Wrap(machina.ErrInvalidState, "iterable is liquid-locked")
	}
	if s.locks.Add(-1) == -1 {
		s.iterableCount = slotsLen()
		if onFirst != nil {
			onFirst()
		}
	}
	return nil
}

// unlock moves the counter toward zero. drain runs under the critical
// section when the counter reaches zero; lock underflow is a fatal bug.
func (s *lockState) unlock(drain func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.locks.Load()
	if l == 0 {
		panic("iterable: unlock of an unlocked iterable")
	}
	if l > 0 {
		l = s.locks.Add(-1)
	} else {
		l = s.locks.Add(1)
	}
	if l == 0 {
		drain()
		s.iterableCount = -1
	}
	return nil
}
