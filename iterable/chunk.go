package iterable

import (
	"sort"
	"unsafe"

	"github.com/rotisserie/eris"

	"github.com/operatics/machina"
	"github.com/operatics/machina/fingerprint"
	"github.com/operatics/machina/mark"
	"github.com/operatics/machina/registry"
	"github.com/operatics/machina/subject"
)

// ChunkSlot pairs a subject with its fingerprint. The fingerprint is the
// subject's live one while the subject is at home here; after a mid-lock
// migration or despawn the slot keeps a detached stale clone until the next
// compaction.
type ChunkSlot struct {
	Subject subject.ID
	FP      *fingerprint.Fingerprint
}

// Chunk groups subjects whose traitmark is exactly the chunk's traitmark
// and stores their trait data in dense per-trait byte lines.
type Chunk struct {
	lockState

	reg       *registry.Registry
	traitmark mark.Traitmark
	sizes     []int

	// lines[i] holds len(slots) records of sizes[i] bytes each.
	lines [][]byte
	slots []ChunkSlot

	// removed queues slot indices marked stale while locked.
	removed []int

	observer SlotObserver
}

// NewChunk creates a chunk for the exact traitmark. The traitmark is frozen
// for the chunk's lifetime: composition changes move subjects to other
// chunks instead.
func NewChunk(reg *registry.Registry, tm mark.Traitmark, observer SlotObserver) (*Chunk, error) {
	c := &Chunk{
		reg:       reg,
		traitmark: tm.Clone(),
		observer:  observer,
	}
	c.lockState.init()
	c.traitmark.Freeze()
	c.sizes = make([]int, c.traitmark.Len())
	c.lines = make([][]byte, c.traitmark.Len())
	for i := 0; i < c.traitmark.Len(); i++ {
		info, err := reg.Trait(c.traitmark.At(i))
		if err != nil {
			return nil, err
		}
		c.sizes[i] = info.Size
	}
	return c, nil
}

// Traitmark returns the chunk's frozen traitmark.
func (c *Chunk) Traitmark() *mark.Traitmark { return &c.traitmark }

// LineOf returns the line index of the trait type, or -1.
func (c *Chunk) LineOf(id registry.TraitID) int { return c.traitmark.IndexOf(id) }

// LineSize returns the byte size of one record on the given line.
func (c *Chunk) LineSize(line int) int { return c.sizes[line] }

// Len returns the number of physical slots, stale ones included.
func (c *Chunk) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}

// Count returns the number of live (non-stale) slots.
func (c *Chunk) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots) - len(c.removed)
}

// VisibleSlots implements Iterable.
func (c *Chunk) VisibleSlots() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.iterableCount >= 0 {
		return c.iterableCount
	}
	return len(c.slots)
}

// LockLiquid implements Iterable.
func (c *Chunk) LockLiquid() error {
	return c.lockLiquid(func() int { return len(c.slots) })
}

// LockSolid implements Iterable.
func (c *Chunk) LockSolid() error {
	return c.lockSolid(func() int { return len(c.slots) }, nil)
}

// Unlock implements Iterable.
func (c *Chunk) Unlock() error {
	return c.unlock(c.drainRemoved)
}

// Place appends a subject. The fingerprint's traitmark must equal the
// chunk's. Under a liquid lock the new slot lands beyond the iteration
// snapshot; under a solid lock placement fails.
func (c *Chunk) Place(id subject.ID, fp *fingerprint.Fingerprint) (int, error) {
	if id == subject.None {
		return -1, eris.Wrap(machina.ErrNullArgument, "placing the null subject")
	}
	if fp == nil {
		return -1, eris.Wrap(machina.ErrNullArgument, "placing a subject without a fingerprint")
	}
	if !fp.Traits().Equal(&c.traitmark) {
		return -1, eris.Wrap(machina.ErrInvalidArgument, "fingerprint traitmark differs from the chunk's")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks.Load() < 0 {
		return -1, eris.Wrap(machina.ErrInvalidState, "placing into a solid-locked chunk")
	}
	slot := len(c.slots)
	c.slots = append(c.slots, ChunkSlot{Subject: id, FP: fp})
	for i := range c.lines {
		c.lines[i] = append(c.lines[i], make([]byte, c.sizes[i])...)
	}
	return slot, nil
}

// Slot returns the slot at the given index.
func (c *Chunk) Slot(i int) ChunkSlot {
	return c.slots[i]
}

// MarkRemoved logically removes a slot: its fingerprint goes stale and the
// physical reclamation is deferred to the last unlock. At rest the slot is
// reclaimed immediately.
//
// detach substitutes a stale clone for the slot's fingerprint, leaving the
// live fingerprint untouched; migrations use it so the subject's new home
// stays clean.
func (c *Chunk) MarkRemoved(slot int, detach bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slot < 0 || slot >= len(c.slots) {
		return eris.Wrapf(machina.ErrInvalidArgument, "slot %d out of range", slot)
	}
	s := &c.slots[slot]
	if s.Subject == subject.None || s.FP.Flagmark().Has(mark.FlagStale) {
		return eris.Wrap(machina.ErrInvalidState, "slot is already removed")
	}
	if c.locks.Load() < 0 {
		return eris.Wrap(machina.ErrInvalidState, "removing from a solid-locked chunk")
	}
	if detach {
		clone := s.FP.Clone()
		clone.Flagmark().SetFlag(mark.FlagStale, true)
		s.FP = clone
	} else {
		s.FP.Flagmark().SetFlag(mark.FlagStale, true)
	}
	if c.locks.Load() > 0 {
		c.removed = append(c.removed, slot)
		return nil
	}
	c.compactSlot(slot)
	return nil
}

// drainRemoved runs under the transition critical section when the lock
// count returns to zero.
func (c *Chunk) drainRemoved() {
	if len(c.removed) == 0 {
		return
	}
	// Descending order keeps queued indices valid across swaps.
	sort.Sort(sort.Reverse(sort.IntSlice(c.removed)))
	for _, slot := range c.removed {
		c.compactSlot(slot)
	}
	c.removed = c.removed[:0]
}

// compactSlot swap-removes one slot, preserving every other slot's index
// except the moved last one, whose subject is notified through the
// observer.
func (c *Chunk) compactSlot(slot int) {
	last := len(c.slots) - 1
	released := c.slots[slot].Subject
	if c.observer != nil && released != subject.None {
		c.observer.ChunkSlotEvicted(c, released, slot)
	}
	if slot != last {
		for i := range c.lines {
			sz := c.sizes[i]
			copy(c.lines[i][slot*sz:(slot+1)*sz], c.lines[i][last*sz:(last+1)*sz])
		}
		c.slots[slot] = c.slots[last]
		if c.observer != nil && c.slots[slot].Subject != subject.None {
			c.observer.ChunkSlotMoved(c, c.slots[slot].Subject, slot)
		}
	}
	c.slots[last] = ChunkSlot{}
	c.slots = c.slots[:last]
	for i := range c.lines {
		c.lines[i] = c.lines[i][:last*c.sizes[i]]
	}
	if c.observer != nil && released != subject.None {
		c.observer.ChunkSlotReleased(c, released)
	}
}

// TraitBytes returns the in-place byte view of one trait record. The view
// is valid until the next slot advance: placements may grow the lines.
func (c *Chunk) TraitBytes(slot, line int) []byte {
	sz := c.sizes[line]
	return c.lines[line][slot*sz : (slot+1)*sz]
}

// SetTraitBytes copies data into a trait record. Writes are applied in
// place and never deferred: slot layout is stable for the lock's duration.
func (c *Chunk) SetTraitBytes(slot, line int, data []byte) error {
	if len(data) != c.sizes[line] {
		return eris.Wrapf(machina.ErrInvalidArgument,
			"trait record is %d bytes, got %d", c.sizes[line], len(data))
	}
	copy(c.TraitBytes(slot, line), data)
	return nil
}

// TraitPointer returns the raw address of one trait record for typed
// in-place access. Same validity rule as TraitBytes.
func (c *Chunk) TraitPointer(slot, line int) unsafe.Pointer {
	return unsafe.Pointer(&c.lines[line][slot*c.sizes[line]])
}

// TraitOf returns a typed in-place view of one trait record.
func TraitOf[T any](c *Chunk, slot, line int) *T {
	return (*T)(c.TraitPointer(slot, line))
}
