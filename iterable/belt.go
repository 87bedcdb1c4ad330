package iterable

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/operatics/machina"
	"github.com/operatics/machina/fingerprint"
	"github.com/operatics/machina/mark"
	"github.com/operatics/machina/registry"
	"github.com/operatics/machina/subject"
)

// Belt groups subjects by detail composition. Unlike chunks, belts are
// sparse: a slot's detailmark is a subset of the belt's, and slots may be
// empty during iteration. The belt's detailmark is expanded on demand —
// but only while unlocked.
type Belt struct {
	lockState

	reg        *registry.Registry
	tag        uint32
	detailmark mark.Detailmark
	slots      []BeltSlot
	removed    []int

	observer SlotObserver
}

// NewBelt creates a belt with the given initial detailmark and tag. The
// tag identifies the belt in subjective notifications and in the
// mechanism's belt index.
func NewBelt(reg *registry.Registry, tag uint32, dm mark.Detailmark, observer SlotObserver) *Belt {
	b := &Belt{
		reg:        reg,
		tag:        tag,
		detailmark: dm.Clone(),
		observer:   observer,
	}
	b.lockState.init()
	return b
}

// Tag returns the belt's identity tag.
func (b *Belt) Tag() uint32 { return b.tag }

// Detailmark returns the belt's detailmark. Composition of the returned
// mark changes only through Expand.
func (b *Belt) Detailmark() *mark.Detailmark { return &b.detailmark }

// LineOf returns the line storing instances of exactly the given class,
// or -1 when the belt would need expansion first. Subclass instances live
// on their own lines; filters reach them through the detailmark's
// multi-mapping.
func (b *Belt) LineOf(id registry.DetailID) int {
	return b.detailmark.IndexOf(id)
}

// Expand grows the belt's detailmark with the given classes and every
// slot's line set with them. Expanding a locked belt is an error: callers
// expand before locking or re-home the subject to another belt.
func (b *Belt) Expand(ids ...registry.DetailID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.locks.Load() != 0 {
		return eris.Wrap(machina.ErrInvalidState, "expanding a locked belt")
	}
	for _, id := range ids {
		changed, err := b.detailmark.Add(id)
		if err != nil {
			return err
		}
		if !changed {
			continue
		}
		for i := range b.slots {
			b.slots[i].lines = append(b.slots[i].lines, nil)
		}
	}
	return nil
}

// Len returns the number of physical slots, empty and stale ones included.
func (b *Belt) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.slots)
}

// Count returns the number of live slots.
func (b *Belt) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.slots) - len(b.removed)
}

// VisibleSlots implements Iterable.
func (b *Belt) VisibleSlots() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.iterableCount >= 0 {
		return b.iterableCount
	}
	return len(b.slots)
}

// LockLiquid implements Iterable.
func (b *Belt) LockLiquid() error {
	return b.lockLiquid(func() int { return len(b.slots) })
}

// LockSolid implements Iterable. The first solid lock freezes the belt's
// detailmark.
func (b *Belt) LockSolid() error {
	return b.lockSolid(func() int { return len(b.slots) }, b.detailmark.Freeze)
}

// Unlock implements Iterable.
func (b *Belt) Unlock() error {
	return b.unlock(func() {
		b.detailmark.Thaw()
		b.drainRemoved()
	})
}

// Place appends a slot for the subject. The subject's detail classes must
// already fit the belt's detailmark.
func (b *Belt) Place(id subject.ID, fp *fingerprint.Fingerprint) (int, error) {
	if id == subject.None {
		return -1, eris.Wrap(machina.ErrNullArgument, "placing the null subject")
	}
	if fp == nil {
		return -1, eris.Wrap(machina.ErrNullArgument, "placing a subject without a fingerprint")
	}
	for _, class := range fp.Details().IDs() {
		if b.detailmark.IndexOf(class) < 0 {
			return -1, eris.Wrapf(machina.ErrInvalidArgument,
				"belt lacks a line for detail class %d; expand first", class)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.locks.Load() < 0 {
		return -1, eris.Wrap(machina.ErrInvalidState, "placing into a solid-locked belt")
	}
	slot := len(b.slots)
	b.slots = append(b.slots, BeltSlot{
		subjectID: id,
		fp:        fp,
		lines:     make([][]registry.Detail, b.detailmark.Len()),
	})
	return slot, nil
}

// Slot returns a pointer to the slot at the given index.
func (b *Belt) Slot(i int) *BeltSlot {
	return &b.slots[i]
}

// MarkRemoved logically removes a slot; reclamation follows the same
// deferral rules as for chunks.
func (b *Belt) MarkRemoved(slot int, detach bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if slot < 0 || slot >= len(b.slots) {
		return eris.Wrapf(machina.ErrInvalidArgument, "slot %d out of range", slot)
	}
	s := &b.slots[slot]
	if s.subjectID == subject.None || s.fp.Flagmark().Has(mark.FlagStale) {
		return eris.Wrap(machina.ErrInvalidState, "slot is already removed")
	}
	if b.locks.Load() < 0 {
		return eris.Wrap(machina.ErrInvalidState, "removing from a solid-locked belt")
	}
	if detach {
		clone := s.fp.Clone()
		clone.Flagmark().SetFlag(mark.FlagStale, true)
		s.fp = clone
	} else {
		s.fp.Flagmark().SetFlag(mark.FlagStale, true)
	}
	if b.locks.Load() > 0 {
		b.removed = append(b.removed, slot)
		return nil
	}
	b.compactSlot(slot)
	return nil
}

// AddDetailInstance appends a live detail object to its class line.
// Allowed under a liquid lock — the next prepareForIteration of the slot
// picks it up. Fails under a solid lock.
func (b *Belt) AddDetailInstance(slot int, d registry.Detail) (int, error) {
	if d == nil {
		return -1, eris.Wrap(machina.ErrNullArgument, "adding a nil detail")
	}
	line := b.detailmark.IndexOf(d.DetailClass())
	if line < 0 {
		return -1, eris.Wrapf(machina.ErrInvalidArgument,
			"belt lacks a line for detail class %d; expand first", d.DetailClass())
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.locks.Load() < 0 {
		return -1, eris.Wrap(machina.ErrInvalidState, "mutating a solid-locked belt")
	}
	if slot < 0 || slot >= len(b.slots) {
		return -1, eris.Wrapf(machina.ErrInvalidArgument, "slot %d out of range", slot)
	}
	b.slots[slot].lines[line] = append(b.slots[slot].lines[line], d)
	return line, nil
}

// RemoveDetailInstance detaches one detail object from its class line,
// reporting whether it was present.
func (b *Belt) RemoveDetailInstance(slot int, d registry.Detail) (bool, error) {
	if d == nil {
		return false, eris.Wrap(machina.ErrNullArgument, "removing a nil detail")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.locks.Load() < 0 {
		return false, eris.Wrap(machina.ErrInvalidState, "mutating a solid-locked belt")
	}
	if slot < 0 || slot >= len(b.slots) {
		return false, eris.Wrapf(machina.ErrInvalidArgument, "slot %d out of range", slot)
	}
	line := b.detailmark.IndexOf(d.DetailClass())
	if line < 0 {
		return false, nil
	}
	cache := b.slots[slot].lines[line]
	for i, have := range cache {
		if have == d {
			b.slots[slot].lines[line] = append(cache[:i], cache[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (b *Belt) drainRemoved() {
	if len(b.removed) == 0 {
		return
	}
	sort.Sort(sort.Reverse(sort.IntSlice(b.removed)))
	for _, slot := range b.removed {
		b.compactSlot(slot)
	}
	b.removed = b.removed[:0]
}

func (b *Belt) compactSlot(slot int) {
	last := len(b.slots) - 1
	released := b.slots[slot].subjectID
	if slot != last {
		b.slots[slot] = b.slots[last]
		if b.observer != nil && b.slots[slot].subjectID != subject.None {
			b.observer.BeltSlotMoved(b, b.slots[slot].subjectID, slot)
		}
	}
	b.slots[last] = BeltSlot{}
	b.slots = b.slots[:last]
	if b.observer != nil && released != subject.None {
		b.observer.BeltSlotReleased(b, released)
	}
}
