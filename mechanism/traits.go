package mechanism

import (
	"github.com/rotisserie/eris"

	"github.com/operatics/machina"
	"github.com/operatics/machina/iterable"
	"github.com/operatics/machina/registry"
	"github.com/operatics/machina/subject"
)

// AddTrait gives the subject the T trait with an initial value, migrating
// it to the canonical chunk of the widened traitmark. Adding a trait the
// subject already has is a noop. While the old home is liquid-locked the
// vacated slot goes stale behind a detached fingerprint and is reclaimed
// at unlock; a solid-locked home rejects the change.
func AddTrait[T any](m *Mechanism, h subject.Handle, value T) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := registry.TraitIDOf[T](m.reg)
	if err != nil {
		return false, err
	}
	info, err := m.lookup(h)
	if err != nil {
		return false, err
	}
	if info.fp.Traits().Contains(id) {
		return false, nil
	}
	oldChunk, oldSlot := info.chunk, info.chunkSlot
	if oldChunk != nil && oldChunk.SolidLocked() {
		return false, eris.Wrap(machina.ErrInvalidState, "subject's home chunk is solid-locked")
	}

	newTM := info.fp.Traits().Clone()
	if _, err := newTM.Add(id); err != nil {
		return false, err
	}
	newChunk, err := m.chunkFor(newTM)
	if err != nil {
		return false, err
	}

	if _, err := info.fp.AddTrait(id); err != nil {
		return false, err
	}
	newSlot, err := newChunk.Place(h.ID, info.fp)
	if err != nil {
		_, _ = info.fp.RemoveTrait(id)
		return false, err
	}
	if oldChunk != nil {
		copyTraits(oldChunk, oldSlot, newChunk, newSlot)
	}
	*iterable.TraitOf[T](newChunk, newSlot, newChunk.LineOf(id)) = value

	m.tableMu.Lock()
	info.chunk, info.chunkSlot = newChunk, newSlot
	m.tableMu.Unlock()
	if oldChunk != nil {
		if err := oldChunk.MarkRemoved(oldSlot, true); err != nil {
			return false, err
		}
	}
	return true, nil
}

// RemoveTrait strips a trait type from the subject, migrating it to the
// narrowed chunk. Removing an absent trait is a noop.
func (m *Mechanism) RemoveTrait(h subject.Handle, id registry.TraitID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, err := m.lookup(h)
	if err != nil {
		return false, err
	}
	if !info.fp.Traits().Contains(id) {
		return false, nil
	}
	oldChunk, oldSlot := info.chunk, info.chunkSlot
	if oldChunk != nil && oldChunk.SolidLocked() {
		return false, eris.Wrap(machina.ErrInvalidState, "subject's home chunk is solid-locked")
	}

	if _, err := info.fp.RemoveTrait(id); err != nil {
		return false, err
	}

	var newChunk *iterable.Chunk
	newSlot := -1
	if info.fp.Traits().Len() > 0 {
		newChunk, err = m.chunkFor(*info.fp.Traits())
		if err == nil {
			newSlot, err = newChunk.Place(h.ID, info.fp)
		}
		if err != nil {
			_, _ = info.fp.AddTrait(id)
			return false, err
		}
		copyTraits(oldChunk, oldSlot, newChunk, newSlot)
	}

	m.tableMu.Lock()
	info.chunk, info.chunkSlot = newChunk, newSlot
	m.tableMu.Unlock()
	if err := oldChunk.MarkRemoved(oldSlot, true); err != nil {
		return false, err
	}
	return true, nil
}

// copyTraits copies every trait record both chunks carry, by line mapping.
func copyTraits(from *iterable.Chunk, fromSlot int, to *iterable.Chunk, toSlot int) {
	mapping := from.Traitmark().MappingTo(to.Traitmark())
	for i, j := range mapping {
		if j < 0 {
			continue
		}
		_ = to.SetTraitBytes(toSlot, j, from.TraitBytes(fromSlot, i))
	}
}

// SetTrait overwrites the subject's T trait record in place. Trait writes
// are never deferred; the trait must be present.
func SetTrait[T any](m *Mechanism, h subject.Handle, value T) error {
	c, slot, line, err := traitHome[T](m, h)
	if err != nil {
		return err
	}
	*iterable.TraitOf[T](c, slot, line) = value
	return nil
}

// GetTrait returns a copy of the subject's T trait record.
func GetTrait[T any](m *Mechanism, h subject.Handle) (T, error) {
	var zero T
	c, slot, line, err := traitHome[T](m, h)
	if err != nil {
		return zero, err
	}
	return *iterable.TraitOf[T](c, slot, line), nil
}

func traitHome[T any](m *Mechanism, h subject.Handle) (*iterable.Chunk, int, int, error) {
	id, err := registry.TraitIDOf[T](m.reg)
	if err != nil {
		return nil, -1, -1, err
	}
	info, err := m.lookup(h)
	if err != nil {
		return nil, -1, -1, err
	}
	m.tableMu.Lock()
	c, slot := info.chunk, info.chunkSlot
	m.tableMu.Unlock()
	if c == nil {
		return nil, -1, -1, eris.Wrapf(machina.ErrInvalidArgument, "subject %d has no traits", h.ID)
	}
	line := c.LineOf(id)
	if line < 0 {
		return nil, -1, -1, eris.Wrapf(machina.ErrInvalidArgument, "subject %d lacks the trait", h.ID)
	}
	return c, slot, line, nil
}
