// Package mark provides the ordered component identity lists (traitmarks and
// detailmarks) with their cached bit masks, and the flagmark bit constants.
package mark

import (
	"github.com/rotisserie/eris"

	"github.com/operatics/machina"
	"github.com/operatics/machina/bitmask"
	"github.com/operatics/machina/registry"
)

// Traitmark is an ordered list of distinct trait types with a cached
// inclusion mask. The order is significant: it fixes the trait line layout
// within a chunk.
type Traitmark struct {
	ids    []registry.TraitID
	mask   bitmask.Mask
	frozen bool
}

// NewTraitmark builds a traitmark from the given trait types. Duplicates
// collapse to their first occurrence.
func NewTraitmark(ids ...registry.TraitID) Traitmark {
	var tm Traitmark
	for _, id := range ids {
		tm.Add(id) //nolint:errcheck // a fresh mark is never frozen
	}
	return tm
}

// Len returns the number of trait types in the mark.
func (tm *Traitmark) Len() int { return len(tm.ids) }

// At returns the trait type at the given position.
func (tm *Traitmark) At(i int) registry.TraitID { return tm.ids[i] }

// IDs returns a copy of the ordered trait type list.
func (tm *Traitmark) IDs() []registry.TraitID {
	out := make([]registry.TraitID, len(tm.ids))
	copy(out, tm.ids)
	return out
}

// Mask returns the cached inclusion mask. The returned mask is shared;
// callers must not mutate it.
func (tm *Traitmark) Mask() bitmask.Mask { return tm.mask }

// IndexOf returns the position of the trait type, or -1.
func (tm *Traitmark) IndexOf(id registry.TraitID) int {
	for i, t := range tm.ids {
		if t == id {
			return i
		}
	}
	return -1
}

// Contains reports whether the trait type is in the mark.
func (tm *Traitmark) Contains(id registry.TraitID) bool {
	return tm.IndexOf(id) >= 0
}

// Add appends the trait type. Adding a present type is a no-op reported as
// (false, nil). Fails on a solid-frozen mark.
func (tm *Traitmark) Add(id registry.TraitID) (bool, error) {
	if tm.frozen {
		return false, eris.Wrap(machina.ErrInvalidState, "traitmark is frozen")
	}
	if id < 0 {
		return false, eris.Wrapf(machina.ErrInvalidArgument, "invalid trait id %d", id)
	}
	if tm.Contains(id) {
		return false, nil
	}
	tm.ids = append(tm.ids, id)
	tm.mask.Set(int(id))
	return true, nil
}

// Remove deletes the trait type, preserving the order of the rest. Removing
// an absent type is a no-op reported as (false, nil). Fails on a
// solid-frozen mark.
func (tm *Traitmark) Remove(id registry.TraitID) (bool, error) {
	if tm.frozen {
		return false, eris.Wrap(machina.ErrInvalidState, "traitmark is frozen")
	}
	i := tm.IndexOf(id)
	if i < 0 {
		return false, nil
	}
	tm.ids = append(tm.ids[:i], tm.ids[i+1:]...)
	tm.mask.Clear(int(id))
	return true, nil
}

// Freeze forbids further composition changes. The owning iterable freezes
// its mark while solid-locked.
func (tm *Traitmark) Freeze() { tm.frozen = true }

// Thaw lifts a freeze.
func (tm *Traitmark) Thaw() { tm.frozen = false }

// Clone returns an independent, thawed copy.
func (tm *Traitmark) Clone() Traitmark {
	return Traitmark{ids: tm.IDs(), mask: tm.mask.Clone()}
}

// Equal reports whether both marks list the same types in the same order.
func (tm *Traitmark) Equal(other *Traitmark) bool {
	if len(tm.ids) != len(other.ids) {
		return false
	}
	for i, id := range tm.ids {
		if other.ids[i] != id {
			return false
		}
	}
	return true
}

// MappingTo returns, for each of this mark's positions, the position of the
// same trait type in the other mark, or -1.
func (tm *Traitmark) MappingTo(other *Traitmark) []int {
	out := make([]int, len(tm.ids))
	for i, id := range tm.ids {
		out[i] = other.IndexOf(id)
	}
	return out
}

// MappingFrom returns, for each of the other mark's positions, the position
// of the same trait type in this mark, or -1.
func (tm *Traitmark) MappingFrom(other *Traitmark) []int {
	return other.MappingTo(tm)
}
