package mark

import (
	"github.com/rotisserie/eris"

	"github.com/operatics/machina"
	"github.com/operatics/machina/bitmask"
	"github.com/operatics/machina/registry"
)

// Detailmark is an ordered list of distinct detail classes with a cached
// inclusion mask. The mask is the union of the classes' ancestry masks, so
// subclass matching stays a plain superset test.
type Detailmark struct {
	reg    *registry.Registry
	ids    []registry.DetailID
	mask   bitmask.Mask
	frozen bool
}

// NewDetailmark builds a detailmark over the given registry.
func NewDetailmark(reg *registry.Registry, ids ...registry.DetailID) Detailmark {
	dm := Detailmark{reg: reg}
	for _, id := range ids {
		dm.Add(id) //nolint:errcheck // a fresh mark is never frozen
	}
	return dm
}

// Len returns the number of detail classes in the mark.
func (dm *Detailmark) Len() int { return len(dm.ids) }

// At returns the detail class at the given position.
func (dm *Detailmark) At(i int) registry.DetailID { return dm.ids[i] }

// IDs returns a copy of the ordered class list.
func (dm *Detailmark) IDs() []registry.DetailID {
	out := make([]registry.DetailID, len(dm.ids))
	copy(out, dm.ids)
	return out
}

// Mask returns the cached inclusion mask. The returned mask is shared;
// callers must not mutate it.
func (dm *Detailmark) Mask() bitmask.Mask { return dm.mask }

// Registry returns the registry the mark resolves classes against.
func (dm *Detailmark) Registry() *registry.Registry { return dm.reg }

// IndexOf returns the position of the exact class, or -1.
func (dm *Detailmark) IndexOf(id registry.DetailID) int {
	for i, d := range dm.ids {
		if d == id {
			return i
		}
	}
	return -1
}

// Contains reports whether the exact class is in the mark.
func (dm *Detailmark) Contains(id registry.DetailID) bool {
	return dm.IndexOf(id) >= 0
}

// Add appends a detail class. Adding a present class is a no-op reported as
// (false, nil). Fails on a solid-frozen mark.
func (dm *Detailmark) Add(id registry.DetailID) (bool, error) {
	if dm.frozen {
		return false, eris.Wrap(machina.ErrInvalidState, "detailmark is frozen")
	}
	info, err := dm.reg.Detail(id)
	if err != nil {
		return false, err
	}
	if dm.Contains(id) {
		return false, nil
	}
	dm.ids = append(dm.ids, id)
	dm.mask.Include(info.Mask())
	return true, nil
}

// Remove deletes a detail class. Removing an absent class is a no-op
// reported as (false, nil). Fails on a solid-frozen mark.
//
// The cached mask is rebuilt rather than subtracted: sibling classes may
// share ancestor bits.
func (dm *Detailmark) Remove(id registry.DetailID) (bool, error) {
	if dm.frozen {
		return false, eris.Wrap(machina.ErrInvalidState, "detailmark is frozen")
	}
	i := dm.IndexOf(id)
	if i < 0 {
		return false, nil
	}
	dm.ids = append(dm.ids[:i], dm.ids[i+1:]...)
	dm.mask.Reset()
	for _, rest := range dm.ids {
		info, err := dm.reg.Detail(rest)
		if err != nil {
			return false, err
		}
		dm.mask.Include(info.Mask())
	}
	return true, nil
}

// Freeze forbids further composition changes.
func (dm *Detailmark) Freeze() { dm.frozen = true }

// Thaw lifts a freeze.
func (dm *Detailmark) Thaw() { dm.frozen = false }

// Clone returns an independent, thawed copy.
func (dm *Detailmark) Clone() Detailmark {
	return Detailmark{reg: dm.reg, ids: dm.IDs(), mask: dm.mask.Clone()}
}

// Equal reports whether both marks list the same classes in the same order.
func (dm *Detailmark) Equal(other *Detailmark) bool {
	if len(dm.ids) != len(other.ids) {
		return false
	}
	for i, id := range dm.ids {
		if other.ids[i] != id {
			return false
		}
	}
	return true
}

// MappingTo returns, for each of this mark's positions, the position of the
// identical class in the other mark, or -1.
func (dm *Detailmark) MappingTo(other *Detailmark) []int {
	out := make([]int, len(dm.ids))
	for i, id := range dm.ids {
		out[i] = other.IndexOf(id)
	}
	return out
}

// MultiMappingTo returns, for each of this mark's positions, every position
// in the other mark whose class is the same or a subclass of this one.
func (dm *Detailmark) MultiMappingTo(other *Detailmark) [][]int {
	out := make([][]int, len(dm.ids))
	for i, id := range dm.ids {
		for j, cand := range other.ids {
			if dm.reg.IsSubclassOf(cand, id) {
				out[i] = append(out[i], j)
			}
		}
	}
	return out
}
