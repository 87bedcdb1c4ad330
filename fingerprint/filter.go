package fingerprint

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/rotisserie/eris"

	"github.com/operatics/machina"
	"github.com/operatics/machina/bitmask"
	"github.com/operatics/machina/mark"
	"github.com/operatics/machina/registry"
)

// Filter is an include/exclude predicate over fingerprints. Every mutator
// rejects contradictions with ErrConflict and leaves the filter unchanged
// on failure.
//
// A fresh filter includes Booted and excludes Stale, so iteration never
// observes half-initialized or logically removed subjects unless the caller
// opts in by removing those defaults.
type Filter struct {
	reg *registry.Registry

	incFlags mark.Flagmark
	excFlags mark.Flagmark

	incTraits  mark.Traitmark
	excTraits  []registry.TraitID
	incDetails mark.Detailmark
	excDetails []registry.DetailID

	excTraitsMask  bitmask.Mask
	excDetailsMask bitmask.Mask

	hash      uint64
	hashValid bool
}

// NewFilter returns a filter with the default flag clauses.
func NewFilter(reg *registry.Registry) *Filter {
	return &Filter{
		reg:        reg,
		incFlags:   mark.FlagBooted,
		excFlags:   mark.FlagStale,
		incDetails: mark.NewDetailmark(reg),
	}
}

// Registry returns the registry the filter resolves components against.
func (x *Filter) Registry() *registry.Registry { return x.reg }

// IncludeTrait adds trait types to the inclusion clause. The whole list is
// validated before any of it is applied, so a failure leaves the filter
// unchanged.
func (x *Filter) IncludeTrait(ids ...registry.TraitID) error {
	for _, id := range ids {
		if id < 0 {
			return eris.Wrapf(machina.ErrInvalidArgument, "invalid trait id %d", id)
		}
		if x.excTraitsMask.Has(int(id)) {
			return eris.Wrapf(machina.ErrConflict, "trait %d is already excluded", id)
		}
	}
	for _, id := range ids {
		if _, err := x.incTraits.Add(id); err != nil {
			return err
		}
	}
	x.hashValid = false
	return nil
}

// ExcludeTrait adds trait types to the exclusion clause. Same all-or-none
// rule as IncludeTrait.
func (x *Filter) ExcludeTrait(ids ...registry.TraitID) error {
	for _, id := range ids {
		if id < 0 {
			return eris.Wrapf(machina.ErrInvalidArgument, "invalid trait id %d", id)
		}
		if x.incTraits.Contains(id) {
			return eris.Wrapf(machina.ErrConflict, "trait %d is already included", id)
		}
	}
	for _, id := range ids {
		if x.excTraitsMask.Has(int(id)) {
			continue
		}
		x.excTraits = append(x.excTraits, id)
		x.excTraitsMask.Set(int(id))
	}
	x.hashValid = false
	return nil
}

// IncludeDetail adds detail classes to the inclusion clause. Including a
// class whose ancestry intersects the exclusion clause is a conflict: no
// fingerprint could satisfy both.
func (x *Filter) IncludeDetail(ids ...registry.DetailID) error {
	for _, id := range ids {
		info, err := x.reg.Detail(id)
		if err != nil {
			return err
		}
		if info.Mask().IncludesPartially(x.excDetailsMask) {
			return eris.Wrapf(machina.ErrConflict, "detail class %q conflicts with an exclusion", info.Name)
		}
	}
	for _, id := range ids {
		if _, err := x.incDetails.Add(id); err != nil {
			return err
		}
	}
	x.hashValid = false
	return nil
}

// ExcludeDetail adds detail classes to the exclusion clause. Excluding a
// class some included class descends from is a conflict.
func (x *Filter) ExcludeDetail(ids ...registry.DetailID) error {
	for _, id := range ids {
		info, err := x.reg.Detail(id)
		if err != nil {
			return err
		}
		if x.incDetails.Mask().IncludesPartially(info.ExcludingMask()) {
			return eris.Wrapf(machina.ErrConflict, "detail class %q conflicts with an inclusion", info.Name)
		}
	}
	for _, id := range ids {
		info, _ := x.reg.Detail(id)
		if x.excDetailsMask.Includes(info.ExcludingMask()) {
			continue
		}
		x.excDetails = append(x.excDetails, id)
		x.excDetailsMask.Include(info.ExcludingMask())
	}
	x.hashValid = false
	return nil
}

// IncludeFlags adds flags to the inclusion clause.
func (x *Filter) IncludeFlags(f mark.Flagmark) error {
	if x.excFlags.HasAny(f) {
		return eris.Wrapf(machina.ErrConflict, "flags %v are already excluded", f&x.excFlags)
	}
	x.incFlags |= f
	x.hashValid = false
	return nil
}

// ExcludeFlags adds flags to the exclusion clause.
func (x *Filter) ExcludeFlags(f mark.Flagmark) error {
	if x.incFlags.HasAny(f) {
		return eris.Wrapf(machina.ErrConflict, "flags %v are already included", f&x.incFlags)
	}
	x.excFlags |= f
	x.hashValid = false
	return nil
}

// RemoveTraitInclusion drops a trait type from the inclusion clause.
func (x *Filter) RemoveTraitInclusion(id registry.TraitID) (bool, error) {
	changed, err := x.incTraits.Remove(id)
	if changed {
		x.hashValid = false
	}
	return changed, err
}

// RemoveTraitExclusion drops a trait type from the exclusion clause.
func (x *Filter) RemoveTraitExclusion(id registry.TraitID) (bool, error) {
	for i, t := range x.excTraits {
		if t != id {
			continue
		}
		x.excTraits = append(x.excTraits[:i], x.excTraits[i+1:]...)
		x.excTraitsMask.Clear(int(id))
		x.hashValid = false
		return true, nil
	}
	return false, nil
}

// RemoveDetailInclusion drops a detail class from the inclusion clause.
func (x *Filter) RemoveDetailInclusion(id registry.DetailID) (bool, error) {
	changed, err := x.incDetails.Remove(id)
	if changed {
		x.hashValid = false
	}
	return changed, err
}

// RemoveDetailExclusion drops a detail class from the exclusion clause.
func (x *Filter) RemoveDetailExclusion(id registry.DetailID) (bool, error) {
	for i, d := range x.excDetails {
		if d != id {
			continue
		}
		x.excDetails = append(x.excDetails[:i], x.excDetails[i+1:]...)
		x.rebuildExcDetailsMask()
		x.hashValid = false
		return true, nil
	}
	return false, nil
}

// RemoveFlagInclusion lowers flags in the inclusion clause.
func (x *Filter) RemoveFlagInclusion(f mark.Flagmark) bool {
	if !x.incFlags.HasAny(f) {
		return false
	}
	x.incFlags &^= f
	x.hashValid = false
	return true
}

// RemoveFlagExclusion lowers flags in the exclusion clause.
func (x *Filter) RemoveFlagExclusion(f mark.Flagmark) bool {
	if !x.excFlags.HasAny(f) {
		return false
	}
	x.excFlags &^= f
	x.hashValid = false
	return true
}

func (x *Filter) rebuildExcDetailsMask() {
	x.excDetailsMask.Reset()
	for _, id := range x.excDetails {
		info, err := x.reg.Detail(id)
		if err != nil {
			continue
		}
		x.excDetailsMask.Include(info.ExcludingMask())
	}
}

// IncludeFlagmark returns the flag inclusion clause.
func (x *Filter) IncludeFlagmark() mark.Flagmark { return x.incFlags }

// ExcludeFlagmark returns the flag exclusion clause.
func (x *Filter) ExcludeFlagmark() mark.Flagmark { return x.excFlags }

// IncludedTraits returns the trait inclusion clause.
func (x *Filter) IncludedTraits() *mark.Traitmark { return &x.incTraits }

// IncludedDetails returns the detail inclusion clause.
func (x *Filter) IncludedDetails() *mark.Detailmark { return &x.incDetails }

// ExcludedTraits returns the ordered excluded trait types.
func (x *Filter) ExcludedTraits() []registry.TraitID {
	out := make([]registry.TraitID, len(x.excTraits))
	copy(out, x.excTraits)
	return out
}

// ExcludedDetails returns the ordered excluded detail classes.
func (x *Filter) ExcludedDetails() []registry.DetailID {
	out := make([]registry.DetailID, len(x.excDetails))
	copy(out, x.excDetails)
	return out
}

// ExcludedTraitsMask returns the trait exclusion mask. Shared; read-only.
func (x *Filter) ExcludedTraitsMask() bitmask.Mask { return x.excTraitsMask }

// ExcludedDetailsMask returns the detail exclusion mask. Shared; read-only.
func (x *Filter) ExcludedDetailsMask() bitmask.Mask { return x.excDetailsMask }

// HasDetailClauses reports whether the filter demands any detail class.
func (x *Filter) HasDetailClauses() bool { return x.incDetails.Len() > 0 }

// Equal reports full clause equality, order included.
func (x *Filter) Equal(other *Filter) bool {
	if x.incFlags != other.incFlags || x.excFlags != other.excFlags {
		return false
	}
	if !x.incTraits.Equal(&other.incTraits) || !x.incDetails.Equal(&other.incDetails) {
		return false
	}
	if len(x.excTraits) != len(other.excTraits) || len(x.excDetails) != len(other.excDetails) {
		return false
	}
	for i, t := range x.excTraits {
		if other.excTraits[i] != t {
			return false
		}
	}
	for i, d := range x.excDetails {
		if other.excDetails[i] != d {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (x *Filter) Clone() *Filter {
	c := &Filter{
		reg:            x.reg,
		incFlags:       x.incFlags,
		excFlags:       x.excFlags,
		incTraits:      x.incTraits.Clone(),
		excTraits:      append([]registry.TraitID(nil), x.excTraits...),
		incDetails:     x.incDetails.Clone(),
		excDetails:     append([]registry.DetailID(nil), x.excDetails...),
		excTraitsMask:  x.excTraitsMask.Clone(),
		excDetailsMask: x.excDetailsMask.Clone(),
		hash:           x.hash,
		hashValid:      x.hashValid,
	}
	return c
}

// Hash returns a cached hash over every clause, flags included. Filters are
// not mutated concurrently, so the cache is a plain field.
func (x *Filter) Hash() uint64 {
	if x.hashValid {
		return x.hash
	}
	d := xxhash.New()
	var buf [4]byte
	put := func(v uint32) {
		binary.LittleEndian.PutUint32(buf[:], v)
		_, _ = d.Write(buf[:])
	}
	put(uint32(x.incFlags))
	put(uint32(x.excFlags))
	put(uint32(x.incTraits.Len()))
	for _, id := range x.incTraits.IDs() {
		put(uint32(id))
	}
	put(uint32(x.incDetails.Len()))
	for _, id := range x.incDetails.IDs() {
		put(uint32(id))
	}
	put(uint32(len(x.excTraits)))
	for _, id := range x.excTraits {
		put(uint32(id))
	}
	put(uint32(len(x.excDetails)))
	for _, id := range x.excDetails {
		put(uint32(id))
	}
	x.hash = d.Sum64()
	x.hashValid = true
	return x.hash
}
