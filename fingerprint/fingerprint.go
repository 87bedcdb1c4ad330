// Package fingerprint implements the composition descriptors of subjects
// (fingerprints) and the include/exclude predicates over them (filters).
package fingerprint

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/operatics/machina/mark"
	"github.com/operatics/machina/registry"
)

// Fingerprint describes what a subject has: its flag word, its trait types
// and its detail classes. The flagmark is atomic; the marks are guarded by
// the owning iterable's lock protocol.
type Fingerprint struct {
	flags   AtomicFlagmark
	traits  mark.Traitmark
	details mark.Detailmark

	// Cached hash of the non-flagmark part; 0 means not yet computed.
	// Flag flips never invalidate it.
	hash atomic.Uint64
}

// New builds a fingerprint over the given registry.
func New(reg *registry.Registry, flags mark.Flagmark, traits []registry.TraitID, details []registry.DetailID) *Fingerprint {
	fp := &Fingerprint{
		traits:  mark.NewTraitmark(traits...),
		details: mark.NewDetailmark(reg, details...),
	}
	fp.flags.Set(flags)
	return fp
}

// Registry returns the registry the fingerprint resolves components
// against.
func (fp *Fingerprint) Registry() *registry.Registry { return fp.details.Registry() }

// Flagmark returns the atomic flag word.
func (fp *Fingerprint) Flagmark() *AtomicFlagmark { return &fp.flags }

// Traits returns the traitmark. Mutate it only through the fingerprint's
// Add/Remove wrappers so the cached hash stays coherent.
func (fp *Fingerprint) Traits() *mark.Traitmark { return &fp.traits }

// Details returns the detailmark. Same mutation rule as Traits.
func (fp *Fingerprint) Details() *mark.Detailmark { return &fp.details }

// AddTrait appends a trait type, invalidating the cached hash on change.
func (fp *Fingerprint) AddTrait(id registry.TraitID) (bool, error) {
	changed, err := fp.traits.Add(id)
	if changed {
		fp.hash.Store(0)
	}
	return changed, err
}

// RemoveTrait deletes a trait type, invalidating the cached hash on change.
func (fp *Fingerprint) RemoveTrait(id registry.TraitID) (bool, error) {
	changed, err := fp.traits.Remove(id)
	if changed {
		fp.hash.Store(0)
	}
	return changed, err
}

// AddDetail appends a detail class, invalidating the cached hash on change.
func (fp *Fingerprint) AddDetail(id registry.DetailID) (bool, error) {
	changed, err := fp.details.Add(id)
	if changed {
		fp.hash.Store(0)
	}
	return changed, err
}

// RemoveDetail deletes a detail class, invalidating the cached hash on
// change.
func (fp *Fingerprint) RemoveDetail(id registry.DetailID) (bool, error) {
	changed, err := fp.details.Remove(id)
	if changed {
		fp.hash.Store(0)
	}
	return changed, err
}

// Hash returns the hash of the non-flagmark part, computing and caching it
// on first use. Atomic flag flips do not disturb the cache.
func (fp *Fingerprint) Hash() uint64 {
	if h := fp.hash.Load(); h != 0 {
		return h
	}
	h := hashMarks(fp.traits.IDs(), fp.details.IDs())
	fp.hash.Store(h)
	return h
}

// Clone returns an independent copy carrying the same flags, marks and
// cached hash.
func (fp *Fingerprint) Clone() *Fingerprint {
	c := &Fingerprint{
		traits:  fp.traits.Clone(),
		details: fp.details.Clone(),
	}
	c.flags.Set(fp.flags.Get())
	c.hash.Store(fp.hash.Load())
	return c
}

// Equal reports whether both fingerprints carry the same flags and the same
// ordered marks.
func (fp *Fingerprint) Equal(other *Fingerprint) bool {
	return fp.flags.Get() == other.flags.Get() &&
		fp.traits.Equal(&other.traits) &&
		fp.details.Equal(&other.details)
}

// Matches reports whether the fingerprint satisfies every clause of the
// filter. Pure: no observable state changes beyond the hash cache.
func (fp *Fingerprint) Matches(x *Filter) bool {
	return fp.MatchesFlagmark(x) && fp.MatchesTraits(x) && fp.MatchesDetails(x)
}

// MatchesFlagmark checks only the flag clauses. The iteration hot path
// reruns this per slot after composition was proven at lock time.
func (fp *Fingerprint) MatchesFlagmark(x *Filter) bool {
	fl := fp.flags.Get()
	return fl.Has(x.incFlags) && !fl.HasAny(x.excFlags)
}

// MatchesTraits checks only the trait clauses.
func (fp *Fingerprint) MatchesTraits(x *Filter) bool {
	m := fp.traits.Mask()
	return m.Includes(x.incTraits.Mask()) && !m.IncludesPartially(x.excTraitsMask)
}

// MatchesDetails checks only the detail clauses.
func (fp *Fingerprint) MatchesDetails(x *Filter) bool {
	m := fp.details.Mask()
	return m.Includes(x.incDetails.Mask()) && !m.IncludesPartially(x.excDetailsMask)
}

// MatchesDetailExclusion checks only the detail exclusion clause. Belt
// iteration proved detail inclusion at lock time and reruns just this plus
// the flagmark clause per slot.
func (fp *Fingerprint) MatchesDetailExclusion(x *Filter) bool {
	return !fp.details.Mask().IncludesPartially(x.excDetailsMask)
}

func hashMarks(traits []registry.TraitID, details []registry.DetailID) uint64 {
	d := xxhash.New()
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(len(traits)))
	_, _ = d.Write(buf[:])
	for _, id := range traits {
		binary.LittleEndian.PutUint32(buf[:], uint32(id))
		_, _ = d.Write(buf[:])
	}
	binary.LittleEndian.PutUint32(buf[:], uint32(len(details)))
	_, _ = d.Write(buf[:])
	for _, id := range details {
		binary.LittleEndian.PutUint32(buf[:], uint32(id))
		_, _ = d.Write(buf[:])
	}
	h := d.Sum64()
	if h == 0 {
		h = 1 // 0 is the not-yet-computed sentinel
	}
	return h
}
