package iterable

import (
	"github.com/rotisserie/eris"

	"github.com/operatics/machina"
	"github.com/operatics/machina/fingerprint"
	"github.com/operatics/machina/mark"
	"github.com/operatics/machina/registry"
	"github.com/operatics/machina/subject"
)

// BeltIt iterates the filter-matching slots of one locked belt within a
// raw-slot interval. Each slot is visited once per combination of enabled
// detail instances across the mainline, so a slot carrying two enabled
// weapons against a one-weapon filter yields two visits.
type BeltIt struct {
	belt   *Belt
	filter *fingerprint.Filter
	from   int
	to     int

	// mainline maps each included detail class, in filter order, to the
	// belt lines whose class answers for it, subclass lines included.
	mainline [][]int

	slot   int
	combo  int
	combos int
	picks  []registry.Detail
}

// NewBeltIt positions an iterator over b's raw slots [from, to). A
// negative to means the belt's visible ceiling. The filter's included
// detail classes must all have lines on the belt.
func NewBeltIt(b *Belt, x *fingerprint.Filter, from, to int) (*BeltIt, error) {
	if b == nil || x == nil {
		return nil, eris.Wrap(machina.ErrNullArgument, "iterating a nil belt or filter")
	}
	if !b.Locked() {
		return nil, eris.Wrap(machina.ErrInvalidState, "iterating an unlocked belt")
	}
	mainline := x.IncludedDetails().MultiMappingTo(b.Detailmark())
	for i, lines := range mainline {
		if len(lines) == 0 {
			return nil, eris.Wrapf(machina.ErrInvalidArgument,
				"belt has no line answering for detail class %d", x.IncludedDetails().At(i))
		}
	}
	visible := b.VisibleSlots()
	if to < 0 || to > visible {
		to = visible
	}
	if from < 0 {
		from = 0
	}
	return &BeltIt{
		belt:     b,
		filter:   x,
		from:     from,
		to:       to,
		mainline: mainline,
		slot:     -1,
		picks:    make([]registry.Detail, len(mainline)),
	}, nil
}

// Begin moves to the first viable slot and its first combination.
func (it *BeltIt) Begin() bool {
	it.slot = it.from - 1
	it.combo = 0
	it.combos = 0
	return it.Advance()
}

// Advance moves to the next combination of the current slot, or to the
// first combination of the next viable slot.
func (it *BeltIt) Advance() bool {
	for {
		for it.combo++; it.combo < it.combos; it.combo++ {
			if it.resolveCombo() {
				return true
			}
		}
		if !it.advanceSlot() {
			return false
		}
		it.combo = -1
	}
}

func (it *BeltIt) advanceSlot() bool {
	for it.slot++; it.slot < it.to; it.slot++ {
		if !it.viable() {
			continue
		}
		it.combos = it.belt.Slot(it.slot).comboCount(it.mainline)
		if it.combos > 0 {
			return true
		}
	}
	it.combos = 0
	return false
}

func (it *BeltIt) viable() bool {
	s := it.belt.Slot(it.slot)
	if s.subjectID == subject.None || s.fp == nil {
		return false
	}
	if s.fp.Flagmark().Has(mark.FlagStale) {
		return false
	}
	return s.fp.MatchesFlagmark(it.filter) &&
		s.fp.MatchesTraits(it.filter) &&
		s.fp.MatchesDetails(it.filter) &&
		s.fp.MatchesDetailExclusion(it.filter)
}

// resolveCombo decomposes the combination index into one enabled instance
// per mainline line. Instances disabled since the count was taken void
// the combination.
func (it *BeltIt) resolveCombo() bool {
	s := it.belt.Slot(it.slot)
	idx := it.combo
	for i, lines := range it.mainline {
		n := s.enabledCount(lines)
		if n == 0 {
			return false
		}
		d := s.nthEnabled(lines, idx%n)
		if d == nil {
			return false
		}
		it.picks[i] = d
		idx /= n
	}
	return true
}

// Slot returns the current raw slot index.
func (it *BeltIt) Slot() int { return it.slot }

// Combo returns the current combination index within the slot.
func (it *BeltIt) Combo() int { return it.combo }

// Subject returns the subject at the current slot.
func (it *BeltIt) Subject() subject.ID { return it.belt.Slot(it.slot).subjectID }

// Fingerprint returns the current slot's fingerprint.
func (it *BeltIt) Fingerprint() *fingerprint.Fingerprint { return it.belt.Slot(it.slot).fp }

// Belt returns the iterated belt.
func (it *BeltIt) Belt() *Belt { return it.belt }

// DetailCount returns the number of mainline detail positions, matching
// the filter's included detail classes in order.
func (it *BeltIt) DetailCount() int { return len(it.mainline) }

// Detail returns the instance picked for the i-th included detail class
// in the current combination.
func (it *BeltIt) Detail(i int) registry.Detail { return it.picks[i] }
