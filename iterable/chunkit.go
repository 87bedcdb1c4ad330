package iterable

import (
	"unsafe"

	"github.com/rotisserie/eris"

	"github.com/operatics/machina"
	"github.com/operatics/machina/fingerprint"
	"github.com/operatics/machina/mark"
	"github.com/operatics/machina/registry"
	"github.com/operatics/machina/subject"
)

// ChunkIt iterates the filter-matching slots of one locked chunk within a
// raw-slot interval. The caller owns the lock: the iterator never locks or
// unlocks by itself, so several iterators can share one lock acquisition.
type ChunkIt struct {
	chunk  *Chunk
	filter *fingerprint.Filter
	from   int
	to     int

	slot int
}

// NewChunkIt positions an iterator over c's raw slots [from, to). A
// negative to means the chunk's visible ceiling.
func NewChunkIt(c *Chunk, x *fingerprint.Filter, from, to int) (*ChunkIt, error) {
	if c == nil || x == nil {
		return nil, eris.Wrap(machina.ErrNullArgument, "iterating a nil chunk or filter")
	}
	if !c.Locked() {
		return nil, eris.Wrap(machina.ErrInvalidState, "iterating an unlocked chunk")
	}
	visible := c.VisibleSlots()
	if to < 0 || to > visible {
		to = visible
	}
	if from < 0 {
		from = 0
	}
	return &ChunkIt{chunk: c, filter: x, from: from, to: to, slot: -1}, nil
}

// Begin moves to the first viable slot, reporting whether one exists.
func (it *ChunkIt) Begin() bool {
	it.slot = it.from - 1
	return it.Advance()
}

// Advance moves to the next viable slot.
func (it *ChunkIt) Advance() bool {
	for it.slot++; it.slot < it.to; it.slot++ {
		if it.viable() {
			return true
		}
	}
	return false
}

// Stale slots are always skipped, even when the filter's exclusion clause
// was relaxed: a removed slot's trait bytes are reusable garbage.
func (it *ChunkIt) viable() bool {
	s := it.chunk.Slot(it.slot)
	if s.Subject == subject.None || s.FP == nil {
		return false
	}
	if s.FP.Flagmark().Has(mark.FlagStale) {
		return false
	}
	// The chunk was picked by traitmark already; only flags and details
	// vary per slot.
	return s.FP.MatchesFlagmark(it.filter) &&
		s.FP.MatchesDetails(it.filter) &&
		s.FP.MatchesDetailExclusion(it.filter)
}

// Slot returns the current raw slot index.
func (it *ChunkIt) Slot() int { return it.slot }

// Subject returns the subject at the current slot.
func (it *ChunkIt) Subject() subject.ID { return it.chunk.Slot(it.slot).Subject }

// Fingerprint returns the current slot's fingerprint.
func (it *ChunkIt) Fingerprint() *fingerprint.Fingerprint { return it.chunk.Slot(it.slot).FP }

// Chunk returns the iterated chunk.
func (it *ChunkIt) Chunk() *Chunk { return it.chunk }

// LineOf resolves a trait type to the chunk's line index, or -1.
func (it *ChunkIt) LineOf(id registry.TraitID) int { return it.chunk.LineOf(id) }

// TraitBytes returns the in-place byte view of the current slot's record
// on the given line. Valid until the next Advance.
func (it *ChunkIt) TraitBytes(line int) []byte {
	return it.chunk.TraitBytes(it.slot, line)
}

// TraitPointer returns the raw record address; same validity rule.
func (it *ChunkIt) TraitPointer(line int) unsafe.Pointer {
	return it.chunk.TraitPointer(it.slot, line)
}
