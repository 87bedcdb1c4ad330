package chain

import (
	"unsafe"

	"github.com/rotisserie/eris"

	"github.com/operatics/machina"
	"github.com/operatics/machina/iterable"
	"github.com/operatics/machina/mark"
	"github.com/operatics/machina/registry"
	"github.com/operatics/machina/subject"
)

// Cursor walks a chain's segments as one global sequence of raw slots.
// Trait parts are requested up front; their line mappings are recomputed
// once per segment entry, so per-slot access is index arithmetic only.
//
// Cursors deliver traits by pointer or by value and details by interface;
// the flagmark is delivered by value only. There is no mutable flag access
// through a cursor. Trait parts are carried by chunk segments only: on a
// belt segment every part accessor returns nil.
type Cursor struct {
	chain *Chain
	parts []registry.TraitID

	seg       int
	skip      int
	remaining int
	begun     bool
	disposed  bool

	chunkIt *iterable.ChunkIt
	beltIt  *iterable.BeltIt
	lines   []int
}

// Cursor creates a cursor over the chain, registering it as a user. The
// parts are the trait types delivered through PartBytes and the typed
// accessors, in order.
func (ch *Chain) Cursor(parts ...registry.TraitID) (*Cursor, error) {
	if err := ch.retain(); err != nil {
		return nil, err
	}
	return &Cursor{
		chain: ch,
		parts: parts,
		lines: make([]int, len(parts)),
	}, nil
}

// Chain returns the chain the cursor runs on.
func (cur *Cursor) Chain() *Chain { return cur.chain }

// Dispose releases the cursor's hold on the chain. The last dispose tears
// the chain down. Idempotent.
func (cur *Cursor) Dispose() {
	if cur.disposed {
		return
	}
	cur.disposed = true
	cur.chunkIt = nil
	cur.beltIt = nil
	cur.chain.release()
}

// Begin positions the cursor at the first viable slot within the global
// raw-slot window [offset, offset+limit). A negative limit spans the rest
// of the chain.
func (cur *Cursor) Begin(offset, limit int) bool {
	cur.seg = -1
	cur.skip = offset
	cur.remaining = limit
	cur.chunkIt = nil
	cur.beltIt = nil
	cur.begun = true
	if cur.chain.Stopped() {
		return false
	}
	return cur.nextSegment()
}

// Advance moves to the next viable slot, crossing segment boundaries as
// needed. Cancellation is observed here.
func (cur *Cursor) Advance() bool {
	if cur.chain.Stopped() {
		return false
	}
	if cur.chunkIt != nil && cur.chunkIt.Advance() {
		return true
	}
	if cur.beltIt != nil && cur.beltIt.Advance() {
		return true
	}
	return cur.nextSegment()
}

// Provide advances an already begun cursor and begins a fresh one, failing
// with ErrNoMore at the end of the chain.
func (cur *Cursor) Provide() error {
	var ok bool
	if cur.begun {
		ok = cur.Advance()
	} else {
		ok = cur.Begin(0, -1)
	}
	if !ok {
		return eris.Wrap(machina.ErrNoMore, "cursor ran out of slots")
	}
	return nil
}

func (cur *Cursor) nextSegment() bool {
	cur.chunkIt = nil
	cur.beltIt = nil
	for cur.seg++; cur.seg < len(cur.chain.segments); cur.seg++ {
		seg := cur.chain.segments[cur.seg]
		visible := seg.VisibleSlots()
		if cur.skip >= visible {
			cur.skip -= visible
			continue
		}
		from := cur.skip
		cur.skip = 0
		span := visible - from
		if cur.remaining >= 0 {
			if cur.remaining == 0 {
				return false
			}
			if span > cur.remaining {
				span = cur.remaining
			}
			cur.remaining -= span
		}
		if cur.enterSegment(seg, from, from+span) {
			return true
		}
	}
	return false
}

func (cur *Cursor) enterSegment(seg iterable.Iterable, from, to int) bool {
	switch s := seg.(type) {
	case *iterable.Chunk:
		it, err := iterable.NewChunkIt(s, cur.chain.filter, from, to)
		if err != nil {
			return false
		}
		for i, part := range cur.parts {
			cur.lines[i] = s.LineOf(part)
		}
		if !it.Begin() {
			return false
		}
		cur.chunkIt = it
		return true
	case *iterable.Belt:
		it, err := iterable.NewBeltIt(s, cur.chain.filter, from, to)
		if err != nil {
			return false
		}
		for i := range cur.lines {
			cur.lines[i] = -1
		}
		if !it.Begin() {
			return false
		}
		cur.beltIt = it
		return true
	}
	return false
}

// Viable reports whether the cursor currently points at a slot.
func (cur *Cursor) Viable() bool {
	return cur.chunkIt != nil || cur.beltIt != nil
}

// Subject returns the subject at the current slot.
func (cur *Cursor) Subject() subject.ID {
	if cur.chunkIt != nil {
		return cur.chunkIt.Subject()
	}
	if cur.beltIt != nil {
		return cur.beltIt.Subject()
	}
	return subject.None
}

// Flagmark returns the current subject's flagmark by value.
func (cur *Cursor) Flagmark() mark.Flagmark {
	if cur.chunkIt != nil {
		return cur.chunkIt.Fingerprint().Flagmark().Get()
	}
	if cur.beltIt != nil {
		return cur.beltIt.Fingerprint().Flagmark().Get()
	}
	return mark.FlagmarkNone
}

// PartBytes returns the in-place byte view of the i-th part for the
// current slot, or nil when the cursor holds no such part or the segment
// does not carry it. Valid until the next advance.
func (cur *Cursor) PartBytes(i int) []byte {
	if i < 0 || i >= len(cur.lines) || cur.chunkIt == nil || cur.lines[i] < 0 {
		return nil
	}
	return cur.chunkIt.TraitBytes(cur.lines[i])
}

func (cur *Cursor) partPointer(i int) unsafe.Pointer {
	if i < 0 || i >= len(cur.lines) || cur.chunkIt == nil || cur.lines[i] < 0 {
		return nil
	}
	return cur.chunkIt.TraitPointer(cur.lines[i])
}

// DetailCount returns the number of detail positions the current slot
// delivers, zero on chunk segments.
func (cur *Cursor) DetailCount() int {
	if cur.beltIt == nil {
		return 0
	}
	return cur.beltIt.DetailCount()
}

// Detail returns the instance picked for the i-th included detail class of
// the chain's filter, in the current combination.
func (cur *Cursor) Detail(i int) registry.Detail {
	if cur.beltIt == nil {
		return nil
	}
	return cur.beltIt.Detail(i)
}

// TraitPtrOf returns the i-th part as a typed in-place pointer, nil when
// the current segment lacks the part.
func TraitPtrOf[T any](cur *Cursor, i int) *T {
	p := cur.partPointer(i)
	if p == nil {
		return nil
	}
	return (*T)(p)
}

// TraitValueOf returns a copy of the i-th part.
func TraitValueOf[T any](cur *Cursor, i int) (T, bool) {
	p := TraitPtrOf[T](cur, i)
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}

// DetailOf returns the i-th detail position asserted to a concrete type.
func DetailOf[T registry.Detail](cur *Cursor, i int) (T, bool) {
	d, ok := cur.Detail(i).(T)
	return d, ok
}
