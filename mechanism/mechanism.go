// Package mechanism ties the engine together: it owns the component
// registry, the chunk and belt population, the subject table, and hands
// out chains over everything that matches a filter.
package mechanism

import (
	"sync"

	"github.com/google/uuid"
	"github.com/kamstrup/intmap"
	"github.com/rotisserie/eris"

	"github.com/operatics/machina"
	"github.com/operatics/machina/chain"
	"github.com/operatics/machina/fingerprint"
	"github.com/operatics/machina/iterable"
	"github.com/operatics/machina/log"
	"github.com/operatics/machina/mark"
	"github.com/operatics/machina/registry"
	"github.com/operatics/machina/subject"
)

// subjectInfo is the authoritative record of where a subject lives. Slot
// indices are kept current by the slot observer during compaction.
type subjectInfo struct {
	fp         *fingerprint.Fingerprint
	generation uint32

	chunk     *iterable.Chunk
	chunkSlot int
	belt      *iterable.Belt
	beltSlot  int

	subjective subject.Subjective
}

// Mechanism is the engine facade. All structural operations go through it;
// it serializes them with one mutex and keeps the subject table in sync
// with iterable compaction through the SlotObserver callbacks.
type Mechanism struct {
	id     uuid.UUID
	reg    *registry.Registry
	logger log.Logger

	// mu serializes structural operations. tableMu guards the subject
	// table only and is taken by observer callbacks, which run under an
	// iterable's internal lock; never call into an iterable under it.
	mu      sync.Mutex
	tableMu sync.Mutex

	nextID      subject.ID
	table       *intmap.Map[subject.ID, *subjectInfo]
	chunks      map[uint64][]*iterable.Chunk
	chunkList   []*iterable.Chunk
	belts       []*iterable.Belt
	nextBeltTag uint32
	chains      []*chain.Chain
}

// New creates a mechanism over the registry and freezes it: every trait
// and detail class must be registered up front.
func New(reg *registry.Registry, logger log.Logger) *Mechanism {
	m := &Mechanism{
		id:     uuid.New(),
		reg:    reg,
		nextID: 1,
		table:  intmap.New[subject.ID, *subjectInfo](256),
		chunks: map[uint64][]*iterable.Chunk{},
	}
	m.logger = logger.CreateMechanismLogger(m.id.String())
	reg.Freeze()
	return m
}

// ID returns the mechanism's instance id.
func (m *Mechanism) ID() uuid.UUID { return m.id }

// Registry returns the frozen component registry.
func (m *Mechanism) Registry() *registry.Registry { return m.reg }

func (m *Mechanism) lookup(h subject.Handle) (*subjectInfo, error) {
	if !h.IsValid() {
		return nil, eris.Wrap(machina.ErrNullArgument, "null subject handle")
	}
	m.tableMu.Lock()
	defer m.tableMu.Unlock()
	info, ok := m.table.Get(h.ID)
	if !ok || info.generation != h.Generation {
		return nil, eris.Wrapf(machina.ErrInvalidArgument, "subject %d is gone", h.ID)
	}
	return info, nil
}

// chunkFor returns the canonical chunk for the exact traitmark, creating
// it on first use.
func (m *Mechanism) chunkFor(tm mark.Traitmark) (*iterable.Chunk, error) {
	key := tm.Mask().Hash()
	for _, c := range m.chunks[key] {
		if c.Traitmark().Equal(&tm) {
			return c, nil
		}
	}
	c, err := iterable.NewChunk(m.reg, tm, m)
	if err != nil {
		return nil, err
	}
	m.chunks[key] = append(m.chunks[key], c)
	m.chunkList = append(m.chunkList, c)
	return c, nil
}

// beltFor returns a belt whose detailmark covers every class, expanding an
// unlocked belt or creating a fresh one when none does.
func (m *Mechanism) beltFor(classes []registry.DetailID) (*iterable.Belt, error) {
	covers := func(b *iterable.Belt) bool {
		for _, class := range classes {
			if b.LineOf(class) < 0 {
				return false
			}
		}
		return true
	}
	for _, b := range m.belts {
		if covers(b) {
			return b, nil
		}
	}
	for _, b := range m.belts {
		if b.Locked() {
			continue
		}
		if err := b.Expand(classes...); err != nil {
			return nil, err
		}
		return b, nil
	}
	m.nextBeltTag++
	b := iterable.NewBelt(m.reg, m.nextBeltTag, mark.NewDetailmark(m.reg, classes...), m)
	m.belts = append(m.belts, b)
	return b, nil
}

// Spawn creates a subject with the given composition and boots it.
// Placement happens unbooted; the Booted flag is raised once every home
// slot is taken, so a concurrent iteration never sees a half-placed
// subject.
func (m *Mechanism) Spawn(flags mark.Flagmark, traits []registry.TraitID, details []registry.DetailID) (subject.Handle, error) {
	return m.spawn(flags, traits, details, true)
}

// SpawnDeferred creates a subject without booting it. Default filters skip
// the subject until Boot raises the flag, so the caller can finish
// assembling it first.
func (m *Mechanism) SpawnDeferred(flags mark.Flagmark, traits []registry.TraitID, details []registry.DetailID) (subject.Handle, error) {
	return m.spawn(flags, traits, details, false)
}

// Boot raises the Booted flag on a deferred-spawned subject, reporting
// whether the flag was down.
func (m *Mechanism) Boot(h subject.Handle) (bool, error) {
	info, err := m.lookup(h)
	if err != nil {
		return false, err
	}
	return info.fp.Flagmark().SetFlag(mark.FlagBooted, true), nil
}

func (m *Mechanism) spawn(flags mark.Flagmark, traits []registry.TraitID, details []registry.DetailID, boot bool) (subject.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fp := fingerprint.New(m.reg, flags&^mark.FlagBooted, traits, details)
	info := &subjectInfo{fp: fp, generation: 1, chunkSlot: -1, beltSlot: -1}
	id := m.nextID

	if fp.Traits().Len() > 0 {
		c, err := m.chunkFor(*fp.Traits())
		if err != nil {
			return subject.Handle{}, err
		}
		slot, err := c.Place(id, fp)
		if err != nil {
			return subject.Handle{}, err
		}
		info.chunk, info.chunkSlot = c, slot
	}
	if fp.Details().Len() > 0 {
		b, err := m.beltFor(fp.Details().IDs())
		if err != nil {
			m.evictChunkHome(info)
			return subject.Handle{}, err
		}
		slot, err := b.Place(id, fp)
		if err != nil {
			m.evictChunkHome(info)
			return subject.Handle{}, err
		}
		info.belt, info.beltSlot = b, slot
	}

	m.nextID++
	m.tableMu.Lock()
	m.table.Put(id, info)
	m.tableMu.Unlock()
	if boot {
		fp.Flagmark().SetFlag(mark.FlagBooted, true)
	}

	m.logger.LogSpawn(id, fp)
	return subject.Handle{ID: id, Generation: 1}, nil
}

func (m *Mechanism) evictChunkHome(info *subjectInfo) {
	if info.chunk != nil {
		_ = info.chunk.MarkRemoved(info.chunkSlot, false)
		info.chunk, info.chunkSlot = nil, -1
	}
}

// Despawn removes a subject. The handle goes dead immediately; physical
// slot reclamation is deferred while a home is liquid-locked. A
// solid-locked home rejects the despawn.
func (m *Mechanism) Despawn(h subject.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, err := m.lookup(h)
	if err != nil {
		return err
	}
	if (info.chunk != nil && info.chunk.SolidLocked()) ||
		(info.belt != nil && info.belt.SolidLocked()) {
		return eris.Wrap(machina.ErrInvalidState, "despawning from a solid-locked home")
	}

	deferred := (info.chunk != nil && info.chunk.Locked()) ||
		(info.belt != nil && info.belt.Locked())
	if deferred {
		info.fp.Flagmark().SetFlag(mark.FlagDeferredDespawn, true)
	}
	// With two homes the chunk detaches a stale clone so the shared
	// fingerprint stays clean for the belt's own removal.
	if info.chunk != nil {
		if err := info.chunk.MarkRemoved(info.chunkSlot, info.belt != nil); err != nil {
			return err
		}
	}
	if info.belt != nil {
		if err := info.belt.MarkRemoved(info.beltSlot, false); err != nil {
			return err
		}
	}
	m.tableMu.Lock()
	m.table.Del(h.ID)
	m.tableMu.Unlock()
	m.logger.LogDespawn(h.ID, deferred)
	return nil
}

// Alive reports whether the handle still refers to a subject.
func (m *Mechanism) Alive(h subject.Handle) bool {
	_, err := m.lookup(h)
	return err == nil
}

// SubjectCount returns the number of live subjects.
func (m *Mechanism) SubjectCount() int {
	m.tableMu.Lock()
	defer m.tableMu.Unlock()
	return m.table.Len()
}

// FlagmarkOf returns the subject's flag word by value.
func (m *Mechanism) FlagmarkOf(h subject.Handle) (mark.Flagmark, error) {
	info, err := m.lookup(h)
	if err != nil {
		return mark.FlagmarkNone, err
	}
	return info.fp.Flagmark().Get(), nil
}

// SetFlag raises or lowers one flag on the subject, reporting whether the
// word changed. Flag writes are atomic and never deferred. System flags
// are not writable through here.
func (m *Mechanism) SetFlag(h subject.Handle, f mark.Flagmark, on bool) (bool, error) {
	if f.HasAny(mark.SystemFlags) {
		return false, eris.Wrap(machina.ErrInvalidArgument, "system flags are engine-managed")
	}
	info, err := m.lookup(h)
	if err != nil {
		return false, err
	}
	return info.fp.Flagmark().SetFlag(f, on), nil
}

// RegisterSubjective attaches a belt-slot listener to the subject.
func (m *Mechanism) RegisterSubjective(h subject.Handle, s subject.Subjective) error {
	info, err := m.lookup(h)
	if err != nil {
		return err
	}
	m.tableMu.Lock()
	info.subjective = s
	m.tableMu.Unlock()
	if info.belt != nil && s != nil {
		s.TakeBeltSlot(info.belt.Tag(), info.beltSlot)
	}
	return nil
}

// Enchain snapshots every iterable whose composition can satisfy the
// filter and locks it into a chain. Filters with detail clauses run over
// belts, others over chunks. Iterables created later are only visible to
// later chains.
func (m *Mechanism) Enchain(x *fingerprint.Filter, solid bool) (*chain.Chain, error) {
	if x == nil {
		return nil, eris.Wrap(machina.ErrNullArgument, "enchaining a nil filter")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var segments []iterable.Iterable
	if x.HasDetailClauses() {
		// Ancestry bits make a sword-line belt answer a weapon filter.
		inc := x.IncludedDetails().Mask()
		for _, b := range m.belts {
			if !b.Detailmark().Mask().Includes(inc) {
				continue
			}
			segments = append(segments, b)
			m.logger.LogIterable("belt", b.VisibleSlots(), solid)
		}
	} else {
		inc := x.IncludedTraits().Mask()
		exc := x.ExcludedTraitsMask()
		for _, c := range m.chunkList {
			if !c.Traitmark().Mask().Includes(inc) {
				continue
			}
			if c.Traitmark().Mask().IncludesPartially(exc) {
				continue
			}
			segments = append(segments, c)
			m.logger.LogIterable("chunk", c.VisibleSlots(), solid)
		}
	}

	ch, err := chain.New(x, solid, *m.logger.Logger, segments...)
	if err != nil {
		return nil, err
	}
	live := m.chains[:0]
	for _, old := range m.chains {
		if !old.Disposed() {
			live = append(live, old)
		}
	}
	m.chains = append(live, ch)
	return ch, nil
}

// WaitForOperatingsCompletion blocks until every dispatch on every live
// chain has finished.
func (m *Mechanism) WaitForOperatingsCompletion() {
	m.mu.Lock()
	chains := append([]*chain.Chain(nil), m.chains...)
	m.mu.Unlock()
	for _, ch := range chains {
		ch.WaitForOperatingsCompletion(0)
	}
}

// ChunkSlotMoved implements iterable.SlotObserver.
func (m *Mechanism) ChunkSlotMoved(c *iterable.Chunk, id subject.ID, newIndex int) {
	m.tableMu.Lock()
	defer m.tableMu.Unlock()
	if info, ok := m.table.Get(id); ok && info.chunk == c {
		info.chunkSlot = newIndex
	}
}

// ChunkSlotEvicted implements iterable.SlotObserver. A subject that
// migrated away mid-lock gets the vacated slot's trait bytes reconciled
// into its current home, so writes made through iteration pointers after
// the migration are not lost.
func (m *Mechanism) ChunkSlotEvicted(c *iterable.Chunk, id subject.ID, slot int) {
	m.tableMu.Lock()
	var home *iterable.Chunk
	homeSlot := -1
	if info, ok := m.table.Get(id); ok && info.chunk != nil && info.chunk != c {
		home, homeSlot = info.chunk, info.chunkSlot
	}
	m.tableMu.Unlock()
	if home == nil {
		return
	}
	copyTraits(c, slot, home, homeSlot)
}

// ChunkSlotReleased implements iterable.SlotObserver.
func (m *Mechanism) ChunkSlotReleased(c *iterable.Chunk, id subject.ID) {
	m.tableMu.Lock()
	defer m.tableMu.Unlock()
	if info, ok := m.table.Get(id); ok && info.chunk == c {
		info.chunk, info.chunkSlot = nil, -1
	}
}

// BeltSlotMoved implements iterable.SlotObserver.
func (m *Mechanism) BeltSlotMoved(b *iterable.Belt, id subject.ID, newIndex int) {
	m.tableMu.Lock()
	info, ok := m.table.Get(id)
	var s subject.Subjective
	if ok && info.belt == b {
		info.beltSlot = newIndex
		s = info.subjective
	}
	m.tableMu.Unlock()
	if s != nil {
		s.TakeBeltSlot(b.Tag(), newIndex)
	}
}

// BeltSlotReleased implements iterable.SlotObserver.
func (m *Mechanism) BeltSlotReleased(b *iterable.Belt, id subject.ID) {
	m.tableMu.Lock()
	defer m.tableMu.Unlock()
	if info, ok := m.table.Get(id); ok && info.belt == b {
		info.belt, info.beltSlot = nil, -1
	}
}
