package chain_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/operatics/machina"
	"github.com/operatics/machina/assert"
	"github.com/operatics/machina/chain"
	"github.com/operatics/machina/fingerprint"
	"github.com/operatics/machina/iterable"
	"github.com/operatics/machina/mark"
	"github.com/operatics/machina/registry"
	"github.com/operatics/machina/subject"
)

type counter struct{ N int64 }
type tagged struct{ Tag int32 }

type testDetail struct {
	class   registry.DetailID
	name    string
	enabled bool
}

func (d *testDetail) DetailClass() registry.DetailID { return d.class }
func (d *testDetail) Enabled() bool                  { return d.enabled }

type env struct {
	reg      *registry.Registry
	cnt, tag registry.TraitID
	weapon   registry.DetailID
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{reg: registry.New()}
	var err error
	e.cnt, err = registry.RegisterTrait[counter](e.reg, "counter")
	assert.NilError(t, err)
	e.tag, err = registry.RegisterTrait[tagged](e.reg, "tagged")
	assert.NilError(t, err)
	e.weapon, err = e.reg.RegisterDetail("weapon", registry.InvalidDetailID)
	assert.NilError(t, err)
	return e
}

func (e *env) counterChunk(t *testing.T, n int, firstID subject.ID) *iterable.Chunk {
	t.Helper()
	c, err := iterable.NewChunk(e.reg, mark.NewTraitmark(e.cnt), nil)
	assert.NilError(t, err)
	for i := 0; i < n; i++ {
		fp := fingerprint.New(e.reg, mark.FlagBooted, []registry.TraitID{e.cnt}, nil)
		_, err = c.Place(firstID+subject.ID(i), fp)
		assert.NilError(t, err)
	}
	return c
}

func (e *env) counterFilter(t *testing.T) *fingerprint.Filter {
	t.Helper()
	x := fingerprint.NewFilter(e.reg)
	assert.NilError(t, x.IncludeTrait(e.cnt))
	return x
}

func TestOperateAcrossSegments(t *testing.T) {
	e := newEnv(t)
	c1 := e.counterChunk(t, 3, 1)
	c2 := e.counterChunk(t, 2, 100)

	ch, err := chain.New(e.counterFilter(t), false, zerolog.Nop(), c1, c2)
	assert.NilError(t, err)
	assert.Equal(t, 5, ch.VisibleSlots())

	var seen []subject.ID
	err = chain.Operate1(ch, func(cur *chain.Cursor, c *counter) error {
		c.N++
		seen = append(seen, cur.Subject())
		return nil
	})
	assert.NilError(t, err)
	assert.DeepEqual(t, []subject.ID{1, 2, 3, 100, 101}, seen)

	// The pass consumed the chain and released the locks.
	assert.Assert(t, ch.Disposed())
	assert.Assert(t, !c1.Locked())
	assert.Assert(t, !c2.Locked())
	assert.Equal(t, int64(1), iterable.TraitOf[counter](c1, 0, 0).N)
}

func TestOperateSkipsNonMatching(t *testing.T) {
	e := newEnv(t)
	c := e.counterChunk(t, 2, 1)

	// A half-initialized and a removed subject share the chunk.
	unbooted := fingerprint.New(e.reg, mark.FlagmarkNone, []registry.TraitID{e.cnt}, nil)
	_, err := c.Place(3, unbooted)
	assert.NilError(t, err)
	stale := fingerprint.New(e.reg, mark.FlagBooted|mark.FlagStale, []registry.TraitID{e.cnt}, nil)
	_, err = c.Place(4, stale)
	assert.NilError(t, err)

	ch, err := chain.New(e.counterFilter(t), false, zerolog.Nop(), c)
	assert.NilError(t, err)
	n := 0
	err = ch.Operate(func(cur *chain.Cursor) error {
		n++
		assert.Assert(t, cur.Flagmark().Has(mark.FlagBooted))
		return nil
	})
	assert.NilError(t, err)
	assert.Equal(t, 2, n)
}

func TestCursorOffsetLimit(t *testing.T) {
	e := newEnv(t)
	c1 := e.counterChunk(t, 3, 1)
	c2 := e.counterChunk(t, 3, 10)

	ch, err := chain.New(e.counterFilter(t), true, zerolog.Nop(), c1, c2)
	assert.NilError(t, err)
	cur, err := ch.Cursor()
	assert.NilError(t, err)

	// A window straddling the segment boundary.
	var seen []subject.ID
	for ok := cur.Begin(2, 2); ok; ok = cur.Advance() {
		seen = append(seen, cur.Subject())
	}
	assert.DeepEqual(t, []subject.ID{3, 10}, seen)

	cur.Dispose()
	assert.Assert(t, ch.Disposed())
}

func TestCursorProvide(t *testing.T) {
	e := newEnv(t)
	c := e.counterChunk(t, 2, 1)
	ch, err := chain.New(e.counterFilter(t), false, zerolog.Nop(), c)
	assert.NilError(t, err)
	cur, err := ch.Cursor()
	assert.NilError(t, err)

	assert.NilError(t, cur.Provide())
	assert.Equal(t, subject.ID(1), cur.Subject())
	assert.NilError(t, cur.Provide())
	assert.Equal(t, subject.ID(2), cur.Subject())
	err = cur.Provide()
	assert.ErrorIs(t, err, machina.ErrNoMore)
	cur.Dispose()
}

func TestBeltComboOperate(t *testing.T) {
	e := newEnv(t)
	dm := mark.NewDetailmark(e.reg, e.weapon)
	b := iterable.NewBelt(e.reg, 1, dm, nil)

	fp := fingerprint.New(e.reg, mark.FlagBooted, nil, []registry.DetailID{e.weapon})
	slot, err := b.Place(1, fp)
	assert.NilError(t, err)
	for _, name := range []string{"sword", "axe"} {
		_, err = b.AddDetailInstance(slot, &testDetail{class: e.weapon, name: name, enabled: true})
		assert.NilError(t, err)
	}

	x := fingerprint.NewFilter(e.reg)
	assert.NilError(t, x.IncludeDetail(e.weapon))
	ch, err := chain.New(x, false, zerolog.Nop(), b)
	assert.NilError(t, err)

	var names []string
	err = ch.Operate(func(cur *chain.Cursor) error {
		d, ok := chain.DetailOf[*testDetail](cur, 0)
		assert.Assert(t, ok)
		names = append(names, d.name)
		return nil
	})
	assert.NilError(t, err)
	assert.DeepEqual(t, []string{"sword", "axe"}, names)
}

func TestStopIterating(t *testing.T) {
	e := newEnv(t)
	c := e.counterChunk(t, 10, 1)
	ch, err := chain.New(e.counterFilter(t), false, zerolog.Nop(), c)
	assert.NilError(t, err)

	n := 0
	err = ch.Operate(func(cur *chain.Cursor) error {
		n++
		if n == 3 {
			ch.StopIterating()
		}
		return nil
	})
	assert.NilError(t, err)
	assert.Equal(t, 3, n, "cancellation lands before the next advance")
}

func TestDisposeSemantics(t *testing.T) {
	e := newEnv(t)
	c := e.counterChunk(t, 1, 1)
	ch, err := chain.New(e.counterFilter(t), false, zerolog.Nop(), c)
	assert.NilError(t, err)

	cur, err := ch.Cursor()
	assert.NilError(t, err)
	err = ch.Dispose()
	assert.ErrorIs(t, err, machina.ErrInvalidState)

	cur.Dispose()
	cur.Dispose() // idempotent
	assert.Assert(t, ch.Disposed())
	assert.Assert(t, !c.Locked())

	_, err = ch.Cursor()
	assert.ErrorIs(t, err, machina.ErrInvalidState)
}

func TestDisposeUnusedChain(t *testing.T) {
	e := newEnv(t)
	c := e.counterChunk(t, 1, 1)
	ch, err := chain.New(e.counterFilter(t), true, zerolog.Nop(), c)
	assert.NilError(t, err)
	assert.Assert(t, c.SolidLocked())
	assert.NilError(t, ch.Dispose())
	assert.Assert(t, !c.Locked())
	err = ch.Dispose()
	assert.ErrorIs(t, err, machina.ErrInvalidState)
}

func TestChainReset(t *testing.T) {
	e := newEnv(t)
	c := e.counterChunk(t, 3, 1)
	ch, err := chain.New(e.counterFilter(t), false, zerolog.Nop(), c)
	assert.NilError(t, err)

	err = ch.Reset()
	assert.ErrorIs(t, err, machina.ErrInvalidState, "a live chain cannot be reset")

	n := 0
	count := func(cur *chain.Cursor) error { n++; return nil }
	assert.NilError(t, ch.Operate(count))
	assert.Equal(t, 3, n)
	assert.Assert(t, ch.Disposed())
	assert.Assert(t, !c.Locked())

	// Rearmed over the same snapshot.
	assert.NilError(t, ch.Reset())
	assert.Assert(t, !ch.Disposed())
	assert.Assert(t, c.Locked())
	assert.NilError(t, ch.Operate(count))
	assert.Equal(t, 6, n)
	assert.Assert(t, !c.Locked())
}

func TestPartAccessWithoutParts(t *testing.T) {
	e := newEnv(t)
	c := e.counterChunk(t, 1, 1)
	ch, err := chain.New(e.counterFilter(t), false, zerolog.Nop(), c)
	assert.NilError(t, err)

	err = ch.Operate(func(cur *chain.Cursor) error {
		assert.Assert(t, cur.PartBytes(0) == nil)
		assert.Assert(t, chain.TraitPtrOf[counter](cur, 0) == nil)
		_, ok := chain.TraitValueOf[counter](cur, 0)
		assert.Assert(t, !ok)
		return nil
	})
	assert.NilError(t, err)
}

func TestBeltSegmentCarriesNoTraitParts(t *testing.T) {
	e := newEnv(t)
	dm := mark.NewDetailmark(e.reg, e.weapon)
	b := iterable.NewBelt(e.reg, 1, dm, nil)
	fp := fingerprint.New(e.reg, mark.FlagBooted,
		[]registry.TraitID{e.cnt}, []registry.DetailID{e.weapon})
	slot, err := b.Place(1, fp)
	assert.NilError(t, err)
	_, err = b.AddDetailInstance(slot, &testDetail{class: e.weapon, name: "sword", enabled: true})
	assert.NilError(t, err)

	x := fingerprint.NewFilter(e.reg)
	assert.NilError(t, x.IncludeDetail(e.weapon))
	ch, err := chain.New(x, false, zerolog.Nop(), b)
	assert.NilError(t, err)

	visited := false
	err = ch.Operate(func(cur *chain.Cursor) error {
		visited = true
		assert.Assert(t, chain.TraitPtrOf[counter](cur, 0) == nil,
			"belt segments deliver details, not trait lines")
		d, ok := chain.DetailOf[*testDetail](cur, 0)
		assert.Assert(t, ok)
		assert.Equal(t, "sword", d.name)
		return nil
	}, e.cnt)
	assert.NilError(t, err)
	assert.Assert(t, visited)
}

func TestConcurrentOperateRequiresSolid(t *testing.T) {
	e := newEnv(t)
	c := e.counterChunk(t, 4, 1)
	ch, err := chain.New(e.counterFilter(t), false, zerolog.Nop(), c)
	assert.NilError(t, err)
	err = ch.OperateConcurrently(func(cur *chain.Cursor) error { return nil }, 4, 1, true)
	assert.ErrorIs(t, err, machina.ErrInvalidState)
	assert.NilError(t, ch.Dispose())
}

func TestConcurrentOperateExactlyOnce(t *testing.T) {
	e := newEnv(t)
	const n = 1000
	c := e.counterChunk(t, n, 1)
	ch, err := chain.New(e.counterFilter(t), true, zerolog.Nop(), c)
	assert.NilError(t, err)

	var visits atomic.Int64
	err = ch.OperateConcurrently(func(cur *chain.Cursor) error {
		chain.TraitPtrOf[counter](cur, 0).N++
		visits.Add(1)
		return nil
	}, 4, 50, true, e.cnt)
	assert.NilError(t, err)
	assert.Equal(t, int64(n), visits.Load())

	assert.Assert(t, ch.WaitForOperatingsCompletion(time.Second))
	assert.Assert(t, ch.Disposed())
	assert.Assert(t, !c.Locked())
	for slot := 0; slot < n; slot++ {
		if iterable.TraitOf[counter](c, slot, 0).N != 1 {
			t.Fatalf("slot %d visited %d times", slot, iterable.TraitOf[counter](c, slot, 0).N)
		}
	}
}

func TestConcurrentOperateDetached(t *testing.T) {
	e := newEnv(t)
	c := e.counterChunk(t, 100, 1)
	ch, err := chain.New(e.counterFilter(t), true, zerolog.Nop(), c)
	assert.NilError(t, err)

	err = ch.OperateConcurrently(func(cur *chain.Cursor) error {
		chain.TraitPtrOf[counter](cur, 0).N++
		return nil
	}, 4, 10, false, e.cnt)
	assert.NilError(t, err)

	assert.Assert(t, ch.WaitForOperatingsCompletion(5*time.Second))
	assert.NilError(t, ch.OperatingError())
	assert.Assert(t, !c.Locked())
}
