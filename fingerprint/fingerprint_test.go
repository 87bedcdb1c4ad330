package fingerprint_test

import (
	"testing"

	"github.com/operatics/machina"
	"github.com/operatics/machina/assert"
	"github.com/operatics/machina/fingerprint"
	"github.com/operatics/machina/mark"
	"github.com/operatics/machina/registry"
)


type health struct{ HP int32 }
type armor struct{ Rating int32 }
type poison struct{ PerTick int32 }

type env struct {
	reg           *registry.Registry
	hlt, arm, psn registry.TraitID
	weapon, sword registry.DetailID
	shield        registry.DetailID
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{reg: registry.New()}
	var err error
	e.hlt, err = registry.RegisterTrait[health](e.reg, "health")
	assert.NilError(t, err)
	e.arm, err = registry.RegisterTrait[armor](e.reg, "armor")
	assert.NilError(t, err)
	e.psn, err = registry.RegisterTrait[poison](e.reg, "poison")
	assert.NilError(t, err)
	e.weapon, err = e.reg.RegisterDetail("weapon", registry.InvalidDetailID)
	assert.NilError(t, err)
	e.sword, err = e.reg.RegisterDetail("sword", e.weapon)
	assert.NilError(t, err)
	e.shield, err = e.reg.RegisterDetail("shield", registry.InvalidDetailID)
	assert.NilError(t, err)
	return e
}

func TestMatchingAlgebra(t *testing.T) {
	e := newEnv(t)
	fp := fingerprint.New(e.reg, mark.FlagBooted,
		[]registry.TraitID{e.hlt, e.arm}, []registry.DetailID{e.sword})

	x := fingerprint.NewFilter(e.reg)
	assert.NilError(t, x.IncludeTrait(e.hlt))
	assert.Assert(t, fp.Matches(x))

	// Excluded trait present: no match.
	assert.NilError(t, x.ExcludeTrait(e.psn))
	assert.Assert(t, fp.Matches(x))
	y := fingerprint.NewFilter(e.reg)
	assert.NilError(t, y.ExcludeTrait(e.arm))
	assert.Assert(t, !fp.Matches(y))

	// Detail inclusion by superclass: a sword satisfies "weapon".
	z := fingerprint.NewFilter(e.reg)
	assert.NilError(t, z.IncludeDetail(e.weapon))
	assert.Assert(t, fp.Matches(z))

	// Detail exclusion by superclass rejects the subclass carrier.
	w := fingerprint.NewFilter(e.reg)
	assert.NilError(t, w.ExcludeDetail(e.weapon))
	assert.Assert(t, !fp.Matches(w))

	// Excluding an unrelated class does not.
	v := fingerprint.NewFilter(e.reg)
	assert.NilError(t, v.ExcludeDetail(e.shield))
	assert.Assert(t, fp.Matches(v))

	// Excluding the subclass must not reject a base-class carrier.
	base := fingerprint.New(e.reg, mark.FlagBooted, nil, []registry.DetailID{e.weapon})
	u := fingerprint.NewFilter(e.reg)
	assert.NilError(t, u.ExcludeDetail(e.sword))
	assert.Assert(t, base.Matches(u))
}

func TestFlagDefaults(t *testing.T) {
	e := newEnv(t)
	x := fingerprint.NewFilter(e.reg)
	assert.Equal(t, mark.FlagBooted, x.IncludeFlagmark())
	assert.Equal(t, mark.FlagStale, x.ExcludeFlagmark())

	unbooted := fingerprint.New(e.reg, mark.FlagmarkNone, nil, nil)
	booted := fingerprint.New(e.reg, mark.FlagBooted, nil, nil)
	stale := fingerprint.New(e.reg, mark.FlagBooted|mark.FlagStale, nil, nil)

	assert.Assert(t, !unbooted.Matches(x))
	assert.Assert(t, booted.Matches(x))
	assert.Assert(t, !stale.Matches(x))
}

func TestMonotonicity(t *testing.T) {
	e := newEnv(t)
	x := fingerprint.NewFilter(e.reg)
	assert.NilError(t, x.IncludeTrait(e.hlt))
	assert.NilError(t, x.ExcludeTrait(e.psn))

	fp := fingerprint.New(e.reg, mark.FlagBooted, []registry.TraitID{e.hlt}, nil)
	assert.Assert(t, fp.Matches(x))

	// Adding a bit outside the exclusion mask never breaks a match.
	_, err := fp.AddTrait(e.arm)
	assert.NilError(t, err)
	assert.Assert(t, fp.Matches(x))

	// Adding an excluded bit does.
	_, err = fp.AddTrait(e.psn)
	assert.NilError(t, err)
	assert.Assert(t, !fp.Matches(x))
}

func TestFilterConflicts(t *testing.T) {
	e := newEnv(t)
	x := fingerprint.NewFilter(e.reg)
	assert.NilError(t, x.IncludeTrait(e.hlt))

	before := x.Clone()
	err := x.ExcludeTrait(e.hlt)
	assert.ErrorIs(t, err, machina.ErrConflict)
	assert.Assert(t, x.Equal(before), "failed mutation must leave the filter unchanged")

	assert.NilError(t, x.ExcludeTrait(e.psn))
	err = x.IncludeTrait(e.psn)
	assert.ErrorIs(t, err, machina.ErrConflict)

	// Detail conflicts fold inheritance in: including a sword while
	// excluding weapons can never match.
	assert.NilError(t, x.ExcludeDetail(e.weapon))
	err = x.IncludeDetail(e.sword)
	assert.ErrorIs(t, err, machina.ErrConflict)

	// Flags.
	assert.NilError(t, x.IncludeFlags(mark.FlagA))
	err = x.ExcludeFlags(mark.FlagA)
	assert.ErrorIs(t, err, machina.ErrConflict)
	err = x.IncludeFlags(mark.FlagStale)
	assert.ErrorIs(t, err, machina.ErrConflict)
}

func TestMutatorListValidation(t *testing.T) {
	e := newEnv(t)
	x := fingerprint.NewFilter(e.reg)

	before := x.Clone()
	err := x.IncludeTrait(e.hlt, registry.InvalidTraitID)
	assert.ErrorIs(t, err, machina.ErrInvalidArgument)
	assert.Assert(t, x.Equal(before), "a bad id must not apply the good ones")
	err = x.ExcludeTrait(e.psn, registry.InvalidTraitID)
	assert.ErrorIs(t, err, machina.ErrInvalidArgument)
	assert.Assert(t, x.Equal(before))

	// A conflict late in the list rejects the whole list.
	assert.NilError(t, x.ExcludeTrait(e.psn))
	mid := x.Clone()
	err = x.IncludeTrait(e.arm, e.psn)
	assert.ErrorIs(t, err, machina.ErrConflict)
	assert.Assert(t, x.Equal(mid))
}

func TestFilterRemovalRoundTrip(t *testing.T) {
	e := newEnv(t)
	x := fingerprint.NewFilter(e.reg)
	before := x.Clone()

	assert.NilError(t, x.IncludeTrait(e.hlt))
	changed, err := x.RemoveTraitInclusion(e.hlt)
	assert.NilError(t, err)
	assert.Assert(t, changed)
	assert.Assert(t, x.Equal(before))

	assert.NilError(t, x.ExcludeDetail(e.shield))
	changed, err = x.RemoveDetailExclusion(e.shield)
	assert.NilError(t, err)
	assert.Assert(t, changed)
	assert.Assert(t, x.Equal(before))

	changed, err = x.RemoveDetailExclusion(e.shield)
	assert.NilError(t, err)
	assert.Assert(t, !changed)
}

func TestFingerprintHashCache(t *testing.T) {
	e := newEnv(t)
	fp := fingerprint.New(e.reg, mark.FlagBooted, []registry.TraitID{e.hlt}, nil)
	h := fp.Hash()
	assert.Assert(t, h != 0)

	// Flag flips leave the cached hash alone.
	fp.Flagmark().SetFlag(mark.FlagA, true)
	assert.Equal(t, h, fp.Hash())

	// Mark mutation invalidates it.
	_, err := fp.AddTrait(e.arm)
	assert.NilError(t, err)
	assert.Assert(t, fp.Hash() != h)

	// Equal composition hashes equally.
	fp2 := fingerprint.New(e.reg, mark.FlagmarkNone, []registry.TraitID{e.hlt, e.arm}, nil)
	assert.Equal(t, fp.Hash(), fp2.Hash())
}

func TestSetFlagmarkNoop(t *testing.T) {
	e := newEnv(t)
	fp := fingerprint.New(e.reg, mark.FlagmarkNone, nil, nil)

	assert.Assert(t, fp.Flagmark().Set(mark.FlagBooted|mark.FlagA))
	assert.Assert(t, !fp.Flagmark().Set(mark.FlagBooted|mark.FlagA),
		"second identical set must report a noop")

	assert.Assert(t, fp.Flagmark().SetFlag(mark.FlagB, true))
	assert.Assert(t, !fp.Flagmark().SetFlag(mark.FlagB, true))
	assert.Assert(t, fp.Flagmark().SetFlag(mark.FlagB, false))
	assert.Assert(t, !fp.Flagmark().SetFlag(mark.FlagB, false))

	fp.Flagmark().SetMasked(mark.FlagC|mark.FlagD, mark.FlagC)
	assert.Assert(t, fp.Flagmark().Has(mark.FlagC))
	assert.Assert(t, !fp.Flagmark().Has(mark.FlagD), "masked set must not leak bits")

	got := fp.Flagmark().Toggle(mark.FlagC)
	assert.Assert(t, !got.Has(mark.FlagC))
}
