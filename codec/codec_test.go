package codec_test

import (
	"encoding/binary"
	"testing"

	"github.com/operatics/machina"
	"github.com/operatics/machina/assert"
	"github.com/operatics/machina/codec"
	"github.com/operatics/machina/fingerprint"
	"github.com/operatics/machina/mark"
	"github.com/operatics/machina/registry"
)

type health struct{ HP int32 }
type armor struct{ Rating int32 }

type env struct {
	reg      *registry.Registry
	hlt, arm registry.TraitID
	weapon   registry.DetailID
	sword    registry.DetailID
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{reg: registry.New()}
	var err error
	e.hlt, err = registry.RegisterTrait[health](e.reg, "health")
	assert.NilError(t, err)
	e.arm, err = registry.RegisterTrait[armor](e.reg, "armor")
	assert.NilError(t, err)
	e.weapon, err = e.reg.RegisterDetail("weapon", registry.InvalidDetailID)
	assert.NilError(t, err)
	e.sword, err = e.reg.RegisterDetail("sword", e.weapon)
	assert.NilError(t, err)
	return e
}

func TestFingerprintRoundTrip(t *testing.T) {
	e := newEnv(t)
	fp := fingerprint.New(e.reg, mark.FlagBooted|mark.FlagC,
		[]registry.TraitID{e.hlt, e.arm}, []registry.DetailID{e.sword})

	data, err := codec.EncodeFingerprint(fp)
	assert.NilError(t, err)
	got, err := codec.DecodeFingerprint(e.reg, data)
	assert.NilError(t, err)

	assert.Assert(t, fp.Equal(got))
	assert.Equal(t, fp.Hash(), got.Hash())
	assert.Equal(t, fp.Flagmark().Get(), got.Flagmark().Get())
}

func TestFilterRoundTrip(t *testing.T) {
	e := newEnv(t)
	x := fingerprint.NewFilter(e.reg)
	assert.NilError(t, x.IncludeTrait(e.hlt))
	assert.NilError(t, x.ExcludeTrait(e.arm))
	assert.NilError(t, x.IncludeDetail(e.sword))
	assert.NilError(t, x.IncludeFlags(mark.FlagA))

	data, err := codec.EncodeFilter(x)
	assert.NilError(t, err)
	got, err := codec.DecodeFilter(e.reg, data)
	assert.NilError(t, err)

	assert.Assert(t, x.Equal(got))
	assert.Equal(t, x.Hash(), got.Hash())
}

func TestFilterDefaultsRoundTrip(t *testing.T) {
	e := newEnv(t)
	x := fingerprint.NewFilter(e.reg)
	x.RemoveFlagExclusion(mark.FlagStale)

	data, err := codec.EncodeFilter(x)
	assert.NilError(t, err)
	got, err := codec.DecodeFilter(e.reg, data)
	assert.NilError(t, err)
	assert.Assert(t, x.Equal(got), "relaxed defaults survive the trip")
}

func TestUnknownNameRejected(t *testing.T) {
	e := newEnv(t)
	fp := fingerprint.New(e.reg, mark.FlagBooted, []registry.TraitID{e.hlt}, nil)
	data, err := codec.EncodeFingerprint(fp)
	assert.NilError(t, err)

	// A registry missing "health" cannot resolve the payload.
	other := registry.New()
	_, err = codec.DecodeFingerprint(other, data)
	assert.ErrorIs(t, err, machina.ErrInvalidArgument)
}

func TestVersionRejected(t *testing.T) {
	e := newEnv(t)
	fp := fingerprint.New(e.reg, mark.FlagBooted, nil, nil)
	data, err := codec.EncodeFingerprint(fp)
	assert.NilError(t, err)

	binary.LittleEndian.PutUint32(data, 1)
	_, err = codec.DecodeFingerprint(e.reg, data)
	assert.ErrorIs(t, err, machina.ErrInvalidState)

	binary.LittleEndian.PutUint32(data, codec.FormatVersion+1)
	_, err = codec.DecodeFingerprint(e.reg, data)
	assert.ErrorIs(t, err, machina.ErrInvalidState)
}

func TestTruncatedArchive(t *testing.T) {
	e := newEnv(t)
	fp := fingerprint.New(e.reg, mark.FlagBooted, []registry.TraitID{e.hlt}, nil)
	data, err := codec.EncodeFingerprint(fp)
	assert.NilError(t, err)

	_, err = codec.DecodeFingerprint(e.reg, data[:len(data)-3])
	assert.ErrorIs(t, err, machina.ErrInvalidArgument)

	_, err = codec.DecodeFingerprint(e.reg, data[:2])
	assert.ErrorIs(t, err, machina.ErrInvalidArgument)
}

func TestSchemaDriftRejected(t *testing.T) {
	e := newEnv(t)
	fp := fingerprint.New(e.reg, mark.FlagBooted, []registry.TraitID{e.hlt}, nil)
	data, err := codec.EncodeFingerprint(fp)
	assert.NilError(t, err)

	// Same name, different layout: the schema hash no longer matches.
	type health struct {
		HP    int64
		Regen int32
	}
	drifted := registry.New()
	_, err = registry.RegisterTrait[health](drifted, "health")
	assert.NilError(t, err)
	_, err = codec.DecodeFingerprint(drifted, data)
	assert.ErrorIs(t, err, machina.ErrInvalidState)
}

func TestFilterJSONRoundTrip(t *testing.T) {
	e := newEnv(t)
	x := fingerprint.NewFilter(e.reg)
	assert.NilError(t, x.IncludeTrait(e.hlt))
	assert.NilError(t, x.ExcludeTrait(e.arm))
	assert.NilError(t, x.IncludeDetail(e.sword))
	assert.NilError(t, x.IncludeFlags(mark.FlagA))

	bz, err := codec.EncodeFilterJSON(x)
	assert.NilError(t, err)
	got, err := codec.DecodeFilterJSON(e.reg, bz)
	assert.NilError(t, err)
	assert.Assert(t, x.Equal(got))
	assert.Equal(t, x.Hash(), got.Hash())

	// The dump reads as plain JSON.
	dump, err := codec.Decode[codec.FilterDump](bz)
	assert.NilError(t, err)
	assert.Equal(t, "{Booted|A}", dump.IncludeFlags)
	assert.DeepEqual(t, []string{"health"}, dump.IncludeTraits)
	assert.DeepEqual(t, []string{"sword"}, dump.IncludeDetails)

	// A registry missing the named types cannot resolve the dump.
	other := registry.New()
	_, err = codec.DecodeFilterJSON(other, bz)
	assert.ErrorIs(t, err, machina.ErrInvalidArgument)
}

func TestJSONDebugCodec(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Flags uint32 `json:"flags"`
	}
	bz, err := codec.Encode(payload{Name: "filter", Flags: 6})
	assert.NilError(t, err)
	got, err := codec.Decode[payload](bz)
	assert.NilError(t, err)
	assert.Equal(t, "filter", got.Name)
	assert.Equal(t, uint32(6), got.Flags)
}
