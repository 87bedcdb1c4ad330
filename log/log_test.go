package log_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/operatics/machina/assert"
	"github.com/operatics/machina/fingerprint"
	"github.com/operatics/machina/log"
	"github.com/operatics/machina/mark"
	"github.com/operatics/machina/registry"
)

type health struct{ HP int32 }

func TestLogFilter(t *testing.T) {
	reg := registry.New()
	hlt, err := registry.RegisterTrait[health](reg, "health")
	assert.NilError(t, err)
	weapon, err := reg.RegisterDetail("weapon", registry.InvalidDetailID)
	assert.NilError(t, err)

	x := fingerprint.NewFilter(reg)
	assert.NilError(t, x.IncludeTrait(hlt))
	assert.NilError(t, x.ExcludeDetail(weapon))

	var buf bytes.Buffer
	zl := zerolog.New(&buf)
	l := log.New(&zl)
	l.LogFilter(x, zerolog.InfoLevel)

	out := buf.String()
	assert.Assert(t, strings.Contains(out, `"include_traits":["health"]`), out)
	assert.Assert(t, strings.Contains(out, `"exclude_details":["weapon"]`), out)
	assert.Assert(t, strings.Contains(out, `"include_flags":"{Booted}"`), out)
}

func TestLogSpawn(t *testing.T) {
	reg := registry.New()
	hlt, err := registry.RegisterTrait[health](reg, "health")
	assert.NilError(t, err)
	fp := fingerprint.New(reg, mark.FlagBooted, []registry.TraitID{hlt}, nil)

	var buf bytes.Buffer
	zl := zerolog.New(&buf).Level(zerolog.DebugLevel)
	l := log.New(&zl).CreateMechanismLogger("m-1")
	l.LogSpawn(7, fp)

	out := buf.String()
	assert.Assert(t, strings.Contains(out, `"subject_id":7`), out)
	assert.Assert(t, strings.Contains(out, `"mechanism_id":"m-1"`), out)
	assert.Assert(t, strings.Contains(out, "subject spawned"), out)
}
