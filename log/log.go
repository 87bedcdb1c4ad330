// Package log wraps zerolog with event helpers for the engine's domain
// objects: filters, marks, iterables and operate dispatches.
package log

import (
	"github.com/rs/zerolog"

	"github.com/operatics/machina/codec"
	"github.com/operatics/machina/fingerprint"
	"github.com/operatics/machina/registry"
	"github.com/operatics/machina/subject"
)

type Logger struct {
	*zerolog.Logger
}

// New wraps a zerolog logger.
func New(zl *zerolog.Logger) Logger {
	return Logger{zl}
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	zl := zerolog.Nop()
	return Logger{&zl}
}

func loadTraitsIntoArrayLogger(reg *registry.Registry, ids []registry.TraitID, arrayLogger *zerolog.Array) *zerolog.Array {
	for _, id := range ids {
		info, err := reg.Trait(id)
		if err != nil {
			continue
		}
		dictLogger := zerolog.Dict()
		dictLogger = dictLogger.Int("trait_id", int(id))
		dictLogger = dictLogger.Str("trait_name", info.Name)
		arrayLogger = arrayLogger.Dict(dictLogger)
	}
	return arrayLogger
}

func loadDetailsIntoArrayLogger(reg *registry.Registry, ids []registry.DetailID, arrayLogger *zerolog.Array) *zerolog.Array {
	for _, id := range ids {
		info, err := reg.Detail(id)
		if err != nil {
			continue
		}
		dictLogger := zerolog.Dict()
		dictLogger = dictLogger.Int("detail_id", int(id))
		dictLogger = dictLogger.Str("detail_name", info.Name)
		arrayLogger = arrayLogger.Dict(dictLogger)
	}
	return arrayLogger
}

func loadFingerprintIntoEvent(zeroLoggerEvent *zerolog.Event, fp *fingerprint.Fingerprint) *zerolog.Event {
	reg := fp.Registry()
	zeroLoggerEvent.Str("flagmark", fp.Flagmark().Get().String())
	zeroLoggerEvent.Array("traits", loadTraitsIntoArrayLogger(reg, fp.Traits().IDs(), zerolog.Arr()))
	return zeroLoggerEvent.Array("details", loadDetailsIntoArrayLogger(reg, fp.Details().IDs(), zerolog.Arr()))
}

// LogFilter logs every clause of a filter as its JSON dump.
func (l Logger) LogFilter(x *fingerprint.Filter, level zerolog.Level) {
	zeroLoggerEvent := l.WithLevel(level)
	bz, err := codec.EncodeFilterJSON(x)
	if err != nil {
		zeroLoggerEvent.Err(err).Msg("filter")
		return
	}
	zeroLoggerEvent.RawJSON("filter", bz).Msg("filter")
}

// LogSpawn logs a subject's birth composition.
func (l Logger) LogSpawn(id subject.ID, fp *fingerprint.Fingerprint) {
	zeroLoggerEvent := l.Debug()
	zeroLoggerEvent.Uint32("subject_id", uint32(id))
	loadFingerprintIntoEvent(zeroLoggerEvent, fp).Msg("subject spawned")
}

// LogDespawn logs a subject's removal, immediate or deferred.
func (l Logger) LogDespawn(id subject.ID, deferred bool) {
	l.Debug().
		Uint32("subject_id", uint32(id)).
		Bool("deferred", deferred).
		Msg("subject despawned")
}

// LogIterable logs one iterable's shape within an enchain.
func (l Logger) LogIterable(kind string, slots int, solid bool) {
	l.Debug().
		Str("kind", kind).
		Int("slots", slots).
		Bool("solid", solid).
		Msg("iterable enchained")
}

// LogOperate logs an operate dispatch.
func (l Logger) LogOperate(threads, slots int) {
	l.Debug().
		Int("threads", threads).
		Int("slots", slots).
		Msg("operate dispatched")
}

// CreateMechanismLogger creates a sub logger carrying the mechanism id.
func (l Logger) CreateMechanismLogger(mechanismID string) Logger {
	zeroLogger := l.Logger.With().
		Str("mechanism_id", mechanismID).
		Logger()
	return Logger{&zeroLogger}
}
