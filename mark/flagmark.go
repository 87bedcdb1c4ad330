package mark

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/operatics/machina"
)

// Flagmark is a 32-bit flag word. Bits 0..4 are system-reserved; bits 5..30
// are the user flags A through Z. Bit 31 stays clear.
type Flagmark uint32

// System flags.
const (
	// FlagStale marks a logically removed subject. Stale slots are skipped
	// by iteration and reclaimed at the next unlock of their iterable.
	FlagStale Flagmark = 1 << iota

	// FlagBooted marks a fully initialized subject. The default filter
	// includes it, so iteration never observes half-built subjects.
	FlagBooted

	// FlagOnline marks a subject participating in the live simulation.
	FlagOnline

	// FlagEditor marks a subject owned by editor-time tooling.
	FlagEditor

	// FlagDeferredDespawn marks a subject whose despawn was requested
	// while its iterable was locked.
	FlagDeferredDespawn
)

// User flags A..Z occupy bits 5 through 30.
const (
	FlagA Flagmark = 1 << (iota + 5)
	FlagB
	FlagC
	FlagD
	FlagE
	FlagF
	FlagG
	FlagH
	FlagI
	FlagJ
	FlagK
	FlagL
	FlagM
	FlagN
	FlagO
	FlagP
	FlagQ
	FlagR
	FlagS
	FlagT
	FlagU
	FlagV
	FlagW
	FlagX
	FlagY
	FlagZ
)

// FlagmarkNone is the empty flag word.
const FlagmarkNone Flagmark = 0

// SystemFlags covers every system-reserved bit.
const SystemFlags = FlagStale | FlagBooted | FlagOnline | FlagEditor | FlagDeferredDespawn

// Has reports whether every bit of the given flags is raised.
func (f Flagmark) Has(flags Flagmark) bool {
	return f&flags == flags
}

// HasAny reports whether any bit of the given flags is raised.
func (f Flagmark) HasAny(flags Flagmark) bool {
	return f&flags != 0
}

// With returns the flagmark with the given flags raised.
func (f Flagmark) With(flags Flagmark) Flagmark {
	return f | flags
}

// Without returns the flagmark with the given flags lowered.
func (f Flagmark) Without(flags Flagmark) Flagmark {
	return f &^ flags
}

var systemFlagNames = map[Flagmark]string{
	FlagStale:           "Stale",
	FlagBooted:          "Booted",
	FlagOnline:          "Online",
	FlagEditor:          "Editor",
	FlagDeferredDespawn: "DeferredDespawn",
}

// FlagByName resolves a flag name: a system flag name ("Stale", "Booted",
// "Online", "Editor", "DeferredDespawn") or a single user letter "A".."Z".
func FlagByName(name string) (Flagmark, bool) {
	for flag, n := range systemFlagNames {
		if strings.EqualFold(n, name) {
			return flag, true
		}
	}
	if len(name) == 1 && name[0] >= 'A' && name[0] <= 'Z' {
		return FlagA << (name[0] - 'A'), true
	}
	return FlagmarkNone, false
}

// ParseFlagmark parses the String form of a flag word: "{}", "{Booted}",
// "{Booted|A}".
func ParseFlagmark(s string) (Flagmark, error) {
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return FlagmarkNone, eris.Wrapf(machina.ErrInvalidArgument, "malformed flagmark %q", s)
	}
	body := s[1 : len(s)-1]
	if body == "" {
		return FlagmarkNone, nil
	}
	var f Flagmark
	for _, name := range strings.Split(body, "|") {
		flag, ok := FlagByName(name)
		if !ok {
			return FlagmarkNone, eris.Wrapf(machina.ErrInvalidArgument, "unknown flag %q", name)
		}
		f |= flag
	}
	return f, nil
}

func (f Flagmark) String() string {
	if f == 0 {
		return "{}"
	}
	var sb strings.Builder
	sb.WriteByte('{')
	first := true
	emit := func(s string) {
		if !first {
			sb.WriteByte('|')
		}
		sb.WriteString(s)
		first = false
	}
	for bit := Flagmark(1); bit != 0 && bit <= 1<<30; bit <<= 1 {
		if f&bit == 0 {
			continue
		}
		if name, ok := systemFlagNames[bit]; ok {
			emit(name)
		} else {
			letter := byte('A')
			for probe := FlagA; probe != bit; probe <<= 1 {
				letter++
			}
			emit(string(letter))
		}
	}
	sb.WriteByte('}')
	return sb.String()
}
