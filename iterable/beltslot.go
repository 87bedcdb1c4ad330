package iterable

import (
	"github.com/operatics/machina/fingerprint"
	"github.com/operatics/machina/registry"
	"github.com/operatics/machina/subject"
)

// BeltSlot holds one subject's live detail objects, one cache line per
// detail class of the owning belt. Lines hold concrete instances; a line
// may carry several, and each may be individually disabled.
type BeltSlot struct {
	subjectID subject.ID
	fp        *fingerprint.Fingerprint
	lines     [][]registry.Detail
}

// SubjectID returns the subject occupying the slot, or subject.None.
func (s *BeltSlot) SubjectID() subject.ID { return s.subjectID }

// Fingerprint returns the slot's fingerprint; a detached stale clone
// after a mid-lock removal.
func (s *BeltSlot) Fingerprint() *fingerprint.Fingerprint { return s.fp }

// Line returns the detail instances cached on the given belt line.
func (s *BeltSlot) Line(line int) []registry.Detail { return s.lines[line] }

// enabledCount counts the enabled instances across a group of lines. A
// mainline position spans several lines when subclasses answer for an
// included superclass.
func (s *BeltSlot) enabledCount(lines []int) int {
	n := 0
	for _, line := range lines {
		for _, d := range s.lines[line] {
			if d.Enabled() {
				n++
			}
		}
	}
	return n
}

// nthEnabled returns the n-th enabled instance across a group of lines,
// or nil when the group shrank since the combo count was taken.
func (s *BeltSlot) nthEnabled(lines []int, n int) registry.Detail {
	for _, line := range lines {
		for _, d := range s.lines[line] {
			if !d.Enabled() {
				continue
			}
			if n == 0 {
				return d
			}
			n--
		}
	}
	return nil
}

// comboCount returns the number of detail combinations the slot yields
// for the given mainline, i.e. the product of enabled instance counts
// across the mainline positions. Any empty position zeroes the product.
func (s *BeltSlot) comboCount(mainline [][]int) int {
	combos := 1
	for _, lines := range mainline {
		n := s.enabledCount(lines)
		if n == 0 {
			return 0
		}
		combos *= n
	}
	return combos
}
