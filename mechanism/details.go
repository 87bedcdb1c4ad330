package mechanism

import (
	"github.com/rotisserie/eris"

	"github.com/operatics/machina"
	"github.com/operatics/machina/iterable"
	"github.com/operatics/machina/registry"
	"github.com/operatics/machina/subject"
)

// AddDetail attaches a live detail object to the subject, giving it a belt
// home on first use. When the home belt lacks a line for the class it is
// expanded in place if unlocked, otherwise the subject is re-homed to a
// belt that covers it.
func (m *Mechanism) AddDetail(h subject.Handle, d registry.Detail) error {
	if d == nil {
		return eris.Wrap(machina.ErrNullArgument, "adding a nil detail")
	}
	if _, err := m.reg.Detail(d.DetailClass()); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	info, err := m.lookup(h)
	if err != nil {
		return err
	}
	class := d.DetailClass()
	added, err := info.fp.AddDetail(class)
	if err != nil {
		return err
	}
	revert := func() {
		if added {
			_, _ = info.fp.RemoveDetail(class)
		}
	}

	if info.belt == nil {
		b, err := m.beltFor(info.fp.Details().IDs())
		if err != nil {
			revert()
			return err
		}
		slot, err := b.Place(h.ID, info.fp)
		if err != nil {
			revert()
			return err
		}
		m.setBeltHome(info, b, slot)
	} else if info.belt.LineOf(class) < 0 {
		if !info.belt.Locked() {
			if err := info.belt.Expand(class); err != nil {
				revert()
				return err
			}
		} else if err := m.rehome(h.ID, info); err != nil {
			revert()
			return err
		}
	}

	if _, err := info.belt.AddDetailInstance(info.beltSlot, d); err != nil {
		revert()
		return err
	}
	return nil
}

// rehome moves a subject to a belt covering its full detailmark, detail
// instances included, leaving a detached stale slot behind.
func (m *Mechanism) rehome(id subject.ID, info *subjectInfo) error {
	oldBelt, oldSlot := info.belt, info.beltSlot
	if oldBelt.SolidLocked() {
		return eris.Wrap(machina.ErrInvalidState, "subject's home belt is solid-locked")
	}
	newBelt, err := m.beltFor(info.fp.Details().IDs())
	if err != nil {
		return err
	}
	if newBelt == oldBelt {
		return eris.Wrap(machina.ErrInvalidState, "no belt can take the subject")
	}
	newSlot, err := newBelt.Place(id, info.fp)
	if err != nil {
		return err
	}
	old := oldBelt.Slot(oldSlot)
	for line := 0; line < oldBelt.Detailmark().Len(); line++ {
		for _, d := range old.Line(line) {
			if _, err := newBelt.AddDetailInstance(newSlot, d); err != nil {
				return err
			}
		}
	}
	m.setBeltHome(info, newBelt, newSlot)
	return oldBelt.MarkRemoved(oldSlot, true)
}

func (m *Mechanism) setBeltHome(info *subjectInfo, b *iterable.Belt, slot int) {
	m.tableMu.Lock()
	info.belt, info.beltSlot = b, slot
	s := info.subjective
	m.tableMu.Unlock()
	if s != nil {
		s.TakeBeltSlot(b.Tag(), slot)
	}
}

// RemoveDetail detaches one detail object from the subject, reporting
// whether it was attached. The last instance of a class lowers the class
// in the fingerprint; the last class releases the belt home.
func (m *Mechanism) RemoveDetail(h subject.Handle, d registry.Detail) (bool, error) {
	if d == nil {
		return false, eris.Wrap(machina.ErrNullArgument, "removing a nil detail")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	info, err := m.lookup(h)
	if err != nil {
		return false, err
	}
	if info.belt == nil {
		return false, nil
	}
	gone, err := info.belt.RemoveDetailInstance(info.beltSlot, d)
	if err != nil || !gone {
		return gone, err
	}
	// A belt line can host several classes through inheritance; the
	// fingerprint bit falls only with the class's own last instance.
	class := d.DetailClass()
	line := info.belt.LineOf(class)
	remaining := 0
	if line >= 0 {
		for _, left := range info.belt.Slot(info.beltSlot).Line(line) {
			if left.DetailClass() == class {
				remaining++
			}
		}
	}
	if remaining == 0 {
		if _, err := info.fp.RemoveDetail(class); err != nil {
			return true, err
		}
	}
	if info.fp.Details().Len() == 0 {
		oldBelt, oldSlot := info.belt, info.beltSlot
		m.tableMu.Lock()
		info.belt, info.beltSlot = nil, -1
		m.tableMu.Unlock()
		if err := oldBelt.MarkRemoved(oldSlot, true); err != nil {
			return true, err
		}
	}
	return true, nil
}

// EnableDetail raises a detail instance's enabled state, when the concrete
// type supports switching.
func (m *Mechanism) EnableDetail(d registry.Detail) error {
	return switchDetail(d, true)
}

// DisableDetail lowers it. Disabled instances drop out of belt combo
// enumeration on the next slot visit.
func (m *Mechanism) DisableDetail(d registry.Detail) error {
	return switchDetail(d, false)
}

func switchDetail(d registry.Detail, on bool) error {
	if d == nil {
		return eris.Wrap(machina.ErrNullArgument, "switching a nil detail")
	}
	s, ok := d.(interface{ SetEnabled(bool) })
	if !ok {
		return eris.Wrapf(machina.ErrNoImplementation,
			"detail class %d does not support switching", d.DetailClass())
	}
	s.SetEnabled(on)
	return nil
}
