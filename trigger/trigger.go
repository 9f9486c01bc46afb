// Package trigger implements the hardware trigger manager (C7) of spec.md
// §4.7: allocation, configuration and release of the bounded pool of 16
// address/data-match triggers used for breakpoints and watchpoints.
package trigger

import (
	"fmt"

	"rvdbg/dbgerr"
	"rvdbg/regs"
)

// MaxHWBPs is the size of the physical trigger pool (spec.md §4.7).
const MaxHWBPs = 16

// mcontrol (tdata1, type=2) bit layout, per the standard RISC-V debug
// trigger module this driver targets.
const (
	typeShift    = 28
	typeMask     = 0xf
	typeMControl = 2

	bitDMode = 1 << 27

	actionShift     = 12
	actionMask      = 0xf
	actionDebugMode = 1

	matchShift = 7
	matchMask  = 0xf
	matchEqual = 0

	bitM       = 1 << 6
	bitS       = 1 << 4
	bitU       = 1 << 3
	bitExecute = 1 << 2
	bitStore   = 1 << 1
	bitLoad    = 1 << 0
)

// misa extension bits, used to decide which privilege-mode match bits a new
// trigger can legally set (spec.md §4.7 "H/S/U according to misa").
const (
	misaBitS = 1 << uint('S'-'A')
	misaBitU = 1 << uint('U'-'A')
)

// Descriptor is what the framework asks for: an address plus which access
// kinds should fire the trigger.
type Descriptor struct {
	Address uint64
	Execute bool
	Store   bool
	Load    bool
}

// Manager owns the trigger pool for one hart session.
type Manager struct {
	regs *regs.Bank
	misa uint64

	used [MaxHWBPs]bool
	desc [MaxHWBPs]Descriptor
	ids  [MaxHWBPs]uint64
}

// NewManager builds a trigger manager over the given register bank. misa is
// read once at Examine time and passed in so privilege-mode bits can be
// masked correctly.
func NewManager(bank *regs.Bank, misa uint64) *Manager {
	return &Manager{regs: bank, misa: misa}
}

func isFreeMControl(tdata1 uint64) bool {
	if (tdata1>>typeShift)&typeMask != typeMControl {
		return false
	}
	return tdata1&(bitExecute|bitStore|bitLoad) == 0
}

func (m *Manager) buildTData1(d Descriptor) uint64 {
	v := uint64(typeMControl) << typeShift
	v |= bitDMode
	v |= uint64(actionDebugMode) << actionShift
	v |= uint64(matchEqual) << matchShift
	v |= bitM
	if m.misa&misaBitS != 0 {
		v |= bitS
	}
	if m.misa&misaBitU != 0 {
		v |= bitU
	}
	if d.Execute {
		v |= bitExecute
	}
	if d.Store {
		v |= bitStore
	}
	if d.Load {
		v |= bitLoad
	}
	return v
}

func (m *Manager) selectSlot(i int) (bool, error) {
	if err := m.regs.WriteCSR(regs.CSRTSelect, uint64(i)); err != nil {
		return false, err
	}
	got, err := m.regs.ReadCSR(regs.CSRTSelect)
	if err != nil {
		return false, err
	}
	return got == uint64(i), nil
}

// Allocate finds the first free, compatible trigger slot and configures it
// to own the caller-supplied unique_id — the breakpoint/watchpoint identity
// the framework's own list owns; the manager only keeps a back-reference by
// identity (spec.md §3 "Lifecycles", §4.7).
//
// Per slot: select it and read tselect back — a mismatch means no further
// slots exist on this hart and the search stops rather than continuing.
// tdata1 must read as an unclaimed type=2 (address/data match) trigger.
// The requested configuration is written and read back; any discrepancy
// means the slot can't support this access-kind mix, so tdata1 is cleared
// and the next slot is tried.
func (m *Manager) Allocate(id uint64, d Descriptor) error {
	for i := 0; i < MaxHWBPs; i++ {
		if m.used[i] {
			continue
		}

		exists, err := m.selectSlot(i)
		if err != nil {
			return err
		}
		if !exists {
			break
		}

		tdata1, err := m.regs.ReadCSR(regs.CSRTData1)
		if err != nil {
			return err
		}
		if !isFreeMControl(tdata1) {
			continue
		}

		want := m.buildTData1(d)
		if err := m.regs.WriteCSR(regs.CSRTData1, want); err != nil {
			return err
		}
		got, err := m.regs.ReadCSR(regs.CSRTData1)
		if err != nil {
			return err
		}
		if got != want {
			_ = m.regs.WriteCSR(regs.CSRTData1, 0)
			continue
		}

		if err := m.regs.WriteCSR(regs.CSRTData2, d.Address); err != nil {
			return err
		}

		m.used[i] = true
		m.desc[i] = d
		m.ids[i] = id
		return nil
	}
	return fmt.Errorf("%w: no free hardware trigger slots", dbgerr.ErrResourceExhausted)
}

// SlotOf returns the physical slot index owning id, for tests and
// diagnostics that need to assert on slot assignment directly (spec.md §8
// S5).
func (m *Manager) SlotOf(id uint64) (int, bool) {
	for i := 0; i < MaxHWBPs; i++ {
		if m.used[i] && m.ids[i] == id {
			return i, true
		}
	}
	return 0, false
}

// Release finds the slot owning id, clears its tdata1, and frees it
// (spec.md §4.7).
func (m *Manager) Release(id uint64) error {
	for i := 0; i < MaxHWBPs; i++ {
		if m.used[i] && m.ids[i] == id {
			if err := m.regs.WriteCSR(regs.CSRTSelect, uint64(i)); err != nil {
				return err
			}
			if err := m.regs.WriteCSR(regs.CSRTData1, 0); err != nil {
				return err
			}
			m.used[i] = false
			return nil
		}
	}
	return fmt.Errorf("%w: trigger id %d not allocated", dbgerr.ErrUnsupported, id)
}

// Installed reports every currently allocated descriptor, for strict-step's
// temporary remove/reinstall cycle (spec.md §4.8).
func (m *Manager) Installed() []Descriptor {
	var out []Descriptor
	for i := 0; i < MaxHWBPs; i++ {
		if m.used[i] {
			out = append(out, m.desc[i])
		}
	}
	return out
}

// InstalledIDs reports the unique_id of every currently allocated trigger,
// the set spec.md §8 property 7 compares before/after a strict step.
func (m *Manager) InstalledIDs() []uint64 {
	var out []uint64
	for i := 0; i < MaxHWBPs; i++ {
		if m.used[i] {
			out = append(out, m.ids[i])
		}
	}
	return out
}

// RemoveAll clears tdata1 for every installed trigger, keeping the
// manager's own bookkeeping so ReinstallAll can put them back.
func (m *Manager) RemoveAll() error {
	for i := 0; i < MaxHWBPs; i++ {
		if !m.used[i] {
			continue
		}
		if err := m.regs.WriteCSR(regs.CSRTSelect, uint64(i)); err != nil {
			return err
		}
		if err := m.regs.WriteCSR(regs.CSRTData1, 0); err != nil {
			return err
		}
	}
	return nil
}

// ReinstallAll re-writes tdata1/tdata2 for every slot RemoveAll cleared.
func (m *Manager) ReinstallAll() error {
	for i := 0; i < MaxHWBPs; i++ {
		if !m.used[i] {
			continue
		}
		if err := m.regs.WriteCSR(regs.CSRTSelect, uint64(i)); err != nil {
			return err
		}
		if err := m.regs.WriteCSR(regs.CSRTData1, m.buildTData1(m.desc[i])); err != nil {
			return err
		}
		if err := m.regs.WriteCSR(regs.CSRTData2, m.desc[i].Address); err != nil {
			return err
		}
	}
	return nil
}

// Count reports how many slots are currently allocated.
func (m *Manager) Count() int {
	n := 0
	for _, used := range m.used {
		if used {
			n++
		}
	}
	return n
}
