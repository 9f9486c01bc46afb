package scenario

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"rvdbg/dbgerr"
	"rvdbg/hart"
	"rvdbg/regs"
	"rvdbg/scanqueue"
)

// newSession builds a fresh golden DM plus the hart session over it, never
// shared across goroutines, so each scenario gets its own isolated state
// (spec.md §8's scenarios are independent by construction).
func newSession(addrbits, dramsize, numTriggers int) (*hart.Session, *scanqueue.Sim) {
	sim := scanqueue.NewSim(addrbits, dramsize, numTriggers)
	return hart.NewSession(sim, 5), sim
}

// s1ExamineSuccess is spec.md §8 S1: examine discovers addrbits/dramsize
// and a populated misa for an rv32 mock.
func s1ExamineSuccess() error {
	s, _ := newSession(5, 16, 16)
	if err := s.Examine(); err != nil {
		return err
	}
	if s.AddrBits != 5 {
		return errf("addrbits = %d, want 5", s.AddrBits)
	}
	if s.DRAMSize != 16 {
		return errf("dramsize = %d, want 16", s.DRAMSize)
	}
	if s.Xlen != 32 {
		return errf("xlen = %d, want 32", s.Xlen)
	}
	return nil
}

// s2HaltPollDrain is spec.md §8 S2: after Halt, Poll observes
// (haltnot=1, interrupt=0), and the halt-time drain reports
// debug_reason=DBG_REASON_DBGRQ (DCSR.CAUSE=HALT_REQUEST).
func s2HaltPollDrain() error {
	s, sim := newSession(5, 16, 16)
	if err := s.Examine(); err != nil {
		return err
	}
	// Real hardware stamps DCSR.CAUSE at trap entry, before any injected
	// snippet runs; model that here since the golden DM's halt snippet only
	// ORs in the HALT bit.
	sim.SetCSR(regs.CSRDCSR, uint64(regs.CauseHaltRequest)<<regs.DCSRCauseShift)
	if err := s.Halt(); err != nil {
		return err
	}
	if err := s.Poll(); err != nil {
		return err
	}
	if s.State != hart.StateHalted {
		return errf("state = %s, want halted", s.State)
	}
	if s.DebugReason != hart.ReasonDbgrq {
		return errf("debug_reason = %v, want DbgReq", s.DebugReason)
	}
	return nil
}

// s3MemoryRead is spec.md §8 S3: a 4-byte read from a preloaded address
// returns exactly the preloaded bytes.
func s3MemoryRead() error {
	s, sim := newSession(5, 16, 16)
	if err := s.Examine(); err != nil {
		return err
	}
	if err := s.Halt(); err != nil {
		return err
	}
	want := []byte{0xde, 0xad, 0xbe, 0xef}
	sim.SetMem(0x1000, want)

	got, err := s.ReadMemory(0x1000, 4, 1)
	if err != nil {
		return err
	}
	if diff := cmp.Diff(want, got); diff != "" {
		return errf("ReadMemory mismatch (-want +got):\n%s", diff)
	}
	return nil
}

// s4MemoryWriteRetry is spec.md §8 S4: a forced BUSY mid-batch bumps
// dbus_busy_delay by exactly one and the write still completes correctly.
func s4MemoryWriteRetry() error {
	s, sim := newSession(5, 16, 16)
	if err := s.Examine(); err != nil {
		return err
	}
	if err := s.Halt(); err != nil {
		return err
	}

	before := s.Transport.BusyDelay()
	sim.ForceBusy(1)

	data := []byte{1, 2, 3, 4}
	if err := s.WriteMemory(0x2000, 4, data); err != nil {
		return err
	}
	if got := s.Transport.BusyDelay(); got != before+1 {
		return errf("dbus_busy_delay = %d, want %d", got, before+1)
	}
	if diff := cmp.Diff(data, sim.Mem(0x2000, 4)); diff != "" {
		return errf("written memory mismatch (-want +got):\n%s", diff)
	}
	return nil
}

// s5BreakpointAddRemove is spec.md §8 S5: add_trigger claims slot 0 under
// the caller's unique_id, remove_trigger frees it.
func s5BreakpointAddRemove() error {
	s, _ := newSession(5, 16, 4)
	if err := s.Examine(); err != nil {
		return err
	}
	if err := s.Halt(); err != nil {
		return err
	}

	if err := s.AddBreakpoint(7, 0x2000); err != nil {
		return err
	}
	slot, ok := s.Triggers.SlotOf(7)
	if !ok || slot != 0 {
		return errf("SlotOf(7) = (%d, %v), want (0, true)", slot, ok)
	}

	if err := s.RemoveBreakpoint(7); err != nil {
		return err
	}
	if _, ok := s.Triggers.SlotOf(7); ok {
		return errf("trigger 7 still installed after RemoveBreakpoint")
	}
	return nil
}

// s6StrictStepAfterHWBP is spec.md §8 S6: a strict step removes every
// trigger, steps once, and reinstalls the same set of unique_ids.
func s6StrictStepAfterHWBP() error {
	s, _ := newSession(5, 16, 4)
	if err := s.Examine(); err != nil {
		return err
	}
	if err := s.Halt(); err != nil {
		return err
	}
	if err := s.AddWatchpoint(9, 0x3000, true, true); err != nil {
		return err
	}

	before := append([]uint64(nil), s.Triggers.InstalledIDs()...)
	s.NeedStrictStep = true

	if err := s.Step(); err != nil {
		return err
	}
	after := s.Triggers.InstalledIDs()
	if diff := cmp.Diff(before, after); diff != "" {
		return errf("installed trigger set changed across strict step (-before +after):\n%s", diff)
	}
	return nil
}

// s7TriggerPoolExhaustion is spec.md §8 property 6: once every physical
// trigger slot the golden DM offers is claimed, the next Allocate fails with
// ErrResourceExhausted rather than silently overwriting a slot.
func s7TriggerPoolExhaustion() error {
	const numTriggers = 4
	s, _ := newSession(5, 16, numTriggers)
	if err := s.Examine(); err != nil {
		return err
	}
	if err := s.Halt(); err != nil {
		return err
	}

	for i := uint64(0); i < numTriggers; i++ {
		if err := s.AddBreakpoint(i+1, 0x1000+4*i); err != nil {
			return errf("AddBreakpoint(%d): unexpected error filling slot %d: %v", i+1, i, err)
		}
	}
	if err := s.AddBreakpoint(999, 0x9000); !errors.Is(err, dbgerr.ErrResourceExhausted) {
		return errf("AddBreakpoint on a full pool returned %v, want ErrResourceExhausted", err)
	}
	if s.Triggers.Count() != numTriggers {
		return errf("Count() = %d after exhaustion, want %d", s.Triggers.Count(), numTriggers)
	}
	return nil
}

func errf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

func TestScenarios(t *testing.T) {
	scenarios := []Scenario{
		{Name: "S1 examine success", Run: s1ExamineSuccess},
		{Name: "S2 halt->poll->drain", Run: s2HaltPollDrain},
		{Name: "S3 memory read", Run: s3MemoryRead},
		{Name: "S4 memory write retry", Run: s4MemoryWriteRetry},
		{Name: "S5 breakpoint add/remove", Run: s5BreakpointAddRemove},
		{Name: "S6 strict step after HWBP", Run: s6StrictStepAfterHWBP},
		{Name: "S7 trigger pool exhaustion", Run: s7TriggerPoolExhaustion},
	}
	if err := RunAll(scenarios); err != nil {
		t.Fatal(err)
	}
}
