// Package hart implements the hart lifecycle (C8) of spec.md §4.8: Examine,
// Halt, Resume, full/strict step, Poll, and reset assert/deassert. Session
// is the "one per target" object every framework-facing entry point hangs
// off of.
package hart

import (
	"fmt"
	"time"

	"rvdbg/dbgerr"
	"rvdbg/dbus"
	"rvdbg/dram"
	"rvdbg/inject"
	"rvdbg/internal/logging"
	"rvdbg/isa"
	"rvdbg/memio"
	"rvdbg/regs"
	"rvdbg/scanqueue"
	"rvdbg/trigger"
)

var log = logging.For("hart")

// State is the driver's view of what the hart is doing right now
// (spec.md §4.8 Poll).
type State int

const (
	StateRunning State = iota
	StateHalted
	StateDebugRunning // haltnot && interrupt: debug ROM still executing the injected snippet
	StateReset
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	case StateDebugRunning:
		return "debug-running"
	case StateReset:
		return "reset"
	}
	return "unknown"
}

// DebugReason is a bitmask of why the hart is halted (spec.md §4.8 Poll
// classification). A hardware trigger hit is reported as both a breakpoint
// and a watchpoint, matching the source's "HWBP → watchpoint+breakpoint".
type DebugReason int

const (
	ReasonBreakpoint DebugReason = 1 << iota
	ReasonWatchpoint
	ReasonDbgrq
	ReasonSingleStep
)

// Announcer is the out-of-scope framework event sink (spec.md §4.8 "Fire
// TARGET_EVENT_HALTED if announce").
type Announcer interface {
	TargetHalted()
}

// dcsrScratchWord is the Debug-RAM word used to stage a fresh DCSR value
// for the resume/reset DCSR-write snippet: word 4, the same data-slot word
// memio/regs use for their own scratch traffic (spec.md §4.8; the
// original's DEBUG_RAM_START+16 byte offset is word index 4, not word
// index 16).
const dcsrScratchWord = 4

// Session is the per-hart driver state (spec.md §3 "Hart session").
type Session struct {
	Transport *dbus.Transport
	Cache     *dram.Cache
	Injector  *inject.Injector
	Regs      *regs.Bank
	Triggers  *trigger.Manager
	MemIO     *memio.IO
	Announce  Announcer

	driver scanqueue.Driver
	irbits int

	AddrBits int
	Xlen     int
	DRAMSize int

	State          State
	DebugReason    DebugReason
	NeedStrictStep bool
}

// NewSession builds a session over the given out-of-scope scan-queue
// driver. Everything else is populated by Examine once addrbits, xlen and
// dramsize are known.
func NewSession(driver scanqueue.Driver, irbits int) *Session {
	return &Session{driver: driver, irbits: irbits}
}

func classifyXlen(word0, word1 uint32) (int, error) {
	switch {
	case word0 == 1 && word1 == 0:
		return 32, nil
	case word0 == 0xFFFFFFFF && word1 == 3:
		return 64, nil
	case word0 == 0xFFFFFFFF && word1 == 0xFFFFFFFF:
		return 128, nil
	default:
		return 0, fmt.Errorf("%w: xlen probe produced word0=%#x word1=%#x", dbgerr.ErrProtocolIncompatible, word0, word1)
	}
}

// Examine selects DTMINFO to learn addrbits, selects DBUS to read DMINFO
// and learn dramsize, then runs the xlen-discovery snippet (spec.md §4.8).
func (s *Session) Examine() error {
	dtminfo, err := dbus.ReadDTMInfo(s.driver, s.irbits)
	if err != nil {
		return err
	}
	version := dtminfo & dbus.DTMInfoVersionMask
	if version != 0 {
		return fmt.Errorf("%w: DTM version %d, want 0", dbgerr.ErrProtocolIncompatible, version)
	}
	addrbits := int((dtminfo & dbus.DTMInfoAddrBitsMask) >> 4)
	s.AddrBits = addrbits
	s.Transport = dbus.NewTransport(s.driver, addrbits, s.irbits)

	raw, err := s.Transport.DbusRead(dbus.DMINFO)
	if err != nil {
		return err
	}
	dminfo, _, _ := dbus.SplitControl(raw)
	if dminfo&dbus.DMInfoVersionMask != 1 {
		return fmt.Errorf("%w: DM version %d, want 1", dbgerr.ErrProtocolIncompatible, dminfo&dbus.DMInfoVersionMask)
	}
	if dminfo&dbus.DMInfoAuthTypeMask != 0 {
		return fmt.Errorf("%w: authentication required", dbgerr.ErrProtocolIncompatible)
	}
	dramsize := int((dminfo&dbus.DMInfoDramSizeMask)>>10) + 1
	s.DRAMSize = dramsize

	s.Cache = dram.New(s.Transport, 0, dramsize)
	s.Injector = inject.New(s.Cache)

	if err := s.discoverXlen(); err != nil {
		return err
	}

	s.Regs = regs.NewBank(s.Injector, s.Transport, s.Xlen, dramsize)
	misa, err := s.Regs.ReadCSR(regs.CSRMISA)
	if err != nil {
		return err
	}
	s.Regs.MISA = misa
	s.Triggers = trigger.NewManager(s.Regs, misa)
	s.MemIO = memio.New(s.Cache, s.Transport, s.Injector, s.Xlen, dramsize)
	s.State = StateRunning
	return nil
}

// discoverXlen injects the 5-word probe of spec.md §4.8, proves the RAM
// round-trips with cache_check before actually running it, then classifies
// xlen from the two harvested output words.
func (s *Session) discoverXlen() error {
	words := []uint32{
		isa.Xori(isa.S1, isa.X0, -1),
		isa.Srli(isa.S1, isa.S1, 31),
		isa.Sw(isa.X0, isa.S1, int32(dbus.DebugRAMStart+4*0)),
		isa.Srli(isa.S1, isa.S1, 31),
		isa.Sw(isa.X0, isa.S1, int32(dbus.DebugRAMStart+4*1)),
	}
	for i, w := range words {
		if err := s.Cache.Set32(i, w); err != nil {
			return err
		}
	}
	if err := s.Cache.SetJump(len(words)); err != nil {
		return err
	}

	if err := s.Cache.Write(len(words), false); err != nil {
		return err
	}
	if err := s.Cache.Check(); err != nil {
		return err
	}
	if err := s.Cache.Write(len(words), true); err != nil {
		return err
	}

	word0, err := s.Cache.ReadWord(0)
	if err != nil {
		return err
	}
	word1, err := s.Cache.ReadWord(1)
	if err != nil {
		return err
	}
	xlen, err := classifyXlen(word0, word1)
	if err != nil {
		return err
	}
	s.Xlen = xlen
	s.Cache.Xlen = xlen
	return nil
}

// Halt injects "csrsi DCSR,HALT; csrr S0,MHARTID; sw S0→SETHALTNOT; jump",
// which traps the hart into debug mode at its next instruction (spec.md
// §4.8).
func (s *Session) Halt() error {
	words := []uint32{
		isa.Csrsi(regs.CSRDCSR, regs.DCSRHalt),
		isa.Csrr(isa.S0, regs.CSRMHartID),
		isa.Sw(isa.X0, isa.S0, int32(dbus.SETHALTNOT)),
	}
	_, err := s.Injector.Run(words, nil, nil)
	return err
}

func (s *Session) injectDCSRSnippet(dcsr uint64) error {
	if err := s.Cache.Set32(dcsrScratchWord, uint32(dcsr)); err != nil {
		return err
	}
	words := []uint32{
		isa.Lw(isa.S0, isa.X0, int32(dbus.DebugRAMStart+4*dcsrScratchWord)),
		isa.Csrw(regs.CSRDCSR, isa.S0),
		isa.FenceI(),
	}
	for i, w := range words {
		if err := s.Cache.Set32(i, w); err != nil {
			return err
		}
	}
	if err := s.Cache.SetJump(len(words)); err != nil {
		return err
	}
	return s.Cache.Write(len(words), true)
}

// Resume is execute_resume (spec.md §4.8): restores tselect, pushes the
// shadow DPC to hardware, updates the DCSR shadow (EBREAK* set, HALT
// cleared, STEP per the step argument) and pushes it through an injected
// snippet, then marks the hart RUNNING and poisons gpr_cache.
func (s *Session) Resume(step bool) error {
	if err := s.Regs.RestoreTSelect(); err != nil {
		return err
	}
	if err := s.Regs.WriteCSR(regs.CSRDPC, s.Regs.DPC); err != nil {
		return err
	}

	dcsr := s.Regs.DCSR | regs.DCSREBreakM | regs.DCSREBreakH | regs.DCSREBreakS | regs.DCSREBreakU
	dcsr &^= regs.DCSRHalt
	if step {
		dcsr |= regs.DCSRStep
	} else {
		dcsr &^= regs.DCSRStep
	}
	s.Regs.DCSR = dcsr

	if err := s.injectDCSRSnippet(dcsr); err != nil {
		return err
	}

	s.Cache.Invalidate()
	if err := s.Transport.WaitForDebugintClear(true); err != nil {
		return err
	}

	s.State = StateRunning
	s.Regs.Poison()
	return nil
}

// FullStep performs execute_resume(true) then polls until the hart leaves
// DEBUG_RUNNING, bounded by Transport.WaitBound (2s unless configured
// otherwise; spec.md §4.8).
func (s *Session) FullStep() error {
	if err := s.Resume(true); err != nil {
		return err
	}
	deadline := time.Now().Add(s.Transport.WaitBound)
	for {
		if err := s.Poll(); err != nil {
			return err
		}
		if s.State != StateDebugRunning {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: full step did not complete", dbgerr.ErrTimeout)
		}
	}
}

// StrictStep temporarily removes every installed trigger, performs a full
// step, and reinstalls them, needed to get past a data-match watchpoint hit
// (spec.md §4.8).
func (s *Session) StrictStep() error {
	if err := s.Triggers.RemoveAll(); err != nil {
		return err
	}
	stepErr := s.FullStep()
	if err := s.Triggers.ReinstallAll(); err != nil && stepErr == nil {
		stepErr = err
	}
	s.NeedStrictStep = false
	return stepErr
}

// Step is the framework-facing step entry point: it dispatches to StrictStep
// when the last halt left need_strict_step set, else a plain FullStep
// (spec.md §4.8).
func (s *Session) Step() error {
	if s.NeedStrictStep {
		return s.StrictStep()
	}
	return s.FullStep()
}

// Poll is the framework-facing poll entry point (spec.md §4.8): one
// read_bits call classified into the four (haltnot, interrupt) cases.
func (s *Session) Poll() error {
	haltNot, interrupt, err := s.Transport.ReadBits()
	if err != nil {
		return err
	}
	switch {
	case haltNot && interrupt:
		s.State = StateDebugRunning
	case haltNot && !interrupt:
		if s.State != StateHalted {
			return s.handleHalt()
		}
	case !haltNot && interrupt:
		// "halting": no state change.
	default:
		s.State = StateRunning
	}
	return nil
}

func (s *Session) handleHalt() error {
	if err := s.Regs.DrainHalt(); err != nil {
		return err
	}
	switch regs.DCSRCause(s.Regs.DCSR) {
	case regs.CauseEBreak:
		s.DebugReason = ReasonBreakpoint
	case regs.CauseTrigger:
		s.DebugReason = ReasonWatchpoint | ReasonBreakpoint
		s.NeedStrictStep = true
	case regs.CauseHaltRequest:
		s.DebugReason = ReasonDbgrq
	case regs.CauseStep:
		s.DebugReason = ReasonSingleStep
	default:
		log.WithField("cause", regs.DCSRCause(s.Regs.DCSR)).Error("halt with unhandled DCSR.CAUSE")
	}
	s.State = StateHalted
	if s.Announce != nil {
		s.Announce.TargetHalted()
	}
	return nil
}

// AssertReset is the framework-facing reset-assert entry point (spec.md
// §4.8): wait for any pending interrupt to clear, set EBREAK*/HALT in the
// DCSR shadow, push it through the same snippet resume uses, then request
// the reset by writing NDRESET (haltOnReset) or FULLRESET to DMCONTROL with
// INTERRUPT set. The reset bits go to DMCONTROL only; the DCSR value
// written to the hart carries no reset request.
func (s *Session) AssertReset(haltOnReset bool) error {
	if err := s.Transport.WaitForDebugintClear(false); err != nil {
		return err
	}

	dcsr := s.Regs.DCSR | regs.DCSREBreakM | regs.DCSREBreakH | regs.DCSREBreakS | regs.DCSREBreakU | regs.DCSRHalt
	s.Regs.DCSR = dcsr
	if err := s.injectDCSRSnippet(dcsr); err != nil {
		return err
	}

	resetBits := uint32(dbus.DMControlFullReset)
	if haltOnReset {
		resetBits = dbus.DMControlNDReset
	}
	if err := s.Transport.DbusWrite(dbus.DMCONTROL, dbus.WithControl(resetBits, false, true)); err != nil {
		return err
	}

	s.State = StateReset
	return nil
}

// DeassertReset waits for the hart to reach the requested post-reset state
// (HALTED if haltOnReset, else RUNNING), bounded by Transport.WaitBound
// (2s unless configured otherwise; spec.md §4.8).
func (s *Session) DeassertReset(haltOnReset bool) error {
	want := StateRunning
	if haltOnReset {
		want = StateHalted
	}
	deadline := time.Now().Add(s.Transport.WaitBound)
	for {
		if err := s.Poll(); err != nil {
			return err
		}
		if s.State == want {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: reset deassert did not reach %s", dbgerr.ErrTimeout, want)
		}
	}
}

// ArchStateInfo is the supplemented arch_state diagnostic dump (spec.md §9
// supplemented feature, original_source/src/target/riscv/riscv.c).
type ArchStateInfo struct {
	State              State
	DebugReason        DebugReason
	Xlen               int
	DRAMSize           int
	AddrBits           int
	DCSR               uint64
	DPC                uint64
	MISA               uint64
	BusyDelay          int
	InterruptHighDelay int
	TriggersInUse      int
}

// ArchState reports a snapshot of driver-visible hart state, the target
// entry point framework UIs use for low-level diagnostics.
func (s *Session) ArchState() ArchStateInfo {
	return ArchStateInfo{
		State:              s.State,
		DebugReason:        s.DebugReason,
		Xlen:               s.Xlen,
		DRAMSize:           s.DRAMSize,
		AddrBits:           s.AddrBits,
		DCSR:               s.Regs.DCSR,
		DPC:                s.Regs.DPC,
		MISA:               s.Regs.MISA,
		BusyDelay:          s.Transport.BusyDelay(),
		InterruptHighDelay: s.Transport.InterruptHighDelay(),
		TriggersInUse:      s.Triggers.Count(),
	}
}
