package hart

import (
	"rvdbg/dbgerr"
	"rvdbg/regs"
	"rvdbg/trigger"
)

// InitTarget is the framework-facing init_target entry point (spec.md §6):
// a no-op validation hook run once before the first Examine, so a target
// that was constructed wrong (no driver) fails loudly instead of at the
// first scan.
func (s *Session) InitTarget() error {
	if s.driver == nil {
		return dbgerr.ErrTransportFatal
	}
	log.Debug("init_target")
	return nil
}

// DeinitTarget is the framework-facing deinit_target entry point (spec.md
// §6): releases every hardware trigger this session owns and drops the
// announcer, mirroring how a real framework tears a target down between
// debug sessions without touching the scan-queue driver itself.
func (s *Session) DeinitTarget() error {
	if s.Triggers != nil {
		for _, id := range s.Triggers.InstalledIDs() {
			if err := s.Triggers.Release(id); err != nil {
				return err
			}
		}
	}
	s.Announce = nil
	log.Debug("deinit_target")
	return nil
}

// GetGDBRegList is the framework-facing get_gdb_reg_list entry point
// (spec.md §6): the 4162-entry x0..x31/pc/f0..f31/csr0..csr4095/priv list
// in the exact order the remote debugger expects, sized to this hart's
// xlen.
func (s *Session) GetGDBRegList() []regs.Register {
	return s.Regs.RegList
}

// ReadMemory is the framework-facing read_memory entry point (spec.md §6),
// delegating to the bulk memory-I/O driver (C9).
func (s *Session) ReadMemory(addr uint64, size, count int) ([]byte, error) {
	return s.MemIO.Read(addr, size, count)
}

// WriteMemory is the framework-facing write_memory entry point (spec.md
// §6), delegating to the bulk memory-I/O driver (C9).
func (s *Session) WriteMemory(addr uint64, size int, data []byte) error {
	return s.MemIO.Write(addr, size, data)
}

// AddBreakpoint is the framework-facing add_breakpoint entry point (spec.md
// §6): claims a hardware execute-match trigger under the framework-supplied
// unique_id. ErrResourceExhausted propagates unchanged so the framework can
// fall back to a software breakpoint (spec.md §7 "Resource exhaustion").
func (s *Session) AddBreakpoint(id, address uint64) error {
	return s.Triggers.Allocate(id, trigger.Descriptor{Address: address, Execute: true})
}

// RemoveBreakpoint is the framework-facing remove_breakpoint entry point
// (spec.md §6).
func (s *Session) RemoveBreakpoint(id uint64) error {
	return s.Triggers.Release(id)
}

// AddWatchpoint is the framework-facing add_watchpoint entry point (spec.md
// §6): claims a hardware data-match trigger for the requested read/write
// access kinds under the framework-supplied unique_id.
func (s *Session) AddWatchpoint(id, address uint64, read, write bool) error {
	return s.Triggers.Allocate(id, trigger.Descriptor{Address: address, Load: read, Store: write})
}

// RemoveWatchpoint is the framework-facing remove_watchpoint entry point
// (spec.md §6). Watchpoints and breakpoints share one physical trigger
// pool, so removal is identical to RemoveBreakpoint.
func (s *Session) RemoveWatchpoint(id uint64) error {
	return s.Triggers.Release(id)
}
