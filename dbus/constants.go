// Package dbus implements the debug-bus wire format (C1), the pipelined
// scan batch (C2) and the single-scan transport with BUSY retry (C3) of
// spec.md §4.1-§4.3. It is the lowest layer of the driver: everything above
// it (dram, inject, regs, trigger, hart, memio) is built out of these
// primitives.
package dbus

// Debug Module register map consumed by this driver (spec.md §6).
const (
	DMCONTROL  = 0x10
	DMINFO     = 0x11
	SETHALTNOT = 0x10c
)

// DMCONTROL bit layout.
const (
	DMControlFullReset  = 1 << 0
	DMControlNDReset    = 1 << 1
	DMControlBusError   = 7 << 19
	DMControlHaltNotBit = 32 // bit index within the 34-bit data field
	DMControlInterrupt  = 33 // bit index within the 34-bit data field
)

// DMINFO bit layout.
const (
	DMInfoVersionMask  = 0x3
	DMInfoAuthTypeMask = 0x3 << 2
	DMInfoAuthBusy     = 1 << 4
	DMInfoAuth         = 1 << 5
	DMInfoDramSizeMask = 0x3f << 10
	DMInfoAccess8      = 1 << 16
	DMInfoAccess16     = 1 << 17
	DMInfoAccess32     = 1 << 18
	DMInfoAccess64     = 1 << 19
	DMInfoAccess128    = 1 << 20
)

// DTMINFO (JTAG IR 0x10) bit layout.
const (
	DTMInfoVersionMask  = 0xf
	DTMInfoAddrBitsMask = 0xf << 4
)

// Injected program constants (spec.md §6).
const (
	DebugROMStart     = 0x800
	DebugROMResume    = 0x804
	DebugROMException = 0x808
	DebugRAMStart     = 0x400
)

// JTAG IR selectors (spec.md §6).
const (
	IRDTMInfo = 0x10
	IRDBus    = 0x11
	IRDebug   = 0x05
)

// DRAMAddress maps a Debug-RAM word index to its dbus address (spec.md
// §4.4): the first 16 words are addressed directly, the rest are relocated
// past the DMCONTROL/DMINFO register window.
func DRAMAddress(i int) uint16 {
	if i < 0x10 {
		return uint16(i)
	}
	return uint16(0x40 + i - 0x10)
}
