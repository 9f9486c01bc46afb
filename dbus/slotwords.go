package dbus

import "rvdbg/isa"

// SlotOffset returns the byte offset, from the hart's point of view, of the
// given Debug-RAM slot, suitable as a load/store immediate (spec.md §4.4).
func SlotOffset(xlen, dramsize int, slot Slot) int32 {
	return int32(DebugRAMStart + 4*slot.WordIndex(xlen, dramsize))
}

// LoadWord encodes "load gpr from slot", sized to xlen (32→lw, 64→ld). It
// is the single place this encoding is computed; dram.Cache.SetLoad and
// Batch.AddWriteLoad both call it so the scratch-program and cache layers
// never drift apart.
func LoadWord(xlen, dramsize int, gpr isa.Reg, slot Slot) uint32 {
	offset := SlotOffset(xlen, dramsize, slot)
	if xlen == 64 {
		return isa.Ld(gpr, isa.X0, offset)
	}
	return isa.Lw(gpr, isa.X0, offset)
}

// StoreWord encodes "store gpr into slot", sized to xlen (32→sw, 64→sd).
func StoreWord(xlen, dramsize int, gpr isa.Reg, slot Slot) uint32 {
	offset := SlotOffset(xlen, dramsize, slot)
	if xlen == 64 {
		return isa.Sd(isa.X0, gpr, offset)
	}
	return isa.Sw(isa.X0, gpr, offset)
}
