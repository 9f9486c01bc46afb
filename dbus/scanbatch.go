package dbus

import (
	"rvdbg/isa"
	"rvdbg/scanqueue"
)

// Slot names an xlen-agnostic Debug-RAM data word (spec.md §4.4 "Slot
// convention"). WordIndex resolves it to a concrete word index given the
// session's xlen and dramsize.
type Slot int

const (
	Slot0 Slot = iota
	Slot1
	SlotLast
)

// WordIndex returns the starting Debug-RAM word index for the slot. 64-bit
// slots occupy two consecutive words; WordIndex returns the low word.
func (s Slot) WordIndex(xlen, dramsize int) int {
	switch s {
	case Slot0:
		return 4
	case Slot1:
		if xlen == 64 {
			return 6
		}
		return 5
	case SlotLast:
		if xlen == 64 {
			return dramsize - 2
		}
		return dramsize - 1
	}
	panic("unknown slot")
}

// Words returns how many consecutive 32-bit words this slot occupies for
// the given xlen.
func (s Slot) Words(xlen int) int {
	if xlen == 64 {
		return 2
	}
	return 1
}

// scanRecord remembers enough about a queued scan to decode its harvested
// result once the batch is drained.
type scanRecord struct {
	field        *scanqueue.Field
	interruptSet bool
}

// Batch is the pre-allocated, harvested-as-a-unit scan buffer of spec.md
// §4.2. Every add_* call stages one dbus DR scan (plus idle padding learned
// from the owning Transport's delay counters) without touching hardware
// until Drain is called.
type Batch struct {
	t        *Transport
	xlen     int
	dramsize int
	scans    []scanRecord
	irErr    error
}

// NewBatch allocates a batch bound to the given transport. xlen controls
// how AddRead/Jump/Load/Store size their instruction encodings; dramsize is
// needed to resolve SlotLast.
func NewBatch(t *Transport, xlen, dramsize int) *Batch {
	return &Batch{t: t, xlen: xlen, dramsize: dramsize}
}

// Reset discards any staged scans without draining them.
func (b *Batch) Reset() { b.scans = b.scans[:0] }

// Len reports how many scans are currently staged.
func (b *Batch) Len() int { return len(b.scans) }

func (b *Batch) queue(op Op, address uint16, data uint64) int {
	_, _, interrupt := SplitControl(data)
	if len(b.scans) == 0 {
		b.irErr = b.t.Driver.SelectIR(IRDBus, b.t.IRBits)
	}
	buf := make([]byte, ByteLen(b.t.AddrBits))
	Pack(buf, op, data, uint32(address), b.t.AddrBits)
	field := &scanqueue.Field{Bits: WordBits(b.t.AddrBits), Out: buf, In: make([]byte, len(buf))}
	b.t.Driver.QueueDR(field, b.t.idleCycles(interrupt))
	b.scans = append(b.scans, scanRecord{field: field, interruptSet: interrupt})
	return len(b.scans) - 1
}

// AddWrite32 stages a WRITE of a 32-bit payload to the given dbus address.
func (b *Batch) AddWrite32(addr uint16, payload uint32, setInterrupt bool) int {
	return b.queue(OpWrite, addr, WithControl(payload, false, setInterrupt))
}

// AddWriteJump stages a WRITE of the "jal x0, DEBUG_ROM_RESUME" terminator
// into Debug-RAM word index i (spec.md §4.4 cache_set_jump).
func (b *Batch) AddWriteJump(i int, setInterrupt bool) int {
	target := DebugROMResume - (DebugRAMStart + 4*i)
	word := isa.Jal(isa.X0, int32(target))
	return b.AddWrite32(DRAMAddress(i), word, setInterrupt)
}

// AddWriteLoad stages a WRITE of a load instruction into Debug-RAM word
// index i that loads gpr from the given slot, sized to the batch's xlen
// (spec.md §4.4 cache_set_load).
func (b *Batch) AddWriteLoad(i int, gpr isa.Reg, slot Slot, setInterrupt bool) int {
	word := LoadWord(b.xlen, b.dramsize, gpr, slot)
	return b.AddWrite32(DRAMAddress(i), word, setInterrupt)
}

// AddWriteStore stages a WRITE of a store instruction into Debug-RAM word
// index i that stores gpr into the given slot, sized to the batch's xlen
// (spec.md §4.4 cache_set_store).
func (b *Batch) AddWriteStore(i int, gpr isa.Reg, slot Slot, setInterrupt bool) int {
	word := StoreWord(b.xlen, b.dramsize, gpr, slot)
	return b.AddWrite32(DRAMAddress(i), word, setInterrupt)
}

// AddRead32 stages a READ of the given dbus address.
func (b *Batch) AddRead32(addr uint16, setInterrupt bool) int {
	return b.queue(OpRead, addr, WithControl(0, false, setInterrupt))
}

// AddRead stages one or two AddRead32 calls for the given slot, decaying to
// two consecutive Debug-RAM words when xlen is 64 (spec.md §4.2).
func (b *Batch) AddRead(slot Slot, setInterrupt bool) []int {
	base := slot.WordIndex(b.xlen, b.dramsize)
	idxs := make([]int, 0, 2)
	for w := 0; w < slot.Words(b.xlen); w++ {
		idxs = append(idxs, b.AddRead32(DRAMAddress(base+w), setInterrupt))
	}
	return idxs
}

// Get32 returns the decoded status and 32-bit payload harvested for the
// scan at the given index. Drain must have been called first.
func (b *Batch) Get32(scanIndex int) (Status, uint32) {
	rec := b.scans[scanIndex]
	status, data, _ := Unpack(rec.field.In, b.t.AddrBits)
	payload, _, _ := SplitControl(data)
	return status, payload
}

// Get64 combines two consecutive 32-bit scans (low word first) into one
// 64-bit value, for harvesting xlen=64 slots.
func (b *Batch) Get64(loIndex, hiIndex int) (Status, uint64) {
	s0, lo := b.Get32(loIndex)
	s1, hi := b.Get32(hiIndex)
	status := s0
	if s1 == StatusBusy || s0 == StatusBusy {
		status = StatusBusy
	} else if s1 == StatusFailed || s0 == StatusFailed {
		status = StatusFailed
	}
	return status, uint64(lo) | uint64(hi)<<32
}

// AnyInterruptSet reports whether the scan at the given index had its
// INTERRUPT control bit set when queued, for the harvest-time
// interrupt-still-high check (spec.md §4.3).
func (b *Batch) AnyInterruptSet(scanIndex int) bool {
	return b.scans[scanIndex].interruptSet
}

// InterruptStill reports whether the harvested data at scanIndex still has
// its INTERRUPT bit set, meaning the hart had not yet consumed a kick when
// this result was sampled (spec.md §4.9 "INTERRUPT-high harvest").
func (b *Batch) InterruptStill(scanIndex int) bool {
	rec := b.scans[scanIndex]
	_, data, _ := Unpack(rec.field.In, b.t.AddrBits)
	_, _, interrupt := SplitControl(data)
	return interrupt
}

// Drain executes every staged scan through the transport's scan-queue
// driver. It bumps BusyDelay exactly once if any harvested scan came back
// BUSY (spec.md §4.3), and returns that fact to the caller so retry logic
// can decide what to do; it does not retry on its own, since a batch's
// scans may already have had side effects on hart state.
func (b *Batch) Drain() (anyBusy bool, err error) {
	if len(b.scans) == 0 {
		return false, nil
	}
	if b.irErr != nil {
		return false, b.irErr
	}
	if err := b.t.Driver.Drain(); err != nil {
		return false, err
	}
	for i := range b.scans {
		status, _, _ := Unpack(b.scans[i].field.In, b.t.AddrBits)
		if status == StatusBusy {
			anyBusy = true
		}
	}
	if anyBusy {
		b.t.bumpBusyDelay()
	}
	return anyBusy, nil
}

// BumpInterruptHighDelay lets a caller that observed a still-high interrupt
// at harvest time grow that counter (spec.md §4.3); exported because the
// observation happens above this package (regs/memio bulk drains).
func (b *Batch) BumpInterruptHighDelay() { b.t.bumpInterruptHighDelay() }

// Transport exposes the underlying transport, e.g. for WaitForDebugintClear
// after a batch retry.
func (b *Batch) Transport() *Transport { return b.t }
