// Package memio implements bulk target memory I/O (C9) of spec.md §4.9: a
// 4-word preamble snippet staged once, then driven in pipelined batches of
// up to 256 scans, retrying on BUSY or a still-high interrupt without
// losing progress.
package memio

import (
	"fmt"

	"rvdbg/dbgerr"
	"rvdbg/dbus"
	"rvdbg/dram"
	"rvdbg/inject"
	"rvdbg/isa"
)

// memScratchWord is the Debug-RAM word the preamble uses to pass the
// per-iteration address (reads) or value (writes) and, for reads, to
// deposit the harvested result: word 4, exactly as spec.md §4.9 writes the
// per-iteration address "at word 4" and harvests it from "word 4" (the
// original's matching `lw S0,DEBUG_RAM_START+16` is a *byte* offset into
// Debug RAM, i.e. word index 4, not word index 16).
const memScratchWord = 4

// maxBatchScans bounds a single pipelined batch to spec.md §4.9's ≤256
// scans.
const maxBatchScans = 256

// IO drives bulk memory reads/writes for one hart session.
type IO struct {
	Cache     *dram.Cache
	Transport *dbus.Transport
	Injector  *inject.Injector
	Xlen      int
	DRAMSize  int
}

// New builds a memory-I/O driver over the given cache/transport/injector,
// sized to the session's xlen and dramsize.
func New(cache *dram.Cache, t *dbus.Transport, inj *inject.Injector, xlen, dramsize int) *IO {
	return &IO{Cache: cache, Transport: t, Injector: inj, Xlen: xlen, DRAMSize: dramsize}
}

func loadOpcode(size int) (func(rd, rs1 isa.Reg, offset int32) uint32, error) {
	switch size {
	case 1:
		return isa.Lbu, nil
	case 2:
		return isa.Lhu, nil
	case 4:
		return isa.Lw, nil
	default:
		return nil, fmt.Errorf("%w: unsupported memory read size %d", dbgerr.ErrUnsupported, size)
	}
}

func storeOpcode(size int) (func(rs1, rs2 isa.Reg, offset int32) uint32, error) {
	switch size {
	case 1:
		return isa.Sb, nil
	case 2:
		return isa.Sh, nil
	case 4:
		return isa.Sw, nil
	default:
		return nil, fmt.Errorf("%w: unsupported memory write size %d", dbgerr.ErrUnsupported, size)
	}
}

// addrLoadS0 loads S0 from the scratch word sized to xlen, since S0 there
// holds a target address rather than a ≤32-bit data value.
func (m *IO) addrLoadS0() uint32 {
	offset := int32(dbus.DebugRAMStart + 4*memScratchWord)
	if m.Xlen == 64 {
		return isa.Ld(isa.S0, isa.X0, offset)
	}
	return isa.Lw(isa.S0, isa.X0, offset)
}

func scratchOffset() int32 { return int32(dbus.DebugRAMStart + 4*memScratchWord) }

// stagePreambleRead flushes "lw S0←scratch; <load-size> S1,(S0); sw
// S1→scratch; jump" to hardware once; each iteration then only rewrites
// the scratch word with a fresh address (spec.md §4.9 Read).
func (m *IO) stagePreambleRead(load func(rd, rs1 isa.Reg, offset int32) uint32) error {
	words := []uint32{
		m.addrLoadS0(),
		load(isa.S1, isa.S0, 0),
		isa.Sw(isa.X0, isa.S1, scratchOffset()),
	}
	for i, w := range words {
		if err := m.Cache.Set32(i, w); err != nil {
			return err
		}
	}
	if err := m.Cache.SetJump(len(words)); err != nil {
		return err
	}
	return m.Cache.Write(len(words), false)
}

// stagePreambleWrite flushes "lw S0←scratch; <store-size> S0,(T0); addi
// T0,T0,size; jump" to hardware once; T0 is the persistent address cursor
// (spec.md §4.9 Write).
func (m *IO) stagePreambleWrite(store func(rs1, rs2 isa.Reg, offset int32) uint32, size int) error {
	words := []uint32{
		isa.Lw(isa.S0, isa.X0, scratchOffset()),
		store(isa.T0, isa.S0, 0),
		isa.Addi(isa.T0, isa.T0, int32(size)),
	}
	for i, w := range words {
		if err := m.Cache.Set32(i, w); err != nil {
			return err
		}
	}
	if err := m.Cache.SetJump(len(words)); err != nil {
		return err
	}
	return m.Cache.Write(len(words), false)
}

func decodeLE(buf []byte, size int) uint32 {
	var v uint32
	for i := 0; i < size; i++ {
		v |= uint32(buf[i]) << uint(8*i)
	}
	return v
}

func encodeLE(buf []byte, v uint32, size int) {
	for i := 0; i < size; i++ {
		buf[i] = byte(v >> uint(8*i))
	}
}

// Read bulk-reads count elements of the given size (1, 2 or 4 bytes) from
// target memory starting at base (spec.md §4.9 Read).
func (m *IO) Read(base uint64, size, count int) ([]byte, error) {
	load, err := loadOpcode(size)
	if err != nil {
		return nil, err
	}
	if err := m.stagePreambleRead(load); err != nil {
		return nil, err
	}

	results := make([]uint32, count)
	start := 0
	for start < count {
		chunk := count - start
		for chunk > 0 && 2*chunk+3 > maxBatchScans {
			chunk--
		}
		if err := m.readChunk(base, size, start, chunk, results); err != nil {
			return nil, err
		}
		start += chunk
	}

	buf := make([]byte, count*size)
	for k, v := range results {
		encodeLE(buf[k*size:], v, size)
	}
	return buf, nil
}

// readChunk drives one pipelined batch covering results[start:start+count],
// retrying internally on BUSY or a still-high interrupt without advancing
// (spec.md §4.9).
func (m *IO) readChunk(base uint64, size, start, count int, results []uint32) error {
	for {
		batch := dbus.NewBatch(m.Transport, m.Xlen, m.DRAMSize)
		total := count + 2
		reads := make([]int, total)
		for k := 0; k < total; k++ {
			if k < count {
				addr := base + uint64(size)*uint64(start+k)
				batch.AddWrite32(dbus.DRAMAddress(memScratchWord), uint32(addr), true)
			}
			reads[k] = batch.AddRead32(dbus.DRAMAddress(memScratchWord), false)
		}
		// Reads are pipelined by one scan: the first read of the exception
		// word still returns the scratch word, the second returns the code.
		batch.AddRead32(dbus.DRAMAddress(m.DRAMSize-1), false)
		excIdx := batch.AddRead32(dbus.DRAMAddress(m.DRAMSize-1), false)

		busy, err := batch.Drain()
		if err != nil {
			return err
		}
		interruptHigh := !busy && total > 0 && batch.InterruptStill(reads[total-1])
		if busy || interruptHigh {
			if interruptHigh {
				batch.BumpInterruptHighDelay()
			}
			if err := m.Transport.WaitForDebugintClear(true); err != nil {
				return err
			}
			continue
		}

		if _, exc := batch.Get32(excIdx); exc != 0 {
			return fmt.Errorf("%w: code %d (%s) reading near %#x", dbgerr.ErrHartException, exc, inject.ExceptionString(exc), base+uint64(size)*uint64(start))
		}

		for k := 0; k < count; k++ {
			_, v := batch.Get32(reads[k+2])
			results[start+k] = v
		}
		return nil
	}
}

// Write bulk-writes data (whose length must be a multiple of size) to
// target memory starting at base (spec.md §4.9 Write). T0 is saved and
// restored around the operation since the preamble uses it as a
// persistent address cursor.
func (m *IO) Write(base uint64, size int, data []byte) error {
	store, err := storeOpcode(size)
	if err != nil {
		return err
	}
	count := len(data) / size

	if err := m.saveAndSeedT0(base); err != nil {
		return err
	}
	if err := m.stagePreambleWrite(store, size); err != nil {
		return err
	}

	start := 0
	for start < count {
		chunk := count - start
		for chunk > 0 && 2*chunk+3 > maxBatchScans {
			chunk--
		}
		if err := m.writeChunk(store, base, size, data, start, chunk); err != nil {
			return err
		}
		start += chunk
	}

	return m.restoreT0()
}

func (m *IO) writeChunk(store func(rs1, rs2 isa.Reg, offset int32) uint32, base uint64, size int, data []byte, start, count int) error {
	for {
		batch := dbus.NewBatch(m.Transport, m.Xlen, m.DRAMSize)
		total := count + 2
		reads := make([]int, total)
		for k := 0; k < total; k++ {
			if k < count {
				v := decodeLE(data[(start+k)*size:], size)
				batch.AddWrite32(dbus.DRAMAddress(memScratchWord), v, true)
			}
			reads[k] = batch.AddRead32(dbus.DRAMAddress(memScratchWord), false)
		}
		batch.AddRead32(dbus.DRAMAddress(m.DRAMSize-1), false)
		excIdx := batch.AddRead32(dbus.DRAMAddress(m.DRAMSize-1), false)

		busy, err := batch.Drain()
		if err != nil {
			return err
		}
		interruptHigh := !busy && total > 0 && batch.InterruptStill(reads[total-1])
		if busy || interruptHigh {
			if interruptHigh {
				batch.BumpInterruptHighDelay()
			}
			if err := m.Transport.WaitForDebugintClear(true); err != nil {
				return err
			}
			// seedT0 runs its own program over the preamble's words, so
			// the preamble is staged again before the retry.
			if err := m.seedT0(base + uint64(size)*uint64(start)); err != nil {
				return err
			}
			if err := m.stagePreambleWrite(store, size); err != nil {
				return err
			}
			continue
		}

		if _, exc := batch.Get32(excIdx); exc != 0 {
			return fmt.Errorf("%w: code %d (%s) writing near %#x", dbgerr.ErrHartException, exc, inject.ExceptionString(exc), base+uint64(size)*uint64(start))
		}
		return nil
	}
}

// saveAndSeedT0 stores the caller's live T0 into SLOT1 (restored by
// restoreT0) and loads T0 with base, the write preamble's address cursor
// (spec.md §4.9 Write).
func (m *IO) saveAndSeedT0(base uint64) error {
	saveWords := []uint32{dbus.StoreWord(m.Xlen, m.DRAMSize, isa.T0, dbus.Slot1)}
	if _, err := m.Injector.Run(saveWords, nil, nil); err != nil {
		return err
	}
	return m.seedT0(base)
}

func (m *IO) seedT0(value uint64) error {
	words := []uint32{dbus.LoadWord(m.Xlen, m.DRAMSize, isa.T0, dbus.Slot0)}
	v := value
	_, err := m.Injector.Run(words, &v, nil)
	return err
}

func (m *IO) restoreT0() error {
	orig, err := m.Injector.ReadSlot(dbus.Slot1)
	if err != nil {
		return err
	}
	return m.seedT0(orig)
}
