// Package regs implements register and CSR access (C6) of spec.md §4.6: the
// GPR cache, CSR read/write snippets, the PC/PRIV synthetic registers and the
// halt-time bulk GPR drain every other component's view of hart state is
// built from.
package regs

import (
	"fmt"

	"rvdbg/dbgerr"
	"rvdbg/dbus"
	"rvdbg/inject"
	"rvdbg/internal/logging"
	"rvdbg/isa"
)

var log = logging.For("regs")

// GPRPoison is written into every gpr_cache slot on resume, so a stale read
// before the next halt-time drain is obviously wrong rather than quietly
// plausible (spec.md §4.8 "poison gpr_cache with a sentinel").
const GPRPoison = 0xBADBAD

// fprScratchWord is the Debug-RAM word used to stage/harvest FPR values:
// word 4, the same data-slot word memio/session use for their own scratch
// traffic (spec.md §4.6; the original's DEBUG_RAM_START+16 byte offset is
// word index 4, not word index 16).
const fprScratchWord = 4

// Bank owns one hart's CSR/GPR shadow state and routes reg_list accesses to
// the right injection recipe.
type Bank struct {
	inj *inject.Injector
	t   *dbus.Transport

	Xlen     int
	DRAMSize int

	GPR      [32]uint64
	GPRValid bool

	DCSR         uint64
	DPC          uint64
	MISA         uint64
	TSelect      uint64
	TSelectDirty bool

	RegList []Register
}

// NewBank builds a register bank over the given injector, sized to the
// session's xlen and dramsize.
func NewBank(inj *inject.Injector, t *dbus.Transport, xlen, dramsize int) *Bank {
	return &Bank{
		inj:      inj,
		t:        t,
		Xlen:     xlen,
		DRAMSize: dramsize,
		RegList:  BuildRegList(xlen),
	}
}

// rawReadCSR injects "csrr S0,csr; store S0→SLOT0; jump" without touching
// the tselect_dirty shadow (spec.md §4.6 read_csr).
func (b *Bank) rawReadCSR(csr uint32) (uint64, error) {
	words := []uint32{
		isa.Csrr(isa.S0, csr),
		dbus.StoreWord(b.Xlen, b.DRAMSize, isa.S0, dbus.Slot0),
	}
	res, err := b.inj.Run(words, nil, nil)
	if err != nil {
		return 0, err
	}
	return res.Slot0, nil
}

// rawWriteCSR places value in SLOT0 and injects "load S0←SLOT0; csrw S0,csr;
// jump" without touching the tselect_dirty shadow (spec.md §4.6 write_csr).
func (b *Bank) rawWriteCSR(csr uint32, value uint64) error {
	words := []uint32{
		dbus.LoadWord(b.Xlen, b.DRAMSize, isa.S0, dbus.Slot0),
		isa.Csrw(csr, isa.S0),
	}
	v := value
	_, err := b.inj.Run(words, &v, nil)
	return err
}

// maybeRestoreTSelect restores tselect before any access to a CSR whose
// encoding involves trigger context, if the shadow is currently dirty
// (spec.md §4.6/§9 "tselect must be restored before any CSR access whose
// encoding involves trigger context").
func (b *Bank) maybeRestoreTSelect(csr uint32) error {
	if !b.TSelectDirty || csr == CSRTSelect {
		return nil
	}
	if csr != CSRTData1 && csr != CSRTData2 {
		return nil
	}
	if err := b.rawWriteCSR(CSRTSelect, b.TSelect); err != nil {
		return err
	}
	b.TSelectDirty = false
	return nil
}

// ReadCSR reads a CSR, restoring tselect first if required. Reading tselect
// itself flips tselect_dirty to true: "shadow reflects hardware now"
// (spec.md §4.6).
func (b *Bank) ReadCSR(csr uint32) (uint64, error) {
	if err := b.maybeRestoreTSelect(csr); err != nil {
		return 0, err
	}
	v, err := b.rawReadCSR(csr)
	if err != nil {
		return 0, err
	}
	if csr == CSRTSelect {
		b.TSelect = v
		b.TSelectDirty = true
	}
	return v, nil
}

// WriteCSR writes a CSR, restoring tselect first if required. Writing
// tselect flips tselect_dirty back to false (spec.md §4.6).
func (b *Bank) WriteCSR(csr uint32, value uint64) error {
	if err := b.maybeRestoreTSelect(csr); err != nil {
		return err
	}
	if err := b.rawWriteCSR(csr, value); err != nil {
		return err
	}
	if csr == CSRTSelect {
		b.TSelect = value
		b.TSelectDirty = false
	}
	return nil
}

// RestoreTSelect force-restores tselect if the shadow is dirty. Hart
// lifecycle transitions (resume, reset) call this directly to guarantee
// hardware reflects the shadow before continuing, rather than waiting for
// an incidental trigger-CSR access to trip maybeRestoreTSelect (spec.md
// §4.8 "Ensure tselect restored").
func (b *Bank) RestoreTSelect() error {
	if !b.TSelectDirty {
		return nil
	}
	if err := b.rawWriteCSR(CSRTSelect, b.TSelect); err != nil {
		return err
	}
	b.TSelectDirty = false
	return nil
}

// WriteGPR injects "load gpr←SLOT0; jump" with value staged in SLOT0
// (spec.md §4.6 write_gpr), and updates the shadow cache.
func (b *Bank) WriteGPR(gpr isa.Reg, value uint64) error {
	words := []uint32{dbus.LoadWord(b.Xlen, b.DRAMSize, gpr, dbus.Slot0)}
	v := value
	if _, err := b.inj.Run(words, &v, nil); err != nil {
		return err
	}
	if int(gpr) < len(b.GPR) {
		b.GPR[gpr] = value
	}
	return nil
}

// SetGPR is register_set's GPR path. S0 and S1 are clobbered by every
// injected snippet's prologue/epilogue, which preserves their true
// architectural value in DSCRATCH and SLOT_LAST respectively; writing the
// "visible" value for those two registers means writing there instead of
// through a load snippet (spec.md §4.6 register_set).
func (b *Bank) SetGPR(gpr isa.Reg, value uint64) error {
	switch gpr {
	case isa.X0:
		return nil
	case isa.S0:
		if err := b.WriteCSR(CSRDScratch, value); err != nil {
			return err
		}
	case isa.S1:
		if err := b.inj.WriteSlot(dbus.SlotLast, value); err != nil {
			return err
		}
	default:
		return b.WriteGPR(gpr, value)
	}
	b.GPR[gpr] = value
	return nil
}

func (b *Bank) getFPR(index int) (uint64, error) {
	offset := int32(dbus.DebugRAMStart + 4*fprScratchWord)
	words := []uint32{isa.Fsw(isa.X0, uint32(index), offset)}
	if _, err := b.inj.Run(words, nil, nil); err != nil {
		return 0, err
	}
	word, err := b.inj.Cache.ReadWord(fprScratchWord)
	return uint64(word), err
}

func (b *Bank) setFPR(index int, value uint64) error {
	if err := b.inj.Cache.Set32(fprScratchWord, uint32(value)); err != nil {
		return err
	}
	offset := int32(dbus.DebugRAMStart + 4*fprScratchWord)
	words := []uint32{isa.Flw(uint32(index), isa.X0, offset)}
	_, err := b.inj.Run(words, nil, nil)
	return err
}

// Get implements register_get (spec.md §4.6): GPRs are served from
// gpr_cache (refilling it first if the hart hasn't been drained since the
// last halt), PC and PRIV come from shadow state, FPRs round-trip through
// Debug-RAM word 4 (fprScratchWord), and CSRs use ReadCSR.
func (b *Bank) Get(r Register) (uint64, error) {
	switch r.Class {
	case ClassGPR:
		if !b.GPRValid {
			if err := b.DrainHalt(); err != nil {
				return 0, err
			}
		}
		return b.GPR[r.Index], nil
	case ClassPC:
		return b.DPC, nil
	case ClassPriv:
		return (b.DCSR >> DCSRPrivShift) & DCSRPrivMask, nil
	case ClassFPR:
		return b.getFPR(r.Index)
	case ClassCSR:
		return b.ReadCSR(uint32(r.Index))
	}
	return 0, fmt.Errorf("%w: unknown register class %d", dbgerr.ErrUnsupported, r.Class)
}

// Set implements register_set (spec.md §4.6). PC and PRIV only update
// shadow state here: the actual hardware write happens at the next resume,
// which pushes dpc/dcsr through an injected snippet (spec.md §4.8).
func (b *Bank) Set(r Register, value uint64) error {
	switch r.Class {
	case ClassGPR:
		return b.SetGPR(isa.Reg(r.Index), value)
	case ClassPC:
		b.DPC = value
		return nil
	case ClassPriv:
		b.DCSR = (b.DCSR &^ (DCSRPrivMask << DCSRPrivShift)) | ((value & DCSRPrivMask) << DCSRPrivShift)
		return nil
	case ClassFPR:
		return b.setFPR(r.Index, value)
	case ClassCSR:
		return b.WriteCSR(uint32(r.Index), value)
	}
	return fmt.Errorf("%w: unknown register class %d", dbgerr.ErrUnsupported, r.Class)
}

// Poison marks gpr_cache invalid and sets every shadow GPR to GPRPoison, the
// way execute_resume leaves it so a read before the next halt-time drain
// fails loudly instead of serving stale data (spec.md §4.8).
func (b *Bank) Poison() {
	for i := range b.GPR {
		b.GPR[i] = GPRPoison
	}
	b.GPRValid = false
}

// gprDrainOrder lists every GPR the bulk halt-time drain reads directly:
// x0 is always zero and never read, S0/S1 are recovered separately via
// DSCRATCH/SLOT_LAST (spec.md §4.6).
func gprDrainOrder() []isa.Reg {
	order := make([]isa.Reg, 0, 29)
	for i := isa.Reg(1); i < 32; i++ {
		if i == isa.S0 || i == isa.S1 {
			continue
		}
		order = append(order, i)
	}
	return order
}

// DrainHalt is handle_halt_routine: one pipelined scan batch stores every
// GPR (except S0/S1) into SLOT0 and reads it back, S1 is recovered from
// SLOT_LAST, S0 from DSCRATCH, then DPC and DCSR are read. Any BUSY or
// sustained INTERRUPT-high in the batch retries the whole thing after
// bumping the respective delay counter (RE_AGAIN); the first two harvested
// reads are pipeline warmup and are discarded (spec.md §4.6). The store
// snippet staged into Debug-RAM words 0/1 bypasses dram.Cache, so the
// shadow for those lines is invalidated once the drain completes.
func (b *Bank) DrainHalt() error {
	order := gprDrainOrder()
	slotAddr := dbus.DRAMAddress(dbus.Slot0.WordIndex(b.Xlen, b.DRAMSize))

	for {
		batch := dbus.NewBatch(b.t, b.Xlen, b.DRAMSize)
		batch.AddWriteJump(1, false)

		total := len(order) + 2
		reads := make([]int, total)
		for k := 0; k < total; k++ {
			if k < len(order) {
				batch.AddWriteStore(0, order[k], dbus.Slot0, true)
			}
			reads[k] = batch.AddRead32(slotAddr, false)
		}

		busy, err := batch.Drain()
		if err != nil {
			return err
		}
		interruptHigh := !busy && total > 0 && batch.InterruptStill(reads[total-1])
		if busy || interruptHigh {
			if interruptHigh {
				log.Debug("RE_AGAIN: interrupt still high after halt-time GPR drain, retrying")
				batch.BumpInterruptHighDelay()
			} else {
				log.Debug("RE_AGAIN: busy during halt-time GPR drain, retrying")
			}
			if err := b.t.WaitForDebugintClear(true); err != nil {
				return err
			}
			continue
		}

		for k, gpr := range order {
			_, payload := batch.Get32(reads[k+2])
			b.GPR[gpr] = uint64(payload)
		}
		break
	}

	if err := b.recoverS1(); err != nil {
		return err
	}
	if err := b.recoverS0(); err != nil {
		return err
	}
	b.GPR[isa.X0] = 0

	dpc, err := b.ReadCSR(CSRDPC)
	if err != nil {
		return err
	}
	b.DPC = dpc

	dcsr, err := b.ReadCSR(CSRDCSR)
	if err != nil {
		return err
	}
	b.DCSR = dcsr

	b.inj.Cache.Invalidate()
	b.GPRValid = true
	return nil
}

func (b *Bank) recoverS1() error {
	v, err := b.inj.ReadSlot(dbus.SlotLast)
	if err != nil {
		return err
	}
	b.GPR[isa.S1] = v
	return nil
}

func (b *Bank) recoverS0() error {
	v, err := b.ReadCSR(CSRDScratch)
	if err != nil {
		return err
	}
	b.GPR[isa.S0] = v
	return nil
}
