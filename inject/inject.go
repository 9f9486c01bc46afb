// Package inject implements the program injector (C5) of spec.md §4.5: the
// "load snippet, run on hart, read result slot, surface exception"
// primitive every CSR, GPR and memory-I/O operation is built from.
package inject

import (
	"fmt"

	"rvdbg/dbgerr"
	"rvdbg/dbus"
	"rvdbg/dram"
)

// Injector runs short instruction snippets on a halted hart through a
// Debug-RAM cache.
type Injector struct {
	Cache *dram.Cache
}

// New builds an injector over the given cache.
func New(cache *dram.Cache) *Injector {
	return &Injector{Cache: cache}
}

// Result is what a run of an injected program produced.
type Result struct {
	Slot0 uint64
}

// Run stages up to 4 instruction words at Debug-RAM indices 0..len(words)-1,
// a terminator jump back into the debug ROM right after them, optionally
// places input0/input1 into SLOT0/SLOT1 first, executes the program, and
// reads SLOT0 back. A non-zero exception code at word dramsize-1 fails the
// call (spec.md §4.5).
func (inj *Injector) Run(words []uint32, input0, input1 *uint64) (Result, error) {
	if len(words) > 4 {
		return Result{}, fmt.Errorf("%w: injected program has %d words, max 4", dbgerr.ErrUnsupported, len(words))
	}

	for i, w := range words {
		if err := inj.Cache.Set32(i, w); err != nil {
			return Result{}, err
		}
	}
	if err := inj.Cache.SetJump(len(words)); err != nil {
		return Result{}, err
	}

	xlen, dramsize := inj.Cache.Xlen, inj.Cache.DRAMSize
	if input0 != nil {
		if err := inj.Cache.Set(dbus.Slot0.WordIndex(xlen, dramsize), *input0); err != nil {
			return Result{}, err
		}
	}
	if input1 != nil {
		if err := inj.Cache.Set(dbus.Slot1.WordIndex(xlen, dramsize), *input1); err != nil {
			return Result{}, err
		}
	}

	if err := inj.Cache.Write(4, true); err != nil {
		return Result{}, err
	}

	slot0, err := inj.readSlot(dbus.Slot0)
	if err != nil {
		return Result{}, err
	}

	if err := inj.checkException(); err != nil {
		return Result{}, err
	}

	return Result{Slot0: slot0}, nil
}

func (inj *Injector) readSlot(slot dbus.Slot) (uint64, error) {
	xlen, dramsize := inj.Cache.Xlen, inj.Cache.DRAMSize
	base := slot.WordIndex(xlen, dramsize)
	lo, err := inj.Cache.ReadWord(base)
	if err != nil {
		return 0, err
	}
	if slot.Words(xlen) == 1 {
		return uint64(lo), nil
	}
	hi, err := inj.Cache.ReadWord(base + 1)
	if err != nil {
		return 0, err
	}
	return uint64(lo) | uint64(hi)<<32, nil
}

// ReadSlot exposes readSlot to callers (regs) that need to harvest SLOT1 or
// SLOT_LAST directly, e.g. when an injected snippet leaves its result
// somewhere other than SLOT0.
func (inj *Injector) ReadSlot(slot dbus.Slot) (uint64, error) { return inj.readSlot(slot) }

// WriteSlot exposes Cache.Set for callers that need to stage a slot value
// without running a fresh program (e.g. priming SLOT_LAST before a
// register_set snippet that reads it as scratch).
func (inj *Injector) WriteSlot(slot dbus.Slot, value uint64) error {
	return inj.Cache.Set(slot.WordIndex(inj.Cache.Xlen, inj.Cache.DRAMSize), value)
}

func (inj *Injector) checkException() error {
	code, err := inj.Cache.ReadWord(inj.Cache.DRAMSize - 1)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("%w: code %d (%s)", dbgerr.ErrHartException, code, ExceptionString(code))
	}
	return nil
}
