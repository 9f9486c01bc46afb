package dbus

import (
	"fmt"
	"time"

	"rvdbg/dbgerr"
	"rvdbg/internal/logging"
	"rvdbg/scanqueue"
)

var log = logging.For("dbus")

// DefaultWaitBound is the wall-clock ceiling spec.md §5 fixes for every
// transport/lifecycle wait loop.
const DefaultWaitBound = 2 * time.Second

// Transport is the single-scan read/write primitive of spec.md §4.3. It
// owns the two monotonic delay counters and the scan-queue collaborator.
// Nothing above this layer talks to scanqueue directly.
type Transport struct {
	Driver    scanqueue.Driver
	AddrBits  int
	IRBits    int
	WaitBound time.Duration

	busyDelay           int
	interruptHighDelay  int
}

// NewTransport builds a transport over the given out-of-scope scan-queue
// collaborator. addrbits is learned from DTMINFO during Examine (spec.md
// §4.8) and fixed for the session's lifetime.
func NewTransport(driver scanqueue.Driver, addrbits, irbits int) *Transport {
	return &Transport{
		Driver:    driver,
		AddrBits:  addrbits,
		IRBits:    irbits,
		WaitBound: DefaultWaitBound,
	}
}

// BusyDelay and InterruptHighDelay report the current values of the
// monotonic idle-cycle counters (spec.md §4.3); they only ever grow.
func (t *Transport) BusyDelay() int          { return t.busyDelay }
func (t *Transport) InterruptHighDelay() int { return t.interruptHighDelay }

func (t *Transport) bumpBusyDelay() {
	t.busyDelay++
	log.WithField("dbus_busy_delay", t.busyDelay).Info("increment dbus_busy_delay")
}

func (t *Transport) bumpInterruptHighDelay() {
	t.interruptHighDelay++
	log.WithField("interrupt_high_delay", t.interruptHighDelay).Info("increment interrupt_high_delay")
}

// idleCycles computes the run-test/idle pad spec.md §4.2 requires after
// every scan.
func (t *Transport) idleCycles(interruptSet bool) int {
	n := 1 + t.busyDelay
	if interruptSet {
		n += t.interruptHighDelay
	}
	return n
}

// scanOnce performs exactly one dbus DR scan and returns the decoded
// incoming word.
func (t *Transport) scanOnce(op Op, address uint16, data uint64, interruptSet bool) (Status, uint64, uint32, error) {
	if err := t.Driver.SelectIR(IRDBus, t.IRBits); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: select dbus IR: %v", dbgerr.ErrTransportFatal, err)
	}

	buf := make([]byte, ByteLen(t.AddrBits))
	Pack(buf, op, data, uint32(address), t.AddrBits)
	field := &scanqueue.Field{Bits: WordBits(t.AddrBits), Out: buf, In: make([]byte, len(buf))}
	t.Driver.QueueDR(field, t.idleCycles(interruptSet))

	if err := t.Driver.Drain(); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: drain scan queue: %v", dbgerr.ErrTransportFatal, err)
	}

	status, inData, inAddr := Unpack(field.In, t.AddrBits)
	return status, inData, inAddr, nil
}

// DbusRead scans DBUS_READ repeatedly until status is not BUSY and the
// echoed address matches the request: the DM pipelines reads by one scan,
// so the valid data arrives on the scan *after* the one that requested it
// (spec.md §4.3, §9 "pipelined bus with result arrives next scan").
func (t *Transport) DbusRead(address uint16) (uint64, error) {
	for {
		status, data, echoed, err := t.scanOnce(OpRead, address, 0, false)
		if err != nil {
			return 0, err
		}
		switch status {
		case StatusBusy:
			t.bumpBusyDelay()
			continue
		case StatusFailed:
			log.WithField("address", address).Error("dbus read FAILED")
			return 0, fmt.Errorf("%w: dbus read of 0x%x", dbgerr.ErrTransportFatal, address)
		}
		if uint16(echoed) != address {
			continue
		}
		return data, nil
	}
}

// DbusWrite scans DBUS_WRITE repeatedly until status is not BUSY. FAILED is
// logged, never retried (spec.md §4.3).
func (t *Transport) DbusWrite(address uint16, data uint64) error {
	_, interrupt := splitForLog(data)
	for {
		status, _, _, err := t.scanOnce(OpWrite, address, data, interrupt)
		if err != nil {
			return err
		}
		switch status {
		case StatusBusy:
			t.bumpBusyDelay()
			continue
		case StatusFailed:
			log.WithField("address", address).Error("dbus write FAILED")
			return nil
		}
		return nil
	}
}

func splitForLog(data uint64) (uint32, bool) {
	payload, _, interrupt := SplitControl(data)
	return payload, interrupt
}

// ReadBits performs a DBUS_READ at address 0, looping while BUSY or while
// the echoed address shows stale pipeline state (spec.md §4.3).
func (t *Transport) ReadBits() (haltNot, interrupt bool, err error) {
	for {
		status, data, echoed, scanErr := t.scanOnce(OpRead, 0, 0, false)
		if scanErr != nil {
			return false, false, scanErr
		}
		if status == StatusBusy {
			t.bumpBusyDelay()
			continue
		}
		if status == StatusFailed {
			return false, false, fmt.Errorf("%w: read_bits", dbgerr.ErrTransportFatal)
		}
		if echoed > 0x10 && echoed != DMCONTROL {
			continue
		}
		_, haltNot, interrupt = SplitControl(data)
		return haltNot, interrupt, nil
	}
}

// WaitForDebugintClear polls ReadBits until interrupt is false, bounded by
// WaitBound. If ignoreFirst, one sample is discarded first because it
// carries pre-write pipeline state (spec.md §4.3).
func (t *Transport) WaitForDebugintClear(ignoreFirst bool) error {
	deadline := time.Now().Add(t.WaitBound)

	if ignoreFirst {
		if _, _, err := t.ReadBits(); err != nil {
			return err
		}
	}

	for {
		_, interrupt, err := t.ReadBits()
		if err != nil {
			return err
		}
		if !interrupt {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: interrupt still high after %s", dbgerr.ErrTimeout, t.WaitBound)
		}
	}
}
