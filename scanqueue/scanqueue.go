// Package scanqueue declares the low-level JTAG scan-queue collaborator
// that spec.md §1(b)/§6 treats as out of scope: "the low-level scan layer
// that queues JTAG IR/DR scans and drains them". This repo only depends on
// the interface; a real deployment supplies an implementation backed by an
// actual JTAG adapter driver. The golden DM simulator used by this repo's
// own tests (Sim, in sim.go) implements it too, so the driver can be
// exercised end-to-end without real hardware.
package scanqueue

// Field describes one DR scan: Out is shifted out MSB-last (i.e. bit i of
// the logical word lives at bit i of Out, little-endian, per dbus.Pack),
// In is filled in with the shifted-in response once the queue is drained,
// and Bits is the logical width in bits (Out/In are padded to whole bytes).
type Field struct {
	Bits int
	Out  []byte
	In   []byte
}

// Driver queues IR/DR scans and drains them as a batch. Scans execute in
// enqueue order (spec.md §5 "Ordering"); harvested results are indexed
// positionally in the order QueueDR was called since the last Drain.
type Driver interface {
	// SelectIR shifts the given instruction register value with the given
	// bit width into the TAP's IR before subsequent DR scans.
	SelectIR(ir uint8, bits int) error

	// QueueDR enqueues a DR scan of the given field, followed by
	// idleCycles of run-test/idle padding (spec.md §4.2/§4.3).
	QueueDR(field *Field, idleCycles int)

	// Drain executes every queued scan and fills in each Field's In slice.
	// It returns an error only for scan-queue-level failures (spec.md §7
	// "scan-queue drain failure"); dbus-level BUSY/FAILED status lives in
	// the harvested data, not in this error.
	Drain() error
}
