// Package dbgerr defines the error taxonomy of spec.md §7. Transport-recoverable
// conditions (BUSY, interrupt-still-high) never reach this package: they are
// consumed locally by dbus with monotonic delay growth. Everything else is
// wrapped in one of these sentinels so callers can errors.Is against a stable
// category instead of parsing strings.
package dbgerr

import "errors"

var (
	// ErrTransportFatal covers dbus FAILED status and persistent read-back
	// address mismatches.
	ErrTransportFatal = errors.New("dbus transport failure")

	// ErrProtocolIncompatible covers unsupported DTM/DM versions and
	// authentication-required DMs. Once returned from Examine, the target
	// is unusable.
	ErrProtocolIncompatible = errors.New("incompatible debug protocol version")

	// ErrHartException covers a non-zero exception code left by an injected
	// snippet at dramsize-1.
	ErrHartException = errors.New("hart raised an exception while executing injected program")

	// ErrResourceExhausted covers exhaustion of the 16-slot hardware trigger
	// pool; the framework should fall back to software breakpoints.
	ErrResourceExhausted = errors.New("no hardware trigger slot available")

	// ErrUnsupported covers current=false/handle_breakpoints=true/
	// debug_execution=true resume requests, unknown registers and
	// unsupported memory access sizes.
	ErrUnsupported = errors.New("unsupported request")

	// ErrTimeout covers any wait loop exceeding its wall-clock bound.
	ErrTimeout = errors.New("timed out waiting for hart")
)
