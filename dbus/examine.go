package dbus

import "rvdbg/scanqueue"

// ReadDTMInfo selects DTMINFO (JTAG IR 0x10) and reads its 32-bit value. It
// bypasses Transport because DTMINFO has a different IR and a fixed-width
// DR, independent of the addrbits it is used to discover (spec.md §4.8
// Examine).
func ReadDTMInfo(driver scanqueue.Driver, irbits int) (uint32, error) {
	if err := driver.SelectIR(IRDTMInfo, irbits); err != nil {
		return 0, err
	}
	field := &scanqueue.Field{Bits: 32, Out: make([]byte, 4), In: make([]byte, 4)}
	driver.QueueDR(field, 0)
	if err := driver.Drain(); err != nil {
		return 0, err
	}
	return uint32(getBits(field.In, 0, 32)), nil
}
