package dbus

import "testing"

func TestPackUnpackRoundTrip(t *testing.T) {
	cases := []struct {
		addrbits int
		op       Op
		data     uint64
		address  uint32
	}{
		{addrbits: 5, op: OpRead, data: 0, address: 0},
		{addrbits: 5, op: OpWrite, data: 0x3ffffffff, address: 0x1f},
		{addrbits: 11, op: OpNOP, data: 0xdeadbeef, address: 0x400},
	}

	for _, c := range cases {
		buf := make([]byte, ByteLen(c.addrbits))
		Pack(buf, c.op, c.data, c.address, c.addrbits)

		status, data, address := Unpack(buf, c.addrbits)
		if Status(c.op) != status {
			t.Fatalf("op %v round-tripped to status %v, want %v", c.op, status, Status(c.op))
		}
		if data != c.data {
			t.Fatalf("data round trip: got 0x%x, want 0x%x", data, c.data)
		}
		if address != c.address {
			t.Fatalf("address round trip: got 0x%x, want 0x%x", address, c.address)
		}
	}
}

func TestWithControlSplitControlRoundTrip(t *testing.T) {
	cases := []struct {
		payload           uint32
		haltNot, interrupt bool
	}{
		{payload: 0, haltNot: false, interrupt: false},
		{payload: 0xffffffff, haltNot: true, interrupt: false},
		{payload: 0x12345678, haltNot: false, interrupt: true},
		{payload: 0x1, haltNot: true, interrupt: true},
	}

	for _, c := range cases {
		data := WithControl(c.payload, c.haltNot, c.interrupt)
		payload, haltNot, interrupt := SplitControl(data)
		if payload != c.payload {
			t.Fatalf("payload round trip: got 0x%x, want 0x%x", payload, c.payload)
		}
		if haltNot != c.haltNot || interrupt != c.interrupt {
			t.Fatalf("control bits round trip: got (haltNot=%v, interrupt=%v), want (%v, %v)",
				haltNot, interrupt, c.haltNot, c.interrupt)
		}
	}
}

func TestPackZeroesUnusedBuffer(t *testing.T) {
	buf := make([]byte, ByteLen(5))
	for i := range buf {
		buf[i] = 0xff
	}
	Pack(buf, OpNOP, 0, 0, 5)

	status, data, address := Unpack(buf, 5)
	if status != StatusSuccess || data != 0 || address != 0 {
		t.Fatalf("Pack over a dirty buffer left stale bits: status=%v data=0x%x address=0x%x", status, data, address)
	}
}

func TestWordBitsByteLen(t *testing.T) {
	if got := WordBits(5); got != 2+34+5 {
		t.Fatalf("WordBits(5) = %d, want %d", got, 2+34+5)
	}
	if got := ByteLen(5); got != (2+34+5+7)/8 {
		t.Fatalf("ByteLen(5) = %d, want %d", got, (2+34+5+7)/8)
	}
}
