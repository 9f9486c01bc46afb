package trigger

import "testing"

func TestIsFreeMControl(t *testing.T) {
	free := uint64(typeMControl) << typeShift
	if !isFreeMControl(free) {
		t.Fatalf("unclaimed type=2 trigger with no access bits should read as free")
	}
	claimed := free | bitExecute
	if isFreeMControl(claimed) {
		t.Fatalf("trigger with EXECUTE set should not read as free")
	}
	wrongType := uint64(6) << typeShift
	if isFreeMControl(wrongType) {
		t.Fatalf("type != 2 should never read as a free mcontrol trigger")
	}
}

func TestBuildTData1RoundTrip(t *testing.T) {
	m := &Manager{misa: misaBitS | misaBitU}
	v := m.buildTData1(Descriptor{Execute: true, Store: true})
	if (v>>typeShift)&typeMask != typeMControl {
		t.Fatalf("TYPE field not set to mcontrol")
	}
	if v&bitDMode == 0 {
		t.Fatalf("DMODE bit must be set")
	}
	if v&bitExecute == 0 || v&bitStore == 0 || v&bitLoad != 0 {
		t.Fatalf("EXECUTE/STORE/LOAD bits don't match descriptor: %#x", v)
	}
	if v&bitS == 0 || v&bitU == 0 {
		t.Fatalf("S/U bits should be set when misa advertises them")
	}
}

func TestCountEmpty(t *testing.T) {
	m := &Manager{}
	if got := m.Count(); got != 0 {
		t.Fatalf("Count() = %d, want 0 for fresh manager", got)
	}
}
