package inject

// ExceptionString maps a debug-ROM exception code to a short mnemonic, the
// way the OpenOCD original logs a name instead of a bare integer (spec.md
// §9 supplemented feature, original_source/src/target/riscv/riscv.c).
func ExceptionString(code uint32) string {
	switch code {
	case 0:
		return "none"
	case 1:
		return "illegal instruction"
	case 2:
		return "breakpoint"
	case 5:
		return "load access fault"
	case 7:
		return "store access fault"
	default:
		return "unknown"
	}
}
