package regs

import "fmt"

// Class names one of the five architectural register families spec.md §3
// folds into reg_list.
type Class int

const (
	ClassGPR Class = iota
	ClassPC
	ClassFPR
	ClassCSR
	ClassPriv
)

// Register is one framework-visible entry of reg_list: a name, a size and a
// (class, index) pair that routes Bank.Get/Set to the right access path
// (spec.md §3 "reg_list").
type Register struct {
	Name     string
	Class    Class
	Index    int
	SizeBits int
}

// BuildRegList constructs the full 32 GPR + PC + 32 FPR + 4096 CSR + PRIV =
// 4162 entry register list for the given xlen (spec.md §3).
func BuildRegList(xlen int) []Register {
	list := make([]Register, 0, 4162)

	for i := 0; i < 32; i++ {
		list = append(list, Register{Name: fmt.Sprintf("x%d", i), Class: ClassGPR, Index: i, SizeBits: xlen})
	}
	list = append(list, Register{Name: "pc", Class: ClassPC, SizeBits: xlen})
	for i := 0; i < 32; i++ {
		list = append(list, Register{Name: fmt.Sprintf("f%d", i), Class: ClassFPR, Index: i, SizeBits: 64})
	}
	for i := 0; i < 4096; i++ {
		list = append(list, Register{Name: fmt.Sprintf("csr%d", i), Class: ClassCSR, Index: i, SizeBits: xlen})
	}
	list = append(list, Register{Name: "priv", Class: ClassPriv, SizeBits: 8})

	return list
}
