package x86

import (
	"github.com/pattyshack/mao/ir"
)

// Definition-mask bit assignment.  Partial registers alias their full
// register's bit: writing %al occupies the %rax bit.
const (
	BitRax = iota
	BitRcx
	BitRdx
	BitRbx
	BitRsp
	BitRbp
	BitRsi
	BitRdi
	BitR8
	BitR9
	BitR10
	BitR11
	BitR12
	BitR13
	BitR14
	BitR15
	BitRip
	BitFlags

	BitXmm0 = 24 + iota - 18
	BitXmm1
	BitXmm2
	BitXmm3
	BitXmm4
	BitXmm5
	BitXmm6
	BitXmm7
	BitXmm8
	BitXmm9
	BitXmm10
	BitXmm11
	BitXmm12
	BitXmm13
	BitXmm14
	BitXmm15

	BitMm0 = 40 + iota - 34
	BitMm1
	BitMm2
	BitMm3
	BitMm4
	BitMm5
	BitMm6
	BitMm7

	BitSt0 = 48 + iota - 42
	BitSt1
	BitSt2
	BitSt3
	BitSt4
	BitSt5
	BitSt6
	BitSt7

	BitEs = 56 + iota - 50
	BitCs
	BitSs
	BitDs
	BitFs
	BitGs
)

// RegAll marks an instruction that definitely kills every register.
// A zero mask means "defines no register (may kill memory)".
const RegAll = ^uint64(0)

const (
	FlagsMask = uint64(1) << BitFlags
	RaxMask   = uint64(1) << BitRax
	RcxMask   = uint64(1) << BitRcx
	RdxMask   = uint64(1) << BitRdx
	RspMask   = uint64(1) << BitRsp
	RbpMask   = uint64(1) << BitRbp
	RsiMask   = uint64(1) << BitRsi
	RdiMask   = uint64(1) << BitRdi
)

type registerSpec struct {
	bit  int
	num  int
	accu bool

	// name per width class
	name64 string
	name32 string
	name16 string
	name8  string
	name8h string
}

var gprSpecs = []registerSpec{
	{BitRax, 0, true, "rax", "eax", "ax", "al", "ah"},
	{BitRcx, 1, false, "rcx", "ecx", "cx", "cl", "ch"},
	{BitRdx, 2, false, "rdx", "edx", "dx", "dl", "dh"},
	{BitRbx, 3, false, "rbx", "ebx", "bx", "bl", "bh"},
	{BitRsp, 4, false, "rsp", "esp", "sp", "spl", ""},
	{BitRbp, 5, false, "rbp", "ebp", "bp", "bpl", ""},
	{BitRsi, 6, false, "rsi", "esi", "si", "sil", ""},
	{BitRdi, 7, false, "rdi", "edi", "di", "dil", ""},
	{BitR8, 8, false, "r8", "r8d", "r8w", "r8b", ""},
	{BitR9, 9, false, "r9", "r9d", "r9w", "r9b", ""},
	{BitR10, 10, false, "r10", "r10d", "r10w", "r10b", ""},
	{BitR11, 11, false, "r11", "r11d", "r11w", "r11b", ""},
	{BitR12, 12, false, "r12", "r12d", "r12w", "r12b", ""},
	{BitR13, 13, false, "r13", "r13d", "r13w", "r13b", ""},
	{BitR14, 14, false, "r14", "r14d", "r14w", "r14b", ""},
	{BitR15, 15, false, "r15", "r15d", "r15w", "r15b", ""},
}

var (
	registersByName = map[string]*ir.Register{}
	maskByName      = map[string]uint64{}
)

func defineRegister(name string, regType ir.OperandType, num int, bit int) {
	if name == "" {
		return
	}
	registersByName[name] = &ir.Register{
		Name: name,
		Type: regType,
		Num:  num,
	}
	maskByName[name] = uint64(1) << bit
}

func init() {
	for _, spec := range gprSpecs {
		acc := ir.OperandType(0)
		if spec.accu {
			acc = ir.Acc
		}
		defineRegister(spec.name64, ir.Reg64|acc, spec.num, spec.bit)
		defineRegister(spec.name32, ir.Reg32|acc, spec.num, spec.bit)
		defineRegister(spec.name16, ir.Reg16|acc, spec.num, spec.bit)
		defineRegister(spec.name8, ir.Reg8|acc, spec.num, spec.bit)
		defineRegister(spec.name8h, ir.Reg8, spec.num+4, spec.bit)
	}

	defineRegister("rip", ir.Reg64, 0, BitRip)
	defineRegister("eip", ir.Reg32, 0, BitRip)

	for i := 0; i < 16; i++ {
		defineRegister(
			"xmm"+itoa(i),
			ir.RegXMM,
			i,
			BitXmm0+i)
	}
	for i := 0; i < 8; i++ {
		defineRegister("mm"+itoa(i), ir.RegMMX, i, BitMm0+i)
		defineRegister("st("+itoa(i)+")", ir.FloatReg, i, BitSt0+i)
	}
	defineRegister("st", ir.FloatReg|ir.FloatAcc, 0, BitSt0)

	segs := []struct {
		name string
		bit  int
		num  int
		kind ir.OperandType
	}{
		{"es", BitEs, 0, ir.SReg2},
		{"cs", BitCs, 1, ir.SReg2},
		{"ss", BitSs, 2, ir.SReg2},
		{"ds", BitDs, 3, ir.SReg2},
		{"fs", BitFs, 4, ir.SReg3},
		{"gs", BitGs, 5, ir.SReg3},
	}
	for _, seg := range segs {
		defineRegister(seg.name, seg.kind, seg.num, seg.bit)
	}
}

func itoa(i int) string {
	if i < 10 {
		return string(rune('0' + i))
	}
	return string(rune('0'+i/10)) + string(rune('0'+i%10))
}

// LookupRegister returns the canonical descriptor for a register name
// (without the % sigil), or nil.
func LookupRegister(name string) *ir.Register {
	return registersByName[name]
}

// MaskForRegister returns the definition-mask bit for reg, 0 for nil.
func MaskForRegister(reg *ir.Register) uint64 {
	if reg == nil {
		return 0
	}
	mask, ok := maskByName[reg.Name]
	if !ok {
		return 0
	}
	return mask
}

// SegmentOverrides by name.
var segmentPrefixes = map[string]byte{
	"cs": ir.CsPrefixOpcode,
	"ds": ir.DsPrefixOpcode,
	"es": ir.EsPrefixOpcode,
	"fs": ir.FsPrefixOpcode,
	"gs": ir.GsPrefixOpcode,
	"ss": ir.SsPrefixOpcode,
}

// LookupSegmentOverride returns the override descriptor for a segment
// register name, or nil.
func LookupSegmentOverride(name string) *ir.SegmentOverride {
	prefix, ok := segmentPrefixes[name]
	if !ok {
		return nil
	}
	return &ir.SegmentOverride{
		Name:   name,
		Prefix: prefix,
	}
}
