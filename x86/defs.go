package x86

import (
	"github.com/pattyshack/mao/ir"
)

// Per-opcode register definition info.  In AT&T operand order the
// destination is the last operand.
type defEntry struct {
	// The last operand is written (when it is a register; a memory
	// destination contributes no register bit).
	defsDest bool

	// Every register operand is written (xchg).
	defsAllOperands bool

	// Writes condition codes.
	defsFlags bool

	// Implicitly written registers, by canonical name.
	implicit []string

	// Definitely kills everything.
	all bool
}

var defTable = map[ir.Opcode]defEntry{
	ir.OpMov:    {defsDest: true},
	ir.OpLea:    {defsDest: true},
	ir.OpXchg:   {defsAllOperands: true},
	ir.OpPush:   {implicit: []string{"rsp"}},
	ir.OpPop:    {defsDest: true, implicit: []string{"rsp"}},
	ir.OpMovsbl: {defsDest: true},
	ir.OpMovsbw: {defsDest: true},
	ir.OpMovswl: {defsDest: true},
	ir.OpMovzbl: {defsDest: true},
	ir.OpMovzwl: {defsDest: true},

	ir.OpCwtl: {implicit: []string{"rax"}},
	ir.OpCltd: {implicit: []string{"rdx"}},
	ir.OpCltq: {implicit: []string{"rax"}},
	ir.OpCbtw: {implicit: []string{"rax"}},
	ir.OpCqto: {implicit: []string{"rdx"}},

	ir.OpAdd: {defsDest: true, defsFlags: true},
	ir.OpSub: {defsDest: true, defsFlags: true},
	ir.OpAdc: {defsDest: true, defsFlags: true},
	ir.OpSbb: {defsDest: true, defsFlags: true},
	ir.OpAnd: {defsDest: true, defsFlags: true},
	ir.OpOr:  {defsDest: true, defsFlags: true},
	ir.OpXor: {defsDest: true, defsFlags: true},
	ir.OpNot: {defsDest: true},
	ir.OpNeg: {defsDest: true, defsFlags: true},
	ir.OpInc: {defsDest: true, defsFlags: true},
	ir.OpDec: {defsDest: true, defsFlags: true},
	ir.OpShl: {defsDest: true, defsFlags: true},
	ir.OpSal: {defsDest: true, defsFlags: true},
	ir.OpShr: {defsDest: true, defsFlags: true},
	ir.OpSar: {defsDest: true, defsFlags: true},
	ir.OpRol: {defsDest: true, defsFlags: true},
	ir.OpRor: {defsDest: true, defsFlags: true},

	// One-operand forms get the implicit rax/rdx pair in
	// RegisterDefMask.
	ir.OpImul: {defsDest: true, defsFlags: true},
	ir.OpMul:  {defsFlags: true, implicit: []string{"rax", "rdx"}},
	ir.OpIdiv: {defsFlags: true, implicit: []string{"rax", "rdx"}},
	ir.OpDiv:  {defsFlags: true, implicit: []string{"rax", "rdx"}},

	ir.OpCmp:  {defsFlags: true},
	ir.OpTest: {defsFlags: true},

	ir.OpCmovl:  {defsDest: true},
	ir.OpCmovnl: {defsDest: true},
	ir.OpSetb:   {defsDest: true},

	ir.OpCall:    {all: true},
	ir.OpLcall:   {all: true},
	ir.OpVmcall:  {all: true},
	ir.OpSyscall: {all: true},
	ir.OpVmmcall: {all: true},

	ir.OpRet:    {implicit: []string{"rsp"}},
	ir.OpLret:   {implicit: []string{"rsp"}},
	ir.OpRetf:   {implicit: []string{"rsp"}},
	ir.OpIret:   {implicit: []string{"rsp"}},
	ir.OpSysret: {implicit: []string{"rsp"}},

	ir.OpJmp:  {},
	ir.OpLjmp: {},

	ir.OpLoop:   {implicit: []string{"rcx"}},
	ir.OpLoopz:  {implicit: []string{"rcx"}},
	ir.OpLoope:  {implicit: []string{"rcx"}},
	ir.OpLoopnz: {implicit: []string{"rcx"}},
	ir.OpLoopne: {implicit: []string{"rcx"}},

	ir.OpIns:  {implicit: []string{"rdi"}},
	ir.OpOuts: {implicit: []string{"rsi"}},
	ir.OpMovs: {implicit: []string{"rsi", "rdi"}},
	ir.OpLods: {implicit: []string{"rax", "rsi"}},
	ir.OpStos: {implicit: []string{"rdi"}},
	ir.OpCmps: {defsFlags: true, implicit: []string{"rsi", "rdi"}},
	ir.OpScas: {defsFlags: true, implicit: []string{"rdi"}},

	ir.OpMovdqu:    {defsDest: true},
	ir.OpMulss:     {defsDest: true},
	ir.OpDivss:     {defsDest: true},
	ir.OpSubss:     {defsDest: true},
	ir.OpAddss:     {defsDest: true},
	ir.OpCvttss2si: {defsDest: true},
	ir.OpMovsd:     {defsDest: true},
	ir.OpCvtsi2sd:  {defsDest: true},
	ir.OpMulsd:     {defsDest: true},
	ir.OpAddsd:     {defsDest: true},
	ir.OpDivsd:     {defsDest: true},
	ir.OpSubsd:     {defsDest: true},
	ir.OpCvttsd2si: {defsDest: true},

	ir.OpNop:   {},
	ir.OpLeave: {implicit: []string{"rsp", "rbp"}},
	ir.OpCpuid: {implicit: []string{"rax", "rbx", "rcx", "rdx"}},
	ir.OpInt:   {all: true},
	ir.OpInt3:  {all: true},
	ir.OpHlt:   {},
	ir.OpUd2:   {},
	ir.OpFnstsw: {
		defsDest: true,
		implicit: []string{"rax"},
	},
}

func namedMask(names []string) uint64 {
	mask := uint64(0)
	for _, name := range names {
		mask |= maskByName[name]
	}
	return mask
}

// RegisterDefMask returns the set of registers insn may define.  Unknown
// opcodes conservatively kill everything.
func RegisterDefMask(insn *ir.Insn) uint64 {
	entry, ok := defTable[insn.Op()]
	if !ok {
		return RegAll
	}
	if entry.all {
		return RegAll
	}

	mask := namedMask(entry.implicit)
	if entry.defsFlags {
		mask |= FlagsMask
	}

	if entry.defsAllOperands {
		for idx := 0; idx < insn.NumOperands(); idx++ {
			if insn.IsRegisterOperand(idx) {
				mask |= MaskForRegister(insn.Operand(idx).Reg)
			}
		}
		return mask
	}

	if entry.defsDest && insn.NumOperands() > 0 {
		dest := insn.NumOperands() - 1

		if insn.Op() == ir.OpImul && insn.NumOperands() == 1 {
			// Single-operand imul widens into rdx:rax.
			return mask | RaxMask | RdxMask
		}

		if insn.IsRegisterOperand(dest) {
			mask |= MaskForRegister(insn.Operand(dest).Reg)
		}
	}

	return mask
}
