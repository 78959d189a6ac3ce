package x86

import (
	"strings"

	"github.com/pattyshack/mao/ir"
)

// SizeHelper sizes parsed instructions for the relaxer.  For relaxable
// branches the fixed part covers prefixes plus the base opcode byte; the
// displacement (and any opcode extension chosen during relaxation) is
// the fragment's variable part.
type SizeHelper struct{}

// Opcodes encoded with a two-byte 0f escape.
var twoByteOpcodes = map[ir.Opcode]struct{}{
	ir.OpMovsbl: {}, ir.OpMovsbw: {}, ir.OpMovswl: {},
	ir.OpMovzbl: {}, ir.OpMovzwl: {},
	ir.OpCmovl: {}, ir.OpCmovnl: {}, ir.OpSetb: {},
	ir.OpSyscall: {}, ir.OpSysret: {}, ir.OpUd2: {}, ir.OpCpuid: {},
}

// SSE opcodes: two-byte escape plus one mandatory prefix byte.
var threeByteOpcodes = map[ir.Opcode]struct{}{
	ir.OpMovdqu: {}, ir.OpMulss: {}, ir.OpDivss: {}, ir.OpSubss: {},
	ir.OpAddss: {}, ir.OpCvttss2si: {},
	ir.OpMovsd: {}, ir.OpCvtsi2sd: {}, ir.OpMulsd: {}, ir.OpAddsd: {},
	ir.OpDivsd: {}, ir.OpSubsd: {}, ir.OpCvttsd2si: {},
}

// Opcodes encoded without a modrm byte.
var noModrmOpcodes = map[ir.Opcode]struct{}{
	ir.OpRet: {}, ir.OpLret: {}, ir.OpRetf: {}, ir.OpIret: {},
	ir.OpLeave: {}, ir.OpNop: {}, ir.OpHlt: {}, ir.OpInt3: {},
	ir.OpCwtl: {}, ir.OpCltd: {}, ir.OpCltq: {}, ir.OpCbtw: {},
	ir.OpCqto: {},
	ir.OpIns:  {}, ir.OpOuts: {}, ir.OpMovs: {}, ir.OpLods: {},
	ir.OpStos: {}, ir.OpCmps: {}, ir.OpScas: {},
	ir.OpJcxz: {}, ir.OpJecxz: {}, ir.OpJrcxz: {},
	ir.OpLoop: {}, ir.OpLoopz: {}, ir.OpLoope: {},
	ir.OpLoopnz: {}, ir.OpLoopne: {},
}

// IsRelaxableBranch reports whether insn must terminate a fragment with
// a machine-dependent variable part.
func IsRelaxableBranch(insn *ir.Insn) bool {
	if !insn.HasTarget() {
		return false
	}
	// Byte-displacement-only jumps have no 32-bit form to grow into.
	return !ir.IsByteOnlyJumpOp(insn.Op())
}

func opcodeLength(op ir.Opcode) int {
	if _, ok := twoByteOpcodes[op]; ok {
		return 2
	}
	if _, ok := threeByteOpcodes[op]; ok {
		return 3
	}
	return 1
}

func needsRex(insn *ir.Insn) bool {
	if insn.Prefix(ir.RexPrefix) != 0 {
		return false // already counted as an explicit prefix
	}
	if insn.Suffix() == 'q' {
		return true
	}
	extended := func(reg *ir.Register) bool {
		if reg == nil {
			return false
		}
		if reg.Type&(ir.Reg64) != 0 {
			return true
		}
		return reg.Num >= 8
	}
	if extended(insn.BaseRegister()) || extended(insn.IndexRegister()) {
		return true
	}
	for idx := 0; idx < insn.NumOperands(); idx++ {
		operand := insn.Operand(idx)
		if operand.Reg != nil && extended(operand.Reg) {
			return true
		}
	}
	return false
}

func fitsInt8(value int64) bool {
	return value >= -128 && value <= 127
}

// Instructions accepting a sign-extended imm8 form.
var imm8Capable = map[ir.Opcode]struct{}{
	ir.OpAdd: {}, ir.OpSub: {}, ir.OpAdc: {}, ir.OpSbb: {},
	ir.OpAnd: {}, ir.OpOr: {}, ir.OpXor: {}, ir.OpCmp: {},
	ir.OpImul: {}, ir.OpPush: {},
	ir.OpShl: {}, ir.OpSal: {}, ir.OpShr: {}, ir.OpSar: {},
	ir.OpRol: {}, ir.OpRor: {}, ir.OpInt: {},
}

func (SizeHelper) immediateLength(insn *ir.Insn, operand *ir.InsnOperand) int {
	if operand.Imm != nil && operand.Imm.Op == ir.OConstant {
		if _, ok := imm8Capable[insn.Op()]; ok &&
			fitsInt8(operand.Imm.AddNumber) {
			return 1
		}
	}
	switch insn.Suffix() {
	case 'b':
		return 1
	case 'w':
		return 2
	}
	return 4
}

func (SizeHelper) displacementLength(insn *ir.Insn, operand *ir.InsnOperand) int {
	if insn.BaseRegister() == nil && insn.IndexRegister() == nil {
		// No base or index: absolute 32-bit address.
		return 4
	}

	disp := operand.Disp
	if disp != nil && disp.Op == ir.OConstant {
		value := disp.AddNumber
		if value == 0 {
			// (%rbp)/(%r13) still needs a zero disp8.
			base := insn.BaseRegister()
			if base != nil && (base.Num&7) == 5 {
				return 1
			}
			return 0
		}
		if fitsInt8(value) {
			return 1
		}
		return 4
	}

	return 4
}

// SizeOfInstruction returns the encoded byte count of the fixed part and
// whether the instruction has a relaxation-dependent variable part.
func (helper SizeHelper) SizeOfInstruction(insn *ir.Insn) (int, bool) {
	size := insn.NumPrefixes()

	if IsRelaxableBranch(insn) {
		// Base opcode byte only; the displacement grows during
		// relaxation.
		return size + 1, true
	}

	if insn.HasTarget() {
		// Byte-only jumps: opcode plus a one-byte displacement.
		return size + 2, false
	}

	if needsRex(insn) {
		size++
	}
	size += opcodeLength(insn.Op())

	_, noModrm := noModrmOpcodes[insn.Op()]
	if !noModrm && insn.NumOperands() > 0 {
		onlyImm := true
		for idx := 0; idx < insn.NumOperands(); idx++ {
			if !insn.IsImmediateOperand(idx) {
				onlyImm = false
			}
		}
		if !onlyImm {
			size++ // modrm
			index := insn.IndexRegister()
			base := insn.BaseRegister()
			if index != nil || (base != nil && (base.Num&7) == 4) {
				size++ // sib
			}
		}
	}

	for idx := 0; idx < insn.NumOperands(); idx++ {
		operand := insn.Operand(idx)
		switch {
		case insn.IsImmediateOperand(idx):
			size += helper.immediateLength(insn, operand)
		case insn.IsMemOperand(idx):
			size += helper.displacementLength(insn, operand)
		}
	}

	return size, false
}

// Condition codes for the 0x70+cc short form.
var condCodes = map[ir.Opcode]byte{
	ir.OpJo: 0x0, ir.OpJno: 0x1,
	ir.OpJb: 0x2, ir.OpJc: 0x2, ir.OpJnae: 0x2,
	ir.OpJnb: 0x3, ir.OpJnc: 0x3, ir.OpJae: 0x3,
	ir.OpJe: 0x4, ir.OpJz: 0x4,
	ir.OpJne: 0x5, ir.OpJnz: 0x5,
	ir.OpJbe: 0x6, ir.OpJna: 0x6,
	ir.OpJnbe: 0x7, ir.OpJa: 0x7,
	ir.OpJs: 0x8, ir.OpJns: 0x9,
	ir.OpJp: 0xa, ir.OpJpe: 0xa,
	ir.OpJnp: 0xb, ir.OpJpo: 0xb,
	ir.OpJl: 0xc, ir.OpJnge: 0xc,
	ir.OpJnl: 0xd, ir.OpJge: 0xd,
	ir.OpJle: 0xe, ir.OpJng: 0xe,
	ir.OpJnle: 0xf, ir.OpJg: 0xf,
}

// OpcodeBytes returns the short-form opcode bytes carried by the
// fragment for encoding after relaxation.
func (SizeHelper) OpcodeBytes(insn *ir.Insn) []byte {
	if insn.IsUncondJump() {
		return []byte{0xeb}
	}
	if cc, ok := condCodes[insn.Op()]; ok {
		return []byte{0x70 + cc}
	}
	// Non-branch opcode bytes are not consulted by the relaxer.
	return nil
}

// StripSuffix splits a mnemonic into a known base opcode and size
// suffix.  Exact-match mnemonics win; otherwise a trailing b/w/l/q is
// stripped when the remainder is a known mnemonic.
func StripSuffix(mnemonic string) (ir.Opcode, byte) {
	op := ir.OpcodeFromName(mnemonic)
	if op != ir.OpInvalid {
		return op, 0
	}
	if len(mnemonic) > 1 && strings.ContainsRune("bwlq", rune(mnemonic[len(mnemonic)-1])) {
		base := ir.OpcodeFromName(mnemonic[:len(mnemonic)-1])
		if base != ir.OpInvalid {
			return base, mnemonic[len(mnemonic)-1]
		}
	}
	return ir.OpInvalid, 0
}
