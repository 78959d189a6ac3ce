package ir

import (
	"fmt"

	"github.com/pattyshack/gt/parseutil"
)

// OperandType is the per-operand type bitfield.
type OperandType uint32

const (
	Disp8 = OperandType(1 << iota)
	Disp16
	Disp32
	Disp32S
	Disp64
	Imm1
	Imm8
	Imm8S
	Imm16
	Imm32
	Imm32S
	Imm64
	Acc
	Reg8
	Reg16
	Reg32
	Reg64
	FloatReg
	FloatAcc
	RegMMX
	RegXMM
	SReg2
	SReg3
	BaseIndex
	JumpAbsolute
	InOutPortReg
	ShiftCount
)

const (
	AnyDisp = Disp8 | Disp16 | Disp32 | Disp32S | Disp64
	AnyImm  = Imm1 | Imm8 | Imm8S | Imm16 | Imm32 | Imm32S | Imm64
	AnyReg  = Acc | Reg8 | Reg16 | Reg32 | Reg64 | FloatReg | RegXMM
)

// Register is a shared architectural register descriptor.  The canonical
// instances live in the x86 package's table; the IR only references them.
type Register struct {
	Name string

	// Register class bits (Reg8/Reg16/Reg32/Reg64/RegXMM/...).
	Type OperandType

	// Encoding number within the class.
	Num int
}

// SegmentOverride names a segment override prefix (es/cs/ss/ds/fs/gs).
type SegmentOverride struct {
	Name   string
	Prefix byte
}

// RelocKind is the per-operand relocation request.
type RelocKind int

const (
	RelocNone = RelocKind(iota)
	RelocPlt32
	Reloc32Pcrel
	RelocTlsld
	RelocTlsgd
	RelocDtpoff32
	RelocGottpoff
)

// Prefix slot indices, one slot per prefix group.
const (
	WaitPrefix = iota
	SegPrefix
	AddrPrefix
	DataPrefix
	LockRepPrefix
	RexPrefix
	NumPrefixSlots
)

// Prefix opcode bytes.
const (
	RepnePrefixOpcode = byte(0xf2)
	RepePrefixOpcode  = byte(0xf3)
	DataPrefixOpcode  = byte(0x66)
	AddrPrefixOpcode  = byte(0x67)
	LockPrefixOpcode  = byte(0xf0)
	WaitPrefixOpcode  = byte(0x9b)
	CsPrefixOpcode    = byte(0x2e)
	DsPrefixOpcode    = byte(0x3e)
	EsPrefixOpcode    = byte(0x26)
	FsPrefixOpcode    = byte(0x64)
	GsPrefixOpcode    = byte(0x65)
	SsPrefixOpcode    = byte(0x36)
	RexOpcodeBase     = byte(0x40)
)

// InsnOperand is one parsed instruction operand.  The payload selection
// follows the type bits: AnyImm selects Imm, AnyDisp/BaseIndex selects
// Disp, register bits select Reg.
type InsnOperand struct {
	Type  OperandType
	Reloc RelocKind

	Imm  *Expression
	Disp *Expression
	Reg  *Register
}

// Insn is a fully parsed machine instruction.
type Insn struct {
	entryBase

	op     Opcode
	suffix byte // 0 when the mnemonic carries no size suffix

	operands []*InsnOperand

	baseReg         *Register
	indexReg        *Register
	log2ScaleFactor uint8

	segs     [2]*SegmentOverride
	prefixes [NumPrefixSlots]byte
}

func NewInsn(
	pos parseutil.StartEndPos,
	op Opcode,
	suffix byte,
	operands []*InsnOperand,
	verbatim string,
) *Insn {
	if op <= OpInvalid || op >= NumOpcodes {
		panic(fmt.Sprintf("invalid opcode %d (line %d)", op, pos.StartPos.Line))
	}
	return &Insn{
		entryBase: newEntryBase(pos, verbatim),
		op:        op,
		suffix:    suffix,
		operands:  operands,
	}
}

func (insn *Insn) Op() Opcode            { return insn.op }
func (insn *Insn) Suffix() byte          { return insn.suffix }
func (insn *Insn) NumOperands() int      { return len(insn.operands) }
func (insn *Insn) DescriptiveChar() byte { return 'I' }

func (insn *Insn) Operand(idx int) *InsnOperand {
	if idx < 0 || idx >= len(insn.operands) {
		panic(fmt.Sprintf(
			"operand index %d out of range for %s (line %d)",
			idx,
			insn.op,
			insn.LineNumber()))
	}
	return insn.operands[idx]
}

func (insn *Insn) BaseRegister() *Register  { return insn.baseReg }
func (insn *Insn) IndexRegister() *Register { return insn.indexReg }
func (insn *Insn) Log2ScaleFactor() uint8   { return insn.log2ScaleFactor }

func (insn *Insn) SetBaseIndex(
	base *Register,
	index *Register,
	log2Scale uint8,
) {
	insn.baseReg = base
	insn.indexReg = index
	insn.log2ScaleFactor = log2Scale
}

func (insn *Insn) Segment(idx int) *SegmentOverride {
	return insn.segs[idx]
}

func (insn *Insn) SetSegment(idx int, seg *SegmentOverride) {
	insn.segs[idx] = seg
}

func (insn *Insn) Prefix(slot int) byte { return insn.prefixes[slot] }

func (insn *Insn) SetPrefix(slot int, opcode byte) {
	insn.prefixes[slot] = opcode
}

func (insn *Insn) NumPrefixes() int {
	count := 0
	for _, prefix := range insn.prefixes {
		if prefix != 0 {
			count++
		}
	}
	return count
}

func (insn *Insn) IsMemOperand(idx int) bool {
	return insn.Operand(idx).Type&(AnyDisp|BaseIndex) != 0
}

func (insn *Insn) IsImmediateOperand(idx int) bool {
	return insn.Operand(idx).Type&AnyImm != 0
}

func (insn *Insn) IsRegisterOperand(idx int) bool {
	return insn.Operand(idx).Type&AnyReg != 0
}

func (insn *Insn) IsOpMov() bool {
	return insn.op == OpMov
}

func (insn *Insn) IsCall() bool {
	_, ok := callOps[insn.op]
	return ok
}

func (insn *Insn) IsReturn() bool {
	_, ok := returnOps[insn.op]
	return ok
}

func (insn *Insn) IsCondJump() bool {
	return IsCondJumpOp(insn.op)
}

func (insn *Insn) IsUncondJump() bool {
	return IsUncondJumpOp(insn.op)
}

func (insn *Insn) IsControlTransfer() bool {
	return insn.IsCall() ||
		insn.IsReturn() ||
		insn.IsCondJump() ||
		insn.IsUncondJump()
}

// HasFallThrough is false only for unconditional jumps and returns.
// Calls and conditional branches may continue to the next entry.
func (insn *Insn) HasFallThrough() bool {
	if insn.IsReturn() {
		return false
	}
	if !insn.HasTarget() {
		return true
	}
	if insn.IsCall() {
		return true
	}
	return insn.IsCondJump()
}

// HasTarget is true for unconditional and conditional jumps.
func (insn *Insn) HasTarget() bool {
	return insn.IsUncondJump() || insn.IsCondJump()
}

const UnknownTarget = "<UNKNOWN>"

// GetTarget returns the symbol name of the displacement operand, or
// UnknownTarget when the target is not a plain symbol.
func (insn *Insn) GetTarget() string {
	for idx := range insn.operands {
		if !insn.IsMemOperand(idx) {
			continue
		}
		operand := insn.operands[idx]
		if operand.Type&AnyDisp == 0 || operand.Disp == nil {
			continue
		}
		if operand.Disp.Op == OSymbol && operand.Disp.AddSymbol != nil {
			return operand.Disp.AddSymbol.Name()
		}
	}
	return UnknownTarget
}

// NextInsn returns the next instruction entry in the chain, skipping
// labels, directives, and debug entries.  Nil at section end.
func (insn *Insn) NextInsn() *Insn {
	for entry := insn.Next(); entry != nil; entry = entry.Next() {
		next, ok := entry.(*Insn)
		if ok {
			return next
		}
	}
	return nil
}

// CompareMemOperand reports whether operand idx and other's operand
// otherIdx refer to the same memory location: same base, index, scale,
// segment overrides, and structurally equal displacement.
func (insn *Insn) CompareMemOperand(
	idx int,
	other *Insn,
	otherIdx int,
) bool {
	if !insn.IsMemOperand(idx) || !other.IsMemOperand(otherIdx) {
		return false
	}

	if !sameRegisterName(insn.baseReg, other.baseReg) ||
		!sameRegisterName(insn.indexReg, other.indexReg) ||
		insn.log2ScaleFactor != other.log2ScaleFactor {
		return false
	}

	for i := 0; i < 2; i++ {
		a := insn.segs[i]
		b := other.segs[i]
		if (a == nil) != (b == nil) {
			return false
		}
		if a != nil && a.Name != b.Name {
			return false
		}
	}

	a := insn.Operand(idx).Disp
	b := other.Operand(otherIdx).Disp
	if a == nil || b == nil {
		return a == b
	}
	return a.Equals(b)
}

func sameRegisterName(a *Register, b *Register) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Name == b.Name
}
