package x86_test

import (
	"testing"

	"github.com/pattyshack/gt/parseutil"
	"github.com/stretchr/testify/require"

	"github.com/pattyshack/mao/ir"
	"github.com/pattyshack/mao/parser"
	"github.com/pattyshack/mao/x86"
)

func parseInsn(t *testing.T, line string) *ir.Insn {
	emitter := &parseutil.Emitter{}
	unit := parser.Parse("test.s", []byte("\t"+line+"\n"), emitter)
	require.False(t, emitter.HasErrors(), "%v", emitter.Errors())

	for _, entry := range unit.Entries() {
		if insn, ok := entry.(*ir.Insn); ok {
			return insn
		}
	}
	t.Fatalf("no instruction parsed from %q", line)
	return nil
}

func defines(insn *ir.Insn, regName string) bool {
	return x86.RegisterDefMask(insn)&
		x86.MaskForRegister(x86.LookupRegister(regName)) != 0
}

func TestMovDefinesDestinationOnly(t *testing.T) {
	insn := parseInsn(t, "movq 24(%rsp), %rdx")
	require.True(t, defines(insn, "rdx"))
	require.False(t, defines(insn, "rax"))
	require.False(t, defines(insn, "rsp"))
}

func TestPartialRegisterAliasesFullRegister(t *testing.T) {
	insn := parseInsn(t, "movb $1, %al")
	require.True(t, defines(insn, "rax"))
	require.True(t, defines(insn, "eax"))
}

func TestStoreToMemoryDefinesNoRegister(t *testing.T) {
	insn := parseInsn(t, "movq %rdx, 24(%rsp)")
	require.Equal(t, uint64(0), x86.RegisterDefMask(insn))
}

func TestArithmeticDefinesFlags(t *testing.T) {
	insn := parseInsn(t, "addq $1, %rax")
	require.True(t, defines(insn, "rax"))
	require.NotZero(t, x86.RegisterDefMask(insn)&x86.FlagsMask)
}

func TestCompareDefinesOnlyFlags(t *testing.T) {
	insn := parseInsn(t, "cmpq $0, %rax")
	require.Equal(t, x86.FlagsMask, x86.RegisterDefMask(insn))
}

func TestCallKillsEverything(t *testing.T) {
	insn := parseInsn(t, "call g")
	require.Equal(t, x86.RegAll, x86.RegisterDefMask(insn))
}

func TestWideningDivideDefinesRaxRdx(t *testing.T) {
	insn := parseInsn(t, "idivq %rcx")
	mask := x86.RegisterDefMask(insn)
	require.NotZero(t, mask&x86.RaxMask)
	require.NotZero(t, mask&x86.RdxMask)
	require.Zero(t, mask&x86.MaskForRegister(x86.LookupRegister("rcx")))
}

func TestMaskForAbsentRegisterIsZero(t *testing.T) {
	require.Equal(t, uint64(0), x86.MaskForRegister(nil))
}

func TestRetHasOneByteEncoding(t *testing.T) {
	insn := parseInsn(t, "ret")
	size, variable := x86.SizeHelper{}.SizeOfInstruction(insn)
	require.Equal(t, 1, size)
	require.False(t, variable)
}

func TestRelaxableBranchHasOpcodeByteFixedPart(t *testing.T) {
	insn := parseInsn(t, "je somewhere")
	size, variable := x86.SizeHelper{}.SizeOfInstruction(insn)
	require.Equal(t, 1, size)
	require.True(t, variable)

	opcode := x86.SizeHelper{}.OpcodeBytes(insn)
	require.Equal(t, []byte{0x74}, opcode)
}

func TestSuffixStripping(t *testing.T) {
	op, suffix := x86.StripSuffix("movq")
	require.Equal(t, ir.OpMov, op)
	require.Equal(t, byte('q'), suffix)

	op, suffix = x86.StripSuffix("movzbl")
	require.Equal(t, ir.OpMovzbl, op)
	require.Equal(t, byte(0), suffix)

	op, _ = x86.StripSuffix("bogus")
	require.Equal(t, ir.OpInvalid, op)
}
