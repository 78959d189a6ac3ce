package parser_test

import (
	"strings"
	"testing"

	"github.com/pattyshack/gt/parseutil"
	"github.com/stretchr/testify/require"

	"github.com/pattyshack/mao/ir"
	"github.com/pattyshack/mao/parser"
)

func parse(t *testing.T, source string) *ir.Unit {
	emitter := &parseutil.Emitter{}
	unit := parser.Parse("test.s", []byte(source), emitter)
	require.False(t, emitter.HasErrors(), "%v", emitter.Errors())
	return unit
}

func entryTexts(unit *ir.Unit) []string {
	texts := []string{}
	for _, entry := range unit.Entries() {
		texts = append(texts, ir.EntryText(entry))
	}
	return texts
}

func TestParseLabelAndInstruction(t *testing.T) {
	unit := parse(t, "main:\n\tmovq 24(%rsp), %rdx\n")

	require.Equal(t, 2, unit.NumEntries())

	label, ok := unit.Entries()[0].(*ir.Label)
	require.True(t, ok)
	require.Equal(t, "main", label.Name())

	insn, ok := unit.Entries()[1].(*ir.Insn)
	require.True(t, ok)
	require.Equal(t, ir.OpMov, insn.Op())
	require.Equal(t, byte('q'), insn.Suffix())
	require.Equal(t, 2, insn.NumOperands())

	require.True(t, insn.IsMemOperand(0))
	require.False(t, insn.IsRegisterOperand(0))
	require.True(t, insn.IsRegisterOperand(1))

	require.Equal(t, "rsp", insn.BaseRegister().Name)
	require.Nil(t, insn.IndexRegister())

	disp := insn.Operand(0).Disp
	require.Equal(t, ir.OConstant, disp.Op)
	require.Equal(t, int64(24), disp.AddNumber)
}

func TestParseScaledIndex(t *testing.T) {
	unit := parse(t, "\tmovl table(%rbx,%rcx,4), %eax\n")

	insn := unit.Entries()[0].(*ir.Insn)
	require.Equal(t, "rbx", insn.BaseRegister().Name)
	require.Equal(t, "rcx", insn.IndexRegister().Name)
	require.Equal(t, uint8(2), insn.Log2ScaleFactor())

	disp := insn.Operand(0).Disp
	require.Equal(t, ir.OSymbol, disp.Op)
	require.Equal(t, "table", disp.AddSymbol.Name())
}

func TestParseImmediateAndTarget(t *testing.T) {
	unit := parse(t, "\taddq $1, %rax\n\tje done\ndone:\n\tret\n")

	add := unit.Entries()[0].(*ir.Insn)
	require.True(t, add.IsImmediateOperand(0))
	require.Equal(t, int64(1), add.Operand(0).Imm.AddNumber)

	je := unit.Entries()[1].(*ir.Insn)
	require.True(t, je.IsCondJump())
	require.True(t, je.HasTarget())
	require.True(t, je.HasFallThrough())
	require.Equal(t, "done", je.GetTarget())

	ret := unit.Entries()[3].(*ir.Insn)
	require.True(t, ret.IsReturn())
	require.False(t, ret.HasFallThrough())
	require.Equal(t, ir.UnknownTarget, ret.GetTarget())
}

func TestParseSegmentOverride(t *testing.T) {
	unit := parse(t, "\tmovq %fs:40, %rax\n")

	insn := unit.Entries()[0].(*ir.Insn)
	require.NotNil(t, insn.Segment(0))
	require.Equal(t, "fs", insn.Segment(0).Name)
	require.True(t, insn.IsMemOperand(0))
}

func TestParseDirectives(t *testing.T) {
	source := `	.section .data
	.globl counter
	.type counter,@object
counter:
	.quad 0
	.size counter, 8
`
	unit := parse(t, source)

	counter := unit.SymbolTable().Find("counter")
	require.NotNil(t, counter)
	require.Equal(t, ir.GlobalSymbol, counter.Visibility())
	require.Equal(t, ir.ObjectSymbol, counter.Type())
	require.Equal(t, int64(8), counter.Size())
	require.Equal(t, ".data", counter.Section().Name())
}

func TestParseFunctionTypeMarksSymbol(t *testing.T) {
	unit := parse(t, "\t.text\n\t.type f,@function\nf:\n\tret\n")

	unit.FindFunctions()
	require.Len(t, unit.Functions(), 1)
	require.Equal(t, "f", unit.Functions()[0].Name())
}

func TestParseCommDirective(t *testing.T) {
	unit := parse(t, "\t.comm buf,64,32\n")

	buf := unit.SymbolTable().Find("buf")
	require.NotNil(t, buf)
	require.True(t, buf.IsCommon())
	require.Equal(t, int64(64), buf.CommonSize())
	require.Equal(t, int64(32), buf.CommonAlign())
}

func TestParseUnknownDirectiveCarriedOpaquely(t *testing.T) {
	unit := parse(t, "\t.cfi_startproc\n\tret\n")

	debug, ok := unit.Entries()[0].(*ir.Debug)
	require.True(t, ok)
	require.Equal(t, ".cfi_startproc", debug.Key())
}

func TestParseRepPrefix(t *testing.T) {
	unit := parse(t, "\trep movsb\n")

	insn := unit.Entries()[0].(*ir.Insn)
	require.Equal(t, ir.OpMovs, insn.Op())
	require.Equal(
		t,
		ir.RepePrefixOpcode,
		insn.Prefix(ir.LockRepPrefix))
	require.Contains(t, insn.InstructionText(), "rep ")
}

func TestRoundTrip(t *testing.T) {
	source := `	.section .text
	.globl main
	.type main,@function
main:
	movq 24(%rsp), %rdx
	addq $1, %rax
	leaq table(%rbx,%rcx,4), %rsi
	cmpq $0, %rax
	je done
	movzbl (%rdi), %eax
done:
	ret
	.section .data
table:
	.quad 1
	.string "hi"
`
	unit := parse(t, source)

	var printed strings.Builder
	unit.Print(&printed)

	emitter := &parseutil.Emitter{}
	reparsed := parser.Parse(
		"reprint.s",
		[]byte(printed.String()),
		emitter)
	require.False(t, emitter.HasErrors(), "%v", emitter.Errors())

	require.Equal(t, entryTexts(unit), entryTexts(reparsed))
}

func TestParseSemicolonSeparatedStatements(t *testing.T) {
	unit := parse(t, "\tmovq 24(%rsp), %rdx; addq $1, %rax; ret\n")

	require.Equal(t, 3, unit.NumEntries())
	require.Equal(t, ir.OpRet, unit.Entries()[2].(*ir.Insn).Op())
}
