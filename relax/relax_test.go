package relax_test

import (
	"testing"

	"github.com/pattyshack/gt/parseutil"
	"github.com/stretchr/testify/require"

	"github.com/pattyshack/mao/ir"
	"github.com/pattyshack/mao/parser"
	"github.com/pattyshack/mao/relax"
	"github.com/pattyshack/mao/x86"
)

func parseUnit(t *testing.T, source string) *ir.Unit {
	emitter := &parseutil.Emitter{}
	unit := parser.Parse("test.s", []byte(source), emitter)
	require.False(t, emitter.HasErrors(), "%v", emitter.Errors())
	return unit
}

func relaxSection(
	t *testing.T,
	source string,
	sectionName string,
) (*ir.Unit, relax.SizeMap, int64) {
	unit := parseUnit(t, source)
	section := unit.GetSection(sectionName)
	require.NotNil(t, section)

	sizeMap := relax.SizeMap{}
	total := relax.Relax(unit, section, x86.SizeHelper{}, sizeMap)
	return unit, sizeMap, total
}

func directiveSizes(
	unit *ir.Unit,
	sizeMap relax.SizeMap,
	op ir.DirectiveOp,
) []int {
	sizes := []int{}
	for _, entry := range unit.Entries() {
		dir, ok := entry.(*ir.Directive)
		if ok && dir.Op() == op {
			sizes = append(sizes, sizeMap[dir.Id()])
		}
	}
	return sizes
}

func sectionSizeSum(
	unit *ir.Unit,
	sectionName string,
	sizeMap relax.SizeMap,
) int {
	sum := 0
	for e := unit.GetSection(sectionName).EntryBegin(); e != nil; e = e.Next() {
		sum += sizeMap[e.Id()]
	}
	return sum
}

func TestSleb128Sizes(t *testing.T) {
	source := `	.section .data
	.sleb128 -1
	.sleb128 63
	.sleb128 64
`
	unit, sizeMap, total := relaxSection(t, source, ".data")

	require.Equal(
		t,
		[]int{1, 1, 2},
		directiveSizes(unit, sizeMap, ir.DirSleb128))
	require.Equal(t, int64(4), total)

	// All sizes are non-negative and sum to the section length.
	for _, size := range sizeMap {
		require.GreaterOrEqual(t, size, 0)
	}
	require.Equal(t, int(total), sectionSizeSum(unit, ".data", sizeMap))
}

func TestUleb128Sizes(t *testing.T) {
	source := `	.section .data
	.uleb128 127
	.uleb128 128
	.uleb128 16384
`
	unit, sizeMap, total := relaxSection(t, source, ".data")
	require.Equal(
		t,
		[]int{1, 2, 3},
		directiveSizes(unit, sizeMap, ir.DirUleb128))
	require.Equal(t, int64(6), total)
}

func TestSleb128UnsignedOverflowBecomesBignum(t *testing.T) {
	// 2^64-1 carries an unsigned flag but a negative stored constant; it
	// must widen to a bignum, not encode as -1.
	source := `	.section .data
	.sleb128 18446744073709551615
`
	unit, sizeMap, total := relaxSection(t, source, ".data")
	require.Equal(
		t,
		[]int{10},
		directiveSizes(unit, sizeMap, ir.DirSleb128))
	require.Equal(t, int64(10), total)
	_ = unit
}

func TestAlignmentPadding(t *testing.T) {
	source := `	.text
	ret
	.p2align 4,,15
	ret
`
	unit, sizeMap, total := relaxSection(t, source, ".text")

	require.Equal(t, int64(17), total)
	require.Equal(
		t,
		[]int{15},
		directiveSizes(unit, sizeMap, ir.DirP2align))
}

func TestAlignmentAtBoundaryPadsNothing(t *testing.T) {
	source := `	.text
	.p2align 4,,15
	ret
`
	unit, sizeMap, total := relaxSection(t, source, ".text")

	require.Equal(t, int64(1), total)
	require.Equal(
		t,
		[]int{0},
		directiveSizes(unit, sizeMap, ir.DirP2align))
}

func TestAlignmentMaxSkipExceeded(t *testing.T) {
	// 1 byte in, a 16-byte boundary needs 15 pad bytes; max-skip 8 turns
	// the padding off entirely.
	source := `	.text
	ret
	.p2align 4,,8
	ret
`
	_, sizeMap, total := relaxSection(t, source, ".text")
	require.Equal(t, int64(2), total)
	for _, size := range sizeMap {
		require.GreaterOrEqual(t, size, 0)
	}
}

func insnSize(
	unit *ir.Unit,
	sizeMap relax.SizeMap,
	op ir.Opcode,
) int {
	for _, entry := range unit.Entries() {
		insn, ok := entry.(*ir.Insn)
		if ok && insn.Op() == op {
			return sizeMap[insn.Id()]
		}
	}
	return -1
}

func TestShortConditionalBranch(t *testing.T) {
	source := `	.text
	je L
	ret
L:
	ret
`
	unit, sizeMap, _ := relaxSection(t, source, ".text")
	require.Equal(t, 2, insnSize(unit, sizeMap, ir.OpJe))
}

func TestConditionalBranchGrowsToDwordForm(t *testing.T) {
	source := `	.text
	je L
	.space 200
L:
	ret
`
	unit, sizeMap, total := relaxSection(t, source, ".text")

	require.Equal(t, 6, insnSize(unit, sizeMap, ir.OpJe))
	require.Equal(t, int64(6+200+1), total)
}

func TestShortUnconditionalJump(t *testing.T) {
	source := `	.text
	jmp L
L:
	ret
`
	unit, sizeMap, _ := relaxSection(t, source, ".text")
	require.Equal(t, 2, insnSize(unit, sizeMap, ir.OpJmp))
}

func TestUnconditionalJumpGrowsToDwordForm(t *testing.T) {
	source := `	.text
	jmp L
	.space 200
L:
	ret
`
	unit, sizeMap, _ := relaxSection(t, source, ".text")
	require.Equal(t, 5, insnSize(unit, sizeMap, ir.OpJmp))
}

func TestBackwardShortBranch(t *testing.T) {
	source := `	.text
L:
	ret
	je L
`
	unit, sizeMap, _ := relaxSection(t, source, ".text")
	require.Equal(t, 2, insnSize(unit, sizeMap, ir.OpJe))
}

func TestNonConstantSpace(t *testing.T) {
	source := `	.text
A:
	ret
B:
	.space B-A
	ret
`
	unit, sizeMap, total := relaxSection(t, source, ".text")

	require.Equal(t, int64(3), total)
	require.Equal(
		t,
		[]int{1},
		directiveSizes(unit, sizeMap, ir.DirSpace))
}

func TestStringAndDataSizes(t *testing.T) {
	source := `	.section .data
	.ascii "abc"
	.string "abc"
	.byte 7
	.word 7
	.long 7
	.quad 7
	.space 5
`
	unit, sizeMap, total := relaxSection(t, source, ".data")

	require.Equal(t, []int{3}, directiveSizes(unit, sizeMap, ir.DirAscii))
	require.Equal(t, []int{4}, directiveSizes(unit, sizeMap, ir.DirString8))
	require.Equal(t, []int{1}, directiveSizes(unit, sizeMap, ir.DirByte))
	require.Equal(t, []int{2}, directiveSizes(unit, sizeMap, ir.DirWord))
	require.Equal(t, []int{4}, directiveSizes(unit, sizeMap, ir.DirLong))
	require.Equal(t, []int{8}, directiveSizes(unit, sizeMap, ir.DirQuad))
	require.Equal(t, []int{5}, directiveSizes(unit, sizeMap, ir.DirSpace))
	require.Equal(t, int64(3+4+1+2+4+8+5), total)
}

func TestByteOnlyJumpsDoNotRelax(t *testing.T) {
	source := `	.text
	jecxz L
L:
	ret
`
	unit, sizeMap, total := relaxSection(t, source, ".text")
	require.Equal(t, 2, insnSize(unit, sizeMap, ir.OpJecxz))
	require.Equal(t, int64(3), total)
}

func TestRelaxationLeavesChainAddressesMonotone(t *testing.T) {
	source := `	.text
	je L1
	jmp L2
	.space 150
L1:
	ret
	.space 150
L2:
	ret
`
	unit, sizeMap, total := relaxSection(t, source, ".text")

	// je jumps over the first space blob: 6 bytes; jmp jumps over both:
	// 5 bytes.
	require.Equal(t, 6, insnSize(unit, sizeMap, ir.OpJe))
	require.Equal(t, 5, insnSize(unit, sizeMap, ir.OpJmp))
	require.Equal(t, int(total), sectionSizeSum(unit, ".text", sizeMap))
}
