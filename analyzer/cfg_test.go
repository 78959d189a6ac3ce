package analyzer_test

import (
	"testing"

	"github.com/pattyshack/gt/parseutil"
	"github.com/stretchr/testify/require"

	"github.com/pattyshack/mao/analyzer"
	"github.com/pattyshack/mao/ir"
	"github.com/pattyshack/mao/parser"
)

func parseFunction(t *testing.T, source string) (*ir.Unit, *analyzer.CFG) {
	emitter := &parseutil.Emitter{}
	unit := parser.Parse("test.s", []byte(source), emitter)
	require.False(t, emitter.HasErrors(), "%v", emitter.Errors())

	unit.FindFunctions()
	require.NotEmpty(t, unit.Functions())

	return unit, analyzer.BuildCFG(unit, unit.Functions()[0])
}

func edgeKinds(edges []*analyzer.Edge) []analyzer.EdgeKind {
	kinds := []analyzer.EdgeKind{}
	for _, edge := range edges {
		kinds = append(kinds, edge.Kind)
	}
	return kinds
}

func TestCFGStraightLine(t *testing.T) {
	source := `	.text
	.type f,@function
f:
	movq %rax, %rbx
	ret
`
	_, cfg := parseFunction(t, source)

	blocks := cfg.Blocks()
	// root, body, exit
	require.Len(t, blocks, 3)
	require.True(t, cfg.Begin().IsSynthetic())
	require.True(t, cfg.Exit().IsSynthetic())

	for idx, block := range blocks {
		require.Equal(t, idx, block.Id())
	}

	body := blocks[1]
	require.Equal(
		t,
		[]analyzer.EdgeKind{analyzer.ReturnEdge},
		edgeKinds(body.OutEdges()))
}

func TestCFGConditionalEdges(t *testing.T) {
	source := `	.text
	.type f,@function
f:
	cmpq $0, %rax
	je L1
	movq $1, %rbx
L1:
	ret
`
	_, cfg := parseFunction(t, source)

	blocks := cfg.Blocks()
	// root, [f..je], [mov], [L1 ret], exit
	require.Len(t, blocks, 5)

	branch := blocks[1]
	require.ElementsMatch(
		t,
		[]analyzer.EdgeKind{analyzer.TakenEdge, analyzer.NotTakenEdge},
		edgeKinds(branch.OutEdges()))

	taken := branch.OutEdges()[0]
	if taken.Kind != analyzer.TakenEdge {
		taken = branch.OutEdges()[1]
	}
	require.Equal(t, blocks[3], taken.Dest)
}

func TestCFGCallHasFallThrough(t *testing.T) {
	source := `	.text
	.type f,@function
f:
	call g
	ret
`
	_, cfg := parseFunction(t, source)

	blocks := cfg.Blocks()
	require.Len(t, blocks, 4)

	callBlock := blocks[1]
	require.Equal(
		t,
		[]analyzer.EdgeKind{analyzer.FallThroughEdge},
		edgeKinds(callBlock.OutEdges()))
}

func TestDeadBlockAfterJump(t *testing.T) {
	source := `	.text
	.type f,@function
f:
	jmp L1
	.byte 144
L1:
	ret
`
	_, cfg := parseFunction(t, source)

	dead := analyzer.DeadBlocks(cfg)
	require.Len(t, dead, 1)
	require.Equal(t, 1, dead[0].NumEntries())

	_, isDirective := dead[0].FirstEntry().(*ir.Directive)
	require.True(t, isDirective)
}

func TestNoDeadBlocksInReachableFunction(t *testing.T) {
	source := `	.text
	.type f,@function
f:
	cmpq $0, %rax
	je L1
	movq $1, %rbx
L1:
	ret
`
	_, cfg := parseFunction(t, source)
	require.Empty(t, analyzer.DeadBlocks(cfg))
}
