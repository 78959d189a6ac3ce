package analyzer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pattyshack/mao/analyzer"
	"github.com/pattyshack/mao/ir"
)

func TestRedundantLoadPairReported(t *testing.T) {
	source := `	.text
	.type f,@function
f:
	movq 24(%rsp), %rdx
	addq $1, %rax
	movq 24(%rsp), %rcx
	ret
`
	_, cfg := parseFunction(t, source)

	pairs := analyzer.FindRedundantLoads(cfg, 6)
	require.Len(t, pairs, 1)

	require.Equal(t, ir.OpMov, pairs[0].First.Op())
	require.Equal(t, "rdx", pairs[0].First.Operand(1).Reg.Name)
	require.Equal(t, "rcx", pairs[0].Second.Operand(1).Reg.Name)
}

func TestBaseRegisterOverlapSuppressesPair(t *testing.T) {
	source := `	.text
	.type f,@function
f:
	movq (%rax), %rax
	movq (%rax), %rbx
	ret
`
	_, cfg := parseFunction(t, source)
	require.Empty(t, analyzer.FindRedundantLoads(cfg, 6))
}

func TestCloberredDestinationStopsScan(t *testing.T) {
	source := `	.text
	.type f,@function
f:
	movq 24(%rsp), %rdx
	movq $0, %rdx
	movq 24(%rsp), %rcx
	ret
`
	_, cfg := parseFunction(t, source)
	require.Empty(t, analyzer.FindRedundantLoads(cfg, 6))
}

func TestLookaheadLimitStopsScan(t *testing.T) {
	source := `	.text
	.type f,@function
f:
	movq 24(%rsp), %rdx
	addq $1, %rax
	addq $1, %rbx
	movq 24(%rsp), %rcx
	ret
`
	_, cfg := parseFunction(t, source)

	require.Len(t, analyzer.FindRedundantLoads(cfg, 6), 1)
	require.Empty(t, analyzer.FindRedundantLoads(cfg, 1))
}

func TestCallBreaksScan(t *testing.T) {
	source := `	.text
	.type f,@function
f:
	movq 24(%rsp), %rdx
	call g
	movq 24(%rsp), %rcx
	ret
`
	_, cfg := parseFunction(t, source)
	require.Empty(t, analyzer.FindRedundantLoads(cfg, 6))
}

func TestDifferentDisplacementsDoNotMatch(t *testing.T) {
	source := `	.text
	.type f,@function
f:
	movq 24(%rsp), %rdx
	movq 32(%rsp), %rcx
	ret
`
	_, cfg := parseFunction(t, source)
	require.Empty(t, analyzer.FindRedundantLoads(cfg, 6))
}
