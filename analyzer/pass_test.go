package analyzer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pattyshack/mao/analyzer"
)

func TestConfigLoadsTypedOverrides(t *testing.T) {
	config := &analyzer.Config{}
	err := config.LoadYAML([]byte("REDMOV:\n  lookahead: 3\n"))
	require.NoError(t, err)
}

func TestConfigRejectsUnknownPass(t *testing.T) {
	config := &analyzer.Config{}
	err := config.LoadYAML([]byte("NOSUCH:\n  lookahead: 3\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown pass")
}

func TestConfigRejectsUnknownOption(t *testing.T) {
	config := &analyzer.Config{}
	err := config.LoadYAML([]byte("REDMOV:\n  bogus: 3\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown option")
}

func TestConfigRejectsWrongType(t *testing.T) {
	config := &analyzer.Config{}
	err := config.LoadYAML([]byte("REDMOV:\n  lookahead: maybe\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "expects an int")
}

func TestRunPassWithConfiguredLookahead(t *testing.T) {
	source := `	.text
	.type f,@function
f:
	movq 24(%rsp), %rdx
	addq $1, %rax
	movq 24(%rsp), %rcx
	ret
`
	unit, cfg := parseFunction(t, source)

	config := &analyzer.Config{}
	require.NoError(
		t,
		config.LoadYAML([]byte("REDMOV:\n  lookahead: 1\n")))

	// Runs the registered pass end to end; findings only go to the trace
	// channel.
	analyzer.RunPass("REDMOV", config, unit, cfg)
	analyzer.RunPass("DCE", config, unit, cfg)
}

func TestRegisteredPasses(t *testing.T) {
	names := []string{}
	for _, descriptor := range analyzer.Descriptors() {
		names = append(names, descriptor.Name)
	}
	require.Contains(t, names, "DCE")
	require.Contains(t, names, "REDMOV")
}
