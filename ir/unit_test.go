package ir_test

import (
	"testing"

	"github.com/pattyshack/gt/parseutil"
	"github.com/stretchr/testify/require"

	"github.com/pattyshack/mao/ir"
)

func pos(line int) parseutil.StartEndPos {
	loc := parseutil.Location{FileName: "test.s", Line: line}
	return parseutil.NewStartEndPos(loc, loc)
}

func sectionDirective(line int, name string) *ir.Directive {
	return ir.NewDirective(
		pos(line),
		ir.DirSection,
		[]*ir.Operand{ir.NewStringOperand(name)},
		".section "+name)
}

func TestEntryIdsAndChain(t *testing.T) {
	unit := ir.NewUnit()

	unit.AddEntry(sectionDirective(1, ".text"), false)
	unit.AddEntry(ir.NewLabel(pos(2), "start", "start:"), true)
	unit.AddEntry(
		ir.NewDirective(
			pos(3),
			ir.DirByte,
			[]*ir.Operand{
				ir.NewExpressionOperand(ir.NewConstantExpr(1)),
			},
			".byte 1"),
		true)

	require.Equal(t, 3, unit.NumEntries())

	seen := map[ir.EntryId]struct{}{}
	for idx, entry := range unit.Entries() {
		require.Equal(t, ir.EntryId(idx), entry.Id())

		_, duplicate := seen[entry.Id()]
		require.False(t, duplicate)
		seen[entry.Id()] = struct{}{}

		if entry.Prev() != nil {
			require.Same(t, entry, entry.Prev().Next())
		}
	}

	// Every entry is reachable through its subsection.
	for _, entry := range unit.Entries() {
		found := false
		for _, ss := range unit.SubSections() {
			for e := ss.FirstEntry(); e != ss.EntryLimit(); e = e.Next() {
				if e == entry {
					found = true
				}
			}
		}
		require.True(t, found, "entry %d unreachable", entry.Id())
	}
}

func TestSubSectionSplicing(t *testing.T) {
	unit := ir.NewUnit()

	unit.AddEntry(sectionDirective(1, ".text"), false)
	unit.AddEntry(ir.NewLabel(pos(2), "a", "a:"), true)
	unit.AddEntry(sectionDirective(3, ".data"), false)
	unit.AddEntry(ir.NewLabel(pos(4), "d", "d:"), true)
	unit.AddEntry(sectionDirective(5, ".text"), false)
	unit.AddEntry(ir.NewLabel(pos(6), "b", "b:"), true)

	text := unit.GetSection(".text")
	require.NotNil(t, text)
	require.Len(t, text.SubSections(), 2)

	first := text.SubSections()[0]
	second := text.SubSections()[1]
	require.Same(t, second.FirstEntry(), first.LastEntry().Next())
	require.Same(t, first.LastEntry(), second.FirstEntry().Prev())

	// Per-section iteration sees subsections in appearance order.
	names := []string{}
	for e := text.EntryBegin(); e != nil; e = e.Next() {
		if label, ok := e.(*ir.Label); ok {
			names = append(names, label.Name())
		}
	}
	require.Equal(t, []string{"a", "b"}, names)

	// The .data chain terminates at its own section end.
	data := unit.GetSection(".data")
	labels := []string{}
	for e := data.EntryBegin(); e != nil; e = e.Next() {
		if label, ok := e.(*ir.Label); ok {
			labels = append(labels, label.Name())
		}
	}
	require.Equal(t, []string{"d"}, labels)
}

func TestDuplicateLabelIsFatal(t *testing.T) {
	unit := ir.NewUnit()
	unit.AddEntry(ir.NewLabel(pos(1), "dup", "dup:"), true)
	require.Panics(t, func() {
		unit.AddEntry(ir.NewLabel(pos(2), "dup", "dup:"), true)
	})
}

func TestFindFunctions(t *testing.T) {
	unit := ir.NewUnit()

	unit.AddEntry(sectionDirective(1, ".text"), false)
	unit.AddEntry(ir.NewLabel(pos(2), "f", "f:"), true)
	unit.AddEntry(
		ir.NewInsn(pos(3), ir.OpRet, 0, nil, "ret"),
		true)
	unit.AddEntry(ir.NewLabel(pos(4), "inner", "inner:"), true)
	unit.AddEntry(ir.NewLabel(pos(5), "g", "g:"), true)
	unit.AddEntry(
		ir.NewInsn(pos(6), ir.OpRet, 0, nil, "ret"),
		true)

	unit.SymbolTable().Find("f").SetType(ir.FunctionSymbol)
	unit.SymbolTable().Find("g").SetType(ir.FunctionSymbol)

	unit.FindFunctions()
	require.Len(t, unit.Functions(), 2)

	f := unit.Functions()[0]
	require.Equal(t, "f", f.Name())
	require.Same(t, unit.GetLabelEntry("f"), f.FirstEntry())
	// f's range stops just before g's label.
	require.Same(t, unit.GetLabelEntry("inner"), f.LastEntry())

	g := unit.Functions()[1]
	require.Equal(t, "g", g.Name())
	require.Nil(t, g.LastEntry().Next())
}

func TestCommonSymbolMerging(t *testing.T) {
	unit := ir.NewUnit()
	unit.AddCommSymbol("buf", 16, 4)
	unit.AddCommSymbol("buf", 8, 8)

	symbol := unit.SymbolTable().Find("buf")
	require.NotNil(t, symbol)
	require.True(t, symbol.IsCommon())
	require.Equal(t, int64(16), symbol.CommonSize())
	require.Equal(t, int64(8), symbol.CommonAlign())
	require.Equal(t, ir.ObjectSymbol, symbol.Type())
}
