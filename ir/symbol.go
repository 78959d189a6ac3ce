package ir

import (
	"fmt"
	"io"
	"sort"
)

type SymbolType int

const (
	NotypeSymbol = SymbolType(iota)
	ObjectSymbol
	FunctionSymbol
	TlsSymbol
)

type SymbolVisibility int

const (
	LocalSymbol = SymbolVisibility(iota)
	GlobalSymbol
	WeakSymbol
)

// Symbol is an entry in the unit's symbol table.  Symbols are created
// through the table's FindOrCreate and live for the lifetime of the unit.
type Symbol struct {
	name string
	id   int

	// Section holding the defining label, nil while undefined.
	section *Section

	symbolType SymbolType
	visibility SymbolVisibility

	common      bool
	size        int64
	commonSize  int64
	commonAlign int64
}

func (sym *Symbol) Name() string                 { return sym.name }
func (sym *Symbol) Id() int                      { return sym.id }
func (sym *Symbol) Section() *Section            { return sym.section }
func (sym *Symbol) Type() SymbolType             { return sym.symbolType }
func (sym *Symbol) SetType(t SymbolType)         { sym.symbolType = t }
func (sym *Symbol) Visibility() SymbolVisibility { return sym.visibility }
func (sym *Symbol) SetVisibility(v SymbolVisibility) {
	sym.visibility = v
}

func (sym *Symbol) IsFunction() bool { return sym.symbolType == FunctionSymbol }

func (sym *Symbol) IsCommon() bool        { return sym.common }
func (sym *Symbol) SetCommon(common bool) { sym.common = common }

func (sym *Symbol) Size() int64           { return sym.size }
func (sym *Symbol) SetSize(size int64)    { sym.size = size }
func (sym *Symbol) CommonSize() int64     { return sym.commonSize }
func (sym *Symbol) CommonAlign() int64    { return sym.commonAlign }
func (sym *Symbol) SetCommonSize(s int64) { sym.commonSize = s }
func (sym *Symbol) SetCommonAlign(a int64) {
	sym.commonAlign = a
}

func (sym *Symbol) setSection(section *Section) {
	if section != nil {
		sym.section = section
	}
}

func (sym *Symbol) typeChar() byte {
	switch sym.symbolType {
	case ObjectSymbol:
		return 'O'
	case FunctionSymbol:
		return 'F'
	case TlsSymbol:
		return 'T'
	}
	return 'N'
}

// SymbolTable maps names to symbols.  Creation order assigns ids.
type SymbolTable struct {
	byName map[string]*Symbol
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		byName: map[string]*Symbol{},
	}
}

func (table *SymbolTable) Size() int {
	return len(table.byName)
}

func (table *SymbolTable) Exists(name string) bool {
	_, ok := table.byName[name]
	return ok
}

func (table *SymbolTable) Find(name string) *Symbol {
	return table.byName[name]
}

// FindOrCreate returns the symbol named name, creating it with the given
// defining section when absent.  A later call with a non-nil section
// fills in the section of a previously undefined symbol.
func (table *SymbolTable) FindOrCreate(
	name string,
	section *Section,
) *Symbol {
	symbol, ok := table.byName[name]
	if !ok {
		symbol = &Symbol{
			name: name,
			id:   len(table.byName),
		}
		table.byName[name] = symbol
	}
	symbol.setSection(section)
	return symbol
}

// Symbols returns the table content in id order.
func (table *SymbolTable) Symbols() []*Symbol {
	result := make([]*Symbol, 0, len(table.byName))
	for _, symbol := range table.byName {
		result = append(result, symbol)
	}
	sort.Slice(result, func(i int, j int) bool {
		return result[i].id < result[j].id
	})
	return result
}

func (table *SymbolTable) Print(out io.Writer) {
	for _, symbol := range table.Symbols() {
		sectionName := "<undefined>"
		if symbol.section != nil {
			sectionName = symbol.section.Name()
		}
		common := ""
		if symbol.common {
			common = fmt.Sprintf(
				" common(%d,%d)",
				symbol.commonSize,
				symbol.commonAlign)
		}
		fmt.Fprintf(
			out,
			"# [%3d][%c] %-30s %s%s\n",
			symbol.id,
			symbol.typeChar(),
			symbol.name,
			sectionName,
			common)
	}
}
