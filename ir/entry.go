package ir

import (
	"fmt"

	"github.com/pattyshack/gt/parseutil"
)

type EntryId int

const InvalidEntryId = EntryId(-1)

// Entry is one semantic line of assembly.  Entries are linked into a
// per-section chain through next/prev; ownership sits in the unit's
// append-only entry vector.
type Entry interface {
	parseutil.Locatable

	Id() EntryId
	LineNumber() int
	Verbatim() string

	Next() Entry
	Prev() Entry

	// Single descriptive character used by the IR dump.
	DescriptiveChar() byte

	setId(EntryId)
	setNext(Entry)
	setPrev(Entry)
}

type entryBase struct {
	parseutil.StartEndPos

	id       EntryId
	next     Entry
	prev     Entry
	verbatim string
}

func newEntryBase(pos parseutil.StartEndPos, verbatim string) entryBase {
	return entryBase{
		StartEndPos: pos,
		id:          InvalidEntryId,
		verbatim:    verbatim,
	}
}

func (entry *entryBase) Id() EntryId      { return entry.id }
func (entry *entryBase) LineNumber() int  { return entry.StartPos.Line }
func (entry *entryBase) Verbatim() string { return entry.verbatim }
func (entry *entryBase) Next() Entry      { return entry.next }
func (entry *entryBase) Prev() Entry      { return entry.prev }

func (entry *entryBase) setId(id EntryId) { entry.id = id }
func (entry *entryBase) setNext(e Entry)  { entry.next = e }
func (entry *entryBase) setPrev(e Entry)  { entry.prev = e }

// Label declares a symbol in the enclosing section.
type Label struct {
	entryBase

	name string
}

func NewLabel(
	pos parseutil.StartEndPos,
	name string,
	verbatim string,
) *Label {
	return &Label{
		entryBase: newEntryBase(pos, verbatim),
		name:      name,
	}
}

func (label *Label) Name() string          { return label.name }
func (label *Label) DescriptiveChar() byte { return 'L' }

// DirectiveOp tags a directive entry.  The set is closed; the front end
// carries unrecognized directives as Debug entries, reporting an error for
// those it does not know to be opaque.
type DirectiveOp int

const (
	DirFile = DirectiveOp(iota)
	DirSection
	DirGlobal
	DirLocal
	DirWeak
	DirType
	DirSize
	DirByte
	DirWord
	DirLong
	DirQuad
	DirRva
	DirAscii
	DirString8
	DirString16
	DirString32
	DirString64
	DirSleb128
	DirUleb128
	DirP2align
	DirP2alignw
	DirP2alignl
	DirSpace
	DirDsB
	DirDsW
	DirDsL
	DirDsD
	DirDsX
	DirComm
	DirIdent
	DirSet
	DirEquiv
	DirWeakref
	DirArch

	NumDirectiveOps
)

var directiveNames = [NumDirectiveOps]string{
	".file",
	".section",
	".globl",
	".local",
	".weak",
	".type",
	".size",
	".byte",
	".word",
	".long",
	".quad",
	".rva",
	".ascii",
	".string",
	".string16",
	".string32",
	".string64",
	".sleb128",
	".uleb128",
	".p2align",
	".p2alignw",
	".p2alignl",
	".space",
	".ds.b",
	".ds.w",
	".ds.l",
	".ds.d",
	".ds.x",
	".comm",
	".ident",
	".set", // identical to .equ
	".equiv",
	".weakref",
	".arch",
}

var directiveByName = func() map[string]DirectiveOp {
	byName := make(map[string]DirectiveOp, NumDirectiveOps)
	for op, name := range directiveNames {
		byName[name] = DirectiveOp(op)
	}
	byName[".equ"] = DirSet
	byName[".string8"] = DirString8
	return byName
}()

func (op DirectiveOp) String() string {
	if op < 0 || op >= NumDirectiveOps {
		panic(fmt.Sprintf("unknown directive op %d", int(op)))
	}
	return directiveNames[op]
}

// DirectiveOpFromName returns (op, true) for a recognized directive name.
func DirectiveOpFromName(name string) (DirectiveOp, bool) {
	op, ok := directiveByName[name]
	return op, ok
}

type OperandKind int

const (
	NoOperand = OperandKind(iota)
	StringOperand
	IntOperand
	SymbolOperand
	ExpressionOperand
	EmptyOperand
)

// Operand is one directive operand.  Exactly one payload field is
// meaningful, selected by Kind.
type Operand struct {
	Kind OperandKind

	Str  string
	Int  int64
	Sym  *Symbol
	Expr *Expression
}

func NewStringOperand(value string) *Operand {
	return &Operand{Kind: StringOperand, Str: value}
}

func NewIntOperand(value int64) *Operand {
	return &Operand{Kind: IntOperand, Int: value}
}

func NewSymbolOperand(symbol *Symbol) *Operand {
	return &Operand{Kind: SymbolOperand, Sym: symbol}
}

func NewExpressionOperand(expr *Expression) *Operand {
	return &Operand{Kind: ExpressionOperand, Expr: expr}
}

func NewEmptyOperand() *Operand {
	return &Operand{Kind: EmptyOperand}
}

// Directive is an assembler directive with an ordered operand list.
type Directive struct {
	entryBase

	op       DirectiveOp
	operands []*Operand
}

func NewDirective(
	pos parseutil.StartEndPos,
	op DirectiveOp,
	operands []*Operand,
	verbatim string,
) *Directive {
	return &Directive{
		entryBase: newEntryBase(pos, verbatim),
		op:        op,
		operands:  operands,
	}
}

func (dir *Directive) Op() DirectiveOp { return dir.op }

func (dir *Directive) NumOperands() int { return len(dir.operands) }

func (dir *Directive) Operand(idx int) *Operand {
	if idx < 0 || idx >= len(dir.operands) {
		panic(fmt.Sprintf(
			"operand index %d out of range for %s (line %d)",
			idx,
			dir.op,
			dir.LineNumber()))
	}
	return dir.operands[idx]
}

func (dir *Directive) DescriptiveChar() byte { return 'D' }

// Debug is an opaque key/value entry that survives transformation.
type Debug struct {
	entryBase

	key   string
	value string
}

func NewDebug(
	pos parseutil.StartEndPos,
	key string,
	value string,
	verbatim string,
) *Debug {
	return &Debug{
		entryBase: newEntryBase(pos, verbatim),
		key:       key,
		value:     value,
	}
}

func (debug *Debug) Key() string           { return debug.key }
func (debug *Debug) Value() string         { return debug.value }
func (debug *Debug) DescriptiveChar() byte { return 'G' }
