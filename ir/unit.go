package ir

import (
	"fmt"
)

// DefaultSectionName is the section opened when the front end asks for a
// default placement before any .section directive.
const DefaultSectionName = ".text"

// StartSectionName collects entries seen before any section exists when
// no default placement is requested.
const StartSectionName = "mao_start_section"

// Unit is the top-level container of a translation unit: the append-only
// entry vector, sections, subsections, labels, discovered functions, and
// the symbol table.
type Unit struct {
	entries []Entry

	sections     map[string]*Section
	sectionOrder []*Section

	subSections []*SubSection

	labels map[string]*Label

	functions []*Function

	symbolTable *SymbolTable

	currentSubSection *SubSection

	nextSyntheticLabel int
}

func NewUnit() *Unit {
	return &Unit{
		sections:    map[string]*Section{},
		labels:      map[string]*Label{},
		symbolTable: NewSymbolTable(),
	}
}

func (unit *Unit) NumEntries() int { return len(unit.entries) }

func (unit *Unit) Entry(id EntryId) Entry {
	if id < 0 || int(id) >= len(unit.entries) {
		panic(fmt.Sprintf("entry id %d out of range", id))
	}
	return unit.entries[id]
}

func (unit *Unit) Entries() []Entry { return unit.entries }

func (unit *Unit) SymbolTable() *SymbolTable { return unit.symbolTable }

func (unit *Unit) SubSections() []*SubSection { return unit.subSections }

func (unit *Unit) Sections() []*Section { return unit.sectionOrder }

func (unit *Unit) GetSection(name string) *Section {
	return unit.sections[name]
}

func (unit *Unit) Functions() []*Function { return unit.functions }

func (unit *Unit) CurrentSubSection() *SubSection {
	return unit.currentSubSection
}

// GetLabelEntry returns the label entry declaring name.  Missing labels
// are a structural invariant violation.
func (unit *Unit) GetLabelEntry(name string) *Label {
	label, ok := unit.labels[name]
	if !ok {
		panic(fmt.Sprintf("no label entry for %s", name))
	}
	return label
}

// FindOrCreateSection returns (created, section).
func (unit *Unit) FindOrCreateSection(name string) (bool, *Section) {
	section, ok := unit.sections[name]
	if ok {
		return false, section
	}
	section = NewSection(name, SectionId(len(unit.sections)))
	unit.sections[name] = section
	unit.sectionOrder = append(unit.sectionOrder, section)
	return true, section
}

// SetSubSection opens a fresh subsection of (sectionName, number) whose
// first entry is entry, and makes it current.  When the section already
// holds subsections, the new first entry is spliced to the previous last
// entry of that section so per-section iteration follows textual order.
// Returns whether the section was created.
func (unit *Unit) SetSubSection(
	sectionName string,
	number uint,
	entry Entry,
) bool {
	created, section := unit.FindOrCreateSection(sectionName)

	subSection := &SubSection{
		id:      SubSectionId(len(unit.subSections)),
		number:  number,
		name:    sectionName,
		section: section,
	}

	previous := section.lastSubSection()

	unit.subSections = append(unit.subSections, subSection)
	section.addSubSection(subSection)
	unit.currentSubSection = subSection

	subSection.setFirstEntry(entry)
	subSection.lastEntry = entry

	if previous != nil {
		last := previous.lastEntry
		last.setNext(entry)
		entry.setPrev(last)
	}

	return created
}

// AddEntry assigns the next id, opens a subsection when none is current,
// dispatches on the entry kind, and links the entry into the chain.
func (unit *Unit) AddEntry(entry Entry, createDefaultSection bool) {
	entry.setId(EntryId(len(unit.entries)))

	// A .section directive opens its own subsection during dispatch; the
	// implicit start section would otherwise share its first entry.
	sectionSwitch := false
	if dir, ok := entry.(*Directive); ok && dir.Op() == DirSection {
		sectionSwitch = true
	}

	if unit.currentSubSection == nil && !createDefaultSection &&
		!sectionSwitch {
		unit.SetSubSection(StartSectionName, 0, entry)
		unit.currentSubSection.startSection = true
	}
	if createDefaultSection &&
		(unit.currentSubSection == nil ||
			unit.currentSubSection.startSection) {
		unit.SetSubSection(DefaultSectionName, 0, entry)
	}

	switch typed := entry.(type) {
	case *Label:
		_, exists := unit.labels[typed.Name()]
		if exists {
			panic(fmt.Sprintf(
				"duplicate label %s (line %d)",
				typed.Name(),
				typed.LineNumber()))
		}
		unit.labels[typed.Name()] = typed
		unit.symbolTable.FindOrCreate(
			typed.Name(),
			unit.currentSubSection.section)
	case *Directive:
		if typed.Op() == DirSection {
			if typed.NumOperands() < 1 {
				panic(fmt.Sprintf(
					".section without operands (line %d)",
					typed.LineNumber()))
			}
			name := typed.Operand(0)
			if name.Kind != StringOperand {
				panic(fmt.Sprintf(
					".section operand is not a name (line %d)",
					typed.LineNumber()))
			}
			unit.SetSubSection(name.Str, 0, entry)
		}
	case *Insn, *Debug:
		// Nothing beyond linking.
	default:
		panic(fmt.Sprintf("entry type not recognized: %T", entry))
	}

	unit.entries = append(unit.entries, entry)
	unit.currentSubSection.setLastEntry(entry)
}

// AddCommSymbol registers a common symbol.  Common symbols allow several
// definitions; sizes and alignments merge by max.
func (unit *Unit) AddCommSymbol(
	name string,
	commonSize int64,
	commonAlign int64,
) {
	var section *Section
	if unit.currentSubSection != nil {
		section = unit.currentSubSection.section
	}

	symbol := unit.symbolTable.FindOrCreate(name, section)
	if symbol.Type() == NotypeSymbol {
		symbol.SetType(ObjectSymbol)
	}

	symbol.SetCommon(true)
	if symbol.CommonSize() < commonSize {
		symbol.SetCommonSize(commonSize)
		if symbol.Size() < commonSize {
			symbol.SetSize(commonSize)
		}
	}
	if symbol.CommonAlign() < commonAlign {
		symbol.SetCommonAlign(commonAlign)
	}
}

// FindOrCreateSymbol interns a referenced name in the symbol table.  A
// reference records no section; the defining label supplies it.
func (unit *Unit) FindOrCreateSymbol(name string) *Symbol {
	return unit.symbolTable.FindOrCreate(name, nil)
}

// SyntheticLabelName generates a fresh .mao_label_N name.
func (unit *Unit) SyntheticLabelName() string {
	name := fmt.Sprintf(".mao_label_%d", unit.nextSyntheticLabel)
	unit.nextSyntheticLabel++
	return name
}

// FindFunctions scans function-flagged symbols and delimits each
// function's entry range: from the defining label forward until the next
// function label or the end of the section chain.
func (unit *Unit) FindFunctions() {
	for _, symbol := range unit.symbolTable.Symbols() {
		if !symbol.IsFunction() {
			continue
		}

		label := unit.GetLabelEntry(symbol.Name())

		tail := Entry(label)
		for tail.Next() != nil {
			next, ok := tail.Next().(*Label)
			if ok {
				nextSymbol := unit.symbolTable.Find(next.Name())
				if nextSymbol == nil {
					panic(fmt.Sprintf(
						"label %s missing from symbol table",
						next.Name()))
				}
				if nextSymbol.IsFunction() {
					break
				}
			}
			tail = tail.Next()
		}

		unit.functions = append(unit.functions, &Function{
			name:       symbol.Name(),
			id:         FunctionId(len(unit.functions)),
			firstEntry: label,
			lastEntry:  tail,
		})
	}
}
