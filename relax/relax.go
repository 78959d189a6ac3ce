package relax

import (
	"fmt"

	"github.com/pattyshack/mao/ir"
)

// SizeOracle sizes and encodes instructions.  The relaxer never inspects
// opcode tables itself.
type SizeOracle interface {
	// SizeOfInstruction returns the fixed byte count and whether the
	// instruction ends a fragment with a machine-dependent variable part.
	SizeOfInstruction(*ir.Insn) (int, bool)

	// OpcodeBytes returns the short-form opcode bytes carried by the
	// fragment of a variable instruction.
	OpcodeBytes(*ir.Insn) []byte
}

// SizeMap records each entry's final encoded byte count.
type SizeMap map[ir.EntryId]int

type Config struct {
	// 16-bit code mode.
	Code16 bool

	// Conditional branches have no dword form (pre-386 CPU).
	Pre386 bool
}

// anchor pins a symbol to a position inside a fragment chain.
type anchor struct {
	frag *Fragment
	off  int64
}

// Relaxer converts one section's entries into a fragment chain, relaxes
// it to a fixed point, and back-annotates final per-entry sizes.
// Relaxation-scope symbol anchors are owned by the run and dropped when
// it finishes.
type Relaxer struct {
	unit   *ir.Unit
	sizer  SizeOracle
	config Config

	anchors  map[*ir.Symbol]anchor
	relaxMap map[*Fragment]ir.Entry
}

func NewRelaxer(unit *ir.Unit, sizer SizeOracle, config Config) *Relaxer {
	return &Relaxer{
		unit:   unit,
		sizer:  sizer,
		config: config,
	}
}

// Relax computes the final encoded size of every entry in section into
// sizeMap and returns the section's total byte length.
func Relax(
	unit *ir.Unit,
	section *ir.Section,
	sizer SizeOracle,
	sizeMap SizeMap,
) int64 {
	return NewRelaxer(unit, sizer, Config{}).Relax(section, sizeMap)
}

func (relaxer *Relaxer) Relax(
	section *ir.Section,
	sizeMap SizeMap,
) int64 {
	relaxer.anchors = map[*ir.Symbol]anchor{}
	relaxer.relaxMap = map[*Fragment]ir.Entry{}

	fragments := relaxer.buildFragments(section, sizeMap)

	// Run relaxation to a fixed point.  Sizes only grow, so the loop
	// terminates; the pass cap catches chain corruption.
	maxPasses := 0
	for frag := fragments; frag != nil; frag = frag.Next {
		maxPasses++
	}
	maxPasses = 2*maxPasses + 10

	pass := 0
	for changed := true; changed; pass++ {
		if pass > maxPasses {
			panic(fmt.Sprintf(
				"relaxation of %s did not converge after %d passes",
				section.Name(),
				pass))
		}
		changed = relaxer.relaxSegment(fragments, pass)
	}

	// Back-annotate variable sizes.
	var total int64
	for frag := fragments; frag != nil; frag = frag.Next {
		if frag.Next == nil {
			total = frag.Address + frag.Fix
		}

		entry, ok := relaxer.relaxMap[frag]
		if !ok {
			continue
		}
		// Next is non-nil: only closed fragments enter the relax map.
		varSize := frag.Next.Address - frag.Address - frag.Fix
		sizeMap[entry.Id()] += int(varSize)
	}

	// Release the chain and the run-scoped symbol anchors.
	for frag := fragments; frag != nil; {
		next := frag.Next
		frag.Next = nil
		frag.Symbol = nil
		frag.ExprSym = nil
		frag = next
	}
	relaxer.anchors = nil
	relaxer.relaxMap = nil

	return total
}

func (relaxer *Relaxer) buildFragments(
	section *ir.Section,
	sizeMap SizeMap,
) *Fragment {
	fragments := newFragment()
	frag := fragments

	for entry := section.EntryBegin(); entry != nil; entry = entry.Next() {
		switch typed := entry.(type) {
		case *ir.Label:
			symbol := relaxer.unit.SymbolTable().Find(typed.Name())
			if symbol == nil {
				panic(fmt.Sprintf(
					"label %s missing from symbol table (line %d)",
					typed.Name(),
					typed.LineNumber()))
			}
			relaxer.anchors[symbol] = anchor{frag: frag, off: frag.Fix}

		case *ir.Debug:
			// Nothing to do.

		case *ir.Insn:
			size, variable := relaxer.sizer.SizeOfInstruction(typed)
			frag.Fix += int64(size)
			sizeMap[entry.Id()] = size

			if variable {
				relaxer.relaxMap[frag] = entry
				frag = relaxer.endFragmentInstruction(typed, frag)
			}

		case *ir.Directive:
			frag = relaxer.buildDirective(typed, frag, sizeMap)

		default:
			panic(fmt.Sprintf("entry type not recognized: %T", entry))
		}
	}

	// Zero-alignment terminator.
	endFragmentAlign(0, 0, frag, false)

	return fragments
}

func (relaxer *Relaxer) buildDirective(
	dir *ir.Directive,
	frag *Fragment,
	sizeMap SizeMap,
) *Fragment {
	switch dir.Op() {
	case ir.DirP2align, ir.DirP2alignw, ir.DirP2alignl:
		if dir.NumOperands() != 3 {
			panic(fmt.Sprintf(
				"%s expects 3 operands (line %d)",
				dir.Op(),
				dir.LineNumber()))
		}
		alignment := dir.Operand(0)
		max := dir.Operand(2)
		if alignment.Kind != ir.IntOperand || max.Kind != ir.IntOperand {
			panic(fmt.Sprintf(
				"%s operands must be integers (line %d)",
				dir.Op(),
				dir.LineNumber()))
		}

		sizeMap[dir.Id()] = 0
		relaxer.relaxMap[frag] = dir
		return endFragmentAlign(alignment.Int, max.Int, frag, true)

	case ir.DirSleb128, ir.DirUleb128:
		return relaxer.buildLeb128(dir, frag, sizeMap)

	case ir.DirByte:
		frag.Fix++
		sizeMap[dir.Id()] = 1
	case ir.DirWord:
		frag.Fix += 2
		sizeMap[dir.Id()] = 2
	case ir.DirRva, ir.DirLong:
		frag.Fix += 4
		sizeMap[dir.Id()] = 4
	case ir.DirQuad:
		frag.Fix += 8
		sizeMap[dir.Id()] = 8

	case ir.DirAscii:
		handleString(dir, 1, false, frag, sizeMap)
	case ir.DirString8:
		handleString(dir, 1, true, frag, sizeMap)
	case ir.DirString16:
		handleString(dir, 2, true, frag, sizeMap)
	case ir.DirString32:
		handleString(dir, 4, true, frag, sizeMap)
	case ir.DirString64:
		handleString(dir, 8, true, frag, sizeMap)

	case ir.DirSpace:
		return relaxer.handleSpace(dir, 0, frag, sizeMap)
	case ir.DirDsB:
		return relaxer.handleSpace(dir, 1, frag, sizeMap)
	case ir.DirDsW:
		return relaxer.handleSpace(dir, 2, frag, sizeMap)
	case ir.DirDsL:
		return relaxer.handleSpace(dir, 4, frag, sizeMap)
	case ir.DirDsD:
		return relaxer.handleSpace(dir, 8, frag, sizeMap)
	case ir.DirDsX:
		return relaxer.handleSpace(dir, 12, frag, sizeMap)

	case ir.DirComm,
		ir.DirIdent,
		ir.DirFile,
		ir.DirSection,
		ir.DirGlobal,
		ir.DirLocal,
		ir.DirWeak,
		ir.DirType,
		ir.DirSize,
		ir.DirSet,
		ir.DirEquiv,
		ir.DirWeakref,
		ir.DirArch:
		sizeMap[dir.Id()] = 0

	default:
		panic(fmt.Sprintf(
			"cannot size directive %s (line %d)",
			dir.Op(),
			dir.LineNumber()))
	}

	return frag
}

func (relaxer *Relaxer) buildLeb128(
	dir *ir.Directive,
	frag *Fragment,
	sizeMap SizeMap,
) *Fragment {
	signed := dir.Op() == ir.DirSleb128

	if dir.NumOperands() != 1 {
		panic(fmt.Sprintf(
			"%s expects 1 operand (line %d)",
			dir.Op(),
			dir.LineNumber()))
	}
	operand := dir.Operand(0)
	if operand.Kind != ir.ExpressionOperand {
		panic(fmt.Sprintf(
			"%s operand must be an expression (line %d)",
			dir.Op(),
			dir.LineNumber()))
	}
	expr := operand.Expr

	if expr.Op == ir.OConstant && signed &&
		(expr.AddNumber < 0) != !expr.Unsigned {
		// The sign of the stored constant does not reflect the sign of
		// the original value; widen to a bignum so the encoder sees the
		// correct magnitude.
		expr.ConvertToBignum()
	}

	switch expr.Op {
	case ir.OConstant:
		size := SizeOfLeb128(expr.AddNumber, signed)
		frag.Fix += int64(size)
		sizeMap[dir.Id()] = size
	case ir.OBig:
		size := SizeOfBigLeb128(expr.BigNum, signed)
		frag.Fix += int64(size)
		sizeMap[dir.Id()] = size
	default:
		sizeMap[dir.Id()] = 0
		relaxer.relaxMap[frag] = dir
		subtype := 0
		if signed {
			subtype = 1
		}
		return fragVar(RsLeb128, 1, subtype, nil, expr, 0, nil, frag, true)
	}

	return frag
}

func (relaxer *Relaxer) handleSpace(
	dir *ir.Directive,
	mult int64,
	frag *Fragment,
	sizeMap SizeMap,
) *Fragment {
	if dir.NumOperands() < 1 {
		panic(fmt.Sprintf(
			"%s expects a size operand (line %d)",
			dir.Op(),
			dir.LineNumber()))
	}
	operand := dir.Operand(0)
	if operand.Kind != ir.ExpressionOperand {
		panic(fmt.Sprintf(
			"%s size operand must be an expression (line %d)",
			dir.Op(),
			dir.LineNumber()))
	}
	expr := operand.Expr

	if expr.Op == ir.OConstant {
		factor := mult
		if factor == 0 {
			factor = 1
		}
		increment := expr.AddNumber * factor
		if increment <= 0 {
			panic(fmt.Sprintf(
				"%s with non-positive size %d (line %d)",
				dir.Op(),
				increment,
				dir.LineNumber()))
		}
		frag.Fix += increment
		sizeMap[dir.Id()] = int(increment)
		return frag
	}

	if mult > 1 {
		panic(fmt.Sprintf(
			"%s with non-constant size (line %d)",
			dir.Op(),
			dir.LineNumber()))
	}
	sizeMap[dir.Id()] = 0
	relaxer.relaxMap[frag] = dir
	return fragVar(RsSpace, 1, 0, nil, expr, 0, nil, frag, true)
}

func handleString(
	dir *ir.Directive,
	multiplier int,
	nullTerminate bool,
	frag *Fragment,
	sizeMap SizeMap,
) {
	size := stringSize(dir, multiplier, nullTerminate)
	sizeMap[dir.Id()] = size
	frag.Fix += int64(size)
}

// stringSize assumes the operand kept its surrounding quotes: subtract 2
// for them, add the terminator when requested, multiply by the character
// width.
func stringSize(
	dir *ir.Directive,
	multiplier int,
	nullTerminate bool,
) int {
	if dir.NumOperands() != 1 {
		panic(fmt.Sprintf(
			"%s expects 1 operand (line %d)",
			dir.Op(),
			dir.LineNumber()))
	}
	operand := dir.Operand(0)
	if operand.Kind != ir.StringOperand {
		panic(fmt.Sprintf(
			"%s operand must be a string (line %d)",
			dir.Op(),
			dir.LineNumber()))
	}

	terminator := 0
	if nullTerminate {
		terminator = 1
	}
	return multiplier * (len(operand.Str) - 2 + terminator)
}

func (relaxer *Relaxer) endFragmentInstruction(
	insn *ir.Insn,
	frag *Fragment,
) *Fragment {
	code16 := 0
	if relaxer.config.Code16 {
		code16 = Code16
	}
	if insn.Prefix(ir.DataPrefix) != 0 {
		code16 ^= Code16
	}

	var branchType int
	switch {
	case insn.IsUncondJump():
		branchType = UncondJump
	case !relaxer.config.Pre386:
		branchType = CondJump
	default:
		branchType = CondJump86
	}
	subtype := EncodeRelaxState(branchType, Small) | code16

	// Resolve the displacement operand.
	var disp *ir.Expression
	var reloc ir.RelocKind
	for idx := 0; idx < insn.NumOperands(); idx++ {
		operand := insn.Operand(idx)
		if operand.Type&ir.AnyDisp != 0 && operand.Disp != nil {
			disp = operand.Disp
			reloc = operand.Reloc
			break
		}
	}
	if disp == nil {
		panic(fmt.Sprintf(
			"branch %s has no displacement operand (line %d)",
			insn.Op(),
			insn.LineNumber()))
	}
	_ = reloc

	symbol := disp.AddSymbol
	offset := disp.AddNumber
	var exprSym *ir.Expression
	if disp.Op != ir.OConstant && disp.Op != ir.OSymbol {
		// Complex expression: anchor it whole.
		exprSym = disp
		symbol = nil
		offset = 0
	}

	return fragVar(
		RsMachineDependent,
		1,
		subtype,
		symbol,
		exprSym,
		offset,
		relaxer.sizer.OpcodeBytes(insn),
		frag,
		true)
}

// endFragmentAlign closes frag as an alignment fragment.  Text and data
// share the same relax state; padding byte selection is an encoding
// concern.
func endFragmentAlign(
	alignment int64,
	maxSkip int64,
	frag *Fragment,
	newFrag bool,
) *Fragment {
	return fragVar(
		RsAlignCode,
		1,
		int(maxSkip),
		nil,
		nil,
		alignment,
		nil,
		frag,
		newFrag)
}
