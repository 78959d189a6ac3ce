package relax

import (
	"fmt"

	"github.com/pattyshack/mao/ir"
)

// relaxAlign returns the pad needed to reach the next 2^alignment
// boundary from address.
func relaxAlign(address int64, alignment int64) int64 {
	mask := ^(int64(-1) << alignment)
	next := (address + mask) &^ mask
	return next - address
}

// symbolValue resolves a label anchored during fragment building to its
// current address.  Unresolved symbols report ok=false.
func (relaxer *Relaxer) symbolValue(symbol *ir.Symbol) (int64, bool) {
	if symbol == nil {
		return 0, true
	}
	anchored, ok := relaxer.anchors[symbol]
	if !ok {
		return 0, false
	}
	return anchored.frag.Address + anchored.off, true
}

// exprValue evaluates a relaxation-scope expression against the current
// fragment addresses.
func (relaxer *Relaxer) exprValue(expr *ir.Expression) (int64, bool) {
	switch expr.Op {
	case ir.OConstant:
		return expr.AddNumber, true
	case ir.OSymbol:
		value, ok := relaxer.symbolValue(expr.AddSymbol)
		return value + expr.AddNumber, ok
	case ir.OAdd:
		left, okLeft := relaxer.symbolValue(expr.AddSymbol)
		right, okRight := relaxer.symbolValue(expr.OpSymbol)
		return left + right + expr.AddNumber, okLeft && okRight
	case ir.OSubtract:
		left, okLeft := relaxer.symbolValue(expr.AddSymbol)
		right, okRight := relaxer.symbolValue(expr.OpSymbol)
		return left - right + expr.AddNumber, okLeft && okRight
	}
	panic(fmt.Sprintf(
		"cannot evaluate expression operator %d during relaxation",
		expr.Op))
}

func (relaxer *Relaxer) fragTarget(frag *Fragment) (int64, bool) {
	if frag.ExprSym != nil {
		return relaxer.exprValue(frag.ExprSym)
	}
	return relaxer.symbolValue(frag.Symbol)
}

// relaxSegment runs one relaxation sweep: it re-derives every fragment
// address from the current encoding states and grows any variable part
// whose target moved out of range.  Returns whether anything changed.
// States only move toward larger encodings, so repeated sweeps converge.
func (relaxer *Relaxer) relaxSegment(fragments *Fragment, pass int) bool {
	changed := false
	address := int64(0)

	for frag := fragments; frag != nil; frag = frag.Next {
		if frag.Address != address {
			if address < frag.Address {
				panic(fmt.Sprintf(
					"fragment address moved backward on pass %d",
					pass))
			}
			frag.Address = address
			changed = true
		}
		address += frag.Fix

		switch frag.Type {
		case RsFill:
			address += frag.Offset * frag.Var

		case RsAlign, RsAlignCode:
			pad := relaxAlign(address, frag.Offset)
			if frag.Subtype != 0 && pad > int64(frag.Subtype) {
				pad = 0
			}
			address += pad

		case RsOrg:
			panic("rs_org fragments are never built")

		case RsSpace:
			amount, ok := relaxer.fragTarget(frag)
			if !ok {
				panic(fmt.Sprintf(
					"space allocation too complex: unresolved symbol on pass %d",
					pass))
			}
			if amount > 0 {
				address += amount
			}

		case RsLeb128:
			if frag.Offset == 0 {
				// Initial guess is always 1; a larger guess can reach a
				// stable solution above the minimum.
				frag.Offset = 1
				changed = true
			}
			size := relaxer.leb128Size(frag)
			if int64(size) > frag.Offset {
				frag.Offset = int64(size)
				changed = true
			}
			address += frag.Offset

		case RsMachineDependent:
			subtype := relaxer.relaxBranch(frag)
			if subtype != frag.Subtype {
				frag.Subtype = subtype
				changed = true
			}
			address += mdRelaxTable[subtype].length

		default:
			panic(fmt.Sprintf("unknown relax state %d", frag.Type))
		}
	}

	return changed
}

func (relaxer *Relaxer) leb128Size(frag *Fragment) int {
	signed := frag.Subtype != 0

	if frag.ExprSym != nil && frag.ExprSym.Op == ir.OBig {
		return SizeOfBigLeb128(frag.ExprSym.BigNum, signed)
	}

	value, ok := relaxer.fragTarget(frag)
	if !ok {
		// Undefined symbols resolve to zero until defined; the final
		// value is a relocation concern.
		value = 0
	}
	return SizeOfLeb128(value, signed)
}

// relaxBranch picks the branch fragment's encoding state for the current
// addresses.  The displacement range is measured from the start of the
// variable part.
func (relaxer *Relaxer) relaxBranch(frag *Fragment) int {
	subtype := frag.Subtype

	target, resolved := relaxer.fragTarget(frag)
	if frag.ExprSym == nil {
		target += frag.Offset
	}

	if !resolved {
		// Target outside this section: use the largest encoding.
		for mdRelaxTable[subtype].more != 0 {
			subtype = mdRelaxTable[subtype].more
		}
		return subtype
	}

	aim := target - (frag.Address + frag.Fix)
	if aim < 0 {
		for mdRelaxTable[subtype].backward > aim &&
			mdRelaxTable[subtype].more != 0 {
			subtype = mdRelaxTable[subtype].more
		}
	} else {
		for mdRelaxTable[subtype].forward < aim &&
			mdRelaxTable[subtype].more != 0 {
			subtype = mdRelaxTable[subtype].more
		}
	}

	return subtype
}
