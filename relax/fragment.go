package relax

import (
	"github.com/pattyshack/mao/ir"
)

// RelaxState is the coarse fragment kind, matching the GNU-as fragment
// contract.
type RelaxState int

const (
	RsFill = RelaxState(iota)
	RsAlign
	RsAlignCode
	RsOrg
	RsMachineDependent
	RsLeb128
	RsSpace
)

// Relax subtype encoding for machine-dependent branch fragments:
// (branch type << 2) | size, optionally XORed with Code16.
const (
	UncondJump = 0
	CondJump   = 1
	CondJump86 = 2

	Code16  = 1
	Small   = 0
	Small16 = Small | Code16
	Big     = 2
	Big16   = Big | Code16
)

func EncodeRelaxState(branchType int, size int) int {
	return branchType<<2 | size
}

// Fragment is a fixed-size byte run (Fix) followed by an optional
// variable-size tail whose final size depends on symbol addresses.  The
// chain is singly linked and terminated by a tail fragment with no
// variable part.
type Fragment struct {
	Next *Fragment

	// Assigned and updated during relaxation.
	Address int64

	// Fixed part: bytes accumulated so far.
	Fix int64

	// Variable-part size marker (non-zero when the fragment ends with a
	// variable part).
	Var int64

	Type    RelaxState
	Subtype int

	// Branch/space/leb128 target.  ExprSym takes precedence when set;
	// otherwise Symbol anchors to a label in this section.
	Symbol  *ir.Symbol
	ExprSym *ir.Expression

	// Addend for branches; alignment power for align fragments; current
	// encoded-size guess for leb128 fragments.
	Offset int64

	// Short-form opcode bytes for machine-dependent fragments.
	OpcodeBytes []byte
}

// relax table entry for machine-dependent fragments: displacement range
// of the current encoding, its length, and the state to grow into.
type relaxType struct {
	forward  int64
	backward int64
	length   int64
	more     int
}

// mdRelaxTable is indexed by the relax subtype.  Lengths cover the
// variable part only: the base opcode byte sits in the fragment's fixed
// part, so growing to the dword form adds the opcode extension plus the
// wider displacement.
var mdRelaxTable = [...]relaxType{
	// UNCOND_JUMP
	{127 + 1, -128 + 1, 1, EncodeRelaxState(UncondJump, Big)},
	{127 + 1, -128 + 1, 1, EncodeRelaxState(UncondJump, Big16)},
	// dword jmp: 0 extra opcode bytes, 4 displacement bytes
	{0, 0, 4, 0},
	// word jmp: 0 extra opcode bytes, 2 displacement bytes
	{0, 0, 2, 0},

	// COND_JUMP
	{127 + 1, -128 + 1, 1, EncodeRelaxState(CondJump, Big)},
	{127 + 1, -128 + 1, 1, EncodeRelaxState(CondJump, Big16)},
	// dword conditional: 1 extra opcode byte, 4 displacement bytes
	{0, 0, 5, 0},
	// word conditional: 1 extra opcode byte, 2 displacement bytes
	{0, 0, 3, 0},

	// COND_JUMP86
	{127 + 1, -128 + 1, 1, EncodeRelaxState(CondJump86, Big)},
	{127 + 1, -128 + 1, 1, EncodeRelaxState(CondJump86, Big16)},
	// dword conditional: 1 extra opcode byte, 4 displacement bytes
	{0, 0, 5, 0},
	// word conditional: inverted byte conditional around a word jmp
	{0, 0, 4, 0},
}

func newFragment() *Fragment {
	return &Fragment{}
}

// fragVar closes frag as a variable fragment and, when newFrag is set,
// allocates and returns its successor.
func fragVar(
	state RelaxState,
	variable int64,
	subtype int,
	symbol *ir.Symbol,
	exprSym *ir.Expression,
	offset int64,
	opcodeBytes []byte,
	frag *Fragment,
	newFrag bool,
) *Fragment {
	frag.Var = variable
	frag.Type = state
	frag.Subtype = subtype
	frag.Symbol = symbol
	frag.ExprSym = exprSym
	frag.Offset = offset
	frag.OpcodeBytes = opcodeBytes

	if newFrag {
		frag.Next = newFragment()
	}
	return frag.Next
}
