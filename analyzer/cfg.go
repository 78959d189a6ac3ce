package analyzer

import (
	"github.com/pattyshack/mao/ir"
)

type EdgeKind int

const (
	FallThroughEdge = EdgeKind(iota)
	TakenEdge
	NotTakenEdge
	CallEdge
	ReturnEdge
)

func (kind EdgeKind) String() string {
	switch kind {
	case FallThroughEdge:
		return "fall_through"
	case TakenEdge:
		return "taken"
	case NotTakenEdge:
		return "not_taken"
	case CallEdge:
		return "call"
	case ReturnEdge:
		return "return"
	}
	return "<invalid>"
}

type Edge struct {
	Kind EdgeKind
	Src  *BasicBlock
	Dest *BasicBlock
}

// BasicBlock is a run of entries with a single entry point and a single
// exit point.  First/Last delimit a closed interval of the entry chain;
// both are nil for the synthetic root and exit.
type BasicBlock struct {
	id int

	first ir.Entry
	last  ir.Entry

	synthetic bool

	inEdges  []*Edge
	outEdges []*Edge
}

func (bb *BasicBlock) Id() int              { return bb.id }
func (bb *BasicBlock) FirstEntry() ir.Entry { return bb.first }
func (bb *BasicBlock) LastEntry() ir.Entry  { return bb.last }
func (bb *BasicBlock) IsSynthetic() bool    { return bb.synthetic }
func (bb *BasicBlock) InEdges() []*Edge     { return bb.inEdges }
func (bb *BasicBlock) OutEdges() []*Edge    { return bb.outEdges }

// EntryLimit returns the entry just past the block, nil at chain end.
func (bb *BasicBlock) EntryLimit() ir.Entry {
	if bb.last == nil {
		return nil
	}
	return bb.last.Next()
}

func (bb *BasicBlock) NumEntries() int {
	count := 0
	for entry := bb.first; entry != bb.EntryLimit(); entry = entry.Next() {
		count++
	}
	return count
}

// lastInsn returns the block's final instruction entry, nil when the
// block holds no instruction.
func (bb *BasicBlock) lastInsn() *ir.Insn {
	var result *ir.Insn
	if bb.first == nil {
		return nil
	}
	for entry := bb.first; entry != bb.EntryLimit(); entry = entry.Next() {
		insn, ok := entry.(*ir.Insn)
		if ok {
			result = insn
		}
	}
	return result
}

// CFG is a directed multigraph of basic blocks with a distinguished
// synthetic root and exit.  Iteration order is block-id ascending.
type CFG struct {
	blocks []*BasicBlock

	root *BasicBlock
	exit *BasicBlock
}

// Begin returns the synthetic root.
func (cfg *CFG) Begin() *BasicBlock { return cfg.root }

func (cfg *CFG) Exit() *BasicBlock { return cfg.exit }

// Blocks returns all blocks in id order, synthetic nodes included.
func (cfg *CFG) Blocks() []*BasicBlock { return cfg.blocks }

func (cfg *CFG) addEdge(kind EdgeKind, src *BasicBlock, dest *BasicBlock) {
	edge := &Edge{Kind: kind, Src: src, Dest: dest}
	src.outEdges = append(src.outEdges, edge)
	dest.inEdges = append(dest.inEdges, edge)
}

type cfgBuilder struct {
	unit *ir.Unit
	fn   *ir.Function

	cfg *CFG

	// label name -> containing block
	labelled map[string]*BasicBlock
}

// BuildCFG constructs the control flow graph of one function's entry
// range.  Leaders are the function's first entry, every branch/call
// target label, and every entry following a control transfer.
func BuildCFG(unit *ir.Unit, fn *ir.Function) *CFG {
	builder := &cfgBuilder{
		unit:     unit,
		fn:       fn,
		cfg:      &CFG{},
		labelled: map[string]*BasicBlock{},
	}
	builder.build()
	return builder.cfg
}

func (builder *cfgBuilder) build() {
	cfg := builder.cfg

	cfg.root = &BasicBlock{id: 0, synthetic: true}
	cfg.blocks = append(cfg.blocks, cfg.root)

	builder.splitBlocks()
	builder.connectBlocks()
}

// branchTargets collects the label names targeted by branches and calls
// within the function.
func (builder *cfgBuilder) branchTargets() map[string]struct{} {
	targets := map[string]struct{}{}
	for entry := builder.fn.FirstEntry(); entry != builder.fn.EntryLimit(); entry = entry.Next() {
		insn, ok := entry.(*ir.Insn)
		if !ok {
			continue
		}
		if !insn.HasTarget() && !insn.IsCall() {
			continue
		}
		target := insn.GetTarget()
		if target != ir.UnknownTarget {
			targets[target] = struct{}{}
		}
	}
	return targets
}

func (builder *cfgBuilder) splitBlocks() {
	targets := builder.branchTargets()

	var current *BasicBlock
	afterTransfer := false

	startBlock := func(entry ir.Entry) {
		current = &BasicBlock{
			id:    len(builder.cfg.blocks),
			first: entry,
			last:  entry,
		}
		builder.cfg.blocks = append(builder.cfg.blocks, current)
	}

	for entry := builder.fn.FirstEntry(); entry != builder.fn.EntryLimit(); entry = entry.Next() {
		isLeader := current == nil || afterTransfer
		if label, ok := entry.(*ir.Label); ok {
			if _, targeted := targets[label.Name()]; targeted {
				isLeader = true
			}
		}

		if isLeader {
			startBlock(entry)
			afterTransfer = false
		} else {
			current.last = entry
		}

		if label, ok := entry.(*ir.Label); ok {
			builder.labelled[label.Name()] = current
		}

		if insn, ok := entry.(*ir.Insn); ok && insn.IsControlTransfer() {
			afterTransfer = true
		}
	}

	exit := &BasicBlock{id: len(builder.cfg.blocks), synthetic: true}
	builder.cfg.blocks = append(builder.cfg.blocks, exit)
	builder.cfg.exit = exit
}

func (builder *cfgBuilder) connectBlocks() {
	cfg := builder.cfg

	// Real blocks sit between the root and the exit.
	real := cfg.blocks[1 : len(cfg.blocks)-1]

	if len(real) > 0 {
		cfg.addEdge(FallThroughEdge, cfg.root, real[0])
	}

	for idx, block := range real {
		var next *BasicBlock
		if idx+1 < len(real) {
			next = real[idx+1]
		}

		last := block.lastInsn()
		if last == nil || !last.IsControlTransfer() {
			if next != nil {
				cfg.addEdge(FallThroughEdge, block, next)
			}
			continue
		}

		switch {
		case last.IsReturn():
			cfg.addEdge(ReturnEdge, block, cfg.exit)

		case last.IsCall():
			target, ok := builder.labelled[last.GetTarget()]
			if ok {
				cfg.addEdge(CallEdge, block, target)
			}
			if next != nil {
				// The callee may return.
				cfg.addEdge(FallThroughEdge, block, next)
			}

		case last.IsUncondJump():
			target, ok := builder.labelled[last.GetTarget()]
			if ok {
				cfg.addEdge(TakenEdge, block, target)
			}

		case last.IsCondJump():
			target, ok := builder.labelled[last.GetTarget()]
			if ok {
				cfg.addEdge(TakenEdge, block, target)
			}
			if next != nil {
				cfg.addEdge(NotTakenEdge, block, next)
			}
		}
	}
}
