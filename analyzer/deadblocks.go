package analyzer

import (
	"github.com/pattyshack/mao/ir"
)

// Dead block discovery.
//
// From the root node, follow out edges to mark every reachable block.
// Every real block left unmarked is dead code.  The pass is diagnostic:
// it reports and never mutates the IR.

func init() {
	Register(&Descriptor{
		Name: "DCE",
		Run: func(pass *Pass, unit *ir.Unit, cfg *CFG) {
			reportDeadBlocks(pass, cfg)
		},
	})
}

// DeadBlocks returns the real blocks unreachable from the root, in id
// order.
func DeadBlocks(cfg *CFG) []*BasicBlock {
	reached := map[*BasicBlock]struct{}{}

	stack := []*BasicBlock{cfg.Begin()}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		_, ok := reached[top]
		if ok {
			continue
		}
		reached[top] = struct{}{}

		for _, edge := range top.OutEdges() {
			stack = append(stack, edge.Dest)
		}
	}

	dead := []*BasicBlock{}
	for _, block := range cfg.Blocks() {
		if block.IsSynthetic() {
			continue
		}
		_, ok := reached[block]
		if !ok {
			dead = append(dead, block)
		}
	}
	return dead
}

func reportDeadBlocks(pass *Pass, cfg *CFG) {
	for _, block := range DeadBlocks(cfg) {
		num := block.NumEntries()
		switch {
		case num == 0:
			pass.Trace(1, "Found dead, empty basic block")
		case num == 1:
			if _, ok := block.FirstEntry().(*ir.Label); ok {
				pass.Trace(1, "Found dead, single label basic block")
			} else {
				pass.Trace(1, "Found dead, single insn basic block")
			}
		default:
			pass.Trace(
				1,
				"Found dead basic block: BB#%d, %d entries",
				block.Id(),
				num)
		}
	}
}
