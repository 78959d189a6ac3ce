package analyzer

import (
	"github.com/pattyshack/mao/ir"
	"github.com/pattyshack/mao/x86"
)

// Redundant memory-move detection.
//
// Within a basic block, find this pattern:
//
//	movq    24(%rsp), %rdx
//	... no def for that memory ('lookahead' instructions checked)
//	movq    24(%rsp), %rcx
//
// The pass is diagnostic: it reports candidate pairs without rewriting.

const DefaultLookahead = 6

func init() {
	Register(&Descriptor{
		Name: "REDMOV",
		Options: []OptionDef{
			IntOpt("lookahead", DefaultLookahead,
				"Look ahead limit for pattern matcher"),
		},
		Run: func(pass *Pass, unit *ir.Unit, cfg *CFG) {
			lookahead := pass.Options().GetInt("lookahead")
			for _, pair := range FindRedundantLoads(cfg, lookahead) {
				pass.Trace(1, "Found two insns with same mem op")
				if pass.TracingLevel() > 0 {
					for insn := pair.First; ; insn = insn.NextInsn() {
						pass.Trace(1, "  %s", insn.InstructionText())
						if insn == pair.Second {
							break
						}
					}
				}
			}
		},
	})
}

// RedundantLoad is a pair of loads from the same memory location with no
// intervening definition of that location or the loaded register.
type RedundantLoad struct {
	First  *ir.Insn
	Second *ir.Insn
}

func isMemToRegMove(insn *ir.Insn) bool {
	return insn.IsOpMov() &&
		insn.NumOperands() == 2 &&
		insn.IsMemOperand(0) &&
		insn.IsRegisterOperand(1)
}

// FindRedundantLoads scans every block of cfg linearly.
func FindRedundantLoads(cfg *CFG, lookahead int) []RedundantLoad {
	result := []RedundantLoad{}

	for _, block := range cfg.Blocks() {
		if block.IsSynthetic() {
			continue
		}

		for entry := block.FirstEntry(); entry != block.EntryLimit(); entry = entry.Next() {
			insn, ok := entry.(*ir.Insn)
			if !ok || !isMemToRegMove(insn) {
				continue
			}

			mask := x86.RegisterDefMask(insn)

			// Skip self-overwriting loads like movq (%rax), %rax.
			baseIndexMask := x86.MaskForRegister(insn.BaseRegister()) |
				x86.MaskForRegister(insn.IndexRegister())
			if mask&baseIndexMask != 0 {
				continue
			}
			mask |= baseIndexMask

			limit := block.EntryLimit()
			checked := 0
			for scan := insn.Next(); checked < lookahead && scan != limit; scan = scan.Next() {
				next, ok := scan.(*ir.Insn)
				if !ok {
					continue
				}

				if next.IsControlTransfer() ||
					next.IsCall() ||
					next.IsReturn() {
					break
				}

				defs := x86.RegisterDefMask(next)
				if defs == 0 || defs == x86.RegAll {
					// Defines something other than registers.
					break
				}

				if isMemToRegMove(next) &&
					insn.CompareMemOperand(0, next, 0) {
					result = append(result, RedundantLoad{
						First:  insn,
						Second: next,
					})
				}

				if defs&mask != 0 {
					// The loaded value or its address gets redefined.
					break
				}

				checked++
			}
		}
	}

	return result
}
