package parser

import (
	"github.com/pattyshack/mao/ir"
	"github.com/pattyshack/mao/x86"
)

var lockRepPrefixes = map[string]byte{
	"lock":  ir.LockPrefixOpcode,
	"rep":   ir.RepePrefixOpcode,
	"repe":  ir.RepePrefixOpcode,
	"repz":  ir.RepePrefixOpcode,
	"repne": ir.RepnePrefixOpcode,
	"repnz": ir.RepnePrefixOpcode,
}

// memOperand is the parsed shape of disp(base,index,scale).
type memOperand struct {
	disp      *ir.Expression
	reloc     ir.RelocKind
	base      *ir.Register
	index     *ir.Register
	log2Scale uint8
	seg       *ir.SegmentOverride
}

func (parser *Parser) parseInstruction(tokens []*TokenValue) {
	pos := parser.statementRange(tokens)
	verbatim := statementText(tokens)

	idx := 0
	var lockRep byte
	for idx < len(tokens) && tokens[idx].Id() == IdentifierToken {
		prefix, ok := lockRepPrefixes[tokens[idx].Value]
		if !ok {
			break
		}
		lockRep = prefix
		idx++
	}

	if idx >= len(tokens) || tokens[idx].Id() != IdentifierToken {
		parser.emitter.Emit(tokens[0].StartPos, "missing mnemonic")
		return
	}

	mnemonic := tokens[idx]
	op, suffix := x86.StripSuffix(mnemonic.Value)
	if op == ir.OpInvalid {
		parser.emitter.Emit(
			mnemonic.StartPos,
			"unknown mnemonic %s",
			mnemonic.Value)
		return
	}
	idx++

	groups := splitGroups(tokens[idx:])

	operands := []*ir.InsnOperand{}
	var mem *memOperand
	for _, group := range groups {
		operand, groupMem := parser.parseInsnOperand(group, mnemonic)
		if operand == nil {
			return
		}
		operands = append(operands, operand)
		if groupMem != nil {
			mem = groupMem
		}
	}

	insn := ir.NewInsn(pos, op, suffix, operands, verbatim)

	if lockRep != 0 {
		insn.SetPrefix(ir.LockRepPrefix, lockRep)
	}
	if suffix == 'w' {
		insn.SetPrefix(ir.DataPrefix, ir.DataPrefixOpcode)
	}
	if mem != nil {
		insn.SetBaseIndex(mem.base, mem.index, mem.log2Scale)
		if mem.seg != nil {
			insn.SetSegment(0, mem.seg)
			insn.SetPrefix(ir.SegPrefix, mem.seg.Prefix)
		}
	}

	parser.unit.AddEntry(insn, true)
}

func (parser *Parser) parseInsnOperand(
	group []*TokenValue,
	mnemonic *TokenValue,
) (*ir.InsnOperand, *memOperand) {
	if len(group) == 0 {
		parser.emitter.Emit(mnemonic.StartPos, "empty instruction operand")
		return nil, nil
	}

	switch group[0].Id() {
	case DollarToken:
		expr, reloc := parser.parseExpr(group[1:])
		opType := ir.Imm32S
		if expr.Op == ir.OConstant &&
			expr.AddNumber >= -128 && expr.AddNumber <= 127 {
			opType |= ir.Imm8S
		}
		return &ir.InsnOperand{
			Type:  opType,
			Reloc: reloc,
			Imm:   expr,
		}, nil

	case StarToken:
		operand, mem := parser.parseInsnOperand(group[1:], mnemonic)
		if operand != nil {
			operand.Type |= ir.JumpAbsolute
		}
		return operand, mem

	case PercentToken:
		if len(group) < 2 || group[1].Id() != IdentifierToken {
			parser.emitter.Emit(group[0].StartPos, "malformed register operand")
			return nil, nil
		}
		name := group[1].Value

		// %seg:disp(base,index,scale)
		if len(group) > 2 && group[2].Id() == ColonToken {
			seg := x86.LookupSegmentOverride(name)
			if seg == nil {
				parser.emitter.Emit(
					group[1].StartPos,
					"unknown segment register %%%s",
					name)
				return nil, nil
			}
			operand, mem := parser.parseMemOperand(group[3:], mnemonic)
			if mem != nil {
				mem.seg = seg
			}
			return operand, mem
		}

		reg := x86.LookupRegister(name)
		if reg == nil {
			parser.emitter.Emit(
				group[1].StartPos,
				"unknown register %%%s",
				name)
			return nil, nil
		}
		return &ir.InsnOperand{
			Type: reg.Type,
			Reg:  reg,
		}, nil
	}

	return parser.parseMemOperand(group, mnemonic)
}

// parseMemOperand handles disp(base,index,scale) and bare branch
// targets.
func (parser *Parser) parseMemOperand(
	group []*TokenValue,
	mnemonic *TokenValue,
) (*ir.InsnOperand, *memOperand) {
	dispTokens := group
	var regTokens []*TokenValue
	for idx, token := range group {
		if token.Id() == LparenToken {
			dispTokens = group[:idx]
			regTokens = group[idx:]
			break
		}
	}

	mem := &memOperand{}

	if len(regTokens) > 0 {
		if !parser.parseBaseIndex(regTokens, mem) {
			return nil, nil
		}
	}

	opType := ir.OperandType(0)
	if mem.base != nil || mem.index != nil {
		opType |= ir.BaseIndex
	}

	if len(dispTokens) > 0 {
		disp, reloc := parser.parseExpr(dispTokens)
		mem.disp = disp
		mem.reloc = reloc

		if disp.Op == ir.OConstant &&
			disp.AddNumber >= -128 && disp.AddNumber <= 127 &&
			opType&ir.BaseIndex != 0 {
			opType |= ir.Disp8
		} else {
			opType |= ir.Disp32S
		}
	} else if mem.base == nil && mem.index == nil {
		parser.emitter.Emit(mnemonic.StartPos, "empty memory operand")
		return nil, nil
	}

	return &ir.InsnOperand{
		Type:  opType,
		Reloc: mem.reloc,
		Disp:  mem.disp,
	}, mem
}

// parseBaseIndex consumes ( %base [, %index [, scale]] ).
func (parser *Parser) parseBaseIndex(
	tokens []*TokenValue,
	mem *memOperand,
) bool {
	if len(tokens) < 2 ||
		tokens[0].Id() != LparenToken ||
		tokens[len(tokens)-1].Id() != RparenToken {
		parser.emitter.Emit(tokens[0].StartPos, "malformed memory operand")
		return false
	}

	groups := splitGroups(tokens[1 : len(tokens)-1])
	if len(groups) > 3 {
		parser.emitter.Emit(tokens[0].StartPos, "malformed memory operand")
		return false
	}

	parseReg := func(group []*TokenValue) *ir.Register {
		if len(group) != 2 ||
			group[0].Id() != PercentToken ||
			group[1].Id() != IdentifierToken {
			parser.emitter.Emit(
				tokens[0].StartPos,
				"malformed register in memory operand")
			return nil
		}
		reg := x86.LookupRegister(group[1].Value)
		if reg == nil {
			parser.emitter.Emit(
				group[1].StartPos,
				"unknown register %%%s",
				group[1].Value)
		}
		return reg
	}

	if len(groups) > 0 && len(groups[0]) > 0 {
		mem.base = parseReg(groups[0])
		if mem.base == nil {
			return false
		}
	}

	if len(groups) > 1 && len(groups[1]) > 0 {
		mem.index = parseReg(groups[1])
		if mem.index == nil {
			return false
		}
	}

	if len(groups) > 2 && len(groups[2]) > 0 {
		scale, _ := parser.parseInteger(groups[2][0])
		switch scale {
		case 1:
			mem.log2Scale = 0
		case 2:
			mem.log2Scale = 1
		case 4:
			mem.log2Scale = 2
		case 8:
			mem.log2Scale = 3
		default:
			parser.emitter.Emit(
				groups[2][0].StartPos,
				"invalid scale factor %d",
				scale)
			return false
		}
	}

	return true
}
