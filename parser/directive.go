package parser

import (
	"strings"

	"github.com/pattyshack/gt/parseutil"

	"github.com/pattyshack/mao/ir"
)

// Directives that emit bytes need a real section; the rest may live in
// the implicit start section.
var sectionNeeded = map[ir.DirectiveOp]struct{}{
	ir.DirByte: {}, ir.DirWord: {}, ir.DirLong: {}, ir.DirQuad: {},
	ir.DirRva: {}, ir.DirAscii: {}, ir.DirString8: {}, ir.DirString16: {},
	ir.DirString32: {}, ir.DirString64: {}, ir.DirSleb128: {},
	ir.DirUleb128: {}, ir.DirP2align: {}, ir.DirP2alignw: {},
	ir.DirP2alignl: {}, ir.DirSpace: {}, ir.DirDsB: {}, ir.DirDsW: {},
	ir.DirDsL: {}, ir.DirDsD: {}, ir.DirDsX: {},
}

// Unrecognized directives carried opaquely as debug entries.
var opaqueDirectivePrefixes = []string{
	".cfi_", ".loc", ".debug", ".align",
}

// Shorthand section-switching directives normalize to .section.
var shorthandSections = map[string]struct{}{
	".text": {}, ".data": {}, ".bss": {},
}

func isOpaqueDirective(name string) bool {
	for _, prefix := range opaqueDirectivePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func (parser *Parser) statementRange(
	tokens []*TokenValue,
) parseutil.StartEndPos {
	return parseutil.NewStartEndPos(
		tokens[0].StartPos,
		tokens[len(tokens)-1].EndPos)
}

func (parser *Parser) parseDirective(tokens []*TokenValue) {
	name := tokens[0].Value
	pos := parser.statementRange(tokens)
	verbatim := statementText(tokens)

	if _, ok := shorthandSections[name]; ok && len(tokens) == 1 {
		entry := ir.NewDirective(
			pos,
			ir.DirSection,
			[]*ir.Operand{ir.NewStringOperand(name)},
			verbatim)
		parser.unit.AddEntry(entry, false)
		return
	}

	op, known := ir.DirectiveOpFromName(name)
	if !known {
		if !isOpaqueDirective(name) {
			parser.emitter.Emit(
				tokens[0].StartPos,
				"unsupported directive %s",
				name)
		}
		parser.unit.AddEntry(
			ir.NewDebug(pos, name, statementText(tokens[1:]), verbatim),
			false)
		return
	}

	groups := splitGroups(tokens[1:])
	operands := parser.directiveOperands(op, groups, tokens[0])

	_, needsSection := sectionNeeded[op]
	entry := ir.NewDirective(pos, op, operands, verbatim)
	parser.unit.AddEntry(entry, needsSection)

	parser.directiveSideEffects(op, operands, tokens[0])
}

func (parser *Parser) directiveOperands(
	op ir.DirectiveOp,
	groups [][]*TokenValue,
	at *TokenValue,
) []*ir.Operand {
	switch op {
	case ir.DirSection:
		if len(groups) == 0 || len(groups[0]) == 0 {
			parser.emitter.Emit(at.StartPos, ".section needs a name")
			return []*ir.Operand{ir.NewStringOperand("")}
		}
		operands := []*ir.Operand{
			ir.NewStringOperand(groups[0][0].Value),
		}
		for _, group := range groups[1:] {
			operands = append(operands, parser.genericOperand(group))
		}
		return operands

	case ir.DirByte, ir.DirWord, ir.DirLong, ir.DirQuad, ir.DirRva,
		ir.DirSleb128, ir.DirUleb128:
		operands := []*ir.Operand{}
		for _, group := range groups {
			operands = append(operands, parser.exprOperand(group))
		}
		return operands

	case ir.DirAscii, ir.DirString8, ir.DirString16, ir.DirString32,
		ir.DirString64, ir.DirIdent:
		operands := []*ir.Operand{}
		for _, group := range groups {
			operands = append(operands, parser.stringOperand(group, at))
		}
		return operands

	case ir.DirP2align, ir.DirP2alignw, ir.DirP2alignl:
		// Canonical shape: alignment, fill, max-skip.
		operands := []*ir.Operand{
			parser.intOperand(groupAt(groups, 0), at),
			ir.NewEmptyOperand(),
			ir.NewIntOperand(0),
		}
		if fill := groupAt(groups, 1); len(fill) > 0 {
			operands[1] = parser.intOperand(fill, at)
		}
		if max := groupAt(groups, 2); len(max) > 0 {
			operands[2] = parser.intOperand(max, at)
		}
		return operands

	case ir.DirSpace, ir.DirDsB, ir.DirDsW, ir.DirDsL, ir.DirDsD,
		ir.DirDsX:
		operands := []*ir.Operand{
			parser.exprOperand(groupAt(groups, 0)),
			ir.NewEmptyOperand(),
		}
		if fill := groupAt(groups, 1); len(fill) > 0 {
			operands[1] = parser.exprOperand(fill)
		}
		return operands

	case ir.DirComm:
		operands := []*ir.Operand{
			parser.symbolOperand(groupAt(groups, 0), at),
		}
		for idx := 1; idx < len(groups); idx++ {
			operands = append(operands, parser.exprOperand(groups[idx]))
		}
		return operands

	case ir.DirGlobal, ir.DirLocal, ir.DirWeak:
		return []*ir.Operand{
			parser.symbolOperand(groupAt(groups, 0), at),
		}

	case ir.DirType:
		return []*ir.Operand{
			parser.symbolOperand(groupAt(groups, 0), at),
			parser.genericOperand(groupAt(groups, 1)),
		}

	case ir.DirSize, ir.DirSet, ir.DirEquiv:
		return []*ir.Operand{
			parser.symbolOperand(groupAt(groups, 0), at),
			parser.exprOperand(groupAt(groups, 1)),
		}

	case ir.DirWeakref:
		return []*ir.Operand{
			parser.symbolOperand(groupAt(groups, 0), at),
			parser.symbolOperand(groupAt(groups, 1), at),
		}
	}

	// .file, .arch, and anything without dedicated handling.
	operands := []*ir.Operand{}
	for _, group := range groups {
		operands = append(operands, parser.genericOperand(group))
	}
	return operands
}

func groupAt(groups [][]*TokenValue, idx int) []*TokenValue {
	if idx >= len(groups) {
		return nil
	}
	return groups[idx]
}

func (parser *Parser) exprOperand(group []*TokenValue) *ir.Operand {
	if len(group) == 0 {
		return ir.NewEmptyOperand()
	}
	expr, _ := parser.parseExpr(group)
	return ir.NewExpressionOperand(expr)
}

func (parser *Parser) intOperand(
	group []*TokenValue,
	at *TokenValue,
) *ir.Operand {
	expr, _ := parser.parseExpr(group)
	if expr.Op != ir.OConstant {
		parser.emitter.Emit(at.StartPos, "%s expects an integer", at.Value)
		return ir.NewIntOperand(0)
	}
	return ir.NewIntOperand(expr.AddNumber)
}

func (parser *Parser) stringOperand(
	group []*TokenValue,
	at *TokenValue,
) *ir.Operand {
	if len(group) != 1 || group[0].Id() != StringLiteralToken {
		parser.emitter.Emit(at.StartPos, "%s expects a string", at.Value)
		return ir.NewStringOperand(`""`)
	}
	return ir.NewStringOperand(group[0].Value)
}

func (parser *Parser) symbolOperand(
	group []*TokenValue,
	at *TokenValue,
) *ir.Operand {
	if len(group) != 1 || group[0].Id() != IdentifierToken {
		parser.emitter.Emit(at.StartPos, "%s expects a symbol name", at.Value)
		return ir.NewEmptyOperand()
	}
	return ir.NewSymbolOperand(
		parser.unit.FindOrCreateSymbol(group[0].Value))
}

// genericOperand keeps operands the core never interprets: @-prefixed
// type markers, strings, or expressions.
func (parser *Parser) genericOperand(group []*TokenValue) *ir.Operand {
	if len(group) == 0 {
		return ir.NewEmptyOperand()
	}
	if group[0].Id() == AtToken {
		return ir.NewStringOperand(statementText(group))
	}
	if len(group) == 1 && group[0].Id() == StringLiteralToken {
		return ir.NewStringOperand(group[0].Value)
	}
	if len(group) == 1 && group[0].Id() == IdentifierToken {
		return ir.NewStringOperand(group[0].Value)
	}
	expr, _ := parser.parseExpr(group)
	if expr.Op == ir.OConstant {
		return ir.NewIntOperand(expr.AddNumber)
	}
	return ir.NewExpressionOperand(expr)
}

func (parser *Parser) directiveSideEffects(
	op ir.DirectiveOp,
	operands []*ir.Operand,
	at *TokenValue,
) {
	symbolOf := func(idx int) *ir.Symbol {
		if idx >= len(operands) || operands[idx].Kind != ir.SymbolOperand {
			return nil
		}
		return operands[idx].Sym
	}

	switch op {
	case ir.DirComm:
		symbol := symbolOf(0)
		if symbol == nil {
			return
		}
		size := int64(0)
		align := int64(0)
		if len(operands) > 1 && operands[1].Kind == ir.ExpressionOperand &&
			operands[1].Expr.Op == ir.OConstant {
			size = operands[1].Expr.AddNumber
		}
		if len(operands) > 2 && operands[2].Kind == ir.ExpressionOperand &&
			operands[2].Expr.Op == ir.OConstant {
			align = operands[2].Expr.AddNumber
		}
		parser.unit.AddCommSymbol(symbol.Name(), size, align)

	case ir.DirType:
		symbol := symbolOf(0)
		if symbol == nil || len(operands) < 2 ||
			operands[1].Kind != ir.StringOperand {
			return
		}
		switch strings.TrimPrefix(operands[1].Str, "@ ") {
		case "function", "@function":
			symbol.SetType(ir.FunctionSymbol)
		case "object", "@object":
			symbol.SetType(ir.ObjectSymbol)
		case "tls_object", "@tls_object":
			symbol.SetType(ir.TlsSymbol)
		default:
			parser.emitter.Emit(
				at.StartPos,
				"unknown symbol type %s",
				operands[1].Str)
		}

	case ir.DirGlobal:
		if symbol := symbolOf(0); symbol != nil {
			symbol.SetVisibility(ir.GlobalSymbol)
		}
	case ir.DirLocal:
		if symbol := symbolOf(0); symbol != nil {
			symbol.SetVisibility(ir.LocalSymbol)
		}
	case ir.DirWeak:
		if symbol := symbolOf(0); symbol != nil {
			symbol.SetVisibility(ir.WeakSymbol)
		}

	case ir.DirSize:
		symbol := symbolOf(0)
		if symbol != nil && len(operands) > 1 &&
			operands[1].Kind == ir.ExpressionOperand &&
			operands[1].Expr.Op == ir.OConstant {
			symbol.SetSize(operands[1].Expr.AddNumber)
		}
	}
}
