package parser

import (
	"strconv"

	"github.com/pattyshack/mao/ir"
)

var relocByName = map[string]ir.RelocKind{
	"PLT":      ir.RelocPlt32,
	"GOTPCREL": ir.Reloc32Pcrel,
	"TLSLD":    ir.RelocTlsld,
	"TLSGD":    ir.RelocTlsgd,
	"DTPOFF":   ir.RelocDtpoff32,
	"GOTTPOFF": ir.RelocGottpoff,
}

func (parser *Parser) parseInteger(token *TokenValue) (int64, bool) {
	value, err := strconv.ParseInt(token.Value, 0, 64)
	if err == nil {
		return value, false
	}

	// Out-of-range positives keep their two's complement bit pattern; the
	// unsigned flag preserves the original sign.
	uvalue, uerr := strconv.ParseUint(token.Value, 0, 64)
	if uerr == nil {
		return int64(uvalue), true
	}

	parser.emitter.Emit(
		token.StartPos,
		"malformed integer literal %s",
		token.Value)
	return 0, false
}

// parseExpr parses [sign] term ((+|-) term)* where a term is an integer
// literal or a symbol name.  A trailing @RELOC marker is returned
// separately.
func (parser *Parser) parseExpr(
	tokens []*TokenValue,
) (*ir.Expression, ir.RelocKind) {
	expr := &ir.Expression{Op: ir.OAbsent}
	reloc := ir.RelocNone

	if len(tokens) == 0 {
		return expr, reloc
	}

	type term struct {
		symbol   *ir.Symbol
		constant int64
		negative bool
	}
	terms := []term{}

	sign := false // pending minus
	expectTerm := true
	sawExplicitSign := false
	unsignedOverflow := false

	idx := 0
	for idx < len(tokens) {
		token := tokens[idx]
		switch token.Id() {
		case PlusToken:
			if expectTerm && len(terms) == 0 {
				sawExplicitSign = true
			}
			expectTerm = true
			idx++
		case MinusToken:
			sign = !sign
			sawExplicitSign = true
			expectTerm = true
			idx++
		case IntegerLiteralToken:
			if !expectTerm && len(terms) > 0 {
				parser.emitter.Emit(token.StartPos, "malformed expression")
				return &ir.Expression{Op: ir.OIllegal}, reloc
			}
			value, overflowed := parser.parseInteger(token)
			if overflowed && !sign {
				unsignedOverflow = true
			}
			if sign {
				value = -value
			}
			terms = append(terms, term{constant: value})
			sign = false
			expectTerm = false
			idx++
		case IdentifierToken:
			if !expectTerm && len(terms) > 0 {
				parser.emitter.Emit(token.StartPos, "malformed expression")
				return &ir.Expression{Op: ir.OIllegal}, reloc
			}
			terms = append(terms, term{
				symbol:   parser.unit.FindOrCreateSymbol(token.Value),
				negative: sign,
			})
			sign = false
			expectTerm = false
			idx++
		case AtToken:
			// @RELOC marker
			if idx+1 >= len(tokens) ||
				tokens[idx+1].Id() != IdentifierToken {
				parser.emitter.Emit(token.StartPos, "malformed relocation marker")
				return &ir.Expression{Op: ir.OIllegal}, reloc
			}
			kind, ok := relocByName[tokens[idx+1].Value]
			if !ok {
				parser.emitter.Emit(
					token.StartPos,
					"unknown relocation kind @%s",
					tokens[idx+1].Value)
				return &ir.Expression{Op: ir.OIllegal}, reloc
			}
			reloc = kind
			idx += 2
		default:
			parser.emitter.Emit(
				token.StartPos,
				"unexpected token in expression")
			return &ir.Expression{Op: ir.OIllegal}, reloc
		}
	}

	var positive []*ir.Symbol
	var negative []*ir.Symbol
	for _, t := range terms {
		if t.symbol == nil {
			expr.AddNumber += t.constant
			continue
		}
		if t.negative {
			negative = append(negative, t.symbol)
		} else {
			positive = append(positive, t.symbol)
		}
	}

	switch {
	case len(positive) == 0 && len(negative) == 0:
		expr.Op = ir.OConstant
		expr.Unsigned = unsignedOverflow ||
			(expr.AddNumber >= 0 && !sawExplicitSign)
	case len(positive) == 1 && len(negative) == 0:
		expr.Op = ir.OSymbol
		expr.AddSymbol = positive[0]
	case len(positive) == 2 && len(negative) == 0:
		expr.Op = ir.OAdd
		expr.AddSymbol = positive[0]
		expr.OpSymbol = positive[1]
	case len(positive) == 1 && len(negative) == 1:
		expr.Op = ir.OSubtract
		expr.AddSymbol = positive[0]
		expr.OpSymbol = negative[0]
	default:
		parser.emitter.Emit(
			tokens[0].StartPos,
			"unsupported expression shape")
		expr.Op = ir.OIllegal
	}

	return expr, reloc
}
