package parser

import (
	"io"
	"strings"

	"github.com/pattyshack/gt/parseutil"

	"github.com/pattyshack/mao/ir"
)

// Parser materializes a GNU-as source stream into an ir.Unit, delivering
// entries one at a time through Unit.AddEntry.
type Parser struct {
	lexer   *RawLexer
	emitter *parseutil.Emitter
	unit    *ir.Unit
}

// Parse builds a fresh unit from content.
func Parse(
	fileName string,
	content []byte,
	emitter *parseutil.Emitter,
) *ir.Unit {
	unit := ir.NewUnit()
	ParseInto(fileName, content, unit, emitter)
	return unit
}

// ParseInto appends content's entries to unit.
func ParseInto(
	fileName string,
	content []byte,
	unit *ir.Unit,
	emitter *parseutil.Emitter,
) {
	parser := &Parser{
		lexer: NewRawLexer(
			parseutil.NewBufferedByteLocationReaderFromSlice(
				fileName,
				content)),
		emitter: emitter,
		unit:    unit,
	}
	parser.parse()
}

// readLine returns the next line's tokens with spaces and comments
// dropped.  io.EOF after the last line.
func (parser *Parser) readLine() ([]*TokenValue, error) {
	result := []*TokenValue{}
	for {
		token, err := parser.lexer.Next()
		if err != nil {
			if err == io.EOF && len(result) > 0 {
				return result, nil
			}
			return result, err
		}

		switch token.Id() {
		case SpacesToken, CommentToken:
			continue
		case NewlinesToken:
			if len(result) == 0 {
				continue
			}
			return result, nil
		}

		value, ok := token.(*TokenValue)
		if !ok {
			panic("should never happen")
		}
		result = append(result, value)
	}
}

func (parser *Parser) parse() {
	for {
		line, err := parser.readLine()
		if err != nil && err != io.EOF {
			parser.emitter.EmitErrors(err)
			return
		}

		// Semicolons separate statements within a line.
		statement := []*TokenValue{}
		for _, token := range line {
			if token.Id() == SemicolonToken {
				parser.parseStatement(statement)
				statement = []*TokenValue{}
				continue
			}
			statement = append(statement, token)
		}
		parser.parseStatement(statement)

		if err == io.EOF {
			return
		}
	}
}

func statementText(tokens []*TokenValue) string {
	parts := make([]string, 0, len(tokens))
	for _, token := range tokens {
		parts = append(parts, token.Value)
	}
	return strings.Join(parts, " ")
}

func (parser *Parser) parseStatement(tokens []*TokenValue) {
	if len(tokens) == 0 {
		return
	}

	// label:
	if len(tokens) >= 2 &&
		tokens[0].Id() == IdentifierToken &&
		tokens[1].Id() == ColonToken {

		label := ir.NewLabel(
			parseutil.NewStartEndPos(tokens[0].StartPos, tokens[1].EndPos),
			tokens[0].Value,
			tokens[0].Value+":")
		parser.unit.AddEntry(label, true)

		parser.parseStatement(tokens[2:])
		return
	}

	if tokens[0].Id() != IdentifierToken {
		parser.emitter.Emit(
			tokens[0].StartPos,
			"unexpected token at start of statement")
		return
	}

	if strings.HasPrefix(tokens[0].Value, ".") {
		parser.parseDirective(tokens)
		return
	}

	parser.parseInstruction(tokens)
}

// splitGroups splits tokens on top-level commas.  Empty groups stay in
// the result so empty directive operands survive (.p2align 4,,15).
func splitGroups(tokens []*TokenValue) [][]*TokenValue {
	if len(tokens) == 0 {
		return nil
	}

	groups := [][]*TokenValue{}
	current := []*TokenValue{}
	depth := 0
	for _, token := range tokens {
		switch token.Id() {
		case LparenToken:
			depth++
		case RparenToken:
			depth--
		case CommaToken:
			if depth == 0 {
				groups = append(groups, current)
				current = []*TokenValue{}
				continue
			}
		}
		current = append(current, token)
	}
	return append(groups, current)
}
