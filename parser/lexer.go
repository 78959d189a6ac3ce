package parser

import (
	"io"
	"unicode/utf8"

	"github.com/pattyshack/gt/parseutil"
	"github.com/pattyshack/gt/stringutil"
)

const (
	initialPeekWindowSize = 64
)

type SymbolId int

type Token = parseutil.Token[SymbolId]
type TokenValue = parseutil.TokenValue[SymbolId]

const (
	SpacesToken   = SymbolId(' ')
	NewlinesToken = SymbolId('\n')
	CommentToken  = SymbolId(-2)

	IdentifierToken     = SymbolId(-5)
	IntegerLiteralToken = SymbolId(-6)
	FloatLiteralToken   = SymbolId(-7)
	StringLiteralToken  = SymbolId(-8)

	CommaToken     = SymbolId(',')
	ColonToken     = SymbolId(':')
	SemicolonToken = SymbolId(';')
	LparenToken    = SymbolId('(')
	RparenToken    = SymbolId(')')
	PercentToken   = SymbolId('%')
	DollarToken    = SymbolId('$')
	StarToken      = SymbolId('*')
	PlusToken      = SymbolId('+')
	MinusToken     = SymbolId('-')
	AtToken        = SymbolId('@')
	EqualToken     = SymbolId('=')
)

// Identifiers cover GNU-as symbol names: directives start with '.',
// symbol names may contain '.', '_', and '$'.
func isIdentifierStart(char byte) bool {
	return ('a' <= char && char <= 'z') ||
		('A' <= char && char <= 'Z') ||
		char == '_' ||
		char == '.'
}

func isIdentifierPart(char byte) bool {
	return isIdentifierStart(char) ||
		('0' <= char && char <= '9') ||
		char == '$'
}

type RawLexer struct {
	parseutil.BufferedByteLocationReader
	*stringutil.InternPool
}

func NewRawLexer(
	reader parseutil.BufferedByteLocationReader,
) *RawLexer {
	return &RawLexer{
		BufferedByteLocationReader: reader,
		InternPool:                 stringutil.NewInternPool(),
	}
}

func (lexer *RawLexer) CurrentLocation() parseutil.Location {
	return lexer.Location
}

func (lexer *RawLexer) peekNextToken() (SymbolId, string, error) {
	peeked, err := lexer.Peek(utf8.UTFMax)
	if len(peeked) > 0 && err == io.EOF {
		err = nil
	}
	if err != nil {
		return 0, "", err
	}

	char := peeked[0]

	if isIdentifierStart(char) {
		return IdentifierToken, "", nil
	}

	if '0' <= char && char <= '9' {
		return IntegerLiteralToken, "", nil
	}

	switch char {
	case ' ', '\t':
		return SpacesToken, "", nil
	case '\r', '\n':
		return NewlinesToken, "", nil
	case '#':
		return CommentToken, "", nil
	case '"':
		return StringLiteralToken, "", nil
	case ',':
		return CommaToken, ",", nil
	case ':':
		return ColonToken, ":", nil
	case ';':
		return SemicolonToken, ";", nil
	case '(':
		return LparenToken, "(", nil
	case ')':
		return RparenToken, ")", nil
	case '%':
		return PercentToken, "%", nil
	case '$':
		return DollarToken, "$", nil
	case '*':
		return StarToken, "*", nil
	case '+':
		return PlusToken, "+", nil
	case '-':
		return MinusToken, "-", nil
	case '@':
		return AtToken, "@", nil
	case '=':
		return EqualToken, "=", nil
	}

	return 0, "", parseutil.NewLocationError(
		lexer.Location,
		"unexpected character 0x%02x",
		char)
}

func (lexer *RawLexer) lexSpacesToken() (Token, error) {
	token, err := parseutil.MaybeTokenizeSpaces(
		lexer.BufferedByteLocationReader,
		initialPeekWindowSize,
		SpacesToken)
	if err != nil {
		return nil, err
	}

	if token == nil {
		panic("should never happen")
	}

	return token, nil
}

func (lexer *RawLexer) lexNewlinesToken() (Token, error) {
	token, foundInvalidNewline, err := parseutil.MaybeTokenizeNewlines(
		lexer.BufferedByteLocationReader,
		initialPeekWindowSize,
		NewlinesToken)
	if err != nil {
		return nil, err
	}

	if token == nil {
		panic("should never happen")
	}

	if foundInvalidNewline {
		return nil, parseutil.NewLocationError(
			token.StartPos,
			"unexpected utf8 rune")
	}

	return token, nil
}

func (lexer *RawLexer) lexIntegerLiteralToken() (Token, error) {
	token, hasNoDigits, err := parseutil.MaybeTokenizeIntegerOrFloatLiteral(
		lexer.BufferedByteLocationReader,
		initialPeekWindowSize,
		lexer.InternPool,
		IntegerLiteralToken,
		FloatLiteralToken)
	if err != nil {
		return nil, err
	}

	if token == nil {
		panic("should never happen")
	}

	if hasNoDigits {
		return nil, parseutil.NewLocationError(
			token.StartPos,
			"%s has no digits",
			token.SubType)
	}

	return token, nil
}

// scanWhile returns the longest prefix of the unread input whose bytes
// satisfy pred.
func (lexer *RawLexer) scanWhile(pred func(byte) bool) ([]byte, error) {
	peekSize := initialPeekWindowSize
	size := 0
	for {
		peeked, err := lexer.Peek(peekSize)
		if err != nil && err != io.EOF {
			return nil, err
		}

		for size < len(peeked) && pred(peeked[size]) {
			size++
		}

		if size < len(peeked) || err == io.EOF {
			return peeked[:size], nil
		}

		peekSize *= 2
	}
}

func (lexer *RawLexer) lexIdentifierToken() (Token, error) {
	bytes, err := lexer.scanWhile(isIdentifierPart)
	if err != nil {
		return nil, err
	}

	if len(bytes) == 0 {
		panic("should never happen")
	}

	loc := lexer.Location
	value := string(bytes)

	_, err = lexer.Discard(len(bytes))
	if err != nil {
		panic("should never happen")
	}

	return &TokenValue{
		SymbolId:    IdentifierToken,
		StartEndPos: parseutil.NewStartEndPos(loc, lexer.Location),
		Value:       value,
	}, nil
}

// lexCommentToken consumes everything up to (excluding) the newline.
func (lexer *RawLexer) lexCommentToken() (Token, error) {
	bytes, err := lexer.scanWhile(func(char byte) bool {
		return char != '\n' && char != '\r'
	})
	if err != nil {
		return nil, err
	}

	loc := lexer.Location
	value := string(bytes)

	_, err = lexer.Discard(len(bytes))
	if err != nil {
		panic("should never happen")
	}

	return &TokenValue{
		SymbolId:    CommentToken,
		StartEndPos: parseutil.NewStartEndPos(loc, lexer.Location),
		Value:       value,
	}, nil
}

// lexStringLiteralToken keeps the surrounding quotes and backslash
// escapes verbatim; downstream size accounting depends on the raw
// literal.
func (lexer *RawLexer) lexStringLiteralToken() (Token, error) {
	peekSize := initialPeekWindowSize
	size := 1 // opening quote
	for {
		peeked, err := lexer.Peek(peekSize)
		if err != nil && err != io.EOF {
			return nil, err
		}

		closed := false
		for size < len(peeked) {
			char := peeked[size]
			if char == '\\' && size+1 < len(peeked) {
				size += 2
				continue
			}
			size++
			if char == '"' {
				closed = true
				break
			}
			if char == '\n' {
				return nil, parseutil.NewLocationError(
					lexer.Location,
					"string literal not terminated")
			}
		}

		if closed {
			loc := lexer.Location
			value := string(peeked[:size])

			_, err = lexer.Discard(size)
			if err != nil {
				panic("should never happen")
			}

			return &TokenValue{
				SymbolId:    StringLiteralToken,
				StartEndPos: parseutil.NewStartEndPos(loc, lexer.Location),
				Value:       value,
			}, nil
		}

		if err == io.EOF {
			return nil, parseutil.NewLocationError(
				lexer.Location,
				"string literal not terminated")
		}

		peekSize *= 2
	}
}

func (lexer *RawLexer) Next() (Token, error) {
	symbolId, value, err := lexer.peekNextToken()
	if err != nil {
		return nil, err
	}

	// fixed length token
	size := len(value)
	if size > 0 {
		loc := lexer.Location

		_, err := lexer.Discard(size)
		if err != nil {
			panic("should never happen")
		}

		return &TokenValue{
			SymbolId:    symbolId,
			StartEndPos: parseutil.NewStartEndPos(loc, lexer.Location),
			Value:       value,
		}, nil
	}

	// variable length token
	switch symbolId {
	case SpacesToken:
		return lexer.lexSpacesToken()
	case NewlinesToken:
		return lexer.lexNewlinesToken()
	case CommentToken:
		return lexer.lexCommentToken()
	case IntegerLiteralToken:
		return lexer.lexIntegerLiteralToken()
	case StringLiteralToken:
		return lexer.lexStringLiteralToken()
	case IdentifierToken:
		return lexer.lexIdentifierToken()
	}

	panic("unhandled variable length token")
}
