package lexer

import (
	"github.com/xplshn/gbf/pkg/token"
)

type Lexer struct {
	source    []rune
	fileIndex int
	pos       int
	line      int
	column    int
}

func NewLexer(source []rune, fileIndex int) *Lexer {
	return &Lexer{
		source: source, fileIndex: fileIndex, line: 1, column: 1,
	}
}

// Next returns the next command token. Anything that is not one of the eight
// command characters is skipped as commentary.
func (l *Lexer) Next() token.Token {
	for {
		l.skipComments()
		startPos, startCol, startLine := l.pos, l.column, l.line

		if l.isAtEnd() {
			return l.makeToken(token.EOF, "", startPos, startCol, startLine)
		}

		ch := l.advance()
		if typ, ok := token.CommandMap[ch]; ok {
			return l.makeToken(typ, string(ch), startPos, startCol, startLine)
		}
	}
}

// Tokenize drains the lexer, including the trailing EOF token.
func (l *Lexer) Tokenize() []token.Token {
	var toks []token.Token
	for {
		tok := l.Next()
		toks = append(toks, tok)
		if tok.Type == token.EOF {
			return toks
		}
	}
}

func (l *Lexer) peek() rune {
	if l.isAtEnd() {
		return 0
	}
	return l.source[l.pos]
}

func (l *Lexer) advance() rune {
	if l.isAtEnd() {
		return 0
	}
	ch := l.source[l.pos]
	if ch == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
	l.pos++
	return ch
}

func (l *Lexer) isAtEnd() bool { return l.pos >= len(l.source) }

func (l *Lexer) makeToken(tokType token.Type, value string, startPos, startCol, startLine int) token.Token {
	return token.Token{
		Type: tokType, Value: value, FileIndex: l.fileIndex,
		Line: startLine, Column: startCol, Len: l.pos - startPos,
	}
}

func (l *Lexer) skipComments() {
	for !l.isAtEnd() {
		if _, ok := token.CommandMap[l.peek()]; ok {
			return
		}
		l.advance()
	}
}
