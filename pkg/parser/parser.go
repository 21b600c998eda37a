package parser

import (
	"fmt"

	"github.com/xplshn/gbf/pkg/ast"
	"github.com/xplshn/gbf/pkg/lexer"
	"github.com/xplshn/gbf/pkg/token"
)

// Error is a syntax error anchored at the offending token.
type Error struct {
	Tok token.Token
	Msg string
	// Incomplete is set when more input could still balance the program.
	Incomplete bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Tok.Line, e.Tok.Column, e.Msg)
}

// IsIncomplete reports whether err only means that a '[' is still open.
func IsIncomplete(err error) bool {
	perr, ok := err.(*Error)
	return ok && perr.Incomplete
}

// Parser holds the state for the parsing process
type Parser struct {
	tokens  []token.Token
	pos     int
	current token.Token
}

// NewParser creates and initializes a new Parser from a token stream
func NewParser(tokens []token.Token) *Parser {
	p := &Parser{tokens: tokens, pos: 0}
	if len(tokens) > 0 {
		p.current = p.tokens[0]
	}
	return p
}

// Parse consumes the whole token stream and returns the program tree.
func (p *Parser) Parse() (ast.Program, error) {
	prog, err := p.parseSequence()
	if err != nil {
		return nil, err
	}
	if p.check(token.RBracket) {
		return nil, &Error{Tok: p.current, Msg: "unmatched ']'"}
	}
	return prog, nil
}

// ParseSource lexes and parses a single source text.
func ParseSource(src string, fileIndex int) (ast.Program, error) {
	toks := lexer.NewLexer([]rune(src), fileIndex).Tokenize()
	return NewParser(toks).Parse()
}

// Parser helpers
func (p *Parser) advance() {
	if p.pos < len(p.tokens) {
		p.pos++
		if p.pos < len(p.tokens) {
			p.current = p.tokens[p.pos]
		} else {
			p.current = token.Token{Type: token.EOF}
		}
	}
}

func (p *Parser) check(tokType token.Type) bool {
	return p.current.Type == tokType
}

func (p *Parser) atEnd() bool { return p.pos >= len(p.tokens) || p.check(token.EOF) }

// parseSequence reads nodes until EOF or a closing bracket, which it leaves unconsumed.
func (p *Parser) parseSequence() (ast.Program, error) {
	var prog ast.Program
	for !p.atEnd() && !p.check(token.RBracket) {
		node, err := p.parseNode()
		if err != nil {
			return nil, err
		}
		prog = append(prog, node)
	}
	return prog, nil
}

func (p *Parser) parseNode() (ast.Node, error) {
	tok := p.current
	switch tok.Type {
	case token.Right:
		p.advance()
		return ast.Node{Op: ast.MoveRight, Tok: tok}, nil
	case token.Left:
		p.advance()
		return ast.Node{Op: ast.MoveLeft, Tok: tok}, nil
	case token.Plus:
		p.advance()
		return ast.Node{Op: ast.Increment, Tok: tok}, nil
	case token.Minus:
		p.advance()
		return ast.Node{Op: ast.Decrement, Tok: tok}, nil
	case token.Dot:
		p.advance()
		return ast.Node{Op: ast.Output, Tok: tok}, nil
	case token.Comma:
		p.advance()
		return ast.Node{Op: ast.Input, Tok: tok}, nil
	case token.LBracket:
		return p.parseLoop()
	default:
		return ast.Node{}, &Error{Tok: tok, Msg: fmt.Sprintf("unexpected token '%s'", tok.Type)}
	}
}

func (p *Parser) parseLoop() (ast.Node, error) {
	open := p.current
	p.advance()
	body, err := p.parseSequence()
	if err != nil {
		return ast.Node{}, err
	}
	if !p.check(token.RBracket) {
		return ast.Node{}, &Error{Tok: open, Msg: "unmatched '['", Incomplete: true}
	}
	p.advance()
	return ast.Node{Op: ast.Loop, Tok: open, Body: body}, nil
}
