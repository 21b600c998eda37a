package lexer

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/gbf/pkg/token"
)

func TestLexerSkipsCommentary(t *testing.T) {
	toks := NewLexer([]rune("a+ b\n >[x]."), 0).Tokenize()

	var got []token.Type
	for _, tok := range toks {
		got = append(got, tok.Type)
	}
	want := []token.Type{token.Plus, token.Right, token.LBracket, token.RBracket, token.Dot, token.EOF}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("token types mismatch (-want +got):\n%s", diff)
	}
}

func TestLexerPositions(t *testing.T) {
	toks := NewLexer([]rune("+\n  ,"), 2).Tokenize()
	if len(toks) != 3 {
		t.Fatalf("got %d tokens, want 3", len(toks))
	}
	want := token.Token{Type: token.Comma, Value: ",", FileIndex: 2, Line: 2, Column: 3, Len: 1}
	if diff := cmp.Diff(want, toks[1]); diff != "" {
		t.Errorf("second token mismatch (-want +got):\n%s", diff)
	}
	if toks[0].Line != 1 || toks[0].Column != 1 {
		t.Errorf("first token at %d:%d, want 1:1", toks[0].Line, toks[0].Column)
	}
}

func TestLexerEmptyInput(t *testing.T) {
	toks := NewLexer([]rune("no commands here"), 0).Tokenize()
	if len(toks) != 1 || toks[0].Type != token.EOF {
		t.Fatalf("got %v, want a lone EOF", toks)
	}
}
