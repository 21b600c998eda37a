package util

import (
	"bytes"
	"strings"
	"testing"

	"github.com/xplshn/gbf/pkg/config"
	"github.com/xplshn/gbf/pkg/token"
)

func capture(t *testing.T) (*bytes.Buffer, *int) {
	t.Helper()
	var buf bytes.Buffer
	code := -1
	oldErr, oldExit := Stderr, exit
	Stderr = &buf
	exit = func(c int) { code = c }
	t.Cleanup(func() {
		Stderr, exit = oldErr, oldExit
		SetSourceFiles(nil)
	})
	return &buf, &code
}

func TestErrorWithCaret(t *testing.T) {
	buf, code := capture(t)
	SetSourceFiles([]SourceFileRecord{{Name: "prog.bf", Content: []rune("+++\n  ]--")}})

	Error(token.Token{Type: token.RBracket, Line: 2, Column: 3, Len: 1}, "unmatched '%s'", "]")

	if *code != 1 {
		t.Errorf("exit code = %d, want 1", *code)
	}
	got := buf.String()
	for _, want := range []string{"prog.bf:2:3:", "unmatched ']'", "  ]--\n", "    \033[32m^"} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q does not contain %q", got, want)
		}
	}
}

func TestErrorWithoutPosition(t *testing.T) {
	buf, code := capture(t)
	Error(token.Token{}, "no input files specified.")
	if *code != 1 {
		t.Errorf("exit code = %d, want 1", *code)
	}
	if !strings.HasPrefix(buf.String(), "gbf: ") {
		t.Errorf("output %q should start with the program name", buf.String())
	}
}

func TestWarnRespectsConfig(t *testing.T) {
	buf, _ := capture(t)
	cfg := config.NewConfig()
	tok := token.Token{Line: 1, Column: 1}

	Warn(cfg, config.WarnEmptyLoop, tok, "empty loop")
	if !strings.Contains(buf.String(), "[-Wempty-loop]") {
		t.Errorf("warning %q lacks its flag name", buf.String())
	}

	buf.Reset()
	cfg.SetWarning(config.WarnEmptyLoop, false)
	Warn(cfg, config.WarnEmptyLoop, tok, "empty loop")
	if buf.Len() != 0 {
		t.Errorf("disabled warning printed %q", buf.String())
	}
}

func TestAlignUp(t *testing.T) {
	tests := []struct{ n, align, want int64 }{
		{0, 8, 0}, {1, 8, 8}, {8, 8, 8}, {30000, 8, 30000}, {30001, 16, 30016}, {5, 0, 5},
	}
	for _, tt := range tests {
		if got := AlignUp(tt.n, tt.align); got != tt.want {
			t.Errorf("AlignUp(%d, %d) = %d, want %d", tt.n, tt.align, got, tt.want)
		}
	}
}
