package codegen

import (
	"bytes"
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/gbf/pkg/ast"
	"github.com/xplshn/gbf/pkg/config"
	"github.com/xplshn/gbf/pkg/interp"
	"github.com/xplshn/gbf/pkg/ir"
	"github.com/xplshn/gbf/pkg/parser"
)

func newTestConfig(tapeSize int) *config.Config {
	cfg := config.NewConfig()
	cfg.Log = nil
	cfg.SetTarget(runtime.GOOS, runtime.GOARCH, "")
	cfg.TapeSize = tapeSize
	return cfg
}

func mustParse(t *testing.T, src string) ast.Program {
	t.Helper()
	prog, err := parser.ParseSource(src, 0)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", src, err)
	}
	return prog
}

func lower(t *testing.T, cfg *config.Config, src string) *ir.Program {
	t.Helper()
	p, err := NewContext(cfg).GenerateIR(mustParse(t, src))
	if err != nil {
		t.Fatalf("GenerateIR(%q) failed: %v", src, err)
	}
	return p
}

func TestQBEOutput(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Log = nil
	cfg.TapeSize = 5 // rounded up to one 8-byte chunk

	got, err := NewQBEBackend().GenerateIR(lower(t, cfg, "+"), cfg)
	if err != nil {
		t.Fatalf("GenerateIR failed: %v", err)
	}

	want := `export function w $main() {
@start.0
	%tape.0 =l alloc16 8
	%ptr.1 =l alloc8 8
	%tape.end.2 =l add %tape.0, 8
	storel %tape.0, %ptr.1
	jmp @zero.1
@zero.1
	%cur.3 =l loadl %ptr.1
	storel 0, %cur.3
	%next.4 =l add %cur.3, 8
	storel %next.4, %ptr.1
	%more.5 =w cultl %next.4, %tape.end.2
	jnz %more.5, @zero.1, @ready.2
@ready.2
	storel %tape.0, %ptr.1
	%p.6 =l loadl %ptr.1
	%c.7 =w loadub %p.6
	%c.8 =w add %c.7, 1
	storeb %c.8, %p.6
	ret 0
}
`
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("QBE output mismatch (-want +got):\n%s", diff)
	}
}

func TestQBECallsUseConfiguredSymbols(t *testing.T) {
	cfg := newTestConfig(16)
	cfg.EntrySymbol, cfg.WriteSymbol, cfg.ReadSymbol = "bf_main", "bf_put", "bf_get"

	got, err := NewQBEBackend().GenerateIR(lower(t, cfg, ",."), cfg)
	if err != nil {
		t.Fatalf("GenerateIR failed: %v", err)
	}
	for _, want := range []string{"export function w $bf_main()", "call $bf_get()", "call $bf_put(w %c."} {
		if !strings.Contains(got, want) {
			t.Errorf("output does not contain %q:\n%s", want, got)
		}
	}
}

func TestLoopBlocksAndSealing(t *testing.T) {
	cfg := newTestConfig(8)
	fn := lower(t, cfg, "[[-]]").FindFunc("main")
	if fn == nil {
		t.Fatal("entry function missing")
	}

	var labels []string
	for _, bb := range fn.Blocks {
		labels = append(labels, bb.Label())
		if !bb.Sealed {
			t.Errorf("block %s left unsealed", bb.Label())
		}
	}
	wantLabels := []string{
		"start.0", "zero.1", "ready.2",
		"header.3", "body.4", "cont.5",
		"header.6", "body.7", "cont.8",
	}
	if diff := cmp.Diff(wantLabels, labels); diff != "" {
		t.Fatalf("block order mismatch (-want +got):\n%s", diff)
	}

	preds := map[string][]ir.BlockID{
		"zero.1":   {0, 1},
		"ready.2":  {1},
		"header.3": {2, 8},
		"body.4":   {3},
		"cont.5":   {3},
		"header.6": {4, 7},
		"body.7":   {6},
		"cont.8":   {6},
	}
	for _, bb := range fn.Blocks {
		want := preds[bb.Label()]
		if diff := cmp.Diff(want, bb.Preds); diff != "" {
			t.Errorf("preds of %s mismatch (-want +got):\n%s", bb.Label(), diff)
		}
	}

	if term := fn.Blocks[5].Terminator(); term == nil || term.Op != ir.OpRet {
		t.Errorf("outer continuation should return, got %v", term)
	}
}

func TestSingleImportPerSymbol(t *testing.T) {
	cfg := newTestConfig(8)
	var log bytes.Buffer
	cfg.Log = &log

	ctx := NewContext(cfg)
	if _, err := ctx.GenerateIR(mustParse(t, ".,..,")); err != nil {
		t.Fatalf("GenerateIR failed: %v", err)
	}
	ctx.importFunc(cfg.WriteSymbol, writeByteParams, ir.TypeW)
	if len(ctx.prog.Imports) != 2 {
		t.Fatalf("got %d imports, want 2", len(ctx.prog.Imports))
	}
	if log.Len() != 0 {
		t.Errorf("matching redeclaration should be silent, logged %q", log.String())
	}

	imp := ctx.importFunc(cfg.WriteSymbol, []ir.Type{ir.TypeL}, ir.TypeNone)
	if len(imp.Params) != 1 || imp.Params[0] != ir.TypeW {
		t.Errorf("conflicting redeclaration replaced the signature: %+v", imp)
	}
	if !strings.Contains(log.String(), "redeclared with a different signature") {
		t.Errorf("missing conflict warning, got %q", log.String())
	}
}

func TestContextIsSingleUse(t *testing.T) {
	cfg := newTestConfig(8)
	ctx := NewContext(cfg)
	if _, err := ctx.GenerateIR(nil); err != nil {
		t.Fatalf("first GenerateIR failed: %v", err)
	}
	if _, err := ctx.GenerateIR(nil); err == nil {
		t.Error("second GenerateIR should fail")
	}
	if ctx.Loops() != 0 {
		t.Errorf("Loops = %d, want 0", ctx.Loops())
	}
}

func TestGenerateIRRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero tape", func(c *config.Config) { c.TapeSize = 0 }},
		{"bad symbol", func(c *config.Config) { c.EntrySymbol = "9main" }},
		{"shared symbol", func(c *config.Config) { c.ReadSymbol = c.WriteSymbol }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(8)
			tt.mutate(cfg)
			if _, err := NewContext(cfg).GenerateIR(nil); err == nil {
				t.Error("expected a configuration error")
			}
		})
	}
}

const helloWorld = "++++++++[>++++[>++>+++>+++>+<<<<-]>+>+>->>+[<]<-]>>.>---.+++++++..+++.>>.<-.<.+++.------.--------.>>+.>++."

// TestLoweringMatchesInterpreter runs every program through the lowered IR
// and through the tree interpreter and expects identical bytes out.
func TestLoweringMatchesInterpreter(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		input string
		want  string
	}{
		{"hello", helloWorld, "", "Hello World!\n"},
		{"clear then print", "+[-].", "", "\x00"},
		{"decrement wraps", "-.", "", "\xff"},
		{"increment wraps", "-+.", "", "\x00"},
		{"echo one", ",.", "A", "A"},
		{"eof stores 255", ",.", "", "\xff"},
		{"cat", ",+[-.,+]", "abc\n", "abc\n"},
		{"reverse line", ">,----------[++++++++++>,----------]<[.<]", "stressed\n", "desserts"},
		{"skipped loop", "[.].", "", "\x00"},
		{"move and print", ">+++++[<+++++++++++++>-]<.", "", "A"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(config.DefaultTapeSize)
			prog := mustParse(t, tt.src)

			var interpOut bytes.Buffer
			if err := interp.New(cfg.TapeSize).Run(prog, strings.NewReader(tt.input), &interpOut); err != nil {
				t.Fatalf("interpreter failed: %v", err)
			}

			irProg, err := NewContext(cfg).GenerateIR(prog)
			if err != nil {
				t.Fatalf("GenerateIR failed: %v", err)
			}
			var irOut bytes.Buffer
			ret, err := ir.Exec(irProg.FindFunc(cfg.EntrySymbol), ir.ExecOptions{
				Externals: ir.StdioExternals(cfg.WriteSymbol, cfg.ReadSymbol, strings.NewReader(tt.input), &irOut),
				WordSize:  cfg.WordSize,
				MaxSteps:  10_000_000,
			})
			if err != nil {
				t.Fatalf("Exec failed: %v", err)
			}
			if ret != 0 {
				t.Errorf("entry returned %d, want 0", ret)
			}

			if diff := cmp.Diff(tt.want, interpOut.String()); diff != "" {
				t.Errorf("interpreter output mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(interpOut.String(), irOut.String()); diff != "" {
				t.Errorf("lowered output differs from interpreter (-interp +ir):\n%s", diff)
			}
		})
	}
}

func TestTapeIsZeroedBeforeUse(t *testing.T) {
	cfg := newTestConfig(24)
	fn := lower(t, cfg, ">>>>>>>>>>>>>>>>>>>>>>>.").FindFunc("main")

	var out bytes.Buffer
	_, err := ir.Exec(fn, ir.ExecOptions{
		Externals: ir.StdioExternals(cfg.WriteSymbol, cfg.ReadSymbol, strings.NewReader(""), &out),
		WordSize:  cfg.WordSize,
	})
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if out.String() != "\x00" {
		t.Errorf("last cell read %q, want a zero byte", out.String())
	}
}

func TestCountsLoops(t *testing.T) {
	ctx := NewContext(newTestConfig(8))
	if _, err := ctx.GenerateIR(mustParse(t, "+[[-]>[-]]")); err != nil {
		t.Fatalf("GenerateIR failed: %v", err)
	}
	if ctx.Loops() != 3 {
		t.Errorf("Loops = %d, want 3", ctx.Loops())
	}
}

func TestLibQBEAssembly(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("the windows build shells out to qbe")
	}
	cfg := newTestConfig(64)
	asm, err := NewQBEBackend().Generate(lower(t, cfg, "+[-.]"), cfg)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	text := asm.String()
	for _, sym := range []string{"main", "putchar", "getchar"} {
		if !strings.Contains(text, sym) {
			t.Errorf("assembly does not mention %s", sym)
		}
	}
}
