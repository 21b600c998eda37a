package codegen

import (
	"bytes"
	"debug/elf"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/gbf/pkg/config"
	"github.com/xplshn/gbf/pkg/interp"
)

func TestEmitObjectFailureLeavesNothing(t *testing.T) {
	cfg := newTestConfig(8)
	cfg.Assembler = "gbf-no-such-assembler"
	dir := t.TempDir()
	out := filepath.Join(dir, "main.o")

	if err := EmitObject("garbage\n", out, cfg); err == nil {
		t.Fatal("EmitObject should fail without an assembler")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("output directory not empty: %v", entries)
	}
}

func TestEmitObjectKeepsPreviousOutputOnFailure(t *testing.T) {
	cfg := newTestConfig(8)
	cfg.Assembler = "gbf-no-such-assembler"
	out := filepath.Join(t.TempDir(), "main.o")
	if err := os.WriteFile(out, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	_ = EmitObject("garbage\n", out, cfg)
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "old" {
		t.Errorf("previous output was clobbered: %q", data)
	}
}

// TestEmitObjectSymbols assembles a real object and checks its symbol table
// for one defined global function and the two undefined runtime imports.
func TestEmitObjectSymbols(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("symbol inspection reads ELF objects")
	}
	cfg := newTestConfig(64)
	if _, err := exec.LookPath(cfg.Assembler); err != nil {
		t.Skipf("assembler %q not available", cfg.Assembler)
	}

	asm, err := NewQBEBackend().Generate(lower(t, cfg, "+[.-]"), cfg)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	out := filepath.Join(t.TempDir(), "main.o")
	if err := EmitObject(asm.String(), out, cfg); err != nil {
		t.Fatalf("EmitObject failed: %v", err)
	}

	f, err := elf.Open(out)
	if err != nil {
		t.Fatalf("elf.Open failed: %v", err)
	}
	defer f.Close()
	if f.Type != elf.ET_REL {
		t.Errorf("object type = %v, want ET_REL", f.Type)
	}
	syms, err := f.Symbols()
	if err != nil {
		t.Fatal(err)
	}

	var defined, undefined []string
	for _, s := range syms {
		if elf.ST_BIND(s.Info) != elf.STB_GLOBAL {
			continue
		}
		if s.Section == elf.SHN_UNDEF {
			undefined = append(undefined, s.Name)
		} else {
			defined = append(defined, s.Name)
		}
	}
	if diff := cmp.Diff([]string{"main"}, defined); diff != "" {
		t.Errorf("defined globals mismatch (-want +got):\n%s", diff)
	}
	sort.Strings(undefined)
	if diff := cmp.Diff([]string{"getchar", "putchar"}, undefined); diff != "" {
		t.Errorf("imports mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.s")
	if err := WriteFileAtomic(path, []byte("asm"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || !bytes.Equal(data, []byte("asm")) {
		t.Fatalf("read back %q, %v", data, err)
	}
	if err := WriteFileAtomic(filepath.Join(t.TempDir(), "missing", "out.s"), nil, 0o644); err == nil {
		t.Error("writing into a missing directory should fail")
	}
}

func TestRunToolParsesCommand(t *testing.T) {
	if err := runTool(""); err == nil {
		t.Error("empty command should fail")
	}
	if err := runTool("'unterminated"); err == nil {
		t.Error("unterminated quote should fail")
	}
}

func TestNativeEndToEnd(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("native builds go through the system qbe on Windows")
	}
	cfg := newTestConfig(config.DefaultTapeSize)
	driver := strings.Fields(cfg.Assembler)
	if len(driver) == 0 {
		t.Skip("no assembler driver configured")
	}
	if _, err := exec.LookPath(driver[0]); err != nil {
		t.Skipf("assembler %q not available", cfg.Assembler)
	}

	tests := []struct {
		name  string
		src   string
		input string
		want  string
	}{
		{"echo one", ",.", "A", "A"},
		{"decrement wraps", "-.", "", "\xff"},
		{"clear then print", "+[-].", "", "\x00"},
		{"untouched cell", ">>>>.", "", "\x00"},
		{"hello", helloWorld, "", "Hello World!\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var interpOut bytes.Buffer
			if err := interp.New(cfg.TapeSize).Run(mustParse(t, tt.src), strings.NewReader(tt.input), &interpOut); err != nil {
				t.Fatalf("interpreter failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, interpOut.String()); diff != "" {
				t.Fatalf("interpreter output mismatch (-want +got):\n%s", diff)
			}

			asm, err := NewQBEBackend().Generate(lower(t, cfg, tt.src), cfg)
			if err != nil {
				t.Fatalf("Generate failed: %v", err)
			}
			dir := t.TempDir()
			obj := filepath.Join(dir, "main.o")
			bin := filepath.Join(dir, "main")
			if err := EmitObject(asm.String(), obj, cfg); err != nil {
				t.Fatalf("EmitObject failed: %v", err)
			}
			if err := Link(obj, bin, cfg); err != nil {
				t.Fatalf("Link failed: %v", err)
			}

			var stdout, stderr bytes.Buffer
			cmd := exec.Command(bin)
			cmd.Stdin = strings.NewReader(tt.input)
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr
			if err := cmd.Run(); err != nil {
				t.Fatalf("running %s: %v\n%s", bin, err, stderr.String())
			}
			if diff := cmp.Diff(interpOut.String(), stdout.String()); diff != "" {
				t.Errorf("native output mismatch (-interp +native):\n%s", diff)
			}
		})
	}
}
