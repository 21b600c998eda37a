package codegen

import (
	"fmt"
	"strings"

	"github.com/xplshn/gbf/pkg/ast"
	"github.com/xplshn/gbf/pkg/config"
)

// cBackend transpiles the AST straight to a C translation unit with the same
// memory model and symbol binding as the native path.
type cBackend struct {
	out   strings.Builder
	cfg   *config.Config
	depth int
}

// TranspileC renders prog as C source.
func TranspileC(prog ast.Program, cfg *config.Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	g := &cBackend{cfg: cfg, depth: 1}

	fmt.Fprintf(&g.out, "int %s(int);\n", cfg.WriteSymbol)
	fmt.Fprintf(&g.out, "int %s(void);\n\n", cfg.ReadSymbol)
	fmt.Fprintf(&g.out, "int %s(void) {\n", cfg.EntrySymbol)
	g.line("unsigned char tape[%d] = {0};", cfg.TapeSize)
	g.line("unsigned char *ptr = tape;")
	g.out.WriteString("\n")

	if err := ast.Walk(g, prog); err != nil {
		return "", err
	}

	g.out.WriteString("\n")
	g.line("return 0;")
	g.out.WriteString("}\n")
	return g.out.String(), nil
}

func (g *cBackend) line(format string, args ...interface{}) {
	g.out.WriteString(strings.Repeat("    ", g.depth))
	fmt.Fprintf(&g.out, format, args...)
	g.out.WriteString("\n")
}

func (g *cBackend) VisitPrimitive(node ast.Node) error {
	switch node.Op {
	case ast.MoveRight:
		g.line("++ptr;")
	case ast.MoveLeft:
		g.line("--ptr;")
	case ast.Increment:
		g.line("++*ptr;")
	case ast.Decrement:
		g.line("--*ptr;")
	case ast.Output:
		g.line("%s(*ptr);", g.cfg.WriteSymbol)
	case ast.Input:
		g.line("*ptr = (unsigned char)%s();", g.cfg.ReadSymbol)
	default:
		return fmt.Errorf("c: %s is not a primitive", node.Op)
	}
	return nil
}

func (g *cBackend) VisitLoop(node ast.Node) error {
	g.line("while (*ptr) {")
	g.depth++
	err := ast.Walk(g, node.Body)
	g.depth--
	g.line("}")
	return err
}
