package codegen

import (
	"github.com/xplshn/gbf/pkg/ast"
	"github.com/xplshn/gbf/pkg/config"
	"github.com/xplshn/gbf/pkg/token"
	"github.com/xplshn/gbf/pkg/util"
)

// Diagnostic is a warning about the source program. It never changes what is generated.
type Diagnostic struct {
	Warning config.Warning
	Tok     token.Token
	Msg     string
}

type linter struct {
	cfg   *config.Config
	diags []Diagnostic

	// cellZero is true while the current cell is provably zero.
	cellZero bool
	// offset is the static pointer offset from cell 0; valid only while tracking.
	offset   int
	tracking bool
	depth    int
}

// Lint inspects prog for the enabled warnings, in source order.
func Lint(prog ast.Program, cfg *config.Config) []Diagnostic {
	l := &linter{cfg: cfg, cellZero: true, tracking: true}
	_ = ast.Walk(l, prog)
	return l.diags
}

// ReportDiagnostics prints diags through util.Warn.
func ReportDiagnostics(diags []Diagnostic, cfg *config.Config) {
	for _, d := range diags {
		util.Warn(cfg, d.Warning, d.Tok, "%s", d.Msg)
	}
}

func (l *linter) warn(w config.Warning, tok token.Token, msg string) {
	if l.cfg.IsWarningEnabled(w) {
		l.diags = append(l.diags, Diagnostic{Warning: w, Tok: tok, Msg: msg})
	}
}

func (l *linter) VisitPrimitive(node ast.Node) error {
	switch node.Op {
	case ast.MoveRight, ast.MoveLeft:
		// Untouched cells start at zero, but we do not track which were touched.
		l.cellZero = false
		if l.tracking && l.depth == 0 {
			if node.Op == ast.MoveRight {
				l.offset++
			} else {
				l.offset--
			}
			if l.offset < 0 {
				l.warn(config.WarnTapeUnderflow, node.Tok, "pointer moves left of the first tape cell")
				l.tracking = false
			}
		}
	case ast.Increment, ast.Decrement, ast.Input:
		l.cellZero = false
	}
	return nil
}

func (l *linter) VisitLoop(node ast.Node) error {
	if l.depth == 0 {
		l.tracking = false
	}
	if l.cellZero {
		l.warn(config.WarnDeadLoop, node.Tok, "loop is never entered: the current cell is always zero here")
	} else if len(node.Body) == 0 {
		l.warn(config.WarnEmptyLoop, node.Tok, "empty loop never terminates if entered")
	}

	l.depth++
	l.cellZero = false
	err := ast.Walk(l, node.Body)
	l.depth--

	// A loop only exits on a zero cell.
	l.cellZero = true
	return err
}
