package codegen

import (
	"fmt"

	"github.com/xplshn/gbf/pkg/ast"
	"github.com/xplshn/gbf/pkg/config"
	"github.com/xplshn/gbf/pkg/ir"
)

// Context lowers one program into one exported IR function. It walks the AST
// through ast.Walk, so it is itself the native-code instance of ast.Walker.
// A Context is single use.
type Context struct {
	cfg  *config.Config
	prog *ir.Program
	b    *ir.Builder
	word ir.Type

	// Memory model: both slots are stack allocations of the entry function.
	tape *ir.Temporary
	ptr  *ir.Temporary

	writeByte *ir.Import
	readByte  *ir.Import

	loops int
	done  bool
}

func NewContext(cfg *config.Config) *Context {
	prog := ir.NewProgram(cfg.WordSize)
	return &Context{
		cfg:  cfg,
		prog: prog,
		word: prog.WordType(),
	}
}

// GenerateIR lowers prog into a verified IR program holding a single function
// named after the configured entry symbol. Structural mistakes in lowering
// panic with *ir.InvariantError; configuration problems are returned.
func (ctx *Context) GenerateIR(prog ast.Program) (*ir.Program, error) {
	if ctx.done {
		return nil, fmt.Errorf("codegen: context already used")
	}
	ctx.done = true
	if err := ctx.cfg.Validate(); err != nil {
		return nil, err
	}

	fn := &ir.Func{Name: ctx.cfg.EntrySymbol, ReturnType: ir.TypeW, Exported: true}
	ctx.b = ir.NewBuilder(fn, ctx.word)

	ctx.bindImports()
	ctx.allocMemory()

	if err := ast.Walk(ctx, prog); err != nil {
		return nil, err
	}

	ctx.b.Ret(ir.TypeW, &ir.Const{Value: 0})
	ctx.b.Seal(ctx.b.Current())

	ctx.prog.Funcs = append(ctx.prog.Funcs, ctx.b.Finalize())
	return ctx.prog, nil
}

// Loops reports how many loop constructs were lowered.
func (ctx *Context) Loops() int { return ctx.loops }

func (ctx *Context) one() ir.Value { return &ir.Const{Value: 1} }
