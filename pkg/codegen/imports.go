package codegen

import (
	"fmt"

	"github.com/xplshn/gbf/pkg/ir"
)

// Both runtime primitives follow the C putchar/getchar shape.
var (
	writeByteParams = []ir.Type{ir.TypeW}
	readByteParams  = []ir.Type(nil)
)

// bindImports declares the byte writer and byte reader before any
// instruction can reference them.
func (ctx *Context) bindImports() {
	ctx.writeByte = ctx.importFunc(ctx.cfg.WriteSymbol, writeByteParams, ir.TypeW)
	ctx.readByte = ctx.importFunc(ctx.cfg.ReadSymbol, readByteParams, ir.TypeW)
}

// importFunc returns the program's declaration of name, creating it on first
// use. A later declaration with a different signature keeps the first one.
func (ctx *Context) importFunc(name string, params []ir.Type, ret ir.Type) *ir.Import {
	if ctx.prog.ConflictingImport(name, params, ret) && ctx.cfg.Log != nil {
		fmt.Fprintf(ctx.cfg.Log, "gbf: warning: import '%s' redeclared with a different signature; keeping the first\n", name)
	}
	return ctx.prog.DeclareImport(name, params, ret)
}
