package codegen

import (
	"github.com/xplshn/gbf/pkg/ir"
	"github.com/xplshn/gbf/pkg/util"
)

// zeroChunk is the width of each store in the tape-clearing loop.
const zeroChunk = 8

// allocMemory reserves the tape and the pointer slot in the entry block and
// clears the tape. Clearing is a three-block prologue (start, zero, ready)
// that uses the pointer slot as its cursor, so the generated object needs no
// memset import. When it returns, the cursor sits in the sealed "ready" block
// with the pointer slot holding the tape base.
func (ctx *Context) allocMemory() {
	b := ctx.b
	size := util.AlignUp(int64(ctx.cfg.TapeSize), zeroChunk)
	wordSize := int(ir.SizeOfType(ctx.word, ctx.prog.WordSize))

	entry := b.CreateBlock("start")
	zero := b.CreateBlock("zero")
	ready := b.CreateBlock("ready")

	b.SwitchTo(entry)
	ctx.tape = b.Alloc("tape", size, ctx.cfg.StackAlignment)
	ctx.ptr = b.Alloc("ptr", int64(wordSize), wordSize)
	end := b.Binary("tape.end", ir.OpAdd, ctx.word, ctx.tape, &ir.Const{Value: size})
	b.Store(ctx.word, ctx.tape, ctx.ptr)
	b.Jump(zero)
	b.Seal(entry)

	b.SwitchTo(zero)
	cur := b.Load("cur", ctx.word, ctx.ptr)
	b.Store(ir.TypeL, &ir.Const{Value: 0}, cur)
	next := b.Binary("next", ir.OpAdd, ctx.word, cur, &ir.Const{Value: zeroChunk})
	b.Store(ctx.word, next, ctx.ptr)
	more := b.CULt("more", ctx.word, next, end)
	b.Branch(more, zero, ready)
	b.Seal(zero)
	b.Seal(ready)

	b.SwitchTo(ready)
	b.Store(ctx.word, ctx.tape, ctx.ptr)
}
