package codegen

import (
	"fmt"

	"github.com/xplshn/gbf/pkg/ast"
	"github.com/xplshn/gbf/pkg/ir"
)

// VisitPrimitive lowers one straight-line command into the current block.
// The pointer is reloaded from its slot every time; nothing is cached in a
// temporary across commands.
func (ctx *Context) VisitPrimitive(node ast.Node) error {
	b := ctx.b
	switch node.Op {
	case ast.MoveRight, ast.MoveLeft:
		op := ir.OpAdd
		if node.Op == ast.MoveLeft {
			op = ir.OpSub
		}
		p := b.Load("p", ctx.word, ctx.ptr)
		moved := b.Binary("p", op, ctx.word, p, ctx.one())
		b.Store(ctx.word, moved, ctx.ptr)

	case ast.Increment, ast.Decrement:
		op := ir.OpAdd
		if node.Op == ast.Decrement {
			op = ir.OpSub
		}
		p := b.Load("p", ctx.word, ctx.ptr)
		c := b.Load("c", ir.TypeB, p)
		updated := b.Binary("c", op, ir.TypeW, c, ctx.one())
		// storeb keeps the low 8 bits, so 255+1 wraps to 0 and 0-1 to 255.
		b.Store(ir.TypeB, updated, p)

	case ast.Output:
		p := b.Load("p", ctx.word, ctx.ptr)
		c := b.Load("c", ir.TypeB, p)
		b.Call("w", ctx.writeByte, c)

	case ast.Input:
		in := b.Call("r", ctx.readByte)
		p := b.Load("p", ctx.word, ctx.ptr)
		b.Store(ir.TypeB, in, p)

	default:
		return fmt.Errorf("codegen: %s is not a primitive", node.Op)
	}
	return nil
}

// VisitLoop lowers a pre-test loop into header, body and continuation blocks.
//
//	prev:   ...; jmp header
//	header: c = *ptr; jnz c, body, cont
//	body:   ...children...; jmp header
//	cont:   (siblings continue here)
//
// The header is sealed only after the body has been lowered, once the back
// edge from the body's last block exists.
func (ctx *Context) VisitLoop(node ast.Node) error {
	b := ctx.b
	ctx.loops++

	prev := b.Current()
	header := b.CreateBlock("header")
	body := b.CreateBlock("body")
	cont := b.CreateBlock("cont")

	b.Jump(header)
	b.Seal(prev)

	b.SwitchTo(header)
	p := b.Load("p", ctx.word, ctx.ptr)
	c := b.Load("c", ir.TypeB, p)
	b.Branch(c, body, cont)
	// Only the header reaches these two.
	b.Seal(body)
	b.Seal(cont)

	b.SwitchTo(body)
	if err := ast.Walk(ctx, node.Body); err != nil {
		return err
	}

	b.Jump(header)
	b.Seal(b.Current())
	b.Seal(header)

	b.SwitchTo(cont)
	return nil
}
