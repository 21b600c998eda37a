package ir

import (
	"fmt"
	"sort"
)

// InvariantError is raised (via panic) when the IR is built in a structurally
// invalid way. It always indicates a bug in the code generator, never in the
// program being compiled.
type InvariantError struct {
	Func  string
	Block string
	Msg   string
}

func (e *InvariantError) Error() string {
	where := e.Func
	if e.Block != "" {
		where += "@" + e.Block
	}
	return fmt.Sprintf("ir: internal invariant violated in %s: %s", where, e.Msg)
}

func invariant(fn *Func, bb *BasicBlock, format string, args ...interface{}) {
	e := &InvariantError{Msg: fmt.Sprintf(format, args...)}
	if fn != nil {
		e.Func = fn.Name
	}
	if bb != nil {
		e.Block = bb.Label()
	}
	panic(e)
}

// Builder appends instructions to one open block of a function at a time.
// It is owned by a single lowering pass and is not safe for concurrent use.
type Builder struct {
	fn       *Func
	current  BlockID
	pending  map[BlockID]bool
	wordType Type
}

func NewBuilder(fn *Func, wordType Type) *Builder {
	return &Builder{fn: fn, current: NoBlock, pending: make(map[BlockID]bool), wordType: wordType}
}

func (b *Builder) Func() *Func { return b.fn }

// WordType is the integer type used for addresses.
func (b *Builder) WordType() Type { return b.wordType }

// CreateBlock allocates an empty, unsealed block. The first block created is the entry.
func (b *Builder) CreateBlock(name string) BlockID {
	id := BlockID(len(b.fn.Blocks))
	b.fn.Blocks = append(b.fn.Blocks, &BasicBlock{ID: id, Name: name})
	if id == 0 {
		b.fn.Entry = id
	}
	b.pending[id] = true
	return id
}

// SwitchTo moves the insertion cursor.
func (b *Builder) SwitchTo(id BlockID) {
	b.fn.Block(id)
	b.current = id
}

// Current returns the block instructions are appended to, or NoBlock.
func (b *Builder) Current() BlockID { return b.current }

func (b *Builder) currentBlock() *BasicBlock {
	if b.current == NoBlock {
		invariant(b.fn, nil, "no current block to emit into")
	}
	return b.fn.Block(b.current)
}

// Emit appends instr to the tail of the current block. Terminators record
// their outgoing edges as predecessors of their targets.
func (b *Builder) Emit(instr *Instruction) {
	bb := b.currentBlock()
	if term := bb.Terminator(); term != nil {
		invariant(b.fn, bb, "%s emitted after terminator %s", instr.Op, term.Op)
	}
	switch instr.Op {
	case OpJmp:
		if len(instr.Targets) != 1 {
			invariant(b.fn, bb, "jmp needs exactly one target, got %d", len(instr.Targets))
		}
	case OpJnz:
		if len(instr.Targets) != 2 {
			invariant(b.fn, bb, "jnz needs exactly two targets, got %d", len(instr.Targets))
		}
	}
	for _, t := range instr.Targets {
		b.addEdge(bb, t)
	}
	bb.Instructions = append(bb.Instructions, instr)
}

func (b *Builder) addEdge(from *BasicBlock, to BlockID) {
	target := b.fn.Block(to)
	if target.Sealed {
		invariant(b.fn, from, "new predecessor for sealed block %s", target.Label())
	}
	target.Preds = append(target.Preds, from.ID)
}

// Seal declares that every predecessor of id is known. Sealing twice is a no-op.
func (b *Builder) Seal(id BlockID) {
	bb := b.fn.Block(id)
	if bb.Sealed {
		return
	}
	bb.Sealed = true
	delete(b.pending, id)
}

func (b *Builder) IsSealed(id BlockID) bool { return b.fn.Block(id).Sealed }

// Pending lists blocks that are not yet sealed, in creation order.
func (b *Builder) Pending() []BlockID {
	ids := make([]BlockID, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (b *Builder) NewTemp(name string) *Temporary {
	t := &Temporary{Name: name, ID: b.fn.TempCount}
	b.fn.TempCount++
	return t
}

// Alloc reserves size bytes of stack storage that lives until the function returns.
func (b *Builder) Alloc(name string, size int64, align int) *Temporary {
	res := b.NewTemp(name)
	b.Emit(&Instruction{Op: OpAlloc, Typ: TypePtr, Result: res, Args: []Value{&Const{Value: size}}, Align: align})
	return res
}

func (b *Builder) Load(name string, typ Type, addr Value) *Temporary {
	res := b.NewTemp(name)
	b.Emit(&Instruction{Op: OpLoad, Typ: typ, Result: res, Args: []Value{addr}})
	return res
}

func (b *Builder) Store(typ Type, val, addr Value) {
	b.Emit(&Instruction{Op: OpStore, Typ: typ, Args: []Value{val, addr}})
}

func (b *Builder) Binary(name string, op Op, typ Type, x, y Value) *Temporary {
	res := b.NewTemp(name)
	b.Emit(&Instruction{Op: op, Typ: typ, OperandType: typ, Result: res, Args: []Value{x, y}})
	return res
}

// CULt compares two operandType values as unsigned; the result is a word.
func (b *Builder) CULt(name string, operandType Type, x, y Value) *Temporary {
	res := b.NewTemp(name)
	b.Emit(&Instruction{Op: OpCULt, Typ: TypeW, OperandType: operandType, Result: res, Args: []Value{x, y}})
	return res
}

// Call invokes an imported function. Callers may ignore the returned temporary;
// it is nil when the import returns nothing.
func (b *Builder) Call(name string, imp *Import, args ...Value) *Temporary {
	if len(args) != len(imp.Params) {
		invariant(b.fn, b.currentBlock(), "call to %s with %d args, declared with %d", imp.Name, len(args), len(imp.Params))
	}
	var res *Temporary
	if imp.Ret != TypeNone {
		res = b.NewTemp(name)
	}
	b.Emit(&Instruction{
		Op: OpCall, Typ: imp.Ret, Result: res,
		Args:     append([]Value{imp.Ref()}, args...),
		ArgTypes: append([]Type(nil), imp.Params...),
	})
	return res
}

func (b *Builder) Jump(target BlockID) {
	b.Emit(&Instruction{Op: OpJmp, Targets: []BlockID{target}})
}

// Branch transfers to nonzero when cond != 0 and to zero otherwise.
func (b *Builder) Branch(cond Value, nonzero, zero BlockID) {
	b.Emit(&Instruction{Op: OpJnz, Args: []Value{cond}, Targets: []BlockID{nonzero, zero}})
}

func (b *Builder) Ret(typ Type, val Value) {
	instr := &Instruction{Op: OpRet, Typ: typ}
	if val != nil {
		instr.Args = []Value{val}
	}
	b.Emit(instr)
}

// Finalize verifies the function and detaches the builder from it.
func (b *Builder) Finalize() *Func {
	if pending := b.Pending(); len(pending) > 0 {
		invariant(b.fn, b.fn.Block(pending[0]), "finalized with %d unsealed block(s)", len(pending))
	}
	Verify(b.fn)
	b.current = NoBlock
	return b.fn
}
