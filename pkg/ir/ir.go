// Package ir is the function-local, basic-block intermediate representation
// the code generator lowers into before a backend prints it.
//
// Blocks live in an arena owned by their Func and are addressed by BlockID.
// Values are not threaded across blocks: anything that must survive a block
// boundary is kept in a stack slot and reloaded.
package ir

import "fmt"

type Op int

const (
	OpAlloc Op = iota
	OpLoad
	OpStore
	OpAdd
	OpSub
	OpCULt
	OpCall
	OpJmp
	OpJnz
	OpRet
)

var opNames = [...]string{
	OpAlloc: "alloc",
	OpLoad:  "load",
	OpStore: "store",
	OpAdd:   "add",
	OpSub:   "sub",
	OpCULt:  "cult",
	OpCall:  "call",
	OpJmp:   "jmp",
	OpJnz:   "jnz",
	OpRet:   "ret",
}

func (op Op) String() string {
	if op >= 0 && int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("op%d", int(op))
}

// IsTerminator reports whether op ends a basic block.
func (op Op) IsTerminator() bool { return op == OpJmp || op == OpJnz || op == OpRet }

type Type int

const (
	TypeNone Type = iota
	TypeB         // byte (8-bit); loads zero-extend into a word
	TypeW         // word (32-bit)
	TypeL         // long (64-bit)
	TypePtr       // address-sized, resolved against the program word size
)

type Value interface {
	isValue()
	String() string
}

type Const struct{ Value int64 }
type Global struct{ Name string }
type Temporary struct {
	Name string
	ID   int
}

func (c *Const) isValue()     {}
func (g *Global) isValue()    {}
func (t *Temporary) isValue() {}

func (c *Const) String() string  { return fmt.Sprintf("%d", c.Value) }
func (g *Global) String() string { return g.Name }
func (t *Temporary) String() string {
	if t.Name != "" {
		return fmt.Sprintf("%s.%d", t.Name, t.ID)
	}
	return fmt.Sprintf("t%d", t.ID)
}

// BlockID is a stable handle into Func.Blocks.
type BlockID int

// NoBlock is the zero state of the insertion cursor.
const NoBlock BlockID = -1

type Instruction struct {
	Op          Op
	Typ         Type
	OperandType Type
	Result      *Temporary
	Args        []Value
	ArgTypes    []Type
	Targets     []BlockID // jmp: [dest]; jnz: [nonzero, zero]
	Align       int
}

type BasicBlock struct {
	ID           BlockID
	Name         string
	Instructions []*Instruction
	Preds        []BlockID
	Sealed       bool
}

// Terminator returns the trailing control transfer, or nil if the block is still open.
func (bb *BasicBlock) Terminator() *Instruction {
	if n := len(bb.Instructions); n > 0 && bb.Instructions[n-1].Op.IsTerminator() {
		return bb.Instructions[n-1]
	}
	return nil
}

// Succs lists the blocks the terminator can transfer to, in branch order.
func (bb *BasicBlock) Succs() []BlockID {
	if term := bb.Terminator(); term != nil {
		return term.Targets
	}
	return nil
}

// Label is the block's name in printed IR.
func (bb *BasicBlock) Label() string { return fmt.Sprintf("%s.%d", bb.Name, bb.ID) }

type Func struct {
	Name       string
	ReturnType Type
	Exported   bool
	Blocks     []*BasicBlock
	Entry      BlockID
	TempCount  int
}

// Block resolves a handle, panicking on a dangling one.
func (fn *Func) Block(id BlockID) *BasicBlock {
	if id < 0 || int(id) >= len(fn.Blocks) {
		invariant(fn, nil, "unknown block id %d", id)
	}
	return fn.Blocks[id]
}

// Import is a function declared here and resolved by the linker.
type Import struct {
	Name   string
	Params []Type
	Ret    Type
}

// Ref is the callee operand for calls to the import.
func (imp *Import) Ref() *Global { return &Global{Name: imp.Name} }

func (imp *Import) sameSignature(params []Type, ret Type) bool {
	if imp.Ret != ret || len(imp.Params) != len(params) {
		return false
	}
	for i := range params {
		if imp.Params[i] != params[i] {
			return false
		}
	}
	return true
}

type Program struct {
	Funcs    []*Func
	Imports  []*Import
	WordSize int

	importIndex map[string]*Import
}

func NewProgram(wordSize int) *Program {
	return &Program{WordSize: wordSize, importIndex: make(map[string]*Import)}
}

// DeclareImport records an external function. Declaring a name twice returns
// the first declaration unchanged; the second signature is ignored.
func (p *Program) DeclareImport(name string, params []Type, ret Type) *Import {
	if p.importIndex == nil {
		p.importIndex = make(map[string]*Import)
	}
	if imp, ok := p.importIndex[name]; ok {
		return imp
	}
	imp := &Import{Name: name, Params: append([]Type(nil), params...), Ret: ret}
	p.importIndex[name] = imp
	p.Imports = append(p.Imports, imp)
	return imp
}

// LookupImport returns the import declared under name, if any.
func (p *Program) LookupImport(name string) (*Import, bool) {
	imp, ok := p.importIndex[name]
	return imp, ok
}

// ConflictingImport reports whether name was declared with a different signature.
func (p *Program) ConflictingImport(name string, params []Type, ret Type) bool {
	imp, ok := p.importIndex[name]
	return ok && !imp.sameSignature(params, ret)
}

func (p *Program) FindFunc(name string) *Func {
	for _, f := range p.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// WordType is the integer type matching the program's address width.
func (p *Program) WordType() Type {
	if p.WordSize == 4 {
		return TypeW
	}
	return TypeL
}

func SizeOfType(t Type, wordSize int) int64 {
	switch t {
	case TypeB:
		return 1
	case TypeW:
		return 4
	case TypeL:
		return 8
	default:
		return int64(wordSize)
	}
}
