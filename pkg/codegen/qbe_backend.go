package codegen

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xplshn/gbf/pkg/config"
	"github.com/xplshn/gbf/pkg/ir"
)

type qbeBackend struct {
	out  *strings.Builder
	prog *ir.Program
	fn   *ir.Func
}

func NewQBEBackend() Backend { return &qbeBackend{} }

// GenerateIR prints prog as QBE intermediate language.
func (b *qbeBackend) GenerateIR(prog *ir.Program, cfg *config.Config) (string, error) {
	if len(prog.Funcs) == 0 {
		return "", fmt.Errorf("qbe: program has no functions")
	}
	var qbeIRBuilder strings.Builder
	b.out = &qbeIRBuilder
	b.prog = prog

	for _, fn := range prog.Funcs {
		if err := b.genFunc(fn); err != nil {
			return "", err
		}
	}
	return qbeIRBuilder.String(), nil
}

func (b *qbeBackend) genFunc(fn *ir.Func) error {
	b.fn = fn
	ir.Verify(fn)

	retTypeStr := b.formatType(fn.ReturnType)
	if retTypeStr != "" {
		retTypeStr = " " + retTypeStr
	}
	linkage := ""
	if fn.Exported {
		linkage = "export "
	}
	fmt.Fprintf(b.out, "%sfunction%s $%s() {\n", linkage, retTypeStr, fn.Name)

	// The entry block must print first; the rest keep creation order.
	b.genBlock(fn.Block(fn.Entry))
	for _, block := range fn.Blocks {
		if block.ID != fn.Entry {
			b.genBlock(block)
		}
	}

	b.out.WriteString("}\n")
	return nil
}

func (b *qbeBackend) genBlock(block *ir.BasicBlock) {
	fmt.Fprintf(b.out, "@%s\n", block.Label())
	for _, instr := range block.Instructions {
		b.genInstr(instr)
	}
}

func (b *qbeBackend) genInstr(instr *ir.Instruction) {
	b.out.WriteString("\t")
	switch instr.Op {
	case ir.OpCall:
		b.genCall(instr)
		return
	case ir.OpJmp:
		fmt.Fprintf(b.out, "jmp %s\n", b.blockRef(instr.Targets[0]))
		return
	case ir.OpJnz:
		fmt.Fprintf(b.out, "jnz %s, %s, %s\n", b.formatValue(instr.Args[0]), b.blockRef(instr.Targets[0]), b.blockRef(instr.Targets[1]))
		return
	}

	if instr.Result != nil {
		resultType := instr.Typ
		switch {
		case instr.Op == ir.OpLoad && instr.Typ == ir.TypeB:
			resultType = ir.TypeW
		case instr.Op == ir.OpCULt:
			resultType = ir.TypeW
		}
		fmt.Fprintf(b.out, "%s =%s ", b.formatValue(instr.Result), b.formatType(resultType))
	}

	b.out.WriteString(b.formatOp(instr))
	for i, arg := range instr.Args {
		b.out.WriteString(" ")
		b.out.WriteString(b.formatValue(arg))
		if i < len(instr.Args)-1 {
			b.out.WriteString(",")
		}
	}
	b.out.WriteString("\n")
}

func (b *qbeBackend) genCall(instr *ir.Instruction) {
	if instr.Result != nil {
		fmt.Fprintf(b.out, "%s =%s ", b.formatValue(instr.Result), b.formatType(instr.Typ))
	}
	fmt.Fprintf(b.out, "call %s(", b.formatValue(instr.Args[0]))
	for i, arg := range instr.Args[1:] {
		argType := instr.ArgTypes[i]
		if argType == ir.TypeB {
			argType = ir.TypeW
		}
		fmt.Fprintf(b.out, "%s %s", b.formatType(argType), b.formatValue(arg))
		if i < len(instr.Args)-2 {
			b.out.WriteString(", ")
		}
	}
	b.out.WriteString(")\n")
}

func (b *qbeBackend) blockRef(id ir.BlockID) string { return "@" + b.fn.Block(id).Label() }

func (b *qbeBackend) formatValue(v ir.Value) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case *ir.Const:
		return fmt.Sprintf("%d", val.Value)
	case *ir.Global:
		return "$" + val.Name
	case *ir.Temporary:
		return "%" + val.String()
	default:
		return ""
	}
}

func (b *qbeBackend) formatType(t ir.Type) string {
	switch t {
	case ir.TypeB:
		return "b"
	case ir.TypeW:
		return "w"
	case ir.TypeL:
		return "l"
	case ir.TypePtr:
		return b.formatType(b.prog.WordType())
	default:
		return ""
	}
}

func (b *qbeBackend) formatOp(instr *ir.Instruction) string {
	switch instr.Op {
	case ir.OpAlloc:
		if instr.Align <= 4 {
			return "alloc4"
		}
		if instr.Align <= 8 {
			return "alloc8"
		}
		return "alloc16"
	case ir.OpLoad:
		switch instr.Typ {
		case ir.TypeB:
			return "loadub"
		case ir.TypePtr:
			return "load" + b.formatType(b.prog.WordType())
		default:
			return "load" + b.formatType(instr.Typ)
		}
	case ir.OpStore:
		return "store" + b.formatType(instr.Typ)
	case ir.OpAdd:
		return "add"
	case ir.OpSub:
		return "sub"
	case ir.OpCULt:
		return "cult" + b.formatType(instr.OperandType)
	case ir.OpRet:
		return "ret"
	default:
		return "unknown_op"
	}
}

// declareImports lists every import as an undefined global so it reaches the
// object's symbol table even when no call site references it.
func declareImports(asm *bytes.Buffer, prog *ir.Program, cfg *config.Config) {
	prefix := ""
	if strings.HasSuffix(cfg.QbeTarget, "_apple") {
		prefix = "_"
	}
	for _, imp := range prog.Imports {
		fmt.Fprintf(asm, ".globl %s%s\n", prefix, imp.Name)
	}
}
