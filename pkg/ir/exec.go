package ir

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// External implements an imported function for Exec.
type External func(args []int64) int64

// ExecOptions configures Exec.
type ExecOptions struct {
	Externals map[string]External
	WordSize  int
	// MaxSteps bounds the number of executed instructions; 0 means unbounded.
	MaxSteps int
}

var (
	ErrStepLimit = errors.New("ir: step limit exceeded")
	ErrFault     = errors.New("ir: memory access out of bounds")
)

// stackBase keeps address 0 invalid so a zero pointer faults.
const stackBase = 0x1000

type machine struct {
	fn       *Func
	mem      []byte
	temps    []int64
	wordSize int
	opts     ExecOptions
}

// allocFill is the byte new stack allocations start out holding, so code that
// reads storage it never wrote sees garbage, as it would on hardware.
const allocFill = 0xA5

// Exec runs a finalized function on a simulated stack and returns its result.
// Stack allocations are not zeroed.
func Exec(fn *Func, opts ExecOptions) (int64, error) {
	m := &machine{fn: fn, temps: make([]int64, fn.TempCount), wordSize: opts.WordSize, opts: opts}
	if m.wordSize == 0 {
		m.wordSize = 8
	}

	steps := 0
	blk := fn.Block(fn.Entry)
	for {
		var next BlockID = NoBlock
		for _, instr := range blk.Instructions {
			steps++
			if opts.MaxSteps > 0 && steps > opts.MaxSteps {
				return 0, ErrStepLimit
			}
			switch instr.Op {
			case OpJmp:
				next = instr.Targets[0]
			case OpJnz:
				if m.value(instr.Args[0]) != 0 {
					next = instr.Targets[0]
				} else {
					next = instr.Targets[1]
				}
			case OpRet:
				if len(instr.Args) == 0 {
					return 0, nil
				}
				return m.value(instr.Args[0]), nil
			default:
				if err := m.step(instr); err != nil {
					return 0, fmt.Errorf("%s: %w", blk.Label(), err)
				}
			}
		}
		if next == NoBlock {
			return 0, fmt.Errorf("ir: block %s fell off without a terminator", blk.Label())
		}
		blk = fn.Block(next)
	}
}

func (m *machine) value(v Value) int64 {
	switch v := v.(type) {
	case *Const:
		return v.Value
	case *Temporary:
		return m.temps[v.ID]
	default:
		panic(fmt.Sprintf("ir: cannot evaluate %T", v))
	}
}

func (m *machine) set(t *Temporary, v int64) {
	if t != nil {
		m.temps[t.ID] = v
	}
}

func (m *machine) size(t Type) int { return int(SizeOfType(t, m.wordSize)) }

// wrap truncates v to the width of t, sign-extending the way a register would hold it.
func (m *machine) wrap(t Type, v int64) int64 {
	switch m.size(t) {
	case 1:
		return int64(uint8(v))
	case 4:
		return int64(int32(v))
	default:
		return v
	}
}

func (m *machine) cell(addr int64, n int) ([]byte, error) {
	off := addr - stackBase
	if off < 0 || off+int64(n) > int64(len(m.mem)) {
		return nil, fmt.Errorf("%w: address %#x size %d", ErrFault, addr, n)
	}
	return m.mem[off : off+int64(n)], nil
}

func (m *machine) step(instr *Instruction) error {
	switch instr.Op {
	case OpAlloc:
		size := m.value(instr.Args[0])
		align := int64(instr.Align)
		if align < 1 {
			align = 1
		}
		start := (int64(len(m.mem)) + align - 1) / align * align
		grown := make([]byte, start+size-int64(len(m.mem)))
		for i := range grown {
			grown[i] = allocFill
		}
		m.mem = append(m.mem, grown...)
		m.set(instr.Result, stackBase+start)
	case OpLoad:
		n := m.size(instr.Typ)
		buf, err := m.cell(m.value(instr.Args[0]), n)
		if err != nil {
			return err
		}
		m.set(instr.Result, decode(buf))
	case OpStore:
		n := m.size(instr.Typ)
		buf, err := m.cell(m.value(instr.Args[1]), n)
		if err != nil {
			return err
		}
		encode(buf, m.value(instr.Args[0]))
	case OpAdd:
		m.set(instr.Result, m.wrap(instr.Typ, m.value(instr.Args[0])+m.value(instr.Args[1])))
	case OpSub:
		m.set(instr.Result, m.wrap(instr.Typ, m.value(instr.Args[0])-m.value(instr.Args[1])))
	case OpCULt:
		mask := uint64(1)<<(8*uint(m.size(instr.OperandType))) - 1
		if m.size(instr.OperandType) == 8 {
			mask = ^uint64(0)
		}
		x, y := uint64(m.value(instr.Args[0]))&mask, uint64(m.value(instr.Args[1]))&mask
		if x < y {
			m.set(instr.Result, 1)
		} else {
			m.set(instr.Result, 0)
		}
	case OpCall:
		callee, ok := instr.Args[0].(*Global)
		if !ok {
			return fmt.Errorf("ir: indirect call through %s", instr.Args[0])
		}
		ext, ok := m.opts.Externals[callee.Name]
		if !ok {
			return fmt.Errorf("ir: unresolved external '%s'", callee.Name)
		}
		args := make([]int64, 0, len(instr.Args)-1)
		for i, a := range instr.Args[1:] {
			args = append(args, m.wrap(instr.ArgTypes[i], m.value(a)))
		}
		m.set(instr.Result, m.wrap(instr.Typ, ext(args)))
	default:
		return fmt.Errorf("ir: cannot execute %s", instr.Op)
	}
	return nil
}

func decode(buf []byte) int64 {
	switch len(buf) {
	case 1:
		return int64(buf[0])
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(buf)))
	default:
		return int64(binary.LittleEndian.Uint64(buf))
	}
}

func encode(buf []byte, v int64) {
	switch len(buf) {
	case 1:
		buf[0] = byte(v)
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(v))
	default:
		binary.LittleEndian.PutUint64(buf, uint64(v))
	}
}

// StdioExternals binds a C-style putchar/getchar pair to in and out.
// The reader returns -1 at end of input, like getchar.
func StdioExternals(writeName, readName string, in io.Reader, out io.Writer) map[string]External {
	br := bufio.NewReader(in)
	return map[string]External{
		writeName: func(args []int64) int64 {
			c := byte(args[0])
			if _, err := out.Write([]byte{c}); err != nil {
				return -1
			}
			return int64(c)
		},
		readName: func([]int64) int64 {
			c, err := br.ReadByte()
			if err != nil {
				return -1
			}
			return int64(c)
		},
	}
}
