// Package interp executes a program tree directly. It is the reference the
// compiled output is compared against.
package interp

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/xplshn/gbf/pkg/ast"
	"github.com/xplshn/gbf/pkg/config"
)

// ErrTapeOverflow is returned when the pointer leaves the tape. Compiled code
// does not check this; the interpreter refuses to guess.
var ErrTapeOverflow = errors.New("pointer moved outside the tape")

// Interpreter holds a tape that persists across Run calls, which is what the
// interactive mode relies on.
type Interpreter struct {
	Tape []byte
	Ptr  int

	in  io.ByteReader
	out *bufio.Writer
}

func New(tapeSize int) *Interpreter {
	if tapeSize <= 0 {
		tapeSize = config.DefaultTapeSize
	}
	return &Interpreter{Tape: make([]byte, tapeSize)}
}

// Reset clears the tape and rewinds the pointer.
func (it *Interpreter) Reset() {
	for i := range it.Tape {
		it.Tape[i] = 0
	}
	it.Ptr = 0
}

// Run executes prog against the current tape. At end of input a read stores
// 255, the low byte of getchar's EOF, to match compiled programs.
func (it *Interpreter) Run(prog ast.Program, stdin io.Reader, stdout io.Writer) (err error) {
	br, ok := stdin.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(stdin)
	}
	it.in = br
	it.out = bufio.NewWriter(stdout)
	defer func() {
		if ferr := it.out.Flush(); err == nil && ferr != nil {
			err = ferr
		}
	}()
	return ast.Walk(it, prog)
}

func (it *Interpreter) VisitPrimitive(node ast.Node) error {
	switch node.Op {
	case ast.MoveRight:
		it.Ptr++
	case ast.MoveLeft:
		it.Ptr--
	case ast.Increment:
		if err := it.check(node); err != nil {
			return err
		}
		it.Tape[it.Ptr]++
	case ast.Decrement:
		if err := it.check(node); err != nil {
			return err
		}
		it.Tape[it.Ptr]--
	case ast.Output:
		if err := it.check(node); err != nil {
			return err
		}
		return it.out.WriteByte(it.Tape[it.Ptr])
	case ast.Input:
		if err := it.check(node); err != nil {
			return err
		}
		// Output written so far must be visible before blocking on input.
		if err := it.out.Flush(); err != nil {
			return err
		}
		c, err := it.in.ReadByte()
		switch {
		case errors.Is(err, io.EOF):
			it.Tape[it.Ptr] = 0xFF
		case err != nil:
			return err
		default:
			it.Tape[it.Ptr] = c
		}
	default:
		return fmt.Errorf("interp: %s is not a primitive", node.Op)
	}
	return nil
}

func (it *Interpreter) VisitLoop(node ast.Node) error {
	for {
		if err := it.check(node); err != nil {
			return err
		}
		if it.Tape[it.Ptr] == 0 {
			return nil
		}
		if err := ast.Walk(it, node.Body); err != nil {
			return err
		}
	}
}

// check faults on the first access outside the tape, not on the move itself,
// so "<>" at cell 0 stays legal.
func (it *Interpreter) check(node ast.Node) error {
	if it.Ptr < 0 || it.Ptr >= len(it.Tape) {
		return fmt.Errorf("%d:%d: %w (cell %d, tape size %d)", node.Tok.Line, node.Tok.Column, ErrTapeOverflow, it.Ptr, len(it.Tape))
	}
	return nil
}
