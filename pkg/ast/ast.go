// Package ast defines the types used to represent the Abstract Syntax Tree (AST)
// and the single traversal every backend is built on.
package ast

import (
	"fmt"
	"strings"

	"github.com/xplshn/gbf/pkg/token"
)

// Op defines the kind of a node in the AST
type Op int

// Node kinds enum
const (
	// Primitives
	MoveRight Op = iota
	MoveLeft
	Increment
	Decrement
	Output
	Input

	// Structure
	Loop
)

var opNames = [...]string{
	MoveRight: "MoveRight",
	MoveLeft:  "MoveLeft",
	Increment: "Increment",
	Decrement: "Decrement",
	Output:    "Output",
	Input:     "Input",
	Loop:      "Loop",
}

var opChars = [...]byte{
	MoveRight: '>',
	MoveLeft:  '<',
	Increment: '+',
	Decrement: '-',
	Output:    '.',
	Input:     ',',
}

func (op Op) String() string {
	if op >= 0 && int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", int(op))
}

// IsPrimitive reports whether op is one of the six straight-line commands.
func (op Op) IsPrimitive() bool { return op >= MoveRight && op <= Input }

// Node is either a primitive command or a loop over Body.
type Node struct {
	Op   Op
	Tok  token.Token
	Body Program // only for Loop
}

// Program is an ordered sequence of nodes; order is execution order.
type Program []Node

// Prim builds a primitive node without source position, mostly for tests.
func Prim(op Op) Node { return Node{Op: op} }

// LoopOf builds a loop node over the given body.
func LoopOf(body ...Node) Node { return Node{Op: Loop, Body: Program(body)} }

// Walker is the capability pair a backend provides to the shared traversal.
// VisitLoop owns recursion: it calls Walk(w, node.Body) where the body belongs.
type Walker interface {
	VisitPrimitive(node Node) error
	VisitLoop(node Node) error
}

// Walk visits every top-level node of p in order, dispatching on node kind.
// It stops at the first error.
func Walk(w Walker, p Program) error {
	for _, node := range p {
		var err error
		if node.Op == Loop {
			err = w.VisitLoop(node)
		} else {
			err = w.VisitPrimitive(node)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Funcs adapts a pair of closures to Walker.
type Funcs struct {
	Primitive func(node Node) error
	Loop      func(node Node) error
}

func (f Funcs) VisitPrimitive(node Node) error {
	if f.Primitive == nil {
		return nil
	}
	return f.Primitive(node)
}

func (f Funcs) VisitLoop(node Node) error {
	if f.Loop == nil {
		return nil
	}
	return f.Loop(node)
}

// Stats summarizes a program's shape.
type Stats struct {
	Primitives int
	Loops      int
	MaxDepth   int
}

// Measure walks p and counts nodes and nesting depth.
func Measure(p Program) Stats {
	var s Stats
	depth := 0
	var w Funcs
	w = Funcs{
		Primitive: func(Node) error { s.Primitives++; return nil },
		Loop: func(n Node) error {
			s.Loops++
			depth++
			if depth > s.MaxDepth {
				s.MaxDepth = depth
			}
			err := Walk(w, n.Body)
			depth--
			return err
		},
	}
	_ = Walk(w, p)
	return s
}

// String renders the program back to canonical source with comments stripped.
func (p Program) String() string {
	var sb strings.Builder
	var w Funcs
	w = Funcs{
		Primitive: func(n Node) error { sb.WriteByte(opChars[n.Op]); return nil },
		Loop: func(n Node) error {
			sb.WriteByte('[')
			err := Walk(w, n.Body)
			sb.WriteByte(']')
			return err
		},
	}
	_ = Walk(w, p)
	return sb.String()
}

// Dump renders an indented tree, one node per line.
func (p Program) Dump() string {
	var sb strings.Builder
	depth := 0
	var w Funcs
	w = Funcs{
		Primitive: func(n Node) error {
			fmt.Fprintf(&sb, "%s%s\n", strings.Repeat("  ", depth), n.Op)
			return nil
		},
		Loop: func(n Node) error {
			fmt.Fprintf(&sb, "%sLoop {\n", strings.Repeat("  ", depth))
			depth++
			err := Walk(w, n.Body)
			depth--
			fmt.Fprintf(&sb, "%s}\n", strings.Repeat("  ", depth))
			return err
		},
	}
	_ = Walk(w, p)
	return sb.String()
}
