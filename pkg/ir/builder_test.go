package ir

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// expectInvariant runs f and fails unless it panics with an *InvariantError
// whose message contains substr.
func expectInvariant(t *testing.T, substr string, f func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatalf("expected a panic mentioning %q", substr)
		}
		ierr, ok := r.(*InvariantError)
		if !ok {
			t.Fatalf("panic value is %T, want *InvariantError", r)
		}
		msg := ierr.Error()
		if !strings.HasPrefix(msg, "ir: internal invariant violated in ") {
			t.Errorf("unexpected message prefix: %q", msg)
		}
		if !strings.Contains(msg, substr) {
			t.Errorf("message %q does not mention %q", msg, substr)
		}
	}()
	f()
}

func newTestBuilder() *Builder {
	return NewBuilder(&Func{Name: "f", ReturnType: TypeW}, TypeL)
}

func TestBuilderDiamond(t *testing.T) {
	b := newTestBuilder()
	entry := b.CreateBlock("entry")
	left := b.CreateBlock("left")
	right := b.CreateBlock("right")
	join := b.CreateBlock("join")

	b.SwitchTo(entry)
	b.Branch(&Const{Value: 1}, left, right)
	b.Seal(entry)
	b.Seal(left)
	b.Seal(right)

	b.SwitchTo(left)
	b.Jump(join)
	b.SwitchTo(right)
	b.Jump(join)
	b.Seal(join)

	b.SwitchTo(join)
	b.Ret(TypeW, &Const{Value: 0})

	fn := b.Finalize()
	if diff := cmp.Diff([]BlockID{left, right}, fn.Block(join).Preds); diff != "" {
		t.Errorf("join preds mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]BlockID{left, right}, fn.Block(entry).Succs()); diff != "" {
		t.Errorf("entry succs mismatch (-want +got):\n%s", diff)
	}
	if fn.Entry != entry {
		t.Errorf("entry = %d, want %d", fn.Entry, entry)
	}
}

func TestSealIsIdempotent(t *testing.T) {
	b := newTestBuilder()
	id := b.CreateBlock("only")
	b.Seal(id)
	b.Seal(id)
	if !b.IsSealed(id) {
		t.Fatal("block should be sealed")
	}
	if len(b.Pending()) != 0 {
		t.Errorf("pending = %v, want none", b.Pending())
	}
}

func TestPendingInCreationOrder(t *testing.T) {
	b := newTestBuilder()
	a := b.CreateBlock("a")
	c := b.CreateBlock("c")
	d := b.CreateBlock("d")
	b.Seal(c)
	if diff := cmp.Diff([]BlockID{a, d}, b.Pending()); diff != "" {
		t.Errorf("pending mismatch (-want +got):\n%s", diff)
	}
}

func TestBuilderInvariants(t *testing.T) {
	t.Run("edge into sealed block", func(t *testing.T) {
		b := newTestBuilder()
		entry := b.CreateBlock("entry")
		target := b.CreateBlock("target")
		b.Seal(target)
		b.SwitchTo(entry)
		expectInvariant(t, "sealed block target.1", func() { b.Jump(target) })
	})

	t.Run("emit after terminator", func(t *testing.T) {
		b := newTestBuilder()
		entry := b.CreateBlock("entry")
		b.SwitchTo(entry)
		b.Ret(TypeW, &Const{Value: 0})
		expectInvariant(t, "after terminator", func() { b.Ret(TypeW, &Const{Value: 1}) })
	})

	t.Run("emit without block", func(t *testing.T) {
		b := newTestBuilder()
		expectInvariant(t, "no current block", func() { b.Ret(TypeW, nil) })
	})

	t.Run("finalize with unsealed block", func(t *testing.T) {
		b := newTestBuilder()
		entry := b.CreateBlock("entry")
		b.SwitchTo(entry)
		b.Ret(TypeW, &Const{Value: 0})
		expectInvariant(t, "unsealed", func() { b.Finalize() })
	})

	t.Run("call arity", func(t *testing.T) {
		b := newTestBuilder()
		b.SwitchTo(b.CreateBlock("entry"))
		imp := &Import{Name: "putchar", Params: []Type{TypeW}, Ret: TypeW}
		expectInvariant(t, "with 0 args", func() { b.Call("r", imp) })
	})

	t.Run("unknown block", func(t *testing.T) {
		b := newTestBuilder()
		expectInvariant(t, "unknown block id 7", func() { b.SwitchTo(BlockID(7)) })
	})
}

func TestVerifyRejectsBrokenFunctions(t *testing.T) {
	t.Run("missing terminator", func(t *testing.T) {
		fn := &Func{Name: "f", Blocks: []*BasicBlock{{ID: 0, Name: "entry", Sealed: true}}}
		expectInvariant(t, "no terminator", func() { Verify(fn) })
	})

	t.Run("stale predecessor", func(t *testing.T) {
		ret := &Instruction{Op: OpRet}
		fn := &Func{Name: "f", Blocks: []*BasicBlock{
			{ID: 0, Name: "entry", Sealed: true, Instructions: []*Instruction{{Op: OpJmp, Targets: []BlockID{1}}}},
			{ID: 1, Name: "exit", Sealed: true, Preds: []BlockID{0, 0}, Instructions: []*Instruction{ret}},
		}}
		expectInvariant(t, "does not match", func() { Verify(fn) })
	})

	t.Run("entry with predecessor", func(t *testing.T) {
		fn := &Func{Name: "f", Blocks: []*BasicBlock{
			{ID: 0, Name: "entry", Sealed: true, Preds: []BlockID{0}, Instructions: []*Instruction{{Op: OpJmp, Targets: []BlockID{0}}}},
		}}
		expectInvariant(t, "entry block has predecessors", func() { Verify(fn) })
	})
}

func TestDeclareImportIsIdempotent(t *testing.T) {
	p := NewProgram(8)
	first := p.DeclareImport("putchar", []Type{TypeW}, TypeW)
	second := p.DeclareImport("putchar", []Type{TypeL}, TypeNone)

	if first != second {
		t.Error("second declaration should return the first import")
	}
	if len(p.Imports) != 1 {
		t.Fatalf("got %d imports, want 1", len(p.Imports))
	}
	if diff := cmp.Diff([]Type{TypeW}, p.Imports[0].Params); diff != "" {
		t.Errorf("params changed (-want +got):\n%s", diff)
	}
	if !p.ConflictingImport("putchar", []Type{TypeL}, TypeNone) {
		t.Error("different signature should conflict")
	}
	if p.ConflictingImport("putchar", []Type{TypeW}, TypeW) {
		t.Error("same signature should not conflict")
	}
	if _, ok := p.LookupImport("getchar"); ok {
		t.Error("getchar was never declared")
	}
}
