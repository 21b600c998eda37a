package ir

// Verify panics with an *InvariantError unless every block of fn is sealed,
// ends in exactly one terminator, and has a predecessor list that matches the
// edges recorded by the terminators.
func Verify(fn *Func) {
	if len(fn.Blocks) == 0 {
		invariant(fn, nil, "function has no blocks")
	}

	want := make([]map[BlockID]int, len(fn.Blocks))
	for i := range want {
		want[i] = make(map[BlockID]int)
	}

	for _, bb := range fn.Blocks {
		if !bb.Sealed {
			invariant(fn, bb, "block is not sealed")
		}
		term := bb.Terminator()
		if term == nil {
			invariant(fn, bb, "block has no terminator")
		}
		for i, instr := range bb.Instructions[:len(bb.Instructions)-1] {
			if instr.Op.IsTerminator() {
				invariant(fn, bb, "terminator %s at position %d is not last", instr.Op, i)
			}
		}
		for _, t := range term.Targets {
			want[fn.Block(t).ID][bb.ID]++
		}
	}

	for _, bb := range fn.Blocks {
		got := make(map[BlockID]int)
		for _, p := range bb.Preds {
			got[p]++
		}
		if len(got) != len(want[bb.ID]) {
			invariant(fn, bb, "predecessor list %v does not match incoming edges", bb.Preds)
		}
		for p, n := range want[bb.ID] {
			if got[p] != n {
				invariant(fn, bb, "predecessor list %v does not match incoming edges", bb.Preds)
			}
		}
	}

	if len(fn.Block(fn.Entry).Preds) != 0 {
		invariant(fn, fn.Block(fn.Entry), "entry block has predecessors")
	}
}
