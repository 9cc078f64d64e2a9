package tasks

import "testing"

func TestAppendAndExecuteLocal_FIFOOrder(t *testing.T) {
	l := NewList()
	var order []int
	for i := 0; i < 100; i++ {
		i := i
		l.Append(Func(func() { order = append(order, i) }))
	}

	if l.Len() != 100 {
		t.Fatalf("Len() = %d, want 100", l.Len())
	}

	n := l.ExecuteLocal(100)
	if n != 100 {
		t.Fatalf("ExecuteLocal executed %d, want 100", n)
	}
	if l.Len() != 0 {
		t.Fatalf("Len() after drain = %d, want 0", l.Len())
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestExecuteLocal_PartialDrain(t *testing.T) {
	l := NewList()
	ran := 0
	for i := 0; i < 10; i++ {
		l.Append(Func(func() { ran++ }))
	}

	n := l.ExecuteLocal(4)
	if n != 4 || ran != 4 {
		t.Fatalf("ExecuteLocal(4) = %d (ran=%d), want 4", n, ran)
	}
	if l.Len() != 6 {
		t.Fatalf("Len() = %d, want 6", l.Len())
	}
}

func TestExecuteLocal_RunsCompleteWithExecuteResult(t *testing.T) {
	l := NewList()
	var got uintptr
	l.Append(Task{
		Arg:     7,
		Execute: func(arg uintptr) uintptr { return arg * 2 },
		Complete: func(arg, result uintptr) {
			got = result
		},
	})
	l.ExecuteLocal(1)
	if got != 14 {
		t.Fatalf("Complete received %d, want 14", got)
	}
}

func TestAppendAcrossMultipleChunks(t *testing.T) {
	l := NewList()
	const n = chunkSize*3 + 5
	for i := 0; i < n; i++ {
		l.Append(Func(func() {}))
	}
	if l.Len() != n {
		t.Fatalf("Len() = %d, want %d", l.Len(), n)
	}
	executed := l.ExecuteLocal(n)
	if executed != n {
		t.Fatalf("ExecuteLocal drained %d, want %d", executed, n)
	}
}

func TestPopChunkAndPushChunk(t *testing.T) {
	src := NewList()
	for i := 0; i < chunkSize+10; i++ {
		i := i
		src.Append(Func(func() { _ = i }))
	}

	chunk := src.PopChunk(1)
	if len(chunk) != chunkSize {
		t.Fatalf("PopChunk() returned %d tasks, want %d (one full chunk)", len(chunk), chunkSize)
	}
	if src.Len() != 10 {
		t.Fatalf("src.Len() after PopChunk = %d, want 10", src.Len())
	}

	dst := NewList()
	dst.PushChunk(chunk)
	if dst.Len() != chunkSize {
		t.Fatalf("dst.Len() after PushChunk = %d, want %d", dst.Len(), chunkSize)
	}
}

func TestPopChunkOnEmptyListReturnsEmpty(t *testing.T) {
	l := NewList()
	chunk := l.PopChunk(1)
	if len(chunk) != 0 {
		t.Fatalf("PopChunk() on empty list returned %d tasks, want 0", len(chunk))
	}
}

// TestPopChunkStopsAtFirstIneligibleTask is testable property 8: a
// PopChunk walk transfers only the eligible prefix of the head and
// never reorders a later task ahead of an earlier ineligible one.
func TestPopChunkStopsAtFirstIneligibleTask(t *testing.T) {
	l := NewList()
	l.Append(Func(func() {}))                                                      // eligible
	l.Append(Func(func() {}))                                                      // eligible
	l.Append(Task{Execute: func(uintptr) uintptr { return 0 }, Reassign: func(uintptr, int) bool { return false }}) // ineligible
	l.Append(Func(func() {}))                                                      // would be eligible, but must not be reordered ahead

	chunk := l.PopChunk(5)
	if len(chunk) != 2 {
		t.Fatalf("PopChunk() returned %d tasks, want 2 (stop before the ineligible task)", len(chunk))
	}
	if l.Len() != 2 {
		t.Fatalf("src.Len() after PopChunk = %d, want 2 (ineligible task and the one behind it stay put)", l.Len())
	}
}

// TestPopChunkPassesTargetToReassign confirms the target id reaches
// each task's Reassign predicate unchanged.
func TestPopChunkPassesTargetToReassign(t *testing.T) {
	l := NewList()
	var seenTarget int
	l.Append(Task{
		Execute: func(uintptr) uintptr { return 0 },
		Reassign: func(arg uintptr, target int) bool {
			seenTarget = target
			return true
		},
	})
	l.PopChunk(42)
	if seenTarget != 42 {
		t.Fatalf("Reassign saw target %d, want 42", seenTarget)
	}
}
