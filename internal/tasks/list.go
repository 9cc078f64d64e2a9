// Package tasks implements the chunked FIFO task list each context
// drains in its scheduler loop, plus the load-balancing policy that
// moves work between contexts when one runs dry and another backs up
// (§4.3).
//
// A List is owned by exactly one context and is never touched from
// another thread directly: cross-context rebalancing always goes
// through an async call (internal/rcontext) so the owning thread
// performs the actual chunk move, preserving the runtime's rule that
// the MPMC ring is the only cross-thread synchronization primitive.
package tasks

// Task is the vtable/argument pair a context's task list stores (§3
// "Task vtable": execute(arg)->value, complete(arg,value),
// reassign(arg,target)->bool). Execute runs locally and returns a
// result value; Complete (optional) receives that value; Reassign
// (optional, default-eligible if nil) gates whether this task may be
// moved to another context during load balancing.
type Task struct {
	Arg      uintptr
	Execute  func(arg uintptr) uintptr
	Complete func(arg, result uintptr)
	Reassign func(arg uintptr, target int) bool
}

// Func wraps a plain closure as an always-reassignable Task, for
// callers with no result value or per-peer reassign policy of their
// own.
func Func(fn func()) Task {
	return Task{Execute: func(uintptr) uintptr {
		fn()
		return 0
	}}
}

// chunkSize is the number of tasks per chunk node, and also the
// MAX_SEND cap on how many head slots a single PopChunk walk inspects.
// Chosen so a chunk move (PopChunk/PushChunk) carries a meaningful batch of
// work without holding more than one chunk's worth of memory idle
// between uses.
const chunkSize = 32

type chunk struct {
	tasks      [chunkSize]Task
	head, tail int
	next       *chunk
}

func (c *chunk) len() int { return c.tail - c.head }
func (c *chunk) full() bool {
	return c.tail == chunkSize
}
func (c *chunk) empty() bool {
	return c.head == c.tail
}

// List is a singly-linked chain of fixed-size chunks implementing an
// O(1)-amortized FIFO. Appends go to the tail chunk; pops come from
// the head chunk. When the head chunk empties it is unlinked and
// returned to a small freelist.
type List struct {
	head, tail *chunk
	free       *chunk // one spare chunk kept to avoid reallocating on steady-state churn
	count      int
}

// NewList returns an empty task list.
func NewList() *List {
	c := &chunk{}
	return &List{head: c, tail: c}
}

// Len returns the number of tasks currently queued.
func (l *List) Len() int {
	return l.count
}

// Append enqueues a task at the tail of the list.
func (l *List) Append(t Task) {
	if l.tail.full() {
		next := l.allocChunk()
		l.tail.next = next
		l.tail = next
	}
	l.tail.tasks[l.tail.tail] = t
	l.tail.tail++
	l.count++
}

func (l *List) allocChunk() *chunk {
	if l.free != nil {
		c := l.free
		l.free = nil
		*c = chunk{}
		return c
	}
	return &chunk{}
}

// ExecuteLocal pops and runs up to max tasks from the head of the
// list, calling each task's Complete (if set) with its Execute result,
// and returns the number executed (§4.4 "Execute (locally)").
func (l *List) ExecuteLocal(max int) int {
	n := 0
	for n < max {
		t, ok := l.popFront()
		if !ok {
			break
		}
		result := t.Execute(t.Arg)
		if t.Complete != nil {
			t.Complete(t.Arg, result)
		}
		n++
	}
	return n
}

// peekFront returns the task at the head of the list without removing
// it, still unlinking any now-empty chunk along the way.
func (l *List) peekFront() (Task, bool) {
	for l.head.empty() {
		if l.head.next == nil {
			return Task{}, false
		}
		spent := l.head
		l.head = l.head.next
		if l.free == nil {
			l.free = spent
		}
	}
	return l.head.tasks[l.head.head], true
}

func (l *List) popFront() (Task, bool) {
	t, ok := l.peekFront()
	if !ok {
		return Task{}, false
	}
	l.head.tasks[l.head.head] = Task{}
	l.head.head++
	l.count--
	return t, true
}

// PopChunk removes up to chunkSize tasks from the head of the list and
// returns them as a slice, for handing a batch of work to the context
// identified by target (see PushChunk). It walks head slots one at a
// time, calling each task's Reassign(arg, target) and stopping at the
// first that returns false, so a non-reassignable task is never
// reordered past an earlier one (§8 testable property 8); a task with
// no Reassign func is always eligible. Returns an empty slice if the
// list is empty or its first task refuses reassignment.
func (l *List) PopChunk(target int) []Task {
	out := make([]Task, 0, chunkSize)
	for len(out) < chunkSize {
		t, ok := l.peekFront()
		if !ok {
			break
		}
		if t.Reassign != nil && !t.Reassign(t.Arg, target) {
			break
		}
		l.popFront()
		out = append(out, t)
	}
	return out
}

// PushChunk appends a batch of tasks (as produced by PopChunk) to the
// tail of the list, in order.
func (l *List) PushChunk(ts []Task) {
	for _, t := range ts {
		l.Append(t)
	}
}
