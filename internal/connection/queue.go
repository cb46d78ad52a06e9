package connection

import (
	"slices"
	"time"
)

// OpKind classifies a queued operation.
type OpKind uint8

const (
	OpJoinRoom OpKind = iota
	OpLeaveRoom
	OpAction
)

func (k OpKind) String() string {
	switch k {
	case OpJoinRoom:
		return "join"
	case OpLeaveRoom:
		return "leave"
	case OpAction:
		return "action"
	default:
		return "unknown"
	}
}

// Operation is an outbound request waiting for an authenticated transport.
type Operation struct {
	Kind       OpKind
	Event      string // Wire event name
	Payload    string // Room or alert id
	EnqueuedAt time.Time

	room roomKey // Set for join and leave
}

// opQueue is a FIFO of operations. It is owned by the Manager and only
// touched with the manager lock held.
type opQueue struct {
	ops []Operation
}

func (q *opQueue) enqueue(op Operation) {
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now()
	}
	q.ops = append(q.ops, op)
}

// drain removes and returns everything in FIFO order.
func (q *opQueue) drain() []Operation {
	ops := q.ops
	q.ops = nil
	return ops
}

// removeFunc drops queued operations matching fn and returns how many went.
func (q *opQueue) removeFunc(fn func(Operation) bool) int {
	before := len(q.ops)
	q.ops = slices.DeleteFunc(q.ops, fn)
	return before - len(q.ops)
}

func (q *opQueue) len() int { return len(q.ops) }

// reset discards everything and returns how many were dropped.
func (q *opQueue) reset() int {
	n := len(q.ops)
	q.ops = nil
	return n
}
