package link

import "sync"

// Queue is the FIFO of commands awaiting transmission. Enqueue is safe from
// any goroutine and never blocks; Pop is called by the worker only.
//
// A zero limit means unbounded. With a limit, the oldest pending command is
// dropped to make room (drop-oldest), so the freshest operator intent wins.
type Queue struct {
	mu      sync.Mutex
	items   []string
	head    int
	limit   int
	dropped uint64
	ready   chan struct{}
}

// NewQueue creates a queue; limit <= 0 disables the bound.
func NewQueue(limit int) *Queue {
	if limit < 0 {
		limit = 0
	}
	return &Queue{limit: limit, ready: make(chan struct{}, 1)}
}

// Enqueue appends cmd. It reports whether an older command was dropped.
func (q *Queue) Enqueue(cmd string) (dropped bool) {
	q.mu.Lock()
	q.items = append(q.items, cmd)
	if q.limit > 0 && len(q.items)-q.head > q.limit {
		q.items[q.head] = ""
		q.head++
		q.dropped++
		dropped = true
	}
	q.compactLocked()
	q.mu.Unlock()
	q.signal()
	return dropped
}

// PushFront places cmd ahead of every pending command. It ignores the limit.
func (q *Queue) PushFront(cmd string) {
	q.mu.Lock()
	if q.head > 0 {
		q.head--
		q.items[q.head] = cmd
	} else {
		q.items = append(q.items, "")
		copy(q.items[1:], q.items)
		q.items[0] = cmd
	}
	q.mu.Unlock()
	q.signal()
}

// Pop removes and returns the oldest command.
func (q *Queue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head >= len(q.items) {
		return "", false
	}
	cmd := q.items[q.head]
	q.items[q.head] = ""
	q.head++
	q.compactLocked()
	return cmd, true
}

// Len returns the number of pending commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Dropped returns how many commands the bound has discarded.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Ready is signalled (coalesced) whenever a command is added.
func (q *Queue) Ready() <-chan struct{} { return q.ready }

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// compactLocked releases the consumed prefix once it dominates the slice.
func (q *Queue) compactLocked() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head > 32 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
}
