package webio

import (
	"fmt"
	"sync"
)

// defaultQueueSize is the number of caller commands a device may hold.
const defaultQueueSize = 64

// CommandQueue is the FIFO of commands waiting to be written to a device.
//
// Producers append with Push from any goroutine. The session loop is the
// only consumer: it peeks the head and pops it once the command reaches a
// terminal outcome.
type CommandQueue struct {
	mu    sync.Mutex
	items []string
	limit int
}

// NewCommandQueue creates a queue that accepts up to limit caller commands.
// A limit of zero or less selects the default.
func NewCommandQueue(limit int) *CommandQueue {
	if limit <= 0 {
		limit = defaultQueueSize
	}
	return &CommandQueue{limit: limit}
}

// Push appends cmd to the tail.
func (q *CommandQueue) Push(cmd string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.limit {
		return fmt.Errorf("%w: %d pending", ErrQueueFull, len(q.items))
	}
	q.items = append(q.items, cmd)
	return nil
}

// pushInternal appends without the capacity check. Used for refresh and
// keep-alive commands so a busy queue cannot starve them.
func (q *CommandQueue) pushInternal(cmd string) {
	q.mu.Lock()
	q.items = append(q.items, cmd)
	q.mu.Unlock()
}

// Peek returns the head without removing it.
func (q *CommandQueue) Peek() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return "", false
	}
	return q.items[0], true
}

// Pop removes and returns the head.
func (q *CommandQueue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return "", false
	}
	cmd := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	return cmd, true
}

// Len returns the number of queued commands.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the queued commands, head first.
func (q *CommandQueue) Snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]string, len(q.items))
	copy(out, q.items)
	return out
}
