package ioloop

import "sync"

// DefaultControlQueueCap is the default bound on the control lane
//.
const DefaultControlQueueCap = 512

// ControlQueue is the outbound control lane: a bounded FIFO. Push returns
// false on overflow rather
// than dropping silently, so the caller can surface backpressure.
type ControlQueue struct {
	mu    sync.Mutex
	items [][]byte
	cap   int
}

// NewControlQueue creates a queue bounded to capacity items.
func NewControlQueue(capacity int) *ControlQueue {
	if capacity <= 0 {
		capacity = DefaultControlQueueCap
	}
	return &ControlQueue{cap: capacity}
}

// Push enqueues payload at the back, returning false if the queue is full.
func (q *ControlQueue) Push(payload []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.cap {
		return false
	}
	q.items = append(q.items, payload)
	return true
}

// PopFront removes and returns the oldest item, if any.
func (q *ControlQueue) PopFront() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// PushFront reinserts an item at the front — used to keep a send that hit
// backpressure "in-flight" for retry on the next loop iteration, never
// dropped.
func (q *ControlQueue) PushFront(payload []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([][]byte{payload}, q.items...)
}

// Len reports the number of queued items.
func (q *ControlQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear empties the queue, used on Disconnect.
func (q *ControlQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// TransformCell is the outbound transform lane: a single-slot "latest
// pending" handoff with overwrite semantics.
type TransformCell struct {
	mu      sync.Mutex
	payload []byte
	has     bool
}

// Push overwrites the cell with payload, discarding whatever was pending.
func (c *TransformCell) Push(payload []byte) {
	c.mu.Lock()
	c.payload = payload
	c.has = true
	c.mu.Unlock()
}

// TakeForSend removes and returns the pending payload, if any, so the
// loop can attempt to send it without holding the cell's lock for the
// duration of the send.
func (c *TransformCell) TakeForSend() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.has {
		return nil, false
	}
	p := c.payload
	c.payload = nil
	c.has = false
	return p, true
}

// Restore reinserts payload after a backpressured send attempt, but only
// if nothing newer has been pushed in the meantime — a later transform
// always preempts an unsent earlier one.
func (c *TransformCell) Restore(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.has {
		c.payload = payload
		c.has = true
	}
}

// Clear drops any pending payload, used on Disconnect.
func (c *TransformCell) Clear() {
	c.mu.Lock()
	c.payload = nil
	c.has = false
	c.mu.Unlock()
}
