package engine

import "sync"

// scanQueue is a thread-safe FIFO queue of raw scan strings.
//
// The queue is unbounded: scan bursts from the camera pipeline must never
// block the producer. Thread-safety covers external enqueuing (HTTP
// handlers, the camera callback) while the engine's Run loop dequeues.
//
// A buffered signal channel enables context-aware waiting in the Run loop;
// the buffer of 1 coalesces multiple signals.
type scanQueue struct {
	mu     sync.Mutex
	scans  []string
	closed bool
	signal chan struct{}
}

func newScanQueue() *scanQueue {
	return &scanQueue{
		scans:  make([]string, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a raw scan to the back of the queue.
// Returns false if the queue is closed.
func (q *scanQueue) Enqueue(raw string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.scans = append(q.scans, raw)

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns ("", false) if the queue is empty.
func (q *scanQueue) TryDequeue() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.scans) == 0 {
		return "", false
	}

	raw := q.scans[0]
	q.scans[0] = "" // release the string to GC

	if len(q.scans) == 1 {
		q.scans = q.scans[:0]
	} else {
		q.scans = q.scans[1:]
	}

	return raw, true
}

// Wait returns a channel that signals when scans may be available.
// The channel closes when the queue closes, waking all waiters.
func (q *scanQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *scanQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.scans)
}

// Closed reports whether the queue has stopped accepting scans.
func (q *scanQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more scans will be enqueued.
func (q *scanQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
