package queue

import "sync"

// fifo is a single mutex-guarded lane. Producers append concurrently; only
// the owning scheduler loop pops.
type fifo struct {
	mu    sync.Mutex
	items []Entry
}

func (q *fifo) push(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, e)
}

// pushTrimmed appends e after shedding old entries: when the lane already
// holds more than cap entries, everything but the newest entries is dropped
// oldest-first so the lane ends the call at exactly keep entries, counting e
// itself. Trim and insert happen under one lock acquisition. Returns the
// number of entries dropped.
func (q *fifo) pushTrimmed(e Entry, cap, keep int) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := 0
	if cap > 0 && len(q.items) > cap {
		retain := keep - 1
		if retain < 0 {
			retain = 0
		}
		if retain > len(q.items) {
			retain = len(q.items)
		}
		dropped = len(q.items) - retain
		q.items = append([]Entry(nil), q.items[len(q.items)-retain:]...)
	}
	q.items = append(q.items, e)
	return dropped
}

func (q *fifo) pop() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Entry{}, false
	}
	e := q.items[0]
	q.items = q.items[1:]
	return e, true
}

func (q *fifo) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
