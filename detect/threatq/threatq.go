package threatq

import "sync"

// Entry is a transient scheduling record: "source looked this threatening at
// some evaluation tick". Canonical per-source state lives in the source
// cache, not here, so the queue may hold stale or duplicate entries for a
// key that has already been mitigated. Consumers must tolerate that.
type Entry struct {
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// Queue is a max-heap of threat entries ordered by score, so the mitigation
// consumer always processes the worst offender first. Push and PopMax are
// O(log n). Written by the evaluation tick, drained by the consumer; the
// internal lock makes the hand-off safe without blocking either side for
// longer than one heap operation.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push inserts an entry and restores the heap invariant by sifting it up
// from the new leaf position. Returns the new queue size.
func (q *Queue) Push(e Entry) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = append(q.entries, e)
	i := len(q.entries) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if q.entries[parent].Score >= q.entries[i].Score {
			break
		}
		q.entries[parent], q.entries[i] = q.entries[i], q.entries[parent]
		i = parent
	}
	return len(q.entries)
}

// PopMax removes and returns the entry with the highest score. The last
// leaf replaces the root and sifts down, at each step swapping with
// whichever child is strictly larger; on a tie the node stays put. The
// second return is false when the queue is empty, which is an expected
// terminal condition, not an error.
func (q *Queue) PopMax() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.entries)
	if n == 0 {
		return Entry{}, false
	}

	top := q.entries[0]
	q.entries[0] = q.entries[n-1]
	q.entries = q.entries[:n-1]
	q.siftDown(0)
	return top, true
}

// siftDown restores the heap property from index i. Caller holds the lock.
func (q *Queue) siftDown(i int) {
	n := len(q.entries)
	for {
		largest := i
		left := 2*i + 1
		right := 2*i + 2
		if left < n && q.entries[left].Score > q.entries[largest].Score {
			largest = left
		}
		if right < n && q.entries[right].Score > q.entries[largest].Score {
			largest = right
		}
		if largest == i {
			return
		}
		q.entries[i], q.entries[largest] = q.entries[largest], q.entries[i]
		i = largest
	}
}

// Peek returns the current maximum without removing it.
func (q *Queue) Peek() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return Entry{}, false
	}
	return q.entries[0], true
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
