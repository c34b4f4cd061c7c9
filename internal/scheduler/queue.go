package scheduler

// CommandQueue is a strict FIFO of pending entries. Entries are appended
// at the tail and removed from the head only.
//
// Not safe for concurrent use; the Scheduler guards it with its mutex.
type CommandQueue struct {
	entries []*Entry
}

// Push appends an entry and returns its 1-based position.
func (q *CommandQueue) Push(e *Entry) int {
	q.entries = append(q.entries, e)
	return len(q.entries)
}

// Pop removes and returns the head entry.
func (q *CommandQueue) Pop() (*Entry, bool) {
	if len(q.entries) == 0 {
		return nil, false
	}
	head := q.entries[0]
	q.entries[0] = nil
	q.entries = q.entries[1:]
	return head, true
}

// Len returns the number of pending entries.
func (q *CommandQueue) Len() int {
	return len(q.entries)
}

// Peek returns summaries of up to n entries from the head. n <= 0 means all.
func (q *CommandQueue) Peek(n int) []EntrySummary {
	if n <= 0 || n > len(q.entries) {
		n = len(q.entries)
	}
	out := make([]EntrySummary, n)
	for i := 0; i < n; i++ {
		out[i] = q.entries[i].Summary()
	}
	return out
}

// Clear drops every pending entry without notifying them and returns
// how many were dropped.
func (q *CommandQueue) Clear() int {
	n := len(q.entries)
	q.entries = nil
	return n
}
