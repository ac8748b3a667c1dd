package gateway

import "sync"

type replayEntry struct {
	Seq  int64
	Data []byte
}

// ReplayBuffer keeps the most recent envelopes of one channel in a ring so
// reconnecting observers can catch up on what they missed.
type ReplayBuffer struct {
	mu   sync.RWMutex
	buf  []replayEntry
	next int
	n    int
}

// NewReplayBuffer creates a replay buffer holding up to capacity envelopes.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = defaultReplaySize
	}
	return &ReplayBuffer{buf: make([]replayEntry, capacity)}
}

// Push stores a copy of data, evicting the oldest entry when full.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := append([]byte(nil), data...)

	rb.mu.Lock()
	rb.buf[rb.next] = replayEntry{Seq: seq, Data: cp}
	rb.next = (rb.next + 1) % len(rb.buf)
	if rb.n < len(rb.buf) {
		rb.n++
	}
	rb.mu.Unlock()
}

// Since returns the entries with seq > after, oldest first.
func (rb *ReplayBuffer) Since(after int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out []replayEntry
	start := (rb.next - rb.n + len(rb.buf)) % len(rb.buf)
	for i := 0; i < rb.n; i++ {
		e := rb.buf[(start+i)%len(rb.buf)]
		if e.Seq > after {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries currently held.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.n
}
