package service

import (
	"sync"
)

// stampedeTracker counts cache misses in progress per key. A count above one
// means several requests are waiting on the same district lookup.
type stampedeTracker struct {
	mu     sync.Mutex
	active map[string]int
}

func newStampedeTracker() *stampedeTracker {
	return &stampedeTracker{active: make(map[string]int)}
}

// Begin records a miss for key and returns the number of misses now in progress.
// Pair every call with End.
func (st *stampedeTracker) Begin(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.active[key]++
	return st.active[key]
}

// End marks one miss for key as resolved.
func (st *stampedeTracker) End(key string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.active[key] <= 1 {
		delete(st.active, key)
		return
	}
	st.active[key]--
}

// InProgress returns the misses currently in progress for key.
func (st *stampedeTracker) InProgress(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.active[key]
}
