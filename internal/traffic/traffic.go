package traffic

import (
	"sync"
	"time"
)

// retention bounds how long outcomes are kept; windows longer than this undercount.
const retention = 10 * time.Minute

// Outcome classifies a request on the district lookup path.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeError
	OutcomeDenied
)

var defaultTracker Tracker

// RecordSuccess records a lookup that produced a response (including 404 for unknown districts).
func RecordSuccess() {
	defaultTracker.Record(OutcomeSuccess)
}

// RecordError records a lookup that failed on the plan fetch or extraction path.
func RecordError() {
	defaultTracker.Record(OutcomeError)
}

// RecordDenied records a rate-limit denial (429).
func RecordDenied() {
	defaultTracker.Record(OutcomeDenied)
}

// RequestCount returns the number of outcomes (success + error + denied) within the window.
func RequestCount(window time.Duration) int {
	return defaultTracker.RequestCount(window)
}

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int {
	return defaultTracker.Count(OutcomeDenied, window)
}

// ErrorRate returns (errorCount, totalCount) within the window. Denials are excluded from total.
func ErrorRate(window time.Duration) (errors, total int) {
	return defaultTracker.ErrorRate(window)
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

type event struct {
	at      time.Time
	outcome Outcome
}

// Tracker keeps a time-ordered log of outcomes for sliding-window queries.
// The zero value is ready to use.
type Tracker struct {
	mu     sync.Mutex
	events []event
	now    func() time.Time
}

func (t *Tracker) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

// Record appends an outcome stamped with the current time.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	t.events = append(t.events, event{at: now, outcome: o})
	t.pruneLocked(now)
}

// Count returns how many outcomes of kind o fall within the window.
func (t *Tracker) Count(o Outcome, window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.inWindowLocked(window) {
		if e.outcome == o {
			n++
		}
	}
	return n
}

// RequestCount returns the number of outcomes of any kind within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inWindowLocked(window))
}

// ErrorRate returns (errorCount, successCount+errorCount) within the window.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.inWindowLocked(window) {
		switch e.outcome {
		case OutcomeError:
			errors++
			total++
		case OutcomeSuccess:
			total++
		}
	}
	return errors, total
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

// inWindowLocked returns the suffix of events not older than window. Events are time-ordered.
func (t *Tracker) inWindowLocked(window time.Duration) []event {
	cutoff := t.clock().Add(-window)
	i := len(t.events)
	for i > 0 && !t.events[i-1].at.Before(cutoff) {
		i--
	}
	return t.events[i:]
}

func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	i := 0
	for ; i < len(t.events) && t.events[i].at.Before(cutoff); i++ {
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}
