// Package lifecycle holds the process-wide drain state read by /health.
package lifecycle

import (
	"sync/atomic"
	"time"
)

// drainingSince is the UnixNano time draining began, or 0 while serving.
var drainingSince atomic.Int64

// SetShuttingDown flips the drain flag. main sets it on SIGTERM/SIGINT before http.Server.Shutdown.
// Repeated calls with true keep the first start time.
func SetShuttingDown(v bool) {
	if !v {
		drainingSince.Store(0)
		return
	}
	drainingSince.CompareAndSwap(0, time.Now().UnixNano())
}

// IsShuttingDown reports whether /health should answer 503 shutting-down.
func IsShuttingDown() bool {
	return drainingSince.Load() != 0
}

// ShutdownStarted returns when draining began, or the zero time while serving.
func ShutdownStarted() time.Time {
	ns := drainingSince.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
