package metrics

import (
	"sync"
	"sync/atomic"
)

// executionStats holds counters for rule executions, keyed by outcome.
// Kept simple/thread-safe for use from the dispatcher and exposition.
type executionStats struct {
	total     uint64
	mu        sync.Mutex
	byOutcome map[string]uint64
}

var exec executionStats

// IncExecution increments execution counters for the given outcome
// (success, partial_failure, failure).
func IncExecution(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	atomic.AddUint64(&exec.total, 1)
	exec.mu.Lock()
	if exec.byOutcome == nil {
		exec.byOutcome = make(map[string]uint64)
	}
	exec.byOutcome[outcome]++
	exec.mu.Unlock()
}

// ExecutionSnapshot returns a copy of the current execution counters.
func ExecutionSnapshot() (total uint64, by map[string]uint64) {
	total = atomic.LoadUint64(&exec.total)
	exec.mu.Lock()
	defer exec.mu.Unlock()
	by = make(map[string]uint64, len(exec.byOutcome))
	for k, v := range exec.byOutcome {
		by[k] = v
	}
	return total, by
}

// rateLimitStats holds counters for rate limit drops (HTTP 429).
type rateLimitStats struct {
	total    uint64
	mu       sync.Mutex
	byPrefix map[string]uint64
}

var rl rateLimitStats

// IncRateLimitDrop increments drop counters for the given prefix.
// Use prefix "global" for global limiter rejections.
func IncRateLimitDrop(prefix string) {
	if prefix == "" {
		prefix = "global"
	}
	atomic.AddUint64(&rl.total, 1)
	rl.mu.Lock()
	if rl.byPrefix == nil {
		rl.byPrefix = make(map[string]uint64)
	}
	rl.byPrefix[prefix]++
	rl.mu.Unlock()
}

// RateLimitSnapshot returns a copy of the current counters.
func RateLimitSnapshot() (total uint64, by map[string]uint64) {
	total = atomic.LoadUint64(&rl.total)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	by = make(map[string]uint64, len(rl.byPrefix))
	for k, v := range rl.byPrefix {
		by[k] = v
	}
	return total, by
}
