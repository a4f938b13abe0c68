package checkqueue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter enforces the per-host concurrency cap and minimum delay
// between two request starts on the same host
type HostLimiter struct {
	maxPerHost int
	delay      time.Duration
	mu         sync.RWMutex
	active     map[string]int
	limiters   map[string]*rate.Limiter
}

// NewHostLimiter creates a new host limiter. A zero delay disables rate limiting.
func NewHostLimiter(maxPerHost int, delay time.Duration) *HostLimiter {
	return &HostLimiter{
		maxPerHost: maxPerHost,
		delay:      delay,
		active:     make(map[string]int),
		limiters:   make(map[string]*rate.Limiter),
	}
}

// CanStart checks if a request to host may start at now
// Does NOT modify state - use Start() to register the request
// When the host is only rate limited, wait is the time until it becomes eligible
func (hl *HostLimiter) CanStart(host string, now time.Time) (ok bool, wait time.Duration) {
	hl.mu.RLock()
	defer hl.mu.RUnlock()

	if hl.active[host] >= hl.maxPerHost {
		// a completion frees the slot and advances the queue
		return false, 0
	}

	limiter, exists := hl.limiters[host]
	if !exists {
		return true, 0
	}

	tokens := limiter.TokensAt(now)
	if tokens >= 1 {
		return true, 0
	}
	wait = time.Duration((1 - tokens) * float64(hl.delay))
	if wait <= 0 {
		wait = time.Millisecond
	}
	return false, wait
}

// Start registers a request to host started at now
func (hl *HostLimiter) Start(host string, now time.Time) {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	hl.active[host]++

	if hl.delay <= 0 {
		return
	}
	limiter, exists := hl.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(rate.Every(hl.delay), 1)
		hl.limiters[host] = limiter
	}
	limiter.AllowN(now, 1)
}

// Done releases a request slot of host
func (hl *HostLimiter) Done(host string) {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	if hl.active[host] <= 1 {
		delete(hl.active, host)
		return
	}
	hl.active[host]--
}

// Active returns the number of requests in flight for host
func (hl *HostLimiter) Active(host string) int {
	hl.mu.RLock()
	defer hl.mu.RUnlock()
	return hl.active[host]
}
