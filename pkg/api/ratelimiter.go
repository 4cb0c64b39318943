package api

import (
	"sync"
	"time"
)

const rateWindow = time.Minute

// RateLimiter implements per-client rate limiting with a one minute sliding window
type RateLimiter struct {
	limits          map[string][]time.Time
	maxPerWindow    int
	mu              sync.Mutex
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewRateLimiter creates a new rate limiter. A non-positive limit disables it.
func NewRateLimiter(maxRequestsPerMinute int) *RateLimiter {
	rl := &RateLimiter{
		limits:          make(map[string][]time.Time),
		maxPerWindow:    maxRequestsPerMinute,
		cleanupInterval: 5 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	go rl.runCleanup()

	return rl
}

// Allow records a request from key if it fits in the window. When it does not,
// retryAfter is the number of whole seconds until a slot frees.
func (rl *RateLimiter) Allow(key string) (allowed bool, retryAfter int) {
	if rl.maxPerWindow <= 0 {
		return true, 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	requests := prune(rl.limits[key], now)

	if len(requests) >= rl.maxPerWindow {
		rl.limits[key] = requests
		wait := rateWindow - now.Sub(requests[0])
		return false, int((wait + time.Second - 1) / time.Second)
	}

	rl.limits[key] = append(requests, now)
	return true, 0
}

// prune drops timestamps that fell out of the window.
func prune(requests []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(requests) && !requests[i].After(cutoff) {
		i++
	}
	return requests[i:]
}

func (rl *RateLimiter) runCleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup removes clients with no recent requests
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, requests := range rl.limits {
		requests = prune(requests, now)
		if len(requests) == 0 {
			delete(rl.limits, key)
		} else {
			rl.limits[key] = requests
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// RunSlots caps the number of agent runs in flight.
type RunSlots struct {
	slots chan struct{}
}

// NewRunSlots creates a cap of max concurrent runs. A non-positive max disables it.
func NewRunSlots(max int) *RunSlots {
	if max <= 0 {
		return &RunSlots{}
	}
	return &RunSlots{slots: make(chan struct{}, max)}
}

// TryAcquire takes a slot without blocking. The returned release must be
// called once when ok is true.
func (s *RunSlots) TryAcquire() (release func(), ok bool) {
	if s.slots == nil {
		return func() {}, true
	}
	select {
	case s.slots <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-s.slots }) }, true
	default:
		return nil, false
	}
}

// InUse returns the number of occupied slots.
func (s *RunSlots) InUse() int {
	return len(s.slots)
}
