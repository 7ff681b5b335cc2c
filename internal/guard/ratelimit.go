package guard

import (
	"context"
	"sync"
	"time"
)

// RateLimiter answers whether an identity may perform one more action.
// Allow records the action when it is permitted.
type RateLimiter interface {
	Allow(key string, now time.Time) (allowed bool, retryAfter time.Duration)
}

// SlidingWindowLimiter keeps a log of action timestamps per key and permits
// at most limit actions in any window-long interval.
type SlidingWindowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	log    map[string][]time.Time
}

var _ RateLimiter = (*SlidingWindowLimiter)(nil)

func NewSlidingWindowLimiter(limit int, window time.Duration) *SlidingWindowLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Hour
	}
	return &SlidingWindowLimiter{limit: limit, window: window, log: make(map[string][]time.Time)}
}

func (l *SlidingWindowLimiter) Allow(key string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	entries := l.log[key]
	kept := entries[:0]
	for _, at := range entries {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}

	if len(kept) >= l.limit {
		l.log[key] = kept
		return false, kept[0].Add(l.window).Sub(now)
	}
	l.log[key] = append(kept, now)
	return true, 0
}

// Prune drops keys with no actions inside the window.
func (l *SlidingWindowLimiter) Prune(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	for key, entries := range l.log {
		if len(entries) == 0 || !entries[len(entries)-1].After(cutoff) {
			delete(l.log, key)
		}
	}
}

// PruneEvery runs Prune on every tick until ctx is done.
func (l *SlidingWindowLimiter) PruneEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Prune(now)
		}
	}
}
