package ratelimit

import (
	"context"
	"sync"
	"time"
)

const memorySweepThreshold = 10000

type memoryWindow struct {
	count   int64
	resetAt time.Time
}

// MemoryLimiter is a process-local fixed window limiter.
type MemoryLimiter struct {
	mu        sync.Mutex
	windows   map[string]*memoryWindow
	threshold int
	window    time.Duration
	now       func() time.Time
}

func NewMemoryLimiter(threshold int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		windows:   make(map[string]*memoryWindow),
		threshold: threshold,
		window:    window,
		now:       time.Now,
	}
}

// WithClock replaces the limiter's time source.
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

func (l *MemoryLimiter) CheckAndIncrement(_ context.Context, identifier string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.windows) > memorySweepThreshold {
		l.sweep(now)
	}

	w, ok := l.windows[identifier]
	if !ok || !now.Before(w.resetAt) {
		w = &memoryWindow{resetAt: now.Add(l.window)}
		l.windows[identifier] = w
	}
	w.count++

	return decide(w.count, l.threshold, w.resetAt.Sub(now)), nil
}

func (l *MemoryLimiter) sweep(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}
