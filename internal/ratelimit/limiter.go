// ABOUTME: Thread-safe fixed-window rate limiter keyed by arbitrary strings.
// ABOUTME: Tracks per-key request counts with a background cleanup goroutine.

package ratelimit

import (
	"sync"
	"time"
)

// bucket tracks the request count for one key in the current window.
type bucket struct {
	windowStart time.Time
	count       int
}

// Result reports the outcome of a single Allow decision, with the values
// needed to populate X-RateLimit-* response headers.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Limiter enforces a fixed-window request limit per key. Each key gets an
// independent counter that resets when its window elapses. A background
// goroutine periodically drops stale buckets.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	window  time.Duration
	max     int
	exempt  map[string]struct{}
	done    chan struct{}
	closed  bool
}

// New creates a limiter allowing max requests per window for each key.
// Keys in exempt bypass limiting entirely.
func New(window time.Duration, max int, exempt []string) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		window:  window,
		max:     max,
		exempt:  make(map[string]struct{}, len(exempt)),
		done:    make(chan struct{}),
	}
	for _, key := range exempt {
		l.exempt[key] = struct{}{}
	}
	go l.cleanup()
	return l
}

// Allow records a request for key and reports whether it fits inside the
// current window. The max-th request in a window is allowed; the one after
// it is not.
func (l *Limiter) Allow(key string) Result {
	if _, ok := l.exempt[key]; ok {
		return Result{Allowed: true, Limit: l.max, Remaining: l.max, Reset: time.Now().Add(l.window)}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) >= l.window {
		b = &bucket{windowStart: now}
		l.buckets[key] = b
	}

	reset := b.windowStart.Add(l.window)
	if b.count >= l.max {
		return Result{Allowed: false, Limit: l.max, Remaining: 0, Reset: reset}
	}

	b.count++
	return Result{
		Allowed:   true,
		Limit:     l.max,
		Remaining: l.max - b.count,
		Reset:     reset,
	}
}

// cleanup runs in a background goroutine, periodically removing buckets
// whose window has long elapsed.
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.runCleanup()
		case <-l.done:
			return
		}
	}
}

// runCleanup drops every bucket whose window ended before now.
func (l *Limiter) runCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, b := range l.buckets {
		if now.Sub(b.windowStart) >= l.window {
			delete(l.buckets, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		close(l.done)
		l.closed = true
	}
}
