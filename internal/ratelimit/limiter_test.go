// ABOUTME: Tests for the fixed-window rate limiter.
// ABOUTME: Validates window boundaries, key isolation, exemptions, and concurrency safety.

package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_AllowsUpToMax(t *testing.T) {
	l := New(time.Minute, 100, nil)
	defer l.Close()

	for i := 0; i < 100; i++ {
		res := l.Allow("10.0.0.1")
		assert.True(t, res.Allowed, "request %d should be allowed", i+1)
	}

	res := l.Allow("10.0.0.1")
	assert.False(t, res.Allowed, "request 101 should be rejected")
	assert.Equal(t, 0, res.Remaining)
}

func TestLimiter_RemainingCountsDown(t *testing.T) {
	l := New(time.Minute, 3, nil)
	defer l.Close()

	assert.Equal(t, 2, l.Allow("k").Remaining)
	assert.Equal(t, 1, l.Allow("k").Remaining)
	assert.Equal(t, 0, l.Allow("k").Remaining)
	assert.False(t, l.Allow("k").Allowed)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := New(time.Minute, 1, nil)
	defer l.Close()

	assert.True(t, l.Allow("a").Allowed)
	assert.False(t, l.Allow("a").Allowed)
	assert.True(t, l.Allow("b").Allowed)
}

func TestLimiter_WindowResets(t *testing.T) {
	l := New(50*time.Millisecond, 1, nil)
	defer l.Close()

	assert.True(t, l.Allow("k").Allowed)
	assert.False(t, l.Allow("k").Allowed)

	time.Sleep(60 * time.Millisecond)

	assert.True(t, l.Allow("k").Allowed, "new window should start fresh")
}

func TestLimiter_ExemptKeysBypass(t *testing.T) {
	l := New(time.Minute, 1, []string{"127.0.0.1"})
	defer l.Close()

	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow("127.0.0.1").Allowed)
	}
}

func TestLimiter_ConcurrentAccess(t *testing.T) {
	l := New(time.Minute, 1000, nil)
	defer l.Close()

	var wg sync.WaitGroup
	allowed := make(chan bool, 2000)
	for i := 0; i < 2000; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- l.Allow("shared").Allowed
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for ok := range allowed {
		if ok {
			count++
		}
	}
	assert.Equal(t, 1000, count, "exactly the limit should be admitted")
}

func TestLimiter_RunCleanupDropsStaleBuckets(t *testing.T) {
	l := New(10*time.Millisecond, 5, nil)
	defer l.Close()

	l.Allow("stale")
	time.Sleep(20 * time.Millisecond)
	l.runCleanup()

	l.mu.Lock()
	_, exists := l.buckets["stale"]
	l.mu.Unlock()
	assert.False(t, exists)
}

func TestLimiter_CloseIsIdempotent(t *testing.T) {
	l := New(time.Minute, 1, nil)
	l.Close()
	l.Close()
}
