package server

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGlobalConnectionLimiter_AcquireRelease(t *testing.T) {
	limiter := NewGlobalConnectionLimiter(3)

	for range 3 {
		assert.True(t, limiter.Acquire())
	}
	assert.Equal(t, int64(3), limiter.Current())

	// At capacity: the overshoot is backed out
	assert.False(t, limiter.Acquire())
	assert.Equal(t, int64(3), limiter.Current())

	limiter.Release()
	assert.Equal(t, int64(2), limiter.Current())
	assert.True(t, limiter.Acquire())
	assert.Equal(t, int64(3), limiter.Current())
}

func TestGlobalConnectionLimiter_Concurrent(t *testing.T) {
	limiter := NewGlobalConnectionLimiter(100)
	var admitted, refused int64

	// Barrier so all goroutines contend at once
	start := make(chan struct{})
	var wg sync.WaitGroup

	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if limiter.Acquire() {
				atomic.AddInt64(&admitted, 1)
			} else {
				atomic.AddInt64(&refused, 1)
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int64(100), atomic.LoadInt64(&admitted))
	assert.Equal(t, int64(100), atomic.LoadInt64(&refused))
	assert.Equal(t, int64(100), limiter.Current())

	for range 100 {
		limiter.Release()
	}
	assert.Equal(t, int64(0), limiter.Current())
}

func TestGlobalConnectionLimiter_ZeroMax(t *testing.T) {
	limiter := NewGlobalConnectionLimiter(0)
	assert.False(t, limiter.Acquire())
	assert.Equal(t, int64(0), limiter.Current())
}

func TestIPConnectionLimiter_AcquireRelease(t *testing.T) {
	limiter := NewIPConnectionLimiter(2)

	assert.True(t, limiter.Acquire("10.0.0.1"))
	assert.True(t, limiter.Acquire("10.0.0.1"))
	assert.Equal(t, 2, limiter.Count("10.0.0.1"))

	// One IP at its cap does not affect another
	assert.False(t, limiter.Acquire("10.0.0.1"))
	assert.True(t, limiter.Acquire("10.0.0.2"))

	limiter.Release("10.0.0.1")
	assert.Equal(t, 1, limiter.Count("10.0.0.1"))
	assert.True(t, limiter.Acquire("10.0.0.1"))
}

func TestIPConnectionLimiter_ReleaseToZeroDropsEntry(t *testing.T) {
	limiter := NewIPConnectionLimiter(5)

	assert.True(t, limiter.Acquire("10.0.0.1"))
	limiter.Release("10.0.0.1")

	limiter.mu.Lock()
	_, exists := limiter.ips["10.0.0.1"]
	limiter.mu.Unlock()
	assert.False(t, exists)

	// Releasing an unknown IP is a no-op, not an underflow
	limiter.Release("10.0.0.1")
	assert.Equal(t, 0, limiter.Count("10.0.0.1"))
}

func TestConnectionRateLimiter_Allow(t *testing.T) {
	limiter := NewConnectionRateLimiter(2.0, 2)

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))

	// Burst spent, nothing refilled yet
	assert.False(t, limiter.Allow("10.0.0.1"))

	// Buckets are per IP
	assert.True(t, limiter.Allow("10.0.0.2"))
}

func TestConnectionRateLimiter_TokenRefill(t *testing.T) {
	limiter := NewConnectionRateLimiter(10.0, 5)

	for range 5 {
		assert.True(t, limiter.Allow("10.0.0.1"))
	}
	assert.False(t, limiter.Allow("10.0.0.1"))

	// 10/sec refills one token in 100ms
	time.Sleep(100 * time.Millisecond)
	assert.True(t, limiter.Allow("10.0.0.1"))
}

func TestConnectionRateLimiter_SweepsIdleBuckets(t *testing.T) {
	limiter := NewConnectionRateLimiter(10.0, 5)

	limiter.Allow("10.0.0.1")
	limiter.Allow("10.0.0.2")
	limiter.Allow("10.0.0.3")

	// Age one bucket past the idle cutoff and force the next Allow to
	// run a sweep.
	limiter.mu.Lock()
	limiter.buckets["10.0.0.1"].touched = time.Now().Add(-(rateIdleAfter + time.Minute))
	limiter.nextSweep = time.Now().Add(-time.Second)
	limiter.mu.Unlock()

	limiter.Allow("10.0.0.2")

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	_, stale := limiter.buckets["10.0.0.1"]
	assert.False(t, stale)
	assert.Len(t, limiter.buckets, 2)
}

func TestConnectionLimits_Acquire(t *testing.T) {
	limits := NewConnectionLimits(100, 10, 5.0, 5)

	ok, reason := limits.Acquire("10.0.0.1")
	assert.True(t, ok)
	assert.Empty(t, reason)

	limits.Release("10.0.0.1")
	assert.Equal(t, int64(0), limits.Global().Current())
}

func TestConnectionLimits_GlobalLimitExceeded(t *testing.T) {
	limits := NewConnectionLimits(2, 100, 100.0, 100)

	ok, _ := limits.Acquire("10.0.0.1")
	assert.True(t, ok)
	ok, _ = limits.Acquire("10.0.0.2")
	assert.True(t, ok)

	ok, reason := limits.Acquire("10.0.0.3")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonGlobal, reason)
}

func TestConnectionLimits_PerIPLimitExceeded(t *testing.T) {
	limits := NewConnectionLimits(100, 2, 100.0, 100)

	ok, _ := limits.Acquire("10.0.0.1")
	assert.True(t, ok)
	ok, _ = limits.Acquire("10.0.0.1")
	assert.True(t, ok)

	ok, reason := limits.Acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonPerIP, reason)

	// Another IP is unaffected by the first one's cap
	ok, _ = limits.Acquire("10.0.0.2")
	assert.True(t, ok)
}

func TestConnectionLimits_RateLimitExceeded(t *testing.T) {
	limits := NewConnectionLimits(100, 100, 2.0, 2)

	ok, _ := limits.Acquire("10.0.0.1")
	assert.True(t, ok)
	ok, _ = limits.Acquire("10.0.0.1")
	assert.True(t, ok)

	ok, reason := limits.Acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonRate, reason)
}

func TestConnectionLimits_RollbackOnFailure(t *testing.T) {
	// A per-IP cap of 1 makes the last check the one that fails
	limits := NewConnectionLimits(100, 1, 100.0, 100)

	ok, _ := limits.Acquire("10.0.0.1")
	assert.True(t, ok)
	assert.Equal(t, int64(1), limits.Global().Current())

	ok, reason := limits.Acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonPerIP, reason)

	// The global slot taken before the per-IP refusal was handed back
	assert.Equal(t, int64(1), limits.Global().Current())

	limits.Release("10.0.0.1")
	assert.Equal(t, int64(0), limits.Global().Current())
}

func TestConnectionLimits_Concurrent(t *testing.T) {
	limits := NewConnectionLimits(50, 5, 100.0, 100)

	var wg sync.WaitGroup
	var admitted int64

	// 10 IPs each attempting 10 dials; the per-IP cap of 5 guarantees at
	// least 50 admissions across release/reacquire cycles.
	for ip := 1; ip <= 10; ip++ {
		addr := fmt.Sprintf("10.0.0.%d", ip)
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if ok, _ := limits.Acquire(addr); ok {
					atomic.AddInt64(&admitted, 1)
					time.Sleep(time.Millisecond)
					limits.Release(addr)
				}
			}()
		}
	}

	wg.Wait()

	assert.GreaterOrEqual(t, atomic.LoadInt64(&admitted), int64(50))
	assert.Equal(t, int64(0), limits.Global().Current())
}
