package server

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	rateSweepEvery = 5 * time.Minute
	rateIdleAfter  = 10 * time.Minute
)

// GlobalConnectionLimiter caps total concurrent websocket connections per
// instance. Lock-free counting via atomics.
type GlobalConnectionLimiter struct {
	current atomic.Int64
	max     int64
}

func NewGlobalConnectionLimiter(max int64) *GlobalConnectionLimiter {
	return &GlobalConnectionLimiter{max: max}
}

// Acquire attempts to take a connection slot. Optimistically increments
// and backs out on overshoot, so Current may transiently over-read under
// contention but admissions never exceed max.
func (l *GlobalConnectionLimiter) Acquire() bool {
	if l.current.Add(1) > l.max {
		l.current.Add(-1)
		return false
	}
	return true
}

func (l *GlobalConnectionLimiter) Release() {
	l.current.Add(-1)
}

// Current returns the current number of connections.
func (l *GlobalConnectionLimiter) Current() int64 {
	return l.current.Load()
}

// IPConnectionLimiter caps concurrent connections per client IP, limiting
// the damage a single source can do. Entries vanish when their count
// reaches zero so the map only holds IPs with live connections.
type IPConnectionLimiter struct {
	mu    sync.Mutex
	ips   map[string]int
	limit int
}

func NewIPConnectionLimiter(limit int) *IPConnectionLimiter {
	return &IPConnectionLimiter{ips: make(map[string]int), limit: limit}
}

func (l *IPConnectionLimiter) Acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ips[ip] >= l.limit {
		return false
	}
	l.ips[ip]++
	return true
}

func (l *IPConnectionLimiter) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch count := l.ips[ip]; {
	case count > 1:
		l.ips[ip] = count - 1
	case count == 1:
		delete(l.ips, ip)
	}
}

// Count returns the current connection count for the given IP.
func (l *IPConnectionLimiter) Count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ips[ip]
}

// ConnectionRateLimiter throttles new connections per IP with a token
// bucket via golang.org/x/time/rate. Idle buckets are swept on a fixed
// cadence piggybacked on Allow, so no background goroutine is needed.
type ConnectionRateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*ipBucket
	perSecond rate.Limit
	burst     int
	nextSweep time.Time
}

type ipBucket struct {
	limiter *rate.Limiter
	touched time.Time
}

func NewConnectionRateLimiter(connectionsPerSecond float64, burst int) *ConnectionRateLimiter {
	return &ConnectionRateLimiter{
		buckets:   make(map[string]*ipBucket),
		perSecond: rate.Limit(connectionsPerSecond),
		burst:     burst,
		nextSweep: time.Now().Add(rateSweepEvery),
	}
}

// Allow checks if a new connection from the given IP should be admitted.
func (l *ConnectionRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.After(l.nextSweep) {
		for addr, b := range l.buckets {
			if now.Sub(b.touched) > rateIdleAfter {
				delete(l.buckets, addr)
			}
		}
		l.nextSweep = now.Add(rateSweepEvery)
	}

	b, ok := l.buckets[ip]
	if !ok {
		b = &ipBucket{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.buckets[ip] = b
	}
	b.touched = now
	return b.limiter.Allow()
}

// LimitReason describes why a connection was rejected.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

// ConnectionLimits combines the three admission limiters. Rate is checked
// first because a rejected dial attempt must still consume a token, then
// global before per-IP with rollback on the partial acquire.
type ConnectionLimits struct {
	global *GlobalConnectionLimiter
	perIP  *IPConnectionLimiter
	rate   *ConnectionRateLimiter
}

func NewConnectionLimits(globalMax int64, perIPMax int, connectionsPerSecond float64, burst int) *ConnectionLimits {
	return &ConnectionLimits{
		global: NewGlobalConnectionLimiter(globalMax),
		perIP:  NewIPConnectionLimiter(perIPMax),
		rate:   NewConnectionRateLimiter(connectionsPerSecond, burst),
	}
}

// Acquire attempts all three limits for the given IP. Returns false and
// the reason when any limit is exceeded.
func (l *ConnectionLimits) Acquire(ip string) (bool, LimitReason) {
	if !l.rate.Allow(ip) {
		return false, LimitReasonRate
	}
	if !l.global.Acquire() {
		return false, LimitReasonGlobal
	}
	if !l.perIP.Acquire(ip) {
		l.global.Release()
		return false, LimitReasonPerIP
	}
	return true, ""
}

// Release releases all limits for the given IP.
func (l *ConnectionLimits) Release(ip string) {
	l.perIP.Release(ip)
	l.global.Release()
}

// Global returns the global connection limiter.
func (l *ConnectionLimits) Global() *GlobalConnectionLimiter {
	return l.global
}
