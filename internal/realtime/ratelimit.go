package realtime

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/harborview/realtime/internal/metrics"
	"github.com/harborview/realtime/internal/protocol"
)

const rateWindow = 60 * time.Second

// defaultQuotas is the per-action quota table for the sliding window.
// Actions not listed fall back to defaultQuota.
var defaultQuotas = map[string]int{
	protocol.TypeSubscribe:         30,
	protocol.TypeUnsubscribe:       30,
	protocol.TypeJoinRoom:          20,
	protocol.TypeLeaveRoom:         20,
	protocol.TypeStartStream:       10,
	protocol.TypeStopStream:        10,
	protocol.TypeGetMetrics:        60,
	protocol.TypePing:              120,
	protocol.TypeGetConnectionInfo: 30,
	protocol.TypeUpdateSettings:    10,
}

const defaultQuota = 60

// RateLimiter enforces per-(identity, action) quotas over a rolling
// 60-second window. Expired entries are pruned lazily on every check, so
// memory stays proportional to recent activity.
type RateLimiter struct {
	mu           sync.Mutex
	clock        clockwork.Clock
	quotas       map[string]int
	defaultQuota int
	windows      map[string]map[string][]time.Time
}

// NewRateLimiter creates a limiter with the default quota table.
func NewRateLimiter(clock clockwork.Clock) *RateLimiter {
	return NewRateLimiterWithQuotas(clock, defaultQuotas, defaultQuota)
}

// NewRateLimiterWithQuotas creates a limiter with a custom quota table.
func NewRateLimiterWithQuotas(clock clockwork.Clock, quotas map[string]int, fallback int) *RateLimiter {
	return &RateLimiter{
		clock:        clock,
		quotas:       quotas,
		defaultQuota: fallback,
		windows:      make(map[string]map[string][]time.Time),
	}
}

func (r *RateLimiter) quota(action string) int {
	if q, ok := r.quotas[action]; ok {
		return q
	}
	return r.defaultQuota
}

// prune drops timestamps older than the window. Must be called with mu held.
func (r *RateLimiter) prune(identity, action string) []time.Time {
	cutoff := r.clock.Now().Add(-rateWindow)
	entries := r.windows[identity][action]
	i := 0
	for i < len(entries) && !entries[i].After(cutoff) {
		i++
	}
	if i > 0 {
		entries = entries[i:]
		if actions, ok := r.windows[identity]; ok {
			if len(entries) == 0 {
				delete(actions, action)
			} else {
				actions[action] = entries
			}
		}
	}
	return entries
}

// Check reports whether the identity may perform the action now. An
// allowed attempt is recorded against the window; a denied attempt is not,
// so hammering a denied action never extends the lockout.
func (r *RateLimiter) Check(identity, action string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.prune(identity, action)
	if len(entries) >= r.quota(action) {
		metrics.RateLimitRejections.WithLabelValues(action).Inc()
		return false
	}

	actions, ok := r.windows[identity]
	if !ok {
		actions = make(map[string][]time.Time)
		r.windows[identity] = actions
	}
	actions[action] = append(entries, r.clock.Now())
	return true
}

// Remaining returns the unused quota for the identity and action without
// recording an attempt.
func (r *RateLimiter) Remaining(identity, action string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.prune(identity, action)
	remaining := r.quota(action) - len(entries)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ResetUserLimits clears every window for one identity.
func (r *RateLimiter) ResetUserLimits(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.windows, identity)
}

// CleanupOldEntries is the administrative sweep: it prunes every window
// and drops identities with no recent activity, bounding memory.
func (r *RateLimiter) CleanupOldEntries() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for identity, actions := range r.windows {
		for action := range actions {
			r.prune(identity, action)
		}
		if len(actions) == 0 {
			delete(r.windows, identity)
		}
	}
}

// StartCleanupTimer runs CleanupOldEntries on the given interval until the
// returned stop function is called.
func (r *RateLimiter) StartCleanupTimer(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := r.clock.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				r.CleanupOldEntries()
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
