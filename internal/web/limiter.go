package web

import (
	"sync"
	"time"
)

const (
	DefaultAuthLimit  = 30
	DefaultAuthWindow = time.Minute

	limiterMaxEntries = 1000
)

// authLimiter throttles repeated failed authorizations per remote host so
// a misconfigured client cannot flood the log or brute-force the token.
type authLimiter struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	entries     map[string]*authEntry
	lastCleanup time.Time
}

type authEntry struct {
	count       int
	windowStart time.Time
	lastSeen    time.Time
}

func newAuthLimiter(limit int, window time.Duration) *authLimiter {
	if limit <= 0 {
		limit = DefaultAuthLimit
	}
	if window <= 0 {
		window = DefaultAuthWindow
	}
	return &authLimiter{
		limit:   limit,
		window:  window,
		entries: make(map[string]*authEntry),
	}
}

func (l *authLimiter) allow(key string, now time.Time) bool {
	if l == nil {
		return true
	}
	if key == "" {
		key = "unknown"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) > limiterMaxEntries || l.lastCleanup.IsZero() || now.Sub(l.lastCleanup) >= l.window {
		l.cleanup(now)
	}

	entry := l.entries[key]
	if entry == nil {
		entry = &authEntry{windowStart: now}
		l.entries[key] = entry
	}
	if now.Sub(entry.windowStart) >= l.window {
		entry.count = 0
		entry.windowStart = now
	}

	entry.lastSeen = now
	if entry.count >= l.limit {
		return false
	}
	entry.count++
	return true
}

func (l *authLimiter) cleanup(now time.Time) {
	staleCutoff := now.Add(-2 * l.window)
	for key, entry := range l.entries {
		if entry.lastSeen.Before(staleCutoff) {
			delete(l.entries, key)
		}
	}
	l.lastCleanup = now
}
