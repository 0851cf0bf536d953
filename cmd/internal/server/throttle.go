package server

import (
	"net"
	"sync"
	"time"
)

// maxTrackedHosts triggers a full sweep of expired entries.
const maxTrackedHosts = 4096

// AuthThrottle refuses new connections from a host that collected too many rejected
// handshakes within a sliding window. A nil *AuthThrottle allows everything.
type AuthThrottle struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	limit    int
	window   time.Duration
}

// NewAuthThrottle returns nil (disabled) when limit or window is not positive.
func NewAuthThrottle(limit int, window time.Duration) *AuthThrottle {
	if limit <= 0 || window <= 0 {
		return nil
	}
	return &AuthThrottle{
		failures: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow reports whether host may open a session at time now.
func (t *AuthThrottle) Allow(host string, now time.Time) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.prune(host, now)) < t.limit
}

// Fail records a rejected handshake from host.
func (t *AuthThrottle) Fail(host string, now time.Time) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	events := t.prune(host, now)
	t.failures[host] = append(events, now)

	if len(t.failures) > maxTrackedHosts {
		for h := range t.failures {
			t.prune(h, now)
		}
	}
}

// prune drops events outside the window and forgets hosts with none left.
func (t *AuthThrottle) prune(host string, now time.Time) []time.Time {
	events := t.failures[host]
	cut := now.Add(-t.window)
	dst := events[:0]
	for _, at := range events {
		if at.After(cut) {
			dst = append(dst, at)
		}
	}
	if len(dst) == 0 {
		delete(t.failures, host)
		return nil
	}
	t.failures[host] = dst
	return dst
}

// hostOf strips the port from a remote address.
func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
