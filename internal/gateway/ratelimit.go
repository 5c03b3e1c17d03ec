package gateway

import (
	"net"
	"sync"
	"time"
)

const (
	authFailWindow = 5 * time.Minute
	authFailMax    = 10
	authFailMaxIPs = 10000
)

// failureLimiter counts failed handshakes per remote host within a sliding
// window. Stale entries are pruned on access.
type failureLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	now      func() time.Time
}

func newFailureLimiter() *failureLimiter {
	return &failureLimiter{failures: make(map[string][]time.Time), now: time.Now}
}

func hostOf(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}

// allow reports whether the host is still below the failure limit.
func (l *failureLimiter) allow(remoteAddr string) bool {
	host := hostOf(remoteAddr)
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pruneLocked(host)) < authFailMax
}

// record notes a failure for the host.
func (l *failureLimiter) record(remoteAddr string) {
	host := hostOf(remoteAddr)
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.failures[host]; !ok && len(l.failures) >= authFailMaxIPs {
		l.evictOldestLocked()
	}
	l.failures[host] = append(l.pruneLocked(host), l.now())
}

func (l *failureLimiter) pruneLocked(host string) []time.Time {
	cutoff := l.now().Add(-authFailWindow)
	times := l.failures[host]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(l.failures, host)
		return nil
	}
	l.failures[host] = kept
	return kept
}

func (l *failureLimiter) evictOldestLocked() {
	var oldest string
	var oldestAt time.Time
	for host, times := range l.failures {
		if len(times) > 0 && (oldest == "" || times[0].Before(oldestAt)) {
			oldest, oldestAt = host, times[0]
		}
	}
	delete(l.failures, oldest)
}
