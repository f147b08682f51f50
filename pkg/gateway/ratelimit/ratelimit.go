// Package ratelimit keeps per-user quotas for the gateway: a token bucket
// for ordinary requests and a cap on simultaneous live sessions.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Config struct {
	// RPS and Burst shape the request bucket. Either at zero disables it.
	RPS   float64
	Burst int

	// MaxLiveSessions caps open voice sessions per user. Zero means no cap.
	MaxLiveSessions int

	// MaxUsers bounds the quota table; IdleTTL is how long an unused entry
	// survives once the table is full.
	MaxUsers int
	IdleTTL  time.Duration
}

// Limiter is safe for concurrent use. State lives in process memory, so
// each gateway replica enforces its own quotas.
type Limiter struct {
	cfg Config

	mu     sync.Mutex
	quotas map[string]*quota
}

type quota struct {
	bucket   *rate.Limiter
	live     int
	lastSeen time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxUsers <= 0 {
		cfg.MaxUsers = 10_000
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	return &Limiter{cfg: cfg, quotas: map[string]*quota{}}
}

// Decision is the verdict on one acquisition. RetryAfter is in whole
// seconds and only meaningful when Allowed is false.
type Decision struct {
	Allowed    bool
	RetryAfter int
	Slot       *Slot
}

// Slot is a held live-session reservation. Release is idempotent.
type Slot struct {
	once    sync.Once
	release func()
}

func (s *Slot) Release() {
	if s == nil || s.release == nil {
		return
	}
	s.once.Do(s.release)
}

// AllowRequest takes one token from userID's bucket.
func (l *Limiter) AllowRequest(userID string, now time.Time) Decision {
	if l.cfg.RPS <= 0 || l.cfg.Burst <= 0 {
		return Decision{Allowed: true}
	}
	l.mu.Lock()
	q := l.quotaLocked(userID, now)
	l.mu.Unlock()

	res := q.bucket.ReserveN(now, 1)
	if !res.OK() {
		return Decision{RetryAfter: 1}
	}
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return Decision{RetryAfter: wholeSeconds(wait)}
	}
	return Decision{Allowed: true}
}

// ReserveLiveSlot claims one of userID's live-session slots. The returned
// Slot must be released when the session's websocket closes.
func (l *Limiter) ReserveLiveSlot(userID string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	q := l.quotaLocked(userID, now)
	if l.cfg.MaxLiveSessions > 0 && q.live >= l.cfg.MaxLiveSessions {
		return Decision{RetryAfter: 1}
	}
	q.live++
	return Decision{Allowed: true, Slot: &Slot{release: func() {
		l.mu.Lock()
		q.live--
		l.mu.Unlock()
	}}}
}

// LiveSessions reports how many slots userID currently holds.
func (l *Limiter) LiveSessions(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if q, ok := l.quotas[keyFor(userID)]; ok {
		return q.live
	}
	return 0
}

func (l *Limiter) quotaLocked(userID string, now time.Time) *quota {
	key := keyFor(userID)
	if q, ok := l.quotas[key]; ok {
		q.lastSeen = now
		return q
	}
	if len(l.quotas) >= l.cfg.MaxUsers {
		l.evictLocked(now)
	}
	q := &quota{
		bucket:   rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst),
		lastSeen: now,
	}
	l.quotas[key] = q
	return q
}

// evictLocked drops idle entries past IdleTTL, or failing that the least
// recently seen one. Entries holding live slots are never evicted.
func (l *Limiter) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for key, q := range l.quotas {
		if q.live > 0 {
			continue
		}
		if now.Sub(q.lastSeen) > l.cfg.IdleTTL {
			delete(l.quotas, key)
			continue
		}
		if oldestKey == "" || q.lastSeen.Before(oldest) {
			oldestKey, oldest = key, q.lastSeen
		}
	}
	if len(l.quotas) >= l.cfg.MaxUsers && oldestKey != "" {
		delete(l.quotas, oldestKey)
	}
}

func keyFor(userID string) string {
	if userID == "" {
		return "anonymous"
	}
	return userID
}

func wholeSeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}
