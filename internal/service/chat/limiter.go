package chat

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long an unused per-user limiter is kept
const limiterIdleTTL = 10 * time.Minute

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// SubmitLimiter is a per-user token bucket for generation requests.
// A nil *SubmitLimiter allows everything.
type SubmitLimiter struct {
	mu     sync.Mutex
	users  map[string]*userLimiter
	limit  rate.Limit
	burst  int
	now    func() time.Time
	lastGC time.Time
}

// NewSubmitLimiter allows perMinute submissions per user with the given burst.
// perMinute <= 0 disables limiting.
func NewSubmitLimiter(perMinute, burst int) *SubmitLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &SubmitLimiter{
		users: make(map[string]*userLimiter),
		limit: rate.Every(time.Minute / time.Duration(perMinute)),
		burst: burst,
		now:   time.Now,
	}
}

// Allow reports whether userID may start another generation now.
func (l *SubmitLimiter) Allow(userID string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastGC) > limiterIdleTTL {
		for id, u := range l.users {
			if now.Sub(u.lastSeen) > limiterIdleTTL {
				delete(l.users, id)
			}
		}
		l.lastGC = now
	}

	u, ok := l.users[userID]
	if !ok {
		u = &userLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.users[userID] = u
	}
	u.lastSeen = now
	return u.limiter.AllowN(now, 1)
}
