package access

import (
	"sync"
	"time"
)

// rateLimiter is a fixed-window counter keyed by subject. Counts are
// monotonic within a window and reset only at window boundaries; the
// mutex makes increments atomic so concurrent requests from one subject
// cannot both slip under the limit.
type rateLimiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*subjectWindow
}

type subjectWindow struct {
	start time.Time
	count int
}

func newRateLimiter(max int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		max:     max,
		window:  window,
		now:     time.Now,
		windows: make(map[string]*subjectWindow),
	}
}

// allow consumes one request slot for subject, reporting false once the
// window's budget is spent.
func (l *rateLimiter) allow(subject string) bool {
	if l.max <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[subject]
	if !ok || now.Sub(w.start) >= l.window {
		l.windows[subject] = &subjectWindow{start: now, count: 1}
		return true
	}

	if w.count >= l.max {
		return false
	}
	w.count++
	return true
}
