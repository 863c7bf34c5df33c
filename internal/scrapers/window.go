package scrapers

import (
	"sync"
	"time"
)

// window is a fixed-window request counter. Each scraper keeps one sized to
// its provider's tolerance; exceeding it surfaces as ErrRateLimited so the
// caller can skip or reschedule instead of hammering the endpoint.
type window struct {
	mu     sync.Mutex
	limit  int
	period time.Duration
	count  int
	reset  time.Time
}

func newWindow(limit int, period time.Duration) *window {
	return &window{limit: limit, period: period}
}

// allow consumes one slot if the window has room.
func (w *window) allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if now.After(w.reset) {
		w.count = 0
		w.reset = now.Add(w.period)
	}
	if w.count >= w.limit {
		return false
	}
	w.count++
	return true
}
