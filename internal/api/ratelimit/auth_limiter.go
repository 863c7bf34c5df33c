// Package ratelimit throttles the login endpoint: a fixed per-IP request
// window plus escalating per-account lockouts after repeated failures.
package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	defaultPerWindow   = 10
	defaultWindow      = time.Minute
	defaultMaxFailures = 5
	defaultBaseLockout = 15 * time.Minute
	maxLockout         = time.Hour
)

type window struct {
	count   int
	resetAt time.Time
}

type lockout struct {
	failures    int
	lockedUntil time.Time
	lockCount   int
}

// Limiter guards login attempts. The IP window is enforced by Middleware;
// account lockouts are driven by the login handler via Fail and Succeed.
type Limiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	lockouts map[string]*lockout

	perWindow   int
	windowSize  time.Duration
	maxFailures int
	baseLockout time.Duration
}

// New creates a limiter with the default thresholds.
func New() *Limiter {
	return &Limiter{
		windows:     make(map[string]*window),
		lockouts:    make(map[string]*lockout),
		perWindow:   defaultPerWindow,
		windowSize:  defaultWindow,
		maxFailures: defaultMaxFailures,
		baseLockout: defaultBaseLockout,
	}
}

// Middleware rejects clients that exceed the per-IP request window.
func (l *Limiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !l.allow(c.RealIP()) {
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests, please try again later")
			}
			return next(c)
		}
	}
}

func (l *Limiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.windows[ip]
	if !ok || now.After(w.resetAt) {
		l.windows[ip] = &window{count: 1, resetAt: now.Add(l.windowSize)}
		return true
	}
	if w.count >= l.perWindow {
		return false
	}
	w.count++
	return true
}

// Locked reports whether the account is locked out and for how much longer.
func (l *Limiter) Locked(username string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lo, ok := l.lockouts[username]
	if !ok {
		return false, 0
	}
	remaining := time.Until(lo.lockedUntil)
	if remaining <= 0 {
		return false, 0
	}
	return true, remaining
}

// Fail records a failed login. Each burst of maxFailures failures locks the
// account, with the lockout growing linearly per burst up to an hour.
func (l *Limiter) Fail(username string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lo, ok := l.lockouts[username]
	if !ok {
		lo = &lockout{}
		l.lockouts[username] = lo
	}

	// A new burst starts once the previous lockout has expired.
	if time.Now().After(lo.lockedUntil) && lo.failures >= l.maxFailures {
		lo.failures = 0
	}

	lo.failures++
	if lo.failures >= l.maxFailures {
		lo.lockCount++
		duration := l.baseLockout * time.Duration(lo.lockCount)
		if duration > maxLockout {
			duration = maxLockout
		}
		lo.lockedUntil = time.Now().Add(duration)
	}
}

// Succeed clears any failure history for the account.
func (l *Limiter) Succeed(username string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.lockouts, username)
}

// StartCleanup sweeps expired windows and lockouts until ctx is cancelled.
func (l *Limiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.sweep()
			}
		}
	}()
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for ip, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, ip)
		}
	}
	for username, lo := range l.lockouts {
		if now.After(lo.lockedUntil) && lo.failures < l.maxFailures {
			delete(l.lockouts, username)
		}
	}
}
