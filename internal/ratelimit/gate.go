package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Class identifies a category of outbound calls that share a quota.
type Class string

const (
	// ClassAPI covers authenticated application calls to a PDS.
	ClassAPI Class = "api"
	// ClassOAuth covers token endpoint and identity calls.
	ClassOAuth Class = "oauth"
)

// limits per fixed window, keyed by class.
var classLimits = map[Class]struct {
	max    int
	window time.Duration
}{
	ClassAPI:   {max: 300, window: 300 * time.Second},
	ClassOAuth: {max: 60, window: 60 * time.Second},
}

type window struct {
	resetTime time.Time
	count     int
}

// Gate is an in-memory fixed-window rate gate keyed by (subject, class).
// Counters reset when their window elapses rather than sliding.
// For production, consider using Redis or a distributed rate limiter
type Gate struct {
	windows map[string]*window
	mu      sync.Mutex
	now     func() time.Time
}

// NewGate creates a rate gate and starts a background sweep that drops
// expired windows.
func NewGate() *Gate {
	g := &Gate{
		windows: make(map[string]*window),
		now:     time.Now,
	}
	go g.cleanup(5 * time.Minute)
	return g
}

func key(subject string, class Class) string {
	return subject + ":" + string(class)
}

// WouldExceed reports whether recording one more call for subject under
// class would push the current window over its limit. It does not record.
func (g *Gate) WouldExceed(subject string, class Class) bool {
	lim, ok := classLimits[class]
	if !ok {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	w, exists := g.windows[key(subject, class)]
	if !exists || g.now().UTC().After(w.resetTime) {
		return false
	}
	return w.count >= lim.max
}

// Record counts n calls for subject under class, opening a fresh window
// if the previous one has expired, and returns how many calls remain in
// the current window. Remaining floors at zero.
func (g *Gate) Record(subject string, class Class, n int) int {
	lim, ok := classLimits[class]
	if !ok {
		return 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UTC()
	k := key(subject, class)

	w, exists := g.windows[k]
	if !exists || now.After(w.resetTime) {
		w = &window{resetTime: now.Add(lim.window)}
		g.windows[k] = w
	}
	w.count += n
	if w.count >= lim.max {
		return 0
	}
	return lim.max - w.count
}

// Allow records the call if it fits in the current window and reports
// whether it was admitted.
func (g *Gate) Allow(subject string, class Class) bool {
	ok, _ := g.admit(subject, class)
	return ok
}

// admit records the call when it fits; on denial it reports how long the
// caller has to wait until the window resets. Check and record happen
// under one lock so concurrent callers cannot over-admit.
func (g *Gate) admit(subject string, class Class) (bool, time.Duration) {
	lim, ok := classLimits[class]
	if !ok {
		return true, 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UTC()
	k := key(subject, class)

	w, exists := g.windows[k]
	if !exists || now.After(w.resetTime) {
		g.windows[k] = &window{count: 1, resetTime: now.Add(lim.window)}
		return true, 0
	}
	if w.count >= lim.max {
		return false, w.resetTime.Sub(now)
	}
	w.count++
	return true, 0
}

// WaitForAvailability blocks until the subject has room in its window for
// class, then records the call. A denied caller sleeps until the window
// resets, plus jitter so goroutines do not stampede the same boundary.
// Returns the context error if ctx is cancelled first.
func (g *Gate) WaitForAvailability(ctx context.Context, subject string, class Class) error {
	for {
		admitted, waitFor := g.admit(subject, class)
		if admitted {
			return nil
		}

		delay := waitFor + time.Duration(rand.Intn(500))*time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// cleanup removes expired windows periodically.
func (g *Gate) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for range ticker.C {
		g.mu.Lock()
		now := g.now().UTC()
		for k, w := range g.windows {
			if now.After(w.resetTime) {
				delete(g.windows, k)
			}
		}
		g.mu.Unlock()
	}
}
