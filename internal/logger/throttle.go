package logger

import (
	"sync"
	"time"
)

// Throttle lets a keyed message through at most once per window.
type Throttle struct {
	window time.Duration
	nowFn  func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func NewThrottle(window time.Duration) *Throttle {
	if window <= 0 {
		window = time.Hour
	}
	return &Throttle{window: window, nowFn: time.Now, last: make(map[string]time.Time)}
}

// Allow reports whether key may log now and records the attempt when it may.
func (t *Throttle) Allow(key string) bool {
	if t == nil {
		return true
	}
	now := t.nowFn()
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.last[key]; ok && now.Sub(prev) < t.window {
		return false
	}
	t.last[key] = now
	return true
}

// Forget drops the key, e.g. once the condition behind it has cleared.
func (t *Throttle) Forget(key string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	delete(t.last, key)
	t.mu.Unlock()
}

func (t *Throttle) Warnf(key, format string, v ...any) {
	if t.Allow(key) {
		Warnf(format, v...)
	}
}

func (t *Throttle) Infof(key, format string, v ...any) {
	if t.Allow(key) {
		Infof(format, v...)
	}
}
