package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepInterval bounds how often Hit scans for idle keys.
const sweepInterval = time.Minute

type window struct {
	stamps []time.Time
	period time.Duration
}

// MemoryBackend keeps a deque of timestamps per key in process memory.
// Keys whose window has emptied are dropped, so memory follows the number
// of recently active clients.
type MemoryBackend struct {
	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{windows: make(map[string]*window)}
}

func (m *MemoryBackend) Hit(_ context.Context, key string, rule Rule, now time.Time) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweep(now)

	w, ok := m.windows[key]
	if !ok {
		w = &window{}
	}
	w.period = rule.Period
	w.evict(now)

	if len(w.stamps) >= rule.Requests {
		if len(w.stamps) == 0 {
			delete(m.windows, key)
			return false, rule.Period, nil
		}
		m.windows[key] = w
		return false, w.stamps[0].Add(rule.Period).Sub(now), nil
	}
	w.stamps = append(w.stamps, now)
	m.windows[key] = w
	return true, 0, nil
}

func (m *MemoryBackend) Reset(context.Context) error {
	m.mu.Lock()
	m.windows = make(map[string]*window)
	m.mu.Unlock()
	return nil
}

// Len returns the number of tracked keys.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// sweep drops idle keys at most once per sweepInterval.  The caller holds
// m.mu.
func (m *MemoryBackend) sweep(now time.Time) {
	if now.Sub(m.lastSweep) < sweepInterval {
		return
	}
	m.lastSweep = now
	for key, w := range m.windows {
		if w.evict(now); len(w.stamps) == 0 {
			delete(m.windows, key)
		}
	}
}

func (w *window) evict(now time.Time) {
	cutoff := now.Add(-w.period)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	w.stamps = w.stamps[i:]
}
