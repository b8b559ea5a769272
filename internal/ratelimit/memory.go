package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/koios/signage-sync/internal/config"
)

// sweepEvery bounds how many calls pass between expired-window sweeps.
const sweepEvery = 1024

type window struct {
	start time.Time
	count int64
}

// MemoryLimiter keeps windows in process; each replica limits on its own.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	window  time.Duration
	max     int
	calls   int
	now     func() time.Time
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter(cfg config.RateLimitConfig) *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*window),
		window:  cfg.Window,
		max:     cfg.MaxRequests,
		now:     time.Now,
	}
}

// WithClock replaces the time source.
func (m *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	m.now = now
	return m
}

func (m *MemoryLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.calls++
	if m.calls%sweepEvery == 0 {
		m.sweep(now)
	}

	w, ok := m.windows[key]
	if !ok || now.Sub(w.start) >= m.window {
		w = &window{start: now}
		m.windows[key] = w
	}
	w.count++

	return decide(w.count, m.max, w.start.Add(m.window).Sub(now)), nil
}

func (m *MemoryLimiter) sweep(now time.Time) {
	for k, w := range m.windows {
		if now.Sub(w.start) >= m.window {
			delete(m.windows, k)
		}
	}
}
