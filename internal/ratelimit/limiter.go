// Package ratelimit implements the connection-admission limiter cmd/dbproxy
// puts in front of each listener's accept loop, adapted from the teacher's
// own server/limiter package.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config is a limiter's tunables: Limit is tokens/sec, Burst is the bucket
// size, Enable toggles the whole limiter off (Allow always true).
type Config struct {
	Limit  int
	Burst  int
	Enable bool
}

// Limiter wraps golang.org/x/time/rate.Limiter with a live-updatable
// config, so cmd/dbproxy can bound how fast new client connections are
// admitted under load without dropping already-pooled backend traffic.
type Limiter struct {
	l *rate.Limiter

	mu     sync.RWMutex
	limit  int
	burst  int
	enable bool
}

func New(cfg Config) *Limiter {
	return &Limiter{
		l:      rate.NewLimiter(rate.Limit(cfg.Limit), cfg.Burst),
		limit:  cfg.Limit,
		burst:  cfg.Burst,
		enable: cfg.Enable,
	}
}

// Allow reports whether one more connection may be admitted right now.
func (f *Limiter) Allow() bool {
	f.mu.RLock()
	enable := f.enable
	f.mu.RUnlock()
	if !enable {
		return true
	}
	return f.l.Allow()
}

func (f *Limiter) Update(cfg Config) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.l.SetLimit(rate.Limit(cfg.Limit))
	f.l.SetBurst(cfg.Burst)
	f.limit = cfg.Limit
	f.burst = cfg.Burst
	f.enable = cfg.Enable
}

func (f *Limiter) Config() Config {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Config{Limit: f.limit, Burst: f.burst, Enable: f.enable}
}
