// Package ratelimit implements the per-client-address accept limiter:
// N connections per window, beyond which new accepts from that address
// are dropped.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// PerAddressLimiter tracks one token-bucket limiter per client address,
// lazily created on first sight and reused thereafter.
type PerAddressLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// New returns a limiter allowing ratePerSecond connections per address,
// with burst allowed to accumulate up to burst.
func New(ratePerSecond int, burst int) *PerAddressLimiter {
	return &PerAddressLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(ratePerSecond),
		burst:    burst,
	}
}

// Allow reports whether a new accept from addr is within its budget.
func (p *PerAddressLimiter) Allow(addr string) bool {
	return p.limiterFor(addr).Allow()
}

// UpdateLimits changes the rate/burst applied to every address's
// limiter, present and future, mirroring how a live config reload would
// retune the accept path without dropping existing limiter state.
func (p *PerAddressLimiter) UpdateLimits(ratePerSecond int, burst int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limit = rate.Limit(ratePerSecond)
	p.burst = burst
	for _, l := range p.limiters {
		l.SetLimit(p.limit)
		l.SetBurst(p.burst)
	}
}

func (p *PerAddressLimiter) limiterFor(addr string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[addr]
	if !ok {
		l = rate.NewLimiter(p.limit, p.burst)
		p.limiters[addr] = l
	}
	return l
}

// Forget drops the limiter state for addr, for long-lived deployments
// that want to bound memory use as client addresses churn.
func (p *PerAddressLimiter) Forget(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.limiters, addr)
}
