// Package transport performs single-page fetches with per-domain pacing,
// conditional request headers, and a subprocess-based fallback path.
package transport

import (
	"context"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Pacer enforces a minimum randomized delay between requests to the same
// hostname. State is process-wide and long-lived: it is constructed once at
// wiring time and shared by every fetcher, so repeated calls to one domain
// stay paced even across unrelated sources and across runs.
type Pacer struct {
	mu       sync.Mutex
	last     map[string]time.Time
	minDelay time.Duration
	maxDelay time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
	randn func(n int64) int64
}

// NewPacer builds a Pacer with the given delay bounds. Non-positive bounds
// fall back to the 1s–3s defaults.
func NewPacer(minDelay, maxDelay time.Duration) *Pacer {
	if minDelay <= 0 {
		minDelay = time.Second
	}
	if maxDelay < minDelay {
		maxDelay = 3 * time.Second
	}
	return &Pacer{
		last:     make(map[string]time.Time),
		minDelay: minDelay,
		maxDelay: maxDelay,
		now:      time.Now,
		sleep:    sleepCtx,
		randn:    rand.Int63n,
	}
}

// Wait blocks until the per-domain delay for rawURL's hostname has elapsed,
// then reserves the slot. Returns early with the context error on cancel.
func (p *Pacer) Wait(ctx context.Context, rawURL string) error {
	host := hostKey(rawURL)

	p.mu.Lock()
	now := p.now()
	delay := p.minDelay
	if span := int64(p.maxDelay - p.minDelay); span > 0 {
		delay += time.Duration(p.randn(span))
	}
	next := p.last[host].Add(delay)
	wait := next.Sub(now)
	if wait < 0 {
		wait = 0
	}
	p.last[host] = now.Add(wait)
	p.mu.Unlock()

	if wait > 0 {
		p.sleep(ctx, wait)
	}
	return ctx.Err()
}

func hostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
