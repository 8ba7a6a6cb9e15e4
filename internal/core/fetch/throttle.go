package fetch

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"discovery/internal/core/failure"
)

// Throttle spaces requests to the same host by at least delay
type Throttle struct {
	delay time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewThrottle(delay time.Duration) *Throttle {
	return &Throttle{delay: delay, limiters: map[string]*rate.Limiter{}}
}

// Wait blocks until host may be contacted again or ctx ends
func (t *Throttle) Wait(ctx context.Context, host string) error {
	if t == nil || t.delay <= 0 {
		return nil
	}
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	t.mu.Lock()
	l, ok := t.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Every(t.delay), 1)
		t.limiters[host] = l
	}
	t.mu.Unlock()
	return l.Wait(ctx)
}

// PoliteFetcher applies robots.txt and per host spacing before delegating
type PoliteFetcher struct {
	inner    Fetcher
	robots   *Robots
	throttle *Throttle
}

// NewPoliteFetcher wraps inner. robots and throttle may be nil.
func NewPoliteFetcher(inner Fetcher, robots *Robots, throttle *Throttle) *PoliteFetcher {
	return &PoliteFetcher{inner: inner, robots: robots, throttle: throttle}
}

func (p *PoliteFetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	u, err := parseTarget(rawURL)
	if err != nil {
		return nil, err
	}
	if p.robots != nil && !p.robots.Allowed(ctx, u.String()) {
		return nil, failure.New(failure.KindRobotsDisallowed, rawURL, failure.ErrRobotsDisallowed)
	}
	if err := p.throttle.Wait(ctx, u.Hostname()); err != nil {
		return nil, failure.Classify(err, rawURL)
	}
	return p.inner.Fetch(ctx, rawURL)
}
