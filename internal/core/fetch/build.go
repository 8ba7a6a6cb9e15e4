package fetch

import (
	"discovery/internal/config"
	rds "discovery/internal/platform/redis"
)

// Stack is the fetcher a discovery run uses plus the pieces that need
// closing or sharing
type Stack struct {
	Fetcher  Fetcher
	Static   *HTTPFetcher
	Rendered *RenderedFetcher
	Robots   *Robots
	Throttle *Throttle
}

// NewStack assembles static (or auto) fetching behind robots.txt and
// per host politeness. cache may be nil.
func NewStack(p config.Pipeline, cache *rds.Service) *Stack {
	opts := Options{
		UserAgent:            p.UserAgent,
		Timeout:              p.FetchTimeout,
		MaxBodyBytes:         p.MaxBodyBytes,
		AllowPrivateNetworks: p.AllowPrivateNetworks,
		Strategy:             HeaderStrategy(p.HeaderStrategy),
	}
	s := &Stack{Static: NewHTTPFetcher(opts), Throttle: NewThrottle(p.PolitenessDelay)}
	s.Robots = NewRobots(s.Static.Client(), p.UserAgent, cache)

	var base Fetcher = s.Static
	if p.RenderJS {
		s.Rendered = NewRenderedFetcher(opts)
		base = NewAutoFetcher(s.Static, s.Rendered)
	}
	s.Fetcher = NewPoliteFetcher(base, s.Robots, s.Throttle)
	return s
}

// Close releases the browser when one was started
func (s *Stack) Close() error {
	if s.Rendered != nil {
		return s.Rendered.Close()
	}
	return nil
}
