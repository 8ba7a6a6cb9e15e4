// Package connector turns discovery queries into candidate URLs. Each
// query type has one connector; connectors that are not configured report
// failure.ErrUnavailable and the run moves on.
package connector

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"

	"discovery/internal/core/failure"
	"discovery/internal/core/model"
	"discovery/internal/logger"
)

// Candidate is a URL a connector found for a query
type Candidate struct {
	URL         string            `json:"url"`
	Title       string            `json:"title,omitempty"`
	Snippet     string            `json:"snippet,omitempty"`
	ReferrerURL string            `json:"referrer_url,omitempty"`
	Source      model.QueryType   `json:"source"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type Connector interface {
	Execute(ctx context.Context, q model.DiscoveryQuery) ([]Candidate, error)
}

// Registry dispatches queries by type
type Registry struct {
	mu         sync.RWMutex
	connectors map[model.QueryType]Connector
	log        *logger.Logger
}

func NewRegistry() *Registry {
	return &Registry{connectors: map[model.QueryType]Connector{}, log: logger.New("Connectors")}
}

func (r *Registry) Register(t model.QueryType, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[t] = c
}

// Types lists the registered query types in a stable order
func (r *Registry) Types() []model.QueryType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.QueryType, 0, len(r.connectors))
	for t := range r.connectors {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Execute runs q on its connector. Unknown types are unavailable.
func (r *Registry) Execute(ctx context.Context, q model.DiscoveryQuery) ([]Candidate, error) {
	r.mu.RLock()
	c, ok := r.connectors[q.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, failure.New(failure.KindConnectorUnavailable, q.Query, failure.ErrUnavailable)
	}
	out, err := c.Execute(ctx, q)
	if err != nil {
		return nil, failure.Classify(err, q.Query)
	}
	return out, nil
}

// normalizeURL returns an absolute http(s) URL without fragment, or ""
func normalizeURL(raw string, base *url.URL) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return ""
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

// isURL reports whether a query is itself an absolute http(s) URL
func isURL(q string) bool {
	return normalizeURL(q, nil) != "" && !strings.ContainsAny(strings.TrimSpace(q), " \t")
}

// appendUnique adds c unless its URL was seen, respecting limit
func appendUnique(out []Candidate, seen map[string]struct{}, c Candidate, limit int) []Candidate {
	if c.URL == "" || (limit > 0 && len(out) >= limit) {
		return out
	}
	if _, ok := seen[c.URL]; ok {
		return out
	}
	seen[c.URL] = struct{}{}
	return append(out, c)
}
