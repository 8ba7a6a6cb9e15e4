package connector

import (
	"net/http"

	"discovery/internal/config"
	"discovery/internal/core/fetch"
	"discovery/internal/core/model"
)

// NewRegistryFromConfig registers the connectors enabled in p. Web and
// site search share one search backend at searchURL, which may be empty.
func NewRegistryFromConfig(p config.Pipeline, searchURL string, stack *fetch.Stack) *Registry {
	search := NewSearch(searchURL, &http.Client{Timeout: p.ConnectorTimeout}, p.MaxResultsPerQuery)
	r := NewRegistry()
	for _, name := range p.Connectors {
		switch model.QueryType(name) {
		case model.QueryWebSearch:
			r.Register(model.QueryWebSearch, search)
		case model.QuerySiteSearch:
			r.Register(model.QuerySiteSearch, search)
		case model.QueryFeed:
			r.Register(model.QueryFeed, NewFeed(search, stack.Fetcher, p.MaxResultsPerQuery))
		case model.QueryDirectory:
			r.Register(model.QueryDirectory, NewDirectory(search, stack.Robots, DirectoryOptions{
				UserAgent:  p.UserAgent,
				Delay:      p.PolitenessDelay,
				MaxResults: p.MaxResultsPerQuery,
				Transport:  fetch.NewClient(p.AllowPrivateNetworks).Transport,
			}))
		}
	}
	if !search.Available() {
		r.log.LogWarnf("SEARCH_API_URL not set, search backed connectors are unavailable")
	}
	return r
}
