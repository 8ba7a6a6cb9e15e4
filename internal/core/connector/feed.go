package connector

import (
	"bytes"
	"context"
	"strings"

	"github.com/mmcdole/gofeed"

	"discovery/internal/core/failure"
	"discovery/internal/core/fetch"
	"discovery/internal/core/model"
	"discovery/internal/logger"
)

const (
	// feedTryLimit bounds how many search results are fetched as feeds
	feedTryLimit = 5
	// feedItemLimit bounds the item links taken from a single feed
	feedItemLimit = 10
)

// Feed finds candidates through RSS and Atom feeds. A query that is a URL
// is read as a feed directly; other queries go through search and each
// hit is tried as a feed.
type Feed struct {
	search     *Search
	fetcher    fetch.Fetcher
	maxResults int
	log        *logger.Logger
}

func NewFeed(search *Search, fetcher fetch.Fetcher, maxResults int) *Feed {
	return &Feed{search: search, fetcher: fetcher, maxResults: maxResults, log: logger.New("FeedConnector")}
}

func (f *Feed) Execute(ctx context.Context, q model.DiscoveryQuery) ([]Candidate, error) {
	seen := map[string]struct{}{}
	var out []Candidate

	if isURL(q.Query) {
		feedURL := normalizeURL(q.Query, nil)
		parsed, err := f.parse(ctx, feedURL)
		if err != nil {
			return nil, err
		}
		return f.expand(out, seen, parsed, feedURL), nil
	}

	if !f.search.Available() {
		return nil, failure.New(failure.KindConnectorUnavailable, q.Query, failure.ErrUnavailable)
	}
	hits, err := f.search.Execute(ctx, q)
	if err != nil {
		return nil, err
	}
	for i, hit := range hits {
		if err := ctx.Err(); err != nil {
			break
		}
		if i < feedTryLimit {
			if parsed, err := f.parse(ctx, hit.URL); err == nil {
				out = f.expand(out, seen, parsed, hit.URL)
				continue
			}
		}
		hit.Source = model.QueryFeed
		out = appendUnique(out, seen, hit, f.maxResults)
	}
	return out, nil
}

func (f *Feed) parse(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	resp, err := f.fetcher.Fetch(ctx, feedURL)
	if err != nil {
		return nil, err
	}
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, failure.New(failure.KindParse, feedURL, err)
	}
	return parsed, nil
}

// expand adds the channel link and up to feedItemLimit item links
func (f *Feed) expand(out []Candidate, seen map[string]struct{}, parsed *gofeed.Feed, feedURL string) []Candidate {
	meta := map[string]string{"feed_url": feedURL}
	if parsed.Link != "" {
		out = appendUnique(out, seen, Candidate{
			URL:         normalizeURL(parsed.Link, nil),
			Title:       strings.TrimSpace(parsed.Title),
			Snippet:     strings.TrimSpace(parsed.Description),
			ReferrerURL: feedURL,
			Source:      model.QueryFeed,
			Metadata:    meta,
		}, f.maxResults)
	}
	for i, item := range parsed.Items {
		if i >= feedItemLimit {
			break
		}
		out = appendUnique(out, seen, Candidate{
			URL:         normalizeURL(itemLink(item), nil),
			Title:       strings.TrimSpace(item.Title),
			ReferrerURL: feedURL,
			Source:      model.QueryFeed,
			Metadata:    meta,
		}, f.maxResults)
	}
	return out
}

// itemLink prefers the explicit link and falls back to a URL-shaped GUID
func itemLink(item *gofeed.Item) string {
	if item.Link != "" {
		return item.Link
	}
	if strings.HasPrefix(item.GUID, "http") {
		return item.GUID
	}
	return ""
}
