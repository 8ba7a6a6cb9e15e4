package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly"

	"discovery/internal/core/failure"
	"discovery/internal/core/fetch"
	"discovery/internal/core/model"
	"discovery/internal/logger"
)

const (
	// directoryPages is how many search hits are walked as directories
	directoryPages = 3
	// directoryDepth allows following rel=next once from each page
	directoryDepth = 2
)

// listing containers whose links are directory entries
const entrySelector = `ul a[href], ol a[href], table a[href], dl a[href], ` +
	`[class*="member"] a[href], [class*="directory"] a[href], [class*="listing"] a[href], [class*="list"] a[href]`

// Directory walks directory pages with colly and returns the entries they
// list, external hosts first.
type Directory struct {
	search     *Search
	robots     *fetch.Robots
	transport  http.RoundTripper
	userAgent  string
	delay      time.Duration
	maxResults int
	log        *logger.Logger
}

type DirectoryOptions struct {
	UserAgent  string
	Delay      time.Duration
	MaxResults int
	// Transport defaults to the guarded fetch client transport
	Transport http.RoundTripper
}

func NewDirectory(search *Search, robots *fetch.Robots, opts DirectoryOptions) *Directory {
	if opts.Transport == nil {
		opts.Transport = fetch.NewClient(false).Transport
	}
	return &Directory{
		search:     search,
		robots:     robots,
		transport:  opts.Transport,
		userAgent:  opts.UserAgent,
		delay:      opts.Delay,
		maxResults: opts.MaxResults,
		log:        logger.New("DirectoryConnector"),
	}
}

func (d *Directory) Execute(ctx context.Context, q model.DiscoveryQuery) ([]Candidate, error) {
	var pages []string
	if isURL(q.Query) {
		pages = []string{normalizeURL(q.Query, nil)}
	} else {
		if !d.search.Available() {
			return nil, failure.New(failure.KindConnectorUnavailable, q.Query, failure.ErrUnavailable)
		}
		hits, err := d.search.Execute(ctx, q)
		if err != nil {
			return nil, err
		}
		for i, h := range hits {
			if i >= directoryPages {
				break
			}
			pages = append(pages, h.URL)
		}
	}

	seen := map[string]struct{}{}
	var out []Candidate
	var firstErr error
	for _, page := range pages {
		if ctx.Err() != nil {
			break
		}
		entries, err := d.walk(ctx, page)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, c := range entries {
			out = appendUnique(out, seen, c, d.maxResults)
		}
	}
	if len(out) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// walk collects entry links from page and its rel=next successor
func (d *Directory) walk(ctx context.Context, page string) ([]Candidate, error) {
	base, err := url.Parse(page)
	if err != nil {
		return nil, failure.New(failure.KindParse, page, err)
	}
	pageHost := strings.TrimPrefix(base.Hostname(), "www.")

	c := colly.NewCollector(colly.MaxDepth(directoryDepth), colly.UserAgent(d.userAgent))
	c.WithTransport(d.transport)
	if err := c.Limit(&colly.LimitRule{DomainGlob: "*", Parallelism: 1, Delay: d.delay}); err != nil {
		return nil, fmt.Errorf("colly limit: %w", err)
	}

	var (
		mu       sync.Mutex
		external []Candidate
		internal []Candidate
		visitErr error
	)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		if d.robots != nil && !d.robots.Allowed(ctx, r.URL.String()) {
			d.log.LogDebugf("directory walk disallowed by robots %s", r.URL)
			mu.Lock()
			if visitErr == nil {
				visitErr = failure.New(failure.KindRobotsDisallowed, r.URL.String(), failure.ErrRobotsDisallowed)
			}
			mu.Unlock()
			r.Abort()
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		defer mu.Unlock()
		if visitErr != nil {
			return
		}
		if r != nil && r.StatusCode >= 400 {
			visitErr = failure.FromStatus(r.StatusCode, r.Request.URL.String())
			return
		}
		visitErr = failure.Classify(err, page)
	})

	c.OnHTML(entrySelector, func(e *colly.HTMLElement) {
		link := normalizeURL(e.Request.AbsoluteURL(e.Attr("href")), nil)
		if link == "" {
			return
		}
		lu, err := url.Parse(link)
		if err != nil {
			return
		}
		cand := Candidate{
			URL:         link,
			Title:       strings.Join(strings.Fields(e.Text), " "),
			ReferrerURL: e.Request.URL.String(),
			Source:      model.QueryDirectory,
		}
		mu.Lock()
		if strings.TrimPrefix(lu.Hostname(), "www.") != pageHost {
			external = append(external, cand)
		} else if lu.Path != base.Path {
			internal = append(internal, cand)
		}
		mu.Unlock()
	})
	c.OnHTML(`a[rel="next"]`, func(e *colly.HTMLElement) {
		_ = e.Request.Visit(e.Request.AbsoluteURL(e.Attr("href")))
	})

	if err := c.Visit(page); err != nil && visitErr == nil {
		visitErr = failure.Classify(err, page)
	}
	c.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(external)+len(internal) == 0 && visitErr != nil {
		return nil, visitErr
	}
	return append(external, internal...), nil
}
