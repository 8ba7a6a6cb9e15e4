// Package fetch retrieves page bodies for the capture store. The static
// fetcher is plain HTTP with a dial-time address guard; the rendered fetcher
// drives a headless Chromium through Playwright.
package fetch

import (
	"context"
	"net/url"
	"strings"
	"time"

	"discovery/internal/core/failure"
	"discovery/internal/core/model"
)

// Response is one fetched body
type Response struct {
	StatusCode int
	Headers    map[string][]string
	Body       []byte
	FinalURL   string
	Duration   time.Duration
	Mode       model.FetchMode
	Truncated  bool
}

// ContentType returns the first Content-Type header value
func (r *Response) ContentType() string {
	for k, v := range r.Headers {
		if strings.EqualFold(k, "Content-Type") && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// Fetcher retrieves a URL. Errors are *failure.Error.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Response, error)
}

type Options struct {
	UserAgent            string
	Timeout              time.Duration
	MaxBodyBytes         int64
	AllowPrivateNetworks bool
	Strategy             HeaderStrategy
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 5 << 20
	}
	if o.Strategy == "" {
		o.Strategy = StrategyBotFriendly
	}
	return o
}

// parseTarget accepts absolute http(s) URLs only
func parseTarget(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, failure.New(failure.KindParse, rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, failure.New(failure.KindParse, rawURL, errUnsupportedScheme)
	}
	if u.Hostname() == "" {
		return nil, failure.New(failure.KindParse, rawURL, errMissingHost)
	}
	return u, nil
}

func truncate(body []byte, max int64) ([]byte, bool) {
	if int64(len(body)) > max {
		return body[:max], true
	}
	return body, false
}
