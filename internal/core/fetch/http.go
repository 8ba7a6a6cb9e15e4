package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"discovery/internal/core/failure"
	"discovery/internal/core/model"
	"discovery/internal/logger"
)

var (
	errUnsupportedScheme = errors.New("unsupported scheme")
	errMissingHost       = errors.New("missing host")
	errTooManyRedirects  = errors.New("stopped after 10 redirects")
)

// HTTPFetcher is the static fetcher
type HTTPFetcher struct {
	client *http.Client
	opts   Options
	log    *logger.Logger
}

func NewHTTPFetcher(opts Options) *HTTPFetcher {
	opts = opts.withDefaults()
	return &HTTPFetcher{
		client: NewClient(opts.AllowPrivateNetworks),
		opts:   opts,
		log:    logger.New("HTTPFetcher"),
	}
}

// Client exposes the guarded client for robots.txt lookups
func (f *HTTPFetcher) Client() *http.Client { return f.client }

// NewClient returns an http.Client whose dialer refuses non-public
// addresses unless allowPrivate is set. The check runs after DNS
// resolution so rebinding tricks are covered.
func NewClient(allowPrivate bool) *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	if !allowPrivate {
		dialer.Control = guardControl
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errTooManyRedirects
			}
			return nil
		},
	}
}

func guardControl(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", failure.ErrSSRF, address)
	}
	if ip := net.ParseIP(host); ip == nil || !PublicIP(ip) {
		return fmt.Errorf("%w: %s", failure.ErrSSRF, host)
	}
	return nil
}

// PublicIP reports whether ip is routable on the public internet
func PublicIP(ip net.IP) bool {
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast())
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	u, err := parseTarget(rawURL)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, failure.New(failure.KindParse, rawURL, err)
	}
	profile := Profile(f.opts.Strategy, f.opts.UserAgent)
	req.Header.Set("User-Agent", profile.UserAgent)
	for k, v := range profile.Map() {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		fe := failure.Classify(err, rawURL)
		f.log.Debug().Str("url", rawURL).Str("kind", string(fe.Kind)).Msg("fetch failed")
		return nil, fe
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, failure.FromStatus(resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, failure.Classify(err, rawURL)
	}
	body, truncated := truncate(body, f.opts.MaxBodyBytes)
	if truncated {
		f.log.LogWarnf("body of %s truncated at %d bytes", rawURL, f.opts.MaxBodyBytes)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       body,
		FinalURL:   resp.Request.URL.String(),
		Duration:   time.Since(start),
		Mode:       model.FetchStatic,
		Truncated:  truncated,
	}, nil
}
