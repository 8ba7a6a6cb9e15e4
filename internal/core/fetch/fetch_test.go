package fetch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discovery/internal/config"
	"discovery/internal/core/failure"
	"discovery/internal/core/model"
)

func localOpts() Options {
	return Options{UserAgent: "TestBot/1.0", Timeout: 2 * time.Second, MaxBodyBytes: 1 << 10, AllowPrivateNetworks: true}
}

func TestHTTPFetcherFetchesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusMovedPermanently)
			return
		}
		assert.Equal(t, "TestBot/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(localOpts())
	resp, err := f.Fetch(context.Background(), srv.URL+"/old")
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, srv.URL+"/new", resp.FinalURL)
	assert.Equal(t, model.FetchStatic, resp.Mode)
	assert.Equal(t, "text/html; charset=utf-8", resp.ContentType())
	assert.False(t, resp.Truncated)
	assert.Contains(t, string(resp.Body), "hello")
}

func TestHTTPFetcherTruncatesLargeBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 4096)))
	}))
	defer srv.Close()

	resp, err := NewHTTPFetcher(localOpts()).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, resp.Truncated)
	assert.Len(t, resp.Body, 1<<10)
}

func TestHTTPFetcherClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   failure.Kind
	}{
		{http.StatusForbidden, failure.KindBlocked},
		{http.StatusTooManyRequests, failure.KindBlocked},
		{http.StatusNotFound, failure.KindHTTP},
		{http.StatusGatewayTimeout, failure.KindTimeout},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		_, err := NewHTTPFetcher(localOpts()).Fetch(context.Background(), srv.URL)
		srv.Close()

		var fe *failure.Error
		require.True(t, errors.As(err, &fe), "status %d", tt.status)
		assert.Equal(t, tt.kind, fe.Kind)
		assert.Equal(t, tt.status, fe.StatusCode)
	}
}

func TestHTTPFetcherTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	opts := localOpts()
	opts.Timeout = 50 * time.Millisecond
	_, err := NewHTTPFetcher(opts).Fetch(context.Background(), srv.URL)
	assert.Equal(t, failure.KindTimeout, failure.KindOf(err))
}

func TestHTTPFetcherRejectsPrivateAddresses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("guarded request reached the server")
	}))
	defer srv.Close()

	opts := localOpts()
	opts.AllowPrivateNetworks = false
	_, err := NewHTTPFetcher(opts).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, failure.KindSSRFRejected, failure.KindOf(err))
}

func TestFetchRejectsBadURLs(t *testing.T) {
	f := NewHTTPFetcher(localOpts())
	for _, u := range []string{"ftp://example.com/file", "/relative/path", "http://"} {
		_, err := f.Fetch(context.Background(), u)
		assert.Equal(t, failure.KindParse, failure.KindOf(err), u)
	}
}

func TestPublicIP(t *testing.T) {
	for _, ip := range []string{"127.0.0.1", "10.1.2.3", "192.168.0.1", "169.254.169.254", "::1", "0.0.0.0", "fc00::1"} {
		assert.False(t, PublicIP(net.ParseIP(ip)), ip)
	}
	for _, ip := range []string{"8.8.8.8", "1.1.1.1", "2606:4700:4700::1111"} {
		assert.True(t, PublicIP(net.ParseIP(ip)), ip)
	}
}

func TestPoliteFetcherHonoursRobots(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
			return
		}
		hits.Add(1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	static := NewHTTPFetcher(localOpts())
	polite := NewPoliteFetcher(static, NewRobots(static.Client(), "TestBot", nil), nil)

	_, err := polite.Fetch(context.Background(), srv.URL+"/private/list")
	assert.Equal(t, failure.KindRobotsDisallowed, failure.KindOf(err))
	assert.True(t, errors.Is(err, failure.ErrRobotsDisallowed))

	resp, err := polite.Fetch(context.Background(), srv.URL+"/public")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
	assert.Equal(t, int32(1), hits.Load())
}

func TestStackSendsConfiguredHeaderStrategy(t *testing.T) {
	headers := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		headers <- r.Header.Clone()
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	tests := []struct {
		strategy string
		browser  bool
	}{
		{"bot_friendly", false},
		{"modern_browser", true},
	}
	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			p := config.DefaultPipeline()
			p.AllowPrivateNetworks = true
			p.PolitenessDelay = 0
			p.HeaderStrategy = tt.strategy
			stack := NewStack(p, nil)
			defer stack.Close()

			_, err := stack.Fetcher.Fetch(context.Background(), srv.URL+"/page")
			require.NoError(t, err)
			h := <-headers
			if tt.browser {
				assert.True(t, strings.HasPrefix(h.Get("User-Agent"), "Mozilla/5.0"))
				assert.NotEmpty(t, h.Get("Sec-Ch-Ua"))
				assert.Equal(t, "navigate", h.Get("Sec-Fetch-Mode"))
			} else {
				assert.Equal(t, p.UserAgent, h.Get("User-Agent"))
				assert.Empty(t, h.Get("Sec-Ch-Ua"))
			}
		})
	}
}

func TestRobotsMissingFileAllowsAll(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	r := NewRobots(NewClient(true), "TestBot", nil)
	assert.True(t, r.Allowed(context.Background(), srv.URL+"/anything"))
}

func TestThrottleSpacesSameHost(t *testing.T) {
	th := NewThrottle(60 * time.Millisecond)
	ctx := context.Background()
	start := time.Now()
	require.NoError(t, th.Wait(ctx, "example.com"))
	require.NoError(t, th.Wait(ctx, "www.example.com"))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	start = time.Now()
	require.NoError(t, th.Wait(ctx, "other.example"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLooksLikeJSShell(t *testing.T) {
	shell := `<html><head><script src="/app.js"></script></head><body><div id="root"></div><noscript>You need to enable JavaScript to run this app.</noscript></body></html>`
	assert.True(t, LooksLikeJSShell([]byte(shell)))

	article := `<html><body><script>var x=1</script><p>` + strings.Repeat("word ", 100) + `</p></body></html>`
	assert.False(t, LooksLikeJSShell([]byte(article)))

	plain := `<html><body><p>short page</p></body></html>`
	assert.False(t, LooksLikeJSShell([]byte(plain)), "no scripts means nothing to render")
}

type stubFetcher struct {
	resp  *Response
	err   error
	calls int
}

func (s *stubFetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	s.calls++
	return s.resp, s.err
}

func TestAutoFetcherRendersShells(t *testing.T) {
	shell := &Response{
		Body:    []byte(`<html><body><div id="app"></div><script src="/main.js"></script></body></html>`),
		Headers: map[string][]string{"Content-Type": {"text/html"}},
		Mode:    model.FetchStatic,
	}
	rendered := &stubFetcher{resp: &Response{Body: []byte("<p>rendered</p>"), Mode: model.FetchRendered}}
	resp, err := NewAutoFetcher(&stubFetcher{resp: shell}, rendered).Fetch(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, model.FetchRendered, resp.Mode)

	// render failure keeps the static body
	failing := &stubFetcher{err: failure.New(failure.KindTimeout, "https://example.com", context.DeadlineExceeded)}
	resp, err = NewAutoFetcher(&stubFetcher{resp: shell}, failing).Fetch(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, model.FetchStatic, resp.Mode)

	// non html content is never rendered
	pdf := &Response{Body: []byte("%PDF"), Headers: map[string][]string{"Content-Type": {"application/pdf"}}}
	r2 := &stubFetcher{}
	_, err = NewAutoFetcher(&stubFetcher{resp: pdf}, r2).Fetch(context.Background(), "https://example.com/a.pdf")
	require.NoError(t, err)
	assert.Zero(t, r2.calls)
}
