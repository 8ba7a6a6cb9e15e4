package fetch

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"discovery/internal/core/failure"
	"discovery/internal/core/model"
	"discovery/internal/logger"
)

// RenderedFetcher loads pages in headless Chromium. The browser is started
// on first use and shared by all fetches until Close.
type RenderedFetcher struct {
	opts Options
	log  *logger.Logger

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

func NewRenderedFetcher(opts Options) *RenderedFetcher {
	return &RenderedFetcher{opts: opts.withDefaults(), log: logger.New("RenderedFetcher")}
}

func (f *RenderedFetcher) ensureBrowser() (playwright.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil && f.browser.IsConnected() {
		return f.browser, nil
	}
	if f.pw == nil {
		pw, err := playwright.Run()
		if err != nil {
			return nil, fmt.Errorf("playwright run: %w", err)
		}
		f.pw = pw
	}
	browser, err := f.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--no-sandbox",
			"--disable-dev-shm-usage",
			"--disable-blink-features=AutomationControlled",
			"--no-first-run",
			"--disable-default-apps",
			"--disable-extensions",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}
	f.browser = browser
	return browser, nil
}

// Close stops the shared browser
func (f *RenderedFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil {
		_ = f.browser.Close()
		f.browser = nil
	}
	if f.pw != nil {
		err := f.pw.Stop()
		f.pw = nil
		return err
	}
	return nil
}

func (f *RenderedFetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	u, err := parseTarget(rawURL)
	if err != nil {
		return nil, err
	}
	if !f.opts.AllowPrivateNetworks {
		if err := checkHost(ctx, u.Hostname()); err != nil {
			return nil, failure.Classify(err, rawURL)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, failure.Classify(err, rawURL)
	}

	browser, err := f.ensureBrowser()
	if err != nil {
		return nil, failure.New(failure.KindOther, rawURL, err)
	}

	profile := Profile(f.opts.Strategy, f.opts.UserAgent)
	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:        playwright.String(profile.UserAgent),
		ExtraHttpHeaders: profile.Map(),
	})
	if err != nil {
		return nil, failure.New(failure.KindOther, rawURL, err)
	}
	defer bctx.Close()

	page, err := bctx.NewPage()
	if err != nil {
		return nil, failure.New(failure.KindOther, rawURL, err)
	}

	timeoutMs := float64(f.opts.Timeout.Milliseconds())
	start := time.Now()
	resp, err := page.Goto(u.String(), playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(timeoutMs),
	})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "timeout") {
			return nil, failure.New(failure.KindTimeout, rawURL, err)
		}
		return nil, failure.Classify(err, rawURL)
	}
	// give client side rendering a bounded chance to settle
	_ = page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(min(timeoutMs, 5000)),
	})

	content, err := page.Content()
	if err != nil {
		return nil, failure.New(failure.KindOther, rawURL, err)
	}
	status := 200
	headers := map[string][]string{}
	if resp != nil {
		status = resp.Status()
		for k, v := range resp.Headers() {
			headers[k] = []string{v}
		}
	}
	title, _ := page.Title()
	if isChallengePage(status, title, content) {
		f.log.Info().Str("url", rawURL).Int("status", status).Msg("challenge page detected")
		return nil, &failure.Error{Kind: failure.KindBlocked, URL: rawURL, StatusCode: status, Cause: fmt.Errorf("challenge page")}
	}
	if status >= 400 {
		return nil, failure.FromStatus(status, rawURL)
	}

	body, truncated := truncate([]byte(content), f.opts.MaxBodyBytes)
	return &Response{
		StatusCode: status,
		Headers:    headers,
		Body:       body,
		FinalURL:   page.URL(),
		Duration:   time.Since(start),
		Mode:       model.FetchRendered,
		Truncated:  truncated,
	}, nil
}

// checkHost resolves host and rejects it when any address is not public
func checkHost(ctx context.Context, host string) error {
	if ip := net.ParseIP(host); ip != nil {
		if !PublicIP(ip) {
			return fmt.Errorf("%w: %s", failure.ErrSSRF, host)
		}
		return nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return err
	}
	for _, a := range addrs {
		if !PublicIP(a.IP) {
			return fmt.Errorf("%w: %s resolves to %s", failure.ErrSSRF, host, a.IP)
		}
	}
	return nil
}

func isChallengePage(status int, title, content string) bool {
	if status != 403 && status != 503 {
		return false
	}
	if strings.Contains(title, "Just a moment") || strings.Contains(title, "Checking your browser") ||
		strings.Contains(title, "Attention Required") {
		return true
	}
	return strings.Contains(content, "Cloudflare") && strings.Contains(content, "Ray ID")
}
