package fetch

import (
	"bytes"
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"discovery/internal/logger"
)

const (
	// shellMaxWords: a page with scripts and fewer visible words than this
	// is treated as a client rendered shell
	shellMaxWords = 40
)

var mountPoints = []string{"#root", "#app", "#__next", "#__nuxt", "[ng-app]", "[data-reactroot]"}

// AutoFetcher fetches statically and re-fetches with the renderer when the
// static body looks like a JavaScript shell. A nil renderer disables the
// second step.
type AutoFetcher struct {
	static   Fetcher
	rendered Fetcher
	log      *logger.Logger
}

func NewAutoFetcher(static, rendered Fetcher) *AutoFetcher {
	return &AutoFetcher{static: static, rendered: rendered, log: logger.New("AutoFetcher")}
}

func (f *AutoFetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	resp, err := f.static.Fetch(ctx, rawURL)
	if err != nil || f.rendered == nil {
		return resp, err
	}
	if !strings.Contains(strings.ToLower(resp.ContentType()), "html") || !LooksLikeJSShell(resp.Body) {
		return resp, nil
	}
	f.log.Debug().Str("url", rawURL).Msg("static body looks like a js shell, rendering")
	rendered, rerr := f.rendered.Fetch(ctx, rawURL)
	if rerr != nil {
		f.log.LogWarnf("render of %s failed, keeping static body: %v", rawURL, rerr)
		return resp, nil
	}
	return rendered, nil
}

// LooksLikeJSShell reports whether an HTML body carries scripts but
// almost no visible text.
func LooksLikeJSShell(body []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	scripts := doc.Find("script").Length()
	if scripts == 0 {
		return false
	}
	emptyMount := false
	for _, sel := range mountPoints {
		if m := doc.Find(sel); m.Length() > 0 && strings.TrimSpace(m.Text()) == "" {
			emptyMount = true
			break
		}
	}
	doc.Find("script, style, noscript, template").Remove()
	words := len(strings.Fields(doc.Find("body").Text()))
	return words < shellMaxWords || (emptyMount && words < shellMaxWords*5)
}
