package markdown

import (
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

var (
	blankRuns   = regexp.MustCompile(`\n{3,}`)
	imageOnly   = regexp.MustCompile(`!\[[^\]]*\]\([^\)]+\)`)
	linkInLine  = regexp.MustCompile(`https?://[^\s)]+`)
	controlChar = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F]`)
	invisible   = strings.NewReplacer("\u200b", "", "\u200c", "", "\u200d", "", "\u200e", "", "\u200f", "", "\ufeff", "", "\ufffd", "")
)

var boilerplateKeywords = []string{
	"cookie", "consent", "navbar", "nav-", "menu-",
	"share", "signup", "signin", "login",
	"ad-", "advert", "promo", "modal", "popup", "dialog",
	"breadcrumbs", "breadcrumb", "sidebar",
}

// ConvertHTMLToMarkdown converts the main content of a page to markdown
// with navigation and other chrome stripped.
func ConvertHTMLToMarkdown(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return convert(doc)
}

func convert(doc *goquery.Document) string {
	var content *goquery.Selection
	for _, tag := range []string{"main", `[role="main"]`, "#content", "#main"} {
		if sel := doc.Find(tag); sel.Length() > 0 {
			content = sel.First()
			break
		}
	}
	if content == nil {
		content = doc.Find("body")
	}

	content.Find("script, style, noscript, nav, aside, iframe, svg, button, input, template").Remove()
	content.Find(`[role="navigation"], [aria-label*="cookie" i], [aria-modal]`).Remove()
	content.Find("[class], [id]").Each(func(_ int, sel *goquery.Selection) {
		classVal, _ := sel.Attr("class")
		idVal, _ := sel.Attr("id")
		lower := strings.ToLower(classVal + " " + idVal)
		for _, kw := range boilerplateKeywords {
			if strings.Contains(lower, kw) {
				sel.Remove()
				return
			}
		}
	})

	body, err := content.Html()
	if err != nil {
		return ""
	}
	out, err := md.NewConverter("", true, nil).ConvertString(body)
	if err != nil {
		return ""
	}
	return CleanMarkdownBoilerplate(RemoveDuplicateLinks(out))
}

// Sample builds the short text a scorer looks at: title, meta description
// and the converted main content, cut to at most max bytes on a rune
// boundary. Pages that convert to nothing fall back to their visible text.
func Sample(html string, max int) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return truncateRunes(html, max)
	}
	var parts []string
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		parts = append(parts, title)
	}
	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok && strings.TrimSpace(desc) != "" {
		parts = append(parts, strings.TrimSpace(desc))
	}
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	body := convert(doc)
	if body == "" {
		body = text
	}
	parts = append(parts, body)
	return truncateRunes(strings.Join(parts, "\n\n"), max)
}

func truncateRunes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	// a rune cut in half becomes invalid and is dropped
	return strings.ToValidUTF8(s[:max], "")
}

// RemoveDuplicateLinks drops repeated image-link lines, comparing with
// URLs masked out
func RemoveDuplicateLinks(markdown string) string {
	lines := strings.Split(markdown, "\n")
	out := make([]string, 0, len(lines))
	seen := make(map[string]bool)
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "![") {
			key := linkInLine.ReplaceAllString(trimmed, "LINK")
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, trimmed)
	}
	return strings.Join(out, "\n")
}

// CleanMarkdownBoilerplate removes image-only lines and control characters
func CleanMarkdownBoilerplate(mdText string) string {
	lines := strings.Split(mdText, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		line := strings.TrimSpace(l)
		if line == "" {
			continue
		}
		if imageOnly.MatchString(line) && strings.TrimSpace(imageOnly.ReplaceAllString(line, "")) == "" {
			continue
		}
		line = invisible.Replace(controlChar.ReplaceAllString(line, ""))
		out = append(out, line)
	}
	return strings.TrimSpace(blankRuns.ReplaceAllString(strings.Join(out, "\n"), "\n\n"))
}
