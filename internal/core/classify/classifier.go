// Package classify extracts structural and topical signals from captured
// page content. It does no DOM parsing and no network access: everything is
// bounded pattern matching over a lower-cased copy of the content.
package classify

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"discovery/internal/core/model"
)

const (
	// MaxClassifyBytes bounds how much content is examined
	MaxClassifyBytes = 512 << 10

	perMatchWeight    = 10
	perPatternCap     = 30
	MinLabelScore     = 20
	UnknownConfidence = 10
	maxConfidence     = 95

	maxSitemapURLs  = 5
	maxFeedURLs     = 5
	maxListPageURLs = 10
	maxLinkScan     = 5000
	maxSchemaTypes  = 10
)

// Classify inspects content fetched from pageURL. headers may be nil.
func Classify(content, pageURL string, headers map[string][]string) model.ClassificationResult {
	if strings.TrimSpace(content) == "" {
		return defaultResult()
	}

	truncated := false
	if len(content) > MaxClassifyBytes {
		content = content[:MaxClassifyBytes]
		truncated = true
	}
	lower := strings.ToLower(content)
	u, _ := url.Parse(strings.TrimSpace(pageURL))
	host, path := "", ""
	if u != nil {
		host = strings.ToLower(u.Hostname())
		path = strings.ToLower(u.EscapedPath())
	}
	lowerURL := strings.ToLower(pageURL)
	text := visibleText(lower)

	res := model.ClassificationResult{Signals: map[string]any{}}
	if truncated {
		res.Signals["truncated"] = true
	}

	pageScores := scoreLabels(pageTypeTable, lower)
	bonuses := urlBonuses(host, path, lowerURL)
	for label, b := range bonuses {
		pageScores[label] += b
	}
	pageLabel, pageScore := winner(pageTypeTable, pageScores)
	res.PageType, res.PageConfidence = model.PageType(pageLabel), confidence(pageScore)
	if pageLabel == "" {
		res.PageType, res.PageConfidence = model.PageUnknown, UnknownConfidence
	}

	entityScores := scoreLabels(entityTypeTable, lower)
	entityLabel, entityScore := winner(entityTypeTable, entityScores)
	res.EntityType, res.EntityConfidence = entityLabel, confidence(entityScore)
	if entityLabel == "" {
		res.EntityType, res.EntityConfidence = model.EntityUnknown, UnknownConfidence
	}

	res.CountryCodes = detectCountries(lower, lowerURL, host)
	res.DetectedLanguages = detectLanguages(text, lower, headers)

	res.HasContactPage = contactAnchor.MatchString(lower)
	res.HasAboutPage = aboutAnchor.MatchString(lower)
	res.HasMemberList = memberAnchor.MatchString(lower) || memberClass.MatchString(lower)
	res.HasPagination = paginationSign.MatchString(lower)

	explicitSitemaps := discoverSitemaps(lower, u)
	res.HasSitemap = len(explicitSitemaps) > 0
	res.SitemapURLs = withConventionalSitemaps(explicitSitemaps, u)
	res.FeedURLs = discoverFeeds(lower, u)
	res.HasRSSFeed = len(res.FeedURLs) > 0
	res.ListPageURLs = capList(extractHrefs(listPageHref, lower, u), maxListPageURLs)

	res.LinkCount, res.ExternalLinkCount = countLinks(lower, u)
	res.FormCount = len(formTag.FindAllStringIndex(lower, -1))
	res.SchemaTypes = schemaTypes(lower)
	res.WordCount = len(strings.Fields(text))

	res.Signals["page_scores"] = pageScores
	res.Signals["entity_scores"] = entityScores
	if len(bonuses) > 0 {
		res.Signals["url_bonuses"] = bonuses
	}
	return res
}

func defaultResult() model.ClassificationResult {
	return model.ClassificationResult{
		PageType:          model.PageUnknown,
		PageConfidence:    UnknownConfidence,
		EntityType:        model.EntityUnknown,
		EntityConfidence:  UnknownConfidence,
		CountryCodes:      []string{},
		DetectedLanguages: []string{"en"},
		SitemapURLs:       []string{},
		FeedURLs:          []string{},
		ListPageURLs:      []string{},
		Signals:           map[string]any{"empty_content": true},
	}
}

// scoreLabels returns Σ min(count*perMatchWeight, perPatternCap) per label
func scoreLabels(table []labelPatterns, lower string) map[string]int {
	limit := perPatternCap/perMatchWeight + 1
	scores := make(map[string]int, len(table))
	for _, lp := range table {
		total := 0
		for _, re := range lp.patterns {
			n := len(re.FindAllStringIndex(lower, limit))
			total += min(n*perMatchWeight, perPatternCap)
		}
		scores[lp.label] = total
	}
	return scores
}

// winner picks the highest scoring label in table order. Empty when nothing clears MinLabelScore.
func winner(table []labelPatterns, scores map[string]int) (string, int) {
	best, bestScore := "", 0
	for _, lp := range table {
		if s := scores[lp.label]; s > bestScore {
			best, bestScore = lp.label, s
		}
	}
	if bestScore < MinLabelScore {
		return "", bestScore
	}
	return best, bestScore
}

func confidence(score int) int {
	return min(maxConfidence, 40+score/2)
}

func urlBonuses(host, path, lowerURL string) map[string]int {
	b := map[string]int{}
	if containsAny(path, "/directory", "/members", "/member-list", "/listing", "/companies") {
		b[string(model.PageDirectory)] += 20
	}
	if strings.Contains(lowerURL, ".gov.") || strings.HasSuffix(host, ".gov") {
		b[string(model.PageGovRegistry)] += 30
	}
	if containsAny(path, "/news", "/blog", "/press") {
		b[string(model.PageNews)] += 15
	}
	if containsAny(path, "/shop", "/marketplace", "/products", "/store") {
		b[string(model.PageMarketplace)] += 15
	}
	if containsAny(host+path, "association", "assoc.", "chamber") {
		b[string(model.PageAssociation)] += 15
	}
	if host != "" && (path == "" || path == "/") {
		b[string(model.PageCompanyHomepage)] += 10
	}
	return b
}

// detectCountries matches country suffixes against the host only; names,
// cities and dialling prefixes are matched against content and URL.
func detectCountries(lower, lowerURL, host string) []string {
	found := []string{}
	for _, ci := range countryPatterns {
		if ci.tld != nil && ci.tld.MatchString(host) {
			found = append(found, ci.code)
			continue
		}
		for _, re := range ci.text {
			if re.MatchString(lowerURL) || re.MatchString(lower) {
				found = append(found, ci.code)
				break
			}
		}
	}
	sort.Strings(found)
	return found
}

// detectLanguages always starts with "en"
func detectLanguages(text, lower string, headers map[string][]string) []string {
	langs := []string{"en"}
	add := func(code string) {
		for _, l := range langs {
			if l == code {
				return
			}
		}
		langs = append(langs, code)
	}

	for _, v := range headerValues(headers, "Content-Language") {
		for _, part := range strings.Split(v, ",") {
			if code := langPrefix(part); code != "" {
				add(code)
			}
		}
	}
	if m := htmlLangAttr.FindStringSubmatch(lower); m != nil {
		add(m[1])
	}

	padded := " " + text + " "
	kana := false
	for _, li := range languageTable {
		if li.code == "zh" && kana {
			// kanji on a page with kana is Japanese
			continue
		}
		if li.script != nil && li.script.MatchString(text) {
			add(li.code)
			kana = kana || li.code == "ja"
			continue
		}
		hits := 0
		for _, w := range li.words {
			if strings.Contains(padded, " "+w+" ") {
				hits++
				if hits >= minWordHits {
					add(li.code)
					break
				}
			}
		}
	}
	return langs
}

func langPrefix(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if len(v) < 2 {
		return ""
	}
	return v[:2]
}

func headerValues(headers map[string][]string, key string) []string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}

func discoverSitemaps(lower string, base *url.URL) []string {
	var out []string
	for _, tag := range sitemapLinkTag.FindAllString(lower, maxSitemapURLs) {
		if m := hrefAttr.FindStringSubmatch(tag); m != nil {
			out = appendResolved(out, m[1], base)
		}
	}
	out = append(out, extractHrefs(sitemapHref, lower, base)...)
	return capList(dedupe(out), maxSitemapURLs)
}

func withConventionalSitemaps(found []string, base *url.URL) []string {
	out := append([]string{}, found...)
	if base != nil && base.Host != "" {
		origin := base.Scheme + "://" + base.Host
		if base.Scheme == "" {
			origin = "https://" + base.Host
		}
		out = append(out, origin+"/sitemap.xml", origin+"/sitemap_index.xml")
	}
	return capList(dedupe(out), maxSitemapURLs)
}

func discoverFeeds(lower string, base *url.URL) []string {
	var out []string
	for _, tag := range feedLinkTag.FindAllString(lower, maxFeedURLs) {
		if m := hrefAttr.FindStringSubmatch(tag); m != nil {
			out = appendResolved(out, m[1], base)
		}
	}
	out = append(out, extractHrefs(feedHref, lower, base)...)
	return capList(dedupe(out), maxFeedURLs)
}

func extractHrefs(re *regexp.Regexp, lower string, base *url.URL) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(lower, maxLinkScan) {
		out = appendResolved(out, m[1], base)
	}
	return dedupe(out)
}

func appendResolved(out []string, href string, base *url.URL) []string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return out
	}
	ref, err := url.Parse(href)
	if err != nil {
		return out
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	ref.Fragment = ""
	return append(out, ref.String())
}

func countLinks(lower string, base *url.URL) (total, external int) {
	pageHost := ""
	if base != nil {
		pageHost = strings.TrimPrefix(strings.ToLower(base.Hostname()), "www.")
	}
	for _, m := range anchorHref.FindAllStringSubmatch(lower, maxLinkScan) {
		href := m[1]
		if strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
			continue
		}
		total++
		ref, err := url.Parse(href)
		if err != nil || ref.Host == "" {
			continue
		}
		if strings.TrimPrefix(strings.ToLower(ref.Hostname()), "www.") != pageHost {
			external++
		}
	}
	return total, external
}

func schemaTypes(lower string) []string {
	var out []string
	for _, m := range schemaJSONType.FindAllStringSubmatch(lower, maxSchemaTypes*4) {
		out = append(out, m[1])
	}
	for _, m := range schemaItemType.FindAllStringSubmatch(lower, maxSchemaTypes*4) {
		out = append(out, m[1])
	}
	return capList(dedupe(out), maxSchemaTypes)
}

// VisibleText returns the lower-cased text of content with scripts, styles
// and tags removed, bounded like Classify.
func VisibleText(content string) string {
	if len(content) > MaxClassifyBytes {
		content = content[:MaxClassifyBytes]
	}
	return visibleText(strings.ToLower(content))
}

// visibleText strips scripts, styles and tags
func visibleText(lower string) string {
	s := scriptBlock.ReplaceAllString(lower, " ")
	s = tagPattern.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func capList(in []string, n int) []string {
	if in == nil {
		return []string{}
	}
	if len(in) > n {
		return in[:n]
	}
	return in
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
