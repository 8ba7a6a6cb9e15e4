package seed

import (
	"sort"

	"discovery/internal/core/model"
)

// MaxEntrypoints bounds RecommendedEntrypoints on a seed
const MaxEntrypoints = 10

// PlanHint picks the extraction approach a later crawl should start with
func PlanHint(c model.ClassificationResult, mode model.FetchMode) model.ScrapePlanHint {
	switch {
	case c.HasMemberList:
		return model.PlanMemberDirectory
	case c.HasSitemap:
		return model.PlanSitemap
	case c.HasRSSFeed && len(c.FeedURLs) > 0:
		return model.PlanFeed
	case c.HasPagination:
		return model.PlanPaginatedList
	case mode == model.FetchRendered:
		return model.PlanRendered
	}
	return model.PlanSinglePage
}

// Entrypoints orders the URLs a crawl should begin from. The entrypoints
// that match the plan come first, then the page itself, then the rest.
func Entrypoints(c model.ClassificationResult, pageURL string, hint model.ScrapePlanHint) []string {
	var sitemaps []string
	if c.HasSitemap {
		sitemaps = c.SitemapURLs
	}

	var groups [][]string
	switch hint {
	case model.PlanSitemap:
		groups = [][]string{sitemaps, {pageURL}, c.ListPageURLs, c.FeedURLs}
	case model.PlanFeed:
		groups = [][]string{c.FeedURLs, {pageURL}, sitemaps, c.ListPageURLs}
	case model.PlanMemberDirectory, model.PlanPaginatedList:
		groups = [][]string{{pageURL}, c.ListPageURLs, sitemaps, c.FeedURLs}
	default:
		groups = [][]string{{pageURL}, sitemaps, c.FeedURLs, c.ListPageURLs}
	}

	seen := map[string]struct{}{}
	out := make([]string, 0, MaxEntrypoints)
	for _, g := range groups {
		for _, u := range g {
			if u == "" {
				continue
			}
			if _, ok := seen[u]; ok {
				continue
			}
			if len(out) == MaxEntrypoints {
				return out
			}
			seen[u] = struct{}{}
			out = append(out, u)
		}
	}
	return out
}

var fieldsByPage = map[model.PageType][]string{
	model.PageDirectory:       {"entry_name", "entry_url", "category", "location"},
	model.PageAssociation:     {"member_name", "member_url", "membership_type", "location"},
	model.PageGovRegistry:     {"registration_number", "legal_name", "status", "registered_address"},
	model.PageCompanyHomepage: {"company_name", "description", "address", "phone", "email"},
	model.PageNews:            {"headline", "published_at", "author", "article_url"},
	model.PageMarketplace:     {"listing_title", "seller", "price", "location"},
}

// ExpectedFields lists the record fields an extraction of this page should yield
func ExpectedFields(c model.ClassificationResult) []string {
	set := map[string]struct{}{"name": {}, "website": {}}
	for _, f := range fieldsByPage[c.PageType] {
		set[f] = struct{}{}
	}
	if c.HasContactPage {
		set["contact_url"] = struct{}{}
	}
	if len(c.CountryCodes) > 0 {
		set["country"] = struct{}{}
	}
	if c.EntityType != "" && c.EntityType != model.EntityUnknown {
		set["entity_type"] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
