package model

import "time"

// QueryType selects which connector executes a query
type QueryType string

const (
	QueryWebSearch  QueryType = "web_search"
	QuerySiteSearch QueryType = "site_search"
	QueryDirectory  QueryType = "directory"
	QueryFeed       QueryType = "feed"
)

// Valid reports whether t is one of the known query types
func (t QueryType) Valid() bool {
	switch t {
	case QueryWebSearch, QuerySiteSearch, QueryDirectory, QueryFeed:
		return true
	}
	return false
}

// DiscoveryQuery is one unit of work for a connector. Priority 1 is highest.
type DiscoveryQuery struct {
	Query      string            `json:"query"`
	Type       QueryType         `json:"query_type"`
	Country    string            `json:"country,omitempty"`
	Language   string            `json:"language,omitempty"`
	EntityType string            `json:"entity_type,omitempty"`
	Priority   int               `json:"priority"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// FetchMode records how a capture body was obtained
type FetchMode string

const (
	FetchStatic   FetchMode = "static"
	FetchRendered FetchMode = "rendered"
	FetchAPI      FetchMode = "api"
)

// CaptureMetadata is derived from classification and stored alongside the capture
type CaptureMetadata struct {
	Language          string   `json:"language,omitempty"`
	SchemaTypes       []string `json:"schema_types,omitempty"`
	LinkCount         int      `json:"link_count"`
	ExternalLinkCount int      `json:"external_link_count"`
	WordCount         int      `json:"word_count"`
}

// Capture is a content-addressed record of one fetched body.
// Byte-identical bodies share a single Capture regardless of URL.
type Capture struct {
	ContentHash   string              `json:"content_hash"`
	RequestedURL  string              `json:"requested_url"`
	FinalURL      string              `json:"final_url"`
	StatusCode    int                 `json:"status_code"`
	Headers       map[string][]string `json:"headers,omitempty"`
	ContentType   string              `json:"content_type,omitempty"`
	Body          []byte              `json:"body,omitempty"`
	BodyRef       string              `json:"body_ref,omitempty"`
	BodySize      int                 `json:"body_size"`
	Truncated     bool                `json:"truncated,omitempty"`
	FetchMode     FetchMode           `json:"fetch_mode"`
	FetchDuration time.Duration       `json:"fetch_duration"`
	RunID         string              `json:"run_id"`
	Error         string              `json:"error,omitempty"`
	Metadata      CaptureMetadata     `json:"metadata"`
	CreatedAt     time.Time           `json:"created_at"`
}

// PageType is the structural kind of a page
type PageType string

const (
	PageDirectory       PageType = "directory"
	PageCompanyHomepage PageType = "company_homepage"
	PageAssociation     PageType = "association"
	PageGovRegistry     PageType = "gov_registry"
	PageNews            PageType = "news"
	PageMarketplace     PageType = "marketplace"
	PageUnknown         PageType = "unknown"
)

// EntityUnknown is the entity type reported when no entity label clears the floor
const EntityUnknown = "unknown"

// ClassificationResult holds the signals extracted from one capture.
type ClassificationResult struct {
	PageType          PageType       `json:"page_type"`
	PageConfidence    int            `json:"page_confidence"`
	EntityType        string         `json:"entity_type"`
	EntityConfidence  int            `json:"entity_confidence"`
	CountryCodes      []string       `json:"country_codes"`
	DetectedLanguages []string       `json:"detected_languages"`
	HasContactPage    bool           `json:"has_contact_page"`
	HasAboutPage      bool           `json:"has_about_page"`
	HasSitemap        bool           `json:"has_sitemap"`
	HasRSSFeed        bool           `json:"has_rss_feed"`
	HasMemberList     bool           `json:"has_member_list"`
	HasPagination     bool           `json:"has_pagination"`
	LinkCount         int            `json:"link_count"`
	ExternalLinkCount int            `json:"external_link_count"`
	FormCount         int            `json:"form_count"`
	SitemapURLs       []string       `json:"sitemap_urls"`
	FeedURLs          []string       `json:"feed_urls"`
	ListPageURLs      []string       `json:"list_page_urls"`
	SchemaTypes       []string       `json:"schema_types,omitempty"`
	WordCount         int            `json:"word_count"`
	Signals           map[string]any `json:"signals,omitempty"`
}

// CaptureMetadata projects the classification onto the capture metadata bundle
func (c ClassificationResult) CaptureMetadata() CaptureMetadata {
	lang := ""
	if n := len(c.DetectedLanguages); n > 1 {
		lang = c.DetectedLanguages[1]
	} else if n == 1 {
		lang = c.DetectedLanguages[0]
	}
	return CaptureMetadata{
		Language:          lang,
		SchemaTypes:       c.SchemaTypes,
		LinkCount:         c.LinkCount,
		ExternalLinkCount: c.ExternalLinkCount,
		WordCount:         c.WordCount,
	}
}

// Rejection reasons
const (
	RejectSpam       = "spam"
	RejectParked     = "parked_domain"
	RejectLowQuality = "low_quality"
)

// SeedScore is the multi-dimensional score of one candidate
type SeedScore struct {
	Relevance       int                       `json:"relevance_score"`
	Utility         int                       `json:"utility_score"`
	Freshness       int                       `json:"freshness_score"`
	Authority       int                       `json:"authority_score"`
	Overall         int                       `json:"overall_score"`
	IsSpam          bool                      `json:"is_spam"`
	IsParked        bool                      `json:"is_parked"`
	IsLowQuality    bool                      `json:"is_low_quality"`
	RejectionReason string                    `json:"rejection_reason,omitempty"`
	Components      map[string]map[string]int `json:"components,omitempty"`
}

// Rejected reports a hard reject (spam or parked)
func (s SeedScore) Rejected() bool { return s.IsSpam || s.IsParked }
