package model

import "time"

// ReviewStatus tracks a seed through human review
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewReviewed ReviewStatus = "reviewed"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// ScrapePlanHint recommends how a promoted seed should be extracted later
type ScrapePlanHint string

const (
	PlanSitemap         ScrapePlanHint = "sitemap"
	PlanFeed            ScrapePlanHint = "feed"
	PlanPaginatedList   ScrapePlanHint = "paginated_list"
	PlanMemberDirectory ScrapePlanHint = "member_directory"
	PlanRendered        ScrapePlanHint = "rendered"
	PlanSinglePage      ScrapePlanHint = "single_page"
)

// Seed is a candidate source that passed scoring.
// Created once per qualifying URL per run, afterwards only the review workflow mutates it.
type Seed struct {
	ID                     string         `json:"id"`
	URL                    string         `json:"url"`
	RunID                  string         `json:"discovery_run_id"`
	QueryUsed              string         `json:"query_used,omitempty"`
	ReferrerURL            string         `json:"referrer_url,omitempty"`
	ContentHash            string         `json:"content_hash,omitempty"`
	RelevanceScore         int            `json:"relevance_score"`
	UtilityScore           int            `json:"utility_score"`
	FreshnessScore         int            `json:"freshness_score"`
	AuthorityScore         int            `json:"authority_score"`
	OverallScore           int            `json:"overall_score"`
	PageType               PageType       `json:"page_type"`
	EntityType             string         `json:"entity_type"`
	ScrapePlanHint         ScrapePlanHint `json:"scrape_plan_hint"`
	RecommendedEntrypoints []string       `json:"recommended_entrypoints"`
	ExpectedFields         []string       `json:"expected_fields"`
	ReviewStatus           ReviewStatus   `json:"review_status"`
	Reviewer               string         `json:"reviewer,omitempty"`
	ReviewedAt             *time.Time     `json:"reviewed_at,omitempty"`
	ReviewNotes            string         `json:"review_notes,omitempty"`
	AutoPromoted           bool           `json:"auto_promoted"`
	CreatedAt              time.Time      `json:"created_at"`
}
