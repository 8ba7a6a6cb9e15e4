package model

import "time"

// RunStatus is the lifecycle state of a discovery run
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether no further transition may leave s
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// CanTransition reports whether from -> to is a legal run transition
func CanTransition(from, to RunStatus) bool {
	switch from {
	case RunPending:
		return to == RunRunning || to == RunCancelled
	case RunRunning:
		return to == RunCompleted || to == RunFailed || to == RunCancelled
	}
	return false
}

// Counter names, used as hash fields in the run counter store
const (
	CounterQueriesGenerated = "queries_generated"
	CounterURLsDiscovered   = "urls_discovered"
	CounterCapturesCreated  = "captures_created"
	CounterSeedsCreated     = "seeds_created"
	CounterFetchFailed      = "fetch_failed"
	CounterTruncated        = "truncated_count"
)

// RunCounters aggregates what a run actually attempted
type RunCounters struct {
	QueriesGenerated int64 `json:"queries_generated"`
	URLsDiscovered   int64 `json:"urls_discovered"`
	CapturesCreated  int64 `json:"captures_created"`
	SeedsCreated     int64 `json:"seeds_created"`
	FetchFailed      int64 `json:"fetch_failed"`
	TruncatedCount   int64 `json:"truncated_count"`
}

// CountersFromMap builds RunCounters from counter hash fields
func CountersFromMap(m map[string]int64) RunCounters {
	return RunCounters{
		QueriesGenerated: m[CounterQueriesGenerated],
		URLsDiscovered:   m[CounterURLsDiscovered],
		CapturesCreated:  m[CounterCapturesCreated],
		SeedsCreated:     m[CounterSeedsCreated],
		FetchFailed:      m[CounterFetchFailed],
		TruncatedCount:   m[CounterTruncated],
	}
}

// DomainCount is one entry of a run's top domains
type DomainCount struct {
	Domain string `json:"domain"`
	Count  int64  `json:"count"`
}

// RunConfigSnapshot freezes the knobs a run executed with
type RunConfigSnapshot struct {
	MaxQueries          int                `json:"max_queries"`
	MaxResultsPerQuery  int                `json:"max_results_per_query"`
	IncludeSiteSearches bool               `json:"include_site_searches"`
	IncludeFeedQueries  bool               `json:"include_feed_queries"`
	Connectors          []QueryType        `json:"connectors,omitempty"`
	PromotionThreshold  int                `json:"promotion_threshold"`
	AutoApprove         bool               `json:"auto_approve"`
	AutoApproveMin      int                `json:"auto_approve_threshold"`
	Weights             map[string]float64 `json:"weights"`
	PipelineVersion     string             `json:"pipeline_version"`
	WebhookURL          string             `json:"webhook_url,omitempty"`
}

// DiscoveryRun is the aggregate root of one pipeline execution.
type DiscoveryRun struct {
	ID             string            `json:"id"`
	Brief          TargetBrief       `json:"brief"`
	Status         RunStatus         `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty"`
	FinalizedAt    *time.Time        `json:"finalized_at,omitempty"`
	Counters       RunCounters       `json:"counters"`
	FailureBuckets map[string]int64  `json:"failure_buckets"`
	TopDomains     []DomainCount     `json:"top_domains"`
	Config         RunConfigSnapshot `json:"config"`
	QuerySource    string            `json:"query_source,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
}
