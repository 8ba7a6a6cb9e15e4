// Package run drives discovery runs: it generates queries, fans them out
// to connectors and fetchers, and turns scored captures into seeds.
package run

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"discovery/internal/config"
	"discovery/internal/core/capture"
	"discovery/internal/core/classify"
	"discovery/internal/core/connector"
	"discovery/internal/core/failure"
	"discovery/internal/core/fetch"
	"discovery/internal/core/model"
	"discovery/internal/core/query"
	"discovery/internal/core/score"
	"discovery/internal/core/seed"
	"discovery/internal/logger"
	rds "discovery/internal/platform/redis"
)

// AutoPromoteAuthority is the authority an official page needs to be
// seeded below the promotion threshold
const AutoPromoteAuthority = 75

// finalizeTimeout bounds finalizing a run after its context ended
const finalizeTimeout = 10 * time.Second

// classificationTTL keeps cached classifications for one capture retention period at most
const classificationTTL = 30 * 24 * time.Hour

type Deps struct {
	Runs       *Store
	Seeds      *seed.Store
	Captures   *capture.Store
	Redis      *rds.Service
	Generator  *query.Generator
	Connectors *connector.Registry
	Fetcher    fetch.Fetcher
}

type Orchestrator struct {
	Deps
	pipeline config.Pipeline
	log      *logger.Logger
}

func NewOrchestrator(d Deps, p config.Pipeline) *Orchestrator {
	return &Orchestrator{Deps: d, pipeline: p, log: logger.New("Orchestrator")}
}

// Snapshot freezes the pipeline settings a new run executes with
func (o *Orchestrator) Snapshot(opts query.Options, connectors []model.QueryType) model.RunConfigSnapshot {
	return Snapshot(o.pipeline, opts, connectors)
}

func Snapshot(p config.Pipeline, opts query.Options, connectors []model.QueryType) model.RunConfigSnapshot {
	if opts.MaxQueries <= 0 {
		opts.MaxQueries = p.MaxQueries
	}
	if len(connectors) == 0 {
		for _, c := range p.Connectors {
			connectors = append(connectors, model.QueryType(c))
		}
	}
	w := score.Weights{Relevance: p.Weights.Relevance, Utility: p.Weights.Utility, Freshness: p.Weights.Freshness, Authority: p.Weights.Authority}
	return model.RunConfigSnapshot{
		MaxQueries:          opts.MaxQueries,
		MaxResultsPerQuery:  p.MaxResultsPerQuery,
		IncludeSiteSearches: opts.IncludeSiteSearches && contains(connectors, model.QuerySiteSearch),
		IncludeFeedQueries:  opts.IncludeFeedQueries && contains(connectors, model.QueryFeed),
		Connectors:          connectors,
		PromotionThreshold:  p.PromotionThreshold,
		AutoApprove:         p.AutoApprove,
		AutoApproveMin:      p.AutoApproveThreshold,
		Weights:             w.Map(),
		PipelineVersion:     p.Version,
	}
}

// fetchJob is one discovered URL waiting for a fetch
type fetchJob struct {
	cand  connector.Candidate
	query model.DiscoveryQuery
}

func (j fetchJob) discovered() Discovered {
	return Discovered{Candidate: j.cand, Query: j.query}
}

// execution is the per run state shared by the worker pools
type execution struct {
	run     *model.DiscoveryRun
	scorer  *score.Scorer
	log     *logger.Logger
	stopped atomic.Bool

	mu    sync.Mutex
	fatal error
}

func (e *execution) fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fatal == nil {
		e.fatal = err
	}
	e.stopped.Store(true)
}

func (e *execution) fatalErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fatal
}

// Execute runs the pipeline for runID and always leaves the run terminal,
// except when ctx ends first: the run then stays running and the error is
// returned so the task is redelivered.
func (o *Orchestrator) Execute(ctx context.Context, runID string) (*model.DiscoveryRun, error) {
	r, err := o.Runs.Start(ctx, runID)
	if errors.Is(err, ErrTerminal) {
		o.log.LogInfof("run %s already finished, skipping", runID)
		return o.Runs.Get(ctx, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}

	e := &execution{run: r, log: o.log.WithRun(runID)}
	e.log.LogInfof("run started: theme=%q geography=%v entity_types=%v", r.Brief.Theme, r.Brief.Geography, r.Brief.EntityTypes)

	scorer, err := score.NewScorer(score.TargetFromBrief(r.Brief), weightsOf(r.Config.Weights))
	if err != nil {
		return o.finish(ctx, e, fmt.Errorf("scorer: %w", err))
	}
	e.scorer = scorer

	res, err := o.Generator.Generate(ctx, r.Brief, query.Options{
		MaxQueries:          r.Config.MaxQueries,
		IncludeSiteSearches: r.Config.IncludeSiteSearches,
		IncludeFeedQueries:  r.Config.IncludeFeedQueries,
	})
	if err != nil {
		return o.finish(ctx, e, fmt.Errorf("generate queries: %w", err))
	}
	queries := enabledQueries(res.Queries, r.Config.Connectors)
	if err := o.Runs.SetQueries(ctx, runID, res.Source, len(queries)); err != nil {
		return o.finish(ctx, e, fmt.Errorf("record queries: %w", err))
	}
	e.log.LogInfof("generated %d queries from %s (llm %s)", len(queries), res.Source, res.LLMState)

	unfetched, err := o.Runs.Unfetched(ctx, runID)
	if err != nil {
		return o.finish(ctx, e, fmt.Errorf("load unfetched urls: %w", err))
	}
	resumed := make([]fetchJob, len(unfetched))
	for i, d := range unfetched {
		resumed[i] = fetchJob{cand: d.Candidate, query: d.Query}
	}
	if len(resumed) > 0 {
		e.log.LogInfof("resuming %d urls discovered before redelivery", len(resumed))
	}

	o.pipelineRun(ctx, e, queries, resumed)

	return o.finish(ctx, e, nil)
}

// ExecuteToEnd is Execute for callers that never redeliver: a run
// interrupted by ctx is finalized as cancelled instead of left running.
// The interruption is still returned alongside the finalized run.
func (o *Orchestrator) ExecuteToEnd(ctx context.Context, runID string) (*model.DiscoveryRun, error) {
	r, err := o.Execute(ctx, runID)
	if err == nil || ctx.Err() == nil {
		return r, err
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	out, ferr := o.Runs.Finalize(fctx, runID, model.RunCancelled, "interrupted")
	if ferr != nil {
		return nil, fmt.Errorf("%w (finalize: %v)", err, ferr)
	}
	return out, err
}

// cancelled reports whether the run should stop issuing work: a store
// failure stopped it or the run was cancelled elsewhere
func (o *Orchestrator) cancelled(ctx context.Context, e *execution) bool {
	if e.stopped.Load() {
		return true
	}
	status, err := o.Runs.Status(ctx, e.run.ID)
	if err != nil || status != model.RunCancelled {
		return false
	}
	if e.stopped.CompareAndSwap(false, true) {
		e.log.LogInfof("run cancelled, draining in-flight fetches")
	}
	return true
}

// pipelineRun fetches resumed URLs and runs queries through the worker pools
func (o *Orchestrator) pipelineRun(ctx context.Context, e *execution, queries []model.DiscoveryQuery, resumed []fetchJob) {
	queryCh := make(chan model.DiscoveryQuery)
	fetchCh := make(chan fetchJob, o.pipeline.FetchWorkers*4)

	var qwg, fwg sync.WaitGroup
	for i := 0; i < o.pipeline.QueryWorkers; i++ {
		qwg.Add(1)
		go func() {
			defer qwg.Done()
			for q := range queryCh {
				o.runQuery(ctx, e, q, fetchCh)
			}
		}()
	}
	for i := 0; i < o.pipeline.FetchWorkers; i++ {
		fwg.Add(1)
		go func() {
			defer fwg.Done()
			for job := range fetchCh {
				o.runFetch(ctx, e, job)
			}
		}()
	}

feed:
	for _, job := range resumed {
		if ctx.Err() != nil || o.cancelled(ctx, e) {
			break
		}
		select {
		case fetchCh <- job:
		case <-ctx.Done():
			break feed
		}
	}
	for _, q := range queries {
		if ctx.Err() != nil || o.cancelled(ctx, e) {
			break
		}
		queryCh <- q
	}
	close(queryCh)
	qwg.Wait()
	close(fetchCh)
	fwg.Wait()
}

func (o *Orchestrator) runQuery(ctx context.Context, e *execution, q model.DiscoveryQuery, out chan<- fetchJob) {
	if ctx.Err() != nil || o.cancelled(ctx, e) {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, o.pipeline.ConnectorTimeout)
	cands, err := o.Connectors.Execute(cctx, q)
	cancel()
	if err != nil {
		kind := failure.KindOf(err)
		if kind == failure.KindConnectorUnavailable {
			e.log.LogWarnf("connector %s unavailable, skipping %q", q.Type, q.Query)
		} else {
			e.log.LogDebugf("query %q failed: %s: %v", q.Query, kind, err)
		}
		if rerr := o.Runs.RecordFailure(ctx, e.run.ID, kind); rerr != nil {
			e.fail(fmt.Errorf("record failure: %w", rerr))
		}
		return
	}
	if n := e.run.Config.MaxResultsPerQuery; n > 0 && len(cands) > n {
		cands = cands[:n]
	}

	for _, c := range cands {
		job := fetchJob{cand: c, query: q}
		added, err := o.Runs.AddURL(ctx, e.run.ID, job.discovered())
		if err != nil {
			e.fail(fmt.Errorf("record url: %w", err))
			return
		}
		if !added {
			continue
		}
		select {
		case out <- job:
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) runFetch(ctx context.Context, e *execution, job fetchJob) {
	// drop queued work once stopped; fetches already running finish
	if ctx.Err() != nil || o.cancelled(ctx, e) {
		return
	}
	fctx, cancel := context.WithTimeout(ctx, o.pipeline.FetchTimeout)
	resp, err := o.Fetcher.Fetch(fctx, job.cand.URL)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			// interrupted, the URL stays pending for the next delivery
			return
		}
		kind := failure.KindOf(err)
		e.log.LogDebugf("fetch %s failed: %s", job.cand.URL, kind)
		if rerr := o.Runs.RecordFailure(ctx, e.run.ID, kind); rerr != nil {
			e.fail(fmt.Errorf("record failure: %w", rerr))
			return
		}
	} else if err := o.process(ctx, e, job, resp); err != nil {
		e.fail(err)
		return
	}
	if err := o.Runs.MarkFetched(ctx, e.run.ID, job.cand.URL); err != nil {
		e.fail(fmt.Errorf("mark fetched: %w", err))
	}
}

// process captures, classifies, scores and seeds one fetched response.
// Errors returned are store failures and end the run.
func (o *Orchestrator) process(ctx context.Context, e *execution, job fetchJob, resp *fetch.Response) error {
	runID := e.run.ID
	if resp.Truncated {
		if err := o.Runs.Incr(ctx, runID, model.CounterTruncated, 1); err != nil {
			return fmt.Errorf("count truncation: %w", err)
		}
	}

	c, created, err := o.Captures.Save(ctx, runID, job.cand.URL, resp)
	if err != nil {
		return fmt.Errorf("save capture: %w", err)
	}
	if created {
		if err := o.Runs.Incr(ctx, runID, model.CounterCapturesCreated, 1); err != nil {
			return fmt.Errorf("count capture: %w", err)
		}
	}

	first, err := o.Runs.ClaimCapture(ctx, runID, c.ContentHash, job.cand.URL)
	if err != nil {
		return fmt.Errorf("claim capture: %w", err)
	}
	if !first {
		return nil
	}

	body, err := o.Captures.Body(ctx, c)
	if err != nil {
		return fmt.Errorf("load capture body: %w", err)
	}
	pageURL := c.FinalURL
	if pageURL == "" {
		pageURL = job.cand.URL
	}

	class, err := o.classification(ctx, e.run.Config.PipelineVersion, c, body, pageURL)
	if err != nil {
		return err
	}
	if created {
		if err := o.Captures.SetMetadata(ctx, c.ContentHash, class.CaptureMetadata()); err != nil {
			e.log.LogWarnf("capture metadata %s: %v", c.ContentHash, err)
		}
	}

	sc := e.scorer.Score(class, pageURL, score.Page{
		Text:   classify.VisibleText(string(body)),
		Sample: capture.ContentSample(body, c.ContentType),
	}, job.query.Type)
	status, promoted, auto := o.decide(e.run.Config, class, sc)
	e.log.Debug().Str("url", pageURL).Int("overall", sc.Overall).Str("page_type", string(class.PageType)).
		Str("rejection", sc.RejectionReason).Bool("promoted", promoted).Msg("scored")
	if !promoted {
		return nil
	}

	hint := seed.PlanHint(class, c.FetchMode)
	s := &model.Seed{
		URL:                    pageURL,
		RunID:                  runID,
		QueryUsed:              job.query.Query,
		ReferrerURL:            job.cand.ReferrerURL,
		ContentHash:            c.ContentHash,
		RelevanceScore:         sc.Relevance,
		UtilityScore:           sc.Utility,
		FreshnessScore:         sc.Freshness,
		AuthorityScore:         sc.Authority,
		OverallScore:           sc.Overall,
		PageType:               class.PageType,
		EntityType:             class.EntityType,
		ScrapePlanHint:         hint,
		RecommendedEntrypoints: seed.Entrypoints(class, pageURL, hint),
		ExpectedFields:         seed.ExpectedFields(class),
		ReviewStatus:           status,
		AutoPromoted:           auto,
	}
	if status == model.ReviewApproved {
		now := time.Now().UTC()
		s.Reviewer = "auto"
		s.ReviewedAt = &now
	}
	_, createdSeed, err := o.Seeds.Create(ctx, s)
	if err != nil {
		return fmt.Errorf("create seed: %w", err)
	}
	if createdSeed {
		if err := o.Runs.Incr(ctx, runID, model.CounterSeedsCreated, 1); err != nil {
			return fmt.Errorf("count seed: %w", err)
		}
	}
	return nil
}

// decide routes a score: promoted candidates become seeds, pending by
// default or approved when auto approval is on and the score clears it.
// auto reports a seed that skipped human judgement in some way.
func (o *Orchestrator) decide(cfg model.RunConfigSnapshot, c model.ClassificationResult, sc model.SeedScore) (status model.ReviewStatus, promoted, auto bool) {
	if sc.Rejected() {
		return "", false, false
	}
	byRule := autoPromotable(c, sc)
	if sc.Overall < cfg.PromotionThreshold && !byRule {
		return "", false, false
	}
	if cfg.AutoApprove && sc.Overall >= cfg.AutoApproveMin && !sc.IsLowQuality {
		return model.ReviewApproved, true, true
	}
	return model.ReviewPending, true, byRule && sc.Overall < cfg.PromotionThreshold
}

// autoPromotable: official registries and associations with strong
// authority are seeded even below the promotion threshold
func autoPromotable(c model.ClassificationResult, sc model.SeedScore) bool {
	if c.PageType != model.PageGovRegistry && c.PageType != model.PageAssociation {
		return false
	}
	return sc.Authority >= AutoPromoteAuthority
}

func classificationKey(version, hash string) string {
	return "classification:" + version + ":" + hash
}

// classification returns the cached result for (version, hash) or
// classifies the body and caches it
func (o *Orchestrator) classification(ctx context.Context, version string, c *model.Capture, body []byte, pageURL string) (model.ClassificationResult, error) {
	key := classificationKey(version, c.ContentHash)
	var cached model.ClassificationResult
	err := o.Redis.CacheGet(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !rds.IsMiss(err) {
		return model.ClassificationResult{}, fmt.Errorf("load classification: %w", err)
	}
	res := classify.Classify(string(body), pageURL, c.Headers)
	if err := o.Redis.CacheSet(ctx, key, res, int(classificationTTL.Seconds())); err != nil {
		return model.ClassificationResult{}, fmt.Errorf("cache classification: %w", err)
	}
	return res, nil
}

// finish finalizes the run. fatal, or a store failure recorded during the
// run, fails it; a stop without failure means it was cancelled.
func (o *Orchestrator) finish(ctx context.Context, e *execution, fatal error) (*model.DiscoveryRun, error) {
	if fatal == nil {
		fatal = e.fatalErr()
	}
	if fatal == nil && ctx.Err() != nil {
		return nil, fmt.Errorf("run %s interrupted: %w", e.run.ID, ctx.Err())
	}

	status, msg := model.RunCompleted, ""
	switch {
	case fatal != nil:
		status, msg = model.RunFailed, fatal.Error()
		e.log.LogErrorf("run failed: %v", fatal)
	case e.stopped.Load():
		status = model.RunCancelled
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	r, err := o.Runs.Finalize(fctx, e.run.ID, status, msg)
	if err != nil {
		return nil, fmt.Errorf("finalize run: %w", err)
	}
	e.log.Info().Str("status", string(r.Status)).
		Int64("queries", r.Counters.QueriesGenerated).
		Int64("urls", r.Counters.URLsDiscovered).
		Int64("captures", r.Counters.CapturesCreated).
		Int64("seeds", r.Counters.SeedsCreated).
		Int64("failed", r.Counters.FetchFailed).
		Msg("run finished")
	return r, nil
}

func weightsOf(m map[string]float64) score.Weights {
	if len(m) == 0 {
		return score.DefaultWeights()
	}
	return score.Weights{
		Relevance: m[score.DimRelevance],
		Utility:   m[score.DimUtility],
		Freshness: m[score.DimFreshness],
		Authority: m[score.DimAuthority],
	}
}

func enabledQueries(qs []model.DiscoveryQuery, enabled []model.QueryType) []model.DiscoveryQuery {
	if len(enabled) == 0 {
		return qs
	}
	out := make([]model.DiscoveryQuery, 0, len(qs))
	for _, q := range qs {
		if contains(enabled, q.Type) {
			out = append(out, q)
		}
	}
	return out
}

func contains(list []model.QueryType, t model.QueryType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}
