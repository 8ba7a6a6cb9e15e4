package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	redisv8 "github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"discovery/internal/core/connector"
	"discovery/internal/core/failure"
	"discovery/internal/core/model"
	"discovery/internal/logger"
	rds "discovery/internal/platform/redis"
)

var (
	ErrNotFound = errors.New("run not found")
	// ErrTerminal is returned when a finished run is asked to change state
	ErrTerminal = errors.New("run already finished")
)

const (
	keyRunsByTime = "runs:by_time"
	// TopDomainLimit bounds the domains reported on a run
	TopDomainLimit = 10
	watchRetries   = 5
)

func keyRun(id string) string       { return "run:" + id }
func keyCounters(id string) string  { return "run:" + id + ":counters" }
func keyFailures(id string) string  { return "run:" + id + ":failures" }
func keyDomains(id string) string   { return "run:" + id + ":domains" }
func keyURLs(id string) string      { return "run:" + id + ":urls" }
func keyProcessed(id string) string { return "run:" + id + ":processed" }
func keyFetched(id string) string   { return "run:" + id + ":fetched" }
func keyOrigins(id string) string   { return "run:" + id + ":origins" }

// Store keeps run records and their live aggregates. The record is JSON;
// counters, failure buckets and domains live in their own keys so workers
// can update them atomically without touching the record.
type Store struct {
	redis *rds.Service
	log   *logger.Logger
	now   func() time.Time
}

func NewStore(r *rds.Service) *Store {
	return &Store{redis: r, log: logger.New("RunStore"), now: time.Now}
}

// Create records a pending run for brief
func (s *Store) Create(ctx context.Context, brief model.TargetBrief, cfg model.RunConfigSnapshot) (*model.DiscoveryRun, error) {
	if err := brief.Validate(); err != nil {
		return nil, err
	}
	r := &model.DiscoveryRun{
		ID:             uuid.NewString(),
		Brief:          brief.Normalized(),
		Status:         model.RunPending,
		CreatedAt:      s.now().UTC(),
		FailureBuckets: map[string]int64{},
		TopDomains:     []model.DomainCount{},
		Config:         cfg,
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode run: %w", err)
	}
	_, err = s.redis.Client().TxPipelined(ctx, func(p redisv8.Pipeliner) error {
		p.Set(ctx, keyRun(r.ID), b, 0)
		p.ZAdd(ctx, keyRunsByTime, &redisv8.Z{Score: float64(r.CreatedAt.UnixNano()), Member: r.ID})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store run: %w", err)
	}
	return r, nil
}

func (s *Store) record(ctx context.Context, id string) (*model.DiscoveryRun, error) {
	var r model.DiscoveryRun
	if err := s.redis.CacheGet(ctx, keyRun(id), &r); err != nil {
		if rds.IsMiss(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	return &r, nil
}

// Get returns the run. A finalized run is returned exactly as recorded;
// an unfinished one carries its live aggregates.
func (s *Store) Get(ctx context.Context, id string) (*model.DiscoveryRun, error) {
	r, err := s.record(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.FinalizedAt != nil {
		return r, nil
	}
	if err := s.fillAggregates(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Status is the recorded status only
func (s *Store) Status(ctx context.Context, id string) (model.RunStatus, error) {
	r, err := s.record(ctx, id)
	if err != nil {
		return "", err
	}
	return r.Status, nil
}

// List returns runs newest first
func (s *Store) List(ctx context.Context, offset, limit int) ([]*model.DiscoveryRun, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(offset + limit - 1)
	}
	ids, err := s.redis.Client().ZRevRange(ctx, keyRunsByTime, int64(offset), stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]*model.DiscoveryRun, 0, len(ids))
	for _, id := range ids {
		r, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) fillAggregates(ctx context.Context, r *model.DiscoveryRun) error {
	counters, err := s.redis.Counters(ctx, keyCounters(r.ID))
	if err != nil {
		return fmt.Errorf("load run counters: %w", err)
	}
	buckets, err := s.redis.Counters(ctx, keyFailures(r.ID))
	if err != nil {
		return fmt.Errorf("load failure buckets: %w", err)
	}
	top, err := s.redis.Client().ZRevRangeWithScores(ctx, keyDomains(r.ID), 0, TopDomainLimit-1).Result()
	if err != nil {
		return fmt.Errorf("load top domains: %w", err)
	}
	r.Counters = model.CountersFromMap(counters)
	r.FailureBuckets = buckets
	r.TopDomains = make([]model.DomainCount, 0, len(top))
	for _, z := range top {
		r.TopDomains = append(r.TopDomains, model.DomainCount{Domain: fmt.Sprint(z.Member), Count: int64(z.Score)})
	}
	return nil
}

// update applies fn to the record under WATCH. fn returning an error
// aborts without writing.
func (s *Store) update(ctx context.Context, id string, fn func(r *model.DiscoveryRun) error) (*model.DiscoveryRun, error) {
	var out *model.DiscoveryRun
	txf := func(tx *redisv8.Tx) error {
		b, err := tx.Get(ctx, keyRun(id)).Bytes()
		if err != nil {
			if rds.IsMiss(err) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return err
		}
		var r model.DiscoveryRun
		if err := json.Unmarshal(b, &r); err != nil {
			return fmt.Errorf("decode run %s: %w", id, err)
		}
		if err := fn(&r); err != nil {
			return err
		}
		nb, err := json.Marshal(&r)
		if err != nil {
			return fmt.Errorf("encode run: %w", err)
		}
		if _, err := tx.TxPipelined(ctx, func(p redisv8.Pipeliner) error {
			p.Set(ctx, keyRun(id), nb, 0)
			return nil
		}); err != nil {
			return err
		}
		out = &r
		return nil
	}
	for i := 0; i < watchRetries; i++ {
		err := s.redis.Client().Watch(ctx, txf, keyRun(id))
		if errors.Is(err, redisv8.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("update run %s: concurrent update", id)
}

// Start moves a pending run to running. A run that is already running is
// returned unchanged so a redelivered task can resume it.
func (s *Store) Start(ctx context.Context, id string) (*model.DiscoveryRun, error) {
	return s.update(ctx, id, func(r *model.DiscoveryRun) error {
		switch {
		case r.Status == model.RunRunning:
			return nil
		case r.Status.Terminal():
			return fmt.Errorf("%w: %s is %s", ErrTerminal, id, r.Status)
		}
		now := s.now().UTC()
		r.Status = model.RunRunning
		r.StartedAt = &now
		return nil
	})
}

// SetQueries records where the run's queries came from and how many were kept
func (s *Store) SetQueries(ctx context.Context, id, source string, n int) error {
	if _, err := s.update(ctx, id, func(r *model.DiscoveryRun) error {
		r.QuerySource = source
		return nil
	}); err != nil {
		return err
	}
	return s.redis.Client().HSet(ctx, keyCounters(id), model.CounterQueriesGenerated, n).Err()
}

// Incr adds delta to a run counter
func (s *Store) Incr(ctx context.Context, id, counter string, delta int64) error {
	_, err := s.redis.Incr(ctx, keyCounters(id), counter, delta)
	return err
}

// RecordFailure counts one failed connector call or fetch in its bucket
func (s *Store) RecordFailure(ctx context.Context, id string, kind failure.Kind) error {
	if kind == "" {
		kind = failure.KindOther
	}
	_, err := s.redis.Client().TxPipelined(ctx, func(p redisv8.Pipeliner) error {
		p.HIncrBy(ctx, keyCounters(id), model.CounterFetchFailed, 1)
		p.HIncrBy(ctx, keyFailures(id), string(kind), 1)
		return nil
	})
	return err
}

// Discovered is a URL a connector returned and the query that found it
type Discovered struct {
	Candidate connector.Candidate  `json:"candidate"`
	Query     model.DiscoveryQuery `json:"query"`
}

// AddURL records a discovered URL. It reports false when the run had
// already seen it; only new URLs count towards discovery and top domains.
// The URL stays pending until MarkFetched.
func (s *Store) AddURL(ctx context.Context, id string, d Discovered) (bool, error) {
	rawURL := d.Candidate.URL
	added, err := s.redis.AddMember(ctx, keyURLs(id), rawURL)
	if err != nil || !added {
		return false, err
	}
	origin, err := json.Marshal(d)
	if err != nil {
		return false, err
	}
	host := domainOf(rawURL)
	_, err = s.redis.Client().TxPipelined(ctx, func(p redisv8.Pipeliner) error {
		p.HIncrBy(ctx, keyCounters(id), model.CounterURLsDiscovered, 1)
		if host != "" {
			p.ZIncrBy(ctx, keyDomains(id), 1, host)
		}
		p.HSet(ctx, keyOrigins(id), rawURL, origin)
		return nil
	})
	return true, err
}

// MarkFetched records that a URL's fetch finished, whatever its outcome
func (s *Store) MarkFetched(ctx context.Context, id, rawURL string) error {
	_, err := s.redis.AddMember(ctx, keyFetched(id), rawURL)
	return err
}

// Unfetched lists URLs recorded by an earlier delivery of the run whose
// fetch never finished. URLs without a stored origin come back with only
// the candidate URL set.
func (s *Store) Unfetched(ctx context.Context, id string) ([]Discovered, error) {
	urls, err := s.redis.Client().SDiff(ctx, keyURLs(id), keyFetched(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, nil
	}
	sort.Strings(urls)
	origins, err := s.redis.Client().HMGet(ctx, keyOrigins(id), urls...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Discovered, 0, len(urls))
	for i, u := range urls {
		d := Discovered{Candidate: connector.Candidate{URL: u}}
		if raw, ok := origins[i].(string); ok {
			if err := json.Unmarshal([]byte(raw), &d); err != nil {
				s.log.LogWarnf("run %s: bad origin for %s: %v", id, u, err)
				d = Discovered{Candidate: connector.Candidate{URL: u}}
			}
		}
		out = append(out, d)
	}
	return out, nil
}

// ClaimCapture claims a content hash for scoring within a run. The URL that
// holds the claim may claim it again, so a redelivered fetch that failed
// after claiming is scored on retry.
func (s *Store) ClaimCapture(ctx context.Context, id, hash, rawURL string) (bool, error) {
	c := s.redis.Client()
	ok, err := c.HSetNX(ctx, keyProcessed(id), hash, rawURL).Result()
	if err != nil || ok {
		return ok, err
	}
	owner, err := c.HGet(ctx, keyProcessed(id), hash).Result()
	if err != nil {
		return false, err
	}
	return owner == rawURL, nil
}

// Finalize moves the run into a terminal status and freezes its aggregates
// into the record. Repeated calls return the recorded outcome unchanged.
func (s *Store) Finalize(ctx context.Context, id string, status model.RunStatus, errMsg string) (*model.DiscoveryRun, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("finalize %s: %s is not a terminal status", id, status)
	}
	// aggregates are read before WATCH; increments after this point belong
	// to fetches that drained past the end of the run
	live := &model.DiscoveryRun{ID: id}
	if err := s.fillAggregates(ctx, live); err != nil {
		return nil, err
	}
	r, err := s.update(ctx, id, func(r *model.DiscoveryRun) error {
		if r.FinalizedAt != nil {
			return errAlreadyFinal
		}
		if !model.CanTransition(r.Status, status) {
			return fmt.Errorf("%w: %s cannot move from %s to %s", ErrTerminal, id, r.Status, status)
		}
		now := s.now().UTC()
		r.Status = status
		r.FinishedAt = &now
		r.FinalizedAt = &now
		r.ErrorMessage = errMsg
		r.Counters = live.Counters
		r.FailureBuckets = live.FailureBuckets
		r.TopDomains = live.TopDomains
		return nil
	})
	if errors.Is(err, errAlreadyFinal) {
		return s.record(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	s.log.LogInfof("run %s finalized as %s", id, status)
	return r, nil
}

var errAlreadyFinal = errors.New("already finalized")

// Cancel finalizes a pending or running run as cancelled
func (s *Store) Cancel(ctx context.Context, id string) (*model.DiscoveryRun, error) {
	r, err := s.record(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrTerminal, id, r.Status)
	}
	out, err := s.Finalize(ctx, id, model.RunCancelled, "")
	if err != nil {
		return nil, err
	}
	if out.Status != model.RunCancelled {
		// the run finished on its own first
		return nil, fmt.Errorf("%w: %s is %s", ErrTerminal, id, out.Status)
	}
	return out, nil
}

func domainOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
