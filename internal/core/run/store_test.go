package run

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisv8 "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discovery/internal/core/connector"
	"discovery/internal/core/failure"
	"discovery/internal/core/model"
	rds "discovery/internal/platform/redis"
)

func newRunStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewStore(rds.NewFromClient(redisv8.NewClient(&redisv8.Options{Addr: mr.Addr()})))
}

var testBrief = model.TargetBrief{
	Theme:       "logistics companies",
	Geography:   []string{"Vietnam"},
	EntityTypes: []string{"freight_forwarder"},
}

func discovered(u string) Discovered {
	return Discovered{
		Candidate: connector.Candidate{URL: u, Source: model.QueryWebSearch},
		Query:     model.DiscoveryQuery{Query: "freight forwarders vietnam", Type: model.QueryWebSearch},
	}
}

func TestCreateRejectsInvalidBrief(t *testing.T) {
	_, err := newRunStore(t).Create(context.Background(), model.TargetBrief{}, model.RunConfigSnapshot{})
	assert.ErrorIs(t, err, model.ErrInvalidBrief)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	s := newRunStore(t)
	ctx := context.Background()
	r, err := s.Create(ctx, testBrief, model.RunConfigSnapshot{})
	require.NoError(t, err)
	_, err = s.Start(ctx, r.ID)
	require.NoError(t, err)

	_, err = s.AddURL(ctx, r.ID, discovered("https://www.vla.example/members"))
	require.NoError(t, err)
	require.NoError(t, s.Incr(ctx, r.ID, model.CounterCapturesCreated, 1))
	require.NoError(t, s.RecordFailure(ctx, r.ID, failure.KindTimeout))

	first, err := s.Finalize(ctx, r.ID, model.RunCompleted, "")
	require.NoError(t, err)

	// late increments from drained fetches do not change the outcome
	require.NoError(t, s.Incr(ctx, r.ID, model.CounterCapturesCreated, 5))

	second, err := s.Finalize(ctx, r.ID, model.RunFailed, "redelivered")
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Counters, second.Counters)
	assert.Equal(t, first.FailureBuckets, second.FailureBuckets)
	assert.Empty(t, second.ErrorMessage)
	assert.True(t, first.FinalizedAt.Equal(*second.FinalizedAt))

	assert.Equal(t, model.RunCompleted, second.Status)
	assert.EqualValues(t, 1, second.Counters.URLsDiscovered)
	assert.EqualValues(t, 1, second.Counters.CapturesCreated)
	assert.EqualValues(t, 1, second.Counters.FetchFailed)
	assert.Equal(t, map[string]int64{"timeout": 1}, second.FailureBuckets)
	assert.Equal(t, []model.DomainCount{{Domain: "vla.example", Count: 1}}, second.TopDomains)

	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, second.Counters, got.Counters, "finalized runs report the recorded counters")
}

func TestAddURLCountsOnce(t *testing.T) {
	s := newRunStore(t)
	ctx := context.Background()
	r, err := s.Create(ctx, testBrief, model.RunConfigSnapshot{})
	require.NoError(t, err)

	for _, u := range []string{"https://a.example/1", "https://a.example/1", "https://a.example/2", "https://b.example/"} {
		_, err := s.AddURL(ctx, r.ID, discovered(u))
		require.NoError(t, err)
	}
	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, got.Counters.URLsDiscovered)
	assert.Equal(t, []model.DomainCount{{Domain: "a.example", Count: 2}, {Domain: "b.example", Count: 1}}, got.TopDomains)
}

func TestUnfetchedListsPendingURLs(t *testing.T) {
	s := newRunStore(t)
	ctx := context.Background()
	r, err := s.Create(ctx, testBrief, model.RunConfigSnapshot{})
	require.NoError(t, err)

	for _, u := range []string{"https://a.example/1", "https://a.example/2", "https://b.example/"} {
		_, err := s.AddURL(ctx, r.ID, discovered(u))
		require.NoError(t, err)
	}
	// recorded by a delivery that stopped before storing the origin
	_, err = s.redis.AddMember(ctx, keyURLs(r.ID), "https://c.example/")
	require.NoError(t, err)
	require.NoError(t, s.MarkFetched(ctx, r.ID, "https://a.example/2"))

	pending, err := s.Unfetched(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, discovered("https://a.example/1"), pending[0])
	assert.Equal(t, discovered("https://b.example/"), pending[1])
	assert.Equal(t, "https://c.example/", pending[2].Candidate.URL)
	assert.Empty(t, pending[2].Query.Query)
}

func TestClaimCaptureIsHeldByOneURL(t *testing.T) {
	s := newRunStore(t)
	ctx := context.Background()

	ok, err := s.ClaimCapture(ctx, "r1", "hash", "https://a.example/")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClaimCapture(ctx, "r1", "hash", "https://b.example/")
	require.NoError(t, err)
	assert.False(t, ok, "same content at another url is scored once")

	ok, err = s.ClaimCapture(ctx, "r1", "hash", "https://a.example/")
	require.NoError(t, err)
	assert.True(t, ok, "a retried fetch of the claiming url scores again")

	ok, err = s.ClaimCapture(ctx, "r2", "hash", "https://b.example/")
	require.NoError(t, err)
	assert.True(t, ok, "claims are per run")
}

func TestRunStateMachine(t *testing.T) {
	s := newRunStore(t)
	ctx := context.Background()

	pending, err := s.Create(ctx, testBrief, model.RunConfigSnapshot{})
	require.NoError(t, err)
	_, err = s.Finalize(ctx, pending.ID, model.RunCompleted, "")
	assert.ErrorIs(t, err, ErrTerminal, "pending runs cannot complete without starting")

	cancelled, err := s.Cancel(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunCancelled, cancelled.Status)

	_, err = s.Start(ctx, pending.ID)
	assert.ErrorIs(t, err, ErrTerminal)
	_, err = s.Cancel(ctx, pending.ID)
	assert.ErrorIs(t, err, ErrTerminal)

	running, err := s.Create(ctx, testBrief, model.RunConfigSnapshot{})
	require.NoError(t, err)
	started, err := s.Start(ctx, running.ID)
	require.NoError(t, err)
	require.NotNil(t, started.StartedAt)
	again, err := s.Start(ctx, running.ID)
	require.NoError(t, err, "a redelivered run resumes")
	assert.True(t, started.StartedAt.Equal(*again.StartedAt))

	_, err = s.Finalize(ctx, running.ID, model.RunRunning, "")
	assert.Error(t, err)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	s := newRunStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return at }
		r, err := s.Create(context.Background(), testBrief, model.RunConfigSnapshot{})
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}
	runs, err := s.List(context.Background(), 0, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)
}
