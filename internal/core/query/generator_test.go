package query

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discovery/internal/core/model"
	"discovery/internal/platform/eino"
)

type fakeLLM struct {
	state   eino.State
	output  string
	err     error
	calls   int
	prompts []string
}

func (f *fakeLLM) Availability(ctx context.Context) eino.State { return f.state }

func (f *fakeLLM) Complete(ctx context.Context, prompt, system string, maxTokens int) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	return f.output, f.err
}

var vietnamBrief = model.TargetBrief{
	Theme:       "logistics companies",
	Geography:   []string{"Vietnam"},
	EntityTypes: []string{"freight_forwarder"},
}

func TestGenerateTemplateFallbackWithoutLLM(t *testing.T) {
	g := NewGenerator(nil)
	res, err := g.Generate(context.Background(), vietnamBrief, Options{MaxQueries: 30, IncludeSiteSearches: true})
	require.NoError(t, err)

	assert.Equal(t, SourceTemplate, res.Source)
	assert.Equal(t, eino.Unavailable, res.LLMState)
	require.NotEmpty(t, res.Queries)

	var hasSiteVN bool
	for _, q := range res.Queries {
		assert.Equal(t, SourceTemplate, q.Metadata["source"])
		if strings.HasPrefix(q.Query, "site:.vn ") {
			hasSiteVN = true
			assert.Equal(t, model.QuerySiteSearch, q.Type)
		}
	}
	assert.True(t, hasSiteVN, "expected a site:.vn query")
}

func TestTemplatePropertiesHold(t *testing.T) {
	briefs := []model.TargetBrief{
		vietnamBrief,
		{Theme: "coffee", Geography: []string{"Thailand", "Atlantis"}, EntityTypes: []string{"exporter", "roaster", "exporter"}, Keywords: []string{"arabica", "robusta", "organic"}},
		{Theme: "x", Geography: []string{"Japan"}, EntityTypes: []string{"hotel"}, ExcludeKeywords: []string{"booking", "hostel chain"}},
	}
	for _, b := range briefs {
		res, err := NewGenerator(nil).Generate(context.Background(), b, Options{MaxQueries: 100, IncludeSiteSearches: true, IncludeFeedQueries: true})
		require.NoError(t, err)

		seen := map[string]bool{}
		prev := 0
		for _, q := range res.Queries {
			assert.Greater(t, utf8.RuneCountInString(q.Query), 5)
			key := strings.ToLower(strings.TrimSpace(q.Query))
			assert.False(t, seen[key], "duplicate query %q", q.Query)
			seen[key] = true
			assert.GreaterOrEqual(t, q.Priority, prev, "queries must be sorted by priority")
			prev = q.Priority
		}
	}
}

func TestSiteSearchesSkipped(t *testing.T) {
	g := NewGenerator(nil)

	res, err := g.Generate(context.Background(), vietnamBrief, Options{IncludeSiteSearches: false})
	require.NoError(t, err)
	for _, q := range res.Queries {
		assert.NotEqual(t, model.QuerySiteSearch, q.Type)
	}

	// no TLD mapping for an unknown region
	unknown := vietnamBrief
	unknown.Geography = []string{"Atlantis"}
	res, err = g.Generate(context.Background(), unknown, Options{IncludeSiteSearches: true})
	require.NoError(t, err)
	for _, q := range res.Queries {
		assert.NotContains(t, q.Query, "site:")
	}
}

func TestEmptyGeographyUsesSentinel(t *testing.T) {
	brief := model.TargetBrief{Theme: "tea", EntityTypes: []string{"manufacturer"}}
	queries := Templates(brief.Normalized(), Options{IncludeSiteSearches: true})
	require.NotEmpty(t, queries)
	for _, q := range queries {
		assert.Empty(t, q.Country)
		assert.Equal(t, strings.TrimSpace(q.Query), q.Query)
		assert.NotContains(t, q.Query, "  ")
		assert.NotContains(t, q.Query, " in ")
	}
}

func TestFeedQueriesAndExcludes(t *testing.T) {
	brief := vietnamBrief
	brief.ExcludeKeywords = []string{"jobs"}
	res, err := NewGenerator(nil).Generate(context.Background(), brief, Options{MaxQueries: 100, IncludeFeedQueries: true})
	require.NoError(t, err)

	var feeds int
	for _, q := range res.Queries {
		switch q.Type {
		case model.QueryFeed:
			feeds++
			assert.Equal(t, 3, q.Priority)
			assert.NotContains(t, q.Query, "-jobs")
		case model.QueryWebSearch:
			assert.True(t, strings.HasSuffix(q.Query, " -jobs"), q.Query)
		}
	}
	assert.Equal(t, 2, feeds)
}

func TestMaxQueriesTruncates(t *testing.T) {
	res, err := NewGenerator(nil).Generate(context.Background(), vietnamBrief, Options{MaxQueries: 3})
	require.NoError(t, err)
	assert.Len(t, res.Queries, 3)
	for _, q := range res.Queries {
		assert.Equal(t, 1, q.Priority)
	}
}

func TestGenerateUsesLLM(t *testing.T) {
	llm := &fakeLLM{state: eino.Available, output: "```json\n" + `[
		{"query": "công ty giao nhận vận tải", "query_type": "web_search", "country": "Vietnam", "language": "vi", "priority": 1},
		{"query": "freight directory vietnam", "query_type": "directory", "country": "Vietnam", "priority": "3"},
		{"query": "odd type query", "query_type": "carrier_pigeon", "priority": 9},
		{"query": "", "query_type": "web_search", "priority": 1},
		{"query": "site:.vn forwarder", "query_type": "site_search", "priority": 2}
	]` + "\n```"}
	g := NewGenerator(llm)

	res, err := g.Generate(context.Background(), vietnamBrief, Options{MaxQueries: 10})
	require.NoError(t, err)
	assert.Equal(t, SourceLLM, res.Source)
	assert.Equal(t, eino.Available, res.LLMState)
	assert.Equal(t, 1, llm.calls)
	assert.Contains(t, llm.prompts[0], "logistics companies")

	require.Len(t, res.Queries, 3)
	assert.Equal(t, "công ty giao nhận vận tải", res.Queries[0].Query)
	assert.Equal(t, "freight_forwarder", res.Queries[0].EntityType)
	assert.Equal(t, "VN", res.Queries[0].Metadata["country_code"])

	assert.Equal(t, "freight directory vietnam", res.Queries[1].Query)
	assert.Equal(t, 3, res.Queries[1].Priority)

	odd := res.Queries[2]
	assert.Equal(t, "odd type query", odd.Query)
	assert.Equal(t, model.QueryWebSearch, odd.Type)
	assert.Equal(t, 3, odd.Priority)
	assert.Equal(t, "en", odd.Language)
}

func TestGenerateFallsBackOnLLMFailure(t *testing.T) {
	tests := []struct {
		name string
		llm  *fakeLLM
	}{
		{"call error", &fakeLLM{state: eino.Available, err: errors.New("503")}},
		{"malformed", &fakeLLM{state: eino.Available, output: "Sure! Here are some queries: ..."}},
		{"object not array", &fakeLLM{state: eino.Available, output: `{"queries": []}`}},
		{"empty array", &fakeLLM{state: eino.Available, output: `[]`}},
		{"previously failed", &fakeLLM{state: eino.Failed, output: `nope`}},
	}
	want := Templates(vietnamBrief.Normalized(), Options{IncludeSiteSearches: true})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewGenerator(tt.llm).Generate(context.Background(), vietnamBrief, Options{MaxQueries: 100, IncludeSiteSearches: true})
			require.NoError(t, err)
			assert.Equal(t, SourceTemplate, res.Source)
			assert.Equal(t, eino.Failed, res.LLMState)
			assert.Equal(t, finalize(want, 100), res.Queries)
		})
	}
}

func TestGenerateSkipsUnavailableLLM(t *testing.T) {
	llm := &fakeLLM{state: eino.Unavailable}
	res, err := NewGenerator(llm).Generate(context.Background(), vietnamBrief, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, llm.calls)
	assert.Equal(t, SourceTemplate, res.Source)
}

func TestGenerateRejectsInvalidBrief(t *testing.T) {
	_, err := NewGenerator(nil).Generate(context.Background(), model.TargetBrief{Geography: []string{"Vietnam"}}, Options{})
	assert.ErrorIs(t, err, model.ErrInvalidBrief)
}

func TestFinalizeKeepsFirstSeen(t *testing.T) {
	in := []model.DiscoveryQuery{
		{Query: "b query", Priority: 2, Country: "first"},
		{Query: "a query", Priority: 1},
		{Query: " B QUERY ", Priority: 1, Country: "second"},
	}
	out := finalize(in, 10)
	require.Len(t, out, 2)
	assert.Equal(t, "a query", out[0].Query)
	assert.Equal(t, "first", out[1].Country)
}
