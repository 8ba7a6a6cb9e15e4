package score

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discovery/internal/core/classify"
	"discovery/internal/core/model"
	"discovery/internal/utils/markdown"
)

func newScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := NewScorer(TargetFromBrief(model.TargetBrief{
		Theme:       "logistics",
		Geography:   []string{"Vietnam"},
		EntityTypes: []string{"freight_forwarder"},
		Keywords:    []string{"customs"},
	}), DefaultWeights())
	require.NoError(t, err)
	return s
}

func directoryClassification() model.ClassificationResult {
	return model.ClassificationResult{
		PageType:          model.PageDirectory,
		PageConfidence:    75,
		EntityType:        "freight_forwarder",
		EntityConfidence:  70,
		CountryCodes:      []string{"VN"},
		HasSitemap:        true,
		HasMemberList:     true,
		HasPagination:     true,
		LinkCount:         120,
		ExternalLinkCount: 60,
	}
}

func page(text string) Page {
	return Page{Text: text, Sample: text}
}

// htmlPage scores the way captures are scored: phrases are screened over
// the whole visible text, relevance reads the markdown sample.
func htmlPage(html string) Page {
	return Page{Text: classify.VisibleText(html), Sample: markdown.Sample(html, 16<<10)}
}

func TestNewScorerValidatesWeights(t *testing.T) {
	_, err := NewScorer(Target{}, Weights{Relevance: 0.5, Utility: 0.5, Freshness: 0.5})
	assert.Error(t, err)
	_, err = NewScorer(Target{}, Weights{Relevance: 1.5, Utility: -0.5})
	assert.Error(t, err)
}

func TestScoreParkedDomain(t *testing.T) {
	s := newScorer(t)
	res := s.Score(directoryClassification(), "https://parked.example", page("<h1>This Domain For Sale</h1> contact the owner"), model.QueryWebSearch)

	assert.Equal(t, 0, res.Overall)
	assert.True(t, res.IsParked)
	assert.False(t, res.IsSpam)
	assert.Equal(t, model.RejectParked, res.RejectionReason)
	assert.Zero(t, res.Relevance)
	assert.Nil(t, res.Components, "dimension scoring is skipped")
}

func TestScoreSpamTakesPrecedence(t *testing.T) {
	s := newScorer(t)
	res := s.Score(directoryClassification(), "https://x.example", page("best online CASINO, buy this domain"), model.QueryWebSearch)
	assert.Equal(t, 0, res.Overall)
	assert.True(t, res.IsSpam)
	assert.True(t, res.IsParked)
	assert.Equal(t, model.RejectSpam, res.RejectionReason)
}

func TestScoreScreensWholeVisibleText(t *testing.T) {
	article := `<main><h1>Saigon Freight</h1><p>customs clearance and logistics</p></main>`
	cases := []struct {
		name   string
		html   string
		reason string
	}{
		{"footer", `<html><body>` + article + `<footer>This domain is for sale</footer></body></html>`, model.RejectParked},
		{"boilerplate class", `<html><body><main><div class="lead-text">Buy this domain today</div><p>logistics</p></main></body></html>`, model.RejectParked},
		{"header promo", `<html><body><div class="header-promo">online betting bonus</div>` + article + `</body></html>`, model.RejectSpam},
		{"past the sample", `<html><body>` + article + `<div>` + strings.Repeat("freight forwarding ", 2000) + `</div><p>payday loan offers</p></body></html>`, model.RejectSpam},
	}
	s := newScorer(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := htmlPage(tc.html)
			res := s.Score(directoryClassification(), "https://saigonfreight.example", p, model.QueryWebSearch)
			assert.Equal(t, tc.reason, res.RejectionReason)
			assert.Equal(t, 0, res.Overall)
		})
	}
}

func TestScoreRejectsRegardlessOfClassification(t *testing.T) {
	s := newScorer(t)
	for _, c := range []model.ClassificationResult{{}, directoryClassification(), {PageType: model.PageGovRegistry, PageConfidence: 95}} {
		res := s.Score(c, "https://gov.example.gov.vn", page("viagra deals"), model.QueryFeed)
		assert.Equal(t, 0, res.Overall)
		assert.NotEmpty(t, res.RejectionReason)
	}
}

func TestScoreDirectoryCandidate(t *testing.T) {
	s := newScorer(t)
	res := s.Score(directoryClassification(), "https://vla.com.vn/members", page("customs clearance and logistics members"), model.QueryDirectory)

	// 50 + 25 entity + 15 country + 10 keywords + 2 confidence
	assert.Equal(t, 100, res.Relevance)
	// 40 + 10 sitemap + 10 pagination + 15 members + 10 links + 10 external + 10 page type
	assert.Equal(t, 100, res.Utility)
	assert.Equal(t, 50, res.Freshness)
	// 40 + 2 confidence
	assert.Equal(t, 42, res.Authority)
	// round(100*.35 + 100*.30 + 50*.10 + 42*.25) = round(80.5)
	assert.Equal(t, 81, res.Overall)
	assert.False(t, res.IsLowQuality)
	assert.Empty(t, res.RejectionReason)
	assert.Equal(t, 25, res.Components[DimRelevance]["entity_exact"])
}

func TestLowQualityIsAdvisory(t *testing.T) {
	w := Weights{Relevance: 0, Utility: 0, Freshness: 0, Authority: 1}
	s, err := NewScorer(Target{}, w)
	require.NoError(t, err)

	res := s.Score(model.ClassificationResult{PageType: model.PageUnknown, PageConfidence: 10}, "https://x.example/a", page("plain text"), model.QueryWebSearch)
	assert.Equal(t, 36, res.Authority)
	assert.Equal(t, 36, res.Overall)
	assert.False(t, res.IsLowQuality)

	res = s.Score(model.ClassificationResult{PageType: model.PageUnknown, PageConfidence: -150}, "https://x.example/a", page("plain text"), model.QueryWebSearch)
	assert.Equal(t, 20, res.Authority)
	assert.Equal(t, 20, res.Overall, "low quality keeps its score")
	assert.True(t, res.IsLowQuality)
	assert.Equal(t, model.RejectLowQuality, res.RejectionReason)
}

func TestGovAuthorityScenario(t *testing.T) {
	s := newScorer(t)
	gov := model.ClassificationResult{PageType: model.PageGovRegistry, PageConfidence: 70, EntityType: model.EntityUnknown, EntityConfidence: 10}
	plain := gov
	plain.PageType = model.PageCompanyHomepage

	govScore := s.Score(gov, "https://dangkykinhdoanh.gov.vn/registry", page("registry"), model.QueryWebSearch)
	plainScore := s.Score(plain, "https://dangkykinhdoanh.com/registry", page("registry"), model.QueryWebSearch)
	assert.Greater(t, govScore.Authority, plainScore.Authority)
	assert.Equal(t, 20, govScore.Components[DimAuthority]["government"])
	assert.Equal(t, 10, govScore.Components[DimAuthority]["tld"])
}

func TestFreshnessSignals(t *testing.T) {
	s := newScorer(t)
	c := model.ClassificationResult{PageType: model.PageNews, HasRSSFeed: true}
	res := s.Score(c, "https://news.example/feed", page(""), model.QueryFeed)
	assert.Equal(t, 95, res.Freshness)
}

func TestScoresAlwaysInRange(t *testing.T) {
	s := newScorer(t)
	pageTypes := []model.PageType{model.PageDirectory, model.PageCompanyHomepage, model.PageAssociation, model.PageGovRegistry, model.PageNews, model.PageMarketplace, model.PageUnknown}
	urls := []string{"https://a.gov.vn/x", "https://uni.edu/", "https://assoc.org/", "not a url", ""}
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		c := model.ClassificationResult{
			PageType:          pageTypes[rng.Intn(len(pageTypes))],
			PageConfidence:    rng.Intn(400) - 100,
			EntityType:        []string{"freight_forwarder", "manufacturer", model.EntityUnknown}[rng.Intn(3)],
			EntityConfidence:  rng.Intn(400) - 100,
			CountryCodes:      [][]string{nil, {"VN"}, {"TH", "VN"}}[rng.Intn(3)],
			HasSitemap:        rng.Intn(2) == 0,
			HasRSSFeed:        rng.Intn(2) == 0,
			HasMemberList:     rng.Intn(2) == 0,
			HasPagination:     rng.Intn(2) == 0,
			LinkCount:         rng.Intn(1000),
			ExternalLinkCount: rng.Intn(1000),
		}
		res := s.Score(c, urls[rng.Intn(len(urls))], page("customs customs logistics"), model.QueryFeed)
		for _, v := range []int{res.Relevance, res.Utility, res.Freshness, res.Authority, res.Overall} {
			assert.GreaterOrEqual(t, v, 0)
			assert.LessOrEqual(t, v, 100)
		}
	}
}
