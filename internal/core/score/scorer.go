// Package score combines a classification with the run's target parameters
// into a four-dimension SeedScore.
package score

import (
	"fmt"
	"math"
	"net/url"
	"strings"

	ahocorasick "github.com/cloudflare/ahocorasick"

	"discovery/internal/core/geo"
	"discovery/internal/core/model"
)

// QualityFloor: overall scores below it are flagged low quality but kept
const QualityFloor = 30

const (
	DimRelevance = "relevance"
	DimUtility   = "utility"
	DimFreshness = "freshness"
	DimAuthority = "authority"
)

var spamPhrases = []string{
	"casino", "viagra", "online betting", "payday loan", "replica watches",
	"porn", "free followers", "crypto giveaway", "earn money fast",
}

var parkedPhrases = []string{
	"domain for sale", "this domain is for sale", "buy this domain", "domain parking",
	"domain is parked", "sedoparking", "parkingcrew", "domain may be for sale",
}

type Weights struct {
	Relevance float64 `json:"relevance"`
	Utility   float64 `json:"utility"`
	Freshness float64 `json:"freshness"`
	Authority float64 `json:"authority"`
}

func DefaultWeights() Weights {
	return Weights{Relevance: 0.35, Utility: 0.30, Freshness: 0.10, Authority: 0.25}
}

func (w Weights) Validate() error {
	if w.Relevance < 0 || w.Utility < 0 || w.Freshness < 0 || w.Authority < 0 {
		return fmt.Errorf("weights must be non-negative")
	}
	if sum := w.Relevance + w.Utility + w.Freshness + w.Authority; math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("weights must sum to 1.0, got %.4f", sum)
	}
	return nil
}

// Map returns the weights keyed by dimension
func (w Weights) Map() map[string]float64 {
	return map[string]float64{
		DimRelevance: w.Relevance,
		DimUtility:   w.Utility,
		DimFreshness: w.Freshness,
		DimAuthority: w.Authority,
	}
}

// Target is what a run is looking for, resolved from its brief
type Target struct {
	EntityTypes  []string
	CountryCodes []string
	Keywords     []string
}

func TargetFromBrief(b model.TargetBrief) Target {
	b = b.Normalized()
	kws := make([]string, 0, len(b.Keywords)+1)
	for _, k := range b.Keywords {
		kws = append(kws, strings.ToLower(k))
	}
	if b.Theme != "" {
		kws = append(kws, strings.ToLower(b.Theme))
	}
	return Target{EntityTypes: b.EntityTypes, CountryCodes: geo.Codes(b.Geography), Keywords: kws}
}

// Scorer is safe for concurrent use
type Scorer struct {
	weights Weights
	target  Target
	spam    *ahocorasick.Matcher
	parked  *ahocorasick.Matcher
}

func NewScorer(target Target, weights Weights) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{
		weights: weights,
		target:  target,
		spam:    ahocorasick.NewStringMatcher(spamPhrases),
		parked:  ahocorasick.NewStringMatcher(parkedPhrases),
	}, nil
}

// Page is what a candidate is scored on. Text is the visible text of the
// whole bounded body and is screened for spam and parking phrases. Sample
// only feeds keyword relevance.
type Page struct {
	Text   string
	Sample string
}

// Score rates one candidate. method is the query type that discovered it.
func (s *Scorer) Score(c model.ClassificationResult, pageURL string, page Page, method model.QueryType) model.SeedScore {
	text := []byte(strings.ToLower(page.Text))
	isSpam := len(s.spam.MatchThreadSafe(text)) > 0
	isParked := len(s.parked.MatchThreadSafe(text)) > 0
	if isSpam || isParked {
		reason := model.RejectParked
		if isSpam {
			reason = model.RejectSpam
		}
		return model.SeedScore{IsSpam: isSpam, IsParked: isParked, RejectionReason: reason}
	}

	lowerURL := strings.ToLower(pageURL)
	host := ""
	if u, err := url.Parse(lowerURL); err == nil {
		host = u.Hostname()
	}

	rel, relC := s.relevance(c, strings.ToLower(page.Sample))
	util, utilC := utility(c)
	fresh, freshC := freshness(c, method)
	auth, authC := authority(c, host, lowerURL)

	overall := clamp(int(math.Round(
		float64(rel)*s.weights.Relevance +
			float64(util)*s.weights.Utility +
			float64(fresh)*s.weights.Freshness +
			float64(auth)*s.weights.Authority)))

	out := model.SeedScore{
		Relevance: rel,
		Utility:   util,
		Freshness: fresh,
		Authority: auth,
		Overall:   overall,
		Components: map[string]map[string]int{
			DimRelevance: relC,
			DimUtility:   utilC,
			DimFreshness: freshC,
			DimAuthority: authC,
		},
	}
	// advisory only: the score is kept
	if overall < QualityFloor {
		out.IsLowQuality = true
		out.RejectionReason = model.RejectLowQuality
	}
	return out
}

func (s *Scorer) relevance(c model.ClassificationResult, lower string) (int, map[string]int) {
	comp := map[string]int{"base": 50}
	switch {
	case contains(s.target.EntityTypes, c.EntityType):
		comp["entity_exact"] = 25
	case c.EntityType != "" && c.EntityType != model.EntityUnknown:
		comp["entity_partial"] = 10
	}
	for _, code := range c.CountryCodes {
		if contains(s.target.CountryCodes, code) {
			comp["country"] = 15
			break
		}
	}
	hits := 0
	for _, kw := range s.target.Keywords {
		if kw != "" {
			hits += strings.Count(lower, kw)
		}
	}
	if hits > 0 {
		comp["keywords"] = min(20, hits*5)
	}
	comp["confidence"] = (c.EntityConfidence - 50) / 10
	return sum(comp), comp
}

func utility(c model.ClassificationResult) (int, map[string]int) {
	comp := map[string]int{"base": 40}
	if c.HasSitemap {
		comp["sitemap"] = 10
	}
	if c.HasRSSFeed {
		comp["feed"] = 5
	}
	if c.HasPagination {
		comp["pagination"] = 10
	}
	if c.HasMemberList {
		comp["member_list"] = 15
	}
	switch {
	case c.LinkCount > 200:
		comp["links"] = 15
	case c.LinkCount > 50:
		comp["links"] = 10
	case c.LinkCount > 20:
		comp["links"] = 5
	}
	if c.LinkCount >= 20 && float64(c.ExternalLinkCount)/float64(c.LinkCount) >= 0.3 {
		comp["external_links"] = 10
	}
	switch c.PageType {
	case model.PageDirectory, model.PageAssociation, model.PageMarketplace:
		comp["page_type"] = 10
	}
	return sum(comp), comp
}

// freshness is a coarse heuristic, no dates are parsed
func freshness(c model.ClassificationResult, method model.QueryType) (int, map[string]int) {
	comp := map[string]int{"base": 50}
	if c.PageType == model.PageNews {
		comp["news"] = 20
	}
	if c.HasRSSFeed {
		comp["rss"] = 15
	}
	if method == model.QueryFeed {
		comp["feed_discovery"] = 10
	}
	return sum(comp), comp
}

// authority checks each signal family independently
func authority(c model.ClassificationResult, host, lowerURL string) (int, map[string]int) {
	comp := map[string]int{"base": 40}
	if c.PageType == model.PageGovRegistry || strings.Contains(lowerURL, ".gov.") || strings.HasSuffix(host, ".gov") {
		comp["government"] = 20
	}
	if c.PageType == model.PageAssociation || strings.Contains(host, "association") || strings.Contains(host, "chamber") {
		comp["association"] = 15
	}
	if strings.Contains(host, ".edu") || strings.Contains(host, ".ac.") || strings.Contains(host, "university") {
		comp["academic"] = 15
	}
	if strings.Contains(lowerURL, ".gov.") || strings.Contains(host, ".edu") || strings.HasSuffix(host, ".org") || strings.Contains(host, ".org.") {
		comp["tld"] = 10
	}
	comp["confidence"] = (c.PageConfidence - 50) / 10
	return sum(comp), comp
}

func sum(comp map[string]int) int {
	total := 0
	for _, v := range comp {
		total += v
	}
	return clamp(total)
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
