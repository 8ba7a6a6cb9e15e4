package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/compose"

	"discovery/internal/core/geo"
	"discovery/internal/core/model"
	"discovery/internal/logger"
	"discovery/internal/platform/eino"
	"discovery/prompts"
)

const (
	// DefaultMaxQueries is used when Options.MaxQueries is unset
	DefaultMaxQueries = 30
	// minQueryLength: shorter formatted queries are dropped
	minQueryLength = 6
	llmMaxTokens   = 1024
)

// Source values reported in Result
const (
	SourceLLM      = "llm"
	SourceTemplate = "template"
)

// Completer is the optional LLM capability
type Completer interface {
	Availability(ctx context.Context) eino.State
	Complete(ctx context.Context, prompt, system string, maxTokens int) (string, error)
}

type Options struct {
	MaxQueries          int  `json:"max_queries"`
	IncludeSiteSearches bool `json:"include_site_searches"`
	IncludeFeedQueries  bool `json:"include_feed_queries"`
}

type Result struct {
	Queries  []model.DiscoveryQuery `json:"queries"`
	Source   string                 `json:"source"`
	LLMState eino.State             `json:"-"`
}

type Generator struct {
	llm      Completer
	prompts  *prompts.SystemPrompts
	workflow compose.Runnable[*expansion, []model.DiscoveryQuery]
	log      *logger.Logger
}

// NewGenerator builds a generator. llm may be nil.
func NewGenerator(llm Completer) *Generator {
	g := &Generator{llm: llm, prompts: prompts.NewSystemPrompts(), log: logger.New("QueryGenerator")}
	if llm != nil {
		wf, err := g.buildWorkflow()
		if err != nil {
			g.log.LogErrorf("expansion workflow unavailable, calling the model directly: %v", err)
		}
		g.workflow = wf
	}
	return g
}

// Generate expands brief into at most opts.MaxQueries queries. The LLM path
// and the template path are never merged: templates are used only when the
// LLM is unavailable, fails, or yields nothing.
func (g *Generator) Generate(ctx context.Context, brief model.TargetBrief, opts Options) (Result, error) {
	if err := brief.Validate(); err != nil {
		return Result{}, err
	}
	brief = brief.Normalized()
	if opts.MaxQueries <= 0 {
		opts.MaxQueries = DefaultMaxQueries
	}

	state := eino.Unavailable
	if g.llm != nil {
		state = g.llm.Availability(ctx)
	}
	if state != eino.Unavailable {
		queries, err := g.fromLLM(ctx, brief, opts)
		if err == nil && len(queries) > 0 {
			return Result{Queries: finalize(queries, opts.MaxQueries), Source: SourceLLM, LLMState: eino.Available}, nil
		}
		if err != nil {
			g.log.LogWarnf("LLM query expansion failed, using templates: %v", err)
		} else {
			g.log.LogWarn("LLM query expansion returned no queries, using templates")
		}
		state = eino.Failed
	}

	queries := Templates(brief, opts)
	return Result{Queries: finalize(queries, opts.MaxQueries), Source: SourceTemplate, LLMState: state}, nil
}

type llmQuery struct {
	Query     string      `json:"query"`
	QueryType string      `json:"query_type"`
	Country   string      `json:"country"`
	Language  string      `json:"language"`
	Priority  json.Number `json:"priority"`
}

func (g *Generator) fromLLM(ctx context.Context, brief model.TargetBrief, opts Options) ([]model.DiscoveryQuery, error) {
	in := &expansion{Brief: brief, Options: opts}
	if g.workflow == nil {
		c, err := g.completeNode(ctx, in)
		if err != nil {
			return nil, err
		}
		return decodeNode(ctx, c)
	}
	return g.workflow.Invoke(ctx, in, compose.WithCallbacks(tracer{log: g.log}.handler()))
}

// parseLLMQueries decodes the model output. Anything that is not a JSON
// array is an error, which the caller treats like an unavailable model.
func parseLLMQueries(raw string, brief model.TargetBrief, opts Options) ([]model.DiscoveryQuery, error) {
	var items []llmQuery
	if err := json.Unmarshal([]byte(eino.StripFences(raw)), &items); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}
	entity := ""
	if len(brief.EntityTypes) == 1 {
		entity = brief.EntityTypes[0]
	}
	out := make([]model.DiscoveryQuery, 0, len(items))
	for _, it := range items {
		text := collapseSpaces(it.Query)
		if utf8.RuneCountInString(text) < minQueryLength {
			continue
		}
		qt := model.QueryType(strings.ToLower(strings.TrimSpace(it.QueryType)))
		if !qt.Valid() {
			qt = model.QueryWebSearch
		}
		if qt == model.QuerySiteSearch && !opts.IncludeSiteSearches {
			continue
		}
		if qt == model.QueryFeed && !opts.IncludeFeedQueries {
			continue
		}
		q := model.DiscoveryQuery{
			Query:      withExcludes(text, qt, brief.ExcludeKeywords),
			Type:       qt,
			Country:    strings.TrimSpace(it.Country),
			Language:   strings.ToLower(strings.TrimSpace(it.Language)),
			EntityType: entity,
			Priority:   clampPriority(it.Priority),
			Metadata:   map[string]string{"source": SourceLLM},
		}
		if c, ok := geo.Lookup(q.Country); ok {
			q.Metadata["country_code"] = c.Code
		}
		if q.Language == "" {
			q.Language = languageFor(brief, q.Country)
		}
		out = append(out, q)
	}
	if len(out) == 0 && len(items) > 0 {
		return nil, errors.New("llm returned no usable queries")
	}
	return out, nil
}

func clampPriority(n json.Number) int {
	f, err := n.Float64()
	if err != nil {
		return 2
	}
	p := int(f)
	if p < 1 {
		return 1
	}
	if p > 3 {
		return 3
	}
	return p
}

// Templates expands brief deterministically. The output is not deduplicated or capped.
func Templates(brief model.TargetBrief, opts Options) []model.DiscoveryQuery {
	countries := brief.Geography
	if len(countries) == 0 {
		countries = []string{""}
	}
	entities := brief.EntityTypes
	if len(entities) == 0 {
		entities = []string{brief.Theme}
	}
	keywords := brief.Keywords
	if len(keywords) > maxKeywordTemplates {
		keywords = keywords[:maxKeywordTemplates]
	}

	var out []model.DiscoveryQuery
	emit := func(t phraseTemplate, vars map[string]string, country, entity string) {
		if t.requiresCountry && country == "" {
			return
		}
		if t.queryType == model.QuerySiteSearch && (!opts.IncludeSiteSearches || vars["tld"] == "") {
			return
		}
		text := render(t.pattern, vars)
		if utf8.RuneCountInString(text) < minQueryLength {
			return
		}
		q := model.DiscoveryQuery{
			Query:      withExcludes(text, t.queryType, brief.ExcludeKeywords),
			Type:       t.queryType,
			Country:    country,
			Language:   languageFor(brief, country),
			EntityType: entity,
			Priority:   t.priority,
			Metadata:   map[string]string{"source": SourceTemplate, "template": t.pattern},
		}
		if c, ok := geo.Lookup(country); ok {
			q.Metadata["country_code"] = c.Code
		}
		out = append(out, q)
	}

	for _, country := range countries {
		tld := ""
		if c, ok := geo.Lookup(country); ok {
			tld = c.TLD
		}
		for _, entity := range entities {
			for _, syn := range synonyms(entity) {
				vars := map[string]string{"entity": syn, "country": country, "theme": brief.Theme, "tld": tld}
				for _, t := range phraseTemplates {
					emit(t, vars, country, entity)
				}
				for _, kw := range keywords {
					vars["keyword"] = kw
					for _, t := range keywordTemplates {
						emit(t, vars, country, entity)
					}
				}
			}
		}
		if opts.IncludeFeedQueries {
			theme := brief.Theme
			if theme == "" {
				theme = synonyms(entities[0])[0]
			}
			vars := map[string]string{"theme": theme, "country": country}
			for _, t := range feedTemplates {
				emit(t, vars, country, "")
			}
		}
	}
	return out
}

// finalize dedups by normalized text keeping the first occurrence, sorts by
// ascending priority (stable) and truncates.
func finalize(queries []model.DiscoveryQuery, max int) []model.DiscoveryQuery {
	seen := make(map[string]struct{}, len(queries))
	out := make([]model.DiscoveryQuery, 0, len(queries))
	for _, q := range queries {
		key := strings.ToLower(strings.TrimSpace(q.Query))
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	if len(out) > max {
		out = out[:max]
	}
	return out
}

func withExcludes(text string, qt model.QueryType, excludes []string) string {
	if qt != model.QueryWebSearch && qt != model.QuerySiteSearch {
		return text
	}
	for _, kw := range excludes {
		if strings.ContainsAny(kw, " \t") {
			text += ` -"` + kw + `"`
			continue
		}
		text += " -" + kw
	}
	return text
}

func languageFor(brief model.TargetBrief, country string) string {
	if len(brief.Languages) > 0 {
		return brief.Languages[0]
	}
	if c, ok := geo.Lookup(country); ok {
		return c.Language
	}
	return "en"
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}
