package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPipelineIsValid(t *testing.T) {
	p := DefaultPipeline()
	require.NoError(t, p.Validate())
	assert.InDelta(t, 1.0, p.Weights.Sum(), 1e-9)
}

func TestPipelineValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Pipeline)
	}{
		{"weights do not sum to one", func(p *Pipeline) { p.Weights.Relevance = 0.9 }},
		{"negative weight", func(p *Pipeline) {
			p.Weights = Weights{Relevance: 1.2, Utility: -0.2}
		}},
		{"threshold out of range", func(p *Pipeline) { p.PromotionThreshold = 101 }},
		{"no workers", func(p *Pipeline) { p.FetchWorkers = 0 }},
		{"unknown connector", func(p *Pipeline) { p.Connectors = []string{"web_search", "telepathy"} }},
		{"inline above max", func(p *Pipeline) { p.InlineBodyLimit = p.MaxBodyBytes + 1 }},
		{"unknown header strategy", func(p *Pipeline) { p.HeaderStrategy = "stealth" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPipeline()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestLoadPipelineFileOverlaysValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	content := `
promotion_threshold: 70
fetch_timeout: 5s
weights:
  relevance: 0.4
  utility: 0.3
  freshness: 0.1
  authority: 0.2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	p := DefaultPipeline()
	require.NoError(t, LoadPipelineFile(path, &p))

	assert.Equal(t, 70, p.PromotionThreshold)
	assert.Equal(t, 5*time.Second, p.FetchTimeout)
	assert.Equal(t, 0.4, p.Weights.Relevance)
	// untouched keys keep their defaults
	assert.Equal(t, 8, p.FetchWorkers)
	assert.NoError(t, p.Validate())
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PROMOTION_THRESHOLD", "55")
	t.Setenv("AUTO_APPROVE", "true")
	t.Setenv("POLITENESS_DELAY", "250ms")
	t.Setenv("QUERY_WORKERS", "not-a-number")
	t.Setenv("CONNECTORS", " feed, ,directory")
	t.Setenv("WEIGHT_RELEVANCE", "0.35")
	t.Setenv("FETCH_HEADER_STRATEGY", "modern_browser")

	cfg := Load()
	assert.Equal(t, 55, cfg.Pipeline.PromotionThreshold)
	assert.True(t, cfg.Pipeline.AutoApprove)
	assert.Equal(t, 250*time.Millisecond, cfg.Pipeline.PolitenessDelay)
	assert.Equal(t, 4, cfg.Pipeline.QueryWorkers)
	assert.Equal(t, []string{"feed", "directory"}, cfg.Pipeline.Connectors)
	assert.InDelta(t, 0.35, cfg.Pipeline.Weights.Relevance, 1e-9)
	assert.Equal(t, "modern_browser", cfg.Pipeline.HeaderStrategy)
}
