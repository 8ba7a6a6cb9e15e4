package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	AppEnv        string
	HTTPAddr      string
	RedisAddr     string
	RedisPassword string
	DataDir       string

	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string

	LLMProvider     string
	GeminiAPIKey    string
	DefaultLLMModel string

	TaskMaxRetries   int
	SearchAPIURL     string
	SystemAuthSecret string
	SweepSchedule    string

	Pipeline Pipeline
}

// Weights are the scoring dimension weights. They must sum to 1.0.
type Weights struct {
	Relevance float64 `yaml:"relevance"`
	Utility   float64 `yaml:"utility"`
	Freshness float64 `yaml:"freshness"`
	Authority float64 `yaml:"authority"`
}

func (w Weights) Sum() float64 { return w.Relevance + w.Utility + w.Freshness + w.Authority }

// Pipeline holds the knobs of a discovery run. Values come from the
// environment and may be overridden by the PIPELINE_CONFIG yaml file.
type Pipeline struct {
	Version              string        `yaml:"version"`
	PromotionThreshold   int           `yaml:"promotion_threshold"`
	AutoApprove          bool          `yaml:"auto_approve"`
	AutoApproveThreshold int           `yaml:"auto_approve_threshold"`
	Weights              Weights       `yaml:"weights"`
	MaxQueries           int           `yaml:"max_queries"`
	MaxResultsPerQuery   int           `yaml:"max_results_per_query"`
	QueryWorkers         int           `yaml:"query_workers"`
	FetchWorkers         int           `yaml:"fetch_workers"`
	PolitenessDelay      time.Duration `yaml:"politeness_delay"`
	ConnectorTimeout     time.Duration `yaml:"connector_timeout"`
	FetchTimeout         time.Duration `yaml:"fetch_timeout"`
	MaxBodyBytes         int64         `yaml:"max_body_bytes"`
	InlineBodyLimit      int64         `yaml:"inline_body_limit"`
	CaptureRetention     time.Duration `yaml:"capture_retention"`
	RenderJS             bool          `yaml:"render_js"`
	AllowPrivateNetworks bool          `yaml:"allow_private_networks"`
	UserAgent            string        `yaml:"user_agent"`
	HeaderStrategy       string        `yaml:"header_strategy"`
	Connectors           []string      `yaml:"connectors"`
}

// DefaultPipeline returns the pipeline defaults
func DefaultPipeline() Pipeline {
	return Pipeline{
		Version:              "v1",
		PromotionThreshold:   60,
		AutoApproveThreshold: 85,
		Weights:              Weights{Relevance: 0.35, Utility: 0.30, Freshness: 0.10, Authority: 0.25},
		MaxQueries:           30,
		MaxResultsPerQuery:   20,
		QueryWorkers:         4,
		FetchWorkers:         8,
		PolitenessDelay:      time.Second,
		ConnectorTimeout:     20 * time.Second,
		FetchTimeout:         15 * time.Second,
		MaxBodyBytes:         5 << 20,
		InlineBodyLimit:      256 << 10,
		CaptureRetention:     30 * 24 * time.Hour,
		UserAgent:            "SeedDiscovery/1.0 (+https://github.com/discovery)",
		HeaderStrategy:       "bot_friendly",
		Connectors:           []string{"web_search", "site_search", "directory", "feed"},
	}
}

// Validate checks the pipeline knobs
func (p Pipeline) Validate() error {
	if math.Abs(p.Weights.Sum()-1.0) > 1e-6 {
		return fmt.Errorf("scoring weights must sum to 1.0, got %.4f", p.Weights.Sum())
	}
	if p.Weights.Relevance < 0 || p.Weights.Utility < 0 || p.Weights.Freshness < 0 || p.Weights.Authority < 0 {
		return fmt.Errorf("scoring weights must be non-negative")
	}
	if p.PromotionThreshold < 0 || p.PromotionThreshold > 100 {
		return fmt.Errorf("promotion threshold must be within [0,100]")
	}
	if p.AutoApproveThreshold < 0 || p.AutoApproveThreshold > 100 {
		return fmt.Errorf("auto approve threshold must be within [0,100]")
	}
	if p.MaxQueries <= 0 || p.MaxResultsPerQuery <= 0 {
		return fmt.Errorf("max queries and max results per query must be positive")
	}
	if p.QueryWorkers <= 0 || p.FetchWorkers <= 0 {
		return fmt.Errorf("worker counts must be positive")
	}
	for _, c := range p.Connectors {
		switch c {
		case "web_search", "site_search", "directory", "feed":
		default:
			return fmt.Errorf("unknown connector %q", c)
		}
	}
	switch p.HeaderStrategy {
	case "", "bot_friendly", "modern_browser":
	default:
		return fmt.Errorf("unknown header strategy %q", p.HeaderStrategy)
	}
	if p.InlineBodyLimit > p.MaxBodyBytes {
		return fmt.Errorf("inline body limit cannot exceed max body bytes")
	}
	return nil
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return i
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// getenvList splits a comma separated value, dropping blanks
func getenvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func loadPipeline() Pipeline {
	def := DefaultPipeline()
	return Pipeline{
		Version:              getenv("PIPELINE_VERSION", def.Version),
		PromotionThreshold:   getenvInt("PROMOTION_THRESHOLD", def.PromotionThreshold),
		AutoApprove:          getenvBool("AUTO_APPROVE", false),
		AutoApproveThreshold: getenvInt("AUTO_APPROVE_THRESHOLD", def.AutoApproveThreshold),
		Weights: Weights{
			Relevance: getenvFloat("WEIGHT_RELEVANCE", def.Weights.Relevance),
			Utility:   getenvFloat("WEIGHT_UTILITY", def.Weights.Utility),
			Freshness: getenvFloat("WEIGHT_FRESHNESS", def.Weights.Freshness),
			Authority: getenvFloat("WEIGHT_AUTHORITY", def.Weights.Authority),
		},
		MaxQueries:           getenvInt("MAX_QUERIES", def.MaxQueries),
		MaxResultsPerQuery:   getenvInt("MAX_RESULTS_PER_QUERY", def.MaxResultsPerQuery),
		QueryWorkers:         getenvInt("QUERY_WORKERS", def.QueryWorkers),
		FetchWorkers:         getenvInt("FETCH_WORKERS", def.FetchWorkers),
		PolitenessDelay:      getenvDuration("POLITENESS_DELAY", def.PolitenessDelay),
		ConnectorTimeout:     getenvDuration("CONNECTOR_TIMEOUT", def.ConnectorTimeout),
		FetchTimeout:         getenvDuration("FETCH_TIMEOUT", def.FetchTimeout),
		MaxBodyBytes:         getenvInt64("MAX_BODY_BYTES", def.MaxBodyBytes),
		InlineBodyLimit:      getenvInt64("INLINE_BODY_LIMIT", def.InlineBodyLimit),
		CaptureRetention:     getenvDuration("CAPTURE_RETENTION", def.CaptureRetention),
		RenderJS:             getenvBool("RENDER_JS", false),
		AllowPrivateNetworks: getenvBool("ALLOW_PRIVATE_NETWORKS", false),
		UserAgent:            getenv("USER_AGENT", def.UserAgent),
		HeaderStrategy:       getenv("FETCH_HEADER_STRATEGY", def.HeaderStrategy),
		Connectors:           getenvList("CONNECTORS", def.Connectors),
	}
}

// LoadPipelineFile overlays the yaml file at path onto p. Keys missing from
// the file keep their current value.
func LoadPipelineFile(path string, p *Pipeline) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read pipeline config: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return fmt.Errorf("failed to parse pipeline config: %w", err)
	}
	p.UserAgent = strings.TrimSpace(p.UserAgent)
	return nil
}

func Load() Config {
	cfg := Config{
		AppEnv:        getenv("APP_ENV", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8081"),
		RedisAddr:     getenv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		DataDir:       getenv("DATA_DIR", "./data"),

		SupabaseURL:        os.Getenv("NEXT_PUBLIC_SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:     getenv("SUPABASE_STORAGE_BUCKET", "captures"),

		LLMProvider:     getenv("LLM_PROVIDER", "gemini"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		DefaultLLMModel: getenv("DEFAULT_LLM_MODEL", "gemini-1.5-flash"),

		TaskMaxRetries: getenvInt("TASK_MAX_RETRIES", 3),
		SearchAPIURL:   os.Getenv("SEARCH_API_URL"),

		SystemAuthSecret: os.Getenv("SYSTEM_AUTH_SECRET"),
		SweepSchedule:    getenv("SWEEP_SCHEDULE", "@hourly"),

		Pipeline: loadPipeline(),
	}
	if cfg.RedisAddr == "" {
		panic(fmt.Errorf("REDIS_ADDR is required"))
	}
	if path := os.Getenv("PIPELINE_CONFIG"); path != "" {
		if err := LoadPipelineFile(path, &cfg.Pipeline); err != nil {
			panic(err)
		}
	}
	if err := cfg.Pipeline.Validate(); err != nil {
		panic(fmt.Errorf("invalid pipeline config: %w", err))
	}
	return cfg
}
