// Command discover runs one discovery brief from the terminal. With
// --dry-run it only prints the queries the brief expands to; otherwise it
// executes the run inline against the configured Redis and prints the seeds.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jessevdk/go-flags"

	"discovery/internal/config"
	"discovery/internal/core/capture"
	"discovery/internal/core/connector"
	"discovery/internal/core/fetch"
	"discovery/internal/core/model"
	"discovery/internal/core/query"
	"discovery/internal/core/run"
	"discovery/internal/core/seed"
	"discovery/internal/platform/eino"
	rds "discovery/internal/platform/redis"
	"discovery/internal/platform/storage"
)

type options struct {
	Theme       string   `long:"theme" short:"t" description:"What the target entities do"`
	Countries   []string `long:"country" short:"c" description:"Country to search, repeatable"`
	EntityTypes []string `long:"entity" short:"e" description:"Entity type, repeatable"`
	Keywords    []string `long:"keyword" short:"k" description:"Extra keyword, repeatable"`
	Excludes    []string `long:"exclude" short:"x" description:"Keyword to exclude, repeatable"`
	Languages   []string `long:"language" short:"l" description:"Preferred language, repeatable"`
	Connectors  []string `long:"connector" description:"Enabled connector, repeatable (default: pipeline connectors)"`
	MaxQueries  int      `long:"max-queries" short:"n" default:"0" description:"Query cap (default: pipeline max)"`
	MaxResults  int      `long:"max-results" short:"r" default:"0" description:"Results kept per query (default: pipeline setting)"`
	NoSite      bool     `long:"no-site-search" description:"Skip site: restricted queries"`
	NoFeed      bool     `long:"no-feeds" description:"Skip feed queries"`
	DryRun      bool     `long:"dry-run" description:"Print generated queries and exit"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(2)
	}

	cfg := config.Load()
	req := buildRequest(opts, &cfg.Pipeline)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	einoSvc, err := eino.NewService(eino.Config{Provider: cfg.LLMProvider, APIKey: cfg.GeminiAPIKey, Model: cfg.DefaultLLMModel})
	if err != nil {
		log.Fatalf("failed to initialize Eino service: %v", err)
	}
	generator := query.NewGenerator(einoSvc)

	if opts.DryRun {
		if err := preview(ctx, generator, cfg.Pipeline, req); err != nil {
			log.Fatal(err)
		}
		return
	}
	if err := execute(ctx, cfg, generator, req); err != nil {
		log.Fatal(err)
	}
}

// buildRequest maps flags onto a run request. Pipeline-level overrides are
// written into p so the run snapshot and connectors pick them up.
func buildRequest(opts options, p *config.Pipeline) run.CreateRequest {
	if opts.MaxResults > 0 {
		p.MaxResultsPerQuery = opts.MaxResults
	}
	site, feed := !opts.NoSite, !opts.NoFeed
	req := run.CreateRequest{
		Brief: model.TargetBrief{
			Theme:           opts.Theme,
			Geography:       opts.Countries,
			EntityTypes:     opts.EntityTypes,
			Keywords:        opts.Keywords,
			ExcludeKeywords: opts.Excludes,
			Languages:       opts.Languages,
		},
		MaxQueries:          opts.MaxQueries,
		IncludeSiteSearches: &site,
		IncludeFeedQueries:  &feed,
	}
	for _, c := range opts.Connectors {
		req.Connectors = append(req.Connectors, model.QueryType(strings.TrimSpace(c)))
	}
	return req
}

func preview(ctx context.Context, g *query.Generator, p config.Pipeline, req run.CreateRequest) error {
	if err := req.Brief.Validate(); err != nil {
		return err
	}
	snap := run.Snapshot(p, req.Options(), req.Connectors)
	res, err := g.Generate(ctx, req.Brief, query.Options{
		MaxQueries:          snap.MaxQueries,
		IncludeSiteSearches: snap.IncludeSiteSearches,
		IncludeFeedQueries:  snap.IncludeFeedQueries,
	})
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("%s queries (llm %s)", res.Source, res.LLMState))
	t.AppendHeader(table.Row{"#", "Type", "Priority", "Country", "Language", "Query"})
	n := 0
	for _, q := range res.Queries {
		if !enabled(snap.Connectors, q.Type) {
			continue
		}
		n++
		t.AppendRow(table.Row{n, q.Type, q.Priority, q.Country, q.Language, q.Query})
	}
	t.Render()
	return nil
}

func enabled(list []model.QueryType, t model.QueryType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

func execute(ctx context.Context, cfg config.Config, g *query.Generator, req run.CreateRequest) error {
	redisSvc, err := rds.New(rds.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		return err
	}
	defer redisSvc.Close()
	blobs, err := storage.New(cfg)
	if err != nil {
		return err
	}

	stack := fetch.NewStack(cfg.Pipeline, redisSvc)
	defer stack.Close()
	seeds := seed.NewStore(redisSvc)
	orch := run.NewOrchestrator(run.Deps{
		Runs:       run.NewStore(redisSvc),
		Seeds:      seeds,
		Captures:   capture.NewStore(redisSvc, blobs, cfg.Pipeline.InlineBodyLimit),
		Redis:      redisSvc,
		Generator:  g,
		Connectors: connector.NewRegistryFromConfig(cfg.Pipeline, cfg.SearchAPIURL, stack),
		Fetcher:    stack.Fetcher,
	}, cfg.Pipeline)
	svc := run.NewService(orch, nil, cfg)

	r, err := svc.Create(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("run %s started\n", r.ID)
	// nothing redelivers a CLI run, so an interrupt cancels it
	r, err = orch.ExecuteToEnd(ctx, r.ID)
	if err != nil {
		if r != nil {
			fmt.Printf("run %s %s\n", r.ID, r.Status)
		}
		return err
	}

	list, err := seeds.ListByRun(ctx, r.ID, 0, 100)
	if err != nil {
		return err
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("run %s %s", r.ID, r.Status))
	t.AppendHeader(table.Row{"Score", "Page type", "Hint", "Status", "URL"})
	for _, s := range list {
		t.AppendRow(table.Row{s.OverallScore, s.PageType, s.ScrapePlanHint, s.ReviewStatus, s.URL})
	}
	t.AppendFooter(table.Row{"", "", "", "seeds", len(list)})
	t.Render()

	c := r.Counters
	fmt.Printf("queries=%d urls=%d captures=%d seeds=%d failed=%d truncated=%d\n",
		c.QueriesGenerated, c.URLsDiscovered, c.CapturesCreated, c.SeedsCreated, c.FetchFailed, c.TruncatedCount)
	for kind, n := range r.FailureBuckets {
		fmt.Printf("  %s: %d\n", kind, n)
	}
	return nil
}
