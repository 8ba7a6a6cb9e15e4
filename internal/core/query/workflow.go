package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/compose"

	"discovery/internal/core/model"
	"discovery/internal/logger"
	"discovery/prompts"
)

// expansion is the input of the LLM expansion workflow
type expansion struct {
	Brief   model.TargetBrief
	Options Options
}

// completion carries the raw model output to the decode node
type completion struct {
	expansion
	Raw string
}

// buildWorkflow compiles the two step expansion: render and complete the
// prompt, then decode the model output into queries
func (g *Generator) buildWorkflow() (compose.Runnable[*expansion, []model.DiscoveryQuery], error) {
	wf := compose.NewWorkflow[*expansion, []model.DiscoveryQuery]()

	wf.AddLambdaNode(
		"complete",
		compose.InvokableLambda(g.completeNode),
	).AddInput(compose.START)

	wf.AddLambdaNode(
		"decode",
		compose.InvokableLambda(decodeNode),
	).AddInput("complete")

	wf.End().AddInput("decode")

	compiled, err := wf.Compile(context.Background())
	if err != nil {
		return nil, fmt.Errorf("workflow compilation failed: %w", err)
	}
	return compiled, nil
}

func (g *Generator) completeNode(ctx context.Context, in *expansion) (*completion, error) {
	brief, opts := in.Brief, in.Options
	system, user, err := prompts.Render(ctx, g.prompts.QueryExpansion, map[string]any{
		"theme":                 orNone(brief.Theme),
		"geography":             orNone(strings.Join(brief.Geography, ", ")),
		"entity_types":          orNone(strings.Join(brief.EntityTypes, ", ")),
		"languages":             orNone(strings.Join(brief.Languages, ", ")),
		"keywords":              orNone(strings.Join(brief.Keywords, ", ")),
		"exclude_keywords":      orNone(strings.Join(brief.ExcludeKeywords, ", ")),
		"include_site_searches": opts.IncludeSiteSearches,
		"include_feed_queries":  opts.IncludeFeedQueries,
		"max_queries":           opts.MaxQueries,
	})
	if err != nil {
		return nil, err
	}
	raw, err := g.llm.Complete(ctx, user, system, llmMaxTokens)
	if err != nil {
		return nil, err
	}
	return &completion{expansion: *in, Raw: raw}, nil
}

func decodeNode(_ context.Context, in *completion) ([]model.DiscoveryQuery, error) {
	return parseLLMQueries(in.Raw, in.Brief, in.Options)
}

// tracer logs node timings of the expansion workflow
type tracer struct {
	log *logger.Logger
}

type traceKey string

func nodeName(info *callbacks.RunInfo) string {
	if info == nil {
		return "unknown"
	}
	if info.Name != "" {
		return info.Name
	}
	return string(info.Component)
}

func (t tracer) handler() callbacks.Handler {
	return callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackInput) context.Context {
			return context.WithValue(ctx, traceKey(nodeName(info)), time.Now())
		}).
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackOutput) context.Context {
			if start, ok := ctx.Value(traceKey(nodeName(info))).(time.Time); ok {
				t.log.LogDebugf("[trace] node.end name=%s took=%v", nodeName(info), time.Since(start))
			}
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			t.log.LogDebugf("[trace] node.error name=%s err=%v", nodeName(info), err)
			return ctx
		}).
		Build()
}
