package prompts

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// SystemPrompts holds the prompt templates used by the pipeline
type SystemPrompts struct {
	QueryExpansion prompt.ChatTemplate
}

// NewSystemPrompts creates and initializes all prompt templates
func NewSystemPrompts() *SystemPrompts {
	return &SystemPrompts{
		QueryExpansion: createQueryExpansionTemplate(),
	}
}

// Render formats tmpl with vars and returns the system and user texts
func Render(ctx context.Context, tmpl prompt.ChatTemplate, vars map[string]any) (system, user string, err error) {
	messages, err := tmpl.Format(ctx, vars)
	if err != nil {
		return "", "", fmt.Errorf("failed to format chat template: %w", err)
	}
	for _, m := range messages {
		switch m.Role {
		case schema.System:
			system = m.Content
		case schema.User:
			user = m.Content
		}
	}
	if user == "" {
		return "", "", fmt.Errorf("template produced no user message")
	}
	return system, user, nil
}
