package eino

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	gemini "github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"

	"discovery/internal/core/failure"
	"discovery/internal/logger"
)

// Config represents the configuration for Eino LLM integration
type Config struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
}

// State is the availability of the completion capability
type State int

const (
	// Unavailable means no model is configured
	Unavailable State = iota
	// Failed means a model is configured but its last call failed
	Failed
	// Available means a model is configured and usable
	Available
)

func (s State) String() string {
	switch s {
	case Available:
		return "available"
	case Failed:
		return "failed"
	default:
		return "unavailable"
	}
}

// Service wraps an Eino chat model behind a plain text completion call
type Service struct {
	config     Config
	chatModel  model.BaseChatModel
	lastFailed atomic.Bool
	log        *logger.Logger
}

// NewService creates a service for the configured provider. A missing API
// key is not an error: the service reports Unavailable. An unknown
// provider is, with or without a key.
func NewService(config Config) (*Service, error) {
	if !supported(config.Provider) {
		return nil, fmt.Errorf("unsupported provider: %s. Supported: %s", config.Provider, strings.Join(GetAvailableProviders(), ", "))
	}
	s := &Service{config: config, log: logger.New("Eino")}
	if config.APIKey == "" {
		return s, nil
	}
	if err := s.initializeChatModel(); err != nil {
		return nil, fmt.Errorf("failed to initialize chat model: %w", err)
	}
	return s, nil
}

// NewServiceWithModel creates a service around a pre-configured chat model
func NewServiceWithModel(config Config, chatModel model.BaseChatModel) *Service {
	return &Service{config: config, chatModel: chatModel, log: logger.New("Eino")}
}

func (s *Service) initializeChatModel() error {
	switch strings.ToLower(s.config.Provider) {
	case "gemini", "":
		return s.initializeGeminiModel()
	default:
		return fmt.Errorf("unsupported provider: %s. Supported: %s", s.config.Provider, strings.Join(GetAvailableProviders(), ", "))
	}
}

// supported treats an empty provider as the default
func supported(provider string) bool {
	p := strings.ToLower(strings.TrimSpace(provider))
	if p == "" {
		return true
	}
	for _, v := range GetAvailableProviders() {
		if v == p {
			return true
		}
	}
	return false
}

func (s *Service) initializeGeminiModel() error {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: s.config.APIKey,
	})
	if err != nil {
		return fmt.Errorf("failed to create Gemini client: %w", err)
	}
	geminiModel, err := gemini.NewChatModel(context.Background(), &gemini.Config{
		Client: client,
		Model:  s.config.Model,
	})
	if err != nil {
		return fmt.Errorf("failed to create Gemini chat model: %w", err)
	}
	s.chatModel = geminiModel
	return nil
}

// Availability reports the tri-state capability result
func (s *Service) Availability(ctx context.Context) State {
	if s == nil || s.chatModel == nil {
		return Unavailable
	}
	if s.lastFailed.Load() {
		return Failed
	}
	return Available
}

// Complete sends system and prompt to the model and returns the raw text.
// Parsing is the caller's job.
func (s *Service) Complete(ctx context.Context, prompt, system string, maxTokens int) (string, error) {
	if s == nil || s.chatModel == nil {
		return "", fmt.Errorf("llm: %w", failure.ErrUnavailable)
	}
	messages := make([]*schema.Message, 0, 2)
	if system != "" {
		messages = append(messages, schema.SystemMessage(system))
	}
	messages = append(messages, schema.UserMessage(prompt))

	var opts []model.Option
	if maxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(maxTokens))
	}
	resp, err := s.chatModel.Generate(ctx, messages, opts...)
	if err != nil {
		s.lastFailed.Store(true)
		s.log.LogWarnf("LLM generation failed: %v", err)
		return "", fmt.Errorf("llm generation failed: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		s.lastFailed.Store(true)
		return "", errors.New("llm returned an empty response")
	}
	s.lastFailed.Store(false)
	return resp.Content, nil
}

// StripFences removes markdown code fences models like to wrap JSON in
func StripFences(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

// GetAvailableProviders returns list of supported LLM providers
func GetAvailableProviders() []string {
	return []string{"gemini"}
}
