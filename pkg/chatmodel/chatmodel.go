package chatmodel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/gg/gptr"
	claudemodel "github.com/cloudwego/eino-ext/components/model/claude"
	geminimodel "github.com/cloudwego/eino-ext/components/model/gemini"
	ollamamodel "github.com/cloudwego/eino-ext/components/model/ollama"
	openaimodel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"google.golang.org/genai"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderGemini     = "gemini"
	ProviderOllama     = "ollama"
	ProviderClaude     = "claude"
)

const (
	defaultOpenRouterURL = "https://openrouter.ai/api/v1"
	defaultOllamaURL     = "http://127.0.0.1:11434"
)

type Builder interface {
	New(ctx context.Context) (model.BaseChatModel, error)
}

var _ Builder = (*Config)(nil)

var ReasoningBlacklist = map[string]bool{
	"x-ai/grok-4.1-fast": true,
}

type Config struct {
	Provider           string        `envconfig:"PROVIDER" split_words:"true" default:"openrouter"`
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`
}

func (c *Config) ProviderName() string {
	p := strings.ToLower(strings.TrimSpace(c.Provider))
	if p == "" {
		return ProviderOpenRouter
	}
	return p
}

// New builds the eino chat model for the configured provider.
func (c *Config) New(ctx context.Context) (model.BaseChatModel, error) {
	modelName := strings.TrimSpace(c.Model)
	if modelName == "" {
		return nil, fmt.Errorf("chatmodel: model name is required")
	}

	switch c.ProviderName() {
	case ProviderOpenRouter, ProviderOpenAI:
		return c.newOpenAI(ctx, modelName)
	case ProviderGemini:
		return c.newGemini(ctx, modelName)
	case ProviderOllama:
		return c.newOllama(ctx, modelName)
	case ProviderClaude:
		return c.newClaude(ctx, modelName)
	default:
		return nil, fmt.Errorf("chatmodel: unsupported provider %q", c.Provider)
	}
}

func (c *Config) newOpenAI(ctx context.Context, modelName string) (model.BaseChatModel, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if baseURL == "" && c.ProviderName() == ProviderOpenRouter {
		baseURL = defaultOpenRouterURL
	}

	conf := &openaimodel.ChatModelConfig{
		BaseURL:     baseURL,
		APIKey:      strings.TrimSpace(c.APIKey),
		Model:       modelName,
		MaxTokens:   c.maxTokens(),
		Temperature: gptr.Of(c.Temperature),
		Timeout:     c.Timeout,
	}

	if ReasoningBlacklist[modelName] {
		conf.ExtraFields = map[string]any{
			"reasoning": map[string]any{
				"exclude": true,
				"effort":  "none",
			},
		}
	}

	m, err := openaimodel.NewChatModel(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("chatmodel: create %s chat model: %w", c.ProviderName(), err)
	}
	return m, nil
}

func (c *Config) newGemini(ctx context.Context, modelName string) (model.BaseChatModel, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(c.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL := strings.TrimSpace(c.BaseURL); baseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("chatmodel: create genai client: %w", err)
	}

	m, err := geminimodel.NewChatModel(ctx, &geminimodel.Config{
		Client:      client,
		Model:       modelName,
		MaxTokens:   c.maxTokens(),
		Temperature: gptr.Of(c.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("chatmodel: create gemini chat model: %w", err)
	}
	return m, nil
}

func (c *Config) newOllama(ctx context.Context, modelName string) (model.BaseChatModel, error) {
	baseURL := strings.TrimSpace(c.BaseURL)
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}

	m, err := ollamamodel.NewChatModel(ctx, &ollamamodel.ChatModelConfig{
		BaseURL: baseURL,
		Model:   modelName,
		Timeout: c.Timeout,
		Options: &ollamamodel.Options{
			Temperature: c.Temperature,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chatmodel: create ollama chat model: %w", err)
	}
	return m, nil
}

func (c *Config) newClaude(ctx context.Context, modelName string) (model.BaseChatModel, error) {
	conf := &claudemodel.Config{
		APIKey:      strings.TrimSpace(c.APIKey),
		Model:       modelName,
		MaxTokens:   c.MaxCompletionToken,
		Temperature: gptr.Of(c.Temperature),
	}
	if baseURL := strings.TrimSpace(c.BaseURL); baseURL != "" {
		conf.BaseURL = gptr.Of(baseURL)
	}

	m, err := claudemodel.NewChatModel(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("chatmodel: create claude chat model: %w", err)
	}
	return m, nil
}

func (c *Config) maxTokens() *int {
	if c.MaxCompletionToken <= 0 {
		return nil
	}
	return gptr.Of(c.MaxCompletionToken)
}

// NewClient creates an OpenAI SDK client for the same endpoint. It serves the
// embeddings API, which the eino chat models do not expose.
func NewClient(cfg Config) *openaisdk.Client {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}

	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" && cfg.ProviderName() == ProviderOpenRouter {
		baseURL = defaultOpenRouterURL
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	if cfg.SiteURL != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", cfg.SiteURL))
	}
	if cfg.SiteName != "" {
		opts = append(opts, option.WithHeader("X-Title", cfg.SiteName))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	client := openaisdk.NewClient(opts...)
	return &client
}
