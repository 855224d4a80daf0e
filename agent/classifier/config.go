package classifier

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	contractx "github.com/tanpawarit/echobot/agent/contract"
)

const (
	KindLocal = "local"
	KindLLM   = "llm"
)

type Config struct {
	Kind string `envconfig:"KIND" default:"local"`
}

// New builds the configured classifier. chatModel and intents are only used by the llm kind.
func New(ctx context.Context, cfg Config, chatModel einomodel.BaseChatModel, systemPrompt string, intents IntentSource) (contractx.IntentClassifier, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", KindLocal:
		return NewLocal(), nil
	case KindLLM:
		return NewLLM(ctx, chatModel, systemPrompt, intents)
	default:
		return nil, fmt.Errorf("%w: unknown classifier kind %q", contractx.ErrValidation, cfg.Kind)
	}
}
