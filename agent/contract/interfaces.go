package contract

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

type Plugin interface {
	Name() string
	Description() string
	// Intents may be empty for plugins that are only reachable as tools.
	Intents() []string
	Handle(ctx context.Context, intent string, entities map[string]any, pctx PluginContext) (string, error)
}

type IntentClassifier interface {
	Predict(ctx context.Context, text string) (intent string, confidence float64, err error)
}

type MemoryProvider interface {
	Add(ctx context.Context, text string, metadata map[string]string) error
	Query(ctx context.Context, text string, k int) ([]string, error)
}

// LanguageModel returns either a text completion or an assistant message
// carrying tool calls. Failures are *ProviderError.
type LanguageModel interface {
	Complete(ctx context.Context, messages []*schema.Message, tools []*schema.ToolInfo) (*schema.Message, error)
}

// Registry is the part of the plugin registry the orchestrator depends on.
type Registry interface {
	ResolveIntent(intent string) (Plugin, bool)
	ListPlugins() []PluginInfo
	ToolSchemas() []*schema.ToolInfo
	ExecuteTool(ctx context.Context, toolName string, args map[string]any) ToolResult
}

// StatusPublisher receives per-session status transitions.
type StatusPublisher interface {
	PublishStatus(sessionID string, status string)
}
