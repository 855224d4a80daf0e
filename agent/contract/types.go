package contract

import (
	"fmt"
	"strings"
)

// IntentChat is the sentinel intent that always goes to the language model.
const IntentChat = "chat"

// Session statuses published on the status channel.
const (
	StatusListening  = "listening"
	StatusProcessing = "processing"
	StatusSpeaking   = "speaking"
	StatusIdle       = "idle"
)

type PluginInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Intents     []string `json:"intents"`
}

// PluginContext is handed to every Handle call so plugins can compose
// cross-cutting behaviour (memory lookups, model calls, listing peers).
type PluginContext struct {
	SessionID string
	Memory    MemoryProvider
	LLM       LanguageModel
	Plugins   []PluginInfo
}

// ToolResult is the outcome of one tool invocation. Failures are carried in Err
// and rendered as text by Text so they can be fed back to the model.
type ToolResult struct {
	CallID string `json:"call_id,omitempty"`
	Tool   string `json:"tool"`
	Output string `json:"output,omitempty"`
	Err    error  `json:"-"`
}

func (r ToolResult) Failed() bool {
	return r.Err != nil
}

func (r ToolResult) Text() string {
	if r.Err == nil {
		return r.Output
	}
	if IsToolNotFound(r.Err) {
		return fmt.Sprintf("Error: Tool %s not found.", r.Tool)
	}
	return fmt.Sprintf("Error executing tool %s: %s", r.Tool, strings.TrimSpace(rootMessage(r.Err)))
}

// StringArg reads a trimmed string entity or tool argument. Non-string values are
// formatted so numbers sent by a model still work.
func StringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
