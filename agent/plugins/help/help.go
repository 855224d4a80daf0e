// Package help lists what the assistant can do.
package help

import (
	"context"
	"strings"

	contractx "github.com/tanpawarit/echobot/agent/contract"
)

const Name = "Help"

const fallback = "I can help you with weather, search, reminders, and more. Just ask!"

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (*Plugin) Name() string        { return Name }
func (*Plugin) Description() string { return "Lists available commands and features." }
func (*Plugin) Intents() []string   { return []string{"help"} }

func (*Plugin) Handle(_ context.Context, _ string, _ map[string]any, pctx contractx.PluginContext) (string, error) {
	if len(pctx.Plugins) == 0 {
		return fallback, nil
	}

	features := make([]string, 0, len(pctx.Plugins))
	for _, info := range pctx.Plugins {
		if info.Name != Name {
			features = append(features, info.Name)
		}
	}
	return "Here are the things I can do: " + strings.Join(features, ", ") + ".", nil
}
