// Package plugins assembles the built-in plugin set into a registry.
package plugins

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/echobot/agent/contract"
	pluginx "github.com/tanpawarit/echobot/agent/plugin"
	"github.com/tanpawarit/echobot/agent/plugins/calculator"
	"github.com/tanpawarit/echobot/agent/plugins/clock"
	"github.com/tanpawarit/echobot/agent/plugins/help"
	"github.com/tanpawarit/echobot/agent/plugins/reminders"
	"github.com/tanpawarit/echobot/agent/plugins/weather"
	"github.com/tanpawarit/echobot/agent/plugins/websearch"
	"github.com/tanpawarit/echobot/agent/plugins/wikipedia"
	qstashx "github.com/tanpawarit/echobot/pkg/qstash"
)

type Config struct {
	Disabled        []string `split_words:"true"`
	CollisionPolicy string   `split_words:"true" default:"last_wins"`
}

type Settings struct {
	Plugins   Config
	Weather   weather.Config
	WebSearch websearch.Config
	Wikipedia wikipedia.Config
	Reminders reminders.Config
}

type Deps struct {
	Publisher reminders.Publisher
	// QStash enables durable reminder delivery when set together with Reminders.CallbackURL.
	QStash *qstashx.Client
}

// Built is the assembled registry plus handles main needs afterwards.
type Built struct {
	Registry  *pluginx.Registry
	Reminders *reminders.Plugin
}

// Build registers every enabled built-in plugin in a fixed order.
func Build(ctx context.Context, s Settings, deps Deps) (*Built, error) {
	policy, err := pluginx.ParseCollisionPolicy(s.Plugins.CollisionPolicy)
	if err != nil {
		return nil, err
	}
	registry := pluginx.NewRegistry(pluginx.WithCollisionPolicy(policy))
	out := &Built{Registry: registry}

	disabled := make(map[string]bool, len(s.Plugins.Disabled))
	for _, name := range s.Plugins.Disabled {
		disabled[strings.ToLower(strings.TrimSpace(name))] = true
	}

	register := func(p contractx.Plugin) error {
		if disabled[strings.ToLower(p.Name())] {
			log.Info().Str("plugin", p.Name()).Msg("plugin disabled by config")
			return nil
		}
		return registry.Register(p)
	}

	for _, p := range []contractx.Plugin{
		clock.New(),
		calculator.New(),
		weather.New(s.Weather),
		websearch.New(s.WebSearch),
		wikipedia.New(s.Wikipedia),
	} {
		if err := register(p); err != nil {
			return nil, err
		}
	}

	if !disabled[strings.ToLower(reminders.Name)] {
		opts := []reminders.Option{reminders.WithPublisher(deps.Publisher)}
		if deps.QStash != nil && strings.TrimSpace(s.Reminders.CallbackURL) != "" {
			opts = append(opts, reminders.WithDeliverer(reminders.NewQStashDeliverer(deps.QStash, s.Reminders.CallbackURL)))
		}
		rp, err := reminders.New(ctx, s.Reminders, opts...)
		if err != nil {
			return nil, fmt.Errorf("init reminders plugin: %w", err)
		}
		if err := registry.Register(rp); err != nil {
			_ = rp.Close()
			return nil, err
		}
		out.Reminders = rp
	}

	if err := register(help.New()); err != nil {
		_ = registry.Close()
		return nil, err
	}
	return out, nil
}
