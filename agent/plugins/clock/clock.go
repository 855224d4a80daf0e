// Package clock answers time and date questions.
package clock

import (
	"context"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/echobot/agent/contract"
)

const Name = "Time"

type Plugin struct {
	now func() time.Time
}

type Option func(*Plugin)

// WithNow replaces the wall clock.
func WithNow(now func() time.Time) Option {
	return func(p *Plugin) {
		if now != nil {
			p.now = now
		}
	}
}

func New(opts ...Option) *Plugin {
	p := &Plugin{now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (*Plugin) Name() string        { return Name }
func (*Plugin) Description() string { return "Tells the current date and time." }
func (*Plugin) Intents() []string   { return []string{"time", "date"} }

func (p *Plugin) Handle(_ context.Context, intent string, _ map[string]any, _ contractx.PluginContext) (string, error) {
	now := p.now()
	switch intent {
	case "time":
		return fmt.Sprintf("It is currently %s.", now.Format("03:04 PM")), nil
	case "date":
		return fmt.Sprintf("Today is %s.", now.Format("Monday, January 02, 2006")), nil
	default:
		return "", nil
	}
}
