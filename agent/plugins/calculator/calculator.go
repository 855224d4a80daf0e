package calculator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/echobot/agent/contract"
)

const Name = "Calculator"

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (*Plugin) Name() string        { return Name }
func (*Plugin) Description() string { return "Performs basic arithmetic calculations." }
func (*Plugin) Intents() []string   { return []string{"calculate"} }

func (*Plugin) Handle(_ context.Context, _ string, entities map[string]any, _ contractx.PluginContext) (string, error) {
	expression := contractx.StringArg(entities, "expression")
	if expression == "" {
		return "What would you like me to calculate?", nil
	}

	v, err := Evaluate(expression)
	if err != nil {
		log.Debug().Err(err).Str("expression", expression).Msg("calculation failed")
		return "Sorry, I couldn't calculate that.", nil
	}
	return fmt.Sprintf("The answer is %s.", Format(v)), nil
}
