package orchestratornode

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/echobot/agent/contract"
)

// DirectPlugin answers with the routed plugin. Handler failures and panics become errorReply.
func DirectPlugin(ctx context.Context, in *GraphState, pctx contractx.PluginContext, errorReply string) (*GraphState, error) {
	if err := checkState(in); err != nil {
		return nil, err
	}
	p := in.Decision.Plugin
	if p == nil {
		return nil, fmt.Errorf("%w: direct route without a plugin", contractx.ErrValidation)
	}

	in.Route = RouteDirect
	in.Plugin = p.Name()

	reply, err := handleSafely(ctx, p, in.Decision.Intent, in.Decision.Entities, pctx)
	if err != nil {
		log.Error().Err(err).Str("plugin", p.Name()).Str("intent", in.Decision.Intent).Msg("plugin handler failed")
		in.Reply = errorReply
		return in, nil
	}
	in.Reply = strings.TrimSpace(reply)
	return in, nil
}

func handleSafely(ctx context.Context, p contractx.Plugin, intent string, entities map[string]any, pctx contractx.PluginContext) (reply string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	if entities == nil {
		entities = map[string]any{}
	}
	return p.Handle(ctx, intent, entities, pctx)
}
