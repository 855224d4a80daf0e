package orchestratornode

import (
	"context"

	"github.com/rs/zerolog/log"
	intentx "github.com/tanpawarit/echobot/agent/intent"
)

func ClassifyIntent(ctx context.Context, in *GraphState, router *intentx.Router) (*GraphState, error) {
	if err := checkState(in); err != nil {
		return nil, err
	}

	in.Decision = router.Route(ctx, in.Text)
	log.Debug().
		Str("session_id", in.SessionID).
		Str("label", in.Decision.Label).
		Float64("confidence", in.Decision.Confidence).
		Str("intent", in.Decision.Intent).
		Msg("intent routed")
	return in, nil
}
