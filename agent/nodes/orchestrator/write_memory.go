package orchestratornode

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/echobot/agent/contract"
	"github.com/tanpawarit/echobot/agent/metrics"
)

// WriteMemory stores the exchange. Direct plugin answers are only kept when persistDirect is set.
func WriteMemory(
	ctx context.Context,
	in *GraphState,
	memory contractx.MemoryProvider,
	persistDirect bool,
	timeout time.Duration,
	m *metrics.Collector,
) (*GraphState, error) {
	if err := checkState(in); err != nil {
		return nil, err
	}
	if memory == nil || in.Reply == "" || in.Route == RouteFailed {
		return in, nil
	}

	metadata := map[string]string{"type": "chat"}
	if in.Route == RouteDirect {
		if !persistDirect {
			return in, nil
		}
		metadata = map[string]string{"type": "plugin", "plugin": in.Plugin}
	}

	wctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	if err := memory.Add(wctx, ExchangeText(in.Text, in.Reply), metadata); err != nil {
		m.MemoryError("add")
		log.Warn().Err(err).Str("session_id", in.SessionID).Msg("memory write failed")
	}
	return in, nil
}

func ExchangeText(user, assistant string) string {
	return fmt.Sprintf("User: %s\nAssistant: %s", user, assistant)
}
