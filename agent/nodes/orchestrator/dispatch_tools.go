package orchestratornode

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/echobot/agent/contract"
	"github.com/tanpawarit/echobot/agent/metrics"
	pluginx "github.com/tanpawarit/echobot/agent/plugin"
)

// DispatchTools runs the requested tools in order and appends one tool message per call.
// Each call runs detached from the caller's cancellation with its own timeout; if the caller
// went away meanwhile the results are dropped and the turn stops.
func DispatchTools(
	ctx context.Context,
	in *GraphState,
	registry contractx.Registry,
	timeout time.Duration,
	m *metrics.Collector,
) (*GraphState, error) {
	if err := checkState(in); err != nil {
		return nil, err
	}

	detached := pluginx.WithSessionID(context.WithoutCancel(ctx), in.SessionID)

	for _, call := range in.ToolCalls {
		name := call.Function.Name
		tctx, cancel := withTimeout(detached, timeout)
		res := registry.ExecuteTool(tctx, name, decodeArguments(name, call.Function.Arguments))
		cancel()
		res.CallID = call.ID
		m.ToolExecuted(name, !res.Failed())
		if res.Failed() {
			log.Warn().Err(res.Err).Str("tool", name).Str("call_id", call.ID).Msg("tool call failed")
		}

		in.Messages = append(in.Messages, schema.ToolMessage(res.Text(), call.ID, schema.WithToolName(name)))

		if err := ctx.Err(); err != nil {
			log.Info().Str("session_id", in.SessionID).Msg("caller cancelled during tool dispatch, discarding results")
			return nil, err
		}
	}
	return in, nil
}

func decodeArguments(tool, raw string) map[string]any {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		log.Warn().Err(err).Str("tool", tool).Msg("malformed tool arguments, using empty object")
		return map[string]any{}
	}
	return args
}
