package orchestratornode

import (
	"context"
	"errors"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/echobot/agent/contract"
	"github.com/tanpawarit/echobot/agent/metrics"
)

type ReplyTexts struct {
	Apology      string
	ToolFallback string
	PluginError  string
}

// ModelRound1 offers every tool schema. The reply is either final text, a set of tool
// calls, or the apology when the provider fails.
func ModelRound1(
	ctx context.Context,
	in *GraphState,
	lm contractx.LanguageModel,
	tools []*schema.ToolInfo,
	texts ReplyTexts,
	m *metrics.Collector,
) (*GraphState, error) {
	if err := checkState(in); err != nil {
		return nil, err
	}

	m.ModelRound("1")
	out, err := complete(ctx, lm, in.Messages, tools)
	if err != nil {
		return failTurn(ctx, in, err, texts, m)
	}

	if len(out.ToolCalls) > 0 {
		in.Route = RouteTools
		in.ToolCalls = append([]schema.ToolCall(nil), out.ToolCalls...)
		in.Messages = append(in.Messages, schema.AssistantMessage(out.Content, in.ToolCalls))
		return in, nil
	}

	in.Route = RouteChat
	in.Reply = strings.TrimSpace(out.Content)
	return in, nil
}

// ModelRound2 is the single follow-up round after tool results; no tools are offered.
func ModelRound2(
	ctx context.Context,
	in *GraphState,
	lm contractx.LanguageModel,
	texts ReplyTexts,
	m *metrics.Collector,
) (*GraphState, error) {
	if err := checkState(in); err != nil {
		return nil, err
	}

	m.ModelRound("2")
	out, err := complete(ctx, lm, in.Messages, nil)
	if err != nil {
		return failTurn(ctx, in, err, texts, m)
	}

	reply := strings.TrimSpace(out.Content)
	if reply == "" {
		if len(out.ToolCalls) > 0 {
			log.Warn().Str("session_id", in.SessionID).Int("tool_calls", len(out.ToolCalls)).
				Msg("model requested tools again after tool round, ignoring")
		}
		reply = texts.ToolFallback
	}
	in.Reply = reply
	return in, nil
}

func complete(ctx context.Context, lm contractx.LanguageModel, messages []*schema.Message, tools []*schema.ToolInfo) (*schema.Message, error) {
	out, err := lm.Complete(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, &contractx.ProviderError{Kind: contractx.ProviderErrorMalformed, Err: errors.New("model returned no message")}
	}
	return out, nil
}

func failTurn(ctx context.Context, in *GraphState, err error, texts ReplyTexts, m *metrics.Collector) (*GraphState, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	kind := string(contractx.ProviderErrorMalformed)
	var perr *contractx.ProviderError
	if errors.As(err, &perr) {
		kind = string(perr.Kind)
	}
	m.ProviderError(kind)
	log.Error().Err(err).Str("session_id", in.SessionID).Str("kind", kind).Msg("language model call failed")

	in.Route = RouteFailed
	in.Reply = texts.Apology
	return in, nil
}
