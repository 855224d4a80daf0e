package orchestratornode

import (
	"context"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/echobot/agent/contract"
	"github.com/tanpawarit/echobot/agent/metrics"
	promptx "github.com/tanpawarit/echobot/agent/prompt"
)

type ContextOptions struct {
	Persona      string
	MemoryK      int
	HistoryTurns int
	Timeout      time.Duration
}

// BuildContext assembles system prompt, recalled memories, recent history and the utterance.
// A failed memory lookup only drops the memory block.
func BuildContext(
	ctx context.Context,
	in *GraphState,
	memory contractx.MemoryProvider,
	opts ContextOptions,
	m *metrics.Collector,
) (*GraphState, error) {
	if err := checkState(in); err != nil {
		return nil, err
	}

	var memories []string
	if memory != nil && opts.MemoryK > 0 {
		qctx, cancel := withTimeout(ctx, opts.Timeout)
		found, err := memory.Query(qctx, in.Text, opts.MemoryK)
		cancel()
		if err != nil {
			m.MemoryError("query")
			log.Warn().Err(err).Str("session_id", in.SessionID).Msg("memory query failed, continuing without context")
		} else {
			memories = found
		}
	}

	messages := []*schema.Message{schema.SystemMessage(promptx.SystemMessage(opts.Persona, memories))}
	for _, t := range in.Conversation.Recent(opts.HistoryTurns) {
		messages = append(messages, schema.UserMessage(t.User))
		if t.Assistant != "" {
			messages = append(messages, schema.AssistantMessage(t.Assistant, nil))
		}
	}
	messages = append(messages, schema.UserMessage(in.Text))

	in.Messages = messages
	return in, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
