package orchestratornode

import (
	"context"
	"fmt"

	statex "github.com/tanpawarit/echobot/agent/state"
)

func SaveSession(ctx context.Context, in *GraphState, store statex.Store, maxTurns int) (*GraphState, error) {
	if err := checkState(in); err != nil {
		return nil, err
	}
	if in.Conversation == nil {
		in.Conversation = statex.NewConversation(in.SessionID, in.Now)
	}

	in.Conversation.Append(statex.Turn{
		User:      in.Text,
		Assistant: in.Reply,
		Route:     in.Route,
		At:        in.Now,
	}, maxTurns)
	if err := in.Conversation.Validate(); err != nil {
		return nil, fmt.Errorf("session validation failed: %w", err)
	}
	if err := store.Save(ctx, in.Conversation); err != nil {
		return nil, fmt.Errorf("save session %s: %w", in.SessionID, err)
	}
	return in, nil
}
