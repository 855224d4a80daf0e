package orchestratornode

import (
	"context"
	"errors"
	"fmt"

	statex "github.com/tanpawarit/echobot/agent/state"
)

func LoadSession(ctx context.Context, in *GraphState, store statex.Store) (*GraphState, error) {
	if err := checkState(in); err != nil {
		return nil, err
	}

	conv, err := store.Load(ctx, in.SessionID)
	switch {
	case err == nil:
	case errors.Is(err, statex.ErrStateNotFound):
		conv = statex.NewConversation(in.SessionID, in.Now)
	default:
		return nil, fmt.Errorf("load session %s: %w", in.SessionID, err)
	}

	in.Conversation = conv
	return in, nil
}
