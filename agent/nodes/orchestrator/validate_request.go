package orchestratornode

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/echobot/agent/contract"
	intentx "github.com/tanpawarit/echobot/agent/intent"
	statex "github.com/tanpawarit/echobot/agent/state"
)

var (
	ErrInvalidMessage = errors.New("message is empty")
	ErrInvalidSession = errors.New("session id is empty")
)

// Routes a turn can finish on.
const (
	RouteDirect = "plugin"
	RouteChat   = "chat"
	RouteTools  = "tools"
	RouteFailed = "provider_error"
)

type GraphInput struct {
	SessionID string
	Text      string
}

type GraphOutput struct {
	Reply      string
	Route      string
	Intent     string
	Confidence float64
	Plugin     string
	ToolCalls  int
}

type GraphState struct {
	SessionID string
	Text      string
	Now       time.Time

	Conversation *statex.Conversation
	Decision     intentx.Decision

	Messages  []*schema.Message
	ToolCalls []schema.ToolCall

	Reply  string
	Route  string
	Plugin string
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: %w", contractx.ErrValidation, ErrInvalidSession)
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: %w", contractx.ErrValidation, ErrInvalidMessage)
	}

	return &GraphState{
		SessionID: sessionID,
		Text:      text,
		Now:       nowFn().UTC(),
	}, nil
}

func checkState(in *GraphState) error {
	if in == nil {
		return fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	return nil
}
