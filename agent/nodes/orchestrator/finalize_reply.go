package orchestratornode

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/echobot/agent/contract"
)

func FinalizeReply(in *GraphState, fallback string) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	reply := strings.TrimSpace(in.Reply)
	if reply == "" {
		reply = fallback
	}
	return GraphOutput{
		Reply:      reply,
		Route:      in.Route,
		Intent:     in.Decision.Intent,
		Confidence: in.Decision.Confidence,
		Plugin:     in.Plugin,
		ToolCalls:  len(in.ToolCalls),
	}, nil
}
