package orchestrator

import (
	"context"
	"time"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/echobot/agent/contract"
)

// timeoutModel bounds every completion by the orchestrator's model timeout.
type timeoutModel struct {
	next    contractx.LanguageModel
	timeout time.Duration
}

func (m timeoutModel) Complete(ctx context.Context, messages []*schema.Message, tools []*schema.ToolInfo) (*schema.Message, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	return m.next.Complete(ctx, messages, tools)
}
