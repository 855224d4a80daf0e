package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openaisdk "github.com/openai/openai-go"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/echobot/agent/contract"
)

var _ contractx.LanguageModel = (*Provider)(nil)

// Provider adapts an eino chat model to contract.LanguageModel. Every failure is
// returned as *contract.ProviderError.
type Provider struct {
	name    string
	model   einomodel.BaseChatModel
	timeout time.Duration
}

func NewProvider(name string, m einomodel.BaseChatModel, timeout time.Duration) (*Provider, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: chat model is nil", contractx.ErrValidation)
	}
	return &Provider{name: name, model: m, timeout: timeout}, nil
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Complete(ctx context.Context, messages []*schema.Message, tools []*schema.ToolInfo) (*schema.Message, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	m := p.model
	if len(tools) > 0 {
		tc, ok := p.model.(einomodel.ToolCallingChatModel)
		if !ok {
			log.Warn().Str("provider", p.name).Msg("chat model cannot bind tools, completing without them")
		} else {
			bound, err := tc.WithTools(tools)
			if err != nil {
				return nil, &contractx.ProviderError{Kind: contractx.ProviderErrorMalformed, Provider: p.name, Err: err}
			}
			m = bound
		}
	}

	out, err := m.Generate(ctx, messages)
	if err != nil {
		return nil, Classify(p.name, err)
	}
	if out == nil {
		return nil, &contractx.ProviderError{Kind: contractx.ProviderErrorMalformed, Provider: p.name, Err: errors.New("empty response")}
	}
	if strings.TrimSpace(out.Content) == "" && len(out.ToolCalls) == 0 {
		return nil, &contractx.ProviderError{Kind: contractx.ProviderErrorMalformed, Provider: p.name, Err: errors.New("response has neither content nor tool calls")}
	}
	return out, nil
}

// Classify maps a raw model error onto the provider error kinds.
func Classify(provider string, err error) *contractx.ProviderError {
	var pe *contractx.ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	wrap := func(kind contractx.ProviderErrorKind) *contractx.ProviderError {
		return &contractx.ProviderError{Kind: kind, Provider: provider, Err: err}
	}

	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		if kind, ok := kindForStatus(apiErr.StatusCode); ok {
			return wrap(kind)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return wrap(contractx.ProviderErrorNetwork)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return wrap(contractx.ProviderErrorNetwork)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "401", "403", "unauthorized", "forbidden", "invalid api key", "invalid_api_key", "authentication", "permission denied"):
		return wrap(contractx.ProviderErrorAuth)
	case containsAny(msg, "429", "rate limit", "rate_limit", "too many requests", "quota", "resource_exhausted"):
		return wrap(contractx.ProviderErrorRateLimit)
	case containsAny(msg, "unmarshal", "decode", "invalid character", "unexpected end of json", "malformed"):
		return wrap(contractx.ProviderErrorMalformed)
	default:
		return wrap(contractx.ProviderErrorNetwork)
	}
}

func kindForStatus(status int) (contractx.ProviderErrorKind, bool) {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return contractx.ProviderErrorAuth, true
	case status == http.StatusTooManyRequests:
		return contractx.ProviderErrorRateLimit, true
	case status >= 500:
		return contractx.ProviderErrorNetwork, true
	case status >= 400:
		return contractx.ProviderErrorMalformed, true
	}
	return "", false
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
