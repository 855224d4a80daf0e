package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/echobot/agent/contract"
)

const DefaultThreshold = 0.35

type Resolver interface {
	ResolveIntent(intent string) (contractx.Plugin, bool)
}

// Decision is the outcome of routing one utterance. Plugin is nil on the chat path.
type Decision struct {
	Intent     string
	Label      string
	Confidence float64
	Plugin     contractx.Plugin
	Entities   map[string]any
}

func (d Decision) IsChat() bool {
	return d.Plugin == nil
}

type Router struct {
	classifier contractx.IntentClassifier
	resolver   Resolver
	threshold  float64
	timeout    time.Duration
}

func NewRouter(classifier contractx.IntentClassifier, resolver Resolver, threshold float64, timeout time.Duration) *Router {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Router{
		classifier: classifier,
		resolver:   resolver,
		threshold:  threshold,
		timeout:    timeout,
	}
}

func (r *Router) Threshold() float64 {
	return r.threshold
}

// Route never fails: classifier errors and unknown intents degrade to chat.
func (r *Router) Route(ctx context.Context, text string) Decision {
	label, confidence := r.predict(ctx, text)
	d := Decision{Intent: contractx.IntentChat, Label: label, Confidence: confidence}

	if confidence < r.threshold {
		return d
	}
	if label == contractx.IntentChat || label == "" {
		return d
	}
	if r.resolver == nil {
		return d
	}

	p, ok := r.resolver.ResolveIntent(label)
	if !ok {
		log.Debug().Str("intent", label).Err(contractx.ErrPluginNotFound).Msg("falling back to chat")
		return d
	}

	d.Intent = label
	d.Plugin = p
	d.Entities = ExtractEntities(text, label)
	return d
}

func (r *Router) predict(ctx context.Context, text string) (string, float64) {
	if r.classifier == nil {
		return contractx.IntentChat, 0
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	label, confidence, err := r.classifier.Predict(ctx, text)
	if err != nil {
		if !errors.Is(err, contractx.ErrClassification) {
			err = fmt.Errorf("%w: %v", contractx.ErrClassification, err)
		}
		log.Warn().Err(err).Msg("intent classifier failed, using chat")
		return contractx.IntentChat, 0
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return strings.TrimSpace(label), confidence
}
