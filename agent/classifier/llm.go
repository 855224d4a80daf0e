package classifier

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/echobot/agent/contract"
)

type llmOutput struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// IntentSource lists the intents the model may choose from, chat excluded.
type IntentSource func() []string

// LLM classifies with a chat model constrained to a JSON reply.
type LLM struct {
	runner  compose.Runnable[map[string]any, llmOutput]
	intents IntentSource
}

var _ contractx.IntentClassifier = (*LLM)(nil)

func NewLLM(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string, intents IntentSource) (*LLM, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: chat model is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: classifier prompt is empty", contractx.ErrPromptMissing)
	}
	if intents == nil {
		return nil, fmt.Errorf("%w: intent source is required", contractx.ErrValidation)
	}

	runner, err := compileClassifierGraph(ctx, chatModel, systemPrompt)
	if err != nil {
		return nil, err
	}
	return &LLM{runner: runner, intents: intents}, nil
}

func (c *LLM) Predict(ctx context.Context, text string) (string, float64, error) {
	allowed := c.allowed()

	out, err := c.runner.Invoke(ctx, map[string]any{
		"intents": strings.Join(allowed, ", "),
		"input":   text,
	})
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", contractx.ErrClassification, err)
	}

	intent := strings.ToLower(strings.TrimSpace(out.Intent))
	if !contains(allowed, intent) {
		return "", 0, fmt.Errorf("%w: %w: unknown intent %q", contractx.ErrClassification, contractx.ErrSchemaViolation, out.Intent)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return "", 0, fmt.Errorf("%w: %w: confidence %v out of range", contractx.ErrClassification, contractx.ErrSchemaViolation, out.Confidence)
	}
	return intent, out.Confidence, nil
}

func (c *LLM) allowed() []string {
	list := c.intents()
	out := make([]string, 0, len(list)+1)
	for _, intent := range list {
		if intent != contractx.IntentChat {
			out = append(out, intent)
		}
	}
	return append(out, contractx.IntentChat)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func compileClassifierGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
) (compose.Runnable[map[string]any, llmOutput], error) {
	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("{input}"),
	)

	parser := schema.NewMessageJSONParser[llmOutput](&schema.MessageJSONParseConfig{
		ParseFrom: schema.MessageParseFromContent,
	})

	graph := compose.NewGraph[map[string]any, llmOutput]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add classifier prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add classifier model node: %w", err)
	}
	if err := graph.AddLambdaNode("parse_json", compose.MessageParser(parser)); err != nil {
		return nil, fmt.Errorf("add classifier parser node: %w", err)
	}

	if err := graph.AddEdge(compose.START, "prompt"); err != nil {
		return nil, fmt.Errorf("add classifier edge start->prompt: %w", err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return nil, fmt.Errorf("add classifier edge prompt->model: %w", err)
	}
	if err := graph.AddEdge("model", "parse_json"); err != nil {
		return nil, fmt.Errorf("add classifier edge model->parse: %w", err)
	}
	if err := graph.AddEdge("parse_json", compose.END); err != nil {
		return nil, fmt.Errorf("add classifier edge parse->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("classifier.intent_graph"))
	if err != nil {
		return nil, fmt.Errorf("compile classifier graph: %w", err)
	}
	return runner, nil
}
