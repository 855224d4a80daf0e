package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/echobot/agent/contract"
	"github.com/tanpawarit/echobot/agent/events"
	pluginx "github.com/tanpawarit/echobot/agent/plugin"
	statex "github.com/tanpawarit/echobot/agent/state"
	toolx "github.com/tanpawarit/echobot/agent/tool"
)

type prediction struct {
	intent     string
	confidence float64
	err        error
}

type fakeClassifier struct {
	byText map[string]prediction
	hook   func(text string)
}

func (f *fakeClassifier) Predict(ctx context.Context, text string) (string, float64, error) {
	if f.hook != nil {
		f.hook(text)
	}
	p, ok := f.byText[text]
	if !ok {
		return contractx.IntentChat, 0.9, nil
	}
	return p.intent, p.confidence, p.err
}

type llmCall struct {
	messages []*schema.Message
	tools    []*schema.ToolInfo
}

type llmReply struct {
	msg *schema.Message
	err error
}

type fakeLLM struct {
	mu      sync.Mutex
	replies []llmReply
	calls   []llmCall
}

func (f *fakeLLM) Complete(ctx context.Context, messages []*schema.Message, tools []*schema.ToolInfo) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, llmCall{messages: append([]*schema.Message(nil), messages...), tools: tools})
	if len(f.replies) == 0 {
		return schema.AssistantMessage("ok", nil), nil
	}
	next := f.replies[0]
	f.replies = f.replies[1:]
	return next.msg, next.err
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type memoryAdd struct {
	text     string
	metadata map[string]string
}

type fakeMemory struct {
	mu       sync.Mutex
	recalled []string
	queryErr error
	adds     []memoryAdd
}

func (f *fakeMemory) Add(ctx context.Context, text string, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds = append(f.adds, memoryAdd{text: text, metadata: metadata})
	return nil
}

func (f *fakeMemory) Query(ctx context.Context, text string, k int) ([]string, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.recalled, nil
}

type stubPlugin struct {
	name    string
	intents []string
	handle  func(ctx context.Context, intent string, entities map[string]any, pctx contractx.PluginContext) (string, error)
}

func (s *stubPlugin) Name() string        { return s.name }
func (s *stubPlugin) Description() string { return s.name + " plugin" }
func (s *stubPlugin) Intents() []string   { return s.intents }
func (s *stubPlugin) Handle(ctx context.Context, intent string, entities map[string]any, pctx contractx.PluginContext) (string, error) {
	return s.handle(ctx, intent, entities, pctx)
}

func replyWith(text string) func(context.Context, string, map[string]any, contractx.PluginContext) (string, error) {
	return func(context.Context, string, map[string]any, contractx.PluginContext) (string, error) {
		return text, nil
	}
}

type harness struct {
	orch       *Orchestrator
	llm        *fakeLLM
	memory     *fakeMemory
	store      *statex.InMemoryStore
	classifier *fakeClassifier
	registry   *pluginx.Registry
}

func newHarness(t *testing.T, cfg Config, replies ...llmReply) *harness {
	t.Helper()

	registry := pluginx.NewRegistry()
	for _, p := range []contractx.Plugin{
		&stubPlugin{name: "Time", intents: []string{"time", "date"}, handle: replyWith("It is currently 05:00 PM.")},
		&stubPlugin{name: "Wikipedia", intents: []string{"wikipedia"}, handle: func(ctx context.Context, intent string, entities map[string]any, pctx contractx.PluginContext) (string, error) {
			return "According to Wikipedia: " + contractx.StringArg(entities, "query") + " was a mathematician.", nil
		}},
	} {
		if err := registry.Register(p); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	h := &harness{
		llm:        &fakeLLM{replies: replies},
		memory:     &fakeMemory{},
		store:      statex.NewInMemoryStore(),
		classifier: &fakeClassifier{byText: map[string]prediction{}},
		registry:   registry,
	}

	orch, err := New(Deps{
		Registry:   registry,
		Classifier: h.classifier,
		LLM:        h.llm,
		Memory:     h.memory,
		Store:      h.store,
	}, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.orch = orch
	return h
}

func toolCall(id, name, args string) *schema.Message {
	return schema.AssistantMessage("", []schema.ToolCall{{
		ID:       id,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}})
}

func toolCalls(calls ...schema.ToolCall) *schema.Message {
	return schema.AssistantMessage("", calls)
}

func invocation(id, name, args string) schema.ToolCall {
	return schema.ToolCall{ID: id, Type: "function", Function: schema.FunctionCall{Name: name, Arguments: args}}
}

func TestDirectDispatchSkipsModel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.classifier.byText["what time is it"] = prediction{intent: "time", confidence: 0.9}

	reply, err := h.orch.ProcessUtterance(context.Background(), "what time is it")
	if err != nil {
		t.Fatalf("ProcessUtterance() error = %v", err)
	}
	if reply != "It is currently 05:00 PM." {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if h.llm.callCount() != 0 {
		t.Fatalf("model called %d times, want 0", h.llm.callCount())
	}
	if len(h.memory.adds) != 0 {
		t.Fatalf("memory writes = %d, want 0 by default", len(h.memory.adds))
	}

	conv, err := h.store.Load(context.Background(), "default")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(conv.Turns) != 1 || conv.Turns[0].Route != "plugin" {
		t.Fatalf("unexpected stored turns: %#v", conv.Turns)
	}
}

func TestDirectDispatchPersistsWhenConfigured(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{PersistDirectAnswers: true})
	h.classifier.byText["what time is it"] = prediction{intent: "time", confidence: 0.9}

	if _, err := h.orch.ProcessUtterance(context.Background(), "what time is it"); err != nil {
		t.Fatalf("ProcessUtterance() error = %v", err)
	}
	if len(h.memory.adds) != 1 {
		t.Fatalf("memory writes = %d, want 1", len(h.memory.adds))
	}
	add := h.memory.adds[0]
	if add.text != "User: what time is it\nAssistant: It is currently 05:00 PM." {
		t.Fatalf("unexpected memory text: %q", add.text)
	}
	if add.metadata["type"] != "plugin" || add.metadata["plugin"] != "Time" {
		t.Fatalf("unexpected metadata: %#v", add.metadata)
	}
}

func TestBelowThresholdGoesToModel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, llmReply{msg: schema.AssistantMessage("Let me think.", nil)})
	h.classifier.byText["what time is it"] = prediction{intent: "time", confidence: 0.34}

	res, err := h.orch.Handle(context.Background(), "s1", "what time is it")
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if res.Route != "chat" || res.Reply != "Let me think." {
		t.Fatalf("unexpected result: %#v", res)
	}
	if h.llm.callCount() != 1 {
		t.Fatalf("model called %d times, want 1", h.llm.callCount())
	}
}

func TestClassifierFailureFallsBackToChat(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, llmReply{msg: schema.AssistantMessage("Hello!", nil)})
	h.classifier.byText["hi"] = prediction{err: errors.New("model offline")}

	reply, err := h.orch.HandleMessage(context.Background(), "s1", "hi")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply != "Hello!" {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestChatSingleRoundWritesMemory(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, llmReply{msg: schema.AssistantMessage("Why did the gopher cross the road?", nil)})
	h.memory.recalled = []string{"User: my name is Sam\nAssistant: Nice to meet you, Sam!"}

	reply, err := h.orch.HandleMessage(context.Background(), "s1", "tell me a joke")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply != "Why did the gopher cross the road?" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if h.llm.callCount() != 1 {
		t.Fatalf("model called %d times, want 1", h.llm.callCount())
	}

	call := h.llm.calls[0]
	if len(call.tools) != 1 || call.tools[0].Name != toolx.ToolSearchWikipedia {
		t.Fatalf("round 1 tools = %v, want the wikipedia schema", call.tools)
	}
	system := call.messages[0]
	if system.Role != schema.System || !strings.Contains(system.Content, "Relevant Past Memories:") || !strings.Contains(system.Content, "my name is Sam") {
		t.Fatalf("system prompt missing memories: %q", system.Content)
	}
	if last := call.messages[len(call.messages)-1]; last.Role != schema.User || last.Content != "tell me a joke" {
		t.Fatalf("last message = %#v, want the utterance", last)
	}

	if len(h.memory.adds) != 1 || h.memory.adds[0].metadata["type"] != "chat" {
		t.Fatalf("unexpected memory writes: %#v", h.memory.adds)
	}
	if h.memory.adds[0].text != "User: tell me a joke\nAssistant: Why did the gopher cross the road?" {
		t.Fatalf("unexpected memory text: %q", h.memory.adds[0].text)
	}
}

func TestMemoryQueryFailureIsContained(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, llmReply{msg: schema.AssistantMessage("Sure.", nil)})
	h.memory.queryErr = errors.New("index offline")

	reply, err := h.orch.HandleMessage(context.Background(), "s1", "hello")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply != "Sure." {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if strings.Contains(h.llm.calls[0].messages[0].Content, "Relevant Past Memories") {
		t.Fatal("system prompt should not carry a memory block")
	}
}

func TestToolRoundTrip(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{},
		llmReply{msg: toolCall("call_1", toolx.ToolSearchWikipedia, `{"query":"Ada Lovelace"}`)},
		llmReply{msg: schema.AssistantMessage("Ada Lovelace was a mathematician who wrote the first program.", nil)},
	)
	h.classifier.byText["who is Ada Lovelace"] = prediction{intent: "chat", confidence: 0.92}

	res, err := h.orch.Handle(context.Background(), "s1", "who is Ada Lovelace")
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if res.Reply != "Ada Lovelace was a mathematician who wrote the first program." || res.Route != "tools" || res.ToolCalls != 1 {
		t.Fatalf("unexpected result: %#v", res)
	}
	if h.llm.callCount() != 2 {
		t.Fatalf("model called %d times, want 2", h.llm.callCount())
	}

	second := h.llm.calls[1]
	if second.tools != nil {
		t.Fatalf("round 2 offered %d tools, want none", len(second.tools))
	}
	toolMsg := second.messages[len(second.messages)-1]
	if toolMsg.Role != schema.Tool || toolMsg.ToolCallID != "call_1" {
		t.Fatalf("last round 2 message = %#v, want tool result for call_1", toolMsg)
	}
	if toolMsg.Content != "According to Wikipedia: Ada Lovelace was a mathematician." {
		t.Fatalf("unexpected tool content: %q", toolMsg.Content)
	}
	assistant := second.messages[len(second.messages)-2]
	if assistant.Role != schema.Assistant || len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].ID != "call_1" {
		t.Fatalf("assistant tool call message missing: %#v", assistant)
	}
	if len(h.memory.adds) != 1 {
		t.Fatalf("memory writes = %d, want 1", len(h.memory.adds))
	}
}

func TestMissingToolIsFedBackToModel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{},
		llmReply{msg: toolCall("call_9", toolx.ToolSearchWeb, `{"query":"go 1.25"}`)},
		llmReply{msg: schema.AssistantMessage("I can't search the web right now.", nil)},
	)

	reply, err := h.orch.HandleMessage(context.Background(), "s1", "search for go 1.25")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply != "I can't search the web right now." {
		t.Fatalf("unexpected reply: %q", reply)
	}
	toolMsg := h.llm.calls[1].messages[len(h.llm.calls[1].messages)-1]
	if toolMsg.Content != "Error: Tool search_web not found." {
		t.Fatalf("unexpected tool content: %q", toolMsg.Content)
	}
}

func TestSeveralToolsRunInOrderWithOneSecondRound(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{},
		llmReply{msg: toolCalls(
			invocation("c1", toolx.ToolSearchWikipedia, `{"query":"Ada Lovelace"}`),
			invocation("c2", toolx.ToolSearchWeb, `{"query":"news"}`),
			invocation("c3", toolx.ToolCalculate, `{"expression":"6*7"}`),
		)},
		llmReply{msg: schema.AssistantMessage("Ada was a mathematician and 6*7 is 42.", nil)},
	)
	var mu sync.Mutex
	var ran []string
	if err := h.registry.Register(&stubPlugin{name: "Calculator", intents: []string{"calculate"}, handle: func(ctx context.Context, intent string, entities map[string]any, pctx contractx.PluginContext) (string, error) {
		mu.Lock()
		ran = append(ran, "calculate")
		mu.Unlock()
		return "The answer is 42.", nil
	}}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := h.registry.Register(&stubPlugin{name: "Wikipedia", intents: []string{"wikipedia"}, handle: func(ctx context.Context, intent string, entities map[string]any, pctx contractx.PluginContext) (string, error) {
		mu.Lock()
		ran = append(ran, "wikipedia")
		mu.Unlock()
		return "According to Wikipedia: " + contractx.StringArg(entities, "query") + " was a mathematician.", nil
	}}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res, err := h.orch.Handle(context.Background(), "s1", "tell me about Ada and 6*7")
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if res.ToolCalls != 3 || res.Reply != "Ada was a mathematician and 6*7 is 42." {
		t.Fatalf("unexpected result: %#v", res)
	}
	if h.llm.callCount() != 2 {
		t.Fatalf("model called %d times, want exactly 2", h.llm.callCount())
	}
	if len(ran) != 2 || ran[0] != "wikipedia" || ran[1] != "calculate" {
		t.Fatalf("execution order = %v, want [wikipedia calculate]", ran)
	}

	msgs := h.llm.calls[1].messages
	toolMsgs := msgs[len(msgs)-3:]
	want := []struct{ id, content string }{
		{"c1", "According to Wikipedia: Ada Lovelace was a mathematician."},
		{"c2", "Error: Tool search_web not found."},
		{"c3", "The answer is 42."},
	}
	for i, w := range want {
		got := toolMsgs[i]
		if got.Role != schema.Tool || got.ToolCallID != w.id || got.Content != w.content {
			t.Fatalf("tool message %d = {%s %s %q}, want {tool %s %q}", i, got.Role, got.ToolCallID, got.Content, w.id, w.content)
		}
	}
	if assistant := msgs[len(msgs)-4]; assistant.Role != schema.Assistant || len(assistant.ToolCalls) != 3 {
		t.Fatalf("assistant tool call message missing: %#v", assistant)
	}
}

func TestEachToolGetsItsOwnTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{ToolTimeout: 30 * time.Millisecond},
		llmReply{msg: toolCalls(
			invocation("slow", toolx.ToolSearchWikipedia, `{"query":"x"}`),
			invocation("fast", toolx.ToolCalculate, `{"expression":"1+1"}`),
		)},
		llmReply{msg: schema.AssistantMessage("done", nil)},
	)
	if err := h.registry.Register(&stubPlugin{name: "Wikipedia", intents: []string{"wikipedia"}, handle: func(ctx context.Context, intent string, entities map[string]any, pctx contractx.PluginContext) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := h.registry.Register(&stubPlugin{name: "Calculator", intents: []string{"calculate"}, handle: func(ctx context.Context, intent string, entities map[string]any, pctx contractx.PluginContext) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "2", nil
	}}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, err := h.orch.HandleMessage(context.Background(), "s1", "slow then fast"); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	msgs := h.llm.calls[1].messages
	slow, fast := msgs[len(msgs)-2], msgs[len(msgs)-1]
	if slow.ToolCallID != "slow" || slow.Content != "Error executing tool search_wikipedia: context deadline exceeded" {
		t.Fatalf("slow tool message = %s %q", slow.ToolCallID, slow.Content)
	}
	if fast.ToolCallID != "fast" || fast.Content != "2" {
		t.Fatalf("fast tool message = %s %q, want a fresh deadline", fast.ToolCallID, fast.Content)
	}
}

func TestNilModelReplyReturnsApology(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Apology: "sorry"}, llmReply{})

	reply, err := h.orch.HandleMessage(context.Background(), "s1", "hello")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply != "sorry" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if len(h.memory.adds) != 0 {
		t.Fatalf("memory writes = %d, want 0", len(h.memory.adds))
	}
}

func TestNilSecondRoundReplyReturnsApology(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Apology: "sorry"},
		llmReply{msg: toolCall("call_1", toolx.ToolSearchWikipedia, `{"query":"x"}`)},
		llmReply{},
	)

	reply, err := h.orch.HandleMessage(context.Background(), "s1", "look it up")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply != "sorry" || h.llm.callCount() != 2 {
		t.Fatalf("reply = %q after %d calls, want apology after 2", reply, h.llm.callCount())
	}
}

func TestMalformedToolArgumentsBecomeEmptyObject(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{},
		llmReply{msg: toolCall("call_2", toolx.ToolSearchWikipedia, `{"query":`)},
		llmReply{msg: schema.AssistantMessage("done", nil)},
	)

	if _, err := h.orch.HandleMessage(context.Background(), "s1", "look something up"); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	toolMsg := h.llm.calls[1].messages[len(h.llm.calls[1].messages)-1]
	if toolMsg.Content != "According to Wikipedia:  was a mathematician." {
		t.Fatalf("unexpected tool content: %q", toolMsg.Content)
	}
}

func TestSecondRoundNeverRecurses(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{ToolFallback: "fallback answer"},
		llmReply{msg: toolCall("call_1", toolx.ToolSearchWikipedia, `{"query":"x"}`)},
		llmReply{msg: toolCall("call_2", toolx.ToolSearchWikipedia, `{"query":"y"}`)},
	)

	reply, err := h.orch.HandleMessage(context.Background(), "s1", "loop please")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply != "fallback answer" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if h.llm.callCount() != 2 {
		t.Fatalf("model called %d times, want exactly 2", h.llm.callCount())
	}
}

func TestProviderErrorReturnsApology(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Apology: "Sorry, my brain is offline."}, llmReply{
		err: &contractx.ProviderError{Kind: contractx.ProviderErrorAuth, Provider: "openai", Err: errors.New("401")},
	})

	reply, err := h.orch.HandleMessage(context.Background(), "s1", "hello")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply != "Sorry, my brain is offline." {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if h.llm.callCount() != 1 {
		t.Fatalf("model called %d times, want 1", h.llm.callCount())
	}
	if len(h.memory.adds) != 0 {
		t.Fatalf("memory writes = %d, want 0", len(h.memory.adds))
	}
}

func TestPluginErrorReply(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	if err := h.registry.Register(&stubPlugin{name: "Broken", intents: []string{"broken"}, handle: func(context.Context, string, map[string]any, contractx.PluginContext) (string, error) {
		panic("boom")
	}}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	h.classifier.byText["break it"] = prediction{intent: "broken", confidence: 0.99}

	reply, err := h.orch.HandleMessage(context.Background(), "s1", "break it")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply != "I encountered an error processing that command." {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestHelpSeesRegisteredPlugins(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	var seen []contractx.PluginInfo
	if err := h.registry.Register(&stubPlugin{name: "Help", intents: []string{"help"}, handle: func(ctx context.Context, intent string, entities map[string]any, pctx contractx.PluginContext) (string, error) {
		seen = pctx.Plugins
		return "help text", nil
	}}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	h.classifier.byText["help"] = prediction{intent: "help", confidence: 0.8}

	if _, err := h.orch.HandleMessage(context.Background(), "s1", "help"); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("help saw %d plugins, want 3", len(seen))
	}
}

func TestHistoryIsReplayed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{HistoryTurns: 2},
		llmReply{msg: schema.AssistantMessage("Hi Sam!", nil)},
		llmReply{msg: schema.AssistantMessage("Your name is Sam.", nil)},
	)

	if _, err := h.orch.HandleMessage(context.Background(), "s1", "I'm Sam"); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if _, err := h.orch.HandleMessage(context.Background(), "s1", "what's my name"); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	msgs := h.llm.calls[1].messages
	if len(msgs) != 4 {
		t.Fatalf("round 1 of turn 2 carried %d messages, want 4", len(msgs))
	}
	if msgs[1].Content != "I'm Sam" || msgs[2].Content != "Hi Sam!" {
		t.Fatalf("history not replayed: %q, %q", msgs[1].Content, msgs[2].Content)
	}
}

func TestStoredHistoryIsBounded(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MaxStoredTurns: 2})
	for _, text := range []string{"one", "two", "three"} {
		if _, err := h.orch.HandleMessage(context.Background(), "s1", text); err != nil {
			t.Fatalf("HandleMessage() error = %v", err)
		}
	}

	conv, err := h.store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(conv.Turns) != 2 || conv.Turns[0].User != "two" || conv.Turns[1].User != "three" {
		t.Fatalf("stored turns = %#v, want the last two", conv.Turns)
	}
}

func TestInvalidInput(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	_, err := h.orch.HandleMessage(context.Background(), "s1", "   ")
	if !errors.Is(err, contractx.ErrValidation) || !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("HandleMessage() error = %v, want ErrInvalidMessage", err)
	}
}

func TestCancelDuringToolDispatchDiscardsResults(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, Config{},
		llmReply{msg: toolCall("call_1", toolx.ToolSearchWikipedia, `{"query":"x"}`)},
	)
	var toolSawCancel atomic.Bool
	if err := h.registry.Register(&stubPlugin{name: "Wikipedia", intents: []string{"wikipedia"}, handle: func(tctx context.Context, intent string, entities map[string]any, pctx contractx.PluginContext) (string, error) {
		cancel()
		toolSawCancel.Store(tctx.Err() != nil)
		return "result", nil
	}}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	_, err := h.orch.HandleMessage(ctx, "s1", "look it up")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("HandleMessage() error = %v, want context.Canceled", err)
	}
	if toolSawCancel.Load() {
		t.Fatal("tool context should be detached from the caller")
	}
	if h.llm.callCount() != 1 {
		t.Fatalf("model called %d times, want no second round", h.llm.callCount())
	}
	if len(h.memory.adds) != 0 {
		t.Fatalf("memory writes = %d, want 0", len(h.memory.adds))
	}
}

func TestSameSessionTurnsAreSerialized(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	var active, maxActive atomic.Int32
	h.classifier.hook = func(string) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.orch.HandleMessage(context.Background(), "same", "hello"); err != nil {
				t.Errorf("HandleMessage() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if maxActive.Load() != 1 {
		t.Fatalf("max concurrent turns on one session = %d, want 1", maxActive.Load())
	}
	if h.orch.locks.size() != 0 {
		t.Fatalf("session locks leaked: %d", h.orch.locks.size())
	}
	conv, err := h.store.Load(context.Background(), "same")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(conv.Turns) != 8 {
		t.Fatalf("stored turns = %d, want 8", len(conv.Turns))
	}
}

func TestDifferentSessionsRunInParallel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	h.classifier.hook = func(string) {
		entered <- struct{}{}
		<-release
	}

	var wg sync.WaitGroup
	for _, session := range []string{"a", "b"} {
		wg.Add(1)
		go func(session string) {
			defer wg.Done()
			if _, err := h.orch.HandleMessage(context.Background(), session, "hello"); err != nil {
				t.Errorf("HandleMessage() error = %v", err)
			}
		}(session)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			close(release)
			t.Fatal("turns on different sessions did not overlap")
		}
	}
	close(release)
	wg.Wait()
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	bus := events.New()
	sub := bus.Subscribe(16)
	defer bus.Unsubscribe(sub)

	registry := pluginx.NewRegistry()
	orch, err := New(Deps{
		Registry:   registry,
		Classifier: &fakeClassifier{},
		LLM:        &fakeLLM{},
		Status:     bus,
	}, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := orch.HandleMessage(context.Background(), "s1", "hello"); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	want := []string{contractx.StatusProcessing, contractx.StatusSpeaking, contractx.StatusIdle}
	for _, status := range want {
		select {
		case e := <-sub:
			if e.Kind != events.KindStatus || e.Status != status || e.SessionID != "s1" {
				t.Fatalf("event = %#v, want status %s", e, status)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing status %s", status)
		}
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := New(Deps{}, Config{}); err == nil {
		t.Fatal("expected error but got nil")
	}
}
