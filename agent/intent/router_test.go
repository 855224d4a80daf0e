package intent

import (
	"context"
	"errors"
	"testing"
	"time"

	contractx "github.com/tanpawarit/echobot/agent/contract"
)

type fakeClassifier struct {
	intent     string
	confidence float64
	err        error
}

func (f fakeClassifier) Predict(context.Context, string) (string, float64, error) {
	return f.intent, f.confidence, f.err
}

type fakePlugin struct{ name string }

func (f fakePlugin) Name() string        { return f.name }
func (f fakePlugin) Description() string { return "" }
func (f fakePlugin) Intents() []string   { return nil }
func (f fakePlugin) Handle(context.Context, string, map[string]any, contractx.PluginContext) (string, error) {
	return "", nil
}

type fakeResolver map[string]contractx.Plugin

func (f fakeResolver) ResolveIntent(intent string) (contractx.Plugin, bool) {
	p, ok := f[intent]
	return p, ok
}

func TestRouteBelowThresholdIsChat(t *testing.T) {
	t.Parallel()

	resolver := fakeResolver{"weather": fakePlugin{name: "Weather"}}
	for _, c := range []float64{0, 0.1, 0.2, 0.3, 0.349999} {
		r := NewRouter(fakeClassifier{intent: "weather", confidence: c}, resolver, DefaultThreshold, time.Second)
		d := r.Route(context.Background(), "weather in paris")
		if d.Intent != contractx.IntentChat || !d.IsChat() {
			t.Fatalf("confidence %v: Route() intent = %s, want chat", c, d.Intent)
		}
	}
}

func TestRouteAtThresholdDispatches(t *testing.T) {
	t.Parallel()

	resolver := fakeResolver{"weather": fakePlugin{name: "Weather"}}
	r := NewRouter(fakeClassifier{intent: "weather", confidence: 0.35}, resolver, 0.35, 0)
	d := r.Route(context.Background(), "weather in paris")
	if d.IsChat() || d.Plugin.Name() != "Weather" {
		t.Fatalf("Route() = %+v, want Weather plugin", d)
	}
	if d.Entities["location"] != "paris" {
		t.Fatalf("unexpected entities: %v", d.Entities)
	}
}

func TestRouteChatSkipsResolver(t *testing.T) {
	t.Parallel()

	resolver := fakeResolver{"chat": fakePlugin{name: "Shadow"}}
	r := NewRouter(fakeClassifier{intent: "chat", confidence: 0.99}, resolver, DefaultThreshold, 0)
	if d := r.Route(context.Background(), "hello"); !d.IsChat() {
		t.Fatalf("expected chat route, got plugin %v", d.Plugin)
	}
}

func TestRouteUnknownIntentFallsBack(t *testing.T) {
	t.Parallel()

	r := NewRouter(fakeClassifier{intent: "stock_quote", confidence: 0.9}, fakeResolver{}, DefaultThreshold, 0)
	d := r.Route(context.Background(), "price of acme")
	if !d.IsChat() || d.Label != "stock_quote" {
		t.Fatalf("Route() = %+v", d)
	}
}

func TestRouteClassifierErrorFallsBack(t *testing.T) {
	t.Parallel()

	r := NewRouter(fakeClassifier{err: errors.New("model missing")}, fakeResolver{}, DefaultThreshold, 0)
	d := r.Route(context.Background(), "anything")
	if !d.IsChat() || d.Confidence != 0 {
		t.Fatalf("Route() = %+v", d)
	}
}

func TestExtractEntities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text   string
		intent string
		want   map[string]any
	}{
		{"What's the weather in London?", "weather", map[string]any{"location": "london"}},
		{"is it raining", "weather", map[string]any{}},
		{"search for python tutorials", "search", map[string]any{"query": "python tutorials"}},
		{"Who is Ada Lovelace", "wikipedia", map[string]any{"query": "ada lovelace"}},
		{"quantum physics", "wikipedia", map[string]any{"query": "quantum physics"}},
		{"calculate 5 + 5", "calculate", map[string]any{"expression": "5 + 5"}},
		{"5 + 5", "calculate", map[string]any{}},
		{"remind me to call mom at 5pm", "reminder_set", map[string]any{"task": "call mom", "time": "5pm"}},
		{"remind me to look at the stars at 21:00", "reminder_set", map[string]any{"task": "look at the stars", "time": "21:00"}},
		{"remind me to buy milk", "reminder_set", map[string]any{"task": "buy milk"}},
		{"set a reminder", "reminder_set", map[string]any{}},
		{"", "weather", map[string]any{}},
		{"   to  at ", "reminder_set", map[string]any{}},
		{"delete all my reminders", "reminder_delete", map[string]any{"scope": "all"}},
		{"delete the last reminder", "reminder_delete", map[string]any{"scope": "last"}},
		{"delete my reminder", "reminder_delete", map[string]any{}},
	}

	for _, tc := range tests {
		got := ExtractEntities(tc.text, tc.intent)
		if len(got) != len(tc.want) {
			t.Fatalf("ExtractEntities(%q, %s) = %v, want %v", tc.text, tc.intent, got, tc.want)
		}
		for k, v := range tc.want {
			if got[k] != v {
				t.Fatalf("ExtractEntities(%q, %s)[%s] = %v, want %v", tc.text, tc.intent, k, got[k], v)
			}
		}
	}
}
