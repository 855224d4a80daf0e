package plugins

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tanpawarit/echobot/agent/events"
	"github.com/tanpawarit/echobot/agent/plugins/reminders"
	"github.com/tanpawarit/echobot/agent/tool"
)

func TestBuildRegistersBuiltins(t *testing.T) {
	t.Parallel()

	built, err := Build(context.Background(), Settings{
		Reminders: remindersConfig(t),
	}, Deps{Publisher: events.New()})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	t.Cleanup(func() { _ = built.Registry.Close() })

	var names []string
	for _, info := range built.Registry.ListPlugins() {
		names = append(names, info.Name)
	}
	want := []string{"Time", "Calculator", "Weather", "WebSearch", "Wikipedia", "Reminders", "Help"}
	if len(names) != len(want) {
		t.Fatalf("ListPlugins() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("ListPlugins()[%d] = %s, want %s", i, names[i], want[i])
		}
	}

	if len(built.Registry.ToolSchemas()) != 5 {
		t.Fatalf("ToolSchemas() returned %d schemas, want 5", len(built.Registry.ToolSchemas()))
	}
	if built.Reminders == nil {
		t.Fatal("expected reminders handle")
	}

	res := built.Registry.ExecuteTool(context.Background(), tool.ToolCalculate, map[string]any{"expression": "6 * 7"})
	if res.Failed() || res.Output != "The answer is 42." {
		t.Fatalf("ExecuteTool(calculate) = %#v", res)
	}
}

func TestBuildHonoursDisabled(t *testing.T) {
	t.Parallel()

	built, err := Build(context.Background(), Settings{
		Plugins: Config{Disabled: []string{"weather", "Reminders"}},
	}, Deps{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	t.Cleanup(func() { _ = built.Registry.Close() })

	if _, ok := built.Registry.ResolveIntent("weather"); ok {
		t.Fatal("weather intent should not resolve when disabled")
	}
	if _, ok := built.Registry.ResolveIntent("reminder_set"); ok {
		t.Fatal("reminder intents should not resolve when disabled")
	}
	if built.Reminders != nil {
		t.Fatal("reminders handle should be nil when disabled")
	}
}

func TestBuildRejectsUnknownPolicy(t *testing.T) {
	t.Parallel()

	if _, err := Build(context.Background(), Settings{Plugins: Config{CollisionPolicy: "random"}}, Deps{}); err == nil {
		t.Fatal("expected error but got nil")
	}
}

func remindersConfig(t *testing.T) reminders.Config {
	t.Helper()
	return reminders.Config{DSN: filepath.Join(t.TempDir(), "reminders.db")}
}
