package config

import (
	"testing"
)

func TestFlattenNestedSettings(t *testing.T) {
	t.Parallel()

	got := Flatten(map[string]any{
		"ai": map[string]any{
			"provider":  "openai",
			"llm_model": "gpt-4o-mini",
		},
		"web": map[string]any{
			"port":    8000,
			"enabled": true,
		},
		"plugins": map[string]any{
			"disabled": []any{"Weather", "WebSearch"},
		},
		"empty": nil,
	})

	want := map[string]string{
		"AI_PROVIDER":      "openai",
		"AI_LLM_MODEL":     "gpt-4o-mini",
		"WEB_PORT":         "8000",
		"WEB_ENABLED":      "true",
		"PLUGINS_DISABLED": "Weather,WebSearch",
	}
	if len(got) != len(want) {
		t.Fatalf("Flatten() returned %d keys, want %d: %#v", len(got), len(want), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("Flatten()[%s] = %q, want %q", k, got[k], v)
		}
	}
}

func TestArgValue(t *testing.T) {
	t.Parallel()

	args := []string{"-cli", "-env", "local.env", "--settings=config/dev.yaml"}
	if got := argValue(args, "env"); got != "local.env" {
		t.Fatalf("argValue(env) = %q, want local.env", got)
	}
	if got := argValue(args, "settings"); got != "config/dev.yaml" {
		t.Fatalf("argValue(settings) = %q, want config/dev.yaml", got)
	}
	if got := argValue([]string{"--", "-env", "x"}, "env"); got != "" {
		t.Fatalf("argValue after -- = %q, want empty", got)
	}
	if got := argValue([]string{"-env"}, "env"); got != "" {
		t.Fatalf("argValue without value = %q, want empty", got)
	}
}
