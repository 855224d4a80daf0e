package tool

import (
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/echobot/agent/contract"
)

func TestDefaultCatalogLookup(t *testing.T) {
	t.Parallel()

	c := DefaultCatalog()
	spec, ok := c.Lookup(ToolSearchWikipedia)
	if !ok {
		t.Fatalf("Lookup(%s) not found", ToolSearchWikipedia)
	}
	if spec.Plugin != "Wikipedia" || spec.Intent != "wikipedia" {
		t.Fatalf("unexpected spec: %+v", spec)
	}

	info := spec.Build(contractx.PluginInfo{Name: "Wikipedia"})
	if info.Name != ToolSearchWikipedia {
		t.Fatalf("unexpected tool name: %s", info.Name)
	}

	if got := c.ForPlugin("Weather"); len(got) != 1 || got[0].Tool != ToolGetWeather {
		t.Fatalf("ForPlugin(Weather) = %+v", got)
	}
	if got := c.ForPlugin("Time"); len(got) != 0 {
		t.Fatalf("expected no tools for Time, got %+v", got)
	}
}

func TestCatalogRegisterMovesTool(t *testing.T) {
	t.Parallel()

	c, err := NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}

	build := func(contractx.PluginInfo) *schema.ToolInfo { return &schema.ToolInfo{Name: "lookup"} }
	if err := c.Register(Spec{Tool: "lookup", Plugin: "A", Build: build}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := c.Register(Spec{Tool: "lookup", Plugin: "B", Build: build}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if got := c.ForPlugin("A"); len(got) != 0 {
		t.Fatalf("expected A to lose the tool, got %+v", got)
	}
	if got := c.ForPlugin("B"); len(got) != 1 {
		t.Fatalf("expected B to own the tool, got %+v", got)
	}
}

func TestCatalogRegisterValidation(t *testing.T) {
	t.Parallel()

	c, _ := NewCatalog()
	err := c.Register(Spec{Tool: "x", Plugin: "X"})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
