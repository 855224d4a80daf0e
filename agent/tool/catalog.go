package tool

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/echobot/agent/contract"
)

const (
	ToolGetWeather      = "get_weather"
	ToolSearchWeb       = "search_web"
	ToolSearchWikipedia = "search_wikipedia"
	ToolCalculate       = "calculate"
	ToolSetReminder     = "set_reminder"
)

// Builder renders the model-facing schema for a plugin.
type Builder func(plugin contractx.PluginInfo) *schema.ToolInfo

// Spec binds a tool name to the plugin and intent that serve it.
type Spec struct {
	Tool   string
	Plugin string
	Intent string
	Build  Builder
}

// Catalog maps plugin names to tool specs. Builders can be added at runtime so the
// registry never has to know about concrete plugins.
type Catalog struct {
	mu       sync.RWMutex
	byTool   map[string]Spec
	byPlugin map[string][]string
}

func NewCatalog(specs ...Spec) (*Catalog, error) {
	c := &Catalog{
		byTool:   make(map[string]Spec),
		byPlugin: make(map[string][]string),
	}
	for _, spec := range specs {
		if err := c.Register(spec); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) Register(spec Spec) error {
	spec.Tool = strings.TrimSpace(spec.Tool)
	spec.Plugin = strings.TrimSpace(spec.Plugin)
	if spec.Tool == "" || spec.Plugin == "" {
		return fmt.Errorf("%w: tool and plugin names are required", contractx.ErrValidation)
	}
	if spec.Build == nil {
		return fmt.Errorf("%w: tool %s has no schema builder", contractx.ErrValidation, spec.Tool)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.byTool[spec.Tool]; ok {
		c.byPlugin[prev.Plugin] = removeName(c.byPlugin[prev.Plugin], spec.Tool)
	}
	c.byTool[spec.Tool] = spec
	c.byPlugin[spec.Plugin] = append(c.byPlugin[spec.Plugin], spec.Tool)
	return nil
}

// ForPlugin returns the specs served by plugin, in registration order.
func (c *Catalog) ForPlugin(plugin string) []Spec {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := c.byPlugin[plugin]
	out := make([]Spec, 0, len(names))
	for _, name := range names {
		out = append(out, c.byTool[name])
	}
	return out
}

func (c *Catalog) Lookup(tool string) (Spec, bool) {
	if c == nil {
		return Spec{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	spec, ok := c.byTool[tool]
	return spec, ok
}

func (c *Catalog) Tools() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.byTool))
	for name := range c.byTool {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func removeName(names []string, target string) []string {
	out := names[:0]
	for _, name := range names {
		if name != target {
			out = append(out, name)
		}
	}
	return out
}

// DefaultCatalog wires the lookup-style built-in plugins as tools.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		Spec{
			Tool:   ToolGetWeather,
			Plugin: "Weather",
			Intent: "weather",
			Build: singleParam(ToolGetWeather,
				"Get the current weather for a specific location.",
				"location", "The city and state, e.g. San Francisco, CA"),
		},
		Spec{
			Tool:   ToolSearchWeb,
			Plugin: "WebSearch",
			Intent: "search",
			Build: singleParam(ToolSearchWeb,
				"Search the web for current events, news, or general information.",
				"query", "The search query"),
		},
		Spec{
			Tool:   ToolSearchWikipedia,
			Plugin: "Wikipedia",
			Intent: "wikipedia",
			Build: singleParam(ToolSearchWikipedia,
				"Search Wikipedia for encyclopedic facts, people and history.",
				"query", "The topic to look up"),
		},
		Spec{
			Tool:   ToolCalculate,
			Plugin: "Calculator",
			Intent: "calculate",
			Build: singleParam(ToolCalculate,
				"Evaluate an arithmetic expression.",
				"expression", "Expression using numbers, + - * / % ^ and parentheses"),
		},
		Spec{
			Tool:   ToolSetReminder,
			Plugin: "Reminders",
			Intent: "reminder_set",
			Build: func(contractx.PluginInfo) *schema.ToolInfo {
				return &schema.ToolInfo{
					Name: ToolSetReminder,
					Desc: "Create a reminder for the user, optionally at a time of day.",
					ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
						"task": {Type: schema.String, Desc: "What to be reminded about", Required: true},
						"time": {Type: schema.String, Desc: "Time of day such as 5pm or 17:00"},
					}),
				}
			},
		},
	)
	if err != nil {
		panic(err)
	}
	return c
}

func singleParam(name, desc, param, paramDesc string) Builder {
	return func(contractx.PluginInfo) *schema.ToolInfo {
		return &schema.ToolInfo{
			Name: name,
			Desc: desc,
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				param: {Type: schema.String, Desc: paramDesc, Required: true},
			}),
		}
	}
}
