package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/echobot/agent/contract"
	toolx "github.com/tanpawarit/echobot/agent/tool"
)

// CollisionPolicy decides who keeps an intent claimed by two differently named plugins.
type CollisionPolicy string

const (
	LastWins  CollisionPolicy = "last_wins"
	FirstWins CollisionPolicy = "first_wins"
	Reject    CollisionPolicy = "reject"
)

func ParseCollisionPolicy(raw string) (CollisionPolicy, error) {
	switch CollisionPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", LastWins:
		return LastWins, nil
	case FirstWins:
		return FirstWins, nil
	case Reject:
		return Reject, nil
	default:
		return "", fmt.Errorf("%w: unknown intent collision policy %q", contractx.ErrValidation, raw)
	}
}

var _ contractx.Registry = (*Registry)(nil)

// Registry owns plugin instances for the process lifetime. Every intent key points at
// a plugin name present in plugins.
type Registry struct {
	mu sync.RWMutex

	plugins map[string]contractx.Plugin
	order   []string
	intents map[string]string

	catalog *toolx.Catalog
	policy  CollisionPolicy

	memory contractx.MemoryProvider
	llm    contractx.LanguageModel
}

type Option func(*Registry)

func WithCatalog(c *toolx.Catalog) Option {
	return func(r *Registry) {
		if c != nil {
			r.catalog = c
		}
	}
}

func WithCollisionPolicy(p CollisionPolicy) Option {
	return func(r *Registry) {
		if p != "" {
			r.policy = p
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		plugins: make(map[string]contractx.Plugin),
		intents: make(map[string]string),
		catalog: toolx.DefaultCatalog(),
		policy:  LastWins,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Bind sets the collaborators handed to plugins through PluginContext during tool calls.
func (r *Registry) Bind(memory contractx.MemoryProvider, llm contractx.LanguageModel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memory = memory
	r.llm = llm
}

func (r *Registry) Catalog() *toolx.Catalog {
	return r.catalog
}

func (r *Registry) Register(p contractx.Plugin) error {
	if p == nil {
		return fmt.Errorf("%w: plugin is nil", contractx.ErrValidation)
	}
	name := strings.TrimSpace(p.Name())
	if name == "" {
		return fmt.Errorf("%w: plugin name is empty", contractx.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.policy == Reject {
		for _, intent := range p.Intents() {
			if owner, ok := r.intents[intent]; ok && owner != name {
				return fmt.Errorf("%w: intent %q is held by %s", contractx.ErrIntentConflict, intent, owner)
			}
		}
	}

	if _, exists := r.plugins[name]; exists {
		for intent, owner := range r.intents {
			if owner == name {
				delete(r.intents, intent)
			}
		}
	} else {
		r.order = append(r.order, name)
	}
	r.plugins[name] = p

	for _, intent := range p.Intents() {
		intent = strings.TrimSpace(intent)
		if intent == "" {
			continue
		}
		owner, taken := r.intents[intent]
		if taken && owner != name {
			if r.policy == FirstWins {
				log.Warn().Str("intent", intent).Str("owner", owner).Str("plugin", name).
					Msg("intent already claimed, keeping first owner")
				continue
			}
			log.Warn().Str("intent", intent).Str("owner", owner).Str("plugin", name).
				Msg("intent already claimed, overriding")
		}
		r.intents[intent] = name
	}

	log.Info().Str("plugin", name).Strs("intents", p.Intents()).Msg("registered plugin")
	return nil
}

func (r *Registry) ResolveIntent(intent string) (contractx.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.intents[intent]
	if !ok {
		return nil, false
	}
	p, ok := r.plugins[name]
	return p, ok
}

func (r *Registry) Plugin(name string) (contractx.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

func (r *Registry) ListPlugins() []contractx.PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []contractx.PluginInfo {
	out := make([]contractx.PluginInfo, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, infoOf(r.plugins[name]))
	}
	return out
}

func infoOf(p contractx.Plugin) contractx.PluginInfo {
	intents := append([]string(nil), p.Intents()...)
	if intents == nil {
		intents = []string{}
	}
	return contractx.PluginInfo{
		Name:        p.Name(),
		Description: p.Description(),
		Intents:     intents,
	}
}

// ToolSchemas is derived on every call from the plugins currently registered.
func (r *Registry) ToolSchemas() []*schema.ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*schema.ToolInfo
	for _, name := range r.order {
		info := infoOf(r.plugins[name])
		for _, spec := range r.catalog.ForPlugin(name) {
			if ti := spec.Build(info); ti != nil {
				out = append(out, ti)
			}
		}
	}
	return out
}

// ExecuteTool never returns an error: unknown tools and handler failures are carried
// in the result so one bad call cannot abort the turn.
func (r *Registry) ExecuteTool(ctx context.Context, toolName string, args map[string]any) (result contractx.ToolResult) {
	result.Tool = toolName

	spec, ok := r.catalog.Lookup(toolName)
	if !ok {
		result.Err = fmt.Errorf("%w: %s", contractx.ErrToolNotFound, toolName)
		return result
	}

	r.mu.RLock()
	p, ok := r.plugins[spec.Plugin]
	pctx := contractx.PluginContext{
		SessionID: SessionIDFrom(ctx),
		Memory:    r.memory,
		LLM:       r.llm,
		Plugins:   r.listLocked(),
	}
	r.mu.RUnlock()

	if !ok {
		result.Err = fmt.Errorf("%w: %s (plugin %s is not loaded)", contractx.ErrToolNotFound, toolName, spec.Plugin)
		return result
	}

	if args == nil {
		args = map[string]any{}
	}

	defer func() {
		if rec := recover(); rec != nil {
			result.Output = ""
			result.Err = &contractx.ToolExecutionError{Tool: toolName, Err: fmt.Errorf("panic: %v", rec)}
			log.Error().Str("tool", toolName).Interface("panic", rec).Msg("tool handler panicked")
		}
	}()

	out, err := p.Handle(ctx, spec.Intent, args, pctx)
	if err != nil {
		result.Err = &contractx.ToolExecutionError{Tool: toolName, Err: err}
		return result
	}
	result.Output = out
	return result
}

// Close releases plugins that hold private resources.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for _, name := range r.order {
		if c, ok := r.plugins[name].(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close plugin %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

type sessionKey struct{}

// WithSessionID tags ctx so tool calls can tell plugins which session they serve.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

func SessionIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(sessionKey{}).(string)
	return v
}
