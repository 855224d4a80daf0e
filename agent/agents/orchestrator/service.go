package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/echobot/agent/contract"
	intentx "github.com/tanpawarit/echobot/agent/intent"
	"github.com/tanpawarit/echobot/agent/metrics"
	nodex "github.com/tanpawarit/echobot/agent/nodes/orchestrator"
	promptx "github.com/tanpawarit/echobot/agent/prompt"
	statex "github.com/tanpawarit/echobot/agent/state"
)

var (
	ErrInvalidMessage = nodex.ErrInvalidMessage
	ErrInvalidSession = nodex.ErrInvalidSession
)

type Config struct {
	Threshold            float64       `default:"0.35"`
	ModelTimeout         time.Duration `split_words:"true" default:"30s"`
	ToolTimeout          time.Duration `split_words:"true" default:"15s"`
	MemoryTimeout        time.Duration `split_words:"true" default:"5s"`
	ClassifierTimeout    time.Duration `split_words:"true" default:"10s"`
	HistoryTurns         int           `split_words:"true" default:"5"`
	MaxStoredTurns       int           `split_words:"true" default:"20"`
	MemoryK              int           `envconfig:"MEMORY_K" default:"3"`
	PersistDirectAnswers bool          `split_words:"true" default:"false"`
	DefaultSession       string        `split_words:"true" default:"default"`
	Persona              string        `split_words:"true"`
	Apology              string        `split_words:"true" default:"I'm having trouble thinking right now. Please try again in a moment."`
	ToolFallback         string        `split_words:"true" default:"I looked that up but couldn't put together an answer. Please try asking again."`
	PluginErrorReply     string        `split_words:"true" default:"I encountered an error processing that command."`
}

func (c *Config) applyDefaults() {
	if c.Threshold <= 0 || c.Threshold > 1 {
		c.Threshold = intentx.DefaultThreshold
	}
	if c.ModelTimeout <= 0 {
		c.ModelTimeout = 30 * time.Second
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 15 * time.Second
	}
	if c.MemoryTimeout <= 0 {
		c.MemoryTimeout = 5 * time.Second
	}
	if c.ClassifierTimeout <= 0 {
		c.ClassifierTimeout = 10 * time.Second
	}
	if c.HistoryTurns < 0 {
		c.HistoryTurns = 0
	}
	if c.MemoryK <= 0 {
		c.MemoryK = 3
	}
	if strings.TrimSpace(c.DefaultSession) == "" {
		c.DefaultSession = "default"
	}
	if strings.TrimSpace(c.Persona) == "" {
		c.Persona = promptx.LoadPromptSet().Persona
	}
	if c.Apology == "" {
		c.Apology = "I'm having trouble thinking right now. Please try again in a moment."
	}
	if c.ToolFallback == "" {
		c.ToolFallback = "I looked that up but couldn't put together an answer. Please try asking again."
	}
	if c.PluginErrorReply == "" {
		c.PluginErrorReply = "I encountered an error processing that command."
	}
}

// Deps are the collaborators of one orchestrator. Memory, Store, Status and Metrics are optional.
type Deps struct {
	Registry   contractx.Registry
	Classifier contractx.IntentClassifier
	LLM        contractx.LanguageModel
	Memory     contractx.MemoryProvider
	Store      statex.Store
	Status     contractx.StatusPublisher
	Metrics    *metrics.Collector
}

type Orchestrator struct {
	registry contractx.Registry
	router   *intentx.Router
	llm      contractx.LanguageModel
	memory   contractx.MemoryProvider
	store    statex.Store
	status   contractx.StatusPublisher
	metrics  *metrics.Collector

	cfg   Config
	locks *sessionLocks

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	now func() time.Time
}

func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Registry == nil {
		return nil, errors.New("plugin registry is required")
	}
	if deps.Classifier == nil {
		return nil, errors.New("intent classifier is required")
	}
	if deps.LLM == nil {
		return nil, errors.New("language model is required")
	}
	if deps.Store == nil {
		deps.Store = statex.NewInMemoryStore()
	}
	cfg.applyDefaults()

	o := &Orchestrator{
		registry: deps.Registry,
		router:   intentx.NewRouter(deps.Classifier, deps.Registry, cfg.Threshold, cfg.ClassifierTimeout),
		llm:      timeoutModel{next: deps.LLM, timeout: cfg.ModelTimeout},
		memory:   deps.Memory,
		store:    deps.Store,
		status:   deps.Status,
		metrics:  deps.Metrics,
		cfg:      cfg,
		locks:    newSessionLocks(),
		now:      time.Now,
	}

	graphRunner, err := o.compileHandleMessageGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// Result is a finished turn with its routing details.
type Result = nodex.GraphOutput

// HandleMessage runs one turn. Errors are only returned for invalid input, cancellation
// and session store failures; everything else degrades into the reply.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID string, text string) (string, error) {
	res, err := o.Handle(ctx, sessionID, text)
	if err != nil {
		return "", err
	}
	return res.Reply, nil
}

// ProcessUtterance is HandleMessage on the default session.
func (o *Orchestrator) ProcessUtterance(ctx context.Context, text string) (string, error) {
	return o.HandleMessage(ctx, o.cfg.DefaultSession, text)
}

func (o *Orchestrator) DefaultSession() string {
	return o.cfg.DefaultSession
}

func (o *Orchestrator) Handle(ctx context.Context, sessionID string, text string) (Result, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = o.cfg.DefaultSession
	}

	unlock, err := o.locks.lock(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	started := o.now()
	o.publish(sessionID, contractx.StatusProcessing)
	defer o.publish(sessionID, contractx.StatusIdle)

	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{
		SessionID: sessionID,
		Text:      text,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		log.Error().Err(err).Str("session_id", sessionID).Msg("turn failed")
		return Result{}, err
	}

	o.metrics.ObserveTurn(out.Route, o.now().Sub(started))
	o.publish(sessionID, contractx.StatusSpeaking)
	log.Info().
		Str("session_id", sessionID).
		Str("route", out.Route).
		Str("intent", out.Intent).
		Float64("confidence", out.Confidence).
		Int("tool_calls", out.ToolCalls).
		Msg("turn completed")
	return out, nil
}

func (o *Orchestrator) publish(sessionID, status string) {
	if o.status != nil {
		o.status.PublishStatus(sessionID, status)
	}
}

func (o *Orchestrator) pluginContext(sessionID string) contractx.PluginContext {
	return contractx.PluginContext{
		SessionID: sessionID,
		Memory:    o.memory,
		LLM:       o.llm,
		Plugins:   o.registry.ListPlugins(),
	}
}
