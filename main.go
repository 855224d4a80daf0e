package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/echobot/agent/agents/orchestrator"
	"github.com/tanpawarit/echobot/agent/classifier"
	contractx "github.com/tanpawarit/echobot/agent/contract"
	"github.com/tanpawarit/echobot/agent/events"
	"github.com/tanpawarit/echobot/agent/llm"
	"github.com/tanpawarit/echobot/agent/memory"
	"github.com/tanpawarit/echobot/agent/metrics"
	"github.com/tanpawarit/echobot/agent/plugins"
	"github.com/tanpawarit/echobot/agent/plugins/reminders"
	"github.com/tanpawarit/echobot/agent/plugins/weather"
	"github.com/tanpawarit/echobot/agent/plugins/websearch"
	"github.com/tanpawarit/echobot/agent/plugins/wikipedia"
	promptx "github.com/tanpawarit/echobot/agent/prompt"
	"github.com/tanpawarit/echobot/agent/server"
	statex "github.com/tanpawarit/echobot/agent/state"
	chatmodelx "github.com/tanpawarit/echobot/pkg/chatmodel"
	configx "github.com/tanpawarit/echobot/pkg/config"
	_ "github.com/tanpawarit/echobot/pkg/logger/autoload"
	qstashx "github.com/tanpawarit/echobot/pkg/qstash"
)

var cliMode = flag.Bool("cli", false, "chat on stdin instead of serving HTTP")

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("echobot stopped")
	}
}

func run(ctx context.Context) error {
	llmCfg := configx.MustNew[llm.Config]("LLM")
	if err := llmCfg.Validate(); err != nil {
		return err
	}

	chatCfg := llmCfg.ChatModelFor(llm.RoleChat)
	chatModel, err := chatCfg.New(ctx)
	if err != nil {
		return fmt.Errorf("init chat model: %w", err)
	}
	provider, err := llm.NewProvider(chatCfg.ProviderName(), chatModel, chatCfg.Timeout)
	if err != nil {
		return err
	}

	var mem contractx.MemoryProvider
	memSvc, err := memory.Open(ctx, *configx.MustNew[memory.Config]("MEMORY"), chatmodelx.NewClient(chatCfg))
	if err != nil {
		return fmt.Errorf("init memory: %w", err)
	}
	if memSvc != nil {
		mem = memSvc
		defer func() {
			if err := memSvc.Close(); err != nil {
				log.Warn().Err(err).Msg("close memory")
			}
		}()
	}

	store, err := statex.Open(*configx.MustNew[statex.Config]("SESSION"))
	if err != nil {
		return fmt.Errorf("init session store: %w", err)
	}

	bus := events.New()
	collector := metrics.New()

	var qstash *qstashx.Client
	if qcfg := configx.MustNew[qstashx.Config]("QSTASH"); qcfg.Enabled() {
		qstash = qstashx.MustNew(*qcfg)
	}

	remindersCfg := configx.MustNew[reminders.Config]("REMINDERS")
	built, err := plugins.Build(ctx, plugins.Settings{
		Plugins:   *configx.MustNew[plugins.Config]("PLUGINS"),
		Weather:   *configx.MustNew[weather.Config]("WEATHER"),
		WebSearch: *configx.MustNew[websearch.Config]("WEBSEARCH"),
		Wikipedia: *configx.MustNew[wikipedia.Config]("WIKIPEDIA"),
		Reminders: *remindersCfg,
	}, plugins.Deps{Publisher: bus, QStash: qstash})
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Registry.Close(); err != nil {
			log.Warn().Err(err).Msg("close plugins")
		}
	}()
	built.Registry.Bind(mem, provider)

	classifierCfg := configx.MustNew[classifier.Config]("CLASSIFIER")
	var classifierModel einomodel.BaseChatModel
	if strings.EqualFold(strings.TrimSpace(classifierCfg.Kind), classifier.KindLLM) {
		classifierModelCfg := llmCfg.ChatModelFor(llm.RoleClassifier)
		if classifierModel, err = classifierModelCfg.New(ctx); err != nil {
			return fmt.Errorf("init classifier model: %w", err)
		}
	}
	intentClassifier, err := classifier.New(ctx, *classifierCfg, classifierModel,
		promptx.LoadPromptSet().Classifier, registeredIntents(built.Registry))
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Registry:   built.Registry,
		Classifier: intentClassifier,
		LLM:        provider,
		Memory:     mem,
		Store:      store,
		Status:     bus,
		Metrics:    collector,
	}, *configx.MustNew[orchestrator.Config]("ORCHESTRATOR"))
	if err != nil {
		return err
	}

	if *cliMode {
		return repl(ctx, orch, bus, os.Stdin, os.Stdout)
	}

	deps := server.Deps{
		Turns:   orch,
		Plugins: built.Registry,
		Events:  bus,
		Metrics: collector.Handler(),
	}
	if qstash != nil && built.Reminders != nil {
		deps.Reminders = built.Reminders
		deps.Verifier = qstash
		deps.CallbackURL = remindersCfg.CallbackURL
	}
	srv, err := server.New(*configx.MustNew[server.Config]("SERVER"), deps)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

type intentLister interface {
	ListPlugins() []contractx.PluginInfo
}

func registeredIntents(r intentLister) classifier.IntentSource {
	return func() []string {
		var out []string
		for _, p := range r.ListPlugins() {
			out = append(out, p.Intents...)
		}
		return out
	}
}

func repl(ctx context.Context, orch *orchestrator.Orchestrator, bus *events.Bus, in io.Reader, out io.Writer) error {
	sub := bus.Subscribe(16)
	defer bus.Unsubscribe(sub)
	go func() {
		for e := range sub {
			if e.Kind != events.KindReminder {
				continue
			}
			if msg, ok := e.Data["message"].(string); ok {
				fmt.Fprintf(out, "\nEchoBot: %s\n", msg)
			}
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Fprintln(out, "EchoBot is ready. Type 'exit' to quit.")
	for {
		fmt.Fprint(out, "You: ")
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		reply, err := orch.ProcessUtterance(ctx, line)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			log.Error().Err(err).Msg("turn failed")
			continue
		}
		fmt.Fprintf(out, "EchoBot: %s\n", reply)
	}
}
