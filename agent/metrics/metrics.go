package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "echobot"

// Collector records turn-level counters. A nil *Collector records nothing.
type Collector struct {
	registry *prometheus.Registry

	turnsTotal     *prometheus.CounterVec
	turnDuration   *prometheus.HistogramVec
	modelRounds    *prometheus.CounterVec
	toolExecutions *prometheus.CounterVec
	providerErrors *prometheus.CounterVec
	memoryErrors   *prometheus.CounterVec
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by route (plugin or chat).",
		}, []string{"route"}),
		turnDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a conversation turn.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"route"}),
		modelRounds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_rounds_total",
			Help:      "Language model calls by round.",
		}, []string{"round"}),
		toolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_executions_total",
			Help:      "Tool executions by tool and outcome.",
		}, []string{"tool", "outcome"}),
		providerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Language model failures by kind.",
		}, []string{"kind"}),
		memoryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_errors_total",
			Help:      "Memory provider failures by operation.",
		}, []string{"op"}),
	}
}

func (c *Collector) ObserveTurn(route string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.turnsTotal.WithLabelValues(route).Inc()
	c.turnDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (c *Collector) ModelRound(round string) {
	if c == nil {
		return
	}
	c.modelRounds.WithLabelValues(round).Inc()
}

func (c *Collector) ToolExecuted(tool string, ok bool) {
	if c == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	c.toolExecutions.WithLabelValues(tool, outcome).Inc()
}

func (c *Collector) ProviderError(kind string) {
	if c == nil {
		return
	}
	c.providerErrors.WithLabelValues(kind).Inc()
}

func (c *Collector) MemoryError(op string) {
	if c == nil {
		return
	}
	c.memoryErrors.WithLabelValues(op).Inc()
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
