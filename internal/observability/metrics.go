package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the runtime's Prometheus instruments.
type Metrics struct {
	registry *prometheus.Registry

	// MessagesTotal counts inbound and outbound channel messages.
	// Labels: channel, direction.
	MessagesTotal *prometheus.CounterVec

	// TurnsTotal counts completed turns by outcome.
	// Labels: channel, status (ok|error|timeout|interrupted|pending_approval).
	TurnsTotal *prometheus.CounterVec

	// TurnIterations observes how many tool iterations a turn consumed.
	TurnIterations prometheus.Histogram

	// ProviderAttemptsTotal counts individual provider attempts.
	// Labels: provider, model, status (success|error).
	ProviderAttemptsTotal *prometheus.CounterVec

	// FailoversTotal counts attempts served by something other than the
	// primary target.
	// Labels: provider.
	FailoversTotal *prometheus.CounterVec

	// TokensTotal counts model tokens. Labels: provider, model,
	// type (input|output).
	TokensTotal *prometheus.CounterVec

	// ToolExecutionsTotal counts tool runs. Labels: tool, status.
	ToolExecutionsTotal *prometheus.CounterVec

	// ToolDuration observes tool execution latency. Labels: tool.
	ToolDuration *prometheus.HistogramVec

	// ApprovalDecisionsTotal counts autonomy verdicts.
	// Labels: verdict (approved|pending|denied).
	ApprovalDecisionsTotal *prometheus.CounterVec

	// BudgetDenialsTotal counts denials from exhausted budgets.
	// Labels: budget (actions_per_hour|cost_per_day).
	BudgetDenialsTotal *prometheus.CounterVec

	// ChannelRestartsTotal counts supervised channel task restarts.
	// Labels: channel.
	ChannelRestartsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all instruments on a fresh registry,
// so tests can hold independent instances.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zeroclaw_messages_total",
			Help: "Channel messages processed, by channel and direction.",
		}, []string{"channel", "direction"}),

		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zeroclaw_turns_total",
			Help: "Completed turns by channel and outcome.",
		}, []string{"channel", "status"}),

		TurnIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "zeroclaw_turn_iterations",
			Help:    "Tool iterations consumed per turn.",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 10, 15, 20},
		}),

		ProviderAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zeroclaw_provider_attempts_total",
			Help: "Provider attempts by provider, model, and status.",
		}, []string{"provider", "model", "status"}),

		FailoversTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zeroclaw_provider_failovers_total",
			Help: "Turns served by a non-primary provider attempt.",
		}, []string{"provider"}),

		TokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zeroclaw_tokens_total",
			Help: "Model tokens by provider, model, and type.",
		}, []string{"provider", "model", "type"}),

		ToolExecutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zeroclaw_tool_executions_total",
			Help: "Tool executions by tool and status.",
		}, []string{"tool", "status"}),

		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zeroclaw_tool_duration_seconds",
			Help:    "Tool execution latency in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),

		ApprovalDecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zeroclaw_approval_decisions_total",
			Help: "Autonomy policy verdicts.",
		}, []string{"verdict"}),

		BudgetDenialsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zeroclaw_budget_denials_total",
			Help: "Tool calls denied by an exhausted budget.",
		}, []string{"budget"}),

		ChannelRestartsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zeroclaw_channel_restarts_total",
			Help: "Supervised channel task restarts.",
		}, []string{"channel"}),
	}
}

// Handler serves this instance's registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
