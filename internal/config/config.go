// Package config loads and validates the ZeroClaw runtime configuration.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the main configuration structure for ZeroClaw.
type Config struct {
	DefaultProvider    string  `yaml:"default_provider"`
	DefaultModel       string  `yaml:"default_model"`
	DefaultTemperature float64 `yaml:"default_temperature"`

	Agent       AgentConfig               `yaml:"agent"`
	Autonomy    AutonomyConfig            `yaml:"autonomy"`
	Reliability ReliabilityConfig         `yaml:"reliability"`
	Channels    ChannelsConfig            `yaml:"channels_config"`
	Research    ResearchConfig            `yaml:"research"`
	Providers   map[string]ProviderConfig `yaml:"providers"`

	ModelRoutes     []Route `yaml:"model_routes"`
	EmbeddingRoutes []Route `yaml:"embedding_routes"`

	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// AgentConfig bounds the tool-call loop.
type AgentConfig struct {
	// MaxToolIterations limits main-loop iterations. 0 means the default
	// of 10, never "unlimited".
	MaxToolIterations  int    `yaml:"max_tool_iterations"`
	MaxHistoryMessages int    `yaml:"max_history_messages"`
	ParallelTools      bool   `yaml:"parallel_tools"`
	ToolDispatcher     string `yaml:"tool_dispatcher"` // parallel | sequential
	MaxTokens          int    `yaml:"max_tokens"`
}

// AutonomyLevel is the global approval posture.
type AutonomyLevel string

const (
	AutonomyReadOnly   AutonomyLevel = "read_only"
	AutonomySupervised AutonomyLevel = "supervised"
	AutonomyFull       AutonomyLevel = "full"
)

// ApprovalMode controls how natural-language approvals are treated outside
// the CLI surface.
type ApprovalMode string

const (
	ApprovalDirect         ApprovalMode = "direct"
	ApprovalRequestConfirm ApprovalMode = "request_confirm"
	ApprovalDisabled       ApprovalMode = "disabled"
)

// AutonomyConfig configures the autonomy policy engine.
type AutonomyConfig struct {
	Level                 AutonomyLevel `yaml:"level"`
	AlwaysAsk             []string      `yaml:"always_ask"`
	AutoApprove           []string      `yaml:"auto_approve"`
	HighRiskTools         []string      `yaml:"high_risk_tools"`
	BlockHighRiskCommands *bool         `yaml:"block_high_risk_commands"`

	NonCLINaturalLanguageApprovalMode ApprovalMode `yaml:"non_cli_natural_language_approval_mode"`

	MaxActionsPerHour  int   `yaml:"max_actions_per_hour"`
	MaxCostPerDayCents int64 `yaml:"max_cost_per_day_cents"`

	ApprovalTTLSecs int `yaml:"approval_ttl_secs"`

	// StatePath is the sqlite file holding durable approvals and budget
	// counters. Empty keeps state in memory only.
	StatePath string `yaml:"state_path"`
}

// BlockHighRisk reports the effective high-risk block flag (default true).
func (a AutonomyConfig) BlockHighRisk() bool {
	if a.BlockHighRiskCommands == nil {
		return true
	}
	return *a.BlockHighRiskCommands
}

// ApprovalTTL returns the pending-approval TTL with the documented default.
func (a AutonomyConfig) ApprovalTTL() time.Duration {
	if a.ApprovalTTLSecs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(a.ApprovalTTLSecs) * time.Second
}

// ReliabilityConfig drives provider failover.
type ReliabilityConfig struct {
	// FallbackProviders is the ordered provider chain tried after the
	// primary is exhausted. Entries may carry a model: "openrouter:llama-3".
	FallbackProviders []string `yaml:"fallback_providers"`

	// ModelFallbacks maps a model id to alternates tried on the SAME
	// provider before leaving it.
	ModelFallbacks map[string][]string `yaml:"model_fallbacks"`

	ProviderRetries   int `yaml:"provider_retries"`
	ProviderBackoffMs int `yaml:"provider_backoff_ms"`

	// APIKeys lists rotation keys per provider, round-robin per attempt.
	APIKeys map[string][]string `yaml:"api_keys"`
}

// Retries returns the per-attempt retry count with the documented default.
func (r ReliabilityConfig) Retries() int {
	if r.ProviderRetries <= 0 {
		return 2
	}
	return r.ProviderRetries
}

// Backoff returns the initial backoff with the documented default.
func (r ReliabilityConfig) Backoff() time.Duration {
	if r.ProviderBackoffMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(r.ProviderBackoffMs) * time.Millisecond
}

// ChannelsConfig configures channel supervision.
type ChannelsConfig struct {
	MessageTimeoutSecs int `yaml:"message_timeout_secs"`

	Loopback LoopbackChannelConfig `yaml:"loopback"`
	Telegram TelegramChannelConfig `yaml:"telegram"`
}

// MessageTimeout returns the base per-message timeout (default 60s).
func (c ChannelsConfig) MessageTimeout() time.Duration {
	if c.MessageTimeoutSecs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.MessageTimeoutSecs) * time.Second
}

// LoopbackChannelConfig configures the in-process channel used by the CLI
// surface and tests.
type LoopbackChannelConfig struct {
	Enabled               bool `yaml:"enabled"`
	InterruptOnNewMessage bool `yaml:"interrupt_on_new_message"`
}

// TelegramChannelConfig configures the Telegram long-poll adapter.
type TelegramChannelConfig struct {
	Enabled               bool   `yaml:"enabled"`
	BotToken              string `yaml:"bot_token"`
	InterruptOnNewMessage bool   `yaml:"interrupt_on_new_message"`
}

// ResearchStrategy selects when the pre-loop research phase runs.
type ResearchStrategy string

const (
	ResearchNever    ResearchStrategy = "never"
	ResearchAlways   ResearchStrategy = "always"
	ResearchKeywords ResearchStrategy = "keywords"
	ResearchLength   ResearchStrategy = "length"
	ResearchQuestion ResearchStrategy = "question"
)

// ResearchConfig configures the read-only research phase that runs before
// the main tool loop. Its iterations never count toward the main budget.
type ResearchConfig struct {
	Strategy      ResearchStrategy `yaml:"strategy"`
	MaxIterations int              `yaml:"max_iterations"`
	Keywords      []string         `yaml:"keywords"`
	MinLength     int              `yaml:"min_length"`
}

// Iterations returns the research iteration budget with its default.
func (r ResearchConfig) Iterations() int {
	if r.MaxIterations <= 0 {
		return 3
	}
	return r.MaxIterations
}

// Route maps a stable hint name to a concrete provider/model pair.
type Route struct {
	Hint     string `yaml:"hint"`
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// ProviderConfig holds per-provider connection settings.
type ProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	APIURL       string `yaml:"api_url"`
	DefaultModel string `yaml:"default_model"`
	// ProviderAPI overrides the wire API mode. Only meaningful for
	// custom: endpoints; ignored elsewhere.
	ProviderAPI string `yaml:"provider_api"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | text
}

// ObservabilityConfig configures metrics and tracing endpoints.
type ObservabilityConfig struct {
	MetricsAddr  string `yaml:"metrics_addr"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// DefaultMaxToolIterations is the documented default iteration bound.
const DefaultMaxToolIterations = 10

// MaxToolIterations returns the effective iteration bound: a configured 0
// means the safe default, never unlimited.
func (a AgentConfig) EffectiveMaxToolIterations() int {
	if a.MaxToolIterations <= 0 {
		return DefaultMaxToolIterations
	}
	return a.MaxToolIterations
}

// EffectiveMaxHistory returns the retained-history cap with its default.
func (a AgentConfig) EffectiveMaxHistory() int {
	if a.MaxHistoryMessages <= 0 {
		return 50
	}
	return a.MaxHistoryMessages
}

// Validate checks cross-field constraints that the YAML schema cannot.
func (c *Config) Validate() error {
	switch c.Autonomy.Level {
	case "", AutonomyReadOnly, AutonomySupervised, AutonomyFull:
	default:
		return fmt.Errorf("autonomy.level: unknown level %q", c.Autonomy.Level)
	}
	switch c.Autonomy.NonCLINaturalLanguageApprovalMode {
	case "", ApprovalDirect, ApprovalRequestConfirm, ApprovalDisabled:
	default:
		return fmt.Errorf("autonomy.non_cli_natural_language_approval_mode: unknown mode %q",
			c.Autonomy.NonCLINaturalLanguageApprovalMode)
	}
	switch c.Research.Strategy {
	case "", ResearchNever, ResearchAlways, ResearchKeywords, ResearchLength, ResearchQuestion:
	default:
		return fmt.Errorf("research.strategy: unknown strategy %q", c.Research.Strategy)
	}
	switch c.Agent.ToolDispatcher {
	case "", "parallel", "sequential":
	default:
		return fmt.Errorf("agent.tool_dispatcher: unknown dispatcher %q", c.Agent.ToolDispatcher)
	}
	for name, pc := range c.Providers {
		if pc.ProviderAPI != "" && !strings.HasPrefix(name, "custom") {
			return fmt.Errorf("providers.%s: provider_api is only meaningful for custom endpoints", name)
		}
	}
	for _, route := range c.ModelRoutes {
		if route.Hint == "" || route.Provider == "" {
			return fmt.Errorf("model_routes: hint and provider are required")
		}
	}
	return nil
}

// HotApplyFrom copies the whitelisted hot-apply subset from next into c:
// default provider/model/temperature, the default provider's api_key and
// api_url, and everything under reliability. Returns true when anything
// changed.
func (c *Config) HotApplyFrom(next *Config) bool {
	if next == nil {
		return false
	}
	changed := false
	if next.DefaultProvider != "" && next.DefaultProvider != c.DefaultProvider {
		c.DefaultProvider = next.DefaultProvider
		changed = true
	}
	if next.DefaultModel != "" && next.DefaultModel != c.DefaultModel {
		c.DefaultModel = next.DefaultModel
		changed = true
	}
	if next.DefaultTemperature != 0 && next.DefaultTemperature != c.DefaultTemperature {
		c.DefaultTemperature = next.DefaultTemperature
		changed = true
	}
	def := c.DefaultProvider
	if def != "" {
		nextPC, ok := next.Providers[def]
		if ok {
			if c.Providers == nil {
				c.Providers = make(map[string]ProviderConfig)
			}
			pc := c.Providers[def]
			if nextPC.APIKey != "" && nextPC.APIKey != pc.APIKey {
				pc.APIKey = nextPC.APIKey
				changed = true
			}
			if nextPC.APIURL != "" && nextPC.APIURL != pc.APIURL {
				pc.APIURL = nextPC.APIURL
				changed = true
			}
			c.Providers[def] = pc
		}
	}
	if !reliabilityEqual(c.Reliability, next.Reliability) {
		c.Reliability = next.Reliability
		changed = true
	}
	return changed
}

func reliabilityEqual(a, b ReliabilityConfig) bool {
	if a.ProviderRetries != b.ProviderRetries || a.ProviderBackoffMs != b.ProviderBackoffMs {
		return false
	}
	if !stringSliceEqual(a.FallbackProviders, b.FallbackProviders) {
		return false
	}
	if len(a.ModelFallbacks) != len(b.ModelFallbacks) {
		return false
	}
	for k, v := range a.ModelFallbacks {
		if !stringSliceEqual(v, b.ModelFallbacks[k]) {
			return false
		}
	}
	if len(a.APIKeys) != len(b.APIKeys) {
		return false
	}
	for k, v := range a.APIKeys {
		if !stringSliceEqual(v, b.APIKeys[k]) {
			return false
		}
	}
	return true
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
