package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "zeroclaw.yaml", `
default_provider: openai
default_model: gpt-4o
agent:
  max_tool_iterations: 5
  parallel_tools: true
autonomy:
  level: supervised
  non_cli_natural_language_approval_mode: request_confirm
  max_actions_per_hour: 30
reliability:
  fallback_providers: ["openrouter:llama", "anthropic"]
  provider_retries: 3
  provider_backoff_ms: 250
channels_config:
  message_timeout_secs: 90
model_routes:
  - hint: reasoning
    provider: anthropic
    model: claude-sonnet-4
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultProvider != "openai" || cfg.DefaultModel != "gpt-4o" {
		t.Errorf("defaults not parsed: %+v", cfg)
	}
	if cfg.Agent.MaxToolIterations != 5 || !cfg.Agent.ParallelTools {
		t.Errorf("agent config: %+v", cfg.Agent)
	}
	if cfg.Autonomy.Level != AutonomySupervised {
		t.Errorf("autonomy level = %q", cfg.Autonomy.Level)
	}
	if got := cfg.Reliability.Backoff(); got != 250*time.Millisecond {
		t.Errorf("backoff = %v", got)
	}
	if len(cfg.Reliability.FallbackProviders) != 2 {
		t.Errorf("fallback providers: %v", cfg.Reliability.FallbackProviders)
	}
	if got := cfg.Channels.MessageTimeout(); got != 90*time.Second {
		t.Errorf("message timeout = %v", got)
	}
	if len(cfg.ModelRoutes) != 1 || cfg.ModelRoutes[0].Hint != "reasoning" {
		t.Errorf("model routes: %v", cfg.ModelRoutes)
	}
}

func TestLoadJSON5(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "zeroclaw.json5", `{
  // comments are allowed
  default_provider: "anthropic",
  agent: { max_tool_iterations: 2 },
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultProvider != "anthropic" || cfg.Agent.MaxToolIterations != 2 {
		t.Errorf("json5 config not parsed: %+v", cfg)
	}
}

func TestLoadEnvExpansion(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ZC_TEST_KEY", "sk-test-123")
	path := writeFile(t, dir, "zeroclaw.yaml", `
providers:
  openai:
    api_key: ${ZC_TEST_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers["openai"].APIKey != "sk-test-123" {
		t.Errorf("env not expanded: %q", cfg.Providers["openai"].APIKey)
	}
}

func TestLoadInclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
default_provider: openai
agent:
  max_tool_iterations: 4
`)
	path := writeFile(t, dir, "main.yaml", `
$include: base.yaml
default_model: gpt-4o
agent:
  parallel_tools: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultProvider != "openai" || cfg.DefaultModel != "gpt-4o" {
		t.Errorf("include merge failed: %+v", cfg)
	}
	if cfg.Agent.MaxToolIterations != 4 || !cfg.Agent.ParallelTools {
		t.Errorf("nested merge failed: %+v", cfg.Agent)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "$include: b.yaml\n")
	writeFile(t, dir, "b.yaml", "$include: a.yaml\n")
	if _, err := Load(filepath.Join(dir, "a.yaml")); err == nil {
		t.Fatal("expected include cycle error")
	}
}

func TestValidateRejectsUnknownEnums(t *testing.T) {
	cases := []Config{
		{Autonomy: AutonomyConfig{Level: "yolo"}},
		{Autonomy: AutonomyConfig{NonCLINaturalLanguageApprovalMode: "maybe"}},
		{Research: ResearchConfig{Strategy: "sometimes"}},
		{Agent: AgentConfig{ToolDispatcher: "chaotic"}},
		{Providers: map[string]ProviderConfig{"openai": {ProviderAPI: "responses"}}},
	}
	for i := range cases {
		if err := cases[i].Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestValidateAllowsProviderAPIOnCustom(t *testing.T) {
	cfg := Config{Providers: map[string]ProviderConfig{
		"custom-local": {ProviderAPI: "chat-completions", APIURL: "http://localhost:8080/v1"},
	}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEffectiveMaxToolIterationsZeroMeansDefault(t *testing.T) {
	a := AgentConfig{MaxToolIterations: 0}
	if got := a.EffectiveMaxToolIterations(); got != DefaultMaxToolIterations {
		t.Fatalf("zero iterations = %d, want %d", got, DefaultMaxToolIterations)
	}
	a.MaxToolIterations = 3
	if got := a.EffectiveMaxToolIterations(); got != 3 {
		t.Fatalf("iterations = %d, want 3", got)
	}
}

func TestHotApplyWhitelist(t *testing.T) {
	cur := &Config{
		DefaultProvider: "openai",
		Providers: map[string]ProviderConfig{
			"openai": {APIKey: "old-key"},
		},
		Agent: AgentConfig{MaxToolIterations: 5},
	}
	next := &Config{
		DefaultProvider: "openai",
		DefaultModel:    "gpt-4o-mini",
		Providers: map[string]ProviderConfig{
			"openai": {APIKey: "new-key"},
		},
		Agent:       AgentConfig{MaxToolIterations: 99},
		Reliability: ReliabilityConfig{ProviderRetries: 7},
	}

	if !cur.HotApplyFrom(next) {
		t.Fatal("expected change")
	}
	if cur.DefaultModel != "gpt-4o-mini" {
		t.Errorf("default model not applied: %q", cur.DefaultModel)
	}
	if cur.Providers["openai"].APIKey != "new-key" {
		t.Errorf("api key not applied")
	}
	if cur.Reliability.ProviderRetries != 7 {
		t.Errorf("reliability not applied")
	}
	// agent settings are not in the hot-apply whitelist
	if cur.Agent.MaxToolIterations != 5 {
		t.Errorf("agent config must not hot-apply, got %d", cur.Agent.MaxToolIterations)
	}
}
