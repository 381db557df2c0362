package credentials

import (
	"errors"
	"sync"
	"testing"

	"github.com/zeroclaw-labs/zeroclaw/internal/config"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestResolveOrderConfigFirst(t *testing.T) {
	r := NewResolver(
		WithConfigKey("openai", "cfg-key"),
		WithEnvLookup(envMap(map[string]string{
			"OPENAI_API_KEY":   "env-key",
			"ZEROCLAW_API_KEY": "generic-key",
		})),
	)
	cred, err := r.Resolve("openai")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cred.Key != "cfg-key" || cred.Source != SourceConfig {
		t.Fatalf("cred = %+v, want config key", cred)
	}
}

func TestResolveProviderEnvBeforeGeneric(t *testing.T) {
	r := NewResolver(WithEnvLookup(envMap(map[string]string{
		"ANTHROPIC_API_KEY": "sk-ant",
		"ZEROCLAW_API_KEY":  "generic",
	})))
	cred, err := r.Resolve("anthropic")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cred.Key != "sk-ant" || cred.EnvVar != "ANTHROPIC_API_KEY" {
		t.Fatalf("cred = %+v", cred)
	}
}

func TestResolveGenericFallback(t *testing.T) {
	r := NewResolver(WithEnvLookup(envMap(map[string]string{
		"LLM_API_KEY": "generic",
	})))
	cred, err := r.Resolve("openrouter")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cred.Key != "generic" || cred.Source != SourceGenericEnv {
		t.Fatalf("cred = %+v", cred)
	}
}

func TestResolveMissing(t *testing.T) {
	r := NewResolver(WithEnvLookup(envMap(nil)))
	_, err := r.Resolve("openai")
	var noCred *ErrNoCredential
	if !errors.As(err, &noCred) {
		t.Fatalf("err = %v, want ErrNoCredential", err)
	}
	if noCred.Provider != "openai" {
		t.Errorf("provider = %q", noCred.Provider)
	}
}

func TestResolveIndependentPerProvider(t *testing.T) {
	// Changing the primary's credential must not affect a fallback
	// provider's resolution.
	env := map[string]string{
		"OPENAI_API_KEY":     "openai-key",
		"OPENROUTER_API_KEY": "router-key",
	}
	r := NewResolver(WithEnvLookup(envMap(env)))

	before, err := r.Resolve("openrouter")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	r.SetConfigKey("openai", "rotated-primary")
	after, err := r.Resolve("openrouter")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if before.Key != after.Key || after.Key != "router-key" {
		t.Fatalf("fallback credential changed: %q -> %q", before.Key, after.Key)
	}
}

func TestRotationRoundRobin(t *testing.T) {
	r := NewResolver(WithRotation("openai", []string{"k1", "k2", "k3"}))
	var got []string
	for i := 0; i < 6; i++ {
		cred, err := r.Resolve("openai")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		got = append(got, cred.Key)
	}
	want := []string{"k1", "k2", "k3", "k1", "k2", "k3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation sequence = %v, want %v", got, want)
		}
	}
}

func TestRotationConcurrentSafety(t *testing.T) {
	r := NewResolver(WithRotation("openai", []string{"k1", "k2"}))
	var wg sync.WaitGroup
	counts := make(map[string]int)
	var mu sync.Mutex
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cred, err := r.Resolve("openai")
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			counts[cred.Key]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	if counts["k1"] != 50 || counts["k2"] != 50 {
		t.Fatalf("rotation not balanced: %v", counts)
	}
}

func TestApplyRefreshesKeysAtRuntime(t *testing.T) {
	r := NewResolver(
		WithConfigKey("anthropic", "OLD-KEY"),
		WithRotation("openai", []string{"rot-1"}),
		WithEnvLookup(envMap(nil)),
	)

	r.Apply(&config.Config{
		DefaultProvider: "anthropic",
		Providers: map[string]config.ProviderConfig{
			"anthropic": {APIKey: "NEW-KEY"},
		},
		Reliability: config.ReliabilityConfig{
			APIKeys: map[string][]string{"groq": {"g1", "g2"}},
		},
	})

	cred, err := r.Resolve("anthropic")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cred.Key != "NEW-KEY" {
		t.Fatalf("credential after apply = %q, want NEW-KEY", cred.Key)
	}

	// The dropped rotation pool no longer serves keys.
	if _, err := r.Resolve("openai"); err == nil {
		t.Error("openai rotation should be gone after apply")
	}
	cred, err = r.Resolve("groq")
	if err != nil {
		t.Fatalf("Resolve groq: %v", err)
	}
	if cred.Key != "g1" || cred.Source != SourceRotation {
		t.Fatalf("groq cred = %+v, want rotation g1", cred)
	}
}
