// Package credentials resolves API credentials per provider.
//
// Resolution order for each provider, independently: explicit config key,
// provider-specific environment variable, then the generic fallback
// variables. A fallback provider in a reliability chain never inherits the
// primary provider's credential; every attempt resolves its own.
package credentials

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/zeroclaw-labs/zeroclaw/internal/config"
)

// Source identifies where a credential came from, for provenance logging.
type Source string

const (
	SourceConfig      Source = "config"
	SourceProviderEnv Source = "provider_env"
	SourceGenericEnv  Source = "generic_env"
	SourceRotation    Source = "rotation"
)

// Credential is a resolved API credential.
type Credential struct {
	Key    string
	Source Source
	// EnvVar is set when the credential came from the environment.
	EnvVar string
}

// providerEnvVars maps provider ids to their conventional env variables.
var providerEnvVars = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
	"groq":       "GROQ_API_KEY",
	"mistral":    "MISTRAL_API_KEY",
	"deepseek":   "DEEPSEEK_API_KEY",
	"xai":        "XAI_API_KEY",
	"gemini":     "GEMINI_API_KEY",
	"ollama":     "OLLAMA_API_KEY",
}

// genericEnvVars are the fallback variables checked after the
// provider-specific one, in order.
var genericEnvVars = []string{"ZEROCLAW_API_KEY", "LLM_API_KEY"}

// ErrNoCredential is returned when no source yields a key. Some providers
// (local ollama, unauthenticated custom endpoints) tolerate this.
type ErrNoCredential struct {
	Provider string
}

func (e *ErrNoCredential) Error() string {
	return fmt.Sprintf("no credential found for provider %q", e.Provider)
}

// Resolver resolves credentials for providers, optionally rotating across
// a configured key list per provider.
type Resolver struct {
	mu sync.Mutex
	// configKeys holds explicit per-provider keys from config.
	configKeys map[string]string
	// rotations holds ordered key lists; next index per provider is shared
	// across concurrent attempts from different turns.
	rotations map[string][]string
	next      map[string]int
	lookupEnv func(string) (string, bool)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithConfigKey sets an explicit key for a provider.
func WithConfigKey(provider, key string) Option {
	return func(r *Resolver) {
		if key != "" {
			r.configKeys[normalize(provider)] = key
		}
	}
}

// WithRotation sets the round-robin key list for a provider.
func WithRotation(provider string, keys []string) Option {
	return func(r *Resolver) {
		trimmed := make([]string, 0, len(keys))
		for _, k := range keys {
			if k = strings.TrimSpace(k); k != "" {
				trimmed = append(trimmed, k)
			}
		}
		if len(trimmed) > 0 {
			r.rotations[normalize(provider)] = trimmed
		}
	}
}

// WithEnvLookup overrides environment lookup, for tests.
func WithEnvLookup(fn func(string) (string, bool)) Option {
	return func(r *Resolver) { r.lookupEnv = fn }
}

// NewResolver creates a Resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		configKeys: make(map[string]string),
		rotations:  make(map[string][]string),
		next:       make(map[string]int),
		lookupEnv:  os.LookupEnv,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the credential for a provider. Rotation keys, when
// configured, take precedence and advance the shared round-robin index.
func (r *Resolver) Resolve(provider string) (Credential, error) {
	provider = normalize(provider)

	r.mu.Lock()
	if keys, ok := r.rotations[provider]; ok && len(keys) > 0 {
		idx := r.next[provider] % len(keys)
		r.next[provider] = (idx + 1) % len(keys)
		key := keys[idx]
		r.mu.Unlock()
		return Credential{Key: key, Source: SourceRotation}, nil
	}
	configKey := r.configKeys[provider]
	lookup := r.lookupEnv
	r.mu.Unlock()

	if configKey != "" {
		return Credential{Key: configKey, Source: SourceConfig}, nil
	}

	if envVar := providerEnvVars[provider]; envVar != "" {
		if v, ok := lookup(envVar); ok && v != "" {
			return Credential{Key: v, Source: SourceProviderEnv, EnvVar: envVar}, nil
		}
	}

	for _, envVar := range genericEnvVars {
		if v, ok := lookup(envVar); ok && v != "" {
			return Credential{Key: v, Source: SourceGenericEnv, EnvVar: envVar}, nil
		}
	}

	return Credential{}, &ErrNoCredential{Provider: provider}
}

// SetConfigKey updates the explicit key for a provider at runtime, used by
// the supervisor's config hot-apply path.
func (r *Resolver) SetConfigKey(provider, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	provider = normalize(provider)
	if key == "" {
		delete(r.configKeys, provider)
		return
	}
	r.configKeys[provider] = key
}

// SetRotation replaces the rotation list for a provider at runtime.
func (r *Resolver) SetRotation(provider string, keys []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	provider = normalize(provider)
	if len(keys) == 0 {
		delete(r.rotations, provider)
		delete(r.next, provider)
		return
	}
	r.rotations[provider] = append([]string(nil), keys...)
	r.next[provider] = 0
}

// Apply refreshes credential sources from a hot-applied config: explicit
// provider keys and the rotation pools. Registered with the channel
// supervisor so a changed api_key takes effect on the next attempt.
func (r *Resolver) Apply(cfg *config.Config) {
	for name, pc := range cfg.Providers {
		r.SetConfigKey(name, pc.APIKey)
	}
	r.mu.Lock()
	for provider := range r.rotations {
		if _, ok := cfg.Reliability.APIKeys[provider]; !ok {
			delete(r.rotations, provider)
			delete(r.next, provider)
		}
	}
	r.mu.Unlock()
	for provider, keys := range cfg.Reliability.APIKeys {
		r.SetRotation(provider, keys)
	}
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
