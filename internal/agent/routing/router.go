// Package routing implements the provider reliability router. The router
// is itself an agent.LLMProvider: it resolves a routing target, builds an
// ordered attempt chain (primary, same-provider model fallbacks, then the
// fallback provider chain), and walks it with per-attempt retry and
// backoff until one attempt streams to completion.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/zeroclaw-labs/zeroclaw/internal/agent"
	"github.com/zeroclaw-labs/zeroclaw/internal/agent/providers"
	"github.com/zeroclaw-labs/zeroclaw/internal/backoff"
	"github.com/zeroclaw-labs/zeroclaw/internal/config"
	"github.com/zeroclaw-labs/zeroclaw/internal/credentials"
)

// Factory builds a provider backend for one attempt. The credential is
// resolved independently per attempt; a fallback provider never inherits
// the primary's key.
type Factory func(provider, model string, cred credentials.Credential) (agent.LLMProvider, error)

// Attempt is one entry in the router's ordered chain.
type Attempt struct {
	Provider string
	Model    string
}

// AttemptFailure records why one attempt failed, for the exhausted error.
type AttemptFailure struct {
	Provider string
	Model    string
	Class    providers.FailureClass
	Err      error
}

// ExhaustedError is returned when every attempt in the chain failed.
type ExhaustedError struct {
	Failures []AttemptFailure
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "all providers exhausted after %d attempts", len(e.Failures))
	for _, f := range e.Failures {
		b.WriteString("; ")
		b.WriteString(f.Provider)
		if f.Model != "" {
			b.WriteString("/" + f.Model)
		}
		fmt.Fprintf(&b, " [%s]", f.Class)
		if f.Err != nil {
			b.WriteString(": " + f.Err.Error())
		}
	}
	return b.String()
}

// Router routes completion requests across providers with failover.
type Router struct {
	mu          sync.RWMutex
	defProvider string
	defModel    string
	routes      map[string]config.Route
	reliability config.ReliabilityConfig
	defaults    map[string]string // provider -> default model

	resolver *credentials.Resolver
	factory  Factory
	// customFactory marks a caller-supplied factory that Apply must not
	// rebuild.
	customFactory bool
	logger        *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithFactory overrides the provider factory, for tests.
func WithFactory(f Factory) Option {
	return func(r *Router) {
		r.factory = f
		r.customFactory = true
	}
}

// WithLogger sets the router's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates a Router from the runtime configuration.
func NewRouter(cfg *config.Config, resolver *credentials.Resolver, opts ...Option) *Router {
	r := &Router{
		resolver: resolver,
		logger:   slog.Default(),
	}
	r.applyLocked(cfg)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply swaps in the routing-relevant subset of a new configuration. Used
// by the supervisor's hot-apply path; in-flight requests keep the chain
// they started with.
func (r *Router) Apply(cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyLocked(cfg)
}

func (r *Router) applyLocked(cfg *config.Config) {
	r.defProvider = cfg.DefaultProvider
	r.defModel = cfg.DefaultModel
	r.reliability = cfg.Reliability
	r.routes = make(map[string]config.Route, len(cfg.ModelRoutes))
	for _, route := range cfg.ModelRoutes {
		r.routes[route.Hint] = route
	}
	r.defaults = make(map[string]string, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		r.defaults[name] = pc.DefaultModel
	}
	// The factory gets its own snapshot of the provider configs: the live
	// config map keeps being mutated by hot-apply while router goroutines
	// read from the factory.
	if !r.customFactory {
		r.factory = NewProviderFactory(copyProviderConfigs(cfg.Providers))
	}
}

func copyProviderConfigs(m map[string]config.ProviderConfig) map[string]config.ProviderConfig {
	out := make(map[string]config.ProviderConfig, len(m))
	for name, pc := range m {
		out[name] = pc
	}
	return out
}

func (r *Router) Name() string        { return "router" }
func (r *Router) SupportsTools() bool { return true }

// SupportsVision is true at the router level; unsupported backends are
// filtered out of the attempt chain per request instead.
func (r *Router) SupportsVision() bool { return true }

// Models returns the primary provider's catalog, when it can be built.
func (r *Router) Models() []agent.Model {
	r.mu.RLock()
	primary := r.defProvider
	factory := r.factory
	r.mu.RUnlock()
	if primary == "" {
		return nil
	}
	cred, err := r.resolver.Resolve(primary)
	if err != nil && !toleratesAnonymous(primary) {
		return nil
	}
	prov, err := factory(primary, "", cred)
	if err != nil {
		return nil
	}
	return prov.Models()
}

// Complete resolves the attempt chain for the request and streams from the
// first attempt that succeeds. Terminal failures are delivered on the
// stream as an error chunk so partial output and the failure share one
// ordered channel.
func (r *Router) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	attempts := r.buildAttempts(req.Model)
	if len(attempts) == 0 {
		return nil, agent.ErrNoProvider
	}

	r.mu.RLock()
	retries := r.reliability.Retries()
	policy := backoff.ForProvider(r.reliability.Backoff())
	factory := r.factory
	r.mu.RUnlock()

	out := make(chan *agent.CompletionChunk)
	go r.run(ctx, req, attempts, factory, retries, policy, out)
	return out, nil
}

func (r *Router) run(ctx context.Context, req *agent.CompletionRequest, attempts []Attempt, factory Factory, retries int, policy backoff.Policy, out chan<- *agent.CompletionChunk) {
	defer close(out)

	needsVision := req.HasImages()
	var failures []AttemptFailure
	attemptNum := 0

	for _, att := range attempts {
		attemptNum++

		cred, err := r.resolver.Resolve(att.Provider)
		if err != nil {
			if !toleratesAnonymous(att.Provider) {
				r.logger.Warn("no credential for provider, skipping attempt",
					"provider", att.Provider, "attempt", attemptNum)
				failures = append(failures, AttemptFailure{Provider: att.Provider, Model: att.Model, Class: providers.FailureAuth, Err: err})
				continue
			}
			cred = credentials.Credential{}
		}

		prov, err := factory(att.Provider, att.Model, cred)
		if err != nil {
			failures = append(failures, AttemptFailure{Provider: att.Provider, Model: att.Model, Class: providers.Classify(err), Err: err})
			continue
		}

		if needsVision && !prov.SupportsVision() {
			r.logger.Debug("skipping attempt without vision support",
				"provider", att.Provider, "model", att.Model)
			failures = append(failures, AttemptFailure{
				Provider: att.Provider,
				Model:    att.Model,
				Class:    providers.FailureModelUnavailable,
				Err:      &agent.CapabilityUnsupportedError{Capability: "vision", Provider: att.Provider},
			})
			continue
		}

		areq := *req
		areq.Model = att.Model

		provenance := &agent.Provenance{
			Provider:         att.Provider,
			Model:            att.Model,
			Attempt:          attemptNum,
			CredentialSource: string(cred.Source),
		}

		for try := 1; try <= 1+retries; try++ {
			if try > 1 {
				if err := backoff.SleepAttempt(ctx, policy, try-1); err != nil {
					r.send(ctx, out, &agent.CompletionChunk{Error: err, Done: true})
					return
				}
			}

			forwarded, err := r.relay(ctx, prov, &areq, provenance, out)
			if err == nil {
				return
			}
			if forwarded {
				// Partial output already reached the caller; a transparent
				// retry would duplicate it.
				r.send(ctx, out, &agent.CompletionChunk{Error: err, Done: true})
				return
			}
			if ctx.Err() != nil {
				r.send(ctx, out, &agent.CompletionChunk{Error: ctx.Err(), Done: true})
				return
			}

			failures = append(failures, AttemptFailure{Provider: att.Provider, Model: att.Model, Class: providers.Classify(err), Err: err})
			if !providers.IsRetryable(err) {
				r.logger.Warn("provider attempt failed terminally, advancing chain",
					"provider", att.Provider, "model", att.Model, "attempt", attemptNum, "error", err)
				break
			}
			r.logger.Warn("provider attempt failed, retrying",
				"provider", att.Provider, "model", att.Model, "attempt", attemptNum, "try", try, "error", err)
		}
	}

	r.send(ctx, out, &agent.CompletionChunk{Error: &ExhaustedError{Failures: failures}, Done: true})
}

// relay streams one provider call through to out. It reports whether any
// content chunk was forwarded before the failure, which decides whether a
// retry is still transparent.
func (r *Router) relay(ctx context.Context, prov agent.LLMProvider, req *agent.CompletionRequest, provenance *agent.Provenance, out chan<- *agent.CompletionChunk) (forwarded bool, err error) {
	chunks, err := prov.Complete(ctx, req)
	if err != nil {
		return false, err
	}

	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			return forwarded, chunk.Error
		}
		if chunk.Done {
			final := *chunk
			final.Provenance = provenance
			if !r.send(ctx, out, &final) {
				return forwarded, ctx.Err()
			}
			return forwarded, nil
		}
		if !r.send(ctx, out, chunk) {
			return forwarded, ctx.Err()
		}
		forwarded = true
	}
	// Stream closed without a Done chunk.
	return forwarded, providers.NewError(prov.Name(), req.Model, fmt.Errorf("stream ended without completion"))
}

func (r *Router) send(ctx context.Context, out chan<- *agent.CompletionChunk, chunk *agent.CompletionChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// buildAttempts resolves the routing target and expands it into the
// ordered chain: primary, same-provider model fallbacks, then the
// configured fallback providers. Duplicate provider/model pairs collapse
// to their first position.
func (r *Router) buildAttempts(requested string) []Attempt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, model := r.resolveTarget(requested)
	if provider == "" {
		return nil
	}

	seen := make(map[string]bool)
	var attempts []Attempt
	add := func(p, m string) {
		p = strings.TrimSpace(p)
		if p == "" {
			return
		}
		key := p + ":" + m
		if seen[key] {
			return
		}
		seen[key] = true
		attempts = append(attempts, Attempt{Provider: p, Model: m})
	}

	add(provider, model)
	for _, fb := range r.reliability.ModelFallbacks[model] {
		add(provider, fb)
	}
	for _, entry := range r.reliability.FallbackProviders {
		p, m := splitTarget(entry)
		if m == "" {
			m = r.defaults[p]
		}
		add(p, m)
	}
	return attempts
}

// resolveTarget maps the requested model to a provider/model pair.
// Precedence: explicit "provider:model", a model-route hint, a bare model
// on the default provider, then the configured defaults.
func (r *Router) resolveTarget(requested string) (provider, model string) {
	if strings.Contains(requested, ":") {
		return splitTarget(requested)
	}
	if route, ok := r.routes[requested]; ok && requested != "" {
		return route.Provider, route.Model
	}
	if requested != "" {
		return r.defProvider, requested
	}
	return r.defProvider, r.defModel
}

func splitTarget(s string) (provider, model string) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	provider = parts[0]
	if len(parts) == 2 {
		model = parts[1]
	}
	return provider, model
}

// toleratesAnonymous reports providers that work without a credential.
func toleratesAnonymous(provider string) bool {
	return provider == "ollama" || strings.HasPrefix(provider, "custom")
}

// openAICompatibleURLs maps provider ids to their OpenAI-compatible base
// endpoints. The openai entry is empty so the SDK default applies.
var openAICompatibleURLs = map[string]string{
	"openai":     "",
	"openrouter": "https://openrouter.ai/api/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"mistral":    "https://api.mistral.ai/v1",
	"deepseek":   "https://api.deepseek.com/v1",
	"xai":        "https://api.x.ai/v1",
	"ollama":     "http://localhost:11434/v1",
}

// NewProviderFactory returns the default Factory, building SDK-backed
// providers from per-provider connection settings.
func NewProviderFactory(pcfg map[string]config.ProviderConfig) Factory {
	return func(provider, model string, cred credentials.Credential) (agent.LLMProvider, error) {
		pc := pcfg[provider]
		if model == "" {
			model = pc.DefaultModel
		}

		if provider == "anthropic" {
			return providers.NewAnthropicProvider(providers.AnthropicOptions{
				APIKey:       cred.Key,
				BaseURL:      pc.APIURL,
				DefaultModel: model,
			})
		}

		baseURL, known := openAICompatibleURLs[provider]
		if pc.APIURL != "" {
			baseURL = pc.APIURL
		}
		if !known && !strings.HasPrefix(provider, "custom") {
			return nil, fmt.Errorf("unknown provider %q", provider)
		}
		if strings.HasPrefix(provider, "custom") && baseURL == "" {
			return nil, fmt.Errorf("provider %q requires api_url", provider)
		}
		// Custom endpoints may speak the Anthropic wire API instead of
		// the OpenAI-compatible default.
		if strings.HasPrefix(provider, "custom") && pc.ProviderAPI == "anthropic" {
			return providers.NewAnthropicProvider(providers.AnthropicOptions{
				APIKey:       cred.Key,
				BaseURL:      baseURL,
				DefaultModel: model,
			})
		}

		return providers.NewOpenAIProvider(providers.OpenAIOptions{
			APIKey:       cred.Key,
			BaseURL:      baseURL,
			Name:         provider,
			DefaultModel: model,
		}), nil
	}
}
