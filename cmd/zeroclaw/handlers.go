package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zeroclaw-labs/zeroclaw/internal/agent"
	"github.com/zeroclaw-labs/zeroclaw/internal/agent/routing"
	"github.com/zeroclaw-labs/zeroclaw/internal/autonomy"
	"github.com/zeroclaw-labs/zeroclaw/internal/channels"
	"github.com/zeroclaw-labs/zeroclaw/internal/channels/loopback"
	"github.com/zeroclaw-labs/zeroclaw/internal/channels/telegram"
	"github.com/zeroclaw-labs/zeroclaw/internal/commands"
	"github.com/zeroclaw-labs/zeroclaw/internal/config"
	"github.com/zeroclaw-labs/zeroclaw/internal/credentials"
	"github.com/zeroclaw-labs/zeroclaw/internal/observability"
	"github.com/zeroclaw-labs/zeroclaw/internal/sessions"
)

// runtime holds the wired components of one ZeroClaw process.
type runtime struct {
	cfg        *config.Config
	logger     *slog.Logger
	supervisor *channels.Supervisor
	loopback   *loopback.Adapter

	metricsServer *http.Server
	traceShutdown func(context.Context) error
	closers       []func() error
}

// close releases resources in reverse acquisition order.
func (r *runtime) close(ctx context.Context) {
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(ctx); err != nil {
			r.logger.Warn("metrics server shutdown failed", "error", err)
		}
	}
	if r.traceShutdown != nil {
		if err := r.traceShutdown(ctx); err != nil {
			r.logger.Warn("trace exporter shutdown failed", "error", err)
		}
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.Warn("close failed", "error", err)
		}
	}
}

// loadConfig loads and validates the configuration file.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openAutonomyStore opens the durable sqlite approval store when a state
// path is configured, falling back to an in-memory store.
func openAutonomyStore(cfg *config.Config) (autonomy.Store, func() error, error) {
	if path := strings.TrimSpace(cfg.Autonomy.StatePath); path != "" {
		store, err := autonomy.OpenSQLiteStore(path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
	return autonomy.NewMemoryStore(), func() error { return nil }, nil
}

// buildResolver wires credential sources: explicit config keys first, then
// rotation pools from the reliability section, then environment lookup.
func buildResolver(cfg *config.Config) *credentials.Resolver {
	var opts []credentials.Option
	for name, pc := range cfg.Providers {
		if pc.APIKey != "" {
			opts = append(opts, credentials.WithConfigKey(name, pc.APIKey))
		}
	}
	for provider, keys := range cfg.Reliability.APIKeys {
		if len(keys) > 0 {
			opts = append(opts, credentials.WithRotation(provider, keys))
		}
	}
	return credentials.NewResolver(opts...)
}

// buildRuntime assembles the full processing pipeline: credentials, the
// reliability router, the autonomy engine, the turn executor, and the
// channel supervisor with its adapters.
func buildRuntime(ctx context.Context, cfg *config.Config, configPath string, logger *slog.Logger, withTelegram bool) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}

	metrics := observability.NewMetrics()
	if addr := strings.TrimSpace(cfg.Observability.MetricsAddr); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		rt.metricsServer = &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := rt.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "addr", addr, "error", err)
			}
		}()
		logger.Info("metrics server listening", "addr", addr)
	}

	tracer, traceShutdown, err := observability.NewTracer(ctx, cfg.Observability.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("initialize tracing: %w", err)
	}
	rt.traceShutdown = traceShutdown

	resolver := buildResolver(cfg)
	router := routing.NewRouter(cfg, resolver, routing.WithLogger(logger))

	store, closeStore, err := openAutonomyStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open autonomy store: %w", err)
	}
	rt.closers = append(rt.closers, closeStore)
	engine := autonomy.NewEngine(cfg.Autonomy, store, autonomy.WithLogger(logger))

	sessionStore := sessions.NewMemoryStore(cfg.Agent.EffectiveMaxHistory())
	registry := agent.NewToolRegistry()

	executor := agent.NewTurnExecutor(router, registry, sessionStore, engine, &agent.TurnConfig{
		MaxIterations: cfg.Agent.MaxToolIterations,
		MaxHistory:    cfg.Agent.EffectiveMaxHistory(),
		MaxTokens:     cfg.Agent.MaxTokens,
		ParallelTools: parallelDispatch(cfg.Agent),
		HighRiskTools: cfg.Autonomy.HighRiskTools,
		Research: agent.ResearchOptions{
			Strategy:      cfg.Research.Strategy,
			MaxIterations: cfg.Research.MaxIterations,
			Keywords:      cfg.Research.Keywords,
			MinLength:     cfg.Research.MinLength,
		},
	})
	executor.SetLogger(logger)
	executor.SetDefaultModel(cfg.DefaultModel)
	executor.SetTemperature(cfg.DefaultTemperature)

	cmdRegistry := commands.NewRegistry()
	commands.RegisterApprovalCommands(cmdRegistry, engine)

	rt.supervisor = channels.NewSupervisor(cfg, executor, sessionStore, engine,
		channels.WithLogger(logger),
		channels.WithMetrics(metrics),
		channels.WithTracer(tracer),
		channels.WithCommands(cmdRegistry),
		channels.WithApplier(router),
		channels.WithApplier(resolver),
		channels.WithReloader(func() (*config.Config, error) {
			return config.Load(configPath)
		}),
	)

	if cfg.Channels.Loopback.Enabled {
		rt.loopback = loopback.New()
		rt.supervisor.Register(rt.loopback, cfg.Channels.Loopback.InterruptOnNewMessage)
	}
	if withTelegram && cfg.Channels.Telegram.Enabled {
		token := strings.TrimSpace(cfg.Channels.Telegram.BotToken)
		if token == "" {
			token = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
		}
		tg, err := telegram.NewAdapter(telegram.Config{Token: token, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("telegram adapter: %w", err)
		}
		rt.supervisor.Register(tg, cfg.Channels.Telegram.InterruptOnNewMessage)
	}

	return rt, nil
}

// parallelDispatch resolves the tool dispatch mode. An explicit
// tool_dispatcher setting wins over the legacy parallel_tools flag.
func parallelDispatch(ac config.AgentConfig) bool {
	switch ac.ToolDispatcher {
	case "parallel":
		return true
	case "sequential":
		return false
	}
	return ac.ParallelTools
}

// configureLogging installs the config-driven redacting logger as the
// process default and returns it.
func configureLogging(cfg *config.Config, debug bool) *slog.Logger {
	lc := cfg.Logging
	if debug {
		lc.Level = "debug"
	}
	logger := observability.NewLogger(lc, nil)
	slog.SetDefault(logger)
	return logger
}

// runServe implements the serve command: wire everything, run until a
// shutdown signal, then drain in-flight turns.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configureLogging(cfg, debug)

	logger.Info("starting ZeroClaw",
		"version", version,
		"commit", commit,
		"config", configPath,
		"provider", cfg.DefaultProvider,
		"model", cfg.DefaultModel,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, configPath, logger, true)
	if err != nil {
		return err
	}

	if err := rt.supervisor.Start(ctx); err != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		rt.close(shutdownCtx)
		return err
	}
	logger.Info("ZeroClaw started")

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	rt.supervisor.Stop(shutdownCtx)
	rt.close(shutdownCtx)
	return nil
}

// runChat implements the chat command: a line-oriented REPL bridged onto
// the loopback channel.
func runChat(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	// The terminal session always needs the loopback adapter.
	cfg.Channels.Loopback.Enabled = true
	logger := configureLogging(cfg, debug)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, configPath, logger, false)
	if err != nil {
		return err
	}
	if err := rt.supervisor.Start(ctx); err != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		rt.close(shutdownCtx)
		return err
	}

	fmt.Println("ZeroClaw chat. Ctrl-D or Ctrl-C to exit.")

	// Print replies as they arrive; turns may interleave with typing.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case reply, ok := <-rt.loopback.Replies():
				if !ok {
					return
				}
				fmt.Printf("\n%s\n> ", reply.Content)
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}
		if err := rt.loopback.Inject(ctx, "cli", "cli", line); err != nil {
			break
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	cancel()
	rt.supervisor.Stop(shutdownCtx)
	rt.close(shutdownCtx)
	return scanner.Err()
}

// runConfigValidate implements "config validate".
func runConfigValidate(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: configuration OK (provider=%s model=%s)\n",
		configPath, cfg.DefaultProvider, cfg.DefaultModel)
	return nil
}

// approvalsEngine builds a policy engine over the configured durable store
// for out-of-band approve-list management.
func approvalsEngine(configPath string) (*autonomy.Engine, func() error, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	store, closeStore, err := openAutonomyStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return autonomy.NewEngine(cfg.Autonomy, store), closeStore, nil
}

// runApprovalsList implements "approvals list".
func runApprovalsList(cmd *cobra.Command, configPath string) error {
	engine, closeStore, err := approvalsEngine(configPath)
	if err != nil {
		return err
	}
	defer closeStore()

	tools, err := engine.Approvals(cmd.Context())
	if err != nil {
		return fmt.Errorf("list approvals: %w", err)
	}
	denied, err := engine.Denials(cmd.Context())
	if err != nil {
		return fmt.Errorf("list denials: %w", err)
	}
	if len(tools) == 0 && len(denied) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tools are approved.")
		return nil
	}
	sort.Strings(tools)
	for _, tool := range tools {
		fmt.Fprintf(cmd.OutOrStdout(), "approved  %s\n", tool)
	}
	sort.Strings(denied)
	for _, tool := range denied {
		fmt.Fprintf(cmd.OutOrStdout(), "denied    %s\n", tool)
	}
	return nil
}

// runApprovalsGrant implements "approvals grant <tool>".
func runApprovalsGrant(cmd *cobra.Command, configPath, tool string) error {
	engine, closeStore, err := approvalsEngine(configPath)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := engine.Approve(cmd.Context(), tool, "cli"); err != nil {
		return fmt.Errorf("approve %s: %w", tool, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Approved: %s\n", tool)
	return nil
}

// runApprovalsRevoke implements "approvals revoke <tool>".
func runApprovalsRevoke(cmd *cobra.Command, configPath, tool string) error {
	engine, closeStore, err := approvalsEngine(configPath)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := engine.Revoke(cmd.Context(), tool); err != nil {
		return fmt.Errorf("revoke %s: %w", tool, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Revoked: %s\n", tool)
	return nil
}

// runApprovalsDeny implements "approvals deny <tool>".
func runApprovalsDeny(cmd *cobra.Command, configPath, tool string) error {
	engine, closeStore, err := approvalsEngine(configPath)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := engine.Forbid(cmd.Context(), tool, "cli"); err != nil {
		return fmt.Errorf("deny %s: %w", tool, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Denied: %s\n", tool)
	return nil
}

// runApprovalsAllow implements "approvals allow <tool>".
func runApprovalsAllow(cmd *cobra.Command, configPath, tool string) error {
	engine, closeStore, err := approvalsEngine(configPath)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := engine.Permit(cmd.Context(), tool); err != nil {
		return fmt.Errorf("allow %s: %w", tool, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Allowed: %s\n", tool)
	return nil
}
