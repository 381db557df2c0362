package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/zeroclaw-labs/zeroclaw/internal/agent"
	"github.com/zeroclaw-labs/zeroclaw/internal/autonomy"
	"github.com/zeroclaw-labs/zeroclaw/internal/backoff"
	"github.com/zeroclaw-labs/zeroclaw/internal/commands"
	"github.com/zeroclaw-labs/zeroclaw/internal/config"
	"github.com/zeroclaw-labs/zeroclaw/internal/observability"
	"github.com/zeroclaw-labs/zeroclaw/internal/sessions"
	"github.com/zeroclaw-labs/zeroclaw/pkg/models"
)

// TimeoutMessage is the exact user-visible text for a turn that ran out
// of its per-message budget.
const TimeoutMessage = "⚠️ Request timed out while waiting for the model. Please try again."

// Turner runs one turn. Satisfied by agent.TurnExecutor.
type Turner interface {
	Run(ctx context.Context, session *models.Session, msg *models.Message) (<-chan *agent.ResponseChunk, error)
}

// ConfigApplier receives the merged configuration after a hot-apply. The
// reliability router implements this.
type ConfigApplier interface {
	Apply(*config.Config)
}

// Supervisor owns the channel adapters: it starts them, restarts crashed
// tasks with backoff, serializes turns per sender+chat, enforces the
// per-message timeout budget, and routes approval commands.
type Supervisor struct {
	mu       sync.RWMutex
	cfg      *config.Config
	appliers []ConfigApplier
	reload   func() (*config.Config, error)

	executor Turner
	store    sessions.Store
	locker   *sessions.Locker
	engine   *autonomy.Engine
	registry *commands.Registry
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	logger   *slog.Logger

	adapters  []Adapter
	interrupt map[models.ChannelType]bool

	inflightMu sync.Mutex
	inflight   map[string]context.CancelFunc

	restartPolicy backoff.Policy

	wg sync.WaitGroup
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithLogger sets the supervisor's logger.
func WithLogger(l *slog.Logger) SupervisorOption {
	return func(s *Supervisor) { s.logger = l }
}

// WithMetrics attaches the metrics instruments.
func WithMetrics(m *observability.Metrics) SupervisorOption {
	return func(s *Supervisor) { s.metrics = m }
}

// WithTracer attaches the tracer used to wrap agent turns.
func WithTracer(t *observability.Tracer) SupervisorOption {
	return func(s *Supervisor) { s.tracer = t }
}

// WithCommands attaches the slash-command registry.
func WithCommands(r *commands.Registry) SupervisorOption {
	return func(s *Supervisor) { s.registry = r }
}

// WithReloader sets the config source re-read before each inbound
// message. Only the hot-apply whitelist is merged.
func WithReloader(fn func() (*config.Config, error)) SupervisorOption {
	return func(s *Supervisor) { s.reload = fn }
}

// WithApplier registers a component that consumes hot-applied config.
func WithApplier(a ConfigApplier) SupervisorOption {
	return func(s *Supervisor) { s.appliers = append(s.appliers, a) }
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(cfg *config.Config, executor Turner, store sessions.Store, engine *autonomy.Engine, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		cfg:       cfg,
		executor:  executor,
		store:     store,
		locker:    sessions.NewLocker(),
		engine:    engine,
		logger:    slog.Default(),
		interrupt: make(map[models.ChannelType]bool),
		inflight:  make(map[string]context.CancelFunc),
		restartPolicy: backoff.Policy{
			Initial: 2 * time.Second,
			Max:     30 * time.Second,
			Factor:  2,
			Jitter:  0.1,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds an adapter. interruptOnNew enables cancelling an
// in-flight turn when the same sender+chat sends a newer message.
func (s *Supervisor) Register(adapter Adapter, interruptOnNew bool) {
	s.adapters = append(s.adapters, adapter)
	s.interrupt[adapter.Type()] = interruptOnNew
}

// Start brings up all registered adapters. Individual failures are
// logged and tolerated; only total failure is fatal.
func (s *Supervisor) Start(ctx context.Context) error {
	if len(s.adapters) == 0 {
		return errors.New("no channels registered")
	}

	started := 0
	for _, adapter := range s.adapters {
		if err := adapter.Start(ctx); err != nil {
			s.logger.Error("channel failed to start",
				"channel", adapter.Type(), "error", err)
			continue
		}
		started++
		s.wg.Add(1)
		go s.supervise(ctx, adapter)
		s.logger.Info("channel started", "channel", adapter.Type())
	}
	if started == 0 {
		return errors.New("all channels failed to start")
	}
	return nil
}

// Wait blocks until all supervised tasks have exited.
func (s *Supervisor) Wait() { s.wg.Wait() }

// Stop shuts down all adapters.
func (s *Supervisor) Stop(ctx context.Context) {
	for _, adapter := range s.adapters {
		if err := adapter.Stop(ctx); err != nil {
			s.logger.Warn("channel stop failed", "channel", adapter.Type(), "error", err)
		}
	}
	s.wg.Wait()
}

// supervise consumes an adapter's inbound stream and restarts the
// adapter when its task exits while the process is still running.
func (s *Supervisor) supervise(ctx context.Context, adapter Adapter) {
	defer s.wg.Done()

	policy := s.restartPolicy
	restarts := 0

	for {
		s.consume(ctx, adapter)
		if ctx.Err() != nil {
			return
		}

		restarts++
		if s.metrics != nil {
			s.metrics.ChannelRestartsTotal.WithLabelValues(string(adapter.Type())).Inc()
		}
		s.logger.Warn("channel task exited, restarting",
			"channel", adapter.Type(), "restarts", restarts)

		if err := backoff.SleepAttempt(ctx, policy, restarts); err != nil {
			return
		}
		if err := adapter.Start(ctx); err != nil {
			s.logger.Error("channel restart failed",
				"channel", adapter.Type(), "restarts", restarts, "error", err)
		}
	}
}

func (s *Supervisor) consume(ctx context.Context, adapter Adapter) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-adapter.Messages():
			if !ok {
				return
			}
			if msg == nil || strings.TrimSpace(msg.Content) == "" && len(msg.Attachments) == 0 {
				continue
			}
			s.wg.Add(1)
			go s.dispatch(ctx, adapter, msg)
		}
	}
}

// dispatch processes one inbound message end to end.
func (s *Supervisor) dispatch(ctx context.Context, adapter Adapter, msg *models.Message) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in message dispatch",
				"channel", msg.Channel, "sender", msg.SenderID, "panic", fmt.Sprint(r))
		}
	}()

	s.hotApply()
	cfg := s.config()

	if s.metrics != nil {
		s.metrics.MessagesTotal.WithLabelValues(string(msg.Channel), string(models.DirectionInbound)).Inc()
	}

	scope := autonomy.Scope{SenderID: msg.SenderID, ChatID: msg.ChatID}

	if s.registry != nil {
		reply, handled, err := s.registry.Dispatch(ctx, msg.Content, scope)
		if handled {
			if err != nil {
				s.logger.Error("command failed", "error", err)
				reply = "Command failed: " + err.Error()
			}
			s.reply(ctx, adapter, msg, reply)
			return
		}
	}
	if s.engine != nil {
		mode := cfg.Autonomy.NonCLINaturalLanguageApprovalMode
		if reply, handled := commands.HandleNaturalApproval(ctx, s.engine, mode, msg.Content, scope); handled {
			s.reply(ctx, adapter, msg, reply)
			return
		}
	}

	key := sessions.SessionKey(msg.Channel, msg.SenderID, msg.ChatID)
	if s.interrupt[adapter.Type()] {
		s.cancelInflight(key)
	}

	// Per-sender+chat ordering: one turn at a time per stream.
	if err := s.locker.Lock(ctx, key); err != nil {
		return
	}
	defer s.locker.Unlock(key)

	session, err := s.store.GetOrCreate(ctx, msg.Channel, msg.SenderID, msg.ChatID)
	if err != nil {
		s.logger.Error("session lookup failed", "key", key, "error", err)
		return
	}

	tctx, cancel := context.WithTimeout(ctx, s.timeoutBudget(cfg))
	s.setInflight(key, cancel)
	defer func() {
		s.clearInflight(key)
		cancel()
	}()

	s.runTurn(ctx, tctx, adapter, session, msg)
}

// runTurn drives the executor and delivers the outcome. ctx is the
// process context used for replies; tctx carries the per-message budget.
func (s *Supervisor) runTurn(ctx, tctx context.Context, adapter Adapter, session *models.Session, msg *models.Message) {
	if s.tracer != nil {
		var span trace.Span
		tctx, span = s.tracer.TurnSpan(tctx, string(msg.Channel), session.ID)
		defer span.End()
	}
	chunks, err := s.executor.Run(tctx, session, msg)
	if err != nil {
		s.logger.Error("turn start failed", "session", session.ID, "error", err)
		s.countTurn(msg.Channel, "error")
		s.reply(ctx, adapter, msg, "Something went wrong starting your request. Please try again.")
		return
	}

	var text strings.Builder
	var approval *agent.ApprovalPrompt
	var turnErr error
	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			turnErr = chunk.Error
		}
		text.WriteString(chunk.Text)
		if chunk.Approval != nil {
			approval = chunk.Approval
		}
	}

	switch {
	case turnErr != nil && (errors.Is(turnErr, context.DeadlineExceeded) || tctx.Err() == context.DeadlineExceeded):
		s.countTurn(msg.Channel, "timeout")
		s.logger.Warn("turn timed out", "session", session.ID)
		s.reply(ctx, adapter, msg, TimeoutMessage)

	case turnErr != nil && errors.Is(turnErr, context.Canceled):
		// Interrupted by a newer message; the user message stays in
		// history and the new turn answers instead.
		s.countTurn(msg.Channel, "interrupted")
		s.logger.Info("turn interrupted", "session", session.ID)

	case turnErr != nil:
		s.countTurn(msg.Channel, "error")
		s.logger.Error("turn failed", "session", session.ID, "error", turnErr)
		reply := strings.TrimSpace(text.String())
		if reply == "" {
			reply = "Something went wrong processing your request. Please try again."
		}
		s.reply(ctx, adapter, msg, reply)

	case approval != nil:
		s.countTurn(msg.Channel, "pending_approval")
		s.reply(ctx, adapter, msg, approvalPromptText(approval))

	default:
		s.countTurn(msg.Channel, "ok")
		if reply := strings.TrimSpace(text.String()); reply != "" {
			s.reply(ctx, adapter, msg, reply)
		}
	}
}

func approvalPromptText(p *agent.ApprovalPrompt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tool %s requires approval (request %s).", p.ToolName, p.RequestID)
	if p.Reason != "" {
		b.WriteString(" Reason: " + p.Reason + ".")
	}
	fmt.Fprintf(&b, " Reply /approve-confirm %s to proceed.", p.RequestID)
	return b.String()
}

func (s *Supervisor) reply(ctx context.Context, adapter Adapter, inbound *models.Message, text string) {
	if text == "" {
		return
	}
	out := &models.Message{
		SessionID: inbound.SessionID,
		Channel:   inbound.Channel,
		SenderID:  inbound.SenderID,
		ChatID:    inbound.ChatID,
		Direction: models.DirectionOutbound,
		Role:      models.RoleAssistant,
		Content:   text,
		CreatedAt: time.Now(),
	}
	if err := adapter.Send(ctx, out); err != nil {
		s.logger.Error("reply delivery failed",
			"channel", inbound.Channel, "chat", inbound.ChatID, "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.MessagesTotal.WithLabelValues(string(inbound.Channel), string(models.DirectionOutbound)).Inc()
	}
}

func (s *Supervisor) countTurn(channel models.ChannelType, status string) {
	if s.metrics != nil {
		s.metrics.TurnsTotal.WithLabelValues(string(channel), status).Inc()
	}
}

// timeoutBudget scales the base per-message timeout with the iteration
// bound, clamped to [1, 4].
func (s *Supervisor) timeoutBudget(cfg *config.Config) time.Duration {
	scale := cfg.Agent.EffectiveMaxToolIterations()
	if scale < 1 {
		scale = 1
	}
	if scale > 4 {
		scale = 4
	}
	return cfg.Channels.MessageTimeout() * time.Duration(scale)
}

func (s *Supervisor) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// hotApply re-reads the config source and merges the whitelisted subset
// before the next turn starts.
func (s *Supervisor) hotApply() {
	if s.reload == nil {
		return
	}
	next, err := s.reload()
	if err != nil {
		s.logger.Warn("config reload failed", "error", err)
		return
	}

	s.mu.Lock()
	changed := s.cfg.HotApplyFrom(next)
	cfg := s.cfg
	s.mu.Unlock()

	if !changed {
		return
	}
	s.logger.Info("config hot-applied",
		"default_provider", cfg.DefaultProvider, "default_model", cfg.DefaultModel)
	for _, a := range s.appliers {
		a.Apply(cfg)
	}
}

func (s *Supervisor) setInflight(key string, cancel context.CancelFunc) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	s.inflight[key] = cancel
}

func (s *Supervisor) clearInflight(key string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, key)
}

func (s *Supervisor) cancelInflight(key string) {
	s.inflightMu.Lock()
	cancel := s.inflight[key]
	delete(s.inflight, key)
	s.inflightMu.Unlock()
	if cancel != nil {
		s.logger.Info("interrupting in-flight turn", "key", key)
		cancel()
	}
}
