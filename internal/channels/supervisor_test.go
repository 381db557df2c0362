package channels

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zeroclaw-labs/zeroclaw/internal/agent"
	"github.com/zeroclaw-labs/zeroclaw/internal/autonomy"
	"github.com/zeroclaw-labs/zeroclaw/internal/backoff"
	"github.com/zeroclaw-labs/zeroclaw/internal/commands"
	"github.com/zeroclaw-labs/zeroclaw/internal/config"
	"github.com/zeroclaw-labs/zeroclaw/internal/sessions"
	"github.com/zeroclaw-labs/zeroclaw/pkg/models"
)

type fakeAdapter struct {
	mu       sync.Mutex
	typ      models.ChannelType
	inbound  chan *models.Message
	sent     chan *models.Message
	startErr error
	starts   int32
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		typ:  models.ChannelLoopback,
		sent: make(chan *models.Message, 16),
	}
}

func (a *fakeAdapter) Start(ctx context.Context) error {
	atomic.AddInt32(&a.starts, 1)
	if a.startErr != nil {
		return a.startErr
	}
	a.mu.Lock()
	a.inbound = make(chan *models.Message, 16)
	a.mu.Unlock()
	return nil
}

func (a *fakeAdapter) Stop(context.Context) error { return nil }

func (a *fakeAdapter) Send(ctx context.Context, msg *models.Message) error {
	select {
	case a.sent <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *fakeAdapter) Messages() <-chan *models.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inbound
}

func (a *fakeAdapter) Type() models.ChannelType { return a.typ }
func (a *fakeAdapter) Status() Status           { return Status{Connected: true} }

func (a *fakeAdapter) inject(t *testing.T, sender, chat, text string) {
	t.Helper()
	a.mu.Lock()
	ch := a.inbound
	a.mu.Unlock()
	select {
	case ch <- &models.Message{
		Channel:   a.typ,
		SenderID:  sender,
		ChatID:    chat,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   text,
		CreatedAt: time.Now(),
	}:
	case <-time.After(time.Second):
		t.Fatal("inject timed out")
	}
}

func (a *fakeAdapter) closeInbound() {
	a.mu.Lock()
	defer a.mu.Unlock()
	close(a.inbound)
}

func (a *fakeAdapter) awaitReply(t *testing.T) *models.Message {
	t.Helper()
	select {
	case msg := <-a.sent:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a reply")
		return nil
	}
}

type fakeTurner struct {
	fn    func(ctx context.Context, session *models.Session, msg *models.Message) (<-chan *agent.ResponseChunk, error)
	calls int32
}

func (f *fakeTurner) Run(ctx context.Context, session *models.Session, msg *models.Message) (<-chan *agent.ResponseChunk, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.fn(ctx, session, msg)
}

func textTurner(text string) *fakeTurner {
	return &fakeTurner{fn: func(context.Context, *models.Session, *models.Message) (<-chan *agent.ResponseChunk, error) {
		out := make(chan *agent.ResponseChunk, 1)
		out <- &agent.ResponseChunk{Text: text}
		close(out)
		return out, nil
	}}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseConfig() *config.Config {
	return &config.Config{
		DefaultProvider: "anthropic",
		DefaultModel:    "claude-a",
		Agent:           config.AgentConfig{MaxToolIterations: 10},
		Channels:        config.ChannelsConfig{MessageTimeoutSecs: 60},
	}
}

func newTestSupervisor(t *testing.T, cfg *config.Config, turner Turner, opts ...SupervisorOption) *Supervisor {
	t.Helper()
	engine := autonomy.NewEngine(cfg.Autonomy, autonomy.NewMemoryStore())
	opts = append([]SupervisorOption{WithLogger(quietLogger())}, opts...)
	return NewSupervisor(cfg, turner, sessions.NewMemoryStore(50), engine, opts...)
}

func TestTimeoutBudgetScalesWithIterationBound(t *testing.T) {
	tests := []struct {
		iterations int
		want       time.Duration
	}{
		{10, 240 * time.Second}, // clamped at 4
		{0, 240 * time.Second},  // 0 means the default bound of 10
		{4, 240 * time.Second},
		{2, 120 * time.Second},
		{1, 60 * time.Second},
	}
	s := newTestSupervisor(t, baseConfig(), textTurner("hi"))
	for _, tt := range tests {
		cfg := baseConfig()
		cfg.Agent.MaxToolIterations = tt.iterations
		if got := s.timeoutBudget(cfg); got != tt.want {
			t.Errorf("timeoutBudget(max_tool_iterations=%d) = %v, want %v", tt.iterations, got, tt.want)
		}
	}
}

func TestDispatchDeliversReply(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter := newFakeAdapter()
	s := newTestSupervisor(t, baseConfig(), textTurner("hello there"))
	s.Register(adapter, false)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	adapter.inject(t, "alice", "chat-1", "hi")
	reply := adapter.awaitReply(t)
	if reply.Content != "hello there" {
		t.Errorf("reply = %q", reply.Content)
	}
	if reply.Direction != models.DirectionOutbound || reply.Role != models.RoleAssistant {
		t.Errorf("reply metadata = %+v", reply)
	}
}

func TestTimeoutSurfacesExactUserText(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	turner := &fakeTurner{fn: func(context.Context, *models.Session, *models.Message) (<-chan *agent.ResponseChunk, error) {
		out := make(chan *agent.ResponseChunk, 1)
		out <- &agent.ResponseChunk{Error: context.DeadlineExceeded}
		close(out)
		return out, nil
	}}

	adapter := newFakeAdapter()
	s := newTestSupervisor(t, baseConfig(), turner)
	s.Register(adapter, false)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	adapter.inject(t, "alice", "chat-1", "hi")
	reply := adapter.awaitReply(t)
	if reply.Content != TimeoutMessage {
		t.Errorf("timeout reply = %q, want %q", reply.Content, TimeoutMessage)
	}
}

func TestInterruptCancelsInFlightTurn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	firstStarted := make(chan struct{})
	var call int32
	turner := &fakeTurner{fn: func(tctx context.Context, _ *models.Session, _ *models.Message) (<-chan *agent.ResponseChunk, error) {
		n := atomic.AddInt32(&call, 1)
		out := make(chan *agent.ResponseChunk, 1)
		if n == 1 {
			close(firstStarted)
			go func() {
				<-tctx.Done()
				out <- &agent.ResponseChunk{Error: tctx.Err()}
				close(out)
			}()
			return out, nil
		}
		out <- &agent.ResponseChunk{Text: "second answer"}
		close(out)
		return out, nil
	}}

	adapter := newFakeAdapter()
	s := newTestSupervisor(t, baseConfig(), turner)
	s.Register(adapter, true)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	adapter.inject(t, "alice", "chat-1", "first")
	<-firstStarted
	adapter.inject(t, "alice", "chat-1", "second")

	reply := adapter.awaitReply(t)
	if reply.Content != "second answer" {
		t.Errorf("reply = %q, want the second turn's answer", reply.Content)
	}
	// The interrupted turn stays silent.
	select {
	case extra := <-adapter.sent:
		t.Errorf("unexpected extra reply %q", extra.Content)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCrashedChannelTaskIsRestarted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter := newFakeAdapter()
	s := newTestSupervisor(t, baseConfig(), textTurner("ok"))
	s.restartPolicy = backoff.Policy{Initial: time.Millisecond, Max: 10 * time.Millisecond, Factor: 2}
	s.Register(adapter, false)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	adapter.closeInbound()

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&adapter.starts) < 2 {
		select {
		case <-deadline:
			t.Fatal("adapter was not restarted after its task exited")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// The restarted task keeps serving messages.
	adapter.inject(t, "alice", "chat-1", "hi again")
	if reply := adapter.awaitReply(t); reply.Content != "ok" {
		t.Errorf("post-restart reply = %q", reply.Content)
	}
}

func TestStartupToleratesPartialChannelFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bad := newFakeAdapter()
	bad.typ = models.ChannelTelegram
	bad.startErr = errors.New("boom")
	good := newFakeAdapter()

	s := newTestSupervisor(t, baseConfig(), textTurner("ok"))
	s.Register(bad, false)
	s.Register(good, false)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("partial failure must not be fatal: %v", err)
	}

	bad2 := newFakeAdapter()
	bad2.startErr = errors.New("boom")
	s2 := newTestSupervisor(t, baseConfig(), textTurner("ok"))
	s2.Register(bad2, false)
	if err := s2.Start(ctx); err == nil {
		t.Fatal("total failure must be fatal")
	}
}

func TestApprovalCommandBypassesTurn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := baseConfig()
	engine := autonomy.NewEngine(cfg.Autonomy, autonomy.NewMemoryStore())
	registry := commands.NewRegistry()
	commands.RegisterApprovalCommands(registry, engine)

	turner := textTurner("model answer")
	adapter := newFakeAdapter()
	s := NewSupervisor(cfg, turner, sessions.NewMemoryStore(50), engine,
		WithLogger(quietLogger()), WithCommands(registry))
	s.Register(adapter, false)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	adapter.inject(t, "alice", "chat-1", "/approvals")
	reply := adapter.awaitReply(t)
	if reply.Content != "No tools are approved." {
		t.Errorf("reply = %q", reply.Content)
	}
	if atomic.LoadInt32(&turner.calls) != 0 {
		t.Error("a command message must not start a turn")
	}
}

func TestHotApplyOnInboundMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	next := baseConfig()
	next.DefaultModel = "claude-b"
	next.Reliability.ProviderRetries = 5

	var applied int32
	applier := applierFunc(func(cfg *config.Config) {
		if cfg.DefaultModel == "claude-b" && cfg.Reliability.ProviderRetries == 5 {
			atomic.AddInt32(&applied, 1)
		}
	})

	adapter := newFakeAdapter()
	s := newTestSupervisor(t, baseConfig(), textTurner("ok"),
		WithReloader(func() (*config.Config, error) { return next, nil }),
		WithApplier(applier))
	s.Register(adapter, false)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	adapter.inject(t, "alice", "chat-1", "hi")
	adapter.awaitReply(t)

	if atomic.LoadInt32(&applied) != 1 {
		t.Errorf("applied = %d, want exactly one hot-apply", applied)
	}
	if got := s.config().DefaultModel; got != "claude-b" {
		t.Errorf("DefaultModel = %q after hot-apply", got)
	}

	// A second message with an unchanged source applies nothing new.
	adapter.inject(t, "alice", "chat-1", "hi again")
	adapter.awaitReply(t)
	if atomic.LoadInt32(&applied) != 1 {
		t.Errorf("applied = %d after unchanged reload, want 1", applied)
	}
}

type applierFunc func(*config.Config)

func (f applierFunc) Apply(cfg *config.Config) { f(cfg) }
