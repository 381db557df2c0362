// Package agent implements the tool-call turn executor: the loop that
// drives one user message through model calls, policy checks, and tool
// executions until a final answer or a bound is hit.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zeroclaw-labs/zeroclaw/internal/autonomy"
	"github.com/zeroclaw-labs/zeroclaw/internal/sessions"
	"github.com/zeroclaw-labs/zeroclaw/pkg/models"
)

const turnBufferSize = 64

// MaxResponseTextSize caps the accumulated text of one model response.
const MaxResponseTextSize = 4 << 20

// MaxToolCallsPerIteration caps tool calls requested in one response.
const MaxToolCallsPerIteration = 32

// Policy is the subset of the autonomy engine the turn executor needs.
type Policy interface {
	Authorize(ctx context.Context, call models.ToolCall, scope autonomy.Scope) (autonomy.Decision, error)
	RecordAction(ctx context.Context) error
	RecordCost(ctx context.Context, cents int64) error
}

// TurnConfig bounds one turn's tool-call loop.
type TurnConfig struct {
	// MaxIterations limits main-loop iterations. Values <= 0 mean the
	// default of 10, never "unlimited".
	MaxIterations int

	// MaxHistory caps the conversation history loaded per turn.
	MaxHistory int

	// MaxTokens is the default max tokens for model responses.
	MaxTokens int

	// ParallelTools dispatches approved tool calls concurrently. A batch
	// containing any gated call always executes sequentially.
	ParallelTools bool

	// HighRiskTools extends the built-in high-risk set; the research
	// phase also excludes them from its tool surface.
	HighRiskTools []string

	// Research configures the optional pre-loop research phase.
	Research ResearchOptions

	// ExecutorConfig configures the tool executor.
	ExecutorConfig *ExecutorConfig
}

// DefaultTurnConfig returns the default turn configuration.
func DefaultTurnConfig() *TurnConfig {
	return &TurnConfig{
		MaxIterations:  10,
		MaxHistory:     50,
		MaxTokens:      4096,
		ExecutorConfig: DefaultExecutorConfig(),
	}
}

func sanitizeTurnConfig(cfg *TurnConfig) *TurnConfig {
	if cfg == nil {
		return DefaultTurnConfig()
	}
	out := *cfg
	defaults := DefaultTurnConfig()
	if out.MaxIterations <= 0 {
		out.MaxIterations = defaults.MaxIterations
	}
	if out.MaxHistory <= 0 {
		out.MaxHistory = defaults.MaxHistory
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = defaults.MaxTokens
	}
	if out.ExecutorConfig == nil {
		out.ExecutorConfig = defaults.ExecutorConfig
	}
	return &out
}

// TurnExecutor drives the turn state machine:
//
//	init -> (research) -> stream -> execute_tools -> continue -> stream ...
//	                         \-> complete (no tool calls or bound hit)
//
// Research iterations have their own budget and never count toward the
// main iteration bound.
type TurnExecutor struct {
	provider LLMProvider
	executor *Executor
	registry *ToolRegistry
	sessions sessions.Store
	policy   Policy
	config   *TurnConfig
	logger   *slog.Logger

	defaultModel  string
	defaultSystem string
	temperature   float64
}

// NewTurnExecutor creates a turn executor. A nil config uses defaults.
func NewTurnExecutor(provider LLMProvider, registry *ToolRegistry, store sessions.Store, policy Policy, cfg *TurnConfig) *TurnExecutor {
	cfg = sanitizeTurnConfig(cfg)
	if registry == nil {
		registry = NewToolRegistry()
	}
	return &TurnExecutor{
		provider: provider,
		executor: NewExecutor(registry, cfg.ExecutorConfig),
		registry: registry,
		sessions: store,
		policy:   policy,
		config:   cfg,
		logger:   slog.Default(),
	}
}

// SetLogger replaces the executor's logger.
func (t *TurnExecutor) SetLogger(logger *slog.Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// SetDefaultModel sets the model used when requests do not specify one.
func (t *TurnExecutor) SetDefaultModel(model string) { t.defaultModel = model }

// SetDefaultSystem sets the default system prompt.
func (t *TurnExecutor) SetDefaultSystem(system string) { t.defaultSystem = system }

// SetTemperature sets the sampling temperature forwarded to providers.
func (t *TurnExecutor) SetTemperature(temp float64) { t.temperature = temp }

// Registry returns the executor's tool registry.
func (t *TurnExecutor) Registry() *ToolRegistry { return t.registry }

// turnState carries the in-flight state of one turn.
type turnState struct {
	phase      TurnPhase
	iteration  int
	messages   []CompletionMessage
	text       strings.Builder
	provenance *Provenance
}

// Run executes one turn and streams results through the returned channel.
// The channel closes when the turn completes, aborts, or the context is
// cancelled.
func (t *TurnExecutor) Run(ctx context.Context, session *models.Session, msg *models.Message) (<-chan *ResponseChunk, error) {
	if t.provider == nil {
		return nil, ErrNoProvider
	}
	if session == nil {
		return nil, errors.New("session is nil")
	}
	if msg == nil {
		return nil, errors.New("message is nil")
	}
	if t.sessions == nil {
		return nil, errors.New("no session store configured")
	}

	chunks := make(chan *ResponseChunk, turnBufferSize)

	go func() {
		defer close(chunks)

		state := &turnState{phase: PhaseInit}

		if err := t.initialize(ctx, session, msg, state); err != nil {
			t.fail(chunks, state, err)
			return
		}

		if shouldResearch(t.config.Research, msg.Content) {
			state.phase = PhaseResearch
			if err := t.researchPhase(ctx, session, state); err != nil {
				t.fail(chunks, state, err)
				return
			}
		}

		scope := autonomy.Scope{SenderID: msg.SenderID, ChatID: msg.ChatID}

		for state.iteration = 0; state.iteration < t.config.MaxIterations; state.iteration++ {
			select {
			case <-ctx.Done():
				t.fail(chunks, state, ctx.Err())
				return
			default:
			}

			state.phase = PhaseStream
			toolCalls, err := t.streamPhase(ctx, state, t.registry.Definitions(), chunks)
			if err != nil {
				t.fail(chunks, state, err)
				return
			}

			if len(toolCalls) == 0 {
				t.persistAssistant(ctx, session, state, nil)
				state.phase = PhaseComplete
				chunks <- &ResponseChunk{Provenance: state.provenance}
				return
			}

			state.phase = PhaseExecuteTools
			t.persistAssistant(ctx, session, state, toolCalls)

			results, turnErr := t.executePhase(ctx, session, scope, toolCalls, chunks)
			if turnErr != nil {
				// Persist whatever results exist so the assistant's
				// tool-call message is not left unpaired in history.
				t.persistToolResults(ctx, session, results)
				var pending *ApprovalPendingError
				if errors.As(turnErr, &pending) {
					// The turn ends with a prompt, not an error. After the
					// sender confirms, a retried turn executes the tool.
					return
				}
				t.fail(chunks, state, turnErr)
				return
			}

			t.persistToolResults(ctx, session, results)

			state.phase = PhaseContinue
			state.messages = append(state.messages, CompletionMessage{
				Role:        "tool",
				ToolResults: results,
			})
			state.text.Reset()
		}

		t.fail(chunks, state, &IterationExceededError{Limit: t.config.MaxIterations})
	}()

	return chunks, nil
}

func (t *TurnExecutor) fail(chunks chan<- *ResponseChunk, state *turnState, err error) {
	chunks <- &ResponseChunk{Error: &TurnError{
		Phase:     state.phase,
		Iteration: state.iteration,
		Cause:     err,
	}}
}

// initialize loads history, builds the message window, and persists the
// inbound message.
func (t *TurnExecutor) initialize(ctx context.Context, session *models.Session, msg *models.Message, state *turnState) error {
	history, err := t.sessions.GetHistory(ctx, session.ID, t.config.MaxHistory)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	state.messages = make([]CompletionMessage, 0, len(history)+1)
	for _, m := range history {
		state.messages = append(state.messages, CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
			Attachments: m.Attachments,
		})
	}

	role := msg.Role
	if role == "" {
		role = models.RoleUser
	}
	state.messages = append(state.messages, CompletionMessage{
		Role:        string(role),
		Content:     msg.Content,
		Attachments: msg.Attachments,
	})

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SessionID == "" {
		msg.SessionID = session.ID
	}
	if msg.Channel == "" {
		msg.Channel = session.Channel
	}
	if msg.Direction == "" {
		msg.Direction = models.DirectionInbound
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	return t.sessions.AppendMessage(ctx, session.ID, msg)
}

// researchPhase runs a bounded read-only loop to pre-populate context.
// Its iterations have a separate budget and do not stream tool results
// to the channel; collected context lands in the message window.
func (t *TurnExecutor) researchPhase(ctx context.Context, session *models.Session, state *turnState) error {
	tools := researchTools(t.registry.Definitions(), t.config.HighRiskTools)
	if len(tools) == 0 {
		return nil
	}

	budget := t.config.Research.MaxIterations
	if budget <= 0 {
		budget = 3
	}

	for i := 0; i < budget; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		toolCalls, err := t.streamPhase(ctx, state, tools, nil)
		if err != nil {
			// Research is best effort: a failed model call here should
			// not kill the turn.
			t.logger.Warn("research phase model call failed", "error", err, "iteration", i)
			return nil
		}
		if len(toolCalls) == 0 {
			break
		}

		state.messages = append(state.messages, CompletionMessage{
			Role:      "assistant",
			Content:   state.text.String(),
			ToolCalls: toolCalls,
		})
		state.text.Reset()

		// The model can request tools it was never offered. Only
		// low-risk calls execute during research; anything gated comes
		// back as an error result instead of running.
		results := make([]models.ToolResult, len(toolCalls))
		safe := make([]models.ToolCall, 0, len(toolCalls))
		safeIdx := make([]int, 0, len(toolCalls))
		for j, call := range toolCalls {
			if autonomy.Classify(call.Name, call.Input, t.config.HighRiskTools) != autonomy.RiskLow {
				results[j] = models.ToolResult{
					ToolCallID: call.ID,
					Content:    fmt.Sprintf("tool %q is not available during research", call.Name),
					IsError:    true,
				}
				continue
			}
			safe = append(safe, call)
			safeIdx = append(safeIdx, j)
		}
		execResults := t.executor.ExecuteSequential(ctx, safe)
		for k, r := range execResults {
			results[safeIdx[k]] = toToolResult(safe[k], r)
		}
		state.messages = append(state.messages, CompletionMessage{
			Role:        "tool",
			ToolResults: results,
		})
	}

	// Leftover research text is internal context, not user output.
	state.text.Reset()
	return nil
}

// streamPhase calls the provider and drains its stream, forwarding text
// chunks (when chunks is non-nil) and collecting tool calls.
func (t *TurnExecutor) streamPhase(ctx context.Context, state *turnState, tools []ToolDefinition, chunks chan<- *ResponseChunk) ([]models.ToolCall, error) {
	req := &CompletionRequest{
		Model:       t.defaultModel,
		System:      t.defaultSystem,
		Messages:    state.messages,
		Tools:       tools,
		MaxTokens:   t.config.MaxTokens,
		Temperature: t.temperature,
	}

	stream, err := t.provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	var toolCalls []models.ToolCall
	for chunk := range stream {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		if chunk.Text != "" {
			if state.text.Len()+len(chunk.Text) > MaxResponseTextSize {
				return nil, fmt.Errorf("response text exceeds maximum size of %d bytes", MaxResponseTextSize)
			}
			state.text.WriteString(chunk.Text)
			if chunks != nil {
				chunks <- &ResponseChunk{Text: chunk.Text}
			}
		}
		if chunk.ToolCall != nil {
			if len(toolCalls) >= MaxToolCallsPerIteration {
				return nil, fmt.Errorf("tool calls exceed maximum of %d per iteration", MaxToolCallsPerIteration)
			}
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if chunk.Provenance != nil {
			state.provenance = chunk.Provenance
		}
	}
	return toolCalls, nil
}

// executePhase authorizes and runs one batch of tool calls. Results come
// back in request order. A denied call aborts the turn; a pending call
// ends it with an approval prompt.
func (t *TurnExecutor) executePhase(ctx context.Context, session *models.Session, scope autonomy.Scope, calls []models.ToolCall, chunks chan<- *ResponseChunk) ([]models.ToolResult, error) {
	// Authorization happens immediately before dispatch so the decision
	// reflects current budgets and approve lists, not turn-start state.
	for i := range calls {
		dec, err := t.authorize(ctx, calls[i], scope)
		if err != nil {
			return nil, err
		}
		switch dec.Verdict {
		case autonomy.Denied:
			t.logger.Warn("tool call denied",
				"tool", calls[i].Name, "tier", string(dec.Tier), "reason", dec.Reason)
			err := &PolicyDeniedError{Tool: calls[i].Name, Reason: dec.Reason}
			return []models.ToolResult{{
				ToolCallID: calls[i].ID,
				Content:    err.Error(),
				IsError:    true,
			}}, err
		case autonomy.Pending:
			chunks <- &ResponseChunk{Approval: &ApprovalPrompt{
				RequestID: dec.RequestID,
				ToolName:  calls[i].Name,
				Reason:    dec.Reason,
			}}
			return []models.ToolResult{{
				ToolCallID: calls[i].ID,
				Content:    fmt.Sprintf("approval required for tool %s (request %s)", calls[i].Name, dec.RequestID),
				IsError:    true,
			}}, &ApprovalPendingError{Tool: calls[i].Name, RequestID: dec.RequestID}
		}
	}

	var execResults []*ExecutionResult
	if t.config.ParallelTools {
		execResults = t.executor.ExecuteAll(ctx, calls)
	} else {
		execResults = t.executor.ExecuteSequential(ctx, calls)
	}

	results := make([]models.ToolResult, len(calls))
	for i, r := range execResults {
		results[i] = toToolResult(calls[i], r)

		if t.policy != nil {
			if err := t.policy.RecordAction(ctx); err != nil {
				t.logger.Warn("record action failed", "error", err)
			}
			if results[i].CostCents > 0 {
				if err := t.policy.RecordCost(ctx, results[i].CostCents); err != nil {
					t.logger.Warn("record cost failed", "error", err)
				}
			}
		}

		chunks <- &ResponseChunk{ToolResult: &results[i]}
	}
	return results, nil
}

func (t *TurnExecutor) authorize(ctx context.Context, call models.ToolCall, scope autonomy.Scope) (autonomy.Decision, error) {
	if t.policy == nil {
		return autonomy.Decision{Verdict: autonomy.Approved}, nil
	}
	return t.policy.Authorize(ctx, call, scope)
}

func toToolResult(call models.ToolCall, r *ExecutionResult) models.ToolResult {
	switch {
	case r == nil:
		return models.ToolResult{ToolCallID: call.ID, Content: "tool execution failed", IsError: true}
	case r.Err != nil:
		return models.ToolResult{ToolCallID: call.ID, Content: r.Err.Error(), IsError: true}
	case r.Output != nil:
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    r.Output.Content,
			IsError:    r.Output.IsError,
			CostCents:  r.Output.CostCents,
		}
	default:
		return models.ToolResult{ToolCallID: call.ID, Content: "tool returned no output", IsError: true}
	}
}

func (t *TurnExecutor) persistAssistant(ctx context.Context, session *models.Session, state *turnState, toolCalls []models.ToolCall) {
	content := state.text.String()
	out := &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Channel:   session.Channel,
		SenderID:  session.SenderID,
		ChatID:    session.ChatID,
		Direction: models.DirectionOutbound,
		Role:      models.RoleAssistant,
		Content:   content,
		ToolCalls: toolCalls,
		CreatedAt: time.Now(),
	}
	if err := t.sessions.AppendMessage(ctx, session.ID, out); err != nil {
		t.logger.Warn("persist assistant message failed", "error", err)
	}
	state.messages = append(state.messages, CompletionMessage{
		Role:      "assistant",
		Content:   content,
		ToolCalls: toolCalls,
	})
}

func (t *TurnExecutor) persistToolResults(ctx context.Context, session *models.Session, results []models.ToolResult) {
	if len(results) == 0 {
		return
	}
	msg := &models.Message{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		Channel:     session.Channel,
		SenderID:    session.SenderID,
		ChatID:      session.ChatID,
		Direction:   models.DirectionInbound,
		Role:        models.RoleTool,
		ToolResults: results,
		CreatedAt:   time.Now(),
	}
	if err := t.sessions.AppendMessage(ctx, session.ID, msg); err != nil {
		t.logger.Warn("persist tool results failed", "error", err)
	}
}
