package autonomy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zeroclaw-labs/zeroclaw/internal/config"
	"github.com/zeroclaw-labs/zeroclaw/pkg/models"
)

// Verdict is the outcome of a policy check for a single tool call.
type Verdict int

const (
	// Approved means the call may be dispatched now.
	Approved Verdict = iota
	// Pending means the call needs an explicit confirmation from the
	// sender before it may run.
	Pending
	// Denied means the call must not run.
	Denied
)

func (v Verdict) String() string {
	switch v {
	case Approved:
		return "approved"
	case Pending:
		return "pending"
	case Denied:
		return "denied"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Decision is the result of Authorize for one tool call.
type Decision struct {
	Verdict   Verdict
	Tier      RiskTier
	RequestID string // set when Verdict == Pending
	Reason    string
}

// Scope identifies who asked for a tool call and where. Confirmations
// must come from the same scope that triggered the request.
type Scope struct {
	SenderID string
	ChatID   string
}

// Engine enforces the autonomy policy: risk classification, durable
// per-tool approvals, pending confirmation requests, and hourly action
// plus daily cost budgets.
type Engine struct {
	cfg     config.AutonomyConfig
	store   Store
	pending *pendingRequests
	logger  *slog.Logger
	now     func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides the engine's time source. Tests use this to
// control TTL and budget windows.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine builds a policy engine backed by the given store.
func NewEngine(cfg config.AutonomyConfig, store Store, opts ...EngineOption) *Engine {
	e := &Engine{
		cfg:    cfg,
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.pending = newPendingRequests(cfg.ApprovalTTL(), e.now)
	return e
}

// Authorize decides whether a tool call may run for the given scope.
// Budgets are checked before anything else so that exhausted budgets
// deny even low-risk calls.
func (e *Engine) Authorize(ctx context.Context, call models.ToolCall, scope Scope) (Decision, error) {
	if reason, exceeded, err := e.budgetExceeded(ctx); err != nil {
		return Decision{}, err
	} else if exceeded {
		e.logger.Warn("tool call denied by budget", "tool", call.Name, "reason", reason)
		return Decision{Verdict: Denied, Reason: reason}, nil
	}

	tier := Classify(call.Name, call.Input, e.cfg.HighRiskTools)
	dec := Decision{Tier: tier}

	// The durable deny list wins over everything below, including a
	// later entry on the approve list.
	if denied, err := e.store.IsDenied(ctx, call.Name); err != nil {
		return Decision{}, fmt.Errorf("autonomy store: %w", err)
	} else if denied {
		dec.Verdict = Denied
		dec.Reason = fmt.Sprintf("tool %q is on the deny list", call.Name)
		return dec, nil
	}

	// High risk is blocked outright regardless of autonomy level.
	if tier == RiskHigh && e.cfg.BlockHighRisk() {
		dec.Verdict = Denied
		dec.Reason = fmt.Sprintf("tool %q is high risk and blocked by policy", call.Name)
		return dec, nil
	}

	if e.cfg.Level == config.AutonomyReadOnly && tier != RiskLow {
		dec.Verdict = Denied
		dec.Reason = fmt.Sprintf("autonomy level read_only forbids %s-risk tool %q", tier, call.Name)
		return dec, nil
	}

	if e.alwaysAsk(call.Name) {
		return e.requestApproval(call, scope, "tool is configured always_ask")
	}

	if tier == RiskLow {
		dec.Verdict = Approved
		return dec, nil
	}

	// Medium risk (or unblocked high risk) from here on.
	if e.cfg.Level == config.AutonomyFull || e.autoApproved(call.Name) {
		dec.Verdict = Approved
		return dec, nil
	}
	approved, err := e.store.IsApproved(ctx, call.Name)
	if err != nil {
		return Decision{}, fmt.Errorf("autonomy store: %w", err)
	}
	if approved {
		dec.Verdict = Approved
		return dec, nil
	}

	switch e.cfg.NonCLINaturalLanguageApprovalMode {
	case config.ApprovalDirect:
		// Direct mode treats the sender's message itself as consent:
		// approve now and persist so the tool stays approved.
		if err := e.store.Approve(ctx, call.Name, scope.SenderID); err != nil {
			return Decision{}, fmt.Errorf("autonomy store: %w", err)
		}
		dec.Verdict = Approved
		dec.Reason = "approved directly and persisted"
		return dec, nil
	case config.ApprovalDisabled:
		dec.Verdict = Denied
		dec.Reason = fmt.Sprintf("tool %q requires approval but approvals are disabled on this surface", call.Name)
		return dec, nil
	default: // request_confirm
		return e.requestApproval(call, scope, fmt.Sprintf("%s-risk tool requires confirmation", tier))
	}
}

func (e *Engine) requestApproval(call models.ToolCall, scope Scope, reason string) (Decision, error) {
	req := e.pending.create(call.Name, scope.SenderID, scope.ChatID, reason)
	e.logger.Info("approval requested",
		"tool", call.Name, "request_id", req.ID, "sender", scope.SenderID, "chat", scope.ChatID)
	return Decision{
		Verdict:   Pending,
		Tier:      Classify(call.Name, call.Input, e.cfg.HighRiskTools),
		RequestID: req.ID,
		Reason:    reason,
	}, nil
}

// Request creates a pending approval request for a tool directly, without
// a triggering tool call. Backs the explicit /approve-request command.
func (e *Engine) Request(tool string, scope Scope) *PendingRequest {
	req := e.pending.create(tool, scope.SenderID, scope.ChatID, "requested explicitly")
	e.logger.Info("approval requested",
		"tool", tool, "request_id", req.ID, "sender", scope.SenderID, "chat", scope.ChatID)
	return req
}

// Confirm resolves a pending request. Only the scope that created the
// request may confirm it; a mismatched sender or chat is rejected
// without consuming the request. Expired requests are rejected.
func (e *Engine) Confirm(ctx context.Context, id string, scope Scope) (*PendingRequest, error) {
	req, expired := e.pending.take(id, scope.SenderID, scope.ChatID)
	if expired {
		return nil, &ExpiredError{RequestID: id}
	}
	if req == nil {
		return nil, &NotPendingError{RequestID: id}
	}
	if err := e.store.Approve(ctx, req.Tool, scope.SenderID); err != nil {
		return nil, fmt.Errorf("autonomy store: %w", err)
	}
	e.logger.Info("approval confirmed", "tool", req.Tool, "request_id", id, "sender", scope.SenderID)
	return req, nil
}

// Deny discards a pending request. Scoping rules match Confirm.
func (e *Engine) Deny(id string, scope Scope) (*PendingRequest, error) {
	req, expired := e.pending.take(id, scope.SenderID, scope.ChatID)
	if expired {
		return nil, &ExpiredError{RequestID: id}
	}
	if req == nil {
		return nil, &NotPendingError{RequestID: id}
	}
	e.logger.Info("approval denied", "tool", req.Tool, "request_id", id, "sender", scope.SenderID)
	return req, nil
}

// PendingFor lists live pending requests created by the given scope.
func (e *Engine) PendingFor(scope Scope) []*PendingRequest {
	return e.pending.list(scope.SenderID, scope.ChatID)
}

// Approve durably approves a tool. Used by the CLI and the /approve
// command, bypassing the pending flow.
func (e *Engine) Approve(ctx context.Context, tool, by string) error {
	return e.store.Approve(ctx, tool, by)
}

// Revoke removes a tool from the durable approve list.
func (e *Engine) Revoke(ctx context.Context, tool string) error {
	return e.store.Revoke(ctx, tool)
}

// Approvals lists durably approved tools.
func (e *Engine) Approvals(ctx context.Context) ([]string, error) {
	return e.store.ListApproved(ctx)
}

// Forbid durably deny-lists a tool. A deny-listed tool is refused even
// when approved or auto-approvable.
func (e *Engine) Forbid(ctx context.Context, tool, by string) error {
	return e.store.DenyTool(ctx, tool, by)
}

// Permit removes a tool from the durable deny list.
func (e *Engine) Permit(ctx context.Context, tool string) error {
	return e.store.AllowTool(ctx, tool)
}

// Denials lists durably deny-listed tools.
func (e *Engine) Denials(ctx context.Context) ([]string, error) {
	return e.store.ListDenied(ctx)
}

// RecordAction charges one action against the hourly budget.
func (e *Engine) RecordAction(ctx context.Context) error {
	return e.store.RecordAction(ctx, e.now())
}

// RecordCost charges cents against the daily cost budget.
func (e *Engine) RecordCost(ctx context.Context, cents int64) error {
	if cents <= 0 {
		return nil
	}
	return e.store.RecordCost(ctx, e.now(), cents)
}

func (e *Engine) budgetExceeded(ctx context.Context) (string, bool, error) {
	now := e.now()
	if max := e.cfg.MaxActionsPerHour; max > 0 {
		n, err := e.store.ActionsSince(ctx, now.Add(-time.Hour))
		if err != nil {
			return "", false, fmt.Errorf("autonomy store: %w", err)
		}
		if n >= max {
			return fmt.Sprintf("hourly action budget exhausted (%d/%d)", n, max), true, nil
		}
	}
	if max := e.cfg.MaxCostPerDayCents; max > 0 {
		cents, err := e.store.CostSince(ctx, now.Add(-24*time.Hour))
		if err != nil {
			return "", false, fmt.Errorf("autonomy store: %w", err)
		}
		if cents >= max {
			return fmt.Sprintf("daily cost budget exhausted (%d/%d cents)", cents, max), true, nil
		}
	}
	return "", false, nil
}

func (e *Engine) alwaysAsk(tool string) bool {
	for _, t := range e.cfg.AlwaysAsk {
		if t == tool {
			return true
		}
	}
	return false
}

func (e *Engine) autoApproved(tool string) bool {
	for _, t := range e.cfg.AutoApprove {
		if t == tool {
			return true
		}
	}
	return false
}

// ExpiredError reports a confirmation attempt on a request whose TTL
// has passed.
type ExpiredError struct {
	RequestID string
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("approval request %s has expired", e.RequestID)
}

// NotPendingError reports a confirmation attempt on a request that does
// not exist for the caller's sender and chat.
type NotPendingError struct {
	RequestID string
}

func (e *NotPendingError) Error() string {
	return fmt.Sprintf("no pending approval request %s for this sender and chat", e.RequestID)
}
