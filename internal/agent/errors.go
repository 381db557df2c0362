package agent

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for turn execution.
var (
	// ErrMaxIterations indicates the turn exceeded its iteration bound.
	ErrMaxIterations = errors.New("max tool iterations exceeded")

	// ErrNoProvider indicates no model provider is configured.
	ErrNoProvider = errors.New("no provider configured")

	// ErrToolNotFound indicates a requested tool does not exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout indicates a tool execution timed out.
	ErrToolTimeout = errors.New("tool execution timed out")
)

// IterationExceededError is the terminal error for a turn that kept
// requesting tools past the configured bound. Its Error text is the exact
// user-visible contract.
type IterationExceededError struct {
	Limit int
}

func (e *IterationExceededError) Error() string {
	return fmt.Sprintf("Agent exceeded maximum tool iterations (%d)", e.Limit)
}

func (e *IterationExceededError) Unwrap() error { return ErrMaxIterations }

// PolicyDeniedError aborts a turn when a tool call is denied by the
// autonomy policy (high-risk block, explicit deny, or exhausted budget).
type PolicyDeniedError struct {
	Tool   string
	Reason string
}

func (e *PolicyDeniedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("tool %q denied by autonomy policy", e.Tool)
	}
	return fmt.Sprintf("tool %q denied by autonomy policy: %s", e.Tool, e.Reason)
}

// ApprovalPendingError ends a turn with a pending approval prompt rather
// than executing the gated tool.
type ApprovalPendingError struct {
	Tool      string
	RequestID string
}

func (e *ApprovalPendingError) Error() string {
	return fmt.Sprintf("tool %q requires approval (request %s)", e.Tool, e.RequestID)
}

// ApprovalExpiredError marks a confirm action that arrived after the
// request's TTL; an expired request is treated as denied.
type ApprovalExpiredError struct {
	RequestID string
}

func (e *ApprovalExpiredError) Error() string {
	return fmt.Sprintf("approval request %s has expired", e.RequestID)
}

// CapabilityUnsupportedError indicates no provider in the attempt chain
// supports a required capability (e.g. vision on an image request).
type CapabilityUnsupportedError struct {
	Capability string
	Provider   string
}

func (e *CapabilityUnsupportedError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("provider %q does not support %s", e.Provider, e.Capability)
	}
	return fmt.Sprintf("no available provider supports %s", e.Capability)
}

// ToolErrorType categorizes tool execution errors for retry decisions.
type ToolErrorType string

const (
	ToolErrorNotFound     ToolErrorType = "not_found"
	ToolErrorInvalidInput ToolErrorType = "invalid_input"
	ToolErrorTimeout      ToolErrorType = "timeout"
	ToolErrorNetwork      ToolErrorType = "network"
	ToolErrorRateLimit    ToolErrorType = "rate_limit"
	ToolErrorExecution    ToolErrorType = "execution"
	ToolErrorPanic        ToolErrorType = "panic"
	ToolErrorUnknown      ToolErrorType = "unknown"
)

// IsRetryable reports whether retrying this class may succeed.
func (t ToolErrorType) IsRetryable() bool {
	switch t {
	case ToolErrorTimeout, ToolErrorNetwork, ToolErrorRateLimit:
		return true
	default:
		return false
	}
}

// ToolError is a structured error from tool execution. It is surfaced to
// the model as an error tool-result payload rather than aborting the turn,
// so the model can adapt.
type ToolError struct {
	Type       ToolErrorType
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
}

func (e *ToolError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[tool:%s]", e.Type)
	if e.ToolName != "" {
		b.WriteString(" " + e.ToolName)
	}
	switch {
	case e.Message != "":
		b.WriteString(" " + e.Message)
	case e.Cause != nil:
		b.WriteString(" " + e.Cause.Error())
	}
	return b.String()
}

func (e *ToolError) Unwrap() error { return e.Cause }

// NewToolError creates a ToolError, classifying the cause's message.
func NewToolError(toolName string, cause error) *ToolError {
	e := &ToolError{ToolName: toolName, Cause: cause, Type: ToolErrorUnknown}
	if cause != nil {
		e.Message = cause.Error()
		e.Type = classifyToolError(cause)
	}
	return e
}

// WithType overrides the classified type.
func (e *ToolError) WithType(t ToolErrorType) *ToolError {
	e.Type = t
	return e
}

// WithCallID attaches the originating tool call id.
func (e *ToolError) WithCallID(id string) *ToolError {
	e.ToolCallID = id
	return e
}

func classifyToolError(err error) ToolErrorType {
	if err == nil {
		return ToolErrorUnknown
	}
	if errors.Is(err, ErrToolNotFound) {
		return ToolErrorNotFound
	}
	if errors.Is(err, ErrToolTimeout) {
		return ToolErrorTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"):
		return ToolErrorTimeout
	case strings.Contains(msg, "connection"),
		strings.Contains(msg, "network"),
		strings.Contains(msg, "refused"),
		strings.Contains(msg, "unreachable"):
		return ToolErrorNetwork
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"):
		return ToolErrorRateLimit
	case strings.Contains(msg, "invalid"),
		strings.Contains(msg, "validation"),
		strings.Contains(msg, "required"):
		return ToolErrorInvalidInput
	}
	return ToolErrorExecution
}

// IsToolRetryable reports whether a tool error should be retried.
func IsToolRetryable(err error) bool {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr.Type.IsRetryable()
	}
	return classifyToolError(err).IsRetryable()
}

// TurnPhase is a distinct phase in the turn executor's state machine.
type TurnPhase string

const (
	PhaseInit         TurnPhase = "init"
	PhaseResearch     TurnPhase = "research"
	PhaseStream       TurnPhase = "stream"
	PhaseExecuteTools TurnPhase = "execute_tools"
	PhaseContinue     TurnPhase = "continue"
	PhaseComplete     TurnPhase = "complete"
)

// TurnError wraps a failure with the phase and iteration it occurred in.
type TurnError struct {
	Phase     TurnPhase
	Iteration int
	Cause     error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn error at %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
}

func (e *TurnError) Unwrap() error { return e.Cause }
