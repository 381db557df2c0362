package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/zeroclaw-labs/zeroclaw/internal/backoff"
	"github.com/zeroclaw-labs/zeroclaw/pkg/models"
)

// ExecutorConfig configures the tool executor.
type ExecutorConfig struct {
	// MaxConcurrency limits parallel tool executions. Default: 5.
	MaxConcurrency int

	// DefaultTimeout bounds a single tool execution. Default: 30s.
	DefaultTimeout time.Duration

	// DefaultRetries retries retryable tool failures. Default: 2.
	DefaultRetries int

	// RetryBackoff seeds the exponential backoff between retries.
	RetryBackoff time.Duration
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxConcurrency: 5,
		DefaultTimeout: 30 * time.Second,
		DefaultRetries: 2,
		RetryBackoff:   100 * time.Millisecond,
	}
}

// Executor dispatches tool calls, in parallel or sequentially, with
// timeout, retry, and panic containment. Results always come back in
// request order regardless of completion order.
type Executor struct {
	registry *ToolRegistry
	config   *ExecutorConfig
	sem      chan struct{}
}

// ExecutionResult holds the outcome of a single tool call.
type ExecutionResult struct {
	ToolCallID string
	ToolName   string
	Output     *ToolOutput
	Err        error
	Duration   time.Duration
	Attempts   int
}

// NewExecutor creates an Executor over the given registry.
func NewExecutor(registry *ToolRegistry, config *ExecutorConfig) *Executor {
	if config == nil {
		config = DefaultExecutorConfig()
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultExecutorConfig().MaxConcurrency
	}
	return &Executor{
		registry: registry,
		config:   config,
		sem:      make(chan struct{}, config.MaxConcurrency),
	}
}

// ExecuteAll runs the calls concurrently, bounded by MaxConcurrency.
// results[i] always corresponds to calls[i].
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []*ExecutionResult {
	if len(calls) == 0 {
		return nil
	}
	results := make([]*ExecutionResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			results[idx] = e.Execute(ctx, tc)
		}(i, call)
	}
	wg.Wait()
	return results
}

// ExecuteSequential runs the calls one at a time, in order.
func (e *Executor) ExecuteSequential(ctx context.Context, calls []models.ToolCall) []*ExecutionResult {
	results := make([]*ExecutionResult, len(calls))
	for i, call := range calls {
		results[i] = e.Execute(ctx, call)
	}
	return results
}

// Execute runs one tool call with retry and timeout handling.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) *ExecutionResult {
	start := time.Now()
	result := &ExecutionResult{ToolCallID: call.ID, ToolName: call.Name}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		result.Err = NewToolError(call.Name, ctx.Err()).WithType(ToolErrorTimeout).WithCallID(call.ID)
		result.Duration = time.Since(start)
		return result
	}

	timeout := e.config.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultExecutorConfig().DefaultTimeout
	}
	policy := backoff.Policy{Initial: e.config.RetryBackoff, Max: 5 * time.Second, Factor: 2}

	var lastErr error
	for attempt := 0; attempt <= e.config.DefaultRetries; attempt++ {
		result.Attempts = attempt + 1

		output, err := e.executeWithTimeout(ctx, call, timeout)
		if err == nil {
			result.Output = output
			result.Duration = time.Since(start)
			return result
		}
		lastErr = err

		if !IsToolRetryable(err) || ctx.Err() != nil || attempt >= e.config.DefaultRetries {
			break
		}
		if err := backoff.SleepAttempt(ctx, policy, attempt+1); err != nil {
			lastErr = NewToolError(call.Name, err).WithType(ToolErrorTimeout).WithCallID(call.ID)
			break
		}
	}

	result.Err = lastErr
	result.Duration = time.Since(start)
	return result
}

func (e *Executor) executeWithTimeout(ctx context.Context, call models.ToolCall, timeout time.Duration) (*ToolOutput, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type execResult struct {
		output *ToolOutput
		err    error
	}
	resultCh := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				err := NewToolError(call.Name, fmt.Errorf("panic: %v\n%s", r, debug.Stack())).
					WithType(ToolErrorPanic).WithCallID(call.ID)
				resultCh <- execResult{err: err}
			}
		}()

		output, err := e.registry.Execute(execCtx, call.Name, call.Input)
		if err != nil {
			resultCh <- execResult{err: NewToolError(call.Name, err).WithCallID(call.ID)}
			return
		}
		resultCh <- execResult{output: output}
	}()

	select {
	case res := <-resultCh:
		return res.output, res.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, NewToolError(call.Name, ctx.Err()).WithType(ToolErrorTimeout).WithCallID(call.ID)
		}
		return nil, NewToolError(call.Name, ErrToolTimeout).WithType(ToolErrorTimeout).WithCallID(call.ID)
	}
}
