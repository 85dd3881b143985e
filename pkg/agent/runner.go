package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/colonyforge/hiveforge/pkg/event"
	"github.com/colonyforge/hiveforge/pkg/llm"
	"github.com/colonyforge/hiveforge/pkg/llm/retry"
	"github.com/colonyforge/hiveforge/pkg/masking"
	"github.com/colonyforge/hiveforge/pkg/policy"
	"github.com/colonyforge/hiveforge/pkg/ratelimit"
)

// Emitter receives the events a turn produces (approval requests, tool
// failures, timeouts). The scheduler implements it by appending to the
// run's stream with the right actor and IDs.
type Emitter interface {
	Emit(t event.Type, payload map[string]any)
}

// Config describes one agent instance.
type Config struct {
	// Actor is the event actor string, e.g. "worker-1".
	Actor string
	Role  Role
	// SystemPrompt opens the conversation. Required.
	SystemPrompt string
	// TrustLevel overrides the role default when non-empty.
	TrustLevel policy.TrustLevel
	Scope      policy.Scope
	ScopeID    string
	// MaxIterations caps LLM round trips per turn; zero means 10.
	MaxIterations int
}

// Status classifies how a turn ended.
type Status string

const (
	StatusCompleted     Status = "completed"
	StatusMaxIterations Status = "max_iterations"
	StatusCancelled     Status = "cancelled"
	StatusFailed        Status = "failed"
)

// Result is the outcome of one Run call.
type Result struct {
	Status     Status
	Output     string
	Iterations int
	Usage      llm.Usage
}

const defaultMaxIterations = 10

// Runner drives one agent's conversation. Not safe for concurrent use;
// the scheduler gives each agent its own runner.
type Runner struct {
	cfg       Config
	client    llm.Client
	limiter   *ratelimit.Limiter
	gate      *policy.Gate
	tools     *Registry
	masker    *masking.Service
	events    Emitter
	approvals *ApprovalBroker
	retry     retry.Policy
	log       *slog.Logger

	history []llm.Message
}

// Deps carries the runner's collaborators. Client, Gate, and Tools are
// required; the rest degrade gracefully when nil.
type Deps struct {
	Client    llm.Client
	Limiter   *ratelimit.Limiter
	Gate      *policy.Gate
	Tools     *Registry
	Masker    *masking.Service
	Events    Emitter
	Approvals *ApprovalBroker
	Retry     *retry.Policy
}

// NewRunner validates the configuration and wires the collaborators.
func NewRunner(cfg Config, deps Deps) (*Runner, error) {
	if cfg.SystemPrompt == "" {
		return nil, errors.New("system prompt is required")
	}
	if deps.Client == nil {
		return nil, errors.New("llm client is required")
	}
	if deps.Gate == nil {
		return nil, errors.New("policy gate is required")
	}
	if deps.Tools == nil {
		deps.Tools, _ = NewRegistry()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.TrustLevel == "" {
		cfg.TrustLevel = DefaultTrustLevel(cfg.Role)
	}
	retryPolicy := retry.DefaultLLMPolicy()
	if deps.Retry != nil {
		retryPolicy = *deps.Retry
	}
	return &Runner{
		cfg:       cfg,
		client:    deps.Client,
		limiter:   deps.Limiter,
		gate:      deps.Gate,
		tools:     deps.Tools,
		masker:    deps.Masker,
		events:    deps.Events,
		approvals: deps.Approvals,
		retry:     retryPolicy,
		log:       slog.With("actor", cfg.Actor, "role", string(cfg.Role)),
	}, nil
}

// History returns the conversation so far, system prompt excluded.
func (r *Runner) History() []llm.Message {
	out := make([]llm.Message, len(r.history))
	copy(out, r.history)
	return out
}

// Run executes one turn: user input in, assistant text out, with tool
// calls dispatched in between. The turn ends when the model responds
// without tool calls, the iteration cap is hit, or ctx is cancelled.
func (r *Runner) Run(ctx context.Context, input string) (*Result, error) {
	r.history = append(r.history, llm.Message{Role: llm.RoleUser, Content: input})

	result := &Result{}
	for iter := 1; iter <= r.cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			result.Status = StatusCancelled
			result.Output = "cancelled"
			return result, nil
		}
		result.Iterations = iter

		resp, err := r.chat(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				result.Status = StatusCancelled
				result.Output = "cancelled"
				return result, nil
			}
			result.Status = StatusFailed
			result.Output = err.Error()
			return result, fmt.Errorf("llm call failed: %w", err)
		}
		result.Usage.InputTokens += resp.Usage.InputTokens
		result.Usage.OutputTokens += resp.Usage.OutputTokens

		r.history = append(r.history, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			result.Status = StatusCompleted
			result.Output = resp.Content
			return result, nil
		}

		for _, call := range resp.ToolCalls {
			msg, cancelled := r.dispatch(ctx, call)
			if cancelled {
				result.Status = StatusCancelled
				result.Output = "cancelled"
				return result, nil
			}
			r.history = append(r.history, msg)
		}
	}

	result.Status = StatusMaxIterations
	result.Output = "max iterations exceeded"
	return result, nil
}

// chat performs one rate-limited, retried LLM call over the full history.
func (r *Runner) chat(ctx context.Context) (*llm.Response, error) {
	messages := make([]llm.Message, 0, len(r.history)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: r.cfg.SystemPrompt})
	messages = append(messages, r.history...)

	if r.limiter != nil {
		lease, err := r.limiter.AcquireWithTokens(ctx, estimateTokens(messages))
		if err != nil {
			return nil, err
		}
		defer lease.Release()
	}

	var resp *llm.Response
	err := retry.Do(ctx, r.retry, func(ctx context.Context) error {
		var callErr error
		resp, callErr = r.client.Chat(ctx, messages, r.tools.Specs())
		if callErr != nil {
			var httpErr *llm.HTTPStatusError
			if r.limiter != nil && errors.As(callErr, &httpErr) && httpErr.StatusCode == 429 {
				if herr := r.limiter.Handle429(ctx, httpErr.RetryAfter); herr != nil {
					return herr
				}
			}
		}
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// dispatch resolves one tool call into the tool message appended to the
// history. cancelled is true when the run's context ended mid-call.
func (r *Runner) dispatch(ctx context.Context, call llm.ToolCall) (msg llm.Message, cancelled bool) {
	args, err := call.ArgumentsMap()
	if err != nil {
		return r.toolError(call, fmt.Sprintf("invalid arguments: %v", err)), false
	}

	tool, ok := r.tools.Get(call.Name)
	if !ok {
		return r.toolError(call, fmt.Sprintf("unknown tool %q", call.Name)), false
	}

	class := r.gate.ClassifyTool(call.Name, args)
	decision := r.gate.Decide(policy.Request{
		Actor:       r.cfg.Actor,
		ActionClass: class,
		TrustLevel:  r.cfg.TrustLevel,
		Scope:       r.cfg.Scope,
		ScopeID:     r.cfg.ScopeID,
	})

	switch decision {
	case policy.Deny:
		r.log.Warn("Tool call denied by policy", "tool", call.Name, "action_class", string(class))
		r.emit(event.TypeOperationFailed, event.OperationFailedPayload(call.Name, "validation",
			fmt.Sprintf("policy denied %s for trust level %s", class, r.cfg.TrustLevel)))
		return r.toolError(call, fmt.Sprintf("tool %q denied by policy (%s action at trust level %s)",
			call.Name, class, r.cfg.TrustLevel)), false

	case policy.RequireApproval:
		granted, waitErr := r.requestApproval(ctx, call, args)
		if waitErr != nil {
			return llm.Message{}, true
		}
		if !granted {
			return r.toolError(call, fmt.Sprintf("approval for tool %q was denied", call.Name)), false
		}
	}

	return r.execute(ctx, tool, call, args)
}

// requestApproval emits approval.requested and parks until resolved.
func (r *Runner) requestApproval(ctx context.Context, call llm.ToolCall, args map[string]any) (bool, error) {
	approvalID := uuid.NewString()
	if r.approvals != nil {
		// Open the mailbox before the request is visible anywhere, so a
		// decision arriving immediately still lands.
		r.approvals.Register(approvalID)
	}
	r.emit(event.TypeApprovalRequested, event.ApprovalRequestedPayload(approvalID, call.Name, r.cfg.Actor, args))
	r.log.Info("Tool call parked pending approval", "tool", call.Name, "approval_id", approvalID)

	if r.approvals == nil {
		// Without a broker nothing can ever resolve the request.
		return false, nil
	}
	return r.approvals.Wait(ctx, approvalID)
}

// execute runs the tool under its timeout and masks the result.
func (r *Runner) execute(ctx context.Context, tool Tool, call llm.ToolCall, args map[string]any) (llm.Message, bool) {
	timeout := tool.Timeout()
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	toolCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := tool.Execute(toolCtx, args)
	if err != nil {
		if ctx.Err() != nil {
			r.emit(event.TypeOperationFailed, event.OperationFailedPayload(call.Name, "cancelled", "run cancelled during tool call"))
			return llm.Message{}, true
		}
		if errors.Is(err, context.DeadlineExceeded) || toolCtx.Err() != nil {
			r.log.Warn("Tool call timed out", "tool", call.Name, "timeout", timeout)
			r.emit(event.TypeOperationTimeout, event.OperationTimeoutPayload(call.Name, timeout.Seconds()))
			return r.toolError(call, fmt.Sprintf("tool %q timed out after %s", call.Name, timeout)), false
		}
		r.emit(event.TypeOperationFailed, event.OperationFailedPayload(call.Name, "tool_error", err.Error()))
		return r.toolError(call, fmt.Sprintf("tool %q failed: %v", call.Name, err)), false
	}

	if r.masker != nil {
		output = r.masker.MaskToolResult(output)
	}
	return llm.Message{
		Role:       llm.RoleTool,
		Content:    output,
		ToolCallID: call.ID,
		Name:       call.Name,
	}, false
}

// toolError synthesizes the tool message the model sees when a call could
// not run. The turn continues; the model decides what to do next.
func (r *Runner) toolError(call llm.ToolCall, reason string) llm.Message {
	return llm.Message{
		Role:       llm.RoleTool,
		Content:    "Error: " + reason,
		ToolCallID: call.ID,
		Name:       call.Name,
	}
}

func (r *Runner) emit(t event.Type, payload map[string]any) {
	if r.events == nil {
		return
	}
	r.events.Emit(t, payload)
}

// estimateTokens approximates prompt size for the TPM window: four
// characters per token, floor of one.
func estimateTokens(messages []llm.Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Name) + len(tc.Arguments)
		}
	}
	tokens := chars / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
