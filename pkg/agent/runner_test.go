package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyforge/hiveforge/pkg/event"
	"github.com/colonyforge/hiveforge/pkg/llm"
	"github.com/colonyforge/hiveforge/pkg/llm/llmtest"
	"github.com/colonyforge/hiveforge/pkg/llm/retry"
	"github.com/colonyforge/hiveforge/pkg/masking"
	"github.com/colonyforge/hiveforge/pkg/policy"
)

type capturedEvent struct {
	Type    event.Type
	Payload map[string]any
}

type captureEmitter struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (c *captureEmitter) Emit(t event.Type, payload map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, capturedEvent{Type: t, Payload: payload})
}

func (c *captureEmitter) byType(t event.Type) []capturedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []capturedEvent
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func noRetry() *retry.Policy {
	return &retry.Policy{Strategy: retry.StrategyNone}
}

func newTestRunner(t *testing.T, client llm.Client, cfg Config, deps Deps) *Runner {
	t.Helper()
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = "You are a worker bee."
	}
	if cfg.Actor == "" {
		cfg.Actor = "worker-1"
	}
	if cfg.Role == "" {
		cfg.Role = RoleWorker
	}
	deps.Client = client
	if deps.Gate == nil {
		deps.Gate = policy.New(policy.Options{})
	}
	if deps.Retry == nil {
		deps.Retry = noRetry()
	}
	r, err := NewRunner(cfg, deps)
	require.NoError(t, err)
	return r
}

func TestRunPlainCompletion(t *testing.T) {
	client := llmtest.NewScriptedClient().AddText("all done")
	r := newTestRunner(t, client, Config{}, Deps{})

	result, err := r.Run(context.Background(), "do the thing")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "all done", result.Output)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, 15, result.Usage.Total())

	history := r.History()
	require.Len(t, history, 2)
	assert.Equal(t, llm.RoleUser, history[0].Role)
	assert.Equal(t, llm.RoleAssistant, history[1].Role)
}

func TestRunToolCallThenCompletion(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	tools, err := NewRegistry(BuiltinTools(ws)...)
	require.NoError(t, err)

	client := llmtest.NewScriptedClient().
		AddToolCall("call-1", "create_file", `{"path":"notes.txt","content":"hello"}`).
		AddToolCall("call-2", "read_file", `{"path":"notes.txt"}`).
		AddText("file says hello")
	r := newTestRunner(t, client, Config{}, Deps{Tools: tools})

	result, err := r.Run(context.Background(), "write then read notes.txt")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "file says hello", result.Output)
	assert.Equal(t, 3, result.Iterations)

	// The third call's history carries both tool results.
	messages := client.CapturedMessages(2)
	var toolMessages []llm.Message
	for _, m := range messages {
		if m.Role == llm.RoleTool {
			toolMessages = append(toolMessages, m)
		}
	}
	require.Len(t, toolMessages, 2)
	assert.Equal(t, "call-1", toolMessages[0].ToolCallID)
	assert.Equal(t, "hello", toolMessages[1].Content)
}

func TestRunUnknownTool(t *testing.T) {
	client := llmtest.NewScriptedClient().
		AddToolCall("call-1", "teleport", `{}`).
		AddText("ok, no teleporting")
	r := newTestRunner(t, client, Config{}, Deps{})

	result, err := r.Run(context.Background(), "go")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	messages := client.CapturedMessages(1)
	last := messages[len(messages)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Contains(t, last.Content, `unknown tool "teleport"`)
}

func TestRunMalformedToolArguments(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	tools, err := NewRegistry(BuiltinTools(ws)...)
	require.NoError(t, err)

	client := llmtest.NewScriptedClient().
		AddToolCall("call-1", "read_file", `{not json`).
		AddText("sorry about that")
	r := newTestRunner(t, client, Config{TrustLevel: policy.FullDelegation}, Deps{Tools: tools})

	result, err := r.Run(context.Background(), "read something")
	require.NoError(t, err)

	// The bad call surfaces back to the model as a tool failure instead of
	// killing the turn.
	assert.Equal(t, StatusCompleted, result.Status)
	messages := client.CapturedMessages(1)
	last := messages[len(messages)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Contains(t, last.Content, "invalid arguments")
}

func TestRunPolicyDeny(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	tools, err := NewRegistry(BuiltinTools(ws)...)
	require.NoError(t, err)
	emitter := &captureEmitter{}

	client := llmtest.NewScriptedClient().
		AddToolCall("call-1", "delete_file", `{"path":"x"}`).
		AddText("understood")
	r := newTestRunner(t, client, Config{TrustLevel: policy.ReportOnly}, Deps{Tools: tools, Events: emitter})

	result, err := r.Run(context.Background(), "delete x")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)

	failed := emitter.byType(event.TypeOperationFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "validation", event.Str(failed[0].Payload, "failure_reason"))
	assert.Equal(t, "delete_file", event.Str(failed[0].Payload, "tool"))

	messages := client.CapturedMessages(1)
	last := messages[len(messages)-1]
	assert.Contains(t, last.Content, "denied by policy")
}

func TestRunApprovalGranted(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	tools, err := NewRegistry(BuiltinTools(ws)...)
	require.NoError(t, err)
	emitter := &captureEmitter{}
	broker := NewApprovalBroker()

	// report_only + reversible create_file requires approval.
	client := llmtest.NewScriptedClient().
		AddToolCall("call-1", "create_file", `{"path":"a.txt","content":"approved content"}`).
		AddText("created")
	r := newTestRunner(t, client, Config{TrustLevel: policy.ReportOnly},
		Deps{Tools: tools, Events: emitter, Approvals: broker})

	done := make(chan *Result, 1)
	go func() {
		result, runErr := r.Run(context.Background(), "create a.txt")
		require.NoError(t, runErr)
		done <- result
	}()

	require.Eventually(t, func() bool {
		return len(broker.Pending()) == 1
	}, time.Second, 5*time.Millisecond)

	requested := emitter.byType(event.TypeApprovalRequested)
	require.Len(t, requested, 1)
	approvalID := event.Str(requested[0].Payload, "approval_id")
	require.NotEmpty(t, approvalID)
	assert.Equal(t, "create_file", event.Str(requested[0].Payload, "tool"))

	assert.True(t, broker.Resolve(approvalID, true))

	result := <-done
	assert.Equal(t, StatusCompleted, result.Status)

	// The tool actually ran.
	data := client.CapturedMessages(1)
	last := data[len(data)-1]
	assert.Contains(t, last.Content, "wrote")
}

// instantApprover resolves an approval the moment its request event is
// emitted, before the runner has a chance to start waiting.
type instantApprover struct {
	inner    *captureEmitter
	broker   *ApprovalBroker
	resolved bool
}

func (a *instantApprover) Emit(t event.Type, payload map[string]any) {
	a.inner.Emit(t, payload)
	if t == event.TypeApprovalRequested {
		a.resolved = a.broker.Resolve(event.Str(payload, "approval_id"), true)
	}
}

func TestRunApprovalResolvedDuringEmit(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	tools, err := NewRegistry(BuiltinTools(ws)...)
	require.NoError(t, err)
	broker := NewApprovalBroker()
	emitter := &instantApprover{inner: &captureEmitter{}, broker: broker}

	client := llmtest.NewScriptedClient().
		AddToolCall("call-1", "create_file", `{"path":"a.txt","content":"x"}`).
		AddText("created")
	r := newTestRunner(t, client, Config{TrustLevel: policy.ReportOnly},
		Deps{Tools: tools, Events: emitter, Approvals: broker})

	result, err := r.Run(context.Background(), "create a.txt")
	require.NoError(t, err)

	assert.True(t, emitter.resolved)
	assert.Equal(t, StatusCompleted, result.Status)
	messages := client.CapturedMessages(1)
	last := messages[len(messages)-1]
	assert.Contains(t, last.Content, "wrote")
}

func TestRunApprovalDenied(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	tools, err := NewRegistry(BuiltinTools(ws)...)
	require.NoError(t, err)
	broker := NewApprovalBroker()
	emitter := &captureEmitter{}

	client := llmtest.NewScriptedClient().
		AddToolCall("call-1", "create_file", `{"path":"a.txt","content":"x"}`).
		AddText("fine")
	r := newTestRunner(t, client, Config{TrustLevel: policy.ReportOnly},
		Deps{Tools: tools, Events: emitter, Approvals: broker})

	done := make(chan *Result, 1)
	go func() {
		result, runErr := r.Run(context.Background(), "create a.txt")
		require.NoError(t, runErr)
		done <- result
	}()

	require.Eventually(t, func() bool {
		return len(broker.Pending()) == 1
	}, time.Second, 5*time.Millisecond)
	broker.Resolve(broker.Pending()[0], false)

	result := <-done
	assert.Equal(t, StatusCompleted, result.Status)

	messages := client.CapturedMessages(1)
	last := messages[len(messages)-1]
	assert.Contains(t, last.Content, "approval")
	assert.Contains(t, last.Content, "denied")
}

func TestRunApprovalCancelled(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	tools, err := NewRegistry(BuiltinTools(ws)...)
	require.NoError(t, err)
	broker := NewApprovalBroker()

	client := llmtest.NewScriptedClient().
		AddToolCall("call-1", "create_file", `{"path":"a.txt","content":"x"}`)
	r := newTestRunner(t, client, Config{TrustLevel: policy.ReportOnly},
		Deps{Tools: tools, Approvals: broker})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *Result, 1)
	go func() {
		result, runErr := r.Run(ctx, "create a.txt")
		require.NoError(t, runErr)
		done <- result
	}()

	require.Eventually(t, func() bool {
		return len(broker.Pending()) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	result := <-done
	assert.Equal(t, StatusCancelled, result.Status)
}

func TestRunApprovalWithoutBroker(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	tools, err := NewRegistry(BuiltinTools(ws)...)
	require.NoError(t, err)

	client := llmtest.NewScriptedClient().
		AddToolCall("call-1", "create_file", `{"path":"a.txt","content":"x"}`).
		AddText("ok")
	r := newTestRunner(t, client, Config{TrustLevel: policy.ReportOnly}, Deps{Tools: tools})

	result, err := r.Run(context.Background(), "create a.txt")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)

	messages := client.CapturedMessages(1)
	last := messages[len(messages)-1]
	assert.Contains(t, last.Content, "denied")
}

func TestRunToolTimeout(t *testing.T) {
	slow := &FuncTool{
		ToolName:        "slow",
		ToolDescription: "never finishes in time",
		ToolParameters:  []byte(`{"type":"object"}`),
		ToolTimeout:     20 * time.Millisecond,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	tools, err := NewRegistry(slow)
	require.NoError(t, err)
	emitter := &captureEmitter{}

	client := llmtest.NewScriptedClient().
		AddToolCall("call-1", "slow", `{}`).
		AddText("gave up")
	r := newTestRunner(t, client, Config{TrustLevel: policy.FullDelegation},
		Deps{Tools: tools, Events: emitter})

	result, err := r.Run(context.Background(), "go slow")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)

	timeouts := emitter.byType(event.TypeOperationTimeout)
	require.Len(t, timeouts, 1)
	assert.Equal(t, "slow", event.Str(timeouts[0].Payload, "tool"))
	assert.InDelta(t, 0.02, event.Float(timeouts[0].Payload, "timeout_seconds"), 0.001)

	messages := client.CapturedMessages(1)
	last := messages[len(messages)-1]
	assert.Contains(t, last.Content, "timed out")
}

func TestRunToolErrorEmitsOperationFailed(t *testing.T) {
	broken := &FuncTool{
		ToolName:        "broken",
		ToolDescription: "always fails",
		ToolParameters:  []byte(`{"type":"object"}`),
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			return "", errors.New("disk on fire")
		},
	}
	tools, err := NewRegistry(broken)
	require.NoError(t, err)
	emitter := &captureEmitter{}

	client := llmtest.NewScriptedClient().
		AddToolCall("call-1", "broken", `{}`).
		AddText("noted")
	r := newTestRunner(t, client, Config{TrustLevel: policy.FullDelegation},
		Deps{Tools: tools, Events: emitter})

	result, err := r.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)

	failed := emitter.byType(event.TypeOperationFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "tool_error", event.Str(failed[0].Payload, "failure_reason"))
	assert.Contains(t, event.Str(failed[0].Payload, "message"), "disk on fire")
}

func TestRunMaxIterations(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	tools, err := NewRegistry(BuiltinTools(ws)...)
	require.NoError(t, err)

	client := llmtest.NewScriptedClient()
	for i := 0; i < 3; i++ {
		client.AddToolCall("call", "status", `{}`)
	}
	r := newTestRunner(t, client, Config{MaxIterations: 3, TrustLevel: policy.FullDelegation},
		Deps{Tools: tools})

	result, err := r.Run(context.Background(), "loop forever")
	require.NoError(t, err)

	assert.Equal(t, StatusMaxIterations, result.Status)
	assert.Equal(t, "max iterations exceeded", result.Output)
	assert.Equal(t, 3, result.Iterations)
}

func TestRunMasksToolResults(t *testing.T) {
	leaky := &FuncTool{
		ToolName:        "leaky",
		ToolDescription: "returns a secret",
		ToolParameters:  []byte(`{"type":"object"}`),
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			return "found password: hunter2secret in config", nil
		},
	}
	tools, err := NewRegistry(leaky)
	require.NoError(t, err)
	masker := masking.NewService(masking.Options{Enabled: true})

	client := llmtest.NewScriptedClient().
		AddToolCall("call-1", "leaky", `{}`).
		AddText("done")
	r := newTestRunner(t, client, Config{TrustLevel: policy.FullDelegation},
		Deps{Tools: tools, Masker: masker})

	_, err = r.Run(context.Background(), "leak")
	require.NoError(t, err)

	messages := client.CapturedMessages(1)
	last := messages[len(messages)-1]
	assert.NotContains(t, last.Content, "hunter2secret")
	assert.Contains(t, last.Content, "MASKED")
}

func TestRunCancelledDuringLLMCall(t *testing.T) {
	blocked := make(chan struct{}, 1)
	client := llmtest.NewScriptedClient().
		Add(llmtest.ScriptEntry{BlockUntilCancelled: true, OnBlock: blocked})
	r := newTestRunner(t, client, Config{}, Deps{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *Result, 1)
	go func() {
		result, runErr := r.Run(ctx, "never answers")
		require.NoError(t, runErr)
		done <- result
	}()

	<-blocked
	cancel()

	result := <-done
	assert.Equal(t, StatusCancelled, result.Status)
}

func TestRunLLMFailureIsTerminal(t *testing.T) {
	client := llmtest.NewScriptedClient().
		AddError(errors.New("model melted"))
	r := newTestRunner(t, client, Config{}, Deps{})

	result, err := r.Run(context.Background(), "go")
	require.Error(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Output, "model melted")
}

func TestRunRetriesTransientHTTPErrors(t *testing.T) {
	client := llmtest.NewScriptedClient().
		AddError(&llm.HTTPStatusError{StatusCode: 503, Message: "overloaded"}).
		AddText("recovered")
	pol := &retry.Policy{Strategy: retry.StrategyFixed, MaxRetries: 1, BaseDelay: time.Millisecond}
	r := newTestRunner(t, client, Config{}, Deps{Retry: pol})

	result, err := r.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "recovered", result.Output)
	assert.Equal(t, 2, client.Calls())
}

func TestNewRunnerValidation(t *testing.T) {
	client := llmtest.NewScriptedClient()

	_, err := NewRunner(Config{}, Deps{Client: client, Gate: policy.New(policy.Options{})})
	assert.ErrorContains(t, err, "system prompt")

	_, err = NewRunner(Config{SystemPrompt: "x"}, Deps{Gate: policy.New(policy.Options{})})
	assert.ErrorContains(t, err, "llm client")

	_, err = NewRunner(Config{SystemPrompt: "x"}, Deps{Client: client})
	assert.ErrorContains(t, err, "policy gate")
}

func TestDefaultTrustLevels(t *testing.T) {
	assert.Equal(t, policy.AutoNotify, DefaultTrustLevel(RoleBeekeeper))
	assert.Equal(t, policy.ProposeConfirm, DefaultTrustLevel(RoleQueen))
	assert.Equal(t, policy.ProposeConfirm, DefaultTrustLevel(RoleWorker))
	assert.Equal(t, policy.ReportOnly, DefaultTrustLevel(RoleGuard))
	assert.Equal(t, policy.ReportOnly, DefaultTrustLevel(RoleSentinel))
	assert.Equal(t, policy.ReportOnly, DefaultTrustLevel(Role("mystery")))
}
