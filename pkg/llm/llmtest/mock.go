// Package llmtest provides a scriptable llm.Client for tests.
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/colonyforge/hiveforge/pkg/llm"
)

// ScriptEntry defines one scripted chat response.
type ScriptEntry struct {
	// Exactly one of Response / Text / Error should be set. Text is
	// shorthand for a plain assistant message with token usage attached.
	Response *llm.Response
	Text     string
	Error    error

	// BlockUntilCancelled makes Chat hang until ctx is cancelled, then
	// return ctx.Err(). OnBlock is notified when the blocking path is
	// entered.
	BlockUntilCancelled bool
	OnBlock             chan<- struct{}
}

// capturedCall records one Chat invocation for assertions.
type capturedCall struct {
	Messages []llm.Message
	Tools    []llm.ToolSpec
}

// ScriptedClient implements llm.Client from a script: sequential entries
// consumed in call order, plus per-actor routes for concurrent callers
// whose order is non-deterministic (matched on the system prompt prefix).
type ScriptedClient struct {
	mu         sync.Mutex
	sequential []ScriptEntry
	seqIndex   int
	routes     map[string][]ScriptEntry
	routeIndex map[string]int
	captured   []capturedCall
}

// NewScriptedClient returns an empty script; Chat on an exhausted script
// errors loudly instead of inventing responses.
func NewScriptedClient() *ScriptedClient {
	return &ScriptedClient{
		routes:     make(map[string][]ScriptEntry),
		routeIndex: make(map[string]int),
	}
}

// AddText queues a plain assistant response.
func (c *ScriptedClient) AddText(text string) *ScriptedClient {
	return c.Add(ScriptEntry{Text: text})
}

// AddToolCall queues an assistant response requesting one tool invocation.
func (c *ScriptedClient) AddToolCall(id, name, argsJSON string) *ScriptedClient {
	return c.Add(ScriptEntry{Response: &llm.Response{
		ToolCalls: []llm.ToolCall{{ID: id, Name: name, Arguments: []byte(argsJSON)}},
		Usage:     llm.Usage{InputTokens: 10, OutputTokens: 5},
	}})
}

// AddError queues a failing call.
func (c *ScriptedClient) AddError(err error) *ScriptedClient {
	return c.Add(ScriptEntry{Error: err})
}

// Add queues a sequential entry.
func (c *ScriptedClient) Add(entry ScriptEntry) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sequential = append(c.sequential, entry)
	return c
}

// AddRouted queues an entry consumed only by calls whose system prompt
// contains marker. Routed entries win over sequential ones.
func (c *ScriptedClient) AddRouted(marker string, entry ScriptEntry) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[marker] = append(c.routes[marker], entry)
	return c
}

// Calls returns the number of Chat invocations so far.
func (c *ScriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.captured)
}

// CapturedMessages returns the message history of call i.
func (c *ScriptedClient) CapturedMessages(i int) []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.captured) {
		return nil
	}
	return c.captured[i].Messages
}

// Chat implements llm.Client.
func (c *ScriptedClient) Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (*llm.Response, error) {
	c.mu.Lock()
	c.captured = append(c.captured, capturedCall{Messages: messages, Tools: tools})
	entry, err := c.nextEntry(messages)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if entry.BlockUntilCancelled {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if entry.Error != nil {
		return nil, entry.Error
	}
	if entry.Response != nil {
		return entry.Response, nil
	}
	return &llm.Response{
		Content: entry.Text,
		Usage:   llm.Usage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

// nextEntry picks routed first (system prompt contains the marker), then
// sequential. Caller holds c.mu.
func (c *ScriptedClient) nextEntry(messages []llm.Message) (ScriptEntry, error) {
	system := ""
	if len(messages) > 0 && messages[0].Role == llm.RoleSystem {
		system = messages[0].Content
	}
	for marker, entries := range c.routes {
		if marker == "" || !strings.Contains(system, marker) {
			continue
		}
		idx := c.routeIndex[marker]
		if idx < len(entries) {
			c.routeIndex[marker] = idx + 1
			return entries[idx], nil
		}
	}
	if c.seqIndex < len(c.sequential) {
		entry := c.sequential[c.seqIndex]
		c.seqIndex++
		return entry, nil
	}
	return ScriptEntry{}, fmt.Errorf("scripted llm client exhausted after %d calls", len(c.captured))
}

var _ llm.Client = (*ScriptedClient)(nil)
