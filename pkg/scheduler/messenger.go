package scheduler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/colonyforge/hiveforge/pkg/event"
)

// Priority orders messages within a mailbox. Higher drains first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// ParsePriority maps a config/API string to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "urgent":
		return PriorityUrgent, nil
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// Message is one inter-colony message.
type Message struct {
	ID            string   `json:"id"`
	CorrelationID string   `json:"correlation_id"`
	From          string   `json:"from"`
	To            string   `json:"to"`
	Priority      Priority `json:"priority"`
	Subject       string   `json:"subject"`
	Body          string   `json:"body"`
	// InReplyTo carries the correlation ID this message responds to.
	InReplyTo string `json:"in_reply_to,omitempty"`
}

// DeadlockError reports a cycle in the resource wait-for graph.
type DeadlockError struct {
	// Cycle lists the colonies forming the cycle, starting from the
	// requester.
	Cycle []string
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("resource deadlock between colonies %v", e.Cycle)
}

// Messenger is the in-memory inter-colony mail system: one priority
// mailbox per colony plus a resource-lock table with cycle-based deadlock
// detection. Event recording is optional via emit.
type Messenger struct {
	mu        sync.Mutex
	mailboxes map[string][]*Message
	// locks maps resource → holding colony.
	locks map[string]string
	// waits maps colony → resources it is blocked on.
	waits map[string]map[string]struct{}
	emit  func(t event.Type, payload map[string]any)
}

// NewMessenger builds an empty messenger; emit may be nil.
func NewMessenger(emit func(event.Type, map[string]any)) *Messenger {
	return &Messenger{
		mailboxes: make(map[string][]*Message),
		locks:     make(map[string]string),
		waits:     make(map[string]map[string]struct{}),
		emit:      emit,
	}
}

// Send queues a message to one colony and returns it (with minted
// message and correlation IDs).
func (m *Messenger) Send(from, to string, priority Priority, subject, body string) (*Message, error) {
	if to == "" {
		return nil, NewValidationError("to", "required")
	}
	msg := &Message{
		ID:            uuid.NewString(),
		CorrelationID: uuid.NewString(),
		From:          from,
		To:            to,
		Priority:      priority,
		Subject:       subject,
		Body:          body,
	}
	m.deliver(msg)
	m.record(event.TypeMessageSent, msg)
	return msg, nil
}

// Broadcast queues one message per recipient colony, all sharing a
// correlation ID.
func (m *Messenger) Broadcast(from string, recipients []string, priority Priority, subject, body string) ([]*Message, error) {
	if len(recipients) == 0 {
		return nil, NewValidationError("recipients", "required")
	}
	correlationID := uuid.NewString()
	out := make([]*Message, 0, len(recipients))
	for _, to := range recipients {
		if to == from {
			continue
		}
		msg := &Message{
			ID:            uuid.NewString(),
			CorrelationID: correlationID,
			From:          from,
			To:            to,
			Priority:      priority,
			Subject:       subject,
			Body:          body,
		}
		m.deliver(msg)
		out = append(out, msg)
	}
	if m.emit != nil && len(out) > 0 {
		m.emit(event.TypeMessageBroadcast, map[string]any{
			"correlation_id": correlationID,
			"from":           from,
			"recipients":     len(out),
			"subject":        subject,
		})
	}
	return out, nil
}

// Receive pops the highest-priority message (FIFO within a priority) for
// a colony.
func (m *Messenger) Receive(colony string) (*Message, bool) {
	m.mu.Lock()
	box := m.mailboxes[colony]
	idx := highestPriority(box)
	var msg *Message
	if idx >= 0 {
		msg = box[idx]
		m.mailboxes[colony] = append(box[:idx], box[idx+1:]...)
	}
	m.mu.Unlock()

	if msg == nil {
		return nil, false
	}
	m.record(event.TypeMessageReceived, msg)
	return msg, true
}

// Peek returns the message Receive would pop, without removing it.
func (m *Messenger) Peek(colony string) (*Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	box := m.mailboxes[colony]
	idx := highestPriority(box)
	if idx < 0 {
		return nil, false
	}
	copied := *box[idx]
	return &copied, true
}

// Respond delivers a reply to the original sender, preserving the
// correlation ID.
func (m *Messenger) Respond(from, toColony, correlationID, body string) (*Message, error) {
	if correlationID == "" {
		return nil, NewValidationError("correlation_id", "required")
	}
	msg := &Message{
		ID:            uuid.NewString(),
		CorrelationID: correlationID,
		From:          from,
		To:            toColony,
		Priority:      PriorityNormal,
		Body:          body,
		InReplyTo:     correlationID,
	}
	m.deliver(msg)
	m.record(event.TypeMessageResponded, msg)
	return msg, nil
}

// Pending reports mailbox depth for a colony.
func (m *Messenger) Pending(colony string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mailboxes[colony])
}

func (m *Messenger) deliver(msg *Message) {
	m.mu.Lock()
	m.mailboxes[msg.To] = append(m.mailboxes[msg.To], msg)
	m.mu.Unlock()
}

func (m *Messenger) record(t event.Type, msg *Message) {
	if m.emit == nil {
		return
	}
	m.emit(t, map[string]any{
		"message_id":     msg.ID,
		"correlation_id": msg.CorrelationID,
		"from":           msg.From,
		"to":             msg.To,
		"priority":       msg.Priority.String(),
		"subject":        msg.Subject,
	})
}

// highestPriority returns the index of the first message with the highest
// priority present, or -1.
func highestPriority(box []*Message) int {
	idx := -1
	for i, msg := range box {
		if idx == -1 || msg.Priority > box[idx].Priority {
			idx = i
		}
	}
	return idx
}

// AcquireLock takes a named resource for a colony. A resource held by
// another colony records the wait; if that wait closes a cycle in the
// wait-for graph the acquisition fails with DeadlockError and no wait is
// recorded.
func (m *Messenger) AcquireLock(colony, resource string) error {
	if resource == "" {
		return NewValidationError("resource", "required")
	}
	m.mu.Lock()
	holder, held := m.locks[resource]
	if !held || holder == colony {
		m.locks[resource] = colony
		delete(m.waitSet(colony), resource)
		m.mu.Unlock()
		if m.emit != nil {
			m.emit(event.TypeResourceLockAcquired, map[string]any{
				"colony_id": colony, "resource": resource,
			})
		}
		return nil
	}

	// Tentatively record the wait and look for a cycle.
	m.waitSet(colony)[resource] = struct{}{}
	cycle := m.findCycle(colony)
	if cycle != nil {
		delete(m.waitSet(colony), resource)
		m.mu.Unlock()
		if m.emit != nil {
			m.emit(event.TypeResourceDeadlock, map[string]any{
				"colony_id": colony, "resource": resource, "cycle": cycle,
			})
		}
		return &DeadlockError{Cycle: cycle}
	}
	m.mu.Unlock()

	if m.emit != nil {
		m.emit(event.TypeResourceConflict, map[string]any{
			"colony_id": colony, "resource": resource, "held_by": holder,
		})
	}
	return fmt.Errorf("resource %q held by colony %s: %w", resource, holder, ErrConflict)
}

// ReleaseLock frees a resource; only the holder may release.
func (m *Messenger) ReleaseLock(colony, resource string) error {
	m.mu.Lock()
	holder, held := m.locks[resource]
	if !held || holder != colony {
		m.mu.Unlock()
		return fmt.Errorf("resource %q not held by colony %s: %w", resource, colony, ErrConflict)
	}
	delete(m.locks, resource)
	m.mu.Unlock()

	if m.emit != nil {
		m.emit(event.TypeResourceLockReleased, map[string]any{
			"colony_id": colony, "resource": resource,
		})
	}
	return nil
}

// Holder reports which colony holds a resource.
func (m *Messenger) Holder(resource string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	holder, ok := m.locks[resource]
	return holder, ok
}

func (m *Messenger) waitSet(colony string) map[string]struct{} {
	set, ok := m.waits[colony]
	if !ok {
		set = make(map[string]struct{})
		m.waits[colony] = set
	}
	return set
}

// findCycle searches the wait-for graph (colony → holder of a waited
// resource) for a cycle through start. Caller holds m.mu.
func (m *Messenger) findCycle(start string) []string {
	visited := map[string]bool{start: true}
	path := []string{start}

	var dfs func(colony string) []string
	dfs = func(colony string) []string {
		for _, holder := range m.waitedHolders(colony) {
			if holder == start {
				return append(append([]string(nil), path...), start)
			}
			if visited[holder] {
				continue
			}
			visited[holder] = true
			path = append(path, holder)
			if cycle := dfs(holder); cycle != nil {
				return cycle
			}
			path = path[:len(path)-1]
		}
		return nil
	}
	return dfs(start)
}

// waitedHolders lists, in stable order, the colonies holding resources
// that colony waits on. Caller holds m.mu.
func (m *Messenger) waitedHolders(colony string) []string {
	resources := make([]string, 0, len(m.waits[colony]))
	for resource := range m.waits[colony] {
		resources = append(resources, resource)
	}
	sort.Strings(resources)

	var holders []string
	for _, resource := range resources {
		if holder, held := m.locks[resource]; held && holder != colony {
			holders = append(holders, holder)
		}
	}
	return holders
}
