package agent

import (
	"context"
	"sync"
)

// ApprovalBroker connects a parked agent turn to the approval decision
// that eventually arrives over the API. One waiter per approval ID;
// decisions for unknown IDs are dropped.
type ApprovalBroker struct {
	mu      sync.Mutex
	waiters map[string]chan bool
}

// NewApprovalBroker returns an empty broker.
func NewApprovalBroker() *ApprovalBroker {
	return &ApprovalBroker{waiters: make(map[string]chan bool)}
}

// Register opens the mailbox for an approval ID. Callers must register
// before announcing the request anywhere a decision could come from;
// otherwise a decision arriving before Wait would find no waiter and be
// dropped.
func (b *ApprovalBroker) Register(approvalID string) {
	b.mu.Lock()
	if _, ok := b.waiters[approvalID]; !ok {
		b.waiters[approvalID] = make(chan bool, 1)
	}
	b.mu.Unlock()
}

// Wait blocks until the approval is resolved or ctx is cancelled. Returns
// the decision (true = granted) or ctx.Err(). Picks up a decision already
// buffered by Resolve since Register.
func (b *ApprovalBroker) Wait(ctx context.Context, approvalID string) (bool, error) {
	b.mu.Lock()
	ch, ok := b.waiters[approvalID]
	if !ok {
		ch = make(chan bool, 1)
		b.waiters[approvalID] = ch
	}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.waiters, approvalID)
		b.mu.Unlock()
	}()

	select {
	case granted := <-ch:
		return granted, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Resolve delivers a decision to the mailbox, if one is open. The entry
// is removed by Wait when it consumes the decision; a second decision for
// the same ID before then is dropped. Returns whether the decision was
// delivered.
func (b *ApprovalBroker) Resolve(approvalID string, granted bool) bool {
	b.mu.Lock()
	ch, ok := b.waiters[approvalID]
	b.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- granted:
		return true
	default:
		return false
	}
}

// Pending lists the approval IDs currently parked.
func (b *ApprovalBroker) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.waiters))
	for id := range b.waiters {
		ids = append(ids, id)
	}
	return ids
}
