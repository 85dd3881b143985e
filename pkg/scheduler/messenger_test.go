package scheduler

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyforge/hiveforge/pkg/event"
)

type emitLog struct {
	mu    sync.Mutex
	types []event.Type
}

func (l *emitLog) emit(t event.Type, _ map[string]any) {
	l.mu.Lock()
	l.types = append(l.types, t)
	l.mu.Unlock()
}

func (l *emitLog) has(t event.Type) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, got := range l.types {
		if got == t {
			return true
		}
	}
	return false
}

func TestMessengerSendReceive(t *testing.T) {
	log := &emitLog{}
	m := NewMessenger(log.emit)

	sent, err := m.Send("alpha", "beta", PriorityNormal, "status", "all quiet")
	require.NoError(t, err)
	assert.NotEmpty(t, sent.ID)
	assert.NotEmpty(t, sent.CorrelationID)
	assert.Equal(t, 1, m.Pending("beta"))

	got, ok := m.Receive("beta")
	require.True(t, ok)
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, "all quiet", got.Body)
	assert.Equal(t, 0, m.Pending("beta"))

	_, ok = m.Receive("beta")
	assert.False(t, ok)

	assert.True(t, log.has(event.TypeMessageSent))
	assert.True(t, log.has(event.TypeMessageReceived))
}

func TestMessengerPriorityOrdering(t *testing.T) {
	m := NewMessenger(nil)

	_, err := m.Send("a", "box", PriorityLow, "low-1", "")
	require.NoError(t, err)
	_, err = m.Send("a", "box", PriorityNormal, "normal-1", "")
	require.NoError(t, err)
	_, err = m.Send("a", "box", PriorityUrgent, "urgent-1", "")
	require.NoError(t, err)
	_, err = m.Send("a", "box", PriorityHigh, "high-1", "")
	require.NoError(t, err)
	_, err = m.Send("a", "box", PriorityUrgent, "urgent-2", "")
	require.NoError(t, err)

	var subjects []string
	for {
		msg, ok := m.Receive("box")
		if !ok {
			break
		}
		subjects = append(subjects, msg.Subject)
	}
	// Highest priority first, FIFO within a priority.
	assert.Equal(t, []string{"urgent-1", "urgent-2", "high-1", "normal-1", "low-1"}, subjects)
}

func TestMessengerPeek(t *testing.T) {
	m := NewMessenger(nil)

	_, ok := m.Peek("box")
	assert.False(t, ok)

	sent, err := m.Send("a", "box", PriorityHigh, "look", "")
	require.NoError(t, err)

	peeked, ok := m.Peek("box")
	require.True(t, ok)
	assert.Equal(t, sent.ID, peeked.ID)
	assert.Equal(t, 1, m.Pending("box"))
}

func TestMessengerBroadcast(t *testing.T) {
	log := &emitLog{}
	m := NewMessenger(log.emit)

	msgs, err := m.Broadcast("alpha", []string{"alpha", "beta", "gamma"}, PriorityHigh, "all hands", "regroup")
	require.NoError(t, err)
	require.Len(t, msgs, 2) // sender excluded
	assert.Equal(t, msgs[0].CorrelationID, msgs[1].CorrelationID)
	assert.Equal(t, 0, m.Pending("alpha"))
	assert.Equal(t, 1, m.Pending("beta"))
	assert.Equal(t, 1, m.Pending("gamma"))
	assert.True(t, log.has(event.TypeMessageBroadcast))

	_, err = m.Broadcast("alpha", nil, PriorityNormal, "", "")
	assert.True(t, IsValidationError(err))
}

func TestMessengerRespond(t *testing.T) {
	m := NewMessenger(nil)

	sent, err := m.Send("alpha", "beta", PriorityNormal, "question", "which branch?")
	require.NoError(t, err)
	received, ok := m.Receive("beta")
	require.True(t, ok)

	reply, err := m.Respond("beta", received.From, received.CorrelationID, "main")
	require.NoError(t, err)
	assert.Equal(t, sent.CorrelationID, reply.CorrelationID)
	assert.Equal(t, sent.CorrelationID, reply.InReplyTo)

	got, ok := m.Receive("alpha")
	require.True(t, ok)
	assert.Equal(t, "main", got.Body)

	_, err = m.Respond("beta", "alpha", "", "missing correlation")
	assert.True(t, IsValidationError(err))
}

func TestMessengerLocks(t *testing.T) {
	log := &emitLog{}
	m := NewMessenger(log.emit)

	require.NoError(t, m.AcquireLock("alpha", "repo"))
	holder, held := m.Holder("repo")
	require.True(t, held)
	assert.Equal(t, "alpha", holder)

	// Re-acquire by the holder is fine.
	require.NoError(t, m.AcquireLock("alpha", "repo"))

	// Another colony conflicts.
	err := m.AcquireLock("beta", "repo")
	assert.ErrorIs(t, err, ErrConflict)
	assert.True(t, log.has(event.TypeResourceConflict))

	// Only the holder may release.
	err = m.ReleaseLock("beta", "repo")
	assert.ErrorIs(t, err, ErrConflict)
	require.NoError(t, m.ReleaseLock("alpha", "repo"))
	_, held = m.Holder("repo")
	assert.False(t, held)

	// Once free, the waiter can take it.
	require.NoError(t, m.AcquireLock("beta", "repo"))
}

func TestMessengerDeadlockDetection(t *testing.T) {
	log := &emitLog{}
	m := NewMessenger(log.emit)

	require.NoError(t, m.AcquireLock("alpha", "repo"))
	require.NoError(t, m.AcquireLock("beta", "db"))

	// alpha waits on db (held by beta).
	err := m.AcquireLock("alpha", "db")
	assert.ErrorIs(t, err, ErrConflict)

	// beta waiting on repo (held by alpha) closes the cycle.
	err = m.AcquireLock("beta", "repo")
	var deadlock *DeadlockError
	require.ErrorAs(t, err, &deadlock)
	assert.Equal(t, []string{"beta", "alpha", "beta"}, deadlock.Cycle)
	assert.True(t, log.has(event.TypeResourceDeadlock))

	// The failed acquisition left no wait behind: alpha releasing repo
	// lets beta through without a phantom cycle.
	require.NoError(t, m.ReleaseLock("alpha", "repo"))
	require.NoError(t, m.AcquireLock("beta", "repo"))
}

func TestMessengerThreeWayDeadlock(t *testing.T) {
	m := NewMessenger(nil)

	require.NoError(t, m.AcquireLock("alpha", "r1"))
	require.NoError(t, m.AcquireLock("beta", "r2"))
	require.NoError(t, m.AcquireLock("gamma", "r3"))

	assert.ErrorIs(t, m.AcquireLock("alpha", "r2"), ErrConflict)
	assert.ErrorIs(t, m.AcquireLock("beta", "r3"), ErrConflict)

	err := m.AcquireLock("gamma", "r1")
	var deadlock *DeadlockError
	require.ErrorAs(t, err, &deadlock)
	assert.Equal(t, []string{"gamma", "alpha", "beta", "gamma"}, deadlock.Cycle)
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in   string
		want Priority
		ok   bool
	}{
		{"low", PriorityLow, true},
		{"normal", PriorityNormal, true},
		{"", PriorityNormal, true},
		{"high", PriorityHigh, true},
		{"urgent", PriorityUrgent, true},
		{"asap", PriorityNormal, false},
	}
	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		if tt.ok {
			require.NoError(t, err, tt.in)
			assert.Equal(t, tt.want, got, tt.in)
			if tt.in != "" {
				assert.Equal(t, tt.in, got.String())
			}
		} else {
			assert.Error(t, err, tt.in)
		}
	}
}

func TestMessengerSendValidation(t *testing.T) {
	m := NewMessenger(nil)
	_, err := m.Send("alpha", "", PriorityNormal, "s", "b")
	assert.True(t, IsValidationError(err))
}
