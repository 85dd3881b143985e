package sink

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyforge/hiveforge/pkg/akashic"
	"github.com/colonyforge/hiveforge/pkg/event"
)

// memorySink records applied events and can be told to fail.
type memorySink struct {
	name string

	mu      sync.Mutex
	applied []string // event IDs in apply order
	failing bool
}

func (m *memorySink) Name() string { return m.name }

func (m *memorySink) Apply(_ context.Context, _ string, e *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("downstream unavailable")
	}
	m.applied = append(m.applied, e.ID)
	return nil
}

func (m *memorySink) setFailing(failing bool) {
	m.mu.Lock()
	m.failing = failing
	m.mu.Unlock()
}

func (m *memorySink) appliedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.applied...)
}

func newTestStore(t *testing.T) *akashic.Store {
	t.Helper()
	store, err := akashic.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func appendEvent(t *testing.T, store *akashic.Store, streamID string, typ event.Type, payload map[string]any) *event.Event {
	t.Helper()
	committed, err := store.Append(streamID, event.New(typ,
		event.WithActor("test"),
		event.WithPayload(payload),
	))
	require.NoError(t, err)
	return committed
}

func TestRunnerAppliesInOrder(t *testing.T) {
	store := newTestStore(t)
	first := appendEvent(t, store, "run-1", event.TypeRunStarted, event.RunStartedPayload("ship it"))
	second := appendEvent(t, store, "run-1", event.TypeTaskCreated, nil)

	mem := &memorySink{name: "memory"}
	r := NewRunner(store, []Sink{mem})
	r.Sweep(context.Background())

	assert.Equal(t, []string{first.ID, second.ID}, mem.appliedIDs())

	// A second sweep is a no-op.
	r.Sweep(context.Background())
	assert.Equal(t, []string{first.ID, second.ID}, mem.appliedIDs())
}

func TestRunnerWritesCheckpointSidecar(t *testing.T) {
	store := newTestStore(t)
	committed := appendEvent(t, store, "run-1", event.TypeRunStarted, event.RunStartedPayload("x"))

	mem := &memorySink{name: "memory"}
	NewRunner(store, []Sink{mem}).Sweep(context.Background())

	path := filepath.Join(store.Root(), "run-1", "sink.memory.json")
	cp, err := loadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, committed.ID, cp.last)
	assert.True(t, cp.has(committed.ID))

	// The sidecar does not disturb chain verification.
	ok, failed, err := store.VerifyChain("run-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, -1, failed)
}

func TestRunnerSurvivesRestart(t *testing.T) {
	store := newTestStore(t)
	appendEvent(t, store, "run-1", event.TypeRunStarted, event.RunStartedPayload("x"))

	first := &memorySink{name: "memory"}
	NewRunner(store, []Sink{first}).Sweep(context.Background())
	require.Len(t, first.appliedIDs(), 1)

	// A fresh runner and sink instance pick up the sidecar and skip the
	// already-applied event.
	second := &memorySink{name: "memory"}
	r := NewRunner(store, []Sink{second})
	r.Sweep(context.Background())
	assert.Empty(t, second.appliedIDs())

	// New appends still flow.
	appendEvent(t, store, "run-1", event.TypeTaskCreated, nil)
	r.Sweep(context.Background())
	assert.Len(t, second.appliedIDs(), 1)
}

func TestRunnerRetriesFailedSinkOnly(t *testing.T) {
	store := newTestStore(t)
	committed := appendEvent(t, store, "run-1", event.TypeRunStarted, event.RunStartedPayload("x"))

	healthy := &memorySink{name: "healthy"}
	broken := &memorySink{name: "broken"}
	broken.setFailing(true)

	r := NewRunner(store, []Sink{healthy, broken})
	r.Sweep(context.Background())
	assert.Equal(t, []string{committed.ID}, healthy.appliedIDs())
	assert.Empty(t, broken.appliedIDs())

	// Once the sink recovers, the retry delivers the event exactly once
	// to it and not again to the healthy one.
	broken.setFailing(false)
	r.Sweep(context.Background())
	assert.Equal(t, []string{committed.ID}, healthy.appliedIDs())
	assert.Equal(t, []string{committed.ID}, broken.appliedIDs())
}

func TestRunnerTailsLiveAppends(t *testing.T) {
	store := newTestStore(t)
	mem := &memorySink{name: "memory"}
	r := NewRunner(store, []Sink{mem}, WithRetryInterval(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	appendEvent(t, store, "run-1", event.TypeRunStarted, event.RunStartedPayload("x"))
	require.Eventually(t, func() bool {
		return len(mem.appliedIDs()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	appendEvent(t, store, "run-1", event.TypeRunCompleted, event.RunCompletedPayload("done"))
	require.Eventually(t, func() bool {
		return len(mem.appliedIDs()) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunnerMultipleStreams(t *testing.T) {
	store := newTestStore(t)
	appendEvent(t, store, "run-1", event.TypeRunStarted, event.RunStartedPayload("a"))
	appendEvent(t, store, "run-2", event.TypeRunStarted, event.RunStartedPayload("b"))

	mem := &memorySink{name: "memory"}
	NewRunner(store, []Sink{mem}).Sweep(context.Background())
	assert.Len(t, mem.appliedIDs(), 2)
}

func TestCheckpointCorruptSidecar(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sink.memory.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := loadCheckpoint(path)
	assert.Error(t, err)
}

type recordingBroadcaster struct {
	mu      sync.Mutex
	streams []string
}

func (b *recordingBroadcaster) BroadcastEvent(streamID string, _ *event.Event) {
	b.mu.Lock()
	b.streams = append(b.streams, streamID)
	b.mu.Unlock()
}

func TestActivitySinkBroadcasts(t *testing.T) {
	store := newTestStore(t)
	appendEvent(t, store, "run-1", event.TypeRunStarted, event.RunStartedPayload("x"))

	b := &recordingBroadcaster{}
	NewRunner(store, []Sink{NewActivitySink(b)}).Sweep(context.Background())

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, []string{"run-1"}, b.streams)
}
