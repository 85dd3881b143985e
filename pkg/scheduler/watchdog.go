package scheduler

import (
	"context"
	"sync"
	"time"
)

// Watchdog fires a callback when a registered run produces no events for
// the configured timeout. One goroutine per run; the callback runs on the
// watchdog goroutine and no lock is held across any wait.
type Watchdog struct {
	timeout  time.Duration
	onBreach func(runID string, silentFor time.Duration)

	mu      sync.Mutex
	entries map[string]*watchEntry
	stopped bool
}

type watchEntry struct {
	touched chan struct{}
	done    chan struct{}
	last    time.Time
}

// NewWatchdog builds a watchdog; onBreach may be nil.
func NewWatchdog(timeout time.Duration, onBreach func(string, time.Duration)) *Watchdog {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Watchdog{
		timeout:  timeout,
		onBreach: onBreach,
		entries:  make(map[string]*watchEntry),
	}
}

// Register starts watching a run until ctx ends or Deregister is called.
// Registering a watched run is a no-op.
func (w *Watchdog) Register(ctx context.Context, runID string) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	if _, exists := w.entries[runID]; exists {
		w.mu.Unlock()
		return
	}
	entry := &watchEntry{
		touched: make(chan struct{}, 1),
		done:    make(chan struct{}),
		last:    time.Now(),
	}
	w.entries[runID] = entry
	w.mu.Unlock()

	go w.watch(ctx, runID, entry)
}

// Touch records run activity; unknown runs are ignored.
func (w *Watchdog) Touch(runID string) {
	w.mu.Lock()
	entry, ok := w.entries[runID]
	if ok {
		entry.last = time.Now()
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	select {
	case entry.touched <- struct{}{}:
	default:
	}
}

// Deregister stops watching a run.
func (w *Watchdog) Deregister(runID string) {
	w.mu.Lock()
	entry, ok := w.entries[runID]
	if ok {
		delete(w.entries, runID)
	}
	w.mu.Unlock()
	if ok {
		close(entry.done)
	}
}

// Stop deregisters every run.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	w.stopped = true
	entries := w.entries
	w.entries = make(map[string]*watchEntry)
	w.mu.Unlock()
	for _, entry := range entries {
		close(entry.done)
	}
}

// watch fires once per silent period: after a breach it stays quiet until
// the next Touch re-arms the timer.
func (w *Watchdog) watch(ctx context.Context, runID string, entry *watchEntry) {
	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Deregister(runID)
			return
		case <-entry.done:
			return
		case <-entry.touched:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.timeout)
		case <-timer.C:
			w.mu.Lock()
			silentFor := time.Since(entry.last)
			w.mu.Unlock()
			if w.onBreach != nil {
				w.onBreach(runID, silentFor)
			}
			// Wait for activity before re-arming.
			select {
			case <-ctx.Done():
				w.Deregister(runID)
				return
			case <-entry.done:
				return
			case <-entry.touched:
				timer.Reset(w.timeout)
			}
		}
	}
}
