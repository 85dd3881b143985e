package akashic

import (
	"log/slog"
	"sync"
	"time"
)

// FsyncConfig controls durability batching: streams with unsynced appends
// are fsynced when Interval elapses or Batch appends accumulate, whichever
// comes first.
type FsyncConfig struct {
	Interval time.Duration
	Batch    int
}

// DefaultFsyncConfig returns the built-in thresholds: 50 ms / 32 events.
func DefaultFsyncConfig() FsyncConfig {
	return FsyncConfig{Interval: 50 * time.Millisecond, Batch: 32}
}

// flusher batches fsyncs across streams. Appends return after the write;
// durability follows within the configured window. A failed fsync is parked
// on the stream (syncErr) so the next Append surfaces it.
type flusher struct {
	cfg FsyncConfig

	mu      sync.Mutex
	pending map[*stream]int

	kick     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newFlusher(cfg FsyncConfig) *flusher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultFsyncConfig().Interval
	}
	if cfg.Batch <= 0 {
		cfg.Batch = DefaultFsyncConfig().Batch
	}
	return &flusher{
		cfg:     cfg,
		pending: make(map[*stream]int),
		kick:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

func (f *flusher) start() {
	f.wg.Add(1)
	go f.run()
}

func (f *flusher) run() {
	defer f.wg.Done()
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			if err := f.syncAll(); err != nil {
				slog.Error("Final fsync failed", "error", err)
			}
			return
		case <-ticker.C:
			_ = f.syncAll()
		case <-f.kick:
			_ = f.syncAll()
		}
	}
}

// schedule records an unsynced append and kicks the loop once the batch
// threshold is reached. Called with the stream mutex held; takes only the
// flusher mutex.
func (f *flusher) schedule(st *stream) {
	f.mu.Lock()
	f.pending[st]++
	hit := f.pending[st] >= f.cfg.Batch
	f.mu.Unlock()

	if hit {
		select {
		case f.kick <- struct{}{}:
		default:
		}
	}
}

// syncAll snapshots the pending set under the flusher mutex, then fsyncs
// each stream under its own mutex. Never holds both locks at once — the
// append path acquires them in the opposite order.
func (f *flusher) syncAll() error {
	f.mu.Lock()
	batch := f.pending
	f.pending = make(map[*stream]int)
	f.mu.Unlock()

	var first error
	for st := range batch {
		st.mu.Lock()
		if st.file != nil {
			if err := st.file.Sync(); err != nil {
				st.syncErr = err
				if first == nil {
					first = &StorageError{Op: "sync", Stream: st.id, Err: err}
				}
				slog.Error("Batched fsync failed", "stream", st.id, "error", err)
			}
		}
		st.mu.Unlock()
	}
	return first
}

// stop drains outstanding syncs and terminates the loop.
func (f *flusher) stop() error {
	f.stopOnce.Do(func() { close(f.stopCh) })
	f.wg.Wait()
	return f.syncAll()
}
