package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/colonyforge/hiveforge/pkg/event"
)

// WorkerSpec describes one supervised agent process.
type WorkerSpec struct {
	Role string
	// Command is argv; Command[0] is the executable.
	Command []string
	// AutoRestart re-launches the process after a crash while the restart
	// budget lasts.
	AutoRestart bool
	// MaxRestarts bounds automatic restarts; zero means 3.
	MaxRestarts int
}

// WorkerStatus is a point-in-time view of a supervised worker.
type WorkerStatus struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	Running  bool   `json:"running"`
	PID      int    `json:"pid,omitempty"`
	Restarts int    `json:"restarts"`
	Crashed  bool   `json:"crashed"`
}

type worker struct {
	id       string
	spec     WorkerSpec
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	restarts int
	running  bool
	crashed  bool
	stopping bool
}

// WorkerManager supervises agent child processes: start, stop, restart,
// and crash recovery within a per-worker restart budget.
type WorkerManager struct {
	log  *slog.Logger
	emit func(t event.Type, payload map[string]any)

	mu      sync.Mutex
	workers map[string]*worker
}

// NewWorkerManager builds a manager; emit may be nil.
func NewWorkerManager(emit func(event.Type, map[string]any)) *WorkerManager {
	return &WorkerManager{
		log:     slog.With("component", "worker_manager"),
		emit:    emit,
		workers: make(map[string]*worker),
	}
}

// StartWorker launches a worker process and begins supervising it.
func (wm *WorkerManager) StartWorker(ctx context.Context, id string, spec WorkerSpec) error {
	if len(spec.Command) == 0 {
		return NewValidationError("command", "required")
	}
	if spec.MaxRestarts <= 0 {
		spec.MaxRestarts = 3
	}

	wm.mu.Lock()
	if w, exists := wm.workers[id]; exists && w.running {
		wm.mu.Unlock()
		return fmt.Errorf("worker %s: %w", id, ErrAlreadyExists)
	}
	w := &worker{id: id, spec: spec}
	wm.workers[id] = w
	err := wm.launch(ctx, w)
	wm.mu.Unlock()
	if err != nil {
		return err
	}

	wm.record(event.TypeWorkerStarted, w)
	wm.log.Info("Worker started", "worker_id", id, "role", spec.Role)
	return nil
}

// launch starts the process and the supervision goroutine. Caller holds
// wm.mu.
func (wm *WorkerManager) launch(ctx context.Context, w *worker) error {
	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, w.spec.Command[0], w.spec.Command[1:]...)
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start worker %s: %w", w.id, err)
	}
	w.cmd = cmd
	w.cancel = cancel
	w.running = true
	w.crashed = false
	w.stopping = false

	go wm.supervise(ctx, w, cmd)
	return nil
}

// supervise waits for process exit and applies the restart policy.
func (wm *WorkerManager) supervise(ctx context.Context, w *worker, cmd *exec.Cmd) {
	err := cmd.Wait()

	wm.mu.Lock()
	if w.cmd != cmd {
		// A restart already replaced this process.
		wm.mu.Unlock()
		return
	}
	w.running = false

	if w.stopping || ctx.Err() != nil {
		wm.mu.Unlock()
		wm.record(event.TypeWorkerStopped, w)
		wm.log.Info("Worker stopped", "worker_id", w.id)
		return
	}

	w.crashed = true
	wm.mu.Unlock()
	wm.record(event.TypeWorkerCrashed, w)
	wm.log.Warn("Worker crashed", "worker_id", w.id, "error", err)

	if !w.spec.AutoRestart {
		return
	}

	wm.mu.Lock()
	if w.restarts >= w.spec.MaxRestarts {
		wm.mu.Unlock()
		wm.log.Error("Worker restart budget exhausted", "worker_id", w.id, "restarts", w.restarts)
		return
	}
	w.restarts++
	// Brief back-off keeps a crash loop from spinning hot.
	wm.mu.Unlock()
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(w.restarts) * 100 * time.Millisecond):
	}

	wm.mu.Lock()
	if w.stopping {
		wm.mu.Unlock()
		return
	}
	launchErr := wm.launch(ctx, w)
	wm.mu.Unlock()
	if launchErr != nil {
		wm.log.Error("Worker restart failed", "worker_id", w.id, "error", launchErr)
		return
	}
	wm.record(event.TypeWorkerRestarted, w)
	wm.log.Info("Worker restarted", "worker_id", w.id, "restarts", w.restarts)
}

// DefaultHealthInterval is the liveness probe period for HealthLoop.
const DefaultHealthInterval = 10 * time.Second

// CheckHealth probes every running worker process with a null signal and
// returns the IDs that no longer respond, sorted. Healthy workers emit a
// heartbeat; a dead process is left to supervise, which reaps the exit
// and applies the restart policy.
func (wm *WorkerManager) CheckHealth() []string {
	type target struct {
		id   string
		role string
		proc *os.Process
	}
	wm.mu.Lock()
	targets := make([]target, 0, len(wm.workers))
	for _, w := range wm.workers {
		if w.running && w.cmd != nil && w.cmd.Process != nil {
			targets = append(targets, target{w.id, w.spec.Role, w.cmd.Process})
		}
	}
	wm.mu.Unlock()

	var dead []string
	for _, tg := range targets {
		if err := tg.proc.Signal(syscall.Signal(0)); err != nil {
			dead = append(dead, tg.id)
			wm.log.Warn("Worker failed liveness probe", "worker_id", tg.id, "pid", tg.proc.Pid)
			continue
		}
		if wm.emit != nil {
			wm.emit(event.TypeWorkerHeartbeat, map[string]any{"worker_id": tg.id, "role": tg.role})
		}
	}
	sort.Strings(dead)
	return dead
}

// HealthLoop probes worker liveness on the interval until ctx ends.
func (wm *WorkerManager) HealthLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wm.CheckHealth()
		}
	}
}

// StopWorker terminates a worker process intentionally.
func (wm *WorkerManager) StopWorker(id string) error {
	wm.mu.Lock()
	w, ok := wm.workers[id]
	if !ok {
		wm.mu.Unlock()
		return fmt.Errorf("worker %s: %w", id, ErrNotFound)
	}
	if !w.running {
		wm.mu.Unlock()
		return fmt.Errorf("worker %s not running: %w", id, ErrConflict)
	}
	w.stopping = true
	cancel := w.cancel
	wm.mu.Unlock()

	cancel()
	return nil
}

// RestartWorker stops and relaunches a worker, counting against its
// restart budget.
func (wm *WorkerManager) RestartWorker(ctx context.Context, id string) error {
	wm.mu.Lock()
	w, ok := wm.workers[id]
	if !ok {
		wm.mu.Unlock()
		return fmt.Errorf("worker %s: %w", id, ErrNotFound)
	}
	if w.running {
		w.stopping = true
		w.cancel()
		w.running = false
	}
	w.restarts++
	err := wm.launch(ctx, w)
	wm.mu.Unlock()
	if err != nil {
		return err
	}
	wm.record(event.TypeWorkerRestarted, w)
	return nil
}

// Status reports one worker.
func (wm *WorkerManager) Status(id string) (*WorkerStatus, error) {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	w, ok := wm.workers[id]
	if !ok {
		return nil, fmt.Errorf("worker %s: %w", id, ErrNotFound)
	}
	return wm.status(w), nil
}

// List reports every worker, ordered by ID.
func (wm *WorkerManager) List() []*WorkerStatus {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	out := make([]*WorkerStatus, 0, len(wm.workers))
	for _, w := range wm.workers {
		out = append(out, wm.status(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StopAll terminates every running worker.
func (wm *WorkerManager) StopAll() {
	wm.mu.Lock()
	var cancels []context.CancelFunc
	for _, w := range wm.workers {
		if w.running {
			w.stopping = true
			cancels = append(cancels, w.cancel)
		}
	}
	wm.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (wm *WorkerManager) status(w *worker) *WorkerStatus {
	st := &WorkerStatus{
		ID:       w.id,
		Role:     w.spec.Role,
		Running:  w.running,
		Restarts: w.restarts,
		Crashed:  w.crashed,
	}
	if w.running && w.cmd != nil && w.cmd.Process != nil {
		st.PID = w.cmd.Process.Pid
	}
	return st
}

func (wm *WorkerManager) record(t event.Type, w *worker) {
	if wm.emit == nil {
		return
	}
	wm.emit(t, map[string]any{
		"worker_id": w.id,
		"role":      w.spec.Role,
		"restarts":  w.restarts,
	})
}
