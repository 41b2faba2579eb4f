// Package scheduler claims queued tasks and runs them on a bounded pool of
// workers.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fentz26/tesd/internal/audit"
	"github.com/fentz26/tesd/internal/models"
	"github.com/fentz26/tesd/internal/runner"
)

// Store is the queue the scheduler draws from.
type Store interface {
	ClaimNext(ctx context.Context) (*models.Task, error)
	RecoverInterrupted(ctx context.Context) ([]string, error)
}

// Runner executes a claimed task to a terminal state.
type Runner interface {
	Connector() string
	Run(ctx context.Context, task *models.Task, h *runner.Handle) (models.State, error)
}

// Stats is a snapshot of scheduler load.
type Stats struct {
	ActiveWorkers   int            `json:"active_workers"`
	GlobalMax       int            `json:"global_max"`
	ConnectorCounts map[string]int `json:"connector_counts"`
	Running         []string       `json:"running"`
}

// Scheduler manages task dispatching and worker pools.
type Scheduler struct {
	store  Store
	runner Runner
	rec    *audit.Recorder
	config *Config
	logger *slog.Logger

	// Worker pool state
	mu              sync.Mutex
	activeWorkers   int
	connectorCounts map[string]int
	handles         map[string]*runner.Handle

	notify chan struct{}

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new scheduler. rec may be nil.
func New(s Store, r Runner, rec *audit.Recorder, cfg *Config, logger *slog.Logger) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.GlobalMax < 1 {
		cfg.GlobalMax = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		store:           s,
		runner:          r,
		rec:             rec,
		config:          cfg,
		logger:          logger.With("component", "scheduler"),
		connectorCounts: make(map[string]int),
		handles:         make(map[string]*runner.Handle),
		notify:          make(chan struct{}, 1),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start fails over tasks a previous process left mid-run, then begins the
// scheduler loop.
func (sch *Scheduler) Start() {
	ids, err := sch.store.RecoverInterrupted(sch.ctx)
	if err != nil {
		sch.logger.Error("recover interrupted tasks", "error", err)
	}
	for _, id := range ids {
		sch.logger.Warn("task interrupted by restart", "task_id", id)
		if sch.rec != nil {
			if _, err := sch.rec.Record(sch.ctx, audit.ActionRecover, id, "", models.StateSystemError, nil, "interrupted by restart"); err != nil {
				sch.logger.Warn("record recovery", "task_id", id, "error", err)
			}
		}
	}

	sch.wg.Add(1)
	go sch.schedulerLoop()
	sch.logger.Info("scheduler started", "global_max", sch.config.GlobalMax, "connector", sch.runner.Connector())
}

// Stop cancels running tasks and waits for workers to exit.
func (sch *Scheduler) Stop() {
	sch.cancel()
	sch.wg.Wait()
	sch.logger.Info("scheduler stopped")
}

// Notify wakes the loop so a newly queued task is picked up without
// waiting for the next poll.
func (sch *Scheduler) Notify() {
	select {
	case sch.notify <- struct{}{}:
	default:
	}
}

// Cancel signals the worker running taskID, if any. It reports whether a
// worker was found.
func (sch *Scheduler) Cancel(taskID string) bool {
	sch.mu.Lock()
	h, ok := sch.handles[taskID]
	sch.mu.Unlock()
	if ok {
		h.Cancel()
	}
	return ok
}

// schedulerLoop polls for queued tasks and dispatches them to workers.
func (sch *Scheduler) schedulerLoop() {
	defer sch.wg.Done()

	ticker := time.NewTicker(sch.config.PollInterval)
	defer ticker.Stop()

	sch.pollAndDispatch()
	for {
		select {
		case <-sch.ctx.Done():
			return
		case <-ticker.C:
			sch.pollAndDispatch()
		case <-sch.notify:
			sch.pollAndDispatch()
		}
	}
}

func (sch *Scheduler) hasCapacity(connectorName string) bool {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	if sch.activeWorkers >= sch.config.GlobalMax {
		return false
	}
	return sch.connectorCounts[connectorName] < sch.config.GetConnectorLimit(connectorName)
}

// pollAndDispatch claims queued tasks while there is capacity.
func (sch *Scheduler) pollAndDispatch() {
	connectorName := sch.runner.Connector()
	for sch.ctx.Err() == nil && sch.hasCapacity(connectorName) {
		task, err := sch.store.ClaimNext(sch.ctx)
		if err != nil {
			sch.logger.Error("claim task", "error", err)
			return
		}
		if task == nil {
			return
		}

		if sch.rec != nil {
			if _, err := sch.rec.Transition(sch.ctx, task.ID, models.StateQueued, models.StateInitializing, "dispatched to "+connectorName); err != nil {
				sch.logger.Warn("record transition", "task_id", task.ID, "error", err)
			}
		}
		sch.logger.Info("dispatched task", "task_id", task.ID, "name", task.Name, "connector", connectorName)

		h := runner.NewHandle(sch.config.ForceCancel)
		sch.mu.Lock()
		sch.activeWorkers++
		sch.connectorCounts[connectorName]++
		sch.handles[task.ID] = h
		sch.mu.Unlock()

		sch.wg.Add(1)
		go sch.runWorker(task, h, connectorName)
	}
}

// runWorker executes a task in a worker.
func (sch *Scheduler) runWorker(task *models.Task, h *runner.Handle, connectorName string) {
	defer sch.wg.Done()
	defer func() {
		sch.mu.Lock()
		sch.activeWorkers--
		sch.connectorCounts[connectorName]--
		delete(sch.handles, task.ID)
		sch.mu.Unlock()
		// a slot opened up
		sch.Notify()
	}()

	state, err := sch.runner.Run(sch.ctx, task, h)
	if err != nil {
		sch.logger.Error("run task", "task_id", task.ID, "error", err)
		return
	}
	sch.logger.Info("task done", "task_id", task.ID, "state", state)
}

// GetStats returns current scheduler statistics.
func (sch *Scheduler) GetStats() Stats {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	connectorCounts := make(map[string]int)
	for k, v := range sch.connectorCounts {
		connectorCounts[k] = v
	}
	running := make([]string, 0, len(sch.handles))
	for id := range sch.handles {
		running = append(running, id)
	}
	sort.Strings(running)

	return Stats{
		ActiveWorkers:   sch.activeWorkers,
		GlobalMax:       sch.config.GlobalMax,
		ConnectorCounts: connectorCounts,
		Running:         running,
	}
}
