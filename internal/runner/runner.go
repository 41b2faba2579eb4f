// Package runner drives one task through its executors.
//
// Executors run strictly in order. The first non-zero exit code stops the
// task with ERROR; a failure to run or observe an executor stops it with
// SYSTEM_ERROR. Only system failures are retried, and only up to the
// configured attempt limit; every attempt gets its own TaskLog.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fentz26/tesd/internal/connectors"
	"github.com/fentz26/tesd/internal/lifecycle"
	"github.com/fentz26/tesd/internal/models"
	"github.com/fentz26/tesd/internal/tasklog"
)

// Store is the persistence the runner needs.
type Store interface {
	tasklog.Store
	UpdateState(ctx context.Context, id string, to models.State) (models.State, error)
	GetState(ctx context.Context, id string) (models.State, error)
}

// Stager fetches input files into the workspace.
type Stager interface {
	Get(ctx context.Context, url, dst string, dir bool) error
}

// Recorder receives state transitions made by the runner.
type Recorder interface {
	Transition(ctx context.Context, taskID string, from, to models.State, detail string) (*models.Event, error)
}

// Config controls task execution.
type Config struct {
	// WorkDir holds one workspace directory per task attempt.
	WorkDir string
	// MaxAttempts bounds attempts after system failures. Values below 1
	// mean a single attempt.
	MaxAttempts int
	// KeepWorkspace leaves workspaces on disk after the attempt.
	KeepWorkspace bool
}

// Runner executes tasks.
type Runner struct {
	store  Store
	conn   connectors.Connector
	logs   *tasklog.Aggregator
	stager Stager
	rec    Recorder
	cfg    Config
	logger *slog.Logger
}

// New creates a Runner. stager and rec may be nil.
func New(store Store, conn connectors.Connector, logs *tasklog.Aggregator, stager Stager, rec Recorder, cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "tesd")
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Runner{
		store:  store,
		conn:   conn,
		logs:   logs,
		stager: stager,
		rec:    rec,
		cfg:    cfg,
		logger: logger.With("component", "runner"),
	}
}

// Connector returns the name of the connector steps run on.
func (r *Runner) Connector() string {
	return r.conn.Name()
}

type outcome struct {
	state  models.State
	reason string
}

// Run executes task, which must already be INITIALIZING, and persists the
// terminal state it reaches. The returned state is the one stored for the
// task when Run returns. Errors report persistence failures only; execution
// failures are expressed as the returned state.
func (r *Runner) Run(ctx context.Context, task *models.Task, h *Handle) (models.State, error) {
	if h == nil {
		h = NewHandle(false)
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	h.bind(cancel)

	// state changes and logs must land even while the daemon shuts down
	pctx := context.WithoutCancel(ctx)

	cur := models.StateInitializing
	if len(task.Executors) == 0 {
		return r.transition(pctx, task.ID, &cur, models.StateSystemError, "no executors")
	}
	for n := 1; ; n++ {
		out := r.attempt(runCtx, pctx, task, h, n, &cur)
		log := r.logger.With("task_id", task.ID, "attempt", n, "state", out.state)
		if out.reason != "" {
			log = log.With("reason", out.reason)
		}

		if out.state == models.StateSystemError && n < r.cfg.MaxAttempts && !h.Canceled() && ctx.Err() == nil {
			log.Warn("attempt failed, retrying")
			continue
		}
		if out.state == models.StateCanceled {
			log.Info("task canceled")
			return r.store.GetState(pctx, task.ID)
		}

		log.Info("task finished")
		st, err := r.transition(pctx, task.ID, &cur, out.state, out.reason)
		if errors.Is(err, lifecycle.ErrTerminal) {
			// canceled while finishing; the cancel stands
			return st, nil
		}
		return st, err
	}
}

func (r *Runner) attempt(ctx, pctx context.Context, task *models.Task, h *Handle, n int, cur *models.State) outcome {
	att, err := r.logs.Open(pctx, task.ID, map[string]string{
		"connector": r.conn.Name(),
		"attempt":   strconv.Itoa(n),
	})
	if err != nil {
		return outcome{state: models.StateSystemError, reason: err.Error()}
	}

	ws, err := connectors.NewWorkspace(filepath.Join(r.cfg.WorkDir, task.ID, "attempt-"+strconv.Itoa(n)))
	if err != nil {
		r.logs.SystemLog(att, "create workspace: %v", err)
		return r.close(pctx, att, nil, task, outcome{state: models.StateSystemError, reason: "workspace"})
	}
	if !r.cfg.KeepWorkspace {
		defer ws.Remove()
	}

	if err := r.prepare(ctx, ws, task); err != nil {
		r.logs.SystemLog(att, "%v", err)
		if h.Canceled() {
			return r.close(pctx, att, nil, task, outcome{state: models.StateCanceled})
		}
		return r.close(pctx, att, nil, task, outcome{state: models.StateSystemError, reason: "input staging"})
	}

	for i, ex := range task.Executors {
		if h.Canceled() {
			r.logs.SystemLog(att, "canceled before executor %d", i)
			return r.close(pctx, att, nil, task, outcome{state: models.StateCanceled})
		}
		if *cur != models.StateRunning {
			if _, err := r.transition(pctx, task.ID, cur, models.StateRunning, ""); err != nil {
				if errors.Is(err, lifecycle.ErrTerminal) {
					return r.close(pctx, att, nil, task, outcome{state: models.StateCanceled})
				}
				r.logs.SystemLog(att, "%v", err)
				return r.close(pctx, att, nil, task, outcome{state: models.StateSystemError, reason: "state"})
			}
		}

		res, err := r.conn.Run(ctx, ws, step(task, i, ex))
		if err != nil {
			if h.Canceled() {
				r.logs.SystemLog(att, "executor %d interrupted by cancel", i)
				return r.close(pctx, att, nil, task, outcome{state: models.StateCanceled})
			}
			r.logs.SystemLog(att, "executor %d: %v", i, err)
			return r.close(pctx, att, ws, task, outcome{state: models.StateSystemError, reason: fmt.Sprintf("executor %d", i)})
		}

		el := models.ExecutorLog{
			StartTime: res.StartTime.UTC().Format(time.RFC3339),
			EndTime:   res.EndTime.UTC().Format(time.RFC3339),
			Stdout:    res.Stdout,
			Stderr:    res.Stderr,
			ExitCode:  res.ExitCode,
			HostIP:    res.HostIP,
			Ports:     res.Ports,
		}
		if err := r.logs.Record(pctx, att, i, el); err != nil {
			r.logs.SystemLog(att, "%v", err)
			return r.close(pctx, att, ws, task, outcome{state: models.StateSystemError, reason: "executor log"})
		}
		if res.ExitCode != 0 {
			return r.close(pctx, att, ws, task, outcome{
				state:  models.StateError,
				reason: fmt.Sprintf("executor %d exited %d", i, res.ExitCode),
			})
		}
	}
	return r.close(pctx, att, ws, task, outcome{state: models.StateComplete})
}

// close finalizes the attempt. Outputs are collected from ws when given;
// a failed upload turns a COMPLETE outcome into SYSTEM_ERROR.
func (r *Runner) close(ctx context.Context, att *tasklog.Attempt, ws *connectors.Workspace, task *models.Task, out outcome) outcome {
	var outputs []models.TaskParameter
	if ws != nil {
		outputs = task.Outputs
	}
	strict := out.state == models.StateComplete
	if _, err := r.logs.Finalize(ctx, att, ws, outputs, strict); err != nil {
		r.logger.Warn("finalize attempt", "task_id", task.ID, "attempt", att.Index, "error", err)
		if strict {
			return outcome{state: models.StateSystemError, reason: "output upload"}
		}
	}
	return out
}

// prepare creates the mount points of every declared path and stages the
// inputs.
func (r *Runner) prepare(ctx context.Context, ws *connectors.Workspace, task *models.Task) error {
	for _, in := range task.Inputs {
		dir := in.Type == models.FileTypeDirectory
		if err := ws.AddMount(in.Path, dir); err != nil {
			return fmt.Errorf("input %s: %w", in.Path, err)
		}
		dst, err := ws.HostPath(in.Path)
		if err != nil {
			return fmt.Errorf("input %s: %w", in.Path, err)
		}
		if in.Contents != "" {
			if err := os.WriteFile(dst, []byte(in.Contents), 0644); err != nil {
				return fmt.Errorf("write input %s: %w", in.Path, err)
			}
			continue
		}
		if r.stager == nil {
			return fmt.Errorf("input %s: no storage configured for %s", in.Path, in.URL)
		}
		if err := r.stager.Get(ctx, in.URL, dst, dir); err != nil {
			return fmt.Errorf("stage input %s: %w", in.Path, err)
		}
	}
	for _, out := range task.Outputs {
		if err := ws.AddMount(out.Path, out.Type == models.FileTypeDirectory); err != nil {
			return fmt.Errorf("output %s: %w", out.Path, err)
		}
	}
	for _, v := range task.Volumes {
		if err := ws.AddMount(v, true); err != nil {
			return fmt.Errorf("volume %s: %w", v, err)
		}
	}
	return nil
}

func (r *Runner) transition(ctx context.Context, taskID string, cur *models.State, to models.State, detail string) (models.State, error) {
	from, err := r.store.UpdateState(ctx, taskID, to)
	if err != nil {
		if errors.Is(err, lifecycle.ErrTerminal) {
			*cur = from
			return from, err
		}
		return from, fmt.Errorf("set state %s: %w", to, err)
	}
	*cur = to
	if r.rec != nil {
		if _, err := r.rec.Transition(ctx, taskID, from, to, detail); err != nil {
			r.logger.Warn("record transition", "task_id", taskID, "error", err)
		}
	}
	return to, nil
}

func step(task *models.Task, i int, ex models.Executor) connectors.Step {
	return connectors.Step{
		Name:      task.ID + "-exec-" + strconv.Itoa(i),
		Image:     ex.Image,
		Command:   ex.Command,
		Workdir:   ex.Workdir,
		Stdin:     ex.Stdin,
		Stdout:    ex.Stdout,
		Stderr:    ex.Stderr,
		Env:       ex.Env,
		Ports:     ex.Ports,
		Resources: task.Resources,
	}
}
