// Package controlplane provides the HTTP API and service layer for tesd.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fentz26/tesd/internal/audit"
	"github.com/fentz26/tesd/internal/lifecycle"
	"github.com/fentz26/tesd/internal/models"
	"github.com/fentz26/tesd/internal/paging"
	"github.com/fentz26/tesd/internal/scheduler"
	"github.com/fentz26/tesd/internal/store"
	"github.com/fentz26/tesd/internal/view"
)

// Dispatcher is the part of the scheduler the service drives.
type Dispatcher interface {
	Notify()
	Cancel(taskID string) bool
	GetStats() scheduler.Stats
}

// Service provides the control plane business logic.
type Service struct {
	store  *store.Store
	rec    *audit.Recorder
	pager  *paging.Paginator
	sched  Dispatcher
	info   models.ServiceInfo
	logger *slog.Logger
}

// NewService creates a new control plane service. sched may be nil, in
// which case tasks are only queued.
func NewService(s *store.Store, rec *audit.Recorder, pager *paging.Paginator, sched Dispatcher, info models.ServiceInfo, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  s,
		rec:    rec,
		pager:  pager,
		sched:  sched,
		info:   info,
		logger: logger.With("component", "service"),
	}
}

// ListRequest holds the ListTasks parameters.
type ListRequest struct {
	Project    string
	NamePrefix string
	State      string
	PageSize   int
	PageToken  string
	View       string
}

// GetServiceInfo describes the service.
func (s *Service) GetServiceInfo(ctx context.Context) models.ServiceInfo {
	info := s.info
	info.Storage = append([]string(nil), s.info.Storage...)
	return info
}

// CreateTask validates and persists a task in QUEUED.
func (s *Service) CreateTask(ctx context.Context, t *models.Task) (*models.CreateTaskResponse, error) {
	task, err := normalizeTask(t)
	if err != nil {
		return nil, err
	}
	created, err := s.store.CreateTask(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	s.record(ctx, audit.ActionCreate, created.ID, "", models.StateQueued, task, created.Name)
	s.logger.Info("task created", "task_id", created.ID, "name", created.Name, "executors", len(created.Executors))

	if s.sched != nil {
		s.sched.Notify()
	}
	return &models.CreateTaskResponse{ID: created.ID}, nil
}

// GetTask retrieves a task projected to the requested view.
func (s *Service) GetTask(ctx context.Context, id, viewName string) (*models.Task, error) {
	v, err := view.Parse(viewName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if strings.TrimSpace(id) == "" {
		return nil, invalid("task id is required")
	}
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return view.Project(task, v), nil
}

// ListTasks returns one page of tasks, newest first.
func (s *Service) ListTasks(ctx context.Context, req ListRequest) (*models.ListTasksResponse, error) {
	v, err := view.Parse(req.View)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	filter := store.ListFilter{Project: req.Project, NamePrefix: req.NamePrefix}
	if req.State != "" {
		st, err := models.ParseState(strings.ToUpper(req.State))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		filter.State = st
	}

	scope := paging.Scope(filter.Project, filter.NamePrefix, string(filter.State))
	after, err := s.pager.Decode(req.PageToken, scope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	page, err := s.store.ListTasks(ctx, filter, after, paging.ClampPageSize(req.PageSize), v == models.ViewFull || v == models.ViewBasic)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	resp := &models.ListTasksResponse{Tasks: make([]models.Task, 0, len(page.Tasks))}
	for i := range page.Tasks {
		resp.Tasks = append(resp.Tasks, *view.Project(&page.Tasks[i], v))
	}
	if page.More && page.Last != nil {
		tok, err := s.pager.Encode(*page.Last, scope)
		if err != nil {
			return nil, err
		}
		resp.NextPageToken = tok
	}
	return resp, nil
}

// CancelTask moves a non-terminal task to CANCELED and signals its worker.
func (s *Service) CancelTask(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return invalid("task id is required")
	}
	from, err := s.store.UpdateState(ctx, id, models.StateCanceled)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		case errors.Is(err, lifecycle.ErrTerminal):
			return fmt.Errorf("%w: task %s is already %s", ErrFailedPrecondition, id, from)
		case errors.Is(err, lifecycle.ErrInvalidTransition):
			return fmt.Errorf("%w: %v", ErrFailedPrecondition, err)
		}
		return fmt.Errorf("cancel task: %w", err)
	}

	s.record(ctx, audit.ActionCancel, id, from, models.StateCanceled, map[string]string{"id": id}, "")
	signaled := false
	if s.sched != nil {
		signaled = s.sched.Cancel(id)
	}
	s.logger.Info("task canceled", "task_id", id, "from", from, "worker_signaled", signaled)
	return nil
}

func (s *Service) record(ctx context.Context, action, taskID string, from, to models.State, inputs any, detail string) {
	if s.rec == nil {
		return
	}
	if _, err := s.rec.Record(ctx, action, taskID, from, to, inputs, detail); err != nil {
		s.logger.Warn("record audit event", "action", action, "task_id", taskID, "error", err)
	}
}

// ListEvents returns the audit trail of a task.
func (s *Service) ListEvents(ctx context.Context, id string) ([]models.Event, error) {
	if _, err := s.store.GetState(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	events, err := s.store.ListEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []models.Event{}
	}
	return events, nil
}

// Stats returns scheduler load, or nil without a scheduler.
func (s *Service) Stats() *scheduler.Stats {
	if s.sched == nil {
		return nil
	}
	st := s.sched.GetStats()
	return &st
}

// Ping checks the database.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
