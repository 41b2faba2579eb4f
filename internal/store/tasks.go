package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fentz26/tesd/internal/lifecycle"
	"github.com/fentz26/tesd/internal/models"
	"github.com/fentz26/tesd/internal/paging"
	"github.com/google/uuid"
)

// taskSpec holds the immutable submitted fields, stored as one JSON column.
type taskSpec struct {
	Inputs    []models.TaskParameter `json:"inputs,omitempty"`
	Outputs   []models.TaskParameter `json:"outputs,omitempty"`
	Resources *models.Resources      `json:"resources,omitempty"`
	Executors []models.Executor      `json:"executors,omitempty"`
	Volumes   []string               `json:"volumes,omitempty"`
	Tags      map[string]string      `json:"tags,omitempty"`
}

// ListFilter narrows a task listing. Empty fields match everything.
type ListFilter struct {
	Project    string
	NamePrefix string
	State      models.State
}

// Page is one slice of a task listing.
type Page struct {
	Tasks []models.Task
	// Last is the position of the final task in Tasks; nil when empty.
	Last *paging.Cursor
	// More reports whether tasks exist beyond Last.
	More bool
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const taskColumns = `id, state, name, project, description, spec, created_at`

// CreateTask persists t as a new QUEUED task with a fresh id. The returned
// record is the stored one; t is not modified.
func (s *Store) CreateTask(ctx context.Context, t *models.Task) (*models.Task, error) {
	now := time.Now().UTC()
	task := t.Clone()
	task.ID = uuid.New().String()
	task.State = models.StateQueued
	task.Logs = nil
	task.CreationTime = now.Format(time.RFC3339)

	spec, err := json.Marshal(taskSpec{
		Inputs:    task.Inputs,
		Outputs:   task.Outputs,
		Resources: task.Resources,
		Executors: task.Executors,
		Volumes:   task.Volumes,
		Tags:      task.Tags,
	})
	if err != nil {
		return nil, fmt.Errorf("encode task spec: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.q(
		`INSERT INTO tasks (id, state, name, project, description, spec, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		task.ID, task.State, task.Name, task.Project, task.Description, string(spec), now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

// GetTask retrieves a task with all of its attempt logs.
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id)
	task, _, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	logs, err := s.loadLogs(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	task.Logs = logs
	return task, nil
}

// GetState returns only the state of a task.
func (s *Store) GetState(ctx context.Context, id string) (models.State, error) {
	var state string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT state FROM tasks WHERE id = ?`), id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return models.StateUnknown, ErrNotFound
	}
	if err != nil {
		return models.StateUnknown, fmt.Errorf("query state: %w", err)
	}
	return models.State(state), nil
}

// ListTasks returns up to limit tasks matching f, newest first, strictly
// after the cursor when one is given.
func (s *Store) ListTasks(ctx context.Context, f ListFilter, after *paging.Cursor, limit int, withLogs bool) (*Page, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var (
		where []string
		args  []any
	)
	if f.Project != "" {
		where = append(where, `project = ?`)
		args = append(args, f.Project)
	}
	if f.NamePrefix != "" {
		where = append(where, `substr(name, 1, ?) = ?`)
		args = append(args, utf8.RuneCountInString(f.NamePrefix), f.NamePrefix)
	}
	if f.State != "" {
		where = append(where, `state = ?`)
		args = append(args, string(f.State))
	}
	if after != nil {
		where = append(where, `(created_at < ? OR (created_at = ? AND id < ?))`)
		args = append(args, after.CreatedAt, after.CreatedAt, after.ID)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	page := &Page{}
	var cursors []paging.Cursor
	for rows.Next() {
		task, createdAt, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		page.Tasks = append(page.Tasks, *task)
		cursors = append(cursors, paging.Cursor{CreatedAt: createdAt, ID: task.ID})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if len(page.Tasks) > limit {
		page.More = true
		page.Tasks = page.Tasks[:limit]
		cursors = cursors[:limit]
	}
	if len(cursors) > 0 {
		last := cursors[len(cursors)-1]
		page.Last = &last
	}

	if withLogs {
		for i := range page.Tasks {
			logs, err := s.loadLogs(ctx, s.db, page.Tasks[i].ID)
			if err != nil {
				return nil, err
			}
			page.Tasks[i].Logs = logs
		}
	}
	return page, nil
}

// UpdateState moves a task to state to if the transition table allows it,
// returning the state it left. Concurrent updates of the same task are
// serialized by a compare-and-set on the prior state.
func (s *Store) UpdateState(ctx context.Context, id string, to models.State) (models.State, error) {
	for {
		from, err := s.GetState(ctx, id)
		if err != nil {
			return models.StateUnknown, err
		}
		if err := lifecycle.Transition(from, to); err != nil {
			return from, err
		}
		ok, err := s.compareAndSetState(ctx, id, from, to)
		if err != nil {
			return from, err
		}
		if ok {
			return from, nil
		}
		// lost a race with another writer; re-read and re-validate
		if err := ctx.Err(); err != nil {
			return from, err
		}
	}
}

func (s *Store) compareAndSetState(ctx context.Context, id string, from, to models.State) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE tasks SET state = ?, updated_at = ? WHERE id = ? AND state = ?`),
		string(to), time.Now().UTC().UnixNano(), id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("update task state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n == 1, nil
}

// ClaimNext moves the oldest QUEUED task to INITIALIZING and returns it, or
// nil when nothing is queued.
func (s *Store) ClaimNext(ctx context.Context) (*models.Task, error) {
	for {
		var id string
		err := s.db.QueryRowContext(ctx, s.q(
			`SELECT id FROM tasks WHERE state = ? ORDER BY created_at ASC, id ASC LIMIT 1`),
			string(models.StateQueued),
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("query queued task: %w", err)
		}

		ok, err := s.compareAndSetState(ctx, id, models.StateQueued, models.StateInitializing)
		if err != nil {
			return nil, err
		}
		if ok {
			return s.GetTask(ctx, id)
		}
		// canceled or claimed elsewhere between select and update
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// RecoverInterrupted moves tasks left mid-execution by a previous process to
// SYSTEM_ERROR and closes their open attempts. It returns the affected ids.
func (s *Store) RecoverInterrupted(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id FROM tasks WHERE state IN (?, ?, ?) ORDER BY created_at ASC`),
		string(models.StateInitializing), string(models.StateRunning), string(models.StatePaused),
	)
	if err != nil {
		return nil, fmt.Errorf("query interrupted tasks: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan task id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var recovered []string
	for _, id := range ids {
		if _, err := s.UpdateState(ctx, id, models.StateSystemError); err != nil {
			if errors.Is(err, lifecycle.ErrTerminal) {
				continue
			}
			return recovered, err
		}
		logs, _ := json.Marshal([]string{"attempt interrupted: service restarted"})
		_, err := s.db.ExecContext(ctx, s.q(
			`UPDATE task_logs SET end_time = ?, system_logs = ? WHERE task_id = ? AND end_time = ''`),
			time.Now().UTC().Format(time.RFC3339), string(logs), id,
		)
		if err != nil {
			return recovered, fmt.Errorf("close interrupted attempt: %w", err)
		}
		recovered = append(recovered, id)
	}
	return recovered, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*models.Task, int64, error) {
	var (
		task      models.Task
		state     string
		spec      string
		createdAt int64
	)
	if err := row.Scan(&task.ID, &state, &task.Name, &task.Project, &task.Description, &spec, &createdAt); err != nil {
		return nil, 0, err
	}
	task.State = models.State(state)
	task.CreationTime = time.Unix(0, createdAt).UTC().Format(time.RFC3339)

	var ts taskSpec
	if err := json.Unmarshal([]byte(spec), &ts); err != nil {
		return nil, 0, fmt.Errorf("decode task spec: %w", err)
	}
	task.Inputs = ts.Inputs
	task.Outputs = ts.Outputs
	task.Resources = ts.Resources
	task.Executors = ts.Executors
	task.Volumes = ts.Volumes
	task.Tags = ts.Tags
	return &task, createdAt, nil
}
