package store

import (
	"context"
	"fmt"
	"time"

	"github.com/fentz26/tesd/internal/models"
	"github.com/google/uuid"
)

// WriteEvent appends an audit event.
func (s *Store) WriteEvent(ctx context.Context, e models.Event) (*models.Event, error) {
	now := time.Now().UTC()
	e.ID = uuid.New().String()
	e.Timestamp = now.Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO task_events (id, task_id, action, from_state, to_state, inputs_hash, detail, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.TaskID, e.Action, string(e.FromState), string(e.ToState), e.InputsHash, e.Detail, now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return &e, nil
}

// ListEvents returns the audit events of a task in the order they were
// written.
func (s *Store) ListEvents(ctx context.Context, taskID string) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, task_id, action, from_state, to_state, inputs_hash, detail, created_at FROM task_events WHERE task_id = ? ORDER BY created_at ASC, id ASC`),
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var (
			e         models.Event
			from, to  string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Action, &from, &to, &e.InputsHash, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.FromState = models.State(from)
		e.ToState = models.State(to)
		e.Timestamp = time.Unix(0, createdAt).UTC().Format(time.RFC3339Nano)
		events = append(events, e)
	}
	return events, rows.Err()
}
