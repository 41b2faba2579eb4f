package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fentz26/tesd/internal/models"
)

// OpenAttempt appends a new, open TaskLog to the task and returns its index.
// Earlier attempts are left untouched.
func (s *Store) OpenAttempt(ctx context.Context, taskID string, start time.Time, metadata map[string]string) (int, error) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return 0, fmt.Errorf("encode metadata: %w", err)
	}
	if metadata == nil {
		meta = []byte("{}")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM tasks WHERE id = ?`), taskID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query task: %w", err)
	}

	var attempt int
	if err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM task_logs WHERE task_id = ?`), taskID).Scan(&attempt); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.q(
		`INSERT INTO task_logs (task_id, attempt, start_time, metadata) VALUES (?, ?, ?, ?)`),
		taskID, attempt, start.UTC().Format(time.RFC3339), string(meta),
	)
	if err != nil {
		return 0, fmt.Errorf("insert task log: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return attempt, nil
}

// AppendExecutorLog records the outcome of executor idx within an open
// attempt. Logs must arrive in executor order and only for the latest
// attempt.
func (s *Store) AppendExecutorLog(ctx context.Context, taskID string, attempt, idx int, l models.ExecutorLog) error {
	ports, err := json.Marshal(l.Ports)
	if err != nil {
		return fmt.Errorf("encode ports: %w", err)
	}
	if l.Ports == nil {
		ports = []byte("[]")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var spec string
	err = tx.QueryRowContext(ctx, s.q(`SELECT spec FROM tasks WHERE id = ?`), taskID).Scan(&spec)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query task: %w", err)
	}
	var ts taskSpec
	if err := json.Unmarshal([]byte(spec), &ts); err != nil {
		return fmt.Errorf("decode task spec: %w", err)
	}

	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx, s.q(`SELECT MAX(attempt) FROM task_logs WHERE task_id = ?`), taskID).Scan(&latest); err != nil {
		return fmt.Errorf("query latest attempt: %w", err)
	}
	if !latest.Valid || int(latest.Int64) != attempt {
		return fmt.Errorf("%w: attempt %d is not the latest", ErrAttemptClosed, attempt)
	}
	var endTime string
	if err := tx.QueryRowContext(ctx, s.q(`SELECT end_time FROM task_logs WHERE task_id = ? AND attempt = ?`), taskID, attempt).Scan(&endTime); err != nil {
		return fmt.Errorf("query attempt: %w", err)
	}
	if endTime != "" {
		return fmt.Errorf("%w: attempt %d already finalized", ErrAttemptClosed, attempt)
	}

	var count int
	if err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM executor_logs WHERE task_id = ? AND attempt = ?`), taskID, attempt).Scan(&count); err != nil {
		return fmt.Errorf("count executor logs: %w", err)
	}
	if idx != count || idx >= len(ts.Executors) {
		return fmt.Errorf("%w: got index %d, have %d of %d", ErrLogOrder, idx, count, len(ts.Executors))
	}

	_, err = tx.ExecContext(ctx, s.q(
		`INSERT INTO executor_logs (task_id, attempt, idx, start_time, end_time, stdout, stderr, exit_code, host_ip, ports) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		taskID, attempt, idx, l.StartTime, l.EndTime, l.Stdout, l.Stderr, l.ExitCode, l.HostIP, string(ports),
	)
	if err != nil {
		return fmt.Errorf("insert executor log: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// FinalizeAttempt closes an open attempt, writing its end time, flattened
// outputs and system logs. An attempt can be finalized only once.
func (s *Store) FinalizeAttempt(ctx context.Context, taskID string, attempt int, end time.Time, outputs []models.OutputFileLog, systemLogs []string) error {
	if outputs == nil {
		outputs = []models.OutputFileLog{}
	}
	if systemLogs == nil {
		systemLogs = []string{}
	}
	out, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("encode outputs: %w", err)
	}
	sys, err := json.Marshal(systemLogs)
	if err != nil {
		return fmt.Errorf("encode system logs: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE task_logs SET end_time = ?, outputs = ?, system_logs = ? WHERE task_id = ? AND attempt = ? AND end_time = ''`),
		end.UTC().Format(time.RFC3339), string(out), string(sys), taskID, attempt,
	)
	if err != nil {
		return fmt.Errorf("finalize task log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: task %s attempt %d", ErrAttemptClosed, taskID, attempt)
	}
	return nil
}

// loadLogs assembles the TaskLog arena of a task, ordered by attempt.
func (s *Store) loadLogs(ctx context.Context, q queryer, taskID string) ([]models.TaskLog, error) {
	rows, err := q.QueryContext(ctx, s.q(
		`SELECT attempt, start_time, end_time, metadata, outputs, system_logs FROM task_logs WHERE task_id = ? ORDER BY attempt ASC`),
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query task logs: %w", err)
	}

	var logs []models.TaskLog
	for rows.Next() {
		var (
			attempt                   int
			l                         models.TaskLog
			meta, outputs, systemLogs string
		)
		if err := rows.Scan(&attempt, &l.StartTime, &l.EndTime, &meta, &outputs, &systemLogs); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan task log: %w", err)
		}
		if err := decodeLogJSON(meta, outputs, systemLogs, &l); err != nil {
			rows.Close()
			return nil, err
		}
		logs = append(logs, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, nil
	}

	rows, err = q.QueryContext(ctx, s.q(
		`SELECT attempt, idx, start_time, end_time, stdout, stderr, exit_code, host_ip, ports FROM executor_logs WHERE task_id = ? ORDER BY attempt ASC, idx ASC`),
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query executor logs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			attempt, idx int
			el           models.ExecutorLog
			ports        string
		)
		if err := rows.Scan(&attempt, &idx, &el.StartTime, &el.EndTime, &el.Stdout, &el.Stderr, &el.ExitCode, &el.HostIP, &ports); err != nil {
			return nil, fmt.Errorf("scan executor log: %w", err)
		}
		if err := json.Unmarshal([]byte(ports), &el.Ports); err != nil {
			return nil, fmt.Errorf("decode ports: %w", err)
		}
		if len(el.Ports) == 0 {
			el.Ports = nil
		}
		if attempt < 0 || attempt >= len(logs) {
			continue
		}
		logs[attempt].Logs = append(logs[attempt].Logs, el)
	}
	return logs, rows.Err()
}

func decodeLogJSON(meta, outputs, systemLogs string, l *models.TaskLog) error {
	if err := json.Unmarshal([]byte(meta), &l.Metadata); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(outputs), &l.Outputs); err != nil {
		return fmt.Errorf("decode outputs: %w", err)
	}
	if err := json.Unmarshal([]byte(systemLogs), &l.SystemLogs); err != nil {
		return fmt.Errorf("decode system logs: %w", err)
	}
	if len(l.Metadata) == 0 {
		l.Metadata = nil
	}
	if len(l.Outputs) == 0 {
		l.Outputs = nil
	}
	if len(l.SystemLogs) == 0 {
		l.SystemLogs = nil
	}
	return nil
}
