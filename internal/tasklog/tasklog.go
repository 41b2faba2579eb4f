// Package tasklog aggregates the execution record of a task: one TaskLog per
// attempt, one ExecutorLog per executor that ran, and the flattened list of
// uploaded output files.
package tasklog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/fentz26/tesd/internal/connectors"
	"github.com/fentz26/tesd/internal/models"
	"github.com/fentz26/tesd/internal/storage"
)

// Store persists attempt logs.
type Store interface {
	OpenAttempt(ctx context.Context, taskID string, start time.Time, metadata map[string]string) (int, error)
	AppendExecutorLog(ctx context.Context, taskID string, attempt, idx int, l models.ExecutorLog) error
	FinalizeAttempt(ctx context.Context, taskID string, attempt int, end time.Time, outputs []models.OutputFileLog, systemLogs []string) error
}

// Uploader stores one output file at a URL.
type Uploader interface {
	Put(ctx context.Context, src, url string) error
}

// Attempt is an open TaskLog.
type Attempt struct {
	TaskID string
	Index  int

	mu         sync.Mutex
	systemLogs []string
	finalized  bool
}

// SystemLogs returns a copy of the system messages recorded so far.
func (a *Attempt) SystemLogs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.systemLogs...)
}

// Aggregator writes attempt logs through a Store.
type Aggregator struct {
	store    Store
	uploader Uploader
	logger   *slog.Logger
}

// New creates an Aggregator.
func New(store Store, uploader Uploader, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: store, uploader: uploader, logger: logger}
}

// Open appends a new TaskLog to the task.
func (a *Aggregator) Open(ctx context.Context, taskID string, metadata map[string]string) (*Attempt, error) {
	idx, err := a.store.OpenAttempt(ctx, taskID, time.Now(), metadata)
	if err != nil {
		return nil, fmt.Errorf("open attempt: %w", err)
	}
	return &Attempt{TaskID: taskID, Index: idx}, nil
}

// Record appends the log of executor idx to the attempt.
func (a *Aggregator) Record(ctx context.Context, att *Attempt, idx int, l models.ExecutorLog) error {
	if err := a.store.AppendExecutorLog(ctx, att.TaskID, att.Index, idx, l); err != nil {
		return fmt.Errorf("record executor %d: %w", idx, err)
	}
	return nil
}

// SystemLog adds a system message to the attempt.
func (a *Aggregator) SystemLog(att *Attempt, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	a.logger.Info("task system log", "task_id", att.TaskID, "attempt", att.Index, "msg", msg)
	att.mu.Lock()
	att.systemLogs = append(att.systemLogs, msg)
	att.mu.Unlock()
}

// Finalize flattens and uploads outputs, then closes the attempt. With
// strict set a missing output is an error; otherwise it is skipped with a
// system log. Upload failures are always returned, after the attempt has
// been closed with what did upload.
func (a *Aggregator) Finalize(ctx context.Context, att *Attempt, ws *connectors.Workspace, outputs []models.TaskParameter, strict bool) ([]models.OutputFileLog, error) {
	att.mu.Lock()
	if att.finalized {
		att.mu.Unlock()
		return nil, errors.New("attempt already finalized")
	}
	att.finalized = true
	att.mu.Unlock()

	var (
		logs []models.OutputFileLog
		errs []error
	)
	if ws != nil {
		files, ferrs := Flatten(ws, outputs)
		for _, err := range ferrs {
			if strict {
				errs = append(errs, err)
			}
			a.SystemLog(att, "%v", err)
		}
		for _, f := range files {
			if a.uploader != nil {
				if err := a.uploader.Put(ctx, f.HostPath, f.Log.URL); err != nil {
					errs = append(errs, fmt.Errorf("upload %s: %w", f.Log.Path, err))
					a.SystemLog(att, "upload %s to %s failed: %v", f.Log.Path, f.Log.URL, err)
					continue
				}
			}
			logs = append(logs, f.Log)
		}
	}

	if err := a.store.FinalizeAttempt(ctx, att.TaskID, att.Index, time.Now(), logs, att.SystemLogs()); err != nil {
		return logs, fmt.Errorf("finalize attempt: %w", err)
	}
	return logs, errors.Join(errs...)
}

// File is one flattened output file.
type File struct {
	HostPath string
	Log      models.OutputFileLog
}

// Flatten expands outputs into individual files. A FILE output yields one
// entry; a DIRECTORY output yields one per regular file it contains, in
// lexical order. Sizes come from the files as they exist in ws. Symlinks
// are never followed out of ws: a FILE output must be a regular file, and
// symlinks inside a DIRECTORY output are skipped.
func Flatten(ws *connectors.Workspace, outputs []models.TaskParameter) ([]File, []error) {
	var (
		files []File
		errs  []error
	)
	for _, o := range outputs {
		host, err := ws.HostPath(o.Path)
		if err != nil {
			errs = append(errs, fmt.Errorf("output %s: %w", o.Path, err))
			continue
		}
		if o.Type != models.FileTypeDirectory {
			info, err := os.Lstat(host)
			if err != nil {
				errs = append(errs, fmt.Errorf("output %s: %w", o.Path, err))
				continue
			}
			if !info.Mode().IsRegular() {
				errs = append(errs, fmt.Errorf("output %s: not a regular file", o.Path))
				continue
			}
			resolved, err := ws.Resolve(o.Path)
			if err != nil {
				errs = append(errs, fmt.Errorf("output %s: %w", o.Path, err))
				continue
			}
			files = append(files, File{
				HostPath: resolved,
				Log:      models.OutputFileLog{URL: o.URL, Path: o.Path, SizeBytes: info.Size()},
			})
			continue
		}

		if _, err := os.Lstat(host); err != nil {
			errs = append(errs, fmt.Errorf("output %s: %w", o.Path, err))
			continue
		}
		root, err := ws.Resolve(o.Path)
		if err != nil {
			errs = append(errs, fmt.Errorf("output %s: %w", o.Path, err))
			continue
		}
		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			// WalkDir reports symlinks without following them
			if !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			files = append(files, File{
				HostPath: p,
				Log: models.OutputFileLog{
					URL:       storage.Join(o.URL, rel),
					Path:      path.Join(o.Path, rel),
					SizeBytes: info.Size(),
				},
			})
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("output %s: %w", o.Path, err))
		}
	}
	return files, errs
}
