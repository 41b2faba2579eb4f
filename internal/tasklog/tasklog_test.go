package tasklog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fentz26/tesd/internal/connectors"
	"github.com/fentz26/tesd/internal/models"
	"github.com/fentz26/tesd/internal/store"
)

type fakeUploader struct {
	mu   sync.Mutex
	puts map[string]string
	fail string
}

func (f *fakeUploader) Put(ctx context.Context, src, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != "" && strings.Contains(url, f.fail) {
		return errors.New("bucket unavailable")
	}
	if f.puts == nil {
		f.puts = map[string]string{}
	}
	f.puts[url] = src
	return nil
}

func setup(t *testing.T) (*store.Store, *models.Task, *connectors.Workspace) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	task, err := s.CreateTask(context.Background(), &models.Task{
		Executors: []models.Executor{{Image: "alpine", Command: []string{"true"}}},
	})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	ws, err := connectors.NewWorkspace(filepath.Join(t.TempDir(), "ws"))
	if err != nil {
		t.Fatalf("NewWorkspace failed: %v", err)
	}
	return s, task, ws
}

func writeFile(t *testing.T, ws *connectors.Workspace, containerPath, data string) {
	t.Helper()
	p, err := ws.HostPath(containerPath)
	if err != nil {
		t.Fatal(err)
	}
	os.MkdirAll(filepath.Dir(p), 0755)
	if err := os.WriteFile(p, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestFlattenDirectory(t *testing.T) {
	_, _, ws := setup(t)
	writeFile(t, ws, "/out/dir/b.txt", "bb")
	writeFile(t, ws, "/out/dir/a.txt", "a")
	writeFile(t, ws, "/out/dir/sub/c.txt", "ccc")
	writeFile(t, ws, "/out/single.txt", "12345")

	files, errs := Flatten(ws, []models.TaskParameter{
		{URL: "s3://b/single.txt", Path: "/out/single.txt", Type: models.FileTypeFile},
		{URL: "s3://b/dir", Path: "/out/dir", Type: models.FileTypeDirectory},
	})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	want := []models.OutputFileLog{
		{URL: "s3://b/single.txt", Path: "/out/single.txt", SizeBytes: 5},
		{URL: "s3://b/dir/a.txt", Path: "/out/dir/a.txt", SizeBytes: 1},
		{URL: "s3://b/dir/b.txt", Path: "/out/dir/b.txt", SizeBytes: 2},
		{URL: "s3://b/dir/sub/c.txt", Path: "/out/dir/sub/c.txt", SizeBytes: 3},
	}
	if len(files) != len(want) {
		t.Fatalf("got %d files, want %d: %+v", len(files), len(want), files)
	}
	for i, w := range want {
		if files[i].Log != w {
			t.Errorf("file %d = %+v, want %+v", i, files[i].Log, w)
		}
	}
}

func TestFlattenMissing(t *testing.T) {
	_, _, ws := setup(t)
	files, errs := Flatten(ws, []models.TaskParameter{
		{URL: "s3://b/x", Path: "/out/missing.txt"},
		{URL: "s3://b/d", Path: "/out/missing-dir", Type: models.FileTypeDirectory},
	})
	if len(files) != 0 || len(errs) != 2 {
		t.Errorf("files=%v errs=%v", files, errs)
	}
}

func TestFlattenSymlinks(t *testing.T) {
	_, _, ws := setup(t)
	outside := t.TempDir()
	secret := filepath.Join(outside, "topsecret")
	os.WriteFile(secret, []byte("classified"), 0644)

	writeFile(t, ws, "/out/dir/kept.txt", "k")
	link := func(target, containerPath string) {
		t.Helper()
		p, _ := ws.HostPath(containerPath)
		os.MkdirAll(filepath.Dir(p), 0755)
		if err := os.Symlink(target, p); err != nil {
			t.Fatalf("Symlink failed: %v", err)
		}
	}
	link(secret, "/out/leak.txt")
	link(secret, "/out/dir/leak.txt")
	link(outside, "/out/escape")

	files, errs := Flatten(ws, []models.TaskParameter{
		{URL: "s3://b/leak.txt", Path: "/out/leak.txt", Type: models.FileTypeFile},
		{URL: "s3://b/dir", Path: "/out/dir", Type: models.FileTypeDirectory},
		{URL: "s3://b/via-parent", Path: "/out/escape/topsecret", Type: models.FileTypeFile},
		{URL: "s3://b/escape", Path: "/out/escape", Type: models.FileTypeDirectory},
	})
	if len(errs) != 3 {
		t.Errorf("got %d errors, want 3: %v", len(errs), errs)
	}
	if len(files) != 1 || files[0].Log.Path != "/out/dir/kept.txt" {
		t.Fatalf("files = %+v", files)
	}
	for _, f := range files {
		if strings.HasPrefix(f.HostPath, outside) {
			t.Errorf("file outside workspace: %s", f.HostPath)
		}
	}
}

func TestAttemptLifecycle(t *testing.T) {
	s, task, ws := setup(t)
	up := &fakeUploader{}
	agg := New(s, up, nil)
	ctx := context.Background()

	att, err := agg.Open(ctx, task.ID, map[string]string{"connector": "fake"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := agg.Record(ctx, att, 0, models.ExecutorLog{ExitCode: 0, Stdout: "ok"}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	agg.SystemLog(att, "staged %d inputs", 2)

	writeFile(t, ws, "/out/r.txt", "result")
	logs, err := agg.Finalize(ctx, att, ws, []models.TaskParameter{{URL: "file:///dest/r.txt", Path: "/out/r.txt"}}, true)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if len(logs) != 1 || logs[0].SizeBytes != 6 {
		t.Errorf("outputs = %+v", logs)
	}
	if _, ok := up.puts["file:///dest/r.txt"]; !ok {
		t.Error("output was not uploaded")
	}
	if _, err := agg.Finalize(ctx, att, ws, nil, true); err == nil {
		t.Error("second Finalize should fail")
	}

	got, _ := s.GetTask(ctx, task.ID)
	tl := got.Logs[0]
	if tl.EndTime == "" || tl.Outputs[0].Path != "/out/r.txt" || tl.SystemLogs[0] != "staged 2 inputs" {
		t.Errorf("stored task log = %+v", tl)
	}
	if tl.Logs[0].Stdout != "ok" {
		t.Errorf("executor log = %+v", tl.Logs[0])
	}
}

func TestFinalizeUploadFailure(t *testing.T) {
	s, task, ws := setup(t)
	agg := New(s, &fakeUploader{fail: "bad"}, nil)
	ctx := context.Background()

	att, _ := agg.Open(ctx, task.ID, nil)
	writeFile(t, ws, "/out/good.txt", "g")
	writeFile(t, ws, "/out/bad.txt", "b")

	logs, err := agg.Finalize(ctx, att, ws, []models.TaskParameter{
		{URL: "s3://x/good.txt", Path: "/out/good.txt"},
		{URL: "s3://x/bad.txt", Path: "/out/bad.txt"},
	}, false)
	if err == nil {
		t.Fatal("expected upload error")
	}
	if len(logs) != 1 || logs[0].Path != "/out/good.txt" {
		t.Errorf("outputs = %+v", logs)
	}

	got, _ := s.GetTask(ctx, task.ID)
	if got.Logs[0].EndTime == "" || len(got.Logs[0].SystemLogs) != 1 {
		t.Errorf("attempt not closed with failure log: %+v", got.Logs[0])
	}
}

func TestFinalizeLenientMissing(t *testing.T) {
	s, task, ws := setup(t)
	agg := New(s, &fakeUploader{}, nil)
	ctx := context.Background()

	att, _ := agg.Open(ctx, task.ID, nil)
	outputs := []models.TaskParameter{{URL: "s3://x/o", Path: "/out/o.txt"}}
	if _, err := agg.Finalize(ctx, att, ws, outputs, false); err != nil {
		t.Errorf("lenient finalize should not fail on a missing output: %v", err)
	}
	if len(att.SystemLogs()) != 1 {
		t.Errorf("missing output not logged: %v", att.SystemLogs())
	}

	att2, _ := agg.Open(ctx, task.ID, nil)
	if _, err := agg.Finalize(ctx, att2, ws, outputs, true); err == nil {
		t.Error("strict finalize should fail on a missing output")
	}
}
