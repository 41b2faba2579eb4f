package localexec

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fentz26/tesd/internal/connectors"
)

func newWorkspace(t *testing.T) *connectors.Workspace {
	t.Helper()
	ws, err := connectors.NewWorkspace(filepath.Join(t.TempDir(), "ws"))
	if err != nil {
		t.Fatalf("NewWorkspace failed: %v", err)
	}
	return ws
}

func TestIsAllowed(t *testing.T) {
	exec := New([]string{"sh", "cat"}, "", 0)

	tests := []struct {
		cmd     string
		allowed bool
	}{
		{"sh", true},
		{"/bin/sh", true},
		{"cat", true},
		{"rm", false},
		{"unknown", false},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			if got := exec.IsAllowed(tt.cmd); got != tt.allowed {
				t.Errorf("IsAllowed(%s) = %v, want %v", tt.cmd, got, tt.allowed)
			}
		})
	}

	if !New(nil, "", 0).IsAllowed("anything") {
		t.Error("empty allowlist should permit any command")
	}
}

func TestRun_NotAllowed(t *testing.T) {
	exec := New([]string{"echo"}, "", 0)
	_, err := exec.Run(context.Background(), newWorkspace(t), connectors.Step{Command: []string{"rm", "-rf", "/"}})
	if !errors.Is(err, ErrNotAllowed) {
		t.Errorf("Expected ErrNotAllowed, got %v", err)
	}
}

func TestRun_ExitCode(t *testing.T) {
	exec := New(nil, "10.0.0.1", 0)
	res, err := exec.Run(context.Background(), newWorkspace(t), connectors.Step{
		Name:    "exec-0",
		Command: []string{"sh", "-c", "echo out; echo err >&2; exit 3"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "out" || strings.TrimSpace(res.Stderr) != "err" {
		t.Errorf("unexpected output: %q / %q", res.Stdout, res.Stderr)
	}
	if res.HostIP != "10.0.0.1" {
		t.Errorf("HostIP = %q", res.HostIP)
	}
}

func TestRun_PathsAndRedirects(t *testing.T) {
	ws := newWorkspace(t)
	if err := ws.AddMount("/data/in.txt", false); err != nil {
		t.Fatalf("AddMount failed: %v", err)
	}
	in, _ := ws.HostPath("/data/in.txt")
	if err := os.WriteFile(in, []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}

	exec := New(nil, "", 0)
	res, err := exec.Run(context.Background(), ws, connectors.Step{
		Command: []string{"cat", "/data/in.txt", "-"},
		Stdin:   "/data/in.txt",
		Stdout:  "/data/out.txt",
		Env:     map[string]string{"FOO": "bar"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("ExitCode = %d, stderr %q", res.ExitCode, res.Stderr)
	}
	out, _ := ws.HostPath("/data/out.txt")
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("stdout redirect not written: %v", err)
	}
	if string(data) != "hello\nhello\n" {
		t.Errorf("redirect contents = %q", data)
	}
	if res.Stdout != string(data) {
		t.Errorf("tail %q differs from redirect", res.Stdout)
	}
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil, "", 0).Run(ctx, newWorkspace(t), connectors.Step{Command: []string{"sleep", "5"}})
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestEnvList(t *testing.T) {
	got := envList(map[string]string{"B": "2", "A": "1", " ": "x"})
	if strings.Join(got, ",") != "A=1,B=2" {
		t.Errorf("envList = %v", got)
	}
}
