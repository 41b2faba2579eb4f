package connectors

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fentz26/tesd/internal/models"
)

func TestHostPath(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace failed: %v", err)
	}

	p, err := ws.HostPath("/data/in.txt")
	if err != nil {
		t.Fatalf("HostPath failed: %v", err)
	}
	if p != filepath.Join(ws.Root(), "data", "in.txt") {
		t.Errorf("HostPath = %s", p)
	}

	p, err = ws.HostPath("/../../etc/passwd")
	if err != nil {
		t.Fatalf("HostPath failed: %v", err)
	}
	if !strings.HasPrefix(p, ws.Root()) {
		t.Errorf("path escaped workspace: %s", p)
	}

	if _, err := ws.HostPath("relative/x"); !errors.Is(err, ErrBadPath) {
		t.Errorf("expected ErrBadPath, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	ws, err := NewWorkspace(filepath.Join(t.TempDir(), "ws"))
	if err != nil {
		t.Fatalf("NewWorkspace failed: %v", err)
	}
	outside := t.TempDir()
	os.WriteFile(filepath.Join(outside, "secret"), []byte("s"), 0644)
	os.MkdirAll(filepath.Join(ws.Root(), "data"), 0755)
	os.WriteFile(filepath.Join(ws.Root(), "data", "a.txt"), []byte("a"), 0644)
	os.Symlink(filepath.Join(ws.Root(), "data", "a.txt"), filepath.Join(ws.Root(), "data", "inner"))
	os.Symlink(filepath.Join(outside, "secret"), filepath.Join(ws.Root(), "data", "leak"))
	os.Symlink(outside, filepath.Join(ws.Root(), "escape"))

	resolved, err := ws.Resolve("/data/inner")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if filepath.Base(resolved) != "a.txt" {
		t.Errorf("Resolve = %s", resolved)
	}
	if _, err := ws.Resolve("/data/leak"); !errors.Is(err, ErrOutsideWorkspace) {
		t.Errorf("expected ErrOutsideWorkspace for file link, got %v", err)
	}
	if _, err := ws.Resolve("/escape/secret"); !errors.Is(err, ErrOutsideWorkspace) {
		t.Errorf("expected ErrOutsideWorkspace for parent link, got %v", err)
	}
	if _, err := ws.Resolve("/data/missing"); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestMounts(t *testing.T) {
	ws, _ := NewWorkspace(t.TempDir())
	for _, m := range []struct {
		path  string
		isDir bool
	}{
		{"/data/in/a.txt", false},
		{"/data", true},
		{"/out/result.txt", false},
		{"/scratch", true},
	} {
		if err := ws.AddMount(m.path, m.isDir); err != nil {
			t.Fatalf("AddMount(%s) failed: %v", m.path, err)
		}
	}

	mounts := ws.Mounts()
	var got []string
	for _, m := range mounts {
		got = append(got, m.ContainerPath)
	}
	if strings.Join(got, ",") != "/data,/out,/scratch" {
		t.Errorf("Mounts = %v", got)
	}
	if !ws.Covers("/data/in/a.txt") || !ws.Covers("/out") || ws.Covers("/outside") || ws.Covers("relative") {
		t.Error("Covers mismatch")
	}
}

func TestTailBuffer(t *testing.T) {
	tb := NewTailBuffer(5)
	tb.Write([]byte("abc"))
	tb.Write([]byte("def"))
	if tb.String() != "bcdef" {
		t.Errorf("tail = %q", tb.String())
	}
	tb.Write([]byte("0123456789"))
	if tb.String() != "56789" {
		t.Errorf("tail = %q", tb.String())
	}
}

func TestResolvePorts(t *testing.T) {
	ports, err := ResolvePorts([]models.Ports{{Container: 80, Host: 8080}, {Container: 443}})
	if err != nil {
		t.Fatalf("ResolvePorts failed: %v", err)
	}
	if ports[0].Host != 8080 {
		t.Errorf("declared host port changed: %d", ports[0].Host)
	}
	if ports[1].Host == 0 || ports[1].Container != 443 {
		t.Errorf("dynamic port not allocated: %+v", ports[1])
	}
	if p, _ := ResolvePorts(nil); p != nil {
		t.Error("expected nil for no ports")
	}
}

func TestHostIP(t *testing.T) {
	if HostIP("1.2.3.4") != "1.2.3.4" {
		t.Error("configured IP not returned")
	}
	if HostIP("") == "" {
		t.Error("expected a fallback IP")
	}
}
