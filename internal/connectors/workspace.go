package connectors

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrBadPath is returned for paths that are not absolute.
	ErrBadPath = errors.New("path must be absolute")
	// ErrOutsideWorkspace is returned when a path reaches outside the
	// workspace through a symlink.
	ErrOutsideWorkspace = errors.New("path resolves outside workspace")
)

// Mount binds a workspace directory to a path inside the executor.
type Mount struct {
	HostPath      string
	ContainerPath string
}

// Workspace is the host directory tree backing the paths a task declares.
// Every container path /a/b maps to <root>/a/b.
type Workspace struct {
	root   string
	mounts map[string]bool
}

// NewWorkspace creates the workspace directory root.
func NewWorkspace(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{root: abs, mounts: make(map[string]bool)}, nil
}

// Root returns the host directory of the workspace.
func (w *Workspace) Root() string {
	return w.root
}

// HostPath maps an absolute container path into the workspace.
func (w *Workspace) HostPath(containerPath string) (string, error) {
	if !strings.HasPrefix(containerPath, "/") {
		return "", fmt.Errorf("%w: %q", ErrBadPath, containerPath)
	}
	clean := filepath.Clean(containerPath)
	host := filepath.Join(w.root, filepath.FromSlash(clean))
	if host != w.root && !strings.HasPrefix(host, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes workspace", ErrBadPath, containerPath)
	}
	return host, nil
}

// Resolve maps containerPath into the workspace and follows any symlinks
// on the way. The real path must stay inside the workspace.
func (w *Workspace) Resolve(containerPath string) (string, error) {
	host, err := w.HostPath(containerPath)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(host)
	if err != nil {
		return "", err
	}
	root, err := filepath.EvalSymlinks(w.root)
	if err != nil {
		return "", err
	}
	if !within(resolved, root) {
		return "", fmt.Errorf("%w: %q", ErrOutsideWorkspace, containerPath)
	}
	return resolved, nil
}

// AddMount declares containerPath as visible to executors and creates its
// host directory. File paths mount their parent directory.
func (w *Workspace) AddMount(containerPath string, isDir bool) error {
	dir := filepath.Clean(containerPath)
	if !isDir {
		dir = filepath.Dir(dir)
	}
	host, err := w.HostPath(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(host, 0755); err != nil {
		return fmt.Errorf("create mount %s: %w", dir, err)
	}
	if dir != "/" {
		w.mounts[dir] = true
	}
	return nil
}

// Mounts returns the declared mounts, outermost first, with mounts nested
// under another mount folded into it.
func (w *Workspace) Mounts() []Mount {
	dirs := make([]string, 0, len(w.mounts))
	for d := range w.mounts {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	var out []Mount
	for _, d := range dirs {
		if len(out) > 0 && within(d, out[len(out)-1].ContainerPath) {
			continue
		}
		host, _ := w.HostPath(d)
		out = append(out, Mount{HostPath: host, ContainerPath: d})
	}
	return out
}

// Covers reports whether containerPath lies under a declared mount.
func (w *Workspace) Covers(containerPath string) bool {
	if !strings.HasPrefix(containerPath, "/") {
		return false
	}
	p := filepath.Clean(containerPath)
	for d := range w.mounts {
		if within(p, d) {
			return true
		}
	}
	return false
}

// Remove deletes the workspace tree.
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.root)
}

func within(p, dir string) bool {
	return p == dir || strings.HasPrefix(p, dir+"/")
}
