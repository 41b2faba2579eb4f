package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Local serves file:// URLs and bare absolute paths from the host
// filesystem, restricted to a set of allowed directories.
type Local struct {
	allowed []string
}

// NewLocal creates a Local backend. An empty allowlist permits any path.
func NewLocal(allowedDirs []string) *Local {
	l := &Local{}
	for _, d := range allowedDirs {
		if d = strings.TrimSpace(d); d != "" {
			l.allowed = append(l.allowed, filepath.Clean(d))
		}
	}
	return l
}

func (l *Local) Scheme() string { return "file" }

func (l *Local) Locations() []string {
	if len(l.allowed) == 0 {
		return []string{"file:///"}
	}
	out := make([]string, len(l.allowed))
	for i, d := range l.allowed {
		out[i] = "file://" + d
	}
	return out
}

func (l *Local) path(raw string) (string, error) {
	p := raw
	if !strings.HasPrefix(raw, "/") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("parse url: %w", err)
		}
		if u.Host != "" && u.Host != "localhost" {
			return "", fmt.Errorf("%w: remote host in %q", ErrUnsupported, raw)
		}
		p = u.Path
	}
	if !filepath.IsAbs(p) {
		return "", fmt.Errorf("%w: %q is not absolute", ErrUnsupported, raw)
	}
	p = filepath.Clean(p)
	if len(l.allowed) == 0 {
		return p, nil
	}
	for _, d := range l.allowed {
		if p == d || strings.HasPrefix(p, d+string(filepath.Separator)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrDenied, p)
}

// Get copies the file or tree at url to dst.
func (l *Local) Get(ctx context.Context, raw, dst string, dir bool) error {
	src, err := l.path(raw)
	if err != nil {
		return err
	}
	if !dir {
		return copyFile(src, dst)
	}
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(p, target)
	})
}

// Put copies src to the path url names.
func (l *Local) Put(ctx context.Context, src, raw string) error {
	dst, err := l.path(raw)
	if err != nil {
		return err
	}
	if err := checkRegular(src); err != nil {
		return err
	}
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
