package connectors

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/fentz26/tesd/internal/models"
)

// DefaultTailBytes bounds the stdout/stderr kept in an executor log.
const DefaultTailBytes = 64 * 1024

// TailBuffer is an io.Writer that retains only the last n bytes written.
type TailBuffer struct {
	mu  sync.Mutex
	n   int
	buf []byte
}

// NewTailBuffer creates a TailBuffer keeping at most n bytes.
func NewTailBuffer(n int) *TailBuffer {
	if n <= 0 {
		n = DefaultTailBytes
	}
	return &TailBuffer{n: n}
}

func (t *TailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	written := len(p)
	if len(p) >= t.n {
		t.buf = append(t.buf[:0], p[len(p)-t.n:]...)
		return written, nil
	}
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.n; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return written, nil
}

func (t *TailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// Stdio holds the streams of one step. Full output goes to the redirect
// files the step declares; the tails are kept for the executor log.
type Stdio struct {
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
	StdoutTail *TailBuffer
	StderrTail *TailBuffer
	closers    []io.Closer
}

// OpenStdio resolves the stdin/stdout/stderr paths of step inside ws.
func OpenStdio(ws *Workspace, step Step, tailBytes int) (*Stdio, error) {
	s := &Stdio{
		StdoutTail: NewTailBuffer(tailBytes),
		StderrTail: NewTailBuffer(tailBytes),
	}
	s.Stdout = s.StdoutTail
	s.Stderr = s.StderrTail

	if step.Stdin != "" {
		p, err := ws.HostPath(step.Stdin)
		if err != nil {
			return nil, err
		}
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("open stdin: %w", err)
		}
		s.closers = append(s.closers, f)
		s.Stdin = f
	}
	if step.Stdout != "" {
		f, err := createRedirect(ws, step.Stdout)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open stdout: %w", err)
		}
		s.closers = append(s.closers, f)
		s.Stdout = io.MultiWriter(f, s.StdoutTail)
	}
	if step.Stderr != "" {
		f, err := createRedirect(ws, step.Stderr)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open stderr: %w", err)
		}
		s.closers = append(s.closers, f)
		s.Stderr = io.MultiWriter(f, s.StderrTail)
	}
	return s, nil
}

// Close closes any files opened for the step.
func (s *Stdio) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

func createRedirect(ws *Workspace, containerPath string) (*os.File, error) {
	p, err := ws.HostPath(containerPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return nil, err
	}
	return os.Create(p)
}

// ResolvePorts fills in a host port for each binding that left it zero.
func ResolvePorts(ports []models.Ports) ([]models.Ports, error) {
	if len(ports) == 0 {
		return nil, nil
	}
	out := make([]models.Ports, len(ports))
	for i, p := range ports {
		out[i] = p
		if p.Host != 0 {
			continue
		}
		free, err := freePort()
		if err != nil {
			return nil, fmt.Errorf("allocate host port for %d: %w", p.Container, err)
		}
		out[i].Host = free
	}
	return out, nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// HostIP returns ip when set, else the first non-loopback IPv4 address of
// this host, else 127.0.0.1.
func HostIP(ip string) string {
	if ip != "" {
		return ip
	}
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			if n, ok := a.(*net.IPNet); ok && !n.IP.IsLoopback() && n.IP.To4() != nil {
				return n.IP.String()
			}
		}
	}
	return "127.0.0.1"
}
