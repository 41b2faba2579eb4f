// Package localexec runs steps as processes on the host, inside the task
// workspace, with an optional command allowlist.
package localexec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fentz26/tesd/internal/connectors"
)

// ErrNotAllowed is returned for commands outside the allowlist.
var ErrNotAllowed = errors.New("command not allowed")

// LocalExec implements the Connector interface for local command execution.
// The step image is ignored. Arguments naming a path under a workspace mount
// are rewritten to the matching host path.
type LocalExec struct {
	allowed   map[string]bool
	hostIP    string
	tailBytes int
}

// New creates a new LocalExec connector. An empty allowlist permits any
// command.
func New(allowed []string, hostIP string, tailBytes int) *LocalExec {
	l := &LocalExec{hostIP: hostIP, tailBytes: tailBytes}
	if len(allowed) > 0 {
		l.allowed = make(map[string]bool, len(allowed))
		for _, c := range allowed {
			l.allowed[c] = true
		}
	}
	return l
}

// Name returns the connector identifier.
func (l *LocalExec) Name() string {
	return "localexec"
}

// IsAllowed checks if a command is in the allowlist.
func (l *LocalExec) IsAllowed(cmd string) bool {
	if l.allowed == nil {
		return true
	}
	return l.allowed[cmd] || l.allowed[filepath.Base(cmd)]
}

// Run executes the step and waits for it to exit.
func (l *LocalExec) Run(ctx context.Context, ws *connectors.Workspace, step connectors.Step) (*connectors.ExecResult, error) {
	if len(step.Command) == 0 {
		return nil, fmt.Errorf("step %s: empty command", step.Name)
	}
	if !l.IsAllowed(step.Command[0]) {
		return nil, fmt.Errorf("%w: %s", ErrNotAllowed, step.Command[0])
	}

	args := make([]string, len(step.Command))
	for i, a := range step.Command {
		args[i] = a
		if ws.Covers(a) {
			if p, err := ws.HostPath(a); err == nil {
				args[i] = p
			}
		}
	}

	ports, err := connectors.ResolvePorts(step.Ports)
	if err != nil {
		return nil, err
	}

	stdio, err := connectors.OpenStdio(ws, step, l.tailBytes)
	if err != nil {
		return nil, err
	}
	defer stdio.Close()

	execCmd := exec.CommandContext(ctx, args[0], args[1:]...)
	execCmd.Dir = ws.Root()
	if step.Workdir != "" {
		dir, err := ws.HostPath(step.Workdir)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create workdir: %w", err)
		}
		execCmd.Dir = dir
	}
	execCmd.Env = append(os.Environ(), envList(step.Env)...)
	execCmd.Stdin = stdio.Stdin
	execCmd.Stdout = stdio.Stdout
	execCmd.Stderr = stdio.Stderr

	start := time.Now()
	err = execCmd.Run()
	end := time.Now()

	exitCode := 0
	if err != nil {
		var exitError *exec.ExitError
		if !errors.As(err, &exitError) {
			return nil, fmt.Errorf("exec error: %w", err)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("step %s interrupted: %w", step.Name, ctx.Err())
		}
		exitCode = exitError.ExitCode()
	}

	return &connectors.ExecResult{
		ExitCode:  exitCode,
		Stdout:    stdio.StdoutTail.String(),
		Stderr:    stdio.StderrTail.String(),
		HostIP:    connectors.HostIP(l.hostIP),
		Ports:     ports,
		StartTime: start,
		EndTime:   end,
	}, nil
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		if strings.TrimSpace(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
