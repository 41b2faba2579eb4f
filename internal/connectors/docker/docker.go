// Package docker runs steps as containers through the docker CLI.
package docker

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fentz26/tesd/internal/connectors"
	"github.com/fentz26/tesd/internal/models"
	"github.com/google/uuid"
)

// Docker implements connectors.Connector with `docker create`/`start -a`.
type Docker struct {
	dockerBin   string
	hostIP      string
	tailBytes   int
	applyLimits bool
}

// New creates a docker connector. The docker binary must be on PATH.
// With applyLimits set, executor resources become --cpus and --memory
// limits on the container; otherwise they are not passed to docker.
func New(dockerBin, hostIP string, tailBytes int, applyLimits bool) (*Docker, error) {
	dockerBin = strings.TrimSpace(dockerBin)
	if dockerBin == "" {
		dockerBin = "docker"
	}
	if _, err := exec.LookPath(dockerBin); err != nil {
		return nil, fmt.Errorf("docker binary not found: %w", err)
	}
	return &Docker{dockerBin: dockerBin, hostIP: hostIP, tailBytes: tailBytes, applyLimits: applyLimits}, nil
}

// Name returns the connector identifier.
func (d *Docker) Name() string {
	return "docker"
}

// Run creates a container for step, attaches to it until it exits and
// removes it. Canceling ctx kills the container.
func (d *Docker) Run(ctx context.Context, ws *connectors.Workspace, step connectors.Step) (*connectors.ExecResult, error) {
	if strings.TrimSpace(step.Image) == "" {
		return nil, errors.New("image ref is required")
	}
	ports, err := connectors.ResolvePorts(step.Ports)
	if err != nil {
		return nil, err
	}

	stdio, err := connectors.OpenStdio(ws, step, d.tailBytes)
	if err != nil {
		return nil, err
	}
	defer stdio.Close()

	name := containerName(step.Name)
	args := buildCreateArgs(name, step, ws.Mounts(), ports, d.applyLimits)
	if out, err := exec.CommandContext(ctx, d.dockerBin, args...).CombinedOutput(); err != nil {
		return nil, fmt.Errorf("docker create failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	defer d.remove(name)

	startArgs := []string{"start", "--attach"}
	if step.Stdin != "" {
		startArgs = append(startArgs, "--interactive")
	}
	startArgs = append(startArgs, name)

	cmd := exec.CommandContext(ctx, d.dockerBin, startArgs...)
	cmd.Stdin = stdio.Stdin
	cmd.Stdout = stdio.Stdout
	cmd.Stderr = stdio.Stderr

	start := time.Now()
	err = cmd.Run()
	end := time.Now()

	if ctx.Err() != nil {
		return nil, fmt.Errorf("step %s interrupted: %w", step.Name, ctx.Err())
	}
	if err != nil {
		var exitError *exec.ExitError
		if !errors.As(err, &exitError) {
			return nil, fmt.Errorf("docker start failed: %w", err)
		}
	}

	// start --attach mirrors the container exit code, but also exits non-zero
	// when docker itself fails, so the code is read back from the container.
	exitCode, err := d.exitCode(name)
	if err != nil {
		return nil, err
	}

	return &connectors.ExecResult{
		ExitCode:  exitCode,
		Stdout:    stdio.StdoutTail.String(),
		Stderr:    stdio.StderrTail.String(),
		HostIP:    connectors.HostIP(d.hostIP),
		Ports:     ports,
		StartTime: start,
		EndTime:   end,
	}, nil
}

func (d *Docker) exitCode(name string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, d.dockerBin, "inspect", "--format", "{{.State.ExitCode}}", name).CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		return 0, fmt.Errorf("docker inspect failed: %w: %s", err, text)
	}
	code, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("parse exit code %q: %w", text, err)
	}
	return code, nil
}

func (d *Docker) remove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, d.dockerBin, "rm", "--force", name).Run()
}

func containerName(step string) string {
	id := uuid.New().String()[:8]
	step = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '-'
		}
	}, step)
	if step == "" {
		return "tesd-" + id
	}
	return "tesd-" + step + "-" + id
}

func buildCreateArgs(name string, step connectors.Step, mounts []connectors.Mount, ports []models.Ports, limits bool) []string {
	args := []string{"create", "--name", name}
	if step.Stdin != "" {
		args = append(args, "--interactive")
	}
	if step.Workdir != "" {
		args = append(args, "--workdir", step.Workdir)
	}

	keys := make([]string, 0, len(step.Env))
	for k := range step.Env {
		if strings.TrimSpace(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--env", k+"="+step.Env[k])
	}

	for _, m := range mounts {
		args = append(args, "--volume", m.HostPath+":"+m.ContainerPath)
	}
	for _, p := range ports {
		args = append(args, "--publish", strconv.Itoa(p.Host)+":"+strconv.Itoa(p.Container))
	}

	if r := step.Resources; r != nil && limits {
		if r.CPUCores > 0 {
			args = append(args, "--cpus", strconv.Itoa(r.CPUCores))
		}
		if r.RAMGb > 0 {
			args = append(args, "--memory", fmt.Sprintf("%dm", int64(r.RAMGb*1024)))
		}
	}

	args = append(args, step.Image)
	return append(args, step.Command...)
}
