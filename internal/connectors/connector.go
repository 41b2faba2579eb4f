// Package connectors defines how a single executor step is run and the
// workspace it runs against.
package connectors

import (
	"context"
	"time"

	"github.com/fentz26/tesd/internal/models"
)

// Step is one executor of a task, as handed to a connector.
type Step struct {
	// Name identifies the step in logs and container names.
	Name      string
	Image     string
	Command   []string
	Workdir   string
	Stdin     string
	Stdout    string
	Stderr    string
	Env       map[string]string
	Ports     []models.Ports
	Resources *models.Resources
}

// ExecResult holds the outcome of a step that ran to completion.
type ExecResult struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	HostIP    string
	Ports     []models.Ports
	StartTime time.Time
	EndTime   time.Time
}

// Connector runs steps on some runtime.
type Connector interface {
	// Name returns the connector identifier.
	Name() string

	// Run executes step and waits for it to exit. A non-zero exit code is
	// reported in the result; an error means the step could not be run or
	// observed and is treated as a system failure.
	Run(ctx context.Context, ws *Workspace, step Step) (*ExecResult, error)
}
