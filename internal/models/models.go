// Package models defines the core domain types for tesd.
//
// JSON field names follow the TES wire schema.
package models

import "fmt"

// State represents the lifecycle state of a task.
type State string

const (
	StateUnknown      State = "UNKNOWN"
	StateQueued       State = "QUEUED"
	StateInitializing State = "INITIALIZING"
	StateRunning      State = "RUNNING"
	StatePaused       State = "PAUSED"
	StateComplete     State = "COMPLETE"
	StateError        State = "ERROR"
	StateSystemError  State = "SYSTEM_ERROR"
	StateCanceled     State = "CANCELED"
)

// States lists every state in declaration order.
var States = []State{
	StateUnknown,
	StateQueued,
	StateInitializing,
	StateRunning,
	StatePaused,
	StateComplete,
	StateError,
	StateSystemError,
	StateCanceled,
}

// ParseState converts a wire value into a State.
func ParseState(s string) (State, error) {
	for _, st := range States {
		if string(st) == s {
			return st, nil
		}
	}
	return StateUnknown, fmt.Errorf("unknown state %q", s)
}

// View selects how much of a task is returned to callers.
type View string

const (
	ViewMinimal View = "MINIMAL"
	ViewBasic   View = "BASIC"
	ViewFull    View = "FULL"
)

// FileType describes whether a parameter refers to a file or a directory.
type FileType string

const (
	FileTypeFile      FileType = "FILE"
	FileTypeDirectory FileType = "DIRECTORY"
)

// Task is a batch compute request and its execution record.
type Task struct {
	ID           string            `json:"id,omitempty"`
	State        State             `json:"state,omitempty"`
	Name         string            `json:"name,omitempty"`
	Project      string            `json:"project,omitempty"`
	Description  string            `json:"description,omitempty"`
	Inputs       []TaskParameter   `json:"inputs,omitempty"`
	Outputs      []TaskParameter   `json:"outputs,omitempty"`
	Resources    *Resources        `json:"resources,omitempty"`
	Executors    []Executor        `json:"executors,omitempty"`
	Volumes      []string          `json:"volumes,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	Logs         []TaskLog         `json:"logs,omitempty"`
	CreationTime string            `json:"creation_time,omitempty"`
}

// TaskParameter binds an input or output file. When Contents is non-empty it
// is authoritative and URL is ignored.
type TaskParameter struct {
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	URL         string   `json:"url,omitempty"`
	Path        string   `json:"path,omitempty"`
	Type        FileType `json:"type,omitempty"`
	Contents    string   `json:"contents,omitempty"`
}

// Executor is one containerized step of a task.
type Executor struct {
	Image   string            `json:"image,omitempty"`
	Command []string          `json:"command,omitempty"`
	Workdir string            `json:"workdir,omitempty"`
	Stdin   string            `json:"stdin,omitempty"`
	Stdout  string            `json:"stdout,omitempty"`
	Stderr  string            `json:"stderr,omitempty"`
	Ports   []Ports           `json:"ports,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Ports is a container to host port binding. Host 0 asks the runtime to
// assign a port.
type Ports struct {
	Container int `json:"container,omitempty"`
	Host      int `json:"host,omitempty"`
}

// Resources are placement hints. They are not enforced.
type Resources struct {
	CPUCores    int      `json:"cpu_cores,omitempty"`
	RAMGb       float64  `json:"ram_gb,omitempty"`
	SizeGb      float64  `json:"size_gb,omitempty"`
	Preemptible bool     `json:"preemptible,omitempty"`
	Zones       []string `json:"zones,omitempty"`
}

// TaskLog records one execution attempt.
type TaskLog struct {
	Logs       []ExecutorLog     `json:"logs,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	StartTime  string            `json:"start_time,omitempty"`
	EndTime    string            `json:"end_time,omitempty"`
	Outputs    []OutputFileLog   `json:"outputs,omitempty"`
	SystemLogs []string          `json:"system_logs,omitempty"`
}

// ExecutorLog records the outcome of one executor in one attempt.
type ExecutorLog struct {
	StartTime string  `json:"start_time,omitempty"`
	EndTime   string  `json:"end_time,omitempty"`
	Stdout    string  `json:"stdout,omitempty"`
	Stderr    string  `json:"stderr,omitempty"`
	ExitCode  int     `json:"exit_code"`
	HostIP    string  `json:"host_ip,omitempty"`
	Ports     []Ports `json:"ports,omitempty"`
}

// OutputFileLog describes one uploaded output file.
type OutputFileLog struct {
	URL       string `json:"url,omitempty"`
	Path      string `json:"path,omitempty"`
	SizeBytes int64  `json:"size_bytes"`
}

// ServiceInfo describes the running service.
type ServiceInfo struct {
	Name    string   `json:"name,omitempty"`
	Doc     string   `json:"doc,omitempty"`
	Storage []string `json:"storage,omitempty"`
}

// CreateTaskResponse is returned by CreateTask.
type CreateTaskResponse struct {
	ID string `json:"id"`
}

// ListTasksResponse is returned by ListTasks.
type ListTasksResponse struct {
	Tasks         []Task `json:"tasks"`
	NextPageToken string `json:"next_page_token"`
}

// CancelTaskResponse is returned by CancelTask.
type CancelTaskResponse struct{}

// Event is an audit record of a state-mutating action on a task.
type Event struct {
	ID         string `json:"id"`
	TaskID     string `json:"task_id"`
	Action     string `json:"action"`
	FromState  State  `json:"from_state,omitempty"`
	ToState    State  `json:"to_state,omitempty"`
	InputsHash string `json:"inputs_hash,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Timestamp  string `json:"timestamp"`
}
