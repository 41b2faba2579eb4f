package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fentz26/tesd/internal/config"
	"github.com/fentz26/tesd/internal/models"
)

func TestReadTaskFileYAML(t *testing.T) {
	doc := `
name: align
project: genomics
inputs:
  - path: /data/in.txt
    contents: hello
outputs:
  - path: /data/out.txt
    url: file:///tmp/out.txt
executors:
  - image: alpine:3
    command: ["sh", "-c", "cat /data/in.txt > /data/out.txt"]
    env:
      MODE: fast
resources:
  cpu_cores: 2
  ram_gb: 0.5
`
	task, err := readTaskFile(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("readTaskFile failed: %v", err)
	}
	if task.Name != "align" || task.Project != "genomics" {
		t.Errorf("unexpected header fields: %+v", task)
	}
	if len(task.Executors) != 1 || task.Executors[0].Command[2] != "cat /data/in.txt > /data/out.txt" {
		t.Errorf("unexpected executors: %+v", task.Executors)
	}
	if task.Executors[0].Env["MODE"] != "fast" {
		t.Errorf("env not decoded: %+v", task.Executors[0].Env)
	}
	if task.Resources == nil || task.Resources.CPUCores != 2 || task.Resources.RAMGb != 0.5 {
		t.Errorf("unexpected resources: %+v", task.Resources)
	}
	if task.Inputs[0].Contents != "hello" {
		t.Errorf("contents not decoded: %+v", task.Inputs[0])
	}
}

func TestReadTaskFileJSON(t *testing.T) {
	task, err := readTaskFile(strings.NewReader(`{"name":"j","executors":[{"image":"busybox","command":["true"]}]}`))
	if err != nil {
		t.Fatalf("readTaskFile failed: %v", err)
	}
	if task.Name != "j" || task.Executors[0].Image != "busybox" {
		t.Errorf("unexpected task: %+v", task)
	}
}

func TestReadTaskFileRejectsUnknownFields(t *testing.T) {
	if _, err := readTaskFile(strings.NewReader("name: x\nexecutor: []\n")); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestTaskListFollowsPages(t *testing.T) {
	var tokens []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("page_token")
		tokens = append(tokens, token)
		resp := models.ListTasksResponse{Tasks: []models.Task{{ID: "t-" + token, State: models.StateQueued}}}
		if token == "" {
			resp.NextPageToken = "p2"
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	apiAddr = srv.URL
	listAll = true
	t.Cleanup(func() { listAll = false })

	var out bytes.Buffer
	taskListCmd.SetOut(&out)
	if err := runTaskList(taskListCmd, nil); err != nil {
		t.Fatalf("runTaskList failed: %v", err)
	}
	if len(tokens) != 2 || tokens[1] != "p2" {
		t.Errorf("expected two requests, second with p2, got %q", tokens)
	}
	if !strings.Contains(out.String(), "t-p2") {
		t.Errorf("second page missing from output:\n%s", out.String())
	}
}

func TestBuildConnector(t *testing.T) {
	conn, err := buildConnector(config.SandboxConfig{Connector: "localexec"})
	if err != nil {
		t.Fatalf("buildConnector failed: %v", err)
	}
	if conn.Name() != "localexec" {
		t.Errorf("expected localexec, got %s", conn.Name())
	}
	if _, err := buildConnector(config.SandboxConfig{Connector: "slurm"}); err == nil {
		t.Error("expected error for unknown connector")
	}
}

func TestBuildStorageLocalOnly(t *testing.T) {
	mux, err := buildStorage(config.StorageConfig{})
	if err != nil {
		t.Fatalf("buildStorage failed: %v", err)
	}
	if locs := mux.Locations(); len(locs) == 0 || !strings.HasPrefix(locs[0], "file") {
		t.Errorf("expected a file location, got %v", locs)
	}
}
