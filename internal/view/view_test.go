package view

import (
	"errors"
	"reflect"
	"testing"

	"github.com/fentz26/tesd/internal/models"
)

func sampleTask() *models.Task {
	return &models.Task{
		ID:          "task-1",
		State:       models.StateComplete,
		Name:        "align",
		Project:     "genomics",
		Description: "align reads",
		Inputs: []models.TaskParameter{
			{Path: "/data/in.txt", Contents: "hello"},
		},
		Outputs: []models.TaskParameter{
			{URL: "file:///tmp/out", Path: "/data/out", Type: models.FileTypeDirectory},
		},
		Resources: &models.Resources{CPUCores: 2, Zones: []string{"a"}},
		Executors: []models.Executor{
			{Image: "alpine", Command: []string{"echo", "hi"}, Env: map[string]string{"A": "1"}},
		},
		Tags: map[string]string{"team": "x"},
		Logs: []models.TaskLog{{
			StartTime:  "2024-01-01T00:00:00Z",
			Logs:       []models.ExecutorLog{{Stdout: "hi\n", Stderr: "warn", ExitCode: 0}},
			SystemLogs: []string{"started"},
		}},
		CreationTime: "2024-01-01T00:00:00Z",
	}
}

func TestProjectMinimal(t *testing.T) {
	got := Project(sampleTask(), models.ViewMinimal)
	want := &models.Task{ID: "task-1", State: models.StateComplete}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Project(MINIMAL) = %+v, want %+v", got, want)
	}
	if got.Name != "" || len(got.Logs) != 0 {
		t.Fatal("MINIMAL leaked fields")
	}
}

func TestProjectBasicClearsPayloads(t *testing.T) {
	src := sampleTask()
	got := Project(src, models.ViewBasic)

	if got.Inputs[0].Contents != "" {
		t.Error("BASIC kept input contents")
	}
	if got.Logs[0].Logs[0].Stdout != "" || got.Logs[0].Logs[0].Stderr != "" {
		t.Error("BASIC kept executor stdout/stderr")
	}
	if got.Name != "align" || got.Inputs[0].Path != "/data/in.txt" || len(got.Logs[0].SystemLogs) != 1 {
		t.Errorf("BASIC dropped non-payload fields: %+v", got)
	}
	if src.Inputs[0].Contents != "hello" || src.Logs[0].Logs[0].Stdout != "hi\n" {
		t.Error("Project mutated its input")
	}
}

func TestProjectFullIsDeepCopy(t *testing.T) {
	src := sampleTask()
	got := Project(src, models.ViewFull)
	if !reflect.DeepEqual(got, src) {
		t.Fatalf("FULL differs from source")
	}
	got.Executors[0].Env["A"] = "2"
	got.Logs[0].Logs[0].Stdout = "changed"
	if src.Executors[0].Env["A"] != "1" || src.Logs[0].Logs[0].Stdout != "hi\n" {
		t.Fatal("FULL projection shares memory with source")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    models.View
		wantErr bool
	}{
		{"", models.ViewMinimal, false},
		{"MINIMAL", models.ViewMinimal, false},
		{"basic", models.ViewBasic, false},
		{"FULL", models.ViewFull, false},
		{"EVERYTHING", "", true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidView) {
				t.Errorf("Parse(%q) err = %v, want ErrInvalidView", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("Parse(%q) = %s, %v; want %s", tt.in, got, err, tt.want)
		}
	}
}
