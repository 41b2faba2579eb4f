package tui

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fentz26/tesd/internal/controlplane"
	"github.com/fentz26/tesd/internal/models"
	"github.com/fentz26/tesd/internal/scheduler"
)

func newFakeAPI(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var seen []string
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.RequestURI())
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(models.CreateTaskResponse{ID: "t-new"})
			return
		}
		json.NewEncoder(w).Encode(models.ListTasksResponse{
			Tasks:         []models.Task{{ID: "t-1", State: models.StateQueued, Name: "align"}},
			NextPageToken: "next",
		})
	})
	mux.HandleFunc("/v1/tasks/", func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.RequestURI())
		switch {
		case strings.HasSuffix(r.URL.Path, ":cancel"):
			w.WriteHeader(http.StatusPreconditionFailed)
			json.NewEncoder(w).Encode(controlplane.ErrorResponse{Error: "task is terminal", Code: 412})
		case strings.HasSuffix(r.URL.Path, "/events"):
			json.NewEncoder(w).Encode([]models.Event{{ID: "e1", TaskID: "t-1", Action: "task.create"}})
		default:
			json.NewEncoder(w).Encode(models.Task{ID: "t-1", State: models.StateComplete})
		}
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(controlplane.HealthResponse{OK: true, DB: "ok"})
	})
	mux.HandleFunc("/workers", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(scheduler.Stats{ActiveWorkers: 1, GlobalMax: 4, Running: []string{"t-1"}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestClientListTasks(t *testing.T) {
	srv, seen := newFakeAPI(t)
	c := NewClient(srv.URL)

	resp, err := c.ListTasks(ListOptions{State: models.StateQueued, Project: "p1", PageSize: 10, PageToken: "tok"})
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(resp.Tasks) != 1 || resp.Tasks[0].ID != "t-1" || resp.NextPageToken != "next" {
		t.Errorf("unexpected response: %+v", resp)
	}

	got := (*seen)[0]
	for _, want := range []string{"view=BASIC", "state=QUEUED", "project=p1", "page_size=10", "page_token=tok"} {
		if !strings.Contains(got, want) {
			t.Errorf("request %q missing %q", got, want)
		}
	}
}

func TestClientGetTaskUsesFullView(t *testing.T) {
	srv, seen := newFakeAPI(t)
	c := NewClient(srv.URL)

	task, err := c.GetTask("t-1")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task.State != models.StateComplete {
		t.Errorf("expected COMPLETE, got %s", task.State)
	}
	if want := "GET /v1/tasks/t-1?view=FULL"; (*seen)[0] != want {
		t.Errorf("expected %q, got %q", want, (*seen)[0])
	}
}

func TestClientCancelReportsAPIError(t *testing.T) {
	srv, seen := newFakeAPI(t)
	c := NewClient(srv.URL)

	err := c.CancelTask("t-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "412") || !strings.Contains(err.Error(), "task is terminal") {
		t.Errorf("unexpected error: %v", err)
	}
	if want := "POST /v1/tasks/t-1:cancel"; (*seen)[0] != want {
		t.Errorf("expected %q, got %q", want, (*seen)[0])
	}
}

func TestClientCreateEventsWorkersHealth(t *testing.T) {
	srv, _ := newFakeAPI(t)
	c := NewClient(srv.URL)

	id, err := c.CreateTask(&models.Task{Name: "x"})
	if err != nil || id != "t-new" {
		t.Errorf("CreateTask: id=%q err=%v", id, err)
	}

	events, err := c.ListEvents("t-1")
	if err != nil || len(events) != 1 || events[0].Action != "task.create" {
		t.Errorf("ListEvents: %+v err=%v", events, err)
	}

	stats, err := c.GetWorkers()
	if err != nil || stats.GlobalMax != 4 || len(stats.Running) != 1 {
		t.Errorf("GetWorkers: %+v err=%v", stats, err)
	}

	ok, err := c.CheckHealth()
	if err != nil || !ok {
		t.Errorf("CheckHealth: ok=%v err=%v", ok, err)
	}
}

func TestClientHealthDaemonDown(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	if ok, err := c.CheckHealth(); ok || err == nil {
		t.Errorf("expected failure, got ok=%v err=%v", ok, err)
	}
}
