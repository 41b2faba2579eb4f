package tui

import (
	"strings"
	"testing"

	"github.com/fentz26/tesd/internal/models"
)

func TestSuggestionsCommands(t *testing.T) {
	s := NewSuggestions()

	s.Update("/ca")
	if !s.IsVisible() {
		t.Fatal("expected suggestions to be visible")
	}
	if sel := s.Selected(); sel == nil || sel.Text != "cancel" {
		t.Errorf("expected cancel, got %+v", sel)
	}

	s.Update("/cancel abc")
	if s.IsVisible() {
		t.Error("suggestions should hide once arguments are typed")
	}

	s.Update("plain")
	if s.IsVisible() {
		t.Error("suggestions should hide without a trigger")
	}
}

func TestSuggestionsTasks(t *testing.T) {
	s := NewSuggestions()
	s.Update("@b")
	s.SetTasks([]string{"aaa", "bbb", "abc"})

	if len(s.filtered) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(s.filtered))
	}
	s.Next()
	s.Next()
	if sel := s.Selected(); sel == nil || sel.Text != "bbb" {
		t.Errorf("expected wraparound to bbb, got %+v", sel)
	}
}

func TestExecuteCommandFilters(t *testing.T) {
	srv, _ := newFakeAPI(t)
	a := New(srv.URL)

	if cmd := a.executeCommand("/state system_error"); cmd == nil {
		t.Fatal("expected fetch command")
	}
	if got := filters[a.filterIdx]; got != models.StateSystemError {
		t.Errorf("expected SYSTEM_ERROR filter, got %q", got)
	}

	a.executeCommand("state all")
	if filters[a.filterIdx] != "" {
		t.Errorf("expected no state filter, got %q", filters[a.filterIdx])
	}

	if cmd := a.executeCommand("/state bogus"); cmd != nil {
		t.Error("unknown state should not fetch")
	}
	if !strings.HasPrefix(a.message, "Error") {
		t.Errorf("expected error message, got %q", a.message)
	}

	a.executeCommand("/project genomics")
	if a.project != "genomics" {
		t.Errorf("expected project filter, got %q", a.project)
	}
}

func TestExecuteCommandCancelNeedsTask(t *testing.T) {
	a := New("http://127.0.0.1:1")
	if cmd := a.executeCommand("/cancel"); cmd != nil {
		t.Error("cancel without a selection should not issue a request")
	}
	if a.message != "No task selected" {
		t.Errorf("unexpected message %q", a.message)
	}
}

func TestFetchTasksLoadsPage(t *testing.T) {
	srv, _ := newFakeAPI(t)
	a := New(srv.URL)

	msg := a.fetchTasks()()
	loaded, ok := msg.(tasksLoadedMsg)
	if !ok {
		t.Fatalf("expected tasksLoadedMsg, got %T", msg)
	}
	a.Update(loaded)
	if len(a.tasks) != 1 || a.nextToken != "next" || a.loading {
		t.Errorf("unexpected state: tasks=%d token=%q loading=%v", len(a.tasks), a.nextToken, a.loading)
	}
	if !strings.Contains(a.renderTaskList(10), "align") {
		t.Error("task list should show the task name")
	}
}
