package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/tesd/internal/models"
)

var (
	stateQueued   = lipgloss.NewStyle().Foreground(warningColor)
	stateActive   = lipgloss.NewStyle().Foreground(secondaryColor)
	stateRunning  = lipgloss.NewStyle().Foreground(cyanColor)
	stateComplete = lipgloss.NewStyle().Foreground(successColor)
	stateFailed   = lipgloss.NewStyle().Foreground(errorColor)
	stateMuted    = lipgloss.NewStyle().Foreground(mutedColor)
)

// filters cycles the list through every state, starting with no filter.
var filters = []models.State{
	"",
	models.StateQueued,
	models.StateInitializing,
	models.StateRunning,
	models.StatePaused,
	models.StateComplete,
	models.StateError,
	models.StateSystemError,
	models.StateCanceled,
}

func filterName(s models.State) string {
	if s == "" {
		return "ALL"
	}
	return string(s)
}

func stateIcon(s models.State) string {
	switch s {
	case models.StateQueued:
		return "○"
	case models.StateInitializing:
		return "◐"
	case models.StateRunning:
		return "◑"
	case models.StatePaused:
		return "‖"
	case models.StateComplete:
		return "●"
	case models.StateError, models.StateSystemError:
		return "✗"
	case models.StateCanceled:
		return "⊘"
	default:
		return "?"
	}
}

func formatState(s models.State) string {
	label := stateIcon(s) + " " + string(s)
	switch s {
	case models.StateQueued:
		return stateQueued.Render(label)
	case models.StateInitializing, models.StatePaused:
		return stateActive.Render(label)
	case models.StateRunning:
		return stateRunning.Render(label)
	case models.StateComplete:
		return stateComplete.Render(label)
	case models.StateError, models.StateSystemError:
		return stateFailed.Render(label)
	default:
		return stateMuted.Render(label)
	}
}

func taskTitle(t models.Task) string {
	if t.Name != "" {
		return t.Name
	}
	return shortID(t.ID)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (a *App) renderTaskList(height int) string {
	if a.loading && len(a.tasks) == 0 {
		return "\n  Loading tasks...\n"
	}
	if len(a.tasks) == 0 {
		return "\n  No tasks found. Submit one with: tesd task create -f task.yaml\n"
	}

	var lines []string
	for i, task := range a.tasks {
		project := ""
		if task.Project != "" {
			project = stateMuted.Render(" [" + task.Project + "]")
		}
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render(fmt.Sprintf("▶ %s %-14s %s", stateIcon(task.State), task.State, taskTitle(task)))+project)
		} else {
			lines = append(lines, taskItemStyle.Render(fmt.Sprintf("  %s  %s", formatState(task.State), taskTitle(task)))+project)
		}
	}

	if len(lines) > height {
		start := max(0, a.selectedIdx-height/2)
		end := start + height
		if end > len(lines) {
			end = len(lines)
			start = max(0, end-height)
		}
		lines = lines[start:end]
	}
	return strings.Join(lines, "\n")
}
