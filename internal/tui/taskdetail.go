package tui

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginTop(1)
)

const maxLogLines = 6

func (a *App) renderTaskDetail() string {
	if a.currentTask == nil {
		return "\n  Loading...\n"
	}

	var b strings.Builder
	t := a.currentTask

	b.WriteString(fmt.Sprintf("\n  %s\n", lipgloss.NewStyle().Bold(true).Render(taskTitle(*t))))
	field(&b, "ID", t.ID)
	field(&b, "State", formatState(t.State))
	field(&b, "Project", t.Project)
	field(&b, "Created", t.CreationTime)
	field(&b, "Description", t.Description)

	if len(t.Executors) > 0 {
		b.WriteString(sectionStyle.Render("  Executors") + "\n")
		for i, e := range t.Executors {
			b.WriteString(fmt.Sprintf("    %d. %s  %s\n", i, e.Image, strings.Join(e.Command, " ")))
		}
	}

	if len(t.Inputs) > 0 || len(t.Outputs) > 0 {
		b.WriteString(sectionStyle.Render("  Files") + "\n")
		for _, in := range t.Inputs {
			src := in.URL
			if src == "" {
				src = "(inline)"
			}
			b.WriteString(fmt.Sprintf("    in   %s ← %s\n", in.Path, src))
		}
		for _, out := range t.Outputs {
			b.WriteString(fmt.Sprintf("    out  %s → %s\n", out.Path, out.URL))
		}
	}

	for i, l := range t.Logs {
		b.WriteString(sectionStyle.Render(fmt.Sprintf("  Attempt %d", i)) + "  " + labelStyle.Render(l.StartTime+" → "+l.EndTime) + "\n")
		for j, el := range l.Logs {
			exit := stateComplete.Render(fmt.Sprintf("%d", el.ExitCode))
			if el.ExitCode != 0 {
				exit = stateFailed.Render(fmt.Sprintf("%d", el.ExitCode))
			}
			b.WriteString(fmt.Sprintf("    executor %d  exit: %s\n", j, exit))
			writeTail(&b, el.Stdout)
			writeTail(&b, el.Stderr)
		}
		for _, out := range l.Outputs {
			b.WriteString(fmt.Sprintf("    ⇡ %s (%d bytes)\n", out.URL, out.SizeBytes))
		}
		for _, s := range l.SystemLogs {
			b.WriteString(stateFailed.Render("    ! "+s) + "\n")
		}
	}

	if len(a.events) > 0 {
		b.WriteString(sectionStyle.Render("  Events") + "\n")
		for _, e := range a.events {
			line := fmt.Sprintf("    %s  %-16s", e.Timestamp, e.Action)
			if e.FromState != "" || e.ToState != "" {
				line += fmt.Sprintf(" %s → %s", e.FromState, e.ToState)
			}
			b.WriteString(line + "\n")
		}
	}

	return b.String()
}

func field(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	b.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render(label+":"), value))
}

func writeTail(b *strings.Builder, text string) {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return
	}
	lines := strings.Split(text, "\n")
	if len(lines) > maxLogLines {
		lines = lines[len(lines)-maxLogLines:]
	}
	for _, l := range lines {
		b.WriteString(labelStyle.Render("      │ "+l) + "\n")
	}
}

func (a *App) renderWorkersPanel() string {
	var b strings.Builder
	b.WriteString("\n  Workers\n")
	b.WriteString("  " + strings.Repeat("─", 40) + "\n\n")

	s := a.workersStats
	if s == nil {
		b.WriteString("  Loading...\n")
		return b.String()
	}
	b.WriteString(fmt.Sprintf("  Active: %d / %d\n", s.ActiveWorkers, s.GlobalMax))
	for _, name := range slices.Sorted(maps.Keys(s.ConnectorCounts)) {
		b.WriteString(fmt.Sprintf("    %s: %d\n", name, s.ConnectorCounts[name]))
	}
	if len(s.Running) > 0 {
		b.WriteString("\n  Running tasks:\n")
		for _, id := range s.Running {
			b.WriteString("    • " + id + "\n")
		}
	}
	return b.String()
}
