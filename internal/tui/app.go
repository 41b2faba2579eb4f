// Package tui provides the interactive terminal UI for tesd.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/tesd/internal/models"
	"github.com/fentz26/tesd/internal/scheduler"
)

var (
	// Colors
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#6366F1")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	fgColor        = lipgloss.Color("#F9FAFB")
	cyanColor      = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	taskItemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

const (
	modeList    = "list"
	modeDetail  = "detail"
	modeWorkers = "workers"

	pageSize     = 50
	pollInterval = 2 * time.Second
)

// App is the main TUI application model.
type App struct {
	client       *Client
	tasks        []models.Task
	nextToken    string
	selectedIdx  int
	input        textinput.Model
	width        int
	height       int
	mode         string
	currentTask  *models.Task
	events       []models.Event
	message      string
	filterIdx    int
	project      string
	namePrefix   string
	loading      bool
	daemonOnline bool
	suggestions  *Suggestions
	workersStats *scheduler.Stats
}

// New creates a new TUI application.
func New(apiAddr string) *App {
	ti := textinput.New()
	ti.Placeholder = "Type: /cancel | /state <STATE> | /project <name> | /more | /workers"
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 80

	return &App{
		client:      NewClient(apiAddr),
		input:       ti,
		mode:        modeList,
		suggestions: NewSuggestions(),
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.fetchTasks(),
		a.checkDaemon(),
		a.tickCmd(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit

		case "esc":
			if a.mode != modeList {
				a.mode = modeList
				a.currentTask = nil
				a.events = nil
				return a, a.fetchTasks()
			}
			a.input.SetValue("")

		case "up":
			if a.suggestions.IsVisible() {
				a.suggestions.Prev()
			} else if a.mode == modeList && a.selectedIdx > 0 {
				a.selectedIdx--
			}
			return a, nil

		case "down":
			if a.suggestions.IsVisible() {
				a.suggestions.Next()
			} else if a.mode == modeList && a.selectedIdx < len(a.tasks)-1 {
				a.selectedIdx++
			}
			return a, nil

		case "tab":
			if a.acceptSuggestion() {
				return a, nil
			}
			if a.mode == modeList {
				a.filterIdx = (a.filterIdx + 1) % len(filters)
				return a, a.fetchTasks()
			}
			return a, nil

		case "enter":
			if a.acceptSuggestion() {
				return a, nil
			}
			input := strings.TrimSpace(a.input.Value())
			if input != "" {
				a.input.SetValue("")
				a.suggestions.Update("")
				return a, a.executeCommand(input)
			}
			if a.mode == modeList && len(a.tasks) > 0 {
				a.mode = modeDetail
				return a, a.fetchTaskDetail(a.tasks[a.selectedIdx].ID)
			}
			return a, nil
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 4

	case tasksLoadedMsg:
		a.loading = false
		a.tasks = msg.tasks
		a.nextToken = msg.nextToken
		if a.selectedIdx >= len(a.tasks) {
			a.selectedIdx = max(0, len(a.tasks)-1)
		}

	case taskDetailLoadedMsg:
		if a.mode == modeDetail {
			a.currentTask = msg.task
			a.events = msg.events
		}

	case daemonStatusMsg:
		a.daemonOnline = msg.online

	case workersFetchedMsg:
		a.workersStats = msg.stats

	case tickMsg:
		cmds = append(cmds, a.tickCmd(), a.checkDaemon())
		switch a.mode {
		case modeDetail:
			if a.currentTask != nil {
				cmds = append(cmds, a.fetchTaskDetail(a.currentTask.ID))
			}
		case modeWorkers:
			cmds = append(cmds, a.fetchWorkers())
		}
		return a, tea.Batch(cmds...)

	case commandResultMsg:
		a.message = msg.message
		if a.mode == modeDetail && a.currentTask != nil {
			return a, a.fetchTaskDetail(a.currentTask.ID)
		}
		return a, a.fetchTasks()

	case errMsg:
		a.loading = false
		a.message = "Error: " + msg.err.Error()
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	a.suggestions.Update(a.input.Value())
	if strings.HasPrefix(a.input.Value(), "@") {
		ids := make([]string, len(a.tasks))
		for i, t := range a.tasks {
			ids[i] = t.ID
		}
		a.suggestions.SetTasks(ids)
	}

	return a, tea.Batch(cmds...)
}

func (a *App) acceptSuggestion() bool {
	if !a.suggestions.IsVisible() {
		return false
	}
	if selected := a.suggestions.Selected(); selected != nil {
		text := selected.Text
		if selected.Type == "command" {
			text = "/" + text
		} else {
			text = "/cancel " + text
		}
		a.input.SetValue(text + " ")
		a.input.CursorEnd()
		a.suggestions.Update("")
	}
	return true
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemonStatus := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemonStatus = offlineStyle.Render("○ DAEMON")
	}
	header := titleStyle.Render("tesd Task Execution Service") + "  " + daemonStatus
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", a.width) + "\n")

	contentHeight := max(a.height-8, 5)

	switch a.mode {
	case modeList:
		filter := fmt.Sprintf(" State: [%s]", filterName(filters[a.filterIdx]))
		if a.project != "" {
			filter += fmt.Sprintf("  Project: [%s]", a.project)
		}
		if a.namePrefix != "" {
			filter += fmt.Sprintf("  Name: [%s*]", a.namePrefix)
		}
		b.WriteString(helpStyle.Render(filter) + "\n")
		b.WriteString(a.renderTaskList(contentHeight - 1))
	case modeDetail:
		b.WriteString(a.renderTaskDetail())
	case modeWorkers:
		b.WriteString(a.renderWorkersPanel())
	}

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	} else {
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Render(a.input.View()))
	if a.suggestions.IsVisible() {
		b.WriteString("\n")
		b.WriteString(a.suggestions.Render(a.width))
	}
	b.WriteString("\n")

	var status string
	switch a.mode {
	case modeList:
		more := ""
		if a.nextToken != "" {
			more = " (more)"
		}
		status = fmt.Sprintf(" Tasks: %d%s | ↑↓:nav | Enter:detail | Tab:state | /cancel | Ctrl+C:quit", len(a.tasks), more)
	case modeWorkers:
		n := 0
		if a.workersStats != nil {
			n = a.workersStats.ActiveWorkers
		}
		status = fmt.Sprintf(" Workers: %d | Esc:back", n)
	default:
		status = " Esc:back | /cancel | Ctrl+C:quit"
	}
	b.WriteString(statusBarStyle.Width(a.width).Render(status))

	return b.String()
}

func (a *App) selectedID() string {
	if a.mode == modeDetail && a.currentTask != nil {
		return a.currentTask.ID
	}
	if len(a.tasks) == 0 {
		return ""
	}
	return a.tasks[a.selectedIdx].ID
}

// executeCommand applies view changes immediately and returns the network
// work as a command.
func (a *App) executeCommand(input string) tea.Cmd {
	parts := strings.Fields(strings.TrimPrefix(input, "/"))
	if len(parts) == 0 {
		return nil
	}
	cmd, args := parts[0], parts[1:]

	switch cmd {
	case "cancel":
		id := a.selectedID()
		if len(args) > 0 {
			id = strings.TrimPrefix(args[0], "@")
		}
		if id == "" {
			a.message = "No task selected"
			return nil
		}
		return func() tea.Msg {
			if err := a.client.CancelTask(id); err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{fmt.Sprintf("✓ Cancel requested for %s", shortID(id))}
		}

	case "state":
		want := ""
		if len(args) > 0 {
			want = strings.ToUpper(args[0])
		}
		for i, f := range filters {
			if string(f) == want || (f == "" && want == "ALL") {
				a.filterIdx = i
				a.mode = modeList
				return a.fetchTasks()
			}
		}
		a.message = fmt.Sprintf("Error: unknown state %q", want)
		return nil

	case "project":
		a.project = strings.Join(args, " ")
		a.mode = modeList
		return a.fetchTasks()

	case "name":
		a.namePrefix = strings.Join(args, " ")
		a.mode = modeList
		return a.fetchTasks()

	case "more":
		if a.nextToken == "" {
			a.message = "No more tasks"
			return nil
		}
		return a.fetchMore()

	case "workers":
		a.mode = modeWorkers
		return a.fetchWorkers()

	case "refresh", "r":
		a.mode = modeList
		return a.fetchTasks()

	case "q", "quit", "exit":
		return tea.Quit

	default:
		a.message = fmt.Sprintf("Unknown: %s (try: cancel, state, project, more, workers)", cmd)
		return nil
	}
}

func (a *App) listQuery() (models.State, string, string) {
	return filters[a.filterIdx], a.project, a.namePrefix
}

func (a *App) fetchTasks() tea.Cmd {
	a.loading = true
	state, project, prefix := a.listQuery()
	return func() tea.Msg {
		resp, err := a.client.ListTasks(ListOptions{State: state, Project: project, NamePrefix: prefix, PageSize: pageSize})
		if err != nil {
			return errMsg{err}
		}
		return tasksLoadedMsg{tasks: resp.Tasks, nextToken: resp.NextPageToken}
	}
}

func (a *App) fetchMore() tea.Cmd {
	state, project, prefix := a.listQuery()
	token := a.nextToken
	loaded := append([]models.Task(nil), a.tasks...)
	return func() tea.Msg {
		resp, err := a.client.ListTasks(ListOptions{State: state, Project: project, NamePrefix: prefix, PageSize: pageSize, PageToken: token})
		if err != nil {
			return errMsg{err}
		}
		return tasksLoadedMsg{tasks: append(loaded, resp.Tasks...), nextToken: resp.NextPageToken}
	}
}

func (a *App) fetchTaskDetail(taskID string) tea.Cmd {
	return func() tea.Msg {
		task, err := a.client.GetTask(taskID)
		if err != nil {
			return errMsg{err}
		}
		events, _ := a.client.ListEvents(taskID)
		return taskDetailLoadedMsg{task, events}
	}
}

func (a *App) fetchWorkers() tea.Cmd {
	return func() tea.Msg {
		stats, err := a.client.GetWorkers()
		if err != nil {
			return errMsg{err}
		}
		return workersFetchedMsg{stats}
	}
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		ok, err := a.client.CheckHealth()
		return daemonStatusMsg{online: err == nil && ok}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}
