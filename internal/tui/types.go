package tui

import (
	"github.com/fentz26/tesd/internal/models"
	"github.com/fentz26/tesd/internal/scheduler"
)

type tasksLoadedMsg struct {
	tasks     []models.Task
	nextToken string
}

type taskDetailLoadedMsg struct {
	task   *models.Task
	events []models.Event
}

type daemonStatusMsg struct {
	online bool
}

type workersFetchedMsg struct {
	stats *scheduler.Stats
}

type commandResultMsg struct {
	message string
}

type tickMsg struct{}

type errMsg struct {
	err error
}

func (e errMsg) Error() string { return e.err.Error() }
