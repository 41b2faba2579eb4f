package main

import (
	"github.com/fentz26/tesd/internal/tui"
)

// apiClient returns a client for the daemon selected by --api.
func apiClient() *tui.Client {
	return tui.NewClient(apiAddr)
}
