// Package view projects task records into the field set a caller asked for.
package view

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fentz26/tesd/internal/models"
)

// ErrInvalidView is returned for an unrecognized view name.
var ErrInvalidView = errors.New("invalid view")

// Parse converts a request value into a View. An empty value selects MINIMAL.
func Parse(s string) (models.View, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(models.ViewMinimal):
		return models.ViewMinimal, nil
	case string(models.ViewBasic):
		return models.ViewBasic, nil
	case string(models.ViewFull):
		return models.ViewFull, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidView, s)
	}
}

// Project returns a copy of t filtered for v. The input is never modified.
func Project(t *models.Task, v models.View) *models.Task {
	if t == nil {
		return nil
	}
	switch v {
	case models.ViewFull:
		return t.Clone()
	case models.ViewBasic:
		c := t.Clone()
		for i := range c.Inputs {
			c.Inputs[i].Contents = ""
		}
		for i := range c.Outputs {
			c.Outputs[i].Contents = ""
		}
		for i := range c.Logs {
			for j := range c.Logs[i].Logs {
				c.Logs[i].Logs[j].Stdout = ""
				c.Logs[i].Logs[j].Stderr = ""
			}
		}
		return c
	case models.ViewMinimal:
		return &models.Task{ID: t.ID, State: t.State}
	default:
		return &models.Task{ID: t.ID, State: t.State}
	}
}
