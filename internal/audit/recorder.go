// Package audit records state-mutating task operations for later review.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/tesd/internal/models"
)

// Actions written by the service.
const (
	ActionCreate     = "task.create"
	ActionCancel     = "task.cancel"
	ActionTransition = "task.transition"
	ActionRecover    = "task.recover"
)

// EventWriter persists audit events.
type EventWriter interface {
	WriteEvent(ctx context.Context, e models.Event) (*models.Event, error)
}

// Recorder writes audit events for task operations.
type Recorder struct {
	w EventWriter
}

// NewRecorder creates a new Recorder.
func NewRecorder(w EventWriter) *Recorder {
	return &Recorder{w: w}
}

// Record writes an event for action on taskID. inputs is hashed, never
// stored, so a later reviewer can check what a caller submitted.
func (r *Recorder) Record(ctx context.Context, action, taskID string, from, to models.State, inputs any, detail string) (*models.Event, error) {
	return r.w.WriteEvent(ctx, models.Event{
		TaskID:     taskID,
		Action:     action,
		FromState:  from,
		ToState:    to,
		InputsHash: hashInputs(inputs),
		Detail:     detail,
	})
}

// Transition records a state change made outside an API call.
func (r *Recorder) Transition(ctx context.Context, taskID string, from, to models.State, detail string) (*models.Event, error) {
	return r.Record(ctx, ActionTransition, taskID, from, to, nil, detail)
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs any) string {
	if inputs == nil {
		return ""
	}
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
