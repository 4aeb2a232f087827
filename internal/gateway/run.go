package gateway

import (
	"context"
	"time"

	"github.com/user/kasuwabot/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run tracks a single execution of an inbound customer message. Runs for
// the same customer are processed strictly in arrival order.
type Run struct {
	ID        types.RunID
	Key       types.SessionKey
	Event     *types.InboundEvent
	Status    RunStatus
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
	Error     error

	// Ctx is assigned by the queue when the run is dequeued.
	Ctx context.Context
}

// NewRun creates a Run in the Queued state for the given event.
func NewRun(event *types.InboundEvent) *Run {
	return &Run{
		ID:        types.NewRunID(),
		Key:       types.NewSessionKey(event.Tenant, event.From),
		Event:     event,
		Status:    RunStatusQueued,
		CreatedAt: time.Now(),
	}
}
