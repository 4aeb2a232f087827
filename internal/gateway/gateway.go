package gateway

import (
	"context"

	"github.com/user/kasuwabot/internal/types"
)

// Gateway turns inbound webhook events into runs. Each event is wrapped in
// a Run and enqueued on its customer's lane; the webhook handler returns as
// soon as the run is queued, and all conversation work happens on the lane.
type Gateway struct {
	Queue *Queue
}

// New creates a Gateway with the given concurrency limit for simultaneous
// run processing.
func New(maxConcurrent int64) *Gateway {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Gateway{Queue: NewQueue(maxConcurrent)}
}

// Start initialises the gateway's internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.Queue.Start(ctx)
}

// Stop stops the queue and waits for in-flight runs to finish.
func (g *Gateway) Stop() {
	g.Queue.Stop()
}

// HandleInbound wraps the event in a Run and enqueues it on the customer's
// lane. It does not block on processing.
func (g *Gateway) HandleInbound(ctx context.Context, event *types.InboundEvent) error {
	return g.Queue.Enqueue(NewRun(event))
}
