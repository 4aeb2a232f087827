// Package delivery sends outbound messages through a transport with
// retries, delivery confirmation polling, and human-like pacing between
// sequence steps.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/user/kasuwabot/internal/types"
)

// Kind classifies an outbound send for pacing purposes. Media takes longer
// to land on the customer's device, so it gets the longest pause.
type Kind string

const (
	KindTemplate Kind = "template"
	KindText     Kind = "text"
	KindMedia    Kind = "media"
)

// Options configures a Manager. Zero values fall back to defaults that
// match WhatsApp's observed delivery behavior.
type Options struct {
	MaxRetries     int
	BaseDelay      time.Duration
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	TemplateDelay  time.Duration
	TextDelay      time.Duration
	MediaDelay     time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.MaxRetries == 0 {
		out.MaxRetries = 2
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = 800 * time.Millisecond
	}
	if out.ConfirmTimeout <= 0 {
		out.ConfirmTimeout = 20 * time.Second
	}
	if out.PollInterval <= 0 {
		out.PollInterval = 500 * time.Millisecond
	}
	if out.TemplateDelay <= 0 {
		out.TemplateDelay = 1200 * time.Millisecond
	}
	if out.TextDelay <= 0 {
		out.TextDelay = 1500 * time.Millisecond
	}
	if out.MediaDelay <= 0 {
		out.MediaDelay = 4500 * time.Millisecond
	}
	return out
}

// Manager wraps a transport with retry, confirmation, and pacing. A single
// Manager is safe for concurrent use across customer lanes.
type Manager struct {
	transport types.Transport
	opts      Options
	retry     *RetryPolicy
}

// NewManager creates a Manager over the given transport.
func NewManager(transport types.Transport, opts Options) *Manager {
	o := opts.withDefaults()
	return &Manager{
		transport: transport,
		opts:      o,
		retry: &RetryPolicy{
			MaxAttempts:  o.MaxRetries + 1,
			InitialDelay: o.BaseDelay,
			Multiplier:   2.0,
			MaxDelay:     30 * time.Second,
			Jitter:       400 * time.Millisecond,
		},
	}
}

// Send delivers one message, retrying transient failures with exponential
// backoff. Permanent errors fail immediately.
func (m *Manager) Send(ctx context.Context, msg *types.OutboundMessage) (*types.SendReceipt, error) {
	var receipt *types.SendReceipt
	err := m.retry.Execute(func() error {
		if err := ctx.Err(); err != nil {
			return types.Permanent(err)
		}
		r, err := m.transport.Send(ctx, msg)
		if err != nil {
			slog.Warn("send attempt failed", "to", msg.To, "error", err)
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("send to %s: %w", msg.To, err)
	}
	return receipt, nil
}

// SendAndConfirm delivers one message and then polls the transport until
// the attempt reaches a terminal status or the confirmation window closes.
// A timeout is not an error: the sequence moves on with the last observed
// status, matching WhatsApp's at-least-sent semantics.
func (m *Manager) SendAndConfirm(ctx context.Context, msg *types.OutboundMessage) (types.DeliveryStatus, error) {
	receipt, err := m.Send(ctx, msg)
	if err != nil {
		return types.StatusUnknown, err
	}
	status := m.awaitTerminal(ctx, receipt.AttemptID)
	if status == types.StatusFailed {
		return status, fmt.Errorf("send to %s: provider reported failure", msg.To)
	}
	return status, nil
}

func (m *Manager) awaitTerminal(ctx context.Context, attemptID string) types.DeliveryStatus {
	last := types.StatusUnknown
	deadline := time.Now().Add(m.opts.ConfirmTimeout)
	for time.Now().Before(deadline) {
		status, err := m.transport.Status(ctx, attemptID)
		if err != nil {
			slog.Debug("status poll failed", "attempt_id", attemptID, "error", err)
		} else {
			last = status
			if status.Terminal() {
				return status
			}
		}
		select {
		case <-ctx.Done():
			return last
		case <-time.After(m.opts.PollInterval):
		}
	}
	slog.Warn("delivery confirmation timed out", "attempt_id", attemptID, "last_status", string(last))
	return last
}

// Pace sleeps the inter-step delay for the given kind plus a small random
// jitter, so scripted sequences read at a human rhythm. Returns early if
// the context is cancelled.
func (m *Manager) Pace(ctx context.Context, kind Kind) {
	base := m.opts.TextDelay
	switch kind {
	case KindTemplate:
		base = m.opts.TemplateDelay
	case KindMedia:
		base = m.opts.MediaDelay
	}
	jitter := 200*time.Millisecond + time.Duration(rand.Int63n(int64(400*time.Millisecond)))
	select {
	case <-ctx.Done():
	case <-time.After(base + jitter):
	}
}
