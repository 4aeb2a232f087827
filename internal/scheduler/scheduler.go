// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/kasuwabot/internal/tenant"
	"github.com/user/kasuwabot/internal/types"
)

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler runs the proactive dormancy sweep: on each tick it scans every
// tenant for welcomed sessions that have gone quiet past the window and
// fires the tenant's reengagement template at most once per dormancy.
type Scheduler struct {
	tenants  *tenant.Registry
	window   time.Duration
	schedule string
	cron     *cron.Cron
}

// New creates a Scheduler. An empty schedule disables the sweep.
func New(tenants *tenant.Registry, window time.Duration, schedule string) *Scheduler {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Scheduler{
		tenants:  tenants,
		window:   window,
		schedule: schedule,
		cron:     cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers the sweep and starts the cron ticker. A scheduler with no
// schedule starts nothing and is a no-op.
func (s *Scheduler) Start() error {
	if s.schedule == "" {
		slog.Info("dormancy sweep disabled, no schedule configured")
		return nil
	}
	if _, err := s.cron.AddFunc(s.schedule, s.Sweep); err != nil {
		return err
	}
	slog.Info("dormancy sweep scheduled", "schedule", s.schedule, "window", s.window)
	s.cron.Start()
	return nil
}

// Stop stops the cron ticker.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// Sweep runs one pass over all tenants. Exported so the CLI can trigger it
// manually.
func (s *Scheduler) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-s.window)
	for _, key := range s.tenants.Keys() {
		rt, err := s.tenants.Resolve(key)
		if err != nil {
			continue
		}
		s.sweepTenant(ctx, rt, cutoff)
	}
}

func (s *Scheduler) sweepTenant(ctx context.Context, rt *tenant.Runtime, cutoff time.Time) {
	if rt.ReengageTemplateSID == "" {
		return
	}
	phones, err := rt.Sessions.Dormant(ctx, cutoff)
	if err != nil {
		slog.Error("dormancy scan failed", "tenant", rt.Key, "error", err)
		return
	}
	if len(phones) == 0 {
		return
	}
	slog.Info("dormancy sweep", "tenant", rt.Key, "dormant", len(phones))

	for _, phone := range phones {
		if _, err := rt.Delivery.Send(ctx, &types.OutboundMessage{
			To:          phone,
			TemplateSID: rt.ReengageTemplateSID,
		}); err != nil {
			slog.Error("reengagement template failed", "tenant", rt.Key, "phone", phone, "error", err)
			continue
		}
		if err := rt.Sessions.MarkReengaged(ctx, phone); err != nil {
			slog.Error("mark reengaged failed", "tenant", rt.Key, "phone", phone, "error", err)
		}
	}
}
