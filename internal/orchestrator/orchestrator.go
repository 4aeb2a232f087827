// Package orchestrator drives the per-customer conversation state machine:
// first contact runs the onboarding sequence exactly once, later messages
// are matched against the catalog, and quiet conversations get a
// reengagement nudge.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/user/kasuwabot/internal/delivery"
	"github.com/user/kasuwabot/internal/gateway"
	"github.com/user/kasuwabot/internal/live"
	"github.com/user/kasuwabot/internal/match"
	"github.com/user/kasuwabot/internal/media"
	"github.com/user/kasuwabot/internal/normalize"
	"github.com/user/kasuwabot/internal/tenant"
	"github.com/user/kasuwabot/internal/types"
)

// Orchestrator processes runs dequeued from the gateway. One instance
// serves all tenants; the per-customer lane guarantees that at most one
// run per customer is in flight, so no additional locking is needed here.
type Orchestrator struct {
	tenants    *tenant.Registry
	normalizer *normalize.Normalizer
	engine     *match.Engine
	media      *media.Checker
	hub        *live.Hub

	// Optional collaborators; nil disables the corresponding path.
	transcriber types.Transcriber
	embedder    types.Embedder

	dormancyWindow time.Duration
}

// Options configures an Orchestrator.
type Options struct {
	Tenants        *tenant.Registry
	Normalizer     *normalize.Normalizer
	Engine         *match.Engine
	Media          *media.Checker
	Hub            *live.Hub
	Transcriber    types.Transcriber
	Embedder       types.Embedder
	DormancyWindow time.Duration
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.DormancyWindow <= 0 {
		opts.DormancyWindow = 24 * time.Hour
	}
	return &Orchestrator{
		tenants:        opts.Tenants,
		normalizer:     opts.Normalizer,
		engine:         opts.Engine,
		media:          opts.Media,
		hub:            opts.Hub,
		transcriber:    opts.Transcriber,
		embedder:       opts.Embedder,
		dormancyWindow: opts.DormancyWindow,
	}
}

// ProcessRun handles one inbound customer message end to end. It is wired
// into the gateway queue as the run processor.
func (o *Orchestrator) ProcessRun(run *gateway.Run) error {
	ctx := run.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	event := run.Event

	rt, err := o.tenants.Resolve(event.Tenant)
	if err != nil {
		return fmt.Errorf("resolve tenant: %w", err)
	}

	text, msgType := o.inboundContent(ctx, event)

	sess, created, err := rt.Sessions.CreateIfAbsent(ctx, event.From, event.AdSource)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}
	if created {
		slog.Info("new session", "tenant", rt.Key, "phone", event.From)
	}

	// Dormancy is judged against the last entry before this message lands.
	lastAt, err := rt.Sessions.LastEntryAt(ctx, event.From)
	if err != nil {
		return fmt.Errorf("last entry: %w", err)
	}
	dormant := sess.HasReceivedWelcome && !lastAt.IsZero() &&
		time.Since(lastAt) > o.dormancyWindow

	o.appendHistory(ctx, rt, event.From, &types.HistoryEntry{
		Sender:    types.SenderCustomer,
		Type:      msgType,
		Content:   text,
		Timestamp: event.At,
	})

	if !sess.HasReceivedWelcome {
		return o.runOnboarding(ctx, rt, event.From)
	}

	if dormant && rt.ReengageTemplateSID != "" {
		o.reengage(ctx, rt, event.From)
	}

	return o.answer(ctx, rt, event.From, text)
}

// inboundContent extracts the message text, transcribing the first voice
// attachment when a transcriber is configured.
func (o *Orchestrator) inboundContent(ctx context.Context, event *types.InboundEvent) (string, types.MessageType) {
	if event.Text != "" {
		return event.Text, types.MessageText
	}
	for _, m := range event.Media {
		switch {
		case strings.HasPrefix(m.ContentType, "audio/"):
			if o.transcriber == nil {
				return "", types.MessageAudio
			}
			transcript, err := o.transcriber.Transcribe(ctx, m.URL, m.ContentType)
			if err != nil {
				slog.Warn("transcription failed", "url", m.URL, "error", err)
				return "", types.MessageAudio
			}
			return transcript, types.MessageAudio
		case strings.HasPrefix(m.ContentType, "video/"):
			return "", types.MessageVideo
		case strings.HasPrefix(m.ContentType, "image/"):
			return "", types.MessageImage
		}
	}
	return "", types.MessageText
}

// runOnboarding sends the welcome template followed by the fixed step
// sequence. A failed step is logged and skipped; the sequence still
// completes and the session transitions to steady exactly once.
func (o *Orchestrator) runOnboarding(ctx context.Context, rt *tenant.Runtime, phone string) error {
	slog.Info("starting onboarding", "tenant", rt.Key, "phone", phone)

	if rt.WelcomeTemplateSID != "" {
		status, err := rt.Delivery.SendAndConfirm(ctx, &types.OutboundMessage{
			To:          phone,
			TemplateSID: rt.WelcomeTemplateSID,
		})
		if err != nil {
			slog.Error("welcome template failed", "phone", phone, "error", err)
		} else {
			slog.Debug("welcome template sent", "phone", phone, "status", string(status))
		}
		rt.Delivery.Pace(ctx, delivery.KindTemplate)
	}

	steps, err := rt.Catalog.OnboardingSequence(ctx)
	if err != nil {
		return fmt.Errorf("load onboarding sequence: %w", err)
	}

	for i, step := range steps {
		if err := o.sendStep(ctx, rt, phone, step); err != nil {
			slog.Error("onboarding step failed", "phone", phone, "step", i, "error", err)
			continue
		}
	}

	did, err := rt.Sessions.SetWelcomeSent(ctx, phone)
	if err != nil {
		return fmt.Errorf("mark welcome sent: %w", err)
	}
	if !did {
		// A concurrent duplicate already won; nothing more to do.
		slog.Warn("welcome already marked sent", "phone", phone)
	}
	return nil
}

// sendStep delivers one onboarding step with confirmation and pacing, and
// records it in history only when the send was accepted.
func (o *Orchestrator) sendStep(ctx context.Context, rt *tenant.Runtime, phone string, step *types.OnboardingStep) error {
	switch step.Type {
	case types.MessageText:
		if _, err := rt.Delivery.SendAndConfirm(ctx, &types.OutboundMessage{To: phone, Body: step.Content}); err != nil {
			return err
		}
		o.appendHistory(ctx, rt, phone, &types.HistoryEntry{
			Sender: types.SenderAI, Type: types.MessageText, Content: step.Content,
		})
		rt.Delivery.Pace(ctx, delivery.KindText)
		return nil

	case types.MessageAudio, types.MessageVideo, types.MessageImage:
		url, err := o.media.EnsureReachable(ctx, step.MediaURL, contentTypeFor(step.Type))
		if err != nil {
			return err
		}
		if _, err := rt.Delivery.SendAndConfirm(ctx, &types.OutboundMessage{To: phone, MediaURLs: []string{url}}); err != nil {
			return err
		}
		o.appendHistory(ctx, rt, phone, &types.HistoryEntry{
			Sender: types.SenderAI, Type: step.Type, Content: url,
		})
		rt.Delivery.Pace(ctx, delivery.KindMedia)
		return nil

	default:
		return fmt.Errorf("unknown onboarding step type %q", step.Type)
	}
}

// answer matches the normalized input against the catalog and replies with
// the matched answer, or the fixed fallback when nothing clears the bar.
func (o *Orchestrator) answer(ctx context.Context, rt *tenant.Runtime, phone, text string) error {
	normalized := o.normalizer.Normalize(text)
	if normalized == "" {
		// Unsupported media with no caption: recorded, not answered.
		return nil
	}

	catalog, err := rt.Catalog.ListCatalog(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	var embedding []float64
	if o.embedder != nil {
		embedding, err = o.embedder.Embed(ctx, normalized)
		if err != nil {
			slog.Warn("embedding failed, lexical only", "error", err)
			embedding = nil
		}
	}

	result := o.engine.Match(normalized, embedding, catalog)
	if result == nil {
		slog.Info("no catalog match", "tenant", rt.Key, "phone", phone, "input", normalized)
		return o.sendText(ctx, rt, phone, rt.FallbackReply)
	}
	slog.Info("catalog match", "tenant", rt.Key, "phone", phone,
		"entry_id", result.Entry.ID, "score", result.Score)

	if result.Entry.AnswerText != "" {
		if err := o.sendText(ctx, rt, phone, result.Entry.AnswerText); err != nil {
			slog.Error("answer text failed", "phone", phone, "error", err)
		}
	}
	if result.Entry.AnswerAudio != "" {
		url, err := o.media.EnsureReachable(ctx, result.Entry.AnswerAudio, "audio/mpeg")
		if err != nil {
			slog.Error("answer audio unreachable", "phone", phone, "error", err)
			return nil
		}
		if _, err := rt.Delivery.SendAndConfirm(ctx, &types.OutboundMessage{To: phone, MediaURLs: []string{url}}); err != nil {
			slog.Error("answer audio failed", "phone", phone, "error", err)
			return nil
		}
		o.appendHistory(ctx, rt, phone, &types.HistoryEntry{
			Sender: types.SenderAI, Type: types.MessageAudio, Content: url,
		})
		rt.Delivery.Pace(ctx, delivery.KindMedia)
	}
	return nil
}

func (o *Orchestrator) sendText(ctx context.Context, rt *tenant.Runtime, phone, body string) error {
	if body == "" {
		return nil
	}
	if _, err := rt.Delivery.SendAndConfirm(ctx, &types.OutboundMessage{To: phone, Body: body}); err != nil {
		return err
	}
	o.appendHistory(ctx, rt, phone, &types.HistoryEntry{
		Sender: types.SenderAI, Type: types.MessageText, Content: body,
	})
	rt.Delivery.Pace(ctx, delivery.KindText)
	return nil
}

// reengage fires the reengagement template best-effort and records the
// attempt so the dormancy sweep does not double up.
func (o *Orchestrator) reengage(ctx context.Context, rt *tenant.Runtime, phone string) {
	slog.Info("reengaging dormant customer", "tenant", rt.Key, "phone", phone)
	if _, err := rt.Delivery.Send(ctx, &types.OutboundMessage{To: phone, TemplateSID: rt.ReengageTemplateSID}); err != nil {
		slog.Error("reengagement template failed", "phone", phone, "error", err)
		return
	}
	if err := rt.Sessions.MarkReengaged(ctx, phone); err != nil {
		slog.Error("mark reengaged failed", "phone", phone, "error", err)
	}
	rt.Delivery.Pace(ctx, delivery.KindTemplate)
}

// appendHistory records an entry and publishes it to the live hub. Store
// failures are logged, not fatal: history is an audit trail, not a gate.
func (o *Orchestrator) appendHistory(ctx context.Context, rt *tenant.Runtime, phone string, entry *types.HistoryEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if err := rt.Sessions.AppendHistory(ctx, phone, entry); err != nil {
		slog.Error("append history failed", "tenant", rt.Key, "phone", phone, "error", err)
		return
	}
	if o.hub != nil {
		o.hub.Publish(live.Event{Tenant: rt.Key, Phone: phone, Entry: entry, At: time.Now()})
	}
}

func contentTypeFor(t types.MessageType) string {
	switch t {
	case types.MessageAudio:
		return "audio/mpeg"
	case types.MessageVideo:
		return "video/mp4"
	case types.MessageImage:
		return "image/jpeg"
	}
	return ""
}
