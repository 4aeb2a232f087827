// internal/scheduler/scheduler_test.go
package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/user/kasuwabot/internal/delivery"
	"github.com/user/kasuwabot/internal/state"
	"github.com/user/kasuwabot/internal/tenant"
	"github.com/user/kasuwabot/internal/types"
)

type countingTransport struct {
	mu   sync.Mutex
	sent []*types.OutboundMessage
}

func (c *countingTransport) Send(ctx context.Context, msg *types.OutboundMessage) (*types.SendReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := *msg
	c.sent = append(c.sent, &copied)
	return &types.SendReceipt{AttemptID: fmt.Sprintf("SM%d", len(c.sent)), Status: types.StatusQueued}, nil
}

func (c *countingTransport) Status(ctx context.Context, attemptID string) (types.DeliveryStatus, error) {
	return types.StatusDelivered, nil
}

func (c *countingTransport) messages() []*types.OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.OutboundMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

func newSweepEnv(t *testing.T, reengageSID string) (*Scheduler, *state.SessionStore, *countingTransport) {
	t.Helper()

	sessions, err := state.NewSessionStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sessions.Close() })

	transport := &countingTransport{}
	mgr := delivery.NewManager(transport, delivery.Options{
		MaxRetries: 1, BaseDelay: time.Millisecond,
		ConfirmTimeout: 50 * time.Millisecond, PollInterval: 5 * time.Millisecond,
	})

	registry := tenant.NewRegistry()
	err = registry.Register(&tenant.Runtime{
		Key:                 tenant.DefaultTenant,
		Sessions:            sessions,
		Delivery:            mgr,
		ReengageTemplateSID: reengageSID,
	})
	if err != nil {
		t.Fatal(err)
	}

	return New(registry, 24*time.Hour, ""), sessions, transport
}

func seedSession(t *testing.T, sessions *state.SessionStore, phone string, welcomed bool, lastMsg time.Time) {
	t.Helper()
	ctx := context.Background()
	if _, _, err := sessions.CreateIfAbsent(ctx, phone, nil); err != nil {
		t.Fatal(err)
	}
	if welcomed {
		if _, err := sessions.SetWelcomeSent(ctx, phone); err != nil {
			t.Fatal(err)
		}
	}
	err := sessions.AppendHistory(ctx, phone, &types.HistoryEntry{
		Sender: types.SenderCustomer, Type: types.MessageText, Content: "x", Timestamp: lastMsg,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSweep_ReengagesDormantOnly(t *testing.T) {
	sched, sessions, transport := newSweepEnv(t, "HXreengage")

	seedSession(t, sessions, "dormant", true, time.Now().Add(-48*time.Hour))
	seedSession(t, sessions, "active", true, time.Now().Add(-time.Hour))
	seedSession(t, sessions, "unwelcomed", false, time.Now().Add(-48*time.Hour))

	sched.Sweep()

	msgs := transport.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 reengagement send, got %d", len(msgs))
	}
	if msgs[0].To != "dormant" || msgs[0].TemplateSID != "HXreengage" {
		t.Errorf("unexpected send %+v", msgs[0])
	}

	sess, err := sessions.Get(context.Background(), "dormant")
	if err != nil {
		t.Fatal(err)
	}
	if sess.LastReengagedAt == nil {
		t.Error("expected reengagement recorded")
	}
}

func TestSweep_AtMostOncePerWindow(t *testing.T) {
	sched, sessions, transport := newSweepEnv(t, "HXreengage")

	seedSession(t, sessions, "dormant", true, time.Now().Add(-48*time.Hour))

	sched.Sweep()
	sched.Sweep()

	if got := len(transport.messages()); got != 1 {
		t.Errorf("expected a single reengagement across sweeps, got %d", got)
	}
}

func TestSweep_NoTemplateConfigured(t *testing.T) {
	sched, sessions, transport := newSweepEnv(t, "")

	seedSession(t, sessions, "dormant", true, time.Now().Add(-48*time.Hour))

	sched.Sweep()

	if got := len(transport.messages()); got != 0 {
		t.Errorf("expected no sends without a template, got %d", got)
	}
}

func TestStart_EmptyScheduleIsNoop(t *testing.T) {
	sched, _, _ := newSweepEnv(t, "HXreengage")
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	sched.Stop()
}

func TestStart_InvalidSchedule(t *testing.T) {
	registry := tenant.NewRegistry()
	sched := New(registry, 24*time.Hour, "not a schedule")
	if err := sched.Start(); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}
