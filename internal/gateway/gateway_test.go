package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/user/kasuwabot/internal/types"
)

func TestGatewayHandleInbound(t *testing.T) {
	gw := New(2)
	ctx := context.Background()
	gw.Start(ctx)
	defer gw.Stop()

	got := make(chan *Run, 1)
	gw.Queue.SetProcessor(func(run *Run) error {
		got <- run
		return nil
	})

	event := &types.InboundEvent{
		Tenant: "default",
		From:   "2348031112222",
		Text:   "nawa ne",
		At:     time.Now(),
	}
	if err := gw.HandleInbound(ctx, event); err != nil {
		t.Fatal(err)
	}

	select {
	case run := <-got:
		if run.Key != types.NewSessionKey("default", "2348031112222") {
			t.Errorf("unexpected run key %s", run.Key)
		}
		if run.Event.Text != "nawa ne" {
			t.Errorf("unexpected event text %q", run.Event.Text)
		}
		if run.ID == "" {
			t.Error("expected run ID assigned")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for run")
	}
}

func TestGatewayTenantsGetSeparateLanes(t *testing.T) {
	gw := New(4)
	ctx := context.Background()
	gw.Start(ctx)
	defer gw.Stop()

	keys := make(chan types.SessionKey, 2)
	gw.Queue.SetProcessor(func(run *Run) error {
		keys <- run.Key
		return nil
	})

	// Same phone under two tenants must not share a lane.
	for _, tenant := range []string{"alpha", "beta"} {
		err := gw.HandleInbound(ctx, &types.InboundEvent{Tenant: tenant, From: "234803"})
		if err != nil {
			t.Fatal(err)
		}
	}

	seen := map[types.SessionKey]bool{}
	for i := 0; i < 2; i++ {
		select {
		case k := <-keys:
			seen[k] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out")
		}
	}
	if len(seen) != 2 {
		t.Errorf("expected 2 distinct keys, got %v", seen)
	}
}
