package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/kasuwabot/internal/types"
)

func TestQueueConcurrency(t *testing.T) {
	queue := NewQueue(2)
	ctx := context.Background()
	queue.Start(ctx)
	defer queue.Stop()

	var running int32
	var maxSeen int32

	queue.processor = func(run *Run) error {
		current := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if current <= old || atomic.CompareAndSwapInt32(&maxSeen, old, current) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	}

	for i := 0; i < 5; i++ {
		run := &Run{
			ID:     types.NewRunID(),
			Key:    types.NewSessionKey("default", fmt.Sprintf("phone-%d", i)),
			Status: RunStatusQueued,
		}
		if err := queue.Enqueue(run); err != nil {
			t.Fatal(err)
		}
	}

	time.Sleep(500 * time.Millisecond)

	if m := atomic.LoadInt32(&maxSeen); m > 2 {
		t.Errorf("expected max 2 concurrent, saw %d", m)
	}
}

func TestQueueProcessorCalled(t *testing.T) {
	queue := NewQueue(1)
	ctx := context.Background()
	queue.Start(ctx)
	defer queue.Stop()

	var processed int32

	queue.SetProcessor(func(run *Run) error {
		atomic.AddInt32(&processed, 1)
		return nil
	})

	run := NewRun(&types.InboundEvent{Tenant: "default", From: "234803", Text: "sannu"})
	if err := queue.Enqueue(run); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)

	if atomic.LoadInt32(&processed) != 1 {
		t.Errorf("expected 1 processed run, got %d", processed)
	}
}

func TestQueueSameCustomerOrdering(t *testing.T) {
	queue := NewQueue(4)
	ctx := context.Background()
	queue.Start(ctx)
	defer queue.Stop()

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})

	queue.SetProcessor(func(run *Run) error {
		mu.Lock()
		order = append(order, run.Event.Text)
		n := len(order)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
		return nil
	})

	for i := 0; i < 3; i++ {
		run := NewRun(&types.InboundEvent{
			Tenant: "default",
			From:   "same-phone",
			Text:   fmt.Sprintf("msg-%d", i),
		})
		if err := queue.Enqueue(run); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for runs to process")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if want := fmt.Sprintf("msg-%d", i); v != want {
			t.Errorf("expected order[%d] = %s, got %s", i, want, v)
		}
	}
}

func TestQueueNoProcessor(t *testing.T) {
	queue := NewQueue(1)
	ctx := context.Background()
	queue.Start(ctx)
	defer queue.Stop()

	// Enqueue without setting a processor -- should not panic
	run := NewRun(&types.InboundEvent{Tenant: "default", From: "no-proc"})
	if err := queue.Enqueue(run); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
}

func TestQueueRunStatusTransitions(t *testing.T) {
	queue := NewQueue(1)
	ctx := context.Background()
	queue.Start(ctx)
	defer queue.Stop()

	done := make(chan *Run, 2)
	queue.SetProcessor(func(run *Run) error {
		defer func() { done <- run }()
		if run.Event.Text == "fail" {
			return fmt.Errorf("boom")
		}
		return nil
	})

	ok := NewRun(&types.InboundEvent{Tenant: "default", From: "a", Text: "ok"})
	bad := NewRun(&types.InboundEvent{Tenant: "default", From: "a", Text: "fail"})
	if err := queue.Enqueue(ok); err != nil {
		t.Fatal(err)
	}
	if err := queue.Enqueue(bad); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out")
		}
	}
	if !queue.WaitIdle(2 * time.Second) {
		t.Fatal("queue did not go idle")
	}

	if ok.Status != RunStatusComplete {
		t.Errorf("expected complete, got %s", ok.Status)
	}
	if bad.Status != RunStatusFailed || bad.Error == nil {
		t.Errorf("expected failed with error, got %s %v", bad.Status, bad.Error)
	}
}

func TestQueueWaitIdleCoversQueuedRuns(t *testing.T) {
	queue := NewQueue(1)
	ctx := context.Background()
	queue.Start(ctx)
	defer queue.Stop()

	var processed int32
	queue.SetProcessor(func(run *Run) error {
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&processed, 1)
		return nil
	})

	// WaitIdle called right after Enqueue must not report idle before the
	// buffered runs have been dequeued and processed.
	for i := 0; i < 5; i++ {
		run := NewRun(&types.InboundEvent{Tenant: "default", From: "same-phone", Text: fmt.Sprintf("msg-%d", i)})
		if err := queue.Enqueue(run); err != nil {
			t.Fatal(err)
		}
	}
	if !queue.WaitIdle(2 * time.Second) {
		t.Fatal("queue did not go idle")
	}

	if got := atomic.LoadInt32(&processed); got != 5 {
		t.Errorf("expected all 5 runs processed before idle, got %d", got)
	}
}
