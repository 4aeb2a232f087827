package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/user/kasuwabot/internal/types"
)

// fakeTransport scripts per-attempt send errors and a sequence of statuses
// returned by successive polls.
type fakeTransport struct {
	mu         sync.Mutex
	sendErrs   []error
	sends      int
	statuses   []types.DeliveryStatus
	statusIdx  int
	lastSent   *types.OutboundMessage
	nextID     int
	statusErrs []error
}

func (f *fakeTransport) Send(ctx context.Context, msg *types.OutboundMessage) (*types.SendReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.sends
	f.sends++
	f.lastSent = msg
	if idx < len(f.sendErrs) && f.sendErrs[idx] != nil {
		return nil, f.sendErrs[idx]
	}
	f.nextID++
	return &types.SendReceipt{
		AttemptID: fmt.Sprintf("SM%04d", f.nextID),
		Status:    types.StatusQueued,
	}, nil
}

func (f *fakeTransport) Status(ctx context.Context, attemptID string) (types.DeliveryStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.statusIdx
	f.statusIdx++
	if idx < len(f.statusErrs) && f.statusErrs[idx] != nil {
		return types.StatusUnknown, f.statusErrs[idx]
	}
	if len(f.statuses) == 0 {
		return types.StatusDelivered, nil
	}
	if idx >= len(f.statuses) {
		return f.statuses[len(f.statuses)-1], nil
	}
	return f.statuses[idx], nil
}

func (f *fakeTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends
}

func testOptions() Options {
	return Options{
		MaxRetries:     2,
		BaseDelay:      time.Millisecond,
		ConfirmTimeout: 300 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
		TemplateDelay:  time.Millisecond,
		TextDelay:      time.Millisecond,
		MediaDelay:     time.Millisecond,
	}
}

func TestManagerSend_Success(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft, testOptions())

	receipt, err := m.Send(context.Background(), &types.OutboundMessage{To: "234803", Body: "sannu"})
	if err != nil {
		t.Fatal(err)
	}
	if receipt.AttemptID == "" {
		t.Error("expected attempt ID")
	}
	if ft.sendCount() != 1 {
		t.Errorf("expected 1 send, got %d", ft.sendCount())
	}
}

func TestManagerSend_RetriesTransient(t *testing.T) {
	ft := &fakeTransport{sendErrs: []error{errors.New("timeout"), errors.New("timeout")}}
	m := NewManager(ft, testOptions())

	receipt, err := m.Send(context.Background(), &types.OutboundMessage{To: "234803", Body: "sannu"})
	if err != nil {
		t.Fatal(err)
	}
	if receipt == nil {
		t.Fatal("expected receipt")
	}
	// 2 retries means the third attempt succeeds.
	if ft.sendCount() != 3 {
		t.Errorf("expected 3 sends, got %d", ft.sendCount())
	}
}

func TestManagerSend_ExhaustsRetries(t *testing.T) {
	ft := &fakeTransport{sendErrs: []error{
		errors.New("timeout"), errors.New("timeout"), errors.New("timeout"),
	}}
	m := NewManager(ft, testOptions())

	_, err := m.Send(context.Background(), &types.OutboundMessage{To: "234803", Body: "x"})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if ft.sendCount() != 3 {
		t.Errorf("expected 3 sends, got %d", ft.sendCount())
	}
}

func TestManagerSend_PermanentFailsFast(t *testing.T) {
	ft := &fakeTransport{sendErrs: []error{types.Permanent(errors.New("unregistered template"))}}
	m := NewManager(ft, testOptions())

	_, err := m.Send(context.Background(), &types.OutboundMessage{To: "234803", TemplateSID: "HXnope"})
	if err == nil {
		t.Fatal("expected error")
	}
	if ft.sendCount() != 1 {
		t.Errorf("expected no retries for permanent error, got %d sends", ft.sendCount())
	}
}

func TestManagerSendAndConfirm_WaitsForTerminal(t *testing.T) {
	ft := &fakeTransport{statuses: []types.DeliveryStatus{
		types.StatusQueued, types.StatusSending, types.StatusDelivered,
	}}
	m := NewManager(ft, testOptions())

	status, err := m.SendAndConfirm(context.Background(), &types.OutboundMessage{To: "234803", Body: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if status != types.StatusDelivered {
		t.Errorf("expected delivered, got %s", status)
	}
}

func TestManagerSendAndConfirm_TimeoutIsNotAnError(t *testing.T) {
	ft := &fakeTransport{statuses: []types.DeliveryStatus{types.StatusSending}}
	opts := testOptions()
	opts.ConfirmTimeout = 50 * time.Millisecond
	m := NewManager(ft, opts)

	status, err := m.SendAndConfirm(context.Background(), &types.OutboundMessage{To: "234803", Body: "x"})
	if err != nil {
		t.Fatalf("timeout should not be an error: %v", err)
	}
	if status != types.StatusSending {
		t.Errorf("expected last observed status, got %s", status)
	}
}

func TestManagerSendAndConfirm_FailedStatusIsAnError(t *testing.T) {
	ft := &fakeTransport{statuses: []types.DeliveryStatus{types.StatusFailed}}
	m := NewManager(ft, testOptions())

	status, err := m.SendAndConfirm(context.Background(), &types.OutboundMessage{To: "234803", Body: "x"})
	if err == nil {
		t.Fatal("expected error for provider-reported failure")
	}
	if status != types.StatusFailed {
		t.Errorf("expected failed status, got %s", status)
	}
}

func TestManagerSendAndConfirm_PollErrorsAreTolerated(t *testing.T) {
	ft := &fakeTransport{
		statusErrs: []error{errors.New("fetch failed")},
		statuses:   []types.DeliveryStatus{types.StatusUnknown, types.StatusDelivered},
	}
	m := NewManager(ft, testOptions())

	status, err := m.SendAndConfirm(context.Background(), &types.OutboundMessage{To: "234803", Body: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if status != types.StatusDelivered {
		t.Errorf("expected delivered after transient poll error, got %s", status)
	}
}

func TestManagerPace_RespectsCancellation(t *testing.T) {
	opts := testOptions()
	opts.MediaDelay = 10 * time.Second
	m := NewManager(&fakeTransport{}, opts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	m.Pace(ctx, KindMedia)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Pace ignored cancelled context, took %v", elapsed)
	}
}

func TestManagerSend_CancelledContext(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.Send(ctx, &types.OutboundMessage{To: "234803", Body: "x"}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if ft.sendCount() != 0 {
		t.Errorf("expected no sends on cancelled context, got %d", ft.sendCount())
	}
}
