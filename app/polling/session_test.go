package polling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/academiaparchada/ms-go-reconciler/app/backend"
	"github.com/academiaparchada/ms-go-reconciler/app/entity"
)

type scriptedFetcher struct {
	mu      sync.Mutex
	script  []string
	calls   int
	blockCh chan struct{}
}

func (f *scriptedFetcher) FetchStatus(_ context.Context, purchaseID string) (*entity.PurchaseStatus, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	block := f.blockCh
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	state := entity.PaymentStatePending
	if call < len(f.script) {
		state = f.script[call]
	}
	if state == "error" {
		return nil, backend.ErrStatusUnavailable
	}
	return &entity.PurchaseStatus{ID: purchaseID, PaymentState: state}, nil
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type sessionObserver struct {
	mu      sync.Mutex
	updates []*entity.PurchaseStatus
	stopped []string
}

func (o *sessionObserver) onUpdate(status *entity.PurchaseStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updates = append(o.updates, status)
}

func (o *sessionObserver) onStop(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped = append(o.stopped, reason)
}

func (o *sessionObserver) updateCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.updates)
}

func (o *sessionObserver) stopReasons() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string{}, o.stopped...)
}

func waitForDone(t *testing.T, session *Session) {
	t.Helper()
	select {
	case <-session.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop in time")
	}
}

func TestSessionStopsOnAttemptBudget(t *testing.T) {
	fetcher := &scriptedFetcher{}
	observer := &sessionObserver{}
	session := NewSession(fetcher, Config{Interval: 5 * time.Millisecond, MaxAttempts: 3}, "P-1", observer.onUpdate, observer.onStop)

	session.Start(context.Background())
	waitForDone(t, session)

	if got := fetcher.callCount(); got != 3 {
		t.Fatalf("expected exactly 3 fetch attempts, got %d", got)
	}
	if session.AttemptsUsed() != 3 {
		t.Fatalf("expected 3 attempts used, got %d", session.AttemptsUsed())
	}
	reasons := observer.stopReasons()
	if len(reasons) != 1 || reasons[0] != StopAttemptsExhausted {
		t.Fatalf("expected single attempts_exhausted stop, got %v", reasons)
	}

	// No attempt after exhaustion.
	time.Sleep(30 * time.Millisecond)
	if got := fetcher.callCount(); got != 3 {
		t.Fatalf("expected no polling after exhaustion, got %d attempts", got)
	}
}

func TestSessionStopsOnTerminalCompleted(t *testing.T) {
	fetcher := &scriptedFetcher{script: []string{entity.PaymentStatePending, entity.PaymentStateCompleted}}
	observer := &sessionObserver{}
	session := NewSession(fetcher, Config{Interval: 5 * time.Millisecond, MaxAttempts: 150}, "P-1", observer.onUpdate, observer.onStop)

	session.Start(context.Background())
	waitForDone(t, session)

	if observer.updateCount() != 2 {
		t.Fatalf("expected 2 updates, got %d", observer.updateCount())
	}
	reasons := observer.stopReasons()
	if len(reasons) != 1 || reasons[0] != StopTerminalCompleted {
		t.Fatalf("expected terminal_completed stop, got %v", reasons)
	}

	// No scheduled fetch after a terminal observation.
	settled := fetcher.callCount()
	time.Sleep(30 * time.Millisecond)
	if got := fetcher.callCount(); got != settled {
		t.Fatalf("fetches continued after terminal: %d -> %d", settled, got)
	}
}

func TestSessionStopsOnTerminalFailed(t *testing.T) {
	fetcher := &scriptedFetcher{script: []string{entity.PaymentStateFailed}}
	observer := &sessionObserver{}
	session := NewSession(fetcher, Config{Interval: 5 * time.Millisecond, MaxAttempts: 150}, "P-1", observer.onUpdate, observer.onStop)

	session.Start(context.Background())
	waitForDone(t, session)

	reasons := observer.stopReasons()
	if len(reasons) != 1 || reasons[0] != StopTerminalFailed {
		t.Fatalf("expected terminal_failed stop, got %v", reasons)
	}
}

func TestSessionTransientErrorKeepsPolling(t *testing.T) {
	fetcher := &scriptedFetcher{script: []string{"error", "error", entity.PaymentStateCompleted}}
	observer := &sessionObserver{}
	session := NewSession(fetcher, Config{Interval: 5 * time.Millisecond, MaxAttempts: 150}, "P-1", observer.onUpdate, observer.onStop)

	session.Start(context.Background())
	waitForDone(t, session)

	// Failed fetches produce no update; the completed one does.
	if observer.updateCount() != 1 {
		t.Fatalf("expected 1 update, got %d", observer.updateCount())
	}
	reasons := observer.stopReasons()
	if len(reasons) != 1 || reasons[0] != StopTerminalCompleted {
		t.Fatalf("expected terminal_completed stop, got %v", reasons)
	}
}

func TestSessionCancelDiscardsInFlightResult(t *testing.T) {
	block := make(chan struct{})
	fetcher := &scriptedFetcher{script: []string{entity.PaymentStateCompleted}, blockCh: block}
	observer := &sessionObserver{}
	session := NewSession(fetcher, Config{Interval: 5 * time.Millisecond, MaxAttempts: 150}, "P-1", observer.onUpdate, observer.onStop)

	session.Start(context.Background())

	// Wait for the first fetch to be in flight, then cancel under it.
	deadline := time.Now().Add(time.Second)
	for fetcher.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("fetch never started")
		}
		time.Sleep(time.Millisecond)
	}
	session.Cancel()
	close(block)

	waitForDone(t, session)
	time.Sleep(20 * time.Millisecond)

	if observer.updateCount() != 0 {
		t.Fatal("a result resolving after cancellation must be discarded")
	}
	reasons := observer.stopReasons()
	if len(reasons) != 1 || reasons[0] != StopCancelled {
		t.Fatalf("expected single cancelled stop, got %v", reasons)
	}
}

func TestSessionCancelIsIdempotent(t *testing.T) {
	fetcher := &scriptedFetcher{}
	observer := &sessionObserver{}
	session := NewSession(fetcher, Config{Interval: time.Hour, MaxAttempts: 150}, "P-1", observer.onUpdate, observer.onStop)

	// Cancel before the first tick, then again.
	session.Cancel()
	session.Cancel()
	session.Start(context.Background())
	session.Cancel()

	if session.Active() {
		t.Fatal("cancelled session must not be active")
	}
	if fetcher.callCount() != 0 {
		t.Fatalf("expected no fetches, got %d", fetcher.callCount())
	}
	reasons := observer.stopReasons()
	if len(reasons) != 1 || reasons[0] != StopCancelled {
		t.Fatalf("expected single cancelled stop, got %v", reasons)
	}
}

func TestSessionDefaults(t *testing.T) {
	session := NewSession(&scriptedFetcher{}, Config{}, "P-1", nil, nil)
	if session.interval != 2*time.Second {
		t.Fatalf("expected 2s default interval, got %s", session.interval)
	}
	if session.maxAttempts != 150 {
		t.Fatalf("expected 150 default attempts, got %d", session.maxAttempts)
	}
}
