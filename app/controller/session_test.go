package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/academiaparchada/ms-go-reconciler/app/entity"
	"github.com/academiaparchada/ms-go-reconciler/app/polling"
	"github.com/academiaparchada/ms-go-reconciler/app/service"
	"github.com/academiaparchada/ms-go-reconciler/app/types"
)

type controllerFetcher struct {
	mu    sync.Mutex
	state string
}

func (f *controllerFetcher) FetchStatus(_ context.Context, purchaseID string) (*entity.PurchaseStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &entity.PurchaseStatus{
		ID:              purchaseID,
		PaymentState:    f.state,
		PaymentProvider: entity.ProviderWompi,
		TotalAmount:     150000,
		AmountKnown:     true,
	}, nil
}

func (f *controllerFetcher) setState(state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
}

type controllerEmitter struct {
	mu    sync.Mutex
	calls int
}

func (e *controllerEmitter) EmitPurchaseIfNeeded(_ context.Context, _ string, status *entity.PurchaseStatus) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if status.PaymentState != entity.PaymentStateCompleted {
		return false, nil
	}
	e.calls++
	return true, nil
}

func newTestController(t *testing.T, fetcher *controllerFetcher) (*SessionController, *service.SessionManager) {
	t.Helper()
	manager := service.NewSessionManager(
		fetcher,
		&controllerEmitter{},
		nil,
		polling.Config{Interval: time.Hour, MaxAttempts: 150},
		time.Minute,
	)
	t.Cleanup(manager.Shutdown)
	return NewSessionController(manager), manager
}

func doRequest(t *testing.T, handler echo.HandlerFunc, method, target, body string, pathParams map[string]string) (*httptest.ResponseRecorder, echo.Context) {
	t.Helper()
	e := echo.New()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	for name, value := range pathParams {
		ctx.SetParamNames(name)
		ctx.SetParamValues(value)
	}
	if err := handler(ctx); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	return rec, ctx
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) *types.SessionEnvelopeResponse {
	t.Helper()
	var envelope types.SessionEnvelopeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return &envelope
}

func TestHealth(t *testing.T) {
	controller, _ := newTestController(t, &controllerFetcher{state: entity.PaymentStateCompleted})

	rec, _ := doRequest(t, controller.Health, "GET", "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestOpenSessionReturnsCreatedWithState(t *testing.T) {
	controller, _ := newTestController(t, &controllerFetcher{state: entity.PaymentStateCompleted})

	rec, _ := doRequest(t, controller.OpenSession, "POST", "/sessions", `{"page":"success","purchaseId":"P-200"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	envelope := decodeEnvelope(t, rec)
	if envelope.SessionID == "" {
		t.Fatal("expected a session id")
	}
	if envelope.State == nil || envelope.State.Phase != "completed" {
		t.Fatalf("unexpected state %+v", envelope.State)
	}
	if envelope.State.Status == nil || envelope.State.Status.ProviderDisplayName != "Wompi" {
		t.Fatalf("expected provider display name, got %+v", envelope.State.Status)
	}
	if envelope.State.Status.TotalAmount == nil || *envelope.State.Status.TotalAmount != 150000 {
		t.Fatalf("expected total amount, got %+v", envelope.State.Status)
	}
}

func TestOpenSessionWithoutPurchaseID(t *testing.T) {
	controller, _ := newTestController(t, &controllerFetcher{state: entity.PaymentStateCompleted})

	rec, _ := doRequest(t, controller.OpenSession, "POST", "/sessions", `{"page":"success"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	envelope := decodeEnvelope(t, rec)
	if envelope.State == nil || envelope.State.Phase != "input_error" {
		t.Fatalf("expected input_error state, got %+v", envelope.State)
	}
}

func TestOpenSessionRejectsUnknownPage(t *testing.T) {
	controller, _ := newTestController(t, &controllerFetcher{state: entity.PaymentStateCompleted})

	rec, _ := doRequest(t, controller.OpenSession, "POST", "/sessions", `{"page":"checkout","purchaseId":"P-1"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestOpenSessionRejectsMissingPage(t *testing.T) {
	controller, _ := newTestController(t, &controllerFetcher{state: entity.PaymentStateCompleted})

	rec, _ := doRequest(t, controller.OpenSession, "POST", "/sessions", `{"purchaseId":"P-1"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	controller, _ := newTestController(t, &controllerFetcher{state: entity.PaymentStatePending})

	rec, _ := doRequest(t, controller.GetSession, "GET", "/sessions/nope", "", map[string]string{"id": "nope"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetSessionReturnsCurrentState(t *testing.T) {
	controller, manager := newTestController(t, &controllerFetcher{state: entity.PaymentStatePending})

	sessionID, _, err := manager.Open("pending", "P-1")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	rec, _ := doRequest(t, controller.GetSession, "GET", "/sessions/"+sessionID, "", map[string]string{"id": sessionID})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	envelope := decodeEnvelope(t, rec)
	if envelope.State == nil || envelope.State.Phase != "polling" {
		t.Fatalf("expected polling state, got %+v", envelope.State)
	}
}

func TestCheckNowConflictsWhilePolling(t *testing.T) {
	controller, manager := newTestController(t, &controllerFetcher{state: entity.PaymentStatePending})

	sessionID, _, err := manager.Open("success", "P-1")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	rec, _ := doRequest(t, controller.CheckNow, "POST", "/sessions/"+sessionID+"/check", "", map[string]string{"id": sessionID})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCheckNowRejectsSessionWithoutPurchase(t *testing.T) {
	controller, manager := newTestController(t, &controllerFetcher{state: entity.PaymentStatePending})

	sessionID, _, err := manager.Open("success", "")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	rec, _ := doRequest(t, controller.CheckNow, "POST", "/sessions/"+sessionID+"/check", "", map[string]string{"id": sessionID})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

type fakeEventLister struct {
	events []*entity.ReconcileEvent
	err    error
}

func (l *fakeEventLister) ListBySession(_ context.Context, _ string, _ int32) ([]*entity.ReconcileEvent, error) {
	return l.events, l.err
}

func TestListSessionEvents(t *testing.T) {
	newState := entity.PaymentStateCompleted
	lister := &fakeEventLister{
		events: []*entity.ReconcileEvent{
			{
				ID:         1,
				SessionID:  "sess-1",
				PurchaseID: "P-1",
				EventType:  entity.EventSessionOpened,
				CreatedAt:  time.Now().UTC(),
			},
			{
				ID:         2,
				SessionID:  "sess-1",
				PurchaseID: "P-1",
				EventType:  entity.EventTerminalReached,
				NewState:   &newState,
				Attempt:    3,
				CreatedAt:  time.Now().UTC(),
			},
		},
	}
	controller := NewEventController(lister)

	rec, _ := doRequest(t, controller.ListSessionEvents, "GET", "/sessions/sess-1/events", "", map[string]string{"id": "sess-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp types.SessionEventsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(resp.Events))
	}
	if resp.Events[1].EventType != entity.EventTerminalReached || resp.Events[1].Attempt != 3 {
		t.Fatalf("unexpected event %+v", resp.Events[1])
	}
	if resp.Events[1].NewState == nil || *resp.Events[1].NewState != entity.PaymentStateCompleted {
		t.Fatalf("expected new state carried over, got %+v", resp.Events[1])
	}
}

func TestListSessionEventsRequiresID(t *testing.T) {
	controller := NewEventController(&fakeEventLister{})

	rec, _ := doRequest(t, controller.ListSessionEvents, "GET", "/sessions//events", "", map[string]string{"id": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCloseSession(t *testing.T) {
	fetcher := &controllerFetcher{state: entity.PaymentStatePending}
	controller, manager := newTestController(t, fetcher)

	sessionID, _, err := manager.Open("success", "P-1")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	rec, _ := doRequest(t, controller.CloseSession, "DELETE", "/sessions/"+sessionID, "", map[string]string{"id": sessionID})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec, _ = doRequest(t, controller.CloseSession, "DELETE", "/sessions/"+sessionID, "", map[string]string{"id": sessionID})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second close, got %d", rec.Code)
	}
}
