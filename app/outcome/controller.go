package outcome

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/academiaparchada/ms-go-reconciler/app/entity"
	"github.com/academiaparchada/ms-go-reconciler/app/factory"
	"github.com/academiaparchada/ms-go-reconciler/app/polling"
)

// Display phases of an outcome page.
const (
	PhaseLoading    = "loading"
	PhasePolling    = "polling"
	PhaseCompleted  = "completed"
	PhaseFailed     = "failed"
	PhaseExhausted  = "exhausted"
	PhaseInputError = "input_error"
)

var (
	ErrPollingActive = errors.New("automatic polling is still active")
	ErrNoPurchase    = errors.New("no purchase to check")
)

// Redirect is the one-time replace-navigation the pending page performs
// on its first terminal observation.
type Redirect struct {
	Path    string
	Replace bool
}

// DisplayState is the user-facing narrative of an outcome page at a
// point in time.
type DisplayState struct {
	Page         string
	Phase        string
	Message      string
	Status       *entity.PurchaseStatus
	RetryPath    string
	Redirect     *Redirect
	AttemptsUsed int
	AutoChecksUp bool
}

type statusFetcher interface {
	FetchStatus(ctx context.Context, purchaseID string) (*entity.PurchaseStatus, error)
}

type conversionEmitter interface {
	EmitPurchaseIfNeeded(ctx context.Context, purchaseID string, status *entity.PurchaseStatus) (bool, error)
}

type eventRecorder interface {
	Create(ctx context.Context, event *entity.ReconcileEvent) error
}

// NopRecorder is wired when no event log backend is configured.
type NopRecorder struct{}

func (NopRecorder) Create(context.Context, *entity.ReconcileEvent) error { return nil }

// Controller runs the outcome state machine for a single page mount:
// Loading -> Polling -> Terminal{Completed|Failed} | Exhausted. The
// page-specific exit behavior comes from the PagePolicy.
type Controller struct {
	sessionID  string
	purchaseID string
	policy     PagePolicy
	fetcher    statusFetcher
	emitter    conversionEmitter
	recorder   eventRecorder
	pollCfg    polling.Config
	logger     logrus.FieldLogger

	mu         sync.Mutex
	state      DisplayState
	session    *polling.Session
	redirected bool
	closed     bool
}

func NewController(
	sessionID string,
	purchaseID string,
	policy PagePolicy,
	fetcher statusFetcher,
	emitter conversionEmitter,
	recorder eventRecorder,
	pollCfg polling.Config,
) *Controller {
	if recorder == nil {
		recorder = NopRecorder{}
	}

	return &Controller{
		sessionID:  sessionID,
		purchaseID: purchaseID,
		policy:     policy,
		fetcher:    fetcher,
		emitter:    emitter,
		recorder:   recorder,
		pollCfg:    pollCfg,
		logger: factory.NewModuleLogger("outcome-controller").
			WithField("session_id", sessionID).
			WithField("page", policy.Page),
		state: DisplayState{
			Page:  policy.Page,
			Phase: PhaseLoading,
		},
	}
}

// Mount performs the immediate status fetch and, when the result is not
// terminal, starts the polling session. The context must outlive the
// session; it is the lifetime of the service, not of an HTTP request.
func (c *Controller) Mount(ctx context.Context) {
	if c.purchaseID == "" {
		c.mu.Lock()
		c.state.Phase = PhaseInputError
		c.state.Message = "We couldn't find your purchase information."
		c.mu.Unlock()
		return
	}

	c.record(ctx, entity.EventSessionOpened, nil, nil, 0)

	c.mu.Lock()
	c.state.Phase = PhaseLoading
	c.state.Message = "Checking your payment..."
	c.mu.Unlock()

	status, err := c.fetcher.FetchStatus(ctx, c.purchaseID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if err == nil {
		c.observeLocked(ctx, status, 0)
		if status.Terminal() {
			return
		}
	}

	c.startPollingLocked(ctx)
}

// Unmount cancels the polling session and freezes the controller. Any
// fetch still in flight resolves without touching state.
func (c *Controller) Unmount(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	session := c.session
	c.session = nil
	c.mu.Unlock()

	if session != nil {
		session.Cancel()
	}
	c.record(ctx, entity.EventSessionCancelled, nil, nil, 0)
}

// CheckNow performs a single on-demand status fetch. It never restarts
// the automatic loop and refuses to run while one is still active.
func (c *Controller) CheckNow(ctx context.Context) error {
	c.mu.Lock()
	if c.purchaseID == "" || c.state.Phase == PhaseInputError {
		c.mu.Unlock()
		return ErrNoPurchase
	}
	if c.closed {
		c.mu.Unlock()
		return ErrNoPurchase
	}
	if c.session != nil && c.session.Active() {
		c.mu.Unlock()
		return ErrPollingActive
	}
	c.mu.Unlock()

	status, err := c.fetcher.FetchStatus(ctx, c.purchaseID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}

	if err != nil {
		c.state.Message = "We couldn't confirm your payment yet. Please try again in a moment."
		return nil
	}

	c.observeLocked(ctx, status, c.state.AttemptsUsed)
	return nil
}

// Snapshot returns a copy of the current display state.
func (c *Controller) Snapshot() DisplayState {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.state
	if c.state.Status != nil {
		statusCopy := *c.state.Status
		state.Status = &statusCopy
	}
	if c.state.Redirect != nil {
		redirectCopy := *c.state.Redirect
		state.Redirect = &redirectCopy
	}
	return state
}

func (c *Controller) PurchaseID() string {
	return c.purchaseID
}

// Finished reports whether the controller can no longer change state on
// its own (terminal, exhausted, input error, or unmounted).
func (c *Controller) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	switch c.state.Phase {
	case PhaseCompleted, PhaseFailed, PhaseExhausted, PhaseInputError:
		return c.session == nil || !c.session.Active()
	default:
		return false
	}
}

func (c *Controller) startPollingLocked(ctx context.Context) {
	var session *polling.Session
	session = polling.NewSession(
		c.fetcher,
		c.pollCfg,
		c.purchaseID,
		func(status *entity.PurchaseStatus) { c.onPollUpdate(ctx, session, status) },
		func(reason string) { c.onPollStop(ctx, session, reason) },
	)

	c.session = session
	c.state.Phase = PhasePolling
	c.state.Message = waitingMessage(c.state.Status)
	session.Start(ctx)
}

func (c *Controller) onPollUpdate(ctx context.Context, session *polling.Session, status *entity.PurchaseStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Guard against updates from a session that is no longer the
	// active one (unmount races with an in-flight fetch).
	if c.closed || c.session != session {
		return
	}

	c.state.AttemptsUsed = session.AttemptsUsed()
	c.observeLocked(ctx, status, c.state.AttemptsUsed)
}

func (c *Controller) onPollStop(ctx context.Context, session *polling.Session, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.session != session {
		return
	}
	c.state.AttemptsUsed = session.AttemptsUsed()

	if reason == polling.StopAttemptsExhausted {
		c.state.Phase = PhaseExhausted
		c.state.AutoChecksUp = true
		c.state.Message = "We couldn't confirm your payment yet. Your purchase may still be processing; use \"check now\" or contact support."
		c.record(ctx, entity.EventAttemptsExhausted, nil, nil, c.state.AttemptsUsed)
	}
}

// observeLocked applies one fetched status record. Caller holds c.mu.
func (c *Controller) observeLocked(ctx context.Context, status *entity.PurchaseStatus, attempt int) {
	var oldState *string
	if c.state.Status != nil {
		prev := c.state.Status.PaymentState
		oldState = &prev
	}

	alreadyTerminal := c.state.Phase == PhaseCompleted || c.state.Phase == PhaseFailed

	c.state.Status = status
	newState := status.PaymentState
	c.record(ctx, entity.EventStatusObserved, oldState, &newState, attempt)

	// Only the first terminal observation drives transitions; a
	// backend that flips afterwards is not re-acted upon. Re-running
	// the emitter is the one permitted repeat: a purchase observed
	// while the sink was unavailable was deliberately left unmarked.
	if alreadyTerminal {
		if c.state.Phase == PhaseCompleted && status.PaymentState == entity.PaymentStateCompleted && c.policy.OnCompleted == exitRender {
			c.emitLocked(ctx, status, attempt)
		}
		return
	}

	switch status.PaymentState {
	case entity.PaymentStateCompleted:
		c.applyCompletedLocked(ctx, status, attempt)
	case entity.PaymentStateFailed:
		c.applyFailedLocked(ctx, status, attempt)
	default:
		if c.state.Phase == PhasePolling || c.state.Phase == PhaseExhausted {
			c.state.Message = waitingMessage(status)
		}
	}
}

func (c *Controller) applyCompletedLocked(ctx context.Context, status *entity.PurchaseStatus, attempt int) {
	c.stopSessionLocked()
	c.state.Phase = PhaseCompleted
	c.record(ctx, entity.EventTerminalReached, nil, &status.PaymentState, attempt)

	if c.policy.OnCompleted == exitRedirect {
		c.decideRedirectLocked(ctx, PageSuccess)
		return
	}

	c.state.Message = "Your payment is confirmed. Thank you for your purchase!"
	c.emitLocked(ctx, status, attempt)
}

func (c *Controller) emitLocked(ctx context.Context, status *entity.PurchaseStatus, attempt int) {
	emitted, err := c.emitter.EmitPurchaseIfNeeded(ctx, c.purchaseID, status)
	if err != nil {
		c.logger.WithError(err).Warn("Conversion emission skipped")
		return
	}
	if emitted {
		c.record(ctx, entity.EventConversionEmitted, nil, nil, attempt)
	}
}

func (c *Controller) applyFailedLocked(ctx context.Context, status *entity.PurchaseStatus, attempt int) {
	c.stopSessionLocked()
	c.state.Phase = PhaseFailed
	c.record(ctx, entity.EventTerminalReached, nil, &status.PaymentState, attempt)

	if c.policy.OnFailed == exitRedirect {
		c.decideRedirectLocked(ctx, PageFailure)
		return
	}

	c.state.Message = failureMessage(status)
	c.state.RetryPath = entity.RetryPath(status.PurchaseKind)
}

func (c *Controller) decideRedirectLocked(ctx context.Context, page string) {
	if c.redirected {
		return
	}
	c.redirected = true

	c.state.Redirect = &Redirect{
		Path:    "/outcome/" + page + "?purchaseId=" + url.QueryEscape(c.purchaseID),
		Replace: true,
	}
	c.state.Message = "Taking you to your payment result..."
	c.record(ctx, entity.EventRedirectDecided, nil, nil, 0)
}

func (c *Controller) stopSessionLocked() {
	if c.session == nil {
		return
	}
	session := c.session
	c.session = nil

	// Cancel without holding the session's callbacks hostage; the
	// stale-session guard in onPollUpdate/onPollStop makes any late
	// callback a no-op.
	go session.Cancel()
}

func (c *Controller) record(ctx context.Context, eventType string, oldState, newState *string, attempt int) {
	_ = c.recorder.Create(ctx, &entity.ReconcileEvent{
		SessionID:  c.sessionID,
		PurchaseID: c.purchaseID,
		EventType:  eventType,
		OldState:   oldState,
		NewState:   newState,
		Attempt:    attempt,
		CreatedAt:  time.Now().UTC(),
	})
}

func waitingMessage(status *entity.PurchaseStatus) string {
	if status == nil || status.PaymentProvider == "" {
		return "We're confirming your payment..."
	}
	return "We're confirming your payment with " + entity.ProviderDisplayName(status.PaymentProvider) + "..."
}

func failureMessage(status *entity.PurchaseStatus) string {
	message := "Your payment could not be processed."
	if status != nil && status.ProviderDetail != nil {
		message += " " + *status.ProviderDetail
	}
	return message
}
