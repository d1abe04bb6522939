package polling

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/academiaparchada/ms-go-reconciler/app/entity"
	"github.com/academiaparchada/ms-go-reconciler/app/factory"
)

// Stop reasons reported to the owner of a session.
const (
	StopTerminalCompleted = "terminal_completed"
	StopTerminalFailed    = "terminal_failed"
	StopAttemptsExhausted = "attempts_exhausted"
	StopCancelled         = "cancelled"
)

type StatusFetcher interface {
	FetchStatus(ctx context.Context, purchaseID string) (*entity.PurchaseStatus, error)
}

type Config struct {
	Interval    time.Duration
	MaxAttempts int
}

type UpdateFunc func(status *entity.PurchaseStatus)

type StopFunc func(reason string)

// Session drives a bounded, fixed-interval polling loop against the
// status client. At most one fetch is in flight at any time; ticks that
// land while a fetch is pending are dropped, not queued. Once a terminal
// state is observed, the budget runs out, or the session is cancelled,
// no further fetch is scheduled and late results are discarded.
type Session struct {
	fetcher     StatusFetcher
	purchaseID  string
	interval    time.Duration
	maxAttempts int
	onUpdate    UpdateFunc
	onStop      StopFunc
	logger      logrus.FieldLogger

	mu           sync.Mutex
	active       bool
	started      bool
	attemptsUsed int
	cancelRun    context.CancelFunc

	done chan struct{}
}

func NewSession(fetcher StatusFetcher, cfg Config, purchaseID string, onUpdate UpdateFunc, onStop StopFunc) *Session {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 150
	}

	return &Session{
		fetcher:     fetcher,
		purchaseID:  purchaseID,
		interval:    interval,
		maxAttempts: maxAttempts,
		onUpdate:    onUpdate,
		onStop:      onStop,
		logger:      factory.NewModuleLogger("polling-session").WithField("purchase_id", purchaseID),
		active:      true,
		done:        make(chan struct{}),
	}
}

// Start launches the polling loop. Starting an already started or
// already cancelled session is a no-op.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || !s.active {
		s.mu.Unlock()
		return
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel
	s.mu.Unlock()

	go s.run(runCtx)
}

// Cancel stops the session. Safe to call at any point, any number of
// times; a fetch already in flight resolves into the void.
func (s *Session) Cancel() {
	s.stop(StopCancelled)
}

func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) AttemptsUsed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attemptsUsed
}

// Done is closed once the session has stopped for any reason.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stop(StopCancelled)
			return
		case <-ticker.C:
		}

		if !s.Active() {
			return
		}

		attempt := s.nextAttempt()
		status, err := s.fetcher.FetchStatus(ctx, s.purchaseID)

		// The session may have been cancelled while the fetch was in
		// flight; a late result must not leak out.
		if !s.Active() {
			return
		}

		if err != nil {
			s.logger.WithError(err).WithField("attempt", attempt).Debug("Status fetch failed, will retry")
		} else {
			s.onUpdate(status)
			switch status.PaymentState {
			case entity.PaymentStateCompleted:
				s.stop(StopTerminalCompleted)
				return
			case entity.PaymentStateFailed:
				s.stop(StopTerminalFailed)
				return
			}
		}

		if attempt >= s.maxAttempts {
			s.stop(StopAttemptsExhausted)
			return
		}

		// Drop a tick that queued up behind a slow fetch.
		select {
		case <-ticker.C:
		default:
		}
	}
}

func (s *Session) nextAttempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attemptsUsed++
	return s.attemptsUsed
}

func (s *Session) stop(reason string) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	cancel := s.cancelRun
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	close(s.done)

	s.logger.WithField("reason", reason).WithField("attempts_used", s.AttemptsUsed()).Info("Polling session stopped")
	if s.onStop != nil {
		s.onStop(reason)
	}
}
