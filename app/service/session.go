package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/academiaparchada/ms-go-reconciler/app/entity"
	"github.com/academiaparchada/ms-go-reconciler/app/factory"
	"github.com/academiaparchada/ms-go-reconciler/app/outcome"
	"github.com/academiaparchada/ms-go-reconciler/app/polling"
)

type conversionEmitter interface {
	EmitPurchaseIfNeeded(ctx context.Context, purchaseID string, status *entity.PurchaseStatus) (bool, error)
}

type eventRecorder interface {
	Create(ctx context.Context, event *entity.ReconcileEvent) error
}

type sessionEntry struct {
	id         string
	controller *outcome.Controller
	createdAt  time.Time
	finishedAt *time.Time
}

// SessionManager owns the reconciliation sessions: one per page mount,
// created on open, torn down on close or after the retention window.
type SessionManager struct {
	fetcher   polling.StatusFetcher
	emitter   conversionEmitter
	recorder  eventRecorder
	pollCfg   polling.Config
	retention time.Duration
	logger    logrus.FieldLogger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

func NewSessionManager(
	fetcher polling.StatusFetcher,
	emitter conversionEmitter,
	recorder eventRecorder,
	pollCfg polling.Config,
	retention time.Duration,
) *SessionManager {
	if recorder == nil {
		recorder = outcome.NopRecorder{}
	}
	if retention <= 0 {
		retention = 30 * time.Minute
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())

	return &SessionManager{
		fetcher:    fetcher,
		emitter:    emitter,
		recorder:   recorder,
		pollCfg:    pollCfg,
		retention:  retention,
		logger:     factory.NewModuleLogger("session-manager"),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		sessions:   map[string]*sessionEntry{},
	}
}

// Open mounts a new outcome page session and returns its id plus the
// display state after the immediate status fetch. Polling, if started,
// continues in the background on the manager's own lifetime, not on the
// caller's request context.
func (m *SessionManager) Open(page, purchaseID string) (string, outcome.DisplayState, error) {
	policy, ok := outcome.PolicyFor(strings.ToLower(strings.TrimSpace(page)))
	if !ok {
		return "", outcome.DisplayState{}, ErrUnknownPage
	}

	sessionID := uuid.NewString()
	controller := outcome.NewController(
		sessionID,
		strings.TrimSpace(purchaseID),
		policy,
		m.fetcher,
		m.emitter,
		m.recorder,
		m.pollCfg,
	)

	m.mu.Lock()
	m.sessions[sessionID] = &sessionEntry{
		id:         sessionID,
		controller: controller,
		createdAt:  time.Now().UTC(),
	}
	m.mu.Unlock()

	controller.Mount(m.baseCtx)

	m.logger.WithFields(logrus.Fields{
		"session_id":  sessionID,
		"page":        policy.Page,
		"purchase_id": controller.PurchaseID(),
	}).Info("Session opened")

	return sessionID, controller.Snapshot(), nil
}

func (m *SessionManager) Get(sessionID string) (outcome.DisplayState, error) {
	entry, err := m.lookup(sessionID)
	if err != nil {
		return outcome.DisplayState{}, err
	}
	return entry.controller.Snapshot(), nil
}

// CheckNow runs a single manual status fetch for a session.
func (m *SessionManager) CheckNow(ctx context.Context, sessionID string) (outcome.DisplayState, error) {
	entry, err := m.lookup(sessionID)
	if err != nil {
		return outcome.DisplayState{}, err
	}
	if err := entry.controller.CheckNow(ctx); err != nil {
		return outcome.DisplayState{}, err
	}
	return entry.controller.Snapshot(), nil
}

// Close unmounts a session: the polling timer is cleared before any
// other teardown and late fetch results are discarded.
func (m *SessionManager) Close(sessionID string) error {
	m.mu.Lock()
	entry, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	entry.controller.Unmount(m.baseCtx)
	m.logger.WithField("session_id", sessionID).Info("Session closed")
	return nil
}

// Run sweeps finished sessions past the retention window until the
// context is cancelled.
func (m *SessionManager) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(time.Now().UTC())
		}
	}
}

// Shutdown cancels every live session.
func (m *SessionManager) Shutdown() {
	m.mu.Lock()
	entries := make([]*sessionEntry, 0, len(m.sessions))
	for _, entry := range m.sessions {
		entries = append(entries, entry)
	}
	m.sessions = map[string]*sessionEntry{}
	m.mu.Unlock()

	for _, entry := range entries {
		entry.controller.Unmount(m.baseCtx)
	}
	m.baseCancel()
}

func (m *SessionManager) lookup(sessionID string) (*sessionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry, nil
}

func (m *SessionManager) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, entry := range m.sessions {
		if entry.finishedAt == nil && entry.controller.Finished() {
			finished := now
			entry.finishedAt = &finished
			continue
		}
		if entry.finishedAt != nil && now.Sub(*entry.finishedAt) >= m.retention {
			delete(m.sessions, id)
			m.logger.WithField("session_id", id).Debug("Session evicted")
		}
	}
}
