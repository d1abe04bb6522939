package conversion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/academiaparchada/ms-go-reconciler/app/entity"
	"github.com/academiaparchada/ms-go-reconciler/app/factory"
)

var ErrNotCompleted = errors.New("purchase is not completed")

// PurchaseEvent is the single conversion event shape sent to the
// analytics collector.
type PurchaseEvent struct {
	Event    string   `json:"event"`
	Currency string   `json:"currency"`
	Value    *float64 `json:"value,omitempty"`
}

// Sink is the analytics collaborator. Ready reports whether the sink is
// initialized; an unready sink must not count as an emission.
type Sink interface {
	Ready() bool
	EmitPurchase(ctx context.Context, event PurchaseEvent) error
}

type HTTPSinkConfig struct {
	CollectorURL string
	HTTPTimeout  time.Duration
}

type HTTPSink struct {
	collectorURL string
	client       *http.Client
}

func NewHTTPSink(cfg HTTPSinkConfig) *HTTPSink {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &HTTPSink{
		collectorURL: strings.TrimSpace(cfg.CollectorURL),
		client:       &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSink) Ready() bool {
	return s.collectorURL != ""
}

func (s *HTTPSink) EmitPurchase(ctx context.Context, event PurchaseEvent) error {
	body, err := json.Marshal(&event)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.collectorURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("analytics collector returned status=%d", resp.StatusCode)
	}

	return nil
}

// Emitter emits at most one Purchase conversion event per purchase id,
// guarded by the dedup store.
type Emitter struct {
	store    DedupStore
	sink     Sink
	currency string
	logger   logrus.FieldLogger
}

func NewEmitter(store DedupStore, sink Sink, currency string) *Emitter {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "COP"
	}

	return &Emitter{
		store:    store,
		sink:     sink,
		currency: currency,
		logger:   factory.NewModuleLogger("conversion-emitter"),
	}
}

// EmitPurchaseIfNeeded emits a Purchase event for a completed purchase
// unless one was already sent, and reports whether an event went out on
// this call. An unready sink leaves the purchase unmarked so a later
// observation can still emit. Sink failures are logged and swallowed;
// they do not mark the purchase either.
func (e *Emitter) EmitPurchaseIfNeeded(ctx context.Context, purchaseID string, status *entity.PurchaseStatus) (bool, error) {
	if status == nil || status.PaymentState != entity.PaymentStateCompleted {
		return false, ErrNotCompleted
	}

	fired, err := e.store.HasFired(ctx, purchaseID)
	if err != nil {
		e.logger.WithError(err).WithField("purchase_id", purchaseID).Warn("Dedup store read failed, skipping emission")
		return false, nil
	}
	if fired {
		return false, nil
	}

	if e.sink == nil || !e.sink.Ready() {
		e.logger.WithField("purchase_id", purchaseID).Debug("Analytics sink not ready, conversion left unmarked")
		return false, nil
	}

	event := PurchaseEvent{
		Event:    "Purchase",
		Currency: e.currency,
	}
	if status.AmountKnown && !math.IsNaN(status.TotalAmount) && !math.IsInf(status.TotalAmount, 0) {
		value := status.TotalAmount
		event.Value = &value
	}

	if err := e.sink.EmitPurchase(ctx, event); err != nil {
		e.logger.WithError(err).WithField("purchase_id", purchaseID).Warn("Conversion emission failed")
		return false, nil
	}

	if err := e.store.MarkFired(ctx, purchaseID); err != nil {
		e.logger.WithError(err).WithField("purchase_id", purchaseID).Warn("Failed to mark conversion as sent")
	}

	return true, nil
}
