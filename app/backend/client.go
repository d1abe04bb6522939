package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/academiaparchada/ms-go-reconciler/app/entity"
)

var (
	// ErrMissingPurchaseID means the caller never had an id to check;
	// no request is attempted.
	ErrMissingPurchaseID = errors.New("purchase id is missing")

	// ErrStatusUnavailable covers transport, non-2xx, and decode failures.
	// Callers treat it as "still pending" and keep polling.
	ErrStatusUnavailable = errors.New("could not verify purchase status")
)

type Config struct {
	BaseURL     string
	HTTPTimeout time.Duration
}

// StatusClient fetches the current status record of a purchase from the
// catalog backend. One request per call, no retries of its own.
type StatusClient struct {
	baseURL string
	client  *http.Client
}

func NewStatusClient(cfg Config) *StatusClient {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &StatusClient{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type statusPayload struct {
	ID              string   `json:"id"`
	PaymentState    string   `json:"paymentState"`
	PaymentProvider string   `json:"paymentProvider"`
	TotalAmount     *float64 `json:"totalAmount"`
	PurchaseKind    string   `json:"purchaseKind"`
	ProviderDetail  *string  `json:"providerDetail"`
}

func (c *StatusClient) FetchStatus(ctx context.Context, purchaseID string) (*entity.PurchaseStatus, error) {
	purchaseID = strings.TrimSpace(purchaseID)
	if purchaseID == "" {
		return nil, ErrMissingPurchaseID
	}

	endpoint := c.baseURL + "/purchases/" + url.PathEscape(purchaseID) + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStatusUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStatusUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStatusUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status endpoint returned %d", ErrStatusUnavailable, resp.StatusCode)
	}

	var payload statusPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStatusUnavailable, err)
	}

	return mapStatus(purchaseID, &payload)
}

func mapStatus(purchaseID string, payload *statusPayload) (*entity.PurchaseStatus, error) {
	state := strings.ToLower(strings.TrimSpace(payload.PaymentState))
	switch state {
	case entity.PaymentStatePending, entity.PaymentStateCompleted, entity.PaymentStateFailed:
	default:
		return nil, fmt.Errorf("%w: unknown payment state %q", ErrStatusUnavailable, payload.PaymentState)
	}

	status := &entity.PurchaseStatus{
		ID:              purchaseID,
		PaymentState:    state,
		PaymentProvider: strings.TrimSpace(payload.PaymentProvider),
		PurchaseKind:    strings.TrimSpace(payload.PurchaseKind),
		ProviderDetail:  normalizeDetail(payload.ProviderDetail),
	}
	if payload.ID != "" {
		status.ID = payload.ID
	}
	if payload.TotalAmount != nil {
		status.TotalAmount = *payload.TotalAmount
		status.AmountKnown = true
	}

	return status, nil
}

func normalizeDetail(detail *string) *string {
	if detail == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*detail)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
