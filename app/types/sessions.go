package types

import (
	"errors"
	"strings"

	"github.com/labstack/echo/v4"
)

type OpenSessionRequest struct {
	Page       string `json:"page"`
	PurchaseID string `json:"purchaseId"`
}

func NewOpenSessionRequestFromContext(ctx echo.Context) (*OpenSessionRequest, error) {
	var body OpenSessionRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.Page = strings.ToLower(strings.TrimSpace(body.Page))
	body.PurchaseID = strings.TrimSpace(body.PurchaseID)

	// The provider redirect carries the purchase id as a query
	// parameter; accept it there as well.
	if body.PurchaseID == "" {
		body.PurchaseID = strings.TrimSpace(ctx.QueryParam("purchaseId"))
	}

	return &body, nil
}

func (r *OpenSessionRequest) Validate() error {
	if r.Page == "" {
		return errors.New("page is required")
	}
	// An absent purchaseId is a valid, handled input: the session
	// opens straight into its input-error display state.
	return nil
}

type SessionIDRequest struct {
	ID string
}

func NewSessionIDRequestFromContext(ctx echo.Context) (*SessionIDRequest, error) {
	return &SessionIDRequest{ID: strings.TrimSpace(ctx.Param("id"))}, nil
}

func (r *SessionIDRequest) Validate() error {
	if r.ID == "" {
		return errors.New("session id is required")
	}
	return nil
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type RedirectResponse struct {
	Path    string `json:"path"`
	Replace bool   `json:"replace"`
}

type PurchaseStatusResponse struct {
	ID                  string   `json:"id"`
	PaymentState        string   `json:"paymentState"`
	PaymentProvider     string   `json:"paymentProvider,omitempty"`
	ProviderDisplayName string   `json:"providerDisplayName,omitempty"`
	TotalAmount         *float64 `json:"totalAmount,omitempty"`
	PurchaseKind        string   `json:"purchaseKind,omitempty"`
	ProviderDetail      *string  `json:"providerDetail,omitempty"`
}

type SessionStateResponse struct {
	Page         string                  `json:"page"`
	Phase        string                  `json:"phase"`
	Message      string                  `json:"message"`
	Status       *PurchaseStatusResponse `json:"status,omitempty"`
	RetryPath    string                  `json:"retryPath,omitempty"`
	Redirect     *RedirectResponse       `json:"redirect,omitempty"`
	AttemptsUsed int                     `json:"attemptsUsed"`
	AutoChecksUp bool                    `json:"autoChecksUp"`
}

type SessionEnvelopeResponse struct {
	SessionID string                `json:"sessionId"`
	State     *SessionStateResponse `json:"state"`
}

type ReconcileEventResponse struct {
	ID         uint64  `json:"id"`
	PurchaseID string  `json:"purchaseId"`
	EventType  string  `json:"eventType"`
	OldState   *string `json:"oldState,omitempty"`
	NewState   *string `json:"newState,omitempty"`
	Attempt    int     `json:"attempt"`
	CreatedAt  string  `json:"createdAt"`
}

type SessionEventsResponse struct {
	SessionID string                    `json:"sessionId"`
	Events    []*ReconcileEventResponse `json:"events"`
}
