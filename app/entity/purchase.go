package entity

import "time"

// Payment states as reported by the backend status endpoint.
const (
	PaymentStatePending   = "pending"
	PaymentStateCompleted = "completed"
	PaymentStateFailed    = "failed"
)

// Checkout providers the backend hands purchases to.
const (
	ProviderWompi       = "wompi"
	ProviderMercadoPago = "mercadoPago"
)

// Purchase kinds; they pick the retry destination after a failed payment.
const (
	PurchaseKindCourse       = "course"
	PurchaseKindCustomClass  = "customClass"
	PurchaseKindHoursPackage = "hoursPackage"
)

type PurchaseStatus struct {
	ID              string
	PaymentState    string
	PaymentProvider string
	TotalAmount     float64
	AmountKnown     bool
	PurchaseKind    string
	ProviderDetail  *string
}

func (s *PurchaseStatus) Terminal() bool {
	return s.PaymentState == PaymentStateCompleted || s.PaymentState == PaymentStateFailed
}

func ProviderDisplayName(provider string) string {
	switch provider {
	case ProviderWompi:
		return "Wompi"
	case ProviderMercadoPago:
		return "Mercado Pago"
	default:
		return provider
	}
}

// RetryPath maps a purchase kind to the catalog area offered on the
// failure page's "try again" action.
func RetryPath(purchaseKind string) string {
	switch purchaseKind {
	case PurchaseKindCustomClass:
		return "/custom-classes"
	case PurchaseKindHoursPackage:
		return "/hours-packages"
	default:
		return "/courses"
	}
}

type ReconcileEvent struct {
	ID uint64

	SessionID  string
	PurchaseID string
	EventType  string

	OldState *string
	NewState *string

	Attempt int

	CreatedAt time.Time
}

// Reconcile event types recorded by the session audit trail.
const (
	EventSessionOpened     = "session_opened"
	EventStatusObserved    = "status_observed"
	EventTerminalReached   = "terminal_reached"
	EventConversionEmitted = "conversion_emitted"
	EventAttemptsExhausted = "attempts_exhausted"
	EventSessionCancelled  = "session_cancelled"
	EventRedirectDecided   = "redirect_decided"
)
