package types

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestNewOpenSessionRequestFromContextNormalizesInput(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/sessions", bytes.NewBufferString(`{"page":" Success ","purchaseId":"  P-200  "}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	parsed, err := NewOpenSessionRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.Page != "success" {
		t.Fatalf("expected lower-cased page, got %q", parsed.Page)
	}
	if parsed.PurchaseID != "P-200" {
		t.Fatalf("expected trimmed purchase id, got %q", parsed.PurchaseID)
	}
}

func TestNewOpenSessionRequestFromContextFallsBackToQueryParam(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/sessions?purchaseId=P-77", bytes.NewBufferString(`{"page":"pending"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	parsed, err := NewOpenSessionRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.PurchaseID != "P-77" {
		t.Fatalf("expected query-param purchase id, got %q", parsed.PurchaseID)
	}
}

func TestOpenSessionRequestValidate(t *testing.T) {
	req := &OpenSessionRequest{}
	if err := req.Validate(); err == nil {
		t.Fatal("expected page validation error")
	}

	// A missing purchase id is accepted; the session surfaces it as an
	// input-error display state instead of rejecting the request.
	req = &OpenSessionRequest{Page: "failure"}
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid request without purchase id, got %v", err)
	}
}

func TestSessionIDRequestValidate(t *testing.T) {
	req := &SessionIDRequest{}
	if err := req.Validate(); err == nil {
		t.Fatal("expected session id validation error")
	}

	req = &SessionIDRequest{ID: "abc"}
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
}
