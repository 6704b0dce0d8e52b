// Package payment holds the gateway adapters. Each adapter owns its wire format;
// callers only see the types in this file.
package payment

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrGatewayUnreachable covers network failures, timeouts and 5xx answers.
	// It is always safe to retry.
	ErrGatewayUnreachable = errors.New("payment gateway unreachable")

	// ErrSignatureInvalid means a webhook failed authentication.
	ErrSignatureInvalid = errors.New("webhook signature invalid")

	// ErrRejected means the gateway understood and refused the request.
	ErrRejected = errors.New("payment gateway rejected request")

	ErrMalformed          = errors.New("malformed gateway payload")
	ErrVerifyUnsupported  = errors.New("gateway does not support status queries")
	ErrUnknownGateway     = errors.New("unknown payment gateway")
	ErrUnknownTransaction = errors.New("gateway does not know this transaction")
)

// Status values match the payment status names used by the service.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// Failure codes shown to the payer.
const (
	FailureDeclined        = "declined"
	FailureExpired         = "expired"
	FailureCancelledByUser = "cancelled_by_user"
	FailureGatewayError    = "gateway_error"
	FailureUnknown         = "unknown"
)

type InitiateRequest struct {
	TransactionID string // our id, echoed back by the gateway
	Amount        int64  // minor units
	Currency      string
	Description   string
	CustomerID    uint
	CustomerEmail string
	CustomerPhone string
	NotifyURL     string
	ReturnURL     string
}

type InitiateResponse struct {
	ExternalID  string
	RedirectURL string
	Raw         []byte
}

// Verification is the gateway's authoritative answer to a status query.
type Verification struct {
	ExternalID    string
	TransactionID string
	Status        Status
	FailureCode   string
	Amount        int64
	Raw           []byte
}

// Notification is a parsed, authenticated webhook. When Trusted is false the
// payload carried no status the service may act on, and the status must be
// fetched with Verify.
type Notification struct {
	Reference   string // our transaction id or the gateway's id
	Status      Status
	FailureCode string
	Trusted     bool
	Raw         []byte
}

type Gateway interface {
	Kind() string
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error)
	Verify(ctx context.Context, reference string) (*Verification, error)
	ParseWebhook(ctx context.Context, r *http.Request) (*Notification, error)
}
