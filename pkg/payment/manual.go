package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// ManualGateway is for payments confirmed by an operator (bank transfer, cash).
// Confirmations arrive as JSON signed with X-Webhook-Signature.
type ManualGateway struct {
	WebhookSecret string
}

func NewManualGateway(secret string) *ManualGateway {
	return &ManualGateway{WebhookSecret: secret}
}

func (g *ManualGateway) Kind() string { return "manual" }

func (g *ManualGateway) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	ref := "man_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	return &InitiateResponse{ExternalID: ref}, nil
}

func (g *ManualGateway) Verify(ctx context.Context, reference string) (*Verification, error) {
	return nil, ErrVerifyUnsupported
}

// ManualWebhook is the body an operator tool posts.
type ManualWebhook struct {
	Reference   string `json:"reference"`
	Status      string `json:"status"`
	FailureCode string `json:"failure_code,omitempty"`
}

func (g *ManualGateway) ParseWebhook(ctx context.Context, r *http.Request) (*Notification, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}
	if !validHMAC(g.WebhookSecret, body, r.Header.Get("X-Webhook-Signature")) {
		return nil, ErrSignatureInvalid
	}
	var payload ManualWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if payload.Reference == "" || payload.Status == "" {
		return nil, fmt.Errorf("%w: reference and status are required", ErrMalformed)
	}
	return &Notification{
		Reference:   payload.Reference,
		Status:      Status(strings.ToLower(payload.Status)),
		FailureCode: payload.FailureCode,
		Trusted:     true,
		Raw:         body,
	}, nil
}
