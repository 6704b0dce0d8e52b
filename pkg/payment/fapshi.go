package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// FapshiGateway talks to the Fapshi mobile money API. Fapshi webhooks are not
// signed, so every notification is re-checked with Verify.
type FapshiGateway struct {
	BaseURL string
	APIUser string
	APIKey  string
	client  *http.Client
}

func NewFapshiGateway(baseURL, apiUser, apiKey string) *FapshiGateway {
	if baseURL == "" {
		baseURL = "https://live.fapshi.com"
	}
	return &FapshiGateway{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIUser: apiUser,
		APIKey:  apiKey,
		client:  newHTTPClient(),
	}
}

func (g *FapshiGateway) Kind() string { return "fapshi" }

func (g *FapshiGateway) headers() map[string]string {
	return map[string]string{"apiuser": g.APIUser, "apikey": g.APIKey}
}

type fapshiInitReq struct {
	Amount      int64  `json:"amount"`
	Email       string `json:"email,omitempty"`
	UserID      string `json:"userId,omitempty"`
	ExternalID  string `json:"externalId"`
	RedirectURL string `json:"redirectUrl,omitempty"`
	Message     string `json:"message,omitempty"`
}

type fapshiInitResp struct {
	Message string `json:"message"`
	Link    string `json:"link"`
	TransID string `json:"transId"`
}

type fapshiStatus struct {
	TransID    string `json:"transId"`
	Status     string `json:"status"`
	Amount     int64  `json:"amount"`
	ExternalID string `json:"externalId"`
}

func (g *FapshiGateway) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	body := fapshiInitReq{
		Amount:      req.Amount,
		Email:       req.CustomerEmail,
		ExternalID:  req.TransactionID,
		RedirectURL: req.ReturnURL,
		Message:     req.Description,
	}
	if req.CustomerID != 0 {
		body.UserID = fmt.Sprint(req.CustomerID)
	}
	var out fapshiInitResp
	raw, err := doJSON(ctx, g.client, http.MethodPost, g.BaseURL+"/initiate-pay", g.headers(), body, &out)
	if err != nil {
		return nil, err
	}
	if out.TransID == "" || out.Link == "" {
		return nil, fmt.Errorf("%w: fapshi: %s", ErrRejected, out.Message)
	}
	return &InitiateResponse{ExternalID: out.TransID, RedirectURL: out.Link, Raw: raw}, nil
}

// Verify queries by Fapshi transId.
func (g *FapshiGateway) Verify(ctx context.Context, reference string) (*Verification, error) {
	var out fapshiStatus
	raw, err := doJSON(ctx, g.client, http.MethodGet, g.BaseURL+"/payment-status/"+url.PathEscape(reference), g.headers(), nil, &out)
	if err != nil {
		return nil, err
	}
	status, failure := fapshiStatusOf(out.Status)
	return &Verification{
		ExternalID:    out.TransID,
		TransactionID: out.ExternalID,
		Status:        status,
		FailureCode:   failure,
		Amount:        out.Amount,
		Raw:           raw,
	}, nil
}

func fapshiStatusOf(s string) (Status, string) {
	switch strings.ToUpper(s) {
	case "SUCCESSFUL":
		return StatusCompleted, ""
	case "FAILED":
		return StatusFailed, FailureDeclined
	case "EXPIRED":
		return StatusFailed, FailureExpired
	case "PENDING":
		return StatusProcessing, ""
	default: // CREATED
		return StatusPending, ""
	}
}

func (g *FapshiGateway) ParseWebhook(ctx context.Context, r *http.Request) (*Notification, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}
	var payload fapshiStatus
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if payload.TransID == "" {
		return nil, fmt.Errorf("%w: missing transId", ErrMalformed)
	}
	status, failure := fapshiStatusOf(payload.Status)
	return &Notification{Reference: payload.TransID, Status: status, FailureCode: failure, Raw: body}, nil
}
