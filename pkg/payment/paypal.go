package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// zeroDecimalCurrencies are sent to PayPal without a fractional part.
var zeroDecimalCurrencies = map[string]bool{"XAF": true, "XOF": true, "JPY": true, "HUF": true, "TWD": true}

// PayPalGateway uses Orders v2. Requests are authenticated with an OAuth2
// client-credentials token that the client refreshes on its own.
type PayPalGateway struct {
	BaseURL   string
	WebhookID string
	client    *http.Client
}

func NewPayPalGateway(baseURL, clientID, clientSecret, webhookID string) *PayPalGateway {
	if baseURL == "" {
		baseURL = "https://api-m.paypal.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	cc := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     baseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, newHTTPClient())
	client := cc.Client(ctx)
	client.Timeout = defaultTimeout
	return &PayPalGateway{BaseURL: baseURL, WebhookID: webhookID, client: client}
}

func (g *PayPalGateway) Kind() string { return "paypal" }

// FormatAmount renders minor units the way PayPal expects for currency.
func FormatAmount(amount int64, currency string) string {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return decimal.NewFromInt(amount).String()
	}
	return decimal.New(amount, -2).StringFixed(2)
}

// ParseAmount is the inverse of FormatAmount.
func ParseAmount(value, currency string) (int64, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, err
	}
	if !zeroDecimalCurrencies[strings.ToUpper(currency)] {
		d = d.Shift(2)
	}
	return d.IntPart(), nil
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalCapture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type paypalPurchaseUnit struct {
	ReferenceID string       `json:"reference_id,omitempty"`
	CustomID    string       `json:"custom_id,omitempty"`
	Description string       `json:"description,omitempty"`
	Amount      paypalAmount `json:"amount"`
	Payments    *struct {
		Captures []paypalCapture `json:"captures"`
	} `json:"payments,omitempty"`
}

type paypalOrderReq struct {
	Intent        string               `json:"intent"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
	AppContext    struct {
		ReturnURL string `json:"return_url,omitempty"`
		CancelURL string `json:"cancel_url,omitempty"`
	} `json:"application_context"`
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalOrder struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
	Links         []paypalLink         `json:"links"`
}

func (g *PayPalGateway) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	body := paypalOrderReq{
		Intent: "CAPTURE",
		PurchaseUnits: []paypalPurchaseUnit{{
			ReferenceID: req.TransactionID,
			CustomID:    req.TransactionID,
			Description: req.Description,
			Amount:      paypalAmount{CurrencyCode: req.Currency, Value: FormatAmount(req.Amount, req.Currency)},
		}},
	}
	body.AppContext.ReturnURL = req.ReturnURL
	body.AppContext.CancelURL = req.ReturnURL

	var out paypalOrder
	raw, err := doJSON(ctx, g.client, http.MethodPost, g.BaseURL+"/v2/checkout/orders",
		map[string]string{"PayPal-Request-Id": req.TransactionID}, body, &out)
	if err != nil {
		return nil, err
	}
	resp := &InitiateResponse{ExternalID: out.ID, Raw: raw}
	for _, l := range out.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			resp.RedirectURL = l.Href
		}
	}
	if resp.ExternalID == "" {
		return nil, fmt.Errorf("%w: paypal returned no order id", ErrRejected)
	}
	return resp, nil
}

// Verify fetches the order by PayPal order id. An order the payer approved is
// captured here, since funds only move on capture.
func (g *PayPalGateway) Verify(ctx context.Context, reference string) (*Verification, error) {
	var out paypalOrder
	raw, err := doJSON(ctx, g.client, http.MethodGet, g.orderURL(reference), nil, nil, &out)
	if err != nil {
		return nil, err
	}
	if out.Status == "APPROVED" {
		out, raw, err = g.capture(ctx, reference)
		if err != nil {
			return nil, err
		}
	}
	v := &Verification{ExternalID: out.ID, Raw: raw}
	v.Status, v.FailureCode = paypalOrderStatus(out.Status)
	if len(out.PurchaseUnits) > 0 {
		pu := out.PurchaseUnits[0]
		v.TransactionID = pu.CustomID
		v.Amount, _ = ParseAmount(pu.Amount.Value, pu.Amount.CurrencyCode)
		if v.Status == StatusCompleted && pu.Payments != nil && len(pu.Payments.Captures) > 0 {
			v.Status, v.FailureCode = paypalCaptureStatus(pu.Payments.Captures[0].Status)
		}
	}
	return v, nil
}

// capture is keyed by order id, so PayPal answers a repeated call with the
// first result instead of capturing twice. An order already captured elsewhere
// is re-read.
func (g *PayPalGateway) capture(ctx context.Context, orderID string) (paypalOrder, []byte, error) {
	var out paypalOrder
	raw, err := doJSON(ctx, g.client, http.MethodPost, g.orderURL(orderID)+"/capture",
		map[string]string{"PayPal-Request-Id": "capture-" + orderID}, struct{}{}, &out)
	if errors.Is(err, ErrRejected) {
		out = paypalOrder{}
		raw, err = doJSON(ctx, g.client, http.MethodGet, g.orderURL(orderID), nil, nil, &out)
	}
	return out, raw, err
}

func (g *PayPalGateway) orderURL(orderID string) string {
	return g.BaseURL + "/v2/checkout/orders/" + url.PathEscape(orderID)
}

func paypalOrderStatus(s string) (Status, string) {
	switch s {
	case "COMPLETED":
		return StatusCompleted, ""
	case "APPROVED":
		return StatusProcessing, ""
	case "VOIDED":
		return StatusCancelled, FailureCancelledByUser
	default: // CREATED, SAVED, PAYER_ACTION_REQUIRED
		return StatusPending, ""
	}
}

func paypalCaptureStatus(s string) (Status, string) {
	switch s {
	case "COMPLETED":
		return StatusCompleted, ""
	case "DECLINED", "FAILED":
		return StatusFailed, FailureDeclined
	case "REFUNDED":
		return StatusRefunded, ""
	default: // PENDING
		return StatusProcessing, ""
	}
}

type paypalEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID                string `json:"id"`
		CustomID          string `json:"custom_id"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

type paypalVerifyReq struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type paypalVerifyResp struct {
	VerificationStatus string `json:"verification_status"`
}

// ParseWebhook asks PayPal to verify the transmission signature before trusting
// the event.
func (g *PayPalGateway) ParseWebhook(ctx context.Context, r *http.Request) (*Notification, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	verify := paypalVerifyReq{
		AuthAlgo:         r.Header.Get("PAYPAL-AUTH-ALGO"),
		CertURL:          r.Header.Get("PAYPAL-CERT-URL"),
		TransmissionID:   r.Header.Get("PAYPAL-TRANSMISSION-ID"),
		TransmissionSig:  r.Header.Get("PAYPAL-TRANSMISSION-SIG"),
		TransmissionTime: r.Header.Get("PAYPAL-TRANSMISSION-TIME"),
		WebhookID:        g.WebhookID,
		WebhookEvent:     body,
	}
	if verify.TransmissionSig == "" {
		return nil, ErrSignatureInvalid
	}
	var vr paypalVerifyResp
	if _, err := doJSON(ctx, g.client, http.MethodPost, g.BaseURL+"/v1/notifications/verify-webhook-signature", nil, verify, &vr); err != nil {
		return nil, err
	}
	if vr.VerificationStatus != "SUCCESS" {
		return nil, ErrSignatureInvalid
	}

	var ev paypalEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	n := &Notification{Raw: body, Trusted: true}
	switch ev.EventType {
	case "CHECKOUT.ORDER.APPROVED":
		// Approval is not payment; Verify captures the order and reports the result.
		n.Reference, n.Trusted = ev.Resource.ID, false
	case "CHECKOUT.ORDER.VOIDED":
		n.Reference, n.Status, n.FailureCode = ev.Resource.ID, StatusCancelled, FailureCancelledByUser
	case "PAYMENT.CAPTURE.COMPLETED":
		n.Status = StatusCompleted
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		n.Status, n.FailureCode = StatusFailed, FailureDeclined
	case "PAYMENT.CAPTURE.REFUNDED":
		n.Status = StatusRefunded
	default:
		// Unknown events are authenticated but carry nothing we act on.
		n.Trusted = false
	}
	if n.Reference == "" {
		n.Reference = ev.Resource.CustomID
	}
	if n.Reference == "" {
		n.Reference = ev.Resource.SupplementaryData.RelatedIDs.OrderID
	}
	if n.Reference == "" {
		return nil, fmt.Errorf("%w: paypal event %s has no payment reference", ErrMalformed, ev.ID)
	}
	return n, nil
}
