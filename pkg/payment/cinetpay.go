package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

// CinetPay notification fields, in the order they are concatenated for the
// x-token HMAC.
var cinetpayTokenFields = []string{
	"cpm_site_id", "cpm_trans_id", "cpm_trans_date", "cpm_amount", "cpm_currency",
	"signature", "payment_method", "cel_phone_num", "cpm_phone_prefixe", "cpm_language",
	"cpm_version", "cpm_payment_config", "cpm_page_action", "cpm_custom", "cpm_designation",
	"cpm_error_message",
}

// CinetPayGateway talks to the CinetPay checkout API (mobile money, cards).
type CinetPayGateway struct {
	BaseURL   string
	APIKey    string
	SiteID    string
	SecretKey string
	client    *http.Client
}

func NewCinetPayGateway(baseURL, apiKey, siteID, secretKey string) *CinetPayGateway {
	if baseURL == "" {
		baseURL = "https://api-checkout.cinetpay.com"
	}
	return &CinetPayGateway{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		APIKey:    apiKey,
		SiteID:    siteID,
		SecretKey: secretKey,
		client:    newHTTPClient(),
	}
}

func (g *CinetPayGateway) Kind() string { return "cinetpay" }

type cinetpayInitReq struct {
	APIKey        string `json:"apikey"`
	SiteID        string `json:"site_id"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Description   string `json:"description"`
	NotifyURL     string `json:"notify_url"`
	ReturnURL     string `json:"return_url"`
	Channels      string `json:"channels"`
	CustomerID    string `json:"customer_id,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerPhone string `json:"customer_phone_number,omitempty"`
}

type cinetpayEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Data    cinetpayData `json:"data"`
}

type cinetpayData struct {
	PaymentToken string `json:"payment_token"`
	PaymentURL   string `json:"payment_url"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
	Method       string `json:"payment_method"`
}

func (g *CinetPayGateway) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	body := cinetpayInitReq{
		APIKey:        g.APIKey,
		SiteID:        g.SiteID,
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Description:   req.Description,
		NotifyURL:     req.NotifyURL,
		ReturnURL:     req.ReturnURL,
		Channels:      "ALL",
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
	}
	if req.CustomerID != 0 {
		body.CustomerID = fmt.Sprint(req.CustomerID)
	}
	var out cinetpayEnvelope
	raw, err := doJSON(ctx, g.client, http.MethodPost, g.BaseURL+"/v2/payment", nil, body, &out)
	if err != nil {
		return nil, err
	}
	if out.Code != "201" || out.Data.PaymentURL == "" {
		return nil, fmt.Errorf("%w: cinetpay %s %s", ErrRejected, out.Code, out.Message)
	}
	// CinetPay identifies the payment by our transaction id.
	return &InitiateResponse{RedirectURL: out.Data.PaymentURL, Raw: raw}, nil
}

type cinetpayCheckReq struct {
	APIKey        string `json:"apikey"`
	SiteID        string `json:"site_id"`
	TransactionID string `json:"transaction_id"`
}

func (g *CinetPayGateway) Verify(ctx context.Context, reference string) (*Verification, error) {
	var out cinetpayEnvelope
	raw, err := doJSON(ctx, g.client, http.MethodPost, g.BaseURL+"/v2/payment/check", nil,
		cinetpayCheckReq{APIKey: g.APIKey, SiteID: g.SiteID, TransactionID: reference}, &out)
	if err != nil {
		return nil, err
	}
	status, failure := cinetpayStatus(out.Data.Status)
	v := &Verification{
		TransactionID: reference,
		Status:        status,
		FailureCode:   failure,
		Raw:           raw,
	}
	fmt.Sscan(out.Data.Amount, &v.Amount)
	return v, nil
}

func cinetpayStatus(s string) (Status, string) {
	switch strings.ToUpper(s) {
	case "ACCEPTED":
		return StatusCompleted, ""
	case "REFUSED":
		return StatusFailed, FailureDeclined
	case "CANCELED", "CANCELLED":
		return StatusCancelled, FailureCancelledByUser
	case "EXPIRED":
		return StatusFailed, FailureExpired
	case "WAITING_FOR_CUSTOMER", "WAITING_CUSTOMER_TO_VALIDATE", "WAITING_CUSTOMER_PAYMENT", "WAITING_CUSTOMER_OTP_CODE":
		return StatusProcessing, ""
	default:
		return StatusPending, ""
	}
}

// ParseWebhook authenticates the x-token header. CinetPay notifications carry no
// payment status, so the result is never Trusted.
func (g *CinetPayGateway) ParseWebhook(ctx context.Context, r *http.Request) (*Notification, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var data strings.Builder
	for _, f := range cinetpayTokenFields {
		data.WriteString(r.PostForm.Get(f))
	}
	if !validHMAC(g.SecretKey, []byte(data.String()), r.Header.Get("x-token")) {
		return nil, ErrSignatureInvalid
	}
	txID := r.PostForm.Get("cpm_trans_id")
	if txID == "" {
		return nil, fmt.Errorf("%w: missing cpm_trans_id", ErrMalformed)
	}
	return &Notification{Reference: txID, Raw: []byte(r.PostForm.Encode())}, nil
}

// validHMAC compares a hex HMAC-SHA256 of data in constant time.
func validHMAC(secret string, data []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(Sign(secret, data)))
}

// Sign returns the hex HMAC-SHA256 that validHMAC accepts.
func Sign(secret string, data []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
