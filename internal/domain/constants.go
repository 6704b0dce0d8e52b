package domain

// Payment kinds carried in Payment.Kind (metadata "kind" discriminator).
const (
	KindWalletTopup = "wallet-topup"
	KindPurchase    = "purchase"
)

func ValidKind(k string) bool {
	return k == KindWalletTopup || k == KindPurchase
}

// Gateway kinds.
const (
	GatewayCinetPay = "cinetpay"
	GatewayFapshi   = "fapshi"
	GatewayPayPal   = "paypal"
	GatewayManual   = "manual"
)

// Ledger reasons. (account, reason, correlation) is unique.
const (
	ReasonPurchaseCredit = "purchase-credit"
	ReasonRefundDebit    = "refund-debit"
	ReasonPurchaseDebit  = "purchase-debit"
	ReasonReferralPayout = "referral-payout"
)

// Referral earning statuses.
const (
	EarningPending   = "pending"
	EarningPaid      = "paid"
	EarningCancelled = "cancelled"
)

// User-facing failure codes stored on failed/cancelled payments.
const (
	FailureDeclined        = "declined"
	FailureExpired         = "expired"
	FailureCancelledByUser = "cancelled_by_user"
	FailureGatewayError    = "gateway_error"
	FailureUnknown         = "unknown"
)

// Event sources.
const (
	SourceCheckout       = "checkout"
	SourceWebhook        = "webhook"
	SourceReconciliation = "reconciliation"
)

// Notification types.
const (
	NotifPaymentCompleted = "PAYMENT_COMPLETED"
	NotifPaymentFailed    = "PAYMENT_FAILED"
	NotifPaymentCancelled = "PAYMENT_CANCELLED"
	NotifPaymentRefunded  = "PAYMENT_REFUNDED"
)

const DefaultCurrency = "XAF"
