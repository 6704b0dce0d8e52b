package models

import (
	"time"

	"paycore/internal/domain"
)

// Payment is created once at checkout and only mutated through PaymentService.Apply.
// Rows are never deleted.
type Payment struct {
	ID              uint                 `gorm:"primaryKey" json:"id"`
	UserID          uint                 `gorm:"not null;index" json:"user_id"`
	WalletID        uint                 `gorm:"not null;index" json:"wallet_id"`
	Amount          int64                `gorm:"not null" json:"amount"`
	Currency        string               `gorm:"size:3;not null" json:"currency"`
	Status          domain.PaymentStatus `gorm:"size:20;not null;index:idx_payments_open,priority:1" json:"status"`
	Kind            string               `gorm:"size:20;not null" json:"kind"`
	Gateway         string               `gorm:"size:20;not null;index" json:"gateway"`
	TransactionID   string               `gorm:"size:64;not null;uniqueIndex" json:"transaction_id"`
	ExternalID      *string              `gorm:"size:128;uniqueIndex" json:"external_id"`
	RedirectURL     string               `gorm:"size:1024" json:"redirect_url,omitempty"`
	GatewayResponse string               `gorm:"type:text" json:"gateway_response,omitempty"` // raw JSON
	Metadata        string               `gorm:"type:text" json:"metadata,omitempty"`
	FailureCode     string               `gorm:"size:32" json:"failure_code,omitempty"`
	CompletedAt     *time.Time           `json:"completed_at"`
	LastCheckedAt   *time.Time           `json:"-"`
	CheckAttempts   int                  `gorm:"not null;default:0" json:"-"`
	CreatedAt       time.Time            `gorm:"index:idx_payments_open,priority:2" json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

// Reference is the value shared with the gateway: its own id once known, ours before.
func (p *Payment) Reference() string {
	if p.ExternalID != nil && *p.ExternalID != "" {
		return *p.ExternalID
	}
	return p.TransactionID
}

func (p *Payment) IsPurchase() bool {
	return p.Kind == domain.KindPurchase
}
