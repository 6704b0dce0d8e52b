package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReferralCode is a unique invite code belonging to a user.
// Each user has at most one referral code.
type ReferralCode struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	OwnerID   uint       `gorm:"uniqueIndex;not null" json:"owner_id"`
	Code      string     `gorm:"uniqueIndex;size:20;not null" json:"code"`
	IsActive  bool       `gorm:"not null;default:true" json:"is_active"`
	ExpiresAt *time.Time `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (ReferralCode) TableName() string { return "referral_codes" }

// ActiveAt reports whether the code may bind referrals or earn commission at t.
func (rc *ReferralCode) ActiveAt(t time.Time) bool {
	return rc.IsActive && !rc.ExpiredAt(t)
}

// ExpiredAt reports whether the sponsorship window has lapsed at t.
func (rc *ReferralCode) ExpiredAt(t time.Time) bool {
	return rc.ExpiresAt != nil && !t.Before(*rc.ExpiresAt)
}

// Referral binds a referred user to a referrer. Rows are immutable and a user can
// only be referred once.
type Referral struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ReferrerID     uint      `gorm:"not null;index" json:"referrer_id"`
	ReferredUserID uint      `gorm:"uniqueIndex;not null" json:"referred_user_id"`
	ReferralCodeID uint      `gorm:"not null" json:"referral_code_id"`
	BoundAt        time.Time `gorm:"not null" json:"bound_at"`
}

func (Referral) TableName() string { return "referrals" }

// ReferralLevel is a commission tier unlocked at MinReferrals bound referrals.
type ReferralLevel struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	Name         string          `gorm:"size:40;not null" json:"name"`
	MinReferrals int             `gorm:"not null;uniqueIndex" json:"min_referrals"`
	Rate         decimal.Decimal `gorm:"type:decimal(6,4);not null" json:"rate"`
}

func (ReferralLevel) TableName() string { return "referral_levels" }

// ReferralEarning is a commission accrual. Wallet funds move only when the payout
// collaborator marks it paid.
type ReferralEarning struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	ReferralID uint       `gorm:"not null;uniqueIndex:idx_earning_referral_payment,priority:1" json:"referral_id"`
	PaymentID  uint       `gorm:"not null;uniqueIndex:idx_earning_referral_payment,priority:2" json:"payment_id"`
	ReferrerID uint       `gorm:"not null;index" json:"referrer_id"`
	LevelName  string     `gorm:"size:40" json:"level_name"`
	Amount     int64      `gorm:"not null" json:"amount"`
	Currency   string     `gorm:"size:3;not null" json:"currency"`
	Status     string     `gorm:"size:20;not null;index" json:"status"`
	SettledAt  *time.Time `json:"settled_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (ReferralEarning) TableName() string { return "referral_earnings" }
