package models

import "time"

// Wallet is one owner's account in one currency. Balance is a materialized view of
// its ledger entries and is only written together with an entry insert.
type Wallet struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	OwnerID   uint      `gorm:"not null;uniqueIndex:idx_wallet_owner_currency" json:"owner_id"`
	Currency  string    `gorm:"size:3;not null;uniqueIndex:idx_wallet_owner_currency" json:"currency"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}

// LedgerEntry is an immutable signed movement: positive = credit, negative = debit.
type LedgerEntry struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	WalletID      uint      `gorm:"not null;uniqueIndex:idx_ledger_correlation,priority:1" json:"wallet_id"`
	Amount        int64     `gorm:"not null" json:"amount"`
	Reason        string    `gorm:"size:40;not null;uniqueIndex:idx_ledger_correlation,priority:2" json:"reason"`
	CorrelationID string    `gorm:"size:128;not null;uniqueIndex:idx_ledger_correlation,priority:3" json:"correlation_id"`
	CreatedAt     time.Time `json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}
