package models

import "time"

// CommissionJob is the outbox row written in the same transaction that completes a
// purchase. The commission worker retries it until settlement succeeds.
type CommissionJob struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	PaymentID     uint       `gorm:"not null;uniqueIndex" json:"payment_id"`
	Attempts      int        `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt time.Time  `gorm:"not null;index" json:"next_attempt_at"`
	LastError     string     `gorm:"type:text" json:"last_error,omitempty"`
	DoneAt        *time.Time `gorm:"index" json:"done_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (CommissionJob) TableName() string { return "commission_jobs" }
