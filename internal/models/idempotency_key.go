package models

import "time"

type IdempotencyKey struct {
	Key       string    `gorm:"column:idem_key;primaryKey;size:191"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time
}

func (IdempotencyKey) TableName() string { return "idempotency_keys" }
