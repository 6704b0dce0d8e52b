package repository

import (
	"context"
	"time"

	"paycore/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CommissionJobRepository is the outbox of completed purchases awaiting commission.
type CommissionJobRepository struct {
	db *gorm.DB
}

func NewCommissionJobRepository(db *gorm.DB) *CommissionJobRepository {
	return &CommissionJobRepository{db: db}
}

// WithTx binds the repository to an open transaction.
func (r *CommissionJobRepository) WithTx(tx *gorm.DB) *CommissionJobRepository {
	return &CommissionJobRepository{db: tx}
}

// Enqueue is a no-op if the payment already has a job.
func (r *CommissionJobRepository) Enqueue(ctx context.Context, paymentID uint, at time.Time) error {
	job := models.CommissionJob{PaymentID: paymentID, NextAttemptAt: at}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&job).Error
}

// Due returns unfinished jobs whose next attempt is at or before now.
func (r *CommissionJobRepository) Due(ctx context.Context, now time.Time, limit int) ([]models.CommissionJob, error) {
	var list []models.CommissionJob
	err := r.db.WithContext(ctx).
		Where("done_at IS NULL AND next_attempt_at <= ?", now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func (r *CommissionJobRepository) GetByPaymentID(ctx context.Context, paymentID uint) (*models.CommissionJob, error) {
	var job models.CommissionJob
	if err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *CommissionJobRepository) MarkDone(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.CommissionJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"done_at": at, "last_error": ""}).Error
}

// Reschedule records a failed attempt and when to try again.
func (r *CommissionJobRepository) Reschedule(ctx context.Context, id uint, attempts int, next time.Time, lastErr string) error {
	return r.db.WithContext(ctx).Model(&models.CommissionJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":        attempts,
			"next_attempt_at": next,
			"last_error":      lastErr,
		}).Error
}

func (r *CommissionJobRepository) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.CommissionJob{}).Where("done_at IS NULL").Count(&n).Error
	return n, err
}
