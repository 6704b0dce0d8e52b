package repository

import (
	"context"
	"errors"
	"time"

	"paycore/internal/domain"
	"paycore/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// WithTx binds the repository to an open transaction.
func (r *PaymentRepository) WithTx(tx *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: tx}
}

func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uint) (*models.Payment, error) {
	var p models.Payment
	return r.first(r.db.WithContext(ctx).Where("id = ?", id), &p)
}

func (r *PaymentRepository) GetByTransactionID(ctx context.Context, txID string) (*models.Payment, error) {
	var p models.Payment
	return r.first(r.db.WithContext(ctx).Where("transaction_id = ?", txID), &p)
}

func (r *PaymentRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Payment, error) {
	var p models.Payment
	return r.first(r.db.WithContext(ctx).Where("external_id = ?", externalID), &p)
}

// GetByReference accepts either our transaction id or the gateway's id.
func (r *PaymentRepository) GetByReference(ctx context.Context, ref string) (*models.Payment, error) {
	p, err := r.GetByTransactionID(ctx, ref)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		return r.GetByExternalID(ctx, ref)
	}
	return p, err
}

// LockByID re-reads the payment with SELECT ... FOR UPDATE. Only meaningful on a
// repository bound with WithTx.
func (r *PaymentRepository) LockByID(ctx context.Context, id uint) (*models.Payment, error) {
	var p models.Payment
	q := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id)
	return r.first(q, &p)
}

func (r *PaymentRepository) Update(ctx context.Context, p *models.Payment) error {
	return r.db.WithContext(ctx).Save(p).Error
}

// AttachGateway stores what the gateway returned at initiation. The payment status
// is not touched.
func (r *PaymentRepository) AttachGateway(ctx context.Context, id uint, externalID, redirectURL, raw string) error {
	updates := map[string]interface{}{
		"redirect_url":     redirectURL,
		"gateway_response": raw,
	}
	if externalID != "" {
		updates["external_id"] = externalID
	}
	return r.db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", id).Updates(updates).Error
}

// ListStale returns open payments created before olderThan that were not checked
// since checkedBefore, oldest first.
func (r *PaymentRepository) ListStale(ctx context.Context, olderThan, checkedBefore time.Time, limit int) ([]models.Payment, error) {
	var list []models.Payment
	err := r.db.WithContext(ctx).
		Where("status IN ?", []domain.PaymentStatus{domain.StatusPending, domain.StatusProcessing}).
		Where("created_at < ?", olderThan).
		Where("last_checked_at IS NULL OR last_checked_at < ?", checkedBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func (r *PaymentRepository) MarkChecked(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_checked_at": at,
			"check_attempts":  gorm.Expr("check_attempts + 1"),
		}).Error
}

func (r *PaymentRepository) ListByUserID(ctx context.Context, userID uint, limit, offset int) ([]models.Payment, error) {
	var list []models.Payment
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&list).Error
	return list, err
}

func (r *PaymentRepository) first(q *gorm.DB, p *models.Payment) (*models.Payment, error) {
	if err := q.First(p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}
