package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"paycore/internal/domain"
	"paycore/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReferralRepository struct {
	db *gorm.DB
}

func NewReferralRepository(db *gorm.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// WithTx binds the repository to an open transaction.
func (r *ReferralRepository) WithTx(tx *gorm.DB) *ReferralRepository {
	return &ReferralRepository{db: tx}
}

// generateReferralCode returns an 8-character hex referral code.
func generateReferralCode() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil // e.g. "a3f2c1b0"
}

// GetOrCreateCode returns the owner's referral code, or creates a new unique one
// valid until expiresAt (nil = no expiry).
func (r *ReferralRepository) GetOrCreateCode(ctx context.Context, ownerID uint, expiresAt *time.Time) (*models.ReferralCode, error) {
	if rc, err := r.GetCodeByOwner(ctx, ownerID); err == nil {
		return rc, nil
	} else if !errors.Is(err, domain.ErrReferralCodeNotFound) {
		return nil, err
	}
	for i := 0; i < 10; i++ {
		code, err := generateReferralCode()
		if err != nil {
			return nil, err
		}
		rc := models.ReferralCode{OwnerID: ownerID, Code: code, IsActive: true, ExpiresAt: expiresAt}
		err = r.db.WithContext(ctx).Create(&rc).Error
		if err == nil {
			return &rc, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
		// Either the code collided or the owner got one concurrently.
		if existing, err := r.GetCodeByOwner(ctx, ownerID); err == nil {
			return existing, nil
		}
	}
	return nil, fmt.Errorf("failed to generate a unique referral code after retries")
}

func (r *ReferralRepository) GetCodeByOwner(ctx context.Context, ownerID uint) (*models.ReferralCode, error) {
	var rc models.ReferralCode
	return firstCode(r.db.WithContext(ctx).Where("owner_id = ?", ownerID), &rc)
}

// GetCode looks a code up regardless of its state; callers decide what an
// inactive or expired code means.
func (r *ReferralRepository) GetCode(ctx context.Context, code string) (*models.ReferralCode, error) {
	var rc models.ReferralCode
	return firstCode(r.db.WithContext(ctx).Where("code = ?", code), &rc)
}

func (r *ReferralRepository) GetCodeByID(ctx context.Context, id uint) (*models.ReferralCode, error) {
	var rc models.ReferralCode
	return firstCode(r.db.WithContext(ctx).Where("id = ?", id), &rc)
}

func (r *ReferralRepository) SetCodeActive(ctx context.Context, ownerID uint, active bool) error {
	res := r.db.WithContext(ctx).Model(&models.ReferralCode{}).
		Where("owner_id = ?", ownerID).
		Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrReferralCodeNotFound
	}
	return nil
}

func firstCode(q *gorm.DB, rc *models.ReferralCode) (*models.ReferralCode, error) {
	if err := q.First(rc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrReferralCodeNotFound
		}
		return nil, err
	}
	return rc, nil
}

// CreateReferral persists a new binding. A second binding for the same referred
// user fails with domain.ErrAlreadyReferred.
func (r *ReferralRepository) CreateReferral(ctx context.Context, referral *models.Referral) error {
	err := r.db.WithContext(ctx).Create(referral).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrAlreadyReferred
	}
	return err
}

// GetReferralByReferredUserID returns gorm.ErrRecordNotFound if the user was not referred.
func (r *ReferralRepository) GetReferralByReferredUserID(ctx context.Context, userID uint) (*models.Referral, error) {
	var ref models.Referral
	err := r.db.WithContext(ctx).Where("referred_user_id = ?", userID).First(&ref).Error
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func (r *ReferralRepository) CountByReferrerID(ctx context.Context, referrerID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Referral{}).Where("referrer_id = ?", referrerID).Count(&n).Error
	return n, err
}

func (r *ReferralRepository) ListByReferrerID(ctx context.Context, referrerID uint, limit, offset int) ([]models.Referral, error) {
	var list []models.Referral
	err := r.db.WithContext(ctx).Where("referrer_id = ?", referrerID).
		Order("bound_at DESC").
		Limit(limit).Offset(offset).
		Find(&list).Error
	return list, err
}

func (r *ReferralRepository) Levels(ctx context.Context) ([]models.ReferralLevel, error) {
	var levels []models.ReferralLevel
	err := r.db.WithContext(ctx).Order("min_referrals ASC").Find(&levels).Error
	return levels, err
}

// LevelFor returns the highest level whose threshold count reaches, or
// gorm.ErrRecordNotFound when none does.
func (r *ReferralRepository) LevelFor(ctx context.Context, count int64) (*models.ReferralLevel, error) {
	var level models.ReferralLevel
	err := r.db.WithContext(ctx).
		Where("min_referrals <= ?", count).
		Order("min_referrals DESC").
		First(&level).Error
	if err != nil {
		return nil, err
	}
	return &level, nil
}

// CreateEarning inserts e unless an earning for (referral, payment) already exists.
// It reports whether a row was inserted.
func (r *ReferralRepository) CreateEarning(ctx context.Context, e *models.ReferralEarning) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(e)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *ReferralRepository) GetEarning(ctx context.Context, id uint) (*models.ReferralEarning, error) {
	var e models.ReferralEarning
	if err := r.db.WithContext(ctx).First(&e, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrEarningNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *ReferralRepository) EarningsForPayment(ctx context.Context, paymentID uint) ([]models.ReferralEarning, error) {
	var list []models.ReferralEarning
	err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).Find(&list).Error
	return list, err
}

// ListEarnings filters by status and referrer; zero values match everything.
func (r *ReferralRepository) ListEarnings(ctx context.Context, status string, referrerID uint, limit, offset int) ([]models.ReferralEarning, error) {
	q := r.db.WithContext(ctx).Model(&models.ReferralEarning{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if referrerID != 0 {
		q = q.Where("referrer_id = ?", referrerID)
	}
	var list []models.ReferralEarning
	err := q.Order("id ASC").Limit(limit).Offset(offset).Find(&list).Error
	return list, err
}

// SettleEarning moves a pending earning to status. It fails with
// domain.ErrEarningSettled if the earning has already left pending.
func (r *ReferralRepository) SettleEarning(ctx context.Context, id uint, status string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.ReferralEarning{}).
		Where("id = ? AND status = ?", id, domain.EarningPending).
		Updates(map[string]interface{}{"status": status, "settled_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetEarning(ctx, id); err != nil {
			return err
		}
		return domain.ErrEarningSettled
	}
	return nil
}
