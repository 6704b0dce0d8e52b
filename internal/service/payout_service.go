package service

import (
	"context"
	"strconv"
	"time"

	"paycore/internal/domain"
	"paycore/internal/metrics"
	"paycore/internal/models"
	"paycore/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PayoutService settles referral earnings. Marking an earning paid credits the
// referrer's wallet in the same transaction.
type PayoutService struct {
	db        *gorm.DB
	referrals *repository.ReferralRepository
	wallets   *repository.WalletRepository
	log       *zap.Logger
	now       func() time.Time
}

func NewPayoutService(db *gorm.DB, log *zap.Logger) *PayoutService {
	return &PayoutService{
		db:        db,
		referrals: repository.NewReferralRepository(db),
		wallets:   repository.NewWalletRepository(db),
		log:       log,
		now:       time.Now,
	}
}

func (s *PayoutService) Earnings(ctx context.Context, status string, referrerID uint, limit, offset int) ([]models.ReferralEarning, error) {
	return s.referrals.ListEarnings(ctx, status, referrerID, limit, offset)
}

func (s *PayoutService) MarkPaid(ctx context.Context, id uint) (*models.ReferralEarning, error) {
	var earning *models.ReferralEarning
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		referrals := s.referrals.WithTx(tx)
		if err := referrals.SettleEarning(ctx, id, domain.EarningPaid, s.now()); err != nil {
			return err
		}
		e, err := referrals.GetEarning(ctx, id)
		if err != nil {
			return err
		}
		if e.Amount > 0 {
			wallets := s.wallets.WithTx(tx)
			w, err := wallets.GetOrCreate(ctx, e.ReferrerID, e.Currency)
			if err != nil {
				return err
			}
			if _, err := wallets.Append(ctx, w.ID, e.Amount, domain.ReasonReferralPayout, strconv.FormatUint(uint64(e.ID), 10)); err != nil {
				return err
			}
		}
		earning = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.LedgerAppends.WithLabelValues(domain.ReasonReferralPayout).Inc()
	s.log.Info("referral earning paid",
		zap.Uint("earning_id", earning.ID),
		zap.Uint("referrer_id", earning.ReferrerID),
		zap.Int64("amount", earning.Amount))
	return earning, nil
}

func (s *PayoutService) MarkCancelled(ctx context.Context, id uint) (*models.ReferralEarning, error) {
	if err := s.referrals.SettleEarning(ctx, id, domain.EarningCancelled, s.now()); err != nil {
		return nil, err
	}
	s.log.Info("referral earning cancelled", zap.Uint("earning_id", id))
	return s.referrals.GetEarning(ctx, id)
}
