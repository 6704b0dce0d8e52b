package service

import (
	"context"
	"errors"
	"fmt"

	"paycore/internal/domain"
	"paycore/internal/models"
	"paycore/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Reasons a settlement created nothing.
const (
	SkipNotCompleted = "not_completed"
	SkipNotPurchase  = "not_purchase"
	SkipNoReferral   = "no_referral"
	SkipNoLevel      = "no_level"
	SkipWindowLapsed = "window_lapsed"
)

// Settlement describes what Settle did for one payment.
type Settlement struct {
	PaymentID uint
	Created   bool
	Existing  bool
	Skipped   string
	Earning   *models.ReferralEarning
}

// CommissionService accrues referral earnings for completed purchases. It never
// moves wallet funds.
type CommissionService struct {
	payments  *repository.PaymentRepository
	referrals *repository.ReferralRepository
	log       *zap.Logger
}

func NewCommissionService(db *gorm.DB, log *zap.Logger) *CommissionService {
	return &CommissionService{
		payments:  repository.NewPaymentRepository(db),
		referrals: repository.NewReferralRepository(db),
		log:       log,
	}
}

// CommissionAmount is floor(amount * rate).
func CommissionAmount(amount int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(rate).Floor().IntPart()
}

// Settle is safe to call any number of times for the same payment: the earning
// is keyed by (referral, payment) and a repeat finds the existing row. Errors
// wrap domain.ErrCommissionComputation and are meant to be retried.
func (s *CommissionService) Settle(ctx context.Context, paymentID uint) (*Settlement, error) {
	out := &Settlement{PaymentID: paymentID}
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("%w: load payment %d: %v", domain.ErrCommissionComputation, paymentID, err)
	}
	if p.Status != domain.StatusCompleted || p.CompletedAt == nil {
		out.Skipped = SkipNotCompleted
		return out, nil
	}
	if !p.IsPurchase() {
		out.Skipped = SkipNotPurchase
		return out, nil
	}

	ref, err := s.referrals.GetReferralByReferredUserID(ctx, p.UserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		out.Skipped = SkipNoReferral
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: referral for user %d: %v", domain.ErrCommissionComputation, p.UserID, err)
	}

	// Confirmed-referral count: every bound referral of the referrer.
	count, err := s.referrals.CountByReferrerID(ctx, ref.ReferrerID)
	if err != nil {
		return nil, fmt.Errorf("%w: count referrals of %d: %v", domain.ErrCommissionComputation, ref.ReferrerID, err)
	}
	level, err := s.referrals.LevelFor(ctx, count)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		out.Skipped = SkipNoLevel
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: level for %d referrals: %v", domain.ErrCommissionComputation, count, err)
	}

	code, err := s.referrals.GetCodeByID(ctx, ref.ReferralCodeID)
	if err != nil {
		return nil, fmt.Errorf("%w: code %d: %v", domain.ErrCommissionComputation, ref.ReferralCodeID, err)
	}
	if code.ExpiredAt(*p.CompletedAt) {
		out.Skipped = SkipWindowLapsed
		s.log.Info("commission skipped, sponsorship window lapsed",
			zap.Uint("payment_id", p.ID),
			zap.Uint("referral_id", ref.ID))
		return out, nil
	}

	earning := &models.ReferralEarning{
		ReferralID: ref.ID,
		PaymentID:  p.ID,
		ReferrerID: ref.ReferrerID,
		LevelName:  level.Name,
		Amount:     CommissionAmount(p.Amount, level.Rate),
		Currency:   p.Currency,
		Status:     domain.EarningPending,
	}
	created, err := s.referrals.CreateEarning(ctx, earning)
	if err != nil {
		return nil, fmt.Errorf("%w: create earning: %v", domain.ErrCommissionComputation, err)
	}
	if !created {
		existing, err := s.referrals.EarningsForPayment(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: load earning: %v", domain.ErrCommissionComputation, err)
		}
		out.Existing = true
		for i := range existing {
			if existing[i].ReferralID == ref.ID {
				out.Earning = &existing[i]
			}
		}
		return out, nil
	}
	out.Created = true
	out.Earning = earning
	s.log.Info("referral earning created",
		zap.Uint("payment_id", p.ID),
		zap.Uint("referral_id", ref.ID),
		zap.Uint("referrer_id", ref.ReferrerID),
		zap.String("level", level.Name),
		zap.Int64("amount", earning.Amount))
	return out, nil
}
