package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"paycore/config"
	"paycore/internal/domain"
	"paycore/internal/models"
	"paycore/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SponsorshipService binds referred users to referrers. A binding is made once
// and never changed; commission only trusts these rows.
type SponsorshipService struct {
	referrals *repository.ReferralRepository
	cfg       config.ReferralConfig
	log       *zap.Logger
	now       func() time.Time
}

func NewSponsorshipService(db *gorm.DB, cfg config.ReferralConfig, log *zap.Logger) *SponsorshipService {
	return &SponsorshipService{
		referrals: repository.NewReferralRepository(db),
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// Bind attaches referredUserID to the owner of code.
func (s *SponsorshipService) Bind(ctx context.Context, referredUserID uint, code string) (*models.Referral, error) {
	code = strings.TrimSpace(strings.ToLower(code))
	if code == "" {
		return nil, domain.ErrReferralCodeNotFound
	}
	rc, err := s.referrals.GetCode(ctx, code)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !rc.IsActive {
		return nil, domain.ErrReferralCodeInactive
	}
	if rc.ExpiredAt(now) {
		return nil, domain.ErrReferralCodeExpired
	}
	if rc.OwnerID == referredUserID {
		return nil, domain.ErrSelfReferral
	}
	if _, err := s.referrals.GetReferralByReferredUserID(ctx, referredUserID); err == nil {
		return nil, domain.ErrAlreadyReferred
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	ref := &models.Referral{
		ReferrerID:     rc.OwnerID,
		ReferredUserID: referredUserID,
		ReferralCodeID: rc.ID,
		BoundAt:        now,
	}
	// The unique index on referred_user_id settles concurrent binds.
	if err := s.referrals.CreateReferral(ctx, ref); err != nil {
		return nil, err
	}
	s.log.Info("referral bound",
		zap.Uint("referrer_id", ref.ReferrerID),
		zap.Uint("referred_user_id", referredUserID),
		zap.Uint("referral_id", ref.ID))
	return ref, nil
}

// Code returns the owner's referral code, issuing one valid for the configured
// window if they have none.
func (s *SponsorshipService) Code(ctx context.Context, ownerID uint) (*models.ReferralCode, error) {
	var expiresAt *time.Time
	if s.cfg.CodeValidity > 0 {
		t := s.now().Add(s.cfg.CodeValidity)
		expiresAt = &t
	}
	return s.referrals.GetOrCreateCode(ctx, ownerID, expiresAt)
}

// Levels returns the commission tiers, lowest threshold first.
func (s *SponsorshipService) Levels(ctx context.Context) ([]models.ReferralLevel, error) {
	return s.referrals.Levels(ctx)
}

func (s *SponsorshipService) SetCodeActive(ctx context.Context, ownerID uint, active bool) error {
	return s.referrals.SetCodeActive(ctx, ownerID, active)
}

func (s *SponsorshipService) Referrals(ctx context.Context, referrerID uint, limit, offset int) ([]models.Referral, int64, error) {
	list, err := s.referrals.ListByReferrerID(ctx, referrerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.referrals.CountByReferrerID(ctx, referrerID)
	return list, total, err
}
