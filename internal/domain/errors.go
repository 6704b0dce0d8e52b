package domain

import "errors"

var (
	ErrInvalidTransition     = errors.New("invalid payment status transition")
	ErrDuplicateDelivery     = errors.New("duplicate event delivery")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrDuplicateEntry        = errors.New("duplicate ledger entry")
	ErrCommissionComputation = errors.New("commission computation failed")

	ErrPaymentNotFound = errors.New("payment not found")
	ErrWalletNotFound  = errors.New("wallet not found")
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrInvalidKind     = errors.New("unknown payment kind")
	ErrUnknownGateway  = errors.New("unknown payment gateway")
	ErrAmountMismatch  = errors.New("gateway amount does not match payment")

	ErrReferralCodeNotFound = errors.New("referral code not found")
	ErrReferralCodeInactive = errors.New("referral code is inactive")
	ErrReferralCodeExpired  = errors.New("referral code has expired")
	ErrSelfReferral         = errors.New("a user cannot refer themselves")
	ErrAlreadyReferred      = errors.New("user already has a referrer")

	ErrEarningNotFound = errors.New("referral earning not found")
	ErrEarningSettled  = errors.New("referral earning already settled")
)
