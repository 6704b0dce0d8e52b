package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"paycore/config"
	"paycore/internal/domain"
	"paycore/internal/idempotency"
	"paycore/internal/metrics"
	"paycore/internal/models"
	"paycore/internal/repository"
	"paycore/pkg/payment"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Outcome of applying one status event to a payment.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeNoOp     Outcome = "noop"
	OutcomeRejected Outcome = "rejected"
)

// Event is a reported status for one payment, from a webhook or a poll.
type Event struct {
	PaymentID   uint
	Reference   string // transaction or gateway id; used when PaymentID is zero
	Status      domain.PaymentStatus
	FailureCode string
	Source      string
	Raw         string
}

type Result struct {
	Outcome Outcome
	Payment *models.Payment
	From    domain.PaymentStatus
	// Reason is ErrDuplicateDelivery for duplicate NoOps and ErrInvalidTransition
	// for rejections.
	Reason error
}

// RequestMeta identifies the caller of a webhook for the audit trail.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// PaymentService is the only writer of payment status. Every mutation for one
// payment runs under its keyed lock and a row lock, in one transaction with the
// ledger append it causes.
type PaymentService struct {
	db       *gorm.DB
	payments *repository.PaymentRepository
	wallets  *repository.WalletRepository
	jobs     *repository.CommissionJobRepository
	audit    *repository.AuditLogRepository
	idem     idempotency.Store
	gateways *payment.Registry
	notifier *NotificationService
	locks    *KeyedMutex
	cfg      config.GatewayConfig
	log      *zap.Logger
	now      func() time.Time

	onCommissionQueued func()
}

func NewPaymentService(
	db *gorm.DB,
	idem idempotency.Store,
	gateways *payment.Registry,
	notifier *NotificationService,
	cfg config.GatewayConfig,
	log *zap.Logger,
) *PaymentService {
	return &PaymentService{
		db:       db,
		payments: repository.NewPaymentRepository(db),
		wallets:  repository.NewWalletRepository(db),
		jobs:     repository.NewCommissionJobRepository(db),
		audit:    repository.NewAuditLogRepository(db),
		idem:     idem,
		gateways: gateways,
		notifier: notifier,
		locks:    NewKeyedMutex(),
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// OnCommissionQueued registers a callback run after a purchase completion commits.
func (s *PaymentService) OnCommissionQueued(fn func()) {
	s.onCommissionQueued = fn
}

func (s *PaymentService) Get(ctx context.Context, id uint) (*models.Payment, error) {
	return s.payments.GetByID(ctx, id)
}

// ListByUser returns the user's payments, newest first.
func (s *PaymentService) ListByUser(ctx context.Context, userID uint, limit, offset int) ([]models.Payment, error) {
	return s.payments.ListByUserID(ctx, userID, limit, offset)
}

// CheckoutRequest starts a payment.
type CheckoutRequest struct {
	UserID      uint
	Amount      int64
	Currency    string
	Kind        string
	Gateway     string
	Description string
	Email       string
	Phone       string
	Metadata    map[string]interface{}
}

// Initiate creates a pending payment and hands it to the gateway. If the gateway
// call fails the payment stays pending and the returned error wraps
// payment.ErrGatewayUnreachable or payment.ErrRejected; reconciliation picks it
// up like any other stale payment.
func (s *PaymentService) Initiate(ctx context.Context, req CheckoutRequest) (*models.Payment, error) {
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if !domain.ValidKind(req.Kind) {
		return nil, domain.ErrInvalidKind
	}
	if req.Currency == "" {
		req.Currency = domain.DefaultCurrency
	}
	req.Currency = strings.ToUpper(req.Currency)
	gw, err := s.gateways.Get(req.Gateway)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownGateway, req.Gateway)
	}
	wallet, err := s.wallets.GetOrCreate(ctx, req.UserID, req.Currency)
	if err != nil {
		return nil, err
	}

	meta := map[string]interface{}{}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta["kind"] = req.Kind
	metaJSON, _ := json.Marshal(meta)

	p := &models.Payment{
		UserID:        req.UserID,
		WalletID:      wallet.ID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Status:        domain.StatusPending,
		Kind:          req.Kind,
		Gateway:       gw.Kind(),
		TransactionID: strings.ReplaceAll(uuid.NewString(), "-", ""),
		Metadata:      string(metaJSON),
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, err
	}

	resp, err := gw.Initiate(ctx, payment.InitiateRequest{
		TransactionID: p.TransactionID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Description:   req.Description,
		CustomerID:    req.UserID,
		CustomerEmail: req.Email,
		CustomerPhone: req.Phone,
		NotifyURL:     strings.TrimRight(s.cfg.NotifyBaseURL, "/") + "/api/v1/webhooks/" + gw.Kind(),
		ReturnURL:     s.cfg.ReturnURL,
	})
	if err != nil {
		s.log.Error("gateway initiate failed",
			zap.Uint("payment_id", p.ID),
			zap.String("transaction_id", p.TransactionID),
			zap.String("gateway", p.Gateway),
			zap.Error(err))
		if errors.Is(err, payment.ErrRejected) {
			// A refusal is final; only unreachable gateways leave the payment for reconciliation.
			res, aerr := s.Apply(ctx, Event{
				PaymentID:   p.ID,
				Status:      domain.StatusFailed,
				FailureCode: domain.FailureGatewayError,
				Source:      domain.SourceCheckout,
			})
			if aerr != nil {
				s.log.Warn("fail rejected checkout", zap.Uint("payment_id", p.ID), zap.Error(aerr))
			} else {
				p = res.Payment
			}
		}
		return p, err
	}
	if err := s.payments.AttachGateway(ctx, p.ID, resp.ExternalID, resp.RedirectURL, string(resp.Raw)); err != nil {
		return p, err
	}
	if resp.ExternalID != "" {
		ext := resp.ExternalID
		p.ExternalID = &ext
	}
	p.RedirectURL = resp.RedirectURL
	p.GatewayResponse = string(resp.Raw)
	s.log.Info("payment initiated",
		zap.Uint("payment_id", p.ID),
		zap.String("transaction_id", p.TransactionID),
		zap.String("gateway", p.Gateway),
		zap.String("kind", p.Kind),
		zap.Int64("amount", p.Amount))
	return p, nil
}

// HandleWebhook authenticates a gateway notification, fetches the authoritative
// status when the payload does not carry a trusted one, and applies it. Gateway
// calls happen before any lock is taken.
func (s *PaymentService) HandleWebhook(ctx context.Context, gatewayKind string, r *http.Request, meta RequestMeta) (*Result, error) {
	gw, err := s.gateways.Get(gatewayKind)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownGateway, gatewayKind)
	}
	n, err := gw.ParseWebhook(ctx, r)
	if err != nil {
		if errors.Is(err, payment.ErrSignatureInvalid) {
			metrics.Webhooks.WithLabelValues(gatewayKind, "signature_invalid").Inc()
			s.log.Warn("webhook signature invalid", zap.String("gateway", gatewayKind), zap.String("ip", meta.IP))
			s.recordAudit(ctx, "WEBHOOK_SIGNATURE_INVALID", gatewayKind, "", meta, nil)
		} else {
			metrics.Webhooks.WithLabelValues(gatewayKind, "error").Inc()
		}
		return nil, err
	}

	p, err := s.payments.GetByReference(ctx, n.Reference)
	if err != nil {
		metrics.Webhooks.WithLabelValues(gatewayKind, "unknown_payment").Inc()
		return nil, err
	}
	if p.Gateway != gw.Kind() {
		s.log.Warn("webhook gateway mismatch",
			zap.Uint("payment_id", p.ID),
			zap.String("gateway", gatewayKind),
			zap.String("payment_gateway", p.Gateway))
		return nil, domain.ErrPaymentNotFound
	}

	ev := Event{
		PaymentID:   p.ID,
		FailureCode: n.FailureCode,
		Source:      domain.SourceWebhook,
		Raw:         string(n.Raw),
	}
	if n.Trusted {
		ev.Status, err = domain.ParseStatus(string(n.Status))
		if err != nil {
			metrics.Webhooks.WithLabelValues(gatewayKind, string(OutcomeRejected)).Inc()
			s.log.Warn("webhook reported unknown status", zap.Uint("payment_id", p.ID), zap.String("status", string(n.Status)))
			return &Result{Outcome: OutcomeRejected, Payment: p, From: p.Status, Reason: domain.ErrInvalidTransition}, nil
		}
	} else {
		v, err := gw.Verify(ctx, p.Reference())
		if err != nil {
			metrics.Webhooks.WithLabelValues(gatewayKind, "error").Inc()
			return nil, err
		}
		if err := s.checkVerification(ctx, p, v); err != nil {
			return nil, err
		}
		ev.Status = domain.PaymentStatus(v.Status)
		ev.FailureCode = v.FailureCode
		ev.Raw = string(v.Raw)
	}

	res, err := s.Apply(ctx, ev)
	if err != nil {
		metrics.Webhooks.WithLabelValues(gatewayKind, "error").Inc()
		return nil, err
	}
	result := string(res.Outcome)
	if errors.Is(res.Reason, domain.ErrDuplicateDelivery) {
		result = "duplicate"
	}
	metrics.Webhooks.WithLabelValues(gatewayKind, result).Inc()
	return res, nil
}

// checkVerification refuses to act on a verified completion whose amount differs
// from what was charged.
func (s *PaymentService) checkVerification(ctx context.Context, p *models.Payment, v *payment.Verification) error {
	if v.Status != payment.StatusCompleted || v.Amount == 0 || v.Amount == p.Amount {
		return nil
	}
	s.log.Error("gateway amount mismatch",
		zap.Uint("payment_id", p.ID),
		zap.Int64("expected", p.Amount),
		zap.Int64("reported", v.Amount))
	s.recordAudit(ctx, "PAYMENT_AMOUNT_MISMATCH", "payment", strconv.FormatUint(uint64(p.ID), 10), RequestMeta{}, map[string]interface{}{
		"expected": p.Amount,
		"reported": v.Amount,
	})
	return domain.ErrAmountMismatch
}

// Apply drives one payment toward ev.Status.
//
// Returned errors are infrastructure failures or a refund that would overdraw
// the wallet (domain.ErrInsufficientFunds); in both cases nothing was written.
// Duplicates and illegal transitions are reported through Result.
func (s *PaymentService) Apply(ctx context.Context, ev Event) (*Result, error) {
	var (
		p   *models.Payment
		err error
	)
	if ev.PaymentID != 0 {
		p, err = s.payments.GetByID(ctx, ev.PaymentID)
	} else {
		p, err = s.payments.GetByReference(ctx, ev.Reference)
	}
	if err != nil {
		return nil, err
	}
	if !ev.Status.Valid() {
		s.logRejected(ctx, p, ev)
		return &Result{Outcome: OutcomeRejected, Payment: p, From: p.Status, Reason: domain.ErrInvalidTransition}, nil
	}

	key := idempotency.EventKey(p.TransactionID, ev.Status)
	seen, err := s.idem.Remember(ctx, key)
	if err != nil {
		// The ledger's duplicate guard stays authoritative without the cache.
		s.log.Warn("idempotency store unavailable", zap.String("key", key), zap.Error(err))
		seen = idempotency.FirstSeen
	} else if seen == idempotency.AlreadySeen && p.Status == ev.Status {
		return &Result{Outcome: OutcomeNoOp, Payment: p, From: p.Status, Reason: domain.ErrDuplicateDelivery}, nil
	}

	res, err := s.applyLocked(ctx, p.ID, ev)
	if err != nil {
		if seen == idempotency.FirstSeen {
			if ferr := s.idem.Forget(ctx, key); ferr != nil {
				s.log.Warn("idempotency forget failed", zap.String("key", key), zap.Error(ferr))
			}
		}
		s.log.Error("payment apply failed",
			zap.Uint("payment_id", p.ID),
			zap.String("to", string(ev.Status)),
			zap.String("source", ev.Source),
			zap.Error(err))
		return nil, err
	}

	switch res.Outcome {
	case OutcomeRejected:
		if seen == idempotency.AlreadySeen {
			// A replay of an event that was applied earlier and has since been
			// superseded, e.g. "completed" after a refund.
			s.log.Warn("replayed event no longer applies",
				zap.Uint("payment_id", res.Payment.ID),
				zap.String("transaction_id", res.Payment.TransactionID),
				zap.String("from", string(res.From)),
				zap.String("to", string(ev.Status)),
				zap.String("source", ev.Source))
			res.Outcome, res.Reason = OutcomeNoOp, domain.ErrDuplicateDelivery
			return res, nil
		}
		s.logRejected(ctx, res.Payment, ev)
	case OutcomeApplied:
		s.afterCommit(ctx, res, ev)
	}
	return res, nil
}

func (s *PaymentService) applyLocked(ctx context.Context, paymentID uint, ev Event) (*Result, error) {
	unlock := s.locks.Lock(paymentID)
	defer unlock()

	var res *Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payments := s.payments.WithTx(tx)
		p, err := payments.LockByID(ctx, paymentID)
		if err != nil {
			return err
		}
		from := p.Status
		if from == ev.Status {
			res = &Result{Outcome: OutcomeNoOp, Payment: p, From: from, Reason: domain.ErrDuplicateDelivery}
			return nil
		}
		path, ok := domain.TransitionPath(from, ev.Status)
		if !ok {
			res = &Result{Outcome: OutcomeRejected, Payment: p, From: from, Reason: domain.ErrInvalidTransition}
			return nil
		}

		now := s.now()
		for _, next := range path {
			if err := s.enter(ctx, tx, p, next, now); err != nil {
				return err
			}
		}
		p.Status = ev.Status
		if ev.Raw != "" {
			p.GatewayResponse = ev.Raw
		}
		switch ev.Status {
		case domain.StatusFailed, domain.StatusCancelled:
			p.FailureCode = failureCodeFor(ev)
		}
		if err := payments.Update(ctx, p); err != nil {
			return err
		}
		res = &Result{Outcome: OutcomeApplied, Payment: p, From: from}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// enter runs the side effects of moving p into status inside tx.
func (s *PaymentService) enter(ctx context.Context, tx *gorm.DB, p *models.Payment, status domain.PaymentStatus, now time.Time) error {
	wallets := s.wallets.WithTx(tx)
	correlation := strconv.FormatUint(uint64(p.ID), 10)
	switch status {
	case domain.StatusCompleted:
		p.CompletedAt = &now
		if _, err := wallets.Append(ctx, p.WalletID, p.Amount, domain.ReasonPurchaseCredit, correlation); err != nil {
			return fmt.Errorf("credit payment %d: %w", p.ID, err)
		}
		if p.IsPurchase() {
			if err := s.jobs.WithTx(tx).Enqueue(ctx, p.ID, now); err != nil {
				return fmt.Errorf("queue commission for payment %d: %w", p.ID, err)
			}
		}
	case domain.StatusRefunded:
		if _, err := wallets.Append(ctx, p.WalletID, -p.Amount, domain.ReasonRefundDebit, correlation); err != nil {
			return fmt.Errorf("refund payment %d: %w", p.ID, err)
		}
	}
	return nil
}

func failureCodeFor(ev Event) string {
	if ev.FailureCode != "" {
		return ev.FailureCode
	}
	if ev.Status == domain.StatusCancelled {
		return domain.FailureCancelledByUser
	}
	return domain.FailureUnknown
}

func (s *PaymentService) afterCommit(ctx context.Context, res *Result, ev Event) {
	p := res.Payment
	path, _ := domain.TransitionPath(res.From, p.Status)
	from := res.From
	for _, next := range path {
		metrics.Transitions.WithLabelValues(string(from), string(next), ev.Source).Inc()
		from = next
	}
	switch p.Status {
	case domain.StatusCompleted:
		metrics.LedgerAppends.WithLabelValues(domain.ReasonPurchaseCredit).Inc()
		if p.IsPurchase() && s.onCommissionQueued != nil {
			s.onCommissionQueued()
		}
	case domain.StatusRefunded:
		metrics.LedgerAppends.WithLabelValues(domain.ReasonRefundDebit).Inc()
	}
	s.log.Info("payment transition applied",
		zap.Uint("payment_id", p.ID),
		zap.String("transaction_id", p.TransactionID),
		zap.String("gateway", p.Gateway),
		zap.String("from", string(res.From)),
		zap.String("to", string(p.Status)),
		zap.String("source", ev.Source))

	if p.Status.NotifiesPayer() && s.notifier != nil {
		if err := s.notifier.NotifyPaymentOutcome(ctx, p); err != nil {
			s.log.Warn("payment notification failed", zap.Uint("payment_id", p.ID), zap.Error(err))
		}
	}
}

func (s *PaymentService) logRejected(ctx context.Context, p *models.Payment, ev Event) {
	s.log.Warn("invalid payment transition",
		zap.Uint("payment_id", p.ID),
		zap.String("transaction_id", p.TransactionID),
		zap.String("from", string(p.Status)),
		zap.String("to", string(ev.Status)),
		zap.String("source", ev.Source))
	s.recordAudit(ctx, "PAYMENT_TRANSITION_REJECTED", "payment", strconv.FormatUint(uint64(p.ID), 10), RequestMeta{}, map[string]interface{}{
		"from":   p.Status,
		"to":     ev.Status,
		"source": ev.Source,
	})
}

func (s *PaymentService) recordAudit(ctx context.Context, action, resource, resourceID string, meta RequestMeta, data map[string]interface{}) {
	var metaJSON string
	if data != nil {
		b, _ := json.Marshal(data)
		metaJSON = string(b)
	}
	err := s.audit.Create(ctx, &models.AuditLog{
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
		Metadata:   metaJSON,
	})
	if err != nil {
		s.log.Warn("audit log write failed", zap.String("action", action), zap.Error(err))
	}
}
