package service

import (
	"context"
	"errors"
	"time"

	"paycore/config"
	"paycore/internal/domain"
	"paycore/internal/metrics"
	"paycore/internal/models"
	"paycore/internal/repository"
	"paycore/pkg/payment"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReconcileReport counts what one pass did.
type ReconcileReport struct {
	Checked     int `json:"checked"`
	Applied     int `json:"applied"`
	Unchanged   int `json:"unchanged"`
	Rejected    int `json:"rejected"`
	Unreachable int `json:"unreachable"`
	Skipped     int `json:"skipped"`
	Errors      int `json:"errors"`
}

// Reconciler polls gateways for payments stuck in pending or processing and feeds
// the answers through PaymentService.Apply. It never fails a payment on its own;
// a payment stays open until the gateway says otherwise.
type Reconciler struct {
	payments *repository.PaymentRepository
	gateways *payment.Registry
	svc      *PaymentService
	cfg      config.ReconciliationConfig
	log      *zap.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewReconciler(db *gorm.DB, gateways *payment.Registry, svc *PaymentService, cfg config.ReconciliationConfig, log *zap.Logger) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.VerifyAttempts <= 0 {
		cfg.VerifyAttempts = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Reconciler{
		payments: repository.NewPaymentRepository(db),
		gateways: gateways,
		svc:      svc,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run reconciles once per interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	r.log.Info("reconciliation scheduler started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Duration("stale_after", r.cfg.StaleAfter))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconciliation scheduler stopped")
			return nil
		case <-ticker.C:
			report, err := r.RunOnce(ctx)
			if err != nil && ctx.Err() == nil {
				r.log.Error("reconciliation pass failed", zap.Error(err))
				continue
			}
			if report.Checked > 0 {
				r.log.Info("reconciliation pass",
					zap.Int("checked", report.Checked),
					zap.Int("applied", report.Applied),
					zap.Int("unreachable", report.Unreachable))
			}
		}
	}
}

// RunOnce checks one batch of stale open payments. A payment checked during this
// pass is not selected again until the next interval.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	now := r.now()
	stale, err := r.payments.ListStale(ctx, now.Add(-r.cfg.StaleAfter), now.Add(-r.cfg.Interval), r.cfg.BatchSize)
	if err != nil {
		return report, err
	}
	for i := range stale {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		r.reconcileOne(ctx, &stale[i], &report)
	}
	return report, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, p *models.Payment, report *ReconcileReport) {
	log := r.log.With(zap.Uint("payment_id", p.ID), zap.String("gateway", p.Gateway))
	gw, err := r.gateways.Get(p.Gateway)
	if err != nil {
		report.Skipped++
		log.Warn("no adapter for payment gateway")
		return
	}

	v, err := r.verify(ctx, gw, p.Reference())
	if markErr := r.payments.MarkChecked(ctx, p.ID, r.now()); markErr != nil {
		log.Warn("mark checked failed", zap.Error(markErr))
	}
	report.Checked++
	if errors.Is(err, payment.ErrUnknownTransaction) && p.ExternalID == nil {
		// Checkout never reached the gateway, so nothing can settle it there.
		log.Warn("gateway has no record of checkout, failing payment", zap.String("transaction_id", p.TransactionID))
		v, err = &payment.Verification{Status: payment.StatusFailed, FailureCode: domain.FailureExpired}, nil
	}
	switch {
	case errors.Is(err, payment.ErrVerifyUnsupported):
		report.Skipped++
		metrics.ReconcileChecks.WithLabelValues(p.Gateway, "unsupported").Inc()
		return
	case errors.Is(err, payment.ErrGatewayUnreachable):
		report.Unreachable++
		metrics.ReconcileChecks.WithLabelValues(p.Gateway, "unreachable").Inc()
		log.Warn("gateway unreachable, payment left open", zap.Int("check_attempts", p.CheckAttempts+1), zap.Error(err))
		return
	case err != nil:
		report.Errors++
		metrics.ReconcileChecks.WithLabelValues(p.Gateway, "error").Inc()
		log.Error("gateway verify failed", zap.Error(err))
		return
	}
	metrics.ReconcileChecks.WithLabelValues(p.Gateway, "ok").Inc()

	status := domain.PaymentStatus(v.Status)
	if status == p.Status {
		report.Unchanged++
		return
	}
	if err := r.svc.checkVerification(ctx, p, v); err != nil {
		report.Errors++
		return
	}
	res, err := r.svc.Apply(ctx, Event{
		PaymentID:   p.ID,
		Status:      status,
		FailureCode: v.FailureCode,
		Source:      domain.SourceReconciliation,
		Raw:         string(v.Raw),
	})
	if err != nil {
		report.Errors++
		return
	}
	switch res.Outcome {
	case OutcomeApplied:
		report.Applied++
	case OutcomeRejected:
		report.Rejected++
	default:
		report.Unchanged++
	}
}

// verify retries only ErrGatewayUnreachable, doubling the wait each time.
func (r *Reconciler) verify(ctx context.Context, gw payment.Gateway, ref string) (*payment.Verification, error) {
	backoff := r.cfg.VerifyBackoff
	var lastErr error
	for attempt := 1; attempt <= r.cfg.VerifyAttempts; attempt++ {
		v, err := gw.Verify(ctx, ref)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !errors.Is(err, payment.ErrGatewayUnreachable) || attempt == r.cfg.VerifyAttempts {
			break
		}
		if err := r.sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
	return nil, lastErr
}
