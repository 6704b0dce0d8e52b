package service

import (
	"context"
	"time"

	"paycore/config"
	"paycore/internal/metrics"
	"paycore/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Settler computes the commission for one completed payment.
type Settler interface {
	Settle(ctx context.Context, paymentID uint) (*Settlement, error)
}

// CommissionWorker drains the commission_jobs outbox. Failed jobs are retried
// with capped exponential backoff and are never dropped.
type CommissionWorker struct {
	jobs    *repository.CommissionJobRepository
	settler Settler
	cfg     config.CommissionConfig
	log     *zap.Logger
	wake    chan struct{}
	now     func() time.Time
}

func NewCommissionWorker(db *gorm.DB, settler Settler, cfg config.CommissionConfig, log *zap.Logger) *CommissionWorker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	return &CommissionWorker{
		jobs:    repository.NewCommissionJobRepository(db),
		settler: settler,
		cfg:     cfg,
		log:     log,
		wake:    make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Wake asks a running worker to drain now. It never blocks.
func (w *CommissionWorker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run drains on every wake-up and poll tick until ctx is cancelled.
func (w *CommissionWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	w.log.Info("commission worker started", zap.Duration("poll_interval", w.cfg.PollInterval))
	for {
		if _, err := w.Drain(ctx); err != nil && ctx.Err() == nil {
			w.log.Error("commission drain failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			w.log.Info("commission worker stopped")
			return nil
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// DrainReport counts what one Drain did.
type DrainReport struct {
	Settled int `json:"settled"`
	Failed  int `json:"failed"`
}

// Drain processes due jobs until none are left.
func (w *CommissionWorker) Drain(ctx context.Context) (DrainReport, error) {
	var report DrainReport
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		due, err := w.jobs.Due(ctx, w.now(), w.cfg.BatchSize)
		if err != nil {
			return report, err
		}
		for _, job := range due {
			res, err := w.settler.Settle(ctx, job.PaymentID)
			if err != nil {
				attempts := job.Attempts + 1
				next := w.now().Add(w.backoff(attempts))
				if rerr := w.jobs.Reschedule(ctx, job.ID, attempts, next, err.Error()); rerr != nil {
					return report, rerr
				}
				report.Failed++
				metrics.CommissionJobs.WithLabelValues("failed").Inc()
				w.log.Error("commission settlement failed",
					zap.Uint("payment_id", job.PaymentID),
					zap.Int("attempts", attempts),
					zap.Time("next_attempt_at", next),
					zap.Error(err))
				continue
			}
			if err := w.jobs.MarkDone(ctx, job.ID, w.now()); err != nil {
				return report, err
			}
			report.Settled++
			result := "created"
			switch {
			case res.Existing:
				result = "existing"
			case res.Skipped != "":
				result = "skipped"
			}
			metrics.CommissionJobs.WithLabelValues(result).Inc()
		}
		if len(due) < w.cfg.BatchSize {
			break
		}
	}
	if n, err := w.jobs.CountPending(ctx); err == nil {
		metrics.CommissionBacklog.Set(float64(n))
	}
	return report, nil
}

// maxCommissionBackoff bounds retry delay when no smaller MaxBackoff is configured.
const maxCommissionBackoff = 24 * time.Hour

func (w *CommissionWorker) backoff(attempts int) time.Duration {
	d := w.cfg.BaseBackoff
	if d <= 0 {
		d = 5 * time.Second
	}
	ceiling := w.cfg.MaxBackoff
	if ceiling <= 0 || ceiling > maxCommissionBackoff {
		ceiling = maxCommissionBackoff
	}
	for i := 1; i < attempts && d < ceiling; i++ {
		d *= 2
	}
	if d > ceiling {
		return ceiling
	}
	return d
}
