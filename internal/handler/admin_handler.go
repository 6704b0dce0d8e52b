package handler

import (
	"net/http"

	"paycore/internal/repository"
	"paycore/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AdminHandler struct {
	reconciler *service.Reconciler
	worker     *service.CommissionWorker
	walletRepo *repository.WalletRepository
	log        *zap.Logger
}

func NewAdminHandler(reconciler *service.Reconciler, worker *service.CommissionWorker, walletRepo *repository.WalletRepository, log *zap.Logger) *AdminHandler {
	return &AdminHandler{reconciler: reconciler, worker: worker, walletRepo: walletRepo, log: log}
}

// Reconcile runs one reconciliation pass now.
// POST /api/v1/admin/reconcile
func (h *AdminHandler) Reconcile(c *gin.Context) {
	report, err := h.reconciler.RunOnce(c.Request.Context())
	if err != nil {
		h.log.Error("manual reconciliation failed", zap.Error(err))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// DrainCommissions settles every due commission job now.
// POST /api/v1/admin/commissions/drain
func (h *AdminHandler) DrainCommissions(c *gin.Context) {
	report, err := h.worker.Drain(c.Request.Context())
	if err != nil {
		h.log.Error("manual commission drain failed", zap.Error(err))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// VerifyLedger lists wallets whose cached balance differs from their entries.
// GET /api/v1/admin/ledger/verify
func (h *AdminHandler) VerifyLedger(c *gin.Context) {
	drift, err := h.walletRepo.VerifyAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"drift": drift, "ok": len(drift) == 0})
}
