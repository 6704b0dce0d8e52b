package handler

import (
	"net/http"
	"strings"

	"paycore/internal/domain"
	"paycore/internal/metrics"
	"paycore/internal/repository"

	"github.com/gin-gonic/gin"
)

type WalletHandler struct {
	walletRepo *repository.WalletRepository
}

func NewWalletHandler(walletRepo *repository.WalletRepository) *WalletHandler {
	return &WalletHandler{walletRepo: walletRepo}
}

func currencyParam(c *gin.Context) string {
	return strings.ToUpper(c.DefaultQuery("currency", domain.DefaultCurrency))
}

// GetBalance returns the owner's balance in one currency.
// GET /api/v1/wallets/:owner_id?currency=XAF
func (h *WalletHandler) GetBalance(c *gin.Context) {
	ownerID, ok := paramID(c, "owner_id")
	if !ok {
		return
	}
	w, err := h.walletRepo.Get(c.Request.Context(), ownerID, currencyParam(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"wallet_id": w.ID,
		"owner_id":  w.OwnerID,
		"balance":   w.Balance,
		"currency":  w.Currency,
	})
}

// ListEntries returns ledger entries, newest first.
// GET /api/v1/wallets/:owner_id/entries?currency=XAF
func (h *WalletHandler) ListEntries(c *gin.Context) {
	ownerID, ok := paramID(c, "owner_id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	w, err := h.walletRepo.Get(ctx, ownerID, currencyParam(c))
	if err != nil {
		respondError(c, err)
		return
	}
	limit, offset := page(c)
	entries, err := h.walletRepo.Entries(ctx, w.ID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "balance": w.Balance})
}

type debitRequest struct {
	Amount    int64  `json:"amount" binding:"required,gt=0"`
	Currency  string `json:"currency" binding:"omitempty,len=3"`
	Reference string `json:"reference" binding:"required,max=128"`
}

// Debit spends from the wallet. Reference identifies the purchase; repeating
// it is rejected with 409 instead of charging twice.
// POST /api/v1/wallets/:owner_id/debit
func (h *WalletHandler) Debit(c *gin.Context) {
	ownerID, ok := paramID(c, "owner_id")
	if !ok {
		return
	}
	var req debitRequest
	if !bindJSON(c, &req) {
		return
	}
	currency := domain.DefaultCurrency
	if req.Currency != "" {
		currency = strings.ToUpper(req.Currency)
	}
	ctx := c.Request.Context()
	w, err := h.walletRepo.Get(ctx, ownerID, currency)
	if err != nil {
		respondError(c, err)
		return
	}
	entry, err := h.walletRepo.Append(ctx, w.ID, -req.Amount, domain.ReasonPurchaseDebit, req.Reference)
	if err != nil {
		respondError(c, err)
		return
	}
	metrics.LedgerAppends.WithLabelValues(domain.ReasonPurchaseDebit).Inc()
	balance, err := h.walletRepo.BalanceOf(ctx, w.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entry": entry, "balance": balance})
}
