package repository

import (
	"context"
	"errors"
	"fmt"

	"paycore/internal/domain"
	"paycore/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WalletRepository is the append-only wallet ledger. Wallet.Balance is only ever
// changed in the same transaction that inserts the entry explaining it.
type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

// WithTx binds the repository to an open transaction.
func (r *WalletRepository) WithTx(tx *gorm.DB) *WalletRepository {
	return &WalletRepository{db: tx}
}

func (r *WalletRepository) GetByID(ctx context.Context, id uint) (*models.Wallet, error) {
	var w models.Wallet
	if err := r.db.WithContext(ctx).First(&w, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (r *WalletRepository) Get(ctx context.Context, ownerID uint, currency string) (*models.Wallet, error) {
	var w models.Wallet
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND currency = ?", ownerID, currency).
		First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// GetOrCreate returns the owner's wallet in currency, creating an empty one if needed.
func (r *WalletRepository) GetOrCreate(ctx context.Context, ownerID uint, currency string) (*models.Wallet, error) {
	w, err := r.Get(ctx, ownerID, currency)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, domain.ErrWalletNotFound) {
		return nil, err
	}
	w = &models.Wallet{OwnerID: ownerID, Currency: currency}
	// A concurrent creator may win the unique index; read theirs back.
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(w).Error; err != nil {
		return nil, err
	}
	return r.Get(ctx, ownerID, currency)
}

// Append records one signed movement and updates the cached balance.
// (walletID, reason, correlationID) is unique: a repeat fails with
// domain.ErrDuplicateEntry. A debit that would take the balance below zero fails
// with domain.ErrInsufficientFunds. Nothing is written on failure.
func (r *WalletRepository) Append(ctx context.Context, walletID uint, amount int64, reason, correlationID string) (*models.LedgerEntry, error) {
	if amount == 0 {
		return nil, domain.ErrInvalidAmount
	}
	var entry *models.LedgerEntry
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var w models.Wallet
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&w, walletID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrWalletNotFound
			}
			return err
		}

		var dup int64
		if err := tx.Model(&models.LedgerEntry{}).
			Where("wallet_id = ? AND reason = ? AND correlation_id = ?", walletID, reason, correlationID).
			Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			return domain.ErrDuplicateEntry
		}
		if w.Balance+amount < 0 {
			return domain.ErrInsufficientFunds
		}

		entry = &models.LedgerEntry{
			WalletID:      walletID,
			Amount:        amount,
			Reason:        reason,
			CorrelationID: correlationID,
		}
		if err := tx.Create(entry).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrDuplicateEntry
			}
			return err
		}
		return tx.Model(&models.Wallet{}).
			Where("id = ?", walletID).
			Update("balance", gorm.Expr("balance + ?", amount)).Error
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *WalletRepository) BalanceOf(ctx context.Context, walletID uint) (int64, error) {
	w, err := r.GetByID(ctx, walletID)
	if err != nil {
		return 0, err
	}
	return w.Balance, nil
}

// ReplayBalance recomputes the balance from the entries alone.
func (r *WalletRepository) ReplayBalance(ctx context.Context, walletID uint) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("wallet_id = ?", walletID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, err
}

func (r *WalletRepository) Entries(ctx context.Context, walletID uint, limit, offset int) ([]models.LedgerEntry, error) {
	var list []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("id DESC").
		Limit(limit).Offset(offset).
		Find(&list).Error
	return list, err
}

func (r *WalletRepository) HasEntry(ctx context.Context, walletID uint, reason, correlationID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("wallet_id = ? AND reason = ? AND correlation_id = ?", walletID, reason, correlationID).
		Count(&n).Error
	return n > 0, err
}

// BalanceDrift is a wallet whose cached balance disagrees with its entries.
type BalanceDrift struct {
	WalletID uint  `json:"wallet_id"`
	Cached   int64 `json:"cached"`
	Replayed int64 `json:"replayed"`
}

// VerifyAll compares every cached balance with the sum of its entries.
func (r *WalletRepository) VerifyAll(ctx context.Context) ([]BalanceDrift, error) {
	var rows []BalanceDrift
	err := r.db.WithContext(ctx).Raw(`
		SELECT w.id AS wallet_id, w.balance AS cached, COALESCE(SUM(e.amount), 0) AS replayed
		FROM wallets w
		LEFT JOIN ledger_entries e ON e.wallet_id = w.id
		GROUP BY w.id, w.balance
		HAVING w.balance <> COALESCE(SUM(e.amount), 0)
		ORDER BY w.id`).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("verify balances: %w", err)
	}
	return rows, nil
}

// Rebuild overwrites the cached balance with the replayed one.
func (r *WalletRepository) Rebuild(ctx context.Context, walletID uint) (int64, error) {
	var balance int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var w models.Wallet
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&w, walletID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrWalletNotFound
			}
			return err
		}
		sum, err := r.WithTx(tx).ReplayBalance(ctx, walletID)
		if err != nil {
			return err
		}
		balance = sum
		return tx.Model(&w).Update("balance", sum).Error
	})
	return balance, err
}
