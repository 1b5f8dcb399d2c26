package repository

import (
	"context"
	"errors"
	"time"

	"github.com/GooferByte/finance-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrAccountNotFound indicates the account id is unknown to the store.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists indicates an account with the same id was already opened.
	ErrAccountExists = errors.New("account already exists")
	// ErrInsufficientFunds indicates a delta would leave cash below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientShares indicates a delta would leave a holding below zero.
	ErrInsufficientShares = errors.New("insufficient shares")
	// ErrConflict indicates a concurrent writer won; the delta may be retried.
	ErrConflict = errors.New("concurrent update conflict")
)

// LedgerStore abstracts persistence for accounts, holdings and history.
// ApplyDelta is the only method that mutates an existing account.
type LedgerStore interface {
	CreateAccount(ctx context.Context, id string, openingCash decimal.Decimal, at time.Time) (models.Account, error)
	GetAccount(ctx context.Context, accountID string) (models.Account, error)
	GetHolding(ctx context.Context, accountID, symbol string) (models.Holding, error)
	ListHoldings(ctx context.Context, accountID string) ([]models.Holding, error)
	ListHistory(ctx context.Context, accountID string) ([]models.HistoryEntry, error)
	ApplyDelta(ctx context.Context, delta models.Delta) (models.LedgerSnapshot, error)
}

// Check validates the post-delta balances shared by every store.
func Check(cash decimal.Decimal, shares int64) error {
	if cash.IsNegative() {
		return ErrInsufficientFunds
	}
	if shares < 0 {
		return ErrInsufficientShares
	}
	return nil
}

// OpeningEntry is the deposit row recorded when an account is opened with cash.
func OpeningEntry(accountID string, cash decimal.Decimal, at time.Time) models.HistoryEntry {
	return models.HistoryEntry{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		Kind:       models.KindDeposit,
		UnitPrice:  cash,
		TotalPrice: cash,
		Timestamp:  at,
	}
}
