package service

import (
	"errors"

	"github.com/GooferByte/finance-ledger/internal/pricing"
	"github.com/GooferByte/finance-ledger/internal/repository"
)

var (
	ErrInvalidQuantity  = errors.New("invalid quantity")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidAccount   = errors.New("invalid account id")
	ErrConcurrentUpdate = errors.New("concurrent update conflict")

	ErrUnknownSymbol    = pricing.ErrSymbolNotFound
	ErrQuoteUnavailable = pricing.ErrQuoteUnavailable

	ErrInsufficientFunds  = repository.ErrInsufficientFunds
	ErrInsufficientShares = repository.ErrInsufficientShares
	ErrAccountNotFound    = repository.ErrAccountNotFound
	ErrAccountExists      = repository.ErrAccountExists
)

// Kind returns a stable machine-readable code for err, or "" for nil.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownSymbol):
		return "unknown_symbol"
	case errors.Is(err, ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidAccount):
		return "invalid_account"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, ErrQuoteUnavailable):
		return "quote_unavailable"
	case errors.Is(err, ErrConcurrentUpdate):
		return "concurrent_update_conflict"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrAccountExists):
		return "account_exists"
	default:
		return "internal"
	}
}
