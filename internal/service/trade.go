package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/GooferByte/finance-ledger/internal/events"
	"github.com/GooferByte/finance-ledger/internal/models"
	"github.com/GooferByte/finance-ledger/internal/pricing"
	"github.com/GooferByte/finance-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Options tunes a TradeService. Zero values fall back to defaults.
type Options struct {
	OpeningCash       decimal.Decimal
	MaxRetries        int
	LookupConcurrency int
	PublishTimeout    time.Duration
}

// TradeService is the transaction engine: it validates buy, sell and deposit
// requests and hands each one to the store as a single atomic delta.
type TradeService struct {
	repo        repository.LedgerStore
	quotes      pricing.Service
	publisher   events.Publisher
	now         func() time.Time
	logger      *logrus.Entry
	openingCash decimal.Decimal
	maxRetries  int
	lookupLimit int
	publishWait time.Duration
}

// NewTradeService builds a TradeService with sane defaults.
func NewTradeService(repo repository.LedgerStore, quotes pricing.Service, publisher events.Publisher, logger *logrus.Logger, opts Options) *TradeService {
	if publisher == nil {
		publisher = events.Noop{}
	}
	s := &TradeService{
		repo:        repo,
		quotes:      quotes,
		publisher:   publisher,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.WithField("component", "trade-service"),
		openingCash: opts.OpeningCash,
		maxRetries:  opts.MaxRetries,
		lookupLimit: opts.LookupConcurrency,
		publishWait: opts.PublishTimeout,
	}
	if s.maxRetries <= 0 {
		s.maxRetries = 3
	}
	if s.lookupLimit <= 0 {
		s.lookupLimit = 8
	}
	if s.publishWait <= 0 {
		s.publishWait = 2 * time.Second
	}
	return s
}

// TradeResult is the outcome of a committed ledger change.
type TradeResult struct {
	Entry    models.HistoryEntry   `json:"entry"`
	Snapshot models.LedgerSnapshot `json:"snapshot"`
}

// ParseShares parses a share count typed by a user.
func ParseShares(raw string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %q is not a positive whole number of shares", ErrInvalidQuantity, raw)
	}
	return n, nil
}

// ParseAmount parses a deposit amount typed by a user.
func ParseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %q is not a positive amount", ErrInvalidAmount, raw)
	}
	if !models.FitsCashScale(amount) {
		return decimal.Zero, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidAmount, raw, models.CashScale)
	}
	return amount, nil
}

// OpenAccount registers an account with the configured opening cash.
func (s *TradeService) OpenAccount(ctx context.Context, accountID string) (models.Account, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return models.Account{}, fmt.Errorf("%w: account id is required", ErrInvalidAccount)
	}
	acct, err := s.repo.CreateAccount(ctx, accountID, s.openingCash, s.now())
	if err != nil {
		return models.Account{}, err
	}
	s.logger.WithFields(logrus.Fields{"account": acct.ID, "cash": acct.Cash.String()}).Info("account opened")
	return acct, nil
}

// Quote resolves a symbol through the quote provider.
func (s *TradeService) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	return s.resolve(ctx, symbol)
}

// Buy debits price × shares and adds shares to the holding.
func (s *TradeService) Buy(ctx context.Context, accountID, symbol string, shares int64) (*TradeResult, error) {
	return s.trade(ctx, models.KindBuy, accountID, symbol, shares)
}

// Sell credits price × shares and removes shares from the holding.
func (s *TradeService) Sell(ctx context.Context, accountID, symbol string, shares int64) (*TradeResult, error) {
	return s.trade(ctx, models.KindSell, accountID, symbol, shares)
}

// Deposit credits cash. It is recorded as a deposit history entry.
func (s *TradeService) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (*TradeResult, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	if !models.FitsCashScale(amount) {
		return nil, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount, models.CashScale)
	}
	entry := models.HistoryEntry{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		Kind:       models.KindDeposit,
		UnitPrice:  amount,
		TotalPrice: amount,
		Timestamp:  s.now(),
	}
	return s.commit(ctx, models.Delta{AccountID: accountID, CashDelta: amount, Entry: entry})
}

// trade takes exactly one quote observation; the same price feeds the cash
// delta and the history entry.
func (s *TradeService) trade(ctx context.Context, kind models.EntryKind, accountID, symbol string, shares int64) (*TradeResult, error) {
	quote, err := s.resolve(ctx, symbol)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{"account": accountID, "symbol": symbol, "kind": kind}).Debug("trade rejected")
		return nil, err
	}
	if shares < 1 {
		return nil, fmt.Errorf("%w: shares must be at least 1, got %d", ErrInvalidQuantity, shares)
	}

	total := quote.Price.Mul(decimal.NewFromInt(shares))
	delta := models.Delta{
		AccountID: accountID,
		Symbol:    quote.Symbol,
		Entry: models.HistoryEntry{
			ID:         uuid.NewString(),
			AccountID:  accountID,
			Symbol:     quote.Symbol,
			Kind:       kind,
			Shares:     shares,
			UnitPrice:  quote.Price,
			TotalPrice: total,
			Timestamp:  s.now(),
		},
	}
	switch kind {
	case models.KindBuy:
		delta.CashDelta = total.Neg()
		delta.ShareDelta = shares
	case models.KindSell:
		delta.CashDelta = total
		delta.ShareDelta = -shares
	}
	return s.commit(ctx, delta)
}

func (s *TradeService) resolve(ctx context.Context, symbol string) (models.Quote, error) {
	normalized := pricing.NormalizeSymbol(symbol)
	if normalized == "" {
		return models.Quote{}, fmt.Errorf("%w: symbol is required", ErrUnknownSymbol)
	}
	quote, err := s.quotes.Lookup(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrUnknownSymbol) || errors.Is(err, ErrQuoteUnavailable) {
			return models.Quote{}, err
		}
		return models.Quote{}, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}
	if !quote.Price.Round(models.CashScale).IsPositive() {
		return models.Quote{}, fmt.Errorf("%w: non-positive price %s for %s", ErrQuoteUnavailable, quote.Price, normalized)
	}
	if quote.Symbol == "" {
		quote.Symbol = normalized
	}
	quote.Price = quote.Price.Round(models.CashScale)
	return quote, nil
}

// commit applies the delta, retrying store conflicts a bounded number of times.
func (s *TradeService) commit(ctx context.Context, delta models.Delta) (*TradeResult, error) {
	log := s.logger.WithFields(logrus.Fields{
		"account": delta.AccountID,
		"kind":    delta.Entry.Kind,
		"symbol":  delta.Symbol,
		"shares":  delta.Entry.Shares,
		"total":   delta.Entry.TotalPrice.String(),
	})

	var snap models.LedgerSnapshot
	var err error
	for attempt := 0; ; attempt++ {
		snap, err = s.repo.ApplyDelta(ctx, delta)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrConflict) {
			log.WithError(err).Debug("delta rejected")
			return nil, err
		}
		if attempt >= s.maxRetries {
			log.WithError(err).Warn("giving up on conflicting delta")
			return nil, fmt.Errorf("%w: %d attempts: %v", ErrConcurrentUpdate, attempt+1, err)
		}
		log.WithError(err).WithField("attempt", attempt+1).Debug("retrying conflicting delta")
	}

	log.WithField("cash", snap.Account.Cash.String()).Info("ledger delta committed")
	s.publish(ctx, delta.Entry, snap)
	return &TradeResult{Entry: delta.Entry, Snapshot: snap}, nil
}

func (s *TradeService) publish(ctx context.Context, entry models.HistoryEntry, snap models.LedgerSnapshot) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishWait)
	defer cancel()
	err := s.publisher.Publish(ctx, events.TradeExecuted{
		EntryID:    entry.ID,
		AccountID:  entry.AccountID,
		Kind:       string(entry.Kind),
		Symbol:     entry.Symbol,
		Shares:     entry.Shares,
		UnitPrice:  entry.UnitPrice,
		TotalPrice: entry.TotalPrice,
		Cash:       snap.Account.Cash,
		OccurredAt: entry.Timestamp,
	})
	if err != nil {
		s.logger.WithError(err).WithField("entry", entry.ID).Warn("failed to publish ledger event")
	}
}
