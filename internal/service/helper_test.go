package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/GooferByte/finance-ledger/internal/events"
	"github.com/GooferByte/finance-ledger/internal/models"
	"github.com/GooferByte/finance-ledger/internal/pricing"
	"github.com/GooferByte/finance-ledger/internal/repository"
	"github.com/GooferByte/finance-ledger/internal/repository/memory"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func D(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fixedQuotes is a settable quote board.
type fixedQuotes struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
}

func newFixedQuotes() *fixedQuotes {
	return &fixedQuotes{prices: make(map[string]decimal.Decimal)}
}

func (f *fixedQuotes) Set(symbol, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = D(price)
}

func (f *fixedQuotes) Remove(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.prices, symbol)
}

func (f *fixedQuotes) Lookup(ctx context.Context, symbol string) (models.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[symbol]
	if !ok {
		return models.Quote{}, fmt.Errorf("%w: %s", pricing.ErrSymbolNotFound, symbol)
	}
	return models.Quote{Symbol: symbol, Name: symbol + " Corp", Price: p}, nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// tb is the part of testing.TB the fixture needs; *rapid.T satisfies it too.
type tb interface {
	Helper()
	Fatalf(format string, args ...any)
}

type fixture struct {
	svc    *TradeService
	repo   repository.LedgerStore
	quotes *fixedQuotes
}

func newFixture(t *testing.T, openingCash string) fixture {
	t.Helper()
	return newFixtureWith(t, memory.New(), openingCash, events.Noop{})
}

func newFixtureWith(t tb, repo repository.LedgerStore, openingCash string, pub events.Publisher) fixture {
	t.Helper()
	quotes := newFixedQuotes()
	svc := NewTradeService(repo, quotes, pub, quietLogger(), Options{OpeningCash: D(openingCash)})
	clock := time.Date(2025, time.January, 2, 9, 30, 0, 0, time.UTC)
	var mu sync.Mutex
	svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return fixture{svc: svc, repo: repo, quotes: quotes}
}

func (f fixture) open(t tb, id string) {
	t.Helper()
	if _, err := f.svc.OpenAccount(context.Background(), id); err != nil {
		t.Fatalf("OpenAccount(%q) error = %v", id, err)
	}
}

// ledgerState is everything a failed operation must leave untouched.
type ledgerState struct {
	Cash     decimal.Decimal
	Holdings []models.Holding
	History  int
}

func (f fixture) state(t tb, id string) ledgerState {
	t.Helper()
	ctx := context.Background()
	acct, err := f.repo.GetAccount(ctx, id)
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	holdings, err := f.repo.ListHoldings(ctx, id)
	if err != nil {
		t.Fatalf("ListHoldings() error = %v", err)
	}
	history, err := f.repo.ListHistory(ctx, id)
	if err != nil {
		t.Fatalf("ListHistory() error = %v", err)
	}
	return ledgerState{Cash: acct.Cash, Holdings: holdings, History: len(history)}
}
