// Package storetest holds the behaviour every LedgerStore must share. Each
// store package runs it against its own backend.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/GooferByte/finance-ledger/internal/models"
	"github.com/GooferByte/finance-ledger/internal/repository"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) repository.LedgerStore

var epoch = time.Date(2025, time.March, 3, 14, 0, 0, 0, time.UTC)

// Run exercises store semantics against fresh stores from newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s repository.LedgerStore)
	}{
		{"CreateAccount", testCreateAccount},
		{"MissingHoldingIsZero", testMissingHoldingIsZero},
		{"BuyThenSellClosesPosition", testBuyThenSellClosesPosition},
		{"RejectedDeltaLeavesNoTrace", testRejectedDeltaLeavesNoTrace},
		{"UnknownAccount", testUnknownAccount},
		{"HistoryNewestFirst", testHistoryNewestFirst},
		{"ConcurrentSells", testConcurrentSells},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func create(t *testing.T, s repository.LedgerStore, id, cash string) {
	t.Helper()
	if _, err := s.CreateAccount(context.Background(), id, d(cash), epoch); err != nil {
		t.Fatalf("CreateAccount(%q) error = %v", id, err)
	}
}

func tradeDelta(id string, kind models.EntryKind, symbol string, shares int64, price string, at time.Time) models.Delta {
	total := d(price).Mul(decimal.NewFromInt(shares))
	delta := models.Delta{
		AccountID: id,
		Symbol:    symbol,
		Entry: models.HistoryEntry{
			ID:         uuid.NewString(),
			AccountID:  id,
			Symbol:     symbol,
			Kind:       kind,
			Shares:     shares,
			UnitPrice:  d(price),
			TotalPrice: total,
			Timestamp:  at,
		},
	}
	if kind == models.KindBuy {
		delta.CashDelta, delta.ShareDelta = total.Neg(), shares
	} else {
		delta.CashDelta, delta.ShareDelta = total, -shares
	}
	return delta
}

// apply retries store conflicts so file-backed stores behave like a caller
// that honours ErrConflict.
func apply(s repository.LedgerStore, delta models.Delta) (models.LedgerSnapshot, error) {
	for {
		snap, err := s.ApplyDelta(context.Background(), delta)
		if !errors.Is(err, repository.ErrConflict) {
			return snap, err
		}
	}
}

func testCreateAccount(t *testing.T, s repository.LedgerStore) {
	ctx := context.Background()
	acct, err := s.CreateAccount(ctx, "alice", d("10000"), epoch)
	if err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	if acct.ID != "alice" || !acct.Cash.Equal(d("10000")) {
		t.Errorf("CreateAccount() = %+v", acct)
	}
	if _, err := s.CreateAccount(ctx, "alice", d("5"), epoch); !errors.Is(err, repository.ErrAccountExists) {
		t.Errorf("second CreateAccount() error = %v, want ErrAccountExists", err)
	}

	got, err := s.GetAccount(ctx, "alice")
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if !got.Cash.Equal(d("10000")) {
		t.Errorf("cash = %s, want 10000", got.Cash)
	}

	history, err := s.ListHistory(ctx, "alice")
	if err != nil {
		t.Fatalf("ListHistory() error = %v", err)
	}
	if len(history) != 1 || history[0].Kind != models.KindDeposit || !history[0].TotalPrice.Equal(d("10000")) {
		t.Errorf("opening history = %+v, want one 10000 deposit", history)
	}

	create(t, s, "bob", "0")
	history, err = s.ListHistory(ctx, "bob")
	if err != nil {
		t.Fatalf("ListHistory() error = %v", err)
	}
	if len(history) != 0 {
		t.Errorf("zero opening cash recorded %d entries", len(history))
	}
}

func testMissingHoldingIsZero(t *testing.T, s repository.LedgerStore) {
	create(t, s, "alice", "100")
	h, err := s.GetHolding(context.Background(), "alice", "AAPL")
	if err != nil {
		t.Fatalf("GetHolding() error = %v", err)
	}
	if h.Shares != 0 {
		t.Errorf("shares = %d, want 0", h.Shares)
	}
	holdings, err := s.ListHoldings(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ListHoldings() error = %v", err)
	}
	if len(holdings) != 0 {
		t.Errorf("ListHoldings() = %+v, want none", holdings)
	}
}

func testBuyThenSellClosesPosition(t *testing.T, s repository.LedgerStore) {
	ctx := context.Background()
	create(t, s, "alice", "10000")

	snap, err := apply(s, tradeDelta("alice", models.KindBuy, "MSFT", 10, "150.25", epoch.Add(time.Minute)))
	if err != nil {
		t.Fatalf("buy error = %v", err)
	}
	if !snap.Account.Cash.Equal(d("8497.5")) || snap.Holding.Shares != 10 {
		t.Errorf("after buy = %+v", snap)
	}
	if _, err := apply(s, tradeDelta("alice", models.KindBuy, "AAPL", 1, "10", epoch.Add(2*time.Minute))); err != nil {
		t.Fatalf("buy AAPL error = %v", err)
	}

	holdings, err := s.ListHoldings(ctx, "alice")
	if err != nil {
		t.Fatalf("ListHoldings() error = %v", err)
	}
	want := []models.Holding{
		{AccountID: "alice", Symbol: "AAPL", Shares: 1},
		{AccountID: "alice", Symbol: "MSFT", Shares: 10},
	}
	if diff := cmp.Diff(want, holdings); diff != "" {
		t.Errorf("holdings mismatch (-want +got):\n%s", diff)
	}

	snap, err = apply(s, tradeDelta("alice", models.KindSell, "MSFT", 10, "160", epoch.Add(3*time.Minute)))
	if err != nil {
		t.Fatalf("sell error = %v", err)
	}
	if !snap.Account.Cash.Equal(d("10087.5")) || snap.Holding.Shares != 0 {
		t.Errorf("after sell = %+v", snap)
	}
	holdings, err = s.ListHoldings(ctx, "alice")
	if err != nil {
		t.Fatalf("ListHoldings() error = %v", err)
	}
	if len(holdings) != 1 || holdings[0].Symbol != "AAPL" {
		t.Errorf("closed position still listed: %+v", holdings)
	}
}

func testRejectedDeltaLeavesNoTrace(t *testing.T, s repository.LedgerStore) {
	ctx := context.Background()
	create(t, s, "alice", "100")
	if _, err := apply(s, tradeDelta("alice", models.KindBuy, "IBM", 2, "10", epoch.Add(time.Minute))); err != nil {
		t.Fatalf("buy error = %v", err)
	}

	tests := []struct {
		name  string
		delta models.Delta
		want  error
	}{
		{"overspend", tradeDelta("alice", models.KindBuy, "IBM", 9, "10", epoch.Add(2*time.Minute)), repository.ErrInsufficientFunds},
		{"oversell", tradeDelta("alice", models.KindSell, "IBM", 3, "10", epoch.Add(2*time.Minute)), repository.ErrInsufficientShares},
		{"sell unheld", tradeDelta("alice", models.KindSell, "AAPL", 1, "10", epoch.Add(2*time.Minute)), repository.ErrInsufficientShares},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := apply(s, tt.delta); !errors.Is(err, tt.want) {
				t.Fatalf("ApplyDelta() error = %v, want %v", err, tt.want)
			}
			acct, err := s.GetAccount(ctx, "alice")
			if err != nil {
				t.Fatal(err)
			}
			if !acct.Cash.Equal(d("80")) {
				t.Errorf("cash = %s, want 80", acct.Cash)
			}
			h, err := s.GetHolding(ctx, "alice", "IBM")
			if err != nil {
				t.Fatal(err)
			}
			if h.Shares != 2 {
				t.Errorf("IBM shares = %d, want 2", h.Shares)
			}
			history, err := s.ListHistory(ctx, "alice")
			if err != nil {
				t.Fatal(err)
			}
			if len(history) != 2 {
				t.Errorf("history has %d entries, want 2", len(history))
			}
		})
	}
}

func testUnknownAccount(t *testing.T, s repository.LedgerStore) {
	ctx := context.Background()
	if _, err := s.GetAccount(ctx, "ghost"); !errors.Is(err, repository.ErrAccountNotFound) {
		t.Errorf("GetAccount() error = %v", err)
	}
	if _, err := s.ListHistory(ctx, "ghost"); !errors.Is(err, repository.ErrAccountNotFound) {
		t.Errorf("ListHistory() error = %v", err)
	}
	delta := models.Delta{
		AccountID: "ghost",
		CashDelta: d("5"),
		Entry:     repository.OpeningEntry("ghost", d("5"), epoch),
	}
	if _, err := apply(s, delta); !errors.Is(err, repository.ErrAccountNotFound) {
		t.Errorf("ApplyDelta() error = %v", err)
	}
}

func testHistoryNewestFirst(t *testing.T, s repository.LedgerStore) {
	create(t, s, "alice", "1000")
	var ids []string
	for i := 1; i <= 4; i++ {
		delta := tradeDelta("alice", models.KindBuy, "AAPL", 1, "1", epoch.Add(time.Duration(i)*time.Minute))
		ids = append(ids, delta.Entry.ID)
		if _, err := apply(s, delta); err != nil {
			t.Fatalf("buy %d error = %v", i, err)
		}
	}
	history, err := s.ListHistory(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ListHistory() error = %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("history has %d entries, want 5", len(history))
	}
	for i, id := range ids {
		if got := history[len(ids)-1-i].ID; got != id {
			t.Errorf("history[%d] = %s, want %s", len(ids)-1-i, got, id)
		}
	}
	if history[4].Kind != models.KindDeposit {
		t.Errorf("oldest entry kind = %s, want deposit", history[4].Kind)
	}
	if !history[0].Timestamp.Equal(epoch.Add(4 * time.Minute)) {
		t.Errorf("newest timestamp = %s", history[0].Timestamp)
	}
}

func testConcurrentSells(t *testing.T, s repository.LedgerStore) {
	ctx := context.Background()
	create(t, s, "alice", "1000")
	if _, err := apply(s, tradeDelta("alice", models.KindBuy, "AAPL", 10, "50", epoch.Add(time.Minute))); err != nil {
		t.Fatalf("buy error = %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = apply(s, tradeDelta("alice", models.KindSell, "AAPL", 10, "50", epoch.Add(2*time.Minute)))
		}()
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, repository.ErrInsufficientShares):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("%d sells succeeded, want exactly 1", ok)
	}
	acct, err := s.GetAccount(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !acct.Cash.Equal(d("1000")) {
		t.Errorf("cash = %s, want 1000", acct.Cash)
	}
	holdings, err := s.ListHoldings(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(holdings) != 0 {
		t.Errorf("holdings = %+v, want none", holdings)
	}
}
