package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/GooferByte/finance-ledger/internal/models"
	"github.com/GooferByte/finance-ledger/internal/repository"
	"github.com/shopspring/decimal"
)

type storedEntry struct {
	seq   int64
	entry models.HistoryEntry
}

// InMemoryRepo keeps the ledger in process memory. Writers on the same
// account serialize on a per-account mutex; the maps themselves are guarded
// by mu, which is only held for short reads and writes.
type InMemoryRepo struct {
	mu       sync.RWMutex
	accounts map[string]models.Account
	holdings map[string]map[string]int64
	history  map[string][]storedEntry
	seq      int64

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func New() *InMemoryRepo {
	return &InMemoryRepo{
		accounts: make(map[string]models.Account),
		holdings: make(map[string]map[string]int64),
		history:  make(map[string][]storedEntry),
		locks:    make(map[string]*sync.Mutex),
	}
}

// accountLock returns the writer lock of an existing account.
func (r *InMemoryRepo) accountLock(accountID string) (*sync.Mutex, bool) {
	r.mu.RLock()
	_, ok := r.accounts[accountID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	if _, ok := r.locks[accountID]; !ok {
		r.locks[accountID] = &sync.Mutex{}
	}
	return r.locks[accountID], true
}

func (r *InMemoryRepo) CreateAccount(ctx context.Context, id string, openingCash decimal.Decimal, at time.Time) (models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[id]; ok {
		return models.Account{}, repository.ErrAccountExists
	}
	if err := repository.Check(openingCash, 0); err != nil {
		return models.Account{}, err
	}
	acct := models.Account{ID: id, Cash: openingCash, CreatedAt: at}
	r.accounts[id] = acct
	r.holdings[id] = make(map[string]int64)
	if openingCash.IsPositive() {
		r.appendLocked(repository.OpeningEntry(id, openingCash, at))
	}
	return acct, nil
}

func (r *InMemoryRepo) GetAccount(ctx context.Context, accountID string) (models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acct, ok := r.accounts[accountID]
	if !ok {
		return models.Account{}, repository.ErrAccountNotFound
	}
	return acct, nil
}

func (r *InMemoryRepo) GetHolding(ctx context.Context, accountID, symbol string) (models.Holding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.accounts[accountID]; !ok {
		return models.Holding{}, repository.ErrAccountNotFound
	}
	return models.Holding{AccountID: accountID, Symbol: symbol, Shares: r.holdings[accountID][symbol]}, nil
}

func (r *InMemoryRepo) ListHoldings(ctx context.Context, accountID string) ([]models.Holding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.accounts[accountID]; !ok {
		return nil, repository.ErrAccountNotFound
	}
	out := make([]models.Holding, 0, len(r.holdings[accountID]))
	for symbol, shares := range r.holdings[accountID] {
		out = append(out, models.Holding{AccountID: accountID, Symbol: symbol, Shares: shares})
	}
	slices.SortFunc(out, func(a, b models.Holding) int {
		if a.Symbol < b.Symbol {
			return -1
		}
		if a.Symbol > b.Symbol {
			return 1
		}
		return 0
	})
	return out, nil
}

func (r *InMemoryRepo) ListHistory(ctx context.Context, accountID string) ([]models.HistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.accounts[accountID]; !ok {
		return nil, repository.ErrAccountNotFound
	}
	stored := append([]storedEntry(nil), r.history[accountID]...)
	slices.SortFunc(stored, func(a, b storedEntry) int {
		if a.entry.Timestamp.After(b.entry.Timestamp) {
			return -1
		}
		if a.entry.Timestamp.Before(b.entry.Timestamp) {
			return 1
		}
		return int(b.seq - a.seq)
	})
	out := make([]models.HistoryEntry, 0, len(stored))
	for _, s := range stored {
		out = append(out, s.entry)
	}
	return out, nil
}

func (r *InMemoryRepo) ApplyDelta(ctx context.Context, delta models.Delta) (models.LedgerSnapshot, error) {
	lock, ok := r.accountLock(delta.AccountID)
	if !ok {
		return models.LedgerSnapshot{}, repository.ErrAccountNotFound
	}
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	acct, ok := r.accounts[delta.AccountID]
	shares := r.holdings[delta.AccountID][delta.Symbol]
	r.mu.RUnlock()
	if !ok {
		return models.LedgerSnapshot{}, repository.ErrAccountNotFound
	}

	cash := acct.Cash.Add(delta.CashDelta)
	if delta.Symbol != "" {
		shares += delta.ShareDelta
	}
	if err := repository.Check(cash, shares); err != nil {
		return models.LedgerSnapshot{}, err
	}

	r.mu.Lock()
	acct.Cash = cash
	r.accounts[delta.AccountID] = acct
	if delta.Symbol != "" {
		if shares == 0 {
			delete(r.holdings[delta.AccountID], delta.Symbol)
		} else {
			r.holdings[delta.AccountID][delta.Symbol] = shares
		}
	}
	entry := delta.Entry
	entry.AccountID = delta.AccountID
	r.appendLocked(entry)
	r.mu.Unlock()

	return models.LedgerSnapshot{
		Account: acct,
		Holding: models.Holding{AccountID: delta.AccountID, Symbol: delta.Symbol, Shares: shares},
	}, nil
}

func (r *InMemoryRepo) appendLocked(entry models.HistoryEntry) {
	r.seq++
	r.history[entry.AccountID] = append(r.history[entry.AccountID], storedEntry{seq: r.seq, entry: entry})
}

var _ repository.LedgerStore = (*InMemoryRepo)(nil)
