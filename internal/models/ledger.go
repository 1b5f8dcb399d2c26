package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind distinguishes the history rows of an account.
type EntryKind string

const (
	KindBuy     EntryKind = "buy"
	KindSell    EntryKind = "sell"
	KindDeposit EntryKind = "deposit"
)

// IsTrade reports whether the kind moves shares.
func (k EntryKind) IsTrade() bool {
	return k == KindBuy || k == KindSell
}

// Account holds the cash side of a ledger.
type Account struct {
	ID        string          `json:"id"`
	Cash      decimal.Decimal `json:"cash"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Holding is a non-zero share position in one symbol for one account.
type Holding struct {
	AccountID string `json:"accountId"`
	Symbol    string `json:"symbol"`
	Shares    int64  `json:"shares"`
}

// HistoryEntry is an immutable record of a committed ledger change.
type HistoryEntry struct {
	ID         string          `json:"id"`
	AccountID  string          `json:"accountId"`
	Symbol     string          `json:"symbol,omitempty"`
	Kind       EntryKind       `json:"kind"`
	Shares     int64           `json:"shares"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Delta is a single atomic ledger transition. CashDelta and ShareDelta are
// signed; Entry is appended to the history when the transition commits.
type Delta struct {
	AccountID  string
	CashDelta  decimal.Decimal
	Symbol     string
	ShareDelta int64
	Entry      HistoryEntry
}

// LedgerSnapshot is the state of an account right after a delta committed.
// Holding.Shares is zero when the position was closed or never touched.
type LedgerSnapshot struct {
	Account Account `json:"account"`
	Holding Holding `json:"holding"`
}

// Quote is a point-in-time price observation for a symbol.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// PortfolioPosition represents a holding with its latest valuation. Degraded
// rows carry no price and are left out of the net worth.
type PortfolioPosition struct {
	Symbol   string          `json:"symbol"`
	Name     string          `json:"name,omitempty"`
	Shares   int64           `json:"shares"`
	Price    decimal.Decimal `json:"price"`
	Value    decimal.Decimal `json:"value"`
	Degraded bool            `json:"degraded,omitempty"`
	Reason   string          `json:"reason,omitempty"`
}

// Portfolio is the read-only view of an account.
type Portfolio struct {
	AccountID string              `json:"accountId"`
	Cash      decimal.Decimal     `json:"cash"`
	Positions []PortfolioPosition `json:"positions"`
	NetWorth  decimal.Decimal     `json:"netWorth"`
}
