package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TradeExecuted is emitted after a ledger change commits.
type TradeExecuted struct {
	EntryID    string          `json:"entry_id"`
	AccountID  string          `json:"account_id"`
	Kind       string          `json:"kind"`
	Symbol     string          `json:"symbol,omitempty"`
	Shares     int64           `json:"shares"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Cash       decimal.Decimal `json:"cash"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Publisher delivers committed ledger events to downstream consumers.
//
//go:generate mockgen -destination=mock_publisher.go -package=events . Publisher
type Publisher interface {
	Publish(ctx context.Context, event TradeExecuted) error
	Close() error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, TradeExecuted) error { return nil }
func (Noop) Close() error                                 { return nil }
