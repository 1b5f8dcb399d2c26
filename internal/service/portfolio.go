package service

import (
	"context"

	"github.com/GooferByte/finance-ledger/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// GetPortfolio values every holding at its current quote. A holding whose
// symbol no longer resolves is returned as a degraded row and left out of the
// net worth instead of failing the whole view.
func (s *TradeService) GetPortfolio(ctx context.Context, accountID string) (*models.Portfolio, error) {
	acct, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	holdings, err := s.repo.ListHoldings(ctx, accountID)
	if err != nil {
		return nil, err
	}

	positions := make([]models.PortfolioPosition, len(holdings))
	var g errgroup.Group
	g.SetLimit(s.lookupLimit)
	for i, h := range holdings {
		g.Go(func() error {
			pos := models.PortfolioPosition{Symbol: h.Symbol, Shares: h.Shares}
			quote, err := s.resolve(ctx, h.Symbol)
			if err != nil {
				s.logger.WithError(err).WithFields(logrus.Fields{"account": accountID, "symbol": h.Symbol}).Warn("price lookup failed")
				pos.Degraded = true
				pos.Reason = Kind(err)
			} else {
				pos.Name = quote.Name
				pos.Price = quote.Price
				pos.Value = quote.Price.Mul(decimal.NewFromInt(h.Shares))
			}
			positions[i] = pos
			return nil
		})
	}
	_ = g.Wait()

	netWorth := acct.Cash
	for _, p := range positions {
		if !p.Degraded {
			netWorth = netWorth.Add(p.Value)
		}
	}
	return &models.Portfolio{
		AccountID: acct.ID,
		Cash:      acct.Cash,
		Positions: positions,
		NetWorth:  netWorth,
	}, nil
}

// GetHistory returns the account's history, newest first.
func (s *TradeService) GetHistory(ctx context.Context, accountID string) ([]models.HistoryEntry, error) {
	return s.repo.ListHistory(ctx, accountID)
}
