// Package app assembles the ledger from configuration. The HTTP server and
// the command line tool share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/GooferByte/finance-ledger/internal/config"
	"github.com/GooferByte/finance-ledger/internal/events"
	"github.com/GooferByte/finance-ledger/internal/events/kafka"
	"github.com/GooferByte/finance-ledger/internal/pricing"
	"github.com/GooferByte/finance-ledger/internal/repository"
	"github.com/GooferByte/finance-ledger/internal/repository/memory"
	"github.com/GooferByte/finance-ledger/internal/repository/postgres"
	"github.com/GooferByte/finance-ledger/internal/repository/sqlite"
	"github.com/GooferByte/finance-ledger/internal/service"
	"github.com/sirupsen/logrus"
)

// App is a wired ledger. Close releases the store and the publisher.
type App struct {
	Trades *service.TradeService

	closers []func() error
}

// Build wires store, quotes, publisher and service from cfg.
func Build(ctx context.Context, cfg config.Config, log *logrus.Logger) (*App, error) {
	a := &App{}
	store, err := a.openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	publisher := events.Publisher(events.Noop{})
	if len(cfg.KafkaBrokers) > 0 {
		kp := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		a.closers = append(a.closers, kp.Close)
		publisher = kp
		log.WithFields(logrus.Fields{"brokers": cfg.KafkaBrokers, "topic": cfg.KafkaTopic}).Info("publishing ledger events to kafka")
	}

	a.Trades = service.NewTradeService(store, Quotes(cfg), publisher, log, service.Options{
		OpeningCash: cfg.OpeningCash,
		MaxRetries:  cfg.MaxRetries,
	})
	return a, nil
}

// Quotes builds the configured provider behind a timeout and a cache.
func Quotes(cfg config.Config) pricing.Service {
	var provider pricing.Service
	switch cfg.QuoteProvider {
	case config.ProviderYahoo:
		provider = pricing.NewYahooProvider(cfg.QuoteTimeout)
	default:
		provider = pricing.NewRandomPriceService(cfg.PriceTTL, cfg.UnknownSymbols...)
	}
	if cfg.QuoteTimeout > 0 {
		provider = pricing.WithTimeout(provider, cfg.QuoteTimeout)
	}
	ttl := cfg.PriceTTL
	if cfg.QuoteProvider == config.ProviderYahoo {
		// Live quotes go stale quickly; only collapse bursts.
		ttl = min(ttl, 15*time.Second)
	}
	return pricing.NewCachedService(provider, ttl)
}

func (a *App) openStore(ctx context.Context, cfg config.Config, log *logrus.Logger) (repository.LedgerStore, error) {
	switch cfg.Store {
	case config.StorePostgres:
		db, err := sql.Open("postgres", cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("postgres ping failed: %w", err)
		}
		repo := postgres.New(db)
		if err := repo.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		log.Info("connected to postgres")
		return repo, nil
	case config.StoreSQLite:
		repo, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		a.closers = append(a.closers, repo.Close)
		log.WithField("path", cfg.SQLitePath).Info("using sqlite store")
		return repo, nil
	default:
		log.Warn("using in-memory store. Data will reset on restart.")
		return memory.New(), nil
	}
}

// Close shuts down everything Build opened, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
