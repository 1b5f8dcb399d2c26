package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/GooferByte/finance-ledger/internal/app"
	"github.com/GooferByte/finance-ledger/internal/config"
	"github.com/GooferByte/finance-ledger/internal/http"
	"github.com/GooferByte/finance-ledger/internal/logger"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logr := logger.New(cfg.Environment, os.Stdout)

	ledger, err := app.Build(context.Background(), cfg, logr)
	if err != nil {
		logr.WithError(err).Fatal("failed to build ledger")
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			logr.WithError(err).Warn("shutdown")
		}
	}()

	router := http.Router(ledger.Trades, logr)

	addr := fmt.Sprintf(":%s", cfg.Port)
	logr.WithFields(logrus.Fields{"store": cfg.Store, "quotes": cfg.QuoteProvider}).Infof("ledger service listening on %s", addr)
	if err := router.Run(addr); err != nil {
		logr.WithError(err).Error("server stopped")
		os.Exit(1)
	}
}
