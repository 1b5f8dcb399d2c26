package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/GooferByte/finance-ledger/internal/models"
	"github.com/GooferByte/finance-ledger/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Router wires all handlers.
func Router(svc *service.TradeService, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logMiddleware(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/quote/:symbol", func(c *gin.Context) {
		handleQuote(c, svc)
	})
	r.POST("/accounts", func(c *gin.Context) {
		handleOpenAccount(c, svc)
	})

	acct := r.Group("/accounts/:accountId")
	acct.GET("", func(c *gin.Context) {
		handlePortfolio(c, svc)
	})
	acct.GET("/history", func(c *gin.Context) {
		handleHistory(c, svc)
	})
	acct.POST("/buy", func(c *gin.Context) {
		handleTrade(c, svc.Buy)
	})
	acct.POST("/sell", func(c *gin.Context) {
		handleTrade(c, svc.Sell)
	})
	acct.POST("/deposit", func(c *gin.Context) {
		handleDeposit(c, svc)
	})
	return r
}

type openRequest struct {
	AccountID string `json:"accountId" binding:"required"`
}

// Quantities arrive as JSON numbers or strings. They are kept raw so that
// non-numeric text reaches the engine's parsers instead of failing the bind.
type tradeRequest struct {
	Symbol string          `json:"symbol"`
	Shares json.RawMessage `json:"shares"`
}

type depositRequest struct {
	Amount json.RawMessage `json:"amount"`
}

// numberText returns a raw JSON value as text, unquoting strings.
func numberText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

type tradeFunc func(ctx context.Context, accountID, symbol string, shares int64) (*service.TradeResult, error)

func handleOpenAccount(c *gin.Context, svc *service.TradeService) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "invalid_request"})
		return
	}
	acct, err := svc.OpenAccount(c.Request.Context(), req.AccountID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"accountId": acct.ID,
		"cash":      acct.Cash.String(),
		"usd":       models.USD(acct.Cash),
		"createdAt": acct.CreatedAt,
	})
}

func handleTrade(c *gin.Context, trade tradeFunc) {
	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "invalid_request"})
		return
	}
	// An unparseable count still goes through the engine so an unknown
	// symbol is reported ahead of a bad quantity.
	shares, err := service.ParseShares(numberText(req.Shares))
	if err != nil {
		shares = 0
	}
	res, err := trade(c.Request.Context(), c.Param("accountId"), req.Symbol, shares)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resultView(res))
}

func handleDeposit(c *gin.Context, svc *service.TradeService) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "invalid_request"})
		return
	}
	amount, err := service.ParseAmount(numberText(req.Amount))
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := svc.Deposit(c.Request.Context(), c.Param("accountId"), amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resultView(res))
}

func handlePortfolio(c *gin.Context, svc *service.TradeService) {
	p, err := svc.GetPortfolio(c.Request.Context(), c.Param("accountId"))
	if err != nil {
		writeError(c, err)
		return
	}
	positions := []gin.H{}
	for _, pos := range p.Positions {
		row := gin.H{
			"symbol": pos.Symbol,
			"shares": pos.Shares,
		}
		if pos.Degraded {
			row["degraded"] = true
			row["reason"] = pos.Reason
		} else {
			row["name"] = pos.Name
			row["price"] = pos.Price.String()
			row["value"] = pos.Value.StringFixed(2)
			row["usd"] = models.USD(pos.Value)
		}
		positions = append(positions, row)
	}
	c.JSON(http.StatusOK, gin.H{
		"accountId": p.AccountID,
		"cash":      p.Cash.String(),
		"cashUsd":   models.USD(p.Cash),
		"positions": positions,
		"netWorth":  p.NetWorth.StringFixed(2),
		"usd":       models.USD(p.NetWorth),
	})
}

func handleHistory(c *gin.Context, svc *service.TradeService) {
	entries, err := svc.GetHistory(c.Request.Context(), c.Param("accountId"))
	if err != nil {
		writeError(c, err)
		return
	}
	resp := []gin.H{}
	for _, e := range entries {
		resp = append(resp, entryView(e))
	}
	c.JSON(http.StatusOK, gin.H{"history": resp})
}

func handleQuote(c *gin.Context, svc *service.TradeService) {
	q, err := svc.Quote(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":    q.Symbol,
		"name":      q.Name,
		"price":     q.Price.String(),
		"usd":       models.USD(q.Price),
		"timestamp": q.Timestamp,
	})
}

func resultView(res *service.TradeResult) gin.H {
	view := entryView(res.Entry)
	view["cash"] = res.Snapshot.Account.Cash.String()
	view["cashUsd"] = models.USD(res.Snapshot.Account.Cash)
	if res.Entry.Kind.IsTrade() {
		view["holding"] = res.Snapshot.Holding.Shares
	}
	return view
}

func entryView(e models.HistoryEntry) gin.H {
	view := gin.H{
		"id":         e.ID,
		"kind":       e.Kind,
		"unitPrice":  e.UnitPrice.String(),
		"totalPrice": e.TotalPrice.String(),
		"usd":        models.USD(e.TotalPrice),
		"timestamp":  e.Timestamp,
	}
	if e.Kind.IsTrade() {
		view["symbol"] = e.Symbol
		view["shares"] = e.Shares
	}
	return view
}

func writeError(c *gin.Context, err error) {
	kind := service.Kind(err)
	c.JSON(statusFor(kind), gin.H{"error": err.Error(), "kind": kind})
}

func statusFor(kind string) int {
	switch kind {
	case "invalid_quantity", "invalid_amount", "invalid_account":
		return http.StatusBadRequest
	case "unknown_symbol", "account_not_found":
		return http.StatusNotFound
	case "account_exists", "concurrent_update_conflict":
		return http.StatusConflict
	case "insufficient_funds", "insufficient_shares":
		return http.StatusUnprocessableEntity
	case "quote_unavailable":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func logMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"status":   c.Writer.Status(),
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"latency":  time.Since(start).String(),
			"clientIP": c.ClientIP(),
		}).Info("request completed")
	}
}
