package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/GooferByte/finance-ledger/internal/models"
	"github.com/GooferByte/finance-ledger/internal/pricing"
	"github.com/GooferByte/finance-ledger/internal/repository/memory"
	"github.com/GooferByte/finance-ledger/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type board map[string]string

func (b board) Lookup(ctx context.Context, symbol string) (models.Quote, error) {
	switch p, ok := b[symbol]; {
	case symbol == "DOWN":
		return models.Quote{}, fmt.Errorf("%w: upstream 502", pricing.ErrQuoteUnavailable)
	case !ok:
		return models.Quote{}, fmt.Errorf("%w: %s", pricing.ErrSymbolNotFound, symbol)
	default:
		return models.Quote{Symbol: symbol, Name: symbol + " Inc.", Price: decimal.RequireFromString(p)}, nil
	}
}

func newServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logrus.New()
	log.SetOutput(io.Discard)
	svc := service.NewTradeService(memory.New(), board{"AAPL": "150.25", "MSFT": "300"}, nil, log, service.Options{
		OpeningCash: decimal.NewFromInt(1000),
	})
	return Router(svc, log)
}

func do(t *testing.T, r *gin.Engine, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: body %q is not JSON: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, out
}

func TestTradeFlow(t *testing.T) {
	r := newServer(t)

	code, body := do(t, r, http.MethodPost, "/accounts", `{"accountId":"alice"}`)
	if code != http.StatusCreated || body["cash"] != "1000" || body["usd"] != "$1,000.00" {
		t.Fatalf("open = %d %v", code, body)
	}

	code, body = do(t, r, http.MethodPost, "/accounts/alice/buy", `{"symbol":"aapl","shares":4}`)
	if code != http.StatusOK {
		t.Fatalf("buy = %d %v", code, body)
	}
	if body["symbol"] != "AAPL" || body["totalPrice"] != "601" || body["cash"] != "399" || body["holding"] != float64(4) {
		t.Errorf("buy body = %v", body)
	}

	code, body = do(t, r, http.MethodPost, "/accounts/alice/sell", `{"symbol":"AAPL","shares":"1"}`)
	if code != http.StatusOK || body["cash"] != "549.25" || body["holding"] != float64(3) {
		t.Errorf("sell = %d %v", code, body)
	}

	code, body = do(t, r, http.MethodPost, "/accounts/alice/deposit", `{"amount":"50.75"}`)
	if code != http.StatusOK || body["kind"] != "deposit" || body["cash"] != "600" {
		t.Errorf("deposit = %d %v", code, body)
	}

	code, body = do(t, r, http.MethodGet, "/accounts/alice", "")
	if code != http.StatusOK {
		t.Fatalf("portfolio = %d %v", code, body)
	}
	if body["netWorth"] != "1050.75" || body["usd"] != "$1,050.75" {
		t.Errorf("portfolio body = %v", body)
	}
	if positions, ok := body["positions"].([]any); !ok || len(positions) != 1 {
		t.Errorf("positions = %v", body["positions"])
	}

	code, body = do(t, r, http.MethodGet, "/accounts/alice/history", "")
	if code != http.StatusOK {
		t.Fatalf("history = %d %v", code, body)
	}
	history := body["history"].([]any)
	kinds := make([]any, 0, len(history))
	for _, e := range history {
		kinds = append(kinds, e.(map[string]any)["kind"])
	}
	if fmt.Sprint(kinds) != "[deposit sell buy deposit]" {
		t.Errorf("history kinds = %v", kinds)
	}
}

func TestErrorStatus(t *testing.T) {
	r := newServer(t)
	if code, body := do(t, r, http.MethodPost, "/accounts", `{"accountId":"bob"}`); code != http.StatusCreated {
		t.Fatalf("open = %d %v", code, body)
	}

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
		wantKind string
	}{
		{"duplicate account", http.MethodPost, "/accounts", `{"accountId":"bob"}`, http.StatusConflict, "account_exists"},
		{"missing account id", http.MethodPost, "/accounts", `{}`, http.StatusBadRequest, "invalid_request"},
		{"unknown account", http.MethodGet, "/accounts/ghost", "", http.StatusNotFound, "account_not_found"},
		{"unknown symbol", http.MethodPost, "/accounts/bob/buy", `{"symbol":"ZZZZ","shares":1}`, http.StatusNotFound, "unknown_symbol"},
		{"unknown symbol before bad quantity", http.MethodPost, "/accounts/bob/buy", `{"symbol":"ZZZZ","shares":0}`, http.StatusNotFound, "unknown_symbol"},
		{"unknown symbol before non-numeric quantity", http.MethodPost, "/accounts/bob/buy", `{"symbol":"ZZZZ","shares":"abc"}`, http.StatusNotFound, "unknown_symbol"},
		{"non-numeric shares", http.MethodPost, "/accounts/bob/buy", `{"symbol":"AAPL","shares":"abc"}`, http.StatusBadRequest, "invalid_quantity"},
		{"missing shares", http.MethodPost, "/accounts/bob/buy", `{"symbol":"AAPL"}`, http.StatusBadRequest, "invalid_quantity"},
		{"zero shares", http.MethodPost, "/accounts/bob/buy", `{"symbol":"AAPL","shares":0}`, http.StatusBadRequest, "invalid_quantity"},
		{"fractional shares", http.MethodPost, "/accounts/bob/buy", `{"symbol":"AAPL","shares":1.5}`, http.StatusBadRequest, "invalid_quantity"},
		{"overspend", http.MethodPost, "/accounts/bob/buy", `{"symbol":"MSFT","shares":4}`, http.StatusUnprocessableEntity, "insufficient_funds"},
		{"oversell", http.MethodPost, "/accounts/bob/sell", `{"symbol":"MSFT","shares":1}`, http.StatusUnprocessableEntity, "insufficient_shares"},
		{"provider down", http.MethodPost, "/accounts/bob/buy", `{"symbol":"DOWN","shares":1}`, http.StatusServiceUnavailable, "quote_unavailable"},
		{"negative deposit", http.MethodPost, "/accounts/bob/deposit", `{"amount":"-5"}`, http.StatusBadRequest, "invalid_amount"},
		{"non-numeric deposit", http.MethodPost, "/accounts/bob/deposit", `{"amount":"ten"}`, http.StatusBadRequest, "invalid_amount"},
		{"deposit beyond cash scale", http.MethodPost, "/accounts/bob/deposit", `{"amount":0.00001}`, http.StatusBadRequest, "invalid_amount"},
		{"quote unknown", http.MethodGet, "/quote/ZZZZ", "", http.StatusNotFound, "unknown_symbol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := do(t, r, tt.method, tt.path, tt.body)
			if code != tt.wantCode || body["kind"] != tt.wantKind {
				t.Errorf("got %d %v, want %d %s", code, body, tt.wantCode, tt.wantKind)
			}
		})
	}

	code, body := do(t, r, http.MethodGet, "/accounts/bob", "")
	if code != http.StatusOK || body["cash"] != "1000" {
		t.Errorf("failed requests changed the ledger: %d %v", code, body)
	}
}

func TestQuoteAndHealth(t *testing.T) {
	r := newServer(t)
	code, body := do(t, r, http.MethodGet, "/quote/msft", "")
	if code != http.StatusOK || body["symbol"] != "MSFT" || body["usd"] != "$300.00" {
		t.Errorf("quote = %d %v", code, body)
	}
	code, body = do(t, r, http.MethodGet, "/healthz", "")
	if code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz = %d %v", code, body)
	}
}
