package main

import (
	"bytes"
	"context"
	"flag"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GooferByte/finance-ledger/internal/models"
	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
)

// ledgerctl runs one invocation against the SQLite file configured by setup.
func ledgerctl(t *testing.T, args ...string) (subcommands.ExitStatus, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	prevOut, prevErr := stdout, stderr
	stdout, stderr = &out, &errOut
	t.Cleanup(func() { stdout, stderr = prevOut, prevErr })

	fs := flag.NewFlagSet("ledgerctl", flag.ContinueOnError)
	commander := subcommands.NewCommander(fs, "ledgerctl")
	commander.Output, commander.Error = &out, &errOut
	register(commander)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse %v: %v", args, err)
	}
	status := commander.Execute(context.Background())
	return status, out.String(), errOut.String()
}

func setup(t *testing.T) {
	t.Helper()
	for k, v := range map[string]string{
		"CONFIG_FILE":     "",
		"STORE":           "",
		"DATABASE_URL":    "",
		"SQLITE_PATH":     filepath.Join(t.TempDir(), "ledger.db"),
		"QUOTE_PROVIDER":  "random",
		"OPENING_CASH":    "1000",
		"UNKNOWN_SYMBOLS": "NOPE",
		"KAFKA_BROKERS":   "",
		"ENVIRONMENT":     "test",
	} {
		t.Setenv(k, v)
	}
}

func TestLedgerctlSession(t *testing.T) {
	setup(t)

	status, out, errOut := ledgerctl(t, "open", "-raw", "-account", "alice")
	if status != subcommands.ExitSuccess || !strings.Contains(out, "Opened **alice** with $1,000.00") {
		t.Fatalf("open = %v %q %q", status, out, errOut)
	}

	status, out, errOut = ledgerctl(t, "buy", "-raw", "-account", "alice", "-symbol", "ab", "-shares", "1")
	if status != subcommands.ExitSuccess || !strings.Contains(out, "Bought 1 **AB**") {
		t.Fatalf("buy = %v %q %q", status, out, errOut)
	}

	status, out, errOut = ledgerctl(t, "deposit", "-raw", "-account", "alice", "-amount", "25")
	if status != subcommands.ExitSuccess || !strings.Contains(out, "Deposited $25.00") {
		t.Fatalf("deposit = %v %q %q", status, out, errOut)
	}

	status, out, errOut = ledgerctl(t, "history", "-raw", "-account", "alice")
	if status != subcommands.ExitSuccess {
		t.Fatalf("history = %v %q", status, errOut)
	}
	rows := strings.Split(strings.TrimSpace(out), "\n")
	// heading, blank, header, separator, then deposit, buy, opening deposit
	if len(rows) != 7 || !strings.Contains(rows[4], "| deposit |") || !strings.Contains(rows[5], "| buy | AB | 1 |") {
		t.Errorf("history output:\n%s", out)
	}

	status, out, errOut = ledgerctl(t, "portfolio", "-raw", "-account", "alice")
	if status != subcommands.ExitSuccess || !strings.Contains(out, "| AB | AB Inc. | 1 |") || !strings.Contains(out, "**Total**") {
		t.Errorf("portfolio = %v %q %q", status, out, errOut)
	}
}

func TestLedgerctlFailures(t *testing.T) {
	setup(t)
	if status, _, errOut := ledgerctl(t, "open", "-raw", "-account", "bob"); status != subcommands.ExitSuccess {
		t.Fatalf("open failed: %s", errOut)
	}

	tests := []struct {
		name    string
		args    []string
		want    subcommands.ExitStatus
		wantErr string
	}{
		{"missing account", []string{"portfolio", "-raw"}, subcommands.ExitUsageError, "-account is required"},
		{"bad shares", []string{"buy", "-raw", "-account", "bob", "-symbol", "AB", "-shares", "x"}, subcommands.ExitUsageError, "invalid quantity"},
		{"unknown symbol", []string{"buy", "-raw", "-account", "bob", "-symbol", "NOPE", "-shares", "1"}, subcommands.ExitFailure, "symbol not found"},
		{"oversell", []string{"sell", "-raw", "-account", "bob", "-symbol", "AB", "-shares", "1"}, subcommands.ExitFailure, "insufficient shares"},
		{"bad amount", []string{"deposit", "-raw", "-account", "bob", "-amount", "-1"}, subcommands.ExitUsageError, "invalid amount"},
		{"reopen", []string{"open", "-raw", "-account", "bob"}, subcommands.ExitFailure, "already exists"},
		{"no symbols", []string{"quote", "-raw"}, subcommands.ExitUsageError, "at least one symbol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _, errOut := ledgerctl(t, tt.args...)
			if status != tt.want || !strings.Contains(errOut, tt.wantErr) {
				t.Errorf("%v = %v %q, want %v containing %q", tt.args, status, errOut, tt.want, tt.wantErr)
			}
		})
	}
}

func TestPortfolioMarkdownDegradedRow(t *testing.T) {
	p := &models.Portfolio{
		AccountID: "alice",
		Cash:      decimal.NewFromInt(10),
		NetWorth:  decimal.NewFromInt(10),
		Positions: []models.PortfolioPosition{
			{Symbol: "GONE", Shares: 3, Degraded: true, Reason: "unknown_symbol"},
		},
	}
	md := portfolioMarkdown(p)
	if !strings.Contains(md, "| GONE | _unknown_symbol_ | 3 | - | - |") || !strings.Contains(md, "**$10.00**") {
		t.Errorf("markdown:\n%s", md)
	}
}

func TestHistoryMarkdownOmitsSymbolForDeposits(t *testing.T) {
	at := time.Date(2025, time.January, 2, 9, 30, 0, 0, time.UTC)
	md := historyMarkdown("alice", []models.HistoryEntry{
		{Kind: models.KindDeposit, UnitPrice: decimal.NewFromInt(5), TotalPrice: decimal.NewFromInt(5), Timestamp: at},
	})
	if !strings.Contains(md, "| 2025-01-02 09:30:00 | deposit |  |  | $5.00 | $5.00 |") {
		t.Errorf("markdown:\n%s", md)
	}
}
