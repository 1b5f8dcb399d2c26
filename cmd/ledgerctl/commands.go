package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/GooferByte/finance-ledger/internal/app"
	"github.com/GooferByte/finance-ledger/internal/config"
	"github.com/GooferByte/finance-ledger/internal/logger"
	"github.com/GooferByte/finance-ledger/internal/models"
	"github.com/GooferByte/finance-ledger/internal/service"
	"github.com/charmbracelet/glamour"
	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func register(c *subcommands.Commander) {
	c.Register(c.HelpCommand(), "")
	c.Register(c.FlagsCommand(), "")
	c.Register(c.CommandsCommand(), "")

	c.Register(&openCmd{}, "accounts")
	c.Register(&portfolioCmd{}, "accounts")
	c.Register(&historyCmd{}, "accounts")

	c.Register(&tradeCmd{kind: models.KindBuy}, "transactions")
	c.Register(&tradeCmd{kind: models.KindSell}, "transactions")
	c.Register(&depositCmd{}, "transactions")

	c.Register(&quoteCmd{}, "market")
}

// openLedger builds the ledger for one invocation. A process-local store
// would forget everything on exit, so the memory store is replaced by SQLite.
func openLedger(ctx context.Context, verbose bool) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.Store == config.StoreMemory {
		cfg.Store = config.StoreSQLite
	}
	log := logger.New(cfg.Environment, stderr)
	if !verbose {
		log.SetLevel(logrus.WarnLevel)
	}
	return app.Build(ctx, cfg, log)
}

// ledgerFlags are shared by every command that touches the ledger.
type ledgerFlags struct {
	account string
	raw     bool
	verbose bool
}

func (l *ledgerFlags) setFlags(f *flag.FlagSet, withAccount bool) {
	if withAccount {
		f.StringVar(&l.account, "account", "", "Account id (required)")
	}
	f.BoolVar(&l.raw, "raw", false, "Print markdown without terminal styling")
	f.BoolVar(&l.verbose, "v", false, "Log at the configured level instead of warnings only")
}

// run opens the ledger, calls fn and maps its error to an exit status.
func (l *ledgerFlags) run(ctx context.Context, fn func(*service.TradeService) (string, error)) subcommands.ExitStatus {
	a, err := openLedger(ctx, l.verbose)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening ledger: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	md, err := fn(a.Trades)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		switch service.Kind(err) {
		case "invalid_quantity", "invalid_amount", "invalid_account":
			return subcommands.ExitUsageError
		}
		return subcommands.ExitFailure
	}
	if err := render(md, l.raw); err != nil {
		fmt.Fprintf(stderr, "Error rendering output: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (l *ledgerFlags) requireAccount() bool {
	if strings.TrimSpace(l.account) == "" {
		fmt.Fprintln(stderr, "Error: -account is required.")
		return false
	}
	return true
}

func render(md string, raw bool) error {
	if !raw {
		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
		if err != nil {
			return err
		}
		if md, err = r.Render(md); err != nil {
			return err
		}
	}
	_, err := io.WriteString(stdout, md)
	return err
}

type openCmd struct {
	ledgerFlags
}

func (*openCmd) Name() string     { return "open" }
func (*openCmd) Synopsis() string { return "open an account with the configured opening cash" }
func (*openCmd) Usage() string {
	return `open -account <id>

  Opens a new account. The opening cash (OPENING_CASH) is recorded as the
  first deposit in its history.
`
}

func (c *openCmd) SetFlags(f *flag.FlagSet) { c.setFlags(f, true) }

func (c *openCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !c.requireAccount() {
		return subcommands.ExitUsageError
	}
	return c.run(ctx, func(svc *service.TradeService) (string, error) {
		acct, err := svc.OpenAccount(ctx, c.account)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Opened **%s** with %s.\n", acct.ID, models.USD(acct.Cash)), nil
	})
}

// tradeCmd is registered once as buy and once as sell.
type tradeCmd struct {
	ledgerFlags
	kind   models.EntryKind
	symbol string
	shares string
}

func (c *tradeCmd) Name() string { return string(c.kind) }
func (c *tradeCmd) Synopsis() string {
	if c.kind == models.KindBuy {
		return "buy whole shares at the current quote"
	}
	return "sell whole shares at the current quote"
}
func (c *tradeCmd) Usage() string {
	return fmt.Sprintf(`%s -account <id> -symbol <ticker> -shares <n>

  Prices the trade with a single quote and applies it atomically.
`, c.kind)
}

func (c *tradeCmd) SetFlags(f *flag.FlagSet) {
	c.setFlags(f, true)
	f.StringVar(&c.symbol, "symbol", "", "Ticker symbol, e.g. AAPL (required)")
	f.StringVar(&c.shares, "shares", "", "Whole number of shares, at least 1 (required)")
}

func (c *tradeCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !c.requireAccount() {
		return subcommands.ExitUsageError
	}
	return c.run(ctx, func(svc *service.TradeService) (string, error) {
		// A malformed count is reported by the engine after the symbol check.
		shares, err := service.ParseShares(c.shares)
		if err != nil {
			shares = 0
		}
		trade := svc.Buy
		verb := "Bought"
		if c.kind == models.KindSell {
			trade, verb = svc.Sell, "Sold"
		}
		res, err := trade(ctx, c.account, c.symbol, shares)
		if err != nil {
			return "", err
		}
		e := res.Entry
		return fmt.Sprintf("%s %d **%s** at %s for %s. Cash is now %s; %d shares held.\n",
			verb, e.Shares, e.Symbol, models.USD(e.UnitPrice), models.USD(e.TotalPrice),
			models.USD(res.Snapshot.Account.Cash), res.Snapshot.Holding.Shares), nil
	})
}

type depositCmd struct {
	ledgerFlags
	amount string
}

func (*depositCmd) Name() string     { return "deposit" }
func (*depositCmd) Synopsis() string { return "add cash to an account" }
func (*depositCmd) Usage() string {
	return `deposit -account <id> -amount <decimal>
`
}

func (c *depositCmd) SetFlags(f *flag.FlagSet) {
	c.setFlags(f, true)
	f.StringVar(&c.amount, "amount", "", "Positive amount in dollars (required)")
}

func (c *depositCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !c.requireAccount() {
		return subcommands.ExitUsageError
	}
	amount, err := service.ParseAmount(c.amount)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	return c.run(ctx, func(svc *service.TradeService) (string, error) {
		res, err := svc.Deposit(ctx, c.account, amount)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Deposited %s. Cash is now %s.\n", models.USD(amount), models.USD(res.Snapshot.Account.Cash)), nil
	})
}

type portfolioCmd struct {
	ledgerFlags
}

func (*portfolioCmd) Name() string     { return "portfolio" }
func (*portfolioCmd) Synopsis() string { return "show holdings at current prices" }
func (*portfolioCmd) Usage() string {
	return `portfolio -account <id>

  Values every holding at its current quote. Positions whose symbol can no
  longer be priced are listed with the reason and left out of the total.
`
}

func (c *portfolioCmd) SetFlags(f *flag.FlagSet) { c.setFlags(f, true) }

func (c *portfolioCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !c.requireAccount() {
		return subcommands.ExitUsageError
	}
	return c.run(ctx, func(svc *service.TradeService) (string, error) {
		p, err := svc.GetPortfolio(ctx, c.account)
		if err != nil {
			return "", err
		}
		return portfolioMarkdown(p), nil
	})
}

func portfolioMarkdown(p *models.Portfolio) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Portfolio of %s\n\n", p.AccountID)
	b.WriteString("| Symbol | Name | Shares | Price | Value |\n")
	b.WriteString("|---|---|---:|---:|---:|\n")
	for _, pos := range p.Positions {
		if pos.Degraded {
			fmt.Fprintf(&b, "| %s | _%s_ | %d | - | - |\n", pos.Symbol, pos.Reason, pos.Shares)
			continue
		}
		fmt.Fprintf(&b, "| %s | %s | %d | %s | %s |\n", pos.Symbol, pos.Name, pos.Shares, models.USD(pos.Price), models.USD(pos.Value))
	}
	fmt.Fprintf(&b, "| Cash | | | | %s |\n", models.USD(p.Cash))
	fmt.Fprintf(&b, "| **Total** | | | | **%s** |\n", models.USD(p.NetWorth))
	return b.String()
}

type historyCmd struct {
	ledgerFlags
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "list every ledger change, newest first" }
func (*historyCmd) Usage() string {
	return `history -account <id>
`
}

func (c *historyCmd) SetFlags(f *flag.FlagSet) { c.setFlags(f, true) }

func (c *historyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !c.requireAccount() {
		return subcommands.ExitUsageError
	}
	return c.run(ctx, func(svc *service.TradeService) (string, error) {
		entries, err := svc.GetHistory(ctx, c.account)
		if err != nil {
			return "", err
		}
		return historyMarkdown(c.account, entries), nil
	})
}

func historyMarkdown(account string, entries []models.HistoryEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# History of %s\n\n", account)
	b.WriteString("| Time | Kind | Symbol | Shares | Price | Total |\n")
	b.WriteString("|---|---|---|---:|---:|---:|\n")
	for _, e := range entries {
		symbol, shares := "", ""
		if e.Kind.IsTrade() {
			symbol, shares = e.Symbol, fmt.Sprint(e.Shares)
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
			e.Timestamp.UTC().Format("2006-01-02 15:04:05"), e.Kind, symbol, shares, models.USD(e.UnitPrice), models.USD(e.TotalPrice))
	}
	return b.String()
}

type quoteCmd struct {
	ledgerFlags
}

func (*quoteCmd) Name() string     { return "quote" }
func (*quoteCmd) Synopsis() string { return "look up current prices" }
func (*quoteCmd) Usage() string {
	return `quote <symbol>...
`
}

func (c *quoteCmd) SetFlags(f *flag.FlagSet) { c.setFlags(f, false) }

func (c *quoteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(stderr, "Error: at least one symbol is required.")
		return subcommands.ExitUsageError
	}
	return c.run(ctx, func(svc *service.TradeService) (string, error) {
		var b strings.Builder
		b.WriteString("| Symbol | Name | Price |\n|---|---|---:|\n")
		for _, sym := range f.Args() {
			q, err := svc.Quote(ctx, sym)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "| %s | %s | %s |\n", q.Symbol, q.Name, models.USD(q.Price))
		}
		return b.String(), nil
	})
}
