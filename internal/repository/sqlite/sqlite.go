package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GooferByte/finance-ledger/internal/models"
	"github.com/GooferByte/finance-ledger/internal/repository"
	"github.com/shopspring/decimal"

	"github.com/mattn/go-sqlite3"
)

// Money columns are TEXT so decimal values round-trip without float loss.
const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id         TEXT PRIMARY KEY,
	cash       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS holdings (
	account_id TEXT NOT NULL REFERENCES accounts(id),
	symbol     TEXT NOT NULL,
	shares     INTEGER NOT NULL CHECK (shares > 0),
	PRIMARY KEY (account_id, symbol)
);
CREATE TABLE IF NOT EXISTS history (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	account_id  TEXT NOT NULL REFERENCES accounts(id),
	symbol      TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL,
	shares      INTEGER NOT NULL,
	unit_price  TEXT NOT NULL,
	total_price TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS history_account_time ON history (account_id, created_at DESC);
`

// Repository implements LedgerStore on a SQLite file.
type Repository struct {
	db *sql.DB
}

// Open opens path with immediate transactions, so every ApplyDelta takes
// the write lock before it reads cash and holdings.
func Open(path string) (*Repository, error) {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_busy_timeout=5000&_journal_mode=WAL&_fk=1&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return repo, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

func (r *Repository) CreateAccount(ctx context.Context, id string, openingCash decimal.Decimal, at time.Time) (acct models.Account, err error) {
	if err := repository.Check(openingCash, 0); err != nil {
		return models.Account{}, err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Account{}, classify(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	at = at.UTC()
	if _, err = tx.ExecContext(ctx, `INSERT INTO accounts (id, cash, created_at) VALUES (?,?,?)`, id, openingCash.String(), at); err != nil {
		if isUniqueViolation(err) {
			return models.Account{}, repository.ErrAccountExists
		}
		return models.Account{}, classify(err)
	}
	if openingCash.IsPositive() {
		if err = insertEntry(ctx, tx, repository.OpeningEntry(id, openingCash, at)); err != nil {
			return models.Account{}, err
		}
	}
	if err = tx.Commit(); err != nil {
		return models.Account{}, classify(err)
	}
	return models.Account{ID: id, Cash: openingCash, CreatedAt: at}, nil
}

func (r *Repository) GetAccount(ctx context.Context, accountID string) (models.Account, error) {
	return getAccount(ctx, r.db, accountID)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getAccount(ctx context.Context, q queryer, accountID string) (models.Account, error) {
	var acct models.Account
	row := q.QueryRowContext(ctx, `SELECT id, cash, created_at FROM accounts WHERE id = ?`, accountID)
	if err := row.Scan(&acct.ID, &acct.Cash, &acct.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Account{}, repository.ErrAccountNotFound
		}
		return models.Account{}, err
	}
	return acct, nil
}

func getShares(ctx context.Context, q queryer, accountID, symbol string) (int64, error) {
	var shares int64
	row := q.QueryRowContext(ctx, `SELECT shares FROM holdings WHERE account_id = ? AND symbol = ?`, accountID, symbol)
	if err := row.Scan(&shares); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	return shares, nil
}

func (r *Repository) GetHolding(ctx context.Context, accountID, symbol string) (models.Holding, error) {
	if _, err := r.GetAccount(ctx, accountID); err != nil {
		return models.Holding{}, err
	}
	shares, err := getShares(ctx, r.db, accountID, symbol)
	if err != nil {
		return models.Holding{}, err
	}
	return models.Holding{AccountID: accountID, Symbol: symbol, Shares: shares}, nil
}

func (r *Repository) ListHoldings(ctx context.Context, accountID string) ([]models.Holding, error) {
	if _, err := r.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT account_id, symbol, shares
		FROM holdings
		WHERE account_id = ?
		ORDER BY symbol ASC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Holding{}
	for rows.Next() {
		var h models.Holding
		if err := rows.Scan(&h.AccountID, &h.Symbol, &h.Shares); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *Repository) ListHistory(ctx context.Context, accountID string) ([]models.HistoryEntry, error) {
	if _, err := r.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, symbol, kind, shares, unit_price, total_price, created_at
		FROM history
		WHERE account_id = ?
		ORDER BY created_at DESC, seq DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.HistoryEntry{}
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Symbol, &e.Kind, &e.Shares, &e.UnitPrice, &e.TotalPrice, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) ApplyDelta(ctx context.Context, delta models.Delta) (snap models.LedgerSnapshot, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.LedgerSnapshot{}, classify(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			err = classify(err)
		}
	}()

	acct, err := getAccount(ctx, tx, delta.AccountID)
	if err != nil {
		return models.LedgerSnapshot{}, err
	}
	var shares int64
	if delta.Symbol != "" {
		if shares, err = getShares(ctx, tx, delta.AccountID, delta.Symbol); err != nil {
			return models.LedgerSnapshot{}, err
		}
		shares += delta.ShareDelta
	}
	acct.Cash = acct.Cash.Add(delta.CashDelta)
	if err = repository.Check(acct.Cash, shares); err != nil {
		return models.LedgerSnapshot{}, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE accounts SET cash = ? WHERE id = ?`, acct.Cash.String(), delta.AccountID); err != nil {
		return models.LedgerSnapshot{}, err
	}
	if delta.Symbol != "" {
		if shares == 0 {
			_, err = tx.ExecContext(ctx, `DELETE FROM holdings WHERE account_id = ? AND symbol = ?`, delta.AccountID, delta.Symbol)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO holdings (account_id, symbol, shares) VALUES (?,?,?)
				ON CONFLICT (account_id, symbol) DO UPDATE SET shares = excluded.shares
			`, delta.AccountID, delta.Symbol, shares)
		}
		if err != nil {
			return models.LedgerSnapshot{}, err
		}
	}
	entry := delta.Entry
	entry.AccountID = delta.AccountID
	if err = insertEntry(ctx, tx, entry); err != nil {
		return models.LedgerSnapshot{}, err
	}
	if err = tx.Commit(); err != nil {
		return models.LedgerSnapshot{}, err
	}
	return models.LedgerSnapshot{
		Account: acct,
		Holding: models.Holding{AccountID: delta.AccountID, Symbol: delta.Symbol, Shares: shares},
	}, nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, e models.HistoryEntry) error {
	const query = `
		INSERT INTO history
		(id, account_id, symbol, kind, shares, unit_price, total_price, created_at)
		VALUES (?,?,?,?,?,?,?,?)
	`
	_, err := tx.ExecContext(ctx, query, e.ID, e.AccountID, e.Symbol, string(e.Kind), e.Shares, e.UnitPrice.String(), e.TotalPrice.String(), e.Timestamp.UTC())
	return err
}

// classify turns lock contention into repository.ErrConflict.
func classify(err error) error {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		if sqlErr.Code == sqlite3.ErrBusy || sqlErr.Code == sqlite3.ErrLocked {
			return fmt.Errorf("%w: %s", repository.ErrConflict, sqlErr.Error())
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

var _ repository.LedgerStore = (*Repository)(nil)
