package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/GooferByte/finance-ledger/internal/models"
	"github.com/GooferByte/finance-ledger/internal/repository"
	"github.com/shopspring/decimal"

	"github.com/lib/pq"
)

// Schema creates the ledger tables when they are missing.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id         TEXT PRIMARY KEY,
	cash       NUMERIC(20,4) NOT NULL CHECK (cash >= 0),
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS holdings (
	account_id TEXT NOT NULL REFERENCES accounts(id),
	symbol     TEXT NOT NULL,
	shares     BIGINT NOT NULL CHECK (shares > 0),
	PRIMARY KEY (account_id, symbol)
);
CREATE TABLE IF NOT EXISTS history (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	account_id  TEXT NOT NULL REFERENCES accounts(id),
	symbol      TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL,
	shares      BIGINT NOT NULL,
	unit_price  NUMERIC(20,4) NOT NULL,
	total_price NUMERIC(20,4) NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS history_account_time ON history (account_id, created_at DESC);
`

// Repository implements LedgerStore backed by PostgreSQL.
type Repository struct {
	db *sql.DB
}

func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate applies Schema.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, Schema)
	return err
}

func (r *Repository) CreateAccount(ctx context.Context, id string, openingCash decimal.Decimal, at time.Time) (acct models.Account, err error) {
	if err := repository.Check(openingCash, 0); err != nil {
		return models.Account{}, err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Account{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `INSERT INTO accounts (id, cash, created_at) VALUES ($1,$2,$3)`, id, openingCash, at); err != nil {
		if isUniqueViolation(err) {
			return models.Account{}, repository.ErrAccountExists
		}
		return models.Account{}, err
	}
	if openingCash.IsPositive() {
		if err = insertEntry(ctx, tx, repository.OpeningEntry(id, openingCash, at)); err != nil {
			return models.Account{}, err
		}
	}
	if err = tx.Commit(); err != nil {
		return models.Account{}, err
	}
	return models.Account{ID: id, Cash: openingCash, CreatedAt: at}, nil
}

func (r *Repository) GetAccount(ctx context.Context, accountID string) (models.Account, error) {
	var acct models.Account
	row := r.db.QueryRowContext(ctx, `SELECT id, cash, created_at FROM accounts WHERE id = $1`, accountID)
	if err := row.Scan(&acct.ID, &acct.Cash, &acct.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Account{}, repository.ErrAccountNotFound
		}
		return models.Account{}, err
	}
	return acct, nil
}

func (r *Repository) GetHolding(ctx context.Context, accountID, symbol string) (models.Holding, error) {
	if _, err := r.GetAccount(ctx, accountID); err != nil {
		return models.Holding{}, err
	}
	h := models.Holding{AccountID: accountID, Symbol: symbol}
	row := r.db.QueryRowContext(ctx, `SELECT shares FROM holdings WHERE account_id = $1 AND symbol = $2`, accountID, symbol)
	if err := row.Scan(&h.Shares); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return models.Holding{}, err
	}
	return h, nil
}

func (r *Repository) ListHoldings(ctx context.Context, accountID string) ([]models.Holding, error) {
	if _, err := r.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT account_id, symbol, shares
		FROM holdings
		WHERE account_id = $1
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
		WHERE account_id = $1
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

// ApplyDelta locks the account row, then the holding row, so every writer of
// the same account is serialized by Postgres for the life of the transaction.
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

	var acct models.Account
	row := tx.QueryRowContext(ctx, `SELECT id, cash, created_at FROM accounts WHERE id = $1 FOR UPDATE`, delta.AccountID)
	if err = row.Scan(&acct.ID, &acct.Cash, &acct.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = repository.ErrAccountNotFound
		}
		return models.LedgerSnapshot{}, err
	}

	var shares int64
	if delta.Symbol != "" {
		row = tx.QueryRowContext(ctx, `SELECT shares FROM holdings WHERE account_id = $1 AND symbol = $2 FOR UPDATE`, delta.AccountID, delta.Symbol)
		if err = row.Scan(&shares); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return models.LedgerSnapshot{}, err
		}
		shares += delta.ShareDelta
	}
	acct.Cash = acct.Cash.Add(delta.CashDelta)
	if err = repository.Check(acct.Cash, shares); err != nil {
		return models.LedgerSnapshot{}, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE accounts SET cash = $2 WHERE id = $1`, delta.AccountID, acct.Cash); err != nil {
		return models.LedgerSnapshot{}, err
	}
	if delta.Symbol != "" {
		if shares == 0 {
			_, err = tx.ExecContext(ctx, `DELETE FROM holdings WHERE account_id = $1 AND symbol = $2`, delta.AccountID, delta.Symbol)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO holdings (account_id, symbol, shares) VALUES ($1,$2,$3)
				ON CONFLICT (account_id, symbol) DO UPDATE SET shares = EXCLUDED.shares
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
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`
	_, err := tx.ExecContext(ctx, query, e.ID, e.AccountID, e.Symbol, string(e.Kind), e.Shares, e.UnitPrice, e.TotalPrice, e.Timestamp)
	return err
}

// classify turns retryable Postgres failures into repository.ErrConflict.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "23505":
			return fmt.Errorf("%w: %s", repository.ErrConflict, pqErr.Message)
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

var _ repository.LedgerStore = (*Repository)(nil)
