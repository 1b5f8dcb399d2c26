package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"github.com/GooferByte/finance-ledger/internal/repository"
	"github.com/GooferByte/finance-ledger/internal/repository/storetest"

	"github.com/lib/pq"
)

// TEST_DATABASE_URL points at a scratch database; its ledger tables are
// truncated before every case.
func TestRepository(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	repo := New(db)
	if err := repo.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	storetest.Run(t, func(t *testing.T) repository.LedgerStore {
		if _, err := db.Exec(`TRUNCATE history, holdings, accounts`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return repo
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"40001", true},
		{"40P01", true},
		{"23505", true},
		{"23514", false},
	}
	for _, tt := range tests {
		err := classify(&pq.Error{Code: pq.ErrorCode(tt.code), Message: "boom"})
		if got := errors.Is(err, repository.ErrConflict); got != tt.want {
			t.Errorf("classify(%s) conflict = %v, want %v", tt.code, got, tt.want)
		}
	}
}
