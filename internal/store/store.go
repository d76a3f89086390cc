// Package store persists users, books and borrowings.
//
// Every query method takes a sqlx.ExtContext so the same code runs against the
// pool or inside a transaction opened with InTx.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"bookstore/m/domain"
	"bookstore/m/internal/config"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

type Store struct {
	db      *sqlx.DB
	dialect goqu.DialectWrapper
	// row locks are only meaningful on postgres; sqlite serializes on its single connection
	forUpdate string
}

func New(db *sqlx.DB) *Store {
	s := &Store{db: db}
	if db.DriverName() == config.DriverPostgres {
		s.dialect = goqu.Dialect("postgres")
		s.forUpdate = " FOR UPDATE"
	} else {
		s.dialect = goqu.Dialect("sqlite3")
	}
	return s
}

// DB exposes the pool for reads outside a transaction.
func (s *Store) DB() sqlx.ExtContext { return s.db }

// InTx runs fn inside a transaction, committing only if fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) selectPage(ds *goqu.SelectDataset, page domain.Page) *goqu.SelectDataset {
	return ds.Order(goqu.C("id").Asc()).
		Offset(uint(page.Skip)).
		Limit(uint(page.Limit))
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func rowsAffected(res interface{ RowsAffected() (int64, error) }) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
