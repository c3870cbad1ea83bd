// Package postgres persists vouchers, the ledger and FIFO lots in PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/awecode/awecount-sub001/internal/platform/db"
	"github.com/awecode/awecount-sub001/internal/shared"
	"github.com/awecode/awecount-sub001/internal/voucher"
)

//go:embed schema.sql
var schema string

// Store implements voucher.RepositoryPort on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ voucher.RepositoryPort = (*Store)(nil)

// Migrate creates the tables the store needs when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store/postgres: migrate: %w", err)
	}
	return nil
}

// WithTx executes fn within a repeatable-read transaction.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, voucher.TxRepository) error) error {
	if s == nil || s.pool == nil {
		return errors.New("store/postgres: not initialised")
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

type txRepo struct {
	tx pgx.Tx
}

var _ voucher.TxRepository = (*txRepo)(nil)

// mapErr turns driver errors the core can act on into coded errors.
func mapErr(err error, what string, id int64) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NotFoundf("%s %d", what, id)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503", "23505":
			return &shared.Error{
				Code:    shared.CodeValidation,
				Message: fmt.Sprintf("%s %d: %s", what, id, pgErr.Message),
				Details: map[string]any{"constraint": pgErr.ConstraintName},
				Err:     err,
			}
		}
	}
	return fmt.Errorf("store/postgres: %s %d: %w", what, id, err)
}

// expectOne reports a missing row when an update or delete touched nothing.
func expectOne(tag pgconn.CommandTag, err error, what string, id int64) error {
	if err != nil {
		return mapErr(err, what, id)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("%s %d", what, id)
	}
	return nil
}

func nullID(id int64) any {
	if id <= 0 {
		return nil
	}
	return id
}
