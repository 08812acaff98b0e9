package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/geocoder89/loanhub/internal/domain/kyc"
	"github.com/geocoder89/loanhub/internal/domain/loan"
	"github.com/geocoder89/loanhub/internal/domain/user"
	"github.com/geocoder89/loanhub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type base struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func (b base) observe(op string, fn func() error) error {
	if b.prom != nil {
		return b.prom.ObserveDB(op, fn, outcome)
	}
	return fn()
}

// outcome separates refused or empty lookups from real database failures.
func outcome(err error) string {
	var te *loan.TransitionError

	switch {
	case errors.Is(err, pgx.ErrNoRows),
		errors.Is(err, user.ErrNotFound),
		errors.Is(err, loan.ErrNotFound),
		errors.Is(err, kyc.ErrNotFound),
		isInvalidText(err):
		return observability.DBMiss
	case errors.As(err, &te), isUniqueViolation(err):
		return observability.DBRejected
	}
	return observability.DBError
}

// inTx runs fn in a transaction, committing only when fn succeeds.
func (b base) inTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isForeignKeyViolation reports a write that references a missing parent row.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// isInvalidText reports malformed uuid/numeric input rejected by Postgres.
func isInvalidText(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func parseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return d, nil
}
