package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/loanhub/internal/domain/loan"
	"github.com/geocoder89/loanhub/internal/domain/payment"
	"github.com/geocoder89/loanhub/internal/domain/user"
	"github.com/geocoder89/loanhub/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const loanColumns = `id, user_id, amount::text, term_months, status, created_at, updated_at`

type LoansRepo struct {
	base
}

func NewLoansRepo(pool *pgxpool.Pool, prom *observability.Prom) *LoansRepo {
	return &LoansRepo{base{pool: pool, prom: prom}}
}

func scanLoan(row pgx.Row) (loan.Loan, error) {
	var l loan.Loan
	var amount, status string

	err := row.Scan(&l.ID, &l.UserID, &amount, &l.TermMonths, &status, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return loan.Loan{}, loan.ErrNotFound
		}
		return loan.Loan{}, err
	}

	if l.Amount, err = parseAmount(amount); err != nil {
		return loan.Loan{}, err
	}
	l.Status = loan.Status(status)
	return l, nil
}

func (r *LoansRepo) Create(ctx context.Context, userID string, amount decimal.Decimal, termMonths int) (l loan.Loan, err error) {
	now := time.Now().UTC()

	err = r.observe("loans.create", func() error {
		var e error
		l, e = scanLoan(r.pool.QueryRow(ctx, `
			INSERT INTO loan_applications (id, user_id, amount, term_months, status, created_at, updated_at)
			VALUES ($1, $2, $3::numeric, $4, $5, $6, $6)
			RETURNING `+loanColumns,
			uuid.NewString(), userID, amount.String(), termMonths, string(loan.StatusPending), now,
		))
		if isForeignKeyViolation(e) {
			return user.ErrNotFound
		}
		return e
	})
	return l, err
}

func (r *LoansRepo) ListByUser(ctx context.Context, userID string) ([]loan.Loan, error) {
	out := make([]loan.Loan, 0)

	err := r.observe("loans.list_by_user", func() error {
		rows, e := r.pool.Query(ctx,
			`SELECT `+loanColumns+` FROM loan_applications
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC`, userID)
		if e != nil {
			return e
		}
		defer rows.Close()

		for rows.Next() {
			l, e := scanLoan(rows)
			if e != nil {
				return e
			}
			out = append(out, l)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetOwned returns the loan only when userID owns it; other owners see ErrNotFound.
func (r *LoansRepo) GetOwned(ctx context.Context, loanID, userID string) (l loan.Loan, err error) {
	err = r.observe("loans.get_owned", func() error {
		var e error
		l, e = scanLoan(r.pool.QueryRow(ctx,
			`SELECT `+loanColumns+` FROM loan_applications WHERE id = $1 AND user_id = $2`,
			loanID, userID,
		))
		return e
	})
	return l, err
}

func (r *LoansRepo) ListAllWithOwner(ctx context.Context) ([]loan.WithOwner, error) {
	out := make([]loan.WithOwner, 0)

	err := r.observe("loans.list_all", func() error {
		rows, e := r.pool.Query(ctx, `
			SELECT l.id, l.user_id, l.amount::text, l.term_months, l.status, l.created_at, l.updated_at,
				u.id, u.email, COALESCE(u.phone, '')
			FROM loan_applications l
			JOIN users u ON u.id = l.user_id
			ORDER BY l.created_at DESC, l.id DESC`)
		if e != nil {
			return e
		}
		defer rows.Close()

		for rows.Next() {
			var w loan.WithOwner
			var amount, status string

			if e := rows.Scan(
				&w.ID, &w.UserID, &amount, &w.TermMonths, &status, &w.CreatedAt, &w.UpdatedAt,
				&w.User.ID, &w.User.Email, &w.User.Phone,
			); e != nil {
				return e
			}
			if w.Amount, e = parseAmount(amount); e != nil {
				return e
			}
			w.Status = loan.Status(status)
			out = append(out, w)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func lockLoan(ctx context.Context, tx pgx.Tx, loanID string) (loan.Loan, error) {
	return scanLoan(tx.QueryRow(ctx,
		`SELECT `+loanColumns+` FROM loan_applications WHERE id = $1 FOR UPDATE`, loanID))
}

func setStatus(ctx context.Context, tx pgx.Tx, loanID string, to loan.Status) (loan.Loan, error) {
	return scanLoan(tx.QueryRow(ctx, `
		UPDATE loan_applications SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+loanColumns, loanID, string(to)))
}

// Transition moves a loan to status `to` under a row lock, refusing moves the
// status machine does not allow.
func (r *LoansRepo) Transition(ctx context.Context, loanID string, to loan.Status) (l loan.Loan, err error) {
	err = r.observe("loans.transition", func() error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			current, e := lockLoan(ctx, tx, loanID)
			if e != nil {
				return e
			}

			if e := loan.Transition(current.Status, to); e != nil {
				return e
			}

			l, e = setStatus(ctx, tx, loanID, to)
			return e
		})
	})
	return l, err
}

// Disburse marks an approved loan DISBURSED and records exactly one
// disbursement for its full amount, atomically.
func (r *LoansRepo) Disburse(ctx context.Context, loanID string) (l loan.Loan, d payment.Disbursement, err error) {
	err = r.observe("loans.disburse", func() error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			current, e := lockLoan(ctx, tx, loanID)
			if e != nil {
				return e
			}

			if e := loan.Transition(current.Status, loan.StatusDisbursed); e != nil {
				return e
			}

			if l, e = setStatus(ctx, tx, loanID, loan.StatusDisbursed); e != nil {
				return e
			}

			var amount string
			e = tx.QueryRow(ctx, `
				INSERT INTO disbursements (id, loan_id, user_id, amount, method, reference, disbursed_at)
				VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
				RETURNING id, loan_id, user_id, amount::text, method, reference, disbursed_at`,
				uuid.NewString(), l.ID, l.UserID, l.Amount.String(), loan.DefaultMethod, uuid.NewString(), time.Now().UTC(),
			).Scan(&d.ID, &d.LoanID, &d.UserID, &amount, &d.Method, &d.Reference, &d.DisbursedAt)
			if e != nil {
				return e
			}

			d.Amount, e = parseAmount(amount)
			return e
		})
	})
	return l, d, err
}
