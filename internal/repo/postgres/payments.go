package postgres

import (
	"context"
	"time"

	"github.com/geocoder89/loanhub/internal/domain/loan"
	"github.com/geocoder89/loanhub/internal/domain/payment"
	"github.com/geocoder89/loanhub/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PaymentsRepo struct {
	base
}

func NewPaymentsRepo(pool *pgxpool.Pool, prom *observability.Prom) *PaymentsRepo {
	return &PaymentsRepo{base{pool: pool, prom: prom}}
}

// Repay records a repayment against a loan owned by in.UserID. When a
// disbursed loan's repayments reach its amount the loan becomes REPAID in the
// same transaction and the receipt is marked Closed.
func (r *PaymentsRepo) Repay(ctx context.Context, in payment.RepayInput) (res payment.Receipt, err error) {
	method := in.Method
	if method == "" {
		method = loan.DefaultMethod
	}

	err = r.observe("payments.repay", func() error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			var rp payment.Repayment
			l, e := scanLoan(tx.QueryRow(ctx,
				`SELECT `+loanColumns+` FROM loan_applications WHERE id = $1 AND user_id = $2 FOR UPDATE`,
				in.LoanID, in.UserID))
			if e != nil {
				return e
			}

			var amount string
			e = tx.QueryRow(ctx, `
				INSERT INTO repayments (id, loan_id, user_id, amount, method, reference, payment_date)
				VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
				RETURNING id, loan_id, user_id, amount::text, method, reference, payment_date`,
				uuid.NewString(), in.LoanID, in.UserID, in.Amount.String(), method, uuid.NewString(), time.Now().UTC(),
			).Scan(&rp.ID, &rp.LoanID, &rp.UserID, &amount, &rp.Method, &rp.Reference, &rp.PaymentDate)
			if e != nil {
				return e
			}
			if rp.Amount, e = parseAmount(amount); e != nil {
				return e
			}

			res = payment.Receipt{Repayment: rp, Loan: l}
			if l.Status != loan.StatusDisbursed {
				return nil
			}

			var paid string
			if e := tx.QueryRow(ctx,
				`SELECT COALESCE(SUM(amount), 0)::text FROM repayments WHERE loan_id = $1`, in.LoanID,
			).Scan(&paid); e != nil {
				return e
			}

			total, e := parseAmount(paid)
			if e != nil {
				return e
			}

			if total.LessThan(l.Amount) {
				return nil
			}

			if res.Loan, e = setStatus(ctx, tx, in.LoanID, loan.StatusRepaid); e != nil {
				return e
			}
			res.Closed = true
			return nil
		})
	})
	if err != nil {
		return payment.Receipt{}, err
	}
	return res, nil
}

func (r *PaymentsRepo) ListRepayments(ctx context.Context, loanID string) ([]payment.Repayment, error) {
	out := make([]payment.Repayment, 0)

	err := r.observe("payments.list_repayments", func() error {
		rows, e := r.pool.Query(ctx, `
			SELECT id, loan_id, user_id, amount::text, method, reference, payment_date
			FROM repayments
			WHERE loan_id = $1
			ORDER BY payment_date DESC, id DESC`, loanID)
		if e != nil {
			return e
		}
		defer rows.Close()

		for rows.Next() {
			var p payment.Repayment
			var amount string
			if e := rows.Scan(&p.ID, &p.LoanID, &p.UserID, &amount, &p.Method, &p.Reference, &p.PaymentDate); e != nil {
				return e
			}
			if p.Amount, e = parseAmount(amount); e != nil {
				return e
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PaymentsRepo) ListDisbursements(ctx context.Context, loanID string) ([]payment.Disbursement, error) {
	out := make([]payment.Disbursement, 0)

	err := r.observe("payments.list_disbursements", func() error {
		rows, e := r.pool.Query(ctx, `
			SELECT id, loan_id, user_id, amount::text, method, reference, disbursed_at
			FROM disbursements
			WHERE loan_id = $1
			ORDER BY disbursed_at DESC, id DESC`, loanID)
		if e != nil {
			return e
		}
		defer rows.Close()

		for rows.Next() {
			var d payment.Disbursement
			var amount string
			if e := rows.Scan(&d.ID, &d.LoanID, &d.UserID, &amount, &d.Method, &d.Reference, &d.DisbursedAt); e != nil {
				return e
			}
			if d.Amount, e = parseAmount(amount); e != nil {
				return e
			}
			out = append(out, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
