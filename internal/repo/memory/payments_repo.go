package memory

import (
	"context"

	"github.com/geocoder89/loanhub/internal/domain/loan"
	"github.com/geocoder89/loanhub/internal/domain/payment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentsRepo struct {
	s     *Store
	loans *LoansRepo
}

func NewPaymentsRepo(s *Store) *PaymentsRepo {
	return &PaymentsRepo{s: s, loans: NewLoansRepo(s)}
}

// Repay records a repayment on an owned loan and closes a disbursed loan once
// the repayments cover its amount.
func (r *PaymentsRepo) Repay(ctx context.Context, in payment.RepayInput) (payment.Receipt, error) {
	method := in.Method
	if method == "" {
		method = loan.DefaultMethod
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	l, ok := r.s.loans[in.LoanID]
	if !ok || l.UserID != in.UserID {
		return payment.Receipt{}, loan.ErrNotFound
	}

	rp := payment.Repayment{
		ID:          uuid.NewString(),
		LoanID:      in.LoanID,
		UserID:      in.UserID,
		Amount:      in.Amount,
		Method:      method,
		Reference:   uuid.NewString(),
		PaymentDate: now(),
	}
	r.s.repayments = append(r.s.repayments, rp)

	if l.Status != loan.StatusDisbursed {
		return payment.Receipt{Repayment: rp, Loan: l}, nil
	}

	paid := decimal.Zero
	for _, p := range r.s.repayments {
		if p.LoanID == in.LoanID {
			paid = paid.Add(p.Amount)
		}
	}

	if paid.LessThan(l.Amount) {
		return payment.Receipt{Repayment: rp, Loan: l}, nil
	}

	l, err := r.loans.setStatus(in.LoanID, loan.StatusRepaid)
	if err != nil {
		return payment.Receipt{}, err
	}
	return payment.Receipt{Repayment: rp, Loan: l, Closed: true}, nil
}

func (r *PaymentsRepo) ListRepayments(ctx context.Context, loanID string) ([]payment.Repayment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]payment.Repayment, 0)
	for i := len(r.s.repayments) - 1; i >= 0; i-- {
		if r.s.repayments[i].LoanID == loanID {
			out = append(out, r.s.repayments[i])
		}
	}
	return out, nil
}

func (r *PaymentsRepo) ListDisbursements(ctx context.Context, loanID string) ([]payment.Disbursement, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]payment.Disbursement, 0)
	for i := len(r.s.disbursements) - 1; i >= 0; i-- {
		if r.s.disbursements[i].LoanID == loanID {
			out = append(out, r.s.disbursements[i])
		}
	}
	return out, nil
}
