package memory

import (
	"context"

	"github.com/geocoder89/loanhub/internal/domain/loan"
	"github.com/geocoder89/loanhub/internal/domain/payment"
	"github.com/geocoder89/loanhub/internal/domain/user"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LoansRepo struct {
	s *Store
}

func NewLoansRepo(s *Store) *LoansRepo {
	return &LoansRepo{s: s}
}

func (r *LoansRepo) Create(ctx context.Context, userID string, amount decimal.Decimal, termMonths int) (loan.Loan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[userID]; !ok {
		return loan.Loan{}, user.ErrNotFound
	}

	t := now()
	l := loan.Loan{
		ID:         uuid.NewString(),
		UserID:     userID,
		Amount:     amount,
		TermMonths: termMonths,
		Status:     loan.StatusPending,
		CreatedAt:  t,
		UpdatedAt:  t,
	}
	r.s.loans[l.ID] = l
	r.s.loanSeq[l.ID] = r.s.next()

	return l, nil
}

func (r *LoansRepo) ListByUser(ctx context.Context, userID string) ([]loan.Loan, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]loan.Loan, 0)
	for _, l := range r.s.loans {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	r.s.sortLoans(out)
	return out, nil
}

func (r *LoansRepo) GetOwned(ctx context.Context, loanID, userID string) (loan.Loan, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	l, ok := r.s.loans[loanID]
	if !ok || l.UserID != userID {
		return loan.Loan{}, loan.ErrNotFound
	}
	return l, nil
}

func (r *LoansRepo) ListAllWithOwner(ctx context.Context) ([]loan.WithOwner, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	ls := make([]loan.Loan, 0, len(r.s.loans))
	for _, l := range r.s.loans {
		ls = append(ls, l)
	}
	r.s.sortLoans(ls)

	out := make([]loan.WithOwner, 0, len(ls))
	for _, l := range ls {
		u := r.s.users[l.UserID]
		out = append(out, loan.WithOwner{
			Loan: l,
			User: loan.Owner{ID: u.ID, Email: u.Email, Phone: u.Phone},
		})
	}
	return out, nil
}

// setStatus must be called with the write lock held.
func (r *LoansRepo) setStatus(loanID string, to loan.Status) (loan.Loan, error) {
	l, ok := r.s.loans[loanID]
	if !ok {
		return loan.Loan{}, loan.ErrNotFound
	}
	if err := loan.Transition(l.Status, to); err != nil {
		return loan.Loan{}, err
	}

	l.Status = to
	l.UpdatedAt = now()
	r.s.loans[loanID] = l
	return l, nil
}

func (r *LoansRepo) Transition(ctx context.Context, loanID string, to loan.Status) (loan.Loan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.setStatus(loanID, to)
}

func (r *LoansRepo) Disburse(ctx context.Context, loanID string) (loan.Loan, payment.Disbursement, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	l, err := r.setStatus(loanID, loan.StatusDisbursed)
	if err != nil {
		return loan.Loan{}, payment.Disbursement{}, err
	}

	d := payment.Disbursement{
		ID:          uuid.NewString(),
		LoanID:      l.ID,
		UserID:      l.UserID,
		Amount:      l.Amount,
		Method:      loan.DefaultMethod,
		Reference:   uuid.NewString(),
		DisbursedAt: now(),
	}
	r.s.disbursements = append(r.s.disbursements, d)

	return l, d, nil
}
