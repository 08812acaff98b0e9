// Package events publishes loan lifecycle notifications after the database
// has committed the change they describe.
package events

import (
	"context"
	"time"

	"github.com/geocoder89/loanhub/internal/domain/loan"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Type string

const (
	LoanApplied           Type = "loan.applied"
	LoanApproved          Type = "loan.approved"
	LoanRejected          Type = "loan.rejected"
	LoanDisbursed         Type = "loan.disbursed"
	LoanRepaymentRecorded Type = "loan.repayment_recorded"
)

type LoanEvent struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	LoanID     string          `json:"loanId"`
	UserID     string          `json:"userId"`
	Status     loan.Status     `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// NewLoanEvent snapshots l. amount is the money moved by the action, which is
// the loan amount except for repayments.
func NewLoanEvent(t Type, l loan.Loan, amount decimal.Decimal) LoanEvent {
	return LoanEvent{
		ID:         uuid.NewString(),
		Type:       t,
		LoanID:     l.ID,
		UserID:     l.UserID,
		Status:     l.Status,
		Amount:     amount,
		OccurredAt: time.Now().UTC(),
	}
}

type Publisher interface {
	PublishLoanEvent(ctx context.Context, ev LoanEvent) error
}

// TypeForStatus maps an admin transition target to its event type.
func TypeForStatus(s loan.Status) (Type, bool) {
	switch s {
	case loan.StatusApproved:
		return LoanApproved, true
	case loan.StatusRejected:
		return LoanRejected, true
	case loan.StatusDisbursed:
		return LoanDisbursed, true
	}
	return "", false
}
