package payment

import (
	"time"

	"github.com/geocoder89/loanhub/internal/domain/loan"
	"github.com/shopspring/decimal"
)

type Repayment struct {
	ID          string          `json:"id"`
	LoanID      string          `json:"loanId"`
	UserID      string          `json:"userId"`
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method"`
	Reference   string          `json:"reference"`
	PaymentDate time.Time       `json:"paymentDate"`
}

type Disbursement struct {
	ID          string          `json:"id"`
	LoanID      string          `json:"loanId"`
	UserID      string          `json:"userId"`
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method"`
	Reference   string          `json:"reference"`
	DisbursedAt time.Time       `json:"disbursedAt"`
}

type History struct {
	Repayments    []Repayment    `json:"repayments"`
	Disbursements []Disbursement `json:"disbursements"`
}

// RepayInput is a repayment request scoped to the calling user.
type RepayInput struct {
	LoanID string
	UserID string
	Amount decimal.Decimal
	Method string
}

// Receipt is a committed repayment and the loan as it stands afterwards.
type Receipt struct {
	Repayment Repayment
	Loan      loan.Loan
	// Closed is set only by the repayment that moved the loan to REPAID.
	Closed bool
}
