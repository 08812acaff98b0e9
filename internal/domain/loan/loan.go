package loan

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusDisbursed Status = "DISBURSED"
	StatusRepaid    Status = "REPAID"
)

const DefaultMethod = "bank_transfer"

var (
	ErrNotFound         = errors.New("loan not found")
	ErrAmountPrecision  = errors.New("amount must have at most 2 decimal places")
	ErrAmountOutOfRange = errors.New("amount is too large")
)

// MaxAmount is the first value NUMERIC(18,2) cannot hold.
var MaxAmount = decimal.New(1, 16)

// allowed lists every legal move; anything absent is refused.
var allowed = map[Status][]Status{
	StatusPending:   {StatusApproved, StatusRejected},
	StatusApproved:  {StatusDisbursed},
	StatusDisbursed: {StatusRepaid},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusDisbursed, StatusRepaid:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return len(allowed[s]) == 0
}

func CanTransition(from, to Status) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError reports a refused status change.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("Loan cannot move from %s to %s", e.From, e.To)
}

// Transition validates a status change without mutating anything.
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// ValidateAmount checks what binding tags cannot: scale and column range.
func ValidateAmount(d decimal.Decimal) error {
	if !d.Equal(d.Round(2)) {
		return ErrAmountPrecision
	}
	if d.GreaterThanOrEqual(MaxAmount) {
		return ErrAmountOutOfRange
	}
	return nil
}

type Loan struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	Amount     decimal.Decimal `json:"amount"`
	TermMonths int             `json:"termMonths"`
	Status     Status          `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

type Owner struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type WithOwner struct {
	Loan
	User Owner `json:"user"`
}

type ApplyRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required,gt=0"`
	Term   int             `json:"term" binding:"required,gt=0,lte=360"`
}

type RepayRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required,gt=0"`
	Method string          `json:"method" binding:"omitempty,max=32"`
}
