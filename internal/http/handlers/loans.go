package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/geocoder89/loanhub/internal/domain/loan"
	"github.com/geocoder89/loanhub/internal/domain/payment"
	"github.com/geocoder89/loanhub/internal/domain/user"
	"github.com/geocoder89/loanhub/internal/events"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type LoanStore interface {
	Create(ctx context.Context, userID string, amount decimal.Decimal, termMonths int) (loan.Loan, error)
	ListByUser(ctx context.Context, userID string) ([]loan.Loan, error)
	GetOwned(ctx context.Context, loanID, userID string) (loan.Loan, error)
}

type PaymentStore interface {
	Repay(ctx context.Context, in payment.RepayInput) (payment.Receipt, error)
	ListRepayments(ctx context.Context, loanID string) ([]payment.Repayment, error)
	ListDisbursements(ctx context.Context, loanID string) ([]payment.Disbursement, error)
}

type LoanHandler struct {
	loans        LoanStore
	payments     PaymentStore
	events       *events.Emitter
	onTransition TransitionObserver
}

func NewLoanHandler(loans LoanStore, payments PaymentStore, emitter *events.Emitter, onTransition TransitionObserver) *LoanHandler {
	return &LoanHandler{loans: loans, payments: payments, events: emitter, onTransition: onTransition}
}

func amountError(ctx *gin.Context, err error) {
	RespondBadRequest(ctx, "Invalid request body", gin.H{
		"fields": []FieldError{{Field: "amount", Rule: "amount", Message: err.Error()}},
	})
}

func (h *LoanHandler) Apply(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)
	if !ok {
		return
	}

	var req loan.ApplyRequest

	if !BindJSON(ctx, &req) {
		return
	}

	if err := loan.ValidateAmount(req.Amount); err != nil {
		amountError(ctx, err)
		return
	}

	cctx, cancel := requestContext(ctx, 3*time.Second)
	defer cancel()

	l, err := h.loans.Create(cctx, userID, req.Amount, req.Term)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			RespondNotFound(ctx, "User not found")
			return
		}
		RespondInternal(ctx, err)
		return
	}

	h.events.Emit(ctx.Request.Context(), events.NewLoanEvent(events.LoanApplied, l, l.Amount))

	ctx.JSON(http.StatusCreated, l)
}

func (h *LoanHandler) List(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)
	if !ok {
		return
	}

	cctx, cancel := requestContext(ctx, 3*time.Second)
	defer cancel()

	loans, err := h.loans.ListByUser(cctx, userID)
	if err != nil {
		RespondInternal(ctx, err)
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, loans)
}

func (h *LoanHandler) Repay(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)
	if !ok {
		return
	}

	loanID, ok := loanIDParam(ctx)
	if !ok {
		return
	}

	var req loan.RepayRequest

	if !BindJSON(ctx, &req) {
		return
	}

	if err := loan.ValidateAmount(req.Amount); err != nil {
		amountError(ctx, err)
		return
	}

	cctx, cancel := requestContext(ctx, 5*time.Second)
	defer cancel()

	res, err := h.payments.Repay(cctx, payment.RepayInput{
		LoanID: loanID,
		UserID: userID,
		Amount: req.Amount,
		Method: req.Method,
	})
	if err != nil {
		if errors.Is(err, loan.ErrNotFound) {
			RespondNotFound(ctx, "Loan not found")
			return
		}
		RespondInternal(ctx, err)
		return
	}

	if res.Closed && h.onTransition != nil {
		h.onTransition(string(res.Loan.Status))
	}

	h.events.Emit(ctx.Request.Context(), events.NewLoanEvent(events.LoanRepaymentRecorded, res.Loan, res.Repayment.Amount))

	ctx.JSON(http.StatusCreated, res.Repayment)
}

func (h *LoanHandler) Payments(ctx *gin.Context) {
	userID, ok := currentUserID(ctx)
	if !ok {
		return
	}

	loanID, ok := loanIDParam(ctx)
	if !ok {
		return
	}

	cctx, cancel := requestContext(ctx, 3*time.Second)
	defer cancel()

	if _, err := h.loans.GetOwned(cctx, loanID, userID); err != nil {
		if errors.Is(err, loan.ErrNotFound) {
			RespondNotFound(ctx, "Loan not found")
			return
		}
		RespondInternal(ctx, err)
		return
	}

	repayments, err := h.payments.ListRepayments(cctx, loanID)
	if err != nil {
		RespondInternal(ctx, err)
		return
	}

	disbursements, err := h.payments.ListDisbursements(cctx, loanID)
	if err != nil {
		RespondInternal(ctx, err)
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, payment.History{
		Repayments:    repayments,
		Disbursements: disbursements,
	})
}
