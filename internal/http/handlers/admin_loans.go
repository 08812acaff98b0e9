package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/geocoder89/loanhub/internal/domain/loan"
	"github.com/geocoder89/loanhub/internal/domain/payment"
	"github.com/geocoder89/loanhub/internal/events"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type AdminLoanStore interface {
	ListAllWithOwner(ctx context.Context) ([]loan.WithOwner, error)
	Transition(ctx context.Context, loanID string, to loan.Status) (loan.Loan, error)
	Disburse(ctx context.Context, loanID string) (loan.Loan, payment.Disbursement, error)
}

// TransitionObserver is told about every committed status change.
type TransitionObserver func(to string)

type AdminLoanHandler struct {
	loans        AdminLoanStore
	events       *events.Emitter
	onTransition TransitionObserver
}

func NewAdminLoanHandler(loans AdminLoanStore, emitter *events.Emitter, onTransition TransitionObserver) *AdminLoanHandler {
	return &AdminLoanHandler{loans: loans, events: emitter, onTransition: onTransition}
}

func (h *AdminLoanHandler) List(ctx *gin.Context) {
	cctx, cancel := requestContext(ctx, 5*time.Second)
	defer cancel()

	loans, err := h.loans.ListAllWithOwner(cctx)
	if err != nil {
		RespondInternal(ctx, err)
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, loans)
}

func (h *AdminLoanHandler) Approve(ctx *gin.Context) {
	h.transition(ctx, loan.StatusApproved)
}

func (h *AdminLoanHandler) Reject(ctx *gin.Context) {
	h.transition(ctx, loan.StatusRejected)
}

func (h *AdminLoanHandler) transition(ctx *gin.Context, to loan.Status) {
	loanID, ok := loanIDParam(ctx)
	if !ok {
		return
	}

	cctx, cancel := requestContext(ctx, 5*time.Second)
	defer cancel()

	l, err := h.loans.Transition(cctx, loanID, to)
	if err != nil {
		respondLoanWriteError(ctx, err)
		return
	}

	h.committed(ctx, l, l.Amount)

	ctx.JSON(http.StatusOK, l)
}

func (h *AdminLoanHandler) Disburse(ctx *gin.Context) {
	loanID, ok := loanIDParam(ctx)
	if !ok {
		return
	}

	cctx, cancel := requestContext(ctx, 5*time.Second)
	defer cancel()

	l, d, err := h.loans.Disburse(cctx, loanID)
	if err != nil {
		respondLoanWriteError(ctx, err)
		return
	}

	h.committed(ctx, l, d.Amount)

	ctx.JSON(http.StatusOK, gin.H{
		"loan":         l,
		"disbursement": d,
	})
}

// committed reports a status change that is already durable.
func (h *AdminLoanHandler) committed(ctx *gin.Context, l loan.Loan, amount decimal.Decimal) {
	if h.onTransition != nil {
		h.onTransition(string(l.Status))
	}

	if t, ok := events.TypeForStatus(l.Status); ok {
		h.events.Emit(ctx.Request.Context(), events.NewLoanEvent(t, l, amount))
	}
}

func respondLoanWriteError(ctx *gin.Context, err error) {
	var te *loan.TransitionError

	switch {
	case errors.Is(err, loan.ErrNotFound):
		RespondNotFound(ctx, "Loan not found")
	case errors.As(err, &te):
		RespondConflict(ctx, "invalid_transition", te.Error())
	default:
		RespondInternal(ctx, err)
	}
}
