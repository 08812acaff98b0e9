package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/loanhub/internal/domain/loan"
	"github.com/geocoder89/loanhub/internal/domain/payment"
	"github.com/geocoder89/loanhub/internal/domain/user"
	"github.com/geocoder89/loanhub/internal/events"
	"github.com/geocoder89/loanhub/internal/http/handlers"
	"github.com/shopspring/decimal"
)

const (
	ownerID = "11111111-1111-1111-1111-111111111111"
	loanID  = "22222222-2222-2222-2222-222222222222"
)

type fakeLoans struct {
	createFn     func(ctx context.Context, userID string, amount decimal.Decimal, term int) (loan.Loan, error)
	listByUserFn func(ctx context.Context, userID string) ([]loan.Loan, error)
	getOwnedFn   func(ctx context.Context, loanID, userID string) (loan.Loan, error)
}

func (f *fakeLoans) Create(ctx context.Context, userID string, amount decimal.Decimal, term int) (loan.Loan, error) {
	return f.createFn(ctx, userID, amount, term)
}

func (f *fakeLoans) ListByUser(ctx context.Context, userID string) ([]loan.Loan, error) {
	return f.listByUserFn(ctx, userID)
}

func (f *fakeLoans) GetOwned(ctx context.Context, loanID, userID string) (loan.Loan, error) {
	return f.getOwnedFn(ctx, loanID, userID)
}

type fakePayments struct {
	repayFn func(ctx context.Context, in payment.RepayInput) (payment.Receipt, error)

	repayments    []payment.Repayment
	disbursements []payment.Disbursement
}

func (f *fakePayments) Repay(ctx context.Context, in payment.RepayInput) (payment.Receipt, error) {
	return f.repayFn(ctx, in)
}

func (f *fakePayments) ListRepayments(ctx context.Context, loanID string) ([]payment.Repayment, error) {
	return f.repayments, nil
}

func (f *fakePayments) ListDisbursements(ctx context.Context, loanID string) ([]payment.Disbursement, error) {
	return f.disbursements, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.LoanEvent
}

func (p *recordingPublisher) PublishLoanEvent(ctx context.Context, ev events.LoanEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

var sampleCreatedAt = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func sampleLoan(status loan.Status) loan.Loan {
	now := sampleCreatedAt
	return loan.Loan{
		ID:         loanID,
		UserID:     ownerID,
		Amount:     decimal.NewFromInt(1000),
		TermMonths: 12,
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestApply(t *testing.T) {
	pub := &recordingPublisher{}
	var gotAmount decimal.Decimal

	loans := &fakeLoans{createFn: func(ctx context.Context, userID string, amount decimal.Decimal, term int) (loan.Loan, error) {
		gotAmount = amount
		l := sampleLoan(loan.StatusPending)
		l.UserID, l.Amount, l.TermMonths = userID, amount, term
		return l, nil
	}}

	r := newEngine(ownerID)
	h := handlers.NewLoanHandler(loans, &fakePayments{}, events.NewEmitter(pub, nil, nil), nil)
	r.POST("/loans/apply", h.Apply)

	w := doJSON(r, http.MethodPost, "/loans/apply", `{"amount":1000.50,"term":12}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}

	var got loan.Loan
	decode(t, w, &got)

	if got.Status != loan.StatusPending || got.UserID != ownerID || got.TermMonths != 12 {
		t.Fatalf("unexpected loan: %+v", got)
	}
	if !gotAmount.Equal(decimal.RequireFromString("1000.5")) {
		t.Fatalf("amount = %s", gotAmount)
	}
	if types := pub.types(); len(types) != 1 || types[0] != events.LoanApplied {
		t.Fatalf("events = %v", types)
	}
}

func TestApply_Validation(t *testing.T) {
	loans := &fakeLoans{createFn: func(ctx context.Context, userID string, amount decimal.Decimal, term int) (loan.Loan, error) {
		t.Fatalf("store must not be called for invalid input")
		return loan.Loan{}, nil
	}}

	r := newEngine(ownerID)
	r.POST("/loans/apply", handlers.NewLoanHandler(loans, &fakePayments{}, nil, nil).Apply)

	tests := []struct {
		name string
		body string
	}{
		{name: "zero amount", body: `{"amount":0,"term":12}`},
		{name: "negative amount", body: `{"amount":-1,"term":12}`},
		{name: "term too long", body: `{"amount":1000,"term":361}`},
		{name: "missing term", body: `{"amount":1000}`},
		{name: "non numeric amount", body: `{"amount":"lots","term":12}`},
		{name: "sub cent amount", body: `{"amount":10.001,"term":12}`},
		{name: "amount over column range", body: `{"amount":10000000000000000,"term":12}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, http.MethodPost, "/loans/apply", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
			}
			if body := errorBody(t, w); body.Code != "invalid_request" || body.RequestID != "test-req" {
				t.Fatalf("unexpected envelope: %+v", body)
			}
		})
	}
}

func TestApply_UnknownOwnerIsNotFound(t *testing.T) {
	loans := &fakeLoans{createFn: func(ctx context.Context, userID string, amount decimal.Decimal, term int) (loan.Loan, error) {
		return loan.Loan{}, user.ErrNotFound
	}}

	r := newEngine(ownerID)
	r.POST("/loans/apply", handlers.NewLoanHandler(loans, &fakePayments{}, nil, nil).Apply)

	w := doJSON(r, http.MethodPost, "/loans/apply", `{"amount":1000,"term":12}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	if body := errorBody(t, w); body.Error != "User not found" || body.Code != "not_found" {
		t.Fatalf("unexpected envelope: %+v", body)
	}
}

func TestApply_StoreFailureDoesNotLeakCause(t *testing.T) {
	loans := &fakeLoans{createFn: func(ctx context.Context, userID string, amount decimal.Decimal, term int) (loan.Loan, error) {
		return loan.Loan{}, errors.New("pq: relation loan_applications does not exist")
	}}

	r := newEngine(ownerID)
	r.POST("/loans/apply", handlers.NewLoanHandler(loans, &fakePayments{}, nil, nil).Apply)

	w := doJSON(r, http.MethodPost, "/loans/apply", `{"amount":1000,"term":12}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if contains(w.Body.String(), "loan_applications") {
		t.Fatalf("internal error leaked: %s", w.Body.String())
	}
}

func TestList_ETag(t *testing.T) {
	loans := &fakeLoans{listByUserFn: func(ctx context.Context, userID string) ([]loan.Loan, error) {
		if userID != ownerID {
			t.Fatalf("listed loans of %q", userID)
		}
		return []loan.Loan{sampleLoan(loan.StatusPending)}, nil
	}}

	r := newEngine(ownerID)
	r.GET("/loans", handlers.NewLoanHandler(loans, &fakePayments{}, nil, nil).List)

	first := doJSON(r, http.MethodGet, "/loans", "")
	if first.Code != http.StatusOK {
		t.Fatalf("status = %d", first.Code)
	}
	etag := first.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("missing ETag")
	}

	req := newRequest(http.MethodGet, "/loans", "")
	req.Header.Set("If-None-Match", etag)
	second := serve(r, req)
	if second.Code != http.StatusNotModified {
		t.Fatalf("status = %d, want 304", second.Code)
	}
}

func TestRepay(t *testing.T) {
	pub := &recordingPublisher{}
	var gotInput payment.RepayInput

	payments := &fakePayments{repayFn: func(ctx context.Context, in payment.RepayInput) (payment.Receipt, error) {
		gotInput = in
		if in.LoanID != loanID {
			return payment.Receipt{}, loan.ErrNotFound
		}
		rp := payment.Repayment{
			ID:          "33333333-3333-3333-3333-333333333333",
			LoanID:      in.LoanID,
			UserID:      in.UserID,
			Amount:      in.Amount,
			Method:      loan.DefaultMethod,
			Reference:   "REF-1",
			PaymentDate: time.Now().UTC(),
		}
		return payment.Receipt{Repayment: rp, Loan: sampleLoan(loan.StatusDisbursed)}, nil
	}}

	r := newEngine(ownerID)
	r.POST("/loans/:loanId/repay", handlers.NewLoanHandler(&fakeLoans{}, payments, events.NewEmitter(pub, nil, nil), nil).Repay)

	t.Run("created", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/loans/"+loanID+"/repay", `{"amount":200}`)
		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
		}

		var rp payment.Repayment
		decode(t, w, &rp)
		if !rp.Amount.Equal(decimal.NewFromInt(200)) || rp.LoanID != loanID {
			t.Fatalf("unexpected repayment: %+v", rp)
		}
		if gotInput.UserID != ownerID {
			t.Fatalf("repayment not scoped to caller: %+v", gotInput)
		}
		if types := pub.types(); len(types) != 1 || types[0] != events.LoanRepaymentRecorded {
			t.Fatalf("events = %v", types)
		}
	})

	t.Run("malformed loan id", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/loans/not-a-uuid/repay", `{"amount":200}`)
		if w.Code != http.StatusBadRequest || errorBody(t, w).Error != "Invalid loan id" {
			t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
		}
	})

	t.Run("not owned", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/loans/44444444-4444-4444-4444-444444444444/repay", `{"amount":200}`)
		if w.Code != http.StatusNotFound || errorBody(t, w).Error != "Loan not found" {
			t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
		}
	})

	t.Run("zero amount", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/loans/"+loanID+"/repay", `{"amount":0}`)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", w.Code)
		}
	})
}

func TestRepay_ObservesOnlyTheClosingPayment(t *testing.T) {
	closed := false
	payments := &fakePayments{repayFn: func(ctx context.Context, in payment.RepayInput) (payment.Receipt, error) {
		rp := payment.Repayment{ID: "r-1", LoanID: in.LoanID, UserID: in.UserID, Amount: in.Amount}
		return payment.Receipt{Repayment: rp, Loan: sampleLoan(loan.StatusRepaid), Closed: !closed}, nil
	}}

	var observed []string
	h := handlers.NewLoanHandler(&fakeLoans{}, payments, nil, func(to string) { observed = append(observed, to) })

	r := newEngine(ownerID)
	r.POST("/loans/:loanId/repay", h.Repay)

	if w := doJSON(r, http.MethodPost, "/loans/"+loanID+"/repay", `{"amount":1000}`); w.Code != http.StatusCreated {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	closed = true
	if w := doJSON(r, http.MethodPost, "/loans/"+loanID+"/repay", `{"amount":5}`); w.Code != http.StatusCreated {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}

	if len(observed) != 1 || observed[0] != string(loan.StatusRepaid) {
		t.Fatalf("observed transitions = %v, want [REPAID]", observed)
	}
}

func TestPayments(t *testing.T) {
	loans := &fakeLoans{getOwnedFn: func(ctx context.Context, id, userID string) (loan.Loan, error) {
		if id == loanID && userID == ownerID {
			return sampleLoan(loan.StatusDisbursed), nil
		}
		return loan.Loan{}, loan.ErrNotFound
	}}
	payments := &fakePayments{
		repayments:    []payment.Repayment{{ID: "r-1", LoanID: loanID, Amount: decimal.NewFromInt(200)}},
		disbursements: []payment.Disbursement{{ID: "d-1", LoanID: loanID, Amount: decimal.NewFromInt(1000)}},
	}
	h := handlers.NewLoanHandler(loans, payments, nil, nil)

	r := newEngine(ownerID)
	r.GET("/loans/:loanId/payments", h.Payments)

	w := doJSON(r, http.MethodGet, "/loans/"+loanID+"/payments", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}

	var hist payment.History
	decode(t, w, &hist)
	if len(hist.Repayments) != 1 || len(hist.Disbursements) != 1 {
		t.Fatalf("unexpected history: %+v", hist)
	}

	stranger := newEngine("55555555-5555-5555-5555-555555555555")
	stranger.GET("/loans/:loanId/payments", h.Payments)

	w = doJSON(stranger, http.MethodGet, "/loans/"+loanID+"/payments", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
