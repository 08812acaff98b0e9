package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/loanhub/internal/domain/loan"
	"github.com/shopspring/decimal"
)

type fakePublisher struct {
	mu    sync.Mutex
	calls int
	err   error
	block bool
}

func (f *fakePublisher) PublishLoanEvent(ctx context.Context, ev LoanEvent) error {
	f.mu.Lock()
	f.calls++
	err, block := f.err, f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakePublisher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func sampleEvent() LoanEvent {
	l := loan.Loan{ID: "l-1", UserID: "u-1", Amount: decimal.NewFromInt(1000), Status: loan.StatusApproved}
	return NewLoanEvent(LoanApproved, l, l.Amount)
}

func TestProtectedPublisher_OpensAfterThreshold(t *testing.T) {
	inner := &fakePublisher{err: errors.New("broker down")}
	p := NewProtectedPublisher(inner, ProtectedPublisherConfig{FailureThreshold: 3, Cooldown: time.Minute})

	for i := 0; i < 3; i++ {
		if err := p.PublishLoanEvent(context.Background(), sampleEvent()); err == nil {
			t.Fatalf("call %d: expected inner error", i)
		}
	}

	if p.State() != "open" {
		t.Fatalf("state = %s, want open", p.State())
	}

	err := p.PublishLoanEvent(context.Background(), sampleEvent())
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if inner.Calls() != 3 {
		t.Fatalf("open circuit must not reach inner publisher, calls=%d", inner.Calls())
	}
}

func TestProtectedPublisher_HalfOpenRecovers(t *testing.T) {
	inner := &fakePublisher{err: errors.New("broker down")}
	p := NewProtectedPublisher(inner, ProtectedPublisherConfig{FailureThreshold: 1, Cooldown: time.Second})

	now := time.Now()
	p.now = func() time.Time { return now }

	_ = p.PublishLoanEvent(context.Background(), sampleEvent())
	if p.State() != "open" {
		t.Fatalf("state = %s, want open", p.State())
	}

	now = now.Add(2 * time.Second)
	inner.mu.Lock()
	inner.err = nil
	inner.mu.Unlock()

	if err := p.PublishLoanEvent(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("trial call should pass, got %v", err)
	}
	if p.State() != "closed" {
		t.Fatalf("state = %s, want closed", p.State())
	}
}

func TestProtectedPublisher_Timeout(t *testing.T) {
	inner := &fakePublisher{block: true}
	p := NewProtectedPublisher(inner, ProtectedPublisherConfig{Timeout: 20 * time.Millisecond})

	start := time.Now()
	err := p.PublishLoanEvent(context.Background(), sampleEvent())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not enforced")
	}
}

func TestLogPublisher_WritesEvent(t *testing.T) {
	var buf bytes.Buffer
	pub := NewLogPublisher(slog.New(slog.NewJSONHandler(&buf, nil)))

	if err := pub.PublishLoanEvent(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("invalid log line: %v", err)
	}
	if line["event_type"] != "loan.approved" || line["loan_id"] != "l-1" || line["amount"] != "1000" {
		t.Fatalf("unexpected log line: %v", line)
	}
}

func TestEmitter_SwallowsErrors(t *testing.T) {
	var observed []string
	inner := &fakePublisher{err: errors.New("boom")}
	e := NewEmitter(inner, slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)), func(eventType string, err error) {
		if err != nil {
			observed = append(observed, eventType)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.Emit(ctx, sampleEvent())

	if inner.Calls() != 1 {
		t.Fatalf("expected one publish attempt, got %d", inner.Calls())
	}
	if len(observed) != 1 || observed[0] != "loan.approved" {
		t.Fatalf("expected failure to be observed, got %v", observed)
	}

	var nilEmitter *Emitter
	nilEmitter.Emit(context.Background(), sampleEvent())
}

func TestNATSPublisher_Subject(t *testing.T) {
	p := NewNATSPublisher(nil, "loanhub")
	if got := p.Subject(LoanDisbursed); got != "loanhub.loan.disbursed" {
		t.Fatalf("got %q", got)
	}
	if got := NewNATSPublisher(nil, "").Subject(LoanApplied); got != "loan.applied" {
		t.Fatalf("got %q", got)
	}
}

func TestTypeForStatus(t *testing.T) {
	if ty, ok := TypeForStatus(loan.StatusRejected); !ok || ty != LoanRejected {
		t.Fatalf("got %q %v", ty, ok)
	}
	if _, ok := TypeForStatus(loan.StatusPending); ok {
		t.Fatalf("pending has no event type")
	}
}
