package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/geocoder89/loanhub/internal/auth"
	"github.com/geocoder89/loanhub/internal/domain/loan"
	"github.com/geocoder89/loanhub/internal/domain/payment"
	"github.com/geocoder89/loanhub/internal/domain/user"
	"github.com/geocoder89/loanhub/internal/events"
	apphttp "github.com/geocoder89/loanhub/internal/http"
	"github.com/geocoder89/loanhub/internal/http/handlers"
	"github.com/geocoder89/loanhub/internal/http/middlewares"
	"github.com/geocoder89/loanhub/internal/repo/memory"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []events.LoanEvent
}

func (p *capturePublisher) PublishLoanEvent(ctx context.Context, ev events.LoanEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePublisher) count(t events.Type) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type testApp struct {
	t      *testing.T
	router *gin.Engine
	users  *memory.UsersRepo
	pub    *capturePublisher
}

func newTestApp(t *testing.T, rdb *redis.Client, opts ...func(*apphttp.Deps)) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jwt, err := auth.NewManager("router-test-secret", time.Hour)
	if err != nil {
		t.Fatalf("jwt manager: %v", err)
	}

	store := memory.NewStore()
	users := memory.NewUsersRepo(store)
	loans := memory.NewLoansRepo(store)
	pub := &capturePublisher{}

	deps := apphttp.Deps{
		Log:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		Env:            "test",
		JWT:            jwt,
		Users:          users,
		Roles:          users,
		Loans:          loans,
		Payments:       memory.NewPaymentsRepo(store),
		Admin:          loans,
		KYC:            memory.NewKYCRepo(store),
		Ready:          map[string]handlers.Pinger{},
		Events:         events.NewEmitter(pub, nil, nil),
		Redis:          rdb,
		IdempotencyTTL: time.Hour,
		AuthLimiter:    middlewares.NewRateLimiter(1000, time.Minute),
		MaxBodyBytes:   1 << 20,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	router := apphttp.NewRouter(deps)

	return &testApp{t: t, router: router, users: users, pub: pub}
}

func (a *testApp) do(method, path, token, body string, headers ...string) *httptest.ResponseRecorder {
	a.t.Helper()

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testApp) decode(w *httptest.ResponseRecorder, out interface{}) {
	a.t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		a.t.Fatalf("invalid body %q: %v", w.Body.String(), err)
	}
}

func (a *testApp) expect(w *httptest.ResponseRecorder, status int) {
	a.t.Helper()
	if w.Code != status {
		a.t.Fatalf("status = %d, want %d (%s)", w.Code, status, w.Body.String())
	}
}

// signUp registers and logs in, returning the user id and bearer token.
func (a *testApp) signUp(email string) (string, string) {
	a.t.Helper()

	w := a.do(http.MethodPost, "/api/users/register", "", `{"email":"`+email+`","password":"pw123"}`)
	a.expect(w, http.StatusCreated)

	var reg struct {
		User user.User `json:"user"`
	}
	a.decode(w, &reg)

	w = a.do(http.MethodPost, "/api/users/login", "", `{"email":"`+email+`","password":"pw123"}`)
	a.expect(w, http.StatusOK)

	var login struct {
		Token string `json:"token"`
	}
	a.decode(w, &login)

	return reg.User.ID, login.Token
}

func TestRouter_LoanLifecycle(t *testing.T) {
	app := newTestApp(t, nil)

	_, userToken := app.signUp("a@x.com")
	adminID, adminToken := app.signUp("admin@x.com")
	if err := app.users.SetRole(adminID, user.RoleAdmin); err != nil {
		t.Fatalf("promote admin: %v", err)
	}

	w := app.do(http.MethodPost, "/api/loans/apply", userToken, `{"amount":1000,"term":12}`)
	app.expect(w, http.StatusCreated)

	var applied loan.Loan
	app.decode(w, &applied)
	if applied.Status != loan.StatusPending || !applied.Amount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("unexpected loan: %+v", applied)
	}

	w = app.do(http.MethodGet, "/api/loans", userToken, "")
	app.expect(w, http.StatusOK)
	var mine []loan.Loan
	app.decode(w, &mine)
	if len(mine) != 1 || mine[0].ID != applied.ID {
		t.Fatalf("unexpected loan list: %+v", mine)
	}

	// admin surface is role gated
	app.expect(app.do(http.MethodPut, "/api/admin/loans/"+applied.ID+"/approve", userToken, ""), http.StatusForbidden)
	app.expect(app.do(http.MethodGet, "/api/admin/loans", "", ""), http.StatusUnauthorized)

	// cannot disburse before approval
	app.expect(app.do(http.MethodPut, "/api/admin/loans/"+applied.ID+"/disburse", adminToken, ""), http.StatusConflict)

	app.expect(app.do(http.MethodPut, "/api/admin/loans/"+applied.ID+"/approve", adminToken, ""), http.StatusOK)
	app.expect(app.do(http.MethodPut, "/api/admin/loans/"+applied.ID+"/reject", adminToken, ""), http.StatusConflict)

	w = app.do(http.MethodPut, "/api/admin/loans/"+applied.ID+"/disburse", adminToken, "")
	app.expect(w, http.StatusOK)

	// a second disbursement is refused and records nothing
	app.expect(app.do(http.MethodPut, "/api/admin/loans/"+applied.ID+"/disburse", adminToken, ""), http.StatusConflict)

	w = app.do(http.MethodPost, "/api/loans/"+applied.ID+"/repay", userToken, `{"amount":200}`)
	app.expect(w, http.StatusCreated)

	w = app.do(http.MethodGet, "/api/loans/"+applied.ID+"/payments", userToken, "")
	app.expect(w, http.StatusOK)

	var hist payment.History
	app.decode(w, &hist)
	if len(hist.Repayments) != 1 || len(hist.Disbursements) != 1 {
		t.Fatalf("unexpected history: %+v", hist)
	}
	if !hist.Disbursements[0].Amount.Equal(decimal.NewFromInt(1000)) || hist.Disbursements[0].Method != loan.DefaultMethod {
		t.Fatalf("unexpected disbursement: %+v", hist.Disbursements[0])
	}

	// the remaining 800 closes the loan
	app.expect(app.do(http.MethodPost, "/api/loans/"+applied.ID+"/repay", userToken, `{"amount":800}`), http.StatusCreated)

	w = app.do(http.MethodGet, "/api/admin/loans", adminToken, "")
	app.expect(w, http.StatusOK)

	var all []loan.WithOwner
	app.decode(w, &all)
	if len(all) != 1 || all[0].Status != loan.StatusRepaid || all[0].User.Email != "a@x.com" {
		t.Fatalf("unexpected admin list: %+v", all)
	}

	for typ, want := range map[events.Type]int{
		events.LoanApplied:           1,
		events.LoanApproved:          1,
		events.LoanDisbursed:         1,
		events.LoanRepaymentRecorded: 2,
		events.LoanRejected:          0,
	} {
		if got := app.pub.count(typ); got != want {
			t.Fatalf("%s events = %d, want %d", typ, got, want)
		}
	}
}

func TestRouter_LoansAreScopedToOwner(t *testing.T) {
	app := newTestApp(t, nil)

	_, aliceToken := app.signUp("alice@x.com")
	_, bobToken := app.signUp("bob@x.com")

	w := app.do(http.MethodPost, "/api/loans/apply", aliceToken, `{"amount":500,"term":6}`)
	app.expect(w, http.StatusCreated)
	var l loan.Loan
	app.decode(w, &l)

	app.expect(app.do(http.MethodGet, "/api/loans/"+l.ID+"/payments", bobToken, ""), http.StatusNotFound)
	app.expect(app.do(http.MethodPost, "/api/loans/"+l.ID+"/repay", bobToken, `{"amount":50}`), http.StatusNotFound)

	w = app.do(http.MethodGet, "/api/loans", bobToken, "")
	app.expect(w, http.StatusOK)
	var bobs []loan.Loan
	app.decode(w, &bobs)
	if len(bobs) != 0 {
		t.Fatalf("bob sees %d loans", len(bobs))
	}
}

func TestRouter_LoanWritesLimitedPerUser(t *testing.T) {
	app := newTestApp(t, nil, func(d *apphttp.Deps) {
		d.WriteLimiter = middlewares.NewRateLimiter(1, time.Minute)
	})

	_, aliceToken := app.signUp("alice@x.com")
	_, bobToken := app.signUp("bob@x.com")

	app.expect(app.do(http.MethodPost, "/api/loans/apply", aliceToken, `{"amount":500,"term":6}`), http.StatusCreated)

	w := app.do(http.MethodPost, "/api/loans/apply", aliceToken, `{"amount":500,"term":6}`)
	app.expect(w, http.StatusTooManyRequests)
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}

	// bob shares alice's address but not her budget
	app.expect(app.do(http.MethodPost, "/api/loans/apply", bobToken, `{"amount":500,"term":6}`), http.StatusCreated)
}

func TestRouter_ApplyWithDeletedUserToken(t *testing.T) {
	app := newTestApp(t, nil)

	jwt, err := auth.NewManager("router-test-secret", time.Hour)
	if err != nil {
		t.Fatalf("jwt manager: %v", err)
	}
	token, err := jwt.IssueToken("99999999-9999-9999-9999-999999999999", "gone@x.com")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	w := app.do(http.MethodPost, "/api/loans/apply", token, `{"amount":500,"term":6}`)
	app.expect(w, http.StatusNotFound)

	var body middlewares.ErrorBody
	app.decode(w, &body)
	if body.Error != "User not found" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestRouter_AuthAndContentType(t *testing.T) {
	app := newTestApp(t, nil)
	_, token := app.signUp("a@x.com")

	w := app.do(http.MethodGet, "/api/users/me", "", "")
	app.expect(w, http.StatusUnauthorized)

	var body middlewares.ErrorBody
	app.decode(w, &body)
	if body.Error != "No token provided" || body.RequestID == "" {
		t.Fatalf("unexpected body: %+v", body)
	}

	w = app.do(http.MethodGet, "/api/users/me", "not-a-jwt", "")
	app.expect(w, http.StatusUnauthorized)
	app.decode(w, &body)
	if body.Error != "Invalid or expired token" {
		t.Fatalf("unexpected body: %+v", body)
	}

	app.expect(app.do(http.MethodGet, "/api/users/me", token, ""), http.StatusOK)

	// duplicate registration, case-insensitive on email
	w = app.do(http.MethodPost, "/api/users/register", "", `{"email":"A@X.com","password":"pw123"}`)
	app.expect(w, http.StatusBadRequest)

	req := httptest.NewRequest(http.MethodPost, "/api/loans/apply", bytes.NewBufferString(`amount=1000`))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)
	app.expect(rec, http.StatusUnsupportedMediaType)

	app.expect(app.do(http.MethodGet, "/health", "", ""), http.StatusOK)
	app.expect(app.do(http.MethodGet, "/readyz", "", ""), http.StatusOK)
}

func TestRouter_IdempotentApply(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	app := newTestApp(t, rdb)
	_, token := app.signUp("a@x.com")

	first := app.do(http.MethodPost, "/api/loans/apply", token, `{"amount":1000,"term":12}`, "Idempotency-Key", "apply-1")
	app.expect(first, http.StatusCreated)

	second := app.do(http.MethodPost, "/api/loans/apply", token, `{"amount":1000,"term":12}`, "Idempotency-Key", "apply-1")
	app.expect(second, http.StatusCreated)

	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("second response was not a replay")
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replayed body differs:\n%s\n%s", first.Body.String(), second.Body.String())
	}

	w := app.do(http.MethodGet, "/api/loans", token, "")
	var mine []loan.Loan
	app.decode(w, &mine)
	if len(mine) != 1 {
		t.Fatalf("loans created = %d, want 1", len(mine))
	}
	if app.pub.count(events.LoanApplied) != 1 {
		t.Fatalf("replay published another event")
	}

	reused := app.do(http.MethodPost, "/api/loans/apply", token, `{"amount":2000,"term":12}`, "Idempotency-Key", "apply-1")
	app.expect(reused, http.StatusConflict)
}
