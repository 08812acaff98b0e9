package http

import (
	"log/slog"
	"time"

	"github.com/geocoder89/loanhub/internal/domain/user"
	"github.com/geocoder89/loanhub/internal/events"
	"github.com/geocoder89/loanhub/internal/http/handlers"
	"github.com/geocoder89/loanhub/internal/http/middlewares"
	"github.com/geocoder89/loanhub/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type TokenManager interface {
	middlewares.TokenVerifier
	handlers.TokenIssuer
}

type Deps struct {
	Log *slog.Logger
	Env string
	JWT TokenManager

	Users    handlers.UserStore
	Roles    middlewares.RoleLookup
	Loans    handlers.LoanStore
	Payments handlers.PaymentStore
	Admin    handlers.AdminLoanStore
	KYC      handlers.KYCStore

	// Ready lists what /readyz pings, by name.
	Ready map[string]handlers.Pinger

	Events *events.Emitter
	Prom   *observability.Prom
	// Gatherer serves /metrics; nil disables the route.
	Gatherer prometheus.Gatherer

	// Redis enables Idempotency-Key handling; nil leaves the header ignored.
	Redis          *redis.Client
	IdempotencyTTL time.Duration

	AuthLimiter        middlewares.Limiter
	WriteLimiter       middlewares.Limiter
	CORSAllowedOrigins []string
	MaxBodyBytes       int64
	TracingEnabled     bool
}

func NewRouter(d Deps) *gin.Engine {
	switch d.Env {
	case "dev", "test":
	default:
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(middlewares.Recovery(d.Log))
	r.Use(middlewares.RequestID())
	if d.TracingEnabled {
		r.Use(otelgin.Middleware("loanhub-api"))
	}
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.RequestLogger(d.Log))
	r.Use(middlewares.ErrorHandler(d.Log))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(d.CORSAllowedOrigins))
	r.Use(middlewares.MaxBodyBytes(d.MaxBodyBytes))

	health := handlers.NewHealthHandler(d.Ready)
	r.GET("/health", health.Healthz)
	r.GET("/readyz", health.Readyz)

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	authMW := middlewares.NewAuthMiddleware(d.JWT, d.Roles)

	authLimiter := d.AuthLimiter
	if authLimiter == nil {
		authLimiter = middlewares.NewRateLimiter(10, time.Minute)
	}
	limitByIP := func(scope string) gin.HandlerFunc {
		return middlewares.RateLimit(authLimiter, scope, middlewares.KeyByIP, d.Log)
	}

	writeLimiter := d.WriteLimiter
	if writeLimiter == nil {
		writeLimiter = middlewares.NewRateLimiter(30, time.Minute)
	}
	limitByUser := func(scope string) gin.HandlerFunc {
		return middlewares.RateLimit(writeLimiter, scope, middlewares.KeyByUserOrIP, d.Log)
	}

	idempotent := middlewares.Idempotency(d.Redis, d.IdempotencyTTL, d.Log)

	var onTransition handlers.TransitionObserver
	if d.Prom != nil {
		onTransition = d.Prom.ObserveTransition
	}

	userHandler := handlers.NewUserHandler(d.Users, d.JWT)
	loanHandler := handlers.NewLoanHandler(d.Loans, d.Payments, d.Events, onTransition)
	adminHandler := handlers.NewAdminLoanHandler(d.Admin, d.Events, onTransition)
	kycHandler := handlers.NewKYCHandler(d.KYC)

	api := r.Group("/api")
	api.Use(middlewares.RequireJSON())

	users := api.Group("/users")
	{
		users.POST("/register", limitByIP("register"), userHandler.Register)
		users.POST("/login", limitByIP("login"), userHandler.Login)

		me := users.Group("", authMW.RequireAuth())
		me.GET("/me", userHandler.Me)
		me.PUT("/me", userHandler.UpdateMe)
		me.POST("/kyc", kycHandler.Upsert)
		me.GET("/kyc", kycHandler.Get)
	}

	loans := api.Group("/loans", authMW.RequireAuth())
	{
		loans.POST("/apply", limitByUser("loan_apply"), idempotent, loanHandler.Apply)
		loans.GET("", loanHandler.List)
		loans.POST("/:loanId/repay", limitByUser("loan_repay"), idempotent, loanHandler.Repay)
		loans.GET("/:loanId/payments", loanHandler.Payments)
	}

	admin := api.Group("/admin", authMW.RequireAuth(), authMW.RequireRole(user.RoleAdmin))
	{
		admin.GET("/loans", adminHandler.List)
		admin.PUT("/loans/:loanId/approve", idempotent, adminHandler.Approve)
		admin.PUT("/loans/:loanId/reject", idempotent, adminHandler.Reject)
		admin.PUT("/loans/:loanId/disburse", idempotent, adminHandler.Disburse)
	}

	return r
}
