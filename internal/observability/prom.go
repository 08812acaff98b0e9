package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "loanhub"

var (
	httpBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}
	dbBuckets   = []float64{0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2, 5}
)

// Prom holds every collector the API exports. Labels use route templates,
// never raw paths, so loan ids cannot blow up cardinality.
type Prom struct {
	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec

	DbQueryDuration *prometheus.HistogramVec
	DbErrorsTotal   *prometheus.CounterVec

	EventsPublished  *prometheus.CounterVec
	LoansTransitions *prometheus.CounterVec
}

func counter(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
}

func histogram(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets,
	}, labels)
}

func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		RequestsTotal: counter("http", "requests_total",
			"HTTP requests by method, route template and status.", "method", "route", "status"),
		RequestsDuration: histogram("http", "request_duration_seconds",
			"HTTP request latency.", httpBuckets, "method", "route", "status"),
		InFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "http", Name: "in_flight_requests",
			Help: "Requests currently being served.",
		}, []string{"method", "route"}),

		DbQueryDuration: histogram("db", "query_duration_seconds",
			"Logical repository operation latency by outcome.", dbBuckets, "op", "outcome"),
		DbErrorsTotal: counter("db", "errors_total",
			"Repository operations that failed in the database, by class.", "op", "class"),

		EventsPublished: counter("events", "published_total",
			"Loan events handed to the publisher by type and result.", "event_type", "result"),
		LoansTransitions: counter("loans", "transitions_total",
			"Committed loan status changes by target status.", "to"),
	}

	reg.MustRegister(
		p.RequestsTotal, p.RequestsDuration, p.InFlight,
		p.DbQueryDuration, p.DbErrorsTotal,
		p.EventsPublished, p.LoansTransitions,
	)
	return p
}

func (p *Prom) GinHandleMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := ctx.Request.Method

		inFlight := p.InFlight.WithLabelValues(method, route)
		inFlight.Inc()
		defer inFlight.Dec()

		start := time.Now()
		ctx.Next()

		status := strconv.Itoa(ctx.Writer.Status())
		p.RequestsTotal.WithLabelValues(method, route, status).Inc()
		p.RequestsDuration.WithLabelValues(method, route, status).Observe(time.Since(start).Seconds())
	}
}

// ObserveEvent counts one publish attempt; it matches events.Emitter's hook.
func (p *Prom) ObserveEvent(eventType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.EventsPublished.WithLabelValues(eventType, result).Inc()
}

func (p *Prom) ObserveTransition(to string) {
	p.LoansTransitions.WithLabelValues(to).Inc()
}
