package observability

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Outcomes of a logical DB operation. Only DBError feeds the error counter:
// a missing row or a refused status change is the database doing its job.
const (
	DBOK       = "ok"
	DBMiss     = "miss"
	DBRejected = "rejected"
	DBError    = "error"
)

// ObserveDB times fn under op. classify maps a non-nil error to an outcome;
// a nil classify counts every error as DBError.
func (p *Prom) ObserveDB(op string, fn func() error, classify func(error) string) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start).Seconds()

	outcome := DBOK
	if err != nil {
		outcome = DBError
		if classify != nil {
			outcome = classify(err)
		}
	}

	if outcome == DBError {
		p.DbErrorsTotal.WithLabelValues(op, pgErrorClass(err)).Inc()
	}
	p.DbQueryDuration.WithLabelValues(op, outcome).Observe(elapsed)

	return err
}

// pgErrorClass buckets failures by SQLSTATE where Postgres gave us one.
func pgErrorClass(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return "unique_violation"
		case "23514":
			return "check_violation"
		case "22P02":
			return "invalid_text"
		case "40001":
			return "serialization_failure"
		case "40P01":
			return "deadlock"
		case "55P03":
			return "lock_not_available"
		case "57014":
			return "query_canceled"
		}
		return "pg_" + pgErr.Code
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "connection") || strings.Contains(msg, "dial"):
		return "connection"
	}
	return "unknown"
}
