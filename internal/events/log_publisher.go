package events

import (
	"context"
	"log/slog"
)

// LogPublisher writes events to the structured log. Used when no broker is configured.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) PublishLoanEvent(ctx context.Context, ev LoanEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.log.InfoContext(ctx, "loan_event",
		"event_id", ev.ID,
		"event_type", string(ev.Type),
		"loan_id", ev.LoanID,
		"owner_id", ev.UserID,
		"status", string(ev.Status),
		"amount", ev.Amount.String(),
	)
	return nil
}
