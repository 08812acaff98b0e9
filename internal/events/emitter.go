package events

import (
	"context"
	"log/slog"
)

// Emitter publishes best effort: a failure is logged and counted but never
// returned to the caller, since the database change is already committed.
type Emitter struct {
	pub     Publisher
	log     *slog.Logger
	observe func(eventType string, err error)
}

func NewEmitter(pub Publisher, log *slog.Logger, observe func(eventType string, err error)) *Emitter {
	return &Emitter{pub: pub, log: log, observe: observe}
}

func (e *Emitter) Emit(ctx context.Context, ev LoanEvent) {
	if e == nil || e.pub == nil {
		return
	}

	// the request may already be cancelled once the response is written
	err := e.pub.PublishLoanEvent(context.WithoutCancel(ctx), ev)

	if e.observe != nil {
		e.observe(string(ev.Type), err)
	}

	if err != nil && e.log != nil {
		e.log.WarnContext(ctx, "loan_event.publish_failed",
			"event_type", string(ev.Type),
			"loan_id", ev.LoanID,
			"err", err,
		)
	}
}
