package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

func ConnectNATS(url, subjectPrefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("loanhub-api"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewNATSPublisher(nc, subjectPrefix), nil
}

func NewNATSPublisher(nc *nats.Conn, subjectPrefix string) *NATSPublisher {
	return &NATSPublisher{nc: nc, prefix: subjectPrefix}
}

func (p *NATSPublisher) Subject(t Type) string {
	if p.prefix == "" {
		return string(t)
	}
	return p.prefix + "." + string(t)
}

// PublishLoanEvent returns once the server has acknowledged the flush or ctx ends.
func (p *NATSPublisher) PublishLoanEvent(ctx context.Context, ev LoanEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}

	if err := p.nc.Publish(p.Subject(ev.Type), data); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		return p.nc.FlushTimeout(2 * time.Second)
	}
	return p.nc.FlushWithContext(ctx)
}

// Ping reports the connection state for readiness; it does not round-trip.
func (p *NATSPublisher) Ping(ctx context.Context) error {
	if !p.nc.IsConnected() {
		return nats.ErrConnectionClosed
	}
	return ctx.Err()
}

// Close drains buffered messages before closing the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}
