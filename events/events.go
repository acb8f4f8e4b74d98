// Package events publishes gate decisions for other systems to react to.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix is followed by the decision action, e.g. gate.decision.allowed.
const SubjectPrefix = "gate.decision."

type Decision struct {
	RequestID  string    `json:"request_id"`
	Command    string    `json:"command"`
	Action     string    `json:"action"`
	PlateText  string    `json:"plate_text,omitempty"`
	Status     string    `json:"status"`
	Sent       bool      `json:"sent"`
	Detections int       `json:"detections"`
	Timestamp  time.Time `json:"timestamp"`
}

func Subject(action string) string {
	return SubjectPrefix + action
}

type Publisher interface {
	Publish(ctx context.Context, d Decision) error
	Close() error
}

// NATSPublisher publishes JSON-encoded decisions to NATS.
type NATSPublisher struct {
	conn *nats.Conn
}

var _ Publisher = (*NATSPublisher)(nil)

func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	defaults := []nats.Option{
		nats.Name("truckgate"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, d Decision) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshaling decision: %w", err)
	}
	return p.conn.Publish(Subject(d.Action), data)
}

func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// NoopPublisher is used when no NATS URL is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Decision) error { return nil }
func (NoopPublisher) Close() error                            { return nil }
