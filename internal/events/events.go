// Package events publishes run lifecycle events over NATS for downstream
// consumers such as chat notifiers or forge status updaters.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/relforge/internal/config"
	"git.home.luguber.info/inful/relforge/internal/logfields"
)

// RunEvent describes a state change of a pipeline run.
type RunEvent struct {
	RunID     string    `json:"run_id"`
	Project   string    `json:"project"`
	Trigger   string    `json:"trigger"`
	Ref       string    `json:"ref"`
	Revision  string    `json:"revision,omitempty"`
	Phase     string    `json:"phase"` // started|published|discarded|failed|canceled
	Variant   string    `json:"variant,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher emits run events. Implementations must be safe for concurrent use.
type Publisher interface {
	PublishRunEvent(ctx context.Context, event RunEvent) error
	Close() error
}

// NoopPublisher discards all events. Used when event publishing is disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishRunEvent(context.Context, RunEvent) error { return nil }
func (NoopPublisher) Close() error                                    { return nil }

// NATSPublisher publishes run events to a NATS JetStream subject.
type NATSPublisher struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
}

// NewNATSPublisher connects to NATS and prepares a JetStream context.
func NewNATSPublisher(cfg config.EventsConfig) (*NATSPublisher, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("event publishing is disabled")
	}
	conn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	subject := cfg.Subject
	if subject == "" {
		subject = "relforge.runs"
	}

	slog.Info("event publisher connected",
		logfields.URL(cfg.NATSURL),
		slog.String("subject", subject))

	return &NATSPublisher{conn: conn, js: js, subject: subject}, nil
}

// PublishRunEvent marshals and publishes one event. The event timestamp is
// stamped here so callers do not have to.
func (p *NATSPublisher) PublishRunEvent(ctx context.Context, event RunEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}
	if _, err := p.js.Publish(ctx, p.subject, data); err != nil {
		return fmt.Errorf("publish run event: %w", err)
	}

	slog.Debug("published run event",
		logfields.RunID(event.RunID),
		slog.String("phase", event.Phase))
	return nil
}

// Close closes the NATS connection.
func (p *NATSPublisher) Close() error {
	if p.conn != nil {
		p.conn.Close()
	}
	return nil
}
