package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mbd888/agentplatform/internal/metrics"
)

// DefaultSubjectPrefix is the first token of every published subject.
const DefaultSubjectPrefix = "agentplatform"

// NATSPublisher publishes events as JSON on "<prefix>.<resource>.<type>".
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

// ConnectNATS dials the NATS server with reconnects enabled.
func ConnectNATS(url string, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("agentplatform"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect nats: %w", err)
	}
	return nc, nil
}

// NewNATSPublisher wraps an established connection.
func NewNATSPublisher(nc *nats.Conn, prefix string, logger *slog.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger}
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(e Event) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, e.Resource, e.Type)
}

func (p *NATSPublisher) Publish(_ context.Context, e Event) {
	subject := p.Subject(e)
	data, err := json.Marshal(e)
	if err != nil {
		p.logger.Warn("failed to encode event", "subject", subject, "error", err)
		metrics.EventsPublishedTotal.WithLabelValues(subject, "error").Inc()
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("failed to publish event", "subject", subject, "error", err)
		metrics.EventsPublishedTotal.WithLabelValues(subject, "error").Inc()
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues(subject, "ok").Inc()
}

// Close drains the underlying connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}
